package enginepool

import "context"

// Set bundles the independently-configured role pools for one bot.
// Opening, Ending, and ResignCheck may be nil when not configured.
type Set struct {
	Main        *Pool
	Opening     *Pool
	Ending      *Pool
	ResignCheck *Pool
}

// Ready resolves once Main and every configured optional pool have all
// reached readiness, per spec: "the session controller authenticates to
// the server only after main.ready (and opening.ready, ending.ready if
// configured) all resolve".
func (s *Set) Ready(ctx context.Context) error {
	pools := []*Pool{s.Main, s.Opening, s.Ending, s.ResignCheck}
	for _, p := range pools {
		if p == nil {
			continue
		}
		select {
		case <-p.Ready():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Pool returns the pool configured for role, or nil if that role is
// absent.
func (s *Set) Pool(role Role) *Pool {
	switch role {
	case RoleMain:
		return s.Main
	case RoleOpening:
		return s.Opening
	case RoleEnding:
		return s.Ending
	case RoleResignCheck:
		return s.ResignCheck
	default:
		return nil
	}
}

// KillAll terminates every instance in every configured pool.
func (s *Set) KillAll() {
	for _, p := range []*Pool{s.Main, s.Opening, s.Ending, s.ResignCheck} {
		if p != nil {
			p.KillAll()
		}
	}
}
