// Package enginepool implements the Engine Pool (EP): a bounded,
// role-classified set of GTP engine adapters handed out to games and
// respawned on death.
package enginepool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tripwire/gtpbridge/internal/gtp"
)

// Role classifies the kind of engine a pool instance serves.
type Role string

const (
	RoleMain        Role = "main"
	RoleOpening     Role = "opening"
	RoleEnding      Role = "ending"
	RoleResignCheck Role = "resign-check"
)

// member is one spawned adapter tracked by the pool, along with its
// capability profile discovered at spawn time.
type member struct {
	adapter *gtp.Adapter
	caps    gtp.Capabilities
}

// Pool owns a fixed-size set of engine adapters for one role and hands
// them out to games.
type Pool struct {
	role   Role
	spec   gtp.Spec
	size   int
	logger *slog.Logger

	mu       sync.Mutex
	idle     []*member
	acquired map[*gtp.Adapter]*member
	readyCh  chan struct{}
	readyOnce sync.Once
}

// New spawns size instances of spec and returns a Pool that manages them.
// The returned Pool's Ready channel closes once every instance has reached
// gtp.StateReady and completed capability discovery.
func New(ctx context.Context, role Role, spec gtp.Spec, size int, logger *slog.Logger) (*Pool, error) {
	p := &Pool{
		role:     role,
		spec:     spec,
		size:     size,
		logger:   logger,
		acquired: make(map[*gtp.Adapter]*member),
		readyCh:  make(chan struct{}),
	}

	for i := 0; i < size; i++ {
		m, err := p.spawnOne(ctx)
		if err != nil {
			return nil, fmt.Errorf("enginepool: role %s: spawn instance %d: %w", role, i, err)
		}
		p.idle = append(p.idle, m)
	}

	close(p.readyCh)
	return p, nil
}

func (p *Pool) spawnOne(ctx context.Context) (*member, error) {
	a, err := gtp.Spawn(ctx, p.spec, p.logger.With("role", string(p.role)))
	if err != nil {
		return nil, err
	}
	caps, err := gtp.DiscoverCapabilities(ctx, a)
	if err != nil {
		a.Kill()
		return nil, fmt.Errorf("discover capabilities: %w", err)
	}
	return &member{adapter: a, caps: caps}, nil
}

// Ready resolves once every configured instance has completed its first
// handshake.
func (p *Pool) Ready() <-chan struct{} {
	return p.readyCh
}

// CountAvailable returns the number of Ready, idle instances.
func (p *Pool) CountAvailable() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle)
}

// Acquired is returned by Acquire; it pairs the adapter with its
// capability profile so callers don't need a second lookup.
type Acquired struct {
	Adapter *gtp.Adapter
	Caps    gtp.Capabilities
}

// Acquire removes and returns an idle instance. It returns false if none
// are currently free; callers that need to block do so by retrying after
// observing Release activity (the pool itself never blocks the caller's
// goroutine, consistent with the single-threaded cooperative model: the
// session controller polls or is woken by a release signal, not by a
// blocking call here).
func (p *Pool) Acquire() (Acquired, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for len(p.idle) > 0 {
		m := p.idle[len(p.idle)-1]
		p.idle = p.idle[:len(p.idle)-1]
		if m.adapter.State() == gtp.StateDead {
			// Drop it and queue a replacement to restore capacity.
			go p.respawn(context.Background())
			continue
		}
		p.acquired[m.adapter] = m
		return Acquired{Adapter: m.adapter, Caps: m.caps}, true
	}
	return Acquired{}, false
}

// Release returns an instance to the idle set. If it has died, the pool
// respawns a replacement asynchronously to restore capacity.
func (p *Pool) Release(ctx context.Context, a *gtp.Adapter) {
	p.mu.Lock()
	m, ok := p.acquired[a]
	if ok {
		delete(p.acquired, a)
	}
	p.mu.Unlock()

	if !ok {
		return
	}

	if a.State() == gtp.StateDead {
		go p.respawn(ctx)
		return
	}

	p.mu.Lock()
	p.idle = append(p.idle, m)
	p.mu.Unlock()
}

func (p *Pool) respawn(ctx context.Context) {
	m, err := p.spawnOne(ctx)
	if err != nil {
		p.logger.Error("enginepool: respawn failed", "role", p.role, "error", err)
		return
	}
	p.mu.Lock()
	p.idle = append(p.idle, m)
	p.mu.Unlock()
	p.logger.Info("enginepool: respawned instance", "role", p.role)
}

// KillAll terminates every instance this pool owns, idle or acquired.
func (p *Pool) KillAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, m := range p.idle {
		m.adapter.Kill()
	}
	for _, m := range p.acquired {
		m.adapter.Kill()
	}
	p.idle = nil
	p.acquired = make(map[*gtp.Adapter]*member)
}
