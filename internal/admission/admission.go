// Package admission implements the Admission Policy (AP): a pure predicate
// ladder deciding whether to accept or decline an incoming challenge.
//
// Decide is a pure function of (Challenge, Counts, Config); it performs no
// I/O and never returns an error — per the propagation policy, pure policy
// layers return data, not errors.
package admission

// RejectionCode is the stable, wire-visible machine-readable rejection
// code set.
type RejectionCode string

const (
	CodeBlacklisted                RejectionCode = "blacklisted"
	CodeBoardSizeNotSquare         RejectionCode = "board_size_not_square"
	CodeBoardSizeNotAllowed        RejectionCode = "board_size_not_allowed"
	CodeHandicapNotAllowed         RejectionCode = "handicap_not_allowed"
	CodeUnrankedNotAllowed         RejectionCode = "unranked_not_allowed"
	CodeBlitzNotAllowed            RejectionCode = "blitz_not_allowed"
	CodeTooManyBlitzGames          RejectionCode = "too_many_blitz_games"
	CodeLiveNotAllowed             RejectionCode = "live_not_allowed"
	CodeTooManyLiveGames           RejectionCode = "too_many_live_games"
	CodeCorrespondenceNotAllowed   RejectionCode = "correspondence_not_allowed"
	CodeTooManyCorrespondenceGames RejectionCode = "too_many_correspondence_games"
	CodeTimeControlSystemNotAllowed RejectionCode = "time_control_system_not_allowed"
	CodeTimeIncrementOutOfRange    RejectionCode = "time_increment_out_of_range"
	CodePeriodTimeOutOfRange       RejectionCode = "period_time_out_of_range"
	CodePeriodsOutOfRange          RejectionCode = "periods_out_of_range"
	CodeMainTimeOutOfRange         RejectionCode = "main_time_out_of_range"
	CodePerMoveTimeOutOfRange      RejectionCode = "per_move_time_out_of_range"
)

// Speed is the derived speed class of a time control.
type Speed string

const (
	SpeedBlitz         Speed = "blitz"
	SpeedLive          Speed = "live"
	SpeedCorrespondence Speed = "correspondence"
)

// TimeControl is the challenge's time control as reported by the server.
type TimeControl struct {
	System       string // "fischer", "byoyomi", "canadian", "simple", "absolute", "none"
	Speed        Speed
	TimeIncrement int // fischer
	InitialTime   int // fischer
	MaxTime       int // fischer
	PeriodTime    int // byoyomi / canadian
	Periods       int // byoyomi
	MainTime      int // byoyomi / absolute
	PerMove       int // simple
}

// Challenge is the incoming challenge under evaluation.
type Challenge struct {
	ID         string
	UserID     int64
	Username   string
	Width      int
	Height     int
	Handicap   int
	Ranked     bool
	TimeControl TimeControl
}

// Range is an inclusive [Min, Max] bound.
type Range struct {
	Min int
	Max int
}

func (r Range) contains(v int) bool { return v >= r.Min && v <= r.Max }

// SpeedSettings is the per-speed admission configuration.
type SpeedSettings struct {
	Allowed          bool
	ConcurrentGames  int
	PerMoveTimeRange Range
	MainTimeRange    Range
	PeriodsRange     Range
}

// BoardSizePolicy is the configured allowed-board-sizes mode.
type BoardSizePolicy struct {
	// Mode is "all", "square", or "list".
	Mode string
	// Sizes holds the explicit allowed dimensions when Mode == "list".
	Sizes []int
}

func (p BoardSizePolicy) allows(width, height int) (ok bool, code RejectionCode) {
	switch p.Mode {
	case "all":
		return true, ""
	case "square":
		if width != height {
			return false, CodeBoardSizeNotSquare
		}
		return true, ""
	default:
		dim := width
		if width != height {
			// An explicit size list names shared dimensions, so a
			// non-square board is never in it.
			return false, CodeBoardSizeNotAllowed
		}
		for _, s := range p.Sizes {
			if s == dim {
				return true, ""
			}
		}
		return false, CodeBoardSizeNotAllowed
	}
}

// Config is the admission-relevant subset of the bot's configuration.
type Config struct {
	Blacklist map[int64]bool
	Whitelist map[int64]bool

	AllowedTimeControlSystems map[string]bool
	BoardSizes                BoardSizePolicy
	AllowHandicap             bool
	AllowUnranked             bool

	Blitz         SpeedSettings
	Live          SpeedSettings
	Correspondence SpeedSettings
}

func (c Config) speedSettings(s Speed) SpeedSettings {
	switch s {
	case SpeedBlitz:
		return c.Blitz
	case SpeedCorrespondence:
		return c.Correspondence
	default:
		return c.Live
	}
}

// Counts is the current live-descriptor count by speed class.
type Counts struct {
	Blitz         int
	Live          int
	Correspondence int
}

func (c Counts) forSpeed(s Speed) int {
	switch s {
	case SpeedBlitz:
		return c.Blitz
	case SpeedCorrespondence:
		return c.Correspondence
	default:
		return c.Live
	}
}

// Decision is the outcome of evaluating one challenge.
type Decision struct {
	Accept  bool
	Code    RejectionCode
	Message string
	Details map[string]any
}

// Decide evaluates challenge against the current live-game counts and the
// bot's configuration, per the nine-step evaluation order: first
// non-accept wins, except that whitelist membership clears any prior
// rejection.
func Decide(ch Challenge, counts Counts, cfg Config) Decision {
	decision := evaluate(ch, counts, cfg)
	if !decision.Accept && cfg.Whitelist[ch.UserID] {
		return Decision{Accept: true}
	}
	return decision
}

func evaluate(ch Challenge, counts Counts, cfg Config) Decision {
	if cfg.Blacklist[ch.UserID] {
		return reject(CodeBlacklisted, "this bot does not accept challenges from your account", nil)
	}

	system := ch.TimeControl.System
	if !cfg.AllowedTimeControlSystems[system] {
		return reject(CodeTimeControlSystemNotAllowed, "that time control system is not accepted", map[string]any{
			"system": system,
		})
	}

	speed := ch.TimeControl.Speed
	settings := cfg.speedSettings(speed)
	if !settings.Allowed {
		return reject(speedNotAllowedCode(speed), "that game speed is not accepted", map[string]any{
			"speed": speed,
		})
	}

	if d, ok := checkRanges(ch.TimeControl, settings); !ok {
		return d
	}

	if counts.forSpeed(speed) >= settings.ConcurrentGames {
		return reject(tooManyGamesCode(speed), "too many concurrent games of that speed", map[string]any{
			"speed": speed,
			"limit": settings.ConcurrentGames,
		})
	}

	if ok, code := cfg.BoardSizes.allows(ch.Width, ch.Height); !ok {
		return reject(code, "that board size is not accepted", map[string]any{
			"width":  ch.Width,
			"height": ch.Height,
		})
	}

	if !cfg.AllowHandicap && ch.Handicap != 0 {
		return reject(CodeHandicapNotAllowed, "handicap games are not accepted", map[string]any{
			"handicap": ch.Handicap,
		})
	}

	if !cfg.AllowUnranked && !ch.Ranked {
		return reject(CodeUnrankedNotAllowed, "unranked games are not accepted", nil)
	}

	return Decision{Accept: true}
}

func checkRanges(tc TimeControl, s SpeedSettings) (Decision, bool) {
	switch tc.System {
	case "fischer":
		if !s.PerMoveTimeRange.contains(tc.TimeIncrement) {
			return reject(CodeTimeIncrementOutOfRange, "time increment is out of the accepted range", map[string]any{
				"time_increment": tc.TimeIncrement,
				"range":          []int{s.PerMoveTimeRange.Min, s.PerMoveTimeRange.Max},
			}), false
		}
	case "byoyomi":
		if !s.PerMoveTimeRange.contains(tc.PeriodTime) {
			return reject(CodePeriodTimeOutOfRange, "period time is out of the accepted range", map[string]any{
				"period_time": tc.PeriodTime,
				"range":       []int{s.PerMoveTimeRange.Min, s.PerMoveTimeRange.Max},
			}), false
		}
		if !s.PeriodsRange.contains(tc.Periods) {
			return reject(CodePeriodsOutOfRange, "period count is out of the accepted range", map[string]any{
				"periods": tc.Periods,
				"range":   []int{s.PeriodsRange.Min, s.PeriodsRange.Max},
			}), false
		}
		if !s.MainTimeRange.contains(tc.MainTime) {
			return reject(CodeMainTimeOutOfRange, "main time is out of the accepted range", map[string]any{
				"main_time": tc.MainTime,
				"range":     []int{s.MainTimeRange.Min, s.MainTimeRange.Max},
			}), false
		}
	case "simple":
		if !s.PerMoveTimeRange.contains(tc.PerMove) {
			return reject(CodePerMoveTimeOutOfRange, "per-move time is out of the accepted range", map[string]any{
				"per_move": tc.PerMove,
				"range":    []int{s.PerMoveTimeRange.Min, s.PerMoveTimeRange.Max},
			}), false
		}
	}
	return Decision{}, true
}

func speedNotAllowedCode(s Speed) RejectionCode {
	switch s {
	case SpeedBlitz:
		return CodeBlitzNotAllowed
	case SpeedCorrespondence:
		return CodeCorrespondenceNotAllowed
	default:
		return CodeLiveNotAllowed
	}
}

func tooManyGamesCode(s Speed) RejectionCode {
	switch s {
	case SpeedBlitz:
		return CodeTooManyBlitzGames
	case SpeedCorrespondence:
		return CodeTooManyCorrespondenceGames
	default:
		return CodeTooManyLiveGames
	}
}

func reject(code RejectionCode, message string, details map[string]any) Decision {
	return Decision{Accept: false, Code: code, Message: message, Details: details}
}
