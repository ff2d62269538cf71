// Package clock implements the Clock Translator (CT): a pure function layer
// converting a server game-state clock snapshot into an ordered sequence of
// GTP time-setup commands for a given engine capability profile, per
// spec §4.2.
//
// Every function in this package is a pure function of its inputs — no I/O,
// no mutable package state — matching the "propagation policy" in spec §7
// ("pure policy layers never throw; they return data").
package clock

import (
	"fmt"
	"math"
	"time"

	"github.com/tripwire/gtpbridge/internal/gtp"
)

// System is the server's time control system.
type System string

const (
	SystemByoyomi    System = "byoyomi"
	SystemCanadian   System = "canadian"
	SystemFischer    System = "fischer"
	SystemSimple     System = "simple"
	SystemAbsolute   System = "absolute"
	SystemNone       System = "none"
)

// Color identifies a player; it is rendered into GTP commands verbatim
// ("black"/"white"), matching the GTP2 time_left vocabulary.
type Color string

const (
	Black Color = "black"
	White Color = "white"
)

// Opponent returns the other color.
func (c Color) Opponent() Color {
	if c == Black {
		return White
	}
	return Black
}

// TimeControl is the server's configured time control for one game.
type TimeControl struct {
	System System

	// Byoyomi / Absolute
	MainTimeSec   int
	PeriodTimeSec int
	Periods       int

	// Canadian
	StonesPerPeriod int

	// Simple
	PerMoveSec int

	// Fischer
	InitialSec   int
	IncrementSec int
	MaxTimeSec   int
}

// PlayerClock is one color's live clock state as last reported by the
// server.
type PlayerClock struct {
	// ThinkingTimeSec is the remaining main (or, once exhausted, current
	// overtime block) time in seconds, as last reported by the server.
	ThinkingTimeSec float64
	// PeriodsLeft is the remaining byoyomi period count.
	PeriodsLeft int
	// PeriodTimeSec is this color's configured byoyomi period length; it
	// normally mirrors TimeControl.PeriodTimeSec but is carried per-color
	// because the server reports it that way.
	PeriodTimeSec float64
	// MovesLeft is the remaining stone quota in the current canadian
	// overtime block. Zero while still within main time.
	MovesLeft int
}

// ClockSnapshot is the server's live clock state for both colors plus which
// color is on the move.
type ClockSnapshot struct {
	ToMove         Color
	LastMoveUnixMs int64
	Black          PlayerClock
	White          PlayerClock
}

func (s ClockSnapshot) player(c Color) PlayerClock {
	if c == Black {
		return s.Black
	}
	return s.White
}

// Input bundles everything Translate needs, per spec §4.2 "Inputs".
type Input struct {
	Control TimeControl
	Clock   ClockSnapshot
	Caps    gtp.Capabilities

	// FirstMove adds StartupBufferMs to the offset computation for the
	// mover, per spec §4.2's common preamble.
	FirstMove bool
	// ClockDriftMs is the signed millisecond offset compensating for
	// transport latency; "now" is wall_now - clock_drift.
	ClockDriftMs int64
	// StartupBufferMs is added to the offset only when FirstMove is true.
	StartupBufferMs int64
	// Now is the wall-clock time to use; tests inject a fixed value.
	Now time.Time
}

// offsetSeconds computes elapsed time since the server last observed a
// move, charged only to the color on the move, per spec §4.2's common
// preamble. It is always >= 0.
func (in Input) offsetSeconds(c Color) float64 {
	if c != in.Clock.ToMove {
		return 0
	}
	nowMs := in.Now.UnixMilli() - in.ClockDriftMs
	var startup int64
	if in.FirstMove {
		startup = in.StartupBufferMs
	}
	offsetMs := startup + nowMs - in.Clock.LastMoveUnixMs
	if offsetMs < 0 {
		offsetMs = 0
	}
	return float64(offsetMs) / 1000.0
}

// floorClamp floors f to an integer number of seconds and clamps it at
// zero, per spec §4.2's "all times floored to integer seconds and clamped
// at zero".
func floorClamp(f float64) int {
	i := int(math.Floor(f))
	if i < 0 {
		return 0
	}
	return i
}

// Translate converts in into the ordered GTP command sequence the engine
// must receive before genmove. It returns nil when in.Control.System is
// SystemNone, signaling the caller to skip clock translation entirely.
func Translate(in Input) []string {
	switch in.Control.System {
	case SystemByoyomi:
		return translateByoyomi(in)
	case SystemCanadian:
		return translateCanadian(in)
	case SystemFischer:
		return translateFischer(in)
	case SystemSimple:
		return translateSimple(in)
	case SystemAbsolute:
		return translateAbsolute(in)
	default:
		return nil
	}
}

// rollByoyomiPeriod computes the remaining seconds within the current
// byoyomi period and the number of periods left, rolling down through
// periods as the deficit consumes them, per spec §4.2's byoyomi row:
// "t rolls down through remaining periods as t goes negative".
func rollByoyomiPeriod(thinking, periodTime float64, periods int, offset float64) (int, int) {
	overflow := offset - thinking
	if overflow <= 0 {
		return floorClamp(thinking - offset), periods
	}

	remaining := periodTime - overflow
	left := periods
	for remaining < 0 && left > 1 {
		remaining += periodTime
		left--
	}
	if remaining < 0 {
		remaining = 0
	}
	return floorClamp(remaining), left
}

func translateByoyomi(in Input) []string {
	c := in.Control
	var cmds []string

	if in.Caps.SupportsKGSTimeSettings {
		cmds = append(cmds, fmt.Sprintf("kgs-time_settings byoyomi %d %d %d", c.MainTimeSec, c.PeriodTimeSec, c.Periods))
		for _, color := range []Color{Black, White} {
			pc := in.Clock.player(color)
			offset := in.offsetSeconds(color)
			t, left := rollByoyomiPeriod(pc.ThinkingTimeSec, pc.PeriodTimeSec, pc.PeriodsLeft, offset)
			cmds = append(cmds, fmt.Sprintf("time_left %s %d %d", color, t, left))
		}
		return cmds
	}

	// Emulate as canadian 1-stone: main = M + (N-1)*P.
	mainEmulated := c.MainTimeSec + (c.Periods-1)*c.PeriodTimeSec
	cmds = append(cmds, fmt.Sprintf("time_settings %d 0 1", mainEmulated))
	for _, color := range []Color{Black, White} {
		pc := in.Clock.player(color)
		offset := in.offsetSeconds(color)
		// pc.ThinkingTimeSec is reported against the real main_time M;
		// rebase it onto the emulated main clock before subtracting offset.
		remaining := float64(mainEmulated) - (float64(c.MainTimeSec) - pc.ThinkingTimeSec) - offset
		t := floorClamp(remaining)
		if t <= c.PeriodTimeSec {
			cmds = append(cmds, fmt.Sprintf("time_left %s %d 1", color, t))
		} else {
			cmds = append(cmds, fmt.Sprintf("time_left %s %d 0", color, t-c.PeriodTimeSec))
		}
	}
	return cmds
}

func translateCanadian(in Input) []string {
	c := in.Control
	var cmds []string

	settingsCmd := "kgs-time_settings canadian %d %d %d"
	if !in.Caps.SupportsKGSTimeSettings {
		settingsCmd = "time_settings %d %d %d"
	}
	cmds = append(cmds, fmt.Sprintf(settingsCmd, c.MainTimeSec, c.PeriodTimeSec, c.StonesPerPeriod))

	for _, color := range []Color{Black, White} {
		pc := in.Clock.player(color)
		offset := in.offsetSeconds(color)
		thinking := pc.ThinkingTimeSec - offset
		if thinking > 0 {
			cmds = append(cmds, fmt.Sprintf("time_left %s %d %d", color, floorClamp(thinking), pc.MovesLeft))
			continue
		}
		overflow := -thinking
		remaining := float64(c.PeriodTimeSec) - overflow
		if remaining < 0 {
			remaining = 0
		}
		cmds = append(cmds, fmt.Sprintf("time_left %s %d %d", color, floorClamp(remaining), c.StonesPerPeriod))
	}
	return cmds
}

func translateFischer(in Input) []string {
	c := in.Control

	if in.Caps.SupportsFischerCapped {
		cmds := []string{fmt.Sprintf("kata-time_settings fischer-capped %d %d %d -1", c.InitialSec, c.IncrementSec, c.MaxTimeSec)}
		for _, color := range []Color{Black, White} {
			pc := in.Clock.player(color)
			offset := in.offsetSeconds(color)
			t := floorClamp(pc.ThinkingTimeSec - offset)
			cmds = append(cmds, fmt.Sprintf("time_left %s %d 0", color, t))
		}
		return cmds
	}

	// Emulate as canadian 1-stone increment.
	settingsCmd := "kgs-time_settings canadian %d %d 1"
	if !in.Caps.SupportsKGSTimeSettings {
		settingsCmd = "time_settings %d %d 1"
	}
	cmds := []string{fmt.Sprintf(settingsCmd, c.InitialSec-c.IncrementSec, c.IncrementSec)}
	for _, color := range []Color{Black, White} {
		pc := in.Clock.player(color)
		offset := in.offsetSeconds(color)
		t := pc.ThinkingTimeSec - offset - float64(c.IncrementSec)
		if t < 0 {
			cmds = append(cmds, fmt.Sprintf("time_left %s 0 1", color))
		} else {
			cmds = append(cmds, fmt.Sprintf("time_left %s %d 0", color, floorClamp(t)))
		}
	}
	return cmds
}

func translateSimple(in Input) []string {
	c := in.Control
	cmds := []string{fmt.Sprintf("time_settings 0 %d 1", c.PerMoveSec)}
	for _, color := range []Color{Black, White} {
		cmds = append(cmds, fmt.Sprintf("time_left %s %d 1", color, c.PerMoveSec))
	}
	return cmds
}

func translateAbsolute(in Input) []string {
	c := in.Control
	cmds := []string{fmt.Sprintf("time_settings %d 0 0", c.MainTimeSec)}
	for _, color := range []Color{Black, White} {
		pc := in.Clock.player(color)
		offset := in.offsetSeconds(color)
		t := floorClamp(pc.ThinkingTimeSec - offset)
		cmds = append(cmds, fmt.Sprintf("time_left %s %d 0", color, t))
	}
	return cmds
}
