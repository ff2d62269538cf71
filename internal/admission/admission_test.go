package admission_test

import (
	"testing"

	"github.com/tripwire/gtpbridge/internal/admission"
)

func liveConfig() admission.Config {
	return admission.Config{
		Blacklist:                 map[int64]bool{},
		Whitelist:                 map[int64]bool{},
		AllowedTimeControlSystems: map[string]bool{"fischer": true, "byoyomi": true, "simple": true},
		BoardSizes:                admission.BoardSizePolicy{Mode: "square"},
		AllowHandicap:             true,
		AllowUnranked:             true,
		Live: admission.SpeedSettings{
			Allowed:          true,
			ConcurrentGames:  1,
			PerMoveTimeRange: admission.Range{Min: 10, Max: 60},
			MainTimeRange:    admission.Range{Min: 0, Max: 3600},
			PeriodsRange:     admission.Range{Min: 1, Max: 10},
		},
	}
}

func fischerChallenge() admission.Challenge {
	return admission.Challenge{
		ID:       "c1",
		UserID:   42,
		Width:    19,
		Height:   19,
		Handicap: 0,
		Ranked:   true,
		TimeControl: admission.TimeControl{
			System:        "fischer",
			Speed:         admission.SpeedLive,
			TimeIncrement: 30,
			InitialTime:   600,
			MaxTime:       600,
		},
	}
}

func TestAcceptSquareFischer(t *testing.T) {
	d := admission.Decide(fischerChallenge(), admission.Counts{}, liveConfig())
	if !d.Accept {
		t.Fatalf("expected accept, got reject: %+v", d)
	}
}

func TestRejectNonSquareWhenSquareOnly(t *testing.T) {
	ch := fischerChallenge()
	ch.Width, ch.Height = 19, 13
	d := admission.Decide(ch, admission.Counts{}, liveConfig())
	if d.Accept {
		t.Fatal("expected reject")
	}
	if d.Code != admission.CodeBoardSizeNotSquare {
		t.Errorf("got code %q, want board_size_not_square", d.Code)
	}
	if d.Details["width"] != 19 || d.Details["height"] != 13 {
		t.Errorf("details = %+v", d.Details)
	}
}

func TestRejectTooFastFischer(t *testing.T) {
	ch := fischerChallenge()
	ch.TimeControl.TimeIncrement = 5
	d := admission.Decide(ch, admission.Counts{}, liveConfig())
	if d.Accept {
		t.Fatal("expected reject")
	}
	if d.Code != admission.CodeTimeIncrementOutOfRange {
		t.Errorf("got code %q, want time_increment_out_of_range", d.Code)
	}
	if d.Details["time_increment"] != 5 {
		t.Errorf("details = %+v", d.Details)
	}
}

func TestWhitelistOverridesBlacklist(t *testing.T) {
	cfg := liveConfig()
	cfg.Blacklist[42] = true
	cfg.Whitelist[42] = true
	d := admission.Decide(fischerChallenge(), admission.Counts{}, cfg)
	if !d.Accept {
		t.Fatalf("expected whitelist to override blacklist, got %+v", d)
	}
}

func TestPeriodTimeLowerBoundAccepted(t *testing.T) {
	cfg := liveConfig()
	cfg.AllowedTimeControlSystems["byoyomi"] = true
	ch := fischerChallenge()
	ch.TimeControl = admission.TimeControl{
		System:     "byoyomi",
		Speed:      admission.SpeedLive,
		PeriodTime: 10,
		Periods:    5,
		MainTime:   600,
	}
	d := admission.Decide(ch, admission.Counts{}, cfg)
	if !d.Accept {
		t.Fatalf("expected accept at lower bound, got %+v", d)
	}
}

func TestPeriodTimeOneBelowLowerBoundRejected(t *testing.T) {
	cfg := liveConfig()
	ch := fischerChallenge()
	ch.TimeControl = admission.TimeControl{
		System:     "byoyomi",
		Speed:      admission.SpeedLive,
		PeriodTime: 9,
		Periods:    5,
		MainTime:   600,
	}
	d := admission.Decide(ch, admission.Counts{}, cfg)
	if d.Accept {
		t.Fatal("expected reject one below lower bound")
	}
	if d.Code != admission.CodePeriodTimeOutOfRange {
		t.Errorf("got code %q, want period_time_out_of_range", d.Code)
	}
}

func TestTooManyConcurrentGames(t *testing.T) {
	d := admission.Decide(fischerChallenge(), admission.Counts{Live: 1}, liveConfig())
	if d.Accept {
		t.Fatal("expected reject at concurrency cap")
	}
	if d.Code != admission.CodeTooManyLiveGames {
		t.Errorf("got code %q, want too_many_live_games", d.Code)
	}
}

func TestHandicapNotAllowed(t *testing.T) {
	cfg := liveConfig()
	cfg.AllowHandicap = false
	ch := fischerChallenge()
	ch.Handicap = 2
	d := admission.Decide(ch, admission.Counts{}, cfg)
	if d.Accept || d.Code != admission.CodeHandicapNotAllowed {
		t.Fatalf("got %+v", d)
	}
}

func TestUnrankedNotAllowed(t *testing.T) {
	cfg := liveConfig()
	cfg.AllowUnranked = false
	ch := fischerChallenge()
	ch.Ranked = false
	d := admission.Decide(ch, admission.Counts{}, cfg)
	if d.Accept || d.Code != admission.CodeUnrankedNotAllowed {
		t.Fatalf("got %+v", d)
	}
}

func TestDeterministicSameInputsSameDecision(t *testing.T) {
	ch := fischerChallenge()
	cfg := liveConfig()
	counts := admission.Counts{Live: 0}
	first := admission.Decide(ch, counts, cfg)
	second := admission.Decide(ch, counts, cfg)
	if first.Accept != second.Accept || first.Code != second.Code {
		t.Fatalf("decisions differ across identical calls: %+v vs %+v", first, second)
	}
}
