package session_test

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tripwire/gtpbridge/internal/admission"
	"github.com/tripwire/gtpbridge/internal/enginepool"
	"github.com/tripwire/gtpbridge/internal/gtp"
	"github.com/tripwire/gtpbridge/internal/serverconn"
	"github.com/tripwire/gtpbridge/internal/session"
)

func TestMain(m *testing.M) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") == "1" {
		runFakeEngine()
		os.Exit(0)
	}
	os.Exit(m.Run())
}

func runFakeEngine() {
	reader := bufio.NewReader(os.Stdin)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}
		cmd := strings.TrimSpace(line)
		switch {
		case cmd == "quit":
			return
		case strings.HasPrefix(cmd, "list_commands"):
			fmt.Fprint(os.Stdout, "=play\ngenmove\nquit\nkgs-time_settings\n\n")
		default:
			fmt.Fprintf(os.Stdout, "= %s\n\n", cmd)
		}
	}
}

func fakePoolSet(t *testing.T) *enginepool.Set {
	t.Helper()
	exe, err := os.Executable()
	if err != nil {
		t.Fatalf("os.Executable: %v", err)
	}
	t.Setenv("GO_WANT_HELPER_PROCESS", "1")
	spec := gtp.Spec{Name: "fake", Argv: []string{exe, "-test.run=TestMain"}}
	main, err := enginepool.New(context.Background(), enginepool.RoleMain, spec, 2, slog.Default())
	if err != nil {
		t.Fatalf("New main pool: %v", err)
	}
	t.Cleanup(main.KillAll)
	return &enginepool.Set{Main: main}
}

type fakeTransport struct {
	events chan serverconn.Event
	mu     sync.Mutex
	sent   []map[string]any
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{events: make(chan serverconn.Event, 32)}
}

func (f *fakeTransport) Run(ctx context.Context) { <-ctx.Done() }
func (f *fakeTransport) Events() <-chan serverconn.Event { return f.events }
func (f *fakeTransport) Send(ctx context.Context, v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, _ := json.Marshal(v)
	var m map[string]any
	_ = json.Unmarshal(data, &m)
	f.sent = append(f.sent, m)
	return nil
}
func (f *fakeTransport) Close() error { close(f.events); return nil }

func (f *fakeTransport) sentOfType(typ string) []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []map[string]any
	for _, m := range f.sent {
		if m["type"] == typ {
			out = append(out, m)
		}
	}
	return out
}

type fakeRest struct {
	mu       sync.Mutex
	accepted []string
	declined []string
	codes    []string
}

func (f *fakeRest) AcceptChallenge(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accepted = append(f.accepted, id)
	return nil
}
func (f *fakeRest) DeclineChallenge(ctx context.Context, id, code, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.declined = append(f.declined, id)
	f.codes = append(f.codes, code)
	return nil
}
func (f *fakeRest) AcceptFriendRequest(ctx context.Context, fromUser string) error { return nil }

func admitConfig() admission.Config {
	return admission.Config{
		Blacklist:                 map[int64]bool{},
		Whitelist:                 map[int64]bool{},
		AllowedTimeControlSystems: map[string]bool{"fischer": true},
		BoardSizes:                admission.BoardSizePolicy{Mode: "all"},
		AllowHandicap:             true,
		AllowUnranked:             true,
		Live: admission.SpeedSettings{
			Allowed:          true,
			ConcurrentGames:  5,
			PerMoveTimeRange: admission.Range{Min: 10, Max: 60},
		},
	}
}

func runController(t *testing.T, transport *fakeTransport, rest *fakeRest) (*session.Controller, context.CancelFunc) {
	t.Helper()
	c, cancel, _ := runControllerWithErrCh(t, transport, rest)
	return c, cancel
}

func runControllerWithErrCh(t *testing.T, transport *fakeTransport, rest *fakeRest) (*session.Controller, context.CancelFunc, <-chan error) {
	t.Helper()
	pools := fakePoolSet(t)
	creds := session.Credentials{Username: "gobot", APIKey: "key"}
	c := session.New(creds, admitConfig(), transport, rest, pools, nil, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- c.Run(ctx) }()
	return c, cancel, errCh
}

func TestConnectSendsAuthenticate(t *testing.T) {
	transport := newFakeTransport()
	rest := &fakeRest{}
	_, cancel := runController(t, transport, rest)
	defer cancel()

	transport.events <- serverconn.Event{Type: "connect"}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(transport.sentOfType("authenticate")) == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("expected one authenticate message to be sent")
}

func TestChallengeAcceptedIsPostedViaRest(t *testing.T) {
	transport := newFakeTransport()
	rest := &fakeRest{}
	_, cancel := runController(t, transport, rest)
	defer cancel()

	n := session.NotificationWire{
		Type:        "challenge",
		ChallengeID: "c1",
		Challenge: session.ChallengeWire{
			Width: 19, Height: 19, Ranked: true,
			TimeControl: session.TimeControlWire{System: "fischer", Speed: "live", TimeIncrement: 30, InitialTime: 600},
		},
	}
	raw, _ := json.Marshal(n)
	transport.events <- serverconn.Event{Type: "notification", Raw: raw}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		rest.mu.Lock()
		accepted := len(rest.accepted)
		rest.mu.Unlock()
		if accepted == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("expected challenge to be accepted via REST")
}

func TestChallengeRejectedCarriesCode(t *testing.T) {
	transport := newFakeTransport()
	rest := &fakeRest{}
	_, cancel := runController(t, transport, rest)
	defer cancel()

	n := session.NotificationWire{
		Type:        "challenge",
		ChallengeID: "c2",
		Challenge: session.ChallengeWire{
			Width: 19, Height: 13, Ranked: true,
			TimeControl: session.TimeControlWire{System: "fischer", Speed: "live", TimeIncrement: 5, InitialTime: 600},
		},
	}
	raw, _ := json.Marshal(n)
	transport.events <- serverconn.Event{Type: "notification", Raw: raw}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		rest.mu.Lock()
		declined := len(rest.declined)
		var code string
		if declined > 0 {
			code = rest.codes[0]
		}
		rest.mu.Unlock()
		if declined == 1 {
			if code != "time_increment_out_of_range" {
				t.Fatalf("got code %q, want time_increment_out_of_range", code)
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("expected challenge to be declined via REST")
}

func TestActiveGameIsIdempotent(t *testing.T) {
	transport := newFakeTransport()
	rest := &fakeRest{}
	c, cancel := runController(t, transport, rest)
	defer cancel()

	g := session.ActiveGameWire{ID: "g1", Phase: "ongoing", Speed: "live"}
	raw, _ := json.Marshal(g)
	transport.events <- serverconn.Event{Type: "active_game", Raw: raw}
	transport.events <- serverconn.Event{Type: "active_game", Raw: raw}

	time.Sleep(200 * time.Millisecond)
	// With only 2 pooled engines and idempotent handling, issuing the same
	// active_game twice must not exhaust the pool down to zero.
	if got := len(c.Games(context.Background())); got != 1 {
		t.Errorf("got %d live games, want 1", got)
	}
	pools := c.Pools(context.Background())
	if len(pools) != 1 || pools[0].Available != 1 {
		t.Errorf("pool status = %+v, want main with 1 available", pools)
	}
}

func TestAuthenticatedStoresIdentity(t *testing.T) {
	transport := newFakeTransport()
	rest := &fakeRest{}
	c, cancel := runController(t, transport, rest)
	defer cancel()

	transport.events <- serverconn.Event{Type: "connect"}

	ack := session.AuthAckWire{ID: 42, Username: "gobot"}
	raw, _ := json.Marshal(ack)
	transport.events <- serverconn.Event{Type: "authenticated", Raw: raw}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if id := c.Identity(); id.ID == 42 && id.Username == "gobot" {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected identity to be stored from authenticated ack, got %+v", c.Identity())
}

func TestAuthenticationFailedReturnsErrFromRun(t *testing.T) {
	transport := newFakeTransport()
	rest := &fakeRest{}
	_, cancel, errCh := runControllerWithErrCh(t, transport, rest)
	defer cancel()

	transport.events <- serverconn.Event{Type: "connect"}
	transport.events <- serverconn.Event{Type: "authentication_failed", Raw: []byte(`{"reason":"unknown bot account"}`)}

	select {
	case err := <-errCh:
		if !errors.Is(err, session.ErrAuthFailed) {
			t.Fatalf("got error %v, want ErrAuthFailed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected Run to return after authentication_failed")
	}
}
