// Package session implements the Session Controller (SC): the long-lived
// client of the server's event socket, owner of the per-game Descriptor
// lifecycle, and the component that enforces the Admission Policy against
// incoming challenges.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tripwire/gtpbridge/internal/adminhttp"
	"github.com/tripwire/gtpbridge/internal/admission"
	"github.com/tripwire/gtpbridge/internal/enginepool"
	"github.com/tripwire/gtpbridge/internal/serverconn"
	"github.com/tripwire/gtpbridge/internal/translog"
)

// ErrAuthFailed is returned by Run when the server rejects the bridge's
// authenticate message (bad credentials or an unknown bot account), per
// spec §6's "exit 1 on authentication failure" requirement.
var ErrAuthFailed = errors.New("session: authentication failed")

const (
	statusReportInterval = 100 * time.Millisecond
	statusDumpInterval   = 60 * time.Second
	finishGraceDelay     = time.Second
)

// ignorableNotifications are dropped silently; they require no action
// from the bridge.
var ignorableNotifications = map[string]bool{
	"delete":                      true,
	"gameStarted":                 true,
	"gameEnded":                   true,
	"gameDeclined":                true,
	"gameResumedFromStoneRemoval": true,
	"tournamentStarted":           true,
	"tournamentEnded":             true,
	"aiReviewDone":                true,
}

// BotIdentity is the identity assigned by the server on successful
// authentication.
type BotIdentity struct {
	ID       int64
	Username string
}

// Credentials authenticate the bot to the server.
type Credentials struct {
	Username string
	APIKey   string
	Hidden   bool
}

// TimeControlWire is the wire shape of a challenge's time control.
type TimeControlWire struct {
	System        string `json:"system"`
	Speed         string `json:"speed"`
	TimeIncrement int    `json:"time_increment"`
	InitialTime   int    `json:"initial_time"`
	MaxTime       int    `json:"max_time"`
	PeriodTime    int    `json:"period_time"`
	Periods       int    `json:"periods"`
	MainTime      int    `json:"main_time"`
	PerMove       int    `json:"per_move"`
}

// ChallengeWire is the wire shape of an incoming challenge notification.
type ChallengeWire struct {
	Width       int             `json:"width"`
	Height      int             `json:"height"`
	Handicap    int             `json:"handicap"`
	Ranked      bool            `json:"ranked"`
	UserID      int64           `json:"user_id"`
	Username    string          `json:"username"`
	TimeControl TimeControlWire `json:"time_control"`
}

// NotificationWire is the wire shape of a notification event.
type NotificationWire struct {
	Type        string        `json:"type"`
	ID          string        `json:"notification_id"`
	ChallengeID string        `json:"challenge_id"`
	FromUser    string        `json:"from_user"`
	Challenge   ChallengeWire `json:"challenge"`
}

// ActiveGameWire is the wire shape of an active_game event.
type ActiveGameWire struct {
	ID    string `json:"id"`
	Phase string `json:"phase"`
	Speed string `json:"speed"`
}

// AuthAckWire is the wire shape of a successful authenticate acknowledgement.
type AuthAckWire struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

// AuthFailureWire is the wire shape of a rejected authenticate attempt.
type AuthFailureWire struct {
	Reason string `json:"reason"`
}

// Controller is the Session Controller.
type Controller struct {
	creds    Credentials
	admitCfg admission.Config
	transport serverconn.SocketTransport
	rest      serverconn.RESTClient
	pools     *enginepool.Set
	log       *translog.Log
	logger    *slog.Logger

	mu             sync.Mutex
	connected      bool
	descriptors    map[string]*Descriptor
	identity       BotIdentity
	lastCounts     admission.Counts
	haveLastCounts bool

	authErrCh chan error
}

// New constructs a Controller. pools must already be spawned (not
// necessarily Ready); Run awaits pools.Ready before authenticating.
func New(creds Credentials, admitCfg admission.Config, transport serverconn.SocketTransport, rest serverconn.RESTClient, pools *enginepool.Set, log *translog.Log, logger *slog.Logger) *Controller {
	return &Controller{
		creds:       creds,
		admitCfg:    admitCfg,
		transport:   transport,
		rest:        rest,
		pools:       pools,
		log:         log,
		logger:      logger,
		descriptors: make(map[string]*Descriptor),
		authErrCh:   make(chan error, 1),
	}
}

// Run drives the controller's event loop until ctx is cancelled.
func (c *Controller) Run(ctx context.Context) error {
	go c.transport.Run(ctx)

	statusTicker := time.NewTicker(statusReportInterval)
	defer statusTicker.Stop()
	dumpTicker := time.NewTicker(statusDumpInterval)
	defer dumpTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.teardownAll(ctx)
			return ctx.Err()

		case err := <-c.authErrCh:
			c.teardownAll(ctx)
			return err

		case evt, ok := <-c.transport.Events():
			if !ok {
				return nil
			}
			c.handleEvent(ctx, evt)

		case <-statusTicker.C:
			c.maybeReportStatus(ctx)

		case <-dumpTicker.C:
			c.dumpStatus()
		}
	}
}

func (c *Controller) handleEvent(ctx context.Context, evt serverconn.Event) {
	switch evt.Type {
	case "connect":
		c.handleConnect(ctx)
	case "disconnect":
		c.handleDisconnect(ctx)
	case "active_game":
		var payload ActiveGameWire
		if err := json.Unmarshal(evt.Raw, &payload); err != nil {
			c.logger.Warn("session: malformed active_game payload", "error", err)
			return
		}
		c.handleActiveGame(ctx, payload)
	case "notification":
		var payload NotificationWire
		if err := json.Unmarshal(evt.Raw, &payload); err != nil {
			c.logger.Warn("session: malformed notification payload", "error", err)
			return
		}
		c.handleNotification(ctx, payload)
	case "authenticated":
		var payload AuthAckWire
		if err := json.Unmarshal(evt.Raw, &payload); err != nil {
			c.logger.Warn("session: malformed authenticated payload", "error", err)
			return
		}
		c.handleAuthenticated(ctx, payload)
	case "authentication_failed":
		var payload AuthFailureWire
		_ = json.Unmarshal(evt.Raw, &payload)
		c.handleAuthFailed(payload)
	default:
		c.logger.Debug("session: unhandled event type", "type", evt.Type)
	}
}

func (c *Controller) handleConnect(ctx context.Context) {
	if err := c.pools.Ready(ctx); err != nil {
		c.logger.Error("session: pool never became ready", "error", err)
		return
	}

	auth := map[string]any{
		"type":         "authenticate",
		"bot_username": c.creds.Username,
		"bot_apikey":   c.creds.APIKey,
	}
	if err := c.transport.Send(ctx, auth); err != nil {
		c.logger.Error("session: authenticate failed", "error", err)
		return
	}
	// connected/identity are set on the "authenticated" ack, not here: the
	// server may still reject credentials or an unknown bot account.
}

// handleAuthenticated stores the identity assigned by the server on a
// successful authenticate ack, per spec §4.5 "on success store identity".
func (c *Controller) handleAuthenticated(ctx context.Context, ack AuthAckWire) {
	c.mu.Lock()
	c.connected = true
	c.identity = BotIdentity{ID: ack.ID, Username: ack.Username}
	c.mu.Unlock()

	c.logger.Info("session: authenticated", "id", ack.ID, "username", ack.Username)

	if c.creds.Hidden {
		_ = c.transport.Send(ctx, map[string]any{"type": "bot/hidden", "value": true})
	}
}

// handleAuthFailed reports the server's rejection of the authenticate
// message up through Run, per spec §6's "exit 1 on authentication failure
// or unknown bot account".
func (c *Controller) handleAuthFailed(failure AuthFailureWire) {
	c.logger.Error("session: authentication rejected by server", "reason", failure.Reason)
	select {
	case c.authErrCh <- fmt.Errorf("%w: %s", ErrAuthFailed, failure.Reason):
	default:
	}
}

// Identity returns the identity assigned by the server on successful
// authentication. The zero value is returned before authentication
// completes.
func (c *Controller) Identity() BotIdentity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity
}

func (c *Controller) handleDisconnect(ctx context.Context) {
	c.teardownAll(ctx)
}

func (c *Controller) teardownAll(ctx context.Context) {
	c.mu.Lock()
	descriptors := c.descriptors
	c.descriptors = make(map[string]*Descriptor)
	c.connected = false
	c.mu.Unlock()

	for _, d := range descriptors {
		d.Close(ctx, c.logger)
	}
}

func (c *Controller) handleActiveGame(ctx context.Context, g ActiveGameWire) {
	c.mu.Lock()
	_, exists := c.descriptors[g.ID]
	c.mu.Unlock()

	if g.Phase == "finished" {
		if !exists {
			// A finished game never seen live is connected first, so
			// late gamedata during the grace period finds a descriptor.
			live := g
			live.Phase = ""
			c.handleActiveGame(ctx, live)
		}
		// Keep the descriptor for a grace period so any late gamedata
		// for this game still finds it, then tear it down.
		time.AfterFunc(finishGraceDelay, func() {
			c.mu.Lock()
			d, ok := c.descriptors[g.ID]
			if ok {
				delete(c.descriptors, g.ID)
			}
			c.mu.Unlock()
			if ok {
				d.Close(ctx, c.logger)
			}
		})
		return
	}

	if exists {
		return // idempotent: re-issuing active_game for a connected game is a no-op.
	}

	speed := admission.Speed(g.Speed)
	pool := c.pools.Pool(enginepool.RoleMain)
	if pool == nil {
		c.logger.Error("session: no main pool configured, cannot serve active_game", "game_id", g.ID)
		return
	}
	d, ok := newDescriptor(pool, enginepool.RoleMain, g.ID, speed, c.log)
	if !ok {
		c.logger.Warn("session: no free engine instance for active_game", "game_id", g.ID)
		return
	}

	c.mu.Lock()
	c.descriptors[g.ID] = d
	c.mu.Unlock()
}

func (c *Controller) handleNotification(ctx context.Context, n NotificationWire) {
	switch n.Type {
	case "challenge":
		c.handleChallenge(ctx, n)
	case "friendRequest":
		if err := c.rest.AcceptFriendRequest(ctx, n.FromUser); err != nil {
			c.logger.Warn("session: accept friend request failed", "from_user", n.FromUser, "error", err)
		}
	default:
		if ignorableNotifications[n.Type] {
			return
		}
		c.logger.Info("session: dropping unrecognized notification", "type", n.Type)
		_ = c.transport.Send(ctx, map[string]any{"type": "notification/delete", "notification_id": n.ID})
	}
}

func (c *Controller) handleChallenge(ctx context.Context, n NotificationWire) {
	ch := admission.Challenge{
		ID:       n.ChallengeID,
		UserID:   n.Challenge.UserID,
		Username: n.Challenge.Username,
		Width:    n.Challenge.Width,
		Height:   n.Challenge.Height,
		Handicap: n.Challenge.Handicap,
		Ranked:   n.Challenge.Ranked,
		TimeControl: admission.TimeControl{
			System:        n.Challenge.TimeControl.System,
			Speed:         admission.Speed(n.Challenge.TimeControl.Speed),
			TimeIncrement: n.Challenge.TimeControl.TimeIncrement,
			InitialTime:   n.Challenge.TimeControl.InitialTime,
			MaxTime:       n.Challenge.TimeControl.MaxTime,
			PeriodTime:    n.Challenge.TimeControl.PeriodTime,
			Periods:       n.Challenge.TimeControl.Periods,
			MainTime:      n.Challenge.TimeControl.MainTime,
			PerMove:       n.Challenge.TimeControl.PerMove,
		},
	}

	decision := admission.Decide(ch, c.counts(), c.admitCfg)

	correlationID := uuid.NewString()
	logger := c.logger.With("correlation_id", correlationID, "challenge_id", n.ChallengeID)

	detail, _ := json.Marshal(decision.Details)
	if c.log != nil {
		_ = c.log.AppendAdmission(ctx, n.ChallengeID, decision.Accept, string(detail))
	}

	if decision.Accept {
		logger.Info("session: accepting challenge")
		if err := c.rest.AcceptChallenge(ctx, n.ChallengeID); err != nil {
			logger.Warn("session: accept challenge failed, falling back to decline", "error", err)
			_ = c.rest.DeclineChallenge(ctx, n.ChallengeID, "", fmt.Sprintf("internal error: %v", err))
		}
		return
	}

	logger.Info("session: declining challenge", "code", decision.Code)
	_ = c.rest.DeclineChallenge(ctx, n.ChallengeID, string(decision.Code), decision.Message)
}

// counts computes the live per-speed descriptor counts.
func (c *Controller) counts() admission.Counts {
	c.mu.Lock()
	defer c.mu.Unlock()
	var counts admission.Counts
	for _, d := range c.descriptors {
		switch d.Speed {
		case admission.SpeedBlitz:
			counts.Blitz++
		case admission.SpeedCorrespondence:
			counts.Correspondence++
		default:
			counts.Live++
		}
	}
	return counts
}

func (c *Controller) maybeReportStatus(ctx context.Context) {
	counts := c.counts()

	c.mu.Lock()
	changed := !c.haveLastCounts || counts != c.lastCounts
	c.lastCounts = counts
	c.haveLastCounts = true
	c.mu.Unlock()

	if !changed {
		return
	}

	_ = c.transport.Send(ctx, map[string]any{
		"type":                           "bot/status",
		"ongoing_blitz_count":            counts.Blitz,
		"ongoing_live_count":             counts.Live,
		"ongoing_correspondence_count":   counts.Correspondence,
	})
}

func (c *Controller) dumpStatus() {
	counts := c.counts()
	c.logger.Info("session: status",
		"blitz", counts.Blitz,
		"live", counts.Live,
		"correspondence", counts.Correspondence,
		"main_available", poolAvailable(c.pools.Main),
		"opening_available", poolAvailable(c.pools.Opening),
		"ending_available", poolAvailable(c.pools.Ending),
		"resign_check_available", poolAvailable(c.pools.ResignCheck),
	)
}

func poolAvailable(p *enginepool.Pool) int {
	if p == nil {
		return 0
	}
	return p.CountAvailable()
}

// Pools implements adminhttp.StatusSource.
func (c *Controller) Pools(ctx context.Context) []adminhttp.PoolStatus {
	var out []adminhttp.PoolStatus
	for _, rp := range []struct {
		role string
		pool *enginepool.Pool
	}{
		{string(enginepool.RoleMain), c.pools.Main},
		{string(enginepool.RoleOpening), c.pools.Opening},
		{string(enginepool.RoleEnding), c.pools.Ending},
		{string(enginepool.RoleResignCheck), c.pools.ResignCheck},
	} {
		if rp.pool == nil {
			continue
		}
		out = append(out, adminhttp.PoolStatus{Role: rp.role, Available: rp.pool.CountAvailable()})
	}
	return out
}

// Games implements adminhttp.StatusSource.
func (c *Controller) Games(ctx context.Context) []adminhttp.GameStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]adminhttp.GameStatus, 0, len(c.descriptors))
	for id, d := range c.descriptors {
		out = append(out, adminhttp.GameStatus{GameID: id, Speed: string(d.Speed), Role: string(d.Role)})
	}
	return out
}
