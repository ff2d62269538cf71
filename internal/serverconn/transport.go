// Package serverconn implements the session controller's two outbound
// links to the server: a persistent event socket (SocketTransport) and a
// REST client for challenge/friend-request actions.
package serverconn

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	defaultMaxBackoff = 60 * time.Second
	initialBackoff    = time.Second
	inboundChanCap    = 256
)

// Event is one decoded inbound socket message.
type Event struct {
	Type string          // "connect", "disconnect", "notification", "active_game"
	Raw  json.RawMessage
}

// SocketTransport is the session controller's view of the server socket.
// WSTransport is the production implementation; tests substitute a fake.
type SocketTransport interface {
	// Run connects and reconnects until ctx is cancelled, publishing
	// decoded events on the channel returned by Events.
	Run(ctx context.Context)
	// Send marshals v to JSON and writes it as one text frame.
	Send(ctx context.Context, v any) error
	// Events returns the channel inbound events are published on.
	Events() <-chan Event
	// Close terminates the connection and stops Run.
	Close() error
}

// WSTransport is a gorilla/websocket-backed SocketTransport with
// exponential backoff (±25% jitter) reconnection, adapted from the
// dashboard transport's gRPC reconnect loop.
type WSTransport struct {
	url    string
	logger *slog.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	events chan Event
	stopCh chan struct{}
	done   chan struct{}

	maxBackoff time.Duration
}

// NewWSTransport returns a WSTransport that will connect to serverURL once
// Run is called.
func NewWSTransport(serverURL string, logger *slog.Logger) (*WSTransport, error) {
	if _, err := url.Parse(serverURL); err != nil {
		return nil, fmt.Errorf("serverconn: invalid server url %q: %w", serverURL, err)
	}
	return &WSTransport{
		url:        serverURL,
		logger:     logger,
		events:     make(chan Event, inboundChanCap),
		stopCh:     make(chan struct{}),
		done:       make(chan struct{}),
		maxBackoff: defaultMaxBackoff,
	}, nil
}

// Events implements SocketTransport.
func (t *WSTransport) Events() <-chan Event { return t.events }

// Run implements SocketTransport: connects and reconnects with backoff
// until ctx is cancelled or Close is called.
func (t *WSTransport) Run(ctx context.Context) {
	defer close(t.done)

	backoff := initialBackoff
	first := true
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stopCh:
			return
		default:
		}

		if !first {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			case <-t.stopCh:
				return
			}
		}
		first = false

		if err := t.runOnce(ctx); err != nil {
			t.logger.Warn("serverconn: connection lost, reconnecting", "error", err, "backoff", backoff)
			backoff = nextBackoff(backoff, t.maxBackoff)
			continue
		}
		return
	}
}

func (t *WSTransport) runOnce(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, t.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()

	t.events <- Event{Type: "connect"}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.events <- Event{Type: "disconnect"}
			return fmt.Errorf("read: %w", err)
		}

		var envelope struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &envelope); err != nil {
			t.logger.Warn("serverconn: malformed inbound message", "error", err)
			continue
		}

		select {
		case t.events <- Event{Type: envelope.Type, Raw: data}:
		case <-ctx.Done():
			return nil
		}
	}
}

// Send implements SocketTransport.
func (t *WSTransport) Send(ctx context.Context, v any) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("serverconn: not connected")
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("serverconn: marshal: %w", err)
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

// Close implements SocketTransport.
func (t *WSTransport) Close() error {
	close(t.stopCh)
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
	<-t.done
	return nil
}

// nextBackoff doubles current with ±25% jitter, capped at maxBackoff.
func nextBackoff(current, maxBackoff time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		next = maxBackoff
	}
	jitterFactor := 0.75 + rand.Float64()*0.5
	next = time.Duration(float64(next) * jitterFactor)
	if next < initialBackoff {
		next = initialBackoff
	}
	if next > maxBackoff {
		next = maxBackoff
	}
	return next
}
