package session

import (
	"context"
	"log/slog"

	"github.com/tripwire/gtpbridge/internal/admission"
	"github.com/tripwire/gtpbridge/internal/enginepool"
	"github.com/tripwire/gtpbridge/internal/gtp"
	"github.com/tripwire/gtpbridge/internal/translog"
)

// Descriptor tracks one live game's engine adapter and bookkeeping. It has
// no back-pointer to the Controller: the Controller owns the descriptors map
// and closes descriptors itself. An adapter's death is not reported to the
// Controller.
type Descriptor struct {
	GameID string
	Speed  admission.Speed
	Role   enginepool.Role

	pool    *enginepool.Pool
	adapter Acquired
}

// Acquired mirrors enginepool.Acquired to avoid a direct dependency leak
// into callers that only need the adapter.
type Acquired = enginepool.Acquired

// newDescriptor acquires an adapter from pool for gameID. ok is false when
// the pool has no free instance. When log is non-nil, every command/response
// pair that transits the acquired adapter for the lifetime of this
// descriptor is appended to it under gameID, per the EPA transcript
// requirement.
func newDescriptor(pool *enginepool.Pool, role enginepool.Role, gameID string, speed admission.Speed, log *translog.Log) (*Descriptor, bool) {
	a, ok := pool.Acquire()
	if !ok {
		return nil, false
	}
	if log != nil {
		engineID := a.Adapter.Name()
		a.Adapter.SetObserver(func(command, response string, err error) {
			if err != nil && response == "" {
				response = err.Error()
			}
			_ = log.AppendGTP(context.Background(), gameID, engineID, command, response)
		})
	}
	return &Descriptor{GameID: gameID, Speed: speed, Role: role, pool: pool, adapter: a}, true
}

// Adapter returns the live GTP adapter for this game.
func (d *Descriptor) Adapter() *gtp.Adapter { return d.adapter.Adapter }

// Caps returns the engine's discovered capability profile.
func (d *Descriptor) Caps() gtp.Capabilities { return d.adapter.Caps }

// Close releases the adapter back to its pool.
func (d *Descriptor) Close(ctx context.Context, logger *slog.Logger) {
	d.adapter.Adapter.SetObserver(nil)
	d.pool.Release(ctx, d.adapter.Adapter)
}
