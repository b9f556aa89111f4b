// Package transport maintains live connection handles and pushes routed
// messages to connected endpoints, degrading to the reliable delivery
// store when a target is offline.
package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/agentmesh/relay/internal/delivery"
	"github.com/agentmesh/relay/internal/models"
)

// Handle is one live, addressable endpoint. Implementations must be safe
// for concurrent Send calls.
type Handle interface {
	Send(msg *models.WireMessage) error
	Close() error
}

type connection struct {
	kind        string
	handle      Handle
	connectedAt time.Time
}

// Transport maps logical identities to live handles. Register and
// Unregister are atomic with respect to concurrent Send.
type Transport struct {
	store  delivery.Store
	logger zerolog.Logger

	mu    sync.RWMutex
	conns map[string]*connection
}

// New creates a transport that falls back to the given delivery store.
func New(store delivery.Store, logger zerolog.Logger) *Transport {
	return &Transport{
		store:  store,
		logger: logger,
		conns:  make(map[string]*connection),
	}
}

// Register stores the handle for an identity. Idempotent per id:
// re-registration replaces the prior handle and logs a reconnect. After
// registering, any offline backlog for the id is drained to the handle.
func (t *Transport) Register(ctx context.Context, id, kind string, handle Handle) {
	t.mu.Lock()
	prior, reconnect := t.conns[id]
	t.conns[id] = &connection{kind: kind, handle: handle, connectedAt: time.Now()}
	t.mu.Unlock()

	if reconnect {
		prior.handle.Close()
		t.logger.Info().Str("id", id).Str("kind", kind).Msg("endpoint reconnected")
	} else {
		t.logger.Debug().Str("id", id).Str("kind", kind).Msg("endpoint connected")
	}

	if n, err := t.Drain(ctx, id); err != nil {
		t.logger.Warn().Err(err).Str("id", id).Msg("offline drain failed")
	} else if n > 0 {
		t.logger.Info().Str("id", id).Int("delivered", n).Msg("offline backlog drained")
	}
}

// Unregister removes the handle. In-flight sends to a just-removed id
// fail over to offline storage rather than erroring.
func (t *Transport) Unregister(id string) {
	t.mu.Lock()
	conn, exists := t.conns[id]
	delete(t.conns, id)
	t.mu.Unlock()

	if exists {
		conn.handle.Close()
		t.logger.Debug().Str("id", id).Msg("endpoint disconnected")
	}
}

// UnregisterHandle removes the id's registration only if it still maps
// to the given handle. A stale connection's teardown must not tear down
// the replacement that re-registered under the same id.
func (t *Transport) UnregisterHandle(id string, handle Handle) {
	t.mu.Lock()
	conn, exists := t.conns[id]
	if exists && conn.handle != handle {
		t.mu.Unlock()
		handle.Close()
		return
	}
	delete(t.conns, id)
	t.mu.Unlock()

	if exists {
		conn.handle.Close()
		t.logger.Debug().Str("id", id).Msg("endpoint disconnected")
	}
}

// Connected reports whether the identity has a live handle.
func (t *Transport) Connected(id string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.conns[id]
	return ok
}

// ConnectedIDs returns a snapshot of connected identities.
func (t *Transport) ConnectedIDs() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.conns))
	for id := range t.conns {
		out = append(out, id)
	}
	return out
}

// Send pushes the message directly when the id is connected, otherwise
// delegates to the delivery store's offline queue. A failed push also
// falls back to offline storage so the message is not lost.
func (t *Transport) Send(ctx context.Context, id string, msg *models.Message) error {
	t.mu.RLock()
	conn, ok := t.conns[id]
	t.mu.RUnlock()

	if !ok {
		return t.store.EnqueueOffline(ctx, msg, id)
	}

	if err := conn.handle.Send(msg.ToWire()); err != nil {
		t.logger.Warn().Err(err).Str("id", id).Str("message_id", msg.ID).Msg("push failed, storing offline")
		if storeErr := t.store.EnqueueOffline(ctx, msg, id); storeErr != nil {
			return fmt.Errorf("push failed (%v) and offline store failed: %w", err, storeErr)
		}
		return nil
	}
	return nil
}

// Broadcast pushes to every connected handle, collecting per-handle
// failures without stopping the rest. Returns the number of successful
// sends and the failures.
func (t *Transport) Broadcast(ctx context.Context, msg *models.Message) (int, []string) {
	t.mu.RLock()
	targets := make(map[string]*connection, len(t.conns))
	for id, conn := range t.conns {
		targets[id] = conn
	}
	t.mu.RUnlock()

	wire := msg.ToWire()
	sent := 0
	var errs []string
	for id, conn := range targets {
		if err := conn.handle.Send(wire); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", id, err))
			continue
		}
		sent++
	}
	return sent, errs
}

// Drain delivers the offline backlog for an identity through its live
// handle, removing each message from offline storage once pushed.
// Returns how many messages were delivered.
func (t *Transport) Drain(ctx context.Context, id string) (int, error) {
	t.mu.RLock()
	conn, ok := t.conns[id]
	t.mu.RUnlock()
	if !ok {
		return 0, nil
	}

	backlog, err := t.store.GetOffline(ctx, id)
	if err != nil {
		return 0, err
	}

	delivered := 0
	for _, msg := range backlog {
		if err := conn.handle.Send(msg.ToWire()); err != nil {
			// Leave the rest in offline storage for the next reconnect.
			return delivered, err
		}
		if err := t.store.RemoveOffline(ctx, msg.ID); err != nil {
			return delivered, err
		}
		delivered++
	}
	return delivered, nil
}
