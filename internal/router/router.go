// Package router is the central orchestrator: it resolves message
// targets, drives the priority dispatch queue with a single dispatcher
// loop, fans delivered messages out to the real-time transport and the
// reliable delivery store, and keeps per-session message history.
package router

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/agentmesh/relay/internal/analytics"
	"github.com/agentmesh/relay/internal/compress"
	"github.com/agentmesh/relay/internal/delivery"
	"github.com/agentmesh/relay/internal/metrics"
	"github.com/agentmesh/relay/internal/models"
	"github.com/agentmesh/relay/internal/queue"
	"github.com/agentmesh/relay/internal/registry"
	"github.com/agentmesh/relay/internal/transport"
)

// maxHistoryPerSession caps the in-memory history kept per session.
const maxHistoryPerSession = 1000

// Handler processes one message of a registered type. Multiple handlers
// may be registered per type; each failure is isolated.
type Handler func(ctx context.Context, msg *models.Message) error

// Filter runs before routing. Returning false drops the message (logged,
// never an error).
type Filter func(msg *models.Message) bool

// Result reports the partial-success outcome of routing one message.
type Result struct {
	Routed int      `json:"routed"`
	Errors []string `json:"errors,omitempty"`

	// sendFailures counts participants for whom both the live push and
	// the offline fallback failed; the dispatcher retries those.
	sendFailures int
}

// Router wires the session registry, dispatch queue, delivery store, and
// transport together. Construct with New and start the dispatcher with
// Start; the zero value is not usable.
type Router struct {
	registry  *registry.Registry
	dispatch  *queue.Dispatch
	store     delivery.Store
	transport *transport.Transport
	monitor   *analytics.Monitor
	codec     *compress.Codec
	logger    zerolog.Logger

	regMu    sync.RWMutex
	handlers map[models.MessageType][]Handler
	filters  map[models.MessageType][]Filter

	histMu  sync.RWMutex
	history map[string][]*models.Message

	done chan struct{}
}

// New creates a router over the given collaborators.
func New(reg *registry.Registry, dispatch *queue.Dispatch, store delivery.Store, tr *transport.Transport, monitor *analytics.Monitor, codec *compress.Codec, logger zerolog.Logger) *Router {
	return &Router{
		registry:  reg,
		dispatch:  dispatch,
		store:     store,
		transport: tr,
		monitor:   monitor,
		codec:     codec,
		logger:    logger,
		handlers:  make(map[models.MessageType][]Handler),
		filters:   make(map[models.MessageType][]Filter),
		history:   make(map[string][]*models.Message),
		done:      make(chan struct{}),
	}
}

// AddRoute registers a handler for a message type. Handlers run in
// registration order at delivery time.
func (r *Router) AddRoute(msgType models.MessageType, h Handler) {
	r.regMu.Lock()
	defer r.regMu.Unlock()
	r.handlers[msgType] = append(r.handlers[msgType], h)
}

// AddFilter registers a pre-routing filter for a message type.
func (r *Router) AddFilter(msgType models.MessageType, f Filter) {
	r.regMu.Lock()
	defer r.regMu.Unlock()
	r.filters[msgType] = append(r.filters[msgType], f)
}

// Submit resolves the message's targets against the registry, compresses
// large payloads, and places the message on the dispatch queue. Targets
// are resolved exactly once, here; they are never re-resolved later.
func (r *Router) Submit(ctx context.Context, msg *models.Message) (Result, error) {
	var result Result

	resolved, dropped := r.registry.ResolveTargets(msg.TargetIDs)
	for _, id := range dropped {
		r.logger.Warn().Str("session", id).Str("message_id", msg.ID).Msg("target dropped: unknown or inactive session")
		result.Errors = append(result.Errors, (&models.UnknownSessionError{ID: id}).Error())
	}
	if len(resolved) == 0 {
		metrics.MessagesDropped.WithLabelValues("no_targets").Inc()
		return result, fmt.Errorf("no valid targets for message %s", msg.ID)
	}
	msg.TargetIDs = resolved

	if r.codec.ShouldCompress(len(msg.Payload)) {
		compressed, err := r.codec.Compress(msg.Payload, compress.Gzip)
		if err == nil && len(compressed) < len(msg.Payload) {
			msg.OriginalSize = len(msg.Payload)
			msg.CompressedSize = len(compressed)
			msg.Payload = compressed
			msg.Compression = string(compress.Gzip)
		}
	}

	if err := r.dispatch.Enqueue(msg); err != nil {
		return result, err
	}
	result.Routed = len(resolved)
	return result, nil
}

// Route delivers a message to its already-resolved targets: appends it to
// each target session's history, bumps last-activity, runs registered
// type handlers, and pushes to each target's participants through the
// transport (falling back to offline storage for the disconnected).
// Failures local to one handler or one participant are collected into the
// result and never abort delivery to the rest.
func (r *Router) Route(ctx context.Context, msg *models.Message) Result {
	start := time.Now()
	var result Result

	if dropped := r.applyFilters(msg); dropped {
		r.logger.Info().Str("message_id", msg.ID).Str("type", string(msg.Type)).Msg("message dropped by filter")
		metrics.MessagesDropped.WithLabelValues("filtered").Inc()
		return result
	}

	if err := r.decompress(msg); err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("decompress: %v", err))
		r.monitor.RecordError(msg.Type, "decompress")
		return result
	}

	for _, sessionID := range msg.TargetIDs {
		session, ok := r.registry.Get(sessionID)
		if !ok {
			result.Errors = append(result.Errors, (&models.UnknownSessionError{ID: sessionID}).Error())
			continue
		}

		r.appendHistory(sessionID, msg)
		r.registry.Touch(sessionID)
		result.Routed++

		for _, participant := range session.Participants {
			if participant == msg.Sender {
				continue
			}
			if err := r.transport.Send(ctx, participant, msg); err != nil {
				metrics.TransportSends.WithLabelValues("failed").Inc()
				result.Errors = append(result.Errors, fmt.Sprintf("send to %s: %v", participant, err))
				result.sendFailures++
				continue
			}
			if r.transport.Connected(participant) {
				metrics.TransportSends.WithLabelValues("delivered").Inc()
			} else {
				metrics.TransportSends.WithLabelValues("offline").Inc()
				metrics.OfflineEnqueued.Inc()
			}
		}
	}

	r.runHandlers(ctx, msg, &result)

	elapsed := time.Since(start).Seconds()
	metrics.MessagesRouted.WithLabelValues(string(msg.Type)).Add(float64(result.Routed))
	metrics.DispatchDuration.Observe(elapsed)
	r.monitor.Record(msg, elapsed)

	return result
}

// Broadcast is Route with targets expanded to every active session.
func (r *Router) Broadcast(ctx context.Context, msg *models.Message) Result {
	resolved, _ := r.registry.ResolveTargets([]string{registry.TargetAll})
	msg.TargetIDs = resolved
	return r.Route(ctx, msg)
}

// Start launches the single dispatcher loop. It pops messages by
// priority, drops those past their TTL at the moment of delivery, and
// routes the rest. The loop exits when the dispatch queue is closed.
func (r *Router) Start(ctx context.Context) {
	go func() {
		defer close(r.done)
		for {
			msg, err := r.dispatch.Dequeue()
			if err != nil {
				return
			}

			if msg.Expired(time.Now()) {
				r.logger.Info().Str("message_id", msg.ID).Int("ttl", msg.TTLSeconds).Msg("message expired before delivery")
				metrics.MessagesDropped.WithLabelValues("ttl_expired").Inc()
				continue
			}

			result := r.Route(ctx, msg)
			for _, e := range result.Errors {
				r.logger.Warn().Str("message_id", msg.ID).Str("error", e).Msg("partial delivery failure")
			}

			if result.sendFailures > 0 {
				r.retryOrDeadLetter(ctx, msg)
			}
		}
	}()
}

// Stop closes the dispatch queue and waits for the in-flight message to
// finish. Messages still queued stay where they are.
func (r *Router) Stop(timeout time.Duration) error {
	r.dispatch.Close()
	select {
	case <-r.done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("dispatcher shutdown timeout after %v", timeout)
	}
}

// History returns up to limit messages for a session, newest first.
// An empty session id returns messages across all sessions.
func (r *Router) History(sessionID string, limit int) []*models.Message {
	r.histMu.RLock()
	defer r.histMu.RUnlock()

	if limit <= 0 {
		limit = 50
	}

	var source []*models.Message
	if sessionID != "" {
		source = r.history[sessionID]
	} else {
		for _, msgs := range r.history {
			source = append(source, msgs...)
		}
	}

	out := make([]*models.Message, 0, limit)
	for i := len(source) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, source[i])
	}
	return out
}

// SearchHistory does a case-insensitive substring match over stored
// payload text, newest first, capped at limit.
func (r *Router) SearchHistory(query, sessionID string, limit int) []*models.Message {
	r.histMu.RLock()
	defer r.histMu.RUnlock()

	if limit <= 0 {
		limit = 50
	}
	needle := strings.ToLower(query)

	var source []*models.Message
	if sessionID != "" {
		source = r.history[sessionID]
	} else {
		for _, msgs := range r.history {
			source = append(source, msgs...)
		}
	}

	out := make([]*models.Message, 0, limit)
	for i := len(source) - 1; i >= 0 && len(out) < limit; i-- {
		if strings.Contains(strings.ToLower(source[i].Body()), needle) {
			out = append(out, source[i])
		}
	}
	return out
}

func (r *Router) applyFilters(msg *models.Message) bool {
	r.regMu.RLock()
	filters := r.filters[msg.Type]
	r.regMu.RUnlock()

	for _, f := range filters {
		if !f(msg) {
			return true
		}
	}
	return false
}

func (r *Router) runHandlers(ctx context.Context, msg *models.Message, result *Result) {
	r.regMu.RLock()
	handlers := r.handlers[msg.Type]
	r.regMu.RUnlock()

	for _, h := range handlers {
		if err := h(ctx, msg); err != nil {
			handlerErr := &models.HandlerError{Type: msg.Type, Err: err}
			result.Errors = append(result.Errors, handlerErr.Error())
			metrics.HandlerErrors.WithLabelValues(string(msg.Type)).Inc()
			r.monitor.RecordError(msg.Type, "handler")
			r.logger.Warn().Err(err).Str("message_id", msg.ID).Str("type", string(msg.Type)).Msg("type handler failed")
		}
	}
}

func (r *Router) decompress(msg *models.Message) error {
	if msg.Compression == "" || msg.Compression == string(compress.None) {
		return nil
	}
	data, err := r.codec.Decompress(msg.Payload, compress.Algorithm(msg.Compression))
	if err != nil {
		return err
	}
	msg.Payload = data
	msg.Compression = string(compress.None)
	return nil
}

// retryOrDeadLetter records a redelivery failure. The message is put
// back on the dispatch queue until its retries are exhausted, then it
// moves to the dead-letter queue and is never retried automatically.
func (r *Router) retryOrDeadLetter(ctx context.Context, msg *models.Message) {
	dead, err := r.store.RecordFailure(ctx, msg)
	if err != nil {
		r.logger.Error().Err(err).Str("message_id", msg.ID).Msg("delivery store unavailable while recording failure")
	}
	if dead {
		metrics.DeadLettered.Inc()
		r.logger.Warn().Str("message_id", msg.ID).Int("retries", msg.RetryCount).Msg("message dead-lettered")
		return
	}
	if err := r.dispatch.Enqueue(msg); err != nil {
		r.logger.Warn().Err(err).Str("message_id", msg.ID).Msg("could not requeue message for retry")
	}
}

// appendHistory adds the message to a session's history exactly once;
// retried messages must not appear twice.
func (r *Router) appendHistory(sessionID string, msg *models.Message) {
	r.histMu.Lock()
	defer r.histMu.Unlock()

	msgs := r.history[sessionID]
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].ID == msg.ID {
			return
		}
	}
	msgs = append(msgs, msg)
	if len(msgs) > maxHistoryPerSession {
		msgs = msgs[len(msgs)-maxHistoryPerSession:]
	}
	r.history[sessionID] = msgs
}
