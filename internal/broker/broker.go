// Package broker manages pairwise project links and relays knowledge
// payloads between linked projects through the router.
package broker

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/agentmesh/relay/internal/metrics"
	"github.com/agentmesh/relay/internal/models"
	"github.com/agentmesh/relay/internal/router"
)

// maxHistory bounds the share history record.
const maxHistory = 1000

// ShareRecord is one bounded history entry for a completed share.
type ShareRecord struct {
	ID            string    `json:"id"`
	Source        string    `json:"source"`
	Target        string    `json:"target"`
	KnowledgeType string    `json:"knowledge_type"`
	Timestamp     time.Time `json:"timestamp"`
}

// Broker holds the symmetric project adjacency set. Knowledge flows to a
// project's coordinator session, which shares the project's id.
type Broker struct {
	router  *router.Router
	logger  zerolog.Logger
	enabled bool

	mu      sync.Mutex
	links   map[string]map[string]bool
	history []ShareRecord
}

// New creates a broker. enabled=false rejects every share globally.
func New(r *router.Router, logger zerolog.Logger, enabled bool) *Broker {
	return &Broker{
		router:  r,
		logger:  logger,
		enabled: enabled,
		links:   make(map[string]map[string]bool),
	}
}

// Link creates the symmetric relation between two projects.
func (b *Broker) Link(projectA, projectB string) {
	if projectA == projectB {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.links[projectA] == nil {
		b.links[projectA] = make(map[string]bool)
	}
	if b.links[projectB] == nil {
		b.links[projectB] = make(map[string]bool)
	}
	b.links[projectA][projectB] = true
	b.links[projectB][projectA] = true
}

// Unlink removes the relation in both directions. No-op if absent.
func (b *Broker) Unlink(projectA, projectB string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.links[projectA], projectB)
	delete(b.links[projectB], projectA)
}

// Linked reports whether the two projects share a link.
func (b *Broker) Linked(projectA, projectB string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.links[projectA][projectB]
}

// Share relays a knowledge payload from source to target. Returns false,
// with a warning log, when the projects are not linked or sharing is
// globally disabled. Otherwise the payload is routed as a knowledge
// message to the target project's session and a history record appended.
func (b *Broker) Share(ctx context.Context, source, target, knowledgeType string, payload []byte) bool {
	if !b.enabled {
		b.logger.Warn().Str("source", source).Str("target", target).Msg("knowledge sharing globally disabled")
		metrics.KnowledgeShares.WithLabelValues("rejected").Inc()
		return false
	}
	if !b.Linked(source, target) {
		b.logger.Warn().Str("source", source).Str("target", target).Msg("projects not linked, share rejected")
		metrics.KnowledgeShares.WithLabelValues("rejected").Inc()
		return false
	}

	msg := models.NewMessage(source, models.SenderCoordinator, models.TypeKnowledgeShare, models.PriorityNormal, payload, []string{target})
	if _, err := b.router.Submit(ctx, msg); err != nil {
		// The share itself succeeded; the target project just has no
		// active session right now.
		b.logger.Warn().Err(err).Str("target", target).Msg("knowledge message not deliverable")
	}

	b.mu.Lock()
	b.history = append(b.history, ShareRecord{
		ID:            uuid.NewString(),
		Source:        source,
		Target:        target,
		KnowledgeType: knowledgeType,
		Timestamp:     time.Now(),
	})
	if len(b.history) > maxHistory {
		b.history = b.history[len(b.history)-maxHistory:]
	}
	b.mu.Unlock()

	metrics.KnowledgeShares.WithLabelValues("shared").Inc()
	return true
}

// History returns share records, filtered to one project when projectID
// is non-empty (matching either side of the share).
func (b *Broker) History(projectID string) []ShareRecord {
	b.mu.Lock()
	defer b.mu.Unlock()

	if projectID == "" {
		return append([]ShareRecord(nil), b.history...)
	}
	var out []ShareRecord
	for _, rec := range b.history {
		if rec.Source == projectID || rec.Target == projectID {
			out = append(out, rec)
		}
	}
	return out
}
