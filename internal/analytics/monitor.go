// Package analytics accumulates throughput, latency, and error counters
// and derives the composite health score.
package analytics

import (
	"sync"
	"time"

	"github.com/agentmesh/relay/internal/models"
)

const (
	// maxLatencySamples bounds the per-type latency sample window.
	maxLatencySamples = 1000
	// timestampWindow bounds how far back throughput timestamps are kept.
	timestampWindow = time.Hour
)

// Monitor counts processed messages and errors. Counters reset only at
// process restart. HealthScore is deterministic given current counters.
type Monitor struct {
	mu         sync.Mutex
	counts     map[models.MessageType]int64
	latencies  map[models.MessageType][]float64
	errors     map[string]int64 // "type:reason"
	errorsByType map[models.MessageType]int64
	timestamps []time.Time
	byProject  map[string]int64
	bySender   map[string]int64

	now func() time.Time
}

// NewMonitor creates a monitor with zeroed counters.
func NewMonitor() *Monitor {
	return &Monitor{
		counts:       make(map[models.MessageType]int64),
		latencies:    make(map[models.MessageType][]float64),
		errors:       make(map[string]int64),
		errorsByType: make(map[models.MessageType]int64),
		byProject:    make(map[string]int64),
		bySender:     make(map[string]int64),
		now:          time.Now,
	}
}

// Record accounts for one processed message and its processing time in
// seconds. The project tally uses the message's first target session.
func (m *Monitor) Record(msg *models.Message, processingSeconds float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.counts[msg.Type]++

	samples := append(m.latencies[msg.Type], processingSeconds)
	if len(samples) > maxLatencySamples {
		samples = samples[len(samples)-maxLatencySamples:]
	}
	m.latencies[msg.Type] = samples

	m.timestamps = append(m.timestamps, now)
	m.pruneTimestampsLocked(now)

	if len(msg.TargetIDs) > 0 {
		m.byProject[msg.TargetIDs[0]]++
	}
	m.bySender[msg.Sender]++
}

// RecordError increments the error counter keyed by type and reason.
func (m *Monitor) RecordError(msgType models.MessageType, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.errors[string(msgType)+":"+reason]++
	m.errorsByType[msgType]++
}

// Throughput returns messages per minute over the given window.
func (m *Monitor) Throughput(windowMinutes int) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	if windowMinutes <= 0 {
		windowMinutes = 1
	}
	now := m.now()
	cutoff := now.Add(-time.Duration(windowMinutes) * time.Minute)
	count := 0
	for _, ts := range m.timestamps {
		if ts.After(cutoff) {
			count++
		}
	}
	return float64(count) / float64(windowMinutes)
}

// ErrorRate returns errors(type)/count(type), or 0 when nothing of that
// type has been processed.
func (m *Monitor) ErrorRate(msgType models.MessageType) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.errorRateLocked(msgType)
}

func (m *Monitor) errorRateLocked(msgType models.MessageType) float64 {
	count := m.counts[msgType]
	if count == 0 {
		return 0
	}
	return float64(m.errorsByType[msgType]) / float64(count)
}

// AverageLatency returns the mean of the retained latency samples for a
// type, in seconds.
func (m *Monitor) AverageLatency(msgType models.MessageType) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	samples := m.latencies[msgType]
	if len(samples) == 0 {
		return 0
	}
	sum := 0.0
	for _, s := range samples {
		sum += s
	}
	return sum / float64(len(samples))
}

// HealthScore computes the bounded composite score: up to 50 points
// scaled from 5-minute throughput (10 msg/min saturates it), up to 30
// points reduced by the average error rate across types, plus a flat 20
// point baseline.
func (m *Monitor) HealthScore() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	cutoff := now.Add(-5 * time.Minute)
	recent := 0
	for _, ts := range m.timestamps {
		if ts.After(cutoff) {
			recent++
		}
	}
	throughput := float64(recent) / 5.0

	throughputScore := throughput * 5
	if throughputScore > 50 {
		throughputScore = 50
	}

	avgErrorRate := 0.0
	if len(m.counts) > 0 {
		for msgType := range m.counts {
			avgErrorRate += m.errorRateLocked(msgType)
		}
		avgErrorRate /= float64(len(m.counts))
	}
	errorScore := 30 * (1 - avgErrorRate)
	if errorScore < 0 {
		errorScore = 0
	}

	score := throughputScore + errorScore + 20
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score
}

// Snapshot is a point-in-time view used by the status endpoint.
type Snapshot struct {
	Counts      map[string]int64 `json:"counts"`
	Errors      map[string]int64 `json:"errors"`
	ByProject   map[string]int64 `json:"by_project"`
	BySender    map[string]int64 `json:"by_sender"`
	HealthScore float64          `json:"health_score"`
	Throughput  float64          `json:"throughput_per_minute"`
}

// Stats returns a copy of the counters plus derived values.
func (m *Monitor) Stats() Snapshot {
	score := m.HealthScore()
	throughput := m.Throughput(5)

	m.mu.Lock()
	defer m.mu.Unlock()

	snap := Snapshot{
		Counts:      make(map[string]int64, len(m.counts)),
		Errors:      make(map[string]int64, len(m.errors)),
		ByProject:   make(map[string]int64, len(m.byProject)),
		BySender:    make(map[string]int64, len(m.bySender)),
		HealthScore: score,
		Throughput:  throughput,
	}
	for k, v := range m.counts {
		snap.Counts[string(k)] = v
	}
	for k, v := range m.errors {
		snap.Errors[k] = v
	}
	for k, v := range m.byProject {
		snap.ByProject[k] = v
	}
	for k, v := range m.bySender {
		snap.BySender[k] = v
	}
	return snap
}

func (m *Monitor) pruneTimestampsLocked(now time.Time) {
	cutoff := now.Add(-timestampWindow)
	idx := 0
	for idx < len(m.timestamps) && m.timestamps[idx].Before(cutoff) {
		idx++
	}
	if idx > 0 {
		m.timestamps = append([]time.Time(nil), m.timestamps[idx:]...)
	}
}
