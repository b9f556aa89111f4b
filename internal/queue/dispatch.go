package queue

import (
	"sync"

	"github.com/agentmesh/relay/internal/models"
)

// Dispatch is a blocking multi-level priority queue. One FIFO bucket per
// priority level, guarded by a single mutex and condition variable.
//
// Dequeue always returns the oldest message from the highest non-empty
// bucket. No fairness beyond that is guaranteed: sustained CRITICAL
// traffic will starve lower levels, which is an accepted trade-off.
type Dispatch struct {
	mu      sync.Mutex
	notEmpty *sync.Cond
	buckets [models.PriorityLevels][]*models.Message
	closed  bool
}

// NewDispatch creates an empty dispatch queue.
func NewDispatch() *Dispatch {
	d := &Dispatch{}
	d.notEmpty = sync.NewCond(&d.mu)
	return d
}

// Enqueue appends the message to the bucket for its priority and wakes
// any waiting consumer.
func (d *Dispatch) Enqueue(msg *models.Message) error {
	if msg == nil || !msg.Priority.Valid() || len(msg.TargetIDs) == 0 {
		return ErrInvalidMessage
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrClosed
	}

	idx := int(msg.Priority) - 1
	d.buckets[idx] = append(d.buckets[idx], msg)
	d.notEmpty.Signal()
	return nil
}

// Dequeue blocks until a message is available or the queue is closed.
// The highest non-empty priority bucket wins; within a bucket order is
// strict FIFO.
func (d *Dispatch) Dequeue() (*models.Message, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for {
		if d.closed {
			return nil, ErrClosed
		}
		for idx := models.PriorityLevels - 1; idx >= 0; idx-- {
			if len(d.buckets[idx]) > 0 {
				msg := d.buckets[idx][0]
				d.buckets[idx] = d.buckets[idx][1:]
				return msg, nil
			}
		}
		d.notEmpty.Wait()
	}
}

// Sizes returns a snapshot of the per-level queue depths.
func (d *Dispatch) Sizes() map[models.Priority]int {
	d.mu.Lock()
	defer d.mu.Unlock()

	sizes := make(map[models.Priority]int, models.PriorityLevels)
	for idx := 0; idx < models.PriorityLevels; idx++ {
		sizes[models.Priority(idx+1)] = len(d.buckets[idx])
	}
	return sizes
}

// Len returns the total number of queued messages.
func (d *Dispatch) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	total := 0
	for idx := 0; idx < models.PriorityLevels; idx++ {
		total += len(d.buckets[idx])
	}
	return total
}

// Close stops the queue and wakes all blocked consumers. Queued messages
// remain in their buckets so a later process start can pick them up.
func (d *Dispatch) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return
	}
	d.closed = true
	d.notEmpty.Broadcast()
}
