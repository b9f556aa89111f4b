// Package queue implements the multi-level priority dispatch queue that
// feeds the single dispatcher loop.
package queue

import "errors"

// ErrClosed is returned by Enqueue and Dequeue after Close. Messages still
// queued at close time stay in their buckets; they are not lost.
var ErrClosed = errors.New("dispatch queue closed")

// ErrInvalidMessage is returned for messages that cannot be enqueued
// (missing targets or an out-of-range priority).
var ErrInvalidMessage = errors.New("message missing targets or priority")
