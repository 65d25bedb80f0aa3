package session

import (
	"sync"
	"time"
)

// PendingInput is one raw input string waiting for an open stream.
type PendingInput struct {
	Data     string
	QueuedAt time.Time
}

// InputQueue holds input sent while the stream is not open. Items leave only
// in FIFO order through Drain, or all at once through Clear.
type InputQueue struct {
	mu    sync.Mutex
	items []PendingInput
}

func NewInputQueue() *InputQueue {
	return &InputQueue{}
}

func (q *InputQueue) Push(data string, at time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, PendingInput{Data: data, QueuedAt: at})
}

// Requeue puts undelivered items back at the head, ahead of anything queued
// since they were drained.
func (q *InputQueue) Requeue(items []PendingInput) {
	if len(items) == 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]PendingInput, 0, len(items)+len(q.items))
	out = append(out, items...)
	out = append(out, q.items...)
	q.items = out
}

// Drain removes and returns every queued item in enqueue order.
func (q *InputQueue) Drain() []PendingInput {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = nil
	return out
}

func (q *InputQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *InputQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = nil
}

func (q *InputQueue) List() []PendingInput {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]PendingInput, len(q.items))
	copy(out, q.items)
	return out
}
