// Package memory provides a queue implementation for local development and
// tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/dermosul/catalog-scraper/internal/scraper"
)

// Queue is a bounded in-memory job queue with context-aware operations and
// removal of still-queued jobs.
type Queue struct {
	mu      sync.Mutex
	items   []scraper.QueuePayload
	waiters chan struct{}
	cap     int
}

// NewQueue constructs a queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 64
	}
	return &Queue{
		waiters: make(chan struct{}, capacity),
		cap:     capacity,
	}
}

// Enqueue appends a payload or fails when the queue is full.
func (q *Queue) Enqueue(ctx context.Context, payload scraper.QueuePayload) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("enqueue canceled: %w", err)
	}
	q.mu.Lock()
	if len(q.items) >= q.cap {
		q.mu.Unlock()
		return fmt.Errorf("queue full (capacity %d)", q.cap)
	}
	q.items = append(q.items, payload)
	q.mu.Unlock()

	select {
	case q.waiters <- struct{}{}:
	default:
	}
	return nil
}

// Dequeue pops the oldest payload, blocking until one is available or the
// context ends.
func (q *Queue) Dequeue(ctx context.Context) (scraper.QueuePayload, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			payload := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			return payload, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return scraper.QueuePayload{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
		case <-q.waiters:
		}
	}
}

// Remove deletes a queued payload by job id. Returns true when the job was
// still waiting.
func (q *Queue) Remove(_ context.Context, jobID string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, payload := range q.items {
		if payload.JobID == jobID {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

// Size returns the number of queued payloads.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
