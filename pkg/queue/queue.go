// Package queue is the Worker Loop's dequeue source: an at-least-once
// work queue with visibility timeouts, backed in production by Redis
// and in tests by an in-process fake. The interface stays narrow to
// what the runtime needs rather than exposing a message-queue client
// library's full surface directly.
package queue

import (
	"context"
	"errors"
	"time"
)

// ErrEmpty is returned by Dequeue when no item is currently visible.
var ErrEmpty = errors.New("queue: empty")

// Item is one unit of work: a job id to tick, plus delivery bookkeeping
// the queue provider needs to ack/nack it.
type Item struct {
	ID       string
	JobID    string
	Attempts int
}

// Queue is the work-queue contract consumed by pkg/worker. Enqueue is
// idempotent per jobID within the provider's dedupe window where the
// backend supports it (Redis does, via a per-job member key); the
// in-memory fake enforces it unconditionally.
type Queue interface {
	// Enqueue makes jobID visible for dequeue at visibleAt (time.Now()
	// for immediate pickup, or later to implement re-enqueue backoff).
	Enqueue(ctx context.Context, jobID string, visibleAt time.Time) error

	// Dequeue claims the oldest visible item, hiding it from other
	// workers until visibility expires, and returns ErrEmpty if none is
	// visible right now.
	Dequeue(ctx context.Context, visibility time.Duration) (*Item, error)

	// Ack removes the item permanently (the job reached a terminal
	// state or was re-enqueued explicitly by the caller).
	Ack(ctx context.Context, itemID string) error

	// Nack releases the item back to visible immediately, for a worker
	// that picked up an item it cannot currently process.
	Nack(ctx context.Context, itemID string) error

	// Depth reports the current count of items not yet acked, for the
	// queue-depth gauge the Worker Loop samples each tick.
	Depth(ctx context.Context) (int, error)
}
