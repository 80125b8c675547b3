package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// memoryItem tracks one enqueued job alongside its visibility window.
type memoryItem struct {
	item      Item
	visibleAt time.Time
}

// MemoryQueue is an in-process Queue, used by tests and by single-process
// deployments that run `serve` with an embedded worker pool rather than a
// standalone Redis broker.
type MemoryQueue struct {
	mu      sync.Mutex
	items   map[string]*memoryItem
	byJobID map[string]string // jobID -> itemID, for Enqueue idempotency
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		items:   make(map[string]*memoryItem),
		byJobID: make(map[string]string),
	}
}

var _ Queue = (*MemoryQueue)(nil)

func (q *MemoryQueue) Enqueue(ctx context.Context, jobID string, visibleAt time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if id, ok := q.byJobID[jobID]; ok {
		if existing, ok := q.items[id]; ok {
			existing.visibleAt = visibleAt
			return nil
		}
	}

	id := uuid.NewString()
	q.items[id] = &memoryItem{item: Item{ID: id, JobID: jobID}, visibleAt: visibleAt}
	q.byJobID[jobID] = id
	return nil
}

func (q *MemoryQueue) Dequeue(ctx context.Context, visibility time.Duration) (*Item, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	var best *memoryItem
	for _, it := range q.items {
		if it.visibleAt.After(now) {
			continue
		}
		if best == nil || it.visibleAt.Before(best.visibleAt) {
			best = it
		}
	}
	if best == nil {
		return nil, ErrEmpty
	}

	best.item.Attempts++
	best.visibleAt = now.Add(visibility)
	out := best.item
	return &out, nil
}

func (q *MemoryQueue) Ack(ctx context.Context, itemID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if it, ok := q.items[itemID]; ok {
		delete(q.byJobID, it.item.JobID)
	}
	delete(q.items, itemID)
	return nil
}

func (q *MemoryQueue) Nack(ctx context.Context, itemID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if it, ok := q.items[itemID]; ok {
		it.visibleAt = time.Now()
	}
	return nil
}

func (q *MemoryQueue) Depth(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items), nil
}
