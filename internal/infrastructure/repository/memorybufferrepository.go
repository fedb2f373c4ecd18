package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"gestionale/internal/domain/realtime"
)

// MemoryBufferRepository keeps buffered notifications in process memory.
// Used by tests and as the degraded-mode fallback when the durable store is
// unreachable at startup.
type MemoryBufferRepository struct {
	mu    sync.Mutex
	items []*realtime.BufferedNotification
	seq   uint64
	order map[string]uint64 // bufferID -> insertion sequence
}

func NewMemoryBufferRepository() *MemoryBufferRepository {
	return &MemoryBufferRepository{
		order: make(map[string]uint64),
	}
}

func (r *MemoryBufferRepository) Append(ctx context.Context, item *realtime.BufferedNotification) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	clone := *item
	r.seq++
	r.order[clone.BufferID] = r.seq
	r.items = append(r.items, &clone)
	return nil
}

func (r *MemoryBufferRepository) pendingLocked(userID string) []*realtime.BufferedNotification {
	pending := make([]*realtime.BufferedNotification, 0)
	for _, item := range r.items {
		if item.TargetUserID == userID {
			pending = append(pending, item)
		}
	}
	sort.SliceStable(pending, func(i, j int) bool {
		if pending[i].BufferedAt.Equal(pending[j].BufferedAt) {
			return r.order[pending[i].BufferID] < r.order[pending[j].BufferID]
		}
		return pending[i].BufferedAt.Before(pending[j].BufferedAt)
	})
	return pending
}

func (r *MemoryBufferRepository) ListPending(ctx context.Context, userID string, afterEventID string) ([]*realtime.BufferedNotification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pending := r.pendingLocked(userID)
	if afterEventID == "" {
		return pending, nil
	}

	for i, item := range pending {
		if item.Envelope != nil && item.Envelope.EventID == afterEventID {
			return pending[i+1:], nil
		}
	}
	// Unknown watermark: everything pending is newer.
	return pending, nil
}

func (r *MemoryBufferRepository) DeleteByIDs(ctx context.Context, bufferIDs []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	drop := make(map[string]bool, len(bufferIDs))
	for _, id := range bufferIDs {
		drop[id] = true
	}

	kept := r.items[:0]
	for _, item := range r.items {
		if !drop[item.BufferID] {
			kept = append(kept, item)
		} else {
			delete(r.order, item.BufferID)
		}
	}
	r.items = kept
	return nil
}

func (r *MemoryBufferRepository) DeleteOldest(ctx context.Context, userID string, n int) (int, error) {
	r.mu.Lock()
	pending := r.pendingLocked(userID)
	r.mu.Unlock()

	if n > len(pending) {
		n = len(pending)
	}
	if n <= 0 {
		return 0, nil
	}

	ids := make([]string, 0, n)
	for _, item := range pending[:n] {
		ids = append(ids, item.BufferID)
	}
	if err := r.DeleteByIDs(ctx, ids); err != nil {
		return 0, err
	}
	return n, nil
}

func (r *MemoryBufferRepository) DeleteExpired(ctx context.Context, cutoff time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	kept := r.items[:0]
	for _, item := range r.items {
		if item.BufferedAt.Before(cutoff) {
			removed++
			delete(r.order, item.BufferID)
		} else {
			kept = append(kept, item)
		}
	}
	r.items = kept
	return removed, nil
}

func (r *MemoryBufferRepository) CountForUser(ctx context.Context, userID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0
	for _, item := range r.items {
		if item.TargetUserID == userID {
			count++
		}
	}
	return count, nil
}

func (r *MemoryBufferRepository) CountPending(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items), nil
}
