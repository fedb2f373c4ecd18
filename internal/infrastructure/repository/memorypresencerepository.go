package repository

import (
	"context"
	"sync"

	"gestionale/internal/domain/realtime"
)

// MemoryPresenceRepository keeps presence records in process memory. Used by
// tests and as the degraded-mode fallback.
type MemoryPresenceRepository struct {
	mu      sync.RWMutex
	records map[string]realtime.PresenceRecord
}

func NewMemoryPresenceRepository() *MemoryPresenceRepository {
	return &MemoryPresenceRepository{
		records: make(map[string]realtime.PresenceRecord),
	}
}

func (r *MemoryPresenceRepository) Upsert(ctx context.Context, record realtime.PresenceRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[record.UserID] = record
	return nil
}

func (r *MemoryPresenceRepository) Get(ctx context.Context, userID string) (*realtime.PresenceRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	record, ok := r.records[userID]
	if !ok {
		return nil, nil
	}
	return &record, nil
}

func (r *MemoryPresenceRepository) ListAll(ctx context.Context) ([]realtime.PresenceRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	records := make([]realtime.PresenceRecord, 0, len(r.records))
	for _, record := range r.records {
		records = append(records, record)
	}
	return records, nil
}

func (r *MemoryPresenceRepository) ListOnline(ctx context.Context) ([]realtime.PresenceRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	online := make([]realtime.PresenceRecord, 0)
	for _, record := range r.records {
		if record.Online {
			online = append(online, record)
		}
	}
	return online, nil
}

func (r *MemoryPresenceRepository) MarkAllOffline(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for userID, record := range r.records {
		record.Online = false
		r.records[userID] = record
	}
	return nil
}
