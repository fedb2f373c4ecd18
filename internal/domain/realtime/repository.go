package realtime

import (
	"context"
	"time"
)

// PresenceRepository persists presence records so last-seen survives a
// process restart. Records are created on first connection and never deleted.
type PresenceRepository interface {
	Upsert(ctx context.Context, record PresenceRecord) error
	Get(ctx context.Context, userID string) (*PresenceRecord, error)
	ListAll(ctx context.Context) ([]PresenceRecord, error)
	ListOnline(ctx context.Context) ([]PresenceRecord, error)
	// MarkAllOffline clears every online flag. Sessions are never durable,
	// so after a restart nobody is online until they reconnect.
	MarkAllOffline(ctx context.Context) error
}

// BufferRepository persists buffered notifications for offline identities.
type BufferRepository interface {
	Append(ctx context.Context, item *BufferedNotification) error
	// ListPending returns the pending items for a user in bufferedAt order.
	// afterEventID is optional: when non-empty, only items buffered after
	// the item carrying that event ID are returned (client watermark).
	ListPending(ctx context.Context, userID string, afterEventID string) ([]*BufferedNotification, error)
	DeleteByIDs(ctx context.Context, bufferIDs []string) error
	// DeleteOldest removes the n oldest pending items for a user and
	// returns how many were removed (drop-oldest eviction).
	DeleteOldest(ctx context.Context, userID string, n int) (int, error)
	// DeleteExpired removes items buffered before the cutoff, across all
	// users, and returns how many were removed.
	DeleteExpired(ctx context.Context, cutoff time.Time) (int, error)
	CountForUser(ctx context.Context, userID string) (int, error)
	CountPending(ctx context.Context) (int, error)
}
