package services

import (
	"context"
	"sync/atomic"
	"time"

	"gestionale/internal/domain/realtime"
	"gestionale/internal/shared/goroutine"
	"gestionale/internal/shared/logger"
)

// BufferStats reports counters accumulated since startup.
type BufferStats struct {
	Enqueued       uint64 `json:"enqueued"`
	Drained        uint64 `json:"drained"`
	DroppedOldest  uint64 `json:"droppedOldest"`
	DroppedExpired uint64 `json:"droppedExpired"`
}

// NotificationBuffer persists undeliverable events per recipient, bounded
// by a per-user capacity. When full it evicts the oldest entries first. A
// background sweeper removes entries older than the retention window.
type NotificationBuffer struct {
	repo      realtime.BufferRepository
	capacity  int
	retention time.Duration
	sweepTick time.Duration
	logger    logger.Interface

	enqueued       atomic.Uint64
	drained        atomic.Uint64
	droppedOldest  atomic.Uint64
	droppedExpired atomic.Uint64

	stopCh  chan struct{}
	stopped atomic.Bool
}

func NewNotificationBuffer(
	repo realtime.BufferRepository,
	capacity int,
	retention time.Duration,
	sweepTick time.Duration,
	log logger.Interface,
) *NotificationBuffer {
	return &NotificationBuffer{
		repo:      repo,
		capacity:  capacity,
		retention: retention,
		sweepTick: sweepTick,
		logger:    log,
		stopCh:    make(chan struct{}),
	}
}

// Start launches the retention sweeper.
func (b *NotificationBuffer) Start() {
	goroutine.SafeGo(b.logger, "notification-buffer-sweeper", func() {
		ticker := time.NewTicker(b.sweepTick)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				b.sweep(context.Background())
			case <-b.stopCh:
				return
			}
		}
	})
}

// Stop terminates the sweeper. Safe to call more than once.
func (b *NotificationBuffer) Stop() {
	if b.stopped.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
}

// Enqueue stores an event for an offline or unreachable recipient. If the
// recipient's buffer is at capacity the oldest entries are evicted to make
// room, so the newest notifications always survive.
func (b *NotificationBuffer) Enqueue(ctx context.Context, userID string, envelope *realtime.EventEnvelope) error {
	count, err := b.repo.CountForUser(ctx, userID)
	if err != nil {
		return err
	}

	if count >= b.capacity {
		evict := count - b.capacity + 1
		dropped, err := b.repo.DeleteOldest(ctx, userID, evict)
		if err != nil {
			return err
		}
		b.droppedOldest.Add(uint64(dropped))
		b.logger.Warnw("notification buffer full, evicted oldest",
			"user_id", userID,
			"evicted", dropped,
			"capacity", b.capacity,
			"event_id", envelope.EventID,
		)
	}

	item, err := realtime.NewBufferedNotification(userID, envelope)
	if err != nil {
		return err
	}
	if err := b.repo.Append(ctx, item); err != nil {
		return err
	}
	b.enqueued.Add(1)
	return nil
}

// Drain returns the recipient's pending notifications in the order they
// were buffered. Entries stay in the store until acknowledged.
func (b *NotificationBuffer) Drain(ctx context.Context, userID string) ([]*realtime.BufferedNotification, error) {
	return b.DrainAfter(ctx, userID, "")
}

// DrainAfter returns pending notifications buffered after the watermark
// event. An empty or unknown watermark returns everything pending.
func (b *NotificationBuffer) DrainAfter(ctx context.Context, userID, afterEventID string) ([]*realtime.BufferedNotification, error) {
	items, err := b.repo.ListPending(ctx, userID, afterEventID)
	if err != nil {
		return nil, err
	}
	b.drained.Add(uint64(len(items)))
	return items, nil
}

// Ack deletes delivered notifications from the store.
func (b *NotificationBuffer) Ack(ctx context.Context, bufferIDs []string) error {
	if len(bufferIDs) == 0 {
		return nil
	}
	return b.repo.DeleteByIDs(ctx, bufferIDs)
}

// PendingCount returns the number of buffered notifications for a user.
func (b *NotificationBuffer) PendingCount(ctx context.Context, userID string) (int, error) {
	return b.repo.CountForUser(ctx, userID)
}

// Stats returns the counters accumulated since startup.
func (b *NotificationBuffer) Stats() BufferStats {
	return BufferStats{
		Enqueued:       b.enqueued.Load(),
		Drained:        b.drained.Load(),
		DroppedOldest:  b.droppedOldest.Load(),
		DroppedExpired: b.droppedExpired.Load(),
	}
}

func (b *NotificationBuffer) sweep(ctx context.Context) {
	cutoff := time.Now().Add(-b.retention)
	removed, err := b.repo.DeleteExpired(ctx, cutoff)
	if err != nil {
		b.logger.Errorw("notification buffer sweep failed", "error", err)
		return
	}
	if removed > 0 {
		b.droppedExpired.Add(uint64(removed))
		b.logger.Infow("expired notifications removed",
			"removed", removed,
			"cutoff", cutoff,
		)
	}
}
