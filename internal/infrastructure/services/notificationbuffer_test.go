package services

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gestionale/internal/domain/realtime"
	"gestionale/internal/infrastructure/repository"
	"gestionale/internal/shared/logger"
)

func newTestBuffer(t *testing.T, capacity int) (*NotificationBuffer, *repository.MemoryBufferRepository) {
	t.Helper()
	repo := repository.NewMemoryBufferRepository()
	buffer := NewNotificationBuffer(repo, capacity, 24*time.Hour, time.Minute, logger.NewLogger())
	return buffer, repo
}

func testEnvelope(t *testing.T, seq int, audience realtime.Audience) *realtime.EventEnvelope {
	t.Helper()
	payload := json.RawMessage(fmt.Sprintf(`{"seq":%d}`, seq))
	envelope, err := realtime.NewEnvelope(realtime.EventNuovoOrdine, audience, payload)
	require.NoError(t, err)
	return envelope
}

func TestBufferDrainPreservesOrder(t *testing.T) {
	buffer, _ := newTestBuffer(t, 100)
	ctx := context.Background()
	audience := realtime.UserAudience("user-1")

	var eventIDs []string
	for i := 0; i < 10; i++ {
		envelope := testEnvelope(t, i, audience)
		eventIDs = append(eventIDs, envelope.EventID)
		require.NoError(t, buffer.Enqueue(ctx, "user-1", envelope))
	}

	items, err := buffer.Drain(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, items, 10)
	for i, item := range items {
		assert.Equal(t, eventIDs[i], item.Envelope.EventID, "drain order must match enqueue order")
	}
}

func TestBufferEvictsOldestAtCapacity(t *testing.T) {
	const capacity = 5
	buffer, _ := newTestBuffer(t, capacity)
	ctx := context.Background()
	audience := realtime.UserAudience("user-1")

	var eventIDs []string
	for i := 0; i < capacity+5; i++ {
		envelope := testEnvelope(t, i, audience)
		eventIDs = append(eventIDs, envelope.EventID)
		require.NoError(t, buffer.Enqueue(ctx, "user-1", envelope))
	}

	items, err := buffer.Drain(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, items, capacity, "buffer must hold exactly its capacity")

	// The five oldest were evicted; the newest five survive in order.
	for i, item := range items {
		assert.Equal(t, eventIDs[5+i], item.Envelope.EventID)
	}

	stats := buffer.Stats()
	assert.Equal(t, uint64(capacity+5), stats.Enqueued)
	assert.Equal(t, uint64(5), stats.DroppedOldest)
}

func TestBufferCapacityIsPerUser(t *testing.T) {
	buffer, _ := newTestBuffer(t, 2)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		require.NoError(t, buffer.Enqueue(ctx, "user-1", testEnvelope(t, i, realtime.UserAudience("user-1"))))
		require.NoError(t, buffer.Enqueue(ctx, "user-2", testEnvelope(t, i, realtime.UserAudience("user-2"))))
	}

	first, err := buffer.PendingCount(ctx, "user-1")
	require.NoError(t, err)
	second, err := buffer.PendingCount(ctx, "user-2")
	require.NoError(t, err)
	assert.Equal(t, 2, first)
	assert.Equal(t, 2, second)
}

func TestBufferDrainAfterWatermark(t *testing.T) {
	buffer, _ := newTestBuffer(t, 100)
	ctx := context.Background()
	audience := realtime.UserAudience("user-1")

	var eventIDs []string
	for i := 0; i < 6; i++ {
		envelope := testEnvelope(t, i, audience)
		eventIDs = append(eventIDs, envelope.EventID)
		require.NoError(t, buffer.Enqueue(ctx, "user-1", envelope))
	}

	items, err := buffer.DrainAfter(ctx, "user-1", eventIDs[3])
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, eventIDs[4], items[0].Envelope.EventID)
	assert.Equal(t, eventIDs[5], items[1].Envelope.EventID)

	// An unknown watermark falls back to a full replay.
	items, err = buffer.DrainAfter(ctx, "user-1", "ev_doesnotexist")
	require.NoError(t, err)
	assert.Len(t, items, 6)
}

func TestBufferAckDeletesEntries(t *testing.T) {
	buffer, _ := newTestBuffer(t, 100)
	ctx := context.Background()
	audience := realtime.UserAudience("user-1")

	for i := 0; i < 3; i++ {
		require.NoError(t, buffer.Enqueue(ctx, "user-1", testEnvelope(t, i, audience)))
	}

	items, err := buffer.Drain(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, items, 3)

	ids := []string{items[0].BufferID, items[1].BufferID}
	require.NoError(t, buffer.Ack(ctx, ids))

	remaining, err := buffer.Drain(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, items[2].BufferID, remaining[0].BufferID)
}

func TestBufferSweepRemovesExpired(t *testing.T) {
	repo := repository.NewMemoryBufferRepository()
	buffer := NewNotificationBuffer(repo, 100, time.Hour, time.Minute, logger.NewLogger())
	ctx := context.Background()
	audience := realtime.UserAudience("user-1")

	fresh := testEnvelope(t, 0, audience)
	require.NoError(t, buffer.Enqueue(ctx, "user-1", fresh))

	stale, err := realtime.NewBufferedNotification("user-1", testEnvelope(t, 1, audience))
	require.NoError(t, err)
	stale.BufferedAt = time.Now().UTC().Add(-2 * time.Hour)
	require.NoError(t, repo.Append(ctx, stale))

	buffer.sweep(ctx)

	items, err := buffer.Drain(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, fresh.EventID, items[0].Envelope.EventID)
	assert.Equal(t, uint64(1), buffer.Stats().DroppedExpired)
}
