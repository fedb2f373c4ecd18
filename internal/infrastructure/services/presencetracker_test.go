package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gestionale/internal/domain/realtime"
	"gestionale/internal/infrastructure/repository"
	"gestionale/internal/shared/authorization"
	protocol "gestionale/internal/shared/hubprotocol/realtime"
	"gestionale/internal/shared/logger"
)

func newTestTracker(t *testing.T, heartbeat time.Duration) (*PresenceTracker, *SessionRegistry, *repository.MemoryPresenceRepository) {
	t.Helper()
	tracker, registry, _, presenceRepo := newTestPresenceStack(t, heartbeat)
	return tracker, registry, presenceRepo
}

func newTestPresenceStack(t *testing.T, heartbeat time.Duration) (*PresenceTracker, *SessionRegistry, *EventRouter, *repository.MemoryPresenceRepository) {
	t.Helper()
	log := logger.NewLogger()
	registry := NewSessionRegistry(log)
	buffer := NewNotificationBuffer(repository.NewMemoryBufferRepository(), 100, 24*time.Hour, time.Minute, log)
	router := NewEventRouter(registry, buffer, log)
	presenceRepo := repository.NewMemoryPresenceRepository()
	tracker := NewPresenceTracker(registry, router, presenceRepo, heartbeat, 3, log)
	router.SetDisconnectHandler(tracker.Disconnect)
	return tracker, registry, router, presenceRepo
}

func TestTrackerConnectFlipsOnline(t *testing.T) {
	tracker, _, presenceRepo := newTestTracker(t, 30*time.Second)
	ctx := context.Background()

	session := newActiveSession(t, testIdentity(t, "op-1", authorization.RoleOperator), 8)
	tracker.Connect(ctx, session)

	record, err := presenceRepo.Get(ctx, "op-1")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.True(t, record.Online)
	assert.Equal(t, authorization.RoleOperator, record.Role)
	assert.WithinDuration(t, time.Now().UTC(), record.LastSeen, 2*time.Second)
}

func TestTrackerDisconnectFlipsOfflineOnLastSession(t *testing.T) {
	tracker, _, presenceRepo := newTestTracker(t, 30*time.Second)
	ctx := context.Background()
	identity := testIdentity(t, "op-1", authorization.RoleOperator)

	first := newActiveSession(t, identity, 8)
	second := newActiveSession(t, identity, 8)
	tracker.Connect(ctx, first)
	tracker.Connect(ctx, second)

	tracker.Disconnect(ctx, first.ID)
	record, err := presenceRepo.Get(ctx, "op-1")
	require.NoError(t, err)
	assert.True(t, record.Online, "one session left, still online")

	tracker.Disconnect(ctx, second.ID)
	record, err = presenceRepo.Get(ctx, "op-1")
	require.NoError(t, err)
	assert.False(t, record.Online)
}

func TestTrackerNotifiesAdminsOnPresenceChange(t *testing.T) {
	tracker, _, _ := newTestTracker(t, 30*time.Second)
	ctx := context.Background()

	admin := newActiveSession(t, testIdentity(t, "admin-1", authorization.RoleAdmin), 8)
	tracker.Connect(ctx, admin)
	// Drain the admin's own presenceChanged frame.
	<-admin.Send

	operator := newActiveSession(t, testIdentity(t, "op-1", authorization.RoleOperator), 8)
	tracker.Connect(ctx, operator)

	msg := receiveFrame(t, admin)
	assert.Equal(t, realtime.EventPresenceChanged, msg.Type)

	var payload presenceChangedPayload
	require.NoError(t, json.Unmarshal(msg.Payload.(json.RawMessage), &payload))
	assert.Equal(t, "op-1", payload.UserID)
	assert.True(t, payload.Online)

	// The operator is not an admin, it must not see presence traffic.
	select {
	case frame := <-operator.Send:
		t.Fatalf("operator received unexpected frame %v", frame.Type)
	default:
	}
}

func TestTrackerHeartbeatKeepsSessionAlive(t *testing.T) {
	tracker, registry, _ := newTestTracker(t, 10*time.Millisecond)
	ctx := context.Background()

	session := newActiveSession(t, testIdentity(t, "op-1", authorization.RoleOperator), 8)
	tracker.Connect(ctx, session)

	tracker.Heartbeat(ctx, session.ID)
	tracker.reap(ctx)
	assert.False(t, session.Closed(), "a fresh heartbeat survives the reaper")
	assert.Equal(t, 1, registry.SessionCount())
}

func TestTrackerReapsSilentSession(t *testing.T) {
	heartbeat := 10 * time.Millisecond
	tracker, registry, presenceRepo := newTestTracker(t, heartbeat)
	ctx := context.Background()

	session := newActiveSession(t, testIdentity(t, "op-1", authorization.RoleOperator), 8)
	tracker.Connect(ctx, session)

	// Grace is three heartbeat intervals. Backdate the last heartbeat past it.
	session.lastHeartbeat.Store(time.Now().UTC().Add(-4 * heartbeat).UnixNano())
	tracker.reap(ctx)

	assert.True(t, session.Closed(), "silent sessions are treated as disconnected")
	assert.Equal(t, 0, registry.SessionCount())

	record, err := presenceRepo.Get(ctx, "op-1")
	require.NoError(t, err)
	assert.False(t, record.Online)
}

func TestTrackerHeartbeatTouchesSession(t *testing.T) {
	tracker, _, _ := newTestTracker(t, 30*time.Second)
	ctx := context.Background()

	session := newActiveSession(t, testIdentity(t, "op-1", authorization.RoleOperator), 8)
	tracker.Connect(ctx, session)

	before := session.LastHeartbeatAt()
	time.Sleep(5 * time.Millisecond)
	tracker.Heartbeat(ctx, session.ID)
	assert.True(t, session.LastHeartbeatAt().After(before))
}

func TestTrackerHeartbeatAdvancesPersistedLastSeen(t *testing.T) {
	tracker, _, presenceRepo := newTestTracker(t, 30*time.Second)
	ctx := context.Background()

	session := newActiveSession(t, testIdentity(t, "op-1", authorization.RoleOperator), 8)
	tracker.Connect(ctx, session)

	// Simulate a long-lived session whose record has not been touched since
	// connect time.
	stale := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, presenceRepo.Upsert(ctx, realtime.PresenceRecord{
		UserID: "op-1", Role: authorization.RoleOperator, Online: true, LastSeen: stale,
	}))

	tracker.Heartbeat(ctx, session.ID)

	record, err := presenceRepo.Get(ctx, "op-1")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.True(t, record.Online)
	assert.True(t, record.LastSeen.After(stale), "a heartbeat must advance the persisted lastSeen")
	assert.WithinDuration(t, time.Now().UTC(), record.LastSeen, 2*time.Second)
}

func TestRouterDropOfLastSessionFlipsOffline(t *testing.T) {
	tracker, _, router, presenceRepo := newTestPresenceStack(t, 30*time.Second)
	ctx := context.Background()

	stalled := newActiveSession(t, testIdentity(t, "op-1", authorization.RoleOperator), 1)
	tracker.Connect(ctx, stalled)

	// Fill the queue so the next delivery fails and the router drops the
	// session. It was the user's only one.
	require.True(t, stalled.TrySend(&protocol.ServerMessage{Type: protocol.MsgTypePong}))

	receipt, err := router.PublishEvent(ctx, realtime.EventNuovoOrdine,
		realtime.UserAudience("op-1"), nil)
	require.NoError(t, err)
	require.Equal(t, []string{stalled.ID}, receipt.FailedSessions)
	assert.True(t, stalled.Closed())

	record, err := presenceRepo.Get(ctx, "op-1")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.False(t, record.Online, "a user with zero live sessions must be offline")

	// The read pump's own teardown arrives later and must stay a no-op.
	tracker.Disconnect(ctx, stalled.ID)
	record, err = presenceRepo.Get(ctx, "op-1")
	require.NoError(t, err)
	assert.False(t, record.Online)
}
