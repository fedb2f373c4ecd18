package services

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"gestionale/internal/domain/realtime"
	"gestionale/internal/shared/authorization"
	"gestionale/internal/shared/goroutine"
	"gestionale/internal/shared/logger"
)

// presenceChangedPayload is the body of a presenceChanged event sent to
// admin dashboards whenever a user's online status flips.
type presenceChangedPayload struct {
	UserID   string `json:"userId"`
	Online   bool   `json:"online"`
	LastSeen int64  `json:"lastSeen"`
}

// PresenceTracker derives each identity's online status from its live
// sessions and heartbeats. A user is online while at least one session is
// active; a session that misses heartbeats past the grace period is reaped
// as if the client had disconnected.
type PresenceTracker struct {
	registry *SessionRegistry
	router   *EventRouter
	repo     realtime.PresenceRepository
	logger   logger.Interface

	heartbeatInterval time.Duration
	grace             time.Duration

	stopCh  chan struct{}
	stopped atomic.Bool
}

func NewPresenceTracker(
	registry *SessionRegistry,
	router *EventRouter,
	repo realtime.PresenceRepository,
	heartbeatInterval time.Duration,
	graceMultiplier int,
	log logger.Interface,
) *PresenceTracker {
	if graceMultiplier <= 0 {
		graceMultiplier = 3
	}
	return &PresenceTracker{
		registry:          registry,
		router:            router,
		repo:              repo,
		logger:            log,
		heartbeatInterval: heartbeatInterval,
		grace:             time.Duration(graceMultiplier) * heartbeatInterval,
		stopCh:            make(chan struct{}),
	}
}

// Start launches the reaper that sweeps silent sessions.
func (t *PresenceTracker) Start() {
	goroutine.SafeGo(t.logger, "presence-reaper", func() {
		ticker := time.NewTicker(t.heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				t.reap(context.Background())
			case <-t.stopCh:
				return
			}
		}
	})
}

// Stop terminates the reaper. Safe to call more than once.
func (t *PresenceTracker) Stop() {
	if t.stopped.CompareAndSwap(false, true) {
		close(t.stopCh)
	}
}

// Connect registers an activated session. If it is the identity's first,
// the user flips to online and admins are notified.
func (t *PresenceTracker) Connect(ctx context.Context, session *Session) {
	wasFirst := t.registry.Register(session)
	if !wasFirst {
		return
	}
	t.setPresence(ctx, session.Identity, true)
}

// Disconnect removes a session. If it was the identity's last, the user
// flips to offline and admins are notified.
func (t *PresenceTracker) Disconnect(ctx context.Context, sessionID string) {
	userID := ""
	if s := t.registry.SessionByID(sessionID); s != nil {
		userID = s.Identity.UserID
	}

	wasLast, existed := t.registry.Deregister(sessionID)
	if !existed || !wasLast {
		return
	}

	identity, ok := t.registry.KnownIdentity(userID)
	if !ok {
		return
	}
	t.setPresence(ctx, identity, false)
}

// Heartbeat records a keepalive from the session's client. The persisted
// record's lastSeen advances too, so presence reads over REST do not go
// stale on long-lived sessions.
func (t *PresenceTracker) Heartbeat(ctx context.Context, sessionID string) {
	s := t.registry.SessionByID(sessionID)
	if s == nil {
		return
	}
	s.Touch()

	record := realtime.PresenceRecord{
		UserID:   s.Identity.UserID,
		Role:     s.Identity.Role,
		Online:   true,
		LastSeen: time.Now().UTC(),
	}
	if err := t.repo.Upsert(ctx, record); err != nil {
		t.logger.Warnw("failed to persist heartbeat",
			"user_id", s.Identity.UserID,
			"session_id", sessionID,
			"error", err,
		)
	}
}

// StatusOf returns the persisted presence record for one user.
func (t *PresenceTracker) StatusOf(ctx context.Context, userID string) (*realtime.PresenceRecord, error) {
	return t.repo.Get(ctx, userID)
}

// Snapshot returns every known presence record.
func (t *PresenceTracker) Snapshot(ctx context.Context) ([]realtime.PresenceRecord, error) {
	return t.repo.ListAll(ctx)
}

// Online returns the presence records of users currently online.
func (t *PresenceTracker) Online(ctx context.Context) ([]realtime.PresenceRecord, error) {
	return t.repo.ListOnline(ctx)
}

func (t *PresenceTracker) setPresence(ctx context.Context, identity realtime.Identity, online bool) {
	now := time.Now().UTC()
	record := realtime.PresenceRecord{
		UserID:   identity.UserID,
		Role:     identity.Role,
		Online:   online,
		LastSeen: now,
	}
	if err := t.repo.Upsert(ctx, record); err != nil {
		t.logger.Errorw("failed to persist presence",
			"user_id", identity.UserID,
			"online", online,
			"error", err,
		)
	}

	t.logger.Infow("presence changed",
		"user_id", identity.UserID,
		"online", online,
	)
	t.emitPresenceChanged(ctx, identity.UserID, online, now)
}

// emitPresenceChanged notifies admin dashboards. Presence is ephemeral
// state: it goes only to live admin sessions and is never buffered, so a
// flapping connection cannot evict real notifications. Reconnecting admins
// get a fresh snapshot over REST instead.
func (t *PresenceTracker) emitPresenceChanged(ctx context.Context, userID string, online bool, lastSeen time.Time) {
	payload, err := json.Marshal(presenceChangedPayload{
		UserID:   userID,
		Online:   online,
		LastSeen: lastSeen.UnixMilli(),
	})
	if err != nil {
		return
	}

	audience := realtime.RoleAudience(authorization.RoleAdmin)
	t.router.PublishLive(ctx, realtime.EventPresenceChanged, audience, payload)
}

// reap closes sessions whose clients have been silent past the grace
// period and runs the normal disconnect path for each.
func (t *PresenceTracker) reap(ctx context.Context) {
	now := time.Now().UTC()
	for _, session := range t.registry.AllSessions() {
		if session.State() != SessionActive {
			continue
		}
		if !session.SilentSince(t.grace, now) {
			continue
		}
		t.logger.Warnw("reaping silent session",
			"session_id", session.ID,
			"user_id", session.Identity.UserID,
			"last_heartbeat", session.LastHeartbeatAt(),
		)
		session.Close()
		t.Disconnect(ctx, session.ID)
	}
}
