package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gestionale/internal/domain/realtime"
	"gestionale/internal/shared/authorization"
	"gestionale/internal/shared/logger"
)

func testIdentity(t *testing.T, userID string, role authorization.UserRole) realtime.Identity {
	t.Helper()
	identity, err := realtime.NewIdentity(userID, role)
	require.NoError(t, err)
	return identity
}

func newActiveSession(t *testing.T, identity realtime.Identity, queueSize int) *Session {
	t.Helper()
	s := NewSession(identity, nil, queueSize)
	require.NoError(t, s.Transition(SessionAuthenticating))
	require.NoError(t, s.Transition(SessionActive))
	return s
}

func TestRegistryRegisterAndDeregister(t *testing.T) {
	registry := NewSessionRegistry(logger.NewLogger())
	identity := testIdentity(t, "user-1", authorization.RoleOperator)

	first := newActiveSession(t, identity, 8)
	second := newActiveSession(t, identity, 8)

	assert.True(t, registry.Register(first), "first session should flip the identity online")
	assert.False(t, registry.Register(second), "second session of same identity is not first")
	assert.Equal(t, 2, registry.SessionCount())
	assert.Len(t, registry.SessionsFor("user-1"), 2)

	wasLast, existed := registry.Deregister(first.ID)
	assert.True(t, existed)
	assert.False(t, wasLast)

	wasLast, existed = registry.Deregister(second.ID)
	assert.True(t, existed)
	assert.True(t, wasLast, "removing the final session should report last")

	_, existed = registry.Deregister(second.ID)
	assert.False(t, existed, "double deregister is a no-op")
}

func TestRegistrySessionsMatchingAudience(t *testing.T) {
	registry := NewSessionRegistry(logger.NewLogger())

	admin := newActiveSession(t, testIdentity(t, "admin-1", authorization.RoleAdmin), 8)
	operator := newActiveSession(t, testIdentity(t, "op-1", authorization.RoleOperator), 8)
	viewer := newActiveSession(t, testIdentity(t, "view-1", authorization.RoleViewer), 8)

	registry.Register(admin)
	registry.Register(operator)
	registry.Register(viewer)

	assert.Len(t, registry.SessionsMatching(realtime.BroadcastAudience()), 3)

	adminSessions := registry.SessionsMatching(realtime.RoleAudience(authorization.RoleAdmin))
	require.Len(t, adminSessions, 1)
	assert.Equal(t, "admin-1", adminSessions[0].Identity.UserID)

	userSessions := registry.SessionsMatching(realtime.UserAudience("op-1"))
	require.Len(t, userSessions, 1)
	assert.Equal(t, operator.ID, userSessions[0].ID)
}

func TestRegistryKnowsOfflineIdentities(t *testing.T) {
	registry := NewSessionRegistry(logger.NewLogger())

	session := newActiveSession(t, testIdentity(t, "op-1", authorization.RoleOperator), 8)
	registry.Register(session)
	registry.Deregister(session.ID)

	registry.SeedIdentity(testIdentity(t, "admin-1", authorization.RoleAdmin))

	// Both identities resolve even though neither has a live session.
	matched := registry.MatchingIdentities(realtime.BroadcastAudience())
	assert.Len(t, matched, 2)

	admins := registry.MatchingIdentities(realtime.RoleAudience(authorization.RoleAdmin))
	require.Len(t, admins, 1)
	assert.Equal(t, "admin-1", admins[0].UserID)

	assert.Empty(t, registry.SessionsMatching(realtime.BroadcastAudience()))
	assert.Empty(t, registry.OnlineUserIDs())
}

func TestRegistryWithIdentityLockSnapshotsSessions(t *testing.T) {
	registry := NewSessionRegistry(logger.NewLogger())
	identity := testIdentity(t, "user-1", authorization.RoleViewer)
	session := newActiveSession(t, identity, 8)
	registry.Register(session)

	var seen []*Session
	registry.WithIdentityLock("user-1", func(sessions []*Session) {
		seen = sessions
	})
	require.Len(t, seen, 1)
	assert.Equal(t, session.ID, seen[0].ID)

	called := false
	registry.WithIdentityLock("never-connected", func(sessions []*Session) {
		called = true
		assert.Empty(t, sessions)
	})
	assert.True(t, called)
}
