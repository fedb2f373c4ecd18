package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gestionale/internal/domain/realtime"
	"gestionale/internal/shared/authorization"
	protocol "gestionale/internal/shared/hubprotocol/realtime"
	"gestionale/internal/shared/id"
)

func TestSessionLifecycleTransitions(t *testing.T) {
	identity := testIdentity(t, "op-1", authorization.RoleOperator)

	tests := []struct {
		name    string
		steps   []SessionState
		wantErr bool
	}{
		{"full happy path", []SessionState{SessionAuthenticating, SessionActive, SessionDisconnected}, false},
		{"failed auth", []SessionState{SessionAuthenticating, SessionDisconnected}, false},
		{"dropped before auth", []SessionState{SessionDisconnected}, false},
		{"skip authenticating", []SessionState{SessionActive}, true},
		{"backwards from active", []SessionState{SessionAuthenticating, SessionActive, SessionConnecting}, true},
		{"resurrect after disconnect", []SessionState{SessionDisconnected, SessionAuthenticating}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSession(identity, nil, 8)
			var err error
			for _, step := range tt.steps {
				if err = s.Transition(step); err != nil {
					break
				}
			}
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSessionIDHasPrefix(t *testing.T) {
	s := NewSession(testIdentity(t, "op-1", authorization.RoleOperator), nil, 8)
	assert.True(t, id.HasPrefix(s.ID, id.PrefixSession))
}

func TestSessionTrySendAfterClose(t *testing.T) {
	s := newActiveSession(t, testIdentity(t, "op-1", authorization.RoleOperator), 8)

	require.True(t, s.TrySend(&protocol.ServerMessage{Type: protocol.MsgTypePong}))
	s.Close()

	assert.False(t, s.TrySend(&protocol.ServerMessage{Type: protocol.MsgTypePong}))
	assert.True(t, s.Closed())
	assert.Equal(t, SessionDisconnected, s.State())

	// Close is idempotent.
	s.Close()
}

func TestSessionTrySendFullQueue(t *testing.T) {
	s := newActiveSession(t, testIdentity(t, "op-1", authorization.RoleOperator), 1)

	assert.True(t, s.TrySend(&protocol.ServerMessage{Type: protocol.MsgTypePong}))
	assert.False(t, s.TrySend(&protocol.ServerMessage{Type: protocol.MsgTypePong}), "full queue must not block")
}

func TestSessionChannelSubscription(t *testing.T) {
	admin := newActiveSession(t, testIdentity(t, "admin-1", authorization.RoleAdmin), 8)
	operator := newActiveSession(t, testIdentity(t, "op-1", authorization.RoleOperator), 8)

	require.NoError(t, admin.Subscribe(realtime.ChannelDashboard))
	require.NoError(t, admin.Subscribe(realtime.ChannelAdmin))
	assert.True(t, admin.Subscribed(realtime.ChannelDashboard))
	assert.ElementsMatch(t, []string{realtime.ChannelDashboard, realtime.ChannelAdmin}, admin.SubscribedChannels())

	err := operator.Subscribe(realtime.ChannelAdmin)
	assert.Error(t, err, "non-admin roles may not join privileged channels")
	assert.False(t, operator.Subscribed(realtime.ChannelAdmin))
	assert.False(t, operator.Closed(), "a rejected subscription leaves the session open")
}
