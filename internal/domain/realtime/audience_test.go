package realtime

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gestionale/internal/shared/authorization"
)

func TestAudience_Matches(t *testing.T) {
	admin := Identity{UserID: "u1", Role: authorization.RoleAdmin}
	operator := Identity{UserID: "u2", Role: authorization.RoleOperator}
	viewer := Identity{UserID: "u3", Role: authorization.RoleViewer}

	tests := []struct {
		name     string
		audience Audience
		identity Identity
		want     bool
	}{
		{"broadcast matches admin", BroadcastAudience(), admin, true},
		{"broadcast matches viewer", BroadcastAudience(), viewer, true},
		{"role matches same role", RoleAudience(authorization.RoleOperator), operator, true},
		{"role rejects other role", RoleAudience(authorization.RoleAdmin), operator, false},
		{"user matches same user", UserAudience("u3"), viewer, true},
		{"user rejects other user", UserAudience("u3"), admin, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.audience.Matches(tt.identity))
		})
	}
}

func TestAudience_JSONRoundtrip(t *testing.T) {
	for _, audience := range []Audience{
		BroadcastAudience(),
		RoleAudience(authorization.RoleAdmin),
		UserAudience("u42"),
	} {
		data, err := json.Marshal(audience)
		require.NoError(t, err)

		var decoded Audience
		require.NoError(t, json.Unmarshal(data, &decoded))
		assert.Equal(t, audience, decoded)
	}
}

func TestAudience_UnmarshalRejectsUnknownScope(t *testing.T) {
	var a Audience
	err := json.Unmarshal([]byte(`{"scope":"everyone"}`), &a)
	assert.Error(t, err)
}

func TestAudience_Validate(t *testing.T) {
	assert.NoError(t, BroadcastAudience().Validate())
	assert.NoError(t, RoleAudience(authorization.RoleViewer).Validate())
	assert.NoError(t, UserAudience("u1").Validate())

	assert.Error(t, UserAudience("").Validate())
	assert.Error(t, RoleAudience(authorization.UserRole("manager")).Validate())
	assert.Error(t, Audience{}.Validate())
}

func TestCanSubscribe(t *testing.T) {
	assert.True(t, CanSubscribe(authorization.RoleAdmin, ChannelDashboard))
	assert.True(t, CanSubscribe(authorization.RoleAdmin, ChannelAdmin))
	assert.False(t, CanSubscribe(authorization.RoleOperator, ChannelDashboard))
	assert.False(t, CanSubscribe(authorization.RoleViewer, ChannelAdmin))
	assert.False(t, CanSubscribe(authorization.RoleAdmin, "unknown"))
}

func TestNewEnvelope(t *testing.T) {
	env, err := NewEnvelope(EventNuovoOrdine, UserAudience("u1"), json.RawMessage(`{"orderId":7}`))
	require.NoError(t, err)

	assert.True(t, len(env.EventID) > 3)
	assert.Equal(t, "ev", env.EventID[:2])
	assert.Equal(t, EventNuovoOrdine, env.Type)
	assert.False(t, env.CreatedAt.IsZero())

	_, err = NewEnvelope("", BroadcastAudience(), nil)
	assert.Error(t, err)
}
