package realtime

import "gestionale/internal/shared/authorization"

// Subscription channels. Every identity also has an implicit per-user
// channel that needs no subscribe call.
const (
	ChannelDashboard = "dashboard"
	ChannelAdmin     = "admin"
)

// CanSubscribe reports whether the role may join the named channel.
// Rejection is an authorization failure: the subscribe request is refused
// but the connection stays open.
func CanSubscribe(role authorization.UserRole, channel string) bool {
	switch channel {
	case ChannelDashboard, ChannelAdmin:
		return role.IsAdmin()
	}
	return false
}
