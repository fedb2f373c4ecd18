// Package realtime holds the domain model of the realtime notification and
// presence subsystem: identities, audiences, event envelopes, presence
// records and buffered notifications.
package realtime

import (
	"fmt"

	"gestionale/internal/shared/authorization"
)

// Identity is an authenticated user reference, independent of any specific
// connection. It is immutable for the lifetime of a session.
type Identity struct {
	UserID string
	Role   authorization.UserRole
}

// NewIdentity validates and builds an Identity.
func NewIdentity(userID string, role authorization.UserRole) (Identity, error) {
	if userID == "" {
		return Identity{}, fmt.Errorf("user ID is required")
	}
	if !role.IsValid() {
		return Identity{}, fmt.Errorf("invalid role %q", role)
	}
	return Identity{UserID: userID, Role: role}, nil
}
