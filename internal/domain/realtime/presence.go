package realtime

import (
	"time"

	"gestionale/internal/shared/authorization"
)

// PresenceRecord is the derived online/offline status of one identity.
// Online is a pure function of the current live session count and is never
// set directly by callers. The record also remembers the identity's role so
// role-scoped audiences can be resolved for offline identities after a
// restart. Created on first-ever connection, never deleted.
type PresenceRecord struct {
	UserID   string                 `json:"user_id"`
	Role     authorization.UserRole `json:"role"`
	Online   bool                   `json:"online"`
	LastSeen time.Time              `json:"last_seen"`
}
