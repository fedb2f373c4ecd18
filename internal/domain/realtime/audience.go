package realtime

import (
	"encoding/json"
	"fmt"

	"gestionale/internal/shared/authorization"
)

// AudienceScope discriminates the audience variants.
type AudienceScope string

const (
	ScopeBroadcast AudienceScope = "broadcast"
	ScopeRole      AudienceScope = "role"
	ScopeUser      AudienceScope = "user"
)

// Audience is the set of identities an event is intended to reach. It is a
// closed variant: broadcast, role-scoped or single-user.
type Audience struct {
	scope  AudienceScope
	role   authorization.UserRole
	userID string
}

// BroadcastAudience targets every connected identity.
func BroadcastAudience() Audience {
	return Audience{scope: ScopeBroadcast}
}

// RoleAudience targets every identity holding the given role.
func RoleAudience(role authorization.UserRole) Audience {
	return Audience{scope: ScopeRole, role: role}
}

// UserAudience targets a single identity.
func UserAudience(userID string) Audience {
	return Audience{scope: ScopeUser, userID: userID}
}

func (a Audience) Scope() AudienceScope { return a.scope }

// Role returns the target role for role-scoped audiences.
func (a Audience) Role() authorization.UserRole { return a.role }

// UserID returns the target user for user-scoped audiences.
func (a Audience) UserID() string { return a.userID }

// Matches reports whether the identity is part of the audience.
func (a Audience) Matches(identity Identity) bool {
	switch a.scope {
	case ScopeBroadcast:
		return true
	case ScopeRole:
		return identity.Role == a.role
	case ScopeUser:
		return identity.UserID == a.userID
	}
	return false
}

// Validate rejects malformed audiences before routing.
func (a Audience) Validate() error {
	switch a.scope {
	case ScopeBroadcast:
		return nil
	case ScopeRole:
		if !a.role.IsValid() {
			return fmt.Errorf("invalid audience role %q", a.role)
		}
		return nil
	case ScopeUser:
		if a.userID == "" {
			return fmt.Errorf("audience user ID is required")
		}
		return nil
	}
	return fmt.Errorf("invalid audience scope %q", a.scope)
}

type audienceJSON struct {
	Scope  AudienceScope `json:"scope"`
	Role   string        `json:"role,omitempty"`
	UserID string        `json:"user_id,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (a Audience) MarshalJSON() ([]byte, error) {
	return json.Marshal(audienceJSON{
		Scope:  a.scope,
		Role:   a.role.String(),
		UserID: a.userID,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (a *Audience) UnmarshalJSON(data []byte) error {
	var raw audienceJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	switch raw.Scope {
	case ScopeBroadcast:
		*a = BroadcastAudience()
	case ScopeRole:
		role := authorization.UserRole(raw.Role)
		if !role.IsValid() {
			return fmt.Errorf("invalid audience role %q", raw.Role)
		}
		*a = RoleAudience(role)
	case ScopeUser:
		if raw.UserID == "" {
			return fmt.Errorf("audience user ID is required")
		}
		*a = UserAudience(raw.UserID)
	default:
		return fmt.Errorf("invalid audience scope %q", raw.Scope)
	}
	return nil
}

// String renders the audience for logging.
func (a Audience) String() string {
	switch a.scope {
	case ScopeBroadcast:
		return "broadcast"
	case ScopeRole:
		return fmt.Sprintf("role:%s", a.role)
	case ScopeUser:
		return fmt.Sprintf("user:%s", a.userID)
	}
	return "invalid"
}
