package services

import (
	"sync"

	"gestionale/internal/domain/realtime"
	"gestionale/internal/shared/logger"
)

// identityBucket holds all live sessions for one identity. The bucket mutex
// is the per-identity sequence point: registration, deregistration and
// deliveries for the same user are serialized through it, while unrelated
// users proceed in parallel.
type identityBucket struct {
	mu       sync.Mutex
	identity realtime.Identity
	sessions map[string]*Session
}

// SessionRegistry maps authenticated connections to identities. It also
// remembers every identity it has ever seen (seeded from the presence store
// at startup) so audiences can be resolved to offline users.
type SessionRegistry struct {
	mu       sync.RWMutex
	buckets  map[string]*identityBucket
	sessions map[string]string // sessionID -> userID
	known    map[string]realtime.Identity
	logger   logger.Interface
}

func NewSessionRegistry(log logger.Interface) *SessionRegistry {
	return &SessionRegistry{
		buckets:  make(map[string]*identityBucket),
		sessions: make(map[string]string),
		known:    make(map[string]realtime.Identity),
		logger:   log,
	}
}

func (r *SessionRegistry) bucketFor(identity realtime.Identity) *identityBucket {
	r.mu.Lock()
	defer r.mu.Unlock()

	bucket, ok := r.buckets[identity.UserID]
	if !ok {
		bucket = &identityBucket{
			identity: identity,
			sessions: make(map[string]*Session),
		}
		r.buckets[identity.UserID] = bucket
	}
	r.known[identity.UserID] = identity
	return bucket
}

// SeedIdentity records an identity without any live session. Used by the
// recovery coordinator to restore the known-identity set after a restart.
func (r *SessionRegistry) SeedIdentity(identity realtime.Identity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.known[identity.UserID]; !ok {
		r.known[identity.UserID] = identity
	}
}

// Register adds an active session. Returns true if this is the identity's
// first live session (the identity just came online).
func (r *SessionRegistry) Register(session *Session) bool {
	bucket := r.bucketFor(session.Identity)

	bucket.mu.Lock()
	wasEmpty := len(bucket.sessions) == 0
	bucket.sessions[session.ID] = session
	bucket.mu.Unlock()

	r.mu.Lock()
	r.sessions[session.ID] = session.Identity.UserID
	r.mu.Unlock()

	r.logger.Infow("session registered",
		"session_id", session.ID,
		"user_id", session.Identity.UserID,
		"role", session.Identity.Role,
	)
	return wasEmpty
}

// Deregister removes a session and reports whether it was the identity's
// last live session (for the presence transition). Unknown session IDs are
// a no-op.
func (r *SessionRegistry) Deregister(sessionID string) (wasLast bool, existed bool) {
	r.mu.Lock()
	userID, ok := r.sessions[sessionID]
	if ok {
		delete(r.sessions, sessionID)
	}
	bucket := r.buckets[userID]
	r.mu.Unlock()

	if !ok || bucket == nil {
		return false, false
	}

	bucket.mu.Lock()
	if _, present := bucket.sessions[sessionID]; present {
		delete(bucket.sessions, sessionID)
		wasLast = len(bucket.sessions) == 0
		existed = true
	}
	bucket.mu.Unlock()

	if existed {
		r.logger.Infow("session deregistered",
			"session_id", sessionID,
			"user_id", userID,
			"was_last", wasLast,
		)
	}
	return wasLast, existed
}

// SessionByID looks up a live session.
func (r *SessionRegistry) SessionByID(sessionID string) *Session {
	r.mu.RLock()
	userID, ok := r.sessions[sessionID]
	bucket := r.buckets[userID]
	r.mu.RUnlock()

	if !ok || bucket == nil {
		return nil
	}

	bucket.mu.Lock()
	defer bucket.mu.Unlock()
	return bucket.sessions[sessionID]
}

// SessionsFor returns a snapshot of the identity's live sessions.
func (r *SessionRegistry) SessionsFor(userID string) []*Session {
	r.mu.RLock()
	bucket := r.buckets[userID]
	r.mu.RUnlock()

	if bucket == nil {
		return nil
	}

	bucket.mu.Lock()
	defer bucket.mu.Unlock()

	sessions := make([]*Session, 0, len(bucket.sessions))
	for _, s := range bucket.sessions {
		sessions = append(sessions, s)
	}
	return sessions
}

// SessionsMatching returns a snapshot of every live session whose identity
// is part of the audience.
func (r *SessionRegistry) SessionsMatching(audience realtime.Audience) []*Session {
	matched := make([]*Session, 0)
	for _, bucket := range r.bucketSnapshot() {
		if !audience.Matches(bucket.identity) {
			continue
		}
		bucket.mu.Lock()
		for _, s := range bucket.sessions {
			matched = append(matched, s)
		}
		bucket.mu.Unlock()
	}
	return matched
}

// MatchingIdentities resolves the audience against every identity the
// registry has ever seen, online or not.
func (r *SessionRegistry) MatchingIdentities(audience realtime.Audience) []realtime.Identity {
	r.mu.RLock()
	defer r.mu.RUnlock()

	matched := make([]realtime.Identity, 0)
	for _, identity := range r.known {
		if audience.Matches(identity) {
			matched = append(matched, identity)
		}
	}
	return matched
}

// KnownIdentity returns the remembered identity for a user, if any.
func (r *SessionRegistry) KnownIdentity(userID string) (realtime.Identity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	identity, ok := r.known[userID]
	return identity, ok
}

// WithIdentityLock runs fn holding the identity's bucket lock and hands it
// the identity's live sessions. This is the per-identity delivery sequence
// point used by the router: two concurrent publishes targeting the same
// user cannot interleave.
func (r *SessionRegistry) WithIdentityLock(userID string, fn func(sessions []*Session)) {
	r.mu.RLock()
	bucket := r.buckets[userID]
	r.mu.RUnlock()

	if bucket == nil {
		// Identity never connected: fn observes zero sessions. A throwaway
		// mutex is not needed because there is nothing to order against.
		fn(nil)
		return
	}

	bucket.mu.Lock()
	defer bucket.mu.Unlock()

	sessions := make([]*Session, 0, len(bucket.sessions))
	for _, s := range bucket.sessions {
		sessions = append(sessions, s)
	}
	fn(sessions)
}

// AllSessions returns a snapshot of every live session.
func (r *SessionRegistry) AllSessions() []*Session {
	sessions := make([]*Session, 0)
	for _, bucket := range r.bucketSnapshot() {
		bucket.mu.Lock()
		for _, s := range bucket.sessions {
			sessions = append(sessions, s)
		}
		bucket.mu.Unlock()
	}
	return sessions
}

// OnlineUserIDs returns the users with at least one live session.
func (r *SessionRegistry) OnlineUserIDs() []string {
	online := make([]string, 0)
	for userID, bucket := range r.bucketSnapshotByUser() {
		bucket.mu.Lock()
		if len(bucket.sessions) > 0 {
			online = append(online, userID)
		}
		bucket.mu.Unlock()
	}
	return online
}

// SessionCount returns the number of live sessions.
func (r *SessionRegistry) SessionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *SessionRegistry) bucketSnapshot() []*identityBucket {
	r.mu.RLock()
	defer r.mu.RUnlock()

	buckets := make([]*identityBucket, 0, len(r.buckets))
	for _, bucket := range r.buckets {
		buckets = append(buckets, bucket)
	}
	return buckets
}

func (r *SessionRegistry) bucketSnapshotByUser() map[string]*identityBucket {
	r.mu.RLock()
	defer r.mu.RUnlock()

	buckets := make(map[string]*identityBucket, len(r.buckets))
	for userID, bucket := range r.buckets {
		buckets[userID] = bucket
	}
	return buckets
}
