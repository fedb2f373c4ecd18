// Package services provides the infrastructure services of the realtime
// subsystem: session registry, presence tracker, notification buffer, event
// router and recovery coordinator.
package services

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"gestionale/internal/domain/realtime"
	protocol "gestionale/internal/shared/hubprotocol/realtime"
	"gestionale/internal/shared/id"
)

// SessionState tracks the per-session lifecycle. Transitions only move
// forward: a failed authentication or a closed transport is terminal, and a
// reconnecting client always gets a brand-new Session.
type SessionState int32

const (
	SessionConnecting SessionState = iota
	SessionAuthenticating
	SessionActive
	SessionDisconnected
)

func (s SessionState) String() string {
	switch s {
	case SessionConnecting:
		return "connecting"
	case SessionAuthenticating:
		return "authenticating"
	case SessionActive:
		return "active"
	case SessionDisconnected:
		return "disconnected"
	}
	return "unknown"
}

// Session is one live connection belonging to an Identity. It is owned by
// the gateway that created it, lives only in this process, and is destroyed
// on disconnect. Never resurrected.
type Session struct {
	ID          string
	Identity    realtime.Identity
	ConnectedAt time.Time

	// Send is drained by the gateway's write pump. All deliveries to this
	// session go through it; a full queue means the consumer is too slow
	// and the session is force-closed rather than blocking the router.
	Send chan *protocol.ServerMessage

	transport     io.Closer
	state         atomic.Int32
	closed        atomic.Bool
	lastHeartbeat atomic.Int64

	channelsMu sync.RWMutex
	channels   map[string]bool
}

// NewSession creates a session in the Connecting state. transport may be nil
// in tests.
func NewSession(identity realtime.Identity, transport io.Closer, sendQueueSize int) *Session {
	if sendQueueSize <= 0 {
		sendQueueSize = 256
	}
	now := time.Now().UTC()
	s := &Session{
		ID:          id.MustGenerateWithPrefix(id.PrefixSession, id.DefaultLength),
		Identity:    identity,
		ConnectedAt: now,
		Send:        make(chan *protocol.ServerMessage, sendQueueSize),
		transport:   transport,
		channels:    make(map[string]bool),
	}
	s.lastHeartbeat.Store(now.UnixNano())
	return s
}

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

// Transition moves the session to the next state, rejecting anything that is
// not a valid forward step.
func (s *Session) Transition(to SessionState) error {
	for {
		from := SessionState(s.state.Load())
		if !validTransition(from, to) {
			return fmt.Errorf("invalid session transition %s -> %s", from, to)
		}
		if s.state.CompareAndSwap(int32(from), int32(to)) {
			return nil
		}
	}
}

func validTransition(from, to SessionState) bool {
	switch from {
	case SessionConnecting:
		return to == SessionAuthenticating || to == SessionDisconnected
	case SessionAuthenticating:
		// Failed auth closes the transport; there is no way back to
		// Connecting.
		return to == SessionActive || to == SessionDisconnected
	case SessionActive:
		return to == SessionDisconnected
	}
	return false
}

// TrySend attempts a non-blocking delivery to the session's send queue.
// Returns false if the session is closed or the queue is full.
func (s *Session) TrySend(msg *protocol.ServerMessage) (sent bool) {
	if s.closed.Load() {
		return false
	}

	defer func() {
		if r := recover(); r != nil {
			sent = false
		}
	}()

	select {
	case s.Send <- msg:
		return true
	default:
		return false
	}
}

// Close marks the session disconnected, closes the send queue and the
// underlying transport. Safe to call more than once.
func (s *Session) Close() {
	if s.closed.CompareAndSwap(false, true) {
		s.state.Store(int32(SessionDisconnected))
		close(s.Send)
		if s.transport != nil {
			s.transport.Close()
		}
	}
}

// Closed reports whether the session has been closed.
func (s *Session) Closed() bool {
	return s.closed.Load()
}

// Touch records a heartbeat.
func (s *Session) Touch() {
	s.lastHeartbeat.Store(time.Now().UTC().UnixNano())
}

// LastHeartbeatAt returns the time of the last heartbeat (or connect).
func (s *Session) LastHeartbeatAt() time.Time {
	return time.Unix(0, s.lastHeartbeat.Load()).UTC()
}

// SilentSince reports whether the session has missed heartbeats for longer
// than the grace period.
func (s *Session) SilentSince(grace time.Duration, now time.Time) bool {
	return now.Sub(s.LastHeartbeatAt()) > grace
}

// Subscribe joins a channel after a role check. The subscription is rejected
// for roles that may not join, but the session stays open.
func (s *Session) Subscribe(channel string) error {
	if !realtime.CanSubscribe(s.Identity.Role, channel) {
		return fmt.Errorf("role %s may not subscribe to channel %q", s.Identity.Role, channel)
	}

	s.channelsMu.Lock()
	defer s.channelsMu.Unlock()
	s.channels[channel] = true
	return nil
}

// Subscribed reports channel membership.
func (s *Session) Subscribed(channel string) bool {
	s.channelsMu.RLock()
	defer s.channelsMu.RUnlock()
	return s.channels[channel]
}

// SubscribedChannels returns a snapshot of the session's channels.
func (s *Session) SubscribedChannels() []string {
	s.channelsMu.RLock()
	defer s.channelsMu.RUnlock()

	channels := make([]string, 0, len(s.channels))
	for channel := range s.channels {
		channels = append(channels, channel)
	}
	return channels
}
