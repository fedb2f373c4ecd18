package services

import (
	"context"
	"encoding/json"
	"time"

	"gestionale/internal/domain/realtime"
	protocol "gestionale/internal/shared/hubprotocol/realtime"
	"gestionale/internal/shared/logger"
)

// DeliveryReceipt summarizes one routed event: which recipients got it live,
// which had it buffered, and which sessions were dropped along the way.
type DeliveryReceipt struct {
	EventID        string   `json:"eventId"`
	Delivered      []string `json:"delivered"`
	Buffered       []string `json:"buffered"`
	FailedSessions []string `json:"failedSessions"`
}

// DisconnectHandler tears down a session the router had to drop. Wired to
// PresenceTracker.Disconnect so a forced disconnect flips presence exactly
// like a client-initiated one.
type DisconnectHandler func(ctx context.Context, sessionID string)

// EventRouter fans events out to every identity an audience resolves to.
// Delivery to one recipient never depends on another: a stalled or dead
// session costs only that session, and an identity with no reachable
// session gets the event buffered instead.
type EventRouter struct {
	registry   *SessionRegistry
	buffer     *NotificationBuffer
	disconnect DisconnectHandler
	logger     logger.Interface
}

func NewEventRouter(registry *SessionRegistry, buffer *NotificationBuffer, log logger.Interface) *EventRouter {
	return &EventRouter{
		registry: registry,
		buffer:   buffer,
		logger:   log,
	}
}

// SetDisconnectHandler installs the teardown path for sessions the router
// drops. The tracker depends on the router for presence events, so this is
// injected after construction instead of through it.
func (r *EventRouter) SetDisconnectHandler(handler DisconnectHandler) {
	r.disconnect = handler
}

// dropSession closes a session that cannot keep up and runs the full
// disconnect path, so the user's presence stays a function of their live
// sessions. Must be called outside the identity's bucket lock.
func (r *EventRouter) dropSession(ctx context.Context, session *Session) {
	session.Close()
	if r.disconnect != nil {
		r.disconnect(ctx, session.ID)
		return
	}
	r.registry.Deregister(session.ID)
}

// PublishEvent builds an envelope and routes it. This is the producer-facing
// entry point used by the REST surface and internal emitters.
func (r *EventRouter) PublishEvent(ctx context.Context, eventType string, audience realtime.Audience, payload json.RawMessage) (*DeliveryReceipt, error) {
	envelope, err := realtime.NewEnvelope(eventType, audience, payload)
	if err != nil {
		return nil, err
	}
	return r.Publish(ctx, envelope)
}

// Publish routes an envelope to its audience. Recipients are resolved
// against every identity the registry knows, so offline users are included
// and receive the event through the buffer.
func (r *EventRouter) Publish(ctx context.Context, envelope *realtime.EventEnvelope) (*DeliveryReceipt, error) {
	receipt := &DeliveryReceipt{
		EventID:        envelope.EventID,
		Delivered:      make([]string, 0),
		Buffered:       make([]string, 0),
		FailedSessions: make([]string, 0),
	}

	recipients := r.registry.MatchingIdentities(envelope.Audience)
	for _, identity := range recipients {
		r.deliverTo(ctx, identity, envelope, receipt)
	}

	r.logger.Infow("event routed",
		"event_id", envelope.EventID,
		"type", envelope.Type,
		"audience", envelope.Audience.String(),
		"delivered", len(receipt.Delivered),
		"buffered", len(receipt.Buffered),
		"failed_sessions", len(receipt.FailedSessions),
	)
	return receipt, nil
}

// deliverTo pushes the envelope to every live session of one identity,
// holding the identity's bucket lock so concurrent publishes to the same
// user cannot interleave. If no session accepts the frame the event is
// buffered for later delivery.
func (r *EventRouter) deliverTo(ctx context.Context, identity realtime.Identity, envelope *realtime.EventEnvelope, receipt *DeliveryReceipt) {
	msg := &protocol.ServerMessage{
		Type:      envelope.Type,
		Payload:   envelope.Payload,
		Timestamp: envelope.CreatedAt.UnixMilli(),
	}

	deliveredAny := false
	var stalled []*Session

	r.registry.WithIdentityLock(identity.UserID, func(sessions []*Session) {
		for _, session := range sessions {
			if session.State() != SessionActive {
				continue
			}
			if session.TrySend(msg) {
				deliveredAny = true
				continue
			}
			// Full queue or closed mid-delivery: the consumer is too slow
			// to keep. Collect it and close outside the bucket lock.
			stalled = append(stalled, session)
		}
	})

	for _, session := range stalled {
		receipt.FailedSessions = append(receipt.FailedSessions, session.ID)
		r.logger.Warnw("dropping unresponsive session",
			"session_id", session.ID,
			"user_id", identity.UserID,
			"event_id", envelope.EventID,
		)
		r.dropSession(ctx, session)
	}

	if deliveredAny {
		receipt.Delivered = append(receipt.Delivered, identity.UserID)
		return
	}

	if err := r.buffer.Enqueue(ctx, identity.UserID, envelope); err != nil {
		r.logger.Errorw("failed to buffer event for offline user",
			"user_id", identity.UserID,
			"event_id", envelope.EventID,
			"error", err,
		)
		return
	}
	receipt.Buffered = append(receipt.Buffered, identity.UserID)
}

// PublishLive routes an event to live matching sessions only, without
// buffering for anyone offline. Used for ephemeral state like presence,
// where a stale frame delivered later would be wrong anyway.
func (r *EventRouter) PublishLive(ctx context.Context, eventType string, audience realtime.Audience, payload json.RawMessage) {
	envelope, err := realtime.NewEnvelope(eventType, audience, payload)
	if err != nil {
		r.logger.Errorw("failed to build live event", "type", eventType, "error", err)
		return
	}

	msg := &protocol.ServerMessage{
		Type:      envelope.Type,
		Payload:   envelope.Payload,
		Timestamp: envelope.CreatedAt.UnixMilli(),
	}

	var stalled []*Session
	for _, session := range r.registry.SessionsMatching(audience) {
		if session.State() != SessionActive {
			continue
		}
		if !session.TrySend(msg) {
			stalled = append(stalled, session)
		}
	}
	for _, session := range stalled {
		r.logger.Warnw("dropping unresponsive session",
			"session_id", session.ID,
			"user_id", session.Identity.UserID,
			"event_id", envelope.EventID,
		)
		r.dropSession(ctx, session)
	}
}

// Shutdown stops the router's dependencies that it owns. Currently the
// buffer sweeper is the only background worker.
func (r *EventRouter) Shutdown() {
	r.buffer.Stop()
}

func nowMillis() int64 {
	return time.Now().UTC().UnixMilli()
}
