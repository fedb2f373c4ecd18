package services

import (
	"context"
	"fmt"

	"gestionale/internal/domain/realtime"
	protocol "gestionale/internal/shared/hubprotocol/realtime"
	"gestionale/internal/shared/logger"
)

// RecoveryCoordinator reconciles durable state with reality after a process
// restart, and replays missed notifications to reconnecting clients before
// they go live.
type RecoveryCoordinator struct {
	registry     *SessionRegistry
	buffer       *NotificationBuffer
	presenceRepo realtime.PresenceRepository
	logger       logger.Interface
}

func NewRecoveryCoordinator(
	registry *SessionRegistry,
	buffer *NotificationBuffer,
	presenceRepo realtime.PresenceRepository,
	log logger.Interface,
) *RecoveryCoordinator {
	return &RecoveryCoordinator{
		registry:     registry,
		buffer:       buffer,
		presenceRepo: presenceRepo,
		logger:       log,
	}
}

// Restore runs once at startup. A restart killed every connection, so every
// persisted presence record is forced offline, and the known identities are
// seeded into the registry so buffered role audiences still resolve.
func (c *RecoveryCoordinator) Restore(ctx context.Context) error {
	if err := c.presenceRepo.MarkAllOffline(ctx); err != nil {
		return fmt.Errorf("failed to reset presence: %w", err)
	}

	records, err := c.presenceRepo.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to load presence records: %w", err)
	}
	for _, record := range records {
		identity, err := realtime.NewIdentity(record.UserID, record.Role)
		if err != nil {
			c.logger.Warnw("skipping invalid presence record",
				"user_id", record.UserID,
				"error", err,
			)
			continue
		}
		c.registry.SeedIdentity(identity)
	}

	pending, err := c.buffer.repo.CountPending(ctx)
	if err != nil {
		return fmt.Errorf("failed to count pending notifications: %w", err)
	}

	c.logger.Infow("realtime state restored",
		"known_identities", len(records),
		"pending_notifications", pending,
	)
	return nil
}

// ResyncSession replays everything buffered for the session's identity as a
// single buffered_notifications frame. It runs after authentication and
// before the session joins live routing, so the client sees missed events
// strictly before new ones. Replayed entries are deleted only after the
// frame is accepted by the session's queue.
func (c *RecoveryCoordinator) ResyncSession(ctx context.Context, session *Session) error {
	items, err := c.buffer.Drain(ctx, session.Identity.UserID)
	if err != nil {
		return fmt.Errorf("failed to drain buffer: %w", err)
	}
	if len(items) == 0 {
		return nil
	}
	return c.replay(ctx, session, items, protocol.MsgTypeBuffered)
}

// ActivateSession replays whatever is still buffered and flips the session
// to Active in one step, holding the identity's bucket lock. The router
// delivers under the same lock, so no publish can slip a live frame into
// the queue ahead of older buffered history.
func (c *RecoveryCoordinator) ActivateSession(ctx context.Context, session *Session) error {
	var stateErr error
	c.registry.WithIdentityLock(session.Identity.UserID, func([]*Session) {
		items, err := c.buffer.Drain(ctx, session.Identity.UserID)
		switch {
		case err != nil:
			c.logger.Errorw("resync on activation failed",
				"session_id", session.ID,
				"user_id", session.Identity.UserID,
				"error", err,
			)
		case len(items) > 0:
			if err := c.replay(ctx, session, items, protocol.MsgTypeBuffered); err != nil {
				c.logger.Errorw("resync on activation failed",
					"session_id", session.ID,
					"user_id", session.Identity.UserID,
					"error", err,
				)
			}
		}
		stateErr = session.Transition(SessionActive)
	})
	return stateErr
}

// RecoverFrom replays notifications buffered after the client's watermark
// as a state_recovery frame. An unknown watermark replays everything, which
// is safe: replay is at-least-once and clients dedupe by event ID.
func (c *RecoveryCoordinator) RecoverFrom(ctx context.Context, session *Session, lastAckedEventID string) error {
	items, err := c.buffer.DrainAfter(ctx, session.Identity.UserID, lastAckedEventID)
	if err != nil {
		return fmt.Errorf("failed to drain buffer after watermark: %w", err)
	}
	if len(items) == 0 {
		return c.sendFrame(session, protocol.MsgTypeStateRecovery, []protocol.BufferedItem{})
	}
	return c.replay(ctx, session, items, protocol.MsgTypeStateRecovery)
}

func (c *RecoveryCoordinator) replay(ctx context.Context, session *Session, items []*realtime.BufferedNotification, frameType string) error {
	frame := make([]protocol.BufferedItem, 0, len(items))
	bufferIDs := make([]string, 0, len(items))
	for _, item := range items {
		frame = append(frame, protocol.BufferedItem{
			EventID:    item.Envelope.EventID,
			Type:       item.Envelope.Type,
			Payload:    item.Envelope.Payload,
			BufferedAt: item.BufferedAt.UnixMilli(),
		})
		bufferIDs = append(bufferIDs, item.BufferID)
	}

	if err := c.sendFrame(session, frameType, frame); err != nil {
		return err
	}

	if err := c.buffer.Ack(ctx, bufferIDs); err != nil {
		// The frame is already queued. Leaving the entries in place means a
		// duplicate replay on the next resync, which clients tolerate.
		c.logger.Errorw("failed to acknowledge replayed notifications",
			"user_id", session.Identity.UserID,
			"count", len(bufferIDs),
			"error", err,
		)
	}

	c.logger.Infow("buffered notifications replayed",
		"user_id", session.Identity.UserID,
		"session_id", session.ID,
		"count", len(items),
		"frame", frameType,
	)
	return nil
}

func (c *RecoveryCoordinator) sendFrame(session *Session, frameType string, items []protocol.BufferedItem) error {
	msg := &protocol.ServerMessage{
		Type:      frameType,
		Payload:   items,
		Timestamp: nowMillis(),
	}
	if !session.TrySend(msg) {
		return fmt.Errorf("session %s rejected %s frame", session.ID, frameType)
	}
	return nil
}
