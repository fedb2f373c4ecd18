package realtime

import (
	"fmt"
	"time"

	"gestionale/internal/shared/id"
)

// BufferedNotification is an event queued for an identity that was offline
// when the event was routed. It is deleted once delivered, or dropped once
// it outlives the retention window.
type BufferedNotification struct {
	BufferID     string         `json:"buffer_id"`
	TargetUserID string         `json:"target_user_id"`
	Envelope     *EventEnvelope `json:"envelope"`
	BufferedAt   time.Time      `json:"buffered_at"`
	Attempts     int            `json:"attempts"`
}

// NewBufferedNotification wraps an envelope for offline queueing.
func NewBufferedNotification(targetUserID string, envelope *EventEnvelope) (*BufferedNotification, error) {
	if targetUserID == "" {
		return nil, fmt.Errorf("target user ID is required")
	}
	if envelope == nil {
		return nil, fmt.Errorf("envelope is required")
	}

	bufferID, err := id.GenerateWithPrefix(id.PrefixBufferedItem, id.DefaultLength)
	if err != nil {
		return nil, fmt.Errorf("failed to generate buffer ID: %w", err)
	}

	return &BufferedNotification{
		BufferID:     bufferID,
		TargetUserID: targetUserID,
		Envelope:     envelope,
		BufferedAt:   time.Now().UTC(),
	}, nil
}

// Expired reports whether the notification has outlived the retention window.
func (b *BufferedNotification) Expired(retention time.Duration, now time.Time) bool {
	return now.Sub(b.BufferedAt) > retention
}
