package realtime

import (
	"encoding/json"
	"fmt"
	"time"

	"gestionale/internal/shared/id"
)

// Server-to-client event types. The Italian names come from the order
// management frontend and are part of the wire contract.
const (
	EventNuovoOrdine      = "nuovoOrdine"
	EventOrdineAggiornato = "ordineAggiornato"
	EventBackupCompleto   = "backupCompleto"
	EventPresenceChanged  = "presenceChanged"
)

// EventEnvelope is an immutable routed event. Payload is kept as raw JSON:
// the subsystem transports business events, it never interprets them.
type EventEnvelope struct {
	EventID   string          `json:"event_id"`
	Type      string          `json:"type"`
	Audience  Audience        `json:"audience"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// NewEnvelope builds an envelope with a fresh event ID and UTC timestamp.
func NewEnvelope(eventType string, audience Audience, payload json.RawMessage) (*EventEnvelope, error) {
	if eventType == "" {
		return nil, fmt.Errorf("event type is required")
	}
	if err := audience.Validate(); err != nil {
		return nil, fmt.Errorf("invalid audience: %w", err)
	}
	if payload == nil {
		payload = json.RawMessage("{}")
	}

	eventID, err := id.GenerateWithPrefix(id.PrefixEvent, id.DefaultLength)
	if err != nil {
		return nil, fmt.Errorf("failed to generate event ID: %w", err)
	}

	return &EventEnvelope{
		EventID:   eventID,
		Type:      eventType,
		Audience:  audience,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}, nil
}
