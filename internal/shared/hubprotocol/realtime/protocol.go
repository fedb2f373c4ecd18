// Package realtime defines the WebSocket wire protocol for operator clients
// (dashboards, staff devices). These types are shared between the gateway
// handler and the infrastructure services.
package realtime

import "encoding/json"

// Message type constants.
const (
	// Client -> Server message types.
	MsgTypeAuth          = "auth"
	MsgTypeSubscribe     = "subscribe"
	MsgTypePing          = "ping"
	MsgTypeRecoverState  = "recover_state"
	MsgTypeUnreadRequest = "getUnreadNotifications"

	// Server -> Client message types.
	MsgTypePong          = "pong"
	MsgTypeBuffered      = "buffered_notifications"
	MsgTypeStateRecovery = "state_recovery"
	MsgTypeSubscribed    = "subscribed"
	MsgTypeError         = "error"
	MsgTypeConnectionAck = "connection_ack"
)

// ClientMessage is the envelope for every client -> server frame.
type ClientMessage struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"`
}

// ServerMessage is the envelope for every server -> client frame.
// Payload carries the domain event body for live deliveries, or a
// protocol-level structure for pong/buffered/state_recovery frames.
type ServerMessage struct {
	Type      string `json:"type"`
	Payload   any    `json:"payload,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// AuthPayload is the first frame a client must send after opening the
// transport: the credential plus the identity it claims.
type AuthPayload struct {
	Credential string `json:"credential"`
	UserID     string `json:"userId"`
	Role       string `json:"role"`
}

// SubscribePayload names the channel to join.
type SubscribePayload struct {
	Channel string `json:"channel"`
}

// RecoverStatePayload carries the client's local watermark.
type RecoverStatePayload struct {
	LastAcknowledgedEventID string `json:"lastAcknowledgedEventId"`
}

// ErrorPayload is a protocol-level error frame. Code is one of the
// connection admission codes (AUTH_REQUIRED, AUTH_INVALID, RATE_LIMITED)
// or a subscription rejection.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// BufferedItem is one element of a buffered_notifications or state_recovery
// array frame.
type BufferedItem struct {
	EventID    string          `json:"event_id"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	BufferedAt int64           `json:"buffered_at"`
}
