// Package gateway terminates operator WebSocket connections: admission
// control, the in-band auth handshake, heartbeats and the read/write pumps.
package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"gestionale/internal/domain/realtime"
	"gestionale/internal/infrastructure/auth"
	"gestionale/internal/infrastructure/ratelimit"
	"gestionale/internal/infrastructure/services"
	"gestionale/internal/shared/authorization"
	"gestionale/internal/shared/config"
	sharederrors "gestionale/internal/shared/errors"
	"gestionale/internal/shared/goroutine"
	protocol "gestionale/internal/shared/hubprotocol/realtime"
	"gestionale/internal/shared/logger"
	"gestionale/internal/shared/utils"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Should be configured in production
	},
}

// Handler owns the realtime WebSocket endpoint.
type Handler struct {
	credentials *auth.CredentialService
	tracker     *services.PresenceTracker
	recovery    *services.RecoveryCoordinator
	buffer      *services.NotificationBuffer
	limiter     ratelimit.RateLimiter
	cfg         *config.RealtimeConfig
	logger      logger.Interface
}

func NewHandler(
	credentials *auth.CredentialService,
	tracker *services.PresenceTracker,
	recovery *services.RecoveryCoordinator,
	buffer *services.NotificationBuffer,
	limiter ratelimit.RateLimiter,
	cfg *config.RealtimeConfig,
	log logger.Interface,
) *Handler {
	return &Handler{
		credentials: credentials,
		tracker:     tracker,
		recovery:    recovery,
		buffer:      buffer,
		limiter:     limiter,
		cfg:         cfg,
		logger:      log,
	}
}

func (h *Handler) handshakeTimeout() time.Duration {
	return time.Duration(h.cfg.HandshakeTimeoutSeconds) * time.Second
}

func (h *Handler) writeTimeout() time.Duration {
	return time.Duration(h.cfg.WriteTimeoutSeconds) * time.Second
}

func (h *Handler) heartbeatInterval() time.Duration {
	return time.Duration(h.cfg.HeartbeatIntervalSeconds) * time.Second
}

func (h *Handler) readDeadline() time.Duration {
	return time.Duration(h.cfg.HeartbeatGraceMultiplier) * h.heartbeatInterval()
}

// RealtimeWS handles GET /ws. The connection is upgraded first and the
// client authenticates in-band: the first frame must be an auth message
// carrying a valid credential, or the connection is refused with a coded
// error frame.
func (h *Handler) RealtimeWS(c *gin.Context) {
	allowed, err := h.limiter.Allow("ws:"+c.ClientIP(), ratelimit.RateLimitConfig{
		RequestsPerMinute: h.cfg.MaxConnsPerMinute,
		RequestsPerHour:   h.cfg.MaxConnsPerMinute * 60,
	})
	if err != nil {
		h.logger.Errorw("rate limiter failure, admitting connection",
			"error", err,
			"ip", c.ClientIP(),
		)
	} else if !allowed {
		h.logger.Warnw("websocket connection rate limited", "ip", c.ClientIP())
		utils.ErrorResponse(c, http.StatusTooManyRequests, sharederrors.CodeRateLimited)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Errorw("failed to upgrade to websocket",
			"error", err,
			"ip", c.ClientIP(),
		)
		return
	}

	identity, connErr := h.authenticate(conn)
	if connErr != nil {
		h.refuse(conn, connErr)
		return
	}

	// Second admission gate, per user: the IP check above cannot stop one
	// identity reconnecting from many addresses.
	allowed, err = h.limiter.Allow("ws-user:"+identity.UserID, ratelimit.RateLimitConfig{
		RequestsPerMinute: h.cfg.MaxConnsPerMinute,
		RequestsPerHour:   h.cfg.MaxConnsPerMinute * 60,
	})
	if err != nil {
		h.logger.Errorw("rate limiter failure, admitting connection",
			"error", err,
			"user_id", identity.UserID,
		)
	} else if !allowed {
		h.refuse(conn, sharederrors.NewRateLimitedConnError())
		return
	}

	session := services.NewSession(identity, conn, h.cfg.SendQueueSize)
	if err := session.Transition(services.SessionAuthenticating); err != nil {
		conn.Close()
		return
	}

	h.logger.Infow("realtime websocket connected",
		"session_id", session.ID,
		"user_id", identity.UserID,
		"role", identity.Role,
		"ip", c.ClientIP(),
	)

	ctx := c.Request.Context()

	// Register before activating: the session is visible for presence but
	// the router skips it until it turns Active, so buffered history always
	// lands ahead of live traffic.
	h.tracker.Connect(ctx, session)

	h.ack(session)
	if err := h.recovery.ResyncSession(ctx, session); err != nil {
		h.logger.Errorw("resync failed on connect",
			"session_id", session.ID,
			"user_id", identity.UserID,
			"error", err,
		)
	}

	// Activation and the final drain happen under the identity's bucket
	// lock: a publish racing this connect either lands in the buffer and is
	// drained here, or is delivered live strictly after the history frame.
	if err := h.recovery.ActivateSession(ctx, session); err != nil {
		h.tracker.Disconnect(ctx, session.ID)
		session.Close()
		return
	}

	goroutine.SafeGo(h.logger, "gateway-write-pump", func() {
		h.writePump(session, conn)
	})
	h.readPump(session, conn)
}

// authenticate runs the in-band handshake: one auth frame within the
// handshake window, carrying a credential whose claims match the declared
// identity.
func (h *Handler) authenticate(conn *websocket.Conn) (realtime.Identity, *sharederrors.ConnectionError) {
	conn.SetReadDeadline(time.Now().Add(h.handshakeTimeout()))

	_, raw, err := conn.ReadMessage()
	if err != nil {
		return realtime.Identity{}, sharederrors.NewAuthRequiredError()
	}

	var msg protocol.ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil || msg.Type != protocol.MsgTypeAuth {
		return realtime.Identity{}, sharederrors.NewAuthRequiredError()
	}

	var payload protocol.AuthPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return realtime.Identity{}, sharederrors.NewAuthInvalidError("malformed auth payload")
	}
	if payload.Credential == "" {
		return realtime.Identity{}, sharederrors.NewAuthRequiredError()
	}

	claims, err := h.credentials.Verify(payload.Credential)
	if err != nil {
		return realtime.Identity{}, sharederrors.NewAuthInvalidError("credential rejected")
	}
	if payload.UserID != "" && payload.UserID != claims.UserID {
		return realtime.Identity{}, sharederrors.NewAuthInvalidError("credential does not match declared user")
	}
	if payload.Role != "" && authorization.ParseUserRole(payload.Role) != claims.Role {
		return realtime.Identity{}, sharederrors.NewAuthInvalidError("credential does not match declared role")
	}

	identity, err := realtime.NewIdentity(claims.UserID, claims.Role)
	if err != nil {
		return realtime.Identity{}, sharederrors.NewAuthInvalidError("credential carries invalid identity")
	}
	return identity, nil
}

// refuse sends a coded error frame and closes the transport. The failed
// connection never becomes a session.
func (h *Handler) refuse(conn *websocket.Conn, connErr *sharederrors.ConnectionError) {
	h.logger.Warnw("websocket connection refused",
		"code", connErr.Code,
		"reason", connErr.Message,
	)
	conn.SetWriteDeadline(time.Now().Add(h.writeTimeout()))
	conn.WriteJSON(&protocol.ServerMessage{
		Type: protocol.MsgTypeError,
		Payload: protocol.ErrorPayload{
			Code:    connErr.Code,
			Message: connErr.Message,
		},
		Timestamp: time.Now().UTC().UnixMilli(),
	})
	conn.Close()
}

func (h *Handler) ack(session *services.Session) {
	session.TrySend(&protocol.ServerMessage{
		Type: protocol.MsgTypeConnectionAck,
		Payload: gin.H{
			"sessionId":         session.ID,
			"heartbeatInterval": h.cfg.HeartbeatIntervalSeconds,
		},
		Timestamp: time.Now().UTC().UnixMilli(),
	})
}

// readPump consumes client frames until the connection drops. It owns the
// disconnect path: whatever ends the loop, the session is closed and
// presence is updated exactly once.
func (h *Handler) readPump(session *services.Session, conn *websocket.Conn) {
	defer func() {
		h.tracker.Disconnect(context.Background(), session.ID)
		session.Close()
	}()

	conn.SetReadLimit(65536)
	conn.SetReadDeadline(time.Now().Add(h.readDeadline()))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(h.readDeadline()))
		h.tracker.Heartbeat(context.Background(), session.ID)
		return nil
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warnw("realtime websocket read error",
					"error", err,
					"session_id", session.ID,
				)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(h.readDeadline()))

		var msg protocol.ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			h.logger.Warnw("failed to parse client frame",
				"error", err,
				"session_id", session.ID,
			)
			continue
		}
		h.handleClientMessage(session, msg)
	}
}

func (h *Handler) handleClientMessage(session *services.Session, msg protocol.ClientMessage) {
	ctx := context.Background()

	switch msg.Type {
	case protocol.MsgTypePing:
		h.tracker.Heartbeat(ctx, session.ID)
		session.TrySend(&protocol.ServerMessage{
			Type:      protocol.MsgTypePong,
			Timestamp: time.Now().UTC().UnixMilli(),
		})

	case protocol.MsgTypeSubscribe:
		var payload protocol.SubscribePayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			h.sendError(session, "SUBSCRIBE_INVALID", "malformed subscribe payload")
			return
		}
		if err := session.Subscribe(payload.Channel); err != nil {
			h.logger.Warnw("subscription rejected",
				"session_id", session.ID,
				"user_id", session.Identity.UserID,
				"channel", payload.Channel,
			)
			h.sendError(session, "SUBSCRIBE_FORBIDDEN", err.Error())
			return
		}
		session.TrySend(&protocol.ServerMessage{
			Type:      protocol.MsgTypeSubscribed,
			Payload:   protocol.SubscribePayload{Channel: payload.Channel},
			Timestamp: time.Now().UTC().UnixMilli(),
		})

	case protocol.MsgTypeRecoverState:
		var payload protocol.RecoverStatePayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			h.sendError(session, "RECOVER_INVALID", "malformed recover_state payload")
			return
		}
		if err := h.recovery.RecoverFrom(ctx, session, payload.LastAcknowledgedEventID); err != nil {
			h.logger.Errorw("state recovery failed",
				"session_id", session.ID,
				"user_id", session.Identity.UserID,
				"error", err,
			)
		}

	case protocol.MsgTypeUnreadRequest:
		if err := h.recovery.ResyncSession(ctx, session); err != nil {
			h.logger.Errorw("unread replay failed",
				"session_id", session.ID,
				"error", err,
			)
		}

	default:
		h.logger.Warnw("unhandled client frame type",
			"type", msg.Type,
			"session_id", session.ID,
		)
	}
}

func (h *Handler) sendError(session *services.Session, code, message string) {
	session.TrySend(&protocol.ServerMessage{
		Type:      protocol.MsgTypeError,
		Payload:   protocol.ErrorPayload{Code: code, Message: message},
		Timestamp: time.Now().UTC().UnixMilli(),
	})
}

// writePump flushes the session's send queue to the wire and keeps the
// connection alive with protocol pings.
func (h *Handler) writePump(session *services.Session, conn *websocket.Conn) {
	ticker := time.NewTicker(h.heartbeatInterval())
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case msg, ok := <-session.Send:
			conn.SetWriteDeadline(time.Now().Add(h.writeTimeout()))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(msg); err != nil {
				h.logger.Warnw("failed to write to realtime websocket",
					"error", err,
					"session_id", session.ID,
				)
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(h.writeTimeout()))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
