// Package api exposes the REST surface of the realtime subsystem: event
// publishing for backend producers and presence/notification queries for
// dashboards.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"gestionale/internal/domain/realtime"
	"gestionale/internal/infrastructure/services"
	"gestionale/internal/shared/authorization"
	"gestionale/internal/shared/constants"
	"gestionale/internal/shared/errors"
	"gestionale/internal/shared/logger"
	"gestionale/internal/shared/utils"
)

type Handler struct {
	router  *services.EventRouter
	tracker *services.PresenceTracker
	buffer  *services.NotificationBuffer
	logger  logger.Interface
}

func NewHandler(
	router *services.EventRouter,
	tracker *services.PresenceTracker,
	buffer *services.NotificationBuffer,
	log logger.Interface,
) *Handler {
	return &Handler{
		router:  router,
		tracker: tracker,
		buffer:  buffer,
		logger:  log,
	}
}

// PublishEventRequest is the body of POST /api/events.
type PublishEventRequest struct {
	Type     string            `json:"type" binding:"required"`
	Audience realtime.Audience `json:"audience"`
	Payload  json.RawMessage   `json:"payload"`
}

// PublishEvent handles POST /api/events. Producers (order service, backup
// job) push domain events here; the receipt tells them who got it live and
// who will see it on reconnect.
func (h *Handler) PublishEvent(c *gin.Context) {
	var req PublishEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponseWithError(c, errors.NewValidationError("invalid event", err.Error()))
		return
	}
	if err := req.Audience.Validate(); err != nil {
		utils.ErrorResponseWithError(c, errors.NewValidationError("invalid audience", err.Error()))
		return
	}

	receipt, err := h.router.PublishEvent(c.Request.Context(), req.Type, req.Audience, req.Payload)
	if err != nil {
		h.logger.Errorw("failed to publish event",
			"type", req.Type,
			"audience", req.Audience.String(),
			"error", err,
		)
		utils.ErrorResponseWithError(c, err)
		return
	}

	utils.SuccessResponse(c, http.StatusAccepted, "event routed", receipt)
}

// presenceDTO is the wire shape of one presence record.
type presenceDTO struct {
	UserID   string `json:"userId"`
	Role     string `json:"role"`
	Online   bool   `json:"online"`
	LastSeen int64  `json:"lastSeen"`
}

func toPresenceDTO(record realtime.PresenceRecord) presenceDTO {
	return presenceDTO{
		UserID:   record.UserID,
		Role:     string(record.Role),
		Online:   record.Online,
		LastSeen: record.LastSeen.UnixMilli(),
	}
}

// ListPresence handles GET /api/presence. Admin only.
func (h *Handler) ListPresence(c *gin.Context) {
	records, err := h.tracker.Snapshot(c.Request.Context())
	if err != nil {
		utils.ErrorResponseWithError(c, err)
		return
	}

	presences := make([]presenceDTO, 0, len(records))
	for _, record := range records {
		presences = append(presences, toPresenceDTO(record))
	}
	utils.SuccessResponse(c, http.StatusOK, "", presences)
}

// GetPresence handles GET /api/presence/:userId.
func (h *Handler) GetPresence(c *gin.Context) {
	userID := c.Param("userId")
	record, err := h.tracker.StatusOf(c.Request.Context(), userID)
	if err != nil {
		utils.ErrorResponseWithError(c, err)
		return
	}
	if record == nil {
		utils.ErrorResponseWithError(c, errors.NewNotFoundError("unknown user"))
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "", toPresenceDTO(*record))
}

// unreadDTO is one queued notification in the unread listing.
type unreadDTO struct {
	EventID    string          `json:"eventId"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	BufferedAt int64           `json:"bufferedAt"`
}

// UnreadNotifications handles GET /api/notifications/unread. Callers see
// their own queue; admins may inspect another user's via ?userId=. Listing
// is a read-only peek, entries are only removed once delivered over a
// socket.
func (h *Handler) UnreadNotifications(c *gin.Context) {
	userID := c.GetString(constants.ContextKeyUserID)

	if requested := c.Query("userId"); requested != "" && requested != userID {
		role := authorization.ParseUserRole(c.GetString(constants.ContextKeyUserRole))
		if !role.IsAdmin() {
			utils.ErrorResponseWithError(c, errors.NewForbiddenError("only admins may inspect other users"))
			return
		}
		userID = requested
	}

	items, err := h.buffer.Drain(c.Request.Context(), userID)
	if err != nil {
		utils.ErrorResponseWithError(c, err)
		return
	}

	unread := make([]unreadDTO, 0, len(items))
	for _, item := range items {
		unread = append(unread, unreadDTO{
			EventID:    item.Envelope.EventID,
			Type:       item.Envelope.Type,
			Payload:    item.Envelope.Payload,
			BufferedAt: item.BufferedAt.UnixMilli(),
		})
	}
	utils.SuccessResponse(c, http.StatusOK, "", unread)
}

// Health handles GET /health.
func (h *Handler) Health(c *gin.Context) {
	stats := h.buffer.Stats()
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
		"buffer": stats,
	})
}
