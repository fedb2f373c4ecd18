package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gestionale/internal/domain/realtime"
	"gestionale/internal/infrastructure/repository"
	"gestionale/internal/infrastructure/services"
	"gestionale/internal/shared/authorization"
	"gestionale/internal/shared/constants"
	"gestionale/internal/shared/logger"
)

type apiFixture struct {
	engine   *gin.Engine
	buffer   *services.NotificationBuffer
	registry *services.SessionRegistry
	presence *repository.MemoryPresenceRepository
}

// asUser injects the identity the auth middleware would have set.
func asUser(userID string, role authorization.UserRole) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(constants.ContextKeyUserID, userID)
		c.Set(constants.ContextKeyUserRole, string(role))
		c.Next()
	}
}

func newAPIFixture(t *testing.T, userID string, role authorization.UserRole) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log := logger.NewLogger()
	registry := services.NewSessionRegistry(log)
	presenceRepo := repository.NewMemoryPresenceRepository()
	buffer := services.NewNotificationBuffer(repository.NewMemoryBufferRepository(), 100, 24*time.Hour, time.Minute, log)
	events := services.NewEventRouter(registry, buffer, log)
	tracker := services.NewPresenceTracker(registry, events, presenceRepo, 30*time.Second, 3, log)
	events.SetDisconnectHandler(tracker.Disconnect)

	handler := NewHandler(events, tracker, buffer, log)

	engine := gin.New()
	engine.Use(asUser(userID, role))
	engine.POST("/api/events", authorization.RequirePublisher(), handler.PublishEvent)
	engine.GET("/api/presence", authorization.RequireAdmin(), handler.ListPresence)
	engine.GET("/api/presence/:userId", handler.GetPresence)
	engine.GET("/api/notifications/unread", handler.UnreadNotifications)
	engine.GET("/health", handler.Health)

	return &apiFixture{
		engine:   engine,
		buffer:   buffer,
		registry: registry,
		presence: presenceRepo,
	}
}

func (f *apiFixture) request(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)
	return w
}

func TestPublishEventBuffersForKnownOfflineUser(t *testing.T) {
	fixture := newAPIFixture(t, "op-1", authorization.RoleOperator)
	fixture.registry.SeedIdentity(mustIdentity(t, "view-1", authorization.RoleViewer))

	body := map[string]any{
		"type": realtime.EventNuovoOrdine,
		"audience": map[string]any{
			"scope":   "user",
			"user_id": "view-1",
		},
		"payload": map[string]any{"orderId": 7},
	}
	w := fixture.request(t, http.MethodPost, "/api/events", body)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var resp struct {
		Success bool `json:"success"`
		Data    struct {
			EventID  string   `json:"eventId"`
			Buffered []string `json:"buffered"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.NotEmpty(t, resp.Data.EventID)
	assert.Equal(t, []string{"view-1"}, resp.Data.Buffered)

	count, err := fixture.buffer.PendingCount(context.Background(), "view-1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestPublishEventRejectsViewers(t *testing.T) {
	fixture := newAPIFixture(t, "view-1", authorization.RoleViewer)

	body := map[string]any{
		"type":     realtime.EventBackupCompleto,
		"audience": map[string]any{"scope": "broadcast"},
	}
	w := fixture.request(t, http.MethodPost, "/api/events", body)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestPublishEventRejectsUnknownAudienceScope(t *testing.T) {
	fixture := newAPIFixture(t, "admin-1", authorization.RoleAdmin)

	body := map[string]any{
		"type":     realtime.EventNuovoOrdine,
		"audience": map[string]any{"scope": "galaxy"},
	}
	w := fixture.request(t, http.MethodPost, "/api/events", body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListPresenceRequiresAdmin(t *testing.T) {
	operator := newAPIFixture(t, "op-1", authorization.RoleOperator)
	w := operator.request(t, http.MethodGet, "/api/presence", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	admin := newAPIFixture(t, "admin-1", authorization.RoleAdmin)
	require.NoError(t, admin.presence.Upsert(context.Background(), realtime.PresenceRecord{
		UserID: "op-1", Role: authorization.RoleOperator, Online: true, LastSeen: time.Now().UTC(),
	}))

	w = admin.request(t, http.MethodGet, "/api/presence", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data []struct {
			UserID string `json:"userId"`
			Online bool   `json:"online"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "op-1", resp.Data[0].UserID)
	assert.True(t, resp.Data[0].Online)
}

func TestGetPresenceUnknownUser(t *testing.T) {
	fixture := newAPIFixture(t, "op-1", authorization.RoleOperator)
	w := fixture.request(t, http.MethodGet, "/api/presence/ghost", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUnreadNotificationsScopedToCaller(t *testing.T) {
	fixture := newAPIFixture(t, "op-1", authorization.RoleOperator)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		envelope, err := realtime.NewEnvelope(realtime.EventOrdineAggiornato,
			realtime.UserAudience("op-1"), json.RawMessage(fmt.Sprintf(`{"seq":%d}`, i)))
		require.NoError(t, err)
		require.NoError(t, fixture.buffer.Enqueue(ctx, "op-1", envelope))
	}

	w := fixture.request(t, http.MethodGet, "/api/notifications/unread", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data []struct {
			EventID string `json:"eventId"`
			Type    string `json:"type"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Data, 2)

	// Listing is a peek: nothing is consumed.
	count, err := fixture.buffer.PendingCount(ctx, "op-1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	// A non-admin may not read someone else's queue.
	w = fixture.request(t, http.MethodGet, "/api/notifications/unread?userId=admin-1", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestHealthReportsBufferStats(t *testing.T) {
	fixture := newAPIFixture(t, "op-1", authorization.RoleOperator)
	w := fixture.request(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
}

func mustIdentity(t *testing.T, userID string, role authorization.UserRole) realtime.Identity {
	t.Helper()
	identity, err := realtime.NewIdentity(userID, role)
	require.NoError(t, err)
	return identity
}
