// Package http wires the realtime subsystem behind a Gin engine: the
// WebSocket gateway, the producer/dashboard REST surface and the shared
// middleware stack.
package http

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"gestionale/internal/domain/realtime"
	"gestionale/internal/infrastructure/auth"
	"gestionale/internal/infrastructure/config"
	"gestionale/internal/infrastructure/ratelimit"
	"gestionale/internal/infrastructure/repository"
	"gestionale/internal/infrastructure/services"
	"gestionale/internal/interfaces/http/handlers/api"
	"gestionale/internal/interfaces/http/handlers/gateway"
	"gestionale/internal/interfaces/http/middleware"
	"gestionale/internal/shared/authorization"
	"gestionale/internal/shared/logger"
)

// Router owns the Gin engine and every realtime service behind it.
type Router struct {
	engine   *gin.Engine
	cfg      *config.Config
	logger   logger.Interface
	degraded bool

	registry *services.SessionRegistry
	buffer   *services.NotificationBuffer
	tracker  *services.PresenceTracker
	events   *services.EventRouter
	recovery *services.RecoveryCoordinator

	apiHandler     *api.Handler
	gatewayHandler *gateway.Handler
	authMiddleware *middleware.AuthMiddleware
	limiter        ratelimit.RateLimiter
}

// NewRouter builds the full dependency graph. A nil db switches the
// subsystem into degraded mode: in-memory stores, no durability across a
// restart, but live delivery keeps working. A nil redis client falls back
// to the in-process rate limiter.
func NewRouter(db *gorm.DB, redisClient *redis.Client, cfg *config.Config, log logger.Interface) *Router {
	engine := gin.New()

	var presenceRepo realtime.PresenceRepository
	var bufferRepo realtime.BufferRepository
	degraded := db == nil
	if degraded {
		log.Warnw("no database available, running realtime subsystem in degraded mode")
		presenceRepo = repository.NewMemoryPresenceRepository()
		bufferRepo = repository.NewMemoryBufferRepository()
	} else {
		presenceRepo = repository.NewPresenceRepository(db)
		bufferRepo = repository.NewBufferRepository(db)
	}

	var limiter ratelimit.RateLimiter
	if redisClient != nil {
		limiter = ratelimit.NewRedisRateLimiter(redisClient)
	} else {
		limiter = ratelimit.NewMemoryRateLimiter()
	}

	registry := services.NewSessionRegistry(log)
	buffer := services.NewNotificationBuffer(
		bufferRepo,
		cfg.Realtime.BufferCapacityPerUser,
		time.Duration(cfg.Realtime.BufferRetentionHours)*time.Hour,
		time.Duration(cfg.Realtime.SweepIntervalMinutes)*time.Minute,
		log,
	)
	events := services.NewEventRouter(registry, buffer, log)
	tracker := services.NewPresenceTracker(
		registry,
		events,
		presenceRepo,
		time.Duration(cfg.Realtime.HeartbeatIntervalSeconds)*time.Second,
		cfg.Realtime.HeartbeatGraceMultiplier,
		log,
	)
	// Sessions the router drops for stalling go through the tracker, so a
	// forced disconnect flips presence like any other.
	events.SetDisconnectHandler(tracker.Disconnect)
	recovery := services.NewRecoveryCoordinator(registry, buffer, presenceRepo, log)

	credentials := auth.NewCredentialService(cfg.Auth.JWT.Secret, cfg.Auth.JWT.AccessExpMinutes)

	return &Router{
		engine:         engine,
		cfg:            cfg,
		logger:         log,
		degraded:       degraded,
		registry:       registry,
		buffer:         buffer,
		tracker:        tracker,
		events:         events,
		recovery:       recovery,
		apiHandler:     api.NewHandler(events, tracker, buffer, log),
		gatewayHandler: gateway.NewHandler(credentials, tracker, recovery, buffer, limiter, &cfg.Realtime, log),
		authMiddleware: middleware.NewAuthMiddleware(credentials, log),
		limiter:        limiter,
	}
}

// SetupRoutes configures all HTTP routes.
func (r *Router) SetupRoutes() {
	r.engine.Use(middleware.Logger(r.logger))
	r.engine.Use(middleware.Recovery())
	r.engine.Use(middleware.CORS(r.cfg.Server.AllowedOrigins))
	r.engine.Use(middleware.SecurityHeaders())

	r.engine.GET("/health", r.apiHandler.Health)

	r.engine.GET("/ws", r.gatewayHandler.RealtimeWS)

	apiGroup := r.engine.Group("/api")
	apiGroup.Use(middleware.IPRateLimit(r.limiter, ratelimit.RateLimitConfig{
		RequestsPerMinute: 300,
		RequestsPerHour:   5000,
	}))
	apiGroup.Use(r.authMiddleware.RequireAuth())
	{
		apiGroup.POST("/events", authorization.RequirePublisher(), r.apiHandler.PublishEvent)
		apiGroup.GET("/presence", authorization.RequireAdmin(), r.apiHandler.ListPresence)
		apiGroup.GET("/presence/:userId", r.apiHandler.GetPresence)
		apiGroup.GET("/notifications/unread", r.apiHandler.UnreadNotifications)
	}
}

// Start restores durable state and launches the background workers. Called
// once before the engine begins serving.
func (r *Router) Start(ctx context.Context) error {
	if err := r.recovery.Restore(ctx); err != nil {
		return err
	}
	r.buffer.Start()
	r.tracker.Start()
	return nil
}

// Shutdown stops the workers and closes every live session.
func (r *Router) Shutdown() {
	r.tracker.Stop()
	r.events.Shutdown()
	for _, session := range r.registry.AllSessions() {
		session.Close()
	}
}

// Degraded reports whether the subsystem is running without durable stores.
func (r *Router) Degraded() bool {
	return r.degraded
}

// GetEngine returns the Gin engine.
func (r *Router) GetEngine() *gin.Engine {
	return r.engine
}
