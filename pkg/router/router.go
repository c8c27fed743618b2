package router

import (
	"net/http"
	"slices"
	"time"

	"github.com/KeshavSoni17/halo-backend/internal/api"
	"github.com/KeshavSoni17/halo-backend/pkg/config"
	"github.com/KeshavSoni17/halo-backend/pkg/di"
	"github.com/KeshavSoni17/halo-backend/pkg/errors"
	"github.com/KeshavSoni17/halo-backend/pkg/logger"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// Router is the main router for the application
type Router struct {
	Engine    *gin.Engine
	Container *di.Container
	Logger    *logger.Logger
	Config    *config.Config
	metrics   http.Handler
}

// New creates a new router with the given container. metrics serves
// /metrics when non-nil.
func New(container *di.Container, metrics http.Handler) *Router {
	cfg := container.Config

	// Configure Gin mode based on environment
	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	if err := engine.SetTrustedProxies(cfg.Security.TrustedProxies); err != nil {
		container.Logger.LogError(err, "invalid trusted proxies, trusting none")
		_ = engine.SetTrustedProxies(nil)
	}

	engine.Use(otelgin.Middleware(cfg.Observability.ServiceName))

	// Use the logger middleware first to capture all requests
	engine.Use(logger.Middleware(container.Logger))

	engine.Use(errors.ErrorHandler())

	// Add custom recovery middleware with structured logging instead of default
	engine.Use(errors.RecoveryWithLogger())

	return &Router{
		Engine:    engine,
		Container: container,
		Logger:    container.Logger,
		Config:    cfg,
		metrics:   metrics,
	}
}

// SetupRoutes registers all application routes
func (r *Router) SetupRoutes() {
	r.Engine.Use(corsMiddleware(r.Config.Security.AllowedOrigins))

	r.Engine.GET("/health", r.Container.Health.Handler())
	if r.metrics != nil {
		r.Engine.GET("/metrics", gin.WrapH(r.metrics))
	}

	// WebSocket route, rate limited per audio chunk inside the connection
	r.Engine.GET("/ws", r.Container.WSServer.ServeWs)

	v1 := r.Engine.Group("/api/v1")
	v1.Use(r.Container.RateLimiter.Middleware(), bodyLimit(r.Config.Security.MaxBodySize))
	if r.Container.Validator != nil {
		v1.Use(r.Container.Validator.Middleware())
	}

	api.RegisterRoutes(v1,
		api.NewVisitHandler(r.Container.Store),
		api.NewStatisticsHandler(r.Container.Stats),
		api.NewUserHandler(r.Container.Store),
	)
}

func bodyLimit(max int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if max > 0 && c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, max)
		}
		c.Next()
	}
}

// corsMiddleware allows the configured origins and the WebSocket upgrade headers
func corsMiddleware(allowed []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Content-Length", "Accept", "Accept-Encoding", "Upgrade", "Connection", "Cache-Control", "X-Request-ID", logger.UserIDHeader},
		ExposeHeaders:    []string{"Upgrade", "Connection", "X-Request-ID"},
		AllowCredentials: false,
		AllowWebSockets:  true,
		MaxAge:           24 * time.Hour,
	}

	if len(allowed) == 0 || slices.Contains(allowed, "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = allowed
	}

	return cors.New(cfg)
}
