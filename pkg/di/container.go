package di

import (
	"context"
	"fmt"
	"time"

	"github.com/KeshavSoni17/halo-backend/internal/models"
	"github.com/KeshavSoni17/halo-backend/internal/notegen"
	"github.com/KeshavSoni17/halo-backend/internal/pipeline"
	"github.com/KeshavSoni17/halo-backend/internal/stats"
	"github.com/KeshavSoni17/halo-backend/internal/store"
	"github.com/KeshavSoni17/halo-backend/internal/transcription"
	"github.com/KeshavSoni17/halo-backend/internal/ws"
	"github.com/KeshavSoni17/halo-backend/pkg/cache"
	"github.com/KeshavSoni17/halo-backend/pkg/config"
	"github.com/KeshavSoni17/halo-backend/pkg/fieldcrypt"
	"github.com/KeshavSoni17/halo-backend/pkg/health"
	"github.com/KeshavSoni17/halo-backend/pkg/logger"
	"github.com/KeshavSoni17/halo-backend/pkg/middleware"
	"github.com/KeshavSoni17/halo-backend/pkg/resilience"
	"github.com/KeshavSoni17/halo-backend/pkg/validator"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

// Container holds all the dependencies for the application
type Container struct {
	Config *config.Config
	DB     *gorm.DB
	Logger *logger.Logger

	Store         *store.Store
	Templates     *cache.Cache[models.Template]
	Stats         *stats.Aggregator
	Redis         *redis.Client
	Transcription *transcription.Manager
	Generator     *notegen.Generator
	Hub           *ws.Hub
	Pipeline      *pipeline.Pipeline
	WSServer      *ws.Server

	RateLimiter      *middleware.RateLimiter
	AudioLimiter     *middleware.RateLimiter
	DeepgramBreaker  *resilience.CircuitBreaker
	AnthropicBreaker *resilience.CircuitBreaker
	Health           *health.Checker
	Validator        *validator.OpenAPIValidator
}

// New wires the application. ctx bounds background work such as
// transcript appends and note generation, and should live as long as the
// process.
func New(ctx context.Context, cfg *config.Config, db *gorm.DB, log *logger.Logger) (*Container, error) {
	cipher, err := newCipher(cfg, log)
	if err != nil {
		return nil, err
	}

	var templates *cache.Cache[models.Template]
	if cfg.Cache.Enabled {
		templates = cache.New[models.Template](cache.Options{
			TTL:             cfg.Cache.TTL,
			CleanupInterval: cfg.Cache.PurgeWindow,
			MaxItems:        cfg.Cache.MaxSize,
		})
	}

	recordStore := store.New(db, cipher, templates, log)

	counter, redisClient, err := newCounter(cfg, db)
	if err != nil {
		return nil, err
	}
	aggregator := stats.NewAggregator(counter, log)

	deepgramBreaker := resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig("deepgram"), log)
	anthropicBreaker := resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig("anthropic"), log)

	deepgram := transcription.NewDeepgram(transcription.DeepgramConfig{
		APIKey:            cfg.Deepgram.APIKey,
		URL:               cfg.Deepgram.URL,
		Model:             cfg.Deepgram.Model,
		KeepAliveInterval: cfg.Deepgram.KeepAliveInterval,
		CloseTimeout:      cfg.Deepgram.CloseTimeout,
	}, deepgramBreaker, log)
	manager := transcription.NewManager(ctx, deepgram, cfg.Deepgram.CloseTimeout, log)

	anthropic := notegen.NewAnthropic(notegen.AnthropicConfig{
		APIKey:  cfg.Anthropic.APIKey,
		BaseURL: cfg.Anthropic.BaseURL,
		Version: cfg.Anthropic.Version,
		Timeout: cfg.Anthropic.RequestTimeout,
	}, anthropicBreaker, log)
	generator := notegen.NewGenerator(anthropic, notegen.Models{
		NoteModel:     cfg.Anthropic.NoteModel,
		NoteMaxTokens: cfg.Anthropic.NoteMaxTokens,
		NameModel:     cfg.Anthropic.NameModel,
		NameMaxTokens: cfg.Anthropic.NameMaxTokens,
	}, log)

	hub := ws.NewHub(log)
	visits := pipeline.New(recordStore, manager, generator, aggregator, hub, log)

	restLimiter := middleware.NewRateLimiter(log, middleware.RateLimiterOptions{
		Limit:          rate.Limit(cfg.Security.RateLimit),
		Burst:          cfg.Security.RateLimitBurst,
		ExpiryDuration: time.Hour,
	})
	audioLimiter := middleware.NewRateLimiter(log, middleware.RateLimiterOptions{
		Limit:          rate.Limit(cfg.WebSocket.AudioRateLimit),
		Burst:          cfg.WebSocket.AudioRateBurst,
		ExpiryDuration: 10 * time.Minute,
	})

	wsServer := ws.NewServer(ctx, hub, visits, audioLimiter, ws.Options{
		SendBuffer:     cfg.WebSocket.SendBuffer,
		InboxSize:      cfg.WebSocket.InboxSize,
		MaxMessageSize: cfg.WebSocket.MaxMessageSize,
		AllowedOrigins: cfg.Security.AllowedOrigins,
		AllowAnyOrigin: cfg.WebSocket.AllowAnyOrigins,
	}, log)

	checker := health.NewChecker(log, 30*time.Second)
	checker.RegisterDatabaseCheck(recordStore.Ping)
	checker.RegisterUpstreamCheck("deepgram", deepgramBreaker)
	checker.RegisterUpstreamCheck("anthropic", anthropicBreaker)
	if templates != nil {
		checker.RegisterCheck("template-cache", false, func(context.Context) (health.Status, string, error) {
			return health.StatusUp, fmt.Sprintf("%d templates cached", templates.Count()), nil
		})
	}
	if redisClient != nil {
		checker.RegisterCheck("redis", true, func(ctx context.Context) (health.Status, string, error) {
			if err := redisClient.Ping(ctx).Err(); err != nil {
				return health.StatusDown, "redis unreachable", err
			}
			return health.StatusUp, "redis reachable", nil
		})
	}

	var requestValidator *validator.OpenAPIValidator
	if cfg.Security.ValidateRequests {
		requestValidator, err = validator.New()
		if err != nil {
			return nil, fmt.Errorf("failed to load request schema: %w", err)
		}
	}

	return &Container{
		Config:           cfg,
		DB:               db,
		Logger:           log,
		Store:            recordStore,
		Templates:        templates,
		Stats:            aggregator,
		Redis:            redisClient,
		Transcription:    manager,
		Generator:        generator,
		Hub:              hub,
		Pipeline:         visits,
		WSServer:         wsServer,
		RateLimiter:      restLimiter,
		AudioLimiter:     audioLimiter,
		DeepgramBreaker:  deepgramBreaker,
		AnthropicBreaker: anthropicBreaker,
		Health:           checker,
		Validator:        requestValidator,
	}, nil
}

// Start launches the background loops
func (c *Container) Start(ctx context.Context) {
	c.Health.Start(ctx)
	go c.RateLimiter.RunCleanup(ctx)
	go c.AudioLimiter.RunCleanup(ctx)
}

// Close ends every open transcription session and releases clients
func (c *Container) Close(ctx context.Context) {
	c.Transcription.CloseAll(ctx)
	if c.Templates != nil {
		c.Templates.Close()
	}
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			c.Logger.LogError(err, "failed to close redis client")
		}
	}
}

func newCipher(cfg *config.Config, log *logger.Logger) (fieldcrypt.Cipher, error) {
	if cfg.Encryption.Key == "" {
		if !cfg.IsDevelopment() {
			return nil, fmt.Errorf("FIELD_ENCRYPTION_KEY is required outside development")
		}
		log.Warn("field encryption disabled, clinical text is stored in plaintext")
		return fieldcrypt.Noop{}, nil
	}
	return fieldcrypt.New(cfg.Encryption.Key)
}

func newCounter(cfg *config.Config, db *gorm.DB) (stats.Counter, *redis.Client, error) {
	switch cfg.Redis.StatsBackend {
	case "redis":
		client, err := stats.NewRedisClient(cfg.Redis.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create redis client: %w", err)
		}
		return stats.NewRedisCounter(client, 0), client, nil
	case "", "database":
		return stats.NewGormCounter(db), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown statistics backend %q", cfg.Redis.StatsBackend)
	}
}
