package config

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server struct {
		Port            string
		Env             string
		Timeout         time.Duration
		ShutdownTimeout time.Duration
	}

	// Database configuration
	Database struct {
		Driver   string
		Path     string
		Host     string
		Port     string
		User     string
		Password string
		Name     string
		SSLMode  string
		MaxConns int
		Retries  int
	}

	// Redis configuration, used when statistics are kept in redis
	Redis struct {
		URL          string
		StatsBackend string
	}

	// Security configuration
	Security struct {
		RateLimit        float64
		RateLimitBurst   int
		AllowedOrigins   []string
		TrustedProxies   []string
		MaxBodySize      int64
		ValidateRequests bool
	}

	// Logging configuration
	Logging struct {
		Level  string
		Format string
	}

	// Deepgram live transcription
	Deepgram struct {
		APIKey            string
		URL               string
		Model             string
		KeepAliveInterval time.Duration
		CloseTimeout      time.Duration
	}

	// Anthropic note and name generation
	Anthropic struct {
		APIKey         string
		BaseURL        string
		Version        string
		NoteModel      string
		NoteMaxTokens  int
		NameModel      string
		NameMaxTokens  int
		RequestTimeout time.Duration
	}

	// Field-level encryption of clinical text
	Encryption struct {
		Key string
	}

	// Vault secret resolution
	Vault struct {
		Enabled bool
		Address string
		Token   string
		Mount   string
		Path    string
	}

	// WebSocket connection settings
	WebSocket struct {
		SendBuffer      int
		InboxSize       int
		MaxMessageSize  int64
		AudioRateLimit  float64
		AudioRateBurst  int
		AllowAnyOrigins bool
	}

	// Cache settings
	Cache struct {
		Enabled     bool
		TTL         time.Duration
		MaxSize     int
		PurgeWindow time.Duration
	}

	// Observability settings
	Observability struct {
		ServiceName string
		StdoutTrace bool
	}
}

var (
	instance *Config
	once     sync.Once
)

// New creates a new Config instance with values from environment variables
// Uses singleton pattern to ensure only one instance exists
func New() *Config {
	once.Do(func() {
		// Load .env file if exists
		_ = godotenv.Load()

		instance = Load()
	})

	return instance
}

// Get returns the singleton Config instance
func Get() *Config {
	if instance == nil {
		return New()
	}
	return instance
}

// Load reads the configuration from the current environment without touching the singleton
func Load() *Config {
	cfg := &Config{}

	// Server config
	cfg.Server.Port = getEnvString("PORT", "8000")
	cfg.Server.Env = getEnvString("APP_ENV", "development")
	cfg.Server.Timeout = getEnvDuration("SERVER_TIMEOUT", 30*time.Second)
	cfg.Server.ShutdownTimeout = getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second)

	// Database config
	cfg.Database.Driver = getEnvString("DB_DRIVER", "postgres")
	cfg.Database.Path = getEnvString("DB_PATH", "halo.db")
	cfg.Database.Host = getEnvString("DB_HOST", "localhost")
	cfg.Database.Port = getEnvString("DB_PORT", "5432")
	cfg.Database.User = getEnvString("DB_USER", "postgres")
	cfg.Database.Password = getEnvString("DB_PASSWORD", "postgres")
	cfg.Database.Name = getEnvString("DB_NAME", "halo")
	cfg.Database.SSLMode = getEnvString("DB_SSL_MODE", "disable")
	cfg.Database.MaxConns = getEnvInt("DB_MAX_CONNS", 20)
	cfg.Database.Retries = getEnvInt("DB_RETRIES", 5)

	// Redis config
	cfg.Redis.URL = getEnvString("REDIS_URL", "redis://localhost:6379/0")
	cfg.Redis.StatsBackend = getEnvString("STATS_BACKEND", "database")

	// Security config
	cfg.Security.RateLimit = float64(getEnvInt("RATE_LIMIT", 20))
	cfg.Security.RateLimitBurst = getEnvInt("RATE_LIMIT_BURST", 40)
	cfg.Security.AllowedOrigins = getEnvStringSlice("ALLOWED_ORIGINS", []string{"*"})
	cfg.Security.TrustedProxies = getEnvStringSlice("TRUSTED_PROXIES", []string{"127.0.0.1"})
	cfg.Security.MaxBodySize = getEnvInt64("MAX_BODY_SIZE", 1<<20)
	cfg.Security.ValidateRequests = getEnvBool("VALIDATE_REQUESTS", true)

	// Logging config
	cfg.Logging.Level = getEnvString("LOG_LEVEL", "info")
	cfg.Logging.Format = getEnvString("LOG_FORMAT", "json")

	// Deepgram
	cfg.Deepgram.APIKey = getEnvString("DEEPGRAM_API_KEY", "")
	cfg.Deepgram.URL = getEnvString("DEEPGRAM_URL", "wss://api.deepgram.com/v1/listen")
	cfg.Deepgram.Model = getEnvString("DEEPGRAM_MODEL", "nova-2")
	cfg.Deepgram.KeepAliveInterval = getEnvDuration("DEEPGRAM_KEEPALIVE", 5*time.Second)
	cfg.Deepgram.CloseTimeout = getEnvDuration("DEEPGRAM_CLOSE_TIMEOUT", 10*time.Second)

	// Anthropic
	cfg.Anthropic.APIKey = getEnvString("ANTHROPIC_API_KEY", "")
	cfg.Anthropic.BaseURL = getEnvString("ANTHROPIC_BASE_URL", "https://api.anthropic.com")
	cfg.Anthropic.Version = getEnvString("ANTHROPIC_VERSION", "2023-06-01")
	cfg.Anthropic.NoteModel = getEnvString("ANTHROPIC_NOTE_MODEL", "claude-3-7-sonnet-latest")
	cfg.Anthropic.NoteMaxTokens = getEnvInt("ANTHROPIC_NOTE_MAX_TOKENS", 10000)
	cfg.Anthropic.NameModel = getEnvString("ANTHROPIC_NAME_MODEL", "claude-3-5-sonnet-latest")
	cfg.Anthropic.NameMaxTokens = getEnvInt("ANTHROPIC_NAME_MAX_TOKENS", 8192)
	cfg.Anthropic.RequestTimeout = getEnvDuration("ANTHROPIC_TIMEOUT", 5*time.Minute)

	// Encryption
	cfg.Encryption.Key = getEnvString("FIELD_ENCRYPTION_KEY", "")

	// Vault
	cfg.Vault.Enabled = getEnvBool("VAULT_ENABLED", false)
	cfg.Vault.Address = getEnvString("VAULT_ADDR", "http://localhost:8200")
	cfg.Vault.Token = getEnvString("VAULT_TOKEN", "")
	cfg.Vault.Mount = getEnvString("VAULT_MOUNT", "secret")
	cfg.Vault.Path = getEnvString("VAULT_PATH", "halo")

	// WebSocket
	cfg.WebSocket.SendBuffer = getEnvInt("WS_SEND_BUFFER", 256)
	cfg.WebSocket.InboxSize = getEnvInt("WS_INBOX_SIZE", 256)
	cfg.WebSocket.MaxMessageSize = getEnvInt64("WS_MAX_MESSAGE_SIZE", 1<<20)
	cfg.WebSocket.AudioRateLimit = float64(getEnvInt("WS_AUDIO_RATE_LIMIT", 50))
	cfg.WebSocket.AudioRateBurst = getEnvInt("WS_AUDIO_RATE_BURST", 100)
	cfg.WebSocket.AllowAnyOrigins = getEnvBool("WS_ALLOW_ANY_ORIGIN", true)

	// Cache settings
	cfg.Cache.Enabled = getEnvBool("CACHE_ENABLED", true)
	cfg.Cache.TTL = getEnvDuration("CACHE_TTL", 5*time.Minute)
	cfg.Cache.MaxSize = getEnvInt("CACHE_MAX_SIZE", 1000)
	cfg.Cache.PurgeWindow = getEnvDuration("CACHE_PURGE_WINDOW", 10*time.Minute)

	// Observability
	cfg.Observability.ServiceName = getEnvString("OTEL_SERVICE_NAME", "halo-backend")
	cfg.Observability.StdoutTrace = getEnvBool("OTEL_STDOUT", false)

	return cfg
}

// IsDevelopment reports whether the service runs in the development environment
func (c *Config) IsDevelopment() bool {
	return c.Server.Env == "development"
}

// Helper functions to read environment variables with default values

func getEnvString(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	}
	return defaultValue
}
