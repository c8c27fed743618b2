package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"
)

// LogLevel type alias for log level constants
type LogLevel string

// Log levels
const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// Config contains logger configuration options
type Config struct {
	// Level is the minimum level to log
	Level string
	// JSON enables JSON formatting instead of text
	JSON bool
	// Output is where logs will be written (defaults to os.Stderr)
	Output io.Writer
	// AddSource adds source code information to logs
	AddSource bool
}

// DefaultConfig returns a default logger configuration
func DefaultConfig() Config {
	return Config{
		Level:     "info",
		JSON:      true,
		Output:    os.Stderr,
		AddSource: false,
	}
}

// Logger wraps slog for structured logging
type Logger struct {
	*slog.Logger
	config Config
}

var global *Logger

// New creates a new logger with the given configuration
func New(config Config) *Logger {
	if config.Output == nil {
		config.Output = os.Stderr
	}

	opts := &slog.HandlerOptions{
		Level:     parseLevel(config.Level),
		AddSource: config.AddSource,
	}

	var handler slog.Handler
	if config.JSON {
		handler = slog.NewJSONHandler(config.Output, opts)
	} else {
		handler = slog.NewTextHandler(config.Output, opts)
	}

	l := &Logger{
		Logger: slog.New(handler),
		config: config,
	}

	if global == nil {
		global = l
	}

	return l
}

// Discard returns a logger that drops everything. Used by tests.
func Discard() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

func parseLevel(level string) slog.Level {
	switch LogLevel(level) {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetGlobal sets the global logger instance
func SetGlobal(logger *Logger) {
	global = logger
}

// GetGlobal returns the global logger instance, falling back to a default one
func GetGlobal() *Logger {
	if global == nil {
		return New(DefaultConfig())
	}
	return global
}

// LogError logs an error with context information
func (l *Logger) LogError(err error, msg string, args ...any) {
	if err == nil {
		l.Error(msg, args...)
		return
	}
	l.Error(msg, append([]any{"error", err.Error()}, args...)...)
}

func (l *Logger) with(key, value string) *Logger {
	if value == "" {
		return l
	}
	return &Logger{Logger: l.With(key, value), config: l.config}
}

// WithRequestID adds a request ID to the logger's context
func (l *Logger) WithRequestID(requestID string) *Logger {
	return l.with("request_id", requestID)
}

// WithUserID adds a user ID to the logger's context
func (l *Logger) WithUserID(userID string) *Logger {
	return l.with("user_id", userID)
}

// WithVisitID adds a visit ID to the logger's context
func (l *Logger) WithVisitID(visitID string) *Logger {
	return l.with("visit_id", visitID)
}

// WithConnectionID adds a websocket connection ID to the logger's context
func (l *Logger) WithConnectionID(connID string) *Logger {
	return l.with("conn_id", connID)
}

// WithComponent tags every record with the emitting component
func (l *Logger) WithComponent(name string) *Logger {
	return l.with("component", name)
}

// WithContext adds fields from the context to the logger
func (l *Logger) WithContext(ctx context.Context) *Logger {
	if ctx == nil {
		return l
	}
	if requestID, ok := ctx.Value(requestIDKey{}).(string); ok {
		return l.WithRequestID(requestID)
	}
	return l
}

type requestIDKey struct{}

// ContextWithRequestID stores a request ID for WithContext to pick up
func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// LogRequest logs details about an HTTP request
func (l *Logger) LogRequest(method, path string, status int, latency time.Duration) {
	l.Info("request completed",
		"method", method,
		"path", path,
		"status", status,
		"latency_ms", latency.Milliseconds(),
	)
}
