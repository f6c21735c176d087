package logger

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
)

// instanceID tags every line so logs from several replicas can be told apart.
var instanceID = resolveInstanceID()

func resolveInstanceID() string {
	// Kubernetes sets HOSTNAME.
	for _, key := range []string{"INSTANCE_ID", "HOSTNAME", "POD_NAME"} {
		if id := os.Getenv(key); id != "" {
			return id
		}
	}
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// Config holds the configuration of the logger.
type Config struct {
	Level  slog.Level
	Format string
	// Output defaults to stdout.
	Output io.Writer
}

// contextKey is used for context values.
type contextKey string

const (
	ContextKeyRequestID    contextKey = "request_id"
	ContextKeyRecipientID  contextKey = "recipient_id"
	ContextKeyMessageID    contextKey = "message_id"
	ContextKeySubmissionID contextKey = "submission_id"
	ContextKeyOperation    contextKey = "operation"
)

// contextAttrs lists the context values copied onto log lines, in output order.
var contextAttrs = []contextKey{
	ContextKeyRequestID,
	ContextKeyRecipientID,
	ContextKeyMessageID,
	ContextKeySubmissionID,
	ContextKeyOperation,
}

// Logger wraps slog.Logger.
type Logger struct {
	*slog.Logger
}

// New creates a new logger with the given config.
func New(config Config) *Logger {
	out := config.Output
	if out == nil {
		out = os.Stdout
	}
	return &Logger{
		Logger: slog.New(newHandler(out, config)).With(slog.String("instance_id", instanceID)),
	}
}

func newHandler(out io.Writer, config Config) slog.Handler {
	if config.Format == "json" {
		return slog.NewJSONHandler(out, &slog.HandlerOptions{
			Level:     config.Level,
			AddSource: true,
			ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
				if a.Key == slog.TimeKey {
					return slog.String(a.Key, a.Value.Time().Format(time.RFC3339))
				}
				return a
			},
		})
	}

	return tint.NewHandler(out, &tint.Options{
		Level:      config.Level,
		AddSource:  true,
		TimeFormat: time.Kitchen,
	})
}

// FromConfig builds a logger Config from LOG_LEVEL and LOG_FORMAT. Unknown levels
// fall back to debug. APP_ENV=production always logs JSON.
func FromConfig(logLevel, logFormat string) Config {
	config := Config{Level: slog.LevelDebug, Format: "text"}

	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevel)); err == nil {
		config.Level = level
	}
	if logFormat != "" {
		config.Format = logFormat
	}
	if os.Getenv("APP_ENV") == "production" {
		config.Format = "json"
	}

	return config
}

// WithContext returns a logger carrying the identifiers stored in ctx.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	logger := l.Logger
	for _, key := range contextAttrs {
		if v, ok := ctx.Value(key).(string); ok && v != "" {
			logger = logger.With(slog.String(string(key), v))
		}
	}
	return &Logger{Logger: logger}
}

// WithComponent creates a new logger with a component name.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		Logger: l.With(slog.String("component", component)),
	}
}
