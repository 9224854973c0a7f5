// Package logging holds the process logger of the sync client. Every
// component logs through a child of Logger tagged with its name.
package logging

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the process logger.
var Logger zerolog.Logger

// Config selects level, format and destination.
type Config struct {
	// Level is one of trace, debug, info, warn, error. Unknown values mean info.
	Level string

	// Format is console (human readable) or json.
	Format string

	// Output defaults to stderr.
	Output io.Writer

	// EnableCaller adds file:line to every event.
	EnableCaller bool
}

// New builds a logger from cfg without touching the process logger.
func New(cfg Config) zerolog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if !strings.EqualFold(cfg.Format, "json") {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.TimeOnly}
	}
	lc := zerolog.New(out).Level(ParseLevel(cfg.Level)).With().Timestamp()
	if cfg.EnableCaller {
		lc = lc.Caller()
	}
	return lc.Logger()
}

// Init replaces the process logger. Loggers derived before the call keep
// their old destination.
func Init(cfg Config) {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	Logger = New(cfg)
	zerolog.DefaultContextLogger = &Logger
}

// ParseLevel maps a level name onto zerolog, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "warning":
		return zerolog.WarnLevel
	case "", "info":
		return zerolog.InfoLevel
	}
	parsed, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || parsed == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return parsed
}

// WithContext attaches logger to ctx.
func WithContext(ctx context.Context, logger zerolog.Logger) context.Context {
	return logger.WithContext(ctx)
}

// FromContext returns the logger attached to ctx, or the process logger.
func FromContext(ctx context.Context) *zerolog.Logger {
	return zerolog.Ctx(ctx)
}

// Component returns a child of the process logger tagged with name.
func Component(name string) zerolog.Logger {
	return Logger.With().Str("component", name).Logger()
}

// WithKey tags logger with a cache query key.
func WithKey(logger zerolog.Logger, key string) zerolog.Logger {
	return logger.With().Str("query_key", key).Logger()
}

// WithConversation returns a process logger child tagged with a conversation.
func WithConversation(conversationID string) zerolog.Logger {
	return Logger.With().Str("conversation_id", conversationID).Logger()
}

func init() {
	Init(Config{Level: "info", Format: "console"})
}
