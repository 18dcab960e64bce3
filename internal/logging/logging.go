// Package logging sets up the process-wide slog logger.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	once   sync.Once
	logger *slog.Logger
)

// Config holds logger configuration.
type Config struct {
	Level     string `json:"level" yaml:"level"`   // DEBUG, INFO, WARN, ERROR
	Format    string `json:"format" yaml:"format"` // json, text
	AddSource bool   `json:"add_source" yaml:"add_source"`
}

// ParseLevel maps a level name onto a slog level. Unknown names mean INFO.
func ParseLevel(name string) slog.Level {
	switch strings.ToUpper(name) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New builds a logger writing to w.
func New(cfg Config, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:     ParseLevel(cfg.Level),
		AddSource: cfg.AddSource,
	}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(handler)
}

// Init installs the global logger on stdout. Only the first call has an
// effect.
func Init(cfg Config) *slog.Logger {
	once.Do(func() {
		logger = New(cfg, os.Stdout)
		slog.SetDefault(logger)
	})
	return logger
}

// Get returns the global logger, initializing it with defaults if needed.
func Get() *slog.Logger {
	return Init(Config{Level: "INFO", Format: "json"})
}

type requestIDKey struct{}

// ContextWithRequestID attaches a request id for WithRequestID to pick up.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// WithRequestID adds the request id carried by ctx, if any.
func WithRequestID(ctx context.Context, l *slog.Logger) *slog.Logger {
	id, ok := ctx.Value(requestIDKey{}).(string)
	if !ok || id == "" {
		return l
	}
	return l.With("request_id", id)
}
