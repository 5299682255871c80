package observability

import (
	"context"
	"io"
	"log/slog"

	"github.com/recreport/recreport/internal/config"
)

type ctxKey string

const runIDKey ctxKey = "run_id"

func NewLogger(cfg config.Config, writer io.Writer) *slog.Logger {
	if writer == nil {
		writer = io.Discard
	}
	options := &slog.HandlerOptions{Level: cfg.Observability.LogLevel}
	var handler slog.Handler
	if cfg.Observability.LogJSON {
		handler = slog.NewJSONHandler(writer, options)
	} else {
		handler = slog.NewTextHandler(writer, options)
	}
	return slog.New(handler).With(
		slog.String("service", cfg.Service.Name),
		slog.String("profile", string(cfg.Profile)),
	)
}

// ContextWithRunID tags ctx with the id of a report run or HTTP request.
func ContextWithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey, runID)
}

func RunIDFromContext(ctx context.Context) string {
	value, ok := ctx.Value(runIDKey).(string)
	if !ok {
		return ""
	}
	return value
}

// WithRunID returns logger with the run_id attribute from ctx, if any.
func WithRunID(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if runID := RunIDFromContext(ctx); runID != "" {
		return logger.With(slog.String("run_id", runID))
	}
	return logger
}
