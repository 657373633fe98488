package logctx

import (
	"context"
	"io"
	"log/slog"

	slogmulti "github.com/samber/slog-multi"
)

type contextKey string

const loggerKey contextKey = "logger"

// WithLogger returns a new context with the provided slog.Logger.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// LoggerFromContext retrieves the slog.Logger from the context, or returns slog.Default() if not found.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey).(*slog.Logger); ok && l != nil {
		return l
	}
	return slog.Default()
}

// Options configures the sinks of the process logger.
type Options struct {
	Level slog.Leveler

	// File receives JSON lines. Nil disables it.
	File io.Writer

	// Console receives human readable lines. Nil disables it.
	Console io.Writer

	// Extra handlers, e.g. the event bus handler feeding the TUI.
	Extra []slog.Handler
}

// New builds a logger that fans every record out to all configured sinks and
// decorates records with the active trace context.
func New(opts Options) *slog.Logger {
	level := opts.Level
	if level == nil {
		level = slog.LevelInfo
	}

	handlers := make([]slog.Handler, 0, 2+len(opts.Extra))

	if opts.File != nil {
		handlers = append(handlers, slog.NewJSONHandler(opts.File, &slog.HandlerOptions{Level: level}))
	}

	if opts.Console != nil {
		handlers = append(handlers, slog.NewTextHandler(opts.Console, &slog.HandlerOptions{Level: level}))
	}

	handlers = append(handlers, opts.Extra...)

	if len(handlers) == 0 {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return slog.New(NewContextHandler(slogmulti.Fanout(handlers...)))
}
