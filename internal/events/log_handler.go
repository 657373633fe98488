package events

import (
	"context"
	"log/slog"
	"strings"
)

// LogHandler is an slog.Handler that publishes records as KindLog events.
type LogHandler struct {
	bus    *Bus
	level  slog.Leveler
	attrs  []slog.Attr
	prefix string
}

// NewLogHandler returns a handler publishing records at or above level to bus.
func NewLogHandler(bus *Bus, level slog.Leveler) *LogHandler {
	if level == nil {
		level = slog.LevelInfo
	}

	return &LogHandler{bus: bus, level: level}
}

func (h *LogHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *LogHandler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder

	for _, a := range h.attrs {
		appendAttr(&b, "", a)
	}

	r.Attrs(func(a slog.Attr) bool {
		appendAttr(&b, h.prefix, a)

		return true
	})

	h.bus.Publish(Event{
		Kind: KindLog,
		Time: r.Time,
		Log: LogLine{
			Level:   r.Level,
			Message: r.Message,
			Attrs:   b.String(),
		},
	})

	return nil
}

func (h *LogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	clone.attrs = append(clone.attrs, h.attrs...)

	for _, a := range attrs {
		if h.prefix != "" {
			a.Key = h.prefix + a.Key
		}

		clone.attrs = append(clone.attrs, a)
	}

	return &clone
}

func (h *LogHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}

	clone := *h
	clone.prefix = h.prefix + name + "."

	return &clone
}

func appendAttr(b *strings.Builder, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()

	if a.Equal(slog.Attr{}) {
		return
	}

	if a.Value.Kind() == slog.KindGroup {
		groupPrefix := prefix
		if a.Key != "" {
			groupPrefix = prefix + a.Key + "."
		}

		for _, ga := range a.Value.Group() {
			appendAttr(b, groupPrefix, ga)
		}

		return
	}

	if b.Len() > 0 {
		b.WriteByte(' ')
	}

	b.WriteString(prefix)
	b.WriteString(a.Key)
	b.WriteByte('=')
	b.WriteString(a.Value.String())
}
