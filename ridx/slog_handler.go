package internal

import (
	"context"
	"log/slog"

	"github.com/rs/zerolog"
)

// ZerologHandler renders slog records through a zerolog logger so library
// packages can keep logging with slog while the process owns one zerolog sink.
type ZerologHandler struct {
	logger zerolog.Logger
	attrs  []slog.Attr
	group  string
}

// NewZerologHandler wraps logger in a slog.Handler
func NewZerologHandler(logger zerolog.Logger) *ZerologHandler {
	return &ZerologHandler{logger: logger}
}

// InstallDefault makes logger the backend of the slog default logger
func InstallDefault(logger zerolog.Logger) {
	slog.SetDefault(slog.New(NewZerologHandler(logger)))
}

func (h *ZerologHandler) Enabled(_ context.Context, level slog.Level) bool {
	return toZerologLevel(level) >= h.logger.GetLevel()
}

func (h *ZerologHandler) Handle(_ context.Context, r slog.Record) error {
	ev := h.logger.WithLevel(toZerologLevel(r.Level))
	if ev == nil {
		return nil
	}
	for _, a := range h.attrs {
		addAttr(ev, "", a)
	}
	r.Attrs(func(a slog.Attr) bool {
		addAttr(ev, h.group, a)
		return true
	})
	ev.Msg(r.Message)
	return nil
}

func (h *ZerologHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	prefixed := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	prefixed = append(prefixed, h.attrs...)
	for _, a := range attrs {
		if h.group != "" {
			a.Key = h.group + "." + a.Key
		}
		prefixed = append(prefixed, a)
	}
	return &ZerologHandler{logger: h.logger, attrs: prefixed, group: h.group}
}

func (h *ZerologHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	group := name
	if h.group != "" {
		group = h.group + "." + name
	}
	return &ZerologHandler{logger: h.logger, attrs: h.attrs, group: group}
}

func addAttr(ev *zerolog.Event, group string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	key := a.Key
	if group != "" {
		key = group + "." + key
	}
	switch a.Value.Kind() {
	case slog.KindGroup:
		for _, ga := range a.Value.Group() {
			addAttr(ev, key, ga)
		}
	case slog.KindString:
		ev.Str(key, a.Value.String())
	case slog.KindInt64:
		ev.Int64(key, a.Value.Int64())
	case slog.KindUint64:
		ev.Uint64(key, a.Value.Uint64())
	case slog.KindFloat64:
		ev.Float64(key, a.Value.Float64())
	case slog.KindBool:
		ev.Bool(key, a.Value.Bool())
	case slog.KindDuration:
		ev.Dur(key, a.Value.Duration())
	case slog.KindTime:
		ev.Time(key, a.Value.Time())
	default:
		if err, ok := a.Value.Any().(error); ok {
			ev.AnErr(key, err)
			return
		}
		ev.Interface(key, a.Value.Any())
	}
}

func toZerologLevel(level slog.Level) zerolog.Level {
	switch {
	case level >= slog.LevelError:
		return zerolog.ErrorLevel
	case level >= slog.LevelWarn:
		return zerolog.WarnLevel
	case level >= slog.LevelInfo:
		return zerolog.InfoLevel
	default:
		return zerolog.DebugLevel
	}
}
