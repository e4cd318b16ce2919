// Package logging configures slog: JSON on stdout, optionally teed into the system_logs table.
package logging

import (
	"context"
	"errors"
	"log/slog"
	"os"
)

// Setup installs the default logger. Records go to stdout and to every extra sink enabled for their level.
func Setup(sinks ...slog.Handler) {
	var h slog.Handler = StdoutHandler()
	if len(sinks) > 0 {
		h = Tee(append([]slog.Handler{h}, sinks...)...)
	}
	slog.SetDefault(slog.New(h))
}

func StdoutHandler() slog.Handler {
	return slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
}

// Tee hands each record to every handler enabled for its level.
// One failing sink never keeps a record from the others; their errors are joined.
func Tee(handlers ...slog.Handler) slog.Handler {
	return tee(handlers)
}

type tee []slog.Handler

func (t tee) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range t {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (t tee) Handle(ctx context.Context, record slog.Record) error {
	var errs []error
	for _, h := range t {
		if !h.Enabled(ctx, record.Level) {
			continue
		}
		if err := h.Handle(ctx, record.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (t tee) WithAttrs(attrs []slog.Attr) slog.Handler {
	return t.each(func(h slog.Handler) slog.Handler { return h.WithAttrs(attrs) })
}

func (t tee) WithGroup(name string) slog.Handler {
	return t.each(func(h slog.Handler) slog.Handler { return h.WithGroup(name) })
}

func (t tee) each(fn func(slog.Handler) slog.Handler) tee {
	out := make(tee, len(t))
	for i, h := range t {
		out[i] = fn(h)
	}
	return out
}
