// Package logrelay forwards formatted log lines to a callback, for hosts
// that display the engine's log alongside its progress.
//
// The relay is an slog.Handler: wrap the process handler with New and pass
// the resulting logger to the components whose output should be relayed.
package logrelay

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
)

// Func receives one formatted log line, without the trailing newline.
type Func func(line string)

// Handler sends every record to an inner handler and, formatted as text, to
// a Func. Either side may be nil.
type Handler struct {
	inner slog.Handler
	relay slog.Handler
}

var _ slog.Handler = (*Handler)(nil)

// Options configures the relayed side of a Handler.
type Options struct {
	// Level is the minimum level relayed. Defaults to slog.LevelInfo.
	Level slog.Leveler
}

// New returns a Handler that passes records to inner and relays them to fn.
func New(inner slog.Handler, fn Func, opts *Options) *Handler {
	h := &Handler{inner: inner}
	if fn != nil {
		level := slog.Leveler(slog.LevelInfo)
		if opts != nil && opts.Level != nil {
			level = opts.Level
		}
		h.relay = slog.NewTextHandler(&lineWriter{fn: fn}, &slog.HandlerOptions{
			Level: level,
			ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
				// The host stamps its own time.
				if len(groups) == 0 && a.Key == slog.TimeKey {
					return slog.Attr{}
				}
				return a
			},
		})
	}
	return h
}

func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	return (h.inner != nil && h.inner.Enabled(ctx, level)) ||
		(h.relay != nil && h.relay.Enabled(ctx, level))
}

func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	if h.inner != nil && h.inner.Enabled(ctx, r.Level) {
		errs = append(errs, h.inner.Handle(ctx, r.Clone()))
	}
	if h.relay != nil && h.relay.Enabled(ctx, r.Level) {
		errs = append(errs, h.relay.Handle(ctx, r))
	}
	return errors.Join(errs...)
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := *h
	if c.inner != nil {
		c.inner = c.inner.WithAttrs(attrs)
	}
	if c.relay != nil {
		c.relay = c.relay.WithAttrs(attrs)
	}
	return &c
}

func (h *Handler) WithGroup(name string) slog.Handler {
	c := *h
	if c.inner != nil {
		c.inner = c.inner.WithGroup(name)
	}
	if c.relay != nil {
		c.relay = c.relay.WithGroup(name)
	}
	return &c
}

// lineWriter splits written bytes into lines for the callback.
type lineWriter struct {
	mu  sync.Mutex
	buf []byte
	fn  Func
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		line := string(w.buf[:i])
		w.buf = w.buf[i+1:]
		w.fn(line)
	}
	return len(p), nil
}
