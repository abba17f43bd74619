// Package sessionlog tees warning-level log records to the daemon's session
// log and the websocket hub's log topic.
package sessionlog

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"time"
)

// Entry is one teed record as the session log and log subscribers see it.
type Entry struct {
	Time    time.Time
	Level   slog.Level
	Message string
	// Group is the accumulated dot-separated slog group name, or empty.
	Group string
	// Attrs holds the record's attributes plus those added via WithAttrs,
	// flattened to their resolved values. Nil when there are none.
	Attrs map[string]any
}

// EntryCallback is invoked for each log record at or above the capture threshold.
type EntryCallback func(entry Entry)

// TeeHandler wraps a base [slog.Handler] and tees records at or above minLevel
// to a callback function. All records are forwarded to the base handler regardless
// of level; only the callback invocation is gated by minLevel.
type TeeHandler struct {
	base     slog.Handler
	callback EntryCallback
	minLevel slog.Level
	group    string
	attrs    []slog.Attr
}

// NewTeeHandler creates a TeeHandler that delegates to base and invokes callback
// for every record whose level is >= minLevel.
//
// Passing a nil callback is safe; the handler will simply delegate to base without
// teeing.
func NewTeeHandler(base slog.Handler, minLevel slog.Level, callback EntryCallback) *TeeHandler {
	return &TeeHandler{
		base:     base,
		callback: callback,
		minLevel: minLevel,
	}
}

// Enabled reports whether the base handler is enabled for the given level.
// The callback threshold (minLevel) does not affect this; we always let the
// base handler decide visibility.
func (h *TeeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.base.Enabled(ctx, level)
}

// Handle forwards the record to the base handler, then conditionally invokes
// the callback if the record's level meets or exceeds minLevel.
//
// NOTE: The callback is invoked regardless of base handler error; subscribers
// should see the event even if stderr is gone.
func (h *TeeHandler) Handle(ctx context.Context, record slog.Record) error {
	err := h.base.Handle(ctx, record)

	if h.callback != nil && record.Level >= h.minLevel {
		entry := Entry{
			Time:    record.Time,
			Level:   record.Level,
			Message: record.Message,
			Group:   h.group,
			Attrs:   h.collectAttrs(record),
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					// NOTE: Callback panic is logged to stderr (not slog) to avoid
					// recursive TeeHandler invocation.
					fmt.Fprintf(os.Stderr, "[session-log] callback panicked: %v\n%s\n", r, debug.Stack())
				}
			}()
			h.callback(entry)
		}()
	}

	// Returning the base handler error is intentional. slog.Logger emits it to stderr
	// as an internal fallback ("slog: <error>"), making handler failures visible.
	return err
}

func (h *TeeHandler) collectAttrs(record slog.Record) map[string]any {
	if len(h.attrs) == 0 && record.NumAttrs() == 0 {
		return nil
	}
	out := make(map[string]any, len(h.attrs)+record.NumAttrs())
	for _, a := range h.attrs {
		addAttr(out, "", a)
	}
	record.Attrs(func(a slog.Attr) bool {
		addAttr(out, "", a)
		return true
	})
	return out
}

// addAttr flattens nested groups into dotted keys.
func addAttr(out map[string]any, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	key := a.Key
	if prefix != "" {
		key = prefix + "." + key
	}
	if a.Value.Kind() == slog.KindGroup {
		for _, ga := range a.Value.Group() {
			addAttr(out, key, ga)
		}
		return
	}
	if err, ok := a.Value.Any().(error); ok {
		out[key] = err.Error()
		return
	}
	out[key] = a.Value.Any()
}

// WithAttrs returns a new TeeHandler whose base handler has the given attributes
// applied. The callback, minLevel, and accumulated group are preserved.
func (h *TeeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &TeeHandler{
		base:     h.base.WithAttrs(attrs),
		callback: h.callback,
		minLevel: h.minLevel,
		group:    h.group,
		attrs:    merged,
	}
}

// WithGroup returns a new TeeHandler whose base handler is wrapped with the
// given group name. The group name is appended to the accumulated group string,
// separated by "." if a prefix already exists.
func (h *TeeHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h // slog.Handler spec: empty group name returns the receiver unchanged.
	}
	newGroup := name
	if h.group != "" {
		newGroup = h.group + "." + name
	}

	return &TeeHandler{
		base:     h.base.WithGroup(name),
		callback: h.callback,
		minLevel: h.minLevel,
		group:    newGroup,
		attrs:    h.attrs,
	}
}
