package keyboard

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
)

// listening is set while a capture session is active. The X server accepts a
// single enabled context per data connection and the trampoline has one slot,
// so sessions are serialized process-wide.
var listening atomic.Bool

// newRecorder creates the platform backend. It is nil when the binary was
// built without X11 support.
var newRecorder func(display string) recorder

// Backend names the compiled-in capture backend, or "" when global capture
// is unavailable in this build.
func Backend() string { return backendName }

// Builder configures a capture session. Every method returns a modified copy,
// so a Builder can be reused as a template.
type Builder struct {
	n         int
	mapping   func(entries []KeyStateEntry)
	handler   Handler
	onStartup func()
	logger    *slog.Logger
	display   string
}

// WithLen starts a builder for a table with n slots. Unset callbacks default
// to no-ops.
func WithLen(n int) Builder {
	return Builder{n: n}
}

// KeyMapping sets the function that assigns keys to slots. It runs once per
// Listen call, before any OS resource is acquired.
func (b Builder) KeyMapping(fn func(entries []KeyStateEntry)) Builder {
	b.mapping = fn
	return b
}

// Handler sets the transition callback.
func (b Builder) Handler(fn Handler) Builder {
	b.handler = fn
	return b
}

// OnStartup sets a callback run once the server started delivering events.
// A panic in fn ends the session and Listen returns ErrStartupPanicked.
func (b Builder) OnStartup(fn func()) Builder {
	b.onStartup = fn
	return b
}

// Logger sets the logger for engine diagnostics and recovered handler panics.
func (b Builder) Logger(logger *slog.Logger) Builder {
	b.logger = logger
	return b
}

// Display selects the X display to record. Empty means $DISPLAY.
func (b Builder) Display(name string) Builder {
	b.display = name
	return b
}

// Len returns the configured table length.
func (b Builder) Len() int { return b.n }

// Listen runs the key mapping, starts recording and blocks until ctx is
// cancelled (returning nil) or the session fails. The calling goroutine is
// locked to its OS thread for the duration.
func (b Builder) Listen(ctx context.Context) error {
	if b.n < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidLength, b.n)
	}
	if newRecorder == nil {
		return ErrUnsupportedPlatform
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if !listening.CompareAndSwap(false, true) {
		return ErrAlreadyListening
	}
	defer listening.Store(false)

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}

	table := NewTable(b.n)
	if err := applyMapping(table, b.mapping); err != nil {
		return err
	}

	handler := b.handler
	if handler == nil {
		handler = func(Snapshot, Key, ButtonState) {}
	}

	bridge := Wrap(session{table: table, handler: handler}).withLogger(logger)
	defer bridge.Close()

	logger.Debug("[DEBUG-KEYBOARD] starting capture session",
		"slots", table.Len(),
		"keys", trackedKeys(table),
		"display", b.display,
	)
	engine := newCaptureEngine(newRecorder(b.display), logger)
	return engine.run(ctx, bridge.Pointer(), b.onStartup)
}

func applyMapping(t *Table, fn func([]KeyStateEntry)) (err error) {
	if fn == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrInvalidKeyMapping, r)
		}
	}()
	fn(t.Entries())
	return nil
}

func trackedKeys(t *Table) []string {
	out := make([]string, 0, t.Len())
	for _, e := range t.Entries() {
		out = append(out, e.Key().String())
	}
	return out
}
