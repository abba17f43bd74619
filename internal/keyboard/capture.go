package keyboard

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"runtime/debug"
)

// recorder is the OS side of a capture session: two display connections, one
// for control requests and one that streams the recorded data.
//
// All methods are called from the engine goroutine. Drain invokes
// dispatchRecord synchronously for every buffered intercept.
type recorder interface {
	Open() error
	NegotiateExtension() (major, minor int, err error)
	CreateContext() error
	EnableContext(token uintptr) error
	FD() int
	Drain()
	Disable() error
	Free()
	Close()
}

// phase tracks how far the engine got so teardown undoes exactly what was done.
type phase uint8

const (
	phaseUnopened phase = iota
	phaseDisplayOpened
	phaseExtensionNegotiated
	phaseContextCreated
	phaseContextEnabled
	phaseRunning
	phaseDisabled
	phaseTornDown
)

func (p phase) String() string {
	switch p {
	case phaseUnopened:
		return "unopened"
	case phaseDisplayOpened:
		return "display-opened"
	case phaseExtensionNegotiated:
		return "extension-negotiated"
	case phaseContextCreated:
		return "context-created"
	case phaseContextEnabled:
		return "context-enabled"
	case phaseRunning:
		return "running"
	case phaseDisabled:
		return "disabled"
	case phaseTornDown:
		return "torn-down"
	default:
		return fmt.Sprintf("phase(%d)", uint8(p))
	}
}

// captureEngine drives one recorder through the handshake, the wait loop and
// teardown. An engine is used once.
type captureEngine struct {
	rec    recorder
	logger *slog.Logger
	phase  phase
}

func newCaptureEngine(rec recorder, logger *slog.Logger) *captureEngine {
	if logger == nil {
		logger = slog.Default()
	}
	return &captureEngine{rec: rec, logger: logger}
}

// run blocks the calling goroutine until ctx is cancelled or the connection
// fails. onStartup is called once, after the context is enabled and before
// the first wait. Teardown always runs before run returns; the caller closes
// the bridge afterwards.
func (e *captureEngine) run(ctx context.Context, token uintptr, onStartup func()) error {
	// Xlib displays are not shared across threads here; keep every call on one.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	defer e.teardown()

	if err := e.rec.Open(); err != nil {
		return fmt.Errorf("%w: %w", ErrMissingDisplay, err)
	}
	e.phase = phaseDisplayOpened

	major, minor, err := e.rec.NegotiateExtension()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrExtensionUnavailable, err)
	}
	e.phase = phaseExtensionNegotiated
	e.logger.Debug("[DEBUG-KEYBOARD] RECORD extension negotiated", "major", major, "minor", minor)

	if err := e.rec.CreateContext(); err != nil {
		return fmt.Errorf("%w: %w", ErrCreateContextFailed, err)
	}
	e.phase = phaseContextCreated

	if err := e.rec.EnableContext(token); err != nil {
		return fmt.Errorf("%w: %w", ErrEnableFailed, err)
	}
	e.phase = phaseContextEnabled

	if err := e.notifyStartup(onStartup); err != nil {
		return err
	}

	e.phase = phaseRunning
	e.logger.Debug("[DEBUG-KEYBOARD] capture loop running", "fd", e.rec.FD())
	return e.wait(ctx)
}

// notifyStartup runs the startup callback. A panic in it ends the session
// with ErrStartupPanicked instead of unwinding through Listen.
func (e *captureEngine) notifyStartup(fn func()) (err error) {
	if fn == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("[DEBUG-PANIC] startup callback recovered from panic",
				"panic", r,
				"stack", string(debug.Stack()),
			)
			err = fmt.Errorf("%w: %v", ErrStartupPanicked, r)
		}
	}()
	fn()
	return nil
}

// teardown releases server and client resources in reverse order of
// acquisition: disable, free, close.
func (e *captureEngine) teardown() {
	if e.phase >= phaseContextEnabled && e.phase < phaseDisabled {
		if err := e.rec.Disable(); err != nil {
			e.logger.Warn("[WARN-KEYBOARD] failed to disable record context", "error", err)
		}
		e.phase = phaseDisabled
	}
	if e.phase >= phaseContextCreated {
		e.rec.Free()
	}
	if e.phase >= phaseDisplayOpened {
		e.rec.Close()
	}
	e.phase = phaseTornDown
	e.logger.Debug("[DEBUG-KEYBOARD] capture engine torn down")
}
