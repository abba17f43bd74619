package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"chordhook/internal/chord"
	"chordhook/internal/config"
	"chordhook/internal/keyboard"
	"chordhook/internal/workerutil"
)

const (
	captureWorkerName = "capture"
	// captureResetAfter clears the restart budget once a session ran this
	// long, so an occasional X server restart never exhausts it.
	captureResetAfter = time.Minute
)

// errCaptureStopped reports a session that ended without cancellation.
var errCaptureStopped = errors.New("capture session ended unexpectedly")

// captureSpec is everything a capture session needs from the daemon.
type captureSpec struct {
	slots     int
	mapping   func(entries []keyboard.KeyStateEntry)
	handler   keyboard.Handler
	onStartup func()
	display   string
	logger    *slog.Logger
}

// listenFn runs one capture session. Tests replace it to drive the handler
// without an X server.
var listenFn = func(ctx context.Context, spec captureSpec) error {
	return keyboard.WithLen(spec.slots).
		KeyMapping(spec.mapping).
		Handler(spec.handler).
		OnStartup(spec.onStartup).
		Logger(spec.logger).
		Display(spec.display).
		Listen(ctx)
}

// isFatalCaptureError reports errors a restart cannot fix.
func isFatalCaptureError(err error) bool {
	return errors.Is(err, keyboard.ErrUnsupportedPlatform) || errors.Is(err, keyboard.ErrAlreadyListening)
}

// captureRecoveryOptions maps the restart config to supervisor options.
// MaxRetries <= 0 in the config means retry forever.
func (a *App) captureRecoveryOptions(rc config.RestartConfig) workerutil.RecoveryOptions {
	maxRetries := rc.MaxRetries
	if maxRetries <= 0 {
		maxRetries = workerutil.Unlimited
	}
	return workerutil.RecoveryOptions{
		InitialBackoff: rc.InitialBackoff,
		MaxBackoff:     rc.MaxBackoff,
		MaxRetries:     maxRetries,
		ResetAfter:     captureResetAfter,
		IsFatal:        isFatalCaptureError,
		OnFailure: func(_ string, attempt int, err error) {
			a.recordCaptureFailure(attempt, err)
		},
		OnFatal: func(worker string, err error) {
			a.recordCaptureFailure(0, err)
			a.reportFatal(fmt.Errorf("%s worker stopped: %w", worker, err))
		},
		IsShutdown: a.shuttingDown.Load,
	}
}

// startCapture launches the supervised capture worker.
func (a *App) startCapture(ctx context.Context) {
	cfg := a.getConfigSnapshot()
	workerutil.RunSupervised(ctx, captureWorkerName, &a.bgWG, a.runCapture, a.captureRecoveryOptions(cfg.Restart))
}

// reportFatal hands err to serve without blocking. Only the first error is kept.
func (a *App) reportFatal(err error) {
	select {
	case a.fatalCh <- err:
	default:
	}
}

// runCapture runs capture sessions back to back, starting a new one with the
// current config each time a reload is requested. It returns nil once ctx is
// cancelled.
func (a *App) runCapture(ctx context.Context) error {
	for {
		reloaded, err := a.runCaptureSession(ctx)
		if err != nil {
			return err
		}
		if !reloaded {
			return nil
		}
		a.log().Info("[DEBUG-CAPTURE] restarting capture session with reloaded config")
	}
}

// runCaptureSession runs one capture session. reloaded is true when the
// session ended because the config changed.
func (a *App) runCaptureSession(ctx context.Context) (reloaded bool, err error) {
	// A reload requested before this point is already reflected in the
	// snapshot below.
	select {
	case <-a.reloadCh:
	default:
	}
	cfg := a.getConfigSnapshot()

	if len(cfg.Chords) == 0 {
		a.log().Warn("[WARN-CAPTURE] no chords configured, capture idle until the config changes")
		a.setCaptureIdle()
		select {
		case <-a.reloadCh:
			return true, nil
		case <-ctx.Done():
			return false, nil
		}
	}

	m, err := chord.FromConfig(cfg.Chords)
	if err != nil {
		return false, fmt.Errorf("build chord matcher: %w", err)
	}

	sessionID := uuid.NewString()
	d := chord.NewDispatcher(m, sessionID, cfg.EventBuffer, a.log())

	names := make([]string, 0, len(cfg.Chords))
	for _, b := range m.Bindings() {
		names = append(names, b.String())
	}
	a.setCaptureStarting(sessionID, cfg.Display, names)

	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var reload atomic.Bool
	var wg sync.WaitGroup
	wg.Go(func() { a.consumeEvents(d) })
	wg.Go(func() {
		select {
		case <-a.reloadCh:
			reload.Store(true)
			cancel()
		case <-sessCtx.Done():
		}
	})

	a.log().Info("[DEBUG-CAPTURE] starting capture session",
		"session", sessionID,
		"chords", len(names),
		"keys", m.Len(),
		"display", cfg.Display,
	)
	listenErr := listenFn(sessCtx, captureSpec{
		slots:     m.Len(),
		mapping:   m.Mapping(),
		handler:   d.Handle,
		onStartup: func() { a.setCaptureListening(sessionID) },
		display:   cfg.Display,
		logger:    a.log(),
	})

	cancel()
	d.Close()
	wg.Wait()

	if listenErr != nil && errors.Is(listenErr, context.Canceled) {
		listenErr = nil
	}
	a.setCaptureStopped(sessionID, d.Dropped(), listenErr)
	if dropped := d.Dropped(); dropped > 0 {
		a.log().Warn("[WARN-CAPTURE] capture session dropped events", "session", sessionID, "dropped", dropped)
	}

	switch {
	case listenErr != nil:
		return false, fmt.Errorf("capture session %s: %w", sessionID, listenErr)
	case reload.Load():
		return true, nil
	case ctx.Err() != nil:
		return false, nil
	default:
		return false, errCaptureStopped
	}
}
