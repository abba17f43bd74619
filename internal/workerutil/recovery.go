package workerutil

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

const (
	// defaultInitialBackoff is the starting delay before the first restart.
	// Doubles on each subsequent attempt up to defaultMaxBackoff.
	defaultInitialBackoff = 100 * time.Millisecond

	// defaultMaxBackoff caps the exponential backoff between restart attempts.
	defaultMaxBackoff = 5 * time.Second

	// defaultMaxRetries limits the total restart attempts before permanent stop.
	defaultMaxRetries = 10
)

// Unlimited as MaxRetries keeps restarting until the context is cancelled.
const Unlimited = -1

// ErrPanicked wraps the value recovered from a worker panic.
var ErrPanicked = errors.New("worker panicked")

// RecoveryOptions configures RunSupervised.
// Zero-value fields use defaults: InitialBackoff=100ms, MaxBackoff=5s,
// MaxRetries=10, nil callbacks are no-ops.
//
// Zero-value semantics for numeric fields:
//   - A zero value (0 or 0s) means "use default"; applyDefaults() replaces it.
//   - MaxRetries=1 runs the worker once with no restart.
//   - MaxRetries=Unlimited (or any negative value) never gives up.
type RecoveryOptions struct {
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	MaxRetries     int

	// ResetAfter clears the attempt counter and backoff when a run lasted at
	// least this long, so a worker that fails once a day never exhausts its
	// retries. 0 disables the reset.
	ResetAfter time.Duration

	// IsFatal reports errors that must not be retried. May be nil.
	IsFatal func(err error) bool

	// OnFailure is called after each failed run (error or panic), before the
	// backoff wait. attempt is 1-based. May be nil.
	OnFailure func(worker string, attempt int, err error)

	// OnFatal is called when the worker stops for good: retries exhausted or
	// IsFatal returned true. May be nil.
	OnFatal func(worker string, err error)

	// IsShutdown returns true when the application is shutting down.
	// When true, the loop exits immediately without retrying. May be nil.
	IsShutdown func() bool
}

// applyDefaults returns a copy of opts with zero-value fields replaced by
// defaults. Also corrects contradictory configurations
// (e.g. MaxBackoff < InitialBackoff).
func (opts RecoveryOptions) applyDefaults() RecoveryOptions {
	if opts.InitialBackoff <= 0 {
		slog.Debug("[DEBUG-WORKER] recovery option out of range, using default",
			"field", "InitialBackoff", "value", opts.InitialBackoff, "default", defaultInitialBackoff)
		opts.InitialBackoff = defaultInitialBackoff
	}
	if opts.MaxBackoff <= 0 {
		slog.Debug("[DEBUG-WORKER] recovery option out of range, using default",
			"field", "MaxBackoff", "value", opts.MaxBackoff, "default", defaultMaxBackoff)
		opts.MaxBackoff = defaultMaxBackoff
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = Unlimited
	}
	if opts.MaxBackoff < opts.InitialBackoff {
		slog.Warn("[WARN-WORKER] MaxBackoff < InitialBackoff is contradictory, using InitialBackoff as MaxBackoff",
			"initialBackoff", opts.InitialBackoff,
			"maxBackoff", opts.MaxBackoff,
		)
		opts.MaxBackoff = opts.InitialBackoff
	}
	return opts
}

// RunSupervised launches fn in a new goroutine tracked by wg and restarts it
// with exponential backoff whenever it panics or returns a non-nil error.
// A nil return or a cancelled ctx ends supervision.
//
// Panics are logged with their stack and reported to the callbacks wrapped
// in ErrPanicked.
func RunSupervised(
	ctx context.Context,
	name string,
	wg *sync.WaitGroup,
	fn func(ctx context.Context) error,
	opts RecoveryOptions,
) {
	opts = opts.applyDefaults()

	// wg.Go registers the goroutine before it starts, so wg.Wait() cannot
	// return early.
	wg.Go(func() {
		runRecoveryLoop(ctx, name, fn, opts)
	})
}

// RunWithPanicRecovery supervises a worker that only stops by returning or
// panicking. It is RunSupervised for functions without an error result.
func RunWithPanicRecovery(
	ctx context.Context,
	name string,
	wg *sync.WaitGroup,
	fn func(ctx context.Context),
	opts RecoveryOptions,
) {
	RunSupervised(ctx, name, wg, func(ctx context.Context) error {
		fn(ctx)
		return nil
	}, opts)
}

// runOnce calls fn and converts a panic into an error.
func runOnce(ctx context.Context, name string, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("[DEBUG-PANIC] background goroutine recovered from panic",
				"worker", name,
				"panic", r,
				"stack", string(debug.Stack()),
			)
			err = fmt.Errorf("%w: %v", ErrPanicked, r)
		}
	}()
	return fn(ctx)
}

// runRecoveryLoop executes the restart loop.
// Separated from RunSupervised for testability.
func runRecoveryLoop(
	ctx context.Context,
	name string,
	fn func(ctx context.Context) error,
	opts RecoveryOptions,
) {
	restartDelay := opts.InitialBackoff
	attempt := 0

	for {
		started := time.Now()
		err := runOnce(ctx, name, fn)

		// Normal exit or context already cancelled: stop immediately.
		if err == nil || ctx.Err() != nil {
			return
		}

		if opts.IsFatal != nil && opts.IsFatal(err) {
			slog.Error("[ERROR-WORKER] worker failed with non-retryable error",
				"worker", name,
				"error", err,
			)
			if opts.OnFatal != nil {
				opts.OnFatal(name, err)
			}
			return
		}

		// Shutdown guard: the application is tearing down, do not restart.
		// OnFailure is not called here; the error is still logged.
		if opts.IsShutdown != nil && opts.IsShutdown() {
			slog.Info("[DEBUG-WORKER] worker shutdown detected, stopping restart",
				"worker", name,
				"error", err,
			)
			return
		}

		if opts.ResetAfter > 0 && time.Since(started) >= opts.ResetAfter {
			attempt = 0
			restartDelay = opts.InitialBackoff
		}
		attempt++

		slog.Warn("[WARN-WORKER] restarting worker after failure",
			"worker", name,
			"error", err,
			"restartDelay", restartDelay,
			"attempt", attempt,
		)
		if opts.OnFailure != nil {
			opts.OnFailure(name, attempt, err)
		}

		// Skip backoff wait on the final attempt: there is no next restart.
		if opts.MaxRetries != Unlimited && attempt >= opts.MaxRetries {
			slog.Error("[DEBUG-PANIC] worker exceeded max retries, giving up",
				"worker", name,
				"maxRetries", opts.MaxRetries,
			)
			if opts.OnFatal != nil {
				opts.OnFatal(name, err)
			}
			return
		}

		// Since Go 1.23, Timer.Stop guarantees no stale values are sent on C
		// after Stop returns, so channel draining after Stop is unnecessary.
		restartTimer := time.NewTimer(restartDelay)
		select {
		case <-ctx.Done():
			restartTimer.Stop()
			return
		case <-restartTimer.C:
		}

		restartDelay = nextBackoff(restartDelay, opts.MaxBackoff)
	}
}

// nextBackoff doubles the current backoff duration, capping at maxBackoff.
// Guards against integer overflow: if doubling wraps negative or exceeds the
// cap, maxBackoff is returned.
func nextBackoff(current, maxBackoff time.Duration) time.Duration {
	if current <= 0 {
		return defaultInitialBackoff
	}
	if current >= maxBackoff {
		return maxBackoff
	}
	next := current * 2
	if next > maxBackoff || next < current {
		return maxBackoff
	}
	return next
}
