package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"chordhook/internal/keyboard"
	"chordhook/internal/xprobe"
)

var newInjectorFn = xprobe.NewInjector

type selftestOptions struct {
	key     keyboard.Key
	inject  string
	display string
	timeout time.Duration
	hold    time.Duration
}

// runSelftest is the selftest command.
func runSelftest(ctx context.Context, g globalOptions, args []string, stdout, stderr io.Writer) int {
	fs := newCommandFlags("selftest", stderr)
	keyName := fs.String("key", keyboard.F8.String(), "key to inject")
	inject := fs.String("inject", xprobe.InjectXTest, "injector: xtest or uinput")
	timeout := fs.Duration("timeout", 5*time.Second, "time to wait for each step")
	hold := fs.Duration("hold", 20*time.Millisecond, "how long the key stays pressed")
	if code, done := parseCommandFlags(fs, args); done {
		return code
	}
	key, err := keyboard.ParseKey(*keyName)
	if err != nil {
		fmt.Fprintf(stderr, "chordhook selftest: %v\n", err)
		return exitUsage
	}
	if *timeout <= 0 {
		fmt.Fprintln(stderr, "chordhook selftest: -timeout must be positive")
		return exitUsage
	}

	cfg, _ := loadCommandConfig(g, stderr)
	opts := selftestOptions{
		key:     key,
		inject:  *inject,
		display: cfg.Display,
		timeout: *timeout,
		hold:    *hold,
	}
	if err := selftest(ctx, opts, newCommandLogger(stderr, cfg.LogLevel), stdout); err != nil {
		fmt.Fprintf(stdout, "FAIL: %v\n", err)
		return exitFailure
	}
	fmt.Fprintf(stdout, "ok: %s press and release captured\n", key)
	return exitOK
}

// selftest tracks opts.key in a capture session, taps it through an
// injector and expects a press followed by a release.
func selftest(ctx context.Context, opts selftestOptions, logger *slog.Logger, out io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ready := make(chan struct{})
	var readyOnce sync.Once
	transitions := make(chan keyboard.ButtonState, 8)
	listenDone := make(chan error, 1)

	go func() {
		listenDone <- listenFn(ctx, captureSpec{
			slots:   1,
			mapping: func(entries []keyboard.KeyStateEntry) { entries[0].SetKey(opts.key) },
			handler: func(_ keyboard.Snapshot, _ keyboard.Key, state keyboard.ButtonState) {
				select {
				case transitions <- state:
				default:
				}
			},
			onStartup: func() { readyOnce.Do(func() { close(ready) }) },
			display:   opts.display,
			logger:    logger,
		})
	}()

	// stop cancels the session once and returns its result.
	var (
		stopped   bool
		listenErr error
	)
	stop := func() error {
		if !stopped {
			cancel()
			listenErr = <-listenDone
			stopped = true
		}
		return listenErr
	}
	ended := func(err error) error {
		stopped, listenErr = true, err
		if err == nil {
			err = errCaptureStopped
		}
		return err
	}
	defer stop()

	timer := time.NewTimer(opts.timeout)
	defer timer.Stop()
	select {
	case <-ready:
	case err := <-listenDone:
		return fmt.Errorf("capture session did not start: %w", ended(err))
	case <-timer.C:
		return errors.New("timed out waiting for the capture session to start")
	case <-ctx.Done():
		return ctx.Err()
	}
	fmt.Fprintf(out, "capture ready, injecting %s via %s\n", opts.key, opts.inject)

	inj, err := newInjectorFn(opts.inject, opts.display)
	if err != nil {
		return fmt.Errorf("open injector: %w", err)
	}
	defer func() {
		if closeErr := inj.Close(); closeErr != nil {
			logger.Warn("[DEBUG-SELFTEST] injector close failed", "error", closeErr)
		}
	}()
	if err := xprobe.Tap(inj, opts.key, opts.hold); err != nil {
		return fmt.Errorf("inject %s: %w", opts.key, err)
	}

	for _, want := range []keyboard.ButtonState{keyboard.Pressed, keyboard.Released} {
		timer.Reset(opts.timeout)
		select {
		case got := <-transitions:
			if got != want {
				return fmt.Errorf("captured %s %s, want %s", opts.key, got, want)
			}
			fmt.Fprintf(out, "captured %s %s\n", opts.key, got)
		case err := <-listenDone:
			return fmt.Errorf("capture session ended early: %w", ended(err))
		case <-timer.C:
			return fmt.Errorf("timed out waiting for %s %s", opts.key, want)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return stop()
}
