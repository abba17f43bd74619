package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"chordhook/internal/config"
	"chordhook/internal/journal"
	"chordhook/internal/sessionlog"
	"chordhook/internal/singleinstance"
	"chordhook/internal/workerutil"
	"chordhook/internal/wsserver"
)

const (
	shutdownWaitTimeout = 10 * time.Second
	configWatcherName   = "config-watcher"

	// journalRetention is how long chord activations are kept.
	journalRetention = 90 * 24 * time.Hour
)

// Test seams.
var (
	tryLockFn     = singleinstance.TryLock
	openJournalFn = journal.Open
	stateDirFn    = config.StateDir
)

// ErrAlreadyRunning reports another daemon capturing the same display.
var ErrAlreadyRunning = errors.New("another chordhook is already running for this display")

func (a *App) addPendingConfigLoadWarning(message string) {
	trimmed := strings.TrimSpace(message)
	if trimmed == "" {
		return
	}
	a.startupWarnMu.Lock()
	a.configLoadWarnings = append(a.configLoadWarnings, trimmed)
	a.startupWarnMu.Unlock()
}

func (a *App) consumePendingConfigLoadWarnings() []string {
	a.startupWarnMu.Lock()
	defer a.startupWarnMu.Unlock()
	out := a.configLoadWarnings
	a.configLoadWarnings = nil
	return out
}

// flushPendingConfigLoadWarnings logs warnings collected before the tee'd
// logger existed, so they reach the session log and the hub.
func (a *App) flushPendingConfigLoadWarnings() {
	for _, message := range a.consumePendingConfigLoadWarnings() {
		a.log().Warn("[WARN-CONFIG] " + message)
	}
}

// installLogger makes the tee'd text logger the process default. Warn and
// Error records also go to the session log and the log topic.
func (a *App) installLogger(w io.Writer, level string) {
	lvl, err := parseLogLevel(level)
	if err != nil {
		a.addPendingConfigLoadWarning(err.Error())
		lvl = slog.LevelInfo
	}
	a.logLevel.Set(lvl)

	base := slog.NewTextHandler(w, &slog.HandlerOptions{Level: a.logLevel})
	a.logger = slog.New(sessionlog.NewTeeHandler(base, slog.LevelWarn, a.onLogEntry))
	a.prevLog = slog.Default()
	slog.SetDefault(a.logger)
}

// startup loads config, takes the per-display lock and starts the hub and
// the journal. Only the lock is fatal; every other failure degrades to a
// warning.
func (a *App) startup(ctx context.Context, logOut io.Writer) error {
	a.configPath = a.opts.configPath
	if a.configPath == "" {
		a.configPath = config.DefaultPath()
	}
	for _, message := range config.ConsumeDefaultPathWarnings() {
		a.addPendingConfigLoadWarning(message)
	}

	cfg, err := config.EnsureFile(a.configPath)
	if err != nil {
		// Config failures are non-fatal: run with defaults and say so.
		cfg = config.DefaultConfig()
		a.addPendingConfigLoadWarning(fmt.Sprintf("failed to load config %s, running with defaults: %v", a.configPath, err))
	}
	cfg = a.applyOverrides(cfg)
	a.setConfigSnapshot(cfg)

	a.installLogger(logOut, cfg.LogLevel)

	a.stateDir = stateDirFn()
	lockPath := singleinstance.DefaultLockPath(a.stateDir, cfg.Display)
	lock, err := tryLockFn(lockPath)
	if errors.Is(err, singleinstance.ErrAlreadyRunning) {
		return fmt.Errorf("%w (lock %s)", ErrAlreadyRunning, lockPath)
	}
	if err != nil {
		a.log().Warn("[DEBUG-SINGLE] lock failed, proceeding without single-instance guard", "path", lockPath, "error", err)
	}
	a.lock = lock

	a.initSessionLog()
	a.startHub(ctx, cfg)
	a.openJournal(ctx, cfg)
	a.flushPendingConfigLoadWarnings()

	a.log().Info("[DEBUG-APP] chordhook started",
		"config", a.configPath,
		"chords", len(cfg.Chords),
		"websocket", a.WebSocketURL(),
	)
	return nil
}

func (a *App) startHub(ctx context.Context, cfg config.Config) {
	if cfg.WebSocketAddr == "" {
		a.log().Info("[DEBUG-WS] websocket hub disabled")
		return
	}
	hub := wsserver.NewHub(wsserver.HubOptions{
		Addr:    cfg.WebSocketAddr,
		Logger:  a.log(),
		Backlog: a.hubBacklog,
	})
	if err := hub.Start(ctx); err != nil {
		a.addPendingConfigLoadWarning("websocket hub unavailable: " + err.Error())
		return
	}
	a.hub = hub
}

func (a *App) openJournal(ctx context.Context, cfg config.Config) {
	if cfg.JournalPath == "" {
		a.log().Info("[DEBUG-JOURNAL] chord journal disabled")
		return
	}
	j, err := openJournalFn(ctx, cfg.JournalPath)
	if err != nil {
		a.addPendingConfigLoadWarning("chord journal unavailable: " + err.Error())
		return
	}
	if n, err := j.Prune(ctx, time.Now().Add(-journalRetention)); err != nil {
		a.log().Warn("[WARN-JOURNAL] prune failed", "error", err)
	} else if n > 0 {
		a.log().Info("[DEBUG-JOURNAL] pruned old chord events", "deleted", n)
	}
	a.journal = j
}

// serve runs the background workers until ctx is cancelled or a worker
// fails for good.
func (a *App) serve(parent context.Context) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	a.startConfigWatcher(ctx)
	a.startCapture(ctx)

	select {
	case <-ctx.Done():
		return nil
	case err := <-a.fatalCh:
		return err
	}
}

func (a *App) startConfigWatcher(ctx context.Context) {
	path := a.configPath
	workerutil.RunSupervised(ctx, configWatcherName, &a.bgWG, func(ctx context.Context) error {
		return config.Watch(ctx, path, a.onConfigReload)
	}, workerutil.RecoveryOptions{
		MaxRetries: 5,
		IsShutdown: a.shuttingDown.Load,
		OnFatal: func(worker string, err error) {
			a.log().Warn("[WARN-CONFIG] config hot reload disabled", "worker", worker, "error", err)
		},
	})
}

// shutdown waits for the workers, then closes the hub, the journal, the
// session log and the lock, in that order. The workers' context must already
// be cancelled.
func (a *App) shutdown() {
	a.shuttingDown.Store(true)
	if !waitWithTimeout(a.bgWG.Wait, shutdownWaitTimeout) {
		a.log().Warn("[DEBUG-APP] timed out waiting for background workers during shutdown")
	}

	if a.hub != nil {
		if err := a.hub.Stop(); err != nil {
			a.log().Warn("[DEBUG-WS] hub stop failed", "error", err)
		}
	}
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			a.log().Warn("[WARN-JOURNAL] close failed", "error", err)
		}
	}
	a.log().Info("[DEBUG-APP] chordhook stopped", "chordsFired", a.chordsFired.Load())

	a.closeSessionLog()
	if err := a.lock.Release(); err != nil {
		a.log().Warn("[DEBUG-SINGLE] lock release failed", "error", err)
	}
	if a.prevLog != nil {
		slog.SetDefault(a.prevLog)
	}
}

func waitWithTimeout(waitFn func(), timeout time.Duration) bool {
	// The waiting goroutine may outlive timeout when waitFn blocks
	// indefinitely; this is only used on shutdown paths.
	done := make(chan struct{})
	go func() {
		waitFn()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}
