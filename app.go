package main

import (
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"chordhook/internal/config"
	"chordhook/internal/journal"
	"chordhook/internal/singleinstance"
	"chordhook/internal/wsserver"
)

// App is the chordhook daemon: it owns the capture session and the services
// that consume its events.
type App struct {
	// Configuration state and startup warnings.
	//
	// Independent locks: none is held while acquiring another.
	//   cfgMu, startupWarnMu, statusMu, sessionLogMu
	cfgMu              sync.RWMutex
	cfg                config.Config
	configPath         string
	stateDir           string
	opts               globalOptions
	startupWarnMu      sync.Mutex
	configLoadWarnings []string

	// logger is the tee'd daemon logger. logLevel follows config reloads.
	logger   *slog.Logger
	logLevel *slog.LevelVar
	prevLog  *slog.Logger

	lock *singleinstance.Lock

	// hub and journal are set once during startup before any worker starts
	// and never reassigned. Either is nil when disabled or failed to start.
	hub     *wsserver.Hub
	journal *journal.Journal

	// Capture status, published on the status topic.
	statusMu sync.RWMutex
	status   captureStatus

	// reloadCh asks the running capture session to restart with the current
	// config. fatalCh carries the error that ends the daemon.
	reloadCh chan struct{}
	fatalCh  chan error

	chordsFired atomic.Uint64

	// Session log state (captures Warn/Error level records).
	// Protected by sessionLogMu (RWMutex: write-lock for append/close, read-lock for get).
	sessionLogMu      sync.RWMutex
	sessionLogFile    *os.File
	sessionLogPath    string
	sessionLogEntries ringBuffer[SessionLogEntry]
	sessionLogSeq     uint64

	shuttingDown atomic.Bool // set at the start of shutdown(); checked by worker recovery loops
	bgWG         sync.WaitGroup
}

// NewApp creates the daemon for the given global flags.
func NewApp(opts globalOptions) *App {
	return &App{
		opts:              opts,
		logger:            slog.Default(),
		logLevel:          new(slog.LevelVar),
		reloadCh:          make(chan struct{}, 1),
		fatalCh:           make(chan error, 1),
		sessionLogEntries: newRingBuffer[SessionLogEntry](sessionLogMaxEntries),
	}
}

// WebSocketURL returns the event hub endpoint, or "" when the hub is not
// running.
func (a *App) WebSocketURL() string {
	if a.hub == nil {
		return ""
	}
	return a.hub.URL()
}

// log returns the daemon logger, or the process default for an App built
// without NewApp.
func (a *App) log() *slog.Logger {
	if a.logger != nil {
		return a.logger
	}
	return slog.Default()
}
