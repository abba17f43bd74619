package main

import (
	"slices"

	"chordhook/internal/config"
)

// getConfigSnapshot returns a deep-copied config protected by cfgMu.
// All read access to App.cfg should go through this helper.
func (a *App) getConfigSnapshot() config.Config {
	a.cfgMu.RLock()
	defer a.cfgMu.RUnlock()
	return config.Clone(a.cfg)
}

// setConfigSnapshot stores a deep-copied config protected by cfgMu.
// All write access to App.cfg should go through this helper.
func (a *App) setConfigSnapshot(cfg config.Config) {
	a.cfgMu.Lock()
	a.cfg = config.Clone(cfg)
	a.cfgMu.Unlock()
}

// applyOverrides layers the command-line flags over cfg. Flags win over the
// file, including after a reload.
func (a *App) applyOverrides(cfg config.Config) config.Config {
	return applyGlobalOverrides(cfg, a.opts)
}

// captureChanged reports whether moving from old to next requires a new
// capture session.
func captureChanged(old, next config.Config) bool {
	if old.Display != next.Display || old.EventBuffer != next.EventBuffer {
		return true
	}
	return !slices.EqualFunc(old.Chords, next.Chords, func(x, y config.ChordConfig) bool {
		return x.Name == y.Name && x.AllowOthers == y.AllowOthers && slices.Equal(x.Keys, y.Keys)
	})
}

// onConfigReload installs a reloaded config. Chord, display and buffer
// changes restart the capture session; the log level applies immediately.
// Hub, journal and restart settings only take effect on the next start.
func (a *App) onConfigReload(next config.Config) {
	next = a.applyOverrides(next)
	old := a.getConfigSnapshot()
	a.setConfigSnapshot(next)

	if level, err := parseLogLevel(next.LogLevel); err == nil {
		a.logLevel.Set(level)
	}
	if old.WebSocketAddr != next.WebSocketAddr || old.JournalPath != next.JournalPath || old.Restart != next.Restart {
		a.log().Warn("[WARN-CONFIG] websocket, journal and restart settings apply after restarting chordhook")
	}
	if !captureChanged(old, next) {
		a.log().Debug("[DEBUG-CONFIG] config reloaded without capture changes")
		return
	}
	a.log().Info("[DEBUG-CONFIG] chord config changed, restarting capture session", "chords", len(next.Chords))
	a.requestCaptureReload()
}

// requestCaptureReload signals the capture worker without blocking. A
// pending signal already covers the newest config.
func (a *App) requestCaptureReload() {
	select {
	case a.reloadCh <- struct{}{}:
	default:
	}
}
