package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce coalesces the burst of events an editor or atomicWrite
// produces for a single save.
const reloadDebounce = 200 * time.Millisecond

// Watch calls fn with the reloaded config each time the file at path is
// written, created or renamed into place. Invalid files are logged and
// skipped; fn only sees configs that passed validation. The containing
// directory is watched so atomic replacements are observed.
//
// Watch blocks until ctx is cancelled.
func Watch(ctx context.Context, path string, fn func(Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch config: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch config dir %q: %w", dir, err)
	}
	target := filepath.Clean(path)

	timer := time.NewTimer(reloadDebounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			timer.Reset(reloadDebounce)
		case <-timer.C:
			cfg, err := Load(path)
			if err != nil {
				slog.Warn("[WARN-CONFIG] config reload failed, keeping previous config", "path", path, "error", err)
				continue
			}
			slog.Debug("[DEBUG-CONFIG] config reloaded", "path", path, "chords", len(cfg.Chords))
			fn(cfg)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("[WARN-CONFIG] config watcher error", "error", err)
		}
	}
}
