package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"chordhook/internal/sessionlog"
	"chordhook/internal/wsserver"
)

const (
	sessionLogDir        = "session-logs"
	sessionLogMaxFiles   = 100
	sessionLogMaxEntries = 10000

	// sessionLogBacklog is how many recent entries a new log subscriber gets.
	sessionLogBacklog = 100

	sessionLogTimeFormat = "2006-01-02T15:04:05.000Z07:00"
)

// initSessionLog creates the JSONL session log file for the current run.
// Non-fatal: logs a warning and continues if any I/O operation fails.
func (a *App) initSessionLog() {
	dir := filepath.Join(a.stateDir, sessionLogDir)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		a.log().Warn("[session-log] failed to create log directory", "dir", dir, "error", err)
		return
	}

	// PID is appended to prevent filename collision on sub-second restart.
	filename := fmt.Sprintf("session-%s-%d.jsonl", time.Now().Format("20060102-150405"), os.Getpid())
	fullPath := filepath.Join(dir, filename)

	f, err := os.OpenFile(fullPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		a.log().Warn("[session-log] failed to open log file", "path", fullPath, "error", err)
		return
	}

	a.sessionLogMu.Lock()
	a.sessionLogFile = f
	a.sessionLogPath = fullPath
	a.sessionLogMu.Unlock()

	a.cleanupOldSessionLogs()

	a.log().Info("[session-log] initialized", "path", fullPath)
}

// cleanupOldSessionLogs removes the oldest session log files when the count
// exceeds sessionLogMaxFiles. The active file is never removed.
func (a *App) cleanupOldSessionLogs() {
	a.sessionLogMu.RLock()
	currentPath := a.sessionLogPath
	a.sessionLogMu.RUnlock()
	if strings.TrimSpace(currentPath) == "" {
		return
	}

	logDir := filepath.Dir(currentPath)
	currentFile := filepath.Base(currentPath)
	entries, err := os.ReadDir(logDir)
	if err != nil {
		a.log().Warn("[session-log] failed to read log directory for cleanup", "dir", logDir, "error", err)
		return
	}

	var logFiles []string
	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() && strings.HasPrefix(name, "session-") && strings.HasSuffix(name, ".jsonl") {
			logFiles = append(logFiles, name)
		}
	}

	// The timestamp prefix orders files by creation time; PIDs only break
	// ties within one second.
	sort.Strings(logFiles)

	excess := len(logFiles) - sessionLogMaxFiles
	if excess <= 0 {
		return
	}

	deleted := 0
	for _, name := range logFiles {
		if deleted >= excess {
			break
		}
		if name == currentFile {
			continue
		}
		target := filepath.Join(logDir, name)
		if err := os.Remove(target); err != nil {
			a.log().Warn("[session-log] failed to delete old log file", "path", target, "error", err)
			continue
		}
		a.log().Debug("[session-log] deleted old log file", "path", target)
		deleted++
	}
}

// onLogEntry is the sessionlog.TeeHandler callback.
func (a *App) onLogEntry(e sessionlog.Entry) {
	a.writeSessionLogEntry(SessionLogEntry{
		Timestamp: e.Time.Format(sessionLogTimeFormat),
		Level:     strings.ToLower(e.Level.String()),
		Message:   e.Message,
		Source:    e.Group,
		Attrs:     jsonSafeAttrs(e.Attrs),
	})
}

// jsonSafeAttrs converts attribute values that encoding/json would render
// as "{}" or reject (errors, channels, funcs) to strings.
func jsonSafeAttrs(attrs map[string]any) map[string]any {
	if len(attrs) == 0 {
		return nil
	}
	out := make(map[string]any, len(attrs))
	for k, v := range attrs {
		switch tv := v.(type) {
		case nil, string, bool, int, int64, uint64, float64:
			out[k] = tv
		case error:
			out[k] = tv.Error()
		case time.Time:
			out[k] = tv.Format(sessionLogTimeFormat)
		case fmt.Stringer:
			out[k] = tv.String()
		case []string:
			out[k] = tv
		default:
			out[k] = fmt.Sprint(tv)
		}
	}
	return out
}

// writeSessionLogEntry appends an entry to the in-memory ring buffer and the
// JSONL file, then publishes it on the log topic.
//
// slog.Warn/Error must NOT be called while sessionLogMu is held: the
// TeeHandler calls back into this function and the mutex is not reentrant.
// Internal diagnostics go to stderr instead.
func (a *App) writeSessionLogEntry(entry SessionLogEntry) {
	var marshalErr, writeErr error
	var syncFile *os.File

	a.sessionLogMu.Lock()

	a.sessionLogSeq++
	entry.Seq = a.sessionLogSeq

	if a.sessionLogFile != nil {
		raw, err := json.Marshal(entry)
		if err != nil {
			marshalErr = err
		} else {
			raw = append(raw, '\n')
			if _, err := a.sessionLogFile.Write(raw); err != nil {
				writeErr = err
			} else if entry.Level == "error" {
				// Sync after unlock to keep disk latency out of the critical section.
				syncFile = a.sessionLogFile
			}
		}
	}

	a.sessionLogEntries.push(entry)

	a.sessionLogMu.Unlock()

	if syncFile != nil {
		// os.ErrClosed is a benign race with closeSessionLog during shutdown.
		if syncErr := syncFile.Sync(); syncErr != nil && !errors.Is(syncErr, os.ErrClosed) {
			fmt.Fprintf(os.Stderr, "[session-log] failed to sync log file: %v\n", syncErr)
		}
	}
	if marshalErr != nil {
		fmt.Fprintf(os.Stderr, "[session-log] failed to marshal log entry: %v\n", marshalErr)
	}
	if writeErr != nil {
		fmt.Fprintf(os.Stderr, "[session-log] failed to write log entry: %v\n", writeErr)
	}

	a.publish(wsserver.TopicLog, "", time.Now(), entry)
}

// closeSessionLog flushes and closes the session log file handle.
func (a *App) closeSessionLog() {
	var closeErr error

	a.sessionLogMu.Lock()
	if a.sessionLogFile != nil {
		closeErr = a.sessionLogFile.Close()
		a.sessionLogFile = nil
	}
	a.sessionLogMu.Unlock()

	if closeErr != nil {
		fmt.Fprintf(os.Stderr, "[session-log] failed to close log file: %v\n", closeErr)
	}
}

// sessionLogTail returns up to n of the newest session log entries, oldest
// first.
func (a *App) sessionLogTail(n int) []SessionLogEntry {
	a.sessionLogMu.RLock()
	defer a.sessionLogMu.RUnlock()
	return a.sessionLogEntries.last(n)
}
