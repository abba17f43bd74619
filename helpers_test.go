package main

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"chordhook/internal/config"
	"chordhook/internal/journal"
	"chordhook/internal/keyboard"
)

// waitForCondition polls fn every 10ms until it returns true or the timeout
// expires. Returns true if the condition was met, false on timeout.
func waitForCondition(t *testing.T, timeout time.Duration, fn func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return fn()
}

// newTestApp returns an App with a silent logger and a temp state dir.
func newTestApp(t *testing.T) *App {
	t.Helper()
	a := NewApp(globalOptions{})
	a.logger = slog.New(slog.DiscardHandler)
	a.stateDir = t.TempDir()
	a.setConfigSnapshot(config.DefaultConfig())
	return a
}

func openTestJournal(t *testing.T) *journal.Journal {
	t.Helper()
	j, err := journal.Open(t.Context(), filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("journal.Open returned error: %v", err)
	}
	t.Cleanup(func() { _ = j.Close() })
	return j
}

// stubListen replaces listenFn for the duration of the test.
func stubListen(t *testing.T, fn func(ctx context.Context, spec captureSpec) error) {
	t.Helper()
	orig := listenFn
	listenFn = fn
	t.Cleanup(func() { listenFn = orig })
}

type keyStep struct {
	key   keyboard.Key
	state keyboard.ButtonState
}

// fakeSession plays transitions through a capture spec the way a live
// session does: table lookup first, handler only on a real transition.
type fakeSession struct {
	spec  captureSpec
	table *keyboard.Table
}

func newFakeSession(spec captureSpec) *fakeSession {
	table := keyboard.NewTable(spec.slots)
	if spec.mapping != nil {
		spec.mapping(table.Entries())
	}
	return &fakeSession{spec: spec, table: table}
}

func (f *fakeSession) play(steps ...keyStep) {
	for _, s := range steps {
		key, ok := f.table.Apply(s.key.Raw(), s.state)
		if !ok {
			continue
		}
		if f.spec.handler != nil {
			f.spec.handler(f.table.Snapshot(), key, s.state)
		}
	}
}

func (f *fakeSession) start() {
	if f.spec.onStartup != nil {
		f.spec.onStartup()
	}
}
