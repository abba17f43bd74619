//go:build linux

package keyboard

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"testing"
	"time"
)

type listenHarness struct {
	rec     *fakeRecorder
	cancel  context.CancelFunc
	done    chan error
	mu      sync.Mutex
	calls   []transition
	started chan struct{}
}

func startListening(t *testing.T, keys ...Key) *listenHarness {
	t.Helper()
	h := &listenHarness{
		rec:     newFakeRecorder(),
		done:    make(chan error, 1),
		started: make(chan struct{}),
	}
	withRecorderFactory(t, func(string) recorder { return h.rec })

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	t.Cleanup(cancel)

	builder := WithLen(len(keys)).
		KeyMapping(func(entries []KeyStateEntry) {
			for i, k := range keys {
				entries[i].SetKey(k)
			}
		}).
		Handler(func(snap Snapshot, key Key, state ButtonState) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.calls = append(h.calls, transition{key: key, state: state, pressed: snap.Pressed()})
		}).
		OnStartup(func() { close(h.started) })

	go func() { h.done <- builder.Listen(ctx) }()

	select {
	case <-h.started:
	case err := <-h.done:
		t.Fatalf("Listen() returned early: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("startup callback not called")
	}
	return h
}

func (h *listenHarness) transitions() []transition {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.calls)
}

func (h *listenHarness) stop(t *testing.T) {
	t.Helper()
	h.cancel()
	select {
	case err := <-h.done:
		if err != nil {
			t.Fatalf("Listen() = %v, want nil after cancel", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Listen() did not return after cancel")
	}
}

func TestListenDeliversTransitions(t *testing.T) {
	h := startListening(t, ShiftLeft, F8)

	h.rec.push(keyEventPayload(xKeyPress, ShiftLeft))
	h.rec.push(keyEventPayload(xKeyPress, ShiftLeft))
	h.rec.push(keyEventPayload(xKeyPress, KeyZ))
	h.rec.push(keyEventPayload(xKeyPress, F8))
	h.rec.push(keyEventPayload(xKeyRelease, F8))

	waitForCondition(t, 2*time.Second, func() bool {
		return len(h.transitions()) == 3
	}, "three transitions delivered")

	got := h.transitions()
	want := []transition{
		{key: ShiftLeft, state: Pressed, pressed: []Key{ShiftLeft}},
		{key: F8, state: Pressed, pressed: []Key{ShiftLeft, F8}},
		{key: F8, state: Released, pressed: []Key{ShiftLeft}},
	}
	for i, w := range want {
		if got[i].key != w.key || got[i].state != w.state || !slices.Equal(got[i].pressed, w.pressed) {
			t.Errorf("transition %d = %+v, want %+v", i, got[i], w)
		}
	}

	token := h.rec.sessionToken()
	h.stop(t)

	// A callback arriving after teardown must be ignored.
	dispatchRecord(token, recordFromServer, keyEventPayload(xKeyRelease, ShiftLeft))
	if n := len(h.transitions()); n != 3 {
		t.Fatalf("late intercept delivered: %d transitions", n)
	}
	if lookupBridge[session](token) != nil {
		t.Fatal("session token still registered after Listen returned")
	}
}

func TestListenSingleSession(t *testing.T) {
	h := startListening(t, KeyA)

	err := WithLen(1).Listen(context.Background())
	if !errors.Is(err, ErrAlreadyListening) {
		t.Fatalf("second Listen() = %v, want ErrAlreadyListening", err)
	}
	h.stop(t)

	// The slot is released once the first session returns.
	h2 := startListening(t, KeyB)
	h2.stop(t)
}

func TestListenReportsConnectionLoss(t *testing.T) {
	h := startListening(t, KeyA)
	h.rec.hangup()

	select {
	case err := <-h.done:
		if !errors.Is(err, ErrConnectionLost) {
			t.Fatalf("Listen() = %v, want ErrConnectionLost", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Listen() did not return after hangup")
	}
	if listening.Load() {
		t.Fatal("session slot not released after failure")
	}
}

func TestListenStartupPanicReleasesSession(t *testing.T) {
	rec := newFakeRecorder()
	withRecorderFactory(t, func(string) recorder { return rec })

	err := WithLen(1).
		Logger(slog.New(slog.DiscardHandler)).
		OnStartup(func() { panic("subscriber gone") }).
		Listen(context.Background())
	if !errors.Is(err, ErrStartupPanicked) {
		t.Fatalf("Listen() = %v, want ErrStartupPanicked", err)
	}
	if token := rec.sessionToken(); lookupBridge[session](token) != nil {
		t.Fatal("session token still registered after Listen returned")
	}

	// The process-wide session slot is free again.
	h := startListening(t, KeyA)
	h.stop(t)
}
