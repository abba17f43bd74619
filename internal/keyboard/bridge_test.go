package keyboard

import (
	"log/slog"
	"strings"
	"sync"
	"testing"

	"chordhook/internal/testutil"
)

func TestBridgeTryUse(t *testing.T) {
	b := Wrap(0)
	t.Cleanup(b.Close)

	for range 3 {
		if !b.TryUse(func(n *int) { *n++ }) {
			t.Fatal("TryUse on live bridge returned false")
		}
	}
	var got int
	b.TryUse(func(n *int) { got = *n })
	if got != 3 {
		t.Fatalf("payload = %d, want 3", got)
	}
}

func TestBridgeCloseStopsUse(t *testing.T) {
	b := Wrap(0)
	token := b.Pointer()
	if lookupBridge[int](token) != b {
		t.Fatal("token does not resolve to its bridge")
	}

	b.Close()
	b.Close() // idempotent

	if b.Live() {
		t.Fatal("bridge still live after Close")
	}
	called := false
	if b.TryUse(func(*int) { called = true }) {
		t.Fatal("TryUse after Close returned true")
	}
	if called {
		t.Fatal("payload function ran after Close")
	}
	if lookupBridge[int](token) != nil {
		t.Fatal("closed token still resolves")
	}
}

func TestBridgeLookupRejectsOtherTypes(t *testing.T) {
	b := Wrap("payload")
	t.Cleanup(b.Close)

	if lookupBridge[int](b.Pointer()) != nil {
		t.Fatal("token resolved to a bridge of a different payload type")
	}
	if lookupBridge[string](0) != nil {
		t.Fatal("zero token resolved")
	}
}

func TestBridgeTokensAreUnique(t *testing.T) {
	a := Wrap(1)
	b := Wrap(2)
	t.Cleanup(a.Close)
	t.Cleanup(b.Close)
	if a.Pointer() == b.Pointer() {
		t.Fatalf("tokens collide: %d", a.Pointer())
	}
}

func TestBridgeRecoversPanic(t *testing.T) {
	logBuf := testutil.CaptureLogBuffer(t, slog.LevelDebug)
	b := Wrap(0)
	t.Cleanup(b.Close)

	if b.TryUse(func(n *int) {
		*n = 7
		panic("handler failure")
	}) {
		t.Fatal("TryUse returned true for a panicking function")
	}
	if !strings.Contains(logBuf.String(), "[DEBUG-PANIC]") {
		t.Fatalf("panic not logged, got %q", logBuf.String())
	}

	// The lock was released and state written before the panic is kept.
	var got int
	if !b.TryUse(func(n *int) { got = *n }) {
		t.Fatal("TryUse after recovered panic returned false")
	}
	if got != 7 {
		t.Fatalf("payload = %d, want 7", got)
	}
}

func TestBridgeConcurrentCloseAndUse(t *testing.T) {
	b := Wrap(0)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for range 8 {
		wg.Go(func() {
			<-start
			for range 1000 {
				b.TryUse(func(n *int) { *n++ })
			}
		})
	}
	close(start)
	b.Close()
	wg.Wait()

	if b.TryUse(func(*int) {}) {
		t.Fatal("TryUse succeeded after Close")
	}
}
