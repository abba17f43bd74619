package keyboard

import (
	"log/slog"
	"slices"
	"testing"

	"chordhook/internal/testutil"
)

type transition struct {
	key     Key
	state   ButtonState
	pressed []Key
}

type recordingHandler struct {
	calls []transition
}

func (h *recordingHandler) handle(snap Snapshot, key Key, state ButtonState) {
	h.calls = append(h.calls, transition{key: key, state: state, pressed: snap.Pressed()})
}

func newTestSession(h Handler, keys ...Key) *Bridge[session] {
	return Wrap(session{table: newTestTable(keys...), handler: h})
}

func press(b *Bridge[session], k Key) {
	dispatchRecord(b.Pointer(), recordFromServer, keyEventPayload(xKeyPress, k))
}

func release(b *Bridge[session], k Key) {
	dispatchRecord(b.Pointer(), recordFromServer, keyEventPayload(xKeyRelease, k))
}

func TestSessionTransitionSequence(t *testing.T) {
	var rec recordingHandler
	b := newTestSession(rec.handle, KeyA, KeyB, KeyC)
	t.Cleanup(b.Close)

	press(b, KeyA)
	press(b, KeyB)
	release(b, KeyA)
	release(b, KeyB)
	press(b, KeyC)

	want := []transition{
		{key: KeyA, state: Pressed, pressed: []Key{KeyA}},
		{key: KeyB, state: Pressed, pressed: []Key{KeyA, KeyB}},
		{key: KeyA, state: Released, pressed: []Key{KeyB}},
		{key: KeyB, state: Released, pressed: nil},
		{key: KeyC, state: Pressed, pressed: []Key{KeyC}},
	}
	if len(rec.calls) != len(want) {
		t.Fatalf("handler called %d times, want %d: %+v", len(rec.calls), len(want), rec.calls)
	}
	for i, w := range want {
		got := rec.calls[i]
		if got.key != w.key || got.state != w.state || !slices.Equal(got.pressed, w.pressed) {
			t.Errorf("call %d = %+v, want %+v", i, got, w)
		}
	}
}

func TestSessionIgnoresUntrackedAndRepeats(t *testing.T) {
	var rec recordingHandler
	b := newTestSession(rec.handle, ShiftLeft)
	t.Cleanup(b.Close)

	press(b, KeyQ)   // untracked
	release(b, KeyQ) // untracked
	press(b, ShiftLeft)
	press(b, ShiftLeft) // auto-repeat
	dispatchRecord(b.Pointer(), recordFromServer, []byte{xKeyRelease, byte(ShiftLeft)})
	dispatchRecord(b.Pointer(), recordFromServer, keyEventPayload(xKeyPress, Key(121)))

	if len(rec.calls) != 1 {
		t.Fatalf("handler called %d times, want 1: %+v", len(rec.calls), rec.calls)
	}
	if rec.calls[0].key != ShiftLeft || rec.calls[0].state != Pressed {
		t.Fatalf("call = %+v", rec.calls[0])
	}
}

func TestSessionHandlerPanicDoesNotStopLaterCalls(t *testing.T) {
	testutil.CaptureLogBuffer(t, slog.LevelError)

	var rec recordingHandler
	calls := 0
	b := newTestSession(func(snap Snapshot, key Key, state ButtonState) {
		calls++
		if calls == 1 {
			panic("first call fails")
		}
		rec.handle(snap, key, state)
	}, KeyA)
	t.Cleanup(b.Close)

	press(b, KeyA)
	release(b, KeyA)

	if calls != 2 {
		t.Fatalf("handler called %d times, want 2", calls)
	}
	if len(rec.calls) != 1 || rec.calls[0].state != Released || rec.calls[0].pressed != nil {
		t.Fatalf("second call = %+v, want KeyA released with empty pressed set", rec.calls)
	}
}

func TestSessionLateInterceptAfterClose(t *testing.T) {
	var rec recordingHandler
	table := newTestTable(KeyA)
	b := Wrap(session{table: table, handler: rec.handle})
	token := b.Pointer()
	b.Close()

	dispatchRecord(token, recordFromServer, keyEventPayload(xKeyPress, KeyA))

	if len(rec.calls) != 0 {
		t.Fatalf("handler called after close: %+v", rec.calls)
	}
	if table.Snapshot().KeyPressed(KeyA) {
		t.Fatal("table mutated after close")
	}
}
