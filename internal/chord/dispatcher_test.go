package chord

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
	"time"

	"chordhook/internal/keyboard"
)

// feeder drives a dispatcher the way a capture session does: apply the
// transition to a table, then hand over a snapshot.
type feeder struct {
	table *keyboard.Table
	d     *Dispatcher
}

func newFeeder(t *testing.T, buffer int) *feeder {
	t.Helper()
	m := defaultMatcher(t)
	table := keyboard.NewTable(m.Len())
	m.Mapping()(table.Entries())
	d := NewDispatcher(m, "session-1", buffer, slog.New(slog.DiscardHandler))
	d.now = func() time.Time { return time.Unix(1700000000, 0) }
	return &feeder{table: table, d: d}
}

func (f *feeder) send(key keyboard.Key, state keyboard.ButtonState) {
	if k, ok := f.table.Apply(key.Raw(), state); ok {
		f.d.Handle(f.table.Snapshot(), k, state)
	}
}

func (f *feeder) drain() []Event {
	var out []Event
	for {
		select {
		case ev := <-f.d.Events():
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestDispatcherFiresOnMatchEdge(t *testing.T) {
	f := newFeeder(t, 64)

	steps := []struct {
		key       keyboard.Key
		state     keyboard.ButtonState
		wantChord string
	}{
		{keyboard.ShiftLeft, keyboard.Pressed, ""},
		{keyboard.F8, keyboard.Pressed, "shift-f8"},
		{keyboard.F8, keyboard.Released, ""},
		{keyboard.F8, keyboard.Pressed, "shift-f8"},
		{keyboard.ShiftRight, keyboard.Pressed, "double-shift"},
		{keyboard.ShiftLeft, keyboard.Released, "shift-f8"},
		{keyboard.ShiftRight, keyboard.Released, ""},
		{keyboard.F8, keyboard.Released, ""},
	}
	for _, s := range steps {
		f.send(s.key, s.state)
	}

	events := f.drain()
	if len(events) != len(steps) {
		t.Fatalf("got %d events, want %d", len(events), len(steps))
	}
	for i, s := range steps {
		ev := events[i]
		if ev.Key != s.key || ev.State != s.state {
			t.Errorf("event %d = %v %v, want %v %v", i, ev.Key, ev.State, s.key, s.state)
		}
		if ev.Chord != s.wantChord {
			t.Errorf("event %d chord = %q, want %q", i, ev.Chord, s.wantChord)
		}
		if ev.Fired() != (s.wantChord != "") {
			t.Errorf("event %d Fired() = %v", i, ev.Fired())
		}
		if ev.Session != "session-1" {
			t.Errorf("event %d session = %q, want session-1", i, ev.Session)
		}
		if !ev.At.Equal(time.Unix(1700000000, 0)) {
			t.Errorf("event %d At = %v", i, ev.At)
		}
	}
}

func TestDispatcherHeldChordDoesNotRefire(t *testing.T) {
	f := newFeeder(t, 64)

	f.send(keyboard.ShiftLeft, keyboard.Pressed)
	f.send(keyboard.ShiftRight, keyboard.Pressed)
	// double-shift allows other keys; it stays the match while F8 toggles.
	f.send(keyboard.F8, keyboard.Pressed)
	f.send(keyboard.F8, keyboard.Released)

	var fired []string
	for _, ev := range f.drain() {
		if ev.Fired() {
			fired = append(fired, ev.Chord)
		}
	}
	if len(fired) != 1 || fired[0] != "double-shift" {
		t.Fatalf("fired = %v, want [double-shift]", fired)
	}
}

func TestDispatcherRepeatedPressIsNotATransition(t *testing.T) {
	f := newFeeder(t, 64)

	f.send(keyboard.ShiftLeft, keyboard.Pressed)
	f.send(keyboard.F8, keyboard.Pressed)
	// Autorepeat delivers further presses of a held key.
	f.send(keyboard.F8, keyboard.Pressed)
	f.send(keyboard.F8, keyboard.Pressed)

	if n := len(f.drain()); n != 2 {
		t.Fatalf("got %d events, want 2", n)
	}
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	var logBuf bytes.Buffer
	m := defaultMatcher(t)
	d := NewDispatcher(m, "s", 1, slog.New(slog.NewTextHandler(&logBuf, nil)))
	snap := snapOf(m.Keys(), keyboard.ShiftLeft)

	d.Handle(snap, keyboard.ShiftLeft, keyboard.Pressed)
	d.Handle(snap, keyboard.ShiftLeft, keyboard.Pressed)
	d.Handle(snap, keyboard.ShiftLeft, keyboard.Pressed)

	if got := d.Dropped(); got != 2 {
		t.Fatalf("Dropped() = %d, want 2", got)
	}
	if got := strings.Count(logBuf.String(), "[WARN-CHORD]"); got != 1 {
		t.Fatalf("drop warnings = %d, want 1 (first drop only); log:\n%s", got, logBuf.String())
	}
}

func TestDispatcherMinimumBuffer(t *testing.T) {
	d := NewDispatcher(defaultMatcher(t), "s", 0, nil)
	if got := cap(d.events); got != 1 {
		t.Fatalf("channel capacity = %d, want 1", got)
	}
	if d.Session() != "s" {
		t.Fatalf("Session() = %q, want s", d.Session())
	}
}

func TestDispatcherClose(t *testing.T) {
	f := newFeeder(t, 4)
	f.send(keyboard.ShiftLeft, keyboard.Pressed)

	f.d.Close()
	f.d.Close()
	// Handle after Close is ignored rather than panicking on a closed channel.
	f.send(keyboard.F8, keyboard.Pressed)

	var events []Event
	for ev := range f.d.Events() {
		events = append(events, ev)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events after Close, want 1 buffered", len(events))
	}
}
