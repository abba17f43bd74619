package keyboard

import (
	"slices"
	"testing"
)

func newTestTable(keys ...Key) *Table {
	table := NewTable(len(keys))
	entries := table.Entries()
	for i, k := range keys {
		entries[i].SetKey(k)
	}
	return table
}

func TestButtonState(t *testing.T) {
	var zero ButtonState
	if zero != Released {
		t.Fatalf("zero ButtonState = %s, want released", zero)
	}
	if Pressed.Invert() != Released || Released.Invert() != Pressed {
		t.Fatal("Invert did not flip state")
	}
	if !Pressed.IsPressed() || Pressed.IsReleased() {
		t.Fatal("Pressed predicates wrong")
	}
	if !Released.IsReleased() || Released.IsPressed() {
		t.Fatal("Released predicates wrong")
	}
	if Pressed.String() != "pressed" || Released.String() != "released" {
		t.Fatalf("String() = %q/%q", Pressed, Released)
	}
}

func TestNewTableDefaults(t *testing.T) {
	table := NewTable(3)
	if table.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", table.Len())
	}
	for i, e := range table.Entries() {
		if e.Key() != KeyNone || !e.IsReleased() {
			t.Fatalf("slot %d = %s/%s, want None/released", i, e.Key(), e.State())
		}
	}
	if NewTable(-1).Len() != 0 {
		t.Fatal("NewTable(-1) should be empty")
	}
}

func TestFindTransition(t *testing.T) {
	table := newTestTable(KeyA, KeyB)

	if e := table.FindTransition(KeyC.Raw(), Pressed); e != nil {
		t.Fatalf("untracked key produced transition on %s", e.Key())
	}
	if e := table.FindTransition(KeyA.Raw(), Released); e != nil {
		t.Fatal("release of a released key produced transition")
	}
	e := table.FindTransition(KeyB.Raw(), Pressed)
	if e == nil || e.Key() != KeyB {
		t.Fatalf("FindTransition(KeyB, Pressed) = %v, want slot for KeyB", e)
	}
	if !e.IsReleased() {
		t.Fatal("FindTransition must not mutate the entry")
	}
}

func TestUnconfiguredSlotsNeverMatch(t *testing.T) {
	table := NewTable(2)
	if _, ok := table.Apply(0, Pressed); ok {
		t.Fatal("raw code 0 matched an unconfigured slot")
	}
}

func TestApplyRepeatedPressIsIdempotent(t *testing.T) {
	table := newTestTable(KeyA)

	key, ok := table.Apply(KeyA.Raw(), Pressed)
	if !ok || key != KeyA {
		t.Fatalf("first press = (%s, %v), want (KeyA, true)", key, ok)
	}
	if _, ok := table.Apply(KeyA.Raw(), Pressed); ok {
		t.Fatal("second press reported a transition")
	}
	if !table.Snapshot().KeyPressed(KeyA) {
		t.Fatal("KeyA not pressed after press")
	}
}

func TestApplyDuplicateKeysFirstSlotWins(t *testing.T) {
	table := newTestTable(KeyA, KeyA)

	if _, ok := table.Apply(KeyA.Raw(), Pressed); !ok {
		t.Fatal("press not applied")
	}
	snap := table.Snapshot()
	if !snap.IsPressed(0) || snap.IsPressed(1) {
		t.Fatalf("pressed slots = %v/%v, want first only", snap.IsPressed(0), snap.IsPressed(1))
	}

	// The first slot is already pressed, so a second press lands on the
	// second slot, the first slot whose state differs.
	if _, ok := table.Apply(KeyA.Raw(), Pressed); !ok {
		t.Fatal("second press on duplicate slot not applied")
	}
	snap = table.Snapshot()
	if !snap.IsPressed(0) || !snap.IsPressed(1) {
		t.Fatal("both duplicate slots should be pressed")
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	table := newTestTable(KeyA, KeyB)
	table.Apply(KeyA.Raw(), Pressed)
	snap := table.Snapshot()

	table.Apply(KeyB.Raw(), Pressed)
	if snap.KeyPressed(KeyB) {
		t.Fatal("snapshot observed a later transition")
	}

	entries := snap.Entries()
	entries[0] = NewKeyStateEntry(KeyC, Released)
	if snap.Entry(0).Key() != KeyA {
		t.Fatal("Entries() result aliases the snapshot")
	}
	if got := snap.Pressed(); !slices.Equal(got, []Key{KeyA}) {
		t.Fatalf("Pressed() = %v, want [KeyA]", got)
	}
	if snap.IsPressed(-1) || snap.IsPressed(5) {
		t.Fatal("out-of-range slots must report released")
	}
}

func TestNewSnapshot(t *testing.T) {
	snap := NewSnapshot(
		NewKeyStateEntry(ShiftLeft, Pressed),
		NewKeyStateEntry(F8, Released),
	)
	if snap.Len() != 2 {
		t.Fatalf("Len() = %d", snap.Len())
	}
	if !snap.KeyPressed(ShiftLeft) || snap.KeyPressed(F8) {
		t.Fatal("unexpected pressed set")
	}
}
