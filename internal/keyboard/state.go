package keyboard

import "fmt"

// ButtonState is the pressed/released state of a tracked key.
// The zero value is Released.
type ButtonState uint8

const (
	Released ButtonState = iota
	Pressed
)

// Invert returns the opposite state.
func (s ButtonState) Invert() ButtonState {
	if s == Pressed {
		return Released
	}
	return Pressed
}

func (s ButtonState) IsPressed() bool  { return s == Pressed }
func (s ButtonState) IsReleased() bool { return s == Released }

func (s ButtonState) String() string {
	switch s {
	case Pressed:
		return "pressed"
	case Released:
		return "released"
	default:
		return fmt.Sprintf("ButtonState(%d)", uint8(s))
	}
}

// KeyStateEntry is one slot of the state table.
type KeyStateEntry struct {
	key   Key
	state ButtonState
}

// NewKeyStateEntry returns an entry tracking key in the given state.
func NewKeyStateEntry(key Key, state ButtonState) KeyStateEntry {
	return KeyStateEntry{key: key, state: state}
}

// SetKey assigns the key this slot tracks. Only call it while the table is
// being configured, before listening starts.
func (e *KeyStateEntry) SetKey(key Key) { e.key = key }

func (e KeyStateEntry) Key() Key           { return e.key }
func (e KeyStateEntry) State() ButtonState { return e.state }
func (e KeyStateEntry) IsPressed() bool    { return e.state.IsPressed() }
func (e KeyStateEntry) IsReleased() bool   { return e.state.IsReleased() }

// Table is the fixed-size key state table of one capture session.
// Its length is set at construction and never changes. Duplicate keys are
// tolerated; the first matching slot wins.
//
// Not safe for concurrent use. The capture session only touches it while
// holding the bridge lock.
type Table struct {
	entries []KeyStateEntry
}

// NewTable allocates a table with n released, unconfigured slots.
func NewTable(n int) *Table {
	if n < 0 {
		n = 0
	}
	return &Table{entries: make([]KeyStateEntry, n)}
}

// Len returns the number of slots.
func (t *Table) Len() int { return len(t.entries) }

// Entries exposes the slots for configuration. The returned slice aliases
// the table; its length must not be changed.
func (t *Table) Entries() []KeyStateEntry { return t.entries }

// FindTransition returns the first entry tracking code whose state differs
// from newState, or nil when the key is untracked or the event would not
// change anything (a repeated press, a release of an already released key).
func (t *Table) FindTransition(code RawCode, newState ButtonState) *KeyStateEntry {
	for i := range t.entries {
		e := &t.entries[i]
		if e.key != KeyNone && e.key.Raw() == code && e.state != newState {
			return e
		}
	}
	return nil
}

// Apply records newState for code when it is a genuine transition and
// reports the key that changed.
func (t *Table) Apply(code RawCode, newState ButtonState) (Key, bool) {
	e := t.FindTransition(code, newState)
	if e == nil {
		return KeyNone, false
	}
	e.state = newState
	return e.key, true
}

// Snapshot copies the current table contents.
func (t *Table) Snapshot() Snapshot {
	entries := make([]KeyStateEntry, len(t.entries))
	copy(entries, t.entries)
	return Snapshot{entries: entries}
}

// Snapshot is an immutable view of the table taken right after a transition
// was applied.
type Snapshot struct {
	entries []KeyStateEntry
}

// Len returns the number of slots.
func (s Snapshot) Len() int { return len(s.entries) }

// Entry returns slot i. It panics if i is out of range.
func (s Snapshot) Entry(i int) KeyStateEntry { return s.entries[i] }

// IsPressed reports whether slot i is pressed. Out-of-range slots report false.
func (s Snapshot) IsPressed(i int) bool {
	if i < 0 || i >= len(s.entries) {
		return false
	}
	return s.entries[i].IsPressed()
}

// KeyPressed reports whether any slot tracking key is pressed.
func (s Snapshot) KeyPressed(key Key) bool {
	for _, e := range s.entries {
		if e.key == key && e.IsPressed() {
			return true
		}
	}
	return false
}

// Pressed returns the keys currently pressed, in slot order.
func (s Snapshot) Pressed() []Key {
	var out []Key
	for _, e := range s.entries {
		if e.IsPressed() {
			out = append(out, e.key)
		}
	}
	return out
}

// Entries returns a copy of all slots.
func (s Snapshot) Entries() []KeyStateEntry {
	out := make([]KeyStateEntry, len(s.entries))
	copy(out, s.entries)
	return out
}

// NewSnapshot builds a snapshot from explicit entries.
func NewSnapshot(entries ...KeyStateEntry) Snapshot {
	out := make([]KeyStateEntry, len(entries))
	copy(out, entries)
	return Snapshot{entries: out}
}
