// Package chord turns key-state snapshots into named chord activations.
package chord

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"chordhook/internal/config"
	"chordhook/internal/keyboard"
)

// Binding is a named chord: an ordered list of key groups.
//
// A group is satisfied when exactly one of its alternatives is pressed, so
// the group ShiftLeft|ShiftRight is not satisfied while both shifts are held.
// Unless AllowOthers is set, every other tracked key must be released.
type Binding struct {
	Name        string
	Groups      [][]keyboard.Key
	AllowOthers bool
}

// uses reports whether key appears in any group of b.
func (b Binding) uses(key keyboard.Key) bool {
	for _, g := range b.Groups {
		if slices.Contains(g, key) {
			return true
		}
	}
	return false
}

// String renders the binding as "name: ShiftLeft|ShiftRight + F8".
func (b Binding) String() string {
	parts := make([]string, len(b.Groups))
	for i, g := range b.Groups {
		names := make([]string, len(g))
		for j, k := range g {
			names[j] = k.String()
		}
		parts[i] = strings.Join(names, "|")
	}
	return b.Name + ": " + strings.Join(parts, " + ")
}

// Matcher evaluates bindings against snapshots of a table laid out by
// Mapping. It is immutable after construction and safe for concurrent use.
type Matcher struct {
	bindings []Binding
	keys     []keyboard.Key
}

// NewMatcher validates bindings and derives the tracked key layout.
// Names must be unique and non-empty; every binding needs at least one
// group, and every group at least one valid key.
func NewMatcher(bindings []Binding) (*Matcher, error) {
	seen := make(map[string]struct{}, len(bindings))
	var keys []keyboard.Key
	for i, b := range bindings {
		if b.Name == "" {
			return nil, fmt.Errorf("binding %d: name must not be empty", i)
		}
		if _, dup := seen[b.Name]; dup {
			return nil, fmt.Errorf("binding %q: duplicate name", b.Name)
		}
		seen[b.Name] = struct{}{}
		if len(b.Groups) == 0 {
			return nil, fmt.Errorf("binding %q: no key groups", b.Name)
		}
		for j, g := range b.Groups {
			if len(g) == 0 {
				return nil, fmt.Errorf("binding %q: group %d is empty", b.Name, j)
			}
			for _, k := range g {
				if !k.Valid() {
					return nil, fmt.Errorf("binding %q: group %d: invalid key %d", b.Name, j, uint8(k))
				}
				if !slices.Contains(keys, k) {
					keys = append(keys, k)
				}
			}
		}
	}
	if len(keys) == 0 {
		return nil, errors.New("no bindings")
	}
	return &Matcher{bindings: slices.Clone(bindings), keys: keys}, nil
}

// FromConfig builds a matcher from config chord entries, in order.
func FromConfig(chords []config.ChordConfig) (*Matcher, error) {
	bindings := make([]Binding, 0, len(chords))
	for _, c := range chords {
		groups, err := c.Groups()
		if err != nil {
			return nil, err
		}
		bindings = append(bindings, Binding{Name: c.Name, Groups: groups, AllowOthers: c.AllowOthers})
	}
	return NewMatcher(bindings)
}

// Keys returns the tracked keys in slot order: first appearance across the
// bindings, without duplicates.
func (m *Matcher) Keys() []keyboard.Key { return slices.Clone(m.keys) }

// Len returns the number of table slots the matcher needs.
func (m *Matcher) Len() int { return len(m.keys) }

// Bindings returns a copy of the bindings in evaluation order.
func (m *Matcher) Bindings() []Binding { return slices.Clone(m.bindings) }

// Mapping returns a key-mapping function that assigns Keys() to the slots
// of a table of length Len().
func (m *Matcher) Mapping() func(entries []keyboard.KeyStateEntry) {
	keys := m.Keys()
	return func(entries []keyboard.KeyStateEntry) {
		for i := range min(len(entries), len(keys)) {
			entries[i].SetKey(keys[i])
		}
	}
}

// Match returns the first binding satisfied by snap.
func (m *Matcher) Match(snap keyboard.Snapshot) (Binding, bool) {
	pressed := snap.Pressed()
	for _, b := range m.bindings {
		if matches(b, snap, pressed) {
			return b, true
		}
	}
	return Binding{}, false
}

func matches(b Binding, snap keyboard.Snapshot, pressed []keyboard.Key) bool {
	for _, g := range b.Groups {
		n := 0
		for _, k := range g {
			if snap.KeyPressed(k) {
				n++
			}
		}
		if n != 1 {
			return false
		}
	}
	if b.AllowOthers {
		return true
	}
	for _, k := range pressed {
		if !b.uses(k) {
			return false
		}
	}
	return true
}
