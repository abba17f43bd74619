package keyboard

// Handler receives every genuine transition of a tracked key together with a
// snapshot of the table taken after the transition was applied. It runs on
// the capture goroutine while the session is locked and must not block.
type Handler func(snap Snapshot, key Key, state ButtonState)

// session is the payload shared with the intercept trampoline through a Bridge.
type session struct {
	table   *Table
	handler Handler
}

// intercept applies one recorded payload to the table.
func (s *session) intercept(category int, data []byte) {
	hdr, state, ok := decodeKeyEvent(category, data)
	if !ok {
		return
	}
	if _, known := KeyFromRaw(RawCode(hdr.Code)); !known {
		return
	}
	key, changed := s.table.Apply(RawCode(hdr.Code), state)
	if !changed {
		return
	}
	s.handler(s.table.Snapshot(), key, state)
}

// dispatchRecord is the Go end of the intercept trampoline. token is the value
// registered with EnableContext. Unknown or closed tokens are ignored.
func dispatchRecord(token uintptr, category int, data []byte) {
	b := lookupBridge[session](token)
	if b == nil {
		return
	}
	b.TryUse(func(s *session) {
		s.intercept(category, data)
	})
}
