package main

// SessionLogEntry is one Warn/Error record in the session log. Seq is
// assigned at write time and never resets, so clients replaying the log
// backlog can deduplicate against live entries.
type SessionLogEntry struct {
	Seq       uint64         `json:"seq"`
	Timestamp string         `json:"ts"`    // RFC 3339 with milliseconds
	Level     string         `json:"level"` // "warn", "error"
	Message   string         `json:"msg"`
	Source    string         `json:"source,omitempty"` // slog group
	Attrs     map[string]any `json:"attrs,omitempty"`
}

// ringBuffer is a fixed-capacity circular buffer that overwrites its oldest
// element when full.
//
// Not safe for concurrent use; callers hold the owning mutex.
type ringBuffer[T any] struct {
	buf   []T
	head  int // index of the oldest element
	count int
}

// newRingBuffer allocates a ring buffer. Capacity values < 1 are clamped to 1.
func newRingBuffer[T any](capacity int) ringBuffer[T] {
	return ringBuffer[T]{buf: make([]T, max(capacity, 1))}
}

// push appends v, overwriting the oldest element when full.
func (rb *ringBuffer[T]) push(v T) {
	bufCap := len(rb.buf)
	if bufCap == 0 {
		return
	}
	if rb.count < bufCap {
		rb.buf[(rb.head+rb.count)%bufCap] = v
		rb.count++
		return
	}
	rb.buf[rb.head] = v
	rb.head = (rb.head + 1) % bufCap
}

// snapshot returns all elements oldest first in a new slice.
func (rb *ringBuffer[T]) snapshot() []T {
	return rb.last(rb.count)
}

// last returns the newest n elements oldest first in a new slice. n is
// clamped to the number of stored elements.
func (rb *ringBuffer[T]) last(n int) []T {
	n = min(max(n, 0), rb.count)
	out := make([]T, n)
	if n == 0 {
		return out
	}
	bufCap := len(rb.buf)
	start := (rb.head + rb.count - n) % bufCap

	first := min(bufCap-start, n)
	copy(out, rb.buf[start:start+first])
	if rest := n - first; rest > 0 {
		copy(out[first:], rb.buf[:rest])
	}
	return out
}

func (rb *ringBuffer[T]) len() int {
	return rb.count
}
