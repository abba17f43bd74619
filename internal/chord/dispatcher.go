package chord

import (
	"log/slog"
	"sync/atomic"
	"time"

	"chordhook/internal/keyboard"
)

// Event is one key transition, annotated with the chord it activated.
type Event struct {
	Session string
	// Chord is the name of the binding that started matching on this
	// transition, or empty.
	Chord string
	Key   keyboard.Key
	State keyboard.ButtonState
	At    time.Time
}

// Fired reports whether the event activated a chord.
func (e Event) Fired() bool { return e.Chord != "" }

// Dispatcher adapts a Matcher to a keyboard.Handler and forwards every
// transition to a bounded channel. A chord fires on the transition that
// makes it the current match; holding it, autorepeat, and transitions that
// keep the same match do not fire it again.
//
// Handle never blocks. When the channel is full the event is dropped and
// counted.
type Dispatcher struct {
	matcher *Matcher
	session string
	logger  *slog.Logger
	now     func() time.Time

	events  chan Event
	dropped atomic.Uint64
	closed  atomic.Bool

	// current is the name of the binding matched by the last snapshot.
	// Only touched from Handle, which the capture session serializes.
	current string
}

// NewDispatcher creates a dispatcher with a channel of the given capacity.
// A capacity below 1 is raised to 1.
func NewDispatcher(m *Matcher, session string, buffer int, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		matcher: m,
		session: session,
		logger:  logger,
		now:     time.Now,
		events:  make(chan Event, max(buffer, 1)),
	}
}

// Handle is the keyboard.Handler for a capture session.
func (d *Dispatcher) Handle(snap keyboard.Snapshot, key keyboard.Key, state keyboard.ButtonState) {
	if d.closed.Load() {
		return
	}
	ev := Event{Session: d.session, Key: key, State: state, At: d.now()}

	name := ""
	if b, ok := d.matcher.Match(snap); ok {
		name = b.Name
	}
	if name != "" && name != d.current {
		ev.Chord = name
	}
	d.current = name

	select {
	case d.events <- ev:
	default:
		n := d.dropped.Add(1)
		if n == 1 || n%100 == 0 {
			d.logger.Warn("[WARN-CHORD] event channel full, dropping events",
				"session", d.session,
				"dropped", n,
				"chord", ev.Chord,
			)
		}
	}
}

// Events returns the receive side of the event channel. It is closed by Close.
func (d *Dispatcher) Events() <-chan Event { return d.events }

// Dropped returns the number of events lost to a full channel.
func (d *Dispatcher) Dropped() uint64 { return d.dropped.Load() }

// Session returns the capture session ID stamped on every event.
func (d *Dispatcher) Session() string { return d.session }

// Close closes the event channel. Call it only after the capture session
// feeding Handle has returned. Idempotent.
func (d *Dispatcher) Close() {
	if d.closed.Swap(true) {
		return
	}
	close(d.events)
}
