package keyboard

import (
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
)

// bridgeLive is the guard value of a bridge that may still be used.
const bridgeLive = ^uintptr(0)

// bridgeTokens resolves the opaque tokens handed to C back to bridges.
// A token that was closed resolves to nothing, so a late callback can never
// reach a bridge through a recycled value.
var (
	bridgeTokens    sync.Map // uintptr -> any (*Bridge[T])
	nextBridgeToken atomic.Uintptr
)

// Bridge shares a payload with a callback that the C side may invoke at any
// time, including after the owner started tearing down.
//
// The payload is reachable only through TryUse, which checks both guards and
// then takes the lock. Close poisons the guards and clears the payload under
// the same lock, so a callback either runs to completion before Close or
// observes a dead bridge and returns.
type Bridge[T any] struct {
	left    atomic.Uintptr
	mu      sync.Mutex
	payload *T // nil once closed
	right   atomic.Uintptr

	token     uintptr
	closeOnce sync.Once
	logger    *slog.Logger
}

// Wrap allocates a live bridge around payload.
func Wrap[T any](payload T) *Bridge[T] {
	b := &Bridge[T]{payload: &payload}
	b.left.Store(bridgeLive)
	b.right.Store(bridgeLive)
	b.token = nextBridgeToken.Add(1)
	bridgeTokens.Store(b.token, b)
	return b
}

// withLogger sets the logger used to report recovered panics.
func (b *Bridge[T]) withLogger(logger *slog.Logger) *Bridge[T] {
	b.logger = logger
	return b
}

// Pointer returns the opaque token to pass through the C user-data argument.
// Ownership stays with the caller.
func (b *Bridge[T]) Pointer() uintptr { return b.token }

// lookupBridge resolves a token produced by Pointer. It returns nil for
// unknown or closed tokens and for tokens of a different payload type.
func lookupBridge[T any](token uintptr) *Bridge[T] {
	v, ok := bridgeTokens.Load(token)
	if !ok {
		return nil
	}
	b, _ := v.(*Bridge[T])
	return b
}

// Live reports whether both guards still hold the live sentinel.
func (b *Bridge[T]) Live() bool {
	return b.left.Load() == bridgeLive && b.right.Load() == bridgeLive
}

// TryUse runs fn with the payload if the bridge is live. It returns false when
// the bridge was closed, the payload was cleared, or fn panicked. A panic is
// logged and swallowed: the lock is released and later calls proceed with
// whatever state fn left behind.
func (b *Bridge[T]) TryUse(fn func(*T)) (ok bool) {
	if !b.Live() {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	// Close may have run between the guard check and the lock.
	if !b.Live() || b.payload == nil {
		return false
	}
	defer func() {
		if r := recover(); r != nil {
			b.log().Error("[DEBUG-PANIC] keyboard handler recovered from panic",
				"panic", r,
				"stack", string(debug.Stack()),
			)
			ok = false
		}
	}()
	fn(b.payload)
	return true
}

// Close poisons the bridge. The caller must have stopped the C side from
// delivering new callbacks (context disabled) before calling it. Idempotent.
func (b *Bridge[T]) Close() {
	b.closeOnce.Do(func() {
		b.left.Store(0)
		b.right.Store(0)
		b.mu.Lock()
		b.payload = nil
		b.mu.Unlock()
		bridgeTokens.Delete(b.token)
	})
}

func (b *Bridge[T]) log() *slog.Logger {
	if b.logger != nil {
		return b.logger
	}
	return slog.Default()
}
