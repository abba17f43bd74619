package xprobe

import (
	"errors"
	"fmt"
	"time"

	"chordhook/internal/keyboard"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/BurntSushi/xgb/xtest"
)

// Injector kinds accepted by NewInjector.
const (
	InjectXTest  = "xtest"
	InjectUinput = "uinput"
)

// Injector synthesizes key transitions that a capture session observes.
type Injector interface {
	Press(k keyboard.Key) error
	Release(k keyboard.Key) error
	Close() error
}

// NewInjector opens an injector of the given kind. display is only used by
// the XTEST injector.
func NewInjector(kind, display string) (Injector, error) {
	switch kind {
	case InjectXTest, "":
		return NewXTestInjector(display)
	case InjectUinput:
		return NewUinputInjector(DefaultUinputPath)
	default:
		return nil, fmt.Errorf("xprobe: unknown injector %q (want %s or %s)", kind, InjectXTest, InjectUinput)
	}
}

// Tap presses k, waits hold, then releases it.
func Tap(inj Injector, k keyboard.Key, hold time.Duration) error {
	if err := inj.Press(k); err != nil {
		return err
	}
	if hold > 0 {
		time.Sleep(hold)
	}
	return inj.Release(k)
}

// XTestInjector injects core key events through the XTEST extension.
type XTestInjector struct {
	conn *xgb.Conn
	root xproto.Window
}

// NewXTestInjector connects to display (or $DISPLAY when empty).
func NewXTestInjector(display string) (*XTestInjector, error) {
	name, err := ResolveDisplay(display)
	if err != nil {
		return nil, err
	}
	conn, err := xgb.NewConnDisplay(name)
	if err != nil {
		return nil, fmt.Errorf("xprobe: connect %q: %w", name, err)
	}
	if err := xtest.Init(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("xprobe: xtest: %w", err)
	}
	return &XTestInjector{conn: conn, root: xproto.Setup(conn).DefaultScreen(conn).Root}, nil
}

func (x *XTestInjector) Press(k keyboard.Key) error   { return x.fake(xproto.KeyPress, k) }
func (x *XTestInjector) Release(k keyboard.Key) error { return x.fake(xproto.KeyRelease, k) }

// fake sends one FakeInput request and waits for the server to process it.
func (x *XTestInjector) fake(eventType byte, k keyboard.Key) error {
	if !k.Valid() {
		return fmt.Errorf("xprobe: cannot inject unsupported key %d", uint8(k))
	}
	err := xtest.FakeInputChecked(x.conn, eventType, byte(k.Raw()), 0, x.root, 0, 0, 0).Check()
	if err != nil {
		return fmt.Errorf("xprobe: fake input %v: %w", k, err)
	}
	return nil
}

// Close disconnects from the server.
func (x *XTestInjector) Close() error {
	x.conn.Close()
	return nil
}

// DefaultUinputPath is the uinput device node on Linux.
const DefaultUinputPath = "/dev/uinput"

// evdevOffset is the difference between X keycodes and Linux input event
// codes on evdev-based servers.
const evdevOffset = 8

// errUinputUnsupported is returned by NewUinputInjector outside Linux.
var errUinputUnsupported = errors.New("xprobe: uinput is only available on linux")

// evdevCode converts a key to its Linux input event code.
func evdevCode(k keyboard.Key) (int, error) {
	if !k.Valid() {
		return 0, fmt.Errorf("xprobe: cannot inject unsupported key %d", uint8(k))
	}
	return int(k.Raw()) - evdevOffset, nil
}
