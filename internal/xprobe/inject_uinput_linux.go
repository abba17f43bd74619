//go:build linux

package xprobe

import (
	"fmt"
	"time"

	"chordhook/internal/keyboard"

	"github.com/bendahl/uinput"
)

// uinputSettle is how long the X server needs to pick up a new input device
// before events from it are delivered.
const uinputSettle = 500 * time.Millisecond

// UinputInjector injects key events from a virtual keyboard device. Unlike
// XTEST the events enter through the kernel, so they exercise the server's
// real device path.
type UinputInjector struct {
	kb uinput.Keyboard
}

// NewUinputInjector creates a virtual keyboard at path and waits for the
// server to attach it.
func NewUinputInjector(path string) (*UinputInjector, error) {
	kb, err := uinput.CreateKeyboard(path, []byte("chordhook-selftest"))
	if err != nil {
		return nil, fmt.Errorf("xprobe: create uinput keyboard: %w", err)
	}
	time.Sleep(uinputSettle)
	return &UinputInjector{kb: kb}, nil
}

func (u *UinputInjector) Press(k keyboard.Key) error {
	code, err := evdevCode(k)
	if err != nil {
		return err
	}
	return u.kb.KeyDown(code)
}

func (u *UinputInjector) Release(k keyboard.Key) error {
	code, err := evdevCode(k)
	if err != nil {
		return err
	}
	return u.kb.KeyUp(code)
}

// Close destroys the virtual device.
func (u *UinputInjector) Close() error { return u.kb.Close() }
