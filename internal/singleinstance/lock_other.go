//go:build !linux

package singleinstance

import (
	"errors"
	"path/filepath"

	"chordhook/internal/userutil"
)

// ErrAlreadyRunning is returned by TryLock when another instance holds the lock.
var ErrAlreadyRunning = errors.New("another instance is already running")

// Lock is a no-op on platforms without the X11 capture backend.
type Lock struct{}

// TryLock always succeeds on platforms without the X11 capture backend.
func TryLock(_ string) (*Lock, error) { return &Lock{}, nil }

// Release is a no-op on platforms without the X11 capture backend.
func (l *Lock) Release() error { return nil }

// DefaultLockPath returns the lock file for the given X display inside stateDir.
func DefaultLockPath(stateDir, display string) string {
	return filepath.Join(stateDir, "chordhook-"+userutil.SanitizeName(display)+".lock")
}
