//go:build linux

package singleinstance

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"chordhook/internal/userutil"

	"golang.org/x/sys/unix"
)

// ErrAlreadyRunning is returned by TryLock when another instance holds the lock.
var ErrAlreadyRunning = errors.New("another instance is already running")

// Lock holds an exclusive flock on a lock file. The kernel releases the lock
// when the owning process terminates.
type Lock struct {
	file *os.File
}

// TryLock attempts to take an exclusive, non-blocking flock on path.
// Returns ErrAlreadyRunning if another process (or another open file in this
// process) already holds it.
func TryLock(path string) (*Lock, error) {
	if path == "" {
		return nil, errors.New("lock path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open lock file %q: %w", path, err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, ErrAlreadyRunning
		}
		return nil, fmt.Errorf("flock %q: %w", path, err)
	}
	// The pid is informational only; the flock is the lock.
	if err := f.Truncate(0); err == nil {
		_, _ = f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0)
	}
	return &Lock{file: f}, nil
}

// Release unlocks and closes the lock file. Safe to call on nil receiver and
// idempotent. The file itself is left in place so a racing TryLock never
// locks an unlinked inode.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	unlockErr := unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	closeErr := l.file.Close()
	l.file = nil
	return errors.Join(unlockErr, closeErr)
}

// DefaultLockPath returns the lock file for the given X display inside
// stateDir. One capture daemon may run per display.
func DefaultLockPath(stateDir, display string) string {
	if display == "" {
		display = os.Getenv("DISPLAY")
	}
	return filepath.Join(stateDir, "chordhook-"+userutil.SanitizeName(display)+".lock")
}
