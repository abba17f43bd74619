//go:build linux

package keyboard

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

const pollFailure = unix.POLLERR | unix.POLLHUP | unix.POLLNVAL

// wait services the data connection until ctx is cancelled or the display
// fd reports an error. Cancellation is delivered through a self-pipe so the
// goroutine never needs a poll timeout.
func (e *captureEngine) wait(ctx context.Context) error {
	var pipe [2]int
	if err := unix.Pipe2(pipe[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return fmt.Errorf("%w: create wake pipe: %w", ErrConnectionLost, err)
	}

	var (
		wakeMu sync.Mutex
		closed bool
	)
	stop := context.AfterFunc(ctx, func() {
		wakeMu.Lock()
		defer wakeMu.Unlock()
		if !closed {
			_, _ = unix.Write(pipe[1], []byte{1})
		}
	})
	defer func() {
		stop()
		wakeMu.Lock()
		closed = true
		_ = unix.Close(pipe[0])
		_ = unix.Close(pipe[1])
		wakeMu.Unlock()
	}()

	fds := []unix.PollFd{
		{Fd: int32(e.rec.FD()), Events: unix.POLLIN},
		{Fd: int32(pipe[0]), Events: unix.POLLIN},
	}
	for {
		// Xlib may already hold buffered replies that poll cannot see.
		e.rec.Drain()
		if ctx.Err() != nil {
			return nil
		}

		fds[0].Revents = 0
		fds[1].Revents = 0
		if _, err := unix.Poll(fds, -1); err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return fmt.Errorf("%w: poll: %w", ErrConnectionLost, err)
		}
		if fds[1].Revents != 0 {
			e.logger.Debug("[DEBUG-KEYBOARD] capture loop woken for shutdown")
			return nil
		}
		if fds[0].Revents&pollFailure != 0 {
			if fds[0].Revents&unix.POLLIN != 0 {
				e.rec.Drain()
			}
			return fmt.Errorf("%w: display fd revents=%#x", ErrConnectionLost, fds[0].Revents)
		}
	}
}
