package xrecord

import (
	"errors"
	"fmt"
	"time"
)

// StartTimeout bounds how long EnableAsync waits for the server to confirm
// the enabled context.
const StartTimeout = 5 * time.Second

var errStartTimeout = errors.New("xrecord: enable context: no start of data from server")

// awaitStart drains replies until the server confirms delivery, reports an
// X error for the enable request, or timeout passes. drain returns the
// trapped X error code (0 for none) and whether StartOfData arrived. wait
// blocks until the connection is readable or at most the given duration.
func awaitStart(
	timeout time.Duration,
	wait func(time.Duration) error,
	drain func() (xerr int, started bool),
) error {
	deadline := time.Now().Add(timeout)
	for {
		xerr, started := drain()
		if xerr != 0 {
			return fmt.Errorf("xrecord: enable context: X error %d", xerr)
		}
		if started {
			return nil
		}
		left := time.Until(deadline)
		if left <= 0 {
			return errStartTimeout
		}
		if err := wait(left); err != nil {
			return fmt.Errorf("xrecord: enable context: %w", err)
		}
	}
}
