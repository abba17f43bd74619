//go:build !linux

package keyboard

import "context"

func (e *captureEngine) wait(context.Context) error {
	return ErrUnsupportedPlatform
}
