//go:build !linux || !cgo

package xprobe

// Device is a kernel input device that reports key events.
type Device struct {
	Path string
	Name string
	Keys int
}

// KeyboardDevices returns nothing outside Linux.
func KeyboardDevices() ([]Device, error) { return nil, nil }
