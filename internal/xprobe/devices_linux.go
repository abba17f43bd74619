//go:build linux && cgo

package xprobe

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"

	evdev "github.com/gvalkov/golang-evdev"
)

// Device is a kernel input device that reports key events.
type Device struct {
	Path string
	Name string
	Keys int
}

// KeyboardDevices lists /dev/input event devices with key capabilities.
// Devices the process cannot open are skipped; on most desktops that means
// the list is empty unless the user is in the input group.
func KeyboardDevices() ([]Device, error) {
	paths, err := filepath.Glob("/dev/input/event*")
	if err != nil {
		return nil, fmt.Errorf("xprobe: list input devices: %w", err)
	}
	var out []Device
	for _, path := range paths {
		dev, err := evdev.Open(path)
		if err != nil {
			slog.Debug("[DEBUG-XPROBE] skip input device", "path", path, "error", err)
			continue
		}
		keys := len(dev.CapabilitiesFlat[evdev.EV_KEY])
		if keys > 0 {
			out = append(out, Device{Path: path, Name: dev.Name, Keys: keys})
		}
		if err := dev.File.Close(); err != nil {
			slog.Debug("[DEBUG-XPROBE] close input device", "path", path, "error", err)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}
