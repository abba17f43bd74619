//go:build !linux

package xprobe

import "chordhook/internal/keyboard"

// UinputInjector is unavailable outside Linux.
type UinputInjector struct{}

// NewUinputInjector always fails outside Linux.
func NewUinputInjector(string) (*UinputInjector, error) { return nil, errUinputUnsupported }

func (*UinputInjector) Press(keyboard.Key) error   { return errUinputUnsupported }
func (*UinputInjector) Release(keyboard.Key) error { return errUinputUnsupported }
func (*UinputInjector) Close() error               { return nil }
