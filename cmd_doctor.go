package main

import (
	"context"
	"fmt"
	"io"

	"chordhook/internal/config"
	"chordhook/internal/keyboard"
	"chordhook/internal/xprobe"
)

// Test seams.
var (
	probeFn           = xprobe.Probe
	keyboardDevicesFn = xprobe.KeyboardDevices
)

// runDoctor is the doctor command. It exits 1 when capture cannot work.
func runDoctor(_ context.Context, g globalOptions, args []string, stdout, stderr io.Writer) int {
	fs := newCommandFlags("doctor", stderr)
	devices := fs.Bool("devices", true, "list evdev keyboards (needs read access to /dev/input)")
	if code, done := parseCommandFlags(fs, args); done {
		return code
	}

	cfg, path := loadCommandConfig(g, stderr)
	var problems []string

	backend := keyboard.Backend()
	if backend == "" {
		backend = "none (built without X11 support)"
		problems = append(problems, "this binary cannot capture keys; rebuild with cgo and libX11/libXtst")
	}
	fmt.Fprintf(stdout, "backend: %s\n", backend)
	fmt.Fprintf(stdout, "config: %s\n", path)
	fmt.Fprintf(stdout, "state: %s\n", config.StateDir())
	fmt.Fprintf(stdout, "chords: %d\n", len(cfg.Chords))

	report, err := probeFn(cfg.Display)
	if err != nil {
		problems = append(problems, err.Error())
	} else {
		fmt.Fprint(stdout, report.String())
		problems = append(problems, report.Problems()...)
	}

	if *devices {
		printKeyboardDevices(stdout)
	}

	if len(problems) == 0 {
		fmt.Fprintln(stdout, "ok")
		return exitOK
	}
	fmt.Fprintln(stdout, "problems:")
	for _, p := range problems {
		fmt.Fprintf(stdout, "  - %s\n", p)
	}
	return exitFailure
}

// printKeyboardDevices lists evdev keyboards. They are informational: X
// capture does not need them, but the uinput self test shows up among them.
func printKeyboardDevices(w io.Writer) {
	devs, err := keyboardDevicesFn()
	if err != nil {
		fmt.Fprintf(w, "devices: unavailable (%v)\n", err)
		return
	}
	if len(devs) == 0 {
		fmt.Fprintln(w, "devices: none readable")
		return
	}
	fmt.Fprintln(w, "devices:")
	for _, d := range devs {
		fmt.Fprintf(w, "  %s  %s (%d keys)\n", d.Path, d.Name, d.Keys)
	}
}
