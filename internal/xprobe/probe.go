// Package xprobe inspects the X server without going through the capture
// backend: extension versions, key labels, and synthetic key injection for
// self tests. It talks X11 directly with xgb, so it works in builds without
// cgo.
package xprobe

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"chordhook/internal/keyboard"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/record"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/BurntSushi/xgb/xtest"
)

// Version numbers the capture backend negotiates.
const (
	recordMajor = 1
	recordMinor = 13
	xtestMajor  = 2
	xtestMinor  = 2
)

// ErrNoDisplay is returned when neither an explicit display nor $DISPLAY is set.
var ErrNoDisplay = errors.New("xprobe: no display (set DISPLAY or pass -display)")

// Report is the outcome of Probe.
type Report struct {
	Display       string
	Vendor        string
	ReleaseNumber uint32
	MinKeycode    uint8
	MaxKeycode    uint8

	RecordPresent bool
	RecordMajor   uint16
	RecordMinor   uint16
	RecordErr     string

	XTestPresent bool
	XTestMajor   uint8
	XTestMinor   uint16
	XTestErr     string
}

// Problems lists the conditions that prevent capturing or self testing.
// Empty means the server is fully usable.
func (r Report) Problems() []string {
	var out []string
	if !r.RecordPresent {
		msg := "RECORD extension not available; global key capture cannot work"
		if r.RecordErr != "" {
			msg += " (" + r.RecordErr + ")"
		}
		out = append(out, msg)
	} else if r.RecordMajor < recordMajor {
		out = append(out, fmt.Sprintf("RECORD version %d.%d is older than %d.%d", r.RecordMajor, r.RecordMinor, recordMajor, recordMinor))
	}
	if !r.XTestPresent {
		msg := "XTEST extension not available; selftest needs -inject=uinput"
		if r.XTestErr != "" {
			msg += " (" + r.XTestErr + ")"
		}
		out = append(out, msg)
	}
	keys := keyboard.Keys()
	lo, hi := uint8(keys[0]), uint8(keys[len(keys)-1])
	if r.MinKeycode > lo || r.MaxKeycode < hi {
		out = append(out, fmt.Sprintf("keycode range %d..%d does not cover the supported key set (%d..%d)", r.MinKeycode, r.MaxKeycode, lo, hi))
	}
	return out
}

// String renders the report as "key: value" lines.
func (r Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "display: %s\n", r.Display)
	fmt.Fprintf(&b, "vendor: %s (release %d)\n", r.Vendor, r.ReleaseNumber)
	fmt.Fprintf(&b, "keycodes: %d..%d\n", r.MinKeycode, r.MaxKeycode)
	if r.RecordPresent {
		fmt.Fprintf(&b, "record: %d.%d\n", r.RecordMajor, r.RecordMinor)
	} else {
		fmt.Fprintf(&b, "record: missing\n")
	}
	if r.XTestPresent {
		fmt.Fprintf(&b, "xtest: %d.%d\n", r.XTestMajor, r.XTestMinor)
	} else {
		fmt.Fprintf(&b, "xtest: missing\n")
	}
	return b.String()
}

// ResolveDisplay returns name, or $DISPLAY when name is empty.
func ResolveDisplay(name string) (string, error) {
	if name == "" {
		name = os.Getenv("DISPLAY")
	}
	if name == "" {
		return "", ErrNoDisplay
	}
	return name, nil
}

// Probe connects to display (or $DISPLAY when empty) and queries the server
// setup and the RECORD and XTEST extensions. A missing extension is reported
// in the Report, not as an error; only connection failures are errors.
func Probe(display string) (Report, error) {
	name, err := ResolveDisplay(display)
	if err != nil {
		return Report{}, err
	}
	conn, err := xgb.NewConnDisplay(name)
	if err != nil {
		return Report{}, fmt.Errorf("xprobe: connect %q: %w", name, err)
	}
	defer conn.Close()

	setup := xproto.Setup(conn)
	rep := Report{
		Display:       name,
		Vendor:        setup.Vendor,
		ReleaseNumber: setup.ReleaseNumber,
		MinKeycode:    uint8(setup.MinKeycode),
		MaxKeycode:    uint8(setup.MaxKeycode),
	}

	if err := record.Init(conn); err != nil {
		rep.RecordErr = err.Error()
	} else if reply, err := record.QueryVersion(conn, recordMajor, recordMinor).Reply(); err != nil {
		rep.RecordErr = err.Error()
	} else {
		rep.RecordPresent = true
		rep.RecordMajor = reply.MajorVersion
		rep.RecordMinor = reply.MinorVersion
	}

	if err := xtest.Init(conn); err != nil {
		rep.XTestErr = err.Error()
	} else if reply, err := xtest.GetVersion(conn, xtestMajor, xtestMinor).Reply(); err != nil {
		rep.XTestErr = err.Error()
	} else {
		rep.XTestPresent = true
		rep.XTestMajor = reply.MajorVersion
		rep.XTestMinor = reply.MinorVersion
	}

	return rep, nil
}
