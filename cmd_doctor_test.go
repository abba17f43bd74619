package main

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"chordhook/internal/keyboard"
	"chordhook/internal/xprobe"
)

func stubDoctor(t *testing.T, probe func(string) (xprobe.Report, error), devices func() ([]xprobe.Device, error)) {
	t.Helper()
	origProbe, origDevices := probeFn, keyboardDevicesFn
	probeFn, keyboardDevicesFn = probe, devices
	t.Cleanup(func() { probeFn, keyboardDevicesFn = origProbe, origDevices })
}

func healthyReport(display string) xprobe.Report {
	return xprobe.Report{
		Display:       display,
		Vendor:        "The X.Org Foundation",
		ReleaseNumber: 12101011,
		MinKeycode:    8,
		MaxKeycode:    255,
		RecordPresent: true,
		RecordMajor:   1,
		RecordMinor:   13,
		XTestPresent:  true,
		XTestMajor:    2,
		XTestMinor:    2,
	}
}

func TestRunDoctorHealthy(t *testing.T) {
	path := writeTestConfig(t, "display: \":8\"\n")
	var probed string
	stubDoctor(t,
		func(display string) (xprobe.Report, error) {
			probed = display
			return healthyReport(":8"), nil
		},
		func() ([]xprobe.Device, error) {
			return []xprobe.Device{{Path: "/dev/input/event3", Name: "AT Translated Set 2 keyboard", Keys: 248}}, nil
		},
	)

	var stdout, stderr bytes.Buffer
	code := run(t.Context(), []string{"-config", path, "doctor"}, &stdout, &stderr)

	if probed != ":8" {
		t.Fatalf("probed display = %q, want :8", probed)
	}
	out := stdout.String()
	for _, want := range []string{"config: " + path, "chords: 5", "record: 1.13", "xtest: 2.2", "/dev/input/event3  AT Translated Set 2 keyboard (248 keys)"} {
		if !strings.Contains(out, want) {
			t.Errorf("output lacks %q:\n%s", want, out)
		}
	}

	// Only a build without a capture backend has a problem to report.
	wantCode := exitOK
	if keyboard.Backend() == "" {
		wantCode = exitFailure
	}
	if code != wantCode {
		t.Fatalf("exit code = %d, want %d:\n%s", code, wantCode, out)
	}
	if wantCode == exitOK && !strings.HasSuffix(out, "ok\n") {
		t.Fatalf("output does not end with ok:\n%s", out)
	}
}

func TestRunDoctorProblems(t *testing.T) {
	path := writeTestConfig(t, "")

	tests := []struct {
		name   string
		report xprobe.Report
		err    error
		want   string
	}{
		{name: "no display", err: xprobe.ErrNoDisplay, want: "no display"},
		{
			name: "record missing",
			report: func() xprobe.Report {
				r := healthyReport(":0")
				r.RecordPresent = false
				r.RecordErr = "extension not present"
				return r
			}(),
			want: "RECORD extension not available",
		},
		{
			name: "xtest missing",
			report: func() xprobe.Report {
				r := healthyReport(":0")
				r.XTestPresent = false
				return r
			}(),
			want: "selftest needs -inject=uinput",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stubDoctor(t,
				func(string) (xprobe.Report, error) { return tt.report, tt.err },
				func() ([]xprobe.Device, error) { return nil, nil },
			)
			var stdout bytes.Buffer
			if code := run(t.Context(), []string{"-config", path, "doctor"}, &stdout, &bytes.Buffer{}); code != exitFailure {
				t.Fatalf("exit code = %d, want %d", code, exitFailure)
			}
			out := stdout.String()
			if !strings.Contains(out, "problems:\n") || !strings.Contains(out, tt.want) {
				t.Fatalf("output lacks problem %q:\n%s", tt.want, out)
			}
		})
	}
}

func TestRunDoctorDevices(t *testing.T) {
	path := writeTestConfig(t, "")

	tests := []struct {
		name    string
		args    []string
		devices func() ([]xprobe.Device, error)
		want    string
	}{
		{name: "none readable", devices: func() ([]xprobe.Device, error) { return nil, nil }, want: "devices: none readable"},
		{name: "listing fails", devices: func() ([]xprobe.Device, error) { return nil, errors.New("permission denied") }, want: "devices: unavailable (permission denied)"},
		{name: "disabled", args: []string{"-devices=false"}, devices: func() ([]xprobe.Device, error) {
			t.Error("devices listed despite -devices=false")
			return nil, nil
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stubDoctor(t, func(string) (xprobe.Report, error) { return healthyReport(":0"), nil }, tt.devices)
			var stdout bytes.Buffer
			args := append([]string{"-config", path, "doctor"}, tt.args...)
			run(t.Context(), args, &stdout, &bytes.Buffer{})
			if tt.want != "" && !strings.Contains(stdout.String(), tt.want) {
				t.Fatalf("output lacks %q:\n%s", tt.want, stdout.String())
			}
			if tt.want == "" && strings.Contains(stdout.String(), "devices") {
				t.Fatalf("output mentions devices:\n%s", stdout.String())
			}
		})
	}
}
