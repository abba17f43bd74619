package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"chordhook/internal/config"
)

// writeTestConfig writes raw YAML to a temp config file and returns its path.
func writeTestConfig(t *testing.T, raw string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRunUsage(t *testing.T) {
	tests := []struct {
		name       string
		args       []string
		wantCode   int
		wantStdout string
		wantStderr string
	}{
		{name: "help flag", args: []string{"-h"}, wantCode: exitOK, wantStdout: "usage: chordhook"},
		{name: "unknown command", args: []string{"bogus"}, wantCode: exitUsage, wantStderr: `unknown command "bogus"`},
		{name: "unknown global flag", args: []string{"-nope"}, wantCode: exitUsage, wantStderr: "flag provided but not defined"},
		{name: "invalid log level", args: []string{"-log-level", "loud", "keys"}, wantCode: exitUsage, wantStderr: "invalid log level"},
		{name: "command help", args: []string{"stats", "-h"}, wantCode: exitOK, wantStderr: "-since"},
		{name: "extra argument", args: []string{"keys", "F8"}, wantCode: exitUsage, wantStderr: `unexpected argument "F8"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			code := run(t.Context(), tt.args, &stdout, &stderr)
			if code != tt.wantCode {
				t.Fatalf("exit code = %d, want %d (stderr %q)", code, tt.wantCode, stderr.String())
			}
			if tt.wantStdout != "" && !strings.Contains(stdout.String(), tt.wantStdout) {
				t.Errorf("stdout = %q, want it to contain %q", stdout.String(), tt.wantStdout)
			}
			if tt.wantStderr != "" && !strings.Contains(stderr.String(), tt.wantStderr) {
				t.Errorf("stderr = %q, want it to contain %q", stderr.String(), tt.wantStderr)
			}
		})
	}
}

func TestUsageListsEveryCommand(t *testing.T) {
	var stdout bytes.Buffer
	if code := run(t.Context(), []string{"-h"}, &stdout, io.Discard); code != exitOK {
		t.Fatalf("exit code = %d, want %d", code, exitOK)
	}
	for _, c := range commands {
		if !strings.Contains(stdout.String(), "  "+c.name) {
			t.Errorf("usage does not list %q:\n%s", c.name, stdout.String())
		}
	}
	for _, flagName := range []string{"-config", "-display", "-log-level"} {
		if !strings.Contains(stdout.String(), flagName) {
			t.Errorf("usage does not document %s", flagName)
		}
	}
}

func TestRunDispatchesGlobalOptions(t *testing.T) {
	var got globalOptions
	var gotArgs []string
	orig := commands
	commands = []command{{name: "run", run: func(_ context.Context, g globalOptions, args []string, _, _ io.Writer) int {
		got, gotArgs = g, args
		return 7
	}}}
	t.Cleanup(func() { commands = orig })

	code := run(t.Context(), []string{"-config", "/tmp/c.yaml", "-display", ":3", "-log-level", "debug"}, io.Discard, io.Discard)
	if code != 7 {
		t.Fatalf("exit code = %d, want the command's 7", code)
	}
	want := globalOptions{configPath: "/tmp/c.yaml", display: ":3", logLevel: "debug"}
	if got != want || len(gotArgs) != 0 {
		t.Fatalf("options = %+v args = %v, want %+v and none", got, gotArgs, want)
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{in: "", want: slog.LevelInfo},
		{in: "info", want: slog.LevelInfo},
		{in: " DEBUG ", want: slog.LevelDebug},
		{in: "warn", want: slog.LevelWarn},
		{in: "Error", want: slog.LevelError},
		{in: "verbose", want: slog.LevelInfo, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseLogLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseLogLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Fatalf("parseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestApplyGlobalOverrides(t *testing.T) {
	base := config.DefaultConfig()
	base.Display = ":1"

	got := applyGlobalOverrides(base, globalOptions{})
	if got.Display != ":1" || got.LogLevel != base.LogLevel {
		t.Fatalf("empty overrides changed config: %+v", got)
	}

	got = applyGlobalOverrides(base, globalOptions{display: ":2", logLevel: "warn"})
	if got.Display != ":2" || got.LogLevel != "warn" {
		t.Fatalf("overrides not applied: display=%q level=%q", got.Display, got.LogLevel)
	}
}

func TestLoadCommandConfig(t *testing.T) {
	t.Run("reads file and applies flags", func(t *testing.T) {
		path := writeTestConfig(t, "display: \":4\"\njournal_path: \"\"\n")
		var stderr bytes.Buffer
		cfg, gotPath := loadCommandConfig(globalOptions{configPath: path, logLevel: "debug"}, &stderr)
		if gotPath != path {
			t.Fatalf("path = %q, want %q", gotPath, path)
		}
		if cfg.Display != ":4" || cfg.JournalPath != "" || cfg.LogLevel != "debug" {
			t.Fatalf("config = %+v", cfg)
		}
		if stderr.Len() != 0 {
			t.Fatalf("unexpected stderr: %q", stderr.String())
		}
	})

	t.Run("invalid file falls back to defaults", func(t *testing.T) {
		path := writeTestConfig(t, "chords:\n  - name: bad\n    keys: [NotAKey]\n")
		var stderr bytes.Buffer
		cfg, _ := loadCommandConfig(globalOptions{configPath: path}, &stderr)
		if len(cfg.Chords) != len(config.DefaultConfig().Chords) {
			t.Fatalf("chords = %d, want defaults", len(cfg.Chords))
		}
		if !strings.Contains(stderr.String(), "using defaults") {
			t.Fatalf("stderr = %q, want a fallback warning", stderr.String())
		}
	})

	t.Run("missing file is not created", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "absent.yaml")
		loadCommandConfig(globalOptions{configPath: path}, io.Discard)
		if _, err := os.Stat(path); !os.IsNotExist(err) {
			t.Fatalf("config file created, stat err = %v", err)
		}
	})
}
