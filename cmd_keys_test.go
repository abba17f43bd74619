package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"chordhook/internal/keyboard"
)

func stubLabels(t *testing.T, fn func(display string, keys []keyboard.Key) (map[keyboard.Key]string, error)) {
	t.Helper()
	orig := labelsFn
	labelsFn = fn
	t.Cleanup(func() { labelsFn = orig })
}

func TestRunKeysTable(t *testing.T) {
	path := writeTestConfig(t, "display: \":6\"\n")
	var gotDisplay string
	stubLabels(t, func(display string, keys []keyboard.Key) (map[keyboard.Key]string, error) {
		gotDisplay = display
		return map[keyboard.Key]string{keyboard.F8: "F8", keyboard.KeyA: "a"}, nil
	})

	var stdout, stderr bytes.Buffer
	if code := run(t.Context(), []string{"-config", path, "keys"}, &stdout, &stderr); code != exitOK {
		t.Fatalf("exit code = %d, stderr %q", code, stderr.String())
	}
	if gotDisplay != ":6" {
		t.Fatalf("labels display = %q, want :6", gotDisplay)
	}

	lines := strings.Split(strings.TrimSpace(stdout.String()), "\n")
	if len(lines) != len(keyboard.Keys())+1 {
		t.Fatalf("got %d lines, want header plus %d keys", len(lines), len(keyboard.Keys()))
	}
	if fields := strings.Fields(lines[0]); strings.Join(fields, " ") != "KEY KEYCODE LABEL" {
		t.Fatalf("header = %q", lines[0])
	}
	found := false
	for _, line := range lines[1:] {
		fields := strings.Fields(line)
		if len(fields) == 3 && fields[0] == "KeyA" {
			found = fields[1] == "38" && fields[2] == "a"
		}
	}
	if !found {
		t.Fatalf("no labelled KeyA row in:\n%s", stdout.String())
	}
}

func TestRunKeysJSON(t *testing.T) {
	path := writeTestConfig(t, "")
	stubLabels(t, func(string, []keyboard.Key) (map[keyboard.Key]string, error) {
		return map[keyboard.Key]string{keyboard.F8: "F8"}, nil
	})

	var stdout, stderr bytes.Buffer
	if code := run(t.Context(), []string{"-config", path, "keys", "-json"}, &stdout, &stderr); code != exitOK {
		t.Fatalf("exit code = %d, stderr %q", code, stderr.String())
	}

	var rows []keyInfo
	sc := bufio.NewScanner(&stdout)
	for sc.Scan() {
		var r keyInfo
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			t.Fatalf("line %q is not JSON: %v", sc.Text(), err)
		}
		rows = append(rows, r)
	}
	if len(rows) != len(keyboard.Keys()) {
		t.Fatalf("got %d rows, want %d", len(rows), len(keyboard.Keys()))
	}
	for _, r := range rows {
		if r.Name == "F8" && (r.Keycode != 74 || r.Label != "F8") {
			t.Fatalf("F8 row = %+v", r)
		}
		if r.Name == "Escape" && r.Label != "" {
			t.Fatalf("Escape row has label %q, want none", r.Label)
		}
	}
}

func TestRunKeysWithoutLabels(t *testing.T) {
	path := writeTestConfig(t, "")

	t.Run("label lookup fails", func(t *testing.T) {
		stubLabels(t, func(string, []keyboard.Key) (map[keyboard.Key]string, error) {
			return nil, errors.New("no display")
		})
		var stdout, stderr bytes.Buffer
		if code := run(t.Context(), []string{"-config", path, "keys"}, &stdout, &stderr); code != exitOK {
			t.Fatalf("exit code = %d, want %d", code, exitOK)
		}
		if !strings.Contains(stderr.String(), "labels unavailable: no display") {
			t.Fatalf("stderr = %q, want the label error", stderr.String())
		}
		if !strings.Contains(stdout.String(), "Escape") {
			t.Fatalf("stdout lacks the key list:\n%s", stdout.String())
		}
	})

	t.Run("no-labels skips the display", func(t *testing.T) {
		stubLabels(t, func(string, []keyboard.Key) (map[keyboard.Key]string, error) {
			t.Error("labels looked up despite -no-labels")
			return nil, nil
		})
		var stdout bytes.Buffer
		if code := run(t.Context(), []string{"-config", path, "keys", "-no-labels"}, &stdout, &bytes.Buffer{}); code != exitOK {
			t.Fatalf("exit code = %d, want %d", code, exitOK)
		}
	})
}
