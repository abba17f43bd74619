package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"strings"
	"sync"
	"time"

	"go.yaml.in/yaml/v3"

	"chordhook/internal/keyboard"
)

const (
	maxConfigFileBytes int64 = 1 << 20 // 1MB
	appDirName               = "chordhook"
	// maxEventBuffer bounds the dispatcher queue; larger values only hide a
	// stalled consumer.
	maxEventBuffer = 4096
	// groupSeparator joins alternatives inside one chord key group.
	groupSeparator = "|"
)

// defaultConfigDirFn is a test seam; tests override it to simulate
// directory-resolution failures in validateConfigPath.
var defaultConfigDirFn = defaultConfigDir
var userHomeDirFn = os.UserHomeDir
var defaultPathWarningState struct {
	mu       sync.Mutex
	messages []string
}

var validLogLevels = []string{"debug", "info", "warn", "error"}

func recordDefaultPathWarning(message string) {
	trimmed := strings.TrimSpace(message)
	if trimmed == "" {
		return
	}
	defaultPathWarningState.mu.Lock()
	defaultPathWarningState.messages = append(defaultPathWarningState.messages, trimmed)
	defaultPathWarningState.mu.Unlock()
}

// ConsumeDefaultPathWarnings returns and clears path-resolution warnings
// accumulated during DefaultPath() calls.
func ConsumeDefaultPathWarnings() []string {
	defaultPathWarningState.mu.Lock()
	defer defaultPathWarningState.mu.Unlock()
	if len(defaultPathWarningState.messages) == 0 {
		return nil
	}
	out := make([]string, len(defaultPathWarningState.messages))
	copy(out, defaultPathWarningState.messages)
	defaultPathWarningState.messages = nil
	return out
}

// Config is chordhook runtime configuration.
type Config struct {
	LogLevel string `yaml:"log_level" json:"log_level"`
	// Display overrides $DISPLAY for the capture session.
	Display string `yaml:"display,omitempty" json:"display,omitempty"`
	// WebSocketAddr is the listen address of the event hub. Empty disables it.
	WebSocketAddr string `yaml:"websocket_addr" json:"websocket_addr"`
	// JournalPath is the SQLite chord journal. Empty disables journaling.
	JournalPath string        `yaml:"journal_path" json:"journal_path"`
	EventBuffer int           `yaml:"event_buffer" json:"event_buffer"`
	Restart     RestartConfig `yaml:"restart" json:"restart"`
	Chords      []ChordConfig `yaml:"chords" json:"chords"`
}

// RestartConfig controls supervised restarts of the capture session.
// MaxRetries <= 0 means retry forever.
type RestartConfig struct {
	InitialBackoff time.Duration `yaml:"initial_backoff" json:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff" json:"max_backoff"`
	MaxRetries     int           `yaml:"max_retries" json:"max_retries"`
}

// ChordConfig is one named key combination. Each Keys entry is a group of
// alternatives separated by "|"; a group is satisfied by exactly one of its
// keys being held.
//
// Unless AllowOthers is set, every other tracked key must be released for
// the chord to match.
type ChordConfig struct {
	Name        string   `yaml:"name" json:"name"`
	Keys        []string `yaml:"keys" json:"keys"`
	AllowOthers bool     `yaml:"allow_others,omitempty" json:"allow_others,omitempty"`
}

// Groups parses Keys into key alternatives.
func (c ChordConfig) Groups() ([][]keyboard.Key, error) {
	groups := make([][]keyboard.Key, 0, len(c.Keys))
	for i, raw := range c.Keys {
		var group []keyboard.Key
		for _, name := range strings.Split(raw, groupSeparator) {
			k, err := keyboard.ParseKey(name)
			if err != nil {
				return nil, fmt.Errorf("chord %q keys[%d]: %w", c.Name, i, err)
			}
			if !slices.Contains(group, k) {
				group = append(group, k)
			}
		}
		groups = append(groups, group)
	}
	return groups, nil
}

// DefaultConfig returns default values. The chords reproduce the stock
// dock-window shortcuts.
func DefaultConfig() Config {
	return Config{
		LogLevel:      "info",
		WebSocketAddr: "127.0.0.1:7781",
		JournalPath:   filepath.Join(StateDir(), "journal.db"),
		EventBuffer:   64,
		Restart: RestartConfig{
			InitialBackoff: 500 * time.Millisecond,
			MaxBackoff:     30 * time.Second,
			MaxRetries:     0,
		},
		Chords: []ChordConfig{
			{Name: "shift-f8", Keys: []string{"ShiftLeft|ShiftRight", "F8"}},
			{Name: "shift-kp-plus", Keys: []string{"ShiftLeft|ShiftRight", "KpPlus"}},
			{Name: "shift-kp-minus", Keys: []string{"ShiftLeft|ShiftRight", "KpMinus"}},
			{Name: "shift-escape", Keys: []string{"ShiftLeft|ShiftRight", "Escape"}},
			{Name: "double-shift", Keys: []string{"ShiftLeft", "ShiftRight"}, AllowOthers: true},
		},
	}
}

// DefaultPath resolves the config file path, preferring XDG_CONFIG_HOME,
// falling back to ~/.config, and then to os.TempDir() if the home directory
// cannot be resolved.
// The temp-dir fallback is not a stable persistence location and may vary
// between sessions depending on environment configuration.
func DefaultPath() string {
	base := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME"))
	if base == "" {
		home, err := userHomeDirFn()
		if err != nil {
			// Keep config path resolvable even in restricted environments.
			slog.Warn("[WARN-CONFIG] using temp dir as config path fallback", "error", err)
			recordDefaultPathWarning(
				"Config path fallback: failed to resolve XDG_CONFIG_HOME/home directory. Using temp directory; settings persistence may be limited.",
			)
			base = os.TempDir()
		} else {
			base = filepath.Join(home, ".config")
		}
	}
	return filepath.Join(base, appDirName, "config.yaml")
}

// StateDir resolves the directory for the journal and session logs,
// preferring XDG_STATE_HOME and falling back to ~/.local/state.
func StateDir() string {
	base := strings.TrimSpace(os.Getenv("XDG_STATE_HOME"))
	if base == "" {
		home, err := userHomeDirFn()
		if err != nil {
			return filepath.Join(os.TempDir(), appDirName)
		}
		base = filepath.Join(home, ".local", "state")
	}
	return filepath.Join(base, appDirName)
}

// Load reads config file. If file does not exist, defaults are returned.
// Chords are validated; an error is returned if any chord is invalid.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, errors.New("config path required")
	}

	raw, err := readLimitedFile(path, maxConfigFileBytes)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, err
	}
	if len(raw) == 0 {
		return cfg, nil
	}
	// Fields absent from the file keep their defaults. Sequences are replaced
	// wholesale, so an explicit "chords: []" disables all chords.
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		slog.Warn("[WARN-CONFIG] failed to parse config, using defaults", "path", path, "error", err)
		return DefaultConfig(), err
	}
	if err := applyDefaultsAndValidate(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// EnsureFile writes default config if missing and returns loaded config.
func EnsureFile(path string) (Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return cfg, err
	}
	if _, statErr := os.Stat(path); errors.Is(statErr, os.ErrNotExist) {
		if _, err := Save(path, cfg); err != nil {
			return cfg, err
		}
	}
	return cfg, nil
}

// Clone returns a deep copy of cfg.
// Use this when sharing config snapshots across goroutines or package boundaries.
func Clone(src Config) Config {
	dst := src
	if src.Chords != nil {
		dst.Chords = make([]ChordConfig, len(src.Chords))
		for i, c := range src.Chords {
			dst.Chords[i] = c
			dst.Chords[i].Keys = cloneStringSlice(c.Keys)
		}
	}
	return dst
}

func cloneStringSlice(src []string) []string {
	if src == nil {
		return nil
	}
	dst := make([]string, len(src))
	copy(dst, src)
	return dst
}

// Save validates cfg, fills defaults, and atomically writes to path.
// Returns the normalized config that was actually written to disk.
// Uses the same validation rules as Load.
func Save(path string, cfg Config) (Config, error) {
	normalizedPath, err := validateConfigPath(path)
	if err != nil {
		return cfg, err
	}
	if err := applyDefaultsAndValidate(&cfg); err != nil {
		return cfg, fmt.Errorf("save config: %w", err)
	}

	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return cfg, fmt.Errorf("save config: marshal: %w", err)
	}
	if err := atomicWrite(normalizedPath, raw); err != nil {
		return cfg, err
	}
	slog.Debug("[DEBUG-CONFIG] config saved", "path", path)
	return cfg, nil
}

// atomicWrite writes config data using temp-file + rename to avoid partial
// writes.
func atomicWrite(path string, data []byte) (err error) {
	dir := filepath.Dir(path)
	if err = os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("save config: mkdir: %w", err)
	}

	// Temp file in the same directory keeps the rename on one filesystem.
	tmpFile, err := os.CreateTemp(dir, ".config.yaml.tmp.*")
	if err != nil {
		return fmt.Errorf("save config: create temp: %w", err)
	}
	tmpPath := tmpFile.Name()

	defer func() {
		if tmpFile != nil {
			if closeErr := tmpFile.Close(); closeErr != nil && !errors.Is(closeErr, os.ErrClosed) {
				slog.Warn("[WARN-CONFIG] failed to close temp file", "path", tmpPath, "error", closeErr)
			}
		}
		if err != nil {
			if removeErr := os.Remove(tmpPath); removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
				slog.Warn("[WARN-CONFIG] failed to remove temp file", "path", tmpPath, "error", removeErr)
			}
		}
	}()

	if err = tmpFile.Chmod(0o600); err != nil {
		return fmt.Errorf("save config: chmod temp: %w", err)
	}
	if _, err = tmpFile.Write(data); err != nil {
		return fmt.Errorf("save config: write: %w", err)
	}
	if err = tmpFile.Sync(); err != nil {
		return fmt.Errorf("save config: sync: %w", err)
	}
	err = tmpFile.Close()
	tmpFile = nil
	if err != nil {
		return fmt.Errorf("save config: close: %w", err)
	}

	if err = os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("save config: rename: %w", err)
	}
	return nil
}

// validateConfigPath normalizes path and enforces that config writes stay
// inside the default config directory when that directory is resolvable.
func validateConfigPath(path string) (string, error) {
	trimmedPath := strings.TrimSpace(path)
	if trimmedPath == "" {
		return "", errors.New("config path required")
	}
	absolutePath, err := filepath.Abs(trimmedPath)
	if err != nil {
		return "", fmt.Errorf("save config: resolve path: %w", err)
	}

	expectedDir, err := defaultConfigDirFn()
	if err != nil {
		return "", fmt.Errorf("save config: resolve config dir: %w", err)
	}
	absoluteExpectedDir, err := filepath.Abs(expectedDir)
	if err != nil {
		return "", fmt.Errorf("save config: resolve config dir: %w", err)
	}
	if !pathWithinDir(absolutePath, absoluteExpectedDir) {
		return "", fmt.Errorf("save config: path outside config directory: %q", absolutePath)
	}

	return absolutePath, nil
}

func defaultConfigDir() (string, error) {
	return filepath.Dir(DefaultPath()), nil
}

// pathWithinDir blocks directory traversal by ensuring path is under dir.
func pathWithinDir(path string, dir string) bool {
	relativePath, err := filepath.Rel(filepath.Clean(dir), filepath.Clean(path))
	if err != nil {
		return false
	}
	if relativePath == "." {
		return true
	}
	if relativePath == ".." || strings.HasPrefix(relativePath, ".."+string(os.PathSeparator)) {
		return false
	}
	return !filepath.IsAbs(relativePath)
}

// applyDefaultsAndValidate fills missing defaults and validates cfg in-place.
// MUTATES: cfg is directly modified.
// Used by both Load and Save to ensure consistent normalization.
func applyDefaultsAndValidate(cfg *Config) error {
	defaults := DefaultConfig()
	if isZeroConfig(*cfg) {
		*cfg = defaults
		return nil
	}

	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	if cfg.LogLevel == "" {
		cfg.LogLevel = defaults.LogLevel
	}
	if !slices.Contains(validLogLevels, cfg.LogLevel) {
		slog.Warn("[WARN-CONFIG] unknown log_level, falling back to default",
			"configured", cfg.LogLevel, "default", defaults.LogLevel)
		cfg.LogLevel = defaults.LogLevel
	}
	cfg.WebSocketAddr = strings.TrimSpace(cfg.WebSocketAddr)
	cfg.JournalPath = strings.TrimSpace(cfg.JournalPath)
	validateEventBuffer(cfg, defaults.EventBuffer)
	validateRestart(&cfg.Restart, defaults.Restart)
	if cfg.Chords == nil {
		cfg.Chords = defaults.Chords
	}
	return validateChords(cfg.Chords)
}

// validateEventBuffer clamps EventBuffer into (0, maxEventBuffer].
// NOTE: non-fatal; an invalid size falls back to the default so a typo does
// not prevent startup.
func validateEventBuffer(cfg *Config, fallback int) {
	switch {
	case cfg.EventBuffer <= 0:
		cfg.EventBuffer = fallback
	case cfg.EventBuffer > maxEventBuffer:
		slog.Warn("[WARN-CONFIG] event_buffer too large, clamping",
			"configured", cfg.EventBuffer, "max", maxEventBuffer)
		cfg.EventBuffer = maxEventBuffer
	}
}

func validateRestart(rc *RestartConfig, defaults RestartConfig) {
	if rc.InitialBackoff <= 0 {
		rc.InitialBackoff = defaults.InitialBackoff
	}
	if rc.MaxBackoff <= 0 {
		rc.MaxBackoff = defaults.MaxBackoff
	}
	if rc.MaxBackoff < rc.InitialBackoff {
		rc.MaxBackoff = rc.InitialBackoff
	}
	if rc.MaxRetries < 0 {
		rc.MaxRetries = 0
	}
}

// validateChords normalizes names and rejects chords that can never match.
func validateChords(chords []ChordConfig) error {
	seen := make(map[string]struct{}, len(chords))
	for i := range chords {
		c := &chords[i]
		c.Name = strings.TrimSpace(c.Name)
		if c.Name == "" {
			return fmt.Errorf("chords[%d]: name must not be empty", i)
		}
		if _, dup := seen[c.Name]; dup {
			return fmt.Errorf("chords[%d]: duplicate name %q", i, c.Name)
		}
		seen[c.Name] = struct{}{}
		if len(c.Keys) == 0 {
			return fmt.Errorf("chord %q: keys must not be empty", c.Name)
		}
		if _, err := c.Groups(); err != nil {
			return err
		}
	}
	return nil
}

func readLimitedFile(path string, maxBytes int64) ([]byte, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	limited := io.LimitReader(file, maxBytes+1)
	raw, err := io.ReadAll(limited)
	if err != nil {
		return nil, err
	}
	if int64(len(raw)) > maxBytes {
		return nil, fmt.Errorf("config file exceeds %d bytes", maxBytes)
	}
	return raw, nil
}

func isZeroConfig(cfg Config) bool {
	// reflect.DeepEqual guards against field-addition drift that manual checks miss.
	return reflect.DeepEqual(cfg, Config{})
}
