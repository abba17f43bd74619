package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"chordhook/internal/config"
)

// Exit codes.
const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

// globalOptions are the flags accepted before the command name.
type globalOptions struct {
	configPath string
	display    string
	logLevel   string
}

type command struct {
	name    string
	summary string
	run     func(ctx context.Context, g globalOptions, args []string, stdout, stderr io.Writer) int
}

var commands = []command{
	{name: "run", summary: "capture chords and serve events (default)", run: runDaemon},
	{name: "doctor", summary: "check the display, RECORD and XTEST support", run: runDoctor},
	{name: "keys", summary: "list supported keys with keycodes and labels", run: runKeys},
	{name: "selftest", summary: "inject a key tap and verify it is captured", run: runSelftest},
	{name: "stats", summary: "print chord activation counts from the journal", run: runStats},
}

func lookupCommand(name string) (command, bool) {
	for _, c := range commands {
		if c.name == name {
			return c, true
		}
	}
	return command{}, false
}

func printUsage(w io.Writer, fs *flag.FlagSet) {
	fmt.Fprintln(w, "usage: chordhook [global flags] [command] [command flags]")
	fmt.Fprintln(w, "\ncommands:")
	for _, c := range commands {
		fmt.Fprintf(w, "  %-9s %s\n", c.name, c.summary)
	}
	fmt.Fprintln(w, "\nglobal flags:")
	fs.SetOutput(w)
	fs.PrintDefaults()
}

// run parses the global flags and dispatches to a command. It returns the
// process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	var g globalOptions
	fs := flag.NewFlagSet("chordhook", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&g.configPath, "config", "", "config file (default $XDG_CONFIG_HOME/chordhook/config.yaml)")
	fs.StringVar(&g.display, "display", "", "X display to capture (default from config, then $DISPLAY)")
	fs.StringVar(&g.logLevel, "log-level", "", "log level: debug, info, warn or error (default from config)")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			printUsage(stdout, fs)
			return exitOK
		}
		fmt.Fprintf(stderr, "chordhook: %v\n", err)
		printUsage(stderr, fs)
		return exitUsage
	}
	if g.logLevel != "" {
		if _, err := parseLogLevel(g.logLevel); err != nil {
			fmt.Fprintf(stderr, "chordhook: %v\n", err)
			return exitUsage
		}
	}

	rest := fs.Args()
	name := "run"
	if len(rest) > 0 {
		name, rest = rest[0], rest[1:]
	}
	cmd, ok := lookupCommand(name)
	if !ok {
		fmt.Fprintf(stderr, "chordhook: unknown command %q\n", name)
		printUsage(stderr, fs)
		return exitUsage
	}
	return cmd.run(ctx, g, rest, stdout, stderr)
}

// newCommandFlags returns a flag set for a command that reports parse
// errors on stderr.
func newCommandFlags(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet("chordhook "+name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

// parseCommandFlags parses args into fs. done is true when the command
// should exit with code right away.
func parseCommandFlags(fs *flag.FlagSet, args []string) (code int, done bool) {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK, true
		}
		return exitUsage, true
	}
	if fs.NArg() > 0 {
		fmt.Fprintf(fs.Output(), "%s: unexpected argument %q\n", fs.Name(), fs.Arg(0))
		return exitUsage, true
	}
	return exitOK, false
}

func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level %q (want debug, info, warn or error)", level)
	}
}

// applyGlobalOverrides layers the global flags over cfg.
func applyGlobalOverrides(cfg config.Config, g globalOptions) config.Config {
	if g.display != "" {
		cfg.Display = g.display
	}
	if g.logLevel != "" {
		cfg.LogLevel = g.logLevel
	}
	return cfg
}

// loadCommandConfig reads the config for a one-shot command without creating
// the file. Load failures fall back to defaults with a warning on stderr.
func loadCommandConfig(g globalOptions, stderr io.Writer) (config.Config, string) {
	path := g.configPath
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(stderr, "chordhook: config %s: %v (using defaults)\n", path, err)
		cfg = config.DefaultConfig()
	}
	return applyGlobalOverrides(cfg, g), path
}

// newCommandLogger returns a text logger on stderr at the configured level.
func newCommandLogger(stderr io.Writer, level string) *slog.Logger {
	lvl, err := parseLogLevel(level)
	if err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: lvl}))
}

// runDaemon is the run command.
func runDaemon(ctx context.Context, g globalOptions, args []string, _, stderr io.Writer) int {
	fs := newCommandFlags("run", stderr)
	if code, done := parseCommandFlags(fs, args); done {
		return code
	}

	app := NewApp(g)
	if err := app.startup(ctx, stderr); err != nil {
		fmt.Fprintf(stderr, "chordhook: %v\n", err)
		app.shutdown()
		return exitFailure
	}
	err := app.serve(ctx)
	app.shutdown()
	if err != nil {
		fmt.Fprintf(stderr, "chordhook: %v\n", err)
		return exitFailure
	}
	return exitOK
}
