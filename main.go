// Command chordhook watches the X server for configured key chords and
// publishes them to local clients.
//
// Usage:
//
//	chordhook [-config path] [-display name] [-log-level level] [command] [flags]
//
// Commands are run (the default), doctor, keys, selftest and stats.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
