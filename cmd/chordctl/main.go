// Command chordctl streams events from a running chordhook daemon.
//
// Each event envelope is printed to stdout as one JSON line:
//
//	chordctl -topics chord,status
//	chordctl -topics all -n 10
//	chordctl -url ws://127.0.0.1:7781/ws
//
// Subscription acknowledgements and errors go to stderr.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"chordhook/internal/config"
	"chordhook/internal/wsserver"
)

const (
	dialTimeout       = 5 * time.Second
	closeWriteTimeout = time.Second
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run parses flags and streams until ctx is cancelled, the daemon closes the
// connection or -n events were printed. It returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("chordctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "chordhook config file used to find the hub (default $XDG_CONFIG_HOME/chordhook/config.yaml)")
	url := fs.String("url", "", "hub URL (default from the config's websocket_addr)")
	topicsFlag := fs.String("topics", "chord,status", "comma-separated topics: chord, key, status, log, or all")
	count := fs.Int("n", 0, "exit after this many events (0 streams until interrupted)")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() > 0 {
		fmt.Fprintf(stderr, "chordctl: unexpected argument %q\n", fs.Arg(0))
		return 2
	}
	if *count < 0 {
		fmt.Fprintln(stderr, "chordctl: -n must not be negative")
		return 2
	}
	topics, err := parseTopics(*topicsFlag)
	if err != nil {
		fmt.Fprintf(stderr, "chordctl: %v\n", err)
		return 2
	}

	target := *url
	if target == "" {
		target, err = urlFromConfig(*configPath)
		if err != nil {
			fmt.Fprintf(stderr, "chordctl: %v\n", err)
			return 1
		}
	}
	return stream(ctx, target, topics, *count, stdout, stderr)
}

// parseTopics splits a comma-separated topic list. "all" expands to every
// topic; duplicates are dropped.
func parseTopics(raw string) ([]string, error) {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		topic := strings.ToLower(strings.TrimSpace(part))
		switch {
		case topic == "":
			continue
		case topic == "all":
			return slices.Clone(wsserver.AllTopics), nil
		case !wsserver.ValidTopic(topic):
			return nil, fmt.Errorf("unknown topic %q (want %s or all)", topic, strings.Join(wsserver.AllTopics, ", "))
		case !slices.Contains(out, topic):
			out = append(out, topic)
		}
	}
	if len(out) == 0 {
		return nil, errors.New("no topics given")
	}
	return out, nil
}

// urlFromConfig derives the hub URL from the daemon's config file.
func urlFromConfig(path string) (string, error) {
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return "", fmt.Errorf("config %s: %w", path, err)
	}
	if cfg.WebSocketAddr == "" {
		return "", fmt.Errorf("websocket hub is disabled in %s (websocket_addr is empty)", path)
	}
	return hubURL(cfg.WebSocketAddr), nil
}

// hubURL turns a listen address into a dialable URL. An empty host means
// the daemon listens on every interface, so loopback reaches it.
func hubURL(addr string) string {
	if host, port, err := net.SplitHostPort(addr); err == nil && (host == "" || host == "0.0.0.0" || host == "::") {
		addr = net.JoinHostPort("127.0.0.1", port)
	}
	return "ws://" + addr + "/ws"
}

// stream subscribes to topics and copies event frames to stdout.
func stream(ctx context.Context, url string, topics []string, count int, stdout, stderr io.Writer) int {
	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		fmt.Fprintf(stderr, "chordctl: no daemon listening on %s: %v\n", url, err)
		return 1
	}
	defer conn.Close()
	// Unblocks ReadMessage on interrupt.
	stopClose := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stopClose()

	req, err := wsserver.EncodeSubscribe(wsserver.ActionSubscribe, topics)
	if err != nil {
		fmt.Fprintf(stderr, "chordctl: %v\n", err)
		return 1
	}
	if err := conn.WriteMessage(websocket.TextMessage, req); err != nil {
		fmt.Fprintf(stderr, "chordctl: subscribe: %v\n", err)
		return 1
	}

	printed := 0
	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return 0
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				fmt.Fprintln(stderr, "chordctl: daemon closed the connection")
				return 0
			}
			fmt.Fprintf(stderr, "chordctl: read: %v\n", err)
			return 1
		}

		env, err := wsserver.DecodeEnvelope(frame)
		if err != nil {
			fmt.Fprintf(stderr, "chordctl: %v\n", err)
			continue
		}
		switch env.Type {
		case wsserver.TypeSubscribed:
			fmt.Fprintf(stderr, "chordctl: subscribed %s\n", env.Data)
			continue
		case wsserver.TypeError:
			fmt.Fprintf(stderr, "chordctl: daemon error: %s\n", env.Data)
			return 1
		}

		if _, err := stdout.Write(append(frame, '\n')); err != nil {
			fmt.Fprintf(stderr, "chordctl: %v\n", err)
			return 1
		}
		printed++
		if count > 0 && printed >= count {
			closeFrame := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = conn.WriteControl(websocket.CloseMessage, closeFrame, time.Now().Add(closeWriteTimeout))
			return 0
		}
	}
}
