package wsserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// writeDeadline is the maximum time allowed for a single WebSocket write to
// complete. A client that cannot take a frame within this window is dropped
// so one stalled reader never delays the others.
const writeDeadline = 5 * time.Second

// readDeadline is the maximum time the server waits for any read activity
// (including pong responses) before considering the connection dead.
// 90 seconds allows for ~3 missed pings (pingInterval=30s) before timeout.
const readDeadline = 90 * time.Second

// pingInterval is the interval between server-initiated WebSocket pings.
const pingInterval = 30 * time.Second

// maxReadMessageSize limits the maximum size of incoming WebSocket messages.
// Subscribe requests are well under 1 KiB.
const maxReadMessageSize = 32 * 1024

// maxClients caps concurrent connections. Further upgrades are refused with 503.
const maxClients = 32

// wsUpgrader is a package-level Upgrader to avoid repeated allocation on each
// connection upgrade. The Upgrader is stateless and safe for reuse.
var wsUpgrader = websocket.Upgrader{
	// CheckOrigin allows all origins because the server binds to 127.0.0.1
	// by default and carries no credentials.
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  1024,
	WriteBufferSize: 4 * 1024,
}

// HubOptions configures the WebSocket server.
type HubOptions struct {
	// Addr is the listen address. Use "127.0.0.1:0" for OS-assigned port.
	Addr string

	// Logger receives hub diagnostics. Nil means slog.Default().
	Logger *slog.Logger

	// Backlog, when set, returns encoded envelopes replayed to a client right
	// after it subscribes to topic, following the "subscribed" ack.
	Backlog func(topic string) [][]byte
}

// client is one connected subscriber.
//
// writeMu serializes WriteMessage calls. gorilla/websocket does not support
// concurrent writes; all writers on this conn must hold this lock.
type client struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	// topics is guarded by Hub.mu.
	topics map[string]bool
}

// Hub fans out event envelopes to every connected client subscribed to the
// envelope's topic.
//
// Lock ordering (never acquire in reverse):
//
//	client.writeMu -> Hub.mu
//
// mu protects the client set and every client's topic map.
//
// Write failure policy: any write failure (Publish, reply, pingLoop) removes
// the client and closes its connection. The client must reconnect.
type Hub struct {
	opts   HubOptions
	logger *slog.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}

	listener net.Listener
	server   *http.Server
	url      string // "ws://<host>:<port>/ws", set after Start

	// closeOnce ensures Stop is idempotent. Once Stop has been called,
	// the Hub cannot be reused; create a new Hub instance instead.
	closeOnce sync.Once
	stopped   bool // guarded by mu
}

// NewHub creates a Hub with the given options.
// The hub is not started until Start is called.
func NewHub(opts HubOptions) *Hub {
	if opts.Addr == "" {
		opts.Addr = "127.0.0.1:0"
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		opts:    opts,
		logger:  logger,
		clients: make(map[*client]struct{}),
	}
}

// Start begins listening on the configured address and serves WebSocket
// connections on /ws. The context is used for the server's BaseContext: when
// ctx is cancelled, active request handlers receive cancellation. The server
// itself must be stopped explicitly via Stop.
//
// Thread safety: Start must be called exactly once, before any concurrent
// access.
func (h *Hub) Start(ctx context.Context) error {
	if h.server != nil {
		return fmt.Errorf("wsserver: already started")
	}

	ln, err := net.Listen("tcp", h.opts.Addr)
	if err != nil {
		return fmt.Errorf("wsserver: listen: %w", err)
	}
	h.listener = ln
	h.url = "ws://" + ln.Addr().String() + "/ws"

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.handleWS)

	h.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	go func() {
		if serveErr := h.server.Serve(ln); serveErr != nil && serveErr != http.ErrServerClosed {
			h.logger.Error("[DEBUG-WS] server error", "error", serveErr)
		}
	}()

	h.logger.Info("[DEBUG-WS] server started", "url", h.url)
	return nil
}

// Stop gracefully shuts down the HTTP server and closes every connection.
// Safe to call multiple times (idempotent via sync.Once).
func (h *Hub) Stop() error {
	var stopErr error
	h.closeOnce.Do(func() {
		h.mu.Lock()
		h.stopped = true
		clients := make([]*client, 0, len(h.clients))
		for c := range h.clients {
			clients = append(clients, c)
		}
		clear(h.clients)
		h.mu.Unlock()

		for _, c := range clients {
			h.closeConn(c.conn, "hub stop")
		}

		if h.server != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := h.server.Shutdown(shutdownCtx); err != nil {
				stopErr = fmt.Errorf("wsserver: shutdown: %w", err)
			}
		}

		h.logger.Info("[DEBUG-WS] server stopped")
	})
	return stopErr
}

// URL returns the WebSocket URL (e.g. "ws://127.0.0.1:7781/ws").
// Returns empty string if the server has not started.
func (h *Hub) URL() string {
	return h.url
}

// ClientCount reports the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// SubscriberCount reports how many clients are subscribed to topic.
func (h *Hub) SubscriberCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for c := range h.clients {
		if c.topics[topic] {
			n++
		}
	}
	return n
}

// Publish encodes data in an envelope of type topic and writes it to every
// client subscribed to topic. With no subscribers the call is a no-op and
// data is never marshalled.
//
// Thread-safe. Writes to different clients happen one after another on the
// caller's goroutine; each is bounded by writeDeadline.
func (h *Hub) Publish(topic, session string, at time.Time, data any) {
	h.mu.RLock()
	var targets []*client
	for c := range h.clients {
		if c.topics[topic] {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	if len(targets) == 0 {
		return
	}

	frame, err := EncodeEnvelope(topic, session, at, data)
	if err != nil {
		h.logger.Warn("[DEBUG-WS] failed to encode envelope", "topic", topic, "error", err)
		return
	}

	for _, c := range targets {
		if err := h.write(c, websocket.TextMessage, frame); err != nil {
			// Drop first: the warning may be teed back into Publish.
			h.dropClient(c, "write error in Publish")
			h.logger.Warn("[DEBUG-WS] write failed, connection closed", "topic", topic, "error", err)
		}
	}
}

// write sends one frame under the client's write lock with a deadline.
func (h *Hub) write(c *client, messageType int, payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	err := c.conn.WriteMessage(messageType, payload)
	// Failure to clear is non-fatal: the next write sets a fresh deadline.
	if clearErr := c.conn.SetWriteDeadline(time.Time{}); clearErr != nil {
		h.logger.Debug("[DEBUG-WS] clearWriteDeadline failed (non-fatal)", "error", clearErr)
	}
	return err
}

// dropClient removes c from the hub if it is still registered and closes
// its connection. Caller must NOT hold h.mu.
func (h *Hub) dropClient(c *client, reason string) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	h.closeConn(c.conn, reason)
}

// closeConn closes a WebSocket connection. The close may fail if the
// connection was already closed by another goroutine; that is logged at Debug.
func (h *Hub) closeConn(conn *websocket.Conn, reason string) {
	if closeErr := conn.Close(); closeErr != nil {
		h.logger.Debug("[DEBUG-WS] connection close", "reason", reason, "error", closeErr)
	}
}

// handleWS upgrades HTTP to WebSocket, registers the client with an empty
// topic set and runs its read pump.
func (h *Hub) handleWS(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	full := len(h.clients) >= maxClients
	stopped := h.stopped
	h.mu.RUnlock()
	if stopped || full {
		http.Error(w, "too many clients", http.StatusServiceUnavailable)
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("[DEBUG-WS] upgrade failed", "error", err)
		return
	}

	conn.SetReadLimit(maxReadMessageSize)

	// The read deadline is extended on every pong received from the client.
	if err := conn.SetReadDeadline(time.Now().Add(readDeadline)); err != nil {
		h.logger.Warn("[DEBUG-WS] SetReadDeadline failed on new connection", "error", err)
		h.closeConn(conn, "initial SetReadDeadline failure")
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readDeadline))
	})

	c := &client{conn: conn, topics: make(map[string]bool)}
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		h.closeConn(conn, "hub stopped during upgrade")
		return
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	h.logger.Info("[DEBUG-WS] client connected", "remoteAddr", conn.RemoteAddr())

	pingDone := make(chan struct{})
	go h.pingLoop(c, pingDone)

	defer func() {
		if rec := recover(); rec != nil {
			h.logger.Error("[DEBUG-PANIC] wsserver handleWS recovered",
				"panic", rec,
				"stack", string(debug.Stack()),
			)
		}
		close(pingDone)
		h.dropClient(c, "read pump exit")
		h.logger.Info("[DEBUG-WS] client disconnected", "remoteAddr", conn.RemoteAddr())
	}()

	for {
		msgType, msg, readErr := conn.ReadMessage()
		if readErr != nil {
			if websocket.IsUnexpectedCloseError(readErr, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("[DEBUG-WS] read error", "error", readErr)
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		var req SubscribeRequest
		if jsonErr := json.Unmarshal(msg, &req); jsonErr != nil {
			h.logger.Debug("[DEBUG-WS] invalid JSON from client", "error", jsonErr)
			h.reply(c, TypeError, errorData{Message: fmt.Sprintf("invalid JSON: %s", jsonErr)})
			continue
		}
		h.handleSubscription(c, req)
	}
}

// pingLoop sends periodic WebSocket pings to detect dead connections.
// Runs as a goroutine per connection; exits when done is closed or ping fails.
func (h *Hub) pingLoop(c *client, done <-chan struct{}) {
	defer func() {
		// On panic, drop the connection so it doesn't remain open without
		// pings, which would prevent dead connection detection.
		if rec := recover(); rec != nil {
			h.logger.Error("[DEBUG-PANIC] wsserver pingLoop recovered",
				"panic", rec,
				"stack", string(debug.Stack()),
			)
			h.dropClient(c, "pingLoop panic recovery")
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := h.write(c, websocket.PingMessage, nil); err != nil {
				h.logger.Debug("[DEBUG-WS] ping failed, connection likely dead", "error", err)
				h.dropClient(c, "ping failure")
				return
			}
		}
	}
}

// handleSubscription applies a subscribe or unsubscribe request to the
// client's topic set and acknowledges it with the resulting set.
// Unknown topics are rejected as a whole; nothing is applied.
func (h *Hub) handleSubscription(c *client, req SubscribeRequest) {
	if req.Action != ActionSubscribe && req.Action != ActionUnsubscribe {
		h.logger.Debug("[DEBUG-WS] unknown action", "action", req.Action)
		h.reply(c, TypeError, errorData{Message: fmt.Sprintf("unknown action %q", req.Action)})
		return
	}
	for _, topic := range req.Topics {
		if !ValidTopic(topic) {
			h.logger.Debug("[DEBUG-WS] unknown topic in request", "topic", topic)
			h.reply(c, TypeError, errorData{Message: fmt.Sprintf("unknown topic %q", topic)})
			return
		}
	}

	var added []string
	h.mu.Lock()
	for _, topic := range req.Topics {
		if req.Action == ActionSubscribe {
			if !c.topics[topic] {
				added = append(added, topic)
			}
			c.topics[topic] = true
		} else {
			delete(c.topics, topic)
		}
	}
	topics := make([]string, 0, len(c.topics))
	for topic := range c.topics {
		topics = append(topics, topic)
	}
	h.mu.Unlock()

	slices.Sort(topics)
	h.logger.Debug("[DEBUG-WS] subscription updated", "action", req.Action, "topics", topics)
	if !h.reply(c, TypeSubscribed, subscribedData{Topics: topics}) {
		return
	}
	h.replayBacklog(c, added)
}

// replayBacklog writes the backlog of each newly subscribed topic to c.
func (h *Hub) replayBacklog(c *client, topics []string) {
	if h.opts.Backlog == nil {
		return
	}
	for _, topic := range topics {
		for _, frame := range h.opts.Backlog(topic) {
			if err := h.write(c, websocket.TextMessage, frame); err != nil {
				h.logger.Debug("[DEBUG-WS] failed to replay backlog", "topic", topic, "error", err)
				h.dropClient(c, "write error in backlog replay")
				return
			}
		}
	}
}

// reply sends a control envelope to one client and reports whether it was
// written. On write failure, the client is dropped per the write failure
// policy (see Hub doc).
func (h *Hub) reply(c *client, typ string, data any) bool {
	frame, err := EncodeEnvelope(typ, "", time.Now(), data)
	if err != nil {
		h.logger.Debug("[DEBUG-WS] failed to encode reply", "type", typ, "error", err)
		return false
	}
	if err := h.write(c, websocket.TextMessage, frame); err != nil {
		h.logger.Debug("[DEBUG-WS] failed to send reply to client", "type", typ, "error", err)
		h.dropClient(c, "write error in reply")
		return false
	}
	return true
}
