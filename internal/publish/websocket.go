package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/earshot/internal/transcript"
)

const defaultWriteTimeout = 2 * time.Second

// HubOption configures a [Hub].
type HubOption func(*Hub)

// WithWriteTimeout bounds each per-client write. Clients that cannot keep up
// are disconnected.
func WithWriteTimeout(d time.Duration) HubOption {
	return func(h *Hub) { h.writeTimeout = d }
}

// WithOriginPatterns allows cross-origin clients matching the given host
// patterns. See [websocket.AcceptOptions].
func WithOriginPatterns(patterns ...string) HubOption {
	return func(h *Hub) { h.origins = append(h.origins, patterns...) }
}

// Hub is an [http.Handler] that upgrades requests to WebSocket connections
// and broadcasts every published transcript to them as a JSON text message.
// Clients only receive; anything they send is discarded.
type Hub struct {
	writeTimeout time.Duration
	origins      []string

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
	closed  bool
}

var (
	_ transcript.Publisher = (*Hub)(nil)
	_ http.Handler         = (*Hub)(nil)
)

// NewHub returns an empty Hub.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		writeTimeout: defaultWriteTimeout,
		clients:      make(map[*websocket.Conn]struct{}),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// ServeHTTP accepts the connection and holds it until the client leaves or
// the hub is closed.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		slog.Debug("websocket accept failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	if !h.add(conn) {
		conn.Close(websocket.StatusGoingAway, "shutting down")
		return
	}
	slog.Debug("websocket client connected", "remote", r.RemoteAddr)

	ctx := conn.CloseRead(r.Context())
	<-ctx.Done()

	h.remove(conn)
	conn.Close(websocket.StatusNormalClosure, "")
	slog.Debug("websocket client disconnected", "remote", r.RemoteAddr)
}

func (h *Hub) add(conn *websocket.Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[conn] = struct{}{}
	return true
}

func (h *Hub) remove(conn *websocket.Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.clients[conn]
	delete(h.clients, conn)
	return ok
}

// Len returns the number of connected clients.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Publish implements [transcript.Publisher]. A client whose write fails or
// times out is disconnected; that is not reported as an error.
func (h *Hub) Publish(ctx context.Context, t transcript.Transcript) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("publish: encode transcript %d: %w", t.Seq, err)
	}

	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for c := range h.clients {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		wctx, cancel := context.WithTimeout(ctx, h.writeTimeout)
		err := c.Write(wctx, websocket.MessageText, data)
		cancel()
		if err != nil {
			slog.Debug("dropping websocket client", "error", err)
			if h.remove(c) {
				c.Close(websocket.StatusPolicyViolation, "write failed")
			}
		}
	}
	return nil
}

// Close disconnects every client and rejects new ones.
func (h *Hub) Close() error {
	h.mu.Lock()
	h.closed = true
	conns := h.clients
	h.clients = make(map[*websocket.Conn]struct{})
	h.mu.Unlock()

	for c := range conns {
		c.Close(websocket.StatusGoingAway, "shutting down")
	}
	return nil
}
