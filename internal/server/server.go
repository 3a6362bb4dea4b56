// Package server exposes earshot's HTTP surface: liveness and readiness
// probes, the Prometheus scrape endpoint, the transcript history API and the
// live transcript websocket.
//
// Every route except the websocket is wrapped in [observe.Middleware]; the
// websocket is long-lived and would skew the request duration histogram.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/earshot/internal/health"
	"github.com/MrWong99/earshot/internal/observe"
	"github.com/MrWong99/earshot/pkg/memory"
)

const shutdownTimeout = 5 * time.Second

// Option configures a [Server].
type Option func(*Server)

// WithHealth mounts /healthz and /readyz.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// WithMetrics records request metrics for every non-websocket route.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithMetricsHandler overrides the /metrics handler. The default is
// promhttp.Handler, which serves the global Prometheus registry.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metricsHandler = h }
}

// WithHistory mounts GET /api/transcripts backed by store.
func WithHistory(store memory.SessionStore) Option {
	return func(s *Server) { s.history = store }
}

// WithWebSocket mounts h at path outside the metrics middleware.
func WithWebSocket(path string, h http.Handler) Option {
	return func(s *Server) {
		s.wsPath = path
		s.ws = h
	}
}

// Server is the HTTP server. Create with [New], bind with [Server.Listen] and
// serve with [Server.Serve].
type Server struct {
	addr           string
	health         *health.Handler
	metrics        *observe.Metrics
	metricsHandler http.Handler
	history        memory.SessionStore
	wsPath         string
	ws             http.Handler

	handler http.Handler
	srv     *http.Server
	ln      net.Listener
}

// New builds the route table for addr.
func New(addr string, opts ...Option) *Server {
	s := &Server{addr: addr, metricsHandler: promhttp.Handler()}
	for _, o := range opts {
		o(s)
	}

	api := http.NewServeMux()
	if s.health != nil {
		s.health.Register(api)
	}
	api.Handle("GET /metrics", s.metricsHandler)
	if s.history != nil {
		api.HandleFunc("GET /api/transcripts", s.handleTranscripts)
	}

	var wrapped http.Handler = api
	if s.metrics != nil {
		wrapped = observe.Middleware(s.metrics)(api)
	}

	root := http.NewServeMux()
	if s.ws != nil {
		root.Handle(s.wsPath, s.ws)
	}
	root.Handle("/", wrapped)
	s.handler = root

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           root,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Handler returns the root handler. Useful with httptest.
func (s *Server) Handler() http.Handler { return s.handler }

// Listen binds the listening socket so that address errors surface during
// startup rather than after the pipeline is running.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("server: listen %q: %w", s.addr, err)
	}
	s.ln = ln
	return nil
}

// Addr returns the bound address, or the configured one before Listen.
func (s *Server) Addr() string {
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.addr
}

// Serve serves on the socket bound by Listen until ctx is done, then shuts
// down gracefully. It returns nil after a clean shutdown.
func (s *Server) Serve(ctx context.Context) error {
	if s.ln == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", s.Addr())
		errCh <- s.srv.Serve(s.ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server: serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: serve: %w", err)
	}
	return nil
}

// entryJSON is the wire form of a history entry.
type entryJSON struct {
	SessionID  string    `json:"session_id"`
	Seq        uint64    `json:"seq"`
	Backend    string    `json:"backend"`
	Text       string    `json:"text"`
	RawText    string    `json:"raw,omitempty"`
	Timestamp  time.Time `json:"time"`
	OffsetMs   int64     `json:"offset_ms"`
	DurationMs int64     `json:"duration_ms"`
	LatencyMs  int64     `json:"latency_ms"`
}

type transcriptsResponse struct {
	Transcripts []entryJSON `json:"transcripts"`
}

// handleTranscripts serves GET /api/transcripts?limit=N&q=&session=&after=&before=.
// after and before are RFC 3339 timestamps.
func (s *Server) handleTranscripts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := memory.SearchOpts{
		Query:     q.Get("q"),
		SessionID: q.Get("session"),
	}

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		opts.Limit = n
	}
	opts.Limit = memory.ClampLimit(opts.Limit)

	for _, p := range []struct {
		key string
		dst *time.Time
	}{{"after", &opts.After}, {"before", &opts.Before}} {
		v := q.Get(p.key)
		if v == "" {
			continue
		}
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, p.key+" must be an RFC 3339 timestamp")
			return
		}
		*p.dst = ts
	}

	entries, err := s.history.Search(r.Context(), opts)
	if err != nil {
		observe.Logger(r.Context()).Error("transcript history query failed", "err", err)
		writeError(w, http.StatusInternalServerError, "history unavailable")
		return
	}

	resp := transcriptsResponse{Transcripts: make([]entryJSON, 0, len(entries))}
	for _, e := range entries {
		resp.Transcripts = append(resp.Transcripts, entryJSON{
			SessionID:  e.SessionID,
			Seq:        e.Seq,
			Backend:    e.Backend,
			Text:       e.Text,
			RawText:    e.RawText,
			Timestamp:  e.Timestamp.UTC(),
			OffsetMs:   e.Offset.Milliseconds(),
			DurationMs: e.Duration.Milliseconds(),
			LatencyMs:  e.Latency.Milliseconds(),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("server: encode response", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
