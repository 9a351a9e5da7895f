// Package server exposes the read-only observer surface of a benchmark run:
// health, a JSON status snapshot, Prometheus metrics, and a websocket feed
// of run snapshots. Observers only read; all writes stay with the
// orchestrator.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mfukui/asrbench/internal/bench"
	"github.com/mfukui/asrbench/internal/diaglog"
)

// SnapshotProvider yields the current run snapshot. Reads may observe a
// value mid-run.
type SnapshotProvider interface {
	Snapshot() bench.Snapshot
}

// Config configures the status server.
type Config struct {
	ListenAddr   string        // e.g. ":9090"; empty disables the server
	FeedInterval time.Duration // snapshot push interval, default 1s
}

// Server is the HTTP/websocket observer endpoint.
type Server struct {
	cfg      Config
	provider SnapshotProvider
	logger   *diaglog.Logger
	server   *http.Server
	upgrader websocket.Upgrader
}

// New creates a status server. handler wiring happens here; Start binds the
// listener.
func New(cfg Config, provider SnapshotProvider, logger *diaglog.Logger) *Server {
	if cfg.FeedInterval <= 0 {
		cfg.FeedInterval = time.Second
	}
	if logger == nil {
		logger = diaglog.NewNoOp()
	}

	s := &Server{
		cfg:      cfg,
		provider: provider,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Local observability endpoint; origin checks add nothing here.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ws", s.handleFeed)

	s.server = &http.Server{
		Addr:        cfg.ListenAddr,
		Handler:     mux,
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 60 * time.Second,
	}
	return s
}

// Start serves until Shutdown. Blocks; run it in a goroutine.
func (s *Server) Start() error {
	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Handler returns the underlying handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.provider.Snapshot())
}

// handleFeed upgrades to a websocket and pushes run snapshots at the feed
// interval until the client goes away.
func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return // Upgrade already wrote the error response
	}
	defer conn.Close()

	s.logger.Log(diaglog.LogEntry{
		Component: diaglog.ComponentServer,
		Event:     "feed_subscribe",
		Payload:   map[string]interface{}{"remote": r.RemoteAddr},
	})

	// Reader goroutine: drains control frames and detects disconnect.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.cfg.FeedInterval)
	defer ticker.Stop()

	// First snapshot immediately so subscribers don't wait a full tick.
	if err := s.writeSnapshot(conn); err != nil {
		return
	}
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := s.writeSnapshot(conn); err != nil {
				return
			}
		}
	}
}

func (s *Server) writeSnapshot(conn *websocket.Conn) error {
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteJSON(s.provider.Snapshot())
}
