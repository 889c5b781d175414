// Package debug exposes engine state as JSON over HTTP for the web
// visualiser, plus Prometheus metrics.
package debug

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/sushant-115/pagedb/core/indexing/btree"
	"github.com/sushant-115/pagedb/core/indexmanager"
	"go.uber.org/zap"
)

const shutdownTimeout = 5 * time.Second

// StateResponse is the body of GET / and GET /state.
type StateResponse struct {
	Backend  string          `json:"backend"`
	UptimeMs int64           `json:"uptimeMs"`
	State    *btree.Snapshot `json:"state"`
}

type Server struct {
	store     indexmanager.IndexManager
	metrics   http.Handler
	startedAt time.Time
	logger    *zap.Logger
	srv       *http.Server
}

// NewServer builds the debug server. metrics may be nil, in which case
// /metrics answers 404.
func NewServer(store indexmanager.IndexManager, metrics http.Handler, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		store:     store,
		metrics:   metrics,
		startedAt: time.Now(),
		logger:    logger.Named("debug"),
	}
	s.srv = &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// ListenAndServe listens on addr and serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve blocks until ctx is cancelled, then shuts the HTTP server down.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.logger.Info("Debug server listening", zap.String("addr", ln.Addr().String()))

	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("Debug server shutdown", zap.Error(err))
		}
	})
	defer stop()

	if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, errorBody("Method not allowed"))
		return
	}

	switch r.URL.Path {
	case "/", "/state":
		snap, err := s.store.Inspect(r.Context())
		if err != nil {
			s.logger.Error("Error handling request", zap.String("path", r.URL.Path), zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, errorBody(err.Error()))
			return
		}
		writeJSON(w, http.StatusOK, StateResponse{
			Backend:  s.store.Name(),
			UptimeMs: time.Since(s.startedAt).Milliseconds(),
			State:    snap,
		})
	case "/health":
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	case "/metrics":
		if s.metrics == nil {
			writeJSON(w, http.StatusNotFound, errorBody("Not found"))
			return
		}
		s.metrics.ServeHTTP(w, r)
	default:
		writeJSON(w, http.StatusNotFound, errorBody("Not found"))
	}
}

func errorBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(body)
}
