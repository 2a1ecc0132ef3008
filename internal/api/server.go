// Package api implements the routerwatch status server: the HTML
// dashboard, health, the current device list, build info, Prometheus
// metrics, and a WebSocket stream of poll events.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nugget/routerwatch/internal/buildinfo"
	"github.com/nugget/routerwatch/internal/connwatch"
	"github.com/nugget/routerwatch/internal/events"
	"github.com/nugget/routerwatch/internal/metrics"
	"github.com/nugget/routerwatch/internal/poller"
	"github.com/nugget/routerwatch/internal/web"
)

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here usually mean the client went away mid-response.
func writeJSON(w http.ResponseWriter, status int, v any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// SnapshotSource provides the current device view. *poller.Poller
// satisfies it.
type SnapshotSource interface {
	Snapshot() poller.Snapshot
}

// Config holds the server's collaborators. Devices is required; the
// rest are optional.
type Config struct {
	Address string
	Port    int

	Devices  SnapshotSource
	Health   *connwatch.Watcher
	Bus      *events.Bus
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
}

// Server is the status HTTP server.
type Server struct {
	cfg    Config
	logger *slog.Logger
	server *http.Server
}

// NewServer creates a status server.
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{cfg: cfg, logger: logger}
}

// Handler returns the routed handler with request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /{$}", s.dashboard())
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /v1/version", s.handleVersion)
	mux.HandleFunc("GET /v1/devices", s.handleDevices)
	mux.HandleFunc("GET /v1/events", s.handleEvents)
	mux.Handle("GET /metrics", metrics.Handler(s.cfg.Gatherer))
	return s.withLogging(mux)
}

// Start serves until the listener fails or Shutdown is called. It
// returns http.ErrServerClosed after a clean shutdown.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Address, s.cfg.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	addr := s.cfg.Address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting status server", "address", addr, "port", s.cfg.Port)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"remote", r.RemoteAddr,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) dashboard() http.Handler {
	cfg := web.Config{
		Devices: s.cfg.Devices.Snapshot,
		Logger:  s.logger,
	}
	if s.cfg.Health != nil {
		cfg.Health = s.cfg.Health.Status
	}
	if s.cfg.Bus != nil {
		cfg.Events = s.cfg.Bus.Recent
	}
	return web.New(cfg)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, buildinfo.Info(), s.logger)
}

// healthResponse is the /health body.
type healthResponse struct {
	Status    string            `json:"status"`
	Router    *connwatch.Status `json:"router,omitempty"`
	Stale     bool              `json:"stale"`
	LastCycle time.Time         `json:"last_cycle"`
}

// handleHealth reports 200 while the router answers and the device
// list is current, 503 otherwise.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := s.cfg.Devices.Snapshot()
	resp := healthResponse{
		Status:    "healthy",
		Stale:     snap.Stale,
		LastCycle: snap.LastCycle,
	}
	ready := !snap.Stale
	if s.cfg.Health != nil {
		st := s.cfg.Health.Status()
		resp.Router = &st
		ready = ready && st.Ready
	}

	status := http.StatusOK
	if !ready {
		resp.Status = "degraded"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp, s.logger)
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.Devices.Snapshot(), s.logger)
}
