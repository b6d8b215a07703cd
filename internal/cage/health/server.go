package health

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/grantharris33/clawdbot/common/version"
)

// Server exposes /health and /status over HTTP, plus any additionally
// registered endpoints (e.g. cagectl's /events, /drain).
type Server struct {
	addr      string
	monitor   *Monitor
	startedAt time.Time
	server    *http.Server
	mux       *http.ServeMux
}

type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Commit  string `json:"commit"`
}

type statusResponse struct {
	Status     string    `json:"status"`
	Version    string    `json:"version"`
	Commit     string    `json:"commit"`
	BuildTime  string    `json:"build_time"`
	StartedAt  time.Time `json:"started_at"`
	UptimeSecs float64   `json:"uptime_seconds"`
	Report     Report    `json:"report"`
}

// NewServer creates and configures the HTTP server without starting it.
func NewServer(addr string, monitor *Monitor) *Server {
	mux := http.NewServeMux()
	s := &Server{addr: addr, monitor: monitor, startedAt: time.Now(), mux: mux}
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)
	return s
}

// ServeHTTP lets the server be exercised with httptest without a live
// listener.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Handle registers an additional route, e.g. cagectl's /events or /drain.
func (s *Server) Handle(pattern string, handler http.Handler) {
	s.mux.Handle(pattern, handler)
}

// Start begins listening in the background, blocking until the listener is
// established.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("health server: listen %s: %w", s.addr, err)
	}

	s.server = &http.Server{
		Handler:      s,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("health server listening", "addr", ln.Addr().String())
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("health server stopped", "err", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			slog.Warn("health server shutdown error", "err", err)
		}
	}()

	return nil
}

// Stop shuts down the HTTP server.
func (s *Server) Stop() {
	if s.server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		slog.Warn("health server shutdown error", "err", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.monitor.Check(r.Context())
	code := http.StatusOK
	if !report.Healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, healthResponse{
		Status:  statusWord(report.Healthy),
		Version: version.Version,
		Commit:  version.GitCommit,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	report := s.monitor.Check(r.Context())
	resp := statusResponse{
		Status:     statusWord(report.Healthy),
		Version:    version.Version,
		Commit:     version.GitCommit,
		BuildTime:  version.BuildTime,
		StartedAt:  s.startedAt,
		UptimeSecs: time.Since(s.startedAt).Seconds(),
		Report:     report,
	}
	writeJSON(w, http.StatusOK, resp)
}

func statusWord(healthy bool) string {
	if healthy {
		return "ok"
	}
	return "degraded"
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("health: failed to encode JSON response", "err", err)
	}
}
