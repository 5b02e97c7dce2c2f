package memory

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"

	"github.com/aixgo-dev/swarm/internal/httpapi"
	"github.com/aixgo-dev/swarm/internal/logging"
	"github.com/aixgo-dev/swarm/pkg/observability"
	"github.com/aixgo-dev/swarm/pkg/security"
)

// ServiceName labels memory metrics and logs.
const ServiceName = "memory"

// Server exposes a Service over HTTP.
type Server struct {
	svc     Service
	health  *observability.HealthChecker
	limiter *security.RateLimiter
	logger  *slog.Logger
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithLogger sets the server logger.
func WithLogger(l *slog.Logger) ServerOption {
	return func(s *Server) { s.logger = l }
}

// WithRateLimit enables per-client rate limiting.
func WithRateLimit(rps float64, burst int) ServerOption {
	return func(s *Server) { s.limiter = security.NewRateLimiter(rps, burst) }
}

// NewServer creates a memory server for svc.
func NewServer(svc Service, opts ...ServerOption) *Server {
	s := &Server{
		svc:    svc,
		health: observability.NewHealthChecker(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.OrDiscard(s.logger)

	s.health.RegisterCheck(observability.PingCheck())
	if p, ok := svc.(interface{ Ping(context.Context) error }); ok {
		s.health.RegisterCheck(observability.StoreCheck(p.Ping))
	}
	return s
}

// Health returns the server's health checker.
func (s *Server) Health() *observability.HealthChecker { return s.health }

// Handler returns the routed, instrumented handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/records", s.handleCommit)
	mux.HandleFunc("GET /v1/conversations/{id}/records", s.handleHistory)
	mux.HandleFunc("GET /v1/search", s.handleSearch)
	s.health.Mount(mux)
	mux.Handle("GET /metrics", observability.MetricsHandler())

	var h http.Handler = mux
	if s.limiter != nil {
		h = s.limiter.Middleware(h)
	}
	return observability.InstrumentHandler(ServiceName, h)
}

// ListenAndServe binds addr and serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.logger.Info("memory service listening", "addr", ln.Addr().String())
	defer s.health.SetReady(false)
	return httpapi.Serve(ctx, httpapi.NewHTTPServer(s.Handler()), ln, func() {
		s.health.SetReady(true)
	})
}

func (s *Server) handleCommit(w http.ResponseWriter, r *http.Request) {
	var rec Record
	if err := httpapi.DecodeJSON(r, &rec); err != nil {
		httpapi.WriteError(w, http.StatusBadRequest, err)
		return
	}
	stored, err := s.svc.Commit(r.Context(), rec)
	if err != nil {
		s.writeError(w, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusCreated, stored)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	records, err := s.svc.History(r.Context(), r.PathValue("id"), queryLimit(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, nonNil(records))
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	records, err := s.svc.Search(r.Context(), r.URL.Query().Get("q"), queryLimit(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, nonNil(records))
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrInvalidRecord) {
		httpapi.WriteError(w, http.StatusBadRequest, err)
		return
	}
	s.logger.Error("memory request failed", "error", err)
	httpapi.WriteError(w, http.StatusInternalServerError, err)
}

func queryLimit(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func nonNil(records []Record) []Record {
	if records == nil {
		return []Record{}
	}
	return records
}
