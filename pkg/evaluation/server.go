package evaluation

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"

	"github.com/aixgo-dev/swarm/internal/httpapi"
	"github.com/aixgo-dev/swarm/internal/logging"
	"github.com/aixgo-dev/swarm/pkg/observability"
	"github.com/aixgo-dev/swarm/pkg/security"
)

// ServiceName labels evaluation metrics and logs.
const ServiceName = "evaluation"

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

// NewServer creates an evaluation server for svc.
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
	return s
}

// Health returns the server's health checker.
func (s *Server) Health() *observability.HealthChecker { return s.health }

// Handler returns the routed, instrumented handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/evaluations", s.handleEvaluate)
	mux.HandleFunc("GET /v1/evaluations", s.handleList)
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
	s.logger.Info("evaluation service listening", "addr", ln.Addr().String())
	defer s.health.SetReady(false)
	return httpapi.Serve(ctx, httpapi.NewHTTPServer(s.Handler()), ln, func() {
		s.health.SetReady(true)
	})
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		httpapi.WriteError(w, http.StatusBadRequest, err)
		return
	}
	res, err := s.svc.Evaluate(r.Context(), req)
	switch {
	case err == nil:
		httpapi.WriteJSON(w, http.StatusCreated, res)
	case errors.Is(err, ErrInvalidRequest):
		httpapi.WriteError(w, http.StatusBadRequest, err)
	case errors.Is(err, ErrJudgeFailed):
		s.logger.Warn("judge failed", "agent", req.AgentID, "error", err)
		httpapi.WriteError(w, http.StatusBadGateway, err)
	default:
		s.logger.Error("evaluation failed", "error", err)
		httpapi.WriteError(w, http.StatusInternalServerError, err)
	}
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	results, err := s.svc.List(r.Context(), r.URL.Query().Get("agent_id"))
	if err != nil {
		httpapi.WriteError(w, http.StatusInternalServerError, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, results)
}
