package discovery

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"

	"github.com/aixgo-dev/swarm/internal/httpapi"
	"github.com/aixgo-dev/swarm/internal/logging"
	"github.com/aixgo-dev/swarm/pkg/observability"
	"github.com/aixgo-dev/swarm/pkg/registry"
	"github.com/aixgo-dev/swarm/pkg/security"
)

// ServiceName labels discovery metrics and logs.
const ServiceName = "discovery"

// Server exposes a Service over HTTP.
type Server struct {
	svc     Service
	health  *observability.HealthChecker
	limiter *security.RateLimiter
	logger  *slog.Logger
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithServerLogger sets the server logger.
func WithServerLogger(l *slog.Logger) ServerOption {
	return func(s *Server) { s.logger = l }
}

// WithRateLimit enables per-client rate limiting.
func WithRateLimit(rps float64, burst int) ServerOption {
	return func(s *Server) { s.limiter = security.NewRateLimiter(rps, burst) }
}

// NewServer creates a discovery server for svc.
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
	if p, ok := svc.(Pinger); ok {
		s.health.RegisterCheck(observability.StoreCheck(p.Ping))
	}
	return s
}

// Health returns the server's health checker.
func (s *Server) Health() *observability.HealthChecker { return s.health }

// Handler returns the routed, instrumented handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/tasks", s.handleRegisterTask)
	mux.HandleFunc("GET /v1/tasks", s.handleListTasks)
	mux.HandleFunc("GET /v1/tasks/{id}", s.handleGetTask)
	mux.HandleFunc("POST /v1/tools", s.handleRegisterTool)
	mux.HandleFunc("GET /v1/tools", s.handleListTools)
	mux.HandleFunc("GET /v1/tools/{id}", s.handleGetTool)
	mux.HandleFunc("POST /v1/agents", s.handleRegisterAgent)
	mux.HandleFunc("GET /v1/agents", s.handleListAgents)
	mux.HandleFunc("GET /v1/agents/resolve", s.handleResolveAgent)
	mux.HandleFunc("GET /v1/agents/{id}", s.handleGetAgent)
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

// Serve serves on ln until ctx is done. The server reports ready once accepting.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.logger.Info("discovery service listening", "addr", ln.Addr().String())
	defer s.health.SetReady(false)
	return httpapi.Serve(ctx, httpapi.NewHTTPServer(s.Handler()), ln, func() {
		s.health.SetReady(true)
	})
}

func (s *Server) handleRegisterTask(w http.ResponseWriter, r *http.Request) {
	var def registry.TaskDefinition
	if err := httpapi.DecodeJSON(r, &def); err != nil {
		httpapi.WriteError(w, http.StatusBadRequest, err)
		return
	}
	s.respond(w, http.StatusCreated, def.ID, s.svc.RegisterTask(r.Context(), def))
}

func (s *Server) handleRegisterTool(w http.ResponseWriter, r *http.Request) {
	var def registry.ToolDefinition
	if err := httpapi.DecodeJSON(r, &def); err != nil {
		httpapi.WriteError(w, http.StatusBadRequest, err)
		return
	}
	s.respond(w, http.StatusCreated, def.ID, s.svc.RegisterTool(r.Context(), def))
}

func (s *Server) handleRegisterAgent(w http.ResponseWriter, r *http.Request) {
	var def registry.AgentDefinition
	if err := httpapi.DecodeJSON(r, &def); err != nil {
		httpapi.WriteError(w, http.StatusBadRequest, err)
		return
	}
	s.respond(w, http.StatusCreated, def.ID, s.svc.RegisterAgent(r.Context(), def))
}

func (s *Server) respond(w http.ResponseWriter, status int, id string, err error) {
	if err != nil {
		s.writeError(w, err)
		return
	}
	httpapi.WriteJSON(w, status, map[string]string{"id": id})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	def, err := s.svc.GetTask(r.Context(), r.PathValue("id"))
	s.reply(w, def, err)
}

func (s *Server) handleGetTool(w http.ResponseWriter, r *http.Request) {
	def, err := s.svc.GetTool(r.Context(), r.PathValue("id"))
	s.reply(w, def, err)
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	def, err := s.svc.GetAgent(r.Context(), r.PathValue("id"))
	s.reply(w, def, err)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	defs, err := s.svc.ListTasks(r.Context())
	s.reply(w, defs, err)
}

func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	defs, err := s.svc.ListTools(r.Context())
	s.reply(w, defs, err)
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	defs, err := s.svc.ListAgents(r.Context())
	s.reply(w, defs, err)
}

func (s *Server) handleResolveAgent(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	agentType, err := registry.ParseAgentType(q.Get("type"))
	if err != nil {
		httpapi.WriteError(w, http.StatusBadRequest, err)
		return
	}
	def, err := s.svc.ResolveAgent(r.Context(), registry.AgentDomain(q.Get("domain")), agentType)
	s.reply(w, def, err)
}

func (s *Server) reply(w http.ResponseWriter, v any, err error) {
	if err != nil {
		s.writeError(w, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, v)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidDefinition):
		httpapi.WriteError(w, http.StatusBadRequest, err)
	case errors.Is(err, ErrNotFound):
		httpapi.WriteError(w, http.StatusNotFound, err)
	default:
		s.logger.Error("discovery request failed", "error", err)
		httpapi.WriteError(w, http.StatusInternalServerError, err)
	}
}
