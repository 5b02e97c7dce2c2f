package observability

import (
	"context"
	"net"
	"net/http"

	"github.com/aixgo-dev/swarm/internal/httpapi"
)

// Server exposes the process-wide metrics and health endpoints.
type Server struct {
	checker *HealthChecker
}

// NewServer creates a metrics server. A nil checker gets a fresh one.
func NewServer(checker *HealthChecker) *Server {
	if checker == nil {
		checker = NewHealthChecker()
	}
	return &Server{checker: checker}
}

// Handler serves /metrics next to the health endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.checker.Mount(mux)
	mux.Handle("GET /metrics", MetricsHandler())
	return mux
}

// Serve serves on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	defer s.checker.SetReady(false)
	return httpapi.Serve(ctx, httpapi.NewHTTPServer(s.Handler()), ln, func() {
		s.checker.SetReady(true)
	})
}
