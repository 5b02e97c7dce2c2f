package agents

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/attribute"

	"github.com/aixgo-dev/swarm/internal/agent"
	"github.com/aixgo-dev/swarm/internal/httpapi"
	"github.com/aixgo-dev/swarm/internal/observability"
	"github.com/aixgo-dev/swarm/pkg/discovery"
	"github.com/aixgo-dev/swarm/pkg/invoker/a2a"
	metrics "github.com/aixgo-dev/swarm/pkg/observability"
	"github.com/aixgo-dev/swarm/pkg/registry"
	"github.com/aixgo-dev/swarm/pkg/security"
)

// registerTimeout bounds the background self-registration.
const registerTimeout = 2 * time.Minute

// Server is the HTTP endpoint of one agent.
type Server struct {
	agent     agent.Agent
	card      a2a.AgentCard
	discovery discovery.Service
	health    *metrics.HealthChecker
	guard     security.InputGuard
	logger    *slog.Logger

	registered chan struct{}
}

// NewServer creates the endpoint for a, advertised as card.
func NewServer(a agent.Agent, card a2a.AgentCard, disc discovery.Service, logger *slog.Logger) *Server {
	return &Server{
		agent:      a,
		card:       card,
		discovery:  disc,
		health:     metrics.NewHealthChecker(),
		guard:      security.DefaultInputGuard(),
		logger:     logger,
		registered: make(chan struct{}),
	}
}

// Registered is closed once the agent's capability record is in discovery.
func (s *Server) Registered() <-chan struct{} { return s.registered }

// Handler returns the routed, instrumented handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+a2a.InvokePath, s.handleInvoke)
	mux.HandleFunc("GET "+a2a.CardPath, s.handleCard)
	s.health.Mount(mux)
	return metrics.InstrumentHandler("agent:"+s.card.ID, mux)
}

// Serve runs the endpoint on ln until ctx is done. onReady runs once the
// listener accepts; self-registration starts right after it.
func (s *Server) Serve(ctx context.Context, ln net.Listener, onReady func()) error {
	s.logger.Info("agent listening", "url", s.card.URL)
	return httpapi.Serve(ctx, httpapi.NewHTTPServer(s.Handler()), ln, func() {
		s.health.SetReady(true)
		if onReady != nil {
			onReady()
		}
		go s.register(ctx)
	})
}

// register records the capability record, retrying while discovery is
// unreachable. Invalid records are not retried.
func (s *Server) register(ctx context.Context) {
	if s.discovery == nil {
		s.logger.Warn("no discovery service, agent will not be resolvable")
		return
	}
	ctx, cancel := context.WithTimeout(ctx, registerTimeout)
	defer cancel()

	def := registry.AgentDefinition{
		ID:          s.card.ID,
		Name:        s.card.Name,
		Description: s.card.Description,
		URL:         s.card.URL,
		Domain:      s.card.Domain,
		Type:        s.card.Type,
		Skills:      s.card.Skills,
	}
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := s.discovery.RegisterAgent(ctx, def)
		if errors.Is(err, discovery.ErrInvalidDefinition) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxElapsedTime(registerTimeout))
	if err != nil {
		s.logger.Error("agent self-registration failed", "error", err)
		return
	}
	s.logger.Info("agent registered", "url", def.URL)
	close(s.registered)
}

func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	if !s.agent.Ready() {
		httpapi.WriteError(w, http.StatusServiceUnavailable, errors.New("agent not ready"))
		return
	}
	var req a2a.InvokeRequest
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		httpapi.WriteError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.guard.Check(string(req.Input)); err != nil {
		s.logger.Warn("request rejected", "error", err)
		httpapi.WriteError(w, http.StatusBadRequest, err)
		return
	}

	msg := agent.NewMessage(req.ConversationID, req.Input)
	if msg.ConversationID == "" {
		msg.ConversationID = msg.ID
	}
	ctx := a2a.WithConversation(r.Context(), msg.ConversationID)
	ctx, span := observability.StartSpan(ctx, "agent.execute", attribute.String("agent", s.card.ID))

	start := time.Now()
	out, err := s.agent.Execute(ctx, msg)
	metrics.RecordAgentExecution(s.card.ID, err, time.Since(start))
	observability.EndSpan(span, err)

	switch {
	case errors.Is(err, ErrBadInput):
		httpapi.WriteError(w, http.StatusBadRequest, err)
		return
	case err != nil:
		s.logger.Warn("execution failed", "conversation", msg.ConversationID, "error", err)
		resp := a2a.InvokeResponse{Error: err.Error()}
		if out != nil {
			resp.Output = out.Payload
		}
		httpapi.WriteJSON(w, http.StatusOK, resp)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, a2a.InvokeResponse{Output: out.Payload})
}

func (s *Server) handleCard(w http.ResponseWriter, r *http.Request) {
	httpapi.WriteJSON(w, http.StatusOK, s.card)
}
