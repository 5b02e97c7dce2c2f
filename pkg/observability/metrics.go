package observability

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP metrics.
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swarm_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"service", "method", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "swarm_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service", "method"},
	)

	// Discovery metrics.
	registrationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swarm_discovery_registrations_total",
			Help: "Total number of discovery registrations",
		},
		[]string{"kind", "status"},
	)

	// Invoker metrics.
	invocationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swarm_invocations_total",
			Help: "Total number of task, tool and agent invocations",
		},
		[]string{"kind", "status"},
	)

	invocationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "swarm_invocation_duration_seconds",
			Help:    "Invocation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	// Agent metrics.
	agentLaunchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swarm_agent_launches_total",
			Help: "Total number of agent launch attempts",
		},
		[]string{"type", "outcome"},
	)

	agentsRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "swarm_agents_running",
			Help: "Number of agents currently serving",
		},
	)

	agentExecutionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "swarm_agent_execution_duration_seconds",
			Help:    "Agent execution duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"agent", "status"},
	)

	// Evaluation metrics.
	evaluationScore = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "swarm_evaluation_score",
			Help:    "Judge scores assigned to agent responses",
			Buckets: prometheus.LinearBuckets(0, 1, 11),
		},
		[]string{"agent"},
	)

	// LLM metrics.
	llmRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swarm_llm_requests_total",
			Help: "Total number of chat completion requests",
		},
		[]string{"model", "status"},
	)

	llmTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swarm_llm_tokens_total",
			Help: "Tokens consumed by chat completions",
		},
		[]string{"model", "kind"},
	)

	initOnce sync.Once
)

// InitMetrics registers the collectors with the default Prometheus registry.
func InitMetrics() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpRequestsTotal,
			httpRequestDuration,
			registrationsTotal,
			invocationsTotal,
			invocationDuration,
			agentLaunchesTotal,
			agentsRunning,
			agentExecutionDuration,
			evaluationScore,
			llmRequestsTotal,
			llmTokensTotal,
		)
	})
}

// MetricsHandler returns an HTTP handler for Prometheus metrics.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest records HTTP request metrics.
func RecordHTTPRequest(service, method string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(service, method, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(service, method).Observe(duration.Seconds())
}

// RecordRegistration records a discovery registration attempt.
func RecordRegistration(kind string, err error) {
	registrationsTotal.WithLabelValues(kind, statusLabel(err)).Inc()
}

// RecordInvocation records a task, tool or agent invocation.
func RecordInvocation(kind string, err error, duration time.Duration) {
	invocationsTotal.WithLabelValues(kind, statusLabel(err)).Inc()
	invocationDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordLaunch records the outcome of an agent launch.
func RecordLaunch(agentType, outcome string) {
	agentLaunchesTotal.WithLabelValues(agentType, outcome).Inc()
}

// AgentStarted increments the running agents gauge.
func AgentStarted() { agentsRunning.Inc() }

// AgentStopped decrements the running agents gauge.
func AgentStopped() { agentsRunning.Dec() }

// RecordAgentExecution records agent execution metrics.
func RecordAgentExecution(agent string, err error, duration time.Duration) {
	agentExecutionDuration.WithLabelValues(agent, statusLabel(err)).Observe(duration.Seconds())
}

// RecordEvaluation records a judge score.
func RecordEvaluation(agent string, score float64) {
	evaluationScore.WithLabelValues(agent).Observe(score)
}

// RecordLLMRequest records one completion and its token usage.
func RecordLLMRequest(model string, err error, promptTokens, completionTokens int) {
	llmRequestsTotal.WithLabelValues(model, statusLabel(err)).Inc()
	if promptTokens > 0 {
		llmTokensTotal.WithLabelValues(model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		llmTokensTotal.WithLabelValues(model, "completion").Add(float64(completionTokens))
	}
}

// InstrumentHandler wraps h and records request count and latency under service.
func InstrumentHandler(service string, h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h.ServeHTTP(rec, r)
		RecordHTTPRequest(service, r.Method, rec.status, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
