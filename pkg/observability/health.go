package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// HealthStatus is the outcome of a probe or of a whole report.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

const defaultProbeTimeout = 5 * time.Second

// HealthCheck is one named probe. A failing critical probe makes the
// endpoint unhealthy and not ready; any other failure only degrades it.
type HealthCheck struct {
	Name      string
	CheckFunc func(context.Context) error
	Timeout   time.Duration
	Critical  bool
}

// HealthChecker runs the checks of one service. Each auxiliary server and
// each agent owns its own checker so readiness is reported per endpoint.
type HealthChecker struct {
	mu      sync.RWMutex
	checks  []*HealthCheck
	ready   atomic.Bool
	started time.Time
}

// HealthResponse is the body of /health.
type HealthResponse struct {
	Status    HealthStatus           `json:"status"`
	Ready     bool                   `json:"ready"`
	Timestamp time.Time              `json:"timestamp"`
	Uptime    string                 `json:"uptime"`
	Checks    map[string]CheckStatus `json:"checks,omitempty"`
}

// CheckStatus is the result of a single probe.
type CheckStatus struct {
	Status   HealthStatus `json:"status"`
	Message  string       `json:"message,omitempty"`
	Duration string       `json:"duration"`
}

// NewHealthChecker creates a checker that reports not ready until SetReady(true).
func NewHealthChecker() *HealthChecker {
	return &HealthChecker{started: time.Now()}
}

// SetReady flips the readiness flag reported by /health/ready.
func (hc *HealthChecker) SetReady(ready bool) { hc.ready.Store(ready) }

// IsReady reports the readiness flag.
func (hc *HealthChecker) IsReady() bool { return hc.ready.Load() }

// RegisterCheck adds a probe, replacing any probe with the same name.
func (hc *HealthChecker) RegisterCheck(check *HealthCheck) {
	if check.Timeout <= 0 {
		check.Timeout = defaultProbeTimeout
	}
	hc.mu.Lock()
	defer hc.mu.Unlock()
	for i, c := range hc.checks {
		if c.Name == check.Name {
			hc.checks[i] = check
			return
		}
	}
	hc.checks = append(hc.checks, check)
	sort.Slice(hc.checks, func(i, j int) bool { return hc.checks[i].Name < hc.checks[j].Name })
}

// Check runs every probe concurrently, each bounded by its own timeout.
func (hc *HealthChecker) Check(ctx context.Context) HealthResponse {
	hc.mu.RLock()
	checks := append([]*HealthCheck(nil), hc.checks...)
	hc.mu.RUnlock()

	results := make([]CheckStatus, len(checks))
	var wg sync.WaitGroup
	for i, c := range checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = probe(ctx, c)
		}()
	}
	wg.Wait()

	resp := HealthResponse{
		Status:    HealthStatusHealthy,
		Ready:     hc.IsReady(),
		Timestamp: time.Now().UTC(),
		Uptime:    time.Since(hc.started).Round(time.Second).String(),
	}
	if len(checks) > 0 {
		resp.Checks = make(map[string]CheckStatus, len(checks))
	}
	for i, c := range checks {
		resp.Checks[c.Name] = results[i]
		resp.Status = worst(resp.Status, results[i].Status)
	}
	return resp
}

func probe(ctx context.Context, c *HealthCheck) CheckStatus {
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	start := time.Now()
	done := make(chan error, 1)
	go func() { done <- c.CheckFunc(ctx) }()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}

	st := CheckStatus{Status: HealthStatusHealthy, Duration: time.Since(start).String()}
	if err != nil {
		st.Status = HealthStatusDegraded
		if c.Critical {
			st.Status = HealthStatusUnhealthy
		}
		st.Message = err.Error()
	}
	return st
}

func worst(a, b HealthStatus) HealthStatus {
	rank := map[HealthStatus]int{HealthStatusHealthy: 0, HealthStatusDegraded: 1, HealthStatusUnhealthy: 2}
	if rank[b] > rank[a] {
		return b
	}
	return a
}

// Mount registers /health, /health/live and /health/ready on mux.
func (hc *HealthChecker) Mount(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", hc.HealthHandler())
	mux.HandleFunc("GET /health/live", LivenessHandler())
	mux.HandleFunc("GET /health/ready", hc.ReadinessHandler())
}

// HealthHandler serves the full report; only an unhealthy report is a 503.
func (hc *HealthChecker) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := hc.Check(r.Context())
		code := http.StatusOK
		if resp.Status == HealthStatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		writeStatus(w, code, resp)
	}
}

// LivenessHandler answers as long as the process serves HTTP.
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, http.StatusOK, map[string]string{"status": "alive"})
	}
}

// ReadinessHandler returns 200 once SetReady(true) was called and no
// critical check fails. The orchestrator polls this before registering.
func (hc *HealthChecker) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !hc.IsReady() || hc.Check(r.Context()).Status == HealthStatusUnhealthy {
			writeStatus(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
			return
		}
		writeStatus(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func writeStatus(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

// PingCheck always passes; it keeps /health non-empty for bare services.
func PingCheck() *HealthCheck {
	return &HealthCheck{
		Name:      "ping",
		CheckFunc: func(context.Context) error { return nil },
		Timeout:   time.Second,
	}
}

// StoreCheck is a critical probe of a storage backend such as Redis.
func StoreCheck(ping func(context.Context) error) *HealthCheck {
	return &HealthCheck{Name: "store", CheckFunc: ping, Critical: true}
}
