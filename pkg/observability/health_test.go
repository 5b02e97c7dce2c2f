package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadinessHandler(t *testing.T) {
	hc := NewHealthChecker()
	mux := http.NewServeMux()
	hc.Mount(mux)

	get := func(path string) int {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, get("/health/live"))
	assert.Equal(t, http.StatusServiceUnavailable, get("/health/ready"))

	hc.SetReady(true)
	assert.Equal(t, http.StatusOK, get("/health/ready"))

	hc.RegisterCheck(StoreCheck(func(context.Context) error { return errors.New("down") }))
	assert.Equal(t, http.StatusServiceUnavailable, get("/health/ready"))
	assert.Equal(t, http.StatusServiceUnavailable, get("/health"))
}

func TestCheck_NonCriticalDegrades(t *testing.T) {
	hc := NewHealthChecker()
	hc.RegisterCheck(PingCheck())
	hc.RegisterCheck(&HealthCheck{
		Name:      "cache",
		CheckFunc: func(context.Context) error { return errors.New("slow") },
	})

	resp := hc.Check(context.Background())
	assert.Equal(t, HealthStatusDegraded, resp.Status)
	assert.Equal(t, HealthStatusHealthy, resp.Checks["ping"].Status)
	assert.Equal(t, "slow", resp.Checks["cache"].Message)
}

func TestCheck_ReplacesByNameAndTimesOut(t *testing.T) {
	hc := NewHealthChecker()
	hc.RegisterCheck(StoreCheck(func(context.Context) error { return errors.New("down") }))
	hc.RegisterCheck(&HealthCheck{
		Name:     "store",
		Critical: true,
		Timeout:  10 * time.Millisecond,
		CheckFunc: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
	})
	hc.SetReady(true)

	resp := hc.Check(context.Background())
	require.Len(t, resp.Checks, 1)
	assert.True(t, resp.Ready)
	assert.Equal(t, HealthStatusUnhealthy, resp.Status)
	assert.Contains(t, resp.Checks["store"].Message, "deadline")
}

func TestInstrumentHandler(t *testing.T) {
	h := InstrumentHandler("test", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/x", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
}
