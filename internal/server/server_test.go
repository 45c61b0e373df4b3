package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"incident-ledger/config"
	"incident-ledger/internal/handler"
	"incident-ledger/internal/metrics"
	"incident-ledger/internal/projection"
	"incident-ledger/internal/repository"
	"incident-ledger/internal/services"
	"incident-ledger/pkg/logger"
)

func newTestServer(t *testing.T) (*Server, *prometheus.Registry) {
	t.Helper()
	cfg := &config.Config{AppMode: TestMode, AppPort: "0"}
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	store := repository.NewMemoryReadModelStore()
	svc := services.NewIncidentService(repository.NewMemoryEventLog(), store,
		projection.NewProjector(store, logger.NewNop(), m), nil,
		services.DefaultIncidentServiceConfig(), logger.NewNop(), m)

	s := New(cfg, logger.NewNop())
	s.SetupRoutes(&Handlers{Incidents: handler.NewIncidentHandler(svc, nil)}, reg)
	return s, reg
}

func get(s *Server, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.Engine().ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestOpsEndpoints(t *testing.T) {
	s, _ := newTestServer(t)

	w := get(s, "/ping")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "pong")
	assert.NotEmpty(t, w.Header().Get("X-Request-Id"))

	s.AddHealthCheck("postgres", func(context.Context) error { return nil })
	w = get(s, "/health")
	assert.Equal(t, http.StatusOK, w.Code)

	s.AddHealthCheck("redis", func(context.Context) error { return errors.New("connection refused") })
	w = get(s, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "connection refused")
}

func TestMetricsEndpointExposesCommandCounters(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/incidents", strings.NewReader(`{"name":"Disk full","description":"/var is full"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Engine().ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code)

	w = get(s, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `incident_commands_total{command="CreateIncident",outcome="ok"} 1`)
}

func TestWatchRouteIsOptional(t *testing.T) {
	s, _ := newTestServer(t)
	w := get(s, "/v1/incidents/00000000-0000-0000-0000-000000000001/watch")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRunClosesResourcesInReverseOrder(t *testing.T) {
	s, _ := newTestServer(t)
	var order []string
	s.OnShutdown("postgres", func() error { order = append(order, "postgres"); return nil })
	s.OnShutdown("redis", func() error { order = append(order, "redis"); return errors.New("already closed") })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "close redis: already closed")
	case <-time.After(10 * time.Second):
		t.Fatal("server did not stop")
	}
	assert.Equal(t, []string{"redis", "postgres"}, order)
}
