package app

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	healthcheck "github.com/vladislavdragonenkov/ordersaga/internal/health"
)

func TestHTTPHandler_Endpoints(t *testing.T) {
	registry := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "ordersaga_test_total", Help: "test"})
	registry.MustRegister(counter)
	counter.Inc()

	health := healthcheck.NewHandler("test")
	srv := httptest.NewServer(newHTTPHandler(registry, health))
	defer srv.Close()

	tests := []struct {
		path string
		code int
		body string
	}{
		{"/metrics", http.StatusOK, "ordersaga_test_total 1"},
		{"/healthz", http.StatusOK, `"status":"healthy"`},
		{"/livez", http.StatusOK, ""},
		{"/readyz", http.StatusOK, ""},
		{"/unknown", http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp, err := http.Get(srv.URL + tt.path)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, tt.code, resp.StatusCode)
			if tt.body != "" {
				buf := new(bytes.Buffer)
				_, err := buf.ReadFrom(resp.Body)
				require.NoError(t, err)
				assert.Contains(t, buf.String(), tt.body)
			}
		})
	}
}

func TestHTTPHandler_ReadinessFailsWithUnhealthyChecker(t *testing.T) {
	health := healthcheck.NewHandler("test")
	health.RegisterChecker("postgres", healthcheck.NewSimpleChecker("postgres", func() error { return assert.AnError }))

	rec := httptest.NewRecorder()
	newHTTPHandler(prometheus.NewRegistry(), health).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestShutdownHTTP_Nil(t *testing.T) {
	assert.NotPanics(t, func() { shutdownHTTP(nil, quietLogger()) })
}
