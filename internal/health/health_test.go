package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/ordersaga/internal/clock"
	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
	"github.com/vladislavdragonenkov/ordersaga/internal/service/breaker"
)

func serveHealth(t *testing.T, handler *Handler) (int, Response) {
	t.Helper()
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	var response Response
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return w.Code, response
}

func TestHealthHandler(t *testing.T) {
	handler := NewHandler("v1.0.0")
	handler.RegisterChecker("storage", NewSimpleChecker("storage", func() error { return nil }))

	code, response := serveHealth(t, handler)
	if code != http.StatusOK {
		t.Errorf("expected status 200, got %d", code)
	}
	if response.Status != StatusHealthy {
		t.Errorf("expected status healthy, got %s", response.Status)
	}
	if response.Version != "v1.0.0" {
		t.Errorf("expected version v1.0.0, got %s", response.Version)
	}
	if len(response.Checks) != 1 {
		t.Errorf("expected 1 check, got %d", len(response.Checks))
	}
}

func TestHealthHandler_Unhealthy(t *testing.T) {
	handler := NewHandler("v1.0.0")
	handler.RegisterChecker("storage", NewSimpleChecker("storage", func() error {
		return errors.New("connection refused")
	}))

	code, response := serveHealth(t, handler)
	if code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", code)
	}
	if response.Status != StatusUnhealthy {
		t.Errorf("expected status unhealthy, got %s", response.Status)
	}
	if response.Checks["storage"].Message != "connection refused" {
		t.Errorf("unexpected check message: %+v", response.Checks["storage"])
	}
}

func TestHealthHandler_UptimeFromClock(t *testing.T) {
	fake := clock.NewFake(time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC))
	handler := NewHandlerWithClock("dev", fake)
	fake.Advance(90 * time.Second)

	_, response := serveHealth(t, handler)
	if response.UptimeSeconds != 90 {
		t.Errorf("expected uptime 90s, got %d", response.UptimeSeconds)
	}
	if !response.Timestamp.Equal(fake.Now()) {
		t.Errorf("expected timestamp %s, got %s", fake.Now(), response.Timestamp)
	}
}

func TestBreakerChecker_DegradedWhileOpen(t *testing.T) {
	fake := clock.NewFake(time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC))
	registry := breaker.NewRegistry(
		breaker.WithClock(fake),
		breaker.WithDefaults(breaker.Settings{Threshold: 1, ResetTimeout: time.Minute}),
	)
	registry.Register(domain.DependencyStock, domain.DependencyPayment)

	handler := NewHandler("dev")
	handler.RegisterChecker("breakers", NewBreakerChecker("breakers", registry.Snapshot))

	if _, response := serveHealth(t, handler); response.Status != StatusHealthy {
		t.Fatalf("closed breakers must be healthy, got %s", response.Status)
	}

	_ = registry.Execute(context.Background(), domain.DependencyPayment, func(context.Context) error {
		return domain.ErrTransientFailure
	})

	code, response := serveHealth(t, handler)
	if code != http.StatusOK {
		t.Errorf("degraded must still answer 200, got %d", code)
	}
	if response.Status != StatusDegraded {
		t.Fatalf("expected degraded, got %s", response.Status)
	}
	if msg := response.Checks["breakers"].Message; msg != "open: "+domain.DependencyPayment {
		t.Errorf("unexpected message %q", msg)
	}

	fake.Advance(time.Minute)
	if _, response := serveHealth(t, handler); response.Status != StatusHealthy {
		t.Errorf("half-open breaker is not reported as degraded, got %s", response.Status)
	}
}

func TestLivenessHandler(t *testing.T) {
	w := httptest.NewRecorder()
	LivenessHandler(w, httptest.NewRequest(http.MethodGet, "/livez", nil))

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}
	if w.Body.String() != "ok" {
		t.Errorf("expected body 'ok', got %s", w.Body.String())
	}
}

func TestReadinessHandler(t *testing.T) {
	tests := []struct {
		name     string
		checkErr error
		code     int
		body     string
	}{
		{name: "ready", code: http.StatusOK, body: "ready"},
		{name: "not ready", checkErr: errors.New("down"), code: http.StatusServiceUnavailable, body: "not ready"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewHandler("v1.0.0")
			handler.RegisterChecker("storage", NewSimpleChecker("storage", func() error { return tt.checkErr }))

			w := httptest.NewRecorder()
			handler.ReadinessHandler(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))

			if w.Code != tt.code {
				t.Errorf("expected status %d, got %d", tt.code, w.Code)
			}
			if w.Body.String() != tt.body {
				t.Errorf("expected body %q, got %q", tt.body, w.Body.String())
			}
		})
	}
}

func TestSimpleChecker_Error(t *testing.T) {
	check := NewSimpleChecker("storage", func() error { return errors.New("test error") }).Check()

	if check.Status != StatusUnhealthy {
		t.Errorf("expected status unhealthy, got %s", check.Status)
	}
	if check.Message != "test error" {
		t.Errorf("expected message 'test error', got %s", check.Message)
	}
	if check.Name != "storage" {
		t.Errorf("expected name storage, got %s", check.Name)
	}
}
