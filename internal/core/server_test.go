package core

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"safetyalert/internal/config"
)

// mockMetricsCollector implements MetricsCollector for testing.
type mockMetricsCollector struct {
	mu    sync.Mutex
	calls []metricsCall
}

type metricsCall struct {
	method, endpoint, status string
	duration                 time.Duration
}

func (m *mockMetricsCollector) RecordRequest(method, endpoint, status string, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, metricsCall{method, endpoint, status, duration})
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func testConfig() *config.Config {
	return &config.Config{Environment: "local"}
}

func TestNewServer_Success(t *testing.T) {
	cfg := testConfig()
	logger := discardLogger()

	srv, err := NewServer(cfg, logger)
	if err != nil {
		t.Fatalf("NewServer returned unexpected error: %v", err)
	}
	if srv.Config != cfg {
		t.Error("Config field not set correctly")
	}
	if srv.Logger != logger {
		t.Error("Logger field not set correctly")
	}
	if srv.Validator == nil {
		t.Error("Validator should be initialized")
	}
	if srv.Router() == nil {
		t.Error("router should be initialized")
	}
	if srv.limiter != nil {
		t.Error("limiter should be nil when RateLimitPerMinute is 0")
	}
}

func TestNewServer_NilConfig(t *testing.T) {
	if _, err := NewServer(nil, discardLogger()); err == nil {
		t.Fatal("expected error for nil config")
	}
}

func TestNewServer_NilLogger(t *testing.T) {
	if _, err := NewServer(testConfig(), nil); err == nil {
		t.Fatal("expected error for nil logger")
	}
}

func TestNewServer_RateLimitConfigured(t *testing.T) {
	cfg := testConfig()
	cfg.Server.RateLimitPerMinute = 60

	srv, err := NewServer(cfg, discardLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if srv.limiter == nil || srv.limiter.perMinute != 60 {
		t.Fatalf("expected limiter with 60/min, got %+v", srv.limiter)
	}
}

func TestServer_HandlerServesMountedRoutes(t *testing.T) {
	srv, _ := NewServer(testConfig(), discardLogger())
	srv.APIRouteRegistrars = append(srv.APIRouteRegistrars, func(r chi.Router) {
		r.Post("/ping", func(w http.ResponseWriter, r *http.Request) {
			JSON(w, r, http.StatusOK, map[string]bool{"success": true})
		})
	})
	srv.MountRoutes()

	req := httptest.NewRequest(http.MethodPost, "/api/ping", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestServer_Shutdown(t *testing.T) {
	cfg := testConfig()
	cfg.Server.RateLimitPerMinute = 10
	srv, _ := NewServer(cfg, discardLogger())
	srv.limiter.allow("10.0.0.1")

	if err := srv.Shutdown(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(srv.limiter.entries) != 0 {
		t.Error("expected limiter entries cleared on shutdown")
	}
}

func TestServer_ShutdownCancelledContext(t *testing.T) {
	srv, _ := NewServer(testConfig(), discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := srv.Shutdown(ctx); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}
