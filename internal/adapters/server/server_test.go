package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hylla/witcopier/internal/adapters/server/common"
	"github.com/hylla/witcopier/internal/app"
	"github.com/hylla/witcopier/internal/domain"
	"github.com/hylla/witcopier/internal/metrics"
)

// stubService satisfies the transport service with empty results.
type stubService struct{}

func (stubService) ProcessNotification(context.Context, common.NotificationRequest) (app.DispatchReport, error) {
	return app.DispatchReport{}, nil
}

func (stubService) EvaluateNotification(context.Context, common.NotificationRequest) (common.Evaluation, error) {
	return common.Evaluation{}, nil
}

func (stubService) GetWorkItem(context.Context, common.GetWorkItemRequest) (domain.WorkItem, error) {
	return domain.WorkItem{}, nil
}

func (stubService) ListCopyActivity(context.Context, int) ([]domain.CopyActivity, error) {
	return []domain.CopyActivity{{ID: "a-1"}}, nil
}

// get issues one GET against the handler and returns status and body.
func get(t *testing.T, h http.Handler, path string) (int, string) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	return rec.Code, string(body)
}

// TestNewHandlerRoutes verifies health, API, and metrics mounting.
func TestNewHandlerRoutes(t *testing.T) {
	recorder := metrics.NewRecorder(metrics.Options{})
	recorder.ObserveCopy(domain.CopyOutcomeCopied, "", time.Millisecond)

	h, cfg, err := NewHandler(Config{}, Dependencies{Service: stubService{}, Metrics: recorder.Handler()})
	if err != nil {
		t.Fatalf("NewHandler() error = %v", err)
	}
	if cfg.ServerName != "witcopier" || cfg.APIEndpoint != "/api/v1" || cfg.MetricsEndpoint != "/metrics" {
		t.Fatalf("unexpected normalized config %#v", cfg)
	}

	if code, body := get(t, h, "/healthz"); code != http.StatusOK || !strings.Contains(body, `"ok"`) {
		t.Fatalf("healthz = %d %q", code, body)
	}
	if code, _ := get(t, h, "/readyz"); code != http.StatusOK {
		t.Fatalf("readyz = %d, want 200", code)
	}
	if code, body := get(t, h, "/api/v1/activity"); code != http.StatusOK || !strings.Contains(body, "a-1") {
		t.Fatalf("activity = %d %q", code, body)
	}
	if code, body := get(t, h, "/metrics"); code != http.StatusOK || !strings.Contains(body, "witcopier_copies_total") {
		t.Fatalf("metrics = %d %q", code, body)
	}
}

// TestNewHandlerReadiness verifies failed probes surface as 503.
func TestNewHandlerReadiness(t *testing.T) {
	h, _, err := NewHandler(Config{}, Dependencies{
		Service: stubService{},
		Ready:   func(context.Context) error { return errors.New("database is closed") },
	})
	if err != nil {
		t.Fatalf("NewHandler() error = %v", err)
	}
	if code, _ := get(t, h, "/readyz"); code != http.StatusServiceUnavailable {
		t.Fatalf("readyz = %d, want 503", code)
	}
	if code, _ := get(t, h, "/metrics"); code != http.StatusNotFound {
		t.Fatalf("metrics without recorder = %d, want 404", code)
	}
}

// TestNewHandlerValidation verifies dependency and endpoint validation.
func TestNewHandlerValidation(t *testing.T) {
	if _, _, err := NewHandler(Config{}, Dependencies{}); err == nil {
		t.Fatal("expected error without service")
	}
	cases := []Config{
		{APIEndpoint: "/mcp"},
		{MetricsEndpoint: "api/v1"},
		{APIEndpoint: "/healthz"},
	}
	for _, cfg := range cases {
		if _, err := normalizeConfig(cfg); err == nil {
			t.Fatalf("normalizeConfig(%#v) error = nil, want collision error", cfg)
		}
	}
	if got := normalizeEndpoint(" / ", "/mcp"); got != "/mcp" {
		t.Fatalf("normalizeEndpoint() = %q, want /mcp", got)
	}
}

// TestRunStopsOnCancel verifies graceful shutdown once the context ends.
func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Run(ctx, Config{HTTPBind: "127.0.0.1:0"}, Dependencies{Service: stubService{}})
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}
