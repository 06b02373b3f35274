package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockroom/internal/dashboard"
	"github.com/odyssey-erp/stockroom/internal/inventory"
	"github.com/odyssey-erp/stockroom/internal/maintenance"
	"github.com/odyssey-erp/stockroom/internal/observability"
	"github.com/odyssey-erp/stockroom/internal/proposal"
	"github.com/odyssey-erp/stockroom/internal/shared"
	"github.com/odyssey-erp/stockroom/jobs"
)

func newTestRouter(t *testing.T, readiness map[string]ReadinessCheck) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	metrics := observability.NewMetrics()
	cfg := &Config{AppEnv: "test", RateLimitPerMinute: 1000}

	inventorySvc := inventory.NewService(inventory.NewMemoryRepository(), nil, inventory.ServiceConfig{
		Sequence: inventory.NewMemorySequence(),
		Metrics:  metrics,
		Logger:   logger,
	}, nil)
	maintenanceSvc := maintenance.NewService(maintenance.NewMemoryRepository(), inventorySvc, nil, logger)
	dashboardSvc := dashboard.NewService(inventorySvc, maintenanceSvc, nil, 0, logger)
	proposalSvc := proposal.NewService(proposal.NewMemoryRepository(), shared.NewMemoryApprovals(), nil, logger)

	return NewRouter(RouterParams{
		Logger:             logger,
		Config:             cfg,
		InventoryHandler:   inventory.NewHandler(logger, inventorySvc),
		MaintenanceHandler: maintenance.NewHandler(logger, maintenanceSvc),
		DashboardHandler:   dashboard.NewHandler(logger, dashboardSvc),
		ProposalHandler:    proposal.NewHandler(logger, proposalSvc),
		JobHandler:         jobs.NewHandler(nil, logger),
		Metrics:            metrics,
		Readiness:          readiness,
	})
}

func TestRouterServesAPIAndOps(t *testing.T) {
	router := newTestRouter(t, nil)

	body, err := json.Marshal(map[string]any{"name": "Safety helmet", "category": "PROTECTIVE_GEAR", "unit": "pcs"})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/items", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))

	for _, path := range []string{"/healthz", "/readyz", "/api/overview", "/api/maintenance/due", "/api/movements", "/api/loans?status=ON_LOAN", "/api/counts", "/api/proposals", "/jobs/health"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, rec.Code, path)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, strings.Contains(rec.Body.String(), "stockroom_http_requests_total"))
}

func TestRouterReadinessReportsFailures(t *testing.T) {
	router := newTestRouter(t, map[string]ReadinessCheck{
		"postgres": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("connection refused") },
	})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, map[string]string{"postgres": "ok", "redis": "unavailable"}, body)
}

func TestRouterRateLimits(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	router := NewRouter(RouterParams{Logger: logger, Config: &Config{RateLimitPerMinute: 2}})
	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		router.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	require.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestRouterUnknownRoutesAnswerProblems(t *testing.T) {
	router := newTestRouter(t, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/nowhere", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/healthz", nil))
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
