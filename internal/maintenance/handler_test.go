package maintenance

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, &buf))
	return rec
}

func TestHandlerScheduleFlow(t *testing.T) {
	svc, _, _ := newTestService()
	router := chi.NewRouter()
	NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), svc).MountRoutes(router)

	rec := doJSON(t, router, http.MethodPost, "/maintenance", map[string]any{"item_id": 1, "kind": "ROUTINE", "frequency": "MONTHLY", "start_due": "2024-01-31"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var schedule scheduleResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &schedule))
	base := "/maintenance/" + strconv.FormatInt(schedule.ID, 10)

	rec = doJSON(t, router, http.MethodPost, base+"/complete", map[string]any{"date": "2024-01-31", "performer": "tech", "cost": "25000"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var entry logResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entry))
	require.Equal(t, "2024-02-29", entry.NextDue)

	rec = doJSON(t, router, http.MethodGet, "/maintenance/due?today=2024-02-25", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var due []scheduleResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &due))
	require.Len(t, due, 1)
	require.Equal(t, StatusUpcoming, due[0].Status)

	rec = doJSON(t, router, http.MethodDelete, base, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = doJSON(t, router, http.MethodGet, base, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	rec = doJSON(t, router, http.MethodGet, base+"/logs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHandlerRejectsUnknownFrequency(t *testing.T) {
	svc, _, _ := newTestService()
	router := chi.NewRouter()
	NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), svc).MountRoutes(router)

	rec := doJSON(t, router, http.MethodPost, "/maintenance", map[string]any{"item_id": 1, "kind": "ROUTINE", "frequency": "DAILY", "start_due": "2024-01-31"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
