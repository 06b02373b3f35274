package inventory

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

func newTestRouter(t *testing.T) (http.Handler, *Service) {
	t.Helper()
	svc, _ := newTestService(t)
	r := chi.NewRouter()
	NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), svc).MountRoutes(r)
	return r, svc
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandlerItemFlow(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/items", map[string]any{"name": "Grinder", "category": "ELECTRIC_TOOL", "unit": "pcs", "min_level": 2})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var item itemResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &item))
	require.Equal(t, "DC-D-0001", item.Code)
	itemPath := "/items/" + strconv.FormatInt(item.ID, 10)

	rec = doJSON(t, router, http.MethodPost, itemPath+"/receipts", map[string]any{"quantity": 3, "unit_price": "1500.50", "actor": "wh"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = doJSON(t, router, http.MethodPost, itemPath+"/issues", map[string]any{"quantity": 5, "recipient": "line 1", "actor": "wh"})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/loans", map[string]any{"item_id": item.ID, "quantity": 2, "borrower": "an", "approver": "binh", "borrowed_at": "2024-05-02"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var loan loanResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &loan))
	require.Equal(t, "2024-05-02", loan.BorrowedAt)

	loanPath := "/loans/" + strconv.FormatInt(loan.ID, 10) + "/return"
	rec = doJSON(t, router, http.MethodPost, loanPath, map[string]any{"condition": "GOOD", "date": "2024-05-03"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = doJSON(t, router, http.MethodPost, loanPath, map[string]any{"condition": "GOOD", "date": "2024-05-03"})
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, router, http.MethodGet, itemPath, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &item))
	require.Equal(t, 3, item.OnHand)
	require.False(t, item.LowStock)

	rec = doJSON(t, router, http.MethodPost, "/counts", map[string]any{"actor": "auditor", "lines": []map[string]any{
		{"item_id": item.ID, "actual_qty": 1},
		{"item_id": 999, "actual_qty": 1},
	}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var count reconcileResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &count))
	require.Equal(t, -2, count.Lines[0].Diff)
	require.Len(t, count.Skipped, 1)

	rec = doJSON(t, router, http.MethodGet, "/items/low-stock", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var low []itemResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &low))
	require.Len(t, low, 1)
}

func TestHandlerRejectsBadInput(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/items", map[string]any{"category": "CONSUMABLE", "unit": "pcs"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/items/abc/receipts", map[string]any{"quantity": 1, "actor": "wh"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/loans/1/return", map[string]any{"condition": "MISPLACED"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/items/41", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
}

func TestHandlerHistoryReads(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/items", map[string]any{"name": "Wrench", "category": "MECHANICAL_TOOL", "unit": "pcs"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var item itemResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &item))
	itemPath := "/items/" + strconv.FormatInt(item.ID, 10)

	rec = doJSON(t, router, http.MethodPost, itemPath+"/receipts", map[string]any{"quantity": 6, "unit_price": "25.50", "date": "2024-06-01", "actor": "wh"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = doJSON(t, router, http.MethodPost, itemPath+"/issues", map[string]any{"quantity": 1, "recipient": "line 3", "date": "2024-06-02", "actor": "wh"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = doJSON(t, router, http.MethodPost, "/loans", map[string]any{"item_id": item.ID, "quantity": 2, "borrower": "an", "approver": "binh", "borrowed_at": "2024-06-03"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = doJSON(t, router, http.MethodPost, "/counts", map[string]any{"actor": "auditor", "date": "2024-06-04", "lines": []map[string]any{
		{"item_id": item.ID, "actual_qty": 2, "reason": "missing"},
	}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = doJSON(t, router, http.MethodGet, "/movements?item_id="+strconv.FormatInt(item.ID, 10), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var moves []movementResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &moves))
	require.Len(t, moves, 3)
	require.Equal(t, MovementLoan, moves[0].Kind)
	require.Equal(t, LoanStatusOnLoan, moves[0].Status)
	require.Equal(t, "line 3", moves[1].Recipient)
	require.Equal(t, MovementReceipt, moves[2].Kind)
	require.NotNil(t, moves[2].Total)
	require.Equal(t, "153", moves[2].Total.String())

	rec = doJSON(t, router, http.MethodGet, "/movements?kind=RECEIPT&from=2024-06-01&to=2024-06-01", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &moves))
	require.Len(t, moves, 1)

	rec = doJSON(t, router, http.MethodGet, "/loans?status=ON_LOAN", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var loans []loanResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &loans))
	require.Len(t, loans, 1)
	require.Equal(t, "an", loans[0].Borrower)

	rec = doJSON(t, router, http.MethodGet, "/loans?status=RETURNED", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &loans))
	require.Empty(t, loans)

	rec = doJSON(t, router, http.MethodGet, "/counts", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var counts []countRecordResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &counts))
	require.Len(t, counts, 1)
	require.Equal(t, "2024-06-04", counts[0].Date)
	require.Equal(t, -1, counts[0].Lines[0].Diff)
}

func TestHandlerHistoryRejectsBadQuery(t *testing.T) {
	router, _ := newTestRouter(t)

	for _, path := range []string{
		"/movements?kind=TRANSFER",
		"/movements?from=yesterday",
		"/movements?item_id=-3",
		"/movements?from=2024-06-05&to=2024-06-01",
		"/loans?status=LATE",
		"/counts?limit=0",
	} {
		rec := doJSON(t, router, http.MethodGet, path, nil)
		require.Equal(t, http.StatusBadRequest, rec.Code, path)
	}
}
