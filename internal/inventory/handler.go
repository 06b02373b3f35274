package inventory

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockroom/internal/platform/httpx"
	"github.com/odyssey-erp/stockroom/internal/shared"
)

// IdempotencyHeader carries the client's request id for mutating calls.
const IdempotencyHeader = "Idempotency-Key"

const dateLayout = "2006-01-02"

// Handler wires HTTP endpoints for inventory module.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs inventory handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/items", func(r chi.Router) {
		r.Post("/", h.handleCreateItem)
		r.Get("/low-stock", h.handleLowStock)
		r.Get("/{id}", h.handleGetItem)
		r.Post("/{id}/receipts", h.handleReceive)
		r.Post("/{id}/issues", h.handleIssue)
	})
	r.Route("/loans", func(r chi.Router) {
		r.Get("/", h.handleListLoans)
		r.Post("/", h.handleLoan)
		r.Get("/{id}", h.handleGetLoan)
		r.Post("/{id}/return", h.handleReturn)
	})
	r.Route("/counts", func(r chi.Router) {
		r.Get("/", h.handleListCounts)
		r.Post("/", h.handleReconcile)
	})
	r.Get("/movements", h.handleListMovements)
}

type createItemRequest struct {
	Code        string `json:"code" validate:"omitempty,max=32"`
	Name        string `json:"name" validate:"required,max=200"`
	Category    string `json:"category" validate:"required"`
	Unit        string `json:"unit" validate:"required,max=20"`
	WarehouseID int64  `json:"warehouse_id" validate:"gte=0"`
	MinLevel    int    `json:"min_level" validate:"gte=0"`
	BinLocation string `json:"bin_location"`
	Note        string `json:"note"`
	Actor       string `json:"actor"`
}

type receiveRequest struct {
	Quantity   int             `json:"quantity" validate:"gt=0"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	SupplierID int64           `json:"supplier_id" validate:"gte=0"`
	Date       string          `json:"date" validate:"omitempty,datetime=2006-01-02"`
	Actor      string          `json:"actor" validate:"required"`
	Note       string          `json:"note"`
}

type issueRequest struct {
	Quantity   int    `json:"quantity" validate:"gt=0"`
	Recipient  string `json:"recipient" validate:"required"`
	Department string `json:"department"`
	Purpose    string `json:"purpose"`
	Date       string `json:"date" validate:"omitempty,datetime=2006-01-02"`
	Actor      string `json:"actor" validate:"required"`
}

type loanRequest struct {
	ItemID         int64  `json:"item_id" validate:"gt=0"`
	Quantity       int    `json:"quantity" validate:"gt=0"`
	Borrower       string `json:"borrower" validate:"required"`
	Approver       string `json:"approver" validate:"required"`
	BorrowedAt     string `json:"borrowed_at" validate:"omitempty,datetime=2006-01-02"`
	ExpectedReturn string `json:"expected_return" validate:"omitempty,datetime=2006-01-02"`
	ConditionOut   string `json:"condition_out"`
}

type returnRequest struct {
	Condition string `json:"condition" validate:"required,oneof=GOOD DAMAGED LOST"`
	Date      string `json:"date" validate:"omitempty,datetime=2006-01-02"`
	Actor     string `json:"actor"`
}

type countLineRequest struct {
	ItemID    int64  `json:"item_id" validate:"gt=0"`
	ActualQty int    `json:"actual_qty" validate:"gte=0"`
	Reason    string `json:"reason"`
}

type reconcileRequest struct {
	Date  string             `json:"date" validate:"omitempty,datetime=2006-01-02"`
	Actor string             `json:"actor" validate:"required"`
	Note  string             `json:"note"`
	Lines []countLineRequest `json:"lines" validate:"required,min=1,dive"`
}

type itemResponse struct {
	ID          int64     `json:"id"`
	Code        string    `json:"code"`
	Name        string    `json:"name"`
	Category    Category  `json:"category"`
	Unit        string    `json:"unit"`
	WarehouseID int64     `json:"warehouse_id,omitempty"`
	MinLevel    int       `json:"min_level"`
	OnHand      int       `json:"on_hand"`
	LowStock    bool      `json:"low_stock"`
	BinLocation string    `json:"bin_location,omitempty"`
	Note        string    `json:"note,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type loanResponse struct {
	ID              int64            `json:"id"`
	ItemID          int64            `json:"item_id"`
	Borrower        string           `json:"borrower"`
	Approver        string           `json:"approver"`
	Quantity        int              `json:"quantity"`
	BorrowedAt      string           `json:"borrowed_at"`
	ExpectedReturn  string           `json:"expected_return,omitempty"`
	ConditionOut    string           `json:"condition_out,omitempty"`
	Status          LoanStatus       `json:"status"`
	ReturnedAt      string           `json:"returned_at,omitempty"`
	ReturnCondition *ReturnCondition `json:"return_condition,omitempty"`
}

type returnResponse struct {
	Loan       loanResponse `json:"loan"`
	Restored   int          `json:"restored"`
	WrittenOff bool         `json:"written_off"`
}

type countLineResponse struct {
	ItemID    int64  `json:"item_id"`
	SystemQty int    `json:"system_qty"`
	ActualQty int    `json:"actual_qty"`
	Diff      int    `json:"diff"`
	Reason    string `json:"reason,omitempty"`
}

type skippedResponse struct {
	ItemID int64  `json:"item_id"`
	Error  string `json:"error"`
}

type reconcileResponse struct {
	ID      int64               `json:"id,omitempty"`
	Date    string              `json:"date"`
	Lines   []countLineResponse `json:"lines"`
	Skipped []skippedResponse   `json:"skipped"`
}

type countRecordResponse struct {
	ID    int64               `json:"id"`
	Date  string              `json:"date"`
	Actor string              `json:"actor"`
	Note  string              `json:"note,omitempty"`
	Lines []countLineResponse `json:"lines"`
}

type movementResponse struct {
	Kind       MovementKind     `json:"kind"`
	ID         int64            `json:"id"`
	ItemID     int64            `json:"item_id"`
	Quantity   int              `json:"quantity"`
	Date       string           `json:"date"`
	UnitPrice  *decimal.Decimal `json:"unit_price,omitempty"`
	Total      *decimal.Decimal `json:"total,omitempty"`
	SupplierID int64            `json:"supplier_id,omitempty"`
	Recipient  string           `json:"recipient,omitempty"`
	Department string           `json:"department,omitempty"`
	Purpose    string           `json:"purpose,omitempty"`
	Borrower   string           `json:"borrower,omitempty"`
	Approver   string           `json:"approver,omitempty"`
	Status     LoanStatus       `json:"status,omitempty"`
	Actor      string           `json:"actor,omitempty"`
	Note       string           `json:"note,omitempty"`
}

func (h *Handler) handleCreateItem(w http.ResponseWriter, r *http.Request) {
	var req createItemRequest
	if !h.decode(w, r, &req) {
		return
	}
	item, err := h.service.CreateItem(r.Context(), NewItemInput{
		Code:        req.Code,
		Name:        req.Name,
		Category:    Category(req.Category),
		Unit:        req.Unit,
		WarehouseID: req.WarehouseID,
		MinLevel:    req.MinLevel,
		BinLocation: req.BinLocation,
		Note:        req.Note,
		Actor:       req.Actor,
	})
	if err != nil {
		h.fail(w, "create item failed", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toItemResponse(item))
}

func (h *Handler) handleGetItem(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	item, err := h.service.GetItem(r.Context(), id)
	if err != nil {
		h.fail(w, "get item failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toItemResponse(item))
}

func (h *Handler) handleLowStock(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryLimit(w, r, 50)
	if !ok {
		return
	}
	items, err := h.service.ListLowStock(r.Context(), limit)
	if err != nil {
		h.fail(w, "list low stock failed", err)
		return
	}
	out := make([]itemResponse, 0, len(items))
	for _, item := range items {
		out = append(out, toItemResponse(item))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) handleReceive(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req receiveRequest
	if !h.decode(w, r, &req) {
		return
	}
	entry, err := h.service.Receive(r.Context(), ReceiveInput{
		ItemID:     id,
		Quantity:   req.Quantity,
		UnitPrice:  req.UnitPrice,
		SupplierID: req.SupplierID,
		Date:       parseDate(req.Date),
		Actor:      req.Actor,
		Note:       req.Note,
		RequestID:  r.Header.Get(IdempotencyHeader),
	})
	if err != nil {
		h.fail(w, "receive failed", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{
		"id":         entry.ID,
		"item_id":    entry.ItemID,
		"quantity":   entry.Quantity,
		"unit_price": entry.UnitPrice,
		"total":      entry.Total(),
		"date":       entry.Date.Format(dateLayout),
	})
}

func (h *Handler) handleIssue(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req issueRequest
	if !h.decode(w, r, &req) {
		return
	}
	entry, err := h.service.Issue(r.Context(), IssueInput{
		ItemID:     id,
		Quantity:   req.Quantity,
		Recipient:  req.Recipient,
		Department: req.Department,
		Purpose:    req.Purpose,
		Date:       parseDate(req.Date),
		Actor:      req.Actor,
		RequestID:  r.Header.Get(IdempotencyHeader),
	})
	if err != nil {
		h.fail(w, "issue failed", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{
		"id":        entry.ID,
		"item_id":   entry.ItemID,
		"quantity":  entry.Quantity,
		"recipient": entry.Recipient,
		"date":      entry.Date.Format(dateLayout),
	})
}

func (h *Handler) handleLoan(w http.ResponseWriter, r *http.Request) {
	var req loanRequest
	if !h.decode(w, r, &req) {
		return
	}
	input := LoanInput{
		ItemID:       req.ItemID,
		Quantity:     req.Quantity,
		Borrower:     req.Borrower,
		Approver:     req.Approver,
		BorrowedAt:   parseDate(req.BorrowedAt),
		ConditionOut: req.ConditionOut,
		RequestID:    r.Header.Get(IdempotencyHeader),
	}
	if req.ExpectedReturn != "" {
		expected := parseDate(req.ExpectedReturn)
		input.ExpectedReturn = &expected
	}
	loan, err := h.service.Loan(r.Context(), input)
	if err != nil {
		h.fail(w, "loan failed", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toLoanResponse(loan))
}

func (h *Handler) handleGetLoan(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	loan, err := h.service.GetLoan(r.Context(), id)
	if err != nil {
		h.fail(w, "get loan failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toLoanResponse(loan))
}

func (h *Handler) handleReturn(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req returnRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.service.ReturnLoan(r.Context(), ReturnInput{
		LoanID:    id,
		Date:      parseDate(req.Date),
		Condition: ReturnCondition(req.Condition),
		Actor:     req.Actor,
	})
	if err != nil {
		h.fail(w, "return loan failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, returnResponse{Loan: toLoanResponse(res.Loan), Restored: res.Restored, WrittenOff: res.WrittenOff})
}

func (h *Handler) handleReconcile(w http.ResponseWriter, r *http.Request) {
	var req reconcileRequest
	if !h.decode(w, r, &req) {
		return
	}
	input := ReconcileInput{Date: parseDate(req.Date), Actor: req.Actor, Note: req.Note}
	for _, line := range req.Lines {
		input.Lines = append(input.Lines, CountInput{ItemID: line.ItemID, ActualQty: line.ActualQty, Reason: line.Reason})
	}
	res, err := h.service.Reconcile(r.Context(), input)
	if err != nil {
		h.fail(w, "reconcile failed", err)
		return
	}
	out := reconcileResponse{
		ID:      res.Record.ID,
		Date:    res.Record.Date.Format(dateLayout),
		Lines:   make([]countLineResponse, 0, len(res.Record.Lines)),
		Skipped: make([]skippedResponse, 0, len(res.Skipped)),
	}
	for _, line := range res.Record.Lines {
		out.Lines = append(out.Lines, countLineResponse(line))
	}
	for _, skipped := range res.Skipped {
		out.Skipped = append(out.Skipped, skippedResponse{ItemID: skipped.ItemID, Error: skipped.Err.Error()})
	}
	status := http.StatusCreated
	if out.ID == 0 {
		status = http.StatusOK
	}
	httpx.JSON(w, status, out)
}

func (h *Handler) handleListLoans(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryLimit(w, r, 0)
	if !ok {
		return
	}
	loans, err := h.service.ListLoans(r.Context(), LoanStatus(r.URL.Query().Get("status")), limit)
	if err != nil {
		h.fail(w, "list loans failed", err)
		return
	}
	out := make([]loanResponse, 0, len(loans))
	for _, loan := range loans {
		out = append(out, toLoanResponse(loan))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) handleListCounts(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryLimit(w, r, 0)
	if !ok {
		return
	}
	records, err := h.service.ListCounts(r.Context(), limit)
	if err != nil {
		h.fail(w, "list counts failed", err)
		return
	}
	out := make([]countRecordResponse, 0, len(records))
	for _, record := range records {
		resp := countRecordResponse{
			ID:    record.ID,
			Date:  record.Date.Format(dateLayout),
			Actor: record.Actor,
			Note:  record.Note,
			Lines: make([]countLineResponse, 0, len(record.Lines)),
		}
		for _, line := range record.Lines {
			resp.Lines = append(resp.Lines, countLineResponse(line))
		}
		out = append(out, resp)
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) handleListMovements(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryLimit(w, r, 0)
	if !ok {
		return
	}
	query := r.URL.Query()
	filter := MovementFilter{Kind: MovementKind(query.Get("kind")), Limit: limit}
	if raw := query.Get("item_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "item_id must be a positive integer")
			return
		}
		filter.ItemID = id
	}
	for name, target := range map[string]*time.Time{"from": &filter.From, "to": &filter.To} {
		raw := query.Get(name)
		if raw == "" {
			continue
		}
		t, err := time.Parse(dateLayout, raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", name+" must be a yyyy-mm-dd date")
			return
		}
		*target = t
	}
	entries, err := h.service.ListMovements(r.Context(), filter)
	if err != nil {
		h.fail(w, "list movements failed", err)
		return
	}
	out := make([]movementResponse, 0, len(entries))
	for _, entry := range entries {
		out = append(out, toMovementResponse(entry))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	return httpx.Bind(w, r, h.validator, target)
}

func (h *Handler) fail(w http.ResponseWriter, msg string, err error) {
	if shared.IsClientError(err) {
		h.logger.Info(msg, slog.Any("error", err))
	} else {
		h.logger.Error(msg, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return 0, false
	}
	return id, true
}

// queryLimit reads an optional positive ?limit= value.
func queryLimit(w http.ResponseWriter, r *http.Request, fallback int) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "limit must be a positive integer")
		return 0, false
	}
	return n, true
}

// parseDate reads a validated yyyy-mm-dd value; empty means today.
func parseDate(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	t, _ := time.Parse(dateLayout, raw)
	return t
}

func formatOptionalDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(dateLayout)
}

func toItemResponse(item Item) itemResponse {
	return itemResponse{
		ID:          item.ID,
		Code:        item.Code,
		Name:        item.Name,
		Category:    item.Category,
		Unit:        item.Unit,
		WarehouseID: item.WarehouseID,
		MinLevel:    item.MinLevel,
		OnHand:      item.OnHand,
		LowStock:    item.LowStock(),
		BinLocation: item.BinLocation,
		Note:        item.Note,
		UpdatedAt:   item.UpdatedAt,
	}
}

func toLoanResponse(loan LoanRecord) loanResponse {
	return loanResponse{
		ID:              loan.ID,
		ItemID:          loan.ItemID,
		Borrower:        loan.Borrower,
		Approver:        loan.Approver,
		Quantity:        loan.Quantity,
		BorrowedAt:      loan.BorrowedAt.Format(dateLayout),
		ExpectedReturn:  formatOptionalDate(loan.ExpectedReturn),
		ConditionOut:    loan.ConditionOut,
		Status:          loan.Status,
		ReturnedAt:      formatOptionalDate(loan.ReturnedAt),
		ReturnCondition: loan.ReturnCondition,
	}
}

func toMovementResponse(entry HistoryEntry) movementResponse {
	out := movementResponse{Kind: entry.Kind, Date: entry.Date.Format(dateLayout)}
	switch {
	case entry.Receipt != nil:
		price, total := entry.Receipt.UnitPrice, entry.Receipt.Total()
		out.ID, out.ItemID, out.Quantity = entry.Receipt.ID, entry.Receipt.ItemID, entry.Receipt.Quantity
		out.UnitPrice, out.Total = &price, &total
		out.SupplierID = entry.Receipt.SupplierID
		out.Actor, out.Note = entry.Receipt.Actor, entry.Receipt.Note
	case entry.Issue != nil:
		out.ID, out.ItemID, out.Quantity = entry.Issue.ID, entry.Issue.ItemID, entry.Issue.Quantity
		out.Recipient, out.Department, out.Purpose = entry.Issue.Recipient, entry.Issue.Department, entry.Issue.Purpose
		out.Actor = entry.Issue.Actor
	case entry.Loan != nil:
		out.ID, out.ItemID, out.Quantity = entry.Loan.ID, entry.Loan.ItemID, entry.Loan.Quantity
		out.Borrower, out.Approver, out.Status = entry.Loan.Borrower, entry.Loan.Approver, entry.Loan.Status
		out.Note = entry.Loan.ConditionOut
	}
	return out
}
