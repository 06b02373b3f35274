package maintenance

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

const dateLayout = "2006-01-02"

// Handler wires HTTP endpoints for maintenance schedules.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs maintenance handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers maintenance routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/maintenance", func(r chi.Router) {
		r.Post("/", h.handleCreate)
		r.Get("/due", h.handleDue)
		r.Get("/{id}", h.handleGet)
		r.Delete("/{id}", h.handleDelete)
		r.Post("/{id}/complete", h.handleComplete)
		r.Get("/{id}/logs", h.handleLogs)
	})
}

type createRequest struct {
	ItemID      int64  `json:"item_id" validate:"gt=0"`
	Kind        string `json:"kind" validate:"required,oneof=ROUTINE INSPECTION REPLACEMENT REPAIR"`
	Frequency   string `json:"frequency" validate:"required,oneof=WEEKLY MONTHLY QUARTERLY YEARLY ONCE"`
	Description string `json:"description"`
	AssignedTo  string `json:"assigned_to"`
	StartDue    string `json:"start_due" validate:"required,datetime=2006-01-02"`
	Actor       string `json:"actor"`
}

type completeRequest struct {
	Date      string           `json:"date" validate:"omitempty,datetime=2006-01-02"`
	Performer string           `json:"performer" validate:"required"`
	Result    string           `json:"result"`
	Cost      *decimal.Decimal `json:"cost"`
}

type scheduleResponse struct {
	ID          int64     `json:"id"`
	ItemID      int64     `json:"item_id"`
	Kind        Kind      `json:"kind"`
	Frequency   Frequency `json:"frequency"`
	Description string    `json:"description,omitempty"`
	AssignedTo  string    `json:"assigned_to,omitempty"`
	LastDone    string    `json:"last_done,omitempty"`
	NextDue     string    `json:"next_due"`
	Status      Status    `json:"status"`
}

type logResponse struct {
	ID         int64            `json:"id"`
	ScheduleID int64            `json:"schedule_id"`
	ItemID     int64            `json:"item_id"`
	Date       string           `json:"date"`
	Performer  string           `json:"performer"`
	Result     string           `json:"result,omitempty"`
	Cost       *decimal.Decimal `json:"cost,omitempty"`
	NextDue    string           `json:"next_due,omitempty"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if !h.decode(w, r, &req) {
		return
	}
	start, _ := time.Parse(dateLayout, req.StartDue)
	schedule, err := h.service.Create(r.Context(), CreateInput{
		ItemID:      req.ItemID,
		Kind:        Kind(req.Kind),
		Frequency:   Frequency(req.Frequency),
		Description: req.Description,
		AssignedTo:  req.AssignedTo,
		StartDue:    start,
		Actor:       req.Actor,
	})
	if err != nil {
		h.fail(w, "create schedule failed", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, h.toScheduleResponse(schedule, time.Now()))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	schedule, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.fail(w, "get schedule failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, h.toScheduleResponse(schedule, time.Now()))
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), id, r.URL.Query().Get("actor")); err != nil {
		h.fail(w, "delete schedule failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleComplete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req completeRequest
	if !h.decode(w, r, &req) {
		return
	}
	var date time.Time
	if req.Date != "" {
		date, _ = time.Parse(dateLayout, req.Date)
	}
	entry, err := h.service.Complete(r.Context(), CompleteInput{
		ScheduleID: id,
		Date:       date,
		Performer:  req.Performer,
		Result:     req.Result,
		Cost:       req.Cost,
	})
	if err != nil {
		h.fail(w, "complete schedule failed", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toLogResponse(entry))
}

func (h *Handler) handleLogs(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	logs, err := h.service.Logs(r.Context(), id)
	if err != nil {
		h.fail(w, "list logs failed", err)
		return
	}
	out := make([]logResponse, 0, len(logs))
	for _, entry := range logs {
		out = append(out, toLogResponse(entry))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) handleDue(w http.ResponseWriter, r *http.Request) {
	today := time.Now()
	if raw := r.URL.Query().Get("today"); raw != "" {
		parsed, err := time.Parse(dateLayout, raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "today must be yyyy-mm-dd")
			return
		}
		today = parsed
	}
	due, err := h.service.ListDue(r.Context(), today, 200)
	if err != nil {
		h.fail(w, "list due failed", err)
		return
	}
	out := make([]scheduleResponse, 0, len(due))
	for _, item := range due {
		out = append(out, h.toScheduleResponse(item.Schedule, today))
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

func (h *Handler) toScheduleResponse(s Schedule, today time.Time) scheduleResponse {
	out := scheduleResponse{
		ID:          s.ID,
		ItemID:      s.ItemID,
		Kind:        s.Kind,
		Frequency:   s.Frequency,
		Description: s.Description,
		AssignedTo:  s.AssignedTo,
		NextDue:     s.NextDue.Format(dateLayout),
		Status:      DueStatus(s.NextDue, today),
	}
	if s.LastDone != nil {
		out.LastDone = s.LastDone.Format(dateLayout)
	}
	return out
}

func toLogResponse(entry LogEntry) logResponse {
	out := logResponse{
		ID:         entry.ID,
		ScheduleID: entry.ScheduleID,
		ItemID:     entry.ItemID,
		Date:       entry.Date.Format(dateLayout),
		Performer:  entry.Performer,
		Result:     entry.Result,
		Cost:       entry.Cost,
	}
	if entry.NextDue != nil {
		out.NextDue = entry.NextDue.Format(dateLayout)
	}
	return out
}
