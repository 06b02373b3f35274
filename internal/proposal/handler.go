package proposal

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockroom/internal/inventory"
	"github.com/odyssey-erp/stockroom/internal/platform/httpx"
	"github.com/odyssey-erp/stockroom/internal/shared"
)

// Handler wires HTTP endpoints for purchase proposals.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs proposal handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers proposal routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/proposals", func(r chi.Router) {
		r.Post("/", h.handleCreate)
		r.Get("/", h.handleList)
		r.Get("/{id}", h.handleGet)
		r.Put("/{id}", h.handleUpdate)
		r.Delete("/{id}", h.handleDelete)
		r.Post("/{id}/approve", h.handleApprove)
		r.Post("/{id}/reject", h.handleReject)
		r.Post("/{id}/purchase", h.handlePurchase)
		r.Get("/{id}/approvals", h.handleApprovals)
	})
}

type lineRequest struct {
	Name           string          `json:"name" validate:"required,max=200"`
	Category       string          `json:"category"`
	Unit           string          `json:"unit" validate:"max=20"`
	Quantity       int             `json:"quantity" validate:"gt=0"`
	EstimatedPrice decimal.Decimal `json:"estimated_price"`
	Reason         string          `json:"reason"`
}

type createRequest struct {
	Requester  string        `json:"requester" validate:"required"`
	Department string        `json:"department" validate:"required"`
	Priority   string        `json:"priority" validate:"omitempty,oneof=LOW NORMAL HIGH URGENT"`
	Reason     string        `json:"reason" validate:"required"`
	Note       string        `json:"note"`
	Lines      []lineRequest `json:"lines" validate:"required,min=1,dive"`
}

type updateRequest struct {
	Department string        `json:"department"`
	Priority   string        `json:"priority" validate:"omitempty,oneof=LOW NORMAL HIGH URGENT"`
	Reason     string        `json:"reason"`
	Note       string        `json:"note"`
	Lines      []lineRequest `json:"lines" validate:"required,min=1,dive"`
	Actor      string        `json:"actor"`
}

type decisionRequest struct {
	Approver string `json:"approver" validate:"required"`
	Reason   string `json:"reason"`
}

type purchaseRequest struct {
	Actor string `json:"actor"`
}

type lineResponse struct {
	Name           string             `json:"name"`
	Category       inventory.Category `json:"category"`
	Unit           string             `json:"unit"`
	Quantity       int                `json:"quantity"`
	EstimatedPrice decimal.Decimal    `json:"estimated_price"`
	Total          decimal.Decimal    `json:"total"`
	Reason         string             `json:"reason,omitempty"`
}

type proposalResponse struct {
	ID           int64           `json:"id"`
	Code         string          `json:"code"`
	Requester    string          `json:"requester"`
	Department   string          `json:"department"`
	Priority     Priority        `json:"priority"`
	Status       Status          `json:"status"`
	Reason       string          `json:"reason"`
	Note         string          `json:"note,omitempty"`
	Approver     string          `json:"approver,omitempty"`
	DecidedAt    *time.Time      `json:"decided_at,omitempty"`
	RejectReason string          `json:"reject_reason,omitempty"`
	PurchasedAt  *time.Time      `json:"purchased_at,omitempty"`
	Lines        []lineResponse  `json:"lines"`
	Total        decimal.Decimal `json:"total"`
	CreatedAt    time.Time       `json:"created_at"`
}

type approvalResponse struct {
	Action shared.ApprovalAction `json:"action"`
	Actor  string                `json:"actor"`
	Note   string                `json:"note,omitempty"`
	At     time.Time             `json:"at"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if !h.decode(w, r, &req) {
		return
	}
	p, err := h.service.Create(r.Context(), CreateInput{
		Requester:  req.Requester,
		Department: req.Department,
		Priority:   Priority(req.Priority),
		Reason:     req.Reason,
		Note:       req.Note,
		Lines:      toLineInputs(req.Lines),
	})
	if err != nil {
		h.fail(w, "create proposal failed", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toProposalResponse(p))
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "limit must be a positive integer")
			return
		}
		limit = n
	}
	proposals, err := h.service.List(r.Context(), Status(r.URL.Query().Get("status")), limit)
	if err != nil {
		h.fail(w, "list proposals failed", err)
		return
	}
	out := make([]proposalResponse, 0, len(proposals))
	for _, p := range proposals {
		out = append(out, toProposalResponse(p))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	p, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.fail(w, "get proposal failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toProposalResponse(p))
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req updateRequest
	if !h.decode(w, r, &req) {
		return
	}
	p, err := h.service.Update(r.Context(), id, UpdateInput{
		Department: req.Department,
		Priority:   Priority(req.Priority),
		Reason:     req.Reason,
		Note:       req.Note,
		Lines:      toLineInputs(req.Lines),
		Actor:      req.Actor,
	})
	if err != nil {
		h.fail(w, "update proposal failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toProposalResponse(p))
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), id, r.URL.Query().Get("actor")); err != nil {
		h.fail(w, "delete proposal failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req decisionRequest
	if !h.decode(w, r, &req) {
		return
	}
	p, err := h.service.Approve(r.Context(), id, req.Approver)
	if err != nil {
		h.fail(w, "approve proposal failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toProposalResponse(p))
}

func (h *Handler) handleReject(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req decisionRequest
	if !h.decode(w, r, &req) {
		return
	}
	p, err := h.service.Reject(r.Context(), id, req.Approver, req.Reason)
	if err != nil {
		h.fail(w, "reject proposal failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toProposalResponse(p))
}

func (h *Handler) handlePurchase(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req purchaseRequest
	if !h.decode(w, r, &req) {
		return
	}
	p, err := h.service.MarkPurchased(r.Context(), id, req.Actor)
	if err != nil {
		h.fail(w, "mark proposal purchased failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toProposalResponse(p))
}

func (h *Handler) handleApprovals(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	logs, err := h.service.Approvals(r.Context(), id)
	if err != nil {
		h.fail(w, "list approvals failed", err)
		return
	}
	out := make([]approvalResponse, 0, len(logs))
	for _, l := range logs {
		out = append(out, approvalResponse{Action: l.Action, Actor: l.Actor, Note: l.Note, At: l.At})
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

func toLineInputs(reqs []lineRequest) []LineInput {
	out := make([]LineInput, 0, len(reqs))
	for _, req := range reqs {
		out = append(out, LineInput{
			Name:           req.Name,
			Category:       inventory.Category(req.Category),
			Unit:           req.Unit,
			Quantity:       req.Quantity,
			EstimatedPrice: req.EstimatedPrice,
			Reason:         req.Reason,
		})
	}
	return out
}

func toProposalResponse(p Proposal) proposalResponse {
	out := proposalResponse{
		ID:           p.ID,
		Code:         p.Code,
		Requester:    p.Requester,
		Department:   p.Department,
		Priority:     p.Priority,
		Status:       p.Status,
		Reason:       p.Reason,
		Note:         p.Note,
		Approver:     p.Approver,
		DecidedAt:    p.DecidedAt,
		RejectReason: p.RejectReason,
		PurchasedAt:  p.PurchasedAt,
		Lines:        make([]lineResponse, 0, len(p.Lines)),
		Total:        p.Total(),
		CreatedAt:    p.CreatedAt,
	}
	for _, line := range p.Lines {
		out.Lines = append(out.Lines, lineResponse{
			Name:           line.Name,
			Category:       line.Category,
			Unit:           line.Unit,
			Quantity:       line.Quantity,
			EstimatedPrice: line.EstimatedPrice,
			Total:          line.Total(),
			Reason:         line.Reason,
		})
	}
	return out
}
