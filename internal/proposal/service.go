package proposal

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/stockroom/internal/inventory"
	"github.com/odyssey-erp/stockroom/internal/shared"
)

const (
	approvalModule = "PROPOSAL"
	moneyScale     = 2
	defaultUnit    = "pcs"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (Proposal, error)
	List(ctx context.Context, status Status, limit int) ([]Proposal, error)
}

// ApprovalPort keeps the decision trail of each proposal.
type ApprovalPort interface {
	Record(ctx context.Context, log shared.ApprovalLog) error
	List(ctx context.Context, module string, ref uuid.UUID) ([]shared.ApprovalLog, error)
	EnsureSubmit(ctx context.Context, module string, ref uuid.UUID, actor, note string) error
}

// AuditPort records mutations into the audit trail.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service runs the proposal workflow.
type Service struct {
	repo      RepositoryPort
	approvals ApprovalPort
	audit     AuditPort
	logger    *slog.Logger
	now       func() time.Time
}

// NewService builds Service. approvals and audit may be nil.
func NewService(repo RepositoryPort, approvals ApprovalPort, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, approvals: approvals, audit: audit, logger: logger, now: time.Now}
}

func buildLines(inputs []LineInput) ([]Line, error) {
	if len(inputs) == 0 {
		return nil, validationError("at least one line required")
	}
	lines := make([]Line, 0, len(inputs))
	for i, in := range inputs {
		if in.Name == "" {
			return nil, validationError(fmt.Sprintf("line %d: name required", i+1))
		}
		if in.Quantity <= 0 {
			return nil, validationError(fmt.Sprintf("line %d: quantity must be positive", i+1))
		}
		if in.EstimatedPrice.IsNegative() {
			return nil, validationError(fmt.Sprintf("line %d: estimated price must be >= 0", i+1))
		}
		if !in.EstimatedPrice.Equal(in.EstimatedPrice.Round(moneyScale)) {
			return nil, validationError(fmt.Sprintf("line %d: estimated price has more than 2 decimal places", i+1))
		}
		category := in.Category
		if category == "" {
			category = inventory.CategoryConsumable
		}
		if !category.Valid() {
			return nil, validationError(fmt.Sprintf("line %d: unknown category %q", i+1, in.Category))
		}
		unit := in.Unit
		if unit == "" {
			unit = defaultUnit
		}
		lines = append(lines, Line{
			Name:           in.Name,
			Category:       category,
			Unit:           unit,
			Quantity:       in.Quantity,
			EstimatedPrice: in.EstimatedPrice,
			Reason:         in.Reason,
		})
	}
	return lines, nil
}

// Create opens a PENDING proposal coded DX-<year>-NNNN, numbered per
// calendar year of creation.
func (s *Service) Create(ctx context.Context, input CreateInput) (Proposal, error) {
	if input.Requester == "" {
		return Proposal{}, validationError("requester required")
	}
	if input.Department == "" {
		return Proposal{}, validationError("department required")
	}
	if input.Reason == "" {
		return Proposal{}, validationError("reason required")
	}
	priority := input.Priority
	if priority == "" {
		priority = PriorityNormal
	}
	if !priority.Valid() {
		return Proposal{}, validationError(fmt.Sprintf("unknown priority %q", input.Priority))
	}
	lines, err := buildLines(input.Lines)
	if err != nil {
		return Proposal{}, err
	}
	year := s.now().UTC().Year()
	var created Proposal
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		seq, err := tx.NextSequence(ctx, year)
		if err != nil {
			return err
		}
		created, err = tx.Insert(ctx, Proposal{
			Code:       CodeFormat(year, seq),
			Requester:  input.Requester,
			Department: input.Department,
			Priority:   priority,
			Status:     StatusPending,
			Reason:     input.Reason,
			Note:       input.Note,
			Lines:      lines,
		})
		return err
	})
	if err != nil {
		return Proposal{}, err
	}
	if s.approvals != nil {
		if err := s.approvals.EnsureSubmit(ctx, approvalModule, shared.ApprovalRef(approvalModule, created.ID), created.Requester,
			fmt.Sprintf("proposal %s submitted", created.Code)); err != nil {
			s.logger.Warn("record approval", slog.String("code", created.Code), slog.Any("error", err))
		}
	}
	s.recordAudit(ctx, shared.AuditCreate, created, created.Requester,
		fmt.Sprintf("proposal %s created with %d lines", created.Code, len(created.Lines)))
	return created, nil
}

// Update replaces the content of a PENDING proposal.
func (s *Service) Update(ctx context.Context, id int64, input UpdateInput) (Proposal, error) {
	if input.Priority != "" && !input.Priority.Valid() {
		return Proposal{}, validationError(fmt.Sprintf("unknown priority %q", input.Priority))
	}
	lines, err := buildLines(input.Lines)
	if err != nil {
		return Proposal{}, err
	}
	var updated Proposal
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		p, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return fmt.Errorf("proposal %d: %w", id, err)
		}
		if !p.Status.Editable() {
			return invalidState(p, "edit")
		}
		if input.Department != "" {
			p.Department = input.Department
		}
		if input.Priority != "" {
			p.Priority = input.Priority
		}
		if input.Reason != "" {
			p.Reason = input.Reason
		}
		p.Note = input.Note
		p.Lines = lines
		if err := tx.Save(ctx, p); err != nil {
			return err
		}
		updated = p
		return nil
	})
	if err != nil {
		return Proposal{}, err
	}
	s.recordAudit(ctx, shared.AuditUpdate, updated, input.Actor, fmt.Sprintf("proposal %s updated", updated.Code))
	return updated, nil
}

// Approve moves a PENDING proposal to APPROVED.
func (s *Service) Approve(ctx context.Context, id int64, approver string) (Proposal, error) {
	if approver == "" {
		return Proposal{}, validationError("approver required")
	}
	p, err := s.decide(ctx, id, StatusApproved, "approve", func(p *Proposal, now time.Time) {
		p.Approver = approver
		p.DecidedAt = &now
	})
	if err != nil {
		return Proposal{}, err
	}
	s.recordApproval(ctx, p, approver, shared.ApprovalApprove, "")
	s.recordAudit(ctx, shared.AuditApprove, p, approver, fmt.Sprintf("proposal %s approved", p.Code))
	return p, nil
}

// Reject moves a PENDING proposal to REJECTED with the given reason.
func (s *Service) Reject(ctx context.Context, id int64, approver, reason string) (Proposal, error) {
	if approver == "" {
		return Proposal{}, validationError("approver required")
	}
	if reason == "" {
		return Proposal{}, validationError("reject reason required")
	}
	p, err := s.decide(ctx, id, StatusRejected, "reject", func(p *Proposal, now time.Time) {
		p.Approver = approver
		p.DecidedAt = &now
		p.RejectReason = reason
	})
	if err != nil {
		return Proposal{}, err
	}
	s.recordApproval(ctx, p, approver, shared.ApprovalReject, reason)
	s.recordAudit(ctx, shared.AuditReject, p, approver, fmt.Sprintf("proposal %s rejected: %s", p.Code, reason))
	return p, nil
}

// MarkPurchased moves an APPROVED proposal to PURCHASED.
func (s *Service) MarkPurchased(ctx context.Context, id int64, actor string) (Proposal, error) {
	p, err := s.decide(ctx, id, StatusPurchased, "mark purchased", func(p *Proposal, now time.Time) {
		p.PurchasedAt = &now
	})
	if err != nil {
		return Proposal{}, err
	}
	if actor == "" {
		actor = p.Approver
	}
	s.recordApproval(ctx, p, actor, shared.ApprovalFulfil, "")
	s.recordAudit(ctx, shared.AuditPurchase, p, actor, fmt.Sprintf("proposal %s purchased", p.Code))
	return p, nil
}

func (s *Service) decide(ctx context.Context, id int64, next Status, action string, apply func(*Proposal, time.Time)) (Proposal, error) {
	now := s.now().UTC()
	var out Proposal
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		p, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return fmt.Errorf("proposal %d: %w", id, err)
		}
		if !p.Status.CanTransition(next) {
			return invalidState(p, action)
		}
		p.Status = next
		apply(&p, now)
		if err := tx.Save(ctx, p); err != nil {
			return err
		}
		out = p
		return nil
	})
	return out, err
}

// Delete withdraws a PENDING or REJECTED proposal.
func (s *Service) Delete(ctx context.Context, id int64, actor string) error {
	var removed Proposal
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		p, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return fmt.Errorf("proposal %d: %w", id, err)
		}
		if !p.Status.Deletable() {
			return invalidState(p, "delete")
		}
		removed = p
		return tx.Delete(ctx, id)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, shared.AuditDelete, removed, actor, fmt.Sprintf("proposal %s deleted", removed.Code))
	return nil
}

// Get loads a proposal.
func (s *Service) Get(ctx context.Context, id int64) (Proposal, error) {
	p, err := s.repo.Get(ctx, id)
	if err != nil {
		return Proposal{}, fmt.Errorf("proposal %d: %w", id, err)
	}
	return p, nil
}

// List returns proposals newest first, optionally narrowed to one status.
func (s *Service) List(ctx context.Context, status Status, limit int) ([]Proposal, error) {
	if status != "" && !status.Valid() {
		return nil, validationError(fmt.Sprintf("unknown status %q", status))
	}
	return s.repo.List(ctx, status, limit)
}

// Approvals returns the decision trail of a proposal, oldest first.
func (s *Service) Approvals(ctx context.Context, id int64) ([]shared.ApprovalLog, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	if s.approvals == nil {
		return []shared.ApprovalLog{}, nil
	}
	return s.approvals.List(ctx, approvalModule, shared.ApprovalRef(approvalModule, id))
}

func (s *Service) recordApproval(ctx context.Context, p Proposal, actor string, action shared.ApprovalAction, note string) {
	if s.approvals == nil {
		return
	}
	err := s.approvals.Record(ctx, shared.ApprovalLog{
		Module: approvalModule,
		RefID:  shared.ApprovalRef(approvalModule, p.ID),
		Actor:  actor,
		Action: action,
		Note:   note,
	})
	if err != nil {
		s.logger.Warn("record approval", slog.String("code", p.Code), slog.Any("error", err))
	}
}

func (s *Service) recordAudit(ctx context.Context, action string, p Proposal, actor, description string) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		Action:      action,
		Description: description,
		Actor:       actor,
		Entity:      "proposal",
		EntityID:    strconv.FormatInt(p.ID, 10),
		Meta:        map[string]any{"code": p.Code, "status": string(p.Status), "total": p.Total().String()},
	})
	if err != nil {
		s.logger.Warn("record audit", slog.String("action", action), slog.Any("error", err))
	}
}
