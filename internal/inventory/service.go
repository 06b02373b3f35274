package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/stockroom/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	CodeLookup
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetItem(ctx context.Context, id int64) (Item, error)
	GetLoan(ctx context.Context, id int64) (LoanRecord, error)
	ListLowStock(ctx context.Context, limit int) ([]Item, error)
	ListMovements(ctx context.Context, filter MovementFilter) ([]HistoryEntry, error)
	ListCounts(ctx context.Context, limit int) ([]CountRecord, error)
	ListLoans(ctx context.Context, status LoanStatus, limit int) ([]LoanRecord, error)
}

// IdempotencyPort guards against replayed mutating requests.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key, module string) error
}

// AuditPort records mutations into the audit trail.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// MetricsObserver receives stock movement outcomes.
type MetricsObserver interface {
	ObserveMovement(kind string, qty int)
	ObserveRejection(kind, reason string)
}

// Service applies receipts, issues, loans, returns and physical counts.
type Service struct {
	repo        RepositoryPort
	codes       *CodeAllocator
	idempotency IdempotencyPort
	integration IntegrationHandler
	audit       AuditPort
	metrics     MetricsObserver
	logger      *slog.Logger
	now         func() time.Time
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	Sequence SequenceStore
	Audit    AuditPort
	Metrics  MetricsObserver
	Logger   *slog.Logger
}

const idempotencyModule = "inventory"

// moneyScale matches the NUMERIC(18,2) price columns.
const moneyScale = 2

// NewService builds Service. idem and integration may be nil.
func NewService(repo RepositoryPort, idem IdempotencyPort, cfg ServiceConfig, integration IntegrationHandler) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:        repo,
		codes:       NewCodeAllocator(repo, cfg.Sequence),
		idempotency: idem,
		integration: integration,
		audit:       cfg.Audit,
		metrics:     cfg.Metrics,
		logger:      logger,
		now:         time.Now,
	}
}

// CodeAllocator exposes the allocator backing CreateItem.
func (s *Service) CodeAllocator() *CodeAllocator {
	return s.codes
}

// createAttempts bounds retries when an allocated code is taken between
// allocation and insert.
const createAttempts = 3

// CreateItem registers a catalog item with zero stock. An empty code is
// allocated from the category prefix; a supplied code must be free.
func (s *Service) CreateItem(ctx context.Context, input NewItemInput) (Item, error) {
	if input.Name == "" || input.Unit == "" {
		return Item{}, validationError("name and unit required")
	}
	if !input.Category.Valid() {
		return Item{}, validationError(fmt.Sprintf("unknown category %q", input.Category))
	}
	if input.MinLevel < 0 {
		return Item{}, validationError("min level must be >= 0")
	}
	manual := input.Code != ""
	for attempt := 0; attempt < createAttempts; attempt++ {
		var code string
		var err error
		if manual {
			code, err = s.codes.CheckManual(ctx, input.Code)
		} else {
			code, err = s.codes.Allocate(ctx, input.Category)
		}
		if err != nil {
			return Item{}, err
		}
		item := Item{
			Code:        code,
			Name:        input.Name,
			Category:    input.Category,
			Unit:        input.Unit,
			WarehouseID: input.WarehouseID,
			MinLevel:    input.MinLevel,
			BinLocation: input.BinLocation,
			Note:        input.Note,
		}
		err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			created, err := tx.InsertItem(ctx, item)
			if err != nil {
				return err
			}
			item = created
			return nil
		})
		if err == nil {
			s.recordAudit(ctx, shared.AuditCreate, "item", item.ID, input.Actor,
				fmt.Sprintf("item %s registered", item.Code), map[string]any{"category": item.Category})
			return item, nil
		}
		if manual || !errors.Is(err, shared.ErrDuplicateCode) {
			return Item{}, err
		}
	}
	return Item{}, fmt.Errorf("inventory: create item %s: %w", input.Category, shared.ErrAllocationExhausted)
}

// GetItem loads an item.
func (s *Service) GetItem(ctx context.Context, id int64) (Item, error) {
	item, err := s.repo.GetItem(ctx, id)
	if err != nil {
		return Item{}, fmt.Errorf("inventory: item %d: %w", id, err)
	}
	return item, nil
}

// ItemExists reports whether id resolves to an item.
func (s *Service) ItemExists(ctx context.Context, id int64) (bool, error) {
	_, err := s.repo.GetItem(ctx, id)
	if errors.Is(err, shared.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// GetLoan loads a loan.
func (s *Service) GetLoan(ctx context.Context, id int64) (LoanRecord, error) {
	loan, err := s.repo.GetLoan(ctx, id)
	if err != nil {
		return LoanRecord{}, fmt.Errorf("inventory: loan %d: %w", id, err)
	}
	return loan, nil
}

// ListLowStock lists items whose on-hand quantity is at or below their minimum level.
func (s *Service) ListLowStock(ctx context.Context, limit int) ([]Item, error) {
	return s.repo.ListLowStock(ctx, limit)
}

const (
	defaultHistoryLimit = 100
	maxHistoryLimit     = 500
)

func historyLimit(n int) int {
	if n <= 0 {
		return defaultHistoryLimit
	}
	if n > maxHistoryLimit {
		return maxHistoryLimit
	}
	return n
}

// ListMovements returns receipts, issues and loans newest first.
func (s *Service) ListMovements(ctx context.Context, filter MovementFilter) ([]HistoryEntry, error) {
	if filter.Kind != "" && !filter.Kind.Valid() {
		return nil, validationError(fmt.Sprintf("unknown movement kind %q", filter.Kind))
	}
	if !filter.From.IsZero() {
		filter.From = dateOnly(filter.From)
	}
	if !filter.To.IsZero() {
		filter.To = dateOnly(filter.To)
	}
	if !filter.From.IsZero() && !filter.To.IsZero() && filter.To.Before(filter.From) {
		return nil, validationError("history range ends before it starts")
	}
	filter.Limit = historyLimit(filter.Limit)
	entries, err := s.repo.ListMovements(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("inventory: list movements: %w", err)
	}
	return entries, nil
}

// ListCounts returns saved physical counts newest first.
func (s *Service) ListCounts(ctx context.Context, limit int) ([]CountRecord, error) {
	records, err := s.repo.ListCounts(ctx, historyLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("inventory: list counts: %w", err)
	}
	return records, nil
}

// ListLoans returns loans in status, or all loans when status is empty.
func (s *Service) ListLoans(ctx context.Context, status LoanStatus, limit int) ([]LoanRecord, error) {
	if status != "" && !status.Valid() {
		return nil, validationError(fmt.Sprintf("unknown loan status %q", status))
	}
	loans, err := s.repo.ListLoans(ctx, status, historyLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("inventory: list loans: %w", err)
	}
	return loans, nil
}

// Receive books a stock-in and raises on-hand stock.
func (s *Service) Receive(ctx context.Context, input ReceiveInput) (ReceiptEntry, error) {
	if input.ItemID <= 0 {
		return ReceiptEntry{}, validationError("item required")
	}
	if input.Quantity <= 0 {
		return ReceiptEntry{}, validationError("quantity must be positive")
	}
	if input.UnitPrice.IsNegative() {
		return ReceiptEntry{}, validationError("unit price must be >= 0")
	}
	if !input.UnitPrice.Equal(input.UnitPrice.Round(moneyScale)) {
		return ReceiptEntry{}, validationError("unit price has more than 2 decimal places")
	}
	if input.Actor == "" {
		return ReceiptEntry{}, validationError("actor required")
	}
	release, err := s.claim(ctx, "receive", input.RequestID)
	if err != nil {
		return ReceiptEntry{}, err
	}
	var entry ReceiptEntry
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := NewLedger(tx).Increase(ctx, input.ItemID, input.Quantity); err != nil {
			return err
		}
		entry, err = tx.AppendReceipt(ctx, ReceiptEntry{
			ItemID:     input.ItemID,
			Quantity:   input.Quantity,
			UnitPrice:  input.UnitPrice,
			Date:       s.day(input.Date),
			SupplierID: input.SupplierID,
			Actor:      input.Actor,
			Note:       input.Note,
		})
		return err
	})
	if err != nil {
		release()
		s.reject("receive", err)
		return ReceiptEntry{}, err
	}
	s.observe("receive", entry.Quantity)
	s.recordAudit(ctx, shared.AuditImport, "item", entry.ItemID, entry.Actor,
		fmt.Sprintf("received %d", entry.Quantity), map[string]any{"receipt_id": entry.ID, "unit_price": entry.UnitPrice.String()})
	return entry, nil
}

// Issue books a permanent stock-out. *InsufficientStockError is returned
// unchanged when stock does not cover the quantity.
func (s *Service) Issue(ctx context.Context, input IssueInput) (IssueEntry, error) {
	if input.ItemID <= 0 {
		return IssueEntry{}, validationError("item required")
	}
	if input.Quantity <= 0 {
		return IssueEntry{}, validationError("quantity must be positive")
	}
	if input.Recipient == "" || input.Actor == "" {
		return IssueEntry{}, validationError("recipient and actor required")
	}
	release, err := s.claim(ctx, "issue", input.RequestID)
	if err != nil {
		return IssueEntry{}, err
	}
	var entry IssueEntry
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := NewLedger(tx).Decrease(ctx, input.ItemID, input.Quantity); err != nil {
			return err
		}
		entry, err = tx.AppendIssue(ctx, IssueEntry{
			ItemID:     input.ItemID,
			Quantity:   input.Quantity,
			Date:       s.day(input.Date),
			Recipient:  input.Recipient,
			Department: input.Department,
			Purpose:    input.Purpose,
			Actor:      input.Actor,
		})
		return err
	})
	if err != nil {
		release()
		s.reject("issue", err)
		return IssueEntry{}, err
	}
	s.observe("issue", entry.Quantity)
	s.recordAudit(ctx, shared.AuditExport, "item", entry.ItemID, entry.Actor,
		fmt.Sprintf("issued %d to %s", entry.Quantity, entry.Recipient), map[string]any{"issue_id": entry.ID})
	return entry, nil
}

// Loan lends stock out; the loan starts ON_LOAN.
func (s *Service) Loan(ctx context.Context, input LoanInput) (LoanRecord, error) {
	if input.ItemID <= 0 {
		return LoanRecord{}, validationError("item required")
	}
	if input.Quantity <= 0 {
		return LoanRecord{}, validationError("quantity must be positive")
	}
	if input.Borrower == "" || input.Approver == "" {
		return LoanRecord{}, validationError("borrower and approver required")
	}
	borrowedAt := s.day(input.BorrowedAt)
	if input.ExpectedReturn != nil && input.ExpectedReturn.Before(borrowedAt) {
		return LoanRecord{}, validationError("expected return before borrow date")
	}
	release, err := s.claim(ctx, "loan", input.RequestID)
	if err != nil {
		return LoanRecord{}, err
	}
	var loan LoanRecord
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := NewLedger(tx).Decrease(ctx, input.ItemID, input.Quantity); err != nil {
			return err
		}
		loan, err = tx.InsertLoan(ctx, LoanRecord{
			ItemID:         input.ItemID,
			Borrower:       input.Borrower,
			Approver:       input.Approver,
			Quantity:       input.Quantity,
			BorrowedAt:     borrowedAt,
			ExpectedReturn: input.ExpectedReturn,
			ConditionOut:   input.ConditionOut,
			Status:         LoanStatusOnLoan,
		})
		return err
	})
	if err != nil {
		release()
		s.reject("loan", err)
		return LoanRecord{}, err
	}
	s.observe("loan", loan.Quantity)
	s.recordAudit(ctx, shared.AuditBorrow, "loan", loan.ID, loan.Approver,
		fmt.Sprintf("%s borrowed %d", loan.Borrower, loan.Quantity), map[string]any{"item_id": loan.ItemID})
	return loan, nil
}

// ReturnLoan closes a loan. Stock is restored unless the condition is LOST,
// in which case the quantity stays written off and a WriteOffEvent is emitted.
// Returning a loan twice fails with shared.ErrInvalidState and changes nothing.
func (s *Service) ReturnLoan(ctx context.Context, input ReturnInput) (ReturnResult, error) {
	if input.LoanID <= 0 {
		return ReturnResult{}, validationError("loan required")
	}
	if !input.Condition.Valid() {
		return ReturnResult{}, validationError(fmt.Sprintf("unknown return condition %q", input.Condition))
	}
	returnedAt := s.day(input.Date)
	var result ReturnResult
	var itemCode string
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		loan, err := tx.GetLoanForUpdate(ctx, input.LoanID)
		if err != nil {
			return fmt.Errorf("inventory: loan %d: %w", input.LoanID, err)
		}
		if loan.Status != LoanStatusOnLoan {
			return fmt.Errorf("inventory: loan %d is %s: %w", loan.ID, loan.Status, shared.ErrInvalidState)
		}
		if returnedAt.Before(loan.BorrowedAt) {
			return validationError("return date before borrow date")
		}
		if input.Condition.RestoresStock() {
			mv, err := NewLedger(tx).Increase(ctx, loan.ItemID, loan.Quantity)
			if err != nil {
				return err
			}
			result.Restored = loan.Quantity
			itemCode = mv.Item.Code
		} else {
			item, err := tx.GetItemForUpdate(ctx, loan.ItemID)
			if err == nil {
				itemCode = item.Code
			}
			result.WrittenOff = true
		}
		condition := input.Condition
		loan.Status = LoanStatusReturned
		loan.ReturnedAt = &returnedAt
		loan.ReturnCondition = &condition
		if err := tx.SaveLoan(ctx, loan); err != nil {
			return err
		}
		result.Loan = loan
		return nil
	})
	if err != nil {
		s.reject("return", err)
		return ReturnResult{}, err
	}
	s.observe("return", result.Restored)
	action := shared.AuditReturn
	if result.WrittenOff {
		action = shared.AuditWriteOff
	}
	s.recordAudit(ctx, action, "loan", result.Loan.ID, input.Actor,
		fmt.Sprintf("loan returned %s", input.Condition), map[string]any{"item_id": result.Loan.ItemID, "restored": result.Restored})
	if result.WrittenOff && s.integration != nil {
		evt := WriteOffEvent{
			LoanID:   result.Loan.ID,
			ItemID:   result.Loan.ItemID,
			ItemCode: itemCode,
			Quantity: result.Loan.Quantity,
			Borrower: result.Loan.Borrower,
			Date:     returnedAt,
		}
		if err := s.integration.HandleInventoryWriteOff(ctx, evt); err != nil {
			s.logger.Warn("inventory write-off hook", slog.Int64("loan_id", evt.LoanID), slog.Any("error", err))
		}
	}
	return result, nil
}

// Reconcile overwrites on-hand stock with counted quantities. Lines naming
// unknown items are skipped and reported; the count record keeps the lines
// that applied. No record is saved when nothing applied.
func (s *Service) Reconcile(ctx context.Context, input ReconcileInput) (ReconcileResult, error) {
	if input.Actor == "" {
		return ReconcileResult{}, validationError("actor required")
	}
	if len(input.Lines) == 0 {
		return ReconcileResult{}, validationError("count lines required")
	}
	seen := make(map[int64]struct{}, len(input.Lines))
	ids := make([]int64, 0, len(input.Lines))
	for _, line := range input.Lines {
		if line.ItemID <= 0 {
			return ReconcileResult{}, validationError("item required on every line")
		}
		if line.ActualQty < 0 {
			return ReconcileResult{}, validationError(fmt.Sprintf("item %d: actual quantity must not be negative", line.ItemID))
		}
		if _, dup := seen[line.ItemID]; dup {
			return ReconcileResult{}, validationError(fmt.Sprintf("item %d counted twice", line.ItemID))
		}
		seen[line.ItemID] = struct{}{}
		ids = append(ids, line.ItemID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var result ReconcileResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		result = ReconcileResult{}
		// Lock rows in id order so concurrent counts cannot deadlock.
		missing := make(map[int64]error)
		for _, id := range ids {
			if _, err := tx.GetItemForUpdate(ctx, id); err != nil {
				if !errors.Is(err, shared.ErrNotFound) {
					return err
				}
				missing[id] = notFound("item", id)
			}
		}
		ledger := NewLedger(tx)
		record := CountRecord{Date: s.day(input.Date), Actor: input.Actor, Note: input.Note}
		for _, line := range input.Lines {
			if err, skip := missing[line.ItemID]; skip {
				result.Skipped = append(result.Skipped, SkippedLine{ItemID: line.ItemID, Err: err})
				continue
			}
			mv, err := ledger.Overwrite(ctx, line.ItemID, line.ActualQty)
			if err != nil {
				return err
			}
			record.Lines = append(record.Lines, CountLine{
				ItemID:    line.ItemID,
				SystemQty: mv.Before,
				ActualQty: mv.After,
				Diff:      mv.Diff(),
				Reason:    line.Reason,
			})
		}
		if len(record.Lines) == 0 {
			result.Record = record
			return nil
		}
		saved, err := tx.AppendCountRecord(ctx, record)
		if err != nil {
			return err
		}
		result.Record = saved
		return nil
	})
	if err != nil {
		s.reject("count", err)
		return ReconcileResult{}, err
	}
	if result.Record.ID != 0 {
		s.observe("count", 0)
		s.recordAudit(ctx, shared.AuditAdjust, "count", result.Record.ID, input.Actor,
			fmt.Sprintf("reconciled %d lines", len(result.Record.Lines)), map[string]any{"skipped": len(result.Skipped)})
	}
	return result, nil
}

func (s *Service) observe(kind string, qty int) {
	if s.metrics != nil {
		s.metrics.ObserveMovement(kind, qty)
	}
}

func (s *Service) reject(kind string, err error) {
	if s.metrics != nil {
		s.metrics.ObserveRejection(kind, rejectionReason(err))
	}
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, shared.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, shared.ErrValidation):
		return "validation"
	case errors.Is(err, shared.ErrNotFound):
		return "not_found"
	case errors.Is(err, shared.ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, shared.ErrIdempotencyConflict):
		return "duplicate_request"
	default:
		return "error"
	}
}

func (s *Service) recordAudit(ctx context.Context, action, entity string, entityID int64, actor, description string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		Action:      action,
		Description: description,
		Actor:       actor,
		Entity:      entity,
		EntityID:    strconv.FormatInt(entityID, 10),
		Meta:        meta,
	})
	if err != nil {
		s.logger.Warn("record audit", slog.String("action", action), slog.Any("error", err))
	}
}

// claim reserves requestID for kind and returns a func that frees it again.
func (s *Service) claim(ctx context.Context, kind, requestID string) (func(), error) {
	noop := func() {}
	if requestID == "" || s.idempotency == nil {
		return noop, nil
	}
	if _, err := uuid.Parse(requestID); err != nil {
		return noop, validationError("request id must be a uuid")
	}
	key := kind + ":" + requestID
	if err := s.idempotency.CheckAndInsert(ctx, key, idempotencyModule); err != nil {
		return noop, err
	}
	return func() {
		if err := s.idempotency.Delete(context.WithoutCancel(ctx), key, idempotencyModule); err != nil {
			s.logger.Warn("release idempotency key", slog.String("key", key), slog.Any("error", err))
		}
	}, nil
}

func (s *Service) day(t time.Time) time.Time {
	if t.IsZero() {
		t = s.now()
	}
	return dateOnly(t)
}
