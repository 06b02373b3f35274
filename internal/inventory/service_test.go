package inventory

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockroom/internal/shared"
)

type recordingIntegration struct {
	mu     sync.Mutex
	events []WriteOffEvent
	err    error
}

func (r *recordingIntegration) HandleInventoryWriteOff(ctx context.Context, evt WriteOffEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return r.err
}

func newTestService(t *testing.T) (*Service, *MemoryRepository) {
	t.Helper()
	repo := NewMemoryRepository()
	return NewService(repo, nil, ServiceConfig{}, nil), repo
}

func mustCreateItem(t *testing.T, svc *Service, category Category, minLevel int) Item {
	t.Helper()
	item, err := svc.CreateItem(context.Background(), NewItemInput{
		Name:     "Item " + string(category),
		Category: category,
		Unit:     "pcs",
		MinLevel: minLevel,
	})
	require.NoError(t, err)
	return item
}

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestStockLifecycle(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	item := mustCreateItem(t, svc, CategoryConsumable, 5)
	require.Equal(t, "VT-0001", item.Code)
	require.Zero(t, item.OnHand)

	_, err := svc.Receive(ctx, ReceiveInput{ItemID: item.ID, Quantity: 50, UnitPrice: decimal.NewFromInt(10), Actor: "warehouse"})
	require.NoError(t, err)

	_, err = svc.Issue(ctx, IssueInput{ItemID: item.ID, Quantity: 30, Recipient: "line 2", Actor: "warehouse"})
	require.NoError(t, err)
	got, err := svc.GetItem(ctx, item.ID)
	require.NoError(t, err)
	require.Equal(t, 20, got.OnHand)

	_, err = svc.Issue(ctx, IssueInput{ItemID: item.ID, Quantity: 25, Recipient: "line 2", Actor: "warehouse"})
	var short *InsufficientStockError
	require.ErrorAs(t, err, &short)
	require.ErrorIs(t, err, shared.ErrInsufficientStock)
	require.Equal(t, 20, short.OnHand)
	require.Equal(t, 25, short.Requested)
	got, err = svc.GetItem(ctx, item.ID)
	require.NoError(t, err)
	require.Equal(t, 20, got.OnHand)

	loan, err := svc.Loan(ctx, LoanInput{ItemID: item.ID, Quantity: 5, Borrower: "an", Approver: "binh"})
	require.NoError(t, err)
	require.Equal(t, LoanStatusOnLoan, loan.Status)
	got, _ = svc.GetItem(ctx, item.ID)
	require.Equal(t, 15, got.OnHand)

	res, err := svc.ReturnLoan(ctx, ReturnInput{LoanID: loan.ID, Condition: ConditionGood})
	require.NoError(t, err)
	require.Equal(t, 5, res.Restored)
	require.Equal(t, LoanStatusReturned, res.Loan.Status)
	got, _ = svc.GetItem(ctx, item.ID)
	require.Equal(t, 20, got.OnHand)

	rec, err := svc.Reconcile(ctx, ReconcileInput{Actor: "auditor", Lines: []CountInput{{ItemID: item.ID, ActualQty: 18, Reason: "worn out"}}})
	require.NoError(t, err)
	require.Empty(t, rec.Skipped)
	require.Len(t, rec.Record.Lines, 1)
	line := rec.Record.Lines[0]
	require.Equal(t, 20, line.SystemQty)
	require.Equal(t, 18, line.ActualQty)
	require.Equal(t, -2, line.Diff)
	got, _ = svc.GetItem(ctx, item.ID)
	require.Equal(t, 18, got.OnHand)

	require.Len(t, repo.Receipts(), 1)
	require.Len(t, repo.Issues(), 1)
	require.Len(t, repo.Counts(), 1)
	require.True(t, repo.Receipts()[0].Total().Equal(decimal.NewFromInt(500)))
}

func TestIssueRejectsInvalidInput(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	item := mustCreateItem(t, svc, CategoryConsumable, 0)

	_, err := svc.Issue(ctx, IssueInput{ItemID: item.ID, Quantity: 0, Recipient: "x", Actor: "y"})
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = svc.Issue(ctx, IssueInput{ItemID: item.ID, Quantity: 1, Actor: "y"})
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = svc.Issue(ctx, IssueInput{ItemID: 999, Quantity: 1, Recipient: "x", Actor: "y"})
	require.ErrorIs(t, err, shared.ErrNotFound)
	_, err = svc.Receive(ctx, ReceiveInput{ItemID: item.ID, Quantity: 1, UnitPrice: decimal.NewFromInt(-1), Actor: "y"})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestReceiveRejectsSubCentPrices(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	item := mustCreateItem(t, svc, CategoryConsumable, 0)

	_, err := svc.Receive(ctx, ReceiveInput{ItemID: item.ID, Quantity: 1, UnitPrice: decimal.RequireFromString("10.005"), Actor: "wh"})
	require.ErrorIs(t, err, shared.ErrValidation)
	got, _ := svc.GetItem(ctx, item.ID)
	require.Zero(t, got.OnHand)

	entry, err := svc.Receive(ctx, ReceiveInput{ItemID: item.ID, Quantity: 1, UnitPrice: decimal.RequireFromString("10.500"), Actor: "wh"})
	require.NoError(t, err)
	require.True(t, entry.UnitPrice.Equal(decimal.RequireFromString("10.5")))
	require.Len(t, repo.Receipts(), 1)
}

func TestReconcileRejectsUnstorableQuantity(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	item := mustCreateItem(t, svc, CategoryConsumable, 0)

	_, err := svc.Reconcile(ctx, ReconcileInput{Actor: "a", Lines: []CountInput{{ItemID: item.ID, ActualQty: math.MaxInt32 + 1}}})
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Empty(t, repo.Counts())
}

func TestReturnLostWritesOff(t *testing.T) {
	repo := NewMemoryRepository()
	hook := &recordingIntegration{err: errors.New("alert channel down")}
	svc := NewService(repo, nil, ServiceConfig{}, hook)
	ctx := context.Background()
	item := mustCreateItem(t, svc, CategoryMechanicalTool, 0)
	_, err := svc.Receive(ctx, ReceiveInput{ItemID: item.ID, Quantity: 10, Actor: "wh"})
	require.NoError(t, err)
	loan, err := svc.Loan(ctx, LoanInput{ItemID: item.ID, Quantity: 4, Borrower: "chi", Approver: "dung", BorrowedAt: day("2024-03-01")})
	require.NoError(t, err)

	res, err := svc.ReturnLoan(ctx, ReturnInput{LoanID: loan.ID, Date: day("2024-03-05"), Condition: ConditionLost})
	require.NoError(t, err)
	require.True(t, res.WrittenOff)
	require.Zero(t, res.Restored)
	require.Equal(t, ConditionLost, *res.Loan.ReturnCondition)

	got, _ := svc.GetItem(ctx, item.ID)
	require.Equal(t, 6, got.OnHand)
	require.Len(t, hook.events, 1)
	require.Equal(t, WriteOffEvent{LoanID: loan.ID, ItemID: item.ID, ItemCode: "DC-CK-0001", Quantity: 4, Borrower: "chi", Date: day("2024-03-05")}, hook.events[0])
}

func TestReturnTwiceFails(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	item := mustCreateItem(t, svc, CategoryElectricDevice, 0)
	_, err := svc.Receive(ctx, ReceiveInput{ItemID: item.ID, Quantity: 3, Actor: "wh"})
	require.NoError(t, err)
	loan, err := svc.Loan(ctx, LoanInput{ItemID: item.ID, Quantity: 3, Borrower: "a", Approver: "b"})
	require.NoError(t, err)

	_, err = svc.ReturnLoan(ctx, ReturnInput{LoanID: loan.ID, Condition: ConditionDamaged})
	require.NoError(t, err)
	_, err = svc.ReturnLoan(ctx, ReturnInput{LoanID: loan.ID, Condition: ConditionGood})
	require.ErrorIs(t, err, shared.ErrInvalidState)

	got, _ := svc.GetItem(ctx, item.ID)
	require.Equal(t, 3, got.OnHand)

	_, err = svc.ReturnLoan(ctx, ReturnInput{LoanID: 4242, Condition: ConditionGood})
	require.ErrorIs(t, err, shared.ErrNotFound)
	_, err = svc.ReturnLoan(ctx, ReturnInput{LoanID: loan.ID, Condition: "BROKEN"})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestLoanBeyondStockLeavesNoLoan(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	item := mustCreateItem(t, svc, CategoryElectricTool, 0)
	_, err := svc.Receive(ctx, ReceiveInput{ItemID: item.ID, Quantity: 2, Actor: "wh"})
	require.NoError(t, err)

	_, err = svc.Loan(ctx, LoanInput{ItemID: item.ID, Quantity: 3, Borrower: "a", Approver: "b"})
	require.ErrorIs(t, err, shared.ErrInsufficientStock)
	_, err = svc.GetLoan(ctx, 1)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestReconcileSkipsUnknownItems(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	a := mustCreateItem(t, svc, CategorySparePart, 0)
	b := mustCreateItem(t, svc, CategorySparePart, 0)
	_, err := svc.Receive(ctx, ReceiveInput{ItemID: a.ID, Quantity: 7, Actor: "wh"})
	require.NoError(t, err)

	res, err := svc.Reconcile(ctx, ReconcileInput{Actor: "auditor", Lines: []CountInput{
		{ItemID: b.ID, ActualQty: 4},
		{ItemID: 777, ActualQty: 1},
		{ItemID: a.ID, ActualQty: 7},
	}})
	require.NoError(t, err)
	require.Len(t, res.Skipped, 1)
	require.Equal(t, int64(777), res.Skipped[0].ItemID)
	require.ErrorIs(t, res.Skipped[0].Err, shared.ErrNotFound)
	require.Len(t, res.Record.Lines, 2)
	require.Equal(t, b.ID, res.Record.Lines[0].ItemID)
	require.Equal(t, 4, res.Record.Lines[0].Diff)
	require.Zero(t, res.Record.Lines[1].Diff)

	got, _ := svc.GetItem(ctx, b.ID)
	require.Equal(t, 4, got.OnHand)
	require.Len(t, repo.Counts(), 1)
}

func TestReconcileWithNothingApplicableSavesNoRecord(t *testing.T) {
	svc, repo := newTestService(t)
	res, err := svc.Reconcile(context.Background(), ReconcileInput{Actor: "auditor", Lines: []CountInput{{ItemID: 5, ActualQty: 1}}})
	require.NoError(t, err)
	require.Zero(t, res.Record.ID)
	require.Len(t, res.Skipped, 1)
	require.Empty(t, repo.Counts())
}

func TestReconcileRejectsBadLines(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	item := mustCreateItem(t, svc, CategoryConsumable, 0)

	_, err := svc.Reconcile(ctx, ReconcileInput{Actor: "a", Lines: []CountInput{{ItemID: item.ID, ActualQty: -1}}})
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = svc.Reconcile(ctx, ReconcileInput{Actor: "a", Lines: []CountInput{{ItemID: item.ID, ActualQty: 1}, {ItemID: item.ID, ActualQty: 2}}})
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = svc.Reconcile(ctx, ReconcileInput{Actor: "a"})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestConcurrentIssuesNeverOversell(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	item := mustCreateItem(t, svc, CategoryConsumable, 0)
	_, err := svc.Receive(ctx, ReceiveInput{ItemID: item.ID, Quantity: 25, Actor: "wh"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded, short := 0, 0
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Issue(ctx, IssueInput{ItemID: item.ID, Quantity: 1, Recipient: "r", Actor: "a"})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, shared.ErrInsufficientStock):
				short++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 25, succeeded)
	require.Equal(t, 15, short)
	got, _ := svc.GetItem(ctx, item.ID)
	require.Zero(t, got.OnHand)
	require.Len(t, repo.Issues(), 25)
}

func TestListLowStock(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	low := mustCreateItem(t, svc, CategoryProtectiveGear, 10)
	ok := mustCreateItem(t, svc, CategoryProtectiveGear, 1)
	_, err := svc.Receive(ctx, ReceiveInput{ItemID: low.ID, Quantity: 3, Actor: "wh"})
	require.NoError(t, err)
	_, err = svc.Receive(ctx, ReceiveInput{ItemID: ok.ID, Quantity: 9, Actor: "wh"})
	require.NoError(t, err)

	items, err := svc.ListLowStock(ctx, 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, low.ID, items[0].ID)
}

func TestRequestIDReplayRejected(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	repo := NewMemoryRepository()
	svc := NewService(repo, shared.NewIdempotencyStore(client, time.Hour), ServiceConfig{}, nil)
	ctx := context.Background()
	item := mustCreateItem(t, svc, CategoryConsumable, 0)

	requestID := uuid.NewString()
	_, err := svc.Receive(ctx, ReceiveInput{ItemID: item.ID, Quantity: 5, Actor: "wh", RequestID: requestID})
	require.NoError(t, err)
	_, err = svc.Receive(ctx, ReceiveInput{ItemID: item.ID, Quantity: 5, Actor: "wh", RequestID: requestID})
	require.ErrorIs(t, err, shared.ErrIdempotencyConflict)
	got, _ := svc.GetItem(ctx, item.ID)
	require.Equal(t, 5, got.OnHand)

	// A failed attempt frees its key for a retry.
	retryID := uuid.NewString()
	_, err = svc.Issue(ctx, IssueInput{ItemID: item.ID, Quantity: 50, Recipient: "r", Actor: "a", RequestID: retryID})
	require.ErrorIs(t, err, shared.ErrInsufficientStock)
	_, err = svc.Issue(ctx, IssueInput{ItemID: item.ID, Quantity: 5, Recipient: "r", Actor: "a", RequestID: retryID})
	require.NoError(t, err)

	_, err = svc.Issue(ctx, IssueInput{ItemID: item.ID, Quantity: 1, Recipient: "r", Actor: "a", RequestID: "not-a-uuid"})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestCreateItemManualCode(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	item, err := svc.CreateItem(ctx, NewItemInput{Code: "  vt-0099 ", Name: "Glue", Category: CategoryConsumable, Unit: "tube"})
	require.NoError(t, err)
	require.Equal(t, "VT-0099", item.Code)

	_, err = svc.CreateItem(ctx, NewItemInput{Code: "VT-0099", Name: "Glue 2", Category: CategoryConsumable, Unit: "tube"})
	require.ErrorIs(t, err, shared.ErrDuplicateCode)

	next := mustCreateItem(t, svc, CategoryConsumable, 0)
	require.Equal(t, "VT-0100", next.Code)

	_, err = svc.CreateItem(ctx, NewItemInput{Name: "x", Category: "WEAPON", Unit: "pcs"})
	require.ErrorIs(t, err, shared.ErrValidation)
}

type recordingAudit struct {
	mu   sync.Mutex
	logs []shared.AuditLog
}

func (r *recordingAudit) Record(ctx context.Context, log shared.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs = append(r.logs, log)
	return nil
}

func (r *recordingAudit) actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.logs))
	for _, log := range r.logs {
		out = append(out, log.Action)
	}
	return out
}

func TestMutationsAreAudited(t *testing.T) {
	audit := &recordingAudit{}
	svc := NewService(NewMemoryRepository(), nil, ServiceConfig{Audit: audit}, nil)
	ctx := context.Background()
	item := mustCreateItem(t, svc, CategoryElectricTool, 0)
	_, err := svc.Receive(ctx, ReceiveInput{ItemID: item.ID, Quantity: 4, Actor: "wh"})
	require.NoError(t, err)
	_, err = svc.Issue(ctx, IssueInput{ItemID: item.ID, Quantity: 1, Recipient: "r", Actor: "wh"})
	require.NoError(t, err)
	loan, err := svc.Loan(ctx, LoanInput{ItemID: item.ID, Quantity: 1, Borrower: "a", Approver: "b"})
	require.NoError(t, err)
	_, err = svc.ReturnLoan(ctx, ReturnInput{LoanID: loan.ID, Condition: ConditionLost, Actor: "wh"})
	require.NoError(t, err)
	_, err = svc.Issue(ctx, IssueInput{ItemID: item.ID, Quantity: 100, Recipient: "r", Actor: "wh"})
	require.Error(t, err)
	_, err = svc.Reconcile(ctx, ReconcileInput{Actor: "auditor", Lines: []CountInput{{ItemID: item.ID, ActualQty: 2}}})
	require.NoError(t, err)

	require.Equal(t, []string{
		shared.AuditCreate,
		shared.AuditImport,
		shared.AuditExport,
		shared.AuditBorrow,
		shared.AuditWriteOff,
		shared.AuditAdjust,
	}, audit.actions())
}

func TestListMovementsMergesJournals(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	drill := mustCreateItem(t, svc, CategoryElectricTool, 0)
	gloves := mustCreateItem(t, svc, CategoryProtectiveGear, 0)

	_, err := svc.Receive(ctx, ReceiveInput{ItemID: drill.ID, Quantity: 4, UnitPrice: decimal.NewFromInt(900), Date: day("2024-03-01"), Actor: "wh"})
	require.NoError(t, err)
	_, err = svc.Receive(ctx, ReceiveInput{ItemID: gloves.ID, Quantity: 20, Date: day("2024-03-02"), Actor: "wh"})
	require.NoError(t, err)
	_, err = svc.Issue(ctx, IssueInput{ItemID: gloves.ID, Quantity: 5, Recipient: "line 1", Date: day("2024-03-03"), Actor: "wh"})
	require.NoError(t, err)
	loan, err := svc.Loan(ctx, LoanInput{ItemID: drill.ID, Quantity: 1, Borrower: "an", Approver: "binh", BorrowedAt: day("2024-03-04")})
	require.NoError(t, err)

	all, err := svc.ListMovements(ctx, MovementFilter{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	require.Equal(t, MovementLoan, all[0].Kind)
	require.Equal(t, loan.ID, all[0].Loan.ID)
	require.Equal(t, MovementIssue, all[1].Kind)
	require.Equal(t, MovementReceipt, all[3].Kind)
	require.True(t, all[3].Receipt.Total().Equal(decimal.NewFromInt(3600)))

	drillOnly, err := svc.ListMovements(ctx, MovementFilter{ItemID: drill.ID})
	require.NoError(t, err)
	require.Len(t, drillOnly, 2)

	window, err := svc.ListMovements(ctx, MovementFilter{From: day("2024-03-02"), To: day("2024-03-03")})
	require.NoError(t, err)
	require.Len(t, window, 2)
	require.Equal(t, day("2024-03-03"), window[0].Date)

	issues, err := svc.ListMovements(ctx, MovementFilter{Kind: MovementIssue})
	require.NoError(t, err)
	require.Len(t, issues, 1)
	require.Equal(t, "line 1", issues[0].Issue.Recipient)

	limited, err := svc.ListMovements(ctx, MovementFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)

	_, err = svc.ListMovements(ctx, MovementFilter{Kind: "TRANSFER"})
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = svc.ListMovements(ctx, MovementFilter{From: day("2024-03-05"), To: day("2024-03-01")})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestListLoansAndCounts(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	item := mustCreateItem(t, svc, CategoryMechanicalTool, 0)
	_, err := svc.Receive(ctx, ReceiveInput{ItemID: item.ID, Quantity: 5, Actor: "wh"})
	require.NoError(t, err)

	first, err := svc.Loan(ctx, LoanInput{ItemID: item.ID, Quantity: 1, Borrower: "an", Approver: "binh", BorrowedAt: day("2024-04-01")})
	require.NoError(t, err)
	second, err := svc.Loan(ctx, LoanInput{ItemID: item.ID, Quantity: 2, Borrower: "chi", Approver: "binh", BorrowedAt: day("2024-04-02")})
	require.NoError(t, err)
	_, err = svc.ReturnLoan(ctx, ReturnInput{LoanID: first.ID, Date: day("2024-04-03"), Condition: ConditionGood})
	require.NoError(t, err)

	onLoan, err := svc.ListLoans(ctx, LoanStatusOnLoan, 0)
	require.NoError(t, err)
	require.Len(t, onLoan, 1)
	require.Equal(t, second.ID, onLoan[0].ID)

	every, err := svc.ListLoans(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, every, 2)
	require.Equal(t, second.ID, every[0].ID)

	_, err = svc.ListLoans(ctx, "OVERDUE", 0)
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.Reconcile(ctx, ReconcileInput{Date: day("2024-04-10"), Actor: "auditor", Lines: []CountInput{{ItemID: item.ID, ActualQty: 3}}})
	require.NoError(t, err)
	_, err = svc.Reconcile(ctx, ReconcileInput{Date: day("2024-05-10"), Actor: "auditor", Lines: []CountInput{{ItemID: item.ID, ActualQty: 2, Reason: "broken"}}})
	require.NoError(t, err)

	counts, err := svc.ListCounts(ctx, 0)
	require.NoError(t, err)
	require.Len(t, counts, 2)
	require.Equal(t, day("2024-05-10"), counts[0].Date)
	require.Equal(t, -1, counts[0].Lines[0].Diff)
	require.Equal(t, "broken", counts[0].Lines[0].Reason)
}
