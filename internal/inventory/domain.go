package inventory

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockroom/internal/shared"
)

// Category classifies items and selects their code prefix.
type Category string

const (
	CategoryConsumable       Category = "CONSUMABLE"
	CategoryElectricTool     Category = "ELECTRIC_TOOL"
	CategoryMechanicalTool   Category = "MECHANICAL_TOOL"
	CategoryElectricDevice   Category = "ELECTRIC_DEVICE"
	CategoryMechanicalDevice Category = "MECHANICAL_DEVICE"
	CategorySparePart        Category = "SPARE_PART"
	CategoryProtectiveGear   Category = "PROTECTIVE_GEAR"
)

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	_, ok := categoryPrefixes[c]
	return ok
}

// LoanStatus is the lifecycle state of a loan. ON_LOAN is the only initial
// state and RETURNED the only terminal one.
type LoanStatus string

const (
	LoanStatusOnLoan   LoanStatus = "ON_LOAN"
	LoanStatusReturned LoanStatus = "RETURNED"
)

// Valid reports whether s is a known loan status.
func (s LoanStatus) Valid() bool {
	return s == LoanStatusOnLoan || s == LoanStatusReturned
}

// ReturnCondition describes the state a loaned item came back in.
type ReturnCondition string

const (
	ConditionGood    ReturnCondition = "GOOD"
	ConditionDamaged ReturnCondition = "DAMAGED"
	ConditionLost    ReturnCondition = "LOST"
)

// Valid reports whether c is a known return condition.
func (c ReturnCondition) Valid() bool {
	switch c {
	case ConditionGood, ConditionDamaged, ConditionLost:
		return true
	}
	return false
}

// RestoresStock reports whether a return in this condition puts the quantity back on hand.
func (c ReturnCondition) RestoresStock() bool {
	return c != ConditionLost
}

// Item is a trackable material, tool or device.
type Item struct {
	ID          int64
	Code        string
	Name        string
	Category    Category
	Unit        string
	WarehouseID int64
	MinLevel    int
	OnHand      int
	BinLocation string
	Note        string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// LowStock reports whether the item is at or below its minimum level.
func (i Item) LowStock() bool {
	return i.OnHand <= i.MinLevel
}

// ReceiptEntry records a stock-in.
type ReceiptEntry struct {
	ID         int64
	ItemID     int64
	Quantity   int
	UnitPrice  decimal.Decimal
	Date       time.Time
	SupplierID int64
	Actor      string
	Note       string
	CreatedAt  time.Time
}

// Total returns quantity times unit price.
func (r ReceiptEntry) Total() decimal.Decimal {
	return r.UnitPrice.Mul(decimal.NewFromInt(int64(r.Quantity)))
}

// IssueEntry records a permanent stock-out.
type IssueEntry struct {
	ID         int64
	ItemID     int64
	Quantity   int
	Date       time.Time
	Recipient  string
	Department string
	Purpose    string
	Actor      string
	CreatedAt  time.Time
}

// LoanRecord tracks a returnable issue.
type LoanRecord struct {
	ID              int64
	ItemID          int64
	Borrower        string
	Approver        string
	Quantity        int
	BorrowedAt      time.Time
	ExpectedReturn  *time.Time
	ConditionOut    string
	Status          LoanStatus
	ReturnedAt      *time.Time
	ReturnCondition *ReturnCondition
}

// CountLine is one item of a physical count.
type CountLine struct {
	ItemID    int64
	SystemQty int
	ActualQty int
	Diff      int
	Reason    string
}

// CountRecord aggregates the lines of a physical count. Immutable once saved.
type CountRecord struct {
	ID        int64
	Date      time.Time
	Actor     string
	Note      string
	Lines     []CountLine
	CreatedAt time.Time
}

// Movement is the outcome of one ledger mutation.
type Movement struct {
	Item   Item
	Before int
	After  int
}

// Diff returns After - Before.
func (m Movement) Diff() int {
	return m.After - m.Before
}

// MovementKind names the journal a history entry was read from.
type MovementKind string

const (
	MovementReceipt MovementKind = "RECEIPT"
	MovementIssue   MovementKind = "ISSUE"
	MovementLoan    MovementKind = "LOAN"
)

// Valid reports whether k is a known movement kind.
func (k MovementKind) Valid() bool {
	switch k {
	case MovementReceipt, MovementIssue, MovementLoan:
		return true
	}
	return false
}

// HistoryEntry is one row of the merged movement history. The pointer
// matching Kind is set and the others are nil.
type HistoryEntry struct {
	Kind    MovementKind
	Date    time.Time
	Receipt *ReceiptEntry
	Issue   *IssueEntry
	Loan    *LoanRecord
}

func (e HistoryEntry) id() int64 {
	switch {
	case e.Receipt != nil:
		return e.Receipt.ID
	case e.Issue != nil:
		return e.Issue.ID
	case e.Loan != nil:
		return e.Loan.ID
	}
	return 0
}

// MovementFilter narrows a history read. Zero fields do not filter.
// From and To are inclusive business dates.
type MovementFilter struct {
	ItemID int64
	Kind   MovementKind
	From   time.Time
	To     time.Time
	Limit  int
}

func (f MovementFilter) includes(kind MovementKind) bool {
	return f.Kind == "" || f.Kind == kind
}

func (f MovementFilter) matches(itemID int64, date time.Time) bool {
	if f.ItemID != 0 && itemID != f.ItemID {
		return false
	}
	if !f.From.IsZero() && date.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && date.After(f.To) {
		return false
	}
	return true
}

// sortHistory orders entries newest first and keeps at most limit of them.
func sortHistory(entries []HistoryEntry, limit int) []HistoryEntry {
	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].Date.Equal(entries[j].Date) {
			return entries[i].Date.After(entries[j].Date)
		}
		if entries[i].Kind != entries[j].Kind {
			return entries[i].Kind < entries[j].Kind
		}
		return entries[i].id() > entries[j].id()
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries
}

// NewItemInput registers an item in the catalog.
type NewItemInput struct {
	Code        string
	Name        string
	Category    Category
	Unit        string
	WarehouseID int64
	MinLevel    int
	BinLocation string
	Note        string
	Actor       string
}

// ReceiveInput describes a stock-in.
type ReceiveInput struct {
	ItemID     int64
	Quantity   int
	UnitPrice  decimal.Decimal
	SupplierID int64
	Date       time.Time
	Actor      string
	Note       string
	RequestID  string
}

// IssueInput describes a permanent stock-out.
type IssueInput struct {
	ItemID     int64
	Quantity   int
	Recipient  string
	Department string
	Purpose    string
	Date       time.Time
	Actor      string
	RequestID  string
}

// LoanInput describes a tool loan.
type LoanInput struct {
	ItemID         int64
	Quantity       int
	Borrower       string
	Approver       string
	BorrowedAt     time.Time
	ExpectedReturn *time.Time
	ConditionOut   string
	RequestID      string
}

// ReturnInput closes a loan.
type ReturnInput struct {
	LoanID    int64
	Date      time.Time
	Condition ReturnCondition
	Actor     string
}

// ReturnResult reports what a return did to stock.
type ReturnResult struct {
	Loan       LoanRecord
	Restored   int
	WrittenOff bool
}

// CountInput is one observed quantity in a reconciliation batch.
type CountInput struct {
	ItemID    int64
	ActualQty int
	Reason    string
}

// ReconcileInput describes a physical count.
type ReconcileInput struct {
	Date  time.Time
	Actor string
	Note  string
	Lines []CountInput
}

// SkippedLine is a count line that could not be applied.
type SkippedLine struct {
	ItemID int64
	Err    error
}

// ReconcileResult carries the saved record plus the lines that were skipped.
// Record.ID is zero when no line applied and nothing was saved.
type ReconcileResult struct {
	Record  CountRecord
	Skipped []SkippedLine
}

// InsufficientStockError carries the shortfall of a rejected decrease.
type InsufficientStockError struct {
	ItemID    int64
	OnHand    int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("inventory: item %d has %d on hand, requested %d", e.ItemID, e.OnHand, e.Requested)
}

func (e *InsufficientStockError) Unwrap() error {
	return shared.ErrInsufficientStock
}

func validationError(msg string) error {
	return fmt.Errorf("inventory: %s: %w", msg, shared.ErrValidation)
}

func notFound(kind string, id int64) error {
	return fmt.Errorf("inventory: %s %d: %w", kind, id, shared.ErrNotFound)
}

func dateOnly(t time.Time) time.Time {
	if t.IsZero() {
		t = time.Now()
	}
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
