package inventory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/odyssey-erp/stockroom/internal/shared"
)

// MemoryRepository keeps inventory state in process. Each item and loan row
// has its own mutex; a unit of work holds the row locks it took until it ends,
// so writers on the same row are serialised while other rows stay parallel.
type MemoryRepository struct {
	mu       sync.RWMutex
	items    map[int64]Item
	codes    map[string]int64
	loans    map[int64]LoanRecord
	receipts []ReceiptEntry
	issues   []IssueEntry
	counts   []CountRecord
	nextID   int64

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex
}

// NewMemoryRepository constructs an empty store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		items: make(map[int64]Item),
		codes: make(map[string]int64),
		loans: make(map[int64]LoanRecord),
		locks: make(map[string]*sync.Mutex),
	}
}

func (r *MemoryRepository) rowLock(key string) *sync.Mutex {
	r.lockMu.Lock()
	defer r.lockMu.Unlock()
	l, ok := r.locks[key]
	if !ok {
		l = &sync.Mutex{}
		r.locks[key] = l
	}
	return l
}

func (r *MemoryRepository) newID() int64 {
	r.nextID++
	return r.nextID
}

// WithTx runs fn against a unit of work. Writes are staged and applied only
// when fn returns nil.
func (r *MemoryRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx := &memoryTx{
		repo:  r,
		held:  make(map[string]*sync.Mutex),
		items: make(map[int64]Item),
		loans: make(map[int64]LoanRecord),
	}
	defer tx.release()
	if err := fn(ctx, tx); err != nil {
		return err
	}
	return tx.commit()
}

// GetItem loads an item without locking it.
func (r *MemoryRepository) GetItem(ctx context.Context, id int64) (Item, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	item, ok := r.items[id]
	if !ok {
		return Item{}, ErrItemNotFound
	}
	return item, nil
}

// ListLowStock returns items at or below their minimum level.
func (r *MemoryRepository) ListLowStock(ctx context.Context, limit int) ([]Item, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	items := []Item{}
	for _, item := range r.items {
		if item.LowStock() {
			items = append(items, item)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		di, dj := items[i].OnHand-items[i].MinLevel, items[j].OnHand-items[j].MinLevel
		if di != dj {
			return di < dj
		}
		return items[i].ID < items[j].ID
	})
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

// GetLoan loads a loan without locking it.
func (r *MemoryRepository) GetLoan(ctx context.Context, id int64) (LoanRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	loan, ok := r.loans[id]
	if !ok {
		return LoanRecord{}, ErrLoanNotFound
	}
	return loan, nil
}

// ListCodesByPrefix returns every item code of the form prefix-*.
func (r *MemoryRepository) ListCodesByPrefix(ctx context.Context, prefix string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var codes []string
	for code := range r.codes {
		if strings.HasPrefix(code, prefix+"-") {
			codes = append(codes, code)
		}
	}
	return codes, nil
}

// CodeExists reports whether code is already assigned.
func (r *MemoryRepository) CodeExists(ctx context.Context, code string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.codes[code]
	return ok, nil
}

// ListMovements merges receipts, issues and loans that pass filter.
func (r *MemoryRepository) ListMovements(ctx context.Context, filter MovementFilter) ([]HistoryEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entries := []HistoryEntry{}
	if filter.includes(MovementReceipt) {
		for i := range r.receipts {
			entry := r.receipts[i]
			if filter.matches(entry.ItemID, entry.Date) {
				entries = append(entries, HistoryEntry{Kind: MovementReceipt, Date: entry.Date, Receipt: &entry})
			}
		}
	}
	if filter.includes(MovementIssue) {
		for i := range r.issues {
			entry := r.issues[i]
			if filter.matches(entry.ItemID, entry.Date) {
				entries = append(entries, HistoryEntry{Kind: MovementIssue, Date: entry.Date, Issue: &entry})
			}
		}
	}
	if filter.includes(MovementLoan) {
		for _, loan := range r.loans {
			loan := loan
			if filter.matches(loan.ItemID, loan.BorrowedAt) {
				entries = append(entries, HistoryEntry{Kind: MovementLoan, Date: loan.BorrowedAt, Loan: &loan})
			}
		}
	}
	return sortHistory(entries, filter.Limit), nil
}

// ListCounts returns saved count records, newest first.
func (r *MemoryRepository) ListCounts(ctx context.Context, limit int) ([]CountRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	records := make([]CountRecord, 0, len(r.counts))
	for i := len(r.counts) - 1; i >= 0; i-- {
		record := r.counts[i]
		record.Lines = append([]CountLine(nil), record.Lines...)
		records = append(records, record)
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Date.After(records[j].Date)
	})
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

// ListLoans returns loans in status, or every loan when status is empty.
func (r *MemoryRepository) ListLoans(ctx context.Context, status LoanStatus, limit int) ([]LoanRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	loans := []LoanRecord{}
	for _, loan := range r.loans {
		if status == "" || loan.Status == status {
			loans = append(loans, loan)
		}
	}
	sort.Slice(loans, func(i, j int) bool {
		if !loans[i].BorrowedAt.Equal(loans[j].BorrowedAt) {
			return loans[i].BorrowedAt.After(loans[j].BorrowedAt)
		}
		return loans[i].ID > loans[j].ID
	})
	if limit > 0 && len(loans) > limit {
		loans = loans[:limit]
	}
	return loans, nil
}

// Receipts returns a copy of the receipt journal.
func (r *MemoryRepository) Receipts() []ReceiptEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]ReceiptEntry(nil), r.receipts...)
}

// Issues returns a copy of the issue journal.
func (r *MemoryRepository) Issues() []IssueEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]IssueEntry(nil), r.issues...)
}

// Counts returns a copy of the saved count records.
func (r *MemoryRepository) Counts() []CountRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]CountRecord(nil), r.counts...)
}

type memoryTx struct {
	repo     *MemoryRepository
	held     map[string]*sync.Mutex
	items    map[int64]Item
	newItems []Item
	loans    map[int64]LoanRecord
	newLoans []LoanRecord
	receipts []ReceiptEntry
	issues   []IssueEntry
	counts   []CountRecord
}

func (tx *memoryTx) lock(key string) {
	if _, ok := tx.held[key]; ok {
		return
	}
	l := tx.repo.rowLock(key)
	l.Lock()
	tx.held[key] = l
}

func (tx *memoryTx) release() {
	for key, l := range tx.held {
		l.Unlock()
		delete(tx.held, key)
	}
}

func (tx *memoryTx) commit() error {
	r := tx.repo
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, item := range tx.newItems {
		if _, taken := r.codes[item.Code]; taken {
			return fmt.Errorf("inventory: code %s: %w", item.Code, shared.ErrDuplicateCode)
		}
	}
	for _, item := range tx.newItems {
		r.items[item.ID] = item
		r.codes[item.Code] = item.ID
	}
	for id, item := range tx.items {
		r.items[id] = item
	}
	for id, loan := range tx.loans {
		r.loans[id] = loan
	}
	for _, loan := range tx.newLoans {
		r.loans[loan.ID] = loan
	}
	r.receipts = append(r.receipts, tx.receipts...)
	r.issues = append(r.issues, tx.issues...)
	r.counts = append(r.counts, tx.counts...)
	return nil
}

func (tx *memoryTx) GetItemForUpdate(ctx context.Context, id int64) (Item, error) {
	tx.lock(fmt.Sprintf("item:%d", id))
	if item, ok := tx.items[id]; ok {
		return item, nil
	}
	for _, item := range tx.newItems {
		if item.ID == id {
			return item, nil
		}
	}
	return tx.repo.GetItem(ctx, id)
}

// InsertItem stages a new catalog row. The code is checked now and again at
// commit, so two units of work racing for one code cannot both succeed.
func (tx *memoryTx) InsertItem(ctx context.Context, item Item) (Item, error) {
	r := tx.repo
	r.mu.Lock()
	if _, taken := r.codes[item.Code]; taken {
		r.mu.Unlock()
		return Item{}, fmt.Errorf("inventory: code %s: %w", item.Code, shared.ErrDuplicateCode)
	}
	item.ID = r.newID()
	r.mu.Unlock()
	for _, staged := range tx.newItems {
		if staged.Code == item.Code {
			return Item{}, fmt.Errorf("inventory: code %s: %w", item.Code, shared.ErrDuplicateCode)
		}
	}
	now := time.Now().UTC()
	item.CreatedAt, item.UpdatedAt = now, now
	tx.newItems = append(tx.newItems, item)
	return item, nil
}

func (tx *memoryTx) SaveItem(ctx context.Context, item Item) error {
	current, err := tx.GetItemForUpdate(ctx, item.ID)
	if err != nil {
		return err
	}
	item.Code, item.Category, item.CreatedAt = current.Code, current.Category, current.CreatedAt
	item.UpdatedAt = time.Now().UTC()
	tx.items[item.ID] = item
	return nil
}

func (tx *memoryTx) GetLoanForUpdate(ctx context.Context, id int64) (LoanRecord, error) {
	tx.lock(fmt.Sprintf("loan:%d", id))
	if loan, ok := tx.loans[id]; ok {
		return loan, nil
	}
	return tx.repo.GetLoan(ctx, id)
}

func (tx *memoryTx) InsertLoan(ctx context.Context, loan LoanRecord) (LoanRecord, error) {
	tx.repo.mu.Lock()
	loan.ID = tx.repo.newID()
	tx.repo.mu.Unlock()
	tx.newLoans = append(tx.newLoans, loan)
	return loan, nil
}

func (tx *memoryTx) SaveLoan(ctx context.Context, loan LoanRecord) error {
	if _, err := tx.GetLoanForUpdate(ctx, loan.ID); err != nil {
		return err
	}
	tx.loans[loan.ID] = loan
	return nil
}

func (tx *memoryTx) AppendReceipt(ctx context.Context, entry ReceiptEntry) (ReceiptEntry, error) {
	tx.repo.mu.Lock()
	entry.ID = tx.repo.newID()
	tx.repo.mu.Unlock()
	entry.CreatedAt = time.Now().UTC()
	tx.receipts = append(tx.receipts, entry)
	return entry, nil
}

func (tx *memoryTx) AppendIssue(ctx context.Context, entry IssueEntry) (IssueEntry, error) {
	tx.repo.mu.Lock()
	entry.ID = tx.repo.newID()
	tx.repo.mu.Unlock()
	entry.CreatedAt = time.Now().UTC()
	tx.issues = append(tx.issues, entry)
	return entry, nil
}

func (tx *memoryTx) AppendCountRecord(ctx context.Context, record CountRecord) (CountRecord, error) {
	tx.repo.mu.Lock()
	record.ID = tx.repo.newID()
	tx.repo.mu.Unlock()
	record.CreatedAt = time.Now().UTC()
	record.Lines = append([]CountLine(nil), record.Lines...)
	tx.counts = append(tx.counts, record)
	return record, nil
}
