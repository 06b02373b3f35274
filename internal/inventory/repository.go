package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/stockroom/internal/platform/db"
	"github.com/odyssey-erp/stockroom/internal/shared"
)

var (
	// ErrItemNotFound indicates a missing item row.
	ErrItemNotFound = fmt.Errorf("inventory item %w", shared.ErrNotFound)
	// ErrLoanNotFound indicates a missing loan row.
	ErrLoanNotFound = fmt.Errorf("inventory loan %w", shared.ErrNotFound)
)

// TxRepository exposes the operations available inside one unit of work.
// Rows read with the ForUpdate variants stay locked until the unit of work ends.
type TxRepository interface {
	GetItemForUpdate(ctx context.Context, id int64) (Item, error)
	InsertItem(ctx context.Context, item Item) (Item, error)
	SaveItem(ctx context.Context, item Item) error
	GetLoanForUpdate(ctx context.Context, id int64) (LoanRecord, error)
	InsertLoan(ctx context.Context, loan LoanRecord) (LoanRecord, error)
	SaveLoan(ctx context.Context, loan LoanRecord) error
	AppendReceipt(ctx context.Context, entry ReceiptEntry) (ReceiptEntry, error)
	AppendIssue(ctx context.Context, entry IssueEntry) (IssueEntry, error)
	AppendCountRecord(ctx context.Context, record CountRecord) (CountRecord, error)
}

// Repository persists inventory data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx runs fn in a read-committed transaction. Row locks taken with
// FOR UPDATE make concurrent writers on the same row wait for the committed value.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil || r.pool == nil {
		return errors.New("inventory repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const itemColumns = `id, code, name, category, unit, warehouse_id, min_level, on_hand, bin_location, note, created_at, updated_at`

func scanItem(row pgx.Row) (Item, error) {
	var item Item
	var warehouseID *int64
	err := row.Scan(&item.ID, &item.Code, &item.Name, &item.Category, &item.Unit, &warehouseID,
		&item.MinLevel, &item.OnHand, &item.BinLocation, &item.Note, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Item{}, ErrItemNotFound
		}
		return Item{}, err
	}
	if warehouseID != nil {
		item.WarehouseID = *warehouseID
	}
	return item, nil
}

// GetItem loads an item without locking it.
func (r *Repository) GetItem(ctx context.Context, id int64) (Item, error) {
	return scanItem(r.pool.QueryRow(ctx, `SELECT `+itemColumns+` FROM items WHERE id=$1`, id))
}

// ListLowStock returns items at or below their minimum level.
func (r *Repository) ListLowStock(ctx context.Context, limit int) ([]Item, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.pool.Query(ctx, `SELECT `+itemColumns+` FROM items WHERE on_hand <= min_level ORDER BY on_hand - min_level ASC, id ASC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []Item{}
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// GetLoan loads a loan without locking it.
func (r *Repository) GetLoan(ctx context.Context, id int64) (LoanRecord, error) {
	return scanLoan(r.pool.QueryRow(ctx, `SELECT `+loanColumns+` FROM loans WHERE id=$1`, id))
}

// ListMovements merges receipts, issues and loans that pass filter. Each
// journal is read with the same bounds and the union is trimmed to Limit.
func (r *Repository) ListMovements(ctx context.Context, filter MovementFilter) ([]HistoryEntry, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	from, to := optionalDate(filter.From), optionalDate(filter.To)
	entries := []HistoryEntry{}
	if filter.includes(MovementReceipt) {
		rows, err := r.pool.Query(ctx, `SELECT id, item_id, quantity, unit_price, receipt_date, COALESCE(supplier_id, 0), actor, note, created_at
FROM stock_receipts
WHERE ($1::bigint = 0 OR item_id = $1) AND ($2::date IS NULL OR receipt_date >= $2) AND ($3::date IS NULL OR receipt_date <= $3)
ORDER BY receipt_date DESC, id DESC LIMIT $4`, filter.ItemID, from, to, limit)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			var entry ReceiptEntry
			if err := rows.Scan(&entry.ID, &entry.ItemID, &entry.Quantity, &entry.UnitPrice, &entry.Date, &entry.SupplierID,
				&entry.Actor, &entry.Note, &entry.CreatedAt); err != nil {
				rows.Close()
				return nil, err
			}
			entries = append(entries, HistoryEntry{Kind: MovementReceipt, Date: entry.Date, Receipt: &entry})
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, err
		}
	}
	if filter.includes(MovementIssue) {
		rows, err := r.pool.Query(ctx, `SELECT id, item_id, quantity, issue_date, recipient, department, purpose, actor, created_at
FROM stock_issues
WHERE ($1::bigint = 0 OR item_id = $1) AND ($2::date IS NULL OR issue_date >= $2) AND ($3::date IS NULL OR issue_date <= $3)
ORDER BY issue_date DESC, id DESC LIMIT $4`, filter.ItemID, from, to, limit)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			var entry IssueEntry
			if err := rows.Scan(&entry.ID, &entry.ItemID, &entry.Quantity, &entry.Date, &entry.Recipient, &entry.Department,
				&entry.Purpose, &entry.Actor, &entry.CreatedAt); err != nil {
				rows.Close()
				return nil, err
			}
			entries = append(entries, HistoryEntry{Kind: MovementIssue, Date: entry.Date, Issue: &entry})
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, err
		}
	}
	if filter.includes(MovementLoan) {
		rows, err := r.pool.Query(ctx, `SELECT `+loanColumns+` FROM loans
WHERE ($1::bigint = 0 OR item_id = $1) AND ($2::date IS NULL OR borrowed_at >= $2) AND ($3::date IS NULL OR borrowed_at <= $3)
ORDER BY borrowed_at DESC, id DESC LIMIT $4`, filter.ItemID, from, to, limit)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			loan, err := scanLoan(rows)
			if err != nil {
				rows.Close()
				return nil, err
			}
			entries = append(entries, HistoryEntry{Kind: MovementLoan, Date: loan.BorrowedAt, Loan: &loan})
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, err
		}
	}
	return sortHistory(entries, limit), nil
}

// ListCounts returns saved count records with their lines, newest first.
func (r *Repository) ListCounts(ctx context.Context, limit int) ([]CountRecord, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.pool.Query(ctx, `SELECT id, count_date, actor, note, created_at FROM stock_counts ORDER BY count_date DESC, id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	records := []CountRecord{}
	index := make(map[int64]int)
	var ids []int64
	for rows.Next() {
		var record CountRecord
		if err := rows.Scan(&record.ID, &record.Date, &record.Actor, &record.Note, &record.CreatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		record.Lines = []CountLine{}
		index[record.ID] = len(records)
		ids = append(ids, record.ID)
		records = append(records, record)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return records, nil
	}
	lines, err := r.pool.Query(ctx, `SELECT count_id, item_id, system_qty, actual_qty, diff, reason
FROM stock_count_lines WHERE count_id = ANY($1) ORDER BY count_id, item_id`, ids)
	if err != nil {
		return nil, err
	}
	defer lines.Close()
	for lines.Next() {
		var countID int64
		var line CountLine
		if err := lines.Scan(&countID, &line.ItemID, &line.SystemQty, &line.ActualQty, &line.Diff, &line.Reason); err != nil {
			return nil, err
		}
		i := index[countID]
		records[i].Lines = append(records[i].Lines, line)
	}
	return records, lines.Err()
}

// ListLoans returns loans in status, or every loan when status is empty.
func (r *Repository) ListLoans(ctx context.Context, status LoanStatus, limit int) ([]LoanRecord, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.pool.Query(ctx, `SELECT `+loanColumns+` FROM loans WHERE ($1::text = '' OR status = $1) ORDER BY borrowed_at DESC, id DESC LIMIT $2`,
		string(status), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	loans := []LoanRecord{}
	for rows.Next() {
		loan, err := scanLoan(rows)
		if err != nil {
			return nil, err
		}
		loans = append(loans, loan)
	}
	return loans, rows.Err()
}

// ListCodesByPrefix returns every item code of the form prefix-*.
func (r *Repository) ListCodesByPrefix(ctx context.Context, prefix string) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT code FROM items WHERE code LIKE $1`, prefix+"-%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, err
		}
		codes = append(codes, code)
	}
	return codes, rows.Err()
}

// CodeExists reports whether code is already assigned.
func (r *Repository) CodeExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM items WHERE code=$1)`, code).Scan(&exists)
	return exists, err
}

func (r *txRepository) GetItemForUpdate(ctx context.Context, id int64) (Item, error) {
	return scanItem(r.tx.QueryRow(ctx, `SELECT `+itemColumns+` FROM items WHERE id=$1 FOR UPDATE`, id))
}

func (r *txRepository) InsertItem(ctx context.Context, item Item) (Item, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO items (code, name, category, unit, warehouse_id, min_level, on_hand, bin_location, note, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,NOW(),NOW()) RETURNING id, created_at, updated_at`,
		item.Code, item.Name, string(item.Category), item.Unit, nullInt(item.WarehouseID), item.MinLevel, item.OnHand, item.BinLocation, item.Note).
		Scan(&item.ID, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return Item{}, fmt.Errorf("inventory: code %s: %w", item.Code, shared.ErrDuplicateCode)
		}
		return Item{}, err
	}
	return item, nil
}

func (r *txRepository) SaveItem(ctx context.Context, item Item) error {
	tag, err := r.tx.Exec(ctx, `UPDATE items SET name=$2, unit=$3, warehouse_id=$4, min_level=$5, on_hand=$6, bin_location=$7, note=$8, updated_at=NOW() WHERE id=$1`,
		item.ID, item.Name, item.Unit, nullInt(item.WarehouseID), item.MinLevel, item.OnHand, item.BinLocation, item.Note)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrItemNotFound
	}
	return nil
}

const loanColumns = `id, item_id, borrower, approver, quantity, borrowed_at, expected_return, condition_out, status, returned_at, return_condition`

func scanLoan(row pgx.Row) (LoanRecord, error) {
	var loan LoanRecord
	var condition *string
	err := row.Scan(&loan.ID, &loan.ItemID, &loan.Borrower, &loan.Approver, &loan.Quantity, &loan.BorrowedAt,
		&loan.ExpectedReturn, &loan.ConditionOut, &loan.Status, &loan.ReturnedAt, &condition)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return LoanRecord{}, ErrLoanNotFound
		}
		return LoanRecord{}, err
	}
	if condition != nil {
		c := ReturnCondition(*condition)
		loan.ReturnCondition = &c
	}
	return loan, nil
}

func (r *txRepository) GetLoanForUpdate(ctx context.Context, id int64) (LoanRecord, error) {
	return scanLoan(r.tx.QueryRow(ctx, `SELECT `+loanColumns+` FROM loans WHERE id=$1 FOR UPDATE`, id))
}

func (r *txRepository) InsertLoan(ctx context.Context, loan LoanRecord) (LoanRecord, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO loans (item_id, borrower, approver, quantity, borrowed_at, expected_return, condition_out, status)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING id`,
		loan.ItemID, loan.Borrower, loan.Approver, loan.Quantity, loan.BorrowedAt, loan.ExpectedReturn, loan.ConditionOut, string(loan.Status)).
		Scan(&loan.ID)
	return loan, err
}

func (r *txRepository) SaveLoan(ctx context.Context, loan LoanRecord) error {
	var condition *string
	if loan.ReturnCondition != nil {
		c := string(*loan.ReturnCondition)
		condition = &c
	}
	_, err := r.tx.Exec(ctx, `UPDATE loans SET status=$2, returned_at=$3, return_condition=$4 WHERE id=$1`,
		loan.ID, string(loan.Status), loan.ReturnedAt, condition)
	return err
}

func (r *txRepository) AppendReceipt(ctx context.Context, entry ReceiptEntry) (ReceiptEntry, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_receipts (item_id, quantity, unit_price, receipt_date, supplier_id, actor, note, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,NOW()) RETURNING id, created_at`,
		entry.ItemID, entry.Quantity, entry.UnitPrice, entry.Date, nullInt(entry.SupplierID), entry.Actor, entry.Note).
		Scan(&entry.ID, &entry.CreatedAt)
	return entry, err
}

func (r *txRepository) AppendIssue(ctx context.Context, entry IssueEntry) (IssueEntry, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_issues (item_id, quantity, issue_date, recipient, department, purpose, actor, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,NOW()) RETURNING id, created_at`,
		entry.ItemID, entry.Quantity, entry.Date, entry.Recipient, entry.Department, entry.Purpose, entry.Actor).
		Scan(&entry.ID, &entry.CreatedAt)
	return entry, err
}

func (r *txRepository) AppendCountRecord(ctx context.Context, record CountRecord) (CountRecord, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_counts (count_date, actor, note, created_at) VALUES ($1,$2,$3,NOW()) RETURNING id, created_at`,
		record.Date, record.Actor, record.Note).Scan(&record.ID, &record.CreatedAt)
	if err != nil {
		return CountRecord{}, err
	}
	for _, line := range record.Lines {
		if _, err := r.tx.Exec(ctx, `INSERT INTO stock_count_lines (count_id, item_id, system_qty, actual_qty, diff, reason)
VALUES ($1,$2,$3,$4,$5,$6)`, record.ID, line.ItemID, line.SystemQty, line.ActualQty, line.Diff, line.Reason); err != nil {
			return CountRecord{}, err
		}
	}
	return record, nil
}

func optionalDate(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func nullInt(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}
