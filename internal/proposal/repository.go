package proposal

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/stockroom/internal/platform/db"
	"github.com/odyssey-erp/stockroom/internal/shared"
)

// ErrProposalNotFound indicates a missing proposal row.
var ErrProposalNotFound = fmt.Errorf("proposal %w", shared.ErrNotFound)

// TxRepository exposes the operations available inside one unit of work.
type TxRepository interface {
	NextSequence(ctx context.Context, year int) (int, error)
	GetForUpdate(ctx context.Context, id int64) (Proposal, error)
	Insert(ctx context.Context, p Proposal) (Proposal, error)
	Save(ctx context.Context, p Proposal) error
	Delete(ctx context.Context, id int64) error
}

// Repository persists proposals in PostgreSQL.
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

// WithTx runs fn in a read-committed transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil || r.pool == nil {
		return errors.New("proposal repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const proposalColumns = `id, code, requester, department, priority, status, reason, note, approver, decided_at, reject_reason, purchased_at, created_at, updated_at`

func scanProposal(row pgx.Row) (Proposal, error) {
	var p Proposal
	err := row.Scan(&p.ID, &p.Code, &p.Requester, &p.Department, &p.Priority, &p.Status, &p.Reason, &p.Note,
		&p.Approver, &p.DecidedAt, &p.RejectReason, &p.PurchasedAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Proposal{}, ErrProposalNotFound
		}
		return Proposal{}, err
	}
	return p, nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func loadLines(ctx context.Context, q querier, id int64) ([]Line, error) {
	rows, err := q.Query(ctx, `SELECT name, category, unit, quantity, estimated_price, reason
FROM proposal_lines WHERE proposal_id=$1 ORDER BY line_no`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	lines := []Line{}
	for rows.Next() {
		var line Line
		if err := rows.Scan(&line.Name, &line.Category, &line.Unit, &line.Quantity, &line.EstimatedPrice, &line.Reason); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

// Get loads a proposal with its lines.
func (r *Repository) Get(ctx context.Context, id int64) (Proposal, error) {
	p, err := scanProposal(r.pool.QueryRow(ctx, `SELECT `+proposalColumns+` FROM proposals WHERE id=$1`, id))
	if err != nil {
		return Proposal{}, err
	}
	p.Lines, err = loadLines(ctx, r.pool, id)
	return p, err
}

// List returns proposals in status, or every proposal when status is empty,
// newest first. Lines are loaded for each row.
func (r *Repository) List(ctx context.Context, status Status, limit int) ([]Proposal, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.pool.Query(ctx, `SELECT `+proposalColumns+` FROM proposals WHERE ($1::text = '' OR status = $1)
ORDER BY created_at DESC, id DESC LIMIT $2`, string(status), limit)
	if err != nil {
		return nil, err
	}
	proposals := []Proposal{}
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		proposals = append(proposals, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range proposals {
		if proposals[i].Lines, err = loadLines(ctx, r.pool, proposals[i].ID); err != nil {
			return nil, err
		}
	}
	return proposals, nil
}

// NextSequence bumps and returns the proposal counter of year. The counter
// row stays locked until the unit of work ends.
func (r *txRepository) NextSequence(ctx context.Context, year int) (int, error) {
	var seq int
	err := r.tx.QueryRow(ctx, `INSERT INTO proposal_sequences (year, last) VALUES ($1, 1)
ON CONFLICT (year) DO UPDATE SET last = proposal_sequences.last + 1 RETURNING last`, year).Scan(&seq)
	return seq, err
}

func (r *txRepository) GetForUpdate(ctx context.Context, id int64) (Proposal, error) {
	p, err := scanProposal(r.tx.QueryRow(ctx, `SELECT `+proposalColumns+` FROM proposals WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		return Proposal{}, err
	}
	p.Lines, err = loadLines(ctx, r.tx, id)
	return p, err
}

func (r *txRepository) Insert(ctx context.Context, p Proposal) (Proposal, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO proposals (code, requester, department, priority, status, reason, note, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,NOW(),NOW()) RETURNING id, created_at, updated_at`,
		p.Code, p.Requester, p.Department, string(p.Priority), string(p.Status), p.Reason, p.Note).
		Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return Proposal{}, fmt.Errorf("proposal: code %s: %w", p.Code, shared.ErrDuplicateCode)
		}
		return Proposal{}, err
	}
	if err := r.insertLines(ctx, p.ID, p.Lines); err != nil {
		return Proposal{}, err
	}
	return p, nil
}

func (r *txRepository) insertLines(ctx context.Context, id int64, lines []Line) error {
	for i, line := range lines {
		if _, err := r.tx.Exec(ctx, `INSERT INTO proposal_lines (proposal_id, line_no, name, category, unit, quantity, estimated_price, reason)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`, id, i+1, line.Name, string(line.Category), line.Unit, line.Quantity, line.EstimatedPrice, line.Reason); err != nil {
			return err
		}
	}
	return nil
}

// Save rewrites the header and replaces every line.
func (r *txRepository) Save(ctx context.Context, p Proposal) error {
	tag, err := r.tx.Exec(ctx, `UPDATE proposals SET department=$2, priority=$3, status=$4, reason=$5, note=$6, approver=$7,
decided_at=$8, reject_reason=$9, purchased_at=$10, updated_at=NOW() WHERE id=$1`,
		p.ID, p.Department, string(p.Priority), string(p.Status), p.Reason, p.Note, p.Approver,
		p.DecidedAt, p.RejectReason, p.PurchasedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrProposalNotFound
	}
	if _, err := r.tx.Exec(ctx, `DELETE FROM proposal_lines WHERE proposal_id=$1`, p.ID); err != nil {
		return err
	}
	return r.insertLines(ctx, p.ID, p.Lines)
}

func (r *txRepository) Delete(ctx context.Context, id int64) error {
	tag, err := r.tx.Exec(ctx, `DELETE FROM proposals WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrProposalNotFound
	}
	return nil
}
