package maintenance

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/stockroom/internal/platform/db"
)

// TxRepository exposes the operations available inside one unit of work.
type TxRepository interface {
	GetScheduleForUpdate(ctx context.Context, id int64) (Schedule, error)
	InsertSchedule(ctx context.Context, s Schedule) (Schedule, error)
	SaveSchedule(ctx context.Context, s Schedule) error
	DeleteSchedule(ctx context.Context, id int64) error
	AppendLog(ctx context.Context, entry LogEntry) (LogEntry, error)
}

// Repository persists schedules and logs in PostgreSQL.
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
		return errors.New("maintenance repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const scheduleColumns = `id, item_id, kind, frequency, description, assigned_to, last_done, next_due, created_at`

func scanSchedule(row pgx.Row) (Schedule, error) {
	var s Schedule
	err := row.Scan(&s.ID, &s.ItemID, &s.Kind, &s.Frequency, &s.Description, &s.AssignedTo, &s.LastDone, &s.NextDue, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Schedule{}, ErrScheduleNotFound
		}
		return Schedule{}, err
	}
	return s, nil
}

// GetSchedule loads a schedule without locking it.
func (r *Repository) GetSchedule(ctx context.Context, id int64) (Schedule, error) {
	return scanSchedule(r.pool.QueryRow(ctx, `SELECT `+scheduleColumns+` FROM maintenance_schedules WHERE id=$1`, id))
}

// ListDueBefore returns schedules whose next due date is on or before cutoff,
// earliest first.
func (r *Repository) ListDueBefore(ctx context.Context, cutoff time.Time, limit int) ([]Schedule, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.pool.Query(ctx, `SELECT `+scheduleColumns+` FROM maintenance_schedules WHERE next_due <= $1 ORDER BY next_due ASC, id ASC LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	schedules := []Schedule{}
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, s)
	}
	return schedules, rows.Err()
}

// ListLogs returns the log entries of a schedule, newest first.
func (r *Repository) ListLogs(ctx context.Context, scheduleID int64) ([]LogEntry, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, schedule_id, item_id, performed_on, performer, result, cost, next_due, created_at
FROM maintenance_logs WHERE schedule_id=$1 ORDER BY performed_on DESC, id DESC`, scheduleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	logs := []LogEntry{}
	for rows.Next() {
		var entry LogEntry
		if err := rows.Scan(&entry.ID, &entry.ScheduleID, &entry.ItemID, &entry.Date, &entry.Performer, &entry.Result,
			&entry.Cost, &entry.NextDue, &entry.CreatedAt); err != nil {
			return nil, err
		}
		logs = append(logs, entry)
	}
	return logs, rows.Err()
}

func (r *txRepository) GetScheduleForUpdate(ctx context.Context, id int64) (Schedule, error) {
	return scanSchedule(r.tx.QueryRow(ctx, `SELECT `+scheduleColumns+` FROM maintenance_schedules WHERE id=$1 FOR UPDATE`, id))
}

func (r *txRepository) InsertSchedule(ctx context.Context, s Schedule) (Schedule, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO maintenance_schedules (item_id, kind, frequency, description, assigned_to, last_done, next_due, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,NOW()) RETURNING id, created_at`,
		s.ItemID, string(s.Kind), string(s.Frequency), s.Description, s.AssignedTo, s.LastDone, s.NextDue).
		Scan(&s.ID, &s.CreatedAt)
	return s, err
}

func (r *txRepository) SaveSchedule(ctx context.Context, s Schedule) error {
	tag, err := r.tx.Exec(ctx, `UPDATE maintenance_schedules SET description=$2, assigned_to=$3, last_done=$4, next_due=$5 WHERE id=$1`,
		s.ID, s.Description, s.AssignedTo, s.LastDone, s.NextDue)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrScheduleNotFound
	}
	return nil
}

func (r *txRepository) DeleteSchedule(ctx context.Context, id int64) error {
	tag, err := r.tx.Exec(ctx, `DELETE FROM maintenance_schedules WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrScheduleNotFound
	}
	return nil
}

func (r *txRepository) AppendLog(ctx context.Context, entry LogEntry) (LogEntry, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO maintenance_logs (schedule_id, item_id, performed_on, performer, result, cost, next_due, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,NOW()) RETURNING id, created_at`,
		entry.ScheduleID, entry.ItemID, entry.Date, entry.Performer, entry.Result, entry.Cost, entry.NextDue).
		Scan(&entry.ID, &entry.CreatedAt)
	return entry, err
}
