package shared

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Audit actions emitted by the caller layer.
const (
	AuditCreate      = "CREATE"
	AuditImport      = "IMPORT"
	AuditExport      = "EXPORT"
	AuditBorrow      = "BORROW"
	AuditReturn      = "RETURN"
	AuditWriteOff    = "WRITE_OFF"
	AuditAdjust      = "ADJUST"
	AuditMaintenance = "MAINTENANCE"
	AuditDelete      = "DELETE"
	AuditUpdate      = "UPDATE"
	AuditApprove     = "APPROVE"
	AuditReject      = "REJECT"
	AuditPurchase    = "PURCHASE"
)

// AuditLog represents a record stored in audit_logs.
type AuditLog struct {
	Action      string
	Description string
	Actor       string
	Entity      string
	EntityID    string
	Meta        map[string]any
	At          time.Time
}

// AuditLogger writes records into audit_logs. The log is append-only.
type AuditLogger struct {
	pool *pgxpool.Pool
}

// NewAuditLogger returns a new AuditLogger.
func NewAuditLogger(pool *pgxpool.Pool) *AuditLogger {
	return &AuditLogger{pool: pool}
}

// Record persists the log entry.
func (l *AuditLogger) Record(ctx context.Context, log AuditLog) error {
	if l == nil || l.pool == nil {
		return errors.New("audit logger not initialised")
	}
	if log.Action == "" || log.Description == "" {
		return errors.New("audit log requires action/description")
	}
	if log.At.IsZero() {
		log.At = time.Now().UTC()
	}
	metaJSON, err := json.Marshal(log.Meta)
	if err != nil {
		return err
	}
	_, err = l.pool.Exec(ctx, `INSERT INTO audit_logs (action, description, actor, entity, entity_id, meta, occurred_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		log.Action, log.Description, log.Actor, log.Entity, log.EntityID, metaJSON, log.At)
	return err
}

// LogAuditor writes audit records to a structured logger. Used when no
// database is configured.
type LogAuditor struct {
	Logger *slog.Logger
}

// Record emits the entry at info level.
func (a LogAuditor) Record(ctx context.Context, log AuditLog) error {
	if a.Logger == nil {
		return nil
	}
	a.Logger.InfoContext(ctx, "audit",
		slog.String("action", log.Action),
		slog.String("description", log.Description),
		slog.String("actor", log.Actor),
		slog.String("entity", log.Entity),
		slog.String("entity_id", log.EntityID),
	)
	return nil
}
