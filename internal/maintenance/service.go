package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/odyssey-erp/stockroom/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetSchedule(ctx context.Context, id int64) (Schedule, error)
	ListDueBefore(ctx context.Context, cutoff time.Time, limit int) ([]Schedule, error)
	ListLogs(ctx context.Context, scheduleID int64) ([]LogEntry, error)
}

// ItemLookup resolves item ids against the inventory catalog.
type ItemLookup interface {
	ItemExists(ctx context.Context, id int64) (bool, error)
}

// AuditPort records mutations into the audit trail.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service manages maintenance schedules.
type Service struct {
	repo   RepositoryPort
	items  ItemLookup
	audit  AuditPort
	logger *slog.Logger
	now    func() time.Time
}

// NewService builds Service. audit may be nil.
func NewService(repo RepositoryPort, items ItemLookup, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, items: items, audit: audit, logger: logger, now: time.Now}
}

// Create registers a schedule due first on StartDue.
func (s *Service) Create(ctx context.Context, input CreateInput) (Schedule, error) {
	if input.ItemID <= 0 {
		return Schedule{}, validationError("item required")
	}
	if !input.Kind.Valid() {
		return Schedule{}, validationError(fmt.Sprintf("unknown kind %q", input.Kind))
	}
	if !input.Frequency.Valid() {
		return Schedule{}, validationError(fmt.Sprintf("unknown frequency %q", input.Frequency))
	}
	if input.StartDue.IsZero() {
		return Schedule{}, validationError("start due date required")
	}
	if s.items != nil {
		ok, err := s.items.ItemExists(ctx, input.ItemID)
		if err != nil {
			return Schedule{}, err
		}
		if !ok {
			return Schedule{}, fmt.Errorf("maintenance: item %d: %w", input.ItemID, shared.ErrNotFound)
		}
	}
	var schedule Schedule
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		schedule, err = tx.InsertSchedule(ctx, Schedule{
			ItemID:      input.ItemID,
			Kind:        input.Kind,
			Frequency:   input.Frequency,
			Description: input.Description,
			AssignedTo:  input.AssignedTo,
			NextDue:     dateOnly(input.StartDue),
		})
		return err
	})
	if err != nil {
		return Schedule{}, err
	}
	s.recordAudit(ctx, shared.AuditCreate, schedule.ID, input.Actor,
		fmt.Sprintf("%s %s schedule for item %d", schedule.Frequency, schedule.Kind, schedule.ItemID))
	return schedule, nil
}

// Complete logs work done on a schedule and rolls its due date forward from
// the completion date. A ONCE schedule is removed after completion. Early
// and late completions are both accepted.
func (s *Service) Complete(ctx context.Context, input CompleteInput) (LogEntry, error) {
	if input.ScheduleID <= 0 {
		return LogEntry{}, validationError("schedule required")
	}
	if input.Performer == "" {
		return LogEntry{}, validationError("performer required")
	}
	if input.Cost != nil && input.Cost.IsNegative() {
		return LogEntry{}, validationError("cost must be >= 0")
	}
	if input.Cost != nil && !input.Cost.Equal(input.Cost.Round(2)) {
		return LogEntry{}, validationError("cost has more than 2 decimal places")
	}
	date := input.Date
	if date.IsZero() {
		date = s.now()
	}
	date = dateOnly(date)

	var entry LogEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		schedule, err := tx.GetScheduleForUpdate(ctx, input.ScheduleID)
		if err != nil {
			return fmt.Errorf("maintenance: schedule %d: %w", input.ScheduleID, err)
		}
		entry = LogEntry{
			ScheduleID: schedule.ID,
			ItemID:     schedule.ItemID,
			Date:       date,
			Performer:  input.Performer,
			Result:     input.Result,
			Cost:       input.Cost,
		}
		next, recurring := Advance(date, schedule.Frequency)
		if recurring {
			entry.NextDue = &next
			schedule.LastDone = &date
			schedule.NextDue = next
			if err := tx.SaveSchedule(ctx, schedule); err != nil {
				return err
			}
		}
		entry, err = tx.AppendLog(ctx, entry)
		if err != nil {
			return err
		}
		if !recurring {
			return tx.DeleteSchedule(ctx, schedule.ID)
		}
		return nil
	})
	if err != nil {
		return LogEntry{}, err
	}
	s.recordAudit(ctx, shared.AuditMaintenance, entry.ScheduleID, input.Performer,
		fmt.Sprintf("maintenance done on item %d", entry.ItemID))
	return entry, nil
}

// Delete removes a schedule. Its log entries are kept.
func (s *Service) Delete(ctx context.Context, id int64, actor string) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.DeleteSchedule(ctx, id); err != nil {
			return fmt.Errorf("maintenance: schedule %d: %w", id, err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, shared.AuditDelete, id, actor, "schedule removed")
	return nil
}

// Get loads a schedule.
func (s *Service) Get(ctx context.Context, id int64) (Schedule, error) {
	schedule, err := s.repo.GetSchedule(ctx, id)
	if err != nil {
		return Schedule{}, fmt.Errorf("maintenance: schedule %d: %w", id, err)
	}
	return schedule, nil
}

// Logs lists the work recorded against a schedule, newest first.
func (s *Service) Logs(ctx context.Context, scheduleID int64) ([]LogEntry, error) {
	return s.repo.ListLogs(ctx, scheduleID)
}

// ListDue returns schedules that are overdue or due within the upcoming
// window as of today, each with its status.
func (s *Service) ListDue(ctx context.Context, today time.Time, limit int) ([]DueSchedule, error) {
	if today.IsZero() {
		today = s.now()
	}
	today = dateOnly(today)
	schedules, err := s.repo.ListDueBefore(ctx, today.AddDate(0, 0, upcomingWindow), limit)
	if err != nil {
		return nil, err
	}
	out := make([]DueSchedule, 0, len(schedules))
	for _, schedule := range schedules {
		out = append(out, DueSchedule{Schedule: schedule, Status: DueStatus(schedule.NextDue, today)})
	}
	return out, nil
}

func (s *Service) recordAudit(ctx context.Context, action string, scheduleID int64, actor, description string) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		Action:      action,
		Description: description,
		Actor:       actor,
		Entity:      "maintenance_schedule",
		EntityID:    strconv.FormatInt(scheduleID, 10),
	})
	if err != nil {
		s.logger.Warn("record audit", slog.String("action", action), slog.Any("error", err))
	}
}
