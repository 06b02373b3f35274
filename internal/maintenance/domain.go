// Package maintenance schedules recurring upkeep for tracked items and keeps
// the log of completed work.
package maintenance

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockroom/internal/shared"
)

// Kind classifies the work a schedule describes.
type Kind string

const (
	KindRoutine     Kind = "ROUTINE"
	KindInspection  Kind = "INSPECTION"
	KindReplacement Kind = "REPLACEMENT"
	KindRepair      Kind = "REPAIR"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindRoutine, KindInspection, KindReplacement, KindRepair:
		return true
	}
	return false
}

// Frequency is the recurrence rule of a schedule.
type Frequency string

const (
	FrequencyWeekly    Frequency = "WEEKLY"
	FrequencyMonthly   Frequency = "MONTHLY"
	FrequencyQuarterly Frequency = "QUARTERLY"
	FrequencyYearly    Frequency = "YEARLY"
	FrequencyOnce      Frequency = "ONCE"
)

// Valid reports whether f is a known frequency.
func (f Frequency) Valid() bool {
	switch f {
	case FrequencyWeekly, FrequencyMonthly, FrequencyQuarterly, FrequencyYearly, FrequencyOnce:
		return true
	}
	return false
}

// Status is the advisory due state of a schedule. It is derived, never stored.
type Status string

const (
	StatusOK       Status = "OK"
	StatusUpcoming Status = "UPCOMING"
	StatusOverdue  Status = "OVERDUE"
)

// Schedule is a recurring maintenance obligation on one item.
type Schedule struct {
	ID          int64
	ItemID      int64
	Kind        Kind
	Frequency   Frequency
	Description string
	AssignedTo  string
	LastDone    *time.Time
	NextDue     time.Time
	CreatedAt   time.Time
}

// LogEntry records one completed piece of work. Append-only.
type LogEntry struct {
	ID         int64
	ScheduleID int64
	ItemID     int64
	Date       time.Time
	Performer  string
	Result     string
	Cost       *decimal.Decimal
	NextDue    *time.Time
	CreatedAt  time.Time
}

// CreateInput registers a schedule.
type CreateInput struct {
	ItemID      int64
	Kind        Kind
	Frequency   Frequency
	Description string
	AssignedTo  string
	StartDue    time.Time
	Actor       string
}

// CompleteInput records work done against a schedule.
type CompleteInput struct {
	ScheduleID int64
	Date       time.Time
	Performer  string
	Result     string
	Cost       *decimal.Decimal
}

// DueSchedule pairs a schedule with its status on a given day.
type DueSchedule struct {
	Schedule
	Status Status
}

// ErrScheduleNotFound indicates a missing schedule row.
var ErrScheduleNotFound = fmt.Errorf("maintenance schedule %w", shared.ErrNotFound)

func validationError(msg string) error {
	return fmt.Errorf("maintenance: %s: %w", msg, shared.ErrValidation)
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
