package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskMaintenanceDueScan scans maintenance schedules for due work.
	TaskMaintenanceDueScan = "maintenance:due_scan"
	// TaskInventoryWriteOff follows up on a loan returned LOST.
	TaskInventoryWriteOff = "inventory:write_off"
)

// DueScanPayload carries scheduling metadata for a due scan. A zero Today
// means the day the task runs.
type DueScanPayload struct {
	Today time.Time `json:"today,omitempty"`
	Limit int       `json:"limit,omitempty"`
}

// NewDueScanTask constructs an Asynq task for the maintenance due scan.
func NewDueScanTask(payload DueScanPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskMaintenanceDueScan, body, asynq.Queue(QueueDefault)), nil
}

// WriteOffPayload describes stock lost on a loan.
type WriteOffPayload struct {
	LoanID   int64     `json:"loan_id"`
	ItemID   int64     `json:"item_id"`
	ItemCode string    `json:"item_code"`
	Quantity int       `json:"quantity"`
	Borrower string    `json:"borrower"`
	Date     time.Time `json:"date"`
}

// NewWriteOffTask constructs an Asynq task for a write-off notice.
func NewWriteOffTask(payload WriteOffPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskInventoryWriteOff, body, asynq.Queue(QueueDefault), asynq.MaxRetry(5)), nil
}
