package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/stockroom/internal/jobs"
	"github.com/odyssey-erp/stockroom/internal/maintenance"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

const defaultDueScanLimit = 500

// DueLister lists schedules that are overdue or coming due.
type DueLister interface {
	ListDue(ctx context.Context, today time.Time, limit int) ([]maintenance.DueSchedule, error)
}

// DueScanJob reports maintenance work that is overdue or due within the
// upcoming window and publishes the counts as gauges.
type DueScanJob struct {
	Schedules DueLister
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
	clock     func() time.Time
}

// NewDueScanJob wires dependencies for the due scan handler.
func NewDueScanJob(schedules DueLister, logger *slog.Logger, metrics *jobmetrics.Metrics) *DueScanJob {
	return &DueScanJob{
		Schedules: schedules,
		Logger:    logger,
		Metrics:   metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle processes maintenance due scan tasks.
func (j *DueScanJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Schedules == nil {
		return errors.New("maintenance due scan: handler not configured")
	}
	var payload DueScanPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	if payload.Today.IsZero() {
		payload.Today = j.now()
	}
	if payload.Limit <= 0 {
		payload.Limit = defaultDueScanLimit
	}

	tracker := j.metrics().Track(TaskMaintenanceDueScan)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger().With(slog.String("today", payload.Today.Format("2006-01-02")))
	due, err := j.Schedules.ListDue(ctx, payload.Today, payload.Limit)
	if err != nil {
		resultErr = err
		logger.Error("list due schedules", slog.Any("error", err))
		return resultErr
	}

	counts := map[string]int{
		string(maintenance.StatusOverdue):  0,
		string(maintenance.StatusUpcoming): 0,
	}
	for _, schedule := range due {
		counts[string(schedule.Status)]++
		if schedule.Status == maintenance.StatusOverdue {
			logger.Warn("maintenance overdue",
				slog.Int64("schedule_id", schedule.ID),
				slog.Int64("item_id", schedule.ItemID),
				slog.String("kind", string(schedule.Kind)),
				slog.String("assigned_to", schedule.AssignedTo),
				slog.String("next_due", schedule.NextDue.Format("2006-01-02")),
			)
		}
	}
	j.metrics().SetDueSchedules(counts)

	logger.Info("completed maintenance due scan",
		slog.Int("overdue", counts[string(maintenance.StatusOverdue)]),
		slog.Int("upcoming", counts[string(maintenance.StatusUpcoming)]),
	)
	return resultErr
}

func (j *DueScanJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskMaintenanceDueScan))
	}
	return slog.Default().With(slog.String("job", TaskMaintenanceDueScan))
}

func (j *DueScanJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *DueScanJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
