package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/stockroom/internal/inventory"
	jobmetrics "github.com/odyssey-erp/stockroom/internal/jobs"
)

// WriteOffEnqueuer submits write-off notices to the queue.
type WriteOffEnqueuer interface {
	EnqueueWriteOff(ctx context.Context, payload WriteOffPayload) (*asynq.TaskInfo, error)
}

// WriteOffNotifier forwards inventory write-offs to the job queue.
type WriteOffNotifier struct {
	queue WriteOffEnqueuer
}

// NewWriteOffNotifier constructs a notifier backed by queue.
func NewWriteOffNotifier(queue WriteOffEnqueuer) *WriteOffNotifier {
	return &WriteOffNotifier{queue: queue}
}

// HandleInventoryWriteOff implements inventory.IntegrationHandler.
func (n *WriteOffNotifier) HandleInventoryWriteOff(ctx context.Context, evt inventory.WriteOffEvent) error {
	if n == nil || n.queue == nil {
		return nil
	}
	_, err := n.queue.EnqueueWriteOff(ctx, WriteOffPayload{
		LoanID:   evt.LoanID,
		ItemID:   evt.ItemID,
		ItemCode: evt.ItemCode,
		Quantity: evt.Quantity,
		Borrower: evt.Borrower,
		Date:     evt.Date,
	})
	return err
}

// WriteOffJob records write-off notices on the worker side.
type WriteOffJob struct {
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewWriteOffJob wires dependencies for the write-off handler.
func NewWriteOffJob(logger *slog.Logger, metrics *jobmetrics.Metrics) *WriteOffJob {
	return &WriteOffJob{Logger: logger, Metrics: metrics}
}

// Handle processes inventory write-off tasks.
func (j *WriteOffJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload WriteOffPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	metrics := j.Metrics
	if metrics == nil {
		metrics = defaultJobMetrics
	}
	tracker := metrics.Track(TaskInventoryWriteOff)
	logger := j.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Warn("inventory written off",
		slog.String("job", TaskInventoryWriteOff),
		slog.Int64("loan_id", payload.LoanID),
		slog.Int64("item_id", payload.ItemID),
		slog.String("item_code", payload.ItemCode),
		slog.Int("quantity", payload.Quantity),
		slog.String("borrower", payload.Borrower),
		slog.String("date", payload.Date.Format("2006-01-02")),
	)
	metrics.AddWriteOff()
	return tracker.End(nil)
}
