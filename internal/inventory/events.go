package inventory

import (
	"context"
	"time"
)

// WriteOffEvent is emitted after a loan comes back LOST. Stock is not
// restored, so downstream consumers get a chance to alert or book the loss.
type WriteOffEvent struct {
	LoanID   int64
	ItemID   int64
	ItemCode string
	Quantity int
	Borrower string
	Date     time.Time
}

// IntegrationHandler receives inventory events for follow-up processing.
type IntegrationHandler interface {
	HandleInventoryWriteOff(ctx context.Context, evt WriteOffEvent) error
}
