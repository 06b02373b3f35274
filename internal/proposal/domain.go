// Package proposal tracks purchase proposals for new stock from request
// through approval to purchase.
package proposal

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockroom/internal/inventory"
	"github.com/odyssey-erp/stockroom/internal/shared"
)

// Status is the lifecycle state of a proposal.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusApproved  Status = "APPROVED"
	StatusRejected  Status = "REJECTED"
	StatusPurchased Status = "PURCHASED"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected, StatusPurchased:
		return true
	}
	return false
}

// CanTransition reports whether a proposal in s may move to next.
// REJECTED and PURCHASED are terminal.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusApproved || next == StatusRejected
	case StatusApproved:
		return next == StatusPurchased
	}
	return false
}

// Editable reports whether the content of a proposal may still change.
func (s Status) Editable() bool {
	return s == StatusPending
}

// Deletable reports whether a proposal may be withdrawn.
func (s Status) Deletable() bool {
	return s == StatusPending || s == StatusRejected
}

// Priority orders proposals for the approver.
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityNormal Priority = "NORMAL"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// Line is one requested material, tool or device.
type Line struct {
	Name           string
	Category       inventory.Category
	Unit           string
	Quantity       int
	EstimatedPrice decimal.Decimal
	Reason         string
}

// Total returns quantity times estimated price.
func (l Line) Total() decimal.Decimal {
	return l.EstimatedPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Proposal is a request to buy new stock.
type Proposal struct {
	ID           int64
	Code         string
	Requester    string
	Department   string
	Priority     Priority
	Status       Status
	Reason       string
	Note         string
	Approver     string
	DecidedAt    *time.Time
	RejectReason string
	PurchasedAt  *time.Time
	Lines        []Line
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Total returns the estimated cost of every line.
func (p Proposal) Total() decimal.Decimal {
	total := decimal.Zero
	for _, line := range p.Lines {
		total = total.Add(line.Total())
	}
	return total
}

// LineInput describes one requested line.
type LineInput struct {
	Name           string
	Category       inventory.Category
	Unit           string
	Quantity       int
	EstimatedPrice decimal.Decimal
	Reason         string
}

// CreateInput opens a proposal.
type CreateInput struct {
	Requester  string
	Department string
	Priority   Priority
	Reason     string
	Note       string
	Lines      []LineInput
}

// UpdateInput replaces the content of a pending proposal. Empty Department,
// Priority and Reason keep the current values; Note and Lines always replace.
type UpdateInput struct {
	Department string
	Priority   Priority
	Reason     string
	Note       string
	Lines      []LineInput
	Actor      string
}

// CodeFormat renders the code of the seq-th proposal of year.
func CodeFormat(year, seq int) string {
	return fmt.Sprintf("DX-%d-%04d", year, seq)
}

func validationError(msg string) error {
	return fmt.Errorf("proposal: %s: %w", msg, shared.ErrValidation)
}

func invalidState(p Proposal, action string) error {
	return fmt.Errorf("proposal: %s is %s, cannot %s: %w", p.Code, p.Status, action, shared.ErrInvalidState)
}
