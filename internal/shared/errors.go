package shared

import "errors"

// Engine error taxonomy. Modules wrap these with context; callers match with errors.Is.
var (
	// ErrNotFound indicates an item, loan or schedule id did not resolve.
	ErrNotFound = errors.New("not found")
	// ErrInsufficientStock indicates a decrease larger than the quantity on hand.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrInvalidState indicates an illegal lifecycle transition.
	ErrInvalidState = errors.New("invalid state")
	// ErrDuplicateCode indicates a manually supplied item code is already taken.
	ErrDuplicateCode = errors.New("duplicate code")
	// ErrValidation indicates malformed input (non-positive quantity, missing field).
	ErrValidation = errors.New("validation failed")
	// ErrAllocationExhausted indicates the code allocator could not find a free code.
	// Operators should treat it as fatal; it is never a user error.
	ErrAllocationExhausted = errors.New("code allocation exhausted")
)

// IsClientError reports whether err stems from caller input rather than the system.
func IsClientError(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrInvalidState) ||
		errors.Is(err, ErrDuplicateCode) ||
		errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrIdempotencyConflict)
}
