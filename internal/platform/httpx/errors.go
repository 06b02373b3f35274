// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/odyssey-erp/stockroom/internal/shared"
)

// StatusFor maps engine errors to HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, shared.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, shared.ErrInsufficientStock):
		return http.StatusUnprocessableEntity
	case errors.Is(err, shared.ErrInvalidState),
		errors.Is(err, shared.ErrDuplicateCode),
		errors.Is(err, shared.ErrIdempotencyConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// RespondError maps engine errors to HTTP responses using RFC7807.
// Server errors never leak their message.
func RespondError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		Problem(w, status, "Internal Error", "")
		return
	}
	Problem(w, status, titleFor(err), err.Error())
}

func titleFor(err error) string {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		return "Not Found"
	case errors.Is(err, shared.ErrValidation):
		return "Validation Failed"
	case errors.Is(err, shared.ErrInsufficientStock):
		return "Insufficient Stock"
	case errors.Is(err, shared.ErrInvalidState):
		return "Invalid State"
	case errors.Is(err, shared.ErrDuplicateCode):
		return "Duplicate Code"
	case errors.Is(err, shared.ErrIdempotencyConflict):
		return "Duplicate Request"
	default:
		return http.StatusText(StatusFor(err))
	}
}
