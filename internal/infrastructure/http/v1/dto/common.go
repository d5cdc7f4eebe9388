// Package dto provides Data Transfer Objects for API requests/responses.
package dto

import (
	"pharmapos/internal/core/apperror"
	"pharmapos/internal/core/types"
)

// Money renders an amount for display. Full precision stays in the ledger.
func Money(m types.Money) string {
	return types.Display(m)
}

// ErrorResponse for error details.
type ErrorResponse struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]any    `json:"details,omitempty"`
}

// FromAppError builds the error body returned for an AppError.
func FromAppError(e *apperror.AppError) ErrorResponse {
	return ErrorResponse{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	}
}

// Warning is a non-fatal condition reported alongside a successful response.
type Warning struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
