package service

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInsufficientCredits indicates the balance cannot cover a debit.
	ErrInsufficientCredits = errors.New("insufficient credits")

	// ErrDailyLimitReached indicates the user has used all community claims for the UTC day.
	ErrDailyLimitReached = errors.New("daily community job limit reached")

	// ErrCooldownActive matches any *CooldownActiveError.
	ErrCooldownActive = errors.New("claim cooldown active")

	// ErrTaskAlreadyClaimed indicates the task is no longer available.
	ErrTaskAlreadyClaimed = errors.New("task already claimed")

	// ErrPlanRestricted indicates the plan does not grant the requested feature.
	ErrPlanRestricted = errors.New("feature not available on this plan")

	// ErrExportRestricted indicates the plan cannot export estimations.
	ErrExportRestricted = errors.New("export not available on this plan")

	ErrTaskNotFound       = errors.New("task not found")
	ErrJobNotFound        = errors.New("job not found")
	ErrAccountNotFound    = errors.New("credit account not found")
	ErrEstimationNotFound = errors.New("estimation not found")

	// ErrModelNotFound indicates no market observations exist for the model.
	ErrModelNotFound = errors.New("no market data for model")

	// ErrInvalidTransition indicates the job is already in a terminal state.
	ErrInvalidTransition = errors.New("invalid job state transition")

	// ErrIdempotencyKeyReused indicates an idempotency key was sent again with
	// a different request body.
	ErrIdempotencyKeyReused = errors.New("idempotency key reused with a different request")

	// ErrLedgerConflict indicates the balance moved while a reset was in progress.
	ErrLedgerConflict = errors.New("ledger conflict")

	// ErrInvalidAmount indicates a non-positive debit or negative credit.
	ErrInvalidAmount = errors.New("invalid credit amount")

	// ErrInvalidRequest matches any *ValidationError.
	ErrInvalidRequest = errors.New("invalid request")
)

// CooldownActiveError carries the wait before the next claim is allowed.
type CooldownActiveError struct {
	RemainingMinutes int
}

func (e *CooldownActiveError) Error() string {
	return fmt.Sprintf("claim cooldown active: %d minutes remaining", e.RemainingMinutes)
}

// Is reports ErrCooldownActive as a match.
func (e *CooldownActiveError) Is(target error) bool {
	return target == ErrCooldownActive
}

// FieldError is a single rejected request field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError lists every rejected field of a request.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "invalid request: " + strings.Join(parts, "; ")
}

// Is reports ErrInvalidRequest as a match.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidRequest
}
