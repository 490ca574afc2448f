package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/jmylchreest/flipdeck-api/internal/constants"
	"github.com/jmylchreest/flipdeck-api/internal/service"
)

// Error codes returned in APIError.Code. Clients switch on these rather than
// on the message, which is user-facing and may change.
const (
	CodeInsufficientCredits = "insufficient_credits"
	CodePlanRestricted      = "plan_restricted"
	CodeExportRestricted    = "export_restricted"
	CodeDailyLimitReached   = "daily_limit_reached"
	CodeCooldownActive      = "cooldown_active"
	CodeTaskAlreadyClaimed  = "task_already_claimed"
	CodeInvalidTransition   = "invalid_transition"
	CodeNotFound            = "not_found"
	CodeModelNotFound       = "model_not_found"
	CodeValidation          = "validation_failed"
	CodeConflict            = "conflict"
	CodeIdempotencyKeyReuse = "idempotency_key_reused"
	CodeInternal            = "internal_error"
)

// APIError is the error body for every domain failure.
// It implements huma.StatusError so it can be returned from handlers.
type APIError struct {
	Status  int                  `json:"-"`
	Title   string               `json:"title,omitempty"`
	Code    string               `json:"code"`
	Detail  string               `json:"detail"`
	Fields  []service.FieldError `json:"fields,omitempty"`
	Details map[string]any       `json:"details,omitempty"`

	headers http.Header
}

func (e *APIError) Error() string {
	return e.Detail
}

func (e *APIError) GetStatus() int {
	return e.Status
}

// GetHeaders lets huma copy response headers such as Retry-After.
func (e *APIError) GetHeaders() http.Header {
	return e.headers
}

func newAPIError(status int, code, detail string) *APIError {
	return &APIError{
		Status: status,
		Title:  http.StatusText(status),
		Code:   code,
		Detail: detail,
	}
}

// errorContext carries what a handler knows about the failed request so the
// message can be specific.
type errorContext struct {
	Plan    string
	Feature string
	Balance int64
	Cost    int64
}

// toAPIError maps a service error to its HTTP representation. Unknown errors
// are logged and returned as an opaque 500.
func toAPIError(ctx context.Context, err error, ec errorContext) error {
	var cooldown *service.CooldownActiveError
	var validation *service.ValidationError

	switch {
	case errors.Is(err, service.ErrInsufficientCredits):
		e := newAPIError(http.StatusPaymentRequired, CodeInsufficientCredits, constants.InsufficientCreditsMessage(ec.Balance, ec.Cost))
		e.Details = map[string]any{"balance": ec.Balance, "cost": ec.Cost}
		return e

	case errors.Is(err, service.ErrExportRestricted):
		return newAPIError(http.StatusForbidden, CodeExportRestricted, constants.PlanRestrictedMessage(ec.Plan, "Export"))

	case errors.Is(err, service.ErrPlanRestricted):
		feature := ec.Feature
		if feature == "" {
			feature = "This feature"
		}
		return newAPIError(http.StatusForbidden, CodePlanRestricted, constants.PlanRestrictedMessage(ec.Plan, feature))

	case errors.Is(err, service.ErrDailyLimitReached):
		return newAPIError(http.StatusTooManyRequests, CodeDailyLimitReached, constants.DailyLimitMessage(ec.Plan))

	case errors.As(err, &cooldown):
		e := newAPIError(http.StatusTooManyRequests, CodeCooldownActive, constants.CooldownMessage(cooldown.RemainingMinutes))
		e.Details = map[string]any{"remaining_minutes": cooldown.RemainingMinutes}
		e.headers = http.Header{"Retry-After": []string{strconv.Itoa(cooldown.RemainingMinutes * 60)}}
		return e

	case errors.Is(err, service.ErrTaskAlreadyClaimed):
		return newAPIError(http.StatusConflict, CodeTaskAlreadyClaimed, "This task was just claimed by someone else. Refresh the list and pick another one.")

	case errors.Is(err, service.ErrInvalidTransition):
		return newAPIError(http.StatusConflict, CodeInvalidTransition, "This job has already finished.")

	case errors.Is(err, service.ErrIdempotencyKeyReused):
		return newAPIError(http.StatusConflict, CodeIdempotencyKeyReuse, "This Idempotency-Key was already used for a different estimation. Send a new key.")

	case errors.Is(err, service.ErrLedgerConflict):
		return newAPIError(http.StatusConflict, CodeConflict, "The request conflicted with a concurrent update. Please retry.")

	case errors.As(err, &validation):
		e := newAPIError(http.StatusUnprocessableEntity, CodeValidation, "The request has invalid fields.")
		e.Fields = validation.Fields
		return e

	case errors.Is(err, service.ErrInvalidAmount):
		return newAPIError(http.StatusUnprocessableEntity, CodeValidation, "Credit amount must be positive.")

	case errors.Is(err, service.ErrModelNotFound):
		return newAPIError(http.StatusNotFound, CodeModelNotFound, "No market data is available for this model yet.")

	case errors.Is(err, service.ErrTaskNotFound):
		return newAPIError(http.StatusNotFound, CodeNotFound, "Task not found.")
	case errors.Is(err, service.ErrJobNotFound):
		return newAPIError(http.StatusNotFound, CodeNotFound, "Job not found.")
	case errors.Is(err, service.ErrEstimationNotFound):
		return newAPIError(http.StatusNotFound, CodeNotFound, "Estimation not found.")
	case errors.Is(err, service.ErrAccountNotFound):
		return newAPIError(http.StatusNotFound, CodeNotFound, "Credit account not found.")
	}

	slog.ErrorContext(ctx, "unhandled service error", "error", err)
	return newAPIError(http.StatusInternalServerError, CodeInternal, "Something went wrong on our side. Please try again.")
}
