package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/phrazzld/taskrelay/internal/api/shared"
	"github.com/phrazzld/taskrelay/internal/domain"
	"github.com/phrazzld/taskrelay/internal/resultbus"
	"github.com/phrazzld/taskrelay/internal/service/auth"
	"github.com/phrazzld/taskrelay/internal/task"
)

// Access errors raised by handlers.
var (
	// ErrUnauthorized is returned when a protected handler runs without an identity.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden is returned when an identity acts on another identity's resources.
	ErrForbidden = errors.New("forbidden")
)

// MapErrorToStatusCode maps internal errors to appropriate HTTP status codes
// based on the error type. This prevents leaking internal error types or
// messages to clients.
func MapErrorToStatusCode(err error) int {
	var paramErr *task.ParameterError
	var fieldErrs validator.ValidationErrors

	switch {
	case err == nil:
		return http.StatusInternalServerError

	// Authentication errors
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrExpiredToken),
		errors.Is(err, auth.ErrMissingToken),
		errors.Is(err, auth.ErrMissingIdentity),
		errors.Is(err, auth.ErrWrongTokenType):
		return http.StatusUnauthorized

	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden

	// Not found errors
	case errors.Is(err, task.ErrUnknownKind):
		return http.StatusNotFound

	// Bad request errors
	case errors.As(err, &paramErr),
		errors.As(err, &fieldErrs),
		errors.Is(err, domain.ErrValidation),
		errors.Is(err, shared.ErrEmptyBody),
		errors.Is(err, errInvalidBody):
		return http.StatusBadRequest

	// Broker unavailable
	case errors.Is(err, resultbus.ErrClosed),
		errors.Is(err, resultbus.ErrHealthCheck),
		errors.Is(err, errNoProcessor),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable

	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a sanitized, user-friendly error message
// based on the error type. This prevents leaking sensitive internal details.
func GetSafeErrorMessage(err error) string {
	if err == nil {
		return "An unexpected error occurred"
	}

	var unknownKind *task.UnknownKindError
	var paramErr *task.ParameterError
	var validationErr *domain.ValidationError
	var fieldErrs validator.ValidationErrors

	switch {
	case errors.Is(err, ErrUnauthorized):
		return "Authentication required"

	case errors.Is(err, ErrForbidden):
		return "Access to this resource is not allowed"

	case errors.Is(err, auth.ErrExpiredToken):
		return "Token expired"

	case errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrMissingToken),
		errors.Is(err, auth.ErrMissingIdentity),
		errors.Is(err, auth.ErrWrongTokenType):
		return "Invalid token"

	// Task errors carry messages written for the submitter.
	case errors.As(err, &unknownKind):
		return unknownKind.Error()
	case errors.As(err, &paramErr):
		return paramErr.Error()

	case errors.As(err, &validationErr):
		return validationErr.Error()
	case errors.As(err, &fieldErrs):
		return SanitizeValidationError(err)

	case errors.Is(err, shared.ErrEmptyBody):
		return "Request body is required"
	case errors.Is(err, errInvalidBody):
		return "Invalid request format"

	case errors.Is(err, resultbus.ErrClosed),
		errors.Is(err, resultbus.ErrHealthCheck),
		errors.Is(err, errNoProcessor),
		errors.Is(err, context.DeadlineExceeded):
		return "Task queue unavailable"

	default:
		return "An unexpected error occurred"
	}
}

// HandleAPIError writes the response for err. A non-empty message overrides
// the default safe message; the detailed error only reaches the logs.
func HandleAPIError(w http.ResponseWriter, r *http.Request, err error, message string) {
	status := MapErrorToStatusCode(err)
	if message == "" {
		message = GetSafeErrorMessage(err)
	}

	var opts []shared.ResponseOption
	if status == http.StatusUnauthorized {
		opts = append(opts, shared.WithElevatedLogLevel())
	}
	shared.RespondWithErrorAndLog(w, r, status, message, err, opts...)
}

// SanitizeValidationError removes sensitive details from validation errors
// and returns a user-friendly message.
func SanitizeValidationError(err error) string {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return "Validation error"
	}

	fe := fieldErrs[0]
	return fmt.Sprintf("Invalid %s: %s", strings.ToLower(fe.Field()), getValidationTagMessage(fe.Tag()))
}

// getValidationTagMessage maps validation tags to user-friendly error messages
func getValidationTagMessage(tag string) string {
	switch tag {
	case "required":
		return "required field"
	case "min":
		return "too short"
	case "max":
		return "too long"
	case "oneof":
		return "invalid value"
	default:
		return "validation failed"
	}
}
