package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/trading-arena/internal/types"
)

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	// CategoryValidation represents bad caller input
	CategoryValidation ErrorCategory = "validation"
	// CategoryNotFound represents an unresolvable competition, agent or token
	CategoryNotFound ErrorCategory = "not_found"
	// CategoryConflict represents a state conflict such as a duplicate join or a full competition
	CategoryConflict ErrorCategory = "conflict"
	// CategoryPolicy represents a rule the request violates (constraints, balance, size cap, chain policy)
	CategoryPolicy ErrorCategory = "policy"
	// CategoryUpstream represents a failing price oracle or perps provider
	CategoryUpstream ErrorCategory = "upstream"
	// CategoryAuthorization represents a caller that does not own the resource
	CategoryAuthorization ErrorCategory = "authorization"
	// CategoryDatabase represents persistence errors
	CategoryDatabase ErrorCategory = "database"
	// CategorySystem represents unexpected internal errors
	CategorySystem ErrorCategory = "system"
)

// CategorizedError represents an error with category and HTTP status code
type CategorizedError struct {
	Category   ErrorCategory
	StatusCode int
	Code       string
	Message    string
	Details    map[string]interface{}
	Cause      error
}

// Error implements the error interface
func (e *CategorizedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *CategorizedError) Unwrap() error {
	return e.Cause
}

// ToServiceError converts to a ServiceError
func (e *CategorizedError) ToServiceError() *types.ServiceError {
	return &types.ServiceError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	}
}

// Validation Errors (400)

// NewValidationError creates a validation error for a single field
func NewValidationError(field, reason string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryValidation,
		StatusCode: http.StatusBadRequest,
		Code:       "INVALID_PARAMETER",
		Message:    fmt.Sprintf("invalid parameter '%s': %s", field, reason),
		Details: map[string]interface{}{
			"parameter": field,
			"reason":    reason,
		},
	}
}

// NewInvalidTransitionError creates an error for a lifecycle transition that is not allowed
func NewInvalidTransitionError(competitionID string, from, to types.CompetitionStatus) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryValidation,
		StatusCode: http.StatusBadRequest,
		Code:       "INVALID_STATE_TRANSITION",
		Message:    fmt.Sprintf("competition %s cannot move from %s to %s", competitionID, from, to),
		Details: map[string]interface{}{
			"competitionId": competitionID,
			"from":          string(from),
			"to":            string(to),
		},
	}
}

// Not Found Errors (404)

// NewNotFoundError creates a not found error
func NewNotFoundError(resource string, id string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryNotFound,
		StatusCode: http.StatusNotFound,
		Code:       "NOT_FOUND",
		Message:    fmt.Sprintf("%s not found: %s", resource, id),
		Details: map[string]interface{}{
			"resource": resource,
			"id":       id,
		},
	}
}

// Conflict Errors (409)

// NewConflictError creates a conflict error
func NewConflictError(message string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryConflict,
		StatusCode: http.StatusConflict,
		Code:       "CONFLICT",
		Message:    message,
	}
}

// NewParticipantLimitError creates an error for a competition at capacity
func NewParticipantLimitError(competitionID string, limit int) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryConflict,
		StatusCode: http.StatusConflict,
		Code:       "PARTICIPANT_LIMIT_REACHED",
		Message:    fmt.Sprintf("competition %s has reached its maximum of %d participants", competitionID, limit),
		Details: map[string]interface{}{
			"competitionId":   competitionID,
			"maxParticipants": limit,
		},
	}
}

// Policy Errors (400/403)

// NewPolicyError creates a policy violation carrying the offending values
func NewPolicyError(code, message string, details map[string]interface{}) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryPolicy,
		StatusCode: http.StatusBadRequest,
		Code:       code,
		Message:    message,
		Details:    details,
	}
}

// NewConstraintError creates a trading constraint violation naming threshold and actual value
func NewConstraintError(constraint string, actual, minimum float64) *CategorizedError {
	return NewPolicyError(
		"CONSTRAINT_VIOLATION",
		fmt.Sprintf("insufficient %s: %.2f < minimum %.2f", constraint, actual, minimum),
		map[string]interface{}{
			"constraint": constraint,
			"actual":     actual,
			"minimum":    minimum,
		},
	)
}

// NewMissingDataError is returned when a constraint is active but the oracle omitted the field
func NewMissingDataError(constraint, token string) *CategorizedError {
	return NewPolicyError(
		"CONSTRAINT_DATA_MISSING",
		fmt.Sprintf("cannot verify %s for token %s: data unavailable", constraint, token),
		map[string]interface{}{
			"constraint": constraint,
			"token":      token,
		},
	)
}

// Authorization Errors (401/403)

// NewUnauthorizedError creates an unauthorized error
func NewUnauthorizedError(message string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryAuthorization,
		StatusCode: http.StatusUnauthorized,
		Code:       "UNAUTHORIZED",
		Message:    message,
	}
}

// NewForbiddenError creates a forbidden error
func NewForbiddenError(message string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryAuthorization,
		StatusCode: http.StatusForbidden,
		Code:       "FORBIDDEN",
		Message:    message,
	}
}

// Upstream Errors (502/504)

// NewUpstreamError creates a data provider error
func NewUpstreamError(provider string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryUpstream,
		StatusCode: http.StatusBadGateway,
		Code:       "UPSTREAM_ERROR",
		Message:    fmt.Sprintf("upstream provider error: %s", provider),
		Cause:      cause,
		Details: map[string]interface{}{
			"provider": provider,
		},
	}
}

// NewUpstreamTimeoutError creates a provider timeout error
func NewUpstreamTimeoutError(provider string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryUpstream,
		StatusCode: http.StatusGatewayTimeout,
		Code:       "UPSTREAM_TIMEOUT",
		Message:    fmt.Sprintf("upstream provider timeout: %s", provider),
		Details: map[string]interface{}{
			"provider": provider,
		},
	}
}

// System Errors (5xx)

// NewInternalError creates an internal server error
func NewInternalError(message string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategorySystem,
		StatusCode: http.StatusInternalServerError,
		Code:       "INTERNAL_ERROR",
		Message:    message,
		Cause:      cause,
	}
}

// NewDatabaseError creates a database error
func NewDatabaseError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryDatabase,
		StatusCode: http.StatusInternalServerError,
		Code:       "DATABASE_ERROR",
		Message:    fmt.Sprintf("database error during %s", operation),
		Cause:      cause,
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// Categorize categorizes an existing error
func Categorize(err error) *CategorizedError {
	if err == nil {
		return nil
	}

	var catErr *CategorizedError
	if stderrors.As(err, &catErr) {
		return catErr
	}

	var svcErr *types.ServiceError
	if stderrors.As(err, &svcErr) {
		return categorizeServiceError(svcErr)
	}

	return NewInternalError("unexpected error", err)
}

// categorizeServiceError categorizes a ServiceError
func categorizeServiceError(err *types.ServiceError) *CategorizedError {
	category, status := CategorySystem, http.StatusInternalServerError
	switch err.Code {
	case "INVALID_PARAMETER", "INVALID_STATE_TRANSITION":
		category, status = CategoryValidation, http.StatusBadRequest
	case "NOT_FOUND", "COMPETITION_NOT_FOUND", "AGENT_NOT_FOUND", "TOKEN_NOT_FOUND":
		category, status = CategoryNotFound, http.StatusNotFound
	case "CONFLICT", "PARTICIPANT_LIMIT_REACHED":
		category, status = CategoryConflict, http.StatusConflict
	case "UNAUTHORIZED":
		category, status = CategoryAuthorization, http.StatusUnauthorized
	case "FORBIDDEN":
		category, status = CategoryAuthorization, http.StatusForbidden
	}
	return &CategorizedError{
		Category:   category,
		StatusCode: status,
		Code:       err.Code,
		Message:    err.Message,
		Details:    err.Details,
	}
}

// CategoryOf returns the category of err; uncategorized errors report CategorySystem
func CategoryOf(err error) ErrorCategory {
	if catErr := Categorize(err); catErr != nil {
		return catErr.Category
	}
	return ""
}

// IsCategory reports whether err carries the given category
func IsCategory(err error, category ErrorCategory) bool {
	return err != nil && CategoryOf(err) == category
}

// HasCode reports whether err is a categorized error with the given code
func HasCode(err error, code string) bool {
	var catErr *CategorizedError
	return stderrors.As(err, &catErr) && catErr.Code == code
}

// GetHTTPStatusCode returns the HTTP status code for an error
func GetHTTPStatusCode(err error) int {
	if catErr := Categorize(err); catErr != nil {
		return catErr.StatusCode
	}
	return http.StatusInternalServerError
}

// IsRetryable determines if an error is retryable
func IsRetryable(err error) bool {
	catErr := Categorize(err)
	if catErr == nil {
		return false
	}

	switch catErr.Category {
	case CategoryUpstream, CategoryDatabase:
		return true
	case CategorySystem:
		return catErr.StatusCode == http.StatusServiceUnavailable ||
			catErr.StatusCode == http.StatusGatewayTimeout
	default:
		return false
	}
}

// IsUserError determines if an error is a user error (4xx)
func IsUserError(err error) bool {
	catErr := Categorize(err)
	if catErr == nil {
		return false
	}

	return catErr.StatusCode >= 400 && catErr.StatusCode < 500
}
