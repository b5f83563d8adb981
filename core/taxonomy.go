package core

import (
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Severity classifies how serious a TaxonomyError is.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityError    Severity = "ERROR"
	SeverityWarning  Severity = "WARNING"
	SeverityInfo     Severity = "INFO"
)

// Category is the top-level bucket of the error taxonomy.
type Category string

const (
	CategoryAuthentication Category = "AUTHENTICATION"
	CategoryAuthorization  Category = "AUTHORIZATION"
	CategoryValidation     Category = "VALIDATION"
	CategoryResource       Category = "RESOURCE"
	CategoryIntegration    Category = "INTEGRATION"
	CategorySystem         Category = "SYSTEM"
	CategoryRateLimit      Category = "RATE_LIMIT"
	CategoryCircuitBreaker Category = "CIRCUIT_BREAKER"
)

// TaxonomyError is the structured, JSON-serializable error value every
// public operation in the core returns on failure. It implements error and
// is comparable with errors.As.
type TaxonomyError struct {
	Code             string                 `json:"code"`
	Message          string                 `json:"message"`
	Details          map[string]interface{} `json:"details,omitempty"`
	Severity         Severity               `json:"severity"`
	Component        string                 `json:"component"`
	HTTPStatus       int                     `json:"-"`
	RequestID        string                 `json:"request_id"`
	Timestamp        time.Time              `json:"timestamp"`
	DocumentationURL string                 `json:"documentation_url,omitempty"`
	Category         Category               `json:"-"`
	wrapped          error
}

func (e *TaxonomyError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *TaxonomyError) Unwrap() error {
	return e.wrapped
}

// WireError is the top-level JSON envelope a TaxonomyError serializes to.
type WireError struct {
	Error *TaxonomyError `json:"error"`
}

// NewTaxonomyError constructs a TaxonomyError, stamping request id and
// timestamp and deriving the HTTP status from category.
func NewTaxonomyError(category Category, code, component, message string) *TaxonomyError {
	return &TaxonomyError{
		Code:       code,
		Message:    message,
		Severity:   SeverityError,
		Component:  component,
		Category:   category,
		HTTPStatus: HTTPStatusForCategory(category),
		RequestID:  uuid.New().String(),
		Timestamp:  time.Now().UTC(),
	}
}

// WithDetails attaches details and returns the receiver for chaining.
func (e *TaxonomyError) WithDetails(details map[string]interface{}) *TaxonomyError {
	e.Details = details
	return e
}

// WithSeverity overrides the default severity.
func (e *TaxonomyError) WithSeverity(s Severity) *TaxonomyError {
	e.Severity = s
	return e
}

// WithWrapped records the underlying error for errors.Unwrap/errors.Is.
func (e *TaxonomyError) WithWrapped(err error) *TaxonomyError {
	e.wrapped = err
	return e
}

// HTTPStatusForCategory maps a taxonomy category to its HTTP status.
func HTTPStatusForCategory(category Category) int {
	switch category {
	case CategoryValidation:
		return http.StatusBadRequest
	case CategoryAuthentication:
		return http.StatusUnauthorized
	case CategoryAuthorization:
		return http.StatusForbidden
	case CategoryResource:
		return http.StatusNotFound
	case CategoryRateLimit:
		return http.StatusTooManyRequests
	case CategoryCircuitBreaker:
		return http.StatusServiceUnavailable
	case CategoryIntegration:
		return http.StatusBadGateway
	case CategorySystem:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// RateLimitError builds the RATE_LIMIT.EXCEEDED error, carrying
// retry_after_seconds in Details.
func RateLimitError(component string, retryAfterSeconds int) *TaxonomyError {
	return NewTaxonomyError(CategoryRateLimit, "RATE_LIMIT.EXCEEDED", component,
		"rate limit exceeded").
		WithDetails(map[string]interface{}{"retry_after_seconds": retryAfterSeconds}).
		WithSeverity(SeverityWarning)
}

// CircuitOpenError builds the CIRCUIT_BREAKER.OPEN error (HTTP 503).
func CircuitOpenError(name, state string, resetTimeout time.Duration, lastFailureAt time.Time) *TaxonomyError {
	remaining := time.Until(lastFailureAt.Add(resetTimeout))
	if remaining < 0 {
		remaining = 0
	}
	return NewTaxonomyError(CategoryCircuitBreaker, "CIRCUIT_BREAKER.OPEN", name,
		fmt.Sprintf("circuit breaker %q is open", name)).
		WithDetails(map[string]interface{}{
			"state":           state,
			"reset_timeout":   resetTimeout.Seconds(),
			"last_failure_at": lastFailureAt.UTC().Format(time.RFC3339),
			"time_remaining":  remaining.Seconds(),
		})
}

// AgentNotFoundError builds RESOURCE.NOT_FOUND for an unknown recipient,
// tagged with the ORCHESTRATOR.AGENT_NOT_FOUND code.
func AgentNotFoundError(component, agentID string) *TaxonomyError {
	return NewTaxonomyError(CategoryResource, "ORCHESTRATOR.AGENT_NOT_FOUND", component,
		fmt.Sprintf("agent %q not found", agentID)).
		WithDetails(map[string]interface{}{"agent_id": agentID}).
		WithWrapped(ErrAgentNotFound)
}

// TaskDistributionFailedError builds the RESOURCE error for an empty
// candidate set.
func TaskDistributionFailedError(component string, required []string) *TaxonomyError {
	return NewTaxonomyError(CategoryResource, "ORCHESTRATOR.SYSTEM.TASK_DISTRIBUTION_FAILED", component,
		"no suitable agent found for required capabilities").
		WithDetails(map[string]interface{}{"required_capabilities": required}).
		WithWrapped(ErrNoSuitableAgent)
}

// AuthenticationError builds AUTH.AUTHENTICATION.INVALID_TOKEN for a token
// the validator rejected outright.
func AuthenticationError(component string) *TaxonomyError {
	return NewTaxonomyError(CategoryAuthentication, "AUTH.AUTHENTICATION.INVALID_TOKEN", component,
		"authentication failed").WithWrapped(ErrUnauthenticated)
}

// AuthorizationError builds AUTH.AUTHORIZATION.SCOPE_DENIED for a valid
// token missing a required scope, or a subject-match mismatch.
func AuthorizationError(component, reason string) *TaxonomyError {
	return NewTaxonomyError(CategoryAuthorization, "AUTH.AUTHORIZATION.SCOPE_DENIED", component, reason).
		WithWrapped(ErrUnauthorized)
}

// FromConnectError maps a foreign connection/timeout failure to the
// standard INTEGRATION.CONNECTION_FAILED conversion.
func FromConnectError(component string, err error) *TaxonomyError {
	return NewTaxonomyError(CategoryIntegration, "INTEGRATION.CONNECTION_FAILED", component,
		"connection to external dependency failed").WithWrapped(err)
}

// FromValidationError maps a malformed-input failure to VALIDATION.INVALID_PARAMS.
func FromValidationError(component, message string) *TaxonomyError {
	return NewTaxonomyError(CategoryValidation, "VALIDATION.INVALID_PARAMS", component, message)
}

// FromInternalError maps an unclassified failure to SYSTEM.INTERNAL_ERROR.
func FromInternalError(component string, err error) *TaxonomyError {
	return NewTaxonomyError(CategorySystem, "SYSTEM.INTERNAL_ERROR", component,
		"internal error").WithSeverity(SeverityCritical).WithWrapped(err)
}
