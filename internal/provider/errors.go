package provider

import (
	"errors"
	"fmt"
	"strings"
)

// Static errors shared by adapters.
var (
	// ErrUnsupportedModel is returned when no adapter serves the requested model.
	ErrUnsupportedModel = errors.New("provider: unsupported model")
	// ErrUnknownProvider is returned when no adapter is registered under a name.
	ErrUnknownProvider = errors.New("provider: unknown provider")
	// ErrTaskNotFound is returned when the provider does not know a task id.
	ErrTaskNotFound = errors.New("provider: task not found")
)

// UnknownErrorMessage is used when a provider failure carries no message.
const UnknownErrorMessage = "unknown error"

// ValidationError reports a request that violates a structural rule of the
// provider. It is raised before any network call and is never retried.
type ValidationError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation error: " + e.Reason
	}
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Reason)
}

// Invalid builds a ValidationError for field.
func Invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// ProviderError reports a failure at the provider's transport or application layer.
type ProviderError struct {
	Provider string `json:"provider,omitempty"`
	// Code is the provider application code, or "transport_error" /
	// "http_<status>" for failures below the application layer.
	Code    string `json:"code"`
	Message string `json:"message"`
	// Transport is true when the request may not have reached the provider
	// or its response was lost.
	Transport bool `json:"-"`
	// Status is the HTTP status, when one was received.
	Status int   `json:"-"`
	Err    error `json:"-"`
}

// TransportErrorCode is the Code of a ProviderError raised below the application layer.
const TransportErrorCode = "transport_error"

func (e *ProviderError) Error() string {
	prefix := "provider"
	if e.Provider != "" {
		prefix = e.Provider
	}
	return fmt.Sprintf("%s: provider error %s: %s", prefix, e.Code, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Ambiguous reports whether a createTask with this error may still have
// provisioned a job. Such failures must not be retried without an
// idempotency key.
func (e *ProviderError) Ambiguous() bool {
	return e.Transport
}

// IsValidation returns true if err is or wraps a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsRetryable returns true for provider failures that are safe to retry on
// read-only operations: transport failures, 5xx and 429.
func IsRetryable(err error) bool {
	var pe *ProviderError
	if !errors.As(err, &pe) {
		return false
	}
	return pe.Transport || pe.Status >= 500 || pe.Status == 429
}

// MessageFrom returns the first non-blank candidate. Callers pass the
// provider fields in preference order: message, msg, error, nested detail.
func MessageFrom(candidates ...string) string {
	for _, c := range candidates {
		if s := strings.TrimSpace(c); s != "" {
			return s
		}
	}
	return UnknownErrorMessage
}
