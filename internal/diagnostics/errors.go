// Structured error types for the diagnostic engine. Error codes enable
// programmatic handling: callers distinguish a tripped breaker from a slow
// check from an executor that has blown its own resource budget.
package diagnostics

import (
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
)

// ErrorCode identifies a class of engine-level failure.
type ErrorCode string

const (
	// ErrCodeCircuitOpen is returned when a check is rejected without
	// execution because its circuit breaker is open.
	ErrCodeCircuitOpen ErrorCode = "CIRCUIT_BREAKER_OPEN"

	// ErrCodeCheckTimeout is returned when a check did not settle within
	// its allotted time.
	ErrCodeCheckTimeout ErrorCode = "CHECK_TIMEOUT"

	// ErrCodeResourceLimit is raised by the resource monitor when the
	// executor's own memory or CPU budget is exceeded. It reflects the
	// engine's health, not the subsystem being checked.
	ErrCodeResourceLimit ErrorCode = "RESOURCE_LIMIT_EXCEEDED"
)

// DiagnosticError is a structured engine-level error carrying an error code
// and the check key it relates to.
type DiagnosticError struct {
	Code    ErrorCode              `json:"code"`
	Key     string                 `json:"key,omitempty"`
	Message string                 `json:"message"`
	Context map[string]interface{} `json:"context,omitempty"`
	cause   error
}

func (e *DiagnosticError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Key)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is/As chains.
func (e *DiagnosticError) Unwrap() error { return e.cause }

// newCircuitOpenError reports a rejected execution for an open circuit.
func newCircuitOpenError(key string, lastFailure time.Time) *DiagnosticError {
	return &DiagnosticError{
		Code:    ErrCodeCircuitOpen,
		Key:     key,
		Message: "circuit breaker is open, check skipped",
		Context: map[string]interface{}{
			"last_failure": lastFailure,
		},
	}
}

// newCheckTimeoutError reports a check that exceeded its timeout.
func newCheckTimeoutError(key string, timeout time.Duration) *DiagnosticError {
	return &DiagnosticError{
		Code:    ErrCodeCheckTimeout,
		Key:     key,
		Message: fmt.Sprintf("check did not complete within %s", timeout),
		cause:   errors.Newf("timeout after %s", timeout),
	}
}

// newResourceLimitError reports an executor resource budget violation.
func newResourceLimitError(message string, metrics ResourceMetrics) *DiagnosticError {
	return &DiagnosticError{
		Code:    ErrCodeResourceLimit,
		Message: message,
		Context: map[string]interface{}{
			"rss_bytes": metrics.Memory.RSS,
			"cpu_time":  metrics.CPU.Time.String(),
		},
	}
}

// CodeOf extracts the engine error code from err, or "" when err carries
// none.
func CodeOf(err error) ErrorCode {
	var de *DiagnosticError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// IsCode reports whether err carries the given engine error code.
func IsCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}
