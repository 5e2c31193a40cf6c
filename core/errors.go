package core

import (
	"errors"
	"fmt"
)

// Standard sentinel errors for comparison using errors.Is()
// These are generic errors that can be wrapped with additional context
var (
	// Tool dispatch errors
	ErrUnknownTool     = errors.New("unknown tool")
	ErrSchemaViolation = errors.New("schema violation")
	ErrNotFound        = errors.New("not found")

	// Resilience errors
	ErrCircuitOpen        = errors.New("circuit breaker open")
	ErrMaxRetriesExceeded = errors.New("maximum retries exceeded")

	// Operation errors
	ErrTimeout         = errors.New("operation timeout")
	ErrContextCanceled = errors.New("context canceled")
	ErrRateLimited     = errors.New("rate limited")

	// Transport/session errors
	ErrSessionNotFound           = errors.New("session not found")
	ErrSessionNotInitialized     = errors.New("session not initialized")
	ErrSessionAlreadyInitialized = errors.New("session already initialized")
	ErrSessionClosed             = errors.New("session closed")

	// Configuration errors
	ErrInvalidConfiguration = errors.New("invalid configuration")
	ErrMissingConfiguration = errors.New("missing required configuration")
)

// GatewayError provides structured error information with context.
// It implements the error interface and supports error wrapping.
type GatewayError struct {
	Op      string // Operation that failed (e.g., "registry.Invoke")
	Kind    string // Error kind (e.g., "schema_violation", "circuit_open")
	Tool    string // Optional tool name involved
	Message string // Human-readable message
	Err     error  // Underlying error for wrapping
}

// Error returns the string representation of the error
func (e *GatewayError) Error() string {
	if e.Op != "" && e.Err != nil {
		if e.Tool != "" {
			return fmt.Sprintf("%s [%s]: %v", e.Op, e.Tool, e.Err)
		}
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s error", e.Kind)
}

// Unwrap returns the underlying error for use with errors.Is/As
func (e *GatewayError) Unwrap() error {
	return e.Err
}

// NewGatewayError creates a new GatewayError
func NewGatewayError(op, kind string, err error) *GatewayError {
	return &GatewayError{
		Op:   op,
		Kind: kind,
		Err:  err,
	}
}

// IsClientFault reports whether an error was caused by the caller rather
// than by the gateway or the upstream. Client faults are never retried and
// never count toward circuit breaker thresholds.
func IsClientFault(err error) bool {
	return errors.Is(err, ErrSchemaViolation) ||
		errors.Is(err, ErrUnknownTool) ||
		errors.Is(err, ErrNotFound)
}

// IsConfigurationError checks if an error is configuration-related
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrInvalidConfiguration) ||
		errors.Is(err, ErrMissingConfiguration)
}
