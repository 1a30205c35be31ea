// Package types provides shared types, error codes, and the response
// envelope used across the application.
package types

import "errors"

// Stable machine codes returned to callers. Clients key on these, so they
// never change once published.
const (
	CodeAuthRequired     = "AUTH_REQUIRED"
	CodeAuthFailed       = "AUTH_FAILED"
	CodePermissionDenied = "PERMISSION_DENIED"
	CodeRateLimited      = "RATE_LIMITED"
	CodeValidation       = "VALIDATION"
	CodeUnknownTool      = "UNKNOWN_TOOL"
	CodeSessionNotFound  = "SESSION_NOT_FOUND"
	CodeSessionLimit     = "SESSION_LIMIT"
	CodePoolExhausted    = "POOL_EXHAUSTED"
	CodePoolClosed       = "POOL_CLOSED"
	CodeDriverCreate     = "DRIVER_CREATE_FAILED"
	CodeTransportLost    = "TRANSPORT_LOST"
	CodeElementNotFound  = "ELEMENT_NOT_FOUND"
	CodeNotInteractable  = "ELEMENT_NOT_INTERACTABLE"
	CodeStaleElement     = "STALE_ELEMENT"
	CodeTimeout          = "TIMEOUT"
	CodeInternal         = "INTERNAL"
)

// Sentinel errors checked with errors.Is across component boundaries.
var (
	// Pool errors
	ErrPoolExhausted = errors.New("session pool exhausted: no sessions available")
	ErrPoolClosed    = errors.New("session pool is closed")
	ErrDriverCreate  = errors.New("driver creation failed")
	ErrTransportLost = errors.New("driver transport lost")

	// Registry errors
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionLimit    = errors.New("maximum number of concurrent sessions reached")
	ErrNoDefaultSession = errors.New("no session available to use as default")

	// Driver errors
	ErrUnsupportedBrowser = errors.New("unsupported browser kind")

	// Auth errors
	ErrAuthRequired     = errors.New("authentication required")
	ErrAuthFailed       = errors.New("authentication failed")
	ErrPermissionDenied = errors.New("permission denied")
	ErrRateLimited      = errors.New("rate limit exceeded")

	// Dispatcher errors
	ErrUnknownTool = errors.New("unknown tool")
	ErrValidation  = errors.New("invalid parameters")

	// Tool-layer errors
	ErrElementNotFound = errors.New("element not found")
	ErrNotInteractable = errors.New("element is not interactable")
	ErrStaleElement    = errors.New("element reference is stale")
	ErrTimeout         = errors.New("operation timed out")
)

// CodeForError maps a sentinel error to its stable machine code.
// Unclassified errors map to CodeInternal.
func CodeForError(err error) string {
	switch {
	case errors.Is(err, ErrAuthRequired):
		return CodeAuthRequired
	case errors.Is(err, ErrAuthFailed):
		return CodeAuthFailed
	case errors.Is(err, ErrPermissionDenied):
		return CodePermissionDenied
	case errors.Is(err, ErrRateLimited):
		return CodeRateLimited
	case errors.Is(err, ErrValidation):
		return CodeValidation
	case errors.Is(err, ErrUnknownTool):
		return CodeUnknownTool
	case errors.Is(err, ErrSessionNotFound), errors.Is(err, ErrNoDefaultSession):
		return CodeSessionNotFound
	case errors.Is(err, ErrSessionLimit):
		return CodeSessionLimit
	case errors.Is(err, ErrPoolExhausted):
		return CodePoolExhausted
	case errors.Is(err, ErrPoolClosed):
		return CodePoolClosed
	case errors.Is(err, ErrDriverCreate), errors.Is(err, ErrUnsupportedBrowser):
		return CodeDriverCreate
	case errors.Is(err, ErrTransportLost):
		return CodeTransportLost
	case errors.Is(err, ErrElementNotFound):
		return CodeElementNotFound
	case errors.Is(err, ErrNotInteractable):
		return CodeNotInteractable
	case errors.Is(err, ErrStaleElement):
		return CodeStaleElement
	case errors.Is(err, ErrTimeout):
		return CodeTimeout
	default:
		return CodeInternal
	}
}

// ToolError is the structured error a tool call surfaces to the caller.
// It carries a stable code, a human message, and optional context.
// Field and Value are set only for validation failures; Value is sanitized
// before it is stored here.
type ToolError struct {
	Code            string `json:"code"`
	Message         string `json:"message"`
	Field           string `json:"field,omitempty"`
	Value           string `json:"value,omitempty"`
	Troubleshooting string `json:"troubleshooting,omitempty"`
	Err             error  `json:"-"`
}

// Error implements the error interface.
func (e *ToolError) Error() string {
	return e.Message
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *ToolError) Unwrap() error {
	return e.Err
}

// NewToolError wraps err with its stable code and a human message.
func NewToolError(err error, message string) *ToolError {
	if message == "" && err != nil {
		message = err.Error()
	}
	return &ToolError{
		Code:    CodeForError(err),
		Message: message,
		Err:     err,
	}
}

// NewValidationError builds a VALIDATION error for a single offending field.
// The value must already be sanitized by the caller.
func NewValidationError(field, value, message string) *ToolError {
	return &ToolError{
		Code:    CodeValidation,
		Message: message,
		Field:   field,
		Value:   value,
		Err:     ErrValidation,
	}
}

// WithHint attaches a troubleshooting hint and returns the error.
func (e *ToolError) WithHint(hint string) *ToolError {
	e.Troubleshooting = hint
	return e
}

// PoolError provides detailed information about pool failures.
type PoolError struct {
	Operation string // The operation that failed
	Message   string // Human-readable error message
	Err       error  // Underlying error
}

// Error implements the error interface.
func (e *PoolError) Error() string {
	return e.Message
}

// Unwrap returns the underlying error.
func (e *PoolError) Unwrap() error {
	return e.Err
}

// NewPoolBorrowError creates an error for pool borrow failures.
func NewPoolBorrowError(reason string, err error) *PoolError {
	return &PoolError{
		Operation: "borrow",
		Message:   "failed to borrow session from pool: " + reason,
		Err:       err,
	}
}

// DriverCreationError wraps a factory launch failure with the browser kind.
type DriverCreationError struct {
	Kind    string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *DriverCreationError) Error() string {
	return e.Message
}

// Unwrap returns the underlying error.
func (e *DriverCreationError) Unwrap() error {
	return e.Err
}
