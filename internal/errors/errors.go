package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType represents different categories of errors
type ErrorType string

const (
	ErrTypeEmptyInput   ErrorType = "empty_input"
	ErrTypePolicyDenied ErrorType = "policy_denied"
	ErrTypeEngine       ErrorType = "engine"
	ErrTypeResource     ErrorType = "resource"
	ErrTypeValidation   ErrorType = "validation"
	ErrTypeConfig       ErrorType = "config"
	ErrTypeLLM          ErrorType = "llm"
	ErrTypeNotFound     ErrorType = "not_found"
	ErrTypeInternal     ErrorType = "internal"
)

// Error represents a structured error with type and optional suggestions
type Error struct {
	Type    ErrorType
	Message string
	// Statement is the SQL the error is about, when there is one.
	Statement   string
	Cause       error
	Suggestions []string
}

func (e *Error) Error() string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s: %s", e.Type, e.Message)

	if e.Statement != "" {
		fmt.Fprintf(&b, " (statement: %s)", e.Statement)
	}

	if e.Cause != nil && e.Cause.Error() != e.Message {
		fmt.Fprintf(&b, " (caused by: %v)", e.Cause)
	}

	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// WithSuggestion adds a suggestion for resolving the error
func (e *Error) WithSuggestion(suggestion string) *Error {
	e.Suggestions = append(e.Suggestions, suggestion)
	return e
}

// New creates a new structured error
func New(errType ErrorType, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
	}
}

// Newf creates a new structured error with formatted message
func Newf(errType ErrorType, format string, args ...any) *Error {
	return New(errType, fmt.Sprintf(format, args...))
}

// Wrap wraps an existing error with additional context
func Wrap(err error, errType ErrorType, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
		Cause:   err,
	}
}

// Wrapf wraps an existing error with formatted message
func Wrapf(err error, errType ErrorType, format string, args ...any) *Error {
	return Wrap(err, errType, fmt.Sprintf(format, args...))
}

// IsType checks if an error is of a specific type
func IsType(err error, errType ErrorType) bool {
	var structErr *Error
	if errors.As(err, &structErr) {
		return structErr.Type == errType
	}

	return false
}

// GetType returns the error type if it's a structured error
func GetType(err error) ErrorType {
	var structErr *Error
	if errors.As(err, &structErr) {
		return structErr.Type
	}

	return ErrTypeInternal
}

// Message returns the human-facing message of a structured error, or err.Error()
// for anything else.
func Message(err error) string {
	var structErr *Error
	if errors.As(err, &structErr) {
		return structErr.Message
	}

	return err.Error()
}

// NewEmptyInput reports a query that contained no executable statements.
func NewEmptyInput() *Error {
	return New(ErrTypeEmptyInput, "no SQL to execute")
}

// NewPolicyDenied reports a statement the policy gate refused. It is never
// worth retrying.
func NewPolicyDenied(reason, statement string) *Error {
	return &Error{Type: ErrTypePolicyDenied, Message: reason, Statement: statement}
}

// NewEngineError reports a statement the engine rejected, keeping the engine's
// message verbatim.
func NewEngineError(cause error, statement string) *Error {
	msg := "statement failed"
	if cause != nil {
		msg = cause.Error()
	}

	return &Error{Type: ErrTypeEngine, Message: msg, Statement: statement, Cause: cause}
}

// Retryable reports whether repeating the call could succeed. Empty input,
// policy denials, validation and configuration errors never will.
func Retryable(err error) bool {
	switch GetType(err) {
	case ErrTypeEmptyInput, ErrTypePolicyDenied, ErrTypeValidation, ErrTypeConfig, ErrTypeNotFound:
		return false
	default:
		return true
	}
}

// NewConfigError creates a configuration error with suggestions
func NewConfigError(message, field string) *Error {
	err := New(ErrTypeConfig, message)
	if field != "" {
		err.Message = fmt.Sprintf("%s (field: %s)", message, field)
	}

	return err.
		WithSuggestion("Check your configuration file syntax").
		WithSuggestion("Run with --help to see valid configuration options")
}

// NewResourceError wraps a failure to acquire or release a database resource.
func NewResourceError(err error, what string) *Error {
	return Wrapf(err, ErrTypeResource, "failed to %s", what).
		WithSuggestion("Check that the database path or DSN is reachable")
}
