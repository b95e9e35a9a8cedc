// Package errors provides custom error types for domain-specific errors.
package errors

import (
	"errors"
	"fmt"
)

// Standard sentinel errors
var (
	ErrNotConnected         = errors.New("not connected")
	ErrConnectionFailed     = errors.New("connection failed")
	ErrTimeout              = errors.New("operation timed out")
	ErrProtocol             = errors.New("protocol error")
	ErrMalformedFrame       = errors.New("malformed frame")
	ErrUnknownMessage       = errors.New("unknown message type")
	ErrInvalidOrder         = errors.New("invalid order")
	ErrUnsupportedOrderType = errors.New("unsupported order type")
	ErrSubmissionInProgress = errors.New("submission already in progress")
	ErrSessionExpired       = errors.New("session expired")
	ErrInsufficientBalance  = errors.New("insufficient balance")
	ErrMarketClosed         = errors.New("market is closed")
	ErrInvalidSymbol        = errors.New("invalid symbol")
	ErrConfigInvalid        = errors.New("invalid configuration")
	ErrDatabaseError        = errors.New("database error")
	ErrInputValidation      = errors.New("input validation failed")
)

// ConnectionErrorKind classifies connector failures.
type ConnectionErrorKind string

const (
	KindConnection ConnectionErrorKind = "connection"
	KindMessage    ConnectionErrorKind = "message"
	KindTimeout    ConnectionErrorKind = "timeout"
	KindProtocol   ConnectionErrorKind = "protocol"
)

// ConnectionError represents a transport or protocol failure on a stream session.
type ConnectionError struct {
	Stream string
	URL    string
	Kind   ConnectionErrorKind
	Err    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection error [%s] %s (%s): %v", e.Stream, e.URL, e.Kind, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// NewConnectionError creates a new ConnectionError.
func NewConnectionError(stream, url string, kind ConnectionErrorKind, err error) *ConnectionError {
	return &ConnectionError{
		Stream: stream,
		URL:    url,
		Kind:   kind,
		Err:    err,
	}
}

// DecodeError represents an inbound frame that could not be turned into an event.
type DecodeError struct {
	Stream string
	Type   string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("decode error [%s] %s: %v", e.Stream, e.Type, e.Err)
	}
	return fmt.Sprintf("decode error [%s]: %v", e.Stream, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// NewDecodeError creates a new DecodeError.
func NewDecodeError(stream, msgType string, err error) *DecodeError {
	return &DecodeError{
		Stream: stream,
		Type:   msgType,
		Err:    err,
	}
}

// ValidationError represents a validation error.
type ValidationError struct {
	Field   string
	Code    string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s [%s]: %s", e.Field, e.Code, e.Message)
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field, code, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Code:    code,
		Message: message,
	}
}

// APIError is a non-2xx response from a backend REST endpoint.
type APIError struct {
	Status  int
	Code    string
	Message string
	Err     error
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error %d [%s]: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// NewAPIError creates a new APIError.
func NewAPIError(status int, code, message string) *APIError {
	return &APIError{
		Status:  status,
		Code:    code,
		Message: message,
	}
}

// SubmissionError is the user-facing outcome of a failed order submission.
type SubmissionError struct {
	Code    string
	Message string
	Err     error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *SubmissionError) Unwrap() error {
	return e.Err
}

// NewSubmissionError creates a new SubmissionError.
func NewSubmissionError(code, message string, err error) *SubmissionError {
	return &SubmissionError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// New returns an error that formats as the given text.
func New(text string) error {
	return errors.New(text)
}

// Join returns an error wrapping every non-nil err, or nil when there are none.
func Join(errs ...error) error {
	return errors.Join(errs...)
}
