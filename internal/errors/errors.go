// Package errors provides error types and handling for site audits.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

// ErrorType categorizes errors for handling decisions.
type ErrorType int

const (
	// Unknown is an uncategorized error.
	Unknown ErrorType = iota
	// Network represents network-related errors (DNS, connection).
	Network
	// Timeout represents navigation or evaluation timeouts.
	Timeout
	// NotFound represents 404 responses.
	NotFound
	// ServerError represents 5xx responses.
	ServerError
	// ClientError represents 4xx responses other than 404.
	ClientError
	// Parse represents parsing errors (HTML, JSON, report output).
	Parse
	// Browser represents a failed browser operation on a single page.
	Browser
	// Session represents a browser session that can no longer be used.
	Session
	// Audit represents an audit engine failure for a single page.
	Audit
	// Validation represents bad caller input.
	Validation
	// Cancelled represents context cancellation.
	Cancelled
)

// Sentinel errors.
var (
	ErrInvalidURL        = errors.New("invalid url")
	ErrStreamTerminated  = errors.New("stream already terminated")
	ErrReportNotFound    = errors.New("report not found")
	ErrSessionClosed     = errors.New("browser session closed")
	ErrMalformedReport   = errors.New("malformed audit report")
	ErrUnsupportedEngine = errors.New("unsupported audit engine")
)

// String returns the string representation of ErrorType.
func (t ErrorType) String() string {
	switch t {
	case Network:
		return "network"
	case Timeout:
		return "timeout"
	case NotFound:
		return "not_found"
	case ServerError:
		return "server_error"
	case ClientError:
		return "client_error"
	case Parse:
		return "parse"
	case Browser:
		return "browser"
	case Session:
		return "session"
	case Audit:
		return "audit"
	case Validation:
		return "validation"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// IsRetryable returns whether errors of this type should be retried.
func (t ErrorType) IsRetryable() bool {
	switch t {
	case Network, Timeout, ServerError:
		return true
	default:
		return false
	}
}

// AuditError represents a categorized error raised while discovering or
// auditing a page.
type AuditError struct {
	Type       ErrorType
	URL        string
	Operation  string
	Message    string
	Cause      error
	StatusCode int
	Retryable  bool
}

// Error implements the error interface.
func (e *AuditError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s error during %s on %s: %s (caused by: %v)",
			e.Type.String(), e.Operation, e.URL, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s error during %s on %s: %s",
		e.Type.String(), e.Operation, e.URL, e.Message)
}

// Unwrap returns the underlying error.
func (e *AuditError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches a target.
func (e *AuditError) Is(target error) bool {
	t, ok := target.(*AuditError)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// New creates a new AuditError.
func New(errType ErrorType, url, operation, message string, cause error) *AuditError {
	return &AuditError{
		Type:      errType,
		URL:       url,
		Operation: operation,
		Message:   message,
		Cause:     cause,
		Retryable: errType.IsRetryable(),
	}
}

// NewNetworkError creates a network error.
func NewNetworkError(url, operation string, cause error) *AuditError {
	return New(Network, url, operation, "network failure", cause)
}

// NewTimeoutError creates a timeout error.
func NewTimeoutError(url, operation string, cause error) *AuditError {
	return New(Timeout, url, operation, "operation timed out", cause)
}

// NewNotFoundError creates a not found error.
func NewNotFoundError(url string) *AuditError {
	err := New(NotFound, url, "navigate", "page not found", nil)
	err.StatusCode = 404
	return err
}

// NewServerError creates a server error.
func NewServerError(url string, statusCode int, message string) *AuditError {
	err := New(ServerError, url, "navigate", message, nil)
	err.StatusCode = statusCode
	return err
}

// NewClientError creates a client error.
func NewClientError(url string, statusCode int, message string) *AuditError {
	err := New(ClientError, url, "navigate", message, nil)
	err.StatusCode = statusCode
	return err
}

// NewParseError creates a parse error.
func NewParseError(url, operation string, cause error) *AuditError {
	return New(Parse, url, operation, "parsing failed", cause)
}

// NewBrowserError creates an error for a browser operation that failed on
// one page while the session itself stays usable.
func NewBrowserError(url, operation string, cause error) *AuditError {
	return New(Browser, url, operation, "browser operation failed", cause)
}

// NewSessionError creates an error for a browser session that is no longer
// usable. Scans stop on these.
func NewSessionError(operation string, cause error) *AuditError {
	return New(Session, "", operation, "browser session unusable", cause)
}

// NewAuditFailure creates an audit engine error for one page.
func NewAuditFailure(url string, cause error) *AuditError {
	return New(Audit, url, "audit", "audit failed", cause)
}

// NewValidationError creates an input validation error.
func NewValidationError(url, message string) *AuditError {
	return New(Validation, url, "validate", message, ErrInvalidURL)
}

// NewCancelledError creates a cancelled error.
func NewCancelledError(url, operation string) *AuditError {
	return New(Cancelled, url, operation, "operation cancelled", context.Canceled)
}

// Categorize determines the error type from a generic error.
func Categorize(err error, url string) *AuditError {
	if err == nil {
		return nil
	}

	var auditErr *AuditError
	if errors.As(err, &auditErr) {
		return auditErr
	}

	if errors.Is(err, context.Canceled) {
		return NewCancelledError(url, "request")
	}

	if errors.Is(err, ErrSessionClosed) {
		return NewSessionError("request", err)
	}

	if isTimeout(err) {
		return NewTimeoutError(url, "request", err)
	}

	if isNetworkError(err) {
		return NewNetworkError(url, "request", err)
	}

	return New(Unknown, url, "request", err.Error(), err)
}

// CategorizeHTTPStatus creates an error from a document status code.
// Successful and redirect statuses return nil.
func CategorizeHTTPStatus(statusCode int, url string) *AuditError {
	switch {
	case statusCode == 404:
		return NewNotFoundError(url)
	case statusCode >= 500:
		return NewServerError(url, statusCode, fmt.Sprintf("server returned %d", statusCode))
	case statusCode >= 400:
		return NewClientError(url, statusCode, fmt.Sprintf("client error %d", statusCode))
	default:
		return nil
	}
}

// isTimeout checks if an error is a timeout.
func isTimeout(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	errStr := err.Error()
	return strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "deadline exceeded")
}

// isNetworkError checks if an error is network-related.
func isNetworkError(err error) bool {
	if err == nil {
		return false
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.ENETUNREACH) {
		return true
	}

	// Chrome reports navigation failures as net::ERR_* strings.
	errStr := err.Error()
	return strings.Contains(errStr, "net::ERR_") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "no such host")
}

// IsRetryable checks if an error should be retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var auditErr *AuditError
	if errors.As(err, &auditErr) {
		return auditErr.Retryable
	}

	return isTimeout(err) || isNetworkError(err)
}

// IsSessionFatal reports whether err means the browser session is broken
// and no further page can be processed with it.
func IsSessionFatal(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrSessionClosed) {
		return true
	}
	var auditErr *AuditError
	if errors.As(err, &auditErr) {
		return auditErr.Type == Session
	}
	return false
}

// IsTimeout reports whether err is a timeout of any origin.
func IsTimeout(err error) bool {
	var auditErr *AuditError
	if errors.As(err, &auditErr) && auditErr.Type == Timeout {
		return true
	}
	return isTimeout(err)
}

// GetErrorType extracts the error type from an error.
func GetErrorType(err error) ErrorType {
	var auditErr *AuditError
	if errors.As(err, &auditErr) {
		return auditErr.Type
	}
	return Unknown
}
