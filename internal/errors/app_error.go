// Package errors defines the structured error taxonomy used across the
// gateway: validation failures, missing credentials, token-exchange
// rejections, retryable and terminal upstream failures, and authorization
// timeouts. Handlers map these directly to HTTP responses.
package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Error codes for the gateway taxonomy.
const (
	CodeValidation        = "validation"
	CodeAuthRequired      = "auth_required"
	CodeExchange          = "exchange"
	CodeUpstreamTransient = "upstream_transient"
	CodeUpstreamTerminal  = "upstream_terminal"
	CodeTimeout           = "timeout"
)

// AppError represents a structured application error.
type AppError struct {
	// HTTPStatusCode is the HTTP status code to return.
	HTTPStatusCode int `json:"-"`
	// Code is an internal error code string.
	Code string `json:"code"`
	// Message is the user-facing error message.
	Message string `json:"message"`
	// UpstreamBody is the raw upstream response body, when one exists.
	// It is relayed verbatim so callers see what the provider said.
	UpstreamBody []byte `json:"-"`
	// Err is the underlying error (not marshaled to JSON).
	Err error `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// ToJSON returns the JSON byte representation of the error.
func (e *AppError) ToJSON() []byte {
	b, _ := json.Marshal(e)
	return b
}

// New creates a new AppError.
func New(statusCode int, code, message string, err error) *AppError {
	return &AppError{
		HTTPStatusCode: statusCode,
		Code:           code,
		Message:        message,
		Err:            err,
	}
}

// NewValidation reports a malformed request. Never retried.
func NewValidation(message string) *AppError {
	return New(http.StatusBadRequest, CodeValidation, message, nil)
}

// NewAuthRequired reports that no usable credential was supplied.
func NewAuthRequired(message string) *AppError {
	return New(http.StatusUnauthorized, CodeAuthRequired, message, nil)
}

// NewExchange reports a token endpoint rejection. The raw response body is
// preserved so the auth poller sees the upstream error verbatim.
func NewExchange(message string, body []byte) *AppError {
	e := New(http.StatusBadGateway, CodeExchange, message, nil)
	e.UpstreamBody = append([]byte(nil), body...)
	return e
}

// NewUpstreamTransient reports a retryable strategy failure (network error
// or 5xx). It triggers fallback to the next strategy.
func NewUpstreamTransient(status int, message string, err error) *AppError {
	if status == 0 {
		status = http.StatusServiceUnavailable
	}
	return New(status, CodeUpstreamTransient, message, err)
}

// NewUpstreamTerminal reports a non-retryable upstream failure carrying the
// original status and body.
func NewUpstreamTerminal(status int, body []byte) *AppError {
	e := New(status, CodeUpstreamTerminal, "upstream request failed", nil)
	e.UpstreamBody = append([]byte(nil), body...)
	return e
}

// NewTimeout reports that an authorization was not completed within the
// configured window. Distinguished from "pending" so pollers can restart.
func NewTimeout(message string) *AppError {
	return New(http.StatusGatewayTimeout, CodeTimeout, message, nil)
}

// AsAppError unwraps err into an *AppError if possible.
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// CodeOf returns the taxonomy code of err, or "" for unclassified errors.
func CodeOf(err error) string {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code
	}
	return ""
}
