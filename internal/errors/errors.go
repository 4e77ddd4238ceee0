// Package errors defines the error bodies of the control API and maps demux
// and session failures onto them.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorType classifies an API error. Each type answers with a default HTTP
// status.
type ErrorType string

const (
	ErrorTypeValidation    ErrorType = "VALIDATION_ERROR"
	ErrorTypeNotFound      ErrorType = "NOT_FOUND"
	ErrorTypeInternal      ErrorType = "INTERNAL_ERROR"
	ErrorTypeTimeout       ErrorType = "TIMEOUT"
	ErrorTypeConflict      ErrorType = "CONFLICT"
	ErrorTypeUnprocessable ErrorType = "UNPROCESSABLE_MEDIA"
	ErrorTypeRateLimit     ErrorType = "RATE_LIMIT"
	ErrorTypeServiceDown   ErrorType = "SERVICE_DOWN"
)

var statusByType = map[ErrorType]int{
	ErrorTypeValidation:    http.StatusBadRequest,
	ErrorTypeNotFound:      http.StatusNotFound,
	ErrorTypeInternal:      http.StatusInternalServerError,
	ErrorTypeTimeout:       http.StatusGatewayTimeout,
	ErrorTypeConflict:      http.StatusConflict,
	ErrorTypeUnprocessable: http.StatusUnprocessableEntity,
	ErrorTypeRateLimit:     http.StatusTooManyRequests,
	ErrorTypeServiceDown:   http.StatusServiceUnavailable,
}

// Status returns the HTTP status for t, 500 for unknown types.
func (t ErrorType) Status() int {
	if s, ok := statusByType[t]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// AppError is an error carrying the HTTP status and body the control API
// answers with.
type AppError struct {
	Type       ErrorType              `json:"type"`
	Message    string                 `json:"message"`
	Code       string                 `json:"code,omitempty"`
	Details    map[string]interface{} `json:"details,omitempty"`
	HTTPStatus int                    `json:"-"`
	Err        error                  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetail adds one entry to the details object of the body.
func (e *AppError) WithDetail(key string, value interface{}) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func (e *AppError) WithCode(code string) *AppError {
	e.Code = code
	return e
}

// WithStatus overrides the type's default status.
func (e *AppError) WithStatus(status int) *AppError {
	e.HTTPStatus = status
	return e
}

// New returns an AppError of type t with a formatted message.
func New(t ErrorType, format string, args ...interface{}) *AppError {
	return &AppError{Type: t, Message: fmt.Sprintf(format, args...), HTTPStatus: t.Status()}
}

// Wrap returns an AppError of type t caused by err.
func Wrap(err error, t ErrorType, message string) *AppError {
	return &AppError{Type: t, Message: message, HTTPStatus: t.Status(), Err: err}
}

func NewValidationError(format string, args ...interface{}) *AppError {
	return New(ErrorTypeValidation, format, args...)
}

func NewNotFoundError(resource string) *AppError {
	return New(ErrorTypeNotFound, "%s not found", resource)
}

func NewRateLimitError(message string) *AppError {
	return New(ErrorTypeRateLimit, "%s", message)
}

func NewInternalError(message string) *AppError {
	return New(ErrorTypeInternal, "%s", message)
}

// GetAppError returns the first AppError in err's chain.
func GetAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}
