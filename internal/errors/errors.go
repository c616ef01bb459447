package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType represents the type of error.
type ErrorType string

const (
	// Decoder taxonomy. Every geometry and video operation returns one of these.
	ErrorTypeIO            ErrorType = "IO_ERROR"
	ErrorTypeFormat        ErrorType = "FORMAT_ERROR"
	ErrorTypeCorruptFrame  ErrorType = "CORRUPT_FRAME"
	ErrorTypeOutOfRange    ErrorType = "OUT_OF_RANGE"
	ErrorTypeInvalidHandle ErrorType = "INVALID_HANDLE"
	ErrorTypeEndOfStream   ErrorType = "END_OF_STREAM"
	ErrorTypeDecode        ErrorType = "DECODE_ERROR"

	// API-facing types used by the inspection server.
	ErrorTypeValidation ErrorType = "VALIDATION_ERROR"
	ErrorTypeNotFound   ErrorType = "NOT_FOUND"
	ErrorTypeInternal   ErrorType = "INTERNAL_ERROR"
)

// Sentinels for errors.Is. They match any AppError of the same type.
var (
	ErrIO            = &AppError{Type: ErrorTypeIO}
	ErrFormat        = &AppError{Type: ErrorTypeFormat}
	ErrCorruptFrame  = &AppError{Type: ErrorTypeCorruptFrame}
	ErrOutOfRange    = &AppError{Type: ErrorTypeOutOfRange}
	ErrInvalidHandle = &AppError{Type: ErrorTypeInvalidHandle}
	ErrEndOfStream   = &AppError{Type: ErrorTypeEndOfStream}
	ErrDecode        = &AppError{Type: ErrorTypeDecode}

	ErrValidation = &AppError{Type: ErrorTypeValidation}
	ErrNotFound   = &AppError{Type: ErrorTypeNotFound}
)

// AppError represents an application error with additional context.
type AppError struct {
	Type       ErrorType              `json:"type"`
	Message    string                 `json:"message"`
	Code       string                 `json:"code,omitempty"`
	Details    map[string]interface{} `json:"details,omitempty"`
	HTTPStatus int                    `json:"-"`
	Err        error                  `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the wrapped error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is reports whether target is an AppError of the same type.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Type == e.Type
}

// WithDetails adds details to the error.
func (e *AppError) WithDetails(details map[string]interface{}) *AppError {
	e.Details = details
	return e
}

// WithDetail sets a single detail key.
func (e *AppError) WithDetail(key string, value interface{}) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithCode adds an error code.
func (e *AppError) WithCode(code string) *AppError {
	e.Code = code
	return e
}

// New creates a new AppError.
func New(errType ErrorType, message string, httpStatus int) *AppError {
	return &AppError{
		Type:       errType,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an existing error.
func Wrap(err error, errType ErrorType, message string, httpStatus int) *AppError {
	return &AppError{
		Type:       errType,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// Decoder error constructors.

// NewIOError wraps a file system failure.
func NewIOError(err error, format string, args ...interface{}) *AppError {
	return Wrap(err, ErrorTypeIO, fmt.Sprintf(format, args...), http.StatusInternalServerError)
}

// NewFormatError reports a container that does not follow the expected layout.
func NewFormatError(format string, args ...interface{}) *AppError {
	return New(ErrorTypeFormat, fmt.Sprintf(format, args...), http.StatusUnprocessableEntity)
}

// WrapFormatError is NewFormatError with a cause.
func WrapFormatError(err error, format string, args ...interface{}) *AppError {
	return Wrap(err, ErrorTypeFormat, fmt.Sprintf(format, args...), http.StatusUnprocessableEntity)
}

// NewCorruptFrameError reports a frame whose payload cannot be applied.
func NewCorruptFrameError(frame int, format string, args ...interface{}) *AppError {
	return New(ErrorTypeCorruptFrame, fmt.Sprintf(format, args...), http.StatusUnprocessableEntity).
		WithDetail("frame", frame)
}

// NewOutOfRangeError reports a frame number outside [0, count).
func NewOutOfRangeError(frame, count int) *AppError {
	return New(ErrorTypeOutOfRange,
		fmt.Sprintf("frame %d outside [0, %d)", frame, count), http.StatusBadRequest).
		WithDetails(map[string]interface{}{"frame": frame, "frame_count": count})
}

// NewInvalidHandleError reports use of a closed or never opened stream.
func NewInvalidHandleError(what string) *AppError {
	return New(ErrorTypeInvalidHandle, fmt.Sprintf("%s is not open", what), http.StatusGone)
}

// NewEndOfStreamError reports a sequential read past the last frame.
func NewEndOfStreamError(count int64) *AppError {
	return New(ErrorTypeEndOfStream, fmt.Sprintf("all %d frames consumed", count), http.StatusRequestedRangeNotSatisfiable)
}

// NewDecodeError reports a corrupt video payload.
func NewDecodeError(err error, format string, args ...interface{}) *AppError {
	return Wrap(err, ErrorTypeDecode, fmt.Sprintf(format, args...), http.StatusUnprocessableEntity)
}

// API error constructors.

// NewValidationError creates a validation error.
func NewValidationError(message string) *AppError {
	return New(ErrorTypeValidation, message, http.StatusBadRequest)
}

// NewNotFoundError creates a not found error.
func NewNotFoundError(resource string) *AppError {
	return New(ErrorTypeNotFound, fmt.Sprintf("%s not found", resource), http.StatusNotFound)
}

// NewInternalError creates an internal server error.
func NewInternalError(message string) *AppError {
	return New(ErrorTypeInternal, message, http.StatusInternalServerError)
}

// WrapInternalError wraps an error as internal server error.
func WrapInternalError(err error, message string) *AppError {
	return Wrap(err, ErrorTypeInternal, message, http.StatusInternalServerError)
}

// IsAppError checks if an error is an AppError.
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// GetAppError extracts AppError from an error chain.
func GetAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// TypeOf returns the ErrorType of err, or "" if err is not an AppError.
func TypeOf(err error) ErrorType {
	if appErr, ok := GetAppError(err); ok {
		return appErr.Type
	}
	return ""
}
