package utils

import (
	"errors"
	"fmt"
	"net/http"
)

type AppError struct {
	Code    string
	Message string
	Origin  error // Original error that caused this error, if any
}

func (appErr *AppError) Error() string {
	if appErr.Origin != nil {
		return appErr.Message + ": " + appErr.Origin.Error()
	}
	return appErr.Message
}

func (appErr *AppError) Unwrap() error {
	return appErr.Origin
}

// Standard error codes for the application
const (
	// Resource errors
	ErrNotFound     = "NOT_FOUND"
	ErrInvalidInput = "INVALID_INPUT"

	// Store errors
	ErrStoreNotReady = "STORE_NOT_READY"
	ErrDatabase      = "DATABASE"

	// Actor communication errors
	ErrActorTimeout    = "ACTOR_TIMEOUT"
	ErrMessageRejected = "MESSAGE_REJECTED"

	// Replication channel errors
	ErrDecode        = "DECODE"
	ErrChannelClosed = "CHANNEL_CLOSED"
)

// Error creation helper functions
func NewAppError(code string, message string, originalErr error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Origin:  originalErr,
	}
}

func NewPostNotFoundError(postID string) *AppError {
	return &AppError{
		Code:    ErrNotFound,
		Message: "Post not found: " + postID,
	}
}

func NewInvalidInputError(format string, args ...interface{}) *AppError {
	return &AppError{
		Code:    ErrInvalidInput,
		Message: fmt.Sprintf(format, args...),
	}
}

func NewActorTimeoutError(actorName string, origin error) *AppError {
	return &AppError{
		Code:    ErrActorTimeout,
		Message: "Actor communication timeout: " + actorName,
		Origin:  origin,
	}
}

// IsErrorCode reports whether err (or anything it wraps) is an AppError with code.
func IsErrorCode(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// AppErrorToHTTPStatus converts an AppError code to an HTTP status code.
func AppErrorToHTTPStatus(errorCode string) int {
	switch errorCode {
	case ErrNotFound:
		return http.StatusNotFound
	case ErrInvalidInput, ErrDecode:
		return http.StatusBadRequest
	case ErrStoreNotReady:
		return http.StatusServiceUnavailable
	case ErrActorTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// HTTPStatus maps any error to a status code, defaulting to 500.
func HTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return AppErrorToHTTPStatus(appErr.Code)
	}
	return http.StatusInternalServerError
}
