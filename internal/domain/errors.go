package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError is a structured application error with HTTP status code.
type AppError struct {
	Code    int    `json:"code"`
	Message string `json:"error"`
	Err     error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Common error constructors.

func ErrNotFound(msg string) *AppError {
	return &AppError{Code: http.StatusNotFound, Message: msg}
}

func ErrUnauthorized(msg string) *AppError {
	return &AppError{Code: http.StatusUnauthorized, Message: msg}
}

func ErrBadRequest(msg string) *AppError {
	return &AppError{Code: http.StatusBadRequest, Message: msg}
}

func ErrValidation(msg string) *AppError {
	return &AppError{Code: http.StatusUnprocessableEntity, Message: msg}
}

func ErrInternal(msg string, err error) *AppError {
	return &AppError{Code: http.StatusInternalServerError, Message: msg, Err: err}
}

// ErrInvalidState guards illegal transaction transitions.
func ErrInvalidState(msg string) *AppError {
	return &AppError{Code: http.StatusConflict, Message: msg}
}

// ErrGatewayUnavailable marks a transient gateway failure. Verification calls
// may be retried; an initialize must not be (the user retries with a fresh
// reference instead).
func ErrGatewayUnavailable(msg string, err error) *AppError {
	return &AppError{Code: http.StatusServiceUnavailable, Message: msg, Err: err}
}

// ErrGatewayRejected marks a permanent gateway rejection, surfaced to the user.
func ErrGatewayRejected(msg string) *AppError {
	return &AppError{Code: http.StatusBadGateway, Message: msg}
}

// ErrTamper marks an amount or currency mismatch between the local record and
// the gateway's response. Treated as failure, never as success.
func ErrTamper(msg string) *AppError {
	return &AppError{Code: http.StatusConflict, Message: msg}
}

// AsAppError attempts to extract an AppError from an error chain.
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}
