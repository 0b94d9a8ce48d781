package http

import (
	"fmt"
	"net/http"
)

// AppError is an API error with the HTTP status it maps to.
type AppError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Field   string                 `json:"field,omitempty"`
	Params  map[string]interface{} `json:"params,omitempty"`
	Status  int                    `json:"-"`
	Err     error                  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Err }

// WithParam attaches a detail shown to the API caller.
func (e *AppError) WithParam(key string, value interface{}) *AppError {
	if e.Params == nil {
		e.Params = make(map[string]interface{})
	}
	e.Params[key] = value
	return e
}

func newAppError(code, message string, status int) *AppError {
	return &AppError{Code: code, Message: message, Status: status}
}

func BadRequestError(message string) *AppError {
	return newAppError("ERR_BAD_REQUEST", message, http.StatusBadRequest)
}

func NotFoundError(message string) *AppError {
	return newAppError("ERR_NOT_FOUND", message, http.StatusNotFound)
}

func UnavailableError(message string) *AppError {
	return newAppError("ERR_UNAVAILABLE", message, http.StatusServiceUnavailable)
}

// InternalError hides err from the API caller.
func InternalError(err error) *AppError {
	e := newAppError("ERR_INTERNAL", "internal error", http.StatusInternalServerError)
	e.Err = err
	return e
}
