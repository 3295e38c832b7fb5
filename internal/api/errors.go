package api

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound matches any *AppError carrying HTTP status 404.
	ErrNotFound      = errors.New("page not found")
	ErrInvalidJSON   = errors.New("invalid JSON response")
	ErrNotConfigured = errors.New("api must be configured before you can use it")
)

// AppError is an application error answered by the API.
type AppError struct {
	Code    string        `json:"code"`
	Status  int           `json:"-"`
	Message string        `json:"message"`
	Details []ErrorDetail `json:"details,omitempty"`
}

type ErrorDetail struct {
	Field   string `json:"field,omitempty"`
	Rule    string `json:"rule,omitempty"`
	Message string `json:"message"`
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Is(target error) bool {
	return target == ErrNotFound && e.Status == 404
}

func NewAppError(code string, status int, msg string) *AppError {
	return &AppError{Code: code, Status: status, Message: msg}
}

func NotFoundError(url string) *AppError {
	return &AppError{
		Code:    "NOT_FOUND",
		Status:  404,
		Message: fmt.Sprintf("Page not found: %s", url),
	}
}

// ResponseError builds the error for a non-successful status; message is
// the "error" field of the body when present.
func ResponseError(status int, message string) *AppError {
	if message == "" {
		message = "Unknown error"
	}
	return &AppError{Code: "API_ERROR", Status: status, Message: message}
}
