package errors

import (
	"fmt"
	"net/http"
)

// APIError is the JSON error body of every failed API response.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
	Details string `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func NewAPIError(code, message string, status int, details ...string) *APIError {
	err := &APIError{
		Code:    code,
		Message: message,
		Status:  status,
	}
	if len(details) > 0 {
		err.Details = details[0]
	}
	return err
}

// WithDetails returns a copy carrying details; the shared values below stay untouched.
func (e *APIError) WithDetails(details string) *APIError {
	c := *e
	c.Details = details
	return &c
}

var (
	ErrInvalidInput   = NewAPIError("INVALID_INPUT", "Invalid request data", http.StatusBadRequest)
	ErrInvalidRegion  = NewAPIError("INVALID_REGION", "Invalid region", http.StatusBadRequest)
	ErrUnauthorized   = NewAPIError("UNAUTHORIZED", "Authentication required", http.StatusUnauthorized)
	ErrNotFound       = NewAPIError("NOT_FOUND", "Resource not found", http.StatusNotFound)
	ErrBodyTooLarge   = NewAPIError("BODY_TOO_LARGE", "Request body too large", http.StatusRequestEntityTooLarge)
	ErrInternal       = NewAPIError("INTERNAL_SERVER_ERROR", "Internal server error", http.StatusInternalServerError)
	ErrUnavailable    = NewAPIError("SERVICE_UNAVAILABLE", "Storage unavailable", http.StatusServiceUnavailable)
	ErrRequestTimeout = NewAPIError("REQUEST_TIMEOUT", "Request timed out", http.StatusGatewayTimeout)
)

func Wrap(err error, code, message string, status int) *APIError {
	if apiErr, ok := err.(*APIError); ok {
		return apiErr
	}
	return NewAPIError(code, message, status, err.Error())
}
