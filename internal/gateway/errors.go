package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// CodeTokenExpired is the machine-readable signal distinguishing an expired
// access token from every other 401. Only this code triggers renewal.
const CodeTokenExpired = "TOKEN_EXPIRED"

// ErrSessionExpired marks an unrecoverable renewal failure: the session has
// been cleared and the caller should route the user to the login entry point.
var ErrSessionExpired = errors.New("gateway: session expired")

// Category buckets every failure the gateway can surface.
type Category string

const (
	CategoryValidation   Category = "validation"
	CategoryAuth         Category = "authentication"
	CategoryTokenExpired Category = "token_expired"
	CategoryForbidden    Category = "forbidden"
	CategoryNotFound     Category = "not_found"
	CategoryServer       Category = "server"
	CategoryNetwork      Category = "network"
)

// FieldError is a server-reported validation problem on one request field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Value   any    `json:"value,omitempty"`
}

// Envelope is the response wrapper every backend endpoint uses.
type Envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Code    string          `json:"code,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Errors  []FieldError    `json:"errors,omitempty"`
}

// APIError is a classified request failure.
type APIError struct {
	Category   Category
	StatusCode int
	Code       string
	Message    string
	Fields     []FieldError
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("gateway: %s: %s", e.Category, e.Message)
	}
	return fmt.Sprintf("gateway: %s (status %d)", e.Category, e.StatusCode)
}

// classify maps an HTTP status plus response envelope to the error taxonomy.
func classify(status int, env *Envelope) *APIError {
	apiErr := &APIError{StatusCode: status}
	if env != nil {
		apiErr.Code = env.Code
		apiErr.Message = env.Message
		apiErr.Fields = env.Errors
	}
	switch {
	case status == http.StatusUnauthorized && apiErr.Code == CodeTokenExpired:
		apiErr.Category = CategoryTokenExpired
	case status == http.StatusUnauthorized:
		apiErr.Category = CategoryAuth
	case status == http.StatusForbidden:
		apiErr.Category = CategoryForbidden
	case status == http.StatusNotFound:
		apiErr.Category = CategoryNotFound
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity || len(apiErr.Fields) > 0:
		apiErr.Category = CategoryValidation
	case status >= 500:
		apiErr.Category = CategoryServer
	default:
		apiErr.Category = CategoryAuth
	}
	return apiErr
}

// genericMessage is the boundary-level notification text for a category.
func genericMessage(cat Category) string {
	switch cat {
	case CategoryForbidden:
		return "Access denied. You don't have permission to perform this action."
	case CategoryNotFound:
		return "Resource not found."
	case CategoryServer:
		return "Server error. Please try again later."
	case CategoryNetwork:
		return "Network error. Please check your connection."
	case CategoryTokenExpired:
		return "Your session has ended. Please log in again."
	default:
		return "An error occurred"
	}
}

// messageOf extracts the server-supplied message from err, falling back to
// the given default for anything without one.
func messageOf(err error, fallback string) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return fallback
}
