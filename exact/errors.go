package exact

import (
	"errors"
	"fmt"
	"net/http"
)

// Common errors
var (
	// ErrInvalidConfig indicates invalid connection configuration
	ErrInvalidConfig = errors.New("invalid exact online configuration")
	// ErrDivisionRequired indicates a division-scoped endpoint was called without a division
	ErrDivisionRequired = errors.New("division is required for this endpoint")
	// ErrNotAuthenticated indicates there is no token, refresh token or authorization code to work with
	ErrNotAuthenticated = errors.New("not authenticated: no access token, refresh token or authorization code")
	// ErrMissingCredentials indicates the client ID or secret is missing
	ErrMissingCredentials = errors.New("client credentials are required")
	// ErrInvalidNextLink indicates a __next pagination link that cannot be followed
	ErrInvalidNextLink = errors.New("invalid pagination link")
)

// ConfigError is returned before any request is sent when the connection
// is not set up well enough to build or authorize it.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("exact: configuration: %v", e.Err)
	}
	return fmt.Sprintf("exact: configuration: %s: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// Is makes every ConfigError match ErrInvalidConfig.
func (e *ConfigError) Is(target error) bool {
	return target == ErrInvalidConfig
}

// TransportError wraps a failure to complete the HTTP round trip.
type TransportError struct {
	Method string
	URL    string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("exact: %s %s: %v", e.Method, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// DecodeError is returned when a 2xx response body is not the JSON the API
// promises, e.g. an HTML maintenance page served by a proxy.
type DecodeError struct {
	StatusCode int
	Method     string
	URL        string
	Body       string
	Err        error

	Request  *http.Request
	Response *http.Response
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("exact: %s %s: status %d: failed to decode response: %v", e.Method, e.URL, e.StatusCode, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// APIError represents a non-2xx response from the Exact Online API
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Method     string
	URL        string
	Body       string

	// Request and Response are kept for diagnostics. The response body
	// has already been consumed; use Body instead.
	Request  *http.Request
	Response *http.Response
}

// Error implements the error interface
func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("exact API error: status %d: %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("exact API error: status %d: %s", e.StatusCode, e.Message)
}

// IsNotFound checks if the error indicates a not found response
func (e *APIError) IsNotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

// IsUnauthorized checks if the error indicates an authentication failure
func (e *APIError) IsUnauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// IsRateLimited checks if the request was rejected by the API rate limiter
func (e *APIError) IsRateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// RefreshError is returned when exchanging an authorization code or a
// refresh token for a new access token fails.
type RefreshError struct {
	Grant       string
	StatusCode  int
	Code        string
	Description string
	Err         error
}

func (e *RefreshError) Error() string {
	msg := fmt.Sprintf("exact: %s grant failed", e.Grant)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(": status %d", e.StatusCode)
	}
	if e.Code != "" {
		msg += ": " + e.Code
	}
	if e.Description != "" {
		msg += ": " + e.Description
	}
	if e.Err != nil && e.StatusCode == 0 {
		msg += fmt.Sprintf(": %v", e.Err)
	}
	return msg
}

func (e *RefreshError) Unwrap() error {
	return e.Err
}
