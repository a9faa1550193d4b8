package director

import (
	"errors"
	"fmt"
)

// Sentinel errors for director operations. Check with errors.Is.
var (
	// ErrNoCredentials is returned when neither a token nor a token file is configured.
	ErrNoCredentials = errors.New("director: no credentials configured")

	// ErrUnauthorized is returned when the director rejects the bearer token.
	ErrUnauthorized = errors.New("director: unauthorized")

	// ErrRequestFailed is returned for any other non-2xx response or transport failure.
	ErrRequestFailed = errors.New("director: request failed")

	// ErrInvalidResponse is returned when a response body cannot be decoded.
	ErrInvalidResponse = errors.New("director: invalid response")

	// ErrInvalidConfig is returned by constructors for unusable settings.
	ErrInvalidConfig = errors.New("director: invalid config")
)

// StatusError describes a non-2xx director response.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("director: %s %s: status %d", e.Method, e.Path, e.StatusCode)
	}
	return fmt.Sprintf("director: %s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// Unwrap maps 401/403 to ErrUnauthorized and everything else to ErrRequestFailed.
func (e *StatusError) Unwrap() error {
	if e.StatusCode == 401 || e.StatusCode == 403 {
		return ErrUnauthorized
	}
	return ErrRequestFailed
}
