package client

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned by operations on a closed ConnectionManager or LiveList.
	ErrClosed = errors.New("client: closed")

	// ErrRegistrationRejected means the server answered presence.register with
	// an error envelope. Reconnecting with the same identity will not help.
	ErrRegistrationRejected = errors.New("client: registration rejected")
)

// HTTPError represents a non-2xx HTTP response from the API.
type HTTPError struct {
	StatusCode int
	Message    string
	Details    string
}

func (e *HTTPError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("HTTP %d: %s (%s)", e.StatusCode, e.Message, e.Details)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// IsStatus returns true if err (or any wrapped error) is an HTTPError with the given status code.
func IsStatus(err error, code int) bool {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == code
	}
	return false
}
