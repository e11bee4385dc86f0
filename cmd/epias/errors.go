package epias

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthorized is wrapped by every AuthError.
	ErrUnauthorized = errors.New("upstream rejected credentials")
	// ErrNotAuthenticated is returned when no ticket is held and no credentials are known.
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrCredentialsRequired is returned when username or password is empty.
	ErrCredentialsRequired = errors.New("username and password are required")
	// ErrFormatMismatch marks a response whose shape matches no known envelope.
	// It is logged, never returned from a fetch.
	ErrFormatMismatch = errors.New("unrecognized response envelope")
)

// AuthError reports a failed login or a 401/403 on a later call.
type AuthError struct {
	Status  int
	Message string
}

func (e *AuthError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("authentication failed: %s", e.Message)
	}
	if e.Message == "" {
		return fmt.Sprintf("authentication failed: status %d", e.Status)
	}
	return fmt.Sprintf("authentication failed: status %d: %s", e.Status, e.Message)
}

func (e *AuthError) Unwrap() error {
	return ErrUnauthorized
}

// FetchError reports a transport failure, timeout or non-success status on a
// single request. Body holds an excerpt of the response.
type FetchError struct {
	Op     string
	Status int
	Body   string
	Err    error
}

func (e *FetchError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	case e.Body != "":
		return fmt.Sprintf("%s: status %d: %s", e.Op, e.Status, e.Body)
	default:
		return fmt.Sprintf("%s: status %d", e.Op, e.Status)
	}
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// IsAuthError reports whether err is, or wraps, an authentication failure.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}
