package wanikani

import (
	"errors"
	"fmt"
	"net/http"
)

// AuthError indicates the credential was rejected. It is never retried.
type AuthError struct {
	Path string
}

func (e AuthError) Error() string {
	return "invalid API key"
}

// APIError is any other non-success response. Message is taken from the
// response body when it can be decoded.
type APIError struct {
	Path    string
	Status  int
	Code    int
	Message string
}

func (e APIError) Error() string {
	return e.Message
}

// ConnectivityError wraps failures to reach the API or to decode its
// response.
type ConnectivityError struct {
	Path  string
	Cause error
}

func (e ConnectivityError) Error() string {
	return fmt.Sprintf("connection error requesting %s: %v", e.Path, e.Cause)
}

func (e ConnectivityError) Unwrap() error {
	return e.Cause
}

// ThrottledError is returned when a request is still throttled after the
// configured number of retries.
type ThrottledError struct {
	Path     string
	Attempts int
}

func (e ThrottledError) Error() string {
	return fmt.Sprintf("request to %s still throttled after %d attempts", e.Path, e.Attempts)
}

// IsAuth reports whether err is, or wraps, an AuthError.
func IsAuth(err error) bool {
	var authErr AuthError
	return errors.As(err, &authErr)
}

func statusMessage(status int) string {
	return fmt.Sprintf("HTTP %d: %s", status, http.StatusText(status))
}
