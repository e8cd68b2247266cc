package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/budgetflow/budgetflow/internal/authtransport"
	"github.com/budgetflow/budgetflow/internal/tokenstore"
)

// NetworkError is a transport-level failure: no connectivity, DNS, timeout.
// The client never retries these on its own.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: network error: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// Timeout reports whether the failure was a timeout.
func (e *NetworkError) Timeout() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(e.Err, &netErr) && netErr.Timeout()
}

// Category groups HTTP failures by what the user can do about them.
type Category string

const (
	CategoryInvalidRequest Category = "invalid_request"
	CategoryUnauthorized   Category = "unauthorized"
	CategoryAccessDenied   Category = "access_denied"
	CategoryNotFound       Category = "not_found"
	CategoryServerError    Category = "server_error"
	CategoryOther          Category = "other"
)

// HTTPError is any non-2xx response that is not an authentication failure.
type HTTPError struct {
	Status int
	Method string
	Path   string
	// Message is the API's "detail" field when present.
	Message string
}

func (e *HTTPError) Error() string {
	msg := fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.Status, http.StatusText(e.Status))
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

// Category maps the status code to a Category.
func (e *HTTPError) Category() Category {
	switch {
	case e.Status == http.StatusBadRequest || e.Status == http.StatusUnprocessableEntity:
		return CategoryInvalidRequest
	case e.Status == http.StatusUnauthorized:
		return CategoryUnauthorized
	case e.Status == http.StatusForbidden:
		return CategoryAccessDenied
	case e.Status == http.StatusNotFound:
		return CategoryNotFound
	case e.Status >= 500:
		return CategoryServerError
	default:
		return CategoryOther
	}
}

// IsAuthenticationFailure reports whether err requires the user to sign in again.
func IsAuthenticationFailure(err error) bool {
	if errors.Is(err, authtransport.ErrAuthenticationFailed) {
		return true
	}
	var httpErr *HTTPError
	return errors.As(err, &httpErr) && httpErr.Category() == CategoryUnauthorized
}

// Describe returns a message suitable for showing to the user.
func Describe(err error) string {
	if err == nil {
		return ""
	}
	if IsAuthenticationFailure(err) {
		return "Authentication failed. Please sign in again."
	}

	var netErr *NetworkError
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return "Request timed out. Please try again."
		}
		return "No internet connection"
	}

	var storageErr *tokenstore.StorageError
	if errors.As(err, &storageErr) {
		return "Credential storage is unavailable: " + storageErr.Err.Error()
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		switch httpErr.Category() {
		case CategoryInvalidRequest:
			if httpErr.Message != "" {
				return "Invalid request: " + httpErr.Message
			}
			return "Invalid request data"
		case CategoryAccessDenied:
			return "Access denied"
		case CategoryNotFound:
			return "Not found"
		case CategoryServerError:
			return "Server error. Please try again later."
		default:
			return fmt.Sprintf("Request failed: %d %s", httpErr.Status, http.StatusText(httpErr.Status))
		}
	}

	if errors.Is(err, context.Canceled) {
		return "Cancelled"
	}
	return err.Error()
}
