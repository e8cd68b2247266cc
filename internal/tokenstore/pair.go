package tokenstore

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when no credentials (or no value for a key) are stored.
	ErrNotFound = errors.New("token not found")

	// ErrReadOnly is returned by backends that cannot be written to.
	ErrReadOnly = errors.New("token storage is read-only")

	// ErrEmptyAccessToken is returned when saving a pair without an access token.
	ErrEmptyAccessToken = errors.New("access token cannot be empty")
)

// Pair is the credential pair issued by the API.
type Pair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// IsZero reports whether neither token is set.
func (p Pair) IsZero() bool {
	return p.AccessToken == "" && p.RefreshToken == ""
}

// String hides token values so a Pair can be logged or printed safely.
func (p Pair) String() string {
	return fmt.Sprintf("Pair{access:%s refresh:%s}", redact(p.AccessToken), redact(p.RefreshToken))
}

func redact(token string) string {
	if token == "" {
		return "<none>"
	}
	return "<redacted>"
}

// StorageError reports a failure of the persistence layer.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("token storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
