// Package common defines shared constants and sentinel errors used across
// the gateway layers. Callers should use errors.Is / errors.As to match them.
package common

import (
	"errors"
	"fmt"
)

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")
	ErrConflict   = errors.New("already exists")

	// Service-level errors.
	ErrorInternal   = errors.New("internal error")
	ErrorValidation = errors.New("validation error")

	// Authentication errors. Unknown email and wrong password both surface as
	// ErrInvalidCredentials.
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrMissingCredential  = errors.New("missing credential")
	ErrInvalidToken       = errors.New("invalid token")
	ErrTokenExpired       = errors.New("token expired")

	// Compute engine could not be reached or did not answer in time.
	ErrUpstreamUnavailable = errors.New("compute engine unavailable")
)

// UpstreamRejectedError reports that the compute engine answered with a
// non-2xx status. Message is the upstream error text, passed through as is.
type UpstreamRejectedError struct {
	StatusCode int
	Message    string
}

func (e *UpstreamRejectedError) Error() string {
	return fmt.Sprintf("compute engine rejected request (HTTP %d): %s", e.StatusCode, e.Message)
}

// IsUpstreamRejected reports whether err (or any wrapped error) is an
// *UpstreamRejectedError and returns it.
func IsUpstreamRejected(err error) (*UpstreamRejectedError, bool) {
	var re *UpstreamRejectedError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}
