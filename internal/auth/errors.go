// Package auth fronts the identity provider: login, signup, logout, bearer
// token verification, input validation and per-client rate limiting.
package auth

import "errors"

var (
	ErrNoToken            = errors.New("no token provided")
	ErrInvalidToken       = errors.New("invalid token")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrSignupFailed       = errors.New("signup failed")
	ErrLogoutFailed       = errors.New("logout failed")
)

// ValidationError reports user input that fails the account rules.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}
