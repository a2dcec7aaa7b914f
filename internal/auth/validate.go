package auth

import (
	"strings"
	"unicode/utf8"
)

const (
	MinUsernameLength = 3
	MinPasswordLength = 8
)

// ValidateCredentials checks a username and password pair.
func ValidateCredentials(username, password string) error {
	if utf8.RuneCountInString(strings.TrimSpace(username)) < MinUsernameLength {
		return &ValidationError{Field: "username", Message: "Username must be at least 3 characters long"}
	}
	if utf8.RuneCountInString(password) < MinPasswordLength {
		return &ValidationError{Field: "password", Message: "Password must be at least 8 characters long"}
	}
	return nil
}

// ValidateSignup checks a signup request.
func ValidateSignup(req SignupRequest) error {
	if err := ValidateCredentials(req.Username, req.Password); err != nil {
		return err
	}
	at := strings.Index(req.Email, "@")
	if at <= 0 || at == len(req.Email)-1 {
		return &ValidationError{Field: "email", Message: "A valid email address is required"}
	}
	return nil
}
