// Package users stores accounts in Postgres and authenticates them with
// bcrypt password hashes.
package users

import (
	"errors"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"
)

var (
	ErrUserExists         = errors.New("user already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrNotFound           = errors.New("user not found")
)

const (
	minUsernameLen = 5
	maxUsernameLen = 50
	minPasswordLen = 5
	// bcrypt ignores everything past 72 bytes.
	maxPasswordBytes = 72
)

var usernameRegex = regexp.MustCompile(`^[A-Za-z0-9_.\-]+$`)

// User is a stored account.
type User struct {
	ID           int64
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

// Credentials is the sign-up and sign-in payload.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// ValidationError reports one invalid credentials field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Validate checks the username and password rules and returns the first
// violation as a *ValidationError.
func (c Credentials) Validate() error {
	switch n := utf8.RuneCountInString(c.Username); {
	case strings.TrimSpace(c.Username) == "":
		return &ValidationError{Field: "username", Message: "Username cannot be empty"}
	case n < minUsernameLen || n > maxUsernameLen:
		return &ValidationError{Field: "username", Message: "Username must be between 5 and 50 characters"}
	case !usernameRegex.MatchString(c.Username):
		return &ValidationError{Field: "username", Message: "Username can only contain letters, numbers, '.', '-' and '_'"}
	}

	switch {
	case strings.TrimSpace(c.Password) == "":
		return &ValidationError{Field: "password", Message: "Password cannot be empty"}
	case utf8.RuneCountInString(c.Password) < minPasswordLen:
		return &ValidationError{Field: "password", Message: "Password must be at least 5 characters"}
	case len(c.Password) > maxPasswordBytes:
		return &ValidationError{Field: "password", Message: "Password must be at most 72 bytes"}
	}
	return nil
}
