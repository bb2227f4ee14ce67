package app

import (
	"errors"
	"strings"
)

var (
	// ErrInvalidCredentials is shown for both an unknown email and a wrong
	// password, so callers cannot probe which accounts exist.
	ErrInvalidCredentials = errors.New("invalid email or password")

	// ErrUserExists is returned when the username or email is taken.
	ErrUserExists = errors.New("username or email already taken")

	// ErrBookNotFound covers both a missing id and a book owned by someone
	// else; the two cases are deliberately indistinguishable.
	ErrBookNotFound = errors.New("book not found")

	ErrMissingToken = errors.New("missing token")
	ErrInvalidToken = errors.New("invalid token")
	ErrUnknownUser  = errors.New("user not found")
)

// ValidationError lists the input constraints a request violated.
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	return strings.Join(e.Violations, "; ")
}

func newValidationError(violations ...string) *ValidationError {
	return &ValidationError{Violations: violations}
}
