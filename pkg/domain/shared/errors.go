// Package shared provides the identifiers, errors and severity scale shared by
// every secmon domain package.
package shared

import "errors"

// Sentinel errors. Stores and services wrap them with context using %w;
// the HTTP layer maps them to status codes with errors.Is.
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrInvalidInput  = errors.New("invalid input")
	ErrConflict      = errors.New("conflict")
	ErrValidation    = errors.New("validation error")
)

func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }
