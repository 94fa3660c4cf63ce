package game

import (
	"errors"
	"fmt"
)

// ErrClosed is returned by commands on a closed session.
var ErrClosed = errors.New("game: session closed")

// ErrNoSuggester is returned by Suggest when AI suggestions are disabled.
var ErrNoSuggester = errors.New("game: suggestions are not configured")

// ValidationError reports a rejected user command. Err is the underlying
// package error (buzzword, bingo or youtube) and can be matched with
// errors.Is.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("game: invalid %s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

func invalid(field string, err error) error {
	return &ValidationError{Field: field, Err: err}
}
