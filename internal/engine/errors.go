package engine

import (
	"errors"
	"fmt"
)

// ValidationError rejects a request whose payload or state preconditions are
// wrong. The message is safe to return to the client.
type ValidationError struct {
	Msg string
}

func (e ValidationError) Error() string { return e.Msg }

func validationf(format string, args ...any) error {
	return ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// ConflictError signals a lost race or an attempt to redo a one-way
// transition. The message is safe to return to the client.
type ConflictError struct {
	Msg string
}

func (e ConflictError) Error() string { return e.Msg }

func conflictf(format string, args ...any) error {
	return ConflictError{Msg: fmt.Sprintf(format, args...)}
}

func IsValidation(err error) bool {
	var v ValidationError
	return errors.As(err, &v)
}

func IsConflict(err error) bool {
	var c ConflictError
	return errors.As(err, &c)
}
