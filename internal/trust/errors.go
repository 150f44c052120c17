package trust

import (
	stderrors "errors"

	"github.com/go-errors/errors"
)

// Sentinel errors. Their messages are part of the wire contract: the UI
// distinguishes a rejected sender from a rejected argument by them.
var (
	ErrUnauthorizedSender = stderrors.New("unauthorized sender")
	ErrInvalidParameter   = stderrors.New("invalid parameter")
)

// ValidationError names the argument that failed its schema.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return ErrInvalidParameter.Error() + ": " + e.Field
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidParameter
}

// invalid returns a stack-carrying validation error for field.
func invalid(field, reason string) error {
	return errors.Wrap(&ValidationError{Field: field, Reason: reason}, 1)
}

func unauthorized() error {
	return errors.Wrap(ErrUnauthorizedSender, 1)
}

// IsRejection reports whether err came from the gateway's own checks, as
// opposed to a downstream failure.
func IsRejection(err error) bool {
	return stderrors.Is(err, ErrUnauthorizedSender) || stderrors.Is(err, ErrInvalidParameter)
}

// Stack returns the captured stack trace of a gateway error, or "".
func Stack(err error) string {
	var withStack *errors.Error
	if stderrors.As(err, &withStack) {
		return string(withStack.Stack())
	}
	return ""
}
