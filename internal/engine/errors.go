package engine

import "fmt"

// InputError reports a missing or malformed client-supplied field. No side
// effect has been attempted when one is returned.
type InputError struct {
	Msg string
}

func (e InputError) Error() string { return e.Msg }

func inputErrorf(format string, args ...any) InputError {
	return InputError{Msg: fmt.Sprintf(format, args...)}
}

// PreconditionError reports an operation invoked out of order, before any
// external collaborator was contacted.
type PreconditionError struct {
	Msg string
}

func (e PreconditionError) Error() string { return e.Msg }

// CollaboratorError wraps a failed generator, judge or attestation call.
type CollaboratorError struct {
	Op  string
	Err error
}

func (e CollaboratorError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }
func (e CollaboratorError) Unwrap() error { return e.Err }
