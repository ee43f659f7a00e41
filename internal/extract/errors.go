package extract

import (
	"errors"
	"fmt"
)

// Sentinel errors for run-level failures. Match them with errors.Is.
var (
	ErrUnreadableFormat     = errors.New("unreadable format")
	ErrEmptyInput           = errors.New("empty input")
	ErrStructuralCorruption = errors.New("structural corruption")
)

// ErrorKind classifies a run-level failure.
type ErrorKind string

const (
	KindUnreadableFormat     ErrorKind = "UnreadableFormat"
	KindEmptyInput           ErrorKind = "EmptyInput"
	KindStructuralCorruption ErrorKind = "StructuralCorruption"
)

func (k ErrorKind) sentinel() error {
	switch k {
	case KindUnreadableFormat:
		return ErrUnreadableFormat
	case KindEmptyInput:
		return ErrEmptyInput
	default:
		return ErrStructuralCorruption
	}
}

// Error is a failure that aborts an extraction run.
type Error struct {
	Kind   ErrorKind
	Detail string
	Err    error // underlying cause, may be nil
}

func (e *Error) Error() string {
	msg := "extract: " + e.Kind.sentinel().Error()
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for the error's kind.
func (e *Error) Is(target error) bool {
	return target == e.Kind.sentinel()
}

func newError(kind ErrorKind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...), Err: err}
}
