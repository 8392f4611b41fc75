// Package etlerr defines the error kinds shared by the registry, task manager,
// strategies and executor.
package etlerr

import (
	"errors"
	"fmt"
)

// Sentinel errors. Match with errors.Is.
var (
	ErrValidation   = errors.New("validation error")
	ErrNotFound     = errors.New("not found")
	ErrTransient    = errors.New("transient store error")
	ErrConnectivity = errors.New("connectivity error")
	ErrExecution    = errors.New("execution error")
	ErrUnsupported  = errors.New("unsupported operation")
	ErrConflict     = errors.New("conflict")
	ErrBusy         = errors.New("busy")
)

// Error carries a kind, the operation that failed, and the cause.
type Error struct {
	Kind error
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%v: %v", e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return e.Kind.Error()
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// New wraps err with a kind and operation name.
func New(kind error, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Newf builds an error of the given kind from a format string.
func Newf(kind error, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

func Validation(op, format string, args ...any) error {
	return Newf(ErrValidation, op, format, args...)
}

func NotFound(op, what, id string) error {
	return Newf(ErrNotFound, op, "%s %q", what, id)
}

func Unsupported(op, format string, args ...any) error {
	return Newf(ErrUnsupported, op, format, args...)
}

func Conflict(op, format string, args ...any) error {
	return Newf(ErrConflict, op, format, args...)
}

// IsNotFound reports whether err denotes a genuine absence.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsTransient reports whether err denotes an exhausted retry against the store.
func IsTransient(err error) bool { return errors.Is(err, ErrTransient) }

// KindOf returns the sentinel kind carried by err, or nil.
func KindOf(err error) error {
	for _, k := range []error{ErrValidation, ErrNotFound, ErrTransient, ErrConnectivity, ErrUnsupported, ErrConflict, ErrBusy, ErrExecution} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}
