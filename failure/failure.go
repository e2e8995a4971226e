// Package failure classifies errors by how a reconciliation should react to
// them.
package failure

import (
	"fmt"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// Kind is the class of an error.
type Kind int

// Error kinds.
const (
	// Transient errors are retried after a delay.
	Transient Kind = iota

	// Permanent errors are not retried until the seed changes.
	Permanent

	// NotFound is returned when a referenced object does not exist. It is
	// retried, as the object may be created later.
	NotFound
)

func (k Kind) String() string {
	switch k {
	case Transient:
		return "transient"
	case Permanent:
		return "permanent"
	case NotFound:
		return "not found"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Error is an error annotated with a Kind.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string { return e.Err.Error() }

// Cause returns the underlying error.
func (e *Error) Cause() error { return e.Err }

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error { return e.Err }

// New creates a new error of the given kind.
func New(kind Kind, format string, args ...interface{}) error {
	return &Error{Kind: kind, Err: errors.Errorf(format, args...)}
}

// Wrap annotates err with a kind and a message. Returns nil if err is nil.
func Wrap(kind Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: errors.Wrap(err, msg)}
}

// Mark sets the kind of err without changing its message. Returns nil if
// err is nil.
func Mark(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

// Permanentf returns a new permanent error.
func Permanentf(format string, args ...interface{}) error {
	return New(Permanent, format, args...)
}

// NotFoundf returns a new not found error.
func NotFoundf(format string, args ...interface{}) error {
	return New(NotFound, format, args...)
}

// KindOf returns the kind of the outermost classified error in the chain.
// Unclassified errors are Transient. An error combining multiple errors has
// the kind shared by all of them, or Transient if their kinds differ.
func KindOf(err error) Kind {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.Kind
		}
		if errs := multierr.Errors(err); len(errs) > 1 {
			return combinedKind(errs)
		}
		switch v := err.(type) {
		case interface{ Cause() error }:
			err = v.Cause()
		case interface{ Unwrap() error }:
			err = v.Unwrap()
		default:
			return Transient
		}
	}
	return Transient
}

func combinedKind(errs []error) Kind {
	kind := KindOf(errs[0])
	for _, err := range errs[1:] {
		if KindOf(err) != kind {
			return Transient
		}
	}
	return kind
}

// IsPermanent reports whether err is permanent.
func IsPermanent(err error) bool { return err != nil && KindOf(err) == Permanent }

// IsNotFound reports whether err signals a missing object.
func IsNotFound(err error) bool { return err != nil && KindOf(err) == NotFound }
