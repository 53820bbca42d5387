// Package etlerr defines the error taxonomy shared by the dedup engine and the
// loaders.
//
// Configuration and validation errors fail a whole operation. Record, batch and
// probe errors are accumulated in reports while the run keeps going; they are
// still modelled as *Error so callers can inspect Kind uniformly.
package etlerr

import (
	"errors"
	"fmt"
)

// Kind classifies an error.
type Kind string

const (
	// KindConfiguration means required credentials or settings are missing.
	KindConfiguration Kind = "configuration"
	// KindValidation means the input shape violates a precondition.
	KindValidation Kind = "validation"
	// KindRecord means a single record or vector failed to load or embed.
	KindRecord Kind = "record"
	// KindBatch means a bulk store call failed.
	KindBatch Kind = "batch"
	// KindProbe means an existence lookup against a store failed.
	KindProbe Kind = "probe"
)

// Error is the typed error returned by pipeline operations.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := e.Msg
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	if e.Op == "" {
		return fmt.Sprintf("%s error: %s", e.Kind, msg)
	}
	return fmt.Sprintf("%s: %s error: %s", e.Op, e.Kind, msg)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Configuration builds a KindConfiguration error.
func Configuration(op, format string, args ...any) *Error {
	return &Error{Kind: KindConfiguration, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Validation builds a KindValidation error.
func Validation(op, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and operation to err. A nil err stays nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
