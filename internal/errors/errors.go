// Package errors classifies migration failures so callers can decide whether
// a failure is worth retrying without inspecting error strings.
package errors

import (
	"context"
	stderrors "errors"
	"fmt"
)

// Category is the retry class of a failure.
type Category int

const (
	// Transient failures (timeouts, connection resets, duplicate keys) may
	// succeed on a later attempt.
	Transient Category = iota
	// Configuration failures (malformed query, unsupported value type) will
	// fail the same way every time.
	Configuration
	// Fatal failures mean the run cannot proceed at all.
	Fatal
)

func (c Category) String() string {
	switch c {
	case Transient:
		return "transient"
	case Configuration:
		return "configuration"
	case Fatal:
		return "fatal"
	default:
		return fmt.Sprintf("category(%d)", int(c))
	}
}

// ErrCheckpoint marks a failure to persist the checkpoint after a batch's
// data reached the sink.
var ErrCheckpoint = stderrors.New("checkpoint write failed")

// Error is a classified failure. Op names the operation that failed.
type Error struct {
	Category Category
	Op       string
	Err      error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s error: %v", e.Category, e.Err)
	}
	return fmt.Sprintf("%s: %s error: %v", e.Op, e.Category, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewTransient wraps err as a retryable failure of op.
func NewTransient(op string, err error) error {
	return &Error{Category: Transient, Op: op, Err: err}
}

// NewConfiguration wraps err as a non-retryable configuration failure of op.
func NewConfiguration(op string, err error) error {
	return &Error{Category: Configuration, Op: op, Err: err}
}

// NewFatal wraps err as a run-ending failure of op.
func NewFatal(op string, err error) error {
	return &Error{Category: Fatal, Op: op, Err: err}
}

// Configurationf builds a configuration error from a format string.
func Configurationf(op, format string, args ...any) error {
	return NewConfiguration(op, fmt.Errorf(format, args...))
}

// CategoryOf returns the category of the outermost classified error in the
// chain. Unclassified errors are Transient.
func CategoryOf(err error) Category {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Category
	}
	return Transient
}

// IsRetryable reports whether err may succeed on another attempt.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, ErrCheckpoint) {
		return false
	}
	return CategoryOf(err) == Transient
}

// IsConfiguration reports whether err is a configuration failure.
func IsConfiguration(err error) bool {
	return err != nil && CategoryOf(err) == Configuration
}

// IsFatal reports whether err is a fatal failure.
func IsFatal(err error) bool {
	return err != nil && CategoryOf(err) == Fatal
}
