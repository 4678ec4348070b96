// Package sink defines the downstream delivery contract (spec.md §4.B) and
// a reference PostgreSQL implementation.
package sink

import (
	"context"
	"errors"

	"github.com/jcrane-labs/walcdc/internal/event"
)

// Sink delivers a batch of normalized events downstream. Apply either makes
// every event visible at the destination or returns an error; the apply
// loop never observes partial success.
type Sink interface {
	Apply(ctx context.Context, events []event.Event) error
}

// errClass distinguishes retryable failures from fatal ones (spec.md §4.B).
type errClass int

const (
	classTransient errClass = iota
	classPermanent
)

type classifiedErr struct {
	class errClass
	err   error
}

func (e *classifiedErr) Error() string { return e.err.Error() }
func (e *classifiedErr) Unwrap() error { return e.err }

// Transient wraps err as a retryable failure: network errors, timeouts,
// resource exhaustion. The apply loop retries the same batch.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &classifiedErr{class: classTransient, err: err}
}

// Permanent wraps err as a fatal failure: schema mismatch, authorization
// failure. The apply loop surfaces it immediately and exits.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &classifiedErr{class: classPermanent, err: err}
}

// IsTransient reports whether err (or something it wraps) was classified
// Transient. An unclassified error is treated as Permanent — a sink that
// forgets to classify an error fails closed, not open.
func IsTransient(err error) bool {
	var ce *classifiedErr
	if errors.As(err, &ce) {
		return ce.class == classTransient
	}
	return false
}
