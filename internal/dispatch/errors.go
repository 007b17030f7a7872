package dispatch

import "errors"

// transientError marks a failure worth retrying.
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// fatalError marks a failure that must not be retried.
type fatalError struct {
	err error
}

func (e *fatalError) Error() string { return e.err.Error() }
func (e *fatalError) Unwrap() error { return e.err }

// Transient wraps err so the dispatcher will requeue the event, up to the
// configured attempt budget. Returns nil if err is nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// Fatal wraps err so the dispatcher fails the event immediately without
// consuming further attempts. Returns nil if err is nil.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &fatalError{err: err}
}

// transienter lets error types from other packages opt into retries
// without importing this package.
type transienter interface {
	Transient() bool
}

// IsTransient reports whether err should be retried. Unclassified errors
// are treated as transient so flaky downstreams get their attempt budget;
// only an explicit Fatal wrapper (or a Transient() false implementation)
// short-circuits to failure.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var fatal *fatalError
	if errors.As(err, &fatal) {
		return false
	}
	var tr transienter
	if errors.As(err, &tr) {
		return tr.Transient()
	}
	return true
}
