package scheduler

import (
	"errors"
	"fmt"
)

// Sentinel errors for the task queue.
var (
	ErrTaskNotFound    = errors.New("scheduled task not found")
	ErrUnknownTaskType = errors.New("no handler registered for task type")
	ErrDuplicateTask   = errors.New("task with this dedupe key already exists")
	ErrClaimLost       = errors.New("task claim no longer held")
	ErrLeaseExpired    = errors.New("task lease expired before completion")
)

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks a handler error as not worth retrying. The task fails
// immediately regardless of its remaining retries.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Permanentf is Permanent(fmt.Errorf(...)).
func Permanentf(format string, args ...any) error {
	return Permanent(fmt.Errorf(format, args...))
}

// IsPermanent reports whether err was wrapped with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
