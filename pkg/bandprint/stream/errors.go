package stream

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned by a receiver whose listener has been closed
	// and whose queue is drained.
	ErrClosed = errors.New("stream: closed")
	// ErrStopped is returned by Start when the listener was deactivated
	// before the worker could begin.
	ErrStopped = errors.New("stream: deactivated during start")
)

// ConflictError is returned by Start on a listener that is already active.
type ConflictError struct {
	URI string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("stream: listener for %s is already active", e.URI)
}

// ResolveError reports a stream URI that could not be turned into a
// fetchable media URI.
type ResolveError struct {
	URI    string
	Reason string
	Err    error
}

func (e *ResolveError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("stream: resolve %s: %s: %v", e.URI, e.Reason, e.Err)
	}
	return fmt.Sprintf("stream: resolve %s: %s", e.URI, e.Reason)
}

func (e *ResolveError) Unwrap() error { return e.Err }
