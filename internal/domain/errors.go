// Package domain provides shared domain-level sentinel errors and the
// failure taxonomy attached to tasks.
package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates a concurrent modification conflict (optimistic locking).
var ErrConflict = errors.New("conflict: resource was modified by another request")

// ErrValidation indicates a request failed structural validation.
var ErrValidation = errors.New("validation failed")

// ErrAlreadyBusy indicates an actor could not be reserved because another
// task holds it.
var ErrAlreadyBusy = errors.New("actor already busy")

// Kind classifies why a task or review step failed.
type Kind string

const (
	KindRoutingFailure       Kind = "routing_failure"
	KindReviewTimeout        Kind = "review_timeout"
	KindConsensusDeadlock    Kind = "consensus_deadlock"
	KindMaxRevisionsExceeded Kind = "max_revisions_exceeded"
	KindDiffComputation      Kind = "diff_computation_error"
	KindCancelled            Kind = "cancelled"
	KindDeadlineExceeded     Kind = "deadline_exceeded"
	KindHandlerFault         Kind = "handler_fault"
)

// Sentinels usable with errors.Is against any *Error of the same kind.
var (
	ErrRoutingFailure       = &Error{Kind: KindRoutingFailure}
	ErrReviewTimeout        = &Error{Kind: KindReviewTimeout}
	ErrConsensusDeadlock    = &Error{Kind: KindConsensusDeadlock}
	ErrMaxRevisionsExceeded = &Error{Kind: KindMaxRevisionsExceeded}
	ErrDiffComputation      = &Error{Kind: KindDiffComputation}
	ErrCancelled            = &Error{Kind: KindCancelled}
	ErrDeadlineExceeded     = &Error{Kind: KindDeadlineExceeded}
)

// Error is a classified failure. Detail is human readable; Err is the
// optional underlying cause.
type Error struct {
	Kind   Kind
	Detail string
	Err    error
}

// NewError builds a classified error with a formatted detail message.
func NewError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// WrapError classifies cause under kind.
func WrapError(kind Kind, cause error, detail string) *Error {
	return &Error{Kind: kind, Detail: detail, Err: cause}
}

func (e *Error) Error() string {
	switch {
	case e.Detail != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Err)
	case e.Detail != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return string(e.Kind)
	}
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}
