// Package errs defines the error kinds shared by the store, downloader,
// backends and session manager, so callers can branch on a kind instead of
// matching strings.
package errs

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a failure.
type Kind string

const (
	KindTransientInfra     Kind = "transient_infra"
	KindFatalPermission    Kind = "fatal_permission"
	KindResourceExhaustion Kind = "resource_exhaustion"
	KindIntegrityFailure   Kind = "integrity_failure"
	KindStateViolation     Kind = "state_violation"
	KindCancelled          Kind = "cancelled"
)

// Reason narrows a state violation.
type Reason string

const (
	ReasonNone        Reason = ""
	ReasonBusy        Reason = "busy"
	ReasonNotReady    Reason = "not_ready"
	ReasonNotFound    Reason = "not_found"
	ReasonUnsupported Reason = "unsupported"
	ReasonInvalid     Reason = "invalid"
)

// Error is the concrete error carried across component boundaries.
type Error struct {
	Kind       Kind
	Reason     Reason
	Op         string
	Subject    string
	Constraint string
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	if e.Subject != "" {
		b.WriteString(e.Subject)
		b.WriteString(": ")
	}
	switch {
	case e.Reason != ReasonNone:
		b.WriteString(strings.ReplaceAll(string(e.Reason), "_", " "))
	default:
		b.WriteString(strings.ReplaceAll(string(e.Kind), "_", " "))
	}
	if e.Constraint != "" {
		b.WriteString(" (")
		b.WriteString(e.Constraint)
		b.WriteString(")")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error of the given kind.
func New(kind Kind, op, subject string, err error) *Error {
	return &Error{Kind: kind, Op: op, Subject: subject, Err: err}
}

// Transient reports a retryable infrastructure fault that outlived its retries.
func Transient(op, subject string, err error) error {
	return New(KindTransientInfra, op, subject, err)
}

// Permission reports an authorization or access failure. Never retried.
func Permission(op, subject string, err error) error {
	return New(KindFatalPermission, op, subject, err)
}

// Exhausted reports an unmet resource constraint, naming it.
func Exhausted(op, subject, constraint string, err error) error {
	e := New(KindResourceExhaustion, op, subject, err)
	e.Constraint = constraint
	return e
}

// Integrity reports corrupt, partial or unparseable artifacts.
func Integrity(op, subject string, err error) error {
	return New(KindIntegrityFailure, op, subject, err)
}

// Cancelled reports cooperative cancellation.
func Cancelled(op, subject string) error {
	return New(KindCancelled, op, subject, nil)
}

func state(reason Reason, op, subject, detail string) error {
	e := New(KindStateViolation, op, subject, nil)
	e.Reason = reason
	e.Constraint = detail
	return e
}

// Busy reports that the target is occupied by another operation.
func Busy(op, subject, detail string) error { return state(ReasonBusy, op, subject, detail) }

// NotReady reports that no resident backend can serve the request.
func NotReady(op, subject, detail string) error { return state(ReasonNotReady, op, subject, detail) }

// NotFound reports an unknown preset, artifact or request id.
func NotFound(op, subject string) error { return state(ReasonNotFound, op, subject, "") }

// Unsupported reports an option combination a backend cannot honour.
func Unsupported(op, subject, detail string) error {
	return state(ReasonUnsupported, op, subject, detail)
}

// Invalid reports a malformed request.
func Invalid(op, subject, detail string) error { return state(ReasonInvalid, op, subject, detail) }

// Conflict reports any other illegal state transition.
func Conflict(op, subject, detail string) error { return state(ReasonNone, op, subject, detail) }

// Errorf is a shorthand for wrapping a formatted cause into a kind.
func Errorf(kind Kind, op, subject, format string, args ...any) error {
	return New(kind, op, subject, fmt.Errorf(format, args...))
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// ReasonOf returns the state-violation reason of err, or ReasonNone.
func ReasonOf(err error) Reason {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return ReasonNone
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool { return err != nil && KindOf(err) == kind }

// IsBusy reports whether err is a busy rejection.
func IsBusy(err error) bool { return ReasonOf(err) == ReasonBusy }

// IsNotFound reports whether err names an unknown entity.
func IsNotFound(err error) bool { return ReasonOf(err) == ReasonNotFound }

// IsNotReady reports whether err is a missing-backend rejection.
func IsNotReady(err error) bool { return ReasonOf(err) == ReasonNotReady }

// IsInvalid reports whether err is a request validation failure.
func IsInvalid(err error) bool { return ReasonOf(err) == ReasonInvalid }
