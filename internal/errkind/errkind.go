// Package errkind implements the closed error taxonomy of spec §7,
// generalizing the teacher's sentinel-error style (internal/rpc errors) into
// a typed kind every externally returned error carries.
package errkind

import (
	"errors"
	"fmt"
)

// Kind is the closed set of error kinds the Collective returns to callers.
type Kind string

const (
	Validation  Kind = "Validation"
	NotFound    Kind = "NotFound"
	Conflict    Kind = "Conflict"
	Unavailable Kind = "Unavailable"
	Transport   Kind = "Transport"
	Policy      Kind = "Policy"
	Internal    Kind = "Internal"
)

// Retryable reports whether errors of this kind should be retried with
// backoff (Unavailable, Transport only — §7).
func (k Kind) Retryable() bool {
	return k == Unavailable || k == Transport
}

// CollectiveError is the shape every externally returned error takes:
// {kind, message, retry_after_ms?}.
type CollectiveError struct {
	Kind          Kind
	Message       string
	RetryAfterMs  int64
	CorrelationID string
	cause         error
}

func (e *CollectiveError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *CollectiveError) Unwrap() error { return e.cause }

// New constructs a CollectiveError of the given kind.
func New(kind Kind, message string) *CollectiveError {
	return &CollectiveError{Kind: kind, Message: message}
}

// Wrap constructs a CollectiveError of the given kind, wrapping cause.
func Wrap(kind Kind, message string, cause error) *CollectiveError {
	return &CollectiveError{Kind: kind, Message: message, cause: cause}
}

// WithRetryAfter sets the retry_after_ms hint and returns the receiver.
func (e *CollectiveError) WithRetryAfter(ms int64) *CollectiveError {
	e.RetryAfterMs = ms
	return e
}

// WithCorrelationID tags an Internal error with a correlation id for logs.
func (e *CollectiveError) WithCorrelationID(id string) *CollectiveError {
	e.CorrelationID = id
	return e
}

// Is reports whether err is a CollectiveError of kind k.
func Is(err error, k Kind) bool {
	var ce *CollectiveError
	if errors.As(err, &ce) {
		return ce.Kind == k
	}
	return false
}

// KindOf extracts the Kind carried by err, defaulting to Internal when err
// does not carry one (a bug: every component boundary should wrap first).
func KindOf(err error) Kind {
	var ce *CollectiveError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return Internal
}

// Sentinel errors for well-known conditions, mirroring the teacher's
// internal/rpc/errors.go sentinel style; wrap these with Wrap() at
// component boundaries so callers get a Kind alongside the cause.
var (
	ErrInvalidCategory   = errors.New("invalid category")
	ErrScopeForbidden    = errors.New("scope forbidden by policy")
	ErrStoreUnavailable  = errors.New("store unavailable")
	ErrNotFound          = errors.New("not found")
	ErrAlreadyDeleted    = errors.New("already deleted")
	ErrVersionConflict   = errors.New("version conflict")
	ErrRetentionViolated = errors.New("retention window not yet elapsed")
	ErrNotRecoverable    = errors.New("not recoverable")
	ErrIndexUnavailable  = errors.New("semantic index unavailable")
	ErrNoCapableAgent    = errors.New("no capable agent available")
)
