// Package rmerr provides structured error handling for robomonkey.
//
// Errors carry a Kind that maps directly onto queue and RPC behavior:
// transient kinds are retried by the job layer, permanent kinds fail the
// job immediately, and request-scoped kinds surface to the RPC client.
package rmerr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for retry and reporting decisions.
type Kind string

const (
	// KindNotFound indicates a repo, file, symbol, or tag missing in the
	// resolved scope. Surfaced to the caller, never retried.
	KindNotFound Kind = "NOT_FOUND"
	// KindSchemaConflict indicates a schema exists under a different root
	// or a name collision. Requires force to override.
	KindSchemaConflict Kind = "SCHEMA_CONFLICT"
	// KindTransientIO indicates connection loss, provider 5xx, or timeout.
	// Retried at the job layer with exponential backoff.
	KindTransientIO Kind = "TRANSIENT_IO"
	// KindPermanentIO indicates malformed responses, wrong vector
	// dimension, or deserialization failure. Never retried.
	KindPermanentIO Kind = "PERMANENT_IO"
	// KindParseFailure indicates a parser error on one file. The file is
	// skipped; the batch continues.
	KindParseFailure Kind = "PARSE_FAILURE"
	// KindQueueContention indicates a dedup_key collision on enqueue.
	// Not an error to the user; the request was deduplicated.
	KindQueueContention Kind = "QUEUE_CONTENTION"
	// KindCancelled indicates daemon shutdown interrupted a job.
	KindCancelled Kind = "CANCELLED"
	// KindValidation indicates invalid caller input.
	KindValidation Kind = "VALIDATION"
	// KindInternal indicates an unexpected internal error.
	KindInternal Kind = "INTERNAL"
)

// Error is the structured error type used throughout robomonkey.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches target by Kind so errors.Is works across wrap layers.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Kind == t.Kind
	}
	return false
}

// WithDetail adds a key-value detail and returns the error for chaining.
func (e *Error) WithDetail(key, value string) *Error {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// New creates an Error with the given kind and formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error wrapping cause. Returns nil if cause is nil.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// NotFound creates a NOT_FOUND error for the named entity.
func NotFound(entity, name string) *Error {
	return New(KindNotFound, "%s not found: %s", entity, name)
}

// KindOf extracts the Kind from err, or KindInternal for plain errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsRetryable reports whether the job layer should reschedule on err.
func IsRetryable(err error) bool {
	return KindOf(err) == KindTransientIO
}

// IsNotFound reports whether err is a NOT_FOUND error.
func IsNotFound(err error) bool {
	return KindOf(err) == KindNotFound
}
