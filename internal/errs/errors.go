// Package errs provides the unified error type used across stagesync.
//
// Every subsystem (database, schema, transfer, cleanup, sync) wraps its
// native errors into *errs.Error before returning them to callers. Callers
// use the Is* predicates to decide between skip-and-warn, retry, and abort
// without importing driver-specific packages.
//
// Usage:
//
//	// In the connection manager — wrap native errors:
//	return errs.Wrap(errs.ErrKindConnectionFailed, "postgres connect failed", pgErr)
//
//	// In the pipeline — check error kind:
//	if errs.IsSchemaMismatch(err) {
//	    log.Warn("skipping table")
//	    continue
//	}
package errs

import (
	"errors"
	"fmt"
)

// ErrKind categorises an error without exposing backend-specific codes.
// Both backends (MariaDB source, PostgreSQL destination) map their native
// errors to one of these kinds, giving callers a single consistent API.
type ErrKind int

const (
	ErrKindUnknown          ErrKind = iota
	ErrKindNotFound                 // no rows, no table
	ErrKindConnectionFailed         // cannot reach the backend
	ErrKindTimeout                  // context deadline / cancellation
	ErrKindQueryFailed              // SQL execution error
	ErrKindSchemaMismatch           // missing columns, empty column set
	ErrKindConversion               // value could not be coerced to the target type
	ErrKindTransaction              // transaction rolled back
	ErrKindConfiguration            // missing or invalid settings
)

func (k ErrKind) String() string {
	switch k {
	case ErrKindNotFound:
		return "not_found"
	case ErrKindConnectionFailed:
		return "connection_failed"
	case ErrKindTimeout:
		return "timeout"
	case ErrKindQueryFailed:
		return "query_failed"
	case ErrKindSchemaMismatch:
		return "schema_mismatch"
	case ErrKindConversion:
		return "conversion"
	case ErrKindTransaction:
		return "transaction"
	case ErrKindConfiguration:
		return "configuration"
	default:
		return "unknown"
	}
}

// Error is the single error type returned by all stagesync subsystems.
// Subsystems produce it; callers inspect it via the Is* predicates below.
type Error struct {
	Kind    ErrKind
	Message string
	Cause   error // original driver-level error, preserved for logging
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap allows errors.Is / errors.As to traverse the cause chain.
func (e *Error) Unwrap() error {
	return e.Cause
}

// --- Constructors ---

// New creates an *Error with the given kind and message and no cause.
func New(kind ErrKind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Newf creates an *Error with a formatted message and no cause.
func Newf(kind ErrKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an *Error with the given kind, message, and an underlying cause.
func Wrap(kind ErrKind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

// --- Predicates ---

// IsNotFound reports whether err represents a "not found" result.
func IsNotFound(err error) bool {
	return kindOf(err) == ErrKindNotFound
}

// IsTimeout reports whether err was caused by a deadline or context cancellation.
func IsTimeout(err error) bool {
	return kindOf(err) == ErrKindTimeout
}

// IsConnectionFailed reports whether err is a connectivity or auth failure.
func IsConnectionFailed(err error) bool {
	return kindOf(err) == ErrKindConnectionFailed
}

// IsQueryFailed reports whether err is a SQL execution failure.
func IsQueryFailed(err error) bool {
	return kindOf(err) == ErrKindQueryFailed
}

// IsSchemaMismatch reports whether err means a table is structurally
// unusable (no columns, no common columns). Callers skip the table and
// continue the run.
func IsSchemaMismatch(err error) bool {
	return kindOf(err) == ErrKindSchemaMismatch
}

// IsConversion reports whether err is a value coercion failure. These are
// soft: the transfer engine logs them and keeps the original value.
func IsConversion(err error) bool {
	return kindOf(err) == ErrKindConversion
}

// IsTransaction reports whether err caused a table- or task-level rollback.
func IsTransaction(err error) bool {
	return kindOf(err) == ErrKindTransaction
}

// IsConfiguration reports whether err is a startup configuration failure.
// These are fatal before any connection is opened.
func IsConfiguration(err error) bool {
	return kindOf(err) == ErrKindConfiguration
}

// kindOf extracts the ErrKind from any error in the chain.
func kindOf(err error) ErrKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ErrKindUnknown
}
