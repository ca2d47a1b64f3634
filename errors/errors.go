// Package errors provides error handling for tabwatch.
//
// This package re-exports github.com/cockroachdb/errors, providing:
//   - Stack traces for debugging
//   - Error wrapping and context
//   - Structured details carried across layers
//
// Usage:
//
//	// Wrap with context
//	if err := doSomething(); err != nil {
//	    return errors.Wrap(err, "failed to do something")
//	}
//
//	// Check errors
//	if errors.Is(err, errors.ErrReadinessTimeout) {
//	    // tab never reached a usable state
//	}
//
// For full documentation see: https://pkg.go.dev/github.com/cockroachdb/errors
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
)

// User-facing messages and details
var (
	WithHint           = crdb.WithHint
	WithHintf          = crdb.WithHintf
	WithDetail         = crdb.WithDetail
	WithDetailf        = crdb.WithDetailf
	WithSecondaryError = crdb.WithSecondaryError
)

// Error inspection
var (
	Is             = crdb.Is
	IsAny          = crdb.IsAny
	As             = crdb.As
	Unwrap         = crdb.Unwrap
	UnwrapAll      = crdb.UnwrapAll
	GetAllDetails  = crdb.GetAllDetails
	FlattenDetails = crdb.FlattenDetails
)

// Domain sentinel errors for the watch pipeline.
// Use these with errors.Is() for type-safe error checking and wrap them
// with errors.Wrap() to add context while preserving the type.
var (
	// ErrReadinessTimeout indicates a tab reached neither a loading nor a
	// complete state within the readiness wait bound. Fatal for the attempt.
	ErrReadinessTimeout = New("tab readiness timeout")

	// ErrTabGone indicates the target tab no longer exists.
	ErrTabGone = New("tab gone")

	// ErrCaptureFailed indicates both capture tiers were exhausted.
	ErrCaptureFailed = New("capture failed")

	// ErrDeliveryFailed indicates all delivery attempts were exhausted.
	ErrDeliveryFailed = New("delivery failed")

	// ErrNotFound indicates the requested resource does not exist.
	ErrNotFound = New("not found")

	// ErrInvalidRequest indicates the request was malformed or invalid.
	ErrInvalidRequest = New("invalid request")
)

// IsReadinessTimeout checks if an error is or wraps ErrReadinessTimeout.
func IsReadinessTimeout(err error) bool {
	return err != nil && Is(err, ErrReadinessTimeout)
}

// IsCaptureFailed checks if an error is or wraps ErrCaptureFailed.
func IsCaptureFailed(err error) bool {
	return err != nil && Is(err, ErrCaptureFailed)
}

// IsDeliveryFailed checks if an error is or wraps ErrDeliveryFailed.
func IsDeliveryFailed(err error) bool {
	return err != nil && Is(err, ErrDeliveryFailed)
}

// IsNotFoundError checks if an error is or wraps ErrNotFound.
func IsNotFoundError(err error) bool {
	return err != nil && Is(err, ErrNotFound)
}

// NewNotFoundError creates a not-found error naming the missing resource.
func NewNotFoundError(resource, id string) error {
	return Wrapf(ErrNotFound, "%s %s", resource, id)
}

// NewInvalidRequestError creates an invalid-request error with a formatted message.
func NewInvalidRequestError(format string, args ...interface{}) error {
	return Wrap(ErrInvalidRequest, Newf(format, args...).Error())
}
