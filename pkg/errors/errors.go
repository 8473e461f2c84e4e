// Package errors defines sentinel errors shared by the admin-facing edges
// of replicore: HTTP request validation and wire-protocol framing, as
// distinct from internal/replication's own error-kind sentinels which cover
// the core's internal state machine.
package errors

import "errors"

// Sentinel errors for admin API request validation.
var (
	// ErrInvalidStoreID indicates a request named a store id that is not a
	// non-negative integer.
	ErrInvalidStoreID = errors.New("invalid store id")

	// ErrInvalidArgs indicates a malformed request body or wrong argument count.
	ErrInvalidArgs = errors.New("wrong number of arguments")

	// ErrNoAuth indicates a PSYNC or admin request arrived without the
	// required credential.
	ErrNoAuth = errors.New("NOAUTH authentication required")
)

// Sentinel errors for connection/protocol framing.
var (
	// ErrClosed indicates the resource has been closed.
	ErrClosed = errors.New("resource is closed")

	// ErrTimeout indicates an operation timed out.
	ErrTimeout = errors.New("operation timed out")
)
