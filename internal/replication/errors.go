package replication

import "errors"

// Error kinds surfaced by the core (spec.md §7). OK is represented by a
// nil error throughout this package.
var (
	// ErrNotFound: absent metadata.
	ErrNotFound = errors.New("replication: not found")
	// ErrInternal: invariant violation or parse failure.
	ErrInternal = errors.New("replication: internal error")
	// ErrTimeout: quiescence wait exceeded its bound.
	ErrTimeout = errors.New("replication: timeout waiting for store to yield")
	// ErrManual: operator precondition violated (e.g. attaching to a
	// non-empty store).
	ErrManual = errors.New("replication: manual precondition violated")
	// ErrBusy: attach requested while already a slave.
	ErrBusy = errors.New("replication: store is already a slave")
	// ErrExhausted: empty binlog.
	ErrExhausted = errors.New("replication: binlog exhausted")
)
