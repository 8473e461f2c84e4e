package kvstore

import "errors"

// Sentinel errors for catalog and store lookups.
var (
	// ErrNotFound indicates the requested metadata does not exist.
	ErrNotFound = errors.New("store metadata not found")

	// ErrExhausted indicates an empty binlog range.
	ErrExhausted = errors.New("binlog exhausted")

	// ErrClosed indicates the underlying store is closed.
	ErrClosed = errors.New("store is closed")
)
