package kvstore

import "math"

// UnInited marks a binlog id / file sequence as not-yet-derived.
const UnInited uint64 = math.MaxUint64

// ReplState is the replication state of a single store.
type ReplState uint8

const (
	// ReplNone: the store is not replicating from anywhere (master or standalone).
	ReplNone ReplState = iota
	// ReplConnect: a slave that has not yet established a full-sync connection.
	ReplConnect
	// ReplTransfer: full-sync snapshot transfer in flight. Never observed by
	// the control loop's dispatch switch — reaching it there is a fatal
	// invariant violation (spec.md §4.1).
	ReplTransfer
	// ReplConnected: incremental tailing is active.
	ReplConnected
)

func (s ReplState) String() string {
	switch s {
	case ReplNone:
		return "none"
	case ReplConnect:
		return "connect"
	case ReplTransfer:
		return "transfer"
	case ReplConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// StoreMode mirrors the KVStore's write/replicate-only gate.
type StoreMode uint8

const (
	ModeReadWrite StoreMode = iota
	ModeReplicateOnly
)

// StoreMeta is the persistent, per-store record of replication intent.
// See spec.md §3.
type StoreMeta struct {
	ID           int
	SyncFromHost string
	SyncFromPort uint32
	SyncFromID   uint32
	BinlogID     uint64
	ReplState    ReplState
}

// Copy returns a deep (value) copy — StoreMeta has no pointer fields, but
// the method exists so callers never mutate a meta in place by accident
// while another goroutine may be reading the in-memory slot.
func (m StoreMeta) Copy() StoreMeta {
	return m
}

// IsSlave reports whether this store is configured to replicate from
// another store.
func (m StoreMeta) IsSlave() bool {
	return m.SyncFromHost != ""
}
