package replication

import (
	"os"
	"time"

	"github.com/kvshard/replicore/internal/replnet"
)

// farFuture is the +infinity sentinel for nextSchedTime: an entry whose
// nextSchedTime is farFuture is never dispatched, regardless of role
// (spec.md §3 invariants, §8 boundary conditions).
var farFuture = time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC)

// SlaveStatus is transient runtime state for the slave role (spec.md §3).
type SlaveStatus struct {
	IsRunning     bool
	SessionID     uint64
	NextSchedTime time.Time
	LastSyncTime  time.Time
}

// MasterPushStatus tracks one registered incremental-sync subscriber.
type MasterPushStatus struct {
	ClientID        uint64
	DstStoreID      int
	IsRunning       bool
	BinlogPos       uint64
	NextSchedTime   time.Time
	Client          *replnet.BlockingClient
	SlaveListenIP   string
	SlaveListenPort uint32
}

// FullPushState is the lifecycle state of a full-sync push.
type FullPushState int

const (
	FullPushRunning FullPushState = iota
	FullPushSuccess
	FullPushErr
)

func (s FullPushState) String() string {
	switch s {
	case FullPushRunning:
		return "running"
	case FullPushSuccess:
		return "success"
	case FullPushErr:
		return "error"
	default:
		return "unknown"
	}
}

// MasterFullPushStatus tracks one in-progress or recently-completed
// full-sync push, keyed by peer identity (spec.md §3).
type MasterFullPushStatus struct {
	PeerKey   string
	State     FullPushState
	BinlogPos uint64
	StartTime time.Time
	EndTime   time.Time
}

// RecycleStatus is the watermark/file-sequence/flush bookkeeping for one
// store's binlog recycler (spec.md §3).
type RecycleStatus struct {
	IsRunning         bool
	FirstBinlogID     uint64
	LastFlushBinlogID uint64
	Timestamp         int64
	FileSeq           uint32
	CurFile           *os.File
	NextSchedTime     time.Time
}
