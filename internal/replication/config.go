package replication

import "time"

// Config configures the replication manager. Matches the single
// Config-struct-plus-DefaultConfig shape used throughout the teacher
// (internal/cluster/migration.Config, internal/engine/tiered.Config).
type Config struct {
	// BinlogRateLimitMB bounds aggregate outbound binlog bytes, MiB/sec.
	BinlogRateLimitMB float64

	// Pool sizes (spec.md §6).
	IncrPushThreadNum   int
	FullPushThreadNum   int
	FullReceiveThreadNum int
	IncrCheckThreadNum  int
	LogRecycleThreadNum int

	// TruncateBinlogIntervalMs is the base period of the recycle
	// scheduler; the actual interval is randomized ±20% (spec.md §4.5).
	TruncateBinlogIntervalMs int

	// DumpPath is the root of the per-store dump directory.
	DumpPath string

	// SyncListenIP and SyncListenPort are this process's own address for
	// accepting incremental-push connections back from a master, advertised
	// in PSYNC so the master can dial back (spec.md §4.3, §6 Network).
	SyncListenIP   string
	SyncListenPort uint32

	// MasterAuth, if non-empty, is sent as a single AUTH challenge/response
	// line when a slave connects to its master (spec.md §1 Non-goals).
	MasterAuth string

	// ConnectMasterTimeoutMs is the initial connect timeout; changeReplSource
	// overrides it transiently (spec.md §4.7).
	ConnectMasterTimeoutMs uint64

	// ControlLoopIdleSleep is the control loop's unconditional sleep when no
	// pass scheduled work (spec.md §4.1: 10ms).
	ControlLoopIdleSleep time.Duration

	// FullPushRetention is how long a SUCCESS full-push status is kept
	// before garbage collection (spec.md §4.4: 600s).
	FullPushRetention time.Duration
}

// DefaultConfig returns the defaults named in spec.md §4.1/§4.4/§4.5/§4.7.
func DefaultConfig() Config {
	return Config{
		BinlogRateLimitMB:        64,
		IncrPushThreadNum:        4,
		FullPushThreadNum:        2,
		FullReceiveThreadNum:     2,
		IncrCheckThreadNum:       2,
		LogRecycleThreadNum:      2,
		TruncateBinlogIntervalMs: 10_000,
		DumpPath:                 "./dump",
		ConnectMasterTimeoutMs:   1000,
		ControlLoopIdleSleep:     10 * time.Millisecond,
		FullPushRetention:        600 * time.Second,
	}
}
