// Package replication implements the replication control plane: per-store
// state machines (slave sync, master push, binlog recycling) driven by a
// single control loop, the way internal/cluster drove gossip/migration in
// the teacher but generalized to spec.md's multi-store master/slave model.
package replication

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kvshard/replicore/internal/kvstore"
	"github.com/kvshard/replicore/internal/pool"
	"github.com/kvshard/replicore/internal/ratelimit"
)

// Manager is the replication core. One Manager owns every store's
// replication state; see spec.md §5 for the lock ordering it enforces:
// segment-manager store lock -> mu -> recycleMu[id].
type Manager struct {
	cfg Config

	segMgr  *kvstore.SegmentManager
	catalog kvstore.Catalog

	mu sync.Mutex
	cv *sync.Cond

	syncMeta       []kvstore.StoreMeta
	slaveStatus    []*SlaveStatus
	pushStatus     []map[uint64]*MasterPushStatus
	fullPushStatus []map[string]*MasterFullPushStatus

	recycleMu      []sync.Mutex
	recycleStatus  []*RecycleStatus

	incrPushPool    *pool.WorkerPool
	fullPushPool    *pool.WorkerPool
	fullReceivePool *pool.WorkerPool
	incrCheckPool   *pool.WorkerPool
	logRecyclePool  *pool.WorkerPool

	rateLimiter *ratelimit.Limiter

	clientIDGen atomic.Uint64

	incrPaused atomic.Bool
	running    atomic.Bool

	controlDone chan struct{}

	defaultSyncer SlaveSyncer
	testSyncer    SlaveSyncer
}

// WithSyncer overrides the SlaveSyncer used for every store, bypassing
// defaultSlaveSyncer's real network I/O. Intended for tests exercising the
// manager's state-machine bookkeeping in isolation.
func (m *Manager) WithSyncer(s SlaveSyncer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.testSyncer = s
}

// NewManager builds a Manager over a fixed store set. Startup must be
// called before the control loop is running.
func NewManager(cfg Config, segMgr *kvstore.SegmentManager, catalog kvstore.Catalog) *Manager {
	n := segMgr.Count()
	m := &Manager{
		cfg:            cfg,
		segMgr:         segMgr,
		catalog:        catalog,
		syncMeta:       make([]kvstore.StoreMeta, n),
		slaveStatus:    make([]*SlaveStatus, n),
		pushStatus:     make([]map[uint64]*MasterPushStatus, n),
		fullPushStatus: make([]map[string]*MasterFullPushStatus, n),
		recycleMu:      make([]sync.Mutex, n),
		recycleStatus:  make([]*RecycleStatus, n),

		incrPushPool:    pool.New("incr-push"),
		fullPushPool:    pool.New("full-push"),
		fullReceivePool: pool.New("full-receive"),
		incrCheckPool:   pool.New("incr-check"),
		logRecyclePool:  pool.New("log-recycle"),

		rateLimiter: ratelimit.NewMiBLimiter(cfg.BinlogRateLimitMB),
		controlDone: make(chan struct{}),
	}
	m.cv = sync.NewCond(&m.mu)
	m.defaultSyncer = newDefaultSlaveSyncer(cfg)
	for i := 0; i < n; i++ {
		m.slaveStatus[i] = &SlaveStatus{NextSchedTime: farFuture}
		m.pushStatus[i] = make(map[uint64]*MasterPushStatus)
		m.fullPushStatus[i] = make(map[string]*MasterFullPushStatus)
		m.recycleStatus[i] = &RecycleStatus{NextSchedTime: time.Time{}}
	}
	return m
}

// Startup loads or creates each store's StoreMeta, validates the id<->index
// invariant, starts the five worker pools, and launches the control loop.
func (m *Manager) Startup() error {
	n := m.segMgr.Count()
	for id := 0; id < n; id++ {
		meta, err := m.catalog.GetStoreMeta(id)
		if err == kvstore.ErrNotFound {
			meta = kvstore.StoreMeta{ID: id, BinlogID: kvstore.UnInited, ReplState: kvstore.ReplNone}
			if err := m.catalog.SetStoreMeta(meta); err != nil {
				return fmt.Errorf("store %d: create meta: %w", id, err)
			}
		} else if err != nil {
			return fmt.Errorf("store %d: load meta: %w", id, err)
		}
		if meta.ID != id {
			return fmt.Errorf("store %d: meta.ID mismatch (got %d): %w", id, meta.ID, ErrInternal)
		}
		m.syncMeta[id] = meta

		m.mu.Lock()
		if meta.IsSlave() {
			m.slaveStatus[id].NextSchedTime = time.Time{}
		} else {
			m.slaveStatus[id].NextSchedTime = farFuture
		}
		m.recycleStatus[id].NextSchedTime = time.Time{}
		m.mu.Unlock()

		if err := m.seedRecycleStatusFromDisk(id); err != nil {
			return fmt.Errorf("store %d: seed recycle status: %w", id, err)
		}
	}

	m.incrPushPool.Startup(m.cfg.IncrPushThreadNum)
	m.fullPushPool.Startup(m.cfg.FullPushThreadNum)
	m.fullReceivePool.Startup(m.cfg.FullReceiveThreadNum)
	m.incrCheckPool.Startup(m.cfg.IncrCheckThreadNum)
	m.logRecyclePool.Startup(m.cfg.LogRecycleThreadNum)

	m.running.Store(true)
	go m.controlRoutine()
	return nil
}

// seedRecycleStatusFromDisk derives FirstBinlogID and FileSeq from actual
// on-disk state (spec.md §3 RecycleStatus lifecycle: "created at startup
// from scanning disk and the store's minimum binlog"). It scans with
// allowClosed=true so a store that hasn't been opened yet doesn't block
// startup; such a store's FirstBinlogID stays UNINITED until it opens and a
// later recycle pass re-derives it, but FileSeq — independent of whether
// the store itself is open — is always seeded from the dump directory with
// the highest sequence number already on disk (0 if there is none). The
// first dump file opened after a restart uses that same sequence number,
// under a new timestamp.
func (m *Manager) seedRecycleStatusFromDisk(id int) error {
	seq, err := kvstore.MaxDumpFileSeq(m.cfg.DumpPath, id)
	if err != nil {
		return fmt.Errorf("scan dump dir: %w", err)
	}

	first := kvstore.UnInited
	handle, err := m.segMgr.GetDB(id, kvstore.LockNone, true)
	if err != nil {
		return fmt.Errorf("get handle: %w", err)
	}
	if handle.Store.IsOpen() {
		txn := handle.Store.CreateTransaction()
		minBinlog, merr := handle.Store.GetMinBinlog(txn)
		txn.Discard()
		switch {
		case merr == nil:
			first = minBinlog.BinlogID
		case errors.Is(merr, kvstore.ErrExhausted):
			first = 0
		default:
			handle.Release()
			return fmt.Errorf("scan min binlog: %w", merr)
		}
	}
	handle.Release()

	m.mu.Lock()
	m.recycleStatus[id].FirstBinlogID = first
	m.recycleStatus[id].FileSeq = seq
	m.mu.Unlock()
	return nil
}

// controlRoutine is the single scheduler loop. Each tick takes mu once and
// makes three dispatch passes — slave sync, master push, binlog recycle —
// over every store, scheduling eligible work onto its pool before releasing
// the lock. It never blocks on network or disk I/O itself (spec.md §4.1).
func (m *Manager) controlRoutine() {
	defer close(m.controlDone)
	for m.running.Load() {
		did := false
		m.mu.Lock()
		now := time.Now()
		n := len(m.syncMeta)
		for id := 0; id < n; id++ {
			if m.dispatchSlaveLocked(id, now) {
				did = true
			}
		}
		for id := 0; id < n; id++ {
			if m.dispatchPushLocked(id, now) {
				did = true
			}
		}
		for id := 0; id < n; id++ {
			if m.dispatchRecycleLocked(id, now) {
				did = true
			}
		}
		m.mu.Unlock()

		if !did {
			m.UpdateMetrics()
			time.Sleep(m.cfg.ControlLoopIdleSleep)
		} else {
			runtime.Gosched()
		}
	}
}

// Stop halts the control loop and every worker pool, in the fixed order
// spec.md §4.1 names: control loop first (so no new work is scheduled),
// then full-push, incr-push, full-receive, incr-check, log-recycle.
func (m *Manager) Stop() {
	if !m.running.CompareAndSwap(true, false) {
		return
	}
	<-m.controlDone

	m.fullPushPool.Stop()
	m.incrPushPool.Stop()
	m.fullReceivePool.Stop()
	m.incrCheckPool.Stop()
	m.logRecyclePool.Stop()
}

// StopStore quiesces a single store's replication roles without shutting
// down the manager: it forces nextSchedTime to +infinity for the slave,
// push, and recycle entries under mu, so the control loop stops scheduling
// new work for it. In-flight routines already dispatched are left to finish
// and clear IsRunning on their own.
func (m *Manager) StopStore(storeID int) error {
	if storeID < 0 || storeID >= len(m.syncMeta) {
		return ErrNotFound
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.slaveStatus[storeID].NextSchedTime = farFuture
	m.recycleStatus[storeID].NextSchedTime = farFuture
	for _, ps := range m.pushStatus[storeID] {
		ps.NextSchedTime = farFuture
	}
	return nil
}

// getStoreMetaLocked returns a copy of store id's meta; mu must be held.
func (m *Manager) getStoreMetaLocked(id int) kvstore.StoreMeta {
	return m.syncMeta[id].Copy()
}

// GetStoreMeta returns a copy of store id's current replication meta.
func (m *Manager) GetStoreMeta(id int) (kvstore.StoreMeta, error) {
	if id < 0 || id >= len(m.syncMeta) {
		return kvstore.StoreMeta{}, ErrNotFound
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getStoreMetaLocked(id), nil
}

// OnFlush records that storeID's data has been durably flushed through
// binlogID by raising LastFlushBinlogID (it never moves backwards). The
// recycler does not read LastFlushBinlogID; it is recorded only. OnFlush
// then forces the current dump file closed so the next
// recycle pass starts a fresh sequence rather than appending archived
// records behind data the engine just discarded (spec.md §9: rely on file
// rotation to keep the standalone saveLogs=true case bounded).
func (m *Manager) OnFlush(storeID int, binlogID uint64) error {
	if storeID < 0 || storeID >= len(m.recycleStatus) {
		return ErrNotFound
	}
	m.mu.Lock()
	rs := m.recycleStatus[storeID]
	if binlogID > rs.LastFlushBinlogID {
		rs.LastFlushBinlogID = binlogID
	}
	m.mu.Unlock()

	return m.FlushCurBinlogFile(storeID)
}
