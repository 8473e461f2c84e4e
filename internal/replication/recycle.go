package replication

import (
	"io"
	"os"
	"strconv"
	"time"

	"github.com/kvshard/replicore/internal/kvstore"
	"github.com/kvshard/replicore/internal/metrics"
)

// dispatchRecycleLocked schedules at most one recycle pass for store id if
// it is due. mu must be held by the caller.
func (m *Manager) dispatchRecycleLocked(id int, now time.Time) bool {
	rs := m.recycleStatus[id]
	if rs.IsRunning || rs.NextSchedTime.After(now) {
		return false
	}
	rs.IsRunning = true
	m.logRecyclePool.Schedule(func() { m.recycleBinlog(id) })
	return true
}

// recycleBinlog implements spec.md §4.5 step by step. It is serialized per
// store by recycleMu[storeID], distinct from the manager mutex so that file
// I/O and storage transactions never happen while the manager mutex is
// held.
func (m *Manager) recycleBinlog(storeID int) {
	interval := time.Duration(m.cfg.TruncateBinlogIntervalMs) * time.Millisecond
	nextSched := time.Now().Add(jitter(interval))
	hasError := false
	newStart := kvstore.UnInited

	defer func() {
		m.mu.Lock()
		rs := m.recycleStatus[storeID]
		rs.IsRunning = false
		if rs.NextSchedTime != farFuture && rs.NextSchedTime.Before(nextSched) {
			rs.NextSchedTime = nextSched
		}
		if hasError {
			rs.FirstBinlogID = kvstore.UnInited
		} else {
			rs.FirstBinlogID = newStart
		}
		m.mu.Unlock()
	}()

	// Step 3: acquire the store's exclusive-intent lock; a non-running
	// store is retried in 1s rather than treated as an error.
	handle, err := m.segMgr.GetDB(storeID, kvstore.LockIX, false)
	if err != nil {
		hasError = true
		return
	}
	defer handle.Release()

	if !handle.Store.IsRunning() {
		nextSched = time.Now().Add(1 * time.Second)
		m.mu.Lock()
		newStart = m.recycleStatus[storeID].FirstBinlogID
		m.mu.Unlock()
		return
	}

	// Step 4: snapshot saveLogs/start/end under the manager mutex, then
	// release it before any file or storage I/O.
	m.mu.Lock()
	meta := m.syncMeta[storeID]
	saveLogs := meta.IsSlave() || len(m.pushStatus[storeID]) == 0
	start := m.recycleStatus[storeID].FirstBinlogID
	if start == kvstore.UnInited {
		start = 0
	}
	end := minConsumerBinlogPosLocked(m.fullPushStatus[storeID], m.pushStatus[storeID])
	m.mu.Unlock()

	if end < start {
		// No consumer watermark has advanced past start yet (or there are no
		// consumers and end is the +inf sentinel, which is never < start):
		// nothing safe to recycle this pass, not an error.
		newStart = start
		return
	}

	// Step 5: open the dump file if none is held and truncate, serialized by the
	// store's recycle mutex so file I/O never happens under the manager
	// mutex.
	m.recycleMu[storeID].Lock()
	defer m.recycleMu[storeID].Unlock()

	var sink io.Writer
	if saveLogs {
		f, ferr := m.ensureDumpFileLocked(storeID)
		if ferr != nil {
			hasError = true
			return
		}
		sink = f
	}

	txn := handle.Store.CreateTransaction()
	result, terr := handle.Store.TruncateBinlogV2(txn, start, end, sink)
	if terr != nil {
		txn.Discard()
		hasError = true
		return
	}
	// Step 6: commit the surrounding storage transaction.
	if cerr := txn.Commit(); cerr != nil {
		hasError = true
		return
	}

	newStart = result.NewStart
	metrics.RecordReplicationRecycleRun(strconv.Itoa(storeID))
}

// minConsumerBinlogPosLocked computes end = min(+inf, min binlogPos across
// fullPushStatus, min binlogPos across pushStatus) per spec.md §4.5 step 4.
// Every fullPushStatus entry's BinlogPos participates regardless of state —
// including RUNNING, which RegisterClient seeds from the store's highest
// binlog id at registration time, so a full push genuinely mid-flight still
// bounds truncation at its real handoff position. mu must be held by the
// caller.
func minConsumerBinlogPosLocked(fullPush map[string]*MasterFullPushStatus, push map[uint64]*MasterPushStatus) uint64 {
	min := kvstore.UnInited
	for _, fp := range fullPush {
		if fp.BinlogPos < min {
			min = fp.BinlogPos
		}
	}
	for _, ps := range push {
		if ps.BinlogPos < min {
			min = ps.BinlogPos
		}
	}
	return min
}

// ensureDumpFileLocked returns the store's current dump file, opening a new
// sequence if none is held yet. Caller must hold recycleMu[storeID].
func (m *Manager) ensureDumpFileLocked(storeID int) (*os.File, error) {
	m.mu.Lock()
	rs := m.recycleStatus[storeID]
	cur := rs.CurFile
	seq := rs.FileSeq
	m.mu.Unlock()

	if cur != nil {
		return cur, nil
	}

	ts := time.Now().Unix()
	f, err := kvstore.OpenDumpFile(m.cfg.DumpPath, storeID, ts, seq)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	rs.CurFile = f
	rs.Timestamp = ts
	m.mu.Unlock()

	return f, nil
}

// ResetRecycleState resets store id's recycle bookkeeping to its startup
// defaults: FirstBinlogID back to UNINITED, Timestamp to 0, LastFlushBinlogID
// to UNINITED. Exposed for tests; the admin API has no route that calls it.
func (m *Manager) ResetRecycleState(storeID int) error {
	if storeID < 0 || storeID >= len(m.recycleStatus) {
		return ErrNotFound
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rs := m.recycleStatus[storeID]
	rs.FirstBinlogID = kvstore.UnInited
	rs.Timestamp = 0
	rs.LastFlushBinlogID = kvstore.UnInited
	return nil
}

// FlushCurBinlogFile forces the current dump file to close, so the next
// recycle pass opens a fresh sequence — used outside the normal recycle
// cadence (e.g. by onFlush's storage-engine-flush callback path).
func (m *Manager) FlushCurBinlogFile(storeID int) error {
	if storeID < 0 || storeID >= len(m.recycleStatus) {
		return ErrNotFound
	}
	m.recycleMu[storeID].Lock()
	defer m.recycleMu[storeID].Unlock()

	m.mu.Lock()
	rs := m.recycleStatus[storeID]
	f := rs.CurFile
	rs.CurFile = nil
	rs.FileSeq++
	m.mu.Unlock()

	if f != nil {
		return f.Close()
	}
	return nil
}
