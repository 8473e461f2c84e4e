package replication

import (
	"fmt"
	"sync"
	"time"

	"github.com/kvshard/replicore/internal/kvstore"
)

// ChangeReplSource is the operator-driven transition of one store to (attach
// host/port/sourceStoreID non-zero) or from (host="") being a slave. It
// takes the store's exclusive database lock (LockX) itself for the duration
// of the call, per spec.md §4.7 — no concurrent LockIX routine (push,
// recycle) can touch the store while a source change is in flight.
func (m *Manager) ChangeReplSource(storeID int, host string, port uint32, sourceStoreID uint32) error {
	if storeID < 0 || storeID >= len(m.syncMeta) {
		return ErrNotFound
	}

	handle, err := m.segMgr.GetDB(storeID, kvstore.LockX, true)
	if err != nil {
		return err
	}
	defer handle.Release()

	attaching := host != ""
	if attaching && !handle.Store.IsEmpty() {
		return fmt.Errorf("store %d is not empty: %w", storeID, ErrManual)
	}
	if !handle.Store.IsOpen() {
		// Per spec.md §4.7: if the store is not open, succeed as a no-op.
		return nil
	}

	return m.changeReplSourceInLock(storeID, attaching, host, port, sourceStoreID)
}

// changeReplSourceInLock performs the timeout snapshot-then-mutate dance and
// the sync.Cond-based quiescence wait, exactly per spec.md §4.7 steps 1-5.
func (m *Manager) changeReplSourceInLock(storeID int, attaching bool, host string, port uint32, sourceStoreID uint32) error {
	m.mu.Lock()

	oldTimeout := m.cfg.ConnectMasterTimeoutMs
	if attaching {
		m.cfg.ConnectMasterTimeoutMs = 1000
	} else {
		m.cfg.ConnectMasterTimeoutMs = 1
	}

	deadline := time.Now().Add(time.Duration(oldTimeout)*time.Millisecond + 2000*time.Millisecond)
	for m.slaveStatus[storeID].IsRunning {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			m.cfg.ConnectMasterTimeoutMs = oldTimeout
			m.mu.Unlock()
			return ErrTimeout
		}
		waitWithTimeout(m.cv, remaining)
		if time.Now().After(deadline) && m.slaveStatus[storeID].IsRunning {
			m.cfg.ConnectMasterTimeoutMs = oldTimeout
			m.mu.Unlock()
			return ErrTimeout
		}
	}

	meta := m.syncMeta[storeID]
	if attaching {
		if meta.SyncFromHost != "" {
			m.mu.Unlock()
			return fmt.Errorf("store %d: attach requires prior detach: %w", storeID, ErrBusy)
		}
	} else {
		if meta.SyncFromHost == "" {
			// Already detached: no-op success.
			m.mu.Unlock()
			return nil
		}
	}

	newMeta := meta.Copy()
	if attaching {
		newMeta.SyncFromHost = host
		newMeta.SyncFromPort = port
		newMeta.SyncFromID = sourceStoreID
		newMeta.ReplState = kvstore.ReplConnect
		newMeta.BinlogID = kvstore.UnInited
	} else {
		newMeta.SyncFromHost = ""
		newMeta.SyncFromPort = 0
		newMeta.SyncFromID = 0
		newMeta.ReplState = kvstore.ReplNone
		newMeta.BinlogID = kvstore.UnInited
		// Cancelling the slave's transport session is best effort: bump the
		// session id so an in-flight routine's completion is recognized as
		// superseded by runSlaveSync's session check.
		m.slaveStatus[storeID].SessionID++
	}
	m.mu.Unlock()

	if err := m.changeReplStateInLock(storeID, newMeta, attaching); err != nil {
		return err
	}

	return nil
}

// changeReplStateInLock persists newMeta via the catalog, then swaps it into
// the in-memory slot. A catalog failure is process-fatal (spec.md §7: it
// indicates unrecoverable metadata divergence between memory and durable
// storage).
func (m *Manager) changeReplStateInLock(storeID int, newMeta kvstore.StoreMeta, attaching bool) error {
	if err := m.catalog.SetStoreMeta(newMeta); err != nil {
		panic(fmt.Sprintf("replication: persisting store meta for store %d failed: %v", storeID, err))
	}

	handle, err := m.segMgr.GetDB(storeID, kvstore.LockNone, true)
	if err != nil {
		return err
	}
	mode := kvstore.ModeReadWrite
	if attaching {
		mode = kvstore.ModeReplicateOnly
	}
	modeErr := handle.Store.SetStoreMode(mode)
	handle.Release()
	if modeErr != nil {
		return modeErr
	}

	m.mu.Lock()
	m.syncMeta[storeID] = newMeta
	if attaching {
		m.slaveStatus[storeID].NextSchedTime = time.Now()
	} else {
		m.slaveStatus[storeID].NextSchedTime = farFuture
	}
	m.mu.Unlock()
	return nil
}

// waitWithTimeout waits on cv, waking spuriously after d if nothing
// notified it first. sync.Cond has no native timed wait; the caller must
// already hold cv's lock and re-checks its condition and the deadline after
// this returns.
func waitWithTimeout(cv *sync.Cond, d time.Duration) {
	timer := time.AfterFunc(d, cv.Broadcast)
	defer timer.Stop()
	cv.Wait()
}
