package replication

import (
	"errors"
	"testing"
	"time"

	"github.com/kvshard/replicore/internal/kvstore"
)

// fakeSyncer is a SlaveSyncer test double that records every call it
// receives and returns whatever result/err the test configured, avoiding any
// real network I/O (mirrors the pack's preference for hand-rolled fakes over
// a mocking library).
type fakeSyncer struct {
	calls  []kvstore.ReplState
	result kvstore.ReplState
	binlog uint64
	err    error
}

func (f *fakeSyncer) Sync(host SlaveRoutineHost, storeID int, meta kvstore.StoreMeta, fromState kvstore.ReplState) (kvstore.ReplState, uint64, error) {
	f.calls = append(f.calls, fromState)
	return f.result, f.binlog, f.err
}

func TestDispatchSlaveLockedSkipsNonSlaveStore(t *testing.T) {
	m, _ := testManager(t, 1)
	if err := m.Startup(); err != nil {
		t.Fatalf("startup: %v", err)
	}
	defer m.Stop()

	m.mu.Lock()
	did := m.dispatchSlaveLocked(0, time.Now())
	m.mu.Unlock()

	if did {
		t.Error("expected dispatchSlaveLocked to skip a store that is not configured as a slave")
	}
}

func TestDispatchSlaveLockedSkipsWhenAlreadyRunning(t *testing.T) {
	m, _ := testManager(t, 1)
	if err := m.Startup(); err != nil {
		t.Fatalf("startup: %v", err)
	}
	defer m.Stop()

	if err := m.ChangeReplSource(0, "master-host", 6380, 0); err != nil {
		t.Fatalf("attach: %v", err)
	}

	m.mu.Lock()
	m.slaveStatus[0].IsRunning = true
	did := m.dispatchSlaveLocked(0, time.Now())
	m.mu.Unlock()

	if did {
		t.Error("expected dispatchSlaveLocked to skip a store whose slave routine is already running")
	}
}

func TestDispatchSlaveLockedTreatsReplTransferAsInvariantViolation(t *testing.T) {
	m, _ := testManager(t, 1)
	if err := m.Startup(); err != nil {
		t.Fatalf("startup: %v", err)
	}
	defer m.Stop()

	if err := m.ChangeReplSource(0, "master-host", 6380, 0); err != nil {
		t.Fatalf("attach: %v", err)
	}

	defer func() {
		m.mu.Unlock()
		if recover() == nil {
			t.Error("expected dispatchSlaveLocked to panic if the control loop ever observes ReplTransfer")
		}
	}()

	m.mu.Lock()
	m.syncMeta[0].ReplState = kvstore.ReplTransfer
	m.dispatchSlaveLocked(0, time.Now())
}

func TestRunSlaveSyncAdvancesStateOnSuccess(t *testing.T) {
	m, _ := testManager(t, 1)
	if err := m.Startup(); err != nil {
		t.Fatalf("startup: %v", err)
	}
	defer m.Stop()

	if err := m.ChangeReplSource(0, "master-host", 6380, 0); err != nil {
		t.Fatalf("attach: %v", err)
	}

	fake := &fakeSyncer{result: kvstore.ReplConnected, binlog: 7}
	m.WithSyncer(fake)

	m.mu.Lock()
	sessionID := m.slaveStatus[0].SessionID
	m.mu.Unlock()

	m.runSlaveSync(0, sessionID, kvstore.ReplConnect)

	meta, err := m.GetStoreMeta(0)
	if err != nil {
		t.Fatalf("get meta: %v", err)
	}
	if meta.ReplState != kvstore.ReplConnected {
		t.Errorf("expected ReplConnected after successful sync, got %s", meta.ReplState)
	}
	if meta.BinlogID != 7 {
		t.Errorf("expected BinlogID 7 after successful sync, got %d", meta.BinlogID)
	}

	m.mu.Lock()
	running := m.slaveStatus[0].IsRunning
	m.mu.Unlock()
	if running {
		t.Error("expected IsRunning to be cleared after runSlaveSync returns")
	}

	if len(fake.calls) != 1 || fake.calls[0] != kvstore.ReplConnect {
		t.Errorf("expected syncer to be called once with ReplConnect, got %+v", fake.calls)
	}
}

func TestRunSlaveSyncFallsBackToReplConnectOnError(t *testing.T) {
	m, _ := testManager(t, 1)
	if err := m.Startup(); err != nil {
		t.Fatalf("startup: %v", err)
	}
	defer m.Stop()

	if err := m.ChangeReplSource(0, "master-host", 6380, 0); err != nil {
		t.Fatalf("attach: %v", err)
	}

	fake := &fakeSyncer{err: errors.New("dial refused")}
	m.WithSyncer(fake)

	m.mu.Lock()
	sessionID := m.slaveStatus[0].SessionID
	m.mu.Unlock()

	m.runSlaveSync(0, sessionID, kvstore.ReplConnect)

	meta, err := m.GetStoreMeta(0)
	if err != nil {
		t.Fatalf("get meta: %v", err)
	}
	if meta.ReplState != kvstore.ReplConnect {
		t.Errorf("expected ReplConnect to be preserved on syncer error, got %s", meta.ReplState)
	}

	m.mu.Lock()
	next := m.slaveStatus[0].NextSchedTime
	m.mu.Unlock()
	if !next.After(time.Now()) {
		t.Error("expected a backoff NextSchedTime to be scheduled after a sync error")
	}
}

func TestRunSlaveSyncIgnoresSupersededSession(t *testing.T) {
	m, _ := testManager(t, 1)
	if err := m.Startup(); err != nil {
		t.Fatalf("startup: %v", err)
	}
	defer m.Stop()

	if err := m.ChangeReplSource(0, "master-host", 6380, 0); err != nil {
		t.Fatalf("attach: %v", err)
	}

	fake := &fakeSyncer{result: kvstore.ReplConnected, binlog: 99}
	m.WithSyncer(fake)

	m.mu.Lock()
	staleSession := m.slaveStatus[0].SessionID
	m.slaveStatus[0].SessionID++ // simulate a concurrent changeReplSource bumping the session
	m.mu.Unlock()

	m.runSlaveSync(0, staleSession, kvstore.ReplConnect)

	meta, err := m.GetStoreMeta(0)
	if err != nil {
		t.Fatalf("get meta: %v", err)
	}
	if meta.ReplState != kvstore.ReplConnect {
		t.Errorf("expected a superseded session's result to be discarded, got ReplState %s", meta.ReplState)
	}
}

func TestJitterStaysWithinExpectedBounds(t *testing.T) {
	base := 100 * time.Millisecond
	for i := 0; i < 50; i++ {
		got := jitter(base)
		if got < base*8/10 || got >= base*12/10 {
			t.Fatalf("jitter(%v) = %v, expected within [0.8x, 1.2x)", base, got)
		}
	}
}
