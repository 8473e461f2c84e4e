package replication

import (
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/kvshard/replicore/internal/kvstore"
)

// fakeCatalog is an in-memory kvstore.Catalog for tests, grounded on the
// teacher's preference for a hand-rolled fake over a mocking library (no
// mock library appears anywhere in the retrieved pack).
type fakeCatalog struct {
	metas map[int]kvstore.StoreMeta
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{metas: make(map[int]kvstore.StoreMeta)}
}

func (c *fakeCatalog) GetStoreMeta(id int) (kvstore.StoreMeta, error) {
	meta, ok := c.metas[id]
	if !ok {
		return kvstore.StoreMeta{}, kvstore.ErrNotFound
	}
	return meta, nil
}

func (c *fakeCatalog) SetStoreMeta(meta kvstore.StoreMeta) error {
	c.metas[meta.ID] = meta
	return nil
}

// testManager builds a Manager over n real Badger-backed stores rooted at a
// fresh temp directory, with fast pool/loop settings suitable for tests.
func testManager(t *testing.T, n int) (*Manager, []*kvstore.Store) {
	t.Helper()
	dir := t.TempDir()

	stores := make([]*kvstore.Store, n)
	for i := 0; i < n; i++ {
		s, err := kvstore.NewStore(i, filepath.Join(dir, "store", strconv.Itoa(i)))
		if err != nil {
			t.Fatalf("open store %d: %v", i, err)
		}
		t.Cleanup(func() { _ = s.Close() })
		stores[i] = s
	}

	segMgr := kvstore.NewSegmentManager(stores)
	cfg := DefaultConfig()
	cfg.DumpPath = filepath.Join(dir, "dump")
	cfg.ControlLoopIdleSleep = time.Millisecond
	cfg.TruncateBinlogIntervalMs = 50

	m := NewManager(cfg, segMgr, newFakeCatalog())
	return m, stores
}

func TestManagerStartupCreatesDefaultMeta(t *testing.T) {
	m, _ := testManager(t, 2)
	if err := m.Startup(); err != nil {
		t.Fatalf("startup: %v", err)
	}
	defer m.Stop()

	for id := 0; id < 2; id++ {
		meta, err := m.GetStoreMeta(id)
		if err != nil {
			t.Fatalf("get meta %d: %v", id, err)
		}
		if meta.ID != id {
			t.Errorf("store %d: meta.ID = %d", id, meta.ID)
		}
		if meta.ReplState != kvstore.ReplNone {
			t.Errorf("store %d: expected ReplNone, got %s", id, meta.ReplState)
		}
		if meta.BinlogID != kvstore.UnInited {
			t.Errorf("store %d: expected BinlogID UnInited, got %d", id, meta.BinlogID)
		}
	}
}

func TestManagerGetStoreMetaOutOfRange(t *testing.T) {
	m, _ := testManager(t, 1)
	if err := m.Startup(); err != nil {
		t.Fatalf("startup: %v", err)
	}
	defer m.Stop()

	if _, err := m.GetStoreMeta(5); err != ErrNotFound {
		t.Errorf("expected ErrNotFound for out-of-range store, got %v", err)
	}
}

func TestManagerStopStoreSetsFarFuture(t *testing.T) {
	m, _ := testManager(t, 1)
	if err := m.Startup(); err != nil {
		t.Fatalf("startup: %v", err)
	}
	defer m.Stop()

	clientID, err := m.RegisterClient(0, "127.0.0.1", 7000)
	if err != nil {
		t.Fatalf("register client: %v", err)
	}

	if err := m.StopStore(0); err != nil {
		t.Fatalf("stop store: %v", err)
	}

	m.mu.Lock()
	if m.slaveStatus[0].NextSchedTime != farFuture {
		t.Errorf("expected slaveStatus NextSchedTime farFuture after StopStore")
	}
	if m.recycleStatus[0].NextSchedTime != farFuture {
		t.Errorf("expected recycleStatus NextSchedTime farFuture after StopStore")
	}
	if m.pushStatus[0][clientID].NextSchedTime != farFuture {
		t.Errorf("expected pushStatus NextSchedTime farFuture after StopStore")
	}
	m.mu.Unlock()
}

func TestManagerStartupSeedsRecycleStatusFromDisk(t *testing.T) {
	m, stores := testManager(t, 1)

	txn := stores[0].CreateTransaction()
	if err := stores[0].AppendBinlog(txn, kvstore.BinlogRecord{ID: 5, Timestamp: time.Now().Unix(), Payload: []byte("x")}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := txn.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	f, err := kvstore.OpenDumpFile(m.cfg.DumpPath, 0, time.Now().Unix(), 3)
	if err != nil {
		t.Fatalf("open dump file: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close dump file: %v", err)
	}

	if err := m.Startup(); err != nil {
		t.Fatalf("startup: %v", err)
	}
	defer m.Stop()

	m.mu.Lock()
	firstBinlogID := m.recycleStatus[0].FirstBinlogID
	fileSeq := m.recycleStatus[0].FileSeq
	m.mu.Unlock()

	if firstBinlogID != 5 {
		t.Errorf("expected FirstBinlogID seeded from disk to be 5, got %d", firstBinlogID)
	}
	if fileSeq != 3 {
		t.Errorf("expected FileSeq seeded from the existing dump file to be 3, got %d", fileSeq)
	}
}

func TestManagerStartupSeedsZeroFirstBinlogForEmptyStore(t *testing.T) {
	m, _ := testManager(t, 1)
	if err := m.Startup(); err != nil {
		t.Fatalf("startup: %v", err)
	}
	defer m.Stop()

	m.mu.Lock()
	firstBinlogID := m.recycleStatus[0].FirstBinlogID
	fileSeq := m.recycleStatus[0].FileSeq
	m.mu.Unlock()

	if firstBinlogID != 0 {
		t.Errorf("expected FirstBinlogID 0 for a store with no binlog records, got %d", firstBinlogID)
	}
	if fileSeq != 0 {
		t.Errorf("expected FileSeq 0 for a fresh dump directory, got %d", fileSeq)
	}
}

func TestManagerOnFlushIsMonotonic(t *testing.T) {
	m, _ := testManager(t, 1)
	if err := m.Startup(); err != nil {
		t.Fatalf("startup: %v", err)
	}
	defer m.Stop()

	if err := m.OnFlush(0, 10); err != nil {
		t.Fatalf("onflush: %v", err)
	}
	if err := m.OnFlush(0, 5); err != nil {
		t.Fatalf("onflush: %v", err)
	}

	m.mu.Lock()
	got := m.recycleStatus[0].LastFlushBinlogID
	m.mu.Unlock()
	if got != 10 {
		t.Errorf("expected LastFlushBinlogID to stay at the high-water mark 10, got %d", got)
	}
}

// TestManagerOnFlushRotatesCurrentDumpFile exercises spec.md §9's file
// rotation requirement end to end: a flush from the storage engine must
// close out the recycler's open dump file so the next recycle pass starts a
// fresh sequence, rather than appending to a file that may reference data
// the flush just discarded.
func TestManagerOnFlushRotatesCurrentDumpFile(t *testing.T) {
	m, _ := testManager(t, 1)
	if err := m.Startup(); err != nil {
		t.Fatalf("startup: %v", err)
	}
	defer m.Stop()

	m.recycleMu[0].Lock()
	f, err := m.ensureDumpFileLocked(0)
	m.recycleMu[0].Unlock()
	if err != nil {
		t.Fatalf("ensureDumpFileLocked: %v", err)
	}

	m.mu.Lock()
	seqBefore := m.recycleStatus[0].FileSeq
	curBefore := m.recycleStatus[0].CurFile
	m.mu.Unlock()
	if curBefore != f {
		t.Fatalf("expected recycle status to hold the opened dump file")
	}

	if err := m.OnFlush(0, 1); err != nil {
		t.Fatalf("onflush: %v", err)
	}

	m.mu.Lock()
	seqAfter := m.recycleStatus[0].FileSeq
	curAfter := m.recycleStatus[0].CurFile
	m.mu.Unlock()
	if curAfter != nil {
		t.Error("expected OnFlush to clear the recycler's current dump file")
	}
	if seqAfter != seqBefore+1 {
		t.Errorf("expected OnFlush to advance FileSeq from %d to %d, got %d", seqBefore, seqBefore+1, seqAfter)
	}

	if _, err := f.Write([]byte("x")); err == nil {
		t.Error("expected the rotated-out file handle to be closed")
	}

	m.recycleMu[0].Lock()
	f2, err := m.ensureDumpFileLocked(0)
	m.recycleMu[0].Unlock()
	if err != nil {
		t.Fatalf("ensureDumpFileLocked after rotation: %v", err)
	}
	if f2 == f {
		t.Error("expected a fresh dump file handle after rotation")
	}
}
