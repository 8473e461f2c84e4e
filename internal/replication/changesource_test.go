package replication

import (
	"errors"
	"testing"

	"github.com/kvshard/replicore/internal/kvstore"
)

func TestChangeReplSourceAttachRequiresEmptyStore(t *testing.T) {
	m, stores := testManager(t, 1)
	if err := m.Startup(); err != nil {
		t.Fatalf("startup: %v", err)
	}
	defer m.Stop()

	store := stores[0]
	txn := store.CreateTransaction()
	if err := store.AppendBinlog(txn, kvstore.BinlogRecord{ID: 0, Payload: []byte("x")}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := txn.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	err := m.ChangeReplSource(0, "master-host", 6380, 0)
	if err == nil {
		t.Fatal("expected attach on a non-empty store to fail")
	}
}

func TestChangeReplSourceAttachThenDetach(t *testing.T) {
	m, _ := testManager(t, 1)
	if err := m.Startup(); err != nil {
		t.Fatalf("startup: %v", err)
	}
	defer m.Stop()

	if err := m.ChangeReplSource(0, "master-host", 6380, 0); err != nil {
		t.Fatalf("attach: %v", err)
	}

	meta, err := m.GetStoreMeta(0)
	if err != nil {
		t.Fatalf("get meta: %v", err)
	}
	if !meta.IsSlave() {
		t.Fatal("expected store to be a slave after attach")
	}
	if meta.ReplState != kvstore.ReplConnect {
		t.Errorf("expected ReplConnect after attach, got %s", meta.ReplState)
	}

	mode, err := modeOf(m, 0)
	if err != nil {
		t.Fatalf("mode: %v", err)
	}
	if mode != kvstore.ModeReplicateOnly {
		t.Errorf("expected ModeReplicateOnly after attach, got %v", mode)
	}

	if err := m.ChangeReplSource(0, "", 0, 0); err != nil {
		t.Fatalf("detach: %v", err)
	}

	meta, err = m.GetStoreMeta(0)
	if err != nil {
		t.Fatalf("get meta: %v", err)
	}
	if meta.IsSlave() {
		t.Error("expected store to no longer be a slave after detach")
	}
	if meta.ReplState != kvstore.ReplNone {
		t.Errorf("expected ReplNone after detach, got %s", meta.ReplState)
	}

	mode, err = modeOf(m, 0)
	if err != nil {
		t.Fatalf("mode: %v", err)
	}
	if mode != kvstore.ModeReadWrite {
		t.Errorf("expected ModeReadWrite after detach, got %v", mode)
	}
}

func TestChangeReplSourceAttachTwiceIsRejected(t *testing.T) {
	m, _ := testManager(t, 1)
	if err := m.Startup(); err != nil {
		t.Fatalf("startup: %v", err)
	}
	defer m.Stop()

	if err := m.ChangeReplSource(0, "master-host", 6380, 0); err != nil {
		t.Fatalf("first attach: %v", err)
	}
	if err := m.ChangeReplSource(0, "other-host", 6381, 0); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy for a second attach without prior detach, got %v", err)
	}
}

func TestChangeReplSourceDetachWhenAlreadyDetachedIsNoop(t *testing.T) {
	m, _ := testManager(t, 1)
	if err := m.Startup(); err != nil {
		t.Fatalf("startup: %v", err)
	}
	defer m.Stop()

	if err := m.ChangeReplSource(0, "", 0, 0); err != nil {
		t.Fatalf("expected detach-when-detached to succeed as a no-op, got %v", err)
	}
}

func TestChangeReplSourceOutOfRange(t *testing.T) {
	m, _ := testManager(t, 1)
	if err := m.Startup(); err != nil {
		t.Fatalf("startup: %v", err)
	}
	defer m.Stop()

	if err := m.ChangeReplSource(9, "host", 1, 0); err != ErrNotFound {
		t.Errorf("expected ErrNotFound for out-of-range store, got %v", err)
	}
}

func modeOf(m *Manager, storeID int) (kvstore.StoreMode, error) {
	handle, err := m.segMgr.GetDB(storeID, kvstore.LockNone, true)
	if err != nil {
		return 0, err
	}
	defer handle.Release()
	return handle.Store.Mode(), nil
}
