package kvstore

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"

	"github.com/kvshard/replicore/pkg/protocolbuf"
)

// BinlogRecord is one entry in a store's write-ahead binlog. The payload
// encoding itself is out of scope (spec.md §1 Non-goals: binlog record
// encoding) — here it is an opaque byte slice the caller supplies.
type BinlogRecord struct {
	ID        uint64
	Timestamp int64
	Payload   []byte
}

func binlogKey(storeID int, id uint64) []byte {
	buf := make([]byte, 0, 32)
	buf = append(buf, []byte(fmt.Sprintf("binlog/%d/", storeID))...)
	var idb [8]byte
	binary.BigEndian.PutUint64(idb[:], id)
	return append(buf, idb[:]...)
}

func binlogPrefix(storeID int) []byte {
	return []byte(fmt.Sprintf("binlog/%d/", storeID))
}

// Transaction wraps a Badger transaction so callers (the recycle engine,
// the push routines) never import badger directly.
type Transaction struct {
	txn *badger.Txn
}

// Commit commits the wrapped transaction.
func (t *Transaction) Commit() error {
	return t.txn.Commit()
}

// Discard aborts the wrapped transaction.
func (t *Transaction) Discard() {
	t.txn.Discard()
}

// Store is a single shard: a Badger-backed key-value payload plus an
// ordered binlog namespace, together with the open/running/mode flags the
// replication core inspects.
type Store struct {
	id int
	db *badger.DB

	mu      sync.RWMutex
	open    bool
	running bool
	mode    StoreMode

	highestBinlog atomic.Uint64
}

// NewStore opens (or creates) the Badger database backing store id at path.
func NewStore(id int, path string) (*Store, error) {
	opts := badger.DefaultOptions(path)
	opts.BlockCacheSize = 64 << 20
	opts.IndexCacheSize = 64 << 20

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger store %d: %w", id, err)
	}

	s := &Store{id: id, db: db, open: true, running: true, mode: ModeReadWrite}
	s.scanHighestBinlog()
	return s, nil
}

func (s *Store) scanHighestBinlog() {
	_ = s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = binlogPrefix(s.id)
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		seekKey := append(append([]byte{}, binlogPrefix(s.id)...), 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff)
		it.Seek(seekKey)
		if it.ValidForPrefix(binlogPrefix(s.id)) {
			key := it.Item().Key()
			id := binary.BigEndian.Uint64(key[len(key)-8:])
			s.highestBinlog.Store(id)
		}
		return nil
	})
}

// ID returns the store's index.
func (s *Store) ID() int { return s.id }

// IsOpen reports whether the underlying database handle is usable.
func (s *Store) IsOpen() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.open
}

// IsRunning reports whether the store accepts replication traffic. A store
// administratively paused (but still open) is not running.
func (s *Store) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.open && s.running
}

// SetRunning toggles the running flag without closing the store.
func (s *Store) SetRunning(running bool) {
	s.mu.Lock()
	s.running = running
	s.mu.Unlock()
}

// IsEmpty reports whether the store has no user data and no binlog — a
// precondition for becoming a slave (spec.md §4.7).
func (s *Store) IsEmpty() bool {
	empty := true
	_ = s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		it.Rewind()
		empty = !it.Valid()
		return nil
	})
	return empty
}

// SetStoreMode toggles between READ_WRITE and REPLICATE_ONLY.
func (s *Store) SetStoreMode(mode StoreMode) error {
	s.mu.Lock()
	s.mode = mode
	s.mu.Unlock()
	return nil
}

// Mode returns the current store mode.
func (s *Store) Mode() StoreMode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mode
}

// GetHighestBinlogID returns the highest binlog id ever appended to this
// store, used to compute replication lag in status reporting.
func (s *Store) GetHighestBinlogID() uint64 {
	return s.highestBinlog.Load()
}

// CreateTransaction starts a new read-write transaction.
func (s *Store) CreateTransaction() *Transaction {
	return &Transaction{txn: s.db.NewTransaction(true)}
}

// AppendBinlog writes one record within txn and advances the in-memory
// highest-binlog-id marker. Used by the write path (external to the
// replication core) and by slave apply.
func (s *Store) AppendBinlog(txn *Transaction, rec BinlogRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal binlog record: %w", err)
	}
	if err := txn.txn.Set(binlogKey(s.id, rec.ID), data); err != nil {
		return err
	}
	for {
		cur := s.highestBinlog.Load()
		if rec.ID <= cur {
			break
		}
		if s.highestBinlog.CompareAndSwap(cur, rec.ID) {
			break
		}
	}
	return nil
}

// TruncateResult reports the outcome of a binlog truncation pass.
type TruncateResult struct {
	NewStart  uint64
	Written   int
	Timestamp int64
}

// TruncateBinlogV2 deletes binlog records in [start, end) within txn,
// optionally writing each deleted record, JSON-encoded in full, to fileSink
// (used by the recycler to archive truncated records). It returns the new
// low watermark (one past the last deleted id, or start if nothing was
// deleted) and, in Written, the number of records deleted, whether or not
// a fileSink was given.
//
// Mirrors KVStore.truncateBinlogV2 from spec.md §4.5/§6.
func (s *Store) TruncateBinlogV2(txn *Transaction, start, end uint64, fileSink io.Writer) (TruncateResult, error) {
	var result TruncateResult
	result.NewStart = start

	opts := badger.DefaultIteratorOptions
	opts.Prefix = binlogPrefix(s.id)
	it := txn.txn.NewIterator(opts)
	defer it.Close()

	startKey := binlogKey(s.id, start)
	for it.Seek(startKey); it.ValidForPrefix(binlogPrefix(s.id)); it.Next() {
		item := it.Item()
		key := item.Key()
		id := binary.BigEndian.Uint64(key[len(key)-8:])
		if id >= end {
			break
		}

		var rec BinlogRecord
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		}); err != nil {
			return result, fmt.Errorf("read binlog record %d: %w", id, err)
		}

		if fileSink != nil {
			buf := protocolbuf.GetBuffer()
			err := json.NewEncoder(buf).Encode(rec)
			if err != nil {
				protocolbuf.PutBuffer(buf)
				return result, err
			}
			_, werr := fileSink.Write(buf.Bytes())
			protocolbuf.PutBuffer(buf)
			if werr != nil {
				return result, fmt.Errorf("archive binlog record %d: %w", id, werr)
			}
		}

		keyCopy := append([]byte{}, key...)
		if err := txn.txn.Delete(keyCopy); err != nil {
			return result, fmt.Errorf("delete binlog record %d: %w", id, err)
		}
		result.Written++
		result.NewStart = id + 1
		result.Timestamp = rec.Timestamp
	}

	return result, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	s.mu.Lock()
	s.open = false
	s.mu.Unlock()
	return s.db.Close()
}
