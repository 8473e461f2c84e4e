package kvstore

import (
	"encoding/binary"
	"encoding/json"

	"github.com/dgraph-io/badger/v4"
)

// MinBinlog is the result of scanning for the lowest retained binlog id.
type MinBinlog struct {
	BinlogID  uint64
	Timestamp int64
}

// RepllogCursor exposes the minimum retained binlog for a store, used by
// the recycler at startup to (re)derive firstBinlogId when it was not
// durably known (UNINITED).
type RepllogCursor interface {
	GetMinBinlog(txn *Transaction) (MinBinlog, error)
}

// GetMinBinlog scans forward from the start of the store's binlog namespace
// and returns the first record found. Returns ErrExhausted if the store has
// no binlog records at all.
func (s *Store) GetMinBinlog(txn *Transaction) (MinBinlog, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = binlogPrefix(s.id)
	it := txn.txn.NewIterator(opts)
	defer it.Close()

	it.Seek(binlogPrefix(s.id))
	if !it.ValidForPrefix(binlogPrefix(s.id)) {
		return MinBinlog{}, ErrExhausted
	}

	item := it.Item()
	key := item.Key()
	id := binary.BigEndian.Uint64(key[len(key)-8:])

	var rec BinlogRecord
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &rec)
	}); err != nil {
		return MinBinlog{}, err
	}

	return MinBinlog{BinlogID: id, Timestamp: rec.Timestamp}, nil
}
