package kvstore

import "io"

// KVStore is the storage-engine collaborator the replication core depends
// on. See spec.md §6 — only these operations are specified; the on-disk
// key-value format and binlog record encoding are out of scope.
type KVStore interface {
	ID() int
	IsOpen() bool
	IsRunning() bool
	IsEmpty() bool
	GetHighestBinlogID() uint64
	CreateTransaction() *Transaction
	TruncateBinlogV2(txn *Transaction, start, end uint64, fileSink io.Writer) (TruncateResult, error)
	SetStoreMode(mode StoreMode) error
	Mode() StoreMode
	GetMinBinlog(txn *Transaction) (MinBinlog, error)
}

var _ KVStore = (*Store)(nil)
