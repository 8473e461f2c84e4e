package kvstore

import (
	"encoding/json"
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

// Catalog persists StoreMeta durably. setStoreMeta must return only after
// the record is durable — callers (changeReplStateInLock) treat a catalog
// write failure as process-fatal.
type Catalog interface {
	GetStoreMeta(id int) (StoreMeta, error)
	SetStoreMeta(meta StoreMeta) error
}

func metaKey(id int) []byte {
	return []byte(fmt.Sprintf("meta/%d", id))
}

// BadgerCatalog persists StoreMeta in the BadgerDB instance it is given,
// namespaced under "meta/" (cmd/replicad opens a dedicated catalog database
// for it).
type BadgerCatalog struct {
	db *badger.DB
}

func NewBadgerCatalog(db *badger.DB) *BadgerCatalog {
	return &BadgerCatalog{db: db}
}

func (c *BadgerCatalog) GetStoreMeta(id int) (StoreMeta, error) {
	var meta StoreMeta
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(metaKey(id))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return ErrNotFound
			}
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &meta)
		})
	})
	return meta, err
}

func (c *BadgerCatalog) SetStoreMeta(meta StoreMeta) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal store meta: %w", err)
	}
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Set(metaKey(meta.ID), data)
	})
}
