package storage

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/boltdb/bolt"

	"rfstore/internal/txn"
)

var transactionsBucket = []byte("transactions")

// openTimeout bounds how long Open waits for another process holding the
// same log file.
const openTimeout = time.Second

// BoltLog is a Log stored in a single bolt database file. Every Save is its
// own bolt update transaction, which is fsynced on commit.
type BoltLog struct {
	db   *bolt.DB
	path string
}

// OpenBoltLog opens or creates the log at path.
func OpenBoltLog(path string) (*BoltLog, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory %s: %w", dir, err)
		}
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: openTimeout})
	if err != nil {
		return nil, fmt.Errorf("failed to open transaction log %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(transactionsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialise transaction log %s: %w", path, err)
	}
	return &BoltLog{db: db, path: path}, nil
}

// Path returns the file backing the log.
func (l *BoltLog) Path() string {
	return l.path
}

// Load returns every record ordered by id.
func (l *BoltLog) Load() ([]*txn.Transaction, error) {
	var out []*txn.Transaction
	err := l.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(transactionsBucket).ForEach(func(k, v []byte) error {
			t := new(txn.Transaction)
			if err := t.UnmarshalWire(v); err != nil {
				return fmt.Errorf("record %x: %w", k, err)
			}
			out = append(out, t)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Save writes t under its id.
func (l *BoltLog) Save(t *txn.Transaction) error {
	v, err := t.MarshalWire()
	if err != nil {
		return err
	}
	return l.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(transactionsBucket).Put(idKey(t.ID), v)
	})
}

// Close closes the database file.
func (l *BoltLog) Close() error {
	return l.db.Close()
}

// idKey encodes id big-endian so that bolt's byte order is id order.
func idKey(id int64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, uint64(id))
	return k
}
