// Package store persists the pipeline's durable state on leveldb:
// user records, ledger addresses, committed chain entries, the per-raw-
// transaction audit copies, and run records. Access goes through typed
// accessors so the key scheme stays in one place.
package store

import (
	"errors"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"
)

var ErrNotFound = errors.New("store: not found")

// Store is a handle to one leveldb database. It is safe for concurrent
// use; leveldb serializes writes internally.
type Store struct {
	db *leveldb.DB
}

// Open opens (creating if needed) the database at path.
func Open(path string) (*Store, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// OpenInMemory returns a Store backed by volatile memory storage, used
// by tests.
func OpenInMemory() (*Store, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close flushes and closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) get(key []byte) ([]byte, error) {
	data, err := s.db.Get(key, nil)
	if err == leveldb.ErrNotFound {
		return nil, ErrNotFound
	}
	return data, err
}

func (s *Store) has(key []byte) (bool, error) {
	return s.db.Has(key, nil)
}

func (s *Store) put(key, value []byte) error {
	return s.db.Put(key, value, nil)
}
