package storage

import (
	"errors"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// BadgerBackend persists entries in a Badger database. Expiry uses
// Badger's native per-entry TTL.
type BadgerBackend struct {
	db *badger.DB
}

// OpenBadger opens or creates a store at the given directory.
func OpenBadger(path string) (*BadgerBackend, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil

	return openBadger(opts)
}

// OpenBadgerInMemory opens a store that keeps everything in memory.
func OpenBadgerInMemory() (*BadgerBackend, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil

	return openBadger(opts)
}

func openBadger(opts badger.Options) (*BadgerBackend, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &BadgerBackend{db: db}, nil
}

// Close closes the database.
func (s *BadgerBackend) Close() error {
	return s.db.Close()
}

// Get returns the value for key or ErrNotFound.
func (s *BadgerBackend) Get(bucket, key string) ([]byte, error) {
	var value []byte

	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		value, err = getValue(txn, compositeKey(bucket, key))
		return err
	})
	if err != nil {
		return nil, err
	}
	if value == nil {
		return nil, ErrNotFound
	}
	return value, nil
}

// Set stores value under key.
func (s *BadgerBackend) Set(bucket, key string, value []byte, ttl time.Duration) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(newEntry(compositeKey(bucket, key), value, ttl))
	})
}

// Update runs fn inside a single read-write transaction. Badger retries
// nothing on conflict; a conflicting writer surfaces as badger.ErrConflict.
func (s *BadgerBackend) Update(bucket, key string, ttl time.Duration, fn func([]byte) ([]byte, error)) error {
	k := compositeKey(bucket, key)

	return s.db.Update(func(txn *badger.Txn) error {
		current, err := getValue(txn, k)
		if err != nil {
			return err
		}

		next, err := fn(current)
		if err != nil {
			return err
		}
		return txn.SetEntry(newEntry(k, next, ttl))
	})
}

// Delete removes key.
func (s *BadgerBackend) Delete(bucket, key string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(compositeKey(bucket, key))
	})
}

// Keys lists the keys of a bucket.
func (s *BadgerBackend) Keys(bucket string) ([]string, error) {
	prefix := bucketPrefix(bucket)
	var keys []string

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, string(it.Item().Key()[len(prefix):]))
		}
		return nil
	})
	return keys, err
}

// Clear removes all entries of a bucket.
func (s *BadgerBackend) Clear(bucket string) error {
	prefix := bucketPrefix(bucket)

	return s.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := txn.Delete(it.Item().KeyCopy(nil)); err != nil {
				return err
			}
		}
		return nil
	})
}

func getValue(txn *badger.Txn, key []byte) ([]byte, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

func newEntry(key, value []byte, ttl time.Duration) *badger.Entry {
	e := badger.NewEntry(key, value)
	if ttl > 0 {
		e = e.WithTTL(ttl)
	}
	return e
}

var _ Backend = (*BadgerBackend)(nil)
