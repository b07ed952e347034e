// Package boltstore is the production store.KV engine, backed by
// go.etcd.io/bbolt. It plays the role the teacher's channeldb plays atop
// its own embedded engine: a single bucket holding every key, with
// prefix scans implemented via bbolt's ordered cursor.
package boltstore

import (
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/nnlgsakib/crypto-manager-engine/store"
)

var rootBucket = []byte("crypto-manager-engine")

// Store is the bbolt-backed store.KV implementation.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if absent) the bbolt database file at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("boltstore: opening %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(rootBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("boltstore: creating root bucket: %w", err)
	}

	storLog.Infof("opened store at %s", path)
	return &Store{db: db}, nil
}

var _ store.KV = (*Store)(nil)

// Get implements store.KV.
func (s *Store) Get(key []byte) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(rootBucket).Get(key)
		if v == nil {
			return store.ErrNotFound
		}
		out = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Put implements store.KV.
func (s *Store) Put(key, value []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(rootBucket).Put(key, value)
	})
}

// Delete implements store.KV.
func (s *Store) Delete(key []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(rootBucket).Delete(key)
	})
}

// ScanPrefix implements store.KV using bbolt's Cursor.Seek plus the
// conventional prefix range [prefix, prefix+0xFFFF].
func (s *Store) ScanPrefix(prefix []byte, fn func(key, value []byte) bool) error {
	return s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(rootBucket).Cursor()
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			if !fn(k, v) {
				break
			}
		}
		return nil
	})
}

func hasPrefix(key, prefix []byte) bool {
	if len(key) < len(prefix) {
		return false
	}
	for i := range prefix {
		if key[i] != prefix[i] {
			return false
		}
	}
	return true
}

// Batch implements store.KV, giving fn a view backed by a single bbolt
// read-write transaction so every Put/Delete inside it commits
// atomically together.
func (s *Store) Batch(fn func(b store.Batch) error) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return fn(&txBatch{bucket: tx.Bucket(rootBucket)})
	})
}

type txBatch struct {
	bucket *bolt.Bucket
}

func (b *txBatch) Get(key []byte) ([]byte, error) {
	v := b.bucket.Get(key)
	if v == nil {
		return nil, store.ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (b *txBatch) Put(key, value []byte) error { return b.bucket.Put(key, value) }
func (b *txBatch) Delete(key []byte) error      { return b.bucket.Delete(key) }

// Close implements store.KV.
func (s *Store) Close() error {
	return s.db.Close()
}
