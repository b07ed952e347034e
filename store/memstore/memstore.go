// Package memstore is an in-memory store.KV fake used by package tests
// that need persistence semantics without a bbolt file on disk.
package memstore

import (
	"sort"
	"sync"

	"github.com/nnlgsakib/crypto-manager-engine/store"
)

// Store is a map-backed store.KV.
type Store struct {
	mu   sync.Mutex
	data map[string][]byte
}

// New returns an empty Store.
func New() *Store {
	return &Store{data: make(map[string][]byte)}
}

var _ store.KV = (*Store)(nil)

// Get implements store.KV.
func (s *Store) Get(key []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[string(key)]
	if !ok {
		return nil, store.ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

// Put implements store.KV.
func (s *Store) Put(key, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[string(key)] = append([]byte(nil), value...)
	return nil
}

// Delete implements store.KV.
func (s *Store) Delete(key []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, string(key))
	return nil
}

// ScanPrefix implements store.KV, sorting matching keys lexicographically
// to match bbolt's cursor ordering.
func (s *Store) ScanPrefix(prefix []byte, fn func(key, value []byte) bool) error {
	s.mu.Lock()
	var keys []string
	p := string(prefix)
	for k := range s.data {
		if len(k) >= len(p) && k[:len(p)] == p {
			keys = append(keys, k)
		}
	}
	s.mu.Unlock()

	sort.Strings(keys)
	for _, k := range keys {
		s.mu.Lock()
		v, ok := s.data[k]
		s.mu.Unlock()
		if !ok {
			continue
		}
		if !fn([]byte(k), v) {
			break
		}
	}
	return nil
}

// Batch implements store.KV as a thin pass-through: every Put and Delete
// issued inside fn is applied to the map at once, and writes made before fn
// returns an error are not rolled back.
func (s *Store) Batch(fn func(b store.Batch) error) error {
	return fn(&memBatch{s: s})
}

type memBatch struct {
	s *Store
}

func (b *memBatch) Get(key []byte) ([]byte, error) { return b.s.Get(key) }
func (b *memBatch) Put(key, value []byte) error    { return b.s.Put(key, value) }
func (b *memBatch) Delete(key []byte) error        { return b.s.Delete(key) }

// Close implements store.KV.
func (s *Store) Close() error { return nil }
