// Package bucket defines the time-windowed aggregation slot that groups
// withdrawals per (chain, currency) for a single on-chain settlement
// call, keyed by (chain, currency, window_index).
package bucket

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nnlgsakib/crypto-manager-engine/store"
)

// Bucket aggregates withdrawal ids for one (chain, currency, window).
type Bucket struct {
	ChainID       uint64    `json:"chain_id"`
	Currency      string    `json:"currency"`
	WindowIndex   int64     `json:"window_index"`
	WithdrawalIDs []string  `json:"withdrawal_ids"`
	CreatedAt     time.Time `json:"created_at"`
	ExpiresAt     time.Time `json:"expires_at"`
	Settled       bool      `json:"settled"`
}

// ID returns the bucket's stable (chain, currency, window_index) key
// string, used as the process-local settlement lock key.
func (b *Bucket) ID() string {
	return fmt.Sprintf("%d:%s:%d", b.ChainID, b.Currency, b.WindowIndex)
}

// WindowIndex computes floor(unixMillis / windowMs), the bucket
// assignment function shared by every caller that needs to know which
// window a timestamp falls in.
func WindowIndex(t time.Time, windowMs int64) int64 {
	return t.UnixMilli() / windowMs
}

// Store persists Bucket records.
type Store struct {
	kv store.KV
}

// NewStore builds a Store backed by kv.
func NewStore(kv store.KV) *Store {
	return &Store{kv: kv}
}

// Get loads the bucket for (chainID, currency, windowIndex), or
// store.ErrNotFound if none has been created yet.
func (s *Store) Get(chainID uint64, currency string, windowIndex int64) (*Bucket, error) {
	raw, err := s.kv.Get(store.BucketKey(chainID, currency, windowIndex))
	if err != nil {
		return nil, err
	}
	var b Bucket
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, fmt.Errorf("bucket: decoding %s: %w", b.ID(), err)
	}
	return &b, nil
}

// Put creates or overwrites bkt.
func (s *Store) Put(bkt *Bucket) error {
	raw, err := json.Marshal(bkt)
	if err != nil {
		return fmt.Errorf("bucket: encoding %s: %w", bkt.ID(), err)
	}
	return s.kv.Put(store.BucketKey(bkt.ChainID, bkt.Currency, bkt.WindowIndex), raw)
}

// PutInBatch is Put run inside an already-open store.Batch, used by the
// batcher so a bucket's settled flag commits together with every member
// withdrawal's settle/unfreeze and state transition.
func (s *Store) PutInBatch(b store.Batch, bkt *Bucket) error {
	raw, err := json.Marshal(bkt)
	if err != nil {
		return fmt.Errorf("bucket: encoding %s: %w", bkt.ID(), err)
	}
	return b.Put(store.BucketKey(bkt.ChainID, bkt.Currency, bkt.WindowIndex), raw)
}

// ListUnsettledExpired scans every bucket whose expiry has elapsed and
// which has not yet been settled, used by the batcher's startup recovery
// scan so a settlement timer lost across a restart still fires.
func (s *Store) ListUnsettledExpired(now time.Time) ([]*Bucket, error) {
	var out []*Bucket
	err := s.kv.ScanPrefix(store.BucketPrefix(), func(_, v []byte) bool {
		var b Bucket
		if err := json.Unmarshal(v, &b); err != nil {
			return true
		}
		if !b.Settled && !b.ExpiresAt.After(now) {
			out = append(out, &b)
		}
		return true
	})
	return out, err
}

// GetOrCreate returns the current bucket for (chainID, currency) at the
// window derived from now, creating one with expiry now+windowMs if
// absent. The bool result reports whether the returned bucket is a fresh,
// not-yet-persisted one, so callers know whether to arm a settlement timer
// for it.
func GetOrCreate(s *Store, chainID uint64, currency string, now time.Time, windowMs int64) (*Bucket, bool, error) {
	idx := WindowIndex(now, windowMs)
	bkt, err := s.Get(chainID, currency, idx)
	if err == store.ErrNotFound {
		bkt = &Bucket{
			ChainID:     chainID,
			Currency:    currency,
			WindowIndex: idx,
			CreatedAt:   now,
			ExpiresAt:   now.Add(time.Duration(windowMs) * time.Millisecond),
		}
		return bkt, true, nil
	}
	if err != nil {
		return nil, false, err
	}
	return bkt, false, nil
}
