// Package store defines the persistent key/value interface every other
// package's persistence goes through, plus the key layout all callers
// build keys against. Concrete engines live in store/boltstore (the
// production bbolt-backed engine) and store/memstore (an in-memory fake
// used by package tests), mirroring the teacher's watchtower/wtdb split
// between the interface and its bbolt implementation.
package store

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by Get (and surfaced through typed Load
// helpers) when a key is absent.
var ErrNotFound = errors.New("store: key not found")

// KV is the minimal persistent key/value contract. All values are JSON
// blobs; callers are responsible for encoding/decoding.
type KV interface {
	// Get returns the value stored at key, or ErrNotFound.
	Get(key []byte) ([]byte, error)

	// Put writes value at key, creating or overwriting it.
	Put(key, value []byte) error

	// Delete removes key. It is not an error if key is absent.
	Delete(key []byte) error

	// ScanPrefix calls fn for every key with the given prefix, in
	// lexicographic order, stopping early if fn returns false.
	ScanPrefix(prefix []byte, fn func(key, value []byte) bool) error

	// Batch runs fn against a Batch that atomically commits every Put/
	// Delete issued inside it when fn returns nil, per the single-
	// serialisation-point requirement for multi-key updates.
	Batch(fn func(b Batch) error) error

	// Close releases the underlying engine's resources.
	Close() error
}

// Batch accumulates reads and writes for atomic commit by KV.Batch. Get
// sees writes already issued earlier in the same batch, the same
// read-your-writes guarantee a single bbolt read-write transaction gives.
type Batch interface {
	Get(key []byte) ([]byte, error)
	Put(key, value []byte) error
	Delete(key []byte) error
}

// Key-building helpers. Keys use ':' as a hierarchical separator per the
// persistent key/value layout; ScanPrefix callers pass the values of the
// *Prefix helpers below.

const (
	prefixAccount            = "account:"
	prefixBalance            = "balance:"
	prefixDeposit            = "deposit:"
	prefixDepositStartBlock  = "depositStartBlock:"
	prefixWithdrawal         = "withdrawal:"
	prefixBucket             = "bucket:"
	prefixBlockCache         = "blockCache:"
	prefixGasFundingTx       = "gasFundingTx:"
	prefixLastProcessedBlock = "lastProcessedBlock:"
)

// AccountKey returns the key for an account record.
func AccountKey(username string) []byte {
	return []byte(prefixAccount + username)
}

// AccountPrefix returns the scan prefix for every account record.
func AccountPrefix() []byte { return []byte(prefixAccount) }

// BalanceKey returns the key for a (username, chain, currency) balance.
func BalanceKey(username string, chainID uint64, currency string) []byte {
	return []byte(fmt.Sprintf("%s%s:%d:%s", prefixBalance, username, chainID, currency))
}

// BalancePrefixForUser returns the scan prefix for every balance a user
// holds across all chains and currencies.
func BalancePrefixForUser(username string) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixBalance, username))
}

// DepositKey returns the key for a deposit keyed by its originating
// transaction hash.
func DepositKey(txHash string) []byte {
	return []byte(prefixDeposit + txHash)
}

// DepositPrefix returns the scan prefix for every deposit record.
func DepositPrefix() []byte { return []byte(prefixDeposit) }

// DepositStartBlockKey returns the key for a deposit's first-observed
// block number.
func DepositStartBlockKey(txHash string) []byte {
	return []byte(prefixDepositStartBlock + txHash)
}

// WithdrawalKey returns the key for a withdrawal keyed by its generated
// identifier.
func WithdrawalKey(id string) []byte {
	return []byte(prefixWithdrawal + id)
}

// WithdrawalPrefix returns the scan prefix for every withdrawal record.
func WithdrawalPrefix() []byte { return []byte(prefixWithdrawal) }

// BucketKey returns the key for a (chain, currency, window_index) bucket.
func BucketKey(chainID uint64, currency string, windowIndex int64) []byte {
	return []byte(fmt.Sprintf("%s%d:%s:%d", prefixBucket, chainID, currency, windowIndex))
}

// BucketPrefix returns the scan prefix for every bucket record.
func BucketPrefix() []byte { return []byte(prefixBucket) }

// BlockCacheKey returns the key for a cached (chain, block_number) block.
func BlockCacheKey(chainID, blockNumber uint64) []byte {
	return []byte(fmt.Sprintf("%s%d:%d", prefixBlockCache, chainID, blockNumber))
}

// GasFundingTxKey returns the key recording a gas-funding transaction's
// associated deposit id, so the indexer's scan step does not re-admit it
// as a native deposit.
func GasFundingTxKey(txHash string) []byte {
	return []byte(prefixGasFundingTx + txHash)
}

// LastProcessedBlockKey returns the key for a chain's last processed
// block height, consulted by the periodic block-recovery task.
func LastProcessedBlockKey(chainID uint64) []byte {
	return []byte(fmt.Sprintf("%s%d", prefixLastProcessedBlock, chainID))
}
