// Package withdrawal defines the Withdrawal record and its persistence,
// keyed by a generated identifier. The batcher package drives the state
// machine; this package owns the record shape and store access.
package withdrawal

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nnlgsakib/crypto-manager-engine/money"
	"github.com/nnlgsakib/crypto-manager-engine/store"
)

// State enumerates a withdrawal's lifecycle. Only Completed and Failed
// are terminal.
type State string

const (
	StateCreated       State = "created"
	StateAddedToBucket State = "added_to_bucket"
	StateProcessing    State = "processing"
	StateCompleted     State = "completed"
	StateFailed        State = "failed"
)

// IsTerminal reports whether s is a terminal state.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Withdrawal is keyed by ID.
type Withdrawal struct {
	ID                 string       `json:"id"`
	Username            string       `json:"username"`
	ChainID             uint64       `json:"chain_id"`
	Currency            string       `json:"currency"`
	Amount              money.Amount `json:"amount"`
	Fee                 money.Amount `json:"fee"`
	Reserved            money.Amount `json:"reserved"` // amount + fee, the frozen total
	DestinationAddress  string       `json:"destination_address"`
	BucketID            string       `json:"bucket_id,omitempty"`
	SettlementTxHash    string       `json:"settlement_tx_hash,omitempty"`
	State               State        `json:"state"`
	CreatedAt           time.Time    `json:"created_at"`
	UpdatedAt           time.Time    `json:"updated_at"`
}

// NewID generates a fresh withdrawal identifier.
func NewID() string {
	return uuid.NewString()
}

// Store persists Withdrawal records.
type Store struct {
	kv store.KV
}

// NewStore builds a Store backed by kv.
func NewStore(kv store.KV) *Store {
	return &Store{kv: kv}
}

// Get loads the withdrawal keyed by id.
func (s *Store) Get(id string) (*Withdrawal, error) {
	raw, err := s.kv.Get(store.WithdrawalKey(id))
	if err != nil {
		return nil, err
	}
	var w Withdrawal
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("withdrawal: decoding %s: %w", id, err)
	}
	return &w, nil
}

// Put creates or overwrites w.
func (s *Store) Put(w *Withdrawal) error {
	w.UpdatedAt = w.UpdatedAt.UTC()
	raw, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("withdrawal: encoding %s: %w", w.ID, err)
	}
	return s.kv.Put(store.WithdrawalKey(w.ID), raw)
}

// PutInBatch is Put run inside an already-open store.Batch, used when a
// withdrawal's state transition must commit together with a ledger
// settle/unfreeze call.
func (s *Store) PutInBatch(b store.Batch, w *Withdrawal) error {
	w.UpdatedAt = w.UpdatedAt.UTC()
	raw, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("withdrawal: encoding %s: %w", w.ID, err)
	}
	return b.Put(store.WithdrawalKey(w.ID), raw)
}

// ListByIDs loads a batch of withdrawals by id, in the order given,
// skipping any that are missing (defensive against store corruption).
func (s *Store) ListByIDs(ids []string) ([]*Withdrawal, error) {
	out := make([]*Withdrawal, 0, len(ids))
	for _, id := range ids {
		w, err := s.Get(id)
		if err == store.ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, nil
}
