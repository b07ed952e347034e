// Package deposit defines the Deposit record and its persistence,
// keyed by the originating transaction hash per the persistent key
// layout. The state machine itself is driven by the indexer package;
// this package only owns the record shape and store access.
package deposit

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nnlgsakib/crypto-manager-engine/money"
	"github.com/nnlgsakib/crypto-manager-engine/store"
)

// State enumerates a deposit's lifecycle. Only Credited and Failed are
// terminal.
type State string

const (
	StatePending    State = "pending"
	StateConfirming State = "confirming"
	StateConfirmed  State = "confirmed"
	StateCredited   State = "credited"
	StateFailed     State = "failed"
)

// IsTerminal reports whether s is a terminal state.
func (s State) IsTerminal() bool {
	return s == StateCredited || s == StateFailed
}

// Deposit is keyed by TxHash.
type Deposit struct {
	TxHash                string       `json:"tx_hash"`
	Username              string       `json:"username"`
	ChainID               uint64       `json:"chain_id"`
	Currency              string       `json:"currency"`
	Amount                money.Amount `json:"amount"`
	SenderAddress         string       `json:"sender_address"`
	RecipientAddress      string       `json:"recipient_address"`
	RequiredConfirmations uint64       `json:"required_confirmations"`
	Confirmations         uint64       `json:"confirmations"`
	StartBlock            uint64       `json:"start_block"`
	RetryCount            int          `json:"retry_count"`
	State                 State        `json:"state"`
	CreatedAt             time.Time    `json:"created_at"`
	UpdatedAt             time.Time    `json:"updated_at"`
}

// Store persists Deposit records.
type Store struct {
	kv store.KV
}

// NewStore builds a Store backed by kv.
func NewStore(kv store.KV) *Store {
	return &Store{kv: kv}
}

// Get loads the deposit keyed by txHash.
func (s *Store) Get(txHash string) (*Deposit, error) {
	raw, err := s.kv.Get(store.DepositKey(txHash))
	if err != nil {
		return nil, err
	}
	var d Deposit
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("deposit: decoding %s: %w", txHash, err)
	}
	return &d, nil
}

// Put creates or overwrites d.
func (s *Store) Put(d *Deposit) error {
	d.UpdatedAt = d.UpdatedAt.UTC()
	raw, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("deposit: encoding %s: %w", d.TxHash, err)
	}
	return s.kv.Put(store.DepositKey(d.TxHash), raw)
}

// PutInBatch is Put run inside an already-open store.Batch, used by the
// indexer's confirm/sweep/credit transition so the deposit record and its
// ledger credit commit together.
func (s *Store) PutInBatch(b store.Batch, d *Deposit) error {
	d.UpdatedAt = d.UpdatedAt.UTC()
	raw, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("deposit: encoding %s: %w", d.TxHash, err)
	}
	return b.Put(store.DepositKey(d.TxHash), raw)
}

// ListPending scans every non-terminal deposit, used to rebuild the
// indexer's pending queue on startup.
func (s *Store) ListPending() ([]*Deposit, error) {
	var out []*Deposit
	err := s.kv.ScanPrefix(store.DepositPrefix(), func(_, v []byte) bool {
		var d Deposit
		if err := json.Unmarshal(v, &d); err != nil {
			return true
		}
		if !d.State.IsTerminal() {
			out = append(out, &d)
		}
		return true
	})
	return out, err
}

// SetStartBlock records the first block a transaction was observed in.
func (s *Store) SetStartBlock(txHash string, block uint64) error {
	return s.kv.Put(store.DepositStartBlockKey(txHash), []byte(fmt.Sprintf("%d", block)))
}

// DeleteStartBlock removes the start-block bookkeeping once a deposit
// reaches a terminal state, per the cleanup step.
func (s *Store) DeleteStartBlock(txHash string) error {
	return s.kv.Delete(store.DepositStartBlockKey(txHash))
}

// MarkGasFunding records txHash as a hot-wallet-originated gas top-up
// associated with depositTxHash, so the indexer's scan step never admits
// it as a native deposit.
func (s *Store) MarkGasFunding(gasFundingTxHash, depositTxHash string) error {
	return s.kv.Put(store.GasFundingTxKey(gasFundingTxHash), []byte(depositTxHash))
}

// IsGasFunding reports whether txHash was recorded as a gas-funding
// transfer.
func (s *Store) IsGasFunding(txHash string) (bool, error) {
	_, err := s.kv.Get(store.GasFundingTxKey(txHash))
	if err == store.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
