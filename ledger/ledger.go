// Package ledger owns every user balance and the only code path allowed
// to mutate one. Every operation is a load-modify-store sequence run
// inside a single store.Batch, so the persistent store's atomic batch
// write is the ledger's sole concurrency primitive — there is no
// additional in-process locking, matching the teacher's practice of
// pushing serialisation down into the backing store rather than layering
// mutexes atop it.
package ledger

import (
	"encoding/json"
	"fmt"

	"github.com/nnlgsakib/crypto-manager-engine/chainerrors"
	"github.com/nnlgsakib/crypto-manager-engine/money"
	"github.com/nnlgsakib/crypto-manager-engine/store"
)

// Ledger is the sole authority over Balance records.
type Ledger struct {
	kv store.KV
}

// New builds a Ledger backed by kv.
func New(kv store.KV) *Ledger {
	return &Ledger{kv: kv}
}

// Get returns the current balance for (username, chain, currency),
// defaulting to a zero balance if none has been recorded yet.
func (l *Ledger) Get(username string, chainID uint64, currency string) (Balance, error) {
	key := store.BalanceKey(username, chainID, currency)
	raw, err := l.kv.Get(key)
	if err == store.ErrNotFound {
		return Balance{Username: username, ChainID: chainID, Currency: currency}, nil
	}
	if err != nil {
		return Balance{}, fmt.Errorf("ledger: loading balance: %w", err)
	}
	var bal Balance
	if err := json.Unmarshal(raw, &bal); err != nil {
		return Balance{}, fmt.Errorf("ledger: decoding balance: %w", err)
	}
	return bal, nil
}

func (l *Ledger) load(b store.Batch, username string, chainID uint64, currency string) (Balance, error) {
	key := store.BalanceKey(username, chainID, currency)
	raw, err := b.Get(key)
	if err == store.ErrNotFound {
		return Balance{Username: username, ChainID: chainID, Currency: currency}, nil
	}
	if err != nil {
		return Balance{}, err
	}
	var bal Balance
	if err := json.Unmarshal(raw, &bal); err != nil {
		return Balance{}, err
	}
	return bal, nil
}

func (l *Ledger) store(b store.Batch, bal Balance) error {
	raw, err := json.Marshal(bal)
	if err != nil {
		return err
	}
	return b.Put(store.BalanceKey(bal.Username, bal.ChainID, bal.Currency), raw)
}

// Credit adds amount to username's available balance. Fails if the
// result would not be representable as a two-decimal fixed-point amount.
func (l *Ledger) Credit(username string, chainID uint64, currency string, amount money.Amount) error {
	return l.kv.Batch(func(b store.Batch) error {
		bal, err := l.load(b, username, chainID, currency)
		if err != nil {
			return err
		}
		newAvail, err := bal.Available.Add(amount)
		if err != nil {
			return chainerrors.Wrap(chainerrors.KindValidation, fmt.Errorf("ledger: credit overflow: %w", err))
		}
		bal.Available = newAvail
		return l.store(b, bal)
	})
}

// CreditInBatch performs the same mutation as Credit but inside an
// already-open store.Batch, so the indexer can commit a deposit's credit
// and its confirmed→credited transition as one atomic write — the
// at-most-once credit guarantee depends on this running in the same
// transaction as the state flip.
func (l *Ledger) CreditInBatch(b store.Batch, username string, chainID uint64, currency string, amount money.Amount) error {
	bal, err := l.load(b, username, chainID, currency)
	if err != nil {
		return err
	}
	newAvail, err := bal.Available.Add(amount)
	if err != nil {
		return chainerrors.Wrap(chainerrors.KindValidation, fmt.Errorf("ledger: credit overflow: %w", err))
	}
	bal.Available = newAvail
	return l.store(b, bal)
}

// Freeze moves amount from available to frozen. Fails with
// KindInsufficientAvailable if available < amount.
func (l *Ledger) Freeze(username string, chainID uint64, currency string, amount money.Amount) error {
	return l.kv.Batch(func(b store.Batch) error {
		bal, err := l.load(b, username, chainID, currency)
		if err != nil {
			return err
		}
		if bal.Available.Cmp(amount) < 0 {
			return chainerrors.Wrap(chainerrors.KindInsufficientAvailable,
				fmt.Errorf("ledger: %s/%d/%s available %s < requested %s", username, chainID, currency, bal.Available, amount))
		}
		newAvail, err := bal.Available.Sub(amount)
		if err != nil {
			return err
		}
		newFrozen, err := bal.Frozen.Add(amount)
		if err != nil {
			return chainerrors.Wrap(chainerrors.KindValidation, fmt.Errorf("ledger: freeze overflow: %w", err))
		}
		bal.Available, bal.Frozen = newAvail, newFrozen
		return l.store(b, bal)
	})
}

// Unfreeze moves amount back from frozen to available. If amount exceeds
// the current frozen balance, it moves whatever is actually frozen and
// logs prominently rather than failing — a deliberate policy so
// compensating unfreezes after retries never cascade into fatal errors,
// at the cost of masking a bookkeeping bug if one exists upstream.
func (l *Ledger) Unfreeze(username string, chainID uint64, currency string, amount money.Amount) error {
	return l.kv.Batch(func(b store.Batch) error {
		bal, err := l.load(b, username, chainID, currency)
		if err != nil {
			return err
		}

		movable := amount
		if bal.Frozen.Cmp(amount) < 0 {
			ldgrLog.Warnf("over-unfreeze: %s/%d/%s requested %s but only %s frozen, clamping",
				username, chainID, currency, amount, bal.Frozen)
			movable = bal.Frozen
		}

		bal.Frozen = bal.Frozen.SubClamped(movable)
		newAvail, err := bal.Available.Add(movable)
		if err != nil {
			return chainerrors.Wrap(chainerrors.KindValidation, fmt.Errorf("ledger: unfreeze overflow: %w", err))
		}
		bal.Available = newAvail
		return l.store(b, bal)
	})
}

// Settle deducts amount from frozen without touching available — the
// withdrawal's funds have left custody. Fails with KindInsufficientFrozen
// if frozen < amount.
func (l *Ledger) Settle(username string, chainID uint64, currency string, amount money.Amount) error {
	return l.kv.Batch(func(b store.Batch) error {
		return l.SettleInBatch(b, username, chainID, currency, amount)
	})
}

// SettleInBatch is Settle run inside an already-open store.Batch, letting
// the batcher commit a withdrawal's settle and its completed transition as
// one atomic write, the same guarantee CreditInBatch gives deposits.
func (l *Ledger) SettleInBatch(b store.Batch, username string, chainID uint64, currency string, amount money.Amount) error {
	bal, err := l.load(b, username, chainID, currency)
	if err != nil {
		return err
	}
	if bal.Frozen.Cmp(amount) < 0 {
		return chainerrors.Wrap(chainerrors.KindInsufficientFrozen,
			fmt.Errorf("ledger: %s/%d/%s frozen %s < requested %s", username, chainID, currency, bal.Frozen, amount))
	}
	newFrozen, err := bal.Frozen.Sub(amount)
	if err != nil {
		return err
	}
	bal.Frozen = newFrozen
	return l.store(b, bal)
}

// UnfreezeInBatch is Unfreeze run inside an already-open store.Batch,
// letting the batcher commit a withdrawal's unfreeze and its failed
// transition as one atomic write.
func (l *Ledger) UnfreezeInBatch(b store.Batch, username string, chainID uint64, currency string, amount money.Amount) error {
	bal, err := l.load(b, username, chainID, currency)
	if err != nil {
		return err
	}

	movable := amount
	if bal.Frozen.Cmp(amount) < 0 {
		ldgrLog.Warnf("over-unfreeze: %s/%d/%s requested %s but only %s frozen, clamping",
			username, chainID, currency, amount, bal.Frozen)
		movable = bal.Frozen
	}

	bal.Frozen = bal.Frozen.SubClamped(movable)
	newAvail, err := bal.Available.Add(movable)
	if err != nil {
		return chainerrors.Wrap(chainerrors.KindValidation, fmt.Errorf("ledger: unfreeze overflow: %w", err))
	}
	bal.Available = newAvail
	return l.store(b, bal)
}

// Transfer debits from's available balance and credits to's available
// balance as a single atomic operation: either both sides commit or
// neither does.
func (l *Ledger) Transfer(from, to string, chainID uint64, currency string, amount money.Amount) error {
	return l.kv.Batch(func(b store.Batch) error {
		fromBal, err := l.load(b, from, chainID, currency)
		if err != nil {
			return err
		}
		if fromBal.Available.Cmp(amount) < 0 {
			return chainerrors.Wrap(chainerrors.KindInsufficientAvailable,
				fmt.Errorf("ledger: %s/%d/%s available %s < transfer amount %s", from, chainID, currency, fromBal.Available, amount))
		}

		toBal, err := l.load(b, to, chainID, currency)
		if err != nil {
			return err
		}

		newFromAvail, err := fromBal.Available.Sub(amount)
		if err != nil {
			return err
		}
		newToAvail, err := toBal.Available.Add(amount)
		if err != nil {
			return chainerrors.Wrap(chainerrors.KindValidation, fmt.Errorf("ledger: transfer overflow: %w", err))
		}

		fromBal.Available = newFromAvail
		toBal.Available = newToAvail

		if err := l.store(b, fromBal); err != nil {
			return err
		}
		return l.store(b, toBal)
	})
}
