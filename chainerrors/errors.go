// Package chainerrors defines the small error taxonomy (kinds, not types)
// that every leaf error crossing into the indexer or batcher boundary is
// mapped onto, per the propagation policy: leaf chain-adapter and store
// errors are wrapped here with a stack trace preserved via go-errors, and
// retries happen exclusively inside the owning task.
package chainerrors

import (
	goerrors "github.com/go-errors/errors"
)

// Kind identifies the error taxonomy bucket an error belongs to. Terminality
// and retry eligibility are derived from the Kind alone.
type Kind int

const (
	// KindUnknown is never deliberately constructed; seeing it indicates
	// a leaf error that was not mapped before crossing a boundary.
	KindUnknown Kind = iota

	// KindValidation is caller-side; never retried, surfaced immediately.
	KindValidation

	// KindInsufficientAvailable signals a ledger Freeze rejected because
	// available balance is too low.
	KindInsufficientAvailable

	// KindInsufficientFrozen signals a ledger Settle rejected because
	// frozen balance is too low.
	KindInsufficientFrozen

	// KindInsufficientHotWalletLiquidity is transient at the system
	// level but terminal for the affected bucket.
	KindInsufficientHotWalletLiquidity

	// KindInsufficientAfterGas is terminal for the affected deposit: the
	// post-gas sweep value was not positive.
	KindInsufficientAfterGas

	// KindInsufficientBalance is terminal for the affected deposit: the
	// sweep could not be funded.
	KindInsufficientBalance

	// KindChainRPC is transient and retryable; counts against a task's
	// retry budget.
	KindChainRPC

	// KindChainReverted is terminal for the submitted transaction.
	KindChainReverted

	// KindConfiguration is fatal at startup.
	KindConfiguration
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindInsufficientAvailable:
		return "insufficient_available"
	case KindInsufficientFrozen:
		return "insufficient_frozen"
	case KindInsufficientHotWalletLiquidity:
		return "insufficient_hot_wallet_liquidity"
	case KindInsufficientAfterGas:
		return "insufficient_after_gas"
	case KindInsufficientBalance:
		return "insufficient_balance"
	case KindChainRPC:
		return "chain_rpc"
	case KindChainReverted:
		return "chain_reverted"
	case KindConfiguration:
		return "configuration"
	default:
		return "unknown"
	}
}

// Error wraps a leaf error with a Kind and a captured stack trace.
type Error struct {
	Kind  Kind
	stack *goerrors.Error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Kind.String() + ": " + e.stack.Err.Error()
}

// Unwrap supports errors.Is/errors.As against the wrapped leaf error.
func (e *Error) Unwrap() error {
	return e.stack.Err
}

// Wrap tags err with kind, capturing a stack trace at the call site. A nil
// err returns nil.
func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, stack: goerrors.Wrap(err, 1)}
}

// Is reports whether err (or anything it wraps) was tagged with kind.
func Is(err error, kind Kind) bool {
	var ce *Error
	for err != nil {
		if e, ok := err.(*Error); ok {
			ce = e
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return ce != nil && ce.Kind == kind
}

// Retryable reports whether an error of this kind should be retried by the
// owning task, subject to its retry budget.
func (k Kind) Retryable() bool {
	return k == KindChainRPC
}

// TerminalForDeposit reports whether an error of this kind immediately
// terminates the affected deposit with no retry, per spec.
func (k Kind) TerminalForDeposit() bool {
	return k == KindInsufficientAfterGas || k == KindInsufficientBalance
}
