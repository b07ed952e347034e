// Package batcher implements the withdrawal request path and the
// time-bucketed settlement that submits every withdrawal due in a window
// as a single on-chain call against the configured batch processor
// contract. One Batcher instance serves exactly one chain, mirroring the
// indexer's per-chain ownership model; the engine package constructs one
// per configured chain.
//
// The invariant every code path here protects: for any withdrawal,
// exactly one of unfreeze(reserved) or settle(reserved) is ever applied,
// and it is applied at most once. Both outcomes commit together with the
// withdrawal's terminal state transition and the owning bucket's settled
// flag inside a single store.Batch, the same at-most-once discipline the
// indexer's commitCredit gives deposits.
package batcher

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/nnlgsakib/crypto-manager-engine/bucket"
	"github.com/nnlgsakib/crypto-manager-engine/chain"
	"github.com/nnlgsakib/crypto-manager-engine/chain/evmchain"
	"github.com/nnlgsakib/crypto-manager-engine/chainerrors"
	"github.com/nnlgsakib/crypto-manager-engine/keychain"
	"github.com/nnlgsakib/crypto-manager-engine/ledger"
	"github.com/nnlgsakib/crypto-manager-engine/metrics"
	"github.com/nnlgsakib/crypto-manager-engine/money"
	"github.com/nnlgsakib/crypto-manager-engine/notify"
	"github.com/nnlgsakib/crypto-manager-engine/store"
	"github.com/nnlgsakib/crypto-manager-engine/withdrawal"
)

const (
	nativeDecimals          = uint8(18)
	batchGasLimitDefault    = uint64(300000)
	approveGasLimitDefault  = uint64(60000)
	batchReceiptTimeout     = 30 * time.Second
	approveReceiptTimeout   = 20 * time.Second
)

// CurrencyLimits bounds withdrawal requests for one (chain, currency) pair.
type CurrencyLimits struct {
	MinWithdrawal money.Amount
	MaxWithdrawal money.Amount
	Fee           money.Amount
}

// TokenInfo describes one ERC-20 token this batcher can settle withdrawals
// in, alongside its own withdrawal limits.
type TokenInfo struct {
	Symbol   string
	Address  common.Address
	Decimals uint8
	Limits   CurrencyLimits
}

// Config bundles a Batcher's per-chain parameters.
type Config struct {
	ChainID                    uint64
	NativeCurrency             string
	NativeLimits               CurrencyLimits
	WithdrawalProcessorAddress common.Address
	WindowMs                   int64
	Tokens                     []TokenInfo
}

// Batcher owns one chain's withdrawal request path and bucket settlement.
type Batcher struct {
	cfg     Config
	adapter chain.Adapter
	kv      store.KV
	wds     *withdrawal.Store
	bkts    *bucket.Store
	ldgr    *ledger.Ledger
	bus     *notify.Bus
	hotWlt  *keychain.HotWallet

	mu        sync.Mutex
	locks     map[string]*sync.Mutex
	timers    map[string]*time.Timer
	accepting bool
	runCtx    context.Context

	wg sync.WaitGroup

	chainLabel string
}

// New builds a Batcher. Call Run to start accepting requests and settling
// buckets; RequestWithdrawal before Run returns an error.
func New(cfg Config, adapter chain.Adapter, kv store.KV, wds *withdrawal.Store, bkts *bucket.Store, ldgr *ledger.Ledger, bus *notify.Bus, hotWlt *keychain.HotWallet) *Batcher {
	return &Batcher{
		cfg:        cfg,
		adapter:    adapter,
		kv:         kv,
		wds:        wds,
		bkts:       bkts,
		ldgr:       ldgr,
		bus:        bus,
		hotWlt:     hotWlt,
		locks:      make(map[string]*sync.Mutex),
		timers:     make(map[string]*time.Timer),
		chainLabel: fmt.Sprintf("%d", cfg.ChainID),
	}
}

func (bt *Batcher) resolveCurrency(currency string) (decimals uint8, tokenAddr common.Address, isNative bool, limits CurrencyLimits, err error) {
	if currency == bt.cfg.NativeCurrency {
		return nativeDecimals, common.Address{}, true, bt.cfg.NativeLimits, nil
	}
	for _, t := range bt.cfg.Tokens {
		if t.Symbol == currency {
			return t.Decimals, t.Address, false, t.Limits, nil
		}
	}
	return 0, common.Address{}, false, CurrencyLimits{},
		chainerrors.Wrap(chainerrors.KindConfiguration, fmt.Errorf("batcher: no currency configured for %s", currency))
}

func (bt *Batcher) lockFor(id string) *sync.Mutex {
	bt.mu.Lock()
	defer bt.mu.Unlock()
	l, ok := bt.locks[id]
	if !ok {
		l = &sync.Mutex{}
		bt.locks[id] = l
	}
	return l
}

// Run starts accepting withdrawal requests, replays any bucket whose
// expiry elapsed while the process was down, and blocks until ctx is
// cancelled, at which point it stops accepting new requests and drains
// in-flight settlements before returning.
func (bt *Batcher) Run(ctx context.Context) error {
	bt.mu.Lock()
	bt.runCtx = ctx
	bt.accepting = true
	bt.mu.Unlock()

	if err := bt.recoverExpiredBuckets(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	bt.Stop()
	return nil
}

// recoverExpiredBuckets settles, on startup, every bucket whose scheduled
// settlement timer was lost across a restart.
func (bt *Batcher) recoverExpiredBuckets(ctx context.Context) error {
	due, err := bt.bkts.ListUnsettledExpired(time.Now().UTC())
	if err != nil {
		return fmt.Errorf("batcher: listing expired buckets: %w", err)
	}
	for _, bkt := range due {
		bkt := bkt
		bt.wg.Add(1)
		go func() {
			defer bt.wg.Done()
			bt.settleBucket(ctx, bkt)
		}()
	}
	return nil
}

// Stop stops accepting new withdrawal requests, cancels every
// not-yet-due settlement timer, and waits for settlements already in
// flight to reach a terminal state. Buckets whose timer is cancelled here
// are not abandoned: they remain unsettled in the store and the next
// startup's recoverExpiredBuckets scan picks them up once their expiry
// has passed.
func (bt *Batcher) Stop() {
	bt.mu.Lock()
	bt.accepting = false
	for id, timer := range bt.timers {
		timer.Stop()
		delete(bt.timers, id)
	}
	bt.mu.Unlock()
	bt.wg.Wait()
}

// RequestWithdrawal runs the withdrawal request path: validate the amount
// against the currency's configured range, freeze reserved funds, create
// the withdrawal record, and assign it to the current window's bucket.
func (bt *Batcher) RequestWithdrawal(username, currency string, amount money.Amount, destination common.Address) (*withdrawal.Withdrawal, error) {
	bt.mu.Lock()
	accepting := bt.accepting
	bt.mu.Unlock()
	if !accepting {
		return nil, chainerrors.Wrap(chainerrors.KindValidation, fmt.Errorf("batcher: chain %d is shutting down, no longer accepting withdrawals", bt.cfg.ChainID))
	}

	_, _, _, limits, err := bt.resolveCurrency(currency)
	if err != nil {
		return nil, err
	}
	if amount.Cmp(limits.MinWithdrawal) < 0 || amount.Cmp(limits.MaxWithdrawal) > 0 {
		return nil, chainerrors.Wrap(chainerrors.KindValidation,
			fmt.Errorf("batcher: amount %s outside [%s,%s] for %s", amount, limits.MinWithdrawal, limits.MaxWithdrawal, currency))
	}

	reserved, err := amount.Add(limits.Fee)
	if err != nil {
		return nil, chainerrors.Wrap(chainerrors.KindValidation, err)
	}

	if err := bt.ldgr.Freeze(username, bt.cfg.ChainID, currency, reserved); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	w := &withdrawal.Withdrawal{
		ID:                 withdrawal.NewID(),
		Username:           username,
		ChainID:            bt.cfg.ChainID,
		Currency:           currency,
		Amount:             amount,
		Fee:                limits.Fee,
		Reserved:           reserved,
		DestinationAddress: destination.Hex(),
		State:              withdrawal.StateCreated,
		CreatedAt:          now,
	}
	if err := bt.wds.Put(w); err != nil {
		if uerr := bt.ldgr.Unfreeze(username, bt.cfg.ChainID, currency, reserved); uerr != nil {
			btchLog.Errorf("chain %d: compensating unfreeze after failed withdrawal persist: %v", bt.cfg.ChainID, uerr)
		}
		return nil, fmt.Errorf("batcher: persisting withdrawal %s: %w", w.ID, err)
	}
	bt.bus.Publish(notify.Message{Type: notify.WithdrawalUpdate, Username: username, ChainID: bt.cfg.ChainID, Currency: currency, Status: string(withdrawal.StateCreated), Record: w})

	bkt, isNew, err := bt.assignToBucket(w, now)
	if err != nil {
		return nil, err
	}

	metrics.WithdrawalsRequested.WithLabelValues(bt.chainLabel, currency).Inc()
	bt.bus.Publish(notify.Message{Type: notify.WithdrawalUpdate, Username: username, ChainID: bt.cfg.ChainID, Currency: currency, Status: string(withdrawal.StateAddedToBucket), Record: w})

	if isNew {
		bt.scheduleSettlement(bkt)
	}

	return w, nil
}

func (bt *Batcher) assignToBucket(w *withdrawal.Withdrawal, now time.Time) (*bucket.Bucket, bool, error) {
	bkt, isNew, err := bucket.GetOrCreate(bt.bkts, w.ChainID, w.Currency, now, bt.cfg.WindowMs)
	if err != nil {
		return nil, false, fmt.Errorf("batcher: loading bucket: %w", err)
	}

	bkt.WithdrawalIDs = append(bkt.WithdrawalIDs, w.ID)
	if err := bt.bkts.Put(bkt); err != nil {
		return nil, false, fmt.Errorf("batcher: persisting bucket %s: %w", bkt.ID(), err)
	}

	w.State = withdrawal.StateAddedToBucket
	w.BucketID = bkt.ID()
	if err := bt.wds.Put(w); err != nil {
		return nil, false, fmt.Errorf("batcher: persisting withdrawal %s: %w", w.ID, err)
	}

	return bkt, isNew, nil
}

// scheduleSettlement arms a timer that fires settlement at the bucket's
// expiry rather than having a goroutine sleep the window out, so a bucket
// created moments before shutdown doesn't pin a blocked goroutine.
func (bt *Batcher) scheduleSettlement(bkt *bucket.Bucket) {
	id := bkt.ID()
	chainID, currency, windowIndex := bkt.ChainID, bkt.Currency, bkt.WindowIndex

	delay := time.Until(bkt.ExpiresAt)
	if delay < 0 {
		delay = 0
	}

	bt.mu.Lock()
	if _, exists := bt.timers[id]; exists {
		bt.mu.Unlock()
		return
	}
	bt.timers[id] = time.AfterFunc(delay, func() {
		bt.mu.Lock()
		delete(bt.timers, id)
		ctx := bt.runCtx
		bt.mu.Unlock()
		if ctx == nil {
			return
		}
		bt.wg.Add(1)
		go func() {
			defer bt.wg.Done()
			fresh, err := bt.bkts.Get(chainID, currency, windowIndex)
			if err != nil {
				btchLog.Errorf("chain %d: reloading bucket %s at settlement time: %v", bt.cfg.ChainID, id, err)
				return
			}
			bt.settleBucket(ctx, fresh)
		}()
	})
	bt.mu.Unlock()
}

// settleBucket runs the settlement algorithm for one bucket: guard against
// concurrent settlement, collect still-eligible withdrawals, submit the
// batch call, and resolve every withdrawal to completed or failed
// depending on the outcome.
func (bt *Batcher) settleBucket(ctx context.Context, bkt *bucket.Bucket) {
	lock := bt.lockFor(bkt.ID())
	if !lock.TryLock() {
		btchLog.Debugf("chain %d: bucket %s settlement already in progress", bt.cfg.ChainID, bkt.ID())
		return
	}
	defer lock.Unlock()

	fresh, err := bt.bkts.Get(bkt.ChainID, bkt.Currency, bkt.WindowIndex)
	if err == store.ErrNotFound {
		return
	}
	if err != nil {
		btchLog.Errorf("chain %d: reloading bucket %s: %v", bt.cfg.ChainID, bkt.ID(), err)
		return
	}
	if fresh.Settled {
		return
	}
	bkt = fresh

	all, err := bt.wds.ListByIDs(bkt.WithdrawalIDs)
	if err != nil {
		btchLog.Errorf("chain %d: loading bucket %s withdrawals: %v", bt.cfg.ChainID, bkt.ID(), err)
		return
	}

	eligible := make([]*withdrawal.Withdrawal, 0, len(all))
	for _, w := range all {
		if w.State == withdrawal.StateAddedToBucket {
			eligible = append(eligible, w)
		}
	}

	if len(eligible) == 0 {
		bkt.Settled = true
		if err := bt.bkts.Put(bkt); err != nil {
			btchLog.Errorf("chain %d: marking empty bucket %s settled: %v", bt.cfg.ChainID, bkt.ID(), err)
		}
		return
	}

	for _, w := range eligible {
		w.State = withdrawal.StateProcessing
		if err := bt.wds.Put(w); err != nil {
			btchLog.Errorf("chain %d: marking withdrawal %s processing: %v", bt.cfg.ChainID, w.ID, err)
		}
		bt.bus.Publish(notify.Message{Type: notify.WithdrawalUpdate, Username: w.Username, ChainID: w.ChainID, Currency: w.Currency, Status: string(withdrawal.StateProcessing), Record: w})
	}

	decimals, tokenAddr, isNative, _, err := bt.resolveCurrency(bkt.Currency)
	if err != nil {
		bt.failBucket(bkt, eligible, err)
		return
	}

	recipients := make([]common.Address, len(eligible))
	amounts := make([]*big.Int, len(eligible))
	total := new(big.Int)
	for i, w := range eligible {
		recipients[i] = common.HexToAddress(w.DestinationAddress)
		amounts[i] = w.Amount.ToOnChainUnits(decimals)
		total.Add(total, amounts[i])
	}

	if err := bt.ensureLiquidity(ctx, isNative, tokenAddr, total); err != nil {
		bt.failBucket(bkt, eligible, err)
		return
	}

	var sendErr error
	var sentHash common.Hash
	if isNative {
		sentHash, sendErr = bt.submitBatchNative(ctx, recipients, amounts, total)
	} else {
		sentHash, sendErr = bt.submitBatchERC20(ctx, tokenAddr, recipients, amounts)
	}
	if sendErr != nil {
		bt.failBucket(bkt, eligible, sendErr)
		return
	}

	receipt, err := bt.adapter.WaitForReceipt(ctx, sentHash, 1, batchReceiptTimeout)
	if err != nil {
		bt.failBucket(bkt, eligible, chainerrors.Wrap(chainerrors.KindChainRPC, err))
		return
	}

	if receipt.Status == chain.ReceiptSuccess {
		bt.completeBucket(bkt, eligible, sentHash.Hex())
		return
	}

	reason := "reverted"
	if receipt.Status == chain.ReceiptTimeout {
		reason = "timed out"
	}
	bt.failBucket(bkt, eligible, chainerrors.Wrap(chainerrors.KindChainReverted,
		fmt.Errorf("batch settlement tx %s %s", sentHash.Hex(), reason)))
}

// ensureLiquidity checks the hot wallet can cover total, and for ERC-20
// settlements raises the batch processor's allowance if the current one
// falls short.
func (bt *Batcher) ensureLiquidity(ctx context.Context, isNative bool, tokenAddr common.Address, total *big.Int) error {
	if isNative {
		bal, err := bt.adapter.GetNativeBalance(ctx, bt.hotWlt.Address)
		if err != nil {
			return chainerrors.Wrap(chainerrors.KindChainRPC, err)
		}
		if bal.Cmp(total) < 0 {
			return chainerrors.Wrap(chainerrors.KindInsufficientHotWalletLiquidity,
				fmt.Errorf("hot wallet native balance %s < required %s", bal, total))
		}
		return nil
	}

	bal, err := bt.adapter.GetTokenBalance(ctx, tokenAddr, bt.hotWlt.Address)
	if err != nil {
		return chainerrors.Wrap(chainerrors.KindChainRPC, err)
	}
	if bal.Cmp(total) < 0 {
		return chainerrors.Wrap(chainerrors.KindInsufficientHotWalletLiquidity,
			fmt.Errorf("hot wallet %s balance %s < required %s", tokenAddr.Hex(), bal, total))
	}

	allowance, err := bt.adapter.GetTokenAllowance(ctx, tokenAddr, bt.hotWlt.Address, bt.cfg.WithdrawalProcessorAddress)
	if err != nil {
		return chainerrors.Wrap(chainerrors.KindChainRPC, err)
	}
	if allowance.Cmp(total) >= 0 {
		return nil
	}
	return bt.approve(ctx, tokenAddr, total)
}

func (bt *Batcher) approve(ctx context.Context, tokenAddr common.Address, amount *big.Int) error {
	gasPrice, err := bt.adapter.GasPrice(ctx)
	if err != nil {
		return chainerrors.Wrap(chainerrors.KindChainRPC, err)
	}

	bt.hotWlt.Lock()
	nonce, err := bt.adapter.NonceAt(ctx, bt.hotWlt.Address)
	if err != nil {
		bt.hotWlt.Unlock()
		return chainerrors.Wrap(chainerrors.KindChainRPC, err)
	}
	tx, err := evmchain.BuildApproveTx(nonce, tokenAddr, bt.cfg.WithdrawalProcessorAddress, approveGasLimitDefault, gasPrice, amount)
	if err != nil {
		bt.hotWlt.Unlock()
		return err
	}
	signed, err := bt.hotWlt.Sign(tx, bt.adapter.Signer())
	bt.hotWlt.Unlock()
	if err != nil {
		return chainerrors.Wrap(chainerrors.KindConfiguration, err)
	}

	hash, err := bt.adapter.SendSigned(ctx, signed)
	if err != nil {
		return chainerrors.Wrap(chainerrors.KindChainRPC, err)
	}

	receipt, err := bt.adapter.WaitForReceipt(ctx, hash, 1, approveReceiptTimeout)
	if err != nil {
		return chainerrors.Wrap(chainerrors.KindChainRPC, err)
	}
	if receipt.Status != chain.ReceiptSuccess {
		return chainerrors.Wrap(chainerrors.KindChainReverted, fmt.Errorf("approve tx %s did not succeed", hash.Hex()))
	}
	return nil
}

func (bt *Batcher) submitBatchNative(ctx context.Context, recipients []common.Address, amounts []*big.Int, total *big.Int) (common.Hash, error) {
	gasPrice, err := bt.adapter.GasPrice(ctx)
	if err != nil {
		return common.Hash{}, chainerrors.Wrap(chainerrors.KindChainRPC, err)
	}

	bt.hotWlt.Lock()
	defer bt.hotWlt.Unlock()

	nonce, err := bt.adapter.NonceAt(ctx, bt.hotWlt.Address)
	if err != nil {
		return common.Hash{}, chainerrors.Wrap(chainerrors.KindChainRPC, err)
	}

	to := bt.cfg.WithdrawalProcessorAddress
	provisional, err := evmchain.BuildBatchNativeTx(nonce, to, total, batchGasLimitDefault, gasPrice, recipients, amounts)
	if err != nil {
		return common.Hash{}, err
	}

	gasLimit := batchGasLimitDefault
	estimate, estErr := bt.adapter.EstimateGas(ctx, chain.CallMsg{From: bt.hotWlt.Address, To: &to, Data: provisional.Data(), Value: total, GasPrice: gasPrice})
	if estErr == nil {
		gasLimit = estimate * 120 / 100
	} else {
		btchLog.Warnf("chain %d: batch native gas estimation failed, using default limit %d: %v", bt.cfg.ChainID, batchGasLimitDefault, estErr)
	}

	final, err := evmchain.BuildBatchNativeTx(nonce, to, total, gasLimit, gasPrice, recipients, amounts)
	if err != nil {
		return common.Hash{}, err
	}
	signed, err := bt.hotWlt.Sign(final, bt.adapter.Signer())
	if err != nil {
		return common.Hash{}, chainerrors.Wrap(chainerrors.KindConfiguration, err)
	}

	hash, err := bt.adapter.SendSigned(ctx, signed)
	if err != nil {
		return common.Hash{}, chainerrors.Wrap(chainerrors.KindChainRPC, err)
	}
	return hash, nil
}

func (bt *Batcher) submitBatchERC20(ctx context.Context, tokenAddr common.Address, recipients []common.Address, amounts []*big.Int) (common.Hash, error) {
	gasPrice, err := bt.adapter.GasPrice(ctx)
	if err != nil {
		return common.Hash{}, chainerrors.Wrap(chainerrors.KindChainRPC, err)
	}

	bt.hotWlt.Lock()
	defer bt.hotWlt.Unlock()

	nonce, err := bt.adapter.NonceAt(ctx, bt.hotWlt.Address)
	if err != nil {
		return common.Hash{}, chainerrors.Wrap(chainerrors.KindChainRPC, err)
	}

	to := bt.cfg.WithdrawalProcessorAddress
	provisional, err := evmchain.BuildBatchERC20Tx(nonce, to, tokenAddr, batchGasLimitDefault, gasPrice, recipients, amounts)
	if err != nil {
		return common.Hash{}, err
	}

	gasLimit := batchGasLimitDefault
	estimate, estErr := bt.adapter.EstimateGas(ctx, chain.CallMsg{From: bt.hotWlt.Address, To: &to, Data: provisional.Data(), GasPrice: gasPrice})
	if estErr == nil {
		gasLimit = estimate * 120 / 100
	} else {
		btchLog.Warnf("chain %d: batch erc20 gas estimation failed, using default limit %d: %v", bt.cfg.ChainID, batchGasLimitDefault, estErr)
	}

	final, err := evmchain.BuildBatchERC20Tx(nonce, to, tokenAddr, gasLimit, gasPrice, recipients, amounts)
	if err != nil {
		return common.Hash{}, err
	}
	signed, err := bt.hotWlt.Sign(final, bt.adapter.Signer())
	if err != nil {
		return common.Hash{}, chainerrors.Wrap(chainerrors.KindConfiguration, err)
	}

	hash, err := bt.adapter.SendSigned(ctx, signed)
	if err != nil {
		return common.Hash{}, chainerrors.Wrap(chainerrors.KindChainRPC, err)
	}
	return hash, nil
}

// completeBucket commits every eligible withdrawal's settle and completed
// transition together with the bucket's settled flag as one store.Batch.
func (bt *Batcher) completeBucket(bkt *bucket.Bucket, eligible []*withdrawal.Withdrawal, txHash string) {
	err := bt.kv.Batch(func(b store.Batch) error {
		for _, w := range eligible {
			if err := bt.ldgr.SettleInBatch(b, w.Username, w.ChainID, w.Currency, w.Reserved); err != nil {
				return err
			}
			w.State = withdrawal.StateCompleted
			w.SettlementTxHash = txHash
			if err := bt.wds.PutInBatch(b, w); err != nil {
				return err
			}
		}
		bkt.Settled = true
		return bt.bkts.PutInBatch(b, bkt)
	})
	if err != nil {
		btchLog.Errorf("chain %d: committing bucket %s completion: %v", bt.cfg.ChainID, bkt.ID(), err)
		return
	}

	for _, w := range eligible {
		metrics.WithdrawalsSettled.WithLabelValues(bt.chainLabel, w.Currency).Inc()
		bt.bus.Publish(notify.Message{Type: notify.WithdrawalUpdate, Username: w.Username, ChainID: w.ChainID, Currency: w.Currency, Status: string(withdrawal.StateCompleted), Record: w})
	}
	metrics.BucketsSettled.WithLabelValues(bt.chainLabel, bkt.Currency, "success").Inc()
}

// failBucket commits every eligible withdrawal's unfreeze and failed
// transition together with the bucket's settled flag as one store.Batch.
func (bt *Batcher) failBucket(bkt *bucket.Bucket, eligible []*withdrawal.Withdrawal, cause error) {
	btchLog.Errorf("chain %d: bucket %s settlement failed: %v", bt.cfg.ChainID, bkt.ID(), cause)

	err := bt.kv.Batch(func(b store.Batch) error {
		for _, w := range eligible {
			if err := bt.ldgr.UnfreezeInBatch(b, w.Username, w.ChainID, w.Currency, w.Reserved); err != nil {
				return err
			}
			w.State = withdrawal.StateFailed
			if err := bt.wds.PutInBatch(b, w); err != nil {
				return err
			}
		}
		bkt.Settled = true
		return bt.bkts.PutInBatch(b, bkt)
	})
	if err != nil {
		btchLog.Errorf("chain %d: committing bucket %s failure: %v", bt.cfg.ChainID, bkt.ID(), err)
		return
	}

	reason := cause.Error()
	for _, w := range eligible {
		metrics.WithdrawalsFailed.WithLabelValues(bt.chainLabel, w.Currency, reason).Inc()
		bt.bus.Publish(notify.Message{Type: notify.WithdrawalUpdate, Username: w.Username, ChainID: w.ChainID, Currency: w.Currency, Status: string(withdrawal.StateFailed), Record: w})
	}
	metrics.BucketsSettled.WithLabelValues(bt.chainLabel, bkt.Currency, "failed").Inc()
}
