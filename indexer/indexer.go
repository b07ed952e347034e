// Package indexer transforms chain events into ledger credits,
// preserving at-most-once credit semantics. One Indexer instance watches
// exactly one chain; the engine package constructs one per configured
// chain and supervises them with an errgroup, the scheduling model the
// teacher's per-peer goroutines follow (one logical owner per resource,
// cooperating over channels rather than shared locks).
package indexer

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/nnlgsakib/crypto-manager-engine/blockcache"
	"github.com/nnlgsakib/crypto-manager-engine/chain"
	"github.com/nnlgsakib/crypto-manager-engine/chain/evmchain"
	"github.com/nnlgsakib/crypto-manager-engine/chainerrors"
	"github.com/nnlgsakib/crypto-manager-engine/deposit"
	"github.com/nnlgsakib/crypto-manager-engine/keychain"
	"github.com/nnlgsakib/crypto-manager-engine/ledger"
	"github.com/nnlgsakib/crypto-manager-engine/metrics"
	"github.com/nnlgsakib/crypto-manager-engine/money"
	"github.com/nnlgsakib/crypto-manager-engine/notify"
	"github.com/nnlgsakib/crypto-manager-engine/store"
)

const (
	maxRetries           = 8
	nativeGasLimit       = uint64(21000)
	tokenGasLimitDefault = uint64(65000)
	blockRecoveryEvery   = 5 * time.Minute
	blockCacheCleanup    = 1 * time.Minute
	scanInterval         = 5 * time.Second
	confirmInterval      = 5 * time.Second
	nativeDecimals       = uint8(18)
	sweepReceiptTimeout  = 15 * time.Second
)

// TokenInfo describes one ERC-20 token tracked on this indexer's chain.
type TokenInfo struct {
	Address  common.Address
	Symbol   string
	Decimals uint8
}

// Config bundles an Indexer's per-chain parameters.
type Config struct {
	ChainID               uint64
	NativeCurrency        string
	RequiredConfirmations uint64
	MinDeposit            money.Amount
	Tokens                []TokenInfo
	BlockCacheTTL         time.Duration
}

// Indexer watches one chain, admits and advances deposits, and credits
// the ledger at most once per deposit.
type Indexer struct {
	cfg     Config
	adapter chain.Adapter
	cache   *blockcache.Cache
	deps    *deposit.Store
	kv      store.KV
	ldgr    *ledger.Ledger
	bus     *notify.Bus
	keyRing *keychain.KeyRing
	hotWlt  *keychain.HotWallet

	mu              sync.RWMutex
	activeAddresses map[common.Address]string // deposit address -> username
	pending         map[string]struct{}       // tx hash -> present
	inFlight        map[string]struct{}       // tx hash currently advancing in its own goroutine

	chainLabel string
}

// New builds an Indexer. Call RegisterActiveAddress for every existing
// account before Run to seed the active-address set, or rely on
// RestoreFromStore.
func New(cfg Config, adapter chain.Adapter, cache *blockcache.Cache, deps *deposit.Store, kv store.KV, ldgr *ledger.Ledger, bus *notify.Bus, keyRing *keychain.KeyRing, hotWlt *keychain.HotWallet) *Indexer {
	return &Indexer{
		cfg:             cfg,
		adapter:         adapter,
		cache:           cache,
		deps:            deps,
		kv:              kv,
		ldgr:            ldgr,
		bus:             bus,
		keyRing:         keyRing,
		hotWlt:          hotWlt,
		activeAddresses: make(map[common.Address]string),
		pending:         make(map[string]struct{}),
		inFlight:        make(map[string]struct{}),
		chainLabel:      fmt.Sprintf("%d", cfg.ChainID),
	}
}

// RegisterActiveAddress implements account.ActiveAddressRegistrar,
// admitting a freshly created account's address into the watch set
// without waiting for the next restore-from-store pass.
func (ix *Indexer) RegisterActiveAddress(username string, address common.Address) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.activeAddresses[address] = username
}

// RestoreFromStore rebuilds the active-address set and pending queue from
// persisted records, run once at startup before Run.
func (ix *Indexer) RestoreFromStore(accounts []struct {
	Username string
	Address  common.Address
}) error {
	ix.mu.Lock()
	for _, a := range accounts {
		ix.activeAddresses[a.Address] = a.Username
	}
	ix.mu.Unlock()

	pending, err := ix.deps.ListPending()
	if err != nil {
		return fmt.Errorf("indexer: restoring pending deposits: %w", err)
	}
	ix.mu.Lock()
	for _, d := range pending {
		ix.pending[d.TxHash] = struct{}{}
	}
	ix.mu.Unlock()
	metrics.PendingDeposits.WithLabelValues(ix.chainLabel).Set(float64(len(pending)))
	return nil
}

// Run drives every background task for this chain until ctx is
// cancelled or an unrecoverable task error occurs.
func (ix *Indexer) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return ix.runIngest(ctx) })
	g.Go(func() error { return ix.runScanAndAdvance(ctx) })
	g.Go(func() error { return ix.runBlockRecovery(ctx) })
	g.Go(func() error { return ix.runBlockCacheCleanup(ctx) })

	for _, tok := range ix.cfg.Tokens {
		tok := tok
		g.Go(func() error { return ix.runTokenTransfers(ctx, tok) })
	}

	return g.Wait()
}

// runIngest consumes the adapter's block-header stream, fetches each
// block's full transaction list, caches it, and records the resume
// point.
func (ix *Indexer) runIngest(ctx context.Context) error {
	headers, err := ix.adapter.SubscribeBlocks(ctx)
	if err != nil {
		return fmt.Errorf("indexer: subscribing blocks: %w", err)
	}

	for {
		select {
		case h, ok := <-headers:
			if !ok {
				return nil
			}
			if err := ix.ingestBlock(ctx, h.Number.Uint64()); err != nil {
				idxrLog.Errorf("chain %d: ingest block %d failed: %v", ix.cfg.ChainID, h.Number.Uint64(), err)
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func (ix *Indexer) ingestBlock(ctx context.Context, number uint64) error {
	if _, ok := ix.cache.Get(ix.cfg.ChainID, number); ok {
		return nil
	}
	blk, err := ix.adapter.GetBlockWithTxs(ctx, number)
	if err != nil {
		return err
	}
	ix.cache.Put(ix.cfg.ChainID, blk)
	return ix.kv.Put(store.LastProcessedBlockKey(ix.cfg.ChainID), []byte(fmt.Sprintf("%d", number)))
}

// runScanAndAdvance is the combined scan/confirm/sweep/credit loop for
// native-currency deposits, and also advances token deposits admitted by
// runTokenTransfers through confirm/sweep/credit.
func (ix *Indexer) runScanAndAdvance(ctx context.Context) error {
	ticker := time.NewTicker(scanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ix.scanCachedBlocks(ctx)
			ix.advancePending(ctx)
		case <-ctx.Done():
			return nil
		}
	}
}

// scanCachedBlocks examines blocks deep enough to be scanned for
// admissible native deposits.
func (ix *Indexer) scanCachedBlocks(ctx context.Context) {
	head, err := ix.adapter.CurrentBlockNumber(ctx)
	if err != nil {
		idxrLog.Errorf("chain %d: CurrentBlockNumber failed: %v", ix.cfg.ChainID, err)
		return
	}
	if head < ix.cfg.RequiredConfirmations {
		return
	}
	scannable := head - ix.cfg.RequiredConfirmations

	// Only the most recently ingested handful of blocks are worth a
	// cache lookup per tick; block recovery handles the deep backlog.
	for n := scannable; n > 0 && n+20 > scannable; n-- {
		blk, ok := ix.cache.Get(ix.cfg.ChainID, n)
		if !ok {
			continue
		}
		for _, tx := range blk.Txs {
			ix.maybeAdmitNative(ctx, n, tx.Hash())
		}
	}
}

// maybeAdmitNative re-fetches a transaction in its normalized
// chain.Transaction shape (sender recovered, value/data available) and
// applies the native-deposit admission predicate to it.
func (ix *Indexer) maybeAdmitNative(ctx context.Context, startBlock uint64, hash common.Hash) {
	txn, err := ix.adapter.GetTransaction(ctx, hash)
	if err != nil || txn == nil {
		return
	}

	username, ok := ix.admissible(txn)
	if !ok {
		return
	}

	amount, err := money.FromOnChainUnits(txn.Value, nativeDecimals)
	if err != nil {
		idxrLog.Errorf("chain %d: converting native amount for %s: %v", ix.cfg.ChainID, hash.Hex(), err)
		return
	}
	if amount.Cmp(ix.cfg.MinDeposit) < 0 {
		return // below minimum: no Deposit record, no notification
	}

	if err := ix.admit(username, ix.cfg.NativeCurrency, txn, amount, startBlock); err != nil {
		idxrLog.Errorf("chain %d: admitting native deposit %s: %v", ix.cfg.ChainID, hash.Hex(), err)
	}
}

// admissible implements the native-deposit admission predicate from the
// scan step: every condition must hold for txn to become a Deposit.
func (ix *Indexer) admissible(txn *chain.Transaction) (username string, ok bool) {
	if txn.To == nil {
		return "", false
	}
	ix.mu.RLock()
	uname, tracked := ix.activeAddresses[*txn.To]
	_, alreadyQueued := ix.pending[txn.Hash.Hex()]
	ix.mu.RUnlock()

	if !tracked || alreadyQueued {
		return "", false
	}
	if ix.hotWlt != nil && strings.EqualFold(txn.From.Hex(), ix.hotWlt.Address.Hex()) {
		return "", false
	}
	if len(txn.Data) != 0 {
		return "", false // calldata present: not a plain native transfer
	}
	isGasFunding, err := ix.deps.IsGasFunding(txn.Hash.Hex())
	if err == nil && isGasFunding {
		return "", false
	}
	if _, err := ix.deps.Get(txn.Hash.Hex()); err == nil {
		return "", false // already processed, terminal or not
	}
	return uname, true
}

// admit creates a pending Deposit record for an admitted transaction.
func (ix *Indexer) admit(username, currency string, txn *chain.Transaction, amount money.Amount, startBlock uint64) error {
	d := &deposit.Deposit{
		TxHash:                txn.Hash.Hex(),
		Username:              username,
		ChainID:               ix.cfg.ChainID,
		Currency:              currency,
		Amount:                amount,
		SenderAddress:         txn.From.Hex(),
		RecipientAddress:      txn.To.Hex(),
		RequiredConfirmations: ix.cfg.RequiredConfirmations,
		StartBlock:            startBlock,
		State:                 deposit.StatePending,
		CreatedAt:             time.Now().UTC(),
	}
	if err := ix.deps.Put(d); err != nil {
		return err
	}
	if err := ix.deps.SetStartBlock(d.TxHash, startBlock); err != nil {
		return err
	}

	ix.mu.Lock()
	ix.pending[d.TxHash] = struct{}{}
	ix.mu.Unlock()

	metrics.PendingDeposits.WithLabelValues(ix.chainLabel).Inc()
	metrics.DepositsObserved.WithLabelValues(ix.chainLabel, currency).Inc()
	ix.bus.Publish(notify.Message{Type: notify.DepositUpdate, Username: username, ChainID: ix.cfg.ChainID, Currency: currency, Status: string(deposit.StatePending), Record: d})
	return nil
}

// advancePending drives every queued deposit through confirm, sweep and
// credit, respecting each deposit's retry backoff. Each pending hash not
// already advancing gets its own goroutine, so one deposit's sweep receipt
// wait or retry backoff never stalls confirmation of another deposit, or of
// the next scan tick's admission of new ones.
func (ix *Indexer) advancePending(ctx context.Context) {
	ix.mu.Lock()
	hashes := make([]string, 0, len(ix.pending))
	for h := range ix.pending {
		if _, busy := ix.inFlight[h]; busy {
			continue
		}
		ix.inFlight[h] = struct{}{}
		hashes = append(hashes, h)
	}
	ix.mu.Unlock()

	if len(hashes) == 0 {
		return
	}

	head, err := ix.adapter.CurrentBlockNumber(ctx)
	if err != nil {
		idxrLog.Errorf("chain %d: CurrentBlockNumber failed during advance: %v", ix.cfg.ChainID, err)
		ix.mu.Lock()
		for _, h := range hashes {
			delete(ix.inFlight, h)
		}
		ix.mu.Unlock()
		return
	}

	for _, h := range hashes {
		h := h
		go ix.advanceOneHash(ctx, h, head)
	}
}

// advanceOneHash runs advanceOne (and, on failure, handleAdvanceError's
// backoff sleep) for a single deposit outside of the scan/advance ticker's
// goroutine, releasing the hash from inFlight once done so the next tick
// can pick it back up.
func (ix *Indexer) advanceOneHash(ctx context.Context, hash string, head uint64) {
	defer func() {
		ix.mu.Lock()
		delete(ix.inFlight, hash)
		ix.mu.Unlock()
	}()

	d, err := ix.deps.Get(hash)
	if err != nil {
		return
	}
	if err := ix.advanceOne(ctx, d, head); err != nil {
		ix.handleAdvanceError(d, err)
	}
}

func (ix *Indexer) advanceOne(ctx context.Context, d *deposit.Deposit, head uint64) error {
	switch d.State {
	case deposit.StatePending, deposit.StateConfirming:
		return ix.confirm(d, head)
	case deposit.StateConfirmed:
		return ix.sweepAndCredit(ctx, d)
	}
	return nil
}

func (ix *Indexer) confirm(d *deposit.Deposit, head uint64) error {
	if head < d.StartBlock {
		return nil
	}
	confirmations := head - d.StartBlock + 1
	if confirmations > d.RequiredConfirmations {
		confirmations = d.RequiredConfirmations
	}
	d.Confirmations = confirmations

	if confirmations >= d.RequiredConfirmations {
		d.State = deposit.StateConfirmed
	} else {
		d.State = deposit.StateConfirming
	}
	return ix.deps.Put(d)
}

// sweepAndCredit performs step 5/6 of the pipeline: sweep to the hot
// wallet, then credit the ledger and flip to credited as one committed
// transition, preserving the at-most-once guarantee.
func (ix *Indexer) sweepAndCredit(ctx context.Context, d *deposit.Deposit) error {
	if d.Currency == ix.cfg.NativeCurrency {
		if err := ix.sweepNative(ctx, d); err != nil {
			return err
		}
	} else {
		if err := ix.sweepToken(ctx, d); err != nil {
			return err
		}
	}
	return ix.commitCredit(d)
}

func (ix *Indexer) tokenInfo(currency string) (TokenInfo, bool) {
	for _, t := range ix.cfg.Tokens {
		if t.Symbol == currency {
			return t, true
		}
	}
	return TokenInfo{}, false
}

// sweepNative sends (value - gasCost) from the user's address to the hot
// wallet at a flat 21000 gas limit, per the native sweep rule.
func (ix *Indexer) sweepNative(ctx context.Context, d *deposit.Deposit) error {
	txHash := common.HexToHash(d.TxHash)
	txn, err := ix.adapter.GetTransaction(ctx, txHash)
	if err != nil {
		return chainerrors.Wrap(chainerrors.KindChainRPC, err)
	}
	if txn == nil {
		return chainerrors.Wrap(chainerrors.KindChainRPC, fmt.Errorf("deposit tx %s no longer visible", d.TxHash))
	}

	gasPrice, err := ix.adapter.GasPrice(ctx)
	if err != nil {
		return chainerrors.Wrap(chainerrors.KindChainRPC, err)
	}
	gasCost := new(big.Int).Mul(gasPrice, big.NewInt(int64(nativeGasLimit)))
	netValue := new(big.Int).Sub(txn.Value, gasCost)
	if netValue.Sign() <= 0 {
		return chainerrors.Wrap(chainerrors.KindInsufficientAfterGas,
			fmt.Errorf("deposit %s: value %s does not cover gas cost %s", d.TxHash, txn.Value, gasCost))
	}

	userAddr, err := ix.keyRing.DeriveAddress(d.Username)
	if err != nil {
		return chainerrors.Wrap(chainerrors.KindConfiguration, err)
	}
	nonce, err := ix.adapter.NonceAt(ctx, userAddr)
	if err != nil {
		return chainerrors.Wrap(chainerrors.KindChainRPC, err)
	}

	tx := evmchain.BuildTransferTx(nonce, ix.hotWlt.Address, netValue, nativeGasLimit, gasPrice)
	signed, err := ix.keyRing.SignTx(d.Username, tx, ix.adapter.Signer())
	if err != nil {
		return chainerrors.Wrap(chainerrors.KindConfiguration, err)
	}

	sentHash, err := ix.adapter.SendSigned(ctx, signed)
	if err != nil {
		return chainerrors.Wrap(chainerrors.KindChainRPC, err)
	}

	return ix.awaitSweepReceipt(ctx, sentHash)
}

// sweepToken funds the user's address with gas, records the top-up hash
// so it is never re-admitted as a native deposit, then has the user's
// key invoke transfer(hot_wallet, amount) with a 20% gas-limit buffer.
func (ix *Indexer) sweepToken(ctx context.Context, d *deposit.Deposit) error {
	tok, ok := ix.tokenInfo(d.Currency)
	if !ok {
		return chainerrors.Wrap(chainerrors.KindConfiguration, fmt.Errorf("no token configured for currency %s", d.Currency))
	}

	userAddr, err := ix.keyRing.DeriveAddress(d.Username)
	if err != nil {
		return chainerrors.Wrap(chainerrors.KindConfiguration, err)
	}
	gasPrice, err := ix.adapter.GasPrice(ctx)
	if err != nil {
		return chainerrors.Wrap(chainerrors.KindChainRPC, err)
	}

	gasTopUp := new(big.Int).Mul(gasPrice, big.NewInt(int64(tokenGasLimitDefault)))

	ix.hotWlt.Lock()
	hwNonce, err := ix.adapter.NonceAt(ctx, ix.hotWlt.Address)
	if err != nil {
		ix.hotWlt.Unlock()
		return chainerrors.Wrap(chainerrors.KindChainRPC, err)
	}
	topUpTx := evmchain.BuildTransferTx(hwNonce, userAddr, gasTopUp, nativeGasLimit, gasPrice)
	signedTopUp, err := ix.hotWlt.Sign(topUpTx, ix.adapter.Signer())
	ix.hotWlt.Unlock()
	if err != nil {
		return chainerrors.Wrap(chainerrors.KindConfiguration, err)
	}

	topUpHash, err := ix.adapter.SendSigned(ctx, signedTopUp)
	if err != nil {
		return chainerrors.Wrap(chainerrors.KindChainRPC, err)
	}
	if err := ix.deps.MarkGasFunding(topUpHash.Hex(), d.TxHash); err != nil {
		return fmt.Errorf("indexer: recording gas funding: %w", err)
	}
	if _, err := ix.adapter.WaitForReceipt(ctx, topUpHash, 1, sweepReceiptTimeout); err != nil {
		return chainerrors.Wrap(chainerrors.KindChainRPC, err)
	}

	rawAmount := d.Amount.ToOnChainUnits(tok.Decimals)
	userNonce, err := ix.adapter.NonceAt(ctx, userAddr)
	if err != nil {
		return chainerrors.Wrap(chainerrors.KindChainRPC, err)
	}

	provisional, err := evmchain.BuildERC20TransferTx(userNonce, tok.Address, tokenGasLimitDefault, gasPrice, ix.hotWlt.Address, rawAmount)
	if err != nil {
		return err
	}
	estimate, err := ix.adapter.EstimateGas(ctx, chain.CallMsg{From: userAddr, To: &tok.Address, Data: provisional.Data(), GasPrice: gasPrice})
	if err != nil {
		return chainerrors.Wrap(chainerrors.KindChainRPC, err)
	}
	bufferedGas := estimate * 120 / 100

	finalTx, err := evmchain.BuildERC20TransferTx(userNonce, tok.Address, bufferedGas, gasPrice, ix.hotWlt.Address, rawAmount)
	if err != nil {
		return err
	}
	signed, err := ix.keyRing.SignTx(d.Username, finalTx, ix.adapter.Signer())
	if err != nil {
		return chainerrors.Wrap(chainerrors.KindConfiguration, err)
	}

	sentHash, err := ix.adapter.SendSigned(ctx, signed)
	if err != nil {
		return chainerrors.Wrap(chainerrors.KindChainRPC, err)
	}
	return ix.awaitSweepReceipt(ctx, sentHash)
}

func (ix *Indexer) awaitSweepReceipt(ctx context.Context, hash common.Hash) error {
	receipt, err := ix.adapter.WaitForReceipt(ctx, hash, 1, sweepReceiptTimeout)
	if err != nil {
		return chainerrors.Wrap(chainerrors.KindChainRPC, err)
	}
	switch receipt.Status {
	case chain.ReceiptSuccess:
		return nil
	case chain.ReceiptReverted:
		return chainerrors.Wrap(chainerrors.KindChainReverted, fmt.Errorf("sweep tx %s reverted", hash.Hex()))
	default:
		return chainerrors.Wrap(chainerrors.KindChainRPC, fmt.Errorf("sweep tx %s receipt timed out", hash.Hex()))
	}
}

// commitCredit performs the exactly-once ledger credit + terminal state
// transition as a single store.Batch, per the "credit and the state
// transition commit as one logical operation" requirement.
func (ix *Indexer) commitCredit(d *deposit.Deposit) error {
	err := ix.kv.Batch(func(b store.Batch) error {
		if err := ix.ldgr.CreditInBatch(b, d.Username, ix.cfg.ChainID, d.Currency, d.Amount); err != nil {
			return err
		}
		d.State = deposit.StateCredited
		return ix.deps.PutInBatch(b, d)
	})
	if err != nil {
		return err
	}
	ix.cleanup(d)
	metrics.DepositsCredited.WithLabelValues(ix.chainLabel, d.Currency).Inc()
	ix.bus.Publish(notify.Message{Type: notify.DepositUpdate, Username: d.Username, ChainID: ix.cfg.ChainID, Currency: d.Currency, Status: string(deposit.StateCredited), Record: d})
	return nil
}

func (ix *Indexer) handleAdvanceError(d *deposit.Deposit, err error) {
	if chainerrors.Is(err, chainerrors.KindInsufficientAfterGas) || chainerrors.Is(err, chainerrors.KindInsufficientBalance) {
		ix.fail(d, err)
		return
	}

	d.RetryCount++
	if d.RetryCount > maxRetries {
		ix.fail(d, err)
		return
	}

	idxrLog.Warnf("chain %d: deposit %s retry %d/%d: %v", ix.cfg.ChainID, d.TxHash, d.RetryCount, maxRetries, err)
	if err := ix.deps.Put(d); err != nil {
		idxrLog.Errorf("chain %d: persisting retry count for %s: %v", ix.cfg.ChainID, d.TxHash, err)
	}
	time.Sleep(3 * time.Second * time.Duration(d.RetryCount))
}

func (ix *Indexer) fail(d *deposit.Deposit, cause error) {
	idxrLog.Errorf("chain %d: deposit %s terminally failed: %v", ix.cfg.ChainID, d.TxHash, cause)
	d.State = deposit.StateFailed
	if err := ix.deps.Put(d); err != nil {
		idxrLog.Errorf("chain %d: persisting failed state for %s: %v", ix.cfg.ChainID, d.TxHash, err)
	}
	ix.cleanup(d)
	metrics.DepositsFailed.WithLabelValues(ix.chainLabel, d.Currency, cause.Error()).Inc()
	ix.bus.Publish(notify.Message{Type: notify.DepositUpdate, Username: d.Username, ChainID: ix.cfg.ChainID, Currency: d.Currency, Status: string(deposit.StateFailed), Record: d})
}

// cleanup removes a terminal deposit from the pending queue and its
// start-block bookkeeping, per step 7.
func (ix *Indexer) cleanup(d *deposit.Deposit) {
	ix.mu.Lock()
	delete(ix.pending, d.TxHash)
	ix.mu.Unlock()
	if err := ix.deps.DeleteStartBlock(d.TxHash); err != nil {
		idxrLog.Errorf("chain %d: deleting start block for %s: %v", ix.cfg.ChainID, d.TxHash, err)
	}
	metrics.PendingDeposits.WithLabelValues(ix.chainLabel).Dec()
}

// runTokenTransfers admits ERC-20 Transfer events as token deposits,
// bypassing calldata scanning entirely per the token discovery rule.
func (ix *Indexer) runTokenTransfers(ctx context.Context, tok TokenInfo) error {
	events, err := ix.adapter.SubscribeERC20Transfers(ctx, tok.Address)
	if err != nil {
		return fmt.Errorf("indexer: subscribing %s transfers: %w", tok.Symbol, err)
	}

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			ix.maybeAdmitToken(ctx, tok, ev)
		case <-ctx.Done():
			return nil
		}
	}
}

func (ix *Indexer) maybeAdmitToken(ctx context.Context, tok TokenInfo, ev chain.TransferEvent) {
	ix.mu.RLock()
	username, tracked := ix.activeAddresses[ev.To]
	_, alreadyQueued := ix.pending[ev.TxHash.Hex()]
	ix.mu.RUnlock()

	if !tracked || alreadyQueued {
		return
	}
	if ix.hotWlt != nil && strings.EqualFold(ev.From.Hex(), ix.hotWlt.Address.Hex()) {
		return
	}
	if isGasFunding, err := ix.deps.IsGasFunding(ev.TxHash.Hex()); err == nil && isGasFunding {
		return
	}
	if _, err := ix.deps.Get(ev.TxHash.Hex()); err == nil {
		return
	}

	amount, err := money.FromOnChainUnits(ev.Value, tok.Decimals)
	if err != nil {
		idxrLog.Errorf("chain %d: converting token amount for %s: %v", ix.cfg.ChainID, ev.TxHash.Hex(), err)
		return
	}
	if amount.Cmp(ix.cfg.MinDeposit) < 0 {
		return // below minimum: no Deposit record, no notification
	}

	txn := &chain.Transaction{Hash: ev.TxHash, From: ev.From, To: &ev.To}
	if err := ix.admit(username, tok.Symbol, txn, amount, ev.BlockNumber); err != nil {
		idxrLog.Errorf("chain %d: admitting token deposit %s: %v", ix.cfg.ChainID, ev.TxHash.Hex(), err)
	}
}

// runBlockRecovery replays ingest for any block in the lookback window
// lacking a BlockCache entry, catching blocks missed during reconnects.
func (ix *Indexer) runBlockRecovery(ctx context.Context) error {
	ticker := time.NewTicker(blockRecoveryEvery)
	defer ticker.Stop()

	const lookback = 200

	for {
		select {
		case <-ticker.C:
			raw, err := ix.kv.Get(store.LastProcessedBlockKey(ix.cfg.ChainID))
			if err != nil && err != store.ErrNotFound {
				idxrLog.Errorf("chain %d: block recovery: reading last processed block: %v", ix.cfg.ChainID, err)
				continue
			}
			var last uint64
			if err == nil {
				fmt.Sscanf(string(raw), "%d", &last)
			}

			head, err := ix.adapter.CurrentBlockNumber(ctx)
			if err != nil {
				idxrLog.Errorf("chain %d: block recovery: CurrentBlockNumber failed: %v", ix.cfg.ChainID, err)
				continue
			}

			start := uint64(0)
			if last > lookback {
				start = last - lookback
			}
			for n := start; n <= head; n++ {
				if _, ok := ix.cache.Get(ix.cfg.ChainID, n); ok {
					continue
				}
				if err := ix.ingestBlock(ctx, n); err != nil {
					idxrLog.Errorf("chain %d: block recovery: ingest %d failed: %v", ix.cfg.ChainID, n, err)
				}
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// runBlockCacheCleanup periodically evicts expired BlockCache entries.
func (ix *Indexer) runBlockCacheCleanup(ctx context.Context) error {
	ticker := time.NewTicker(blockCacheCleanup)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			evicted := ix.cache.Cleanup()
			if evicted > 0 {
				idxrLog.Debugf("chain %d: block cache cleanup evicted %d entries", ix.cfg.ChainID, evicted)
			}
		case <-ctx.Done():
			return nil
		}
	}
}
