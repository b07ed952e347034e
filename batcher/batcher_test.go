package batcher_test

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/nnlgsakib/crypto-manager-engine/batcher"
	"github.com/nnlgsakib/crypto-manager-engine/bucket"
	"github.com/nnlgsakib/crypto-manager-engine/chain"
	"github.com/nnlgsakib/crypto-manager-engine/chainerrors"
	"github.com/nnlgsakib/crypto-manager-engine/keychain"
	"github.com/nnlgsakib/crypto-manager-engine/ledger"
	"github.com/nnlgsakib/crypto-manager-engine/money"
	"github.com/nnlgsakib/crypto-manager-engine/notify"
	"github.com/nnlgsakib/crypto-manager-engine/store/memstore"
	"github.com/nnlgsakib/crypto-manager-engine/withdrawal"
)

const testChainID = uint64(1337)

// fakeAdapter is a chain.Adapter test double whose balances, gas quote and
// receipt outcome are set directly by each test, standing in for a live
// node the way the teacher's wallet tests stand in for a real backend.
type fakeAdapter struct {
	signer types.Signer

	nativeBal *big.Int
	tokenBal  *big.Int
	allowance *big.Int

	receiptStatus chain.ReceiptStatus
	sentTxs       []*types.Transaction
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{
		signer:        types.NewEIP155Signer(big.NewInt(int64(testChainID))),
		nativeBal:     big.NewInt(0),
		tokenBal:      big.NewInt(0),
		allowance:     big.NewInt(0),
		receiptStatus: chain.ReceiptSuccess,
	}
}

func (f *fakeAdapter) ChainID() uint64 { return testChainID }

func (f *fakeAdapter) SubscribeBlocks(ctx context.Context) (<-chan chain.BlockHeader, error) {
	return make(chan chain.BlockHeader), nil
}

func (f *fakeAdapter) SubscribeERC20Transfers(ctx context.Context, token common.Address) (<-chan chain.TransferEvent, error) {
	return make(chan chain.TransferEvent), nil
}

func (f *fakeAdapter) GetBlockWithTxs(ctx context.Context, number uint64) (*chain.Block, error) {
	return nil, nil
}

func (f *fakeAdapter) GetTransaction(ctx context.Context, hash common.Hash) (*chain.Transaction, error) {
	return nil, nil
}

func (f *fakeAdapter) CurrentBlockNumber(ctx context.Context) (uint64, error) { return 0, nil }

func (f *fakeAdapter) GetNativeBalance(ctx context.Context, addr common.Address) (*big.Int, error) {
	return f.nativeBal, nil
}

func (f *fakeAdapter) GetTokenBalance(ctx context.Context, token, addr common.Address) (*big.Int, error) {
	return f.tokenBal, nil
}

func (f *fakeAdapter) GetTokenAllowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	return f.allowance, nil
}

func (f *fakeAdapter) GasPrice(ctx context.Context) (*big.Int, error) { return big.NewInt(1), nil }

func (f *fakeAdapter) EstimateGas(ctx context.Context, call chain.CallMsg) (uint64, error) {
	return 100000, nil
}

func (f *fakeAdapter) NonceAt(ctx context.Context, addr common.Address) (uint64, error) {
	return uint64(len(f.sentTxs)), nil
}

func (f *fakeAdapter) Signer() types.Signer { return f.signer }

func (f *fakeAdapter) SendSigned(ctx context.Context, tx *types.Transaction) (common.Hash, error) {
	f.sentTxs = append(f.sentTxs, tx)
	return tx.Hash(), nil
}

func (f *fakeAdapter) WaitForReceipt(ctx context.Context, hash common.Hash, confirmations uint64, timeout time.Duration) (*chain.Receipt, error) {
	return &chain.Receipt{Status: f.receiptStatus, TxHash: hash, BlockNumber: 1}, nil
}

var _ chain.Adapter = (*fakeAdapter)(nil)

func testHotWallet(t *testing.T) *keychain.HotWallet {
	t.Helper()
	priv, err := crypto.GenerateKey()
	require.NoError(t, err)
	w, err := keychain.NewHotWallet(crypto.FromECDSA(priv))
	require.NoError(t, err)
	return w
}

func amt(t *testing.T, s string) money.Amount {
	t.Helper()
	a, err := money.Parse(s)
	require.NoError(t, err)
	return a
}

// testEnv wires a Batcher against an in-memory store and a fake adapter,
// with a short settlement window so tests observe settlement without
// waiting out a production-sized bucket.
func testEnv(t *testing.T, windowMs int64) (*batcher.Batcher, *fakeAdapter, *ledger.Ledger, *withdrawal.Store) {
	t.Helper()
	kv := memstore.New()
	ldgr := ledger.New(kv)
	wds := withdrawal.NewStore(kv)
	bkts := bucket.NewStore(kv)
	bus := notify.New()
	adapter := newFakeAdapter()
	hotWlt := testHotWallet(t)

	cfg := batcher.Config{
		ChainID:                    testChainID,
		NativeCurrency:             "ETH",
		NativeLimits:               batcher.CurrencyLimits{MinWithdrawal: amt(t, "1.00"), MaxWithdrawal: amt(t, "1000.00"), Fee: amt(t, "0.50")},
		WithdrawalProcessorAddress: common.HexToAddress("0xB00000000000000000000000000000000000001"),
		WindowMs:                   windowMs,
	}
	bt := batcher.New(cfg, adapter, kv, wds, bkts, ldgr, bus, hotWlt)
	return bt, adapter, ldgr, wds
}

func runInBackground(t *testing.T, bt *batcher.Batcher) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = bt.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	time.Sleep(10 * time.Millisecond) // let Run reach its accept-requests state
	return cancel
}

func TestRequestWithdrawalFreezesAndBuckets(t *testing.T) {
	bt, _, ldgr, wds := testEnv(t, time.Hour.Milliseconds())
	runInBackground(t, bt)

	require.NoError(t, ldgr.Credit("alice", testChainID, "ETH", amt(t, "10.00")))

	w, err := bt.RequestWithdrawal("alice", "ETH", amt(t, "3.00"), common.HexToAddress("0xAAA0000000000000000000000000000000000A"))
	require.NoError(t, err)
	require.Equal(t, withdrawal.StateAddedToBucket, w.State)
	require.Equal(t, "3.50", w.Reserved.String())

	bal, err := ldgr.Get("alice", testChainID, "ETH")
	require.NoError(t, err)
	require.Equal(t, "6.50", bal.Available.String())
	require.Equal(t, "3.50", bal.Frozen.String())

	stored, err := wds.Get(w.ID)
	require.NoError(t, err)
	require.Equal(t, withdrawal.StateAddedToBucket, stored.State)
	require.NotEmpty(t, stored.BucketID)
}

func TestRequestWithdrawalRejectsOutOfRangeAmount(t *testing.T) {
	bt, _, ldgr, _ := testEnv(t, time.Hour.Milliseconds())
	runInBackground(t, bt)

	require.NoError(t, ldgr.Credit("alice", testChainID, "ETH", amt(t, "100.00")))

	_, err := bt.RequestWithdrawal("alice", "ETH", amt(t, "0.10"), common.Address{})
	require.Error(t, err)
	require.True(t, chainerrors.Is(err, chainerrors.KindValidation))
}

func TestRequestWithdrawalRejectsInsufficientAvailable(t *testing.T) {
	bt, _, _, _ := testEnv(t, time.Hour.Milliseconds())
	runInBackground(t, bt)

	_, err := bt.RequestWithdrawal("alice", "ETH", amt(t, "5.00"), common.Address{})
	require.Error(t, err)
	require.True(t, chainerrors.Is(err, chainerrors.KindInsufficientAvailable))
}

func TestSettlementCompletesAndSettlesLedgerOnSuccess(t *testing.T) {
	bt, adapter, ldgr, wds := testEnv(t, 20)
	adapter.nativeBal = new(big.Int).Mul(big.NewInt(100), big.NewInt(1e18))
	runInBackground(t, bt)

	require.NoError(t, ldgr.Credit("alice", testChainID, "ETH", amt(t, "10.00")))
	w, err := bt.RequestWithdrawal("alice", "ETH", amt(t, "3.00"), common.HexToAddress("0xAAA0000000000000000000000000000000000A"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, err := wds.Get(w.ID)
		return err == nil && got.State == withdrawal.StateCompleted
	}, 2*time.Second, 10*time.Millisecond)

	got, err := wds.Get(w.ID)
	require.NoError(t, err)
	require.NotEmpty(t, got.SettlementTxHash)

	bal, err := ldgr.Get("alice", testChainID, "ETH")
	require.NoError(t, err)
	require.Equal(t, "6.50", bal.Available.String())
	require.Equal(t, "0.00", bal.Frozen.String())
}

func TestSettlementFailsAndUnfreezesOnInsufficientLiquidity(t *testing.T) {
	bt, adapter, ldgr, wds := testEnv(t, 20)
	adapter.nativeBal = big.NewInt(0)
	runInBackground(t, bt)

	require.NoError(t, ldgr.Credit("alice", testChainID, "ETH", amt(t, "10.00")))
	w, err := bt.RequestWithdrawal("alice", "ETH", amt(t, "3.00"), common.HexToAddress("0xAAA0000000000000000000000000000000000A"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, err := wds.Get(w.ID)
		return err == nil && got.State == withdrawal.StateFailed
	}, 2*time.Second, 10*time.Millisecond)

	bal, err := ldgr.Get("alice", testChainID, "ETH")
	require.NoError(t, err)
	require.Equal(t, "10.00", bal.Available.String())
	require.Equal(t, "0.00", bal.Frozen.String())
}

func TestStartupRecoveryScanSettlesExpiredBucket(t *testing.T) {
	kv := memstore.New()
	ldgr := ledger.New(kv)
	wds := withdrawal.NewStore(kv)
	bkts := bucket.NewStore(kv)
	bus := notify.New()
	adapter := newFakeAdapter()
	adapter.nativeBal = new(big.Int).Mul(big.NewInt(100), big.NewInt(1e18))
	hotWlt := testHotWallet(t)

	cfg := batcher.Config{
		ChainID:                    testChainID,
		NativeCurrency:             "ETH",
		NativeLimits:               batcher.CurrencyLimits{MinWithdrawal: amt(t, "1.00"), MaxWithdrawal: amt(t, "1000.00"), Fee: amt(t, "0.50")},
		WithdrawalProcessorAddress: common.HexToAddress("0xB00000000000000000000000000000000000001"),
		WindowMs:                   time.Hour.Milliseconds(),
	}

	require.NoError(t, ldgr.Credit("alice", testChainID, "ETH", amt(t, "10.00")))
	require.NoError(t, ldgr.Freeze("alice", testChainID, "ETH", amt(t, "3.50")))

	w := &withdrawal.Withdrawal{
		ID: withdrawal.NewID(), Username: "alice", ChainID: testChainID, Currency: "ETH",
		Amount: amt(t, "3.00"), Fee: amt(t, "0.50"), Reserved: amt(t, "3.50"),
		DestinationAddress: common.HexToAddress("0xAAA0000000000000000000000000000000000A").Hex(),
		State:              withdrawal.StateAddedToBucket,
		CreatedAt:           time.Now().UTC(),
	}
	require.NoError(t, wds.Put(w))

	now := time.Now().UTC()
	bkt := &bucket.Bucket{
		ChainID: testChainID, Currency: "ETH", WindowIndex: bucket.WindowIndex(now, cfg.WindowMs),
		WithdrawalIDs: []string{w.ID}, CreatedAt: now.Add(-2 * time.Hour), ExpiresAt: now.Add(-time.Hour),
	}
	require.NoError(t, bkts.Put(bkt))

	bt := batcher.New(cfg, adapter, kv, wds, bkts, ldgr, bus, hotWlt)
	runInBackground(t, bt)

	require.Eventually(t, func() bool {
		got, err := wds.Get(w.ID)
		return err == nil && got.State == withdrawal.StateCompleted
	}, 2*time.Second, 10*time.Millisecond)
}
