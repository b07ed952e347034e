package indexer

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/nnlgsakib/crypto-manager-engine/blockcache"
	"github.com/nnlgsakib/crypto-manager-engine/chain"
	"github.com/nnlgsakib/crypto-manager-engine/deposit"
	"github.com/nnlgsakib/crypto-manager-engine/keychain"
	"github.com/nnlgsakib/crypto-manager-engine/ledger"
	"github.com/nnlgsakib/crypto-manager-engine/money"
	"github.com/nnlgsakib/crypto-manager-engine/notify"
	"github.com/nnlgsakib/crypto-manager-engine/store/memstore"
)

const testChainID = uint64(7)

// fakeAdapter is a minimal chain.Adapter test double; only the methods the
// indexer's scan/confirm path exercises need real behavior.
type fakeAdapter struct {
	signer types.Signer
	head   uint64
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
func (f *fakeAdapter) CurrentBlockNumber(ctx context.Context) (uint64, error) { return f.head, nil }
func (f *fakeAdapter) GetNativeBalance(ctx context.Context, addr common.Address) (*big.Int, error) {
	return big.NewInt(0), nil
}
func (f *fakeAdapter) GetTokenBalance(ctx context.Context, token, addr common.Address) (*big.Int, error) {
	return big.NewInt(0), nil
}
func (f *fakeAdapter) GetTokenAllowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	return big.NewInt(0), nil
}
func (f *fakeAdapter) GasPrice(ctx context.Context) (*big.Int, error) { return big.NewInt(1), nil }
func (f *fakeAdapter) EstimateGas(ctx context.Context, call chain.CallMsg) (uint64, error) {
	return 21000, nil
}
func (f *fakeAdapter) NonceAt(ctx context.Context, addr common.Address) (uint64, error) { return 0, nil }
func (f *fakeAdapter) Signer() types.Signer                                            { return f.signer }
func (f *fakeAdapter) SendSigned(ctx context.Context, tx *types.Transaction) (common.Hash, error) {
	return tx.Hash(), nil
}
func (f *fakeAdapter) WaitForReceipt(ctx context.Context, hash common.Hash, confirmations uint64, timeout time.Duration) (*chain.Receipt, error) {
	return &chain.Receipt{Status: chain.ReceiptSuccess, TxHash: hash}, nil
}

var _ chain.Adapter = (*fakeAdapter)(nil)

func testIndexer(t *testing.T) (*Indexer, *fakeAdapter) {
	t.Helper()
	kv := memstore.New()
	adapter := &fakeAdapter{signer: types.NewEIP155Signer(big.NewInt(int64(testChainID)))}

	kr, err := keychain.New(make([]byte, 32))
	require.NoError(t, err)
	priv, err := crypto.GenerateKey()
	require.NoError(t, err)
	hotWlt, err := keychain.NewHotWallet(crypto.FromECDSA(priv))
	require.NoError(t, err)

	ix := New(Config{
		ChainID:               testChainID,
		NativeCurrency:        "ETH",
		RequiredConfirmations: 3,
		MinDeposit:            money.Amount(1),
	}, adapter, blockcache.New(time.Minute), deposit.NewStore(kv), kv, ledger.New(kv), notify.New(), kr, hotWlt)

	return ix, adapter
}

func TestAdmissibleRejectsUntrackedAddress(t *testing.T) {
	ix, _ := testIndexer(t)

	to := common.HexToAddress("0xaaaa")
	txn := &chain.Transaction{Hash: common.HexToHash("0x1"), From: common.HexToAddress("0xbbbb"), To: &to}

	_, ok := ix.admissible(txn)
	require.False(t, ok)
}

func TestAdmissibleAcceptsTrackedAddress(t *testing.T) {
	ix, _ := testIndexer(t)

	to := common.HexToAddress("0xaaaa")
	ix.RegisterActiveAddress("bob", to)

	txn := &chain.Transaction{Hash: common.HexToHash("0x1"), From: common.HexToAddress("0xbbbb"), To: &to}

	username, ok := ix.admissible(txn)
	require.True(t, ok)
	require.Equal(t, "bob", username)
}

func TestAdmissibleRejectsTransferWithCalldata(t *testing.T) {
	ix, _ := testIndexer(t)

	to := common.HexToAddress("0xaaaa")
	ix.RegisterActiveAddress("bob", to)

	txn := &chain.Transaction{Hash: common.HexToHash("0x1"), From: common.HexToAddress("0xbbbb"), To: &to, Data: []byte{0x01}}

	_, ok := ix.admissible(txn)
	require.False(t, ok)
}

func TestAdmissibleRejectsHotWalletOriginatedTransfer(t *testing.T) {
	ix, _ := testIndexer(t)

	to := common.HexToAddress("0xaaaa")
	ix.RegisterActiveAddress("bob", to)

	txn := &chain.Transaction{Hash: common.HexToHash("0x1"), From: ix.hotWlt.Address, To: &to}

	_, ok := ix.admissible(txn)
	require.False(t, ok)
}

func TestAdmissibleRejectsAlreadyQueuedTx(t *testing.T) {
	ix, _ := testIndexer(t)

	to := common.HexToAddress("0xaaaa")
	ix.RegisterActiveAddress("bob", to)

	txn := &chain.Transaction{Hash: common.HexToHash("0x1"), From: common.HexToAddress("0xbbbb"), To: &to}
	require.NoError(t, ix.admit("bob", "ETH", txn, money.Amount(100), 1))

	_, ok := ix.admissible(txn)
	require.False(t, ok)
}

func TestConfirmAdvancesStateAsConfirmationsAccrue(t *testing.T) {
	ix, _ := testIndexer(t)

	d := &deposit.Deposit{
		TxHash:                "0x1",
		RequiredConfirmations: 3,
		StartBlock:            10,
		State:                 deposit.StatePending,
	}

	require.NoError(t, ix.confirm(d, 10))
	require.Equal(t, deposit.StateConfirming, d.State)
	require.Equal(t, uint64(1), d.Confirmations)

	require.NoError(t, ix.confirm(d, 12))
	require.Equal(t, deposit.StateConfirmed, d.State)
	require.Equal(t, uint64(3), d.Confirmations)
}

func TestConfirmNoOpsBeforeStartBlock(t *testing.T) {
	ix, _ := testIndexer(t)

	d := &deposit.Deposit{TxHash: "0x1", RequiredConfirmations: 3, StartBlock: 10, State: deposit.StatePending}
	require.NoError(t, ix.confirm(d, 5))
	require.Equal(t, deposit.StatePending, d.State)
	require.Equal(t, uint64(0), d.Confirmations)
}

func TestRestoreFromStoreSeedsActiveAddressesAndPending(t *testing.T) {
	ix, _ := testIndexer(t)

	require.NoError(t, ix.deps.Put(&deposit.Deposit{TxHash: "0x1", State: deposit.StatePending}))
	require.NoError(t, ix.deps.Put(&deposit.Deposit{TxHash: "0x2", State: deposit.StateCredited}))

	addr := common.HexToAddress("0xcccc")
	err := ix.RestoreFromStore([]struct {
		Username string
		Address  common.Address
	}{{Username: "alice", Address: addr}})
	require.NoError(t, err)

	ix.mu.RLock()
	defer ix.mu.RUnlock()
	require.Equal(t, "alice", ix.activeAddresses[addr])
	_, pending := ix.pending["0x1"]
	require.True(t, pending)
	_, credited := ix.pending["0x2"]
	require.False(t, credited)
}

// slowSweepAdapter sweeps every deposit successfully, but blocks in
// WaitForReceipt for a fixed delay and records when each hash's wait
// started and finished, so a test can assert two deposits swept within the
// same wait window rather than one after another.
type slowSweepAdapter struct {
	fakeAdapter
	delay time.Duration

	mu       sync.Mutex
	started  map[string]time.Time
	finished map[string]time.Time
}

func (a *slowSweepAdapter) GetTransaction(ctx context.Context, hash common.Hash) (*chain.Transaction, error) {
	to := common.HexToAddress("0xaaaa")
	return &chain.Transaction{
		Hash:  hash,
		From:  common.HexToAddress("0xbbbb"),
		To:    &to,
		Value: big.NewInt(1_000_000_000_000_000_000),
	}, nil
}

func (a *slowSweepAdapter) WaitForReceipt(ctx context.Context, hash common.Hash, confirmations uint64, timeout time.Duration) (*chain.Receipt, error) {
	a.mu.Lock()
	a.started[hash.Hex()] = time.Now()
	a.mu.Unlock()

	select {
	case <-time.After(a.delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	a.mu.Lock()
	a.finished[hash.Hex()] = time.Now()
	a.mu.Unlock()
	return &chain.Receipt{Status: chain.ReceiptSuccess, TxHash: hash}, nil
}

func TestAdvancePendingSweepsConfirmedDepositsConcurrently(t *testing.T) {
	kv := memstore.New()
	delay := 150 * time.Millisecond
	adapter := &slowSweepAdapter{
		fakeAdapter: fakeAdapter{signer: types.NewEIP155Signer(big.NewInt(int64(testChainID))), head: 100},
		delay:       delay,
		started:     make(map[string]time.Time),
		finished:    make(map[string]time.Time),
	}

	kr, err := keychain.New(make([]byte, 32))
	require.NoError(t, err)
	priv, err := crypto.GenerateKey()
	require.NoError(t, err)
	hotWlt, err := keychain.NewHotWallet(crypto.FromECDSA(priv))
	require.NoError(t, err)

	ix := New(Config{
		ChainID:               testChainID,
		NativeCurrency:        "ETH",
		RequiredConfirmations: 3,
		MinDeposit:            money.Amount(1),
	}, adapter, blockcache.New(time.Minute), deposit.NewStore(kv), kv, ledger.New(kv), notify.New(), kr, hotWlt)

	deposits := []*deposit.Deposit{
		{TxHash: "0x1", Username: "alice", Currency: "ETH", RequiredConfirmations: 3, State: deposit.StateConfirmed, Amount: money.Amount(100)},
		{TxHash: "0x2", Username: "bob", Currency: "ETH", RequiredConfirmations: 3, State: deposit.StateConfirmed, Amount: money.Amount(100)},
	}
	for _, d := range deposits {
		require.NoError(t, ix.deps.Put(d))
		ix.mu.Lock()
		ix.pending[d.TxHash] = struct{}{}
		ix.mu.Unlock()
	}

	start := time.Now()
	ix.advancePending(context.Background())

	// advancePending must return immediately, handing both sweeps off to
	// their own goroutines, rather than blocking for the sweep duration.
	require.Less(t, time.Since(start), delay)

	require.Eventually(t, func() bool {
		adapter.mu.Lock()
		defer adapter.mu.Unlock()
		return len(adapter.finished) == 2
	}, 2*time.Second, 10*time.Millisecond)

	adapter.mu.Lock()
	defer adapter.mu.Unlock()
	require.Len(t, adapter.started, 2)
	// Both sweeps' receipt waits must overlap: the second one's wait
	// started before the first one's finished, proving they ran
	// concurrently instead of one after the other. The adapter sees the
	// sweep transactions' hashes, not the deposit hashes, so the two waits
	// are read back by whatever hashes it recorded.
	var starts, ends []time.Time
	for h, s := range adapter.started {
		starts = append(starts, s)
		ends = append(ends, adapter.finished[h])
	}
	s1, s2 := starts[0], starts[1]
	f1, f2 := ends[0], ends[1]
	require.True(t, s2.Before(f1), "second sweep's wait should start before the first sweep finishes")
	require.True(t, s1.Before(f2), "first sweep's wait should start before the second sweep finishes")
}
