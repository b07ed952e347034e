// Package evmchain is the concrete chain.Adapter implementation for any
// EVM-compatible chain, backed by go-ethereum's ethclient/rpc packages.
// It owns one push (websocket) transport per chain with transparent
// reconnect-then-poll fallback, grounded on the teacher's
// lnwallet/dcrwallet/spvsync.go reconnection shape, and one pull (HTTP)
// client used for every request/response RPC call.
package evmchain

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"golang.org/x/time/rate"

	chainpkg "github.com/nnlgsakib/crypto-manager-engine/chain"
	"github.com/nnlgsakib/crypto-manager-engine/chainerrors"
)

// Config describes the two transport endpoints and pacing parameters for
// one chain's adapter.
type Config struct {
	ChainID          uint64
	WSEndpoint       string // push transport; may be empty to force polling
	HTTPEndpoint     string // pull transport, always required
	PollInterval     time.Duration
	RPCRateLimit     rate.Limit // requests/sec ceiling on the pull client
	RPCBurst         int
}

// Adapter is the per-chain concrete chain.Adapter.
type Adapter struct {
	cfg       Config
	pull      *ethclient.Client
	transport *blockTransport
	limiter   *rate.Limiter
	signer    types.Signer
}

var _ chainpkg.Adapter = (*Adapter)(nil)

// Dial connects the pull transport, verifies its chain id, and prepares
// (but does not yet start) the push transport.
func Dial(ctx context.Context, cfg Config) (*Adapter, error) {
	pull, err := ethclient.DialContext(ctx, cfg.HTTPEndpoint)
	if err != nil {
		return nil, chainerrors.Wrap(chainerrors.KindConfiguration, fmt.Errorf("dialing http endpoint: %w", err))
	}

	gotID, err := pull.ChainID(ctx)
	if err != nil {
		return nil, chainerrors.Wrap(chainerrors.KindConfiguration, fmt.Errorf("fetching chain id: %w", err))
	}
	if gotID.Uint64() != cfg.ChainID {
		return nil, chainerrors.Wrap(chainerrors.KindConfiguration, errChainIDMismatch(cfg.ChainID, gotID.Uint64()))
	}

	if cfg.PollInterval == 0 {
		cfg.PollInterval = 15 * time.Second
	}
	if cfg.RPCRateLimit == 0 {
		cfg.RPCRateLimit = 20
	}
	if cfg.RPCBurst == 0 {
		cfg.RPCBurst = 10
	}

	a := &Adapter{
		cfg:       cfg,
		pull:      pull,
		transport: newBlockTransport(cfg.WSEndpoint, pull, cfg.ChainID, cfg.PollInterval),
		limiter:   rate.NewLimiter(cfg.RPCRateLimit, cfg.RPCBurst),
		signer:    types.NewLondonSigner(new(big.Int).SetUint64(cfg.ChainID)),
	}
	return a, nil
}

// Start launches the push-transport goroutine. Adapter.SubscribeBlocks
// serves off this same underlying transport; multiple calls share it.
func (a *Adapter) Start(ctx context.Context) {
	a.transport.start(ctx)
}

// Stop tears down the push transport and waits for it to exit.
func (a *Adapter) Stop() {
	a.transport.stop()
}

// FatalErr returns the error that shut the push transport down for good
// (a chain id mismatch detected on reconnect), or nil while it is still
// delivering headers, pushed or polled. Callers should treat a non-nil
// result as a signal to stop trusting this adapter's chain rather than to
// retry it themselves.
func (a *Adapter) FatalErr() error {
	return a.transport.FatalErr()
}

func (a *Adapter) wait(ctx context.Context) error {
	if err := a.limiter.Wait(ctx); err != nil {
		return chainerrors.Wrap(chainerrors.KindChainRPC, err)
	}
	return nil
}

// ChainID implements chain.Adapter.
func (a *Adapter) ChainID() uint64 { return a.cfg.ChainID }

// SubscribeBlocks implements chain.Adapter.
func (a *Adapter) SubscribeBlocks(ctx context.Context) (<-chan chainpkg.BlockHeader, error) {
	out := make(chan chainpkg.BlockHeader, 64)
	go func() {
		defer close(out)
		for h := range a.transport.headers() {
			select {
			case out <- chainpkg.BlockHeader{Number: h.Number, Hash: h.Hash}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// SubscribeERC20Transfers implements chain.Adapter. It uses
// SubscribeFilterLogs when the push transport is live, and otherwise
// degrades to periodic FilterLogs polling over the same block range the
// block-header polling loop is already advancing through.
func (a *Adapter) SubscribeERC20Transfers(ctx context.Context, token common.Address) (<-chan chainpkg.TransferEvent, error) {
	out := make(chan chainpkg.TransferEvent, 64)

	query := ethereum.FilterQuery{
		Addresses: []common.Address{token},
		Topics:    [][]common.Hash{{TransferEventSignature}},
	}

	go func() {
		defer close(out)

		if a.transport.IsPolling() || a.cfg.WSEndpoint == "" {
			a.pollERC20Transfers(ctx, query, out)
			return
		}

		push, err := ethclient.DialContext(ctx, a.cfg.WSEndpoint)
		if err != nil {
			chevLog.Errorf("chain %d: dialing push endpoint for transfer logs failed, falling back to polling: %v", a.cfg.ChainID, err)
			a.pollERC20Transfers(ctx, query, out)
			return
		}
		defer push.Close()

		logsCh := make(chan types.Log, 64)
		sub, err := push.SubscribeFilterLogs(ctx, query, logsCh)
		if err != nil {
			chevLog.Errorf("chain %d: SubscribeFilterLogs failed, falling back to polling: %v", a.cfg.ChainID, err)
			a.pollERC20Transfers(ctx, query, out)
			return
		}
		defer sub.Unsubscribe()

		for {
			select {
			case l := <-logsCh:
				if ev, ok := decodeTransferLog(l); ok {
					out <- ev
				}
			case err := <-sub.Err():
				chevLog.Errorf("chain %d: transfer subscription error, falling back to polling: %v", a.cfg.ChainID, err)
				a.pollERC20Transfers(ctx, query, out)
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

func (a *Adapter) pollERC20Transfers(ctx context.Context, query ethereum.FilterQuery, out chan<- chainpkg.TransferEvent) {
	ticker := time.NewTicker(a.cfg.PollInterval)
	defer ticker.Stop()

	var lastBlock uint64
	for {
		select {
		case <-ticker.C:
			head, err := a.pull.BlockNumber(ctx)
			if err != nil {
				chevLog.Errorf("chain %d: polling transfer logs, BlockNumber failed: %v", a.cfg.ChainID, err)
				continue
			}
			if lastBlock == 0 {
				lastBlock = head
				continue
			}
			if head <= lastBlock {
				continue
			}
			q := query
			q.FromBlock = new(big.Int).SetUint64(lastBlock + 1)
			q.ToBlock = new(big.Int).SetUint64(head)
			logs, err := a.pull.FilterLogs(ctx, q)
			if err != nil {
				chevLog.Errorf("chain %d: FilterLogs(%d,%d) failed: %v", a.cfg.ChainID, lastBlock+1, head, err)
				continue
			}
			for _, l := range logs {
				if ev, ok := decodeTransferLog(l); ok {
					out <- ev
				}
			}
			lastBlock = head
		case <-ctx.Done():
			return
		}
	}
}

func decodeTransferLog(l types.Log) (chainpkg.TransferEvent, bool) {
	if len(l.Topics) != 3 || len(l.Data) < 32 {
		return chainpkg.TransferEvent{}, false
	}
	return chainpkg.TransferEvent{
		Token:       l.Address,
		From:        common.BytesToAddress(l.Topics[1].Bytes()),
		To:          common.BytesToAddress(l.Topics[2].Bytes()),
		Value:       new(big.Int).SetBytes(l.Data),
		TxHash:      l.TxHash,
		BlockNumber: l.BlockNumber,
	}, true
}

// GetBlockWithTxs implements chain.Adapter.
func (a *Adapter) GetBlockWithTxs(ctx context.Context, number uint64) (*chainpkg.Block, error) {
	if err := a.wait(ctx); err != nil {
		return nil, err
	}
	blk, err := a.pull.BlockByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		return nil, chainerrors.Wrap(chainerrors.KindChainRPC, err)
	}
	return &chainpkg.Block{
		Number: blk.Number(),
		Hash:   blk.Hash(),
		Txs:    blk.Transactions(),
	}, nil
}

// GetTransaction implements chain.Adapter.
func (a *Adapter) GetTransaction(ctx context.Context, hash common.Hash) (*chainpkg.Transaction, error) {
	if err := a.wait(ctx); err != nil {
		return nil, err
	}
	tx, isPending, err := a.pull.TransactionByHash(ctx, hash)
	if err == ethereum.NotFound {
		return nil, nil
	}
	if err != nil {
		return nil, chainerrors.Wrap(chainerrors.KindChainRPC, err)
	}
	_ = isPending

	from, err := types.Sender(a.signer, tx)
	if err != nil {
		return nil, chainerrors.Wrap(chainerrors.KindChainRPC, fmt.Errorf("recovering sender: %w", err))
	}

	return &chainpkg.Transaction{
		Hash:     tx.Hash(),
		From:     from,
		To:       tx.To(),
		Value:    tx.Value(),
		Data:     tx.Data(),
		GasPrice: tx.GasPrice(),
		Gas:      tx.Gas(),
		Nonce:    tx.Nonce(),
	}, nil
}

// CurrentBlockNumber implements chain.Adapter.
func (a *Adapter) CurrentBlockNumber(ctx context.Context) (uint64, error) {
	if err := a.wait(ctx); err != nil {
		return 0, err
	}
	n, err := a.pull.BlockNumber(ctx)
	if err != nil {
		return 0, chainerrors.Wrap(chainerrors.KindChainRPC, err)
	}
	return n, nil
}

// GetNativeBalance implements chain.Adapter.
func (a *Adapter) GetNativeBalance(ctx context.Context, addr common.Address) (*big.Int, error) {
	if err := a.wait(ctx); err != nil {
		return nil, err
	}
	bal, err := a.pull.BalanceAt(ctx, addr, nil)
	if err != nil {
		return nil, chainerrors.Wrap(chainerrors.KindChainRPC, err)
	}
	return bal, nil
}

// GetTokenBalance implements chain.Adapter.
func (a *Adapter) GetTokenBalance(ctx context.Context, token, addr common.Address) (*big.Int, error) {
	data, err := packERC20BalanceOf(addr)
	if err != nil {
		return nil, err
	}
	out, err := a.call(ctx, token, data)
	if err != nil {
		return nil, err
	}
	return unpackUint256(out)
}

// GetTokenAllowance implements chain.Adapter.
func (a *Adapter) GetTokenAllowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	data, err := packERC20Allowance(owner, spender)
	if err != nil {
		return nil, err
	}
	out, err := a.call(ctx, token, data)
	if err != nil {
		return nil, err
	}
	return unpackUint256(out)
}

func (a *Adapter) call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	if err := a.wait(ctx); err != nil {
		return nil, err
	}
	out, err := a.pull.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, chainerrors.Wrap(chainerrors.KindChainRPC, err)
	}
	return out, nil
}

// GasPrice implements chain.Adapter.
func (a *Adapter) GasPrice(ctx context.Context) (*big.Int, error) {
	if err := a.wait(ctx); err != nil {
		return nil, err
	}
	p, err := a.pull.SuggestGasPrice(ctx)
	if err != nil {
		return nil, chainerrors.Wrap(chainerrors.KindChainRPC, err)
	}
	return p, nil
}

// EstimateGas implements chain.Adapter.
func (a *Adapter) EstimateGas(ctx context.Context, call chainpkg.CallMsg) (uint64, error) {
	if err := a.wait(ctx); err != nil {
		return 0, err
	}
	gas, err := a.pull.EstimateGas(ctx, ethereum.CallMsg{
		From:     call.From,
		To:       call.To,
		Data:     call.Data,
		Value:    call.Value,
		GasPrice: call.GasPrice,
	})
	if err != nil {
		return 0, chainerrors.Wrap(chainerrors.KindChainRPC, err)
	}
	return gas, nil
}

// NonceAt implements chain.Adapter.
func (a *Adapter) NonceAt(ctx context.Context, addr common.Address) (uint64, error) {
	if err := a.wait(ctx); err != nil {
		return 0, err
	}
	n, err := a.pull.PendingNonceAt(ctx, addr)
	if err != nil {
		return 0, chainerrors.Wrap(chainerrors.KindChainRPC, err)
	}
	return n, nil
}

// Signer implements chain.Adapter.
func (a *Adapter) Signer() types.Signer { return a.signer }

// SendSigned implements chain.Adapter.
func (a *Adapter) SendSigned(ctx context.Context, tx *types.Transaction) (common.Hash, error) {
	if err := a.wait(ctx); err != nil {
		return common.Hash{}, err
	}
	if err := a.pull.SendTransaction(ctx, tx); err != nil {
		return common.Hash{}, chainerrors.Wrap(chainerrors.KindChainRPC, err)
	}
	return tx.Hash(), nil
}

// WaitForReceipt implements chain.Adapter, polling the receipt and current
// head height until confirmations is satisfied, the receipt reports a
// revert, or timeout elapses.
func (a *Adapter) WaitForReceipt(ctx context.Context, hash common.Hash, confirmations uint64, timeout time.Duration) (*chainpkg.Receipt, error) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		if time.Now().After(deadline) {
			return &chainpkg.Receipt{Status: chainpkg.ReceiptTimeout, TxHash: hash}, nil
		}

		receipt, err := a.pull.TransactionReceipt(ctx, hash)
		if err == nil {
			head, herr := a.pull.BlockNumber(ctx)
			if herr == nil && head >= receipt.BlockNumber.Uint64()+confirmations {
				status := chainpkg.ReceiptSuccess
				if receipt.Status == types.ReceiptStatusFailed {
					status = chainpkg.ReceiptReverted
				}
				return &chainpkg.Receipt{
					Status:      status,
					TxHash:      hash,
					BlockNumber: receipt.BlockNumber.Uint64(),
					GasUsed:     receipt.GasUsed,
				}, nil
			}
		} else if err != ethereum.NotFound {
			chevLog.Debugf("chain %d: polling receipt %s: %v", a.cfg.ChainID, hash, err)
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil, chainerrors.Wrap(chainerrors.KindChainRPC, ctx.Err())
		}
	}
}

// BuildBatchNativeTx assembles an unsigned transaction calling the
// configured batch processor contract's processBatchNative.
func BuildBatchNativeTx(nonce uint64, to common.Address, totalValue *big.Int, gasLimit uint64, gasPrice *big.Int, recipients []common.Address, amounts []*big.Int) (*types.Transaction, error) {
	data, err := packBatchNative(recipients, amounts)
	if err != nil {
		return nil, err
	}
	return types.NewTransaction(nonce, to, totalValue, gasLimit, gasPrice, data), nil
}

// BuildBatchERC20Tx assembles an unsigned transaction calling the
// configured batch processor contract's processBatchErc20.
func BuildBatchERC20Tx(nonce uint64, to, token common.Address, gasLimit uint64, gasPrice *big.Int, recipients []common.Address, amounts []*big.Int) (*types.Transaction, error) {
	data, err := packBatchERC20(token, recipients, amounts)
	if err != nil {
		return nil, err
	}
	return types.NewTransaction(nonce, to, big.NewInt(0), gasLimit, gasPrice, data), nil
}

// BuildApproveTx assembles an unsigned transaction calling an ERC-20
// token's approve, used before a batch of ERC-20 withdrawals if the batch
// processor's current allowance from the hot wallet is insufficient.
func BuildApproveTx(nonce uint64, token, spender common.Address, gasLimit uint64, gasPrice, amount *big.Int) (*types.Transaction, error) {
	data, err := packERC20Approve(spender, amount)
	if err != nil {
		return nil, err
	}
	return types.NewTransaction(nonce, token, big.NewInt(0), gasLimit, gasPrice, data), nil
}

// BuildTransferTx assembles an unsigned native-currency transfer, used by
// the indexer's gas-funding step and the sweep-to-hot-wallet step.
func BuildTransferTx(nonce uint64, to common.Address, value *big.Int, gasLimit uint64, gasPrice *big.Int) *types.Transaction {
	return types.NewTransaction(nonce, to, value, gasLimit, gasPrice, nil)
}

// BuildERC20TransferTx assembles an unsigned ERC-20 transfer, used by the
// indexer's sweep step for token deposits.
func BuildERC20TransferTx(nonce uint64, token common.Address, gasLimit uint64, gasPrice *big.Int, to common.Address, amount *big.Int) (*types.Transaction, error) {
	data, err := packERC20Transfer(to, amount)
	if err != nil {
		return nil, err
	}
	return types.NewTransaction(nonce, token, big.NewInt(0), gasLimit, gasPrice, data), nil
}
