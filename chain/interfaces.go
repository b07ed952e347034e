// Package chain defines the uniform per-chain capability set the indexer
// and batch processor depend on. This re-architects the teacher's
// WalletController/BlockChainIO split (lnwallet/interface.go) as a single
// capability set covering both transport profiles (push subscriptions and
// pull RPC), so the indexer and batcher can depend on an interface rather
// than on any one concrete transport implementation.
package chain

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// BlockHeader is the minimal per-block data the indexer needs from the
// push subscription. The adapter may redeliver a header it has already
// sent at most once more (it "may reorder by at most one slot").
type BlockHeader struct {
	Number *big.Int
	Hash   common.Hash
}

// Block is a full block with its transaction list, as returned by
// GetBlockWithTxs and cached by the indexer's BlockCache.
type Block struct {
	Number *big.Int
	Hash   common.Hash
	Txs    []*types.Transaction
}

// TransferEvent is a decoded ERC-20 Transfer(address,address,uint256) log.
type TransferEvent struct {
	Token       common.Address
	From        common.Address
	To          common.Address
	Value       *big.Int
	TxHash      common.Hash
	BlockNumber uint64
}

// Transaction is the subset of an on-chain transaction the indexer's scan
// step inspects to decide whether it is an admissible native deposit.
type Transaction struct {
	Hash     common.Hash
	From     common.Address
	To       *common.Address
	Value    *big.Int
	Data     []byte
	GasPrice *big.Int
	Gas      uint64
	Nonce    uint64
}

// ReceiptStatus enumerates the three outcomes WaitForReceipt can report.
type ReceiptStatus int

const (
	// ReceiptSuccess means the transaction was mined and did not revert.
	ReceiptSuccess ReceiptStatus = iota

	// ReceiptReverted means the transaction was mined but reverted.
	ReceiptReverted

	// ReceiptTimeout means confirmations weren't reached within the
	// caller's bound.
	ReceiptTimeout
)

// Receipt describes the outcome of a submitted transaction once observed.
type Receipt struct {
	Status      ReceiptStatus
	TxHash      common.Hash
	BlockNumber uint64
	GasUsed     uint64
}

// CallMsg describes a contract call for gas estimation, mirroring
// ethereum.CallMsg but kept local so callers don't need go-ethereum's
// interfaces package directly.
type CallMsg struct {
	From     common.Address
	To       *common.Address
	Data     []byte
	Value    *big.Int
	GasPrice *big.Int
}

// SignedTxSender is implemented by anything capable of producing a fully
// signed transaction ready for SendSigned; it decouples chain.Adapter from
// any particular key-management package.
type SignedTxSender func(ctx context.Context, tx *types.Transaction) (*types.Transaction, error)

// Adapter is the capability set a single chain's indexer and batch
// processor pipelines depend on. Exactly one concrete implementation
// (evmchain.Adapter) backs it per configured chain; the indexer and
// batcher never know whether the current delivery mechanism is the push
// transport, or the polling fallback the adapter has transparently
// switched to after exhausting reconnect attempts.
type Adapter interface {
	// ChainID returns the configured chain id this adapter serves.
	ChainID() uint64

	// SubscribeBlocks returns a channel of new block headers. The
	// channel is closed when the adapter is stopped. Headers may repeat
	// the previous block number at most once across a reconnect.
	SubscribeBlocks(ctx context.Context) (<-chan BlockHeader, error)

	// SubscribeERC20Transfers returns a channel of decoded Transfer logs
	// for the given token contract.
	SubscribeERC20Transfers(ctx context.Context, token common.Address) (<-chan TransferEvent, error)

	// GetBlockWithTxs fetches a canonical block and its full transaction
	// list.
	GetBlockWithTxs(ctx context.Context, number uint64) (*Block, error)

	// GetTransaction fetches a transaction by hash. It returns
	// (nil, nil) if the hash is unknown to this node, distinguishing
	// "not found" from a transport error.
	GetTransaction(ctx context.Context, hash common.Hash) (*Transaction, error)

	// CurrentBlockNumber returns the chain's current head height.
	CurrentBlockNumber(ctx context.Context) (uint64, error)

	// GetNativeBalance returns addr's native-currency balance in wei.
	GetNativeBalance(ctx context.Context, addr common.Address) (*big.Int, error)

	// GetTokenBalance returns addr's ERC-20 balance of token, in the
	// token's smallest unit.
	GetTokenBalance(ctx context.Context, token, addr common.Address) (*big.Int, error)

	// GetTokenAllowance returns the amount spender may pull from owner's
	// token balance.
	GetTokenAllowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error)

	// GasPrice returns the adapter's current suggested gas price.
	GasPrice(ctx context.Context) (*big.Int, error)

	// EstimateGas estimates the gas a call would consume.
	EstimateGas(ctx context.Context, call CallMsg) (uint64, error)

	// NonceAt returns the next nonce to use for addr.
	NonceAt(ctx context.Context, addr common.Address) (uint64, error)

	// Signer returns the EIP-155 signer this adapter's chain id implies,
	// for use by callers building and signing transactions.
	Signer() types.Signer

	// SendSigned broadcasts an already-signed transaction and returns
	// its hash.
	SendSigned(ctx context.Context, tx *types.Transaction) (common.Hash, error)

	// WaitForReceipt blocks (subject to timeout) until the transaction
	// reaches the requested confirmation depth, reverts, or the timeout
	// elapses.
	WaitForReceipt(ctx context.Context, hash common.Hash, confirmations uint64, timeout time.Duration) (*Receipt, error)
}
