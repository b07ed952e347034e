package engine

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/nnlgsakib/crypto-manager-engine/account"
	"github.com/nnlgsakib/crypto-manager-engine/batcher"
	"github.com/nnlgsakib/crypto-manager-engine/blockcache"
	"github.com/nnlgsakib/crypto-manager-engine/bucket"
	"github.com/nnlgsakib/crypto-manager-engine/chain/evmchain"
	"github.com/nnlgsakib/crypto-manager-engine/config"
	"github.com/nnlgsakib/crypto-manager-engine/deposit"
	"github.com/nnlgsakib/crypto-manager-engine/indexer"
	"github.com/nnlgsakib/crypto-manager-engine/keychain"
	"github.com/nnlgsakib/crypto-manager-engine/ledger"
	"github.com/nnlgsakib/crypto-manager-engine/money"
	"github.com/nnlgsakib/crypto-manager-engine/notify"
	"github.com/nnlgsakib/crypto-manager-engine/store"
	"github.com/nnlgsakib/crypto-manager-engine/store/boltstore"
	"github.com/nnlgsakib/crypto-manager-engine/withdrawal"

	"golang.org/x/sync/errgroup"
)

const blockCacheTTL = 10 * time.Minute

// ChainRuntime bundles the per-chain components wired by New: one
// adapter, one indexer, one batcher sharing the engine's ledger, account
// and notification state.
type ChainRuntime struct {
	ChainID uint64
	Adapter *evmchain.Adapter
	Indexer *indexer.Indexer
	Batcher *batcher.Batcher
}

// Engine is the top-level custodian process: every configured chain's
// indexer and batcher, the shared ledger, account manager and
// notification bus, and the single hot wallet they all submit through.
type Engine struct {
	cfg *config.Config

	kv       store.KV
	keyRing  *keychain.KeyRing
	hotWlt   *keychain.HotWallet
	accounts *account.Manager
	ldgr     *ledger.Ledger
	bus      *notify.Bus

	deps *deposit.Store
	wds  *withdrawal.Store
	bkts *bucket.Store

	chains map[uint64]*ChainRuntime
}

// multiRegistrar fans RegisterActiveAddress out to every chain's indexer,
// since the custodian reuses one deposit address across the whole family
// rather than deriving a distinct address per chain.
type multiRegistrar []account.ActiveAddressRegistrar

func (m multiRegistrar) RegisterActiveAddress(username string, address common.Address) {
	for _, r := range m {
		r.RegisterActiveAddress(username, address)
	}
}

// New wires every subsystem from cfg: opens the store, derives the
// per-user keyring and loads the hot wallet key, dials an adapter per
// configured chain, and restores each indexer's watch set from the
// persisted account list before returning. It starts each adapter's block
// transport but no indexer or batcher loop — call Run for those.
func New(ctx context.Context, cfg *config.Config) (*Engine, error) {
	kv, err := boltstore.Open(cfg.DBPath())
	if err != nil {
		return nil, fmt.Errorf("engine: opening store: %w", err)
	}

	masterSeed, err := hex.DecodeString(cfg.MasterSeedHex)
	if err != nil {
		return nil, fmt.Errorf("engine: decoding master seed: %w", err)
	}
	keyRing, err := keychain.New(masterSeed)
	if err != nil {
		return nil, fmt.Errorf("engine: building key ring: %w", err)
	}

	encKey, err := hex.DecodeString(cfg.EncryptionKeyHex)
	if err != nil {
		return nil, fmt.Errorf("engine: decoding encryption key: %w", err)
	}
	hotPriv, err := keychain.DecryptPrivateKey(encKey, cfg.HotWalletKeyHex)
	if err != nil {
		return nil, fmt.Errorf("engine: decrypting hot wallet key: %w", err)
	}
	hotWlt, err := keychain.NewHotWallet(hotPriv)
	if err != nil {
		return nil, fmt.Errorf("engine: loading hot wallet: %w", err)
	}
	engnLog.Infof("hot wallet address %s", hotWlt.Address)

	ldgr := ledger.New(kv)
	bus := notify.New()
	deps := deposit.NewStore(kv)
	wds := withdrawal.NewStore(kv)
	bkts := bucket.NewStore(kv)

	chains := make(map[uint64]*ChainRuntime, len(cfg.Chains))
	var registrars multiRegistrar

	for _, cc := range cfg.Chains {
		rt, err := dialChain(ctx, cc, kv, deps, wds, bkts, ldgr, bus, keyRing, hotWlt)
		if err != nil {
			return nil, fmt.Errorf("engine: chain %d: %w", cc.ChainID, err)
		}
		chains[cc.ChainID] = rt
		registrars = append(registrars, rt.Indexer)
	}

	accounts := account.NewManager(kv, keyRing, registrars)

	existing, err := accounts.ListAll()
	if err != nil {
		return nil, fmt.Errorf("engine: listing accounts: %w", err)
	}
	seed := make([]struct {
		Username string
		Address  common.Address
	}, 0, len(existing))
	for _, a := range existing {
		seed = append(seed, struct {
			Username string
			Address  common.Address
		}{Username: a.Username, Address: common.HexToAddress(a.Address)})
	}
	for chainID, rt := range chains {
		if err := rt.Indexer.RestoreFromStore(seed); err != nil {
			return nil, fmt.Errorf("engine: chain %d: restoring indexer state: %w", chainID, err)
		}
	}

	engnLog.Infof("restored %d accounts across %d chains", len(existing), len(chains))

	return &Engine{
		cfg:      cfg,
		kv:       kv,
		keyRing:  keyRing,
		hotWlt:   hotWlt,
		accounts: accounts,
		ldgr:     ldgr,
		bus:      bus,
		deps:     deps,
		wds:      wds,
		bkts:     bkts,
		chains:   chains,
	}, nil
}

// dialChain connects the adapter for one configured chain and builds its
// indexer and batcher, sharing the engine-wide ledger, store and hot
// wallet.
func dialChain(
	ctx context.Context,
	cc config.ChainConfig,
	kv store.KV,
	deps *deposit.Store,
	wds *withdrawal.Store,
	bkts *bucket.Store,
	ldgr *ledger.Ledger,
	bus *notify.Bus,
	keyRing *keychain.KeyRing,
	hotWlt *keychain.HotWallet,
) (*ChainRuntime, error) {
	adapter, err := evmchain.Dial(ctx, evmchain.Config{
		ChainID:      cc.ChainID,
		WSEndpoint:   cc.RPCURL,
		HTTPEndpoint: cc.HTTPRPCURL,
		PollInterval: time.Duration(cc.PollIntervalSeconds) * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("dialing adapter: %w", err)
	}
	adapter.Start(ctx)

	minDeposit, err := money.Parse(cc.MinDeposit)
	if err != nil {
		return nil, fmt.Errorf("parsing min deposit: %w", err)
	}

	idxTokens := make([]indexer.TokenInfo, 0, len(cc.Tokens))
	btchTokens := make([]batcher.TokenInfo, 0, len(cc.Tokens))
	for _, tc := range cc.Tokens {
		idxTokens = append(idxTokens, indexer.TokenInfo{
			Address:  common.HexToAddress(tc.Address),
			Symbol:   tc.Symbol,
			Decimals: tc.Decimals,
		})

		minW, err := money.Parse(tc.MinWithdrawal)
		if err != nil {
			return nil, fmt.Errorf("token %s: parsing min withdrawal: %w", tc.Symbol, err)
		}
		maxW, err := money.Parse(tc.MaxWithdrawal)
		if err != nil {
			return nil, fmt.Errorf("token %s: parsing max withdrawal: %w", tc.Symbol, err)
		}
		fee, err := money.Parse(tc.WithdrawalFee)
		if err != nil {
			return nil, fmt.Errorf("token %s: parsing withdrawal fee: %w", tc.Symbol, err)
		}
		btchTokens = append(btchTokens, batcher.TokenInfo{
			Symbol:   tc.Symbol,
			Address:  common.HexToAddress(tc.Address),
			Decimals: tc.Decimals,
			Limits:   batcher.CurrencyLimits{MinWithdrawal: minW, MaxWithdrawal: maxW, Fee: fee},
		})
	}

	cache := blockcache.New(blockCacheTTL)
	idx := indexer.New(indexer.Config{
		ChainID:               cc.ChainID,
		NativeCurrency:        cc.NativeCurrency,
		RequiredConfirmations: cc.RequiredConfirmations,
		MinDeposit:            minDeposit,
		Tokens:                idxTokens,
		BlockCacheTTL:         blockCacheTTL,
	}, adapter, cache, deps, kv, ldgr, bus, keyRing, hotWlt)

	nativeMinW, err := money.Parse(cc.MinWithdrawal)
	if err != nil {
		return nil, fmt.Errorf("parsing min withdrawal: %w", err)
	}
	nativeMaxW, err := money.Parse(cc.MaxWithdrawal)
	if err != nil {
		return nil, fmt.Errorf("parsing max withdrawal: %w", err)
	}
	nativeFee, err := money.Parse(cc.WithdrawalFee)
	if err != nil {
		return nil, fmt.Errorf("parsing withdrawal fee: %w", err)
	}

	btch := batcher.New(batcher.Config{
		ChainID:                    cc.ChainID,
		NativeCurrency:             cc.NativeCurrency,
		NativeLimits:               batcher.CurrencyLimits{MinWithdrawal: nativeMinW, MaxWithdrawal: nativeMaxW, Fee: nativeFee},
		WithdrawalProcessorAddress: common.HexToAddress(cc.WithdrawalProcessorAddress),
		WindowMs:                   cc.WindowMs,
		Tokens:                     btchTokens,
	}, adapter, kv, wds, bkts, ldgr, bus, hotWlt)

	return &ChainRuntime{
		ChainID: cc.ChainID,
		Adapter: adapter,
		Indexer: idx,
		Batcher: btch,
	}, nil
}

// Run starts every chain's indexer and batcher and blocks until ctx is
// cancelled or one of them returns an unrecoverable error, at which point
// the others are cancelled too via the shared errgroup context.
func (e *Engine) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, rt := range e.chains {
		rt := rt
		g.Go(func() error { return rt.Indexer.Run(ctx) })
		g.Go(func() error { return rt.Batcher.Run(ctx) })
		g.Go(func() error { return watchAdapterFatal(ctx, rt.ChainID, rt.Adapter) })
	}

	engnLog.Infof("engine running across %d chains", len(e.chains))
	return g.Wait()
}

// watchAdapterFatal cancels the engine-wide errgroup context the moment a
// chain's push transport gives up with a fatal configuration error, instead
// of leaving the indexer and batcher running against a chain adapter that
// silently detected a chain id mismatch on reconnect.
func watchAdapterFatal(ctx context.Context, chainID uint64, adapter *evmchain.Adapter) error {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := adapter.FatalErr(); err != nil {
				return fmt.Errorf("chain %d: adapter shut down fatally: %w", chainID, err)
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// Close stops every chain adapter's push transport and closes the store.
// Call after Run has returned.
func (e *Engine) Close() error {
	for _, rt := range e.chains {
		rt.Adapter.Stop()
	}
	return e.kv.Close()
}

// CreateAccount derives and persists a deposit account for username,
// returning the existing account if one was already created.
func (e *Engine) CreateAccount(username string) (*account.Account, error) {
	return e.accounts.Create(username)
}

// GetAccount loads the persisted account for username.
func (e *Engine) GetAccount(username string) (*account.Account, error) {
	return e.accounts.Get(username)
}

// GetBalance returns username's current balance for (chainID, currency).
func (e *Engine) GetBalance(username string, chainID uint64, currency string) (ledger.Balance, error) {
	return e.ldgr.Get(username, chainID, currency)
}

// RequestWithdrawal freezes funds and enqueues a withdrawal for chainID,
// failing if chainID has no configured runtime.
func (e *Engine) RequestWithdrawal(chainID uint64, username, currency string, amount money.Amount, destination common.Address) (*withdrawal.Withdrawal, error) {
	rt, ok := e.chains[chainID]
	if !ok {
		return nil, fmt.Errorf("engine: chain %d is not configured", chainID)
	}
	return rt.Batcher.RequestWithdrawal(username, currency, amount, destination)
}

// GetDeposit loads a deposit record by its originating transaction hash.
func (e *Engine) GetDeposit(txHash string) (*deposit.Deposit, error) {
	return e.deps.Get(txHash)
}

// GetWithdrawal loads a withdrawal record by id.
func (e *Engine) GetWithdrawal(id string) (*withdrawal.Withdrawal, error) {
	return e.wds.Get(id)
}

// GetBucket loads the bucket for (chainID, currency) at the window
// covering now.
func (e *Engine) GetBucket(chainID uint64, currency string, windowMs int64, now time.Time) (*bucket.Bucket, error) {
	return e.bkts.Get(chainID, currency, bucket.WindowIndex(now, windowMs))
}

// Subscribe registers a notification filter against the shared bus.
func (e *Engine) Subscribe(filter notify.Filter) (<-chan notify.Message, func()) {
	return e.bus.Subscribe(filter)
}
