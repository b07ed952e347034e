package evmchain

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	chainpkg "github.com/nnlgsakib/crypto-manager-engine/chain"
	"github.com/nnlgsakib/crypto-manager-engine/chainerrors"
	"github.com/nnlgsakib/crypto-manager-engine/metrics"
)

func errChainIDMismatch(want, got uint64) error {
	return fmt.Errorf("evmchain: endpoint reports chain id %d, configured for %d", got, want)
}

// reconnect parameters for the push (websocket) transport. Grounded on the
// teacher's spvsync.go reconnect loop: a fixed base delay doubled on every
// failed attempt, capped at a small number of tries before giving up on the
// transport entirely.
const (
	pushBaseDelay   = 3 * time.Second
	pushMaxAttempts = 5
)

// blockTransport owns the lifetime of the push block-header subscription,
// transparently falling back to polling once reconnection is exhausted.
// One instance is created per Adapter; the indexer only ever sees the
// BlockHeader channel returned by its headers() method, never which mode
// is currently feeding it.
type blockTransport struct {
	wsURL       string
	httpClient  *ethclient.Client
	chainID     uint64
	pollEvery   time.Duration

	mu       sync.Mutex
	out      chan chainpkg.BlockHeader
	quit     chan struct{}
	wg       sync.WaitGroup
	polling  bool
	fatal    error
}

func newBlockTransport(wsURL string, httpClient *ethclient.Client, chainID uint64, pollEvery time.Duration) *blockTransport {
	return &blockTransport{
		wsURL:      wsURL,
		httpClient: httpClient,
		chainID:    chainID,
		pollEvery:  pollEvery,
		out:        make(chan chainpkg.BlockHeader, 64),
		quit:       make(chan struct{}),
	}
}

// start launches the transport's background goroutine. ctx cancellation
// and calling stop() are both honoured.
func (t *blockTransport) start(ctx context.Context) {
	t.wg.Add(1)
	go t.run(ctx)
}

func (t *blockTransport) stop() {
	close(t.quit)
	t.wg.Wait()
}

func (t *blockTransport) headers() <-chan chainpkg.BlockHeader {
	return t.out
}

func (t *blockTransport) run(ctx context.Context) {
	defer t.wg.Done()
	defer close(t.out)

	if t.wsURL == "" {
		chevLog.Warnf("chain %d: no push endpoint configured, running polling transport only", t.chainID)
		t.runPolling(ctx)
		return
	}

	attempts := 0
	for {
		err := t.runPush(ctx)
		if err == nil {
			// run exited cleanly: quit was closed or ctx cancelled.
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-t.quit:
			return
		default:
		}

		if chainerrors.Is(err, chainerrors.KindConfiguration) {
			// A chain id mismatch on reconnect means the endpoint behind
			// wsURL has changed chain out from under us; retrying or
			// falling back to polling would risk indexing the wrong
			// chain, so this is fatal, never retried.
			chevLog.Criticalf("chain %d: push transport reconnect hit fatal configuration error, not retrying: %v", t.chainID, err)
			t.setFatal(err)
			return
		}

		attempts++
		chevLog.Errorf("chain %d: push transport failed (attempt %d/%d): %v", t.chainID, attempts, pushMaxAttempts, err)
		if attempts >= pushMaxAttempts {
			chevLog.Warnf("chain %d: push transport exhausted %d reconnect attempts, falling back to polling", t.chainID, pushMaxAttempts)
			t.markPolling()
			t.runPolling(ctx)
			return
		}

		metrics.ChainReconnects.WithLabelValues(fmt.Sprintf("%d", t.chainID)).Inc()
		delay := pushBaseDelay * time.Duration(1<<uint(attempts-1))
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		case <-t.quit:
			return
		}
	}
}

func (t *blockTransport) markPolling() {
	t.mu.Lock()
	t.polling = true
	t.mu.Unlock()
	metrics.ChainPollingFallback.WithLabelValues(fmt.Sprintf("%d", t.chainID)).Set(1)
}

// IsPolling reports whether the transport has fallen back to polling,
// surfaced by the adapter for operational visibility.
func (t *blockTransport) IsPolling() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.polling
}

func (t *blockTransport) setFatal(err error) {
	t.mu.Lock()
	t.fatal = err
	t.mu.Unlock()
}

// FatalErr returns the reconnect-time configuration error that shut the
// transport down, or nil if it is still running (pushed or polling).
func (t *blockTransport) FatalErr() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fatal
}

// runPush dials the websocket endpoint, re-verifies the chain id (a
// misconfigured or swapped endpoint must never silently start indexing
// the wrong chain), then streams headers until the subscription errors
// out or the caller asks it to stop.
func (t *blockTransport) runPush(ctx context.Context) error {
	rpcClient, err := rpc.DialContext(ctx, t.wsURL)
	if err != nil {
		return chainerrors.Wrap(chainerrors.KindChainRPC, err)
	}
	defer rpcClient.Close()

	client := ethclient.NewClient(rpcClient)

	gotID, err := client.ChainID(ctx)
	if err != nil {
		return chainerrors.Wrap(chainerrors.KindChainRPC, err)
	}
	if gotID.Uint64() != t.chainID {
		return chainerrors.Wrap(chainerrors.KindConfiguration, errChainIDMismatch(t.chainID, gotID.Uint64()))
	}

	headCh := make(chan *types.Header, 16)
	sub, err := client.SubscribeNewHead(ctx, headCh)
	if err != nil {
		return chainerrors.Wrap(chainerrors.KindChainRPC, err)
	}
	defer sub.Unsubscribe()

	for {
		select {
		case h := <-headCh:
			select {
			case t.out <- chainpkg.BlockHeader{Number: h.Number, Hash: h.Hash()}:
			case <-ctx.Done():
				return nil
			case <-t.quit:
				return nil
			}
		case err := <-sub.Err():
			return chainerrors.Wrap(chainerrors.KindChainRPC, err)
		case <-ctx.Done():
			return nil
		case <-t.quit:
			return nil
		}
	}
}

// runPolling is the fallback delivery mode: it synthesizes a BlockHeader
// stream by re-reading the current head height over the pull (HTTP)
// client on a fixed cadence.
func (t *blockTransport) runPolling(ctx context.Context) {
	ticker := time.NewTicker(t.pollEvery)
	defer ticker.Stop()

	var lastSeen uint64
	for {
		select {
		case <-ticker.C:
			num, err := t.httpClient.BlockNumber(ctx)
			if err != nil {
				chevLog.Errorf("chain %d: polling BlockNumber failed: %v", t.chainID, err)
				continue
			}
			if num <= lastSeen {
				continue
			}
			for n := lastSeen + 1; n <= num; n++ {
				hdr, err := t.httpClient.HeaderByNumber(ctx, new(big.Int).SetUint64(n))
				if err != nil {
					chevLog.Errorf("chain %d: polling HeaderByNumber(%d) failed: %v", t.chainID, n, err)
					break
				}
				select {
				case t.out <- chainpkg.BlockHeader{Number: hdr.Number, Hash: hdr.Hash()}:
				case <-ctx.Done():
					return
				case <-t.quit:
					return
				}
			}
			lastSeen = num
		case <-ctx.Done():
			return
		case <-t.quit:
			return
		}
	}
}
