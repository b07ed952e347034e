package keychain

import (
	"crypto/ecdsa"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// HotWallet is the custodian-controlled account that receives every swept
// deposit and signs every batch settlement. It is an exclusive resource:
// per the concurrency model, every signed submission from the hot wallet
// must serialise through this single lane so nonces stay monotonic, the
// same discipline the teacher's WalletController applies by requiring the
// global coin-selection lock be held around its signing calls.
type HotWallet struct {
	mu      sync.Mutex
	priv    *ecdsa.PrivateKey
	Address common.Address
}

// NewHotWallet loads the hot wallet's private key material, previously
// decrypted by the caller via DecryptPrivateKey.
func NewHotWallet(privKeyBytes []byte) (*HotWallet, error) {
	priv, err := crypto.ToECDSA(privKeyBytes)
	if err != nil {
		return nil, fmt.Errorf("keychain: invalid hot wallet key: %w", err)
	}

	return &HotWallet{
		priv:    priv,
		Address: crypto.PubkeyToAddress(priv.PublicKey),
	}, nil
}

// Sign signs tx with the hot wallet key. It does not take the submission
// lane itself: callers hold it via Lock across nonce lookup, signing and
// submission, which is what keeps hot-wallet nonces monotonic.
func (w *HotWallet) Sign(tx *types.Transaction, signer types.Signer) (*types.Transaction, error) {
	signed, err := types.SignTx(tx, signer, w.priv)
	if err != nil {
		return nil, fmt.Errorf("keychain: hot wallet signing failed: %w", err)
	}
	return signed, nil
}

// Lock acquires the hot wallet's submission lane without signing, for
// callers (the indexer's gas-funding step, the batcher's settlement step)
// that need to read-then-sign-then-submit as one atomic sequence, e.g. to
// fetch the current nonce and sign against it without a racing submission
// reusing the same nonce.
func (w *HotWallet) Lock() {
	w.mu.Lock()
}

// Unlock releases the submission lane acquired by Lock.
func (w *HotWallet) Unlock() {
	w.mu.Unlock()
}
