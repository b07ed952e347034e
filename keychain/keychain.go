// Package keychain derives and uses the single secp256k1 keypair each
// custodial account is given. The deployment reuses one address across
// every chain in the supported EVM family (spec Open Question: this would
// need to become per-chain if a non-EVM-derivation chain were ever added).
//
// Per-user private keys are never stored: they are re-derived on demand
// from a high-entropy master seed and a hash of the username, the same way
// the teacher's WalletController derives keys from its own internal
// hierarchy rather than keeping loose key material around.
package keychain

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/hkdf"
)

// KeyDescriptor identifies the key a signing operation should use. It is
// deliberately minimal: the custodian has exactly one key per username.
type KeyDescriptor struct {
	// Username is the account the key belongs to.
	Username string

	// PubKey is populated once the key has been derived; callers that
	// already know it (e.g. to look up an Account record) may set it
	// ahead of time, but DerivePrivKey always re-derives from Username.
	PubKey *ecdsa.PublicKey
}

// maxDeriveAttempts bounds the HKDF-Expand retry loop below; a hit in the
// first attempt is overwhelmingly likely (~2^-128 chance of needing a
// second), this is just a belt-and-braces cap.
const maxDeriveAttempts = 8

// KeyRing derives and uses per-user signing keys from a single master
// seed. It is the sole authority able to sweep funds out of a user's
// deposit address, per the Account record's documented invariant.
type KeyRing struct {
	masterSeed []byte
}

// New creates a KeyRing from a high-entropy master seed (32 bytes or more).
// The master seed itself is produced and stored by the secret-storage
// collaborator that sits outside this design's scope; KeyRing only
// consumes it.
func New(masterSeed []byte) (*KeyRing, error) {
	if len(masterSeed) < 32 {
		return nil, fmt.Errorf("keychain: master seed must be at least 32 bytes, got %d", len(masterSeed))
	}
	return &KeyRing{masterSeed: append([]byte(nil), masterSeed...)}, nil
}

// DerivePrivKey deterministically regenerates the private key for the
// given username. The same username always yields the same key, which is
// what lets a user's deposit address be recomputed identically after a
// restart with no address-book persistence required.
func (k *KeyRing) DerivePrivKey(username string) (*ecdsa.PrivateKey, error) {
	if username == "" {
		return nil, fmt.Errorf("keychain: empty username")
	}

	seedHash := sha256.Sum256([]byte(username))

	for attempt := 0; attempt < maxDeriveAttempts; attempt++ {
		info := []byte(fmt.Sprintf("crypto-manager-engine/user-key/%d", attempt))
		kdf := hkdf.New(sha256.New, k.masterSeed, seedHash[:], info)

		candidate := make([]byte, 32)
		if _, err := io.ReadFull(kdf, candidate); err != nil {
			return nil, fmt.Errorf("keychain: deriving key material: %w", err)
		}

		priv, err := crypto.ToECDSA(candidate)
		if err != nil {
			// candidate was >= curve order or zero; vanishingly rare,
			// reroll with a different HKDF info string.
			continue
		}

		return priv, nil
	}

	return nil, fmt.Errorf("keychain: exhausted %d derivation attempts for %q", maxDeriveAttempts, username)
}

// DeriveAddress returns the deposit address a user's key controls. This is
// the address reused verbatim across every chain in the supported family.
func (k *KeyRing) DeriveAddress(username string) (common.Address, error) {
	priv, err := k.DerivePrivKey(username)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(priv.PublicKey), nil
}

// SignTx signs tx on behalf of username using the chain id carried by
// signer, mirroring the shape of the teacher's SignOutputRaw: look up the
// key, then produce a signature over the passed transaction.
func (k *KeyRing) SignTx(username string, tx *types.Transaction, signer types.Signer) (*types.Transaction, error) {
	priv, err := k.DerivePrivKey(username)
	if err != nil {
		return nil, err
	}

	signed, err := types.SignTx(tx, signer, priv)
	if err != nil {
		return nil, fmt.Errorf("keychain: signing transaction for %q: %w", username, err)
	}

	return signed, nil
}

// SignMessage signs an arbitrary message digest with the user's key,
// mirroring the teacher's MessageSigner capability. The digest passed in
// should already be a 32-byte hash; this method does not hash its input.
func (k *KeyRing) SignMessage(username string, digest [32]byte) ([]byte, error) {
	priv, err := k.DerivePrivKey(username)
	if err != nil {
		return nil, err
	}

	sig, err := crypto.Sign(digest[:], priv)
	if err != nil {
		return nil, fmt.Errorf("keychain: signing message for %q: %w", username, err)
	}

	return sig, nil
}
