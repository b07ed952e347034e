// Package account owns the Account record: one per user, holding the
// deposit address derived deterministically from the username and a
// hook to announce newly active addresses to the indexer without the
// indexer importing this package (a one-way facade call, avoiding an
// import cycle between account creation and the indexer's watch set).
package account

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/nnlgsakib/crypto-manager-engine/keychain"
	"github.com/nnlgsakib/crypto-manager-engine/store"
)

// Account is keyed by Username.
type Account struct {
	Username  string    `json:"username"`
	Address   string    `json:"address"`
	CreatedAt time.Time `json:"created_at"`
}

// ActiveAddressRegistrar is implemented by the indexer; Manager calls it
// once per newly created account so the address enters the watch set
// immediately rather than waiting for the indexer's next startup scan.
type ActiveAddressRegistrar interface {
	RegisterActiveAddress(username string, address common.Address)
}

// Manager creates and loads accounts.
type Manager struct {
	kv       store.KV
	keyRing  *keychain.KeyRing
	registrar ActiveAddressRegistrar
}

// NewManager builds a Manager. registrar may be nil during tests that
// don't exercise the indexer wiring.
func NewManager(kv store.KV, keyRing *keychain.KeyRing, registrar ActiveAddressRegistrar) *Manager {
	return &Manager{kv: kv, keyRing: keyRing, registrar: registrar}
}

// Get loads the account for username.
func (m *Manager) Get(username string) (*Account, error) {
	raw, err := m.kv.Get(store.AccountKey(username))
	if err != nil {
		return nil, err
	}
	var a Account
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("account: decoding %s: %w", username, err)
	}
	return &a, nil
}

// Create derives username's deposit address and persists a new Account
// record. It is idempotent: calling it twice for the same username
// returns the existing account rather than re-deriving (derivation is
// deterministic, so this is a courtesy lookup, not a correctness
// requirement).
func (m *Manager) Create(username string) (*Account, error) {
	if existing, err := m.Get(username); err == nil {
		return existing, nil
	} else if err != store.ErrNotFound {
		return nil, err
	}

	addr, err := m.keyRing.DeriveAddress(username)
	if err != nil {
		return nil, fmt.Errorf("account: deriving address for %s: %w", username, err)
	}

	a := &Account{
		Username:  username,
		Address:   addr.Hex(),
		CreatedAt: time.Now().UTC(),
	}

	raw, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("account: encoding %s: %w", username, err)
	}
	if err := m.kv.Put(store.AccountKey(username), raw); err != nil {
		return nil, err
	}

	if m.registrar != nil {
		m.registrar.RegisterActiveAddress(username, addr)
	}

	return a, nil
}

// ListAll scans every account record, used to rebuild the indexer's
// active-address set on startup.
func (m *Manager) ListAll() ([]*Account, error) {
	var out []*Account
	err := m.kv.ScanPrefix(store.AccountPrefix(), func(_, v []byte) bool {
		var a Account
		if err := json.Unmarshal(v, &a); err != nil {
			return true
		}
		out = append(out, &a)
		return true
	})
	return out, err
}
