package account_test

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/nnlgsakib/crypto-manager-engine/account"
	"github.com/nnlgsakib/crypto-manager-engine/keychain"
	"github.com/nnlgsakib/crypto-manager-engine/store"
	"github.com/nnlgsakib/crypto-manager-engine/store/memstore"
)

type fakeRegistrar struct {
	calls []struct {
		username string
		address  common.Address
	}
}

func (f *fakeRegistrar) RegisterActiveAddress(username string, address common.Address) {
	f.calls = append(f.calls, struct {
		username string
		address  common.Address
	}{username, address})
}

func testKeyRing(t *testing.T) *keychain.KeyRing {
	t.Helper()
	kr, err := keychain.New(make([]byte, 32))
	require.NoError(t, err)
	return kr
}

func TestCreateDerivesAddressAndRegisters(t *testing.T) {
	reg := &fakeRegistrar{}
	m := account.NewManager(memstore.New(), testKeyRing(t), reg)

	a, err := m.Create("bob")
	require.NoError(t, err)
	require.Equal(t, "bob", a.Username)
	require.NotEmpty(t, a.Address)
	require.Len(t, reg.calls, 1)
	require.Equal(t, "bob", reg.calls[0].username)
}

func TestCreateIsIdempotent(t *testing.T) {
	reg := &fakeRegistrar{}
	m := account.NewManager(memstore.New(), testKeyRing(t), reg)

	a1, err := m.Create("bob")
	require.NoError(t, err)
	a2, err := m.Create("bob")
	require.NoError(t, err)

	require.Equal(t, a1.Address, a2.Address)
	require.Len(t, reg.calls, 1, "second Create should not re-register")
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	m := account.NewManager(memstore.New(), testKeyRing(t), nil)
	_, err := m.Get("ghost")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestListAllReturnsEveryAccount(t *testing.T) {
	m := account.NewManager(memstore.New(), testKeyRing(t), nil)

	_, err := m.Create("alice")
	require.NoError(t, err)
	_, err = m.Create("bob")
	require.NoError(t, err)

	all, err := m.ListAll()
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestSameUsernameDerivesSameAddressAcrossManagers(t *testing.T) {
	kr := testKeyRing(t)
	m1 := account.NewManager(memstore.New(), kr, nil)
	m2 := account.NewManager(memstore.New(), kr, nil)

	a1, err := m1.Create("bob")
	require.NoError(t, err)
	a2, err := m2.Create("bob")
	require.NoError(t, err)

	require.Equal(t, a1.Address, a2.Address)
}
