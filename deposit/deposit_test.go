package deposit_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nnlgsakib/crypto-manager-engine/deposit"
	"github.com/nnlgsakib/crypto-manager-engine/money"
	"github.com/nnlgsakib/crypto-manager-engine/store"
	"github.com/nnlgsakib/crypto-manager-engine/store/memstore"
)

func TestPutThenGetRoundTrips(t *testing.T) {
	s := deposit.NewStore(memstore.New())

	d := &deposit.Deposit{
		TxHash:                "0xabc",
		Username:              "bob",
		ChainID:               1,
		Currency:              "USDT",
		Amount:                money.Amount(1000),
		RequiredConfirmations: 10,
		State:                 deposit.StatePending,
		CreatedAt:             time.Now(),
	}
	require.NoError(t, s.Put(d))

	got, err := s.Get("0xabc")
	require.NoError(t, err)
	require.Equal(t, d.Username, got.Username)
	require.Equal(t, deposit.StatePending, got.State)
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	s := deposit.NewStore(memstore.New())
	_, err := s.Get("0xnope")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestListPendingExcludesTerminalStates(t *testing.T) {
	s := deposit.NewStore(memstore.New())

	require.NoError(t, s.Put(&deposit.Deposit{TxHash: "0x1", State: deposit.StateConfirming}))
	require.NoError(t, s.Put(&deposit.Deposit{TxHash: "0x2", State: deposit.StateCredited}))
	require.NoError(t, s.Put(&deposit.Deposit{TxHash: "0x3", State: deposit.StateFailed}))
	require.NoError(t, s.Put(&deposit.Deposit{TxHash: "0x4", State: deposit.StatePending}))

	pending, err := s.ListPending()
	require.NoError(t, err)
	require.Len(t, pending, 2)

	hashes := map[string]bool{}
	for _, d := range pending {
		hashes[d.TxHash] = true
	}
	require.True(t, hashes["0x1"])
	require.True(t, hashes["0x4"])
}

func TestGasFundingMarkAndCheck(t *testing.T) {
	s := deposit.NewStore(memstore.New())

	ok, err := s.IsGasFunding("0xgas")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.MarkGasFunding("0xgas", "0xdeposit"))

	ok, err = s.IsGasFunding("0xgas")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestStartBlockSetAndDelete(t *testing.T) {
	s := deposit.NewStore(memstore.New())

	require.NoError(t, s.SetStartBlock("0xabc", 42))
	require.NoError(t, s.DeleteStartBlock("0xabc"))
}
