package ledger_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nnlgsakib/crypto-manager-engine/chainerrors"
	"github.com/nnlgsakib/crypto-manager-engine/ledger"
	"github.com/nnlgsakib/crypto-manager-engine/money"
	"github.com/nnlgsakib/crypto-manager-engine/store/memstore"
)

const (
	mind    = uint64(1)
	usdt    = "USDT"
)

func amt(t *testing.T, s string) money.Amount {
	t.Helper()
	a, err := money.Parse(s)
	require.NoError(t, err)
	return a
}

func TestCreditThenFreezeThenSettle(t *testing.T) {
	l := ledger.New(memstore.New())

	require.NoError(t, l.Credit("bob", mind, usdt, amt(t, "100.00")))

	require.NoError(t, l.Freeze("bob", mind, usdt, amt(t, "51.00")))
	bal, err := l.Get("bob", mind, usdt)
	require.NoError(t, err)
	require.Equal(t, "49.00", bal.Available.String())
	require.Equal(t, "51.00", bal.Frozen.String())

	require.NoError(t, l.Settle("bob", mind, usdt, amt(t, "51.00")))
	bal, err = l.Get("bob", mind, usdt)
	require.NoError(t, err)
	require.Equal(t, "49.00", bal.Available.String())
	require.Equal(t, "0.00", bal.Frozen.String())
}

func TestFreezeRejectsInsufficientAvailable(t *testing.T) {
	l := ledger.New(memstore.New())
	require.NoError(t, l.Credit("bob", mind, usdt, amt(t, "10.00")))

	err := l.Freeze("bob", mind, usdt, amt(t, "50.00"))
	require.Error(t, err)
	require.True(t, chainerrors.Is(err, chainerrors.KindInsufficientAvailable))
}

func TestSettleRejectsInsufficientFrozen(t *testing.T) {
	l := ledger.New(memstore.New())
	require.NoError(t, l.Credit("bob", mind, usdt, amt(t, "10.00")))
	require.NoError(t, l.Freeze("bob", mind, usdt, amt(t, "10.00")))

	err := l.Settle("bob", mind, usdt, amt(t, "20.00"))
	require.Error(t, err)
	require.True(t, chainerrors.Is(err, chainerrors.KindInsufficientFrozen))
}

func TestUnfreezeClampsOverUnfreezeInsteadOfFailing(t *testing.T) {
	l := ledger.New(memstore.New())
	require.NoError(t, l.Credit("bob", mind, usdt, amt(t, "10.00")))
	require.NoError(t, l.Freeze("bob", mind, usdt, amt(t, "10.00")))

	require.NoError(t, l.Unfreeze("bob", mind, usdt, amt(t, "999.00")))

	bal, err := l.Get("bob", mind, usdt)
	require.NoError(t, err)
	require.Equal(t, "10.00", bal.Available.String())
	require.Equal(t, "0.00", bal.Frozen.String())
}

func TestTransferIsAtomicBetweenUsers(t *testing.T) {
	l := ledger.New(memstore.New())
	require.NoError(t, l.Credit("alice", mind, usdt, amt(t, "100.00")))

	require.NoError(t, l.Transfer("alice", "bob", mind, usdt, amt(t, "30.00")))

	aliceBal, err := l.Get("alice", mind, usdt)
	require.NoError(t, err)
	bobBal, err := l.Get("bob", mind, usdt)
	require.NoError(t, err)

	require.Equal(t, "70.00", aliceBal.Available.String())
	require.Equal(t, "30.00", bobBal.Available.String())
}

func TestTransferRejectsInsufficientAvailableLeavesBothUntouched(t *testing.T) {
	l := ledger.New(memstore.New())
	require.NoError(t, l.Credit("alice", mind, usdt, amt(t, "5.00")))

	err := l.Transfer("alice", "bob", mind, usdt, amt(t, "30.00"))
	require.Error(t, err)

	aliceBal, err := l.Get("alice", mind, usdt)
	require.NoError(t, err)
	bobBal, err := l.Get("bob", mind, usdt)
	require.NoError(t, err)

	require.Equal(t, "5.00", aliceBal.Available.String())
	require.Equal(t, "0.00", bobBal.Available.String())
}
