package money

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseTruncatesExcessPrecision(t *testing.T) {
	a, err := Parse("5.006")
	require.NoError(t, err)
	require.Equal(t, "5.00", a.String())

	a, err = Parse("0.0005")
	require.NoError(t, err)
	require.True(t, a.IsZero())
}

func TestParseRejectsGarbage(t *testing.T) {
	_, err := Parse("not-a-number")
	require.ErrorIs(t, err, ErrInvalidDecimal)

	_, err = Parse("")
	require.ErrorIs(t, err, ErrInvalidDecimal)
}

func TestAddSubRoundTrip(t *testing.T) {
	a, _ := Parse("10.00")
	b, _ := Parse("3.25")

	sum, err := a.Add(b)
	require.NoError(t, err)
	require.Equal(t, "13.25", sum.String())

	diff, err := sum.Sub(b)
	require.NoError(t, err)
	require.Equal(t, a, diff)

	_, err = b.Sub(a)
	require.ErrorIs(t, err, ErrNegative)
}

func TestSubClampedNeverNegative(t *testing.T) {
	a, _ := Parse("1.00")
	b, _ := Parse("5.00")

	require.Equal(t, Zero, a.SubClamped(b))

	diff := b.SubClamped(a)
	require.Equal(t, "4.00", diff.String())
}

func TestOnChainUnitConversionTruncates(t *testing.T) {
	// 100 USDT at 6 decimals -> 100_000000 units.
	units := big.NewInt(100_000000)
	amt, err := FromOnChainUnits(units, 6)
	require.NoError(t, err)
	require.Equal(t, "100.00", amt.String())

	back := amt.ToOnChainUnits(6)
	require.Equal(t, units.String(), back.String())

	// A dust remainder below 2-decimal precision is truncated, not
	// rounded, matching the debit-path truncation policy.
	dusty := big.NewInt(100_000999)
	amt, err = FromOnChainUnits(dusty, 6)
	require.NoError(t, err)
	require.Equal(t, "100.00", amt.String())
}

func TestFromOnChainUnitsRejectsNegative(t *testing.T) {
	_, err := FromOnChainUnits(big.NewInt(-1), 18)
	require.ErrorIs(t, err, ErrNegative)
}
