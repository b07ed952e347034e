// Package money implements the fixed-point decimal arithmetic used
// everywhere a balance, deposit or withdrawal amount is represented. No
// floating-point value ever touches a ledger mutation; the only place a
// value is converted to or from an arbitrary-precision on-chain integer is
// at the boundary with a chain.Adapter.
package money

import (
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
)

// Scale is the number of fractional digits every Amount is normalised to.
const Scale = 2

// scaleFactor is 10^Scale, the number of Amount units ("cents") per whole
// unit of currency.
const scaleFactor = 100

// Amount is a decimal value scaled by 100, i.e. an Amount of 500 represents
// 5.00 of whatever currency it is denominated in. The zero value is zero.
// Sub keeps balance components non-negative; Parse and String also accept
// and render negative values.
type Amount int64

// Zero is the additive identity.
const Zero Amount = 0

// ErrOverflow is returned when an arithmetic operation would not be
// representable as a two-decimal fixed-point Amount.
var ErrOverflow = fmt.Errorf("amount: result is not representable as two-decimal fixed point")

// ErrNegative is returned when an operation would produce a negative
// Amount, which is never a valid balance component.
var ErrNegative = fmt.Errorf("amount: result would be negative")

// ErrInvalidDecimal is returned by Parse when the input isn't a valid
// base-10 decimal number.
var ErrInvalidDecimal = fmt.Errorf("amount: invalid decimal string")

// Add returns a+b, failing if the sum overflows.
func (a Amount) Add(b Amount) (Amount, error) {
	sum := int64(a) + int64(b)
	if (b > 0 && sum < int64(a)) || (b < 0 && sum > int64(a)) {
		return 0, ErrOverflow
	}
	return Amount(sum), nil
}

// Sub returns a-b, failing if the result would be negative.
func (a Amount) Sub(b Amount) (Amount, error) {
	if b > a {
		return 0, ErrNegative
	}
	return a - b, nil
}

// SubClamped returns a-b, clamped to zero instead of failing when b > a.
// This backs the ledger's deliberately lenient Unfreeze policy.
func (a Amount) SubClamped(b Amount) Amount {
	if b >= a {
		return 0
	}
	return a - b
}

// Cmp returns -1, 0 or 1 as a is less than, equal to, or greater than b.
func (a Amount) Cmp(b Amount) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// IsZero reports whether the amount is exactly zero.
func (a Amount) IsZero() bool { return a == 0 }

// String renders the amount as a fixed two-decimal string, e.g. "5.00".
func (a Amount) String() string {
	neg := ""
	v := int64(a)
	if v < 0 {
		neg = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", neg, v/scaleFactor, v%scaleFactor)
}

// Parse converts a decimal string such as "5", "5.1" or "5.004" into an
// Amount. Any fractional digits beyond Scale are truncated toward zero,
// never rounded — this is the one parsing primitive every debit path
// (withdrawal requests, freeze amounts) must go through.
func Parse(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrInvalidDecimal
	}

	neg := false
	if strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	}

	whole, frac, hasFrac := strings.Cut(s, ".")
	if whole == "" && !hasFrac {
		return 0, ErrInvalidDecimal
	}
	if whole == "" {
		whole = "0"
	}

	wholeVal, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, ErrInvalidDecimal
	}

	fracVal := int64(0)
	if hasFrac {
		if frac == "" {
			return 0, ErrInvalidDecimal
		}
		for _, r := range frac {
			if r < '0' || r > '9' {
				return 0, ErrInvalidDecimal
			}
		}
		// Truncate toward zero: only the first Scale digits count.
		if len(frac) > Scale {
			frac = frac[:Scale]
		}
		for len(frac) < Scale {
			frac += "0"
		}
		fracVal, err = strconv.ParseInt(frac, 10, 64)
		if err != nil {
			return 0, ErrInvalidDecimal
		}
	}

	if wholeVal > (math.MaxInt64-fracVal)/scaleFactor {
		return 0, ErrOverflow
	}

	total := wholeVal*scaleFactor + fracVal
	if neg {
		total = -total
	}

	return Amount(total), nil
}

// FromOnChainUnits truncates an arbitrary-precision on-chain integer amount
// (expressed with the given number of decimals) down to a two-decimal
// Amount. This is the sole conversion point from chain-native integer units
// to ledger money, and it always truncates toward zero — deposit and
// withdrawal math must never round up what a chain adapter reports.
func FromOnChainUnits(units *big.Int, decimals uint8) (Amount, error) {
	if units.Sign() < 0 {
		return 0, ErrNegative
	}

	num := new(big.Int).Mul(units, big.NewInt(scaleFactor))
	div := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)

	quo := new(big.Int).Quo(num, div)
	if !quo.IsInt64() {
		return 0, ErrOverflow
	}

	return Amount(quo.Int64()), nil
}

// ToOnChainUnits scales an Amount up to an integer on-chain representation
// with the given number of decimals.
func (a Amount) ToOnChainUnits(decimals uint8) *big.Int {
	units := big.NewInt(int64(a))
	mul := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	units.Mul(units, mul)
	units.Quo(units, big.NewInt(scaleFactor))
	return units
}
