// Package money holds the fixed-point amount used by every ledger component.
//
// Amounts are kept as an integer count of minor units (kopecks), so repeated
// summation never drifts. Rates are applied through decimal arithmetic and
// rounded back to a whole minor unit exactly once per multiplication.
package money

import (
	"bytes"
	"encoding/json"
	"math"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// Scale is the number of fractional digits kept by Money.
const Scale = 2

// Money is an amount in minor units.
type Money int64

const Zero Money = 0

// Max bounds parsed input well below int64 overflow for any sum the ledger builds.
const Max Money = math.MaxInt64 / 1000

var (
	ErrPrecision = errors.New("amount has more than two fractional digits")
	ErrRange     = errors.New("amount out of range")
	ErrSyntax    = errors.New("amount is not a decimal number")
)

var minorUnit = decimal.New(1, Scale)

// New returns a whole amount of major units.
func New(major int64) Money {
	return Money(major * 100)
}

// FromMinor wraps a raw count of minor units.
func FromMinor(minor int64) Money {
	return Money(minor)
}

// Parse reads a decimal string such as "1000" or "12.50".
func Parse(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, errors.Wrapf(ErrSyntax, "%q", s)
	}

	return FromDecimal(d)
}

// FromDecimal converts d to Money. Sub-minor precision is an error, not a rounding.
func FromDecimal(d decimal.Decimal) (Money, error) {
	minor := d.Mul(minorUnit)
	if !minor.Equal(minor.Truncate(0)) {
		return 0, errors.Wrapf(ErrPrecision, "%s", d.String())
	}

	if minor.Abs().GreaterThan(decimal.NewFromInt(int64(Max))) {
		return 0, errors.Wrapf(ErrRange, "%s", d.String())
	}

	return Money(minor.IntPart()), nil
}

func (m Money) Minor() int64 { return int64(m) }

func (m Money) Decimal() decimal.Decimal {
	return decimal.New(int64(m), -Scale)
}

func (m Money) Add(o Money) Money { return m + o }

func (m Money) Sub(o Money) Money { return m - o }

// MulRate multiplies by rate and rounds half away from zero to a minor unit.
func (m Money) MulRate(rate decimal.Decimal) Money {
	return Money(decimal.NewFromInt(int64(m)).Mul(rate).Round(0).IntPart())
}

func (m Money) Cmp(o Money) int {
	switch {
	case m < o:
		return -1
	case m > o:
		return 1
	}

	return 0
}

func (m Money) IsZero() bool     { return m == 0 }
func (m Money) IsNegative() bool { return m < 0 }
func (m Money) IsPositive() bool { return m > 0 }

// String formats with exactly two fractional digits.
func (m Money) String() string {
	return m.Decimal().StringFixed(Scale)
}

func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

// UnmarshalJSON accepts both "12.50" and 12.50.
func (m *Money) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		return errors.WithStack(ErrSyntax)
	}

	s := string(b)
	if len(b) > 0 && b[0] == '"' {
		if err := json.Unmarshal(b, &s); err != nil {
			return errors.WithStack(err)
		}
	}

	v, err := Parse(s)
	if err != nil {
		return err
	}

	*m = v
	return nil
}

// Sum adds all amounts.
func Sum(ms ...Money) Money {
	var s Money
	for _, m := range ms {
		s += m
	}

	return s
}

func Min(a, b Money) Money {
	if a < b {
		return a
	}

	return b
}

// NonNegative clamps m at zero.
func NonNegative(m Money) Money {
	if m < 0 {
		return 0
	}

	return m
}
