// Package accrual computes profit on deposit principal as a pure function of
// elapsed wall-clock time. Nothing here mutates state or needs locking.
package accrual

import (
	"time"

	"github.com/d7561985/invest-ledger/pkg/agregate/account"
	"github.com/d7561985/invest-ledger/pkg/money"
	"github.com/shopspring/decimal"
)

const Day = 24 * time.Hour

var dayNanos = decimal.NewFromInt(int64(Day))

// Accrue returns amount * dailyRate * elapsedDays where elapsed is clamped to
// [0, termDays]. The result is truncated to a minor unit, which keeps it
// monotonically non-decreasing in asOf.
func Accrue(d account.Deposit, asOf time.Time) money.Money {
	if !asOf.After(d.StartTime) {
		return 0
	}

	if end := d.Maturity(); asOf.After(end) {
		asOf = end
	}

	elapsed := decimal.NewFromInt(int64(asOf.Sub(d.StartTime)))
	num := decimal.NewFromInt(d.Amount.Minor()).Mul(d.DailyRate).Mul(elapsed)
	if !num.IsPositive() {
		return 0
	}

	q, _ := num.QuoRem(dayNanos, 0)

	return money.FromMinor(q.IntPart())
}

// FullTerm is the profit of a deposit held to maturity.
func FullTerm(d account.Deposit) money.Money {
	return Accrue(d, d.Maturity())
}

// Daily is the profit one full day of the term yields.
func Daily(d account.Deposit) money.Money {
	return d.Amount.MulRate(d.DailyRate)
}

// Unsettled is the accrued profit not yet folded into the balance.
func Unsettled(d account.Deposit, asOf time.Time) money.Money {
	return money.NonNegative(Accrue(d, asOf).Sub(d.Settled))
}
