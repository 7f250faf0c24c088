package accrual

import (
	"testing"
	"time"

	"github.com/d7561985/invest-ledger/pkg/agregate/account"
	"github.com/d7561985/invest-ledger/pkg/money"
	fuzz "github.com/google/gofuzz"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func deposit(amount money.Money) account.Deposit {
	return account.Deposit{
		ID:        "d1",
		Amount:    amount,
		StartTime: t0,
		TermDays:  30,
		DailyRate: decimal.RequireFromString("0.106"),
	}
}

func TestAccrueScenario(t *testing.T) {
	d := deposit(money.New(50000))

	assert.Equal(t, money.New(5300), Accrue(d, t0.Add(Day)))
	assert.Equal(t, money.New(159000), Accrue(d, t0.Add(30*Day)))
	assert.Equal(t, money.New(159000), Accrue(d, t0.Add(45*Day)))
	assert.Equal(t, money.New(159000), Accrue(d, t0.Add(10*365*Day)))
	assert.Equal(t, money.New(159000), FullTerm(d))
	assert.Equal(t, money.New(5300), Daily(d))
}

func TestAccrueBeforeStart(t *testing.T) {
	d := deposit(money.New(1000))

	assert.Equal(t, money.Zero, Accrue(d, t0))
	assert.Equal(t, money.Zero, Accrue(d, t0.Add(-time.Hour)))
	assert.Equal(t, money.Zero, Accrue(d, time.Time{}))
}

func TestAccruePartialDay(t *testing.T) {
	d := deposit(money.New(1000))

	// 1000 * 0.106 / 2 = 53
	assert.Equal(t, money.New(53), Accrue(d, t0.Add(12*time.Hour)))
	// 1000 * 0.106 / 86400 = 0.0012.. -> truncated to zero
	assert.Equal(t, money.Zero, Accrue(d, t0.Add(time.Second)))
}

// Folding increments at irregular instants ends on the same amount as one
// evaluation after the whole gap.
func TestAccrueGapIndependent(t *testing.T) {
	d := deposit(money.New(12345))
	end := t0.Add(7*Day + 3*time.Hour)

	var folded money.Money
	prev := t0
	for _, step := range []time.Duration{time.Minute, 17 * time.Minute, 5 * time.Hour, 3 * Day, 11 * time.Second} {
		at := prev.Add(step)
		folded = folded.Add(Accrue(d, at).Sub(Accrue(d, prev)))
		prev = at
	}
	folded = folded.Add(Accrue(d, end).Sub(Accrue(d, prev)))

	assert.Equal(t, Accrue(d, end), folded)
}

func TestAccrueMonotonic(t *testing.T) {
	f := fuzz.New().NilChance(0)

	for i := 0; i < 1000; i++ {
		var amount uint32
		var a, b uint64
		f.Fuzz(&amount)
		f.Fuzz(&a)
		f.Fuzz(&b)

		d := deposit(money.FromMinor(int64(amount) + 100000))
		span := int64(40 * Day)
		t1 := t0.Add(time.Duration(int64(a>>1) % span))
		t2 := t0.Add(time.Duration(int64(b>>1) % span))
		if t2.Before(t1) {
			t1, t2 = t2, t1
		}

		v1, v2 := Accrue(d, t1), Accrue(d, t2)
		assert.LessOrEqual(t, int64(v1), int64(v2))
		assert.False(t, v1.IsNegative())
		assert.LessOrEqual(t, int64(v2), int64(FullTerm(d)))
	}
}

func TestUnsettled(t *testing.T) {
	d := deposit(money.New(50000))
	d.Settled = money.New(5000)

	assert.Equal(t, money.New(300), Unsettled(d, t0.Add(Day)))
	assert.Equal(t, money.Zero, Unsettled(d, t0))
}
