package ledger

import (
	"sync"
	"testing"

	"github.com/d7561985/invest-ledger/pkg/money"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockerReleasesEntries(t *testing.T) {
	l := newLocker()

	var (
		wg      sync.WaitGroup
		counter int
	)

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			unlock := l.Lock("a")
			counter++
			unlock()

			runlock := l.RLock("b")
			runlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 100, counter)
	assert.Empty(t, l.locks)
}

func TestPolicyValidate(t *testing.T) {
	require.NoError(t, DefaultPolicy().Validate())

	tests := []struct {
		name   string
		mutate func(p *Policy)
	}{
		{"min deposit", func(p *Policy) { p.MinDeposit = 0 }},
		{"min withdrawal", func(p *Policy) { p.MinWithdrawal = money.New(-1) }},
		{"term", func(p *Policy) { p.TermDays = 0 }},
		{"rate", func(p *Policy) { p.DailyRate = decimal.Zero }},
		{"referral rate", func(p *Policy) { p.ReferralRate = decimal.RequireFromString("1.5") }},
		{"bonus", func(p *Policy) { p.ChatBonus = money.New(-5) }},
		{"milestone", func(p *Policy) { p.MilestoneReferrals = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultPolicy()
			tt.mutate(&p)
			assert.Error(t, p.Validate())
		})
	}
}

func TestMinLength(t *testing.T) {
	v := MinLength(16)

	assert.NoError(t, v("4111 1111 1111 1111"))
	assert.NoError(t, v("UQAbcdefghijklmnopqrstuvwxyz"))
	assert.Error(t, v("4111 1111 1111"))
	assert.Error(t, v("                    "))
}

func TestReferralTxIDIsStable(t *testing.T) {
	id := newID()

	assert.Equal(t, referralTxID(id), referralTxID(id))
	assert.NotEqual(t, referralTxID(id), referralTxID(newID()))
}

func TestNewReferralCode(t *testing.T) {
	seen := make(map[string]bool)

	for i := 0; i < 1000; i++ {
		code, err := newReferralCode()
		require.NoError(t, err)
		require.Len(t, code, referralCodeLen)

		for _, r := range code {
			assert.Contains(t, referralCodeAlphabet, string(r))
		}

		seen[code] = true
	}

	assert.Greater(t, len(seen), 990)
}

// Every alphabet symbol is equally likely. A byte-modulo draw would favour
// the first 256%36 symbols by 8/7.
func TestReferralCodeIsUniform(t *testing.T) {
	counts := make(map[rune]int)

	const codes = 10_000
	for i := 0; i < codes; i++ {
		code, err := newReferralCode()
		require.NoError(t, err)

		for _, r := range code {
			counts[r]++
		}
	}

	head := counts['A'] + counts['B'] + counts['C'] + counts['D']
	want := codes * referralCodeLen * 4 / len(referralCodeAlphabet)

	assert.InDelta(t, want, head, 400, "A-D drawn %d times", head)
	assert.Len(t, counts, len(referralCodeAlphabet))
}
