package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/d7561985/invest-ledger/pkg/ledger"
	"github.com/d7561985/invest-ledger/pkg/money"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadPolicyDefaults(t *testing.T) {
	p, err := LoadPolicy("")
	require.NoError(t, err)

	def := ledger.DefaultPolicy()
	assert.Equal(t, def.MinDeposit, p.MinDeposit)
	assert.Equal(t, def.MilestoneBonus, p.MilestoneBonus)
	assert.True(t, def.DailyRate.Equal(p.DailyRate))
	assert.True(t, def.ReferralRate.Equal(p.ReferralRate))
	assert.Equal(t, def.TermDays, p.TermDays)
}

func TestLoadPolicyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
min_deposit: 5000
daily_rate: "0.05"
term_days: 60
chat_bonus: "250.50"
`), 0o600))

	p, err := LoadPolicy(path)
	require.NoError(t, err)

	assert.Equal(t, money.New(5000), p.MinDeposit)
	assert.True(t, decimal.RequireFromString("0.05").Equal(p.DailyRate))
	assert.Equal(t, 60, p.TermDays)
	assert.Equal(t, money.FromMinor(25050), p.ChatBonus)
	assert.Equal(t, money.New(100), p.MinWithdrawal)
}

func TestLoadPolicyEnv(t *testing.T) {
	t.Setenv("LEDGER_REFERRAL_RATE", "0.1")
	t.Setenv("LEDGER_MILESTONE_REFERRALS", "10")

	p, err := LoadPolicy("")
	require.NoError(t, err)

	assert.True(t, decimal.RequireFromString("0.1").Equal(p.ReferralRate))
	assert.EqualValues(t, 10, p.MilestoneReferrals)
}

func TestLoadPolicyInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")

	tests := map[string]string{
		"bad amount":   "min_deposit: abc\n",
		"sub-minor":    "chat_bonus: \"1.005\"\n",
		"bad rate":     "daily_rate: x\n",
		"invalid term": "term_days: 0\n",
	}

	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

			_, err := LoadPolicy(path)
			assert.Error(t, err)
		})
	}

	_, err := LoadPolicy(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
