package config

import (
	"strings"

	"github.com/d7561985/invest-ledger/pkg/ledger"
	"github.com/d7561985/invest-ledger/pkg/money"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// EnvPrefix scopes policy overrides, e.g. LEDGER_DAILY_RATE=0.1.
const EnvPrefix = "LEDGER"

// PolicyFile is the on-disk form of ledger.Policy. Amounts and rates are
// decimal strings so that no float ever touches them.
type PolicyFile struct {
	MinDeposit    string `mapstructure:"min_deposit"`
	MinWithdrawal string `mapstructure:"min_withdrawal"`

	TermDays  int    `mapstructure:"term_days"`
	DailyRate string `mapstructure:"daily_rate"`

	ReferralRate string `mapstructure:"referral_rate"`

	ChatBonus          string `mapstructure:"chat_bonus"`
	MilestoneReferrals int64  `mapstructure:"milestone_referrals"`
	MilestoneBonus     string `mapstructure:"milestone_bonus"`

	DestinationMinLength int `mapstructure:"destination_min_length"`
}

// LoadPolicy reads the policy from path, falling back to the defaults for
// every key the file and the environment leave out. An empty path reads the
// environment only.
func LoadPolicy(path string) (ledger.Policy, error) {
	v := viper.New()
	setDefaults(v, ledger.DefaultPolicy())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)

		if err := v.ReadInConfig(); err != nil {
			return ledger.Policy{}, errors.Wrapf(err, "read policy %s", path)
		}
	}

	var f PolicyFile
	if err := v.Unmarshal(&f); err != nil {
		return ledger.Policy{}, errors.Wrap(err, "decode policy")
	}

	p, err := f.Policy()
	if err != nil {
		return ledger.Policy{}, err
	}

	return p, p.Validate()
}

func setDefaults(v *viper.Viper, p ledger.Policy) {
	v.SetDefault("min_deposit", p.MinDeposit.String())
	v.SetDefault("min_withdrawal", p.MinWithdrawal.String())
	v.SetDefault("term_days", p.TermDays)
	v.SetDefault("daily_rate", p.DailyRate.String())
	v.SetDefault("referral_rate", p.ReferralRate.String())
	v.SetDefault("chat_bonus", p.ChatBonus.String())
	v.SetDefault("milestone_referrals", p.MilestoneReferrals)
	v.SetDefault("milestone_bonus", p.MilestoneBonus.String())
	v.SetDefault("destination_min_length", p.DestinationMinLength)
}

func (f PolicyFile) Policy() (ledger.Policy, error) {
	p := ledger.Policy{
		TermDays:             f.TermDays,
		MilestoneReferrals:   f.MilestoneReferrals,
		DestinationMinLength: f.DestinationMinLength,
	}

	amounts := []struct {
		key string
		raw string
		dst *money.Money
	}{
		{"min_deposit", f.MinDeposit, &p.MinDeposit},
		{"min_withdrawal", f.MinWithdrawal, &p.MinWithdrawal},
		{"chat_bonus", f.ChatBonus, &p.ChatBonus},
		{"milestone_bonus", f.MilestoneBonus, &p.MilestoneBonus},
	}

	for _, a := range amounts {
		m, err := money.Parse(a.raw)
		if err != nil {
			return ledger.Policy{}, errors.Wrapf(err, "policy %s", a.key)
		}
		*a.dst = m
	}

	rates := []struct {
		key string
		raw string
		dst *decimal.Decimal
	}{
		{"daily_rate", f.DailyRate, &p.DailyRate},
		{"referral_rate", f.ReferralRate, &p.ReferralRate},
	}

	for _, r := range rates {
		d, err := decimal.NewFromString(r.raw)
		if err != nil {
			return ledger.Policy{}, errors.Wrapf(err, "policy %s", r.key)
		}
		*r.dst = d
	}

	return p, nil
}
