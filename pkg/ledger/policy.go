package ledger

import (
	"github.com/d7561985/invest-ledger/pkg/money"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// Policy is the product tier: thresholds, rates and bonus amounts.
type Policy struct {
	MinDeposit    money.Money
	MinWithdrawal money.Money

	TermDays  int
	DailyRate decimal.Decimal

	ReferralRate decimal.Decimal

	ChatBonus          money.Money
	MilestoneReferrals int64
	MilestoneBonus     money.Money

	DestinationMinLength int
}

func DefaultPolicy() Policy {
	return Policy{
		MinDeposit:           money.New(1000),
		MinWithdrawal:        money.New(100),
		TermDays:             30,
		DailyRate:            decimal.RequireFromString("0.106"),
		ReferralRate:         decimal.RequireFromString("0.25"),
		ChatBonus:            money.New(100),
		MilestoneReferrals:   25,
		MilestoneBonus:       money.New(2000),
		DestinationMinLength: 16,
	}
}

func (p Policy) Validate() error {
	switch {
	case !p.MinDeposit.IsPositive():
		return errors.New("policy: min deposit must be positive")
	case !p.MinWithdrawal.IsPositive():
		return errors.New("policy: min withdrawal must be positive")
	case p.TermDays <= 0:
		return errors.New("policy: term days must be positive")
	case !p.DailyRate.IsPositive():
		return errors.New("policy: daily rate must be positive")
	case p.ReferralRate.IsNegative() || p.ReferralRate.GreaterThan(decimal.NewFromInt(1)):
		return errors.New("policy: referral rate must be within [0, 1]")
	case p.ChatBonus.IsNegative() || p.MilestoneBonus.IsNegative():
		return errors.New("policy: bonuses must not be negative")
	case p.MilestoneReferrals <= 0:
		return errors.New("policy: milestone threshold must be positive")
	}

	return nil
}
