package account

import (
	"time"

	"github.com/d7561985/invest-ledger/pkg/money"
	"github.com/shopspring/decimal"
)

type ReferralSummary struct {
	TotalReferred  int64       `json:"totalReferred"`
	ActiveReferred int64       `json:"activeReferred"`
	Income         money.Money `json:"income"`
}

// Account is the persisted per-user record. Monetary fields only move through
// changing.Change so every store applies them the same way.
type Account struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	ReferralCode string    `json:"referralCode"`
	ReferredBy   string    `json:"referredBy,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`

	Balance        money.Money `json:"balance"`
	TotalInvested  money.Money `json:"totalInvested"`
	TotalWithdrawn money.Money `json:"totalWithdrawn"`
	ActiveDeposits int64       `json:"activeDeposits"`

	Referrals ReferralSummary `json:"referrals"`

	ChatBonusClaimed   bool `json:"chatBonusClaimed"`
	MilestoneBonusPaid bool `json:"milestoneBonusPaid"`
}

// Deposit is a confirmed principal placement accruing at DailyRate for TermDays.
type Deposit struct {
	ID        string          `json:"id"`
	AccountID string          `json:"accountId"`
	TxID      string          `json:"txId"`
	Amount    money.Money     `json:"amount"`
	StartTime time.Time       `json:"startTime"`
	TermDays  int             `json:"termDays"`
	DailyRate decimal.Decimal `json:"dailyRate"`

	// Settled is the profit already folded into the account balance.
	Settled money.Money `json:"settled"`
	Closed  bool        `json:"closed"`
}

func (d Deposit) Maturity() time.Time {
	return d.StartTime.Add(time.Duration(d.TermDays) * 24 * time.Hour)
}

// Active reports whether the term is still running at t.
func (d Deposit) Active(t time.Time) bool {
	return t.Before(d.Maturity())
}
