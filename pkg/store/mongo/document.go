package mongo

import (
	"time"

	"github.com/d7561985/invest-ledger/pkg/agregate/account"
	"github.com/d7561985/invest-ledger/pkg/agregate/transaction"
	"github.com/d7561985/invest-ledger/pkg/changing"
	"github.com/d7561985/invest-ledger/pkg/money"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
)

// Money is stored as int64 minor units, never as a double.
type Account struct {
	ID           string    `bson:"_id"`
	Username     string    `bson:"username"`
	ReferralCode string    `bson:"referralCode"`
	ReferredBy   string    `bson:"referredBy,omitempty"`
	CreatedAt    time.Time `bson:"createdAt"`

	AccountInc `bson:",inline"`
	AccountSet `bson:",inline"`

	// Seq numbers the account's log entries in creation order.
	Seq int64 `bson:"seq"`
}

type AccountInc struct {
	Balance        int64 `bson:"balance"`
	TotalInvested  int64 `bson:"totalInvested"`
	TotalWithdrawn int64 `bson:"totalWithdrawn"`
	ActiveDeposits int64 `bson:"activeDeposits"`

	TotalReferred  int64 `bson:"totalReferred"`
	ActiveReferred int64 `bson:"activeReferred"`
	ReferralIncome int64 `bson:"referralIncome"`
}

type AccountSet struct {
	ChatBonusClaimed   bool `bson:"chatBonusClaimed"`
	MilestoneBonusPaid bool `bson:"milestoneBonusPaid"`
}

func NewAccount(in account.Account) Account {
	return Account{
		ID:           in.ID,
		Username:     in.Username,
		ReferralCode: in.ReferralCode,
		ReferredBy:   in.ReferredBy,
		CreatedAt:    in.CreatedAt,
		AccountInc: AccountInc{
			Balance:        in.Balance.Minor(),
			TotalInvested:  in.TotalInvested.Minor(),
			TotalWithdrawn: in.TotalWithdrawn.Minor(),
			ActiveDeposits: in.ActiveDeposits,
			TotalReferred:  in.Referrals.TotalReferred,
			ActiveReferred: in.Referrals.ActiveReferred,
			ReferralIncome: in.Referrals.Income.Minor(),
		},
		AccountSet: AccountSet{
			ChatBonusClaimed:   in.ChatBonusClaimed,
			MilestoneBonusPaid: in.MilestoneBonusPaid,
		},
	}
}

func (a Account) Domain() *account.Account {
	return &account.Account{
		ID:             a.ID,
		Username:       a.Username,
		ReferralCode:   a.ReferralCode,
		ReferredBy:     a.ReferredBy,
		CreatedAt:      a.CreatedAt.UTC(),
		Balance:        money.FromMinor(a.Balance),
		TotalInvested:  money.FromMinor(a.TotalInvested),
		TotalWithdrawn: money.FromMinor(a.TotalWithdrawn),
		ActiveDeposits: a.ActiveDeposits,
		Referrals: account.ReferralSummary{
			TotalReferred:  a.TotalReferred,
			ActiveReferred: a.ActiveReferred,
			Income:         money.FromMinor(a.ReferralIncome),
		},
		ChatBonusClaimed:   a.ChatBonusClaimed,
		MilestoneBonusPaid: a.MilestoneBonusPaid,
	}
}

// NewInc maps the change increments onto account fields. Seq advances by the
// number of appended entries.
func NewInc(c changing.Change) bson.D {
	return bson.D{
		{Key: "balance", Value: c.Inc.Balance.Minor()},
		{Key: "totalInvested", Value: c.Inc.TotalInvested.Minor()},
		{Key: "totalWithdrawn", Value: c.Inc.TotalWithdrawn.Minor()},
		{Key: "activeDeposits", Value: c.Inc.ActiveDeposits},
		{Key: "totalReferred", Value: c.Inc.TotalReferred},
		{Key: "activeReferred", Value: c.Inc.ActiveReferred},
		{Key: "referralIncome", Value: c.Inc.ReferralIncome.Minor()},
		{Key: "seq", Value: int64(len(c.Append))},
	}
}

// NewSet returns the flags to raise and the filter guarding them: a flag is
// only ever set on a document where it is still false.
func NewSet(s changing.Set) (set, guard bson.D) {
	if s.ChatBonusClaimed {
		set = append(set, bson.E{Key: "chatBonusClaimed", Value: true})
		guard = append(guard, bson.E{Key: "chatBonusClaimed", Value: false})
	}

	if s.MilestoneBonusPaid {
		set = append(set, bson.E{Key: "milestoneBonusPaid", Value: true})
		guard = append(guard, bson.E{Key: "milestoneBonusPaid", Value: false})
	}

	return set, guard
}

type Transaction struct {
	ID          string    `bson:"_id"`
	AccountID   string    `bson:"accountId"`
	Seq         int64     `bson:"seq"`
	Type        string    `bson:"type"`
	Amount      int64     `bson:"amount"`
	Status      string    `bson:"status"`
	Timestamp   time.Time `bson:"timestamp"`
	Source      string    `bson:"source,omitempty"`
	Destination string    `bson:"destination,omitempty"`
}

func NewTransaction(in transaction.Transaction, seq int64) Transaction {
	return Transaction{
		ID:          in.ID,
		AccountID:   in.AccountID,
		Seq:         seq,
		Type:        string(in.Type),
		Amount:      in.Amount.Minor(),
		Status:      string(in.Status),
		Timestamp:   in.Timestamp,
		Source:      in.Source,
		Destination: in.Destination,
	}
}

func (t Transaction) Domain() transaction.Transaction {
	return transaction.Transaction{
		ID:          t.ID,
		AccountID:   t.AccountID,
		Type:        transaction.Type(t.Type),
		Amount:      money.FromMinor(t.Amount),
		Status:      transaction.Status(t.Status),
		Timestamp:   t.Timestamp.UTC(),
		Source:      t.Source,
		Destination: t.Destination,
	}
}

type Deposit struct {
	ID        string    `bson:"_id"`
	AccountID string    `bson:"accountId"`
	TxID      string    `bson:"txId"`
	Amount    int64     `bson:"amount"`
	StartTime time.Time `bson:"startTime"`
	TermDays  int       `bson:"termDays"`
	// decimal string, e.g. "0.106"
	DailyRate string `bson:"dailyRate"`
	Settled   int64  `bson:"settled"`
	Closed    bool   `bson:"closed"`
}

func NewDeposit(in account.Deposit) Deposit {
	return Deposit{
		ID:        in.ID,
		AccountID: in.AccountID,
		TxID:      in.TxID,
		Amount:    in.Amount.Minor(),
		StartTime: in.StartTime,
		TermDays:  in.TermDays,
		DailyRate: in.DailyRate.String(),
		Settled:   in.Settled.Minor(),
		Closed:    in.Closed,
	}
}

func (d Deposit) Domain() (account.Deposit, error) {
	rate, err := decimal.NewFromString(d.DailyRate)
	if err != nil {
		return account.Deposit{}, errors.Wrapf(err, "deposit %s rate", d.ID)
	}

	return account.Deposit{
		ID:        d.ID,
		AccountID: d.AccountID,
		TxID:      d.TxID,
		Amount:    money.FromMinor(d.Amount),
		StartTime: d.StartTime.UTC(),
		TermDays:  d.TermDays,
		DailyRate: rate,
		Settled:   money.FromMinor(d.Settled),
		Closed:    d.Closed,
	}, nil
}

// Referral marks a referee as counted. _id is the referee, so a second
// insert for the same referee is a duplicate key.
type Referral struct {
	RefereeID  string `bson:"_id"`
	ReferrerID string `bson:"referrerId"`
}
