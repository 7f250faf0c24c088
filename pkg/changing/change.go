package changing

import (
	"github.com/d7561985/invest-ledger/pkg/agregate/account"
	"github.com/d7561985/invest-ledger/pkg/agregate/transaction"
	"github.com/d7561985/invest-ledger/pkg/money"
	"github.com/d7561985/invest-ledger/pkg/store"
	"github.com/pkg/errors"
)

// Inc holds increments applied to an account record.
type Inc struct {
	Balance        money.Money
	TotalInvested  money.Money
	TotalWithdrawn money.Money
	ActiveDeposits int64

	TotalReferred  int64
	ActiveReferred int64
	ReferralIncome money.Money
}

func (i Inc) IsZero() bool {
	return i == Inc{}
}

// Set holds one-way flags. A true field may only flip false -> true; a store
// seeing the flag already set rejects the whole change with store.ErrConflict.
type Set struct {
	ChatBonusClaimed   bool
	MilestoneBonusPaid bool
}

type Transition struct {
	TxID string
	From transaction.Status
	To   transaction.Status
}

type Settlement struct {
	DepositID string
	Settled   money.Money
	Close     bool
}

// Change is one atomic unit of work against a single account. Stores apply
// every part or none.
type Change struct {
	AccountID string

	Inc Inc
	Set Set

	Transition *Transition
	// Referee records the account as counted for AccountID. A referee is
	// counted once; a repeat fails with store.ErrExists.
	Referee    string
	Append     []transaction.Transaction
	Deposit    *account.Deposit
	Settle     []Settlement
}

func (c Change) Validate() error {
	if c.AccountID == "" {
		return errors.New("change without account")
	}

	if c.Transition != nil {
		if err := transaction.CheckTransition(c.Transition.TxID, c.Transition.From, c.Transition.To); err != nil {
			return err
		}
	}

	if c.Referee == c.AccountID {
		return errors.Errorf("account %s cannot be its own referee", c.AccountID)
	}

	for _, tx := range c.Append {
		if tx.AccountID != c.AccountID {
			return errors.Errorf("transaction %s belongs to %s, change is for %s", tx.ID, tx.AccountID, c.AccountID)
		}
	}

	if c.Deposit != nil && c.Deposit.AccountID != c.AccountID {
		return errors.Errorf("deposit %s belongs to %s, change is for %s", c.Deposit.ID, c.Deposit.AccountID, c.AccountID)
	}

	return nil
}

// Apply mutates a in place, checking the flag guards first.
func (c Change) Apply(a *account.Account) error {
	if c.Set.ChatBonusClaimed && a.ChatBonusClaimed {
		return errors.Wrap(store.ErrConflict, "chat bonus already claimed")
	}

	if c.Set.MilestoneBonusPaid && a.MilestoneBonusPaid {
		return errors.Wrap(store.ErrConflict, "milestone bonus already paid")
	}

	a.Balance = a.Balance.Add(c.Inc.Balance)
	a.TotalInvested = a.TotalInvested.Add(c.Inc.TotalInvested)
	a.TotalWithdrawn = a.TotalWithdrawn.Add(c.Inc.TotalWithdrawn)
	a.ActiveDeposits += c.Inc.ActiveDeposits
	a.Referrals.TotalReferred += c.Inc.TotalReferred
	a.Referrals.ActiveReferred += c.Inc.ActiveReferred
	a.Referrals.Income = a.Referrals.Income.Add(c.Inc.ReferralIncome)

	a.ChatBonusClaimed = a.ChatBonusClaimed || c.Set.ChatBonusClaimed
	a.MilestoneBonusPaid = a.MilestoneBonusPaid || c.Set.MilestoneBonusPaid

	return nil
}
