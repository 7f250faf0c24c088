package ledger

import (
	"context"
	"time"

	"github.com/d7561985/invest-ledger/pkg/accrual"
	"github.com/d7561985/invest-ledger/pkg/agregate/account"
	"github.com/d7561985/invest-ledger/pkg/agregate/transaction"
	"github.com/d7561985/invest-ledger/pkg/money"
	"github.com/pkg/errors"
)

type DepositView struct {
	account.Deposit

	Accrued  money.Money `json:"accrued"`
	FullTerm money.Money `json:"fullTerm"`
	Daily    money.Money `json:"daily"`
	Maturity time.Time   `json:"maturity"`
	Active   bool        `json:"active"`
}

// AccountView is the read model handed to every consumer. All of it is read
// under one account read lock and evaluated at AsOf.
type AccountView struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	ReferralCode string    `json:"referralCode"`
	ReferredBy   string    `json:"referredBy,omitempty"`
	AsOf         time.Time `json:"asOf"`

	// Balance is the stored balance plus profit accrued but not yet settled.
	Balance        money.Money `json:"balance"`
	Unsettled      money.Money `json:"unsettled"`
	TotalInvested  money.Money `json:"totalInvested"`
	TotalWithdrawn money.Money `json:"totalWithdrawn"`
	Reserved       money.Money `json:"reserved"`
	Available      money.Money `json:"available"`
	DailyIncome    money.Money `json:"dailyIncome"`
	ActiveDeposits int64       `json:"activeDeposits"`

	Referrals          account.ReferralSummary `json:"referrals"`
	ChatBonusClaimed   bool                    `json:"chatBonusClaimed"`
	MilestoneBonusPaid bool                    `json:"milestoneBonusPaid"`

	Deposits []DepositView `json:"deposits"`
	// Transactions are newest first.
	Transactions []transaction.Transaction `json:"transactions"`
}

// Snapshot evaluates the account at now without writing anything.
func (l *Ledger) Snapshot(ctx context.Context, accountID string, now time.Time) (*AccountView, error) {
	unlock := l.locks.RLock(accountID)
	defer unlock()

	acc, err := l.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	deposits, err := l.store.ListDeposits(ctx, accountID)
	if err != nil {
		return nil, err
	}

	txs, err := l.store.ListTransactions(ctx, accountID)
	if err != nil {
		return nil, err
	}

	v := &AccountView{
		ID:                 acc.ID,
		Username:           acc.Username,
		ReferralCode:       acc.ReferralCode,
		ReferredBy:         acc.ReferredBy,
		AsOf:               now.UTC(),
		TotalInvested:      acc.TotalInvested,
		TotalWithdrawn:     acc.TotalWithdrawn,
		Reserved:           reserved(txs),
		Referrals:          acc.Referrals,
		ChatBonusClaimed:   acc.ChatBonusClaimed,
		MilestoneBonusPaid: acc.MilestoneBonusPaid,
		Deposits:           make([]DepositView, 0, len(deposits)),
		Transactions:       newestFirst(txs),
	}

	for _, d := range deposits {
		dv := DepositView{
			Deposit:  d,
			Accrued:  accrual.Accrue(d, now),
			FullTerm: accrual.FullTerm(d),
			Daily:    accrual.Daily(d),
			Maturity: d.Maturity(),
			Active:   d.Active(now),
		}

		if !d.Closed {
			v.Unsettled = v.Unsettled.Add(accrual.Unsettled(d, now))
		}

		if dv.Active {
			v.ActiveDeposits++
			v.DailyIncome = v.DailyIncome.Add(dv.Daily)
		}

		v.Deposits = append(v.Deposits, dv)
	}

	v.Balance = acc.Balance.Add(v.Unsettled)
	v.Available = money.NonNegative(v.Balance.Sub(acc.TotalInvested).Sub(v.Reserved))

	return v, nil
}

// Totals is the account state rebuilt from successful log entries.
type Totals struct {
	Balance   money.Money `json:"balance"`
	Invested  money.Money `json:"invested"`
	Withdrawn money.Money `json:"withdrawn"`
	Profit    money.Money `json:"profit"`
	Referral  money.Money `json:"referral"`
	Bonus     money.Money `json:"bonus"`
}

// Reconstruct sums the log: balance = invested + profit + referral + bonus - withdrawn.
func Reconstruct(txs []transaction.Transaction) Totals {
	var t Totals

	for _, tx := range txs {
		if tx.Status != transaction.Success {
			continue
		}

		switch tx.Type {
		case transaction.Deposit:
			t.Invested = t.Invested.Add(tx.Amount)
		case transaction.Withdrawal:
			t.Withdrawn = t.Withdrawn.Add(tx.Amount)
		case transaction.Profit:
			t.Profit = t.Profit.Add(tx.Amount)
		case transaction.Referral:
			t.Referral = t.Referral.Add(tx.Amount)
		case transaction.Bonus:
			t.Bonus = t.Bonus.Add(tx.Amount)
		}
	}

	t.Balance = money.Sum(t.Invested, t.Profit, t.Referral, t.Bonus).Sub(t.Withdrawn)

	return t
}

// Audit checks the stored account against its own log.
func (l *Ledger) Audit(ctx context.Context, accountID string) (Totals, error) {
	unlock := l.locks.RLock(accountID)
	defer unlock()

	acc, err := l.store.GetAccount(ctx, accountID)
	if err != nil {
		return Totals{}, err
	}

	txs, err := l.store.ListTransactions(ctx, accountID)
	if err != nil {
		return Totals{}, err
	}

	t := Reconstruct(txs)

	switch {
	case t.Balance != acc.Balance:
		return t, errors.Wrapf(ErrAuditMismatch, "%s balance: stored %s, log %s", accountID, acc.Balance, t.Balance)
	case t.Invested != acc.TotalInvested:
		return t, errors.Wrapf(ErrAuditMismatch, "%s invested: stored %s, log %s", accountID, acc.TotalInvested, t.Invested)
	case t.Withdrawn != acc.TotalWithdrawn:
		return t, errors.Wrapf(ErrAuditMismatch, "%s withdrawn: stored %s, log %s", accountID, acc.TotalWithdrawn, t.Withdrawn)
	case t.Referral != acc.Referrals.Income:
		return t, errors.Wrapf(ErrAuditMismatch, "%s referral income: stored %s, log %s", accountID, acc.Referrals.Income, t.Referral)
	}

	return t, nil
}

func (l *Ledger) ClaimMilestoneBonus(ctx context.Context, accountID string) (money.Money, error) {
	return l.Bonuses.CheckReferralMilestone(ctx, accountID)
}

func (l *Ledger) RetryReferralCredit(ctx context.Context, depositTxID string) error {
	return l.Referrals.RetryReferralCredit(ctx, depositTxID)
}

func (l *Ledger) RetryReferralRecord(ctx context.Context, refereeID string) error {
	return l.Referrals.RetryReferralRecord(ctx, refereeID)
}
