package ledger

import (
	"context"
	"time"

	"github.com/d7561985/invest-ledger/pkg/accrual"
	"github.com/d7561985/invest-ledger/pkg/agregate/account"
	"github.com/d7561985/invest-ledger/pkg/agregate/transaction"
	"github.com/d7561985/invest-ledger/pkg/changing"
	"github.com/d7561985/invest-ledger/pkg/money"
	"go.uber.org/zap"
)

// settlement builds the change folding profit accrued up to now into the
// stored balance: one profit transaction per deposit with something new, and
// a close for every deposit past maturity.
func (c *core) settlement(accountID string, deposits []account.Deposit, now time.Time) changing.Change {
	ch := changing.Change{AccountID: accountID}

	for _, d := range deposits {
		if d.Closed {
			continue
		}

		s := changing.Settlement{DepositID: d.ID}

		if delta := accrual.Unsettled(d, now); delta.IsPositive() {
			tx := c.newTx(accountID, transaction.Profit, delta, transaction.Success)
			tx.Timestamp = now.UTC()
			tx.Source = d.ID

			ch.Append = append(ch.Append, tx)
			ch.Inc.Balance = ch.Inc.Balance.Add(delta)
			s.Settled = delta
		}

		if !d.Active(now) {
			s.Close = true
			ch.Inc.ActiveDeposits--
		}

		if s.Settled.IsPositive() || s.Close {
			ch.Settle = append(ch.Settle, s)
		}
	}

	return ch
}

// Settle folds accrued profit into the stored balance. Repeating it at the
// same instant is a no-op.
func (l *Ledger) Settle(ctx context.Context, accountID string, now time.Time) (*account.Account, error) {
	unlock := l.locks.Lock(accountID)
	defer unlock()

	acc, err := l.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	deposits, err := l.store.ListDeposits(ctx, accountID)
	if err != nil {
		return nil, err
	}

	ch := l.settlement(accountID, deposits, now)
	if len(ch.Settle) == 0 {
		return acc, nil
	}

	if acc, err = l.commit(ctx, ch); err != nil {
		return nil, err
	}

	l.log.Debug("profit settled",
		zap.String("account", accountID), zap.Stringer("amount", ch.Inc.Balance),
		zap.Int("deposits", len(ch.Settle)))

	return acc, nil
}

// reserved sums the pending withdrawals of a log.
func reserved(txs []transaction.Transaction) money.Money {
	var r money.Money
	for _, tx := range txs {
		if tx.Type == transaction.Withdrawal && tx.Status == transaction.Pending {
			r = r.Add(tx.Amount)
		}
	}

	return r
}
