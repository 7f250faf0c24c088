package ledger

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/d7561985/invest-ledger/pkg/agregate/account"
	"github.com/d7561985/invest-ledger/pkg/agregate/transaction"
	"github.com/d7561985/invest-ledger/pkg/changing"
	"github.com/d7561985/invest-ledger/pkg/money"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// DestinationValidator checks a payout destination (card number, wallet).
type DestinationValidator func(destination string) error

// MinLength accepts destinations with at least n non-space characters.
func MinLength(n int) DestinationValidator {
	return func(destination string) error {
		d := strings.Map(func(r rune) rune {
			if unicode.IsSpace(r) {
				return -1
			}
			return r
		}, destination)

		if len(d) < n {
			return fmt.Errorf("must have at least %d characters", n)
		}

		return nil
	}
}

// WithdrawalManager creates payout requests and resolves them once the
// payout collaborator reports back.
type WithdrawalManager struct {
	*core
}

// CreateWithdrawal validates, in order, the minimum amount, the destination
// and the available balance, then records a pending withdrawal. The balance
// is debited on confirmation; until then the amount is reserved against
// further requests. Profit accrued so far is settled in the same commit so
// it counts as available.
func (m *WithdrawalManager) CreateWithdrawal(ctx context.Context, accountID string, amount money.Money, destination string) (*transaction.Transaction, error) {
	if amount.Cmp(m.policy.MinWithdrawal) < 0 {
		return nil, &ValidationError{Reason: BelowMinimum, Field: "amount", Minimum: m.policy.MinWithdrawal}
	}

	if err := m.destination(destination); err != nil {
		return nil, &ValidationError{Reason: InvalidDestination, Field: "destination", Detail: err.Error()}
	}

	unlock := m.locks.Lock(accountID)
	defer unlock()

	acc, err := m.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	deposits, err := m.store.ListDeposits(ctx, accountID)
	if err != nil {
		return nil, err
	}

	txs, err := m.store.ListTransactions(ctx, accountID)
	if err != nil {
		return nil, err
	}

	ch := m.settlement(accountID, deposits, m.now())

	available := acc.Balance.Add(ch.Inc.Balance).Sub(acc.TotalInvested).Sub(reserved(txs))
	if amount.Cmp(available) > 0 {
		return nil, &ValidationError{
			Reason:    InsufficientAvailable,
			Field:     "amount",
			Available: money.NonNegative(available),
		}
	}

	tx := m.newTx(accountID, transaction.Withdrawal, amount, transaction.Pending)
	tx.Destination = destination
	ch.Append = append(ch.Append, tx)

	if _, err = m.commit(ctx, ch); err != nil {
		return nil, err
	}

	m.log.Info("withdrawal requested",
		zap.String("account", accountID), zap.String("tx", tx.ID), zap.Stringer("amount", amount))

	return &tx, nil
}

// ConfirmWithdrawal debits the balance and counts the amount as withdrawn.
func (m *WithdrawalManager) ConfirmWithdrawal(ctx context.Context, txID string) (*transaction.Transaction, error) {
	tx, _, err := m.transition(ctx, txID, transaction.Withdrawal, transaction.Success,
		func(tx transaction.Transaction, acc *account.Account) (changing.Change, error) {
			available := acc.Balance.Sub(acc.TotalInvested)
			if tx.Amount.Cmp(available) > 0 {
				return changing.Change{}, errors.WithStack(&ValidationError{
					Reason:    InsufficientAvailable,
					Field:     "amount",
					Available: money.NonNegative(available),
				})
			}

			return changing.Change{
				Inc: changing.Inc{
					Balance:        -tx.Amount,
					TotalWithdrawn: tx.Amount,
				},
			}, nil
		})
	if err != nil {
		return nil, err
	}

	m.log.Info("withdrawal confirmed",
		zap.String("account", tx.AccountID), zap.String("tx", tx.ID), zap.Stringer("amount", tx.Amount))

	return tx, nil
}

// RejectWithdrawal releases the reservation; nothing was debited.
func (m *WithdrawalManager) RejectWithdrawal(ctx context.Context, txID string) (*transaction.Transaction, error) {
	tx, _, err := m.transition(ctx, txID, transaction.Withdrawal, transaction.Rejected, nil)
	if err != nil {
		return nil, err
	}

	m.log.Info("withdrawal rejected", zap.String("account", tx.AccountID), zap.String("tx", tx.ID))

	return tx, nil
}
