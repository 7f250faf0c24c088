package ledger

import (
	"context"

	"github.com/d7561985/invest-ledger/pkg/agregate/account"
	"github.com/d7561985/invest-ledger/pkg/agregate/transaction"
	"github.com/d7561985/invest-ledger/pkg/changing"
	"github.com/d7561985/invest-ledger/pkg/money"
	"go.uber.org/zap"
)

// DepositManager creates deposit requests and resolves them once the payment
// collaborator has verified the funds.
type DepositManager struct {
	*core

	referrals *ReferralEngine
}

// CreateDeposit records a pending deposit. Amounts under the policy minimum
// are rejected before anything is written.
func (m *DepositManager) CreateDeposit(ctx context.Context, accountID string, amount money.Money) (*transaction.Transaction, error) {
	if amount.Cmp(m.policy.MinDeposit) < 0 {
		return nil, &ValidationError{Reason: BelowMinimum, Field: "amount", Minimum: m.policy.MinDeposit}
	}

	unlock := m.locks.Lock(accountID)
	defer unlock()

	if _, err := m.store.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}

	tx := m.newTx(accountID, transaction.Deposit, amount, transaction.Pending)
	if _, err := m.commit(ctx, changing.Change{
		AccountID: accountID,
		Append:    []transaction.Transaction{tx},
	}); err != nil {
		return nil, err
	}

	m.log.Info("deposit requested",
		zap.String("account", accountID), zap.String("tx", tx.ID), zap.Stringer("amount", amount))

	return &tx, nil
}

// ConfirmDeposit marks the deposit successful, opens its accrual term and
// credits the principal. The referrer's commission follows as a separate
// step: if it fails the confirmation stands and RetryReferralCredit can
// replay it.
func (m *DepositManager) ConfirmDeposit(ctx context.Context, txID string) (*transaction.Transaction, error) {
	var dep account.Deposit

	tx, acc, err := m.transition(ctx, txID, transaction.Deposit, transaction.Success,
		func(tx transaction.Transaction, _ *account.Account) (changing.Change, error) {
			dep = account.Deposit{
				ID:        newID(),
				AccountID: tx.AccountID,
				TxID:      tx.ID,
				Amount:    tx.Amount,
				StartTime: m.now().UTC(),
				TermDays:  m.policy.TermDays,
				DailyRate: m.policy.DailyRate,
			}

			return changing.Change{
				Deposit: &dep,
				Inc: changing.Inc{
					Balance:        tx.Amount,
					TotalInvested:  tx.Amount,
					ActiveDeposits: 1,
				},
			}, nil
		})
	if err != nil {
		return nil, err
	}

	m.log.Info("deposit confirmed",
		zap.String("account", tx.AccountID), zap.String("tx", tx.ID),
		zap.String("deposit", dep.ID), zap.Stringer("amount", tx.Amount))

	if acc.ReferredBy != "" {
		m.call(BeforeReferralCredit)

		if err := m.referrals.OnRefereeDepositConfirmed(ctx, *tx); err != nil {
			m.log.Warn("referral credit failed, retry with the deposit transaction id",
				zap.String("tx", tx.ID), zap.String("referrer", acc.ReferredBy), zap.Error(err))
		}
	}

	return tx, nil
}

// RejectDeposit closes a pending deposit without any balance effect.
func (m *DepositManager) RejectDeposit(ctx context.Context, txID string) (*transaction.Transaction, error) {
	tx, _, err := m.transition(ctx, txID, transaction.Deposit, transaction.Rejected, nil)
	if err != nil {
		return nil, err
	}

	m.log.Info("deposit rejected", zap.String("account", tx.AccountID), zap.String("tx", tx.ID))

	return tx, nil
}
