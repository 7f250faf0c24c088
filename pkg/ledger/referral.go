package ledger

import (
	"context"

	"github.com/d7561985/invest-ledger/pkg/agregate/account"
	"github.com/d7561985/invest-ledger/pkg/agregate/transaction"
	"github.com/d7561985/invest-ledger/pkg/changing"
	"github.com/d7561985/invest-ledger/pkg/store"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// ReferralEngine counts referred accounts and pays commission on their
// confirmed deposits.
type ReferralEngine struct {
	*core

	bonuses *BonusTracker
}

// RecordReferral counts refereeID for referrerID. The back-reference itself
// is stored on the referee at registration and never changes. A referee is
// counted once; repeating the call only re-checks the milestone.
func (r *ReferralEngine) RecordReferral(ctx context.Context, referrerID, refereeID string) error {
	if referrerID == refereeID {
		return errors.WithStack(ErrSelfReferral)
	}

	referee, err := r.store.GetAccount(ctx, refereeID)
	if err != nil {
		return err
	}

	if referee.ReferredBy != referrerID {
		return errors.Errorf("account %s is not referred by %s", refereeID, referrerID)
	}

	unlock := r.locks.Lock(referrerID)
	acc, err := r.commit(ctx, changing.Change{
		AccountID: referrerID,
		Referee:   refereeID,
		Inc:       changing.Inc{TotalReferred: 1},
	})
	if errors.Is(err, store.ErrExists) {
		acc, err = r.store.GetAccount(ctx, referrerID)
	}
	unlock()

	if err != nil {
		return err
	}

	if acc.Referrals.TotalReferred < r.policy.MilestoneReferrals || acc.MilestoneBonusPaid {
		return nil
	}

	_, err = r.bonuses.CheckReferralMilestone(ctx, referrerID)
	if errors.Is(err, ErrAlreadyClaimed) || errors.Is(err, ErrMilestoneNotReached) {
		return nil
	}

	return err
}

// RetryReferralRecord replays RecordReferral for an account registered with a
// referrer whose count step failed. Accounts without a referrer are a no-op.
func (r *ReferralEngine) RetryReferralRecord(ctx context.Context, refereeID string) error {
	referee, err := r.store.GetAccount(ctx, refereeID)
	if err != nil {
		return err
	}

	if referee.ReferredBy == "" {
		return nil
	}

	return r.RecordReferral(ctx, referee.ReferredBy, refereeID)
}

// OnRefereeDepositConfirmed credits the referrer of the deposit's owner with
// the policy commission. The first credit per referee also counts it as
// active. Calling it again for the same deposit is a no-op.
func (r *ReferralEngine) OnRefereeDepositConfirmed(ctx context.Context, deposit transaction.Transaction) error {
	if deposit.Type != transaction.Deposit || deposit.Status != transaction.Success {
		return errors.Errorf("referral credit needs a confirmed deposit, got %s %s", deposit.Status, deposit.Type)
	}

	referee, err := r.store.GetAccount(ctx, deposit.AccountID)
	if err != nil {
		return err
	}

	if referee.ReferredBy == "" {
		return nil
	}

	commission := deposit.Amount.MulRate(r.policy.ReferralRate)
	if !commission.IsPositive() {
		return nil
	}

	referrerID := referee.ReferredBy
	id := referralTxID(deposit.ID)

	unlock := r.locks.Lock(referrerID)
	defer unlock()

	if _, err = r.store.GetTransaction(ctx, id); err == nil {
		return nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return err
	}

	txs, err := r.store.ListTransactions(ctx, referrerID)
	if err != nil {
		return err
	}

	var active int64 = 1
	for _, tx := range txs {
		if tx.Type == transaction.Referral && tx.Source == referee.ID {
			active = 0
			break
		}
	}

	tx := r.newTx(referrerID, transaction.Referral, commission, transaction.Success)
	tx.ID = id
	tx.Source = referee.ID

	_, err = r.commit(ctx, changing.Change{
		AccountID: referrerID,
		Inc: changing.Inc{
			Balance:        commission,
			ReferralIncome: commission,
			ActiveReferred: active,
		},
		Append: []transaction.Transaction{tx},
	})
	if errors.Is(err, store.ErrExists) {
		return nil
	}

	if err != nil {
		return err
	}

	r.log.Info("referral commission credited",
		zap.String("referrer", referrerID), zap.String("referee", referee.ID),
		zap.String("deposit", deposit.ID), zap.Stringer("amount", commission))

	return nil
}

// RetryReferralCredit replays the commission for a confirmed deposit whose
// credit step failed.
func (r *ReferralEngine) RetryReferralCredit(ctx context.Context, depositTxID string) error {
	tx, err := r.store.GetTransaction(ctx, depositTxID)
	if err != nil {
		return err
	}

	return r.OnRefereeDepositConfirmed(ctx, *tx)
}

func (r *ReferralEngine) Summary(ctx context.Context, accountID string) (account.ReferralSummary, error) {
	unlock := r.locks.RLock(accountID)
	defer unlock()

	acc, err := r.store.GetAccount(ctx, accountID)
	if err != nil {
		return account.ReferralSummary{}, err
	}

	return acc.Referrals, nil
}
