package ledger

import (
	"context"

	"github.com/d7561985/invest-ledger/pkg/agregate/transaction"
	"github.com/d7561985/invest-ledger/pkg/changing"
	"github.com/d7561985/invest-ledger/pkg/money"
	"github.com/d7561985/invest-ledger/pkg/store"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	SourceChatBonus      = "chat"
	SourceMilestoneBonus = "referral_milestone"
)

type BonusStatus struct {
	ChatBonusClaimed   bool        `json:"chatBonusClaimed"`
	ChatBonus          money.Money `json:"chatBonus"`
	MilestoneBonusPaid bool        `json:"milestoneBonusPaid"`
	MilestoneBonus     money.Money `json:"milestoneBonus"`
	Referred           int64       `json:"referred"`
	Threshold          int64       `json:"threshold"`
}

// BonusTracker pays one-time bonuses. Each is guarded by a one-way flag that
// flips in the same commit as the credit.
type BonusTracker struct {
	*core
}

// ClaimChatBonus credits the chat bonus once per account.
func (b *BonusTracker) ClaimChatBonus(ctx context.Context, accountID string) (money.Money, error) {
	unlock := b.locks.Lock(accountID)
	defer unlock()

	acc, err := b.store.GetAccount(ctx, accountID)
	if err != nil {
		return 0, err
	}

	if acc.ChatBonusClaimed {
		return 0, errors.WithStack(ErrAlreadyClaimed)
	}

	return b.pay(ctx, accountID, b.policy.ChatBonus, SourceChatBonus, changing.Set{ChatBonusClaimed: true})
}

// CheckReferralMilestone pays the milestone bonus the first time the
// referral count reaches the threshold.
func (b *BonusTracker) CheckReferralMilestone(ctx context.Context, accountID string) (money.Money, error) {
	unlock := b.locks.Lock(accountID)
	defer unlock()

	acc, err := b.store.GetAccount(ctx, accountID)
	if err != nil {
		return 0, err
	}

	if acc.MilestoneBonusPaid {
		return 0, errors.WithStack(ErrAlreadyClaimed)
	}

	if acc.Referrals.TotalReferred < b.policy.MilestoneReferrals {
		return 0, errors.Wrapf(ErrMilestoneNotReached, "%d of %d", acc.Referrals.TotalReferred, b.policy.MilestoneReferrals)
	}

	return b.pay(ctx, accountID, b.policy.MilestoneBonus, SourceMilestoneBonus, changing.Set{MilestoneBonusPaid: true})
}

func (b *BonusTracker) pay(ctx context.Context, accountID string, amount money.Money, source string, flag changing.Set) (money.Money, error) {
	ch := changing.Change{
		AccountID: accountID,
		Set:       flag,
	}

	// a zero bonus still consumes the flag, but leaves no log entry
	if amount.IsPositive() {
		tx := b.newTx(accountID, transaction.Bonus, amount, transaction.Success)
		tx.Source = source

		ch.Inc.Balance = amount
		ch.Append = []transaction.Transaction{tx}
	}

	if _, err := b.commit(ctx, ch); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return 0, errors.WithStack(ErrAlreadyClaimed)
		}

		return 0, err
	}

	b.log.Info("bonus credited",
		zap.String("account", accountID), zap.String("bonus", source), zap.Stringer("amount", amount))

	return amount, nil
}

func (b *BonusTracker) Status(ctx context.Context, accountID string) (*BonusStatus, error) {
	unlock := b.locks.RLock(accountID)
	defer unlock()

	acc, err := b.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	return &BonusStatus{
		ChatBonusClaimed:   acc.ChatBonusClaimed,
		ChatBonus:          b.policy.ChatBonus,
		MilestoneBonusPaid: acc.MilestoneBonusPaid,
		MilestoneBonus:     b.policy.MilestoneBonus,
		Referred:           acc.Referrals.TotalReferred,
		Threshold:          b.policy.MilestoneReferrals,
	}, nil
}
