package ledger

import (
	"context"

	"github.com/d7561985/invest-ledger/pkg/agregate/account"
	"github.com/d7561985/invest-ledger/pkg/agregate/transaction"
	"github.com/d7561985/invest-ledger/pkg/changing"
	"github.com/pkg/errors"
)

// TransactionLog is the append-only record of monetary events. Entries are
// never removed; the only mutation besides Append is a single status move out
// of pending.
type TransactionLog struct {
	*core
}

// Append stores tx at the end of its account's log, assigning an id and a
// timestamp when missing. A successful entry carries its balance effect in the
// same change. Deposits and withdrawals only succeed through their managers.
func (l *TransactionLog) Append(ctx context.Context, tx transaction.Transaction) (string, error) {
	if !tx.Type.Valid() {
		return "", errors.Errorf("append: unknown type %q", tx.Type)
	}

	if !tx.Status.Valid() {
		return "", errors.Errorf("append: unknown status %q", tx.Status)
	}

	if !tx.Amount.IsPositive() {
		return "", errors.Errorf("append: amount must be positive, got %s", tx.Amount)
	}

	if tx.Status == transaction.Success && managed(tx.Type) {
		return "", errors.Wrapf(ErrWrongType, "append: a successful %s needs its manager", tx.Type)
	}

	if tx.ID == "" {
		tx.ID = newID()
	}

	if tx.Timestamp.IsZero() {
		tx.Timestamp = l.now().UTC()
	}

	unlock := l.locks.Lock(tx.AccountID)
	defer unlock()

	ch := changing.Change{
		AccountID: tx.AccountID,
		Append:    []transaction.Transaction{tx},
	}
	if tx.Status == transaction.Success {
		ch.Inc = effect(tx)
	}

	if _, err := l.commit(ctx, ch); err != nil {
		return "", err
	}

	return tx.ID, nil
}

func (l *TransactionLog) Get(ctx context.Context, id string) (*transaction.Transaction, error) {
	return l.store.GetTransaction(ctx, id)
}

// List returns the account's log newest first.
func (l *TransactionLog) List(ctx context.Context, accountID string) ([]transaction.Transaction, error) {
	unlock := l.locks.RLock(accountID)
	defer unlock()

	txs, err := l.store.ListTransactions(ctx, accountID)
	if err != nil {
		return nil, err
	}

	return newestFirst(txs), nil
}

// UpdateStatus resolves a pending bonus, referral or profit entry, applying
// its balance effect on success. Deposits and withdrawals are refused with
// ErrWrongType: they resolve through DepositManager and WithdrawalManager.
func (l *TransactionLog) UpdateStatus(ctx context.Context, id string, to transaction.Status) (*transaction.Transaction, error) {
	tx, err := l.store.GetTransaction(ctx, id)
	if err != nil {
		return nil, err
	}

	if managed(tx.Type) {
		return nil, errors.Wrapf(ErrWrongType, "%s is a %s, resolve it through its manager", id, tx.Type)
	}

	tx, _, err = l.transition(ctx, id, tx.Type, to,
		func(tx transaction.Transaction, _ *account.Account) (changing.Change, error) {
			if to != transaction.Success {
				return changing.Change{}, nil
			}

			return changing.Change{Inc: effect(tx)}, nil
		})

	return tx, err
}

// managed types move account totals and deposit terms besides the balance.
func managed(t transaction.Type) bool {
	return t == transaction.Deposit || t == transaction.Withdrawal
}

// effect is the account increment of a successful unmanaged entry.
func effect(tx transaction.Transaction) changing.Inc {
	inc := changing.Inc{Balance: tx.Signed()}
	if tx.Type == transaction.Referral {
		inc.ReferralIncome = tx.Amount
	}

	return inc
}

// newestFirst returns a reversed copy; the store keeps creation order.
func newestFirst(txs []transaction.Transaction) []transaction.Transaction {
	out := make([]transaction.Transaction, len(txs))
	for i, tx := range txs {
		out[len(txs)-1-i] = tx
	}

	return out
}
