package memory

import (
	"context"
	"testing"
	"time"

	"github.com/d7561985/invest-ledger/pkg/agregate/account"
	"github.com/d7561985/invest-ledger/pkg/agregate/transaction"
	"github.com/d7561985/invest-ledger/pkg/changing"
	"github.com/d7561985/invest-ledger/pkg/money"
	"github.com/d7561985/invest-ledger/pkg/store"
	"github.com/d7561985/invest-ledger/pkg/store/storetest"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreContract(t *testing.T) {
	storetest.Run(t, New())
}

func seed(t *testing.T) (*Repo, context.Context) {
	r := New()
	ctx := context.TODO()
	require.NoError(t, r.CreateAccount(ctx, account.Account{ID: "a", ReferralCode: "CODE0001"}))

	return r, ctx
}

func pending(id string, typ transaction.Type, amount money.Money) transaction.Transaction {
	return transaction.Transaction{
		ID: id, AccountID: "a", Type: typ, Amount: amount,
		Status: transaction.Pending, Timestamp: time.Now(),
	}
}

func TestCreateAccount(t *testing.T) {
	r, ctx := seed(t)

	assert.ErrorIs(t, r.CreateAccount(ctx, account.Account{ID: "a", ReferralCode: "OTHER"}), store.ErrExists)
	assert.ErrorIs(t, r.CreateAccount(ctx, account.Account{ID: "b", ReferralCode: "CODE0001"}), store.ErrExists)

	a, err := r.FindByReferralCode(ctx, "CODE0001")
	require.NoError(t, err)
	assert.Equal(t, "a", a.ID)

	_, err = r.FindByReferralCode(ctx, "NOPE")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestApplyOrderAndTransition(t *testing.T) {
	r, ctx := seed(t)

	for _, id := range []string{"t1", "t2", "t3"} {
		_, err := r.Apply(ctx, changing.Change{
			AccountID: "a",
			Append:    []transaction.Transaction{pending(id, transaction.Deposit, money.New(1000))},
		})
		require.NoError(t, err)
	}

	txs, err := r.ListTransactions(ctx, "a")
	require.NoError(t, err)
	require.Len(t, txs, 3)
	assert.Equal(t, []string{"t1", "t2", "t3"}, []string{txs[0].ID, txs[1].ID, txs[2].ID})

	dep := account.Deposit{ID: "d1", AccountID: "a", TxID: "t2", Amount: money.New(1000), TermDays: 30, DailyRate: decimal.RequireFromString("0.106")}
	acc, err := r.Apply(ctx, changing.Change{
		AccountID:  "a",
		Transition: &changing.Transition{TxID: "t2", From: transaction.Pending, To: transaction.Success},
		Deposit:    &dep,
		Inc:        changing.Inc{Balance: money.New(1000), TotalInvested: money.New(1000), ActiveDeposits: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, money.New(1000), acc.Balance)

	tx, err := r.GetTransaction(ctx, "t2")
	require.NoError(t, err)
	assert.Equal(t, transaction.Success, tx.Status)

	_, err = r.Apply(ctx, changing.Change{
		AccountID:  "a",
		Transition: &changing.Transition{TxID: "t2", From: transaction.Pending, To: transaction.Rejected},
	})
	assert.ErrorIs(t, err, transaction.ErrInvalidTransition)

	_, err = r.Apply(ctx, changing.Change{
		AccountID: "a",
		Settle:    []changing.Settlement{{DepositID: "d1", Settled: money.New(10), Close: true}},
		Inc:       changing.Inc{Balance: money.New(10), ActiveDeposits: -1},
	})
	require.NoError(t, err)

	ds, err := r.ListDeposits(ctx, "a")
	require.NoError(t, err)
	require.Len(t, ds, 1)
	assert.Equal(t, money.New(10), ds[0].Settled)
	assert.True(t, ds[0].Closed)
}

func TestApplyIsAllOrNothing(t *testing.T) {
	r, ctx := seed(t)

	_, err := r.Apply(ctx, changing.Change{
		AccountID: "a",
		Set:       changing.Set{ChatBonusClaimed: true},
		Inc:       changing.Inc{Balance: money.New(100)},
	})
	require.NoError(t, err)

	_, err = r.Apply(ctx, changing.Change{
		AccountID: "a",
		Set:       changing.Set{ChatBonusClaimed: true},
		Inc:       changing.Inc{Balance: money.New(100)},
		Append:    []transaction.Transaction{pending("b1", transaction.Bonus, money.New(100))},
	})
	assert.ErrorIs(t, err, store.ErrConflict)

	a, err := r.GetAccount(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, money.New(100), a.Balance)

	_, err = r.GetTransaction(ctx, "b1")
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = r.Apply(ctx, changing.Change{
		AccountID: "a",
		Append: []transaction.Transaction{
			pending("dup", transaction.Deposit, money.New(1000)),
			pending("dup", transaction.Deposit, money.New(1000)),
		},
	})
	assert.ErrorIs(t, err, store.ErrExists)

	_, err = r.Apply(ctx, changing.Change{AccountID: "missing"})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestFailApply(t *testing.T) {
	r, ctx := seed(t)

	r.FailApply = func(c changing.Change) error {
		if c.Inc.Balance.IsPositive() {
			return errors.New("down")
		}
		return nil
	}

	_, err := r.Apply(ctx, changing.Change{AccountID: "a", Inc: changing.Inc{Balance: money.New(1)}})
	assert.Error(t, err)

	_, err = r.Apply(ctx, changing.Change{AccountID: "a", Inc: changing.Inc{TotalReferred: 1}})
	require.NoError(t, err)

	a, err := r.GetAccount(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, money.Zero, a.Balance)
	assert.EqualValues(t, 1, a.Referrals.TotalReferred)
}
