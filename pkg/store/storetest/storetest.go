// Package storetest holds the behaviour every ledger.Store must share.
package storetest

import (
	"context"
	"encoding/hex"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/d7561985/invest-ledger/pkg/agregate/account"
	"github.com/d7561985/invest-ledger/pkg/agregate/transaction"
	"github.com/d7561985/invest-ledger/pkg/changing"
	"github.com/d7561985/invest-ledger/pkg/ledger"
	"github.com/d7561985/invest-ledger/pkg/money"
	"github.com/d7561985/invest-ledger/pkg/store"
	fuzz "github.com/google/gofuzz"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// NewAccount returns an account with unique id and referral code.
func NewAccount() account.Account {
	var a account.Account
	fuzz.New().NilChance(0).Fuzz(&a.Username)

	id := uuid.New()
	a.ID = id.String()
	a.ReferralCode = strings.ToUpper(hex.EncodeToString(id[:4]))
	a.CreatedAt = time.Now().UTC().Truncate(time.Millisecond)

	return a
}

func pending(accountID string, typ transaction.Type, amount money.Money) transaction.Transaction {
	return transaction.Transaction{
		ID:        uuid.Must(uuid.NewV7()).String(),
		AccountID: accountID,
		Type:      typ,
		Amount:    amount,
		Status:    transaction.Pending,
		Timestamp: time.Now().UTC().Truncate(time.Millisecond),
	}
}

// Run exercises s against the Store contract.
func Run(t *testing.T, s ledger.Store) {
	ctx := context.TODO()

	t.Run("create account", func(t *testing.T) {
		a := NewAccount()
		require.NoError(t, s.CreateAccount(ctx, a))

		got, err := s.GetAccount(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, a.ReferralCode, got.ReferralCode)
		assert.Equal(t, money.Zero, got.Balance)

		byCode, err := s.FindByReferralCode(ctx, a.ReferralCode)
		require.NoError(t, err)
		assert.Equal(t, a.ID, byCode.ID)

		assert.ErrorIs(t, s.CreateAccount(ctx, a), store.ErrExists)

		dup := NewAccount()
		dup.ReferralCode = a.ReferralCode
		assert.ErrorIs(t, s.CreateAccount(ctx, dup), store.ErrExists)

		_, err = s.GetAccount(ctx, uuid.NewString())
		assert.ErrorIs(t, err, store.ErrNotFound)

		_, err = s.GetTransaction(ctx, uuid.NewString())
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("log order and transition", func(t *testing.T) {
		a := NewAccount()
		require.NoError(t, s.CreateAccount(ctx, a))

		var ids []string
		for i := 0; i < 5; i++ {
			tx := pending(a.ID, transaction.Deposit, money.New(int64(1000+i)))
			ids = append(ids, tx.ID)

			_, err := s.Apply(ctx, changing.Change{AccountID: a.ID, Append: []transaction.Transaction{tx}})
			require.NoError(t, err)
		}

		txs, err := s.ListTransactions(ctx, a.ID)
		require.NoError(t, err)
		require.Len(t, txs, 5)
		for i, tx := range txs {
			assert.Equal(t, ids[i], tx.ID)
		}

		dep := account.Deposit{
			ID: uuid.NewString(), AccountID: a.ID, TxID: ids[0], Amount: money.New(1000),
			StartTime: time.Now().UTC().Truncate(time.Millisecond), TermDays: 30,
			DailyRate: decimal.RequireFromString("0.106"),
		}

		acc, err := s.Apply(ctx, changing.Change{
			AccountID:  a.ID,
			Transition: &changing.Transition{TxID: ids[0], From: transaction.Pending, To: transaction.Success},
			Deposit:    &dep,
			Inc:        changing.Inc{Balance: money.New(1000), TotalInvested: money.New(1000), ActiveDeposits: 1},
		})
		require.NoError(t, err)
		assert.Equal(t, money.New(1000), acc.Balance)
		assert.EqualValues(t, 1, acc.ActiveDeposits)

		tx, err := s.GetTransaction(ctx, ids[0])
		require.NoError(t, err)
		assert.Equal(t, transaction.Success, tx.Status)

		_, err = s.Apply(ctx, changing.Change{
			AccountID:  a.ID,
			Transition: &changing.Transition{TxID: ids[0], From: transaction.Pending, To: transaction.Rejected},
			Inc:        changing.Inc{Balance: money.New(1)},
		})
		assert.ErrorIs(t, err, transaction.ErrInvalidTransition)

		acc, err = s.GetAccount(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, money.New(1000), acc.Balance)

		_, err = s.Apply(ctx, changing.Change{
			AccountID: a.ID,
			Settle:    []changing.Settlement{{DepositID: dep.ID, Settled: money.New(106), Close: true}},
			Inc:       changing.Inc{Balance: money.New(106), ActiveDeposits: -1},
		})
		require.NoError(t, err)

		ds, err := s.ListDeposits(ctx, a.ID)
		require.NoError(t, err)
		require.Len(t, ds, 1)
		assert.Equal(t, money.New(106), ds[0].Settled)
		assert.True(t, ds[0].Closed)
		assert.True(t, dep.DailyRate.Equal(ds[0].DailyRate))
		assert.Equal(t, dep.StartTime, ds[0].StartTime)

		_, err = s.Apply(ctx, changing.Change{
			AccountID: a.ID,
			Settle:    []changing.Settlement{{DepositID: uuid.NewString(), Settled: money.New(1)}},
		})
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("all or nothing", func(t *testing.T) {
		a := NewAccount()
		require.NoError(t, s.CreateAccount(ctx, a))

		_, err := s.Apply(ctx, changing.Change{
			AccountID: a.ID,
			Set:       changing.Set{ChatBonusClaimed: true},
			Inc:       changing.Inc{Balance: money.New(100)},
		})
		require.NoError(t, err)

		bonus := pending(a.ID, transaction.Bonus, money.New(100))
		_, err = s.Apply(ctx, changing.Change{
			AccountID: a.ID,
			Set:       changing.Set{ChatBonusClaimed: true},
			Inc:       changing.Inc{Balance: money.New(100)},
			Append:    []transaction.Transaction{bonus},
		})
		assert.ErrorIs(t, err, store.ErrConflict)

		_, err = s.GetTransaction(ctx, bonus.ID)
		assert.ErrorIs(t, err, store.ErrNotFound)

		first := pending(a.ID, transaction.Deposit, money.New(1000))
		_, err = s.Apply(ctx, changing.Change{AccountID: a.ID, Append: []transaction.Transaction{first}})
		require.NoError(t, err)

		_, err = s.Apply(ctx, changing.Change{
			AccountID: a.ID,
			Inc:       changing.Inc{Balance: money.New(5)},
			Append:    []transaction.Transaction{first},
		})
		assert.ErrorIs(t, err, store.ErrExists)

		acc, err := s.GetAccount(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, money.New(100), acc.Balance)
		assert.True(t, acc.ChatBonusClaimed)

		_, err = s.Apply(ctx, changing.Change{AccountID: uuid.NewString()})
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("referee counted once", func(t *testing.T) {
		ref, kid := NewAccount(), NewAccount()
		kid.ReferredBy = ref.ID
		require.NoError(t, s.CreateAccount(ctx, ref))
		require.NoError(t, s.CreateAccount(ctx, kid))

		count := changing.Change{AccountID: ref.ID, Referee: kid.ID, Inc: changing.Inc{TotalReferred: 1}}

		acc, err := s.Apply(ctx, count)
		require.NoError(t, err)
		assert.EqualValues(t, 1, acc.Referrals.TotalReferred)

		for i := 0; i < 3; i++ {
			_, err = s.Apply(ctx, count)
			assert.ErrorIs(t, err, store.ErrExists)
		}

		acc, err = s.GetAccount(ctx, ref.ID)
		require.NoError(t, err)
		assert.EqualValues(t, 1, acc.Referrals.TotalReferred)
	})

	t.Run("concurrent guarded flag", func(t *testing.T) {
		a := NewAccount()
		require.NoError(t, s.CreateAccount(ctx, a))

		var won, lost int64

		g := errgroup.Group{}
		for i := 0; i < 10; i++ {
			g.Go(func() error {
				_, err := s.Apply(ctx, changing.Change{
					AccountID: a.ID,
					Set:       changing.Set{MilestoneBonusPaid: true},
					Inc:       changing.Inc{Balance: money.New(2000)},
				})

				switch {
				case err == nil:
					atomic.AddInt64(&won, 1)
				case errors.Is(err, store.ErrConflict):
					atomic.AddInt64(&lost, 1)
				default:
					return err
				}

				return nil
			})
		}
		require.NoError(t, g.Wait())

		assert.EqualValues(t, 1, won)
		assert.EqualValues(t, 9, lost)

		acc, err := s.GetAccount(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, money.New(2000), acc.Balance)
	})
}
