package changing

import (
	"testing"

	"github.com/d7561985/invest-ledger/pkg/agregate/account"
	"github.com/d7561985/invest-ledger/pkg/agregate/transaction"
	"github.com/d7561985/invest-ledger/pkg/money"
	"github.com/d7561985/invest-ledger/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApply(t *testing.T) {
	a := &account.Account{ID: "a"}

	c := Change{
		AccountID: "a",
		Inc: Inc{
			Balance:        money.New(1100),
			TotalInvested:  money.New(1000),
			ActiveDeposits: 1,
			TotalReferred:  2,
			ReferralIncome: money.New(5),
		},
		Set: Set{ChatBonusClaimed: true},
	}
	require.NoError(t, c.Validate())
	require.NoError(t, c.Apply(a))

	assert.Equal(t, money.New(1100), a.Balance)
	assert.Equal(t, money.New(1000), a.TotalInvested)
	assert.EqualValues(t, 1, a.ActiveDeposits)
	assert.EqualValues(t, 2, a.Referrals.TotalReferred)
	assert.Equal(t, money.New(5), a.Referrals.Income)
	assert.True(t, a.ChatBonusClaimed)

	t.Run("guarded flag", func(t *testing.T) {
		before := *a
		err := c.Apply(a)
		assert.ErrorIs(t, err, store.ErrConflict)
		assert.Equal(t, before, *a)
	})
}

func TestValidate(t *testing.T) {
	assert.Error(t, Change{}.Validate())

	err := Change{
		AccountID:  "a",
		Transition: &Transition{TxID: "t", From: transaction.Success, To: transaction.Rejected},
	}.Validate()
	assert.ErrorIs(t, err, transaction.ErrInvalidTransition)

	err = Change{
		AccountID: "a",
		Append:    []transaction.Transaction{{ID: "t", AccountID: "b"}},
	}.Validate()
	assert.Error(t, err)

	assert.Error(t, Change{AccountID: "a", Referee: "a"}.Validate())
	assert.NoError(t, Change{AccountID: "a", Referee: "b"}.Validate())

	assert.True(t, Inc{}.IsZero())
}
