package ledger

import (
	"context"

	"github.com/d7561985/invest-ledger/pkg/agregate/account"
	"github.com/d7561985/invest-ledger/pkg/agregate/transaction"
	"github.com/d7561985/invest-ledger/pkg/changing"
)

// Store persists accounts, the transaction log and deposits. Implementations
// report missing records with store.ErrNotFound, duplicates with
// store.ErrExists and a guarded flag that is already set with store.ErrConflict.
type Store interface {
	CreateAccount(ctx context.Context, a account.Account) error
	GetAccount(ctx context.Context, id string) (*account.Account, error)
	FindByReferralCode(ctx context.Context, code string) (*account.Account, error)

	GetTransaction(ctx context.Context, id string) (*transaction.Transaction, error)
	// ListTransactions returns the account log in creation order.
	ListTransactions(ctx context.Context, accountID string) ([]transaction.Transaction, error)
	ListDeposits(ctx context.Context, accountID string) ([]account.Deposit, error)

	// Apply commits every part of the change atomically and returns the
	// account as it is after the change.
	Apply(ctx context.Context, c changing.Change) (*account.Account, error)
}
