// Package memory is a process-local Store. It backs tests and single-node runs.
package memory

import (
	"context"
	"sync"

	"github.com/d7561985/invest-ledger/pkg/agregate/account"
	"github.com/d7561985/invest-ledger/pkg/agregate/transaction"
	"github.com/d7561985/invest-ledger/pkg/changing"
	"github.com/d7561985/invest-ledger/pkg/store"
	"github.com/pkg/errors"
)

type Repo struct {
	mu sync.RWMutex

	accounts map[string]*account.Account
	codes    map[string]string

	txs     map[string]*transaction.Transaction
	journal map[string][]string

	deposits map[string][]*account.Deposit

	// referee -> referrer
	referees map[string]string

	// FailApply, when set, is consulted before every Apply. Tests use it to
	// simulate a backend failure.
	FailApply func(c changing.Change) error
}

func New() *Repo {
	return &Repo{
		accounts: make(map[string]*account.Account),
		codes:    make(map[string]string),
		txs:      make(map[string]*transaction.Transaction),
		journal:  make(map[string][]string),
		deposits: make(map[string][]*account.Deposit),
		referees: make(map[string]string),
	}
}

func (r *Repo) CreateAccount(_ context.Context, a account.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.accounts[a.ID]; ok {
		return errors.Wrapf(store.ErrExists, "account %s", a.ID)
	}

	if _, ok := r.codes[a.ReferralCode]; ok {
		return errors.Wrapf(store.ErrExists, "referral code %s", a.ReferralCode)
	}

	r.accounts[a.ID] = &a
	r.codes[a.ReferralCode] = a.ID

	return nil
}

func (r *Repo) GetAccount(_ context.Context, id string) (*account.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.accounts[id]
	if !ok {
		return nil, errors.Wrapf(store.ErrNotFound, "account %s", id)
	}

	cp := *a
	return &cp, nil
}

func (r *Repo) FindByReferralCode(ctx context.Context, code string) (*account.Account, error) {
	r.mu.RLock()
	id, ok := r.codes[code]
	r.mu.RUnlock()

	if !ok {
		return nil, errors.Wrapf(store.ErrNotFound, "referral code %s", code)
	}

	return r.GetAccount(ctx, id)
}

func (r *Repo) GetTransaction(_ context.Context, id string) (*transaction.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tx, ok := r.txs[id]
	if !ok {
		return nil, errors.Wrapf(store.ErrNotFound, "transaction %s", id)
	}

	cp := *tx
	return &cp, nil
}

func (r *Repo) ListTransactions(_ context.Context, accountID string) ([]transaction.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.journal[accountID]
	out := make([]transaction.Transaction, 0, len(ids))
	for _, id := range ids {
		out = append(out, *r.txs[id])
	}

	return out, nil
}

func (r *Repo) ListDeposits(_ context.Context, accountID string) ([]account.Deposit, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ds := r.deposits[accountID]
	out := make([]account.Deposit, 0, len(ds))
	for _, d := range ds {
		out = append(out, *d)
	}

	return out, nil
}

// Apply checks every precondition before touching anything, so a failed
// change leaves no trace.
func (r *Repo) Apply(_ context.Context, c changing.Change) (*account.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.FailApply != nil {
		if err := r.FailApply(c); err != nil {
			return nil, err
		}
	}

	a, ok := r.accounts[c.AccountID]
	if !ok {
		return nil, errors.Wrapf(store.ErrNotFound, "account %s", c.AccountID)
	}

	var moved *transaction.Transaction
	if t := c.Transition; t != nil {
		tx, ok := r.txs[t.TxID]
		if !ok || tx.AccountID != c.AccountID {
			return nil, errors.Wrapf(store.ErrNotFound, "transaction %s", t.TxID)
		}

		if tx.Status != t.From {
			return nil, errors.WithStack(transaction.CheckTransition(tx.ID, tx.Status, t.To))
		}
		moved = tx
	}

	if c.Referee != "" {
		if _, ok := r.referees[c.Referee]; ok {
			return nil, errors.Wrapf(store.ErrExists, "referee %s", c.Referee)
		}
	}

	seen := make(map[string]bool, len(c.Append))
	for _, tx := range c.Append {
		if _, ok := r.txs[tx.ID]; ok || seen[tx.ID] {
			return nil, errors.Wrapf(store.ErrExists, "transaction %s", tx.ID)
		}
		seen[tx.ID] = true
	}

	settle := make([]*account.Deposit, len(c.Settle))
	for i, s := range c.Settle {
		d := r.findDeposit(c.AccountID, s.DepositID)
		if d == nil {
			return nil, errors.Wrapf(store.ErrNotFound, "deposit %s", s.DepositID)
		}
		settle[i] = d
	}

	next := *a
	if err := c.Apply(&next); err != nil {
		return nil, err
	}

	// no error past this point
	*a = next

	if moved != nil {
		moved.Status = c.Transition.To
	}

	if c.Referee != "" {
		r.referees[c.Referee] = c.AccountID
	}

	for _, tx := range c.Append {
		tx := tx
		r.txs[tx.ID] = &tx
		r.journal[c.AccountID] = append(r.journal[c.AccountID], tx.ID)
	}

	if c.Deposit != nil {
		d := *c.Deposit
		r.deposits[c.AccountID] = append(r.deposits[c.AccountID], &d)
	}

	for i, s := range c.Settle {
		settle[i].Settled = settle[i].Settled.Add(s.Settled)
		settle[i].Closed = settle[i].Closed || s.Close
	}

	cp := *a
	return &cp, nil
}

func (r *Repo) findDeposit(accountID, id string) *account.Deposit {
	for _, d := range r.deposits[accountID] {
		if d.ID == id {
			return d
		}
	}

	return nil
}
