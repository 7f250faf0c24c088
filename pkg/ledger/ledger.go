// Package ledger is the account aggregate root of the passive-investment
// product: deposits, withdrawals, referral commission and bonuses, all
// written through one append-only transaction log.
//
// Every mutation of an account runs under that account's write lock and is
// committed to the Store as a single changing.Change. Reads take the read lock,
// so a snapshot never observes half of a change. Referral credit touches a
// second account and is applied after the referee's deposit is committed.
package ledger

import (
	"context"
	"crypto/rand"
	"math/big"
	"time"

	"github.com/d7561985/invest-ledger/pkg/agregate/account"
	"github.com/d7561985/invest-ledger/pkg/agregate/transaction"
	"github.com/d7561985/invest-ledger/pkg/changing"
	"github.com/d7561985/invest-ledger/pkg/money"
	"github.com/d7561985/invest-ledger/pkg/store"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type PlaceHolders string

const (
	// BeforeCommit fires with the account lock held, right before Store.Apply.
	BeforeCommit PlaceHolders = "commit.before"
	// BeforeReferralCredit fires after a deposit is confirmed and its lock released.
	BeforeReferralCredit PlaceHolders = "referral.before"
)

const referralCodeLen = 8

const referralCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// referralNamespace derives referral transaction ids from deposit ids, which
// makes a retried credit collide with the first one instead of paying twice.
var referralNamespace = uuid.MustParse("6f1c2d4e-8a0b-5c3d-9e7f-1a2b3c4d5e6f")

type core struct {
	store  Store
	policy Policy
	locks  *locker
	log    *zap.Logger
	now    func() time.Time

	destination DestinationValidator

	hooks map[PlaceHolders]func()
}

func (c *core) call(name PlaceHolders) {
	if fn, ok := c.hooks[name]; ok {
		fn()
	}
}

// commit must be called with the account lock held.
func (c *core) commit(ctx context.Context, ch changing.Change) (*account.Account, error) {
	if err := ch.Validate(); err != nil {
		return nil, err
	}

	c.call(BeforeCommit)

	return c.store.Apply(ctx, ch)
}

func (c *core) newTx(accountID string, typ transaction.Type, amount money.Money, status transaction.Status) transaction.Transaction {
	return transaction.Transaction{
		ID:        newID(),
		AccountID: accountID,
		Type:      typ,
		Amount:    amount,
		Status:    status,
		Timestamp: c.now().UTC(),
	}
}

// transition moves a pending transaction of type typ to status to. build,
// when set, adds the balance effects of the transition; it runs with the
// owner's lock held and sees the account as it is right now.
func (c *core) transition(
	ctx context.Context, txID string, typ transaction.Type, to transaction.Status,
	build func(tx transaction.Transaction, acc *account.Account) (changing.Change, error),
) (*transaction.Transaction, *account.Account, error) {
	tx, err := c.store.GetTransaction(ctx, txID)
	if err != nil {
		return nil, nil, err
	}

	if tx.Type != typ {
		return nil, nil, errors.Wrapf(ErrWrongType, "%s is a %s, not a %s", txID, tx.Type, typ)
	}

	unlock := c.locks.Lock(tx.AccountID)
	defer unlock()

	// status may have moved while we waited for the lock
	if tx, err = c.store.GetTransaction(ctx, txID); err != nil {
		return nil, nil, err
	}

	if err = transaction.CheckTransition(tx.ID, tx.Status, to); err != nil {
		return nil, nil, errors.WithStack(err)
	}

	acc, err := c.store.GetAccount(ctx, tx.AccountID)
	if err != nil {
		return nil, nil, err
	}

	var ch changing.Change
	if build != nil {
		if ch, err = build(*tx, acc); err != nil {
			return nil, nil, err
		}
	}

	ch.AccountID = tx.AccountID
	ch.Transition = &changing.Transition{TxID: tx.ID, From: tx.Status, To: to}

	if acc, err = c.commit(ctx, ch); err != nil {
		return nil, nil, err
	}

	tx.Status = to
	return tx, acc, nil
}

type Option func(*Ledger)

func WithLogger(l *zap.Logger) Option {
	return func(lg *Ledger) { lg.log = l }
}

func WithPolicy(p Policy) Option {
	return func(lg *Ledger) { lg.policy = p }
}

// WithClock replaces time.Now for confirmation timestamps and settlement.
func WithClock(now func() time.Time) Option {
	return func(lg *Ledger) { lg.now = now }
}

func WithDestinationValidator(v DestinationValidator) Option {
	return func(lg *Ledger) { lg.destination = v }
}

// Ledger composes the managers over one store and one set of account locks.
type Ledger struct {
	*core

	Log         *TransactionLog
	Deposits    *DepositManager
	Withdrawals *WithdrawalManager
	Referrals   *ReferralEngine
	Bonuses     *BonusTracker
}

func New(s Store, opts ...Option) (*Ledger, error) {
	l := &Ledger{core: &core{
		store:  s,
		policy: DefaultPolicy(),
		locks:  newLocker(),
		log:    zap.NewNop(),
		now:    time.Now,
		hooks:  make(map[PlaceHolders]func()),
	}}

	for _, opt := range opts {
		opt(l)
	}

	if err := l.policy.Validate(); err != nil {
		return nil, err
	}

	if l.destination == nil {
		l.destination = MinLength(l.policy.DestinationMinLength)
	}

	l.Log = &TransactionLog{core: l.core}
	l.Bonuses = &BonusTracker{core: l.core}
	l.Referrals = &ReferralEngine{core: l.core, bonuses: l.Bonuses}
	l.Deposits = &DepositManager{core: l.core, referrals: l.Referrals}
	l.Withdrawals = &WithdrawalManager{core: l.core}

	return l, nil
}

// AddHook is meant for tests and must be called before the ledger is shared.
func (l *Ledger) AddHook(name PlaceHolders, fn func()) {
	l.hooks[name] = fn
}

func (l *Ledger) Policy() Policy {
	return l.policy
}

// Register creates the account for a verified identity with zero balances
// and a fresh referral code. A known referralCode links the new account to
// its referrer for good; an unknown one is ignored.
func (l *Ledger) Register(ctx context.Context, id, username, referralCode string) (*account.Account, error) {
	if id == "" {
		return nil, errors.New("register: empty account id")
	}

	if _, err := l.store.GetAccount(ctx, id); err == nil {
		return nil, errors.Wrapf(store.ErrExists, "account %s", id)
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	var referrer *account.Account
	if referralCode != "" {
		r, err := l.store.FindByReferralCode(ctx, referralCode)
		switch {
		case errors.Is(err, store.ErrNotFound):
			l.log.Info("unknown referral code on registration",
				zap.String("account", id), zap.String("code", referralCode))
		case err != nil:
			return nil, err
		case r.ID == id:
			return nil, errors.WithStack(ErrSelfReferral)
		default:
			referrer = r
		}
	}

	acc := account.Account{
		ID:        id,
		Username:  username,
		CreatedAt: l.now().UTC(),
	}
	if referrer != nil {
		acc.ReferredBy = referrer.ID
	}

	created := false
	for i := 0; i < 8 && !created; i++ {
		code, err := newReferralCode()
		if err != nil {
			return nil, err
		}
		acc.ReferralCode = code

		err = l.store.CreateAccount(ctx, acc)
		switch {
		case err == nil:
			created = true
		case errors.Is(err, store.ErrExists):
			if _, gerr := l.store.GetAccount(ctx, id); gerr == nil {
				return nil, errors.Wrapf(store.ErrExists, "account %s", id)
			}
		default:
			return nil, err
		}
	}

	if !created {
		return nil, errors.WithStack(ErrReferralCodeExhausted)
	}

	l.log.Info("account registered",
		zap.String("account", id), zap.String("referredBy", acc.ReferredBy))

	if referrer != nil {
		if err := l.Referrals.RecordReferral(ctx, referrer.ID, id); err != nil {
			return &acc, errors.Wrap(err, "record referral")
		}
	}

	return &acc, nil
}

// LookupReferral resolves a referral code to its owner.
func (l *Ledger) LookupReferral(ctx context.Context, code string) (*account.Account, error) {
	return l.store.FindByReferralCode(ctx, code)
}

func (l *Ledger) CreateDeposit(ctx context.Context, accountID string, amount money.Money) (*transaction.Transaction, error) {
	return l.Deposits.CreateDeposit(ctx, accountID, amount)
}

func (l *Ledger) CreateWithdrawal(ctx context.Context, accountID string, amount money.Money, destination string) (*transaction.Transaction, error) {
	return l.Withdrawals.CreateWithdrawal(ctx, accountID, amount, destination)
}

func (l *Ledger) ClaimChatBonus(ctx context.Context, accountID string) (money.Money, error) {
	return l.Bonuses.ClaimChatBonus(ctx, accountID)
}

// Confirm resolves a pending deposit or withdrawal as succeeded.
func (l *Ledger) Confirm(ctx context.Context, txID string) (*transaction.Transaction, error) {
	tx, err := l.store.GetTransaction(ctx, txID)
	if err != nil {
		return nil, err
	}

	switch tx.Type {
	case transaction.Deposit:
		return l.Deposits.ConfirmDeposit(ctx, txID)
	case transaction.Withdrawal:
		return l.Withdrawals.ConfirmWithdrawal(ctx, txID)
	}

	return nil, errors.Wrapf(ErrWrongType, "%s is a %s", txID, tx.Type)
}

// Reject resolves a pending deposit or withdrawal as failed.
func (l *Ledger) Reject(ctx context.Context, txID string) (*transaction.Transaction, error) {
	tx, err := l.store.GetTransaction(ctx, txID)
	if err != nil {
		return nil, err
	}

	switch tx.Type {
	case transaction.Deposit:
		return l.Deposits.RejectDeposit(ctx, txID)
	case transaction.Withdrawal:
		return l.Withdrawals.RejectWithdrawal(ctx, txID)
	}

	return nil, errors.Wrapf(ErrWrongType, "%s is a %s", txID, tx.Type)
}

func newID() string {
	return uuid.Must(uuid.NewV7()).String()
}

func referralTxID(depositTxID string) string {
	return uuid.NewSHA1(referralNamespace, []byte(depositTxID)).String()
}

func newReferralCode() (string, error) {
	n := big.NewInt(int64(len(referralCodeAlphabet)))

	b := make([]byte, referralCodeLen)
	for i := range b {
		k, err := rand.Int(rand.Reader, n)
		if err != nil {
			return "", errors.WithStack(err)
		}

		b[i] = referralCodeAlphabet[k.Int64()]
	}

	return string(b), nil
}
