package transaction

import (
	"fmt"
	"time"

	"github.com/d7561985/invest-ledger/pkg/money"
	"github.com/pkg/errors"
)

type Type string

const (
	Deposit    Type = "deposit"
	Withdrawal Type = "withdrawal"
	Profit     Type = "profit"
	Referral   Type = "referral"
	Bonus      Type = "bonus"
)

func (t Type) Valid() bool {
	switch t {
	case Deposit, Withdrawal, Profit, Referral, Bonus:
		return true
	}

	return false
}

// Credit reports whether a successful transaction of this type adds to balance.
func (t Type) Credit() bool {
	return t != Withdrawal
}

type Status string

const (
	Pending  Status = "pending"
	Success  Status = "success"
	Rejected Status = "rejected"
)

func (s Status) Valid() bool {
	switch s {
	case Pending, Success, Rejected:
		return true
	}

	return false
}

var ErrInvalidTransition = errors.New("invalid transaction status transition")

type InvalidTransitionError struct {
	ID   string
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("transaction %s: %s -> %s: %s", e.ID, e.From, e.To, ErrInvalidTransition)
}

func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// CheckTransition allows pending -> success and pending -> rejected only.
func CheckTransition(id string, from, to Status) error {
	if from == Pending && (to == Success || to == Rejected) {
		return nil
	}

	return &InvalidTransitionError{ID: id, From: from, To: to}
}

// Transaction is one entry of the append-only log. Amount is always positive,
// direction follows from Type.
type Transaction struct {
	ID        string      `json:"id"`
	AccountID string      `json:"accountId"`
	Type      Type        `json:"type"`
	Amount    money.Money `json:"amount"`
	Status    Status      `json:"status"`
	Timestamp time.Time   `json:"timestamp"`

	// Source links the entry to what produced it: deposit id for profit,
	// referee account id for referral, bonus kind for bonus.
	Source string `json:"source,omitempty"`
	// Destination is the payout target of a withdrawal.
	Destination string `json:"destination,omitempty"`
}

// Signed returns the balance effect of a successful transaction.
func (t Transaction) Signed() money.Money {
	if t.Type.Credit() {
		return t.Amount
	}

	return -t.Amount
}
