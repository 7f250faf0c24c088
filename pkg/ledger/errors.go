package ledger

import (
	"fmt"

	"github.com/d7561985/invest-ledger/pkg/money"
	"github.com/pkg/errors"
)

type Reason string

const (
	BelowMinimum          Reason = "below_minimum"
	InvalidDestination    Reason = "invalid_destination"
	InsufficientAvailable Reason = "insufficient_available"
)

// ValidationError is a rejected request. Nothing was written when it is returned.
type ValidationError struct {
	Reason Reason
	Field  string

	// Minimum is set for BelowMinimum.
	Minimum money.Money
	// Available is set for InsufficientAvailable.
	Available money.Money
	// Detail carries the destination validator message.
	Detail string
}

func (e *ValidationError) Error() string {
	switch e.Reason {
	case BelowMinimum:
		return fmt.Sprintf("%s below minimum %s", e.Field, e.Minimum)
	case InsufficientAvailable:
		return fmt.Sprintf("%s exceeds available %s", e.Field, e.Available)
	case InvalidDestination:
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Detail)
	}

	return string(e.Reason)
}

// ReasonOf extracts the validation reason from err, if any.
func ReasonOf(err error) (Reason, bool) {
	var v *ValidationError
	if errors.As(err, &v) {
		return v.Reason, true
	}

	return "", false
}

var (
	ErrAlreadyClaimed        = errors.New("bonus already claimed")
	ErrMilestoneNotReached   = errors.New("referral milestone not reached")
	ErrWrongType             = errors.New("transaction has a different type")
	ErrSelfReferral          = errors.New("account cannot refer itself")
	ErrAuditMismatch         = errors.New("stored account diverges from transaction log")
	ErrReferralCodeExhausted = errors.New("could not allocate a unique referral code")
)
