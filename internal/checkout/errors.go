package checkout

import (
	"errors"
	"fmt"

	"dukapos/backend/internal/inventory"
	"dukapos/backend/internal/ledger"
	"dukapos/backend/internal/pricing"
	"dukapos/backend/internal/syncer"
)

var (
	ErrEmptyCart               = errors.New("cart is empty")
	ErrUnsupportedPayment      = errors.New("unsupported payment method")
	ErrCustomerRequired        = errors.New("credit sales need a customer")
	ErrCustomerNotFound        = errors.New("customer not found")
	ErrMissingBranchAssignment = errors.New("cashier has no branch assignment")
	ErrCheckoutInProgress      = errors.New("checkout already in progress")
	ErrInvalidState            = errors.New("invalid checkout state")
)

// PersistenceError wraps a failed store read or write. The cart is kept and
// the same checkout may be retried.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

func (e *PersistenceError) Retryable() bool {
	return true
}

const (
	KindValidation    = "validation"
	KindAuthorization = "authorization"
	KindCreditLimit   = "credit_limit"
	KindPersistence   = "persistence"
	KindSyncTransport = "sync_transport"
	KindConflict      = "conflict"
	KindUnknown       = "unknown"
)

// Kind sorts an error into the checkout error taxonomy.
func Kind(err error) string {
	if err == nil {
		return ""
	}
	var persistErr *PersistenceError
	var transportErr *syncer.TransportError
	switch {
	case errors.As(err, &persistErr):
		return KindPersistence
	case errors.As(err, &transportErr):
		return KindSyncTransport
	case errors.Is(err, ErrMissingBranchAssignment):
		return KindAuthorization
	case errors.Is(err, ledger.ErrCreditLimitExceeded):
		return KindCreditLimit
	case errors.Is(err, ErrCheckoutInProgress), errors.Is(err, ErrInvalidState):
		return KindConflict
	case errors.Is(err, ErrEmptyCart),
		errors.Is(err, ErrUnsupportedPayment),
		errors.Is(err, ErrCustomerRequired),
		errors.Is(err, ErrCustomerNotFound),
		errors.Is(err, pricing.ErrDiscountOutOfRange),
		errors.Is(err, pricing.ErrInvalidQuantity),
		errors.Is(err, pricing.ErrInvalidPrice),
		errors.Is(err, inventory.ErrInsufficientStock),
		errors.Is(err, inventory.ErrUnknownProduct),
		errors.Is(err, inventory.ErrInvalidQuantity),
		errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrOverpayment):
		return KindValidation
	}
	return KindUnknown
}

// Retryable reports whether repeating the same call may succeed.
func Retryable(err error) bool {
	var persistErr *PersistenceError
	return errors.As(err, &persistErr) && persistErr.Retryable()
}
