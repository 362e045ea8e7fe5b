package checkout

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"dukapos/backend/internal/domain"
	"dukapos/backend/internal/pricing"
	"dukapos/backend/internal/xid"
)

type State string

const (
	StateIdle                   State = "idle"
	StateAwaitingPaymentDetails State = "awaiting_payment_details"
	StatePersisting             State = "persisting"
	StateCompleted              State = "completed"
	StateFailed                 State = "failed"
)

// Orchestrator drives one till's checkout:
//
//	Idle -> AwaitingPaymentDetails -> Persisting -> Completed | Failed
//
// It is safe for concurrent use, but only one Confirm runs at a time; the
// cart cannot change while a sale is persisting.
type Orchestrator struct {
	svc *Service
	tc  domain.TenantContext

	mu             sync.Mutex
	state          State
	cart           []domain.CartLine
	discountPct    decimal.Decimal
	method         string
	customerID     string
	idempotencyKey string
	// edits counts cart changes so Begin can spot one made during its
	// credit check
	edits          int
	lastErr        error
	lastResult     *Result
}

func (s *Service) NewOrchestrator(tc domain.TenantContext) *Orchestrator {
	return &Orchestrator{svc: s, tc: tc, state: StateIdle}
}

func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) Cart() []domain.CartLine {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]domain.CartLine(nil), o.cart...)
}

func (o *Orchestrator) LastError() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastErr
}

// editable must be called with mu held.
func (o *Orchestrator) editable() error {
	switch o.state {
	case StatePersisting:
		return ErrCheckoutInProgress
	case StateCompleted:
		return fmt.Errorf("%w: reset after a completed sale", ErrInvalidState)
	}
	return nil
}

// cartChangedLocked drops payment details gathered for the previous cart.
// A changed cart is a different sale and has to go through Begin again.
func (o *Orchestrator) cartChangedLocked() {
	o.edits++
	o.idempotencyKey = ""
	if o.state == StateAwaitingPaymentDetails || o.state == StateFailed {
		o.state = StateIdle
		o.method = ""
		o.customerID = ""
		o.lastErr = nil
	}
}

// SetCart replaces the cart. Unit prices are taken as given.
func (o *Orchestrator) SetCart(cart []domain.CartLine) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.editable(); err != nil {
		return err
	}
	o.cart = append([]domain.CartLine(nil), cart...)
	o.cartChangedLocked()
	return nil
}

// Add puts qty of item in the cart, pricing it for customer at this moment.
func (o *Orchestrator) Add(item domain.InventoryItem, qty int, customer *domain.Customer) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.editable(); err != nil {
		return err
	}
	cart, err := pricing.AddToCart(o.cart, item, qty, customer)
	if err != nil {
		return err
	}
	o.cart = cart
	o.cartChangedLocked()
	return nil
}

func (o *Orchestrator) SetDiscount(pct decimal.Decimal) error {
	if err := pricing.ValidateDiscount(pct); err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.editable(); err != nil {
		return err
	}
	o.discountPct = pct
	o.cartChangedLocked()
	return nil
}

// SetIdempotencyKey pins the key a client generated, so a resubmitted
// request is recognized as the same sale.
func (o *Orchestrator) SetIdempotencyKey(key string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.idempotencyKey = key
}

func (o *Orchestrator) Totals() (pricing.CartTotals, error) {
	o.mu.Lock()
	cart := append([]domain.CartLine(nil), o.cart...)
	pct := o.discountPct
	o.mu.Unlock()
	return pricing.ComputeCartTotals(cart, pct, o.svc.opts.VATRate)
}

// Begin moves a non-empty cart to AwaitingPaymentDetails. Credit sales are
// checked against the customer's available credit here; a rejection leaves
// cart and state as they were. Editing the cart afterwards returns to Idle.
func (o *Orchestrator) Begin(ctx context.Context, method string, customerID string) error {
	o.mu.Lock()
	if o.state != StateIdle && o.state != StateAwaitingPaymentDetails {
		state := o.state
		o.mu.Unlock()
		if state == StatePersisting {
			return ErrCheckoutInProgress
		}
		return fmt.Errorf("%w: cannot begin from %s", ErrInvalidState, state)
	}
	order := o.orderLocked()
	edits := o.edits
	o.mu.Unlock()

	order.PaymentMethod = method
	order.CustomerID = customerID
	if err := validateOrder(order); err != nil {
		return err
	}
	totals, err := pricing.ComputeCartTotals(order.Cart, order.DiscountPct, o.svc.opts.VATRate)
	if err != nil {
		return err
	}
	if method == domain.PaymentCredit {
		if _, err := o.svc.AuthorizeCredit(ctx, o.tc, customerID, totals.Total); err != nil {
			return err
		}
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != StateIdle && o.state != StateAwaitingPaymentDetails {
		return ErrCheckoutInProgress
	}
	if o.edits != edits {
		return fmt.Errorf("%w: cart changed, begin again", ErrInvalidState)
	}
	o.method = method
	o.customerID = customerID
	if o.idempotencyKey == "" {
		o.idempotencyKey = xid.New("idem")
	}
	o.state = StateAwaitingPaymentDetails
	return nil
}

func (o *Orchestrator) orderLocked() Order {
	return Order{
		Cart:           append([]domain.CartLine(nil), o.cart...),
		DiscountPct:    o.discountPct,
		PaymentMethod:  o.method,
		CustomerID:     o.customerID,
		IdempotencyKey: o.idempotencyKey,
	}
}

// Confirm persists the sale. On failure the orchestrator is Failed with cart
// and payment details intact and Retry may be called.
func (o *Orchestrator) Confirm(ctx context.Context) (Result, error) {
	o.mu.Lock()
	switch o.state {
	case StateAwaitingPaymentDetails:
	case StatePersisting:
		o.mu.Unlock()
		return Result{}, ErrCheckoutInProgress
	default:
		state := o.state
		o.mu.Unlock()
		return Result{}, fmt.Errorf("%w: cannot confirm from %s", ErrInvalidState, state)
	}
	return o.persistLocked(ctx)
}

// Retry re-runs a failed Confirm with the same idempotency key.
func (o *Orchestrator) Retry(ctx context.Context) (Result, error) {
	o.mu.Lock()
	if o.state != StateFailed {
		state := o.state
		o.mu.Unlock()
		if state == StatePersisting {
			return Result{}, ErrCheckoutInProgress
		}
		return Result{}, fmt.Errorf("%w: cannot retry from %s", ErrInvalidState, state)
	}
	return o.persistLocked(ctx)
}

// persistLocked is entered with mu held and releases it for the write.
func (o *Orchestrator) persistLocked(ctx context.Context) (Result, error) {
	o.state = StatePersisting
	o.lastErr = nil
	order := o.orderLocked()
	o.mu.Unlock()

	result, err := o.svc.Checkout(ctx, o.tc, order)

	o.mu.Lock()
	defer o.mu.Unlock()
	if err != nil {
		o.state = StateFailed
		o.lastErr = err
		return Result{}, err
	}
	o.state = StateCompleted
	o.lastResult = &result
	o.cart = nil
	o.discountPct = decimal.Zero
	o.method = ""
	o.customerID = ""
	o.idempotencyKey = ""
	return result, nil
}

// Cancel abandons payment entry and keeps the cart. Not allowed while
// persisting.
func (o *Orchestrator) Cancel() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	switch o.state {
	case StateIdle, StateAwaitingPaymentDetails, StateFailed:
		o.state = StateIdle
		o.method = ""
		o.customerID = ""
		o.lastErr = nil
		return nil
	case StatePersisting:
		return ErrCheckoutInProgress
	}
	return fmt.Errorf("%w: cannot cancel from %s", ErrInvalidState, o.state)
}

// Reset starts the next sale after a completed one.
func (o *Orchestrator) Reset() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state == StatePersisting {
		return ErrCheckoutInProgress
	}
	if o.state != StateCompleted && o.state != StateIdle {
		return fmt.Errorf("%w: cannot reset from %s", ErrInvalidState, o.state)
	}
	o.state = StateIdle
	o.lastResult = nil
	return nil
}
