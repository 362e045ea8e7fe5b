// Package checkout turns a priced cart into a persisted sale: branch-local
// stock decrement, credit ledger update, one tenant write and the operator's
// receivable.
package checkout

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"dukapos/backend/internal/domain"
	"dukapos/backend/internal/inventory"
	"dukapos/backend/internal/ledger"
	"dukapos/backend/internal/logging"
	"dukapos/backend/internal/metrics"
	"dukapos/backend/internal/pricing"
	"dukapos/backend/internal/store"
	"dukapos/backend/internal/xid"
)

type Options struct {
	VATRate        decimal.Decimal
	CreditTermDays int
	// WriteTimeout bounds the whole persist step. Zero means no timeout.
	WriteTimeout      time.Duration
	DetectLostUpdates bool
	Receipts          ReceiptScheduler
	Now               func() time.Time
}

type Service struct {
	tenants   store.TenantStore
	operators store.OperatorStore
	opts      Options
	logger    zerolog.Logger
}

func NewService(tenants store.TenantStore, operators store.OperatorStore, opts Options) *Service {
	if opts.VATRate.IsZero() {
		opts.VATRate = domain.DefaultVATRate
	}
	if opts.CreditTermDays <= 0 {
		opts.CreditTermDays = ledger.DefaultTermDays
	}
	if opts.Receipts == nil {
		opts.Receipts = NoopReceipts{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		tenants:   tenants,
		operators: operators,
		opts:      opts,
		logger:    logging.For("checkout"),
	}
}

func (s *Service) VATRate() decimal.Decimal {
	return s.opts.VATRate
}

// Order is what the orchestrator hands over when a sale is confirmed.
type Order struct {
	Cart           []domain.CartLine
	DiscountPct    decimal.Decimal
	PaymentMethod  string
	CustomerID     string
	IdempotencyKey string
}

type Result struct {
	Transaction domain.Transaction `json:"transaction"`
	Customer    *domain.Customer   `json:"customer,omitempty"`
	Receivable  *domain.Expense    `json:"receivable,omitempty"`
	Revision    int64              `json:"revision"`
	Duplicate   bool               `json:"duplicate"`
	LostUpdates []string           `json:"lost_updates,omitempty"`
	Warnings    []string           `json:"warnings,omitempty"`
}

type Quote struct {
	Totals pricing.CartTotals `json:"totals"`
	Lines  []pricing.LineVAT  `json:"lines"`
}

func (s *Service) Quote(cart []domain.CartLine, discountPct decimal.Decimal) (Quote, error) {
	totals, err := pricing.ComputeCartTotals(cart, discountPct, s.opts.VATRate)
	if err != nil {
		return Quote{}, err
	}
	lines, err := pricing.ComputeItemVAT(cart, s.opts.VATRate)
	if err != nil {
		return Quote{}, err
	}
	return Quote{Totals: totals, Lines: lines}, nil
}

func validateOrder(order Order) error {
	if len(order.Cart) == 0 {
		return ErrEmptyCart
	}
	if !domain.IsSupportedPaymentMethod(order.PaymentMethod) {
		return fmt.Errorf("%w: %q", ErrUnsupportedPayment, order.PaymentMethod)
	}
	if order.PaymentMethod == domain.PaymentCredit && order.CustomerID == "" {
		return ErrCustomerRequired
	}
	return pricing.ValidateDiscount(order.DiscountPct)
}

// AuthorizeCredit is the point-in-time credit check run before payment
// details are taken. Nothing is written.
func (s *Service) AuthorizeCredit(ctx context.Context, tc domain.TenantContext, customerID string, amount decimal.Decimal) (domain.Customer, error) {
	doc, err := s.tenants.LoadTenant(ctx, tc.TenantID)
	if err != nil {
		return domain.Customer{}, &PersistenceError{Op: "load tenant", Err: err}
	}
	idx := doc.FindCustomer(customerID)
	if idx < 0 {
		return domain.Customer{}, fmt.Errorf("%w: %s", ErrCustomerNotFound, customerID)
	}
	customer := doc.Customers[idx]
	if err := ledger.Authorize(customer, amount); err != nil {
		return customer, err
	}
	return customer, nil
}

// Checkout persists one sale. Errors before the tenant write leave every
// store untouched.
func (s *Service) Checkout(ctx context.Context, tc domain.TenantContext, order Order) (Result, error) {
	if tc.BranchID == "" {
		s.countOutcome(order.PaymentMethod, "rejected")
		return Result{}, ErrMissingBranchAssignment
	}
	if err := validateOrder(order); err != nil {
		s.countOutcome(order.PaymentMethod, "rejected")
		return Result{}, err
	}

	if s.opts.WriteTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.WriteTimeout)
		defer cancel()
	}
	start := time.Now()
	result, err := s.persist(ctx, tc, order)
	metrics.CheckoutDuration.Observe(time.Since(start).Seconds())

	switch {
	case err != nil && Retryable(err):
		s.countOutcome(order.PaymentMethod, "failed")
		s.logger.Error().Err(err).
			Str("tenant_id", tc.TenantID).
			Str("branch_id", tc.BranchID).
			Str("cashier_id", tc.ActorID).
			Msg("checkout persistence failed")
	case err != nil:
		s.countOutcome(order.PaymentMethod, "rejected")
	case result.Duplicate:
		s.countOutcome(order.PaymentMethod, "duplicate")
	default:
		s.countOutcome(order.PaymentMethod, "completed")
	}
	return result, err
}

func (s *Service) persist(ctx context.Context, tc domain.TenantContext, order Order) (Result, error) {
	doc, err := s.tenants.LoadTenant(ctx, tc.TenantID)
	if err != nil {
		return Result{}, &PersistenceError{Op: "load tenant", Err: err}
	}
	if existing := doc.FindTransactionByIdempotency(order.IdempotencyKey); existing != nil {
		s.logger.Info().Str("transaction_id", existing.ID).Str("idempotency_key", order.IdempotencyKey).Msg("duplicate checkout ignored")
		return Result{Transaction: *existing, Revision: doc.Revision, Duplicate: true}, nil
	}
	if len(doc.Branches) > 0 && !doc.HasBranch(tc.BranchID) {
		return Result{}, fmt.Errorf("%w: branch %s does not exist", ErrMissingBranchAssignment, tc.BranchID)
	}
	read := doc.Clone()

	adjustments := make([]inventory.Adjustment, 0, len(order.Cart))
	for productID, qty := range pricing.CartQuantities(order.Cart) {
		adjustments = append(adjustments, inventory.Adjustment{ProductID: productID, Quantity: qty})
	}
	decremented, err := inventory.DecrementBranch(doc.Inventory, tc.BranchID, adjustments)
	if err != nil {
		return Result{}, err
	}

	totals, err := pricing.ComputeCartTotals(order.Cart, order.DiscountPct, s.opts.VATRate)
	if err != nil {
		return Result{}, err
	}
	lineVAT, err := pricing.ComputeItemVAT(order.Cart, s.opts.VATRate)
	if err != nil {
		return Result{}, err
	}

	now := s.opts.Now().UTC()
	tx := domain.Transaction{
		ID:             xid.New("tx"),
		Timestamp:      now,
		BranchID:       tc.BranchID,
		CashierID:      tc.ActorID,
		IdempotencyKey: order.IdempotencyKey,
		Items:          buildLines(order.Cart, lineVAT, decremented),
		Subtotal:       totals.Subtotal,
		DiscountPct:    order.DiscountPct,
		DiscountAmount: totals.DiscountAmount,
		PriceBeforeVAT: totals.PriceBeforeVAT,
		VATAmount:      totals.TotalVAT,
		VATRate:        s.opts.VATRate,
		Total:          totals.Total,
		PaymentMethod:  order.PaymentMethod,
		PaymentStatus:  domain.PaymentStatusCompleted,
	}

	result := Result{}
	if order.CustomerID != "" {
		idx := doc.FindCustomer(order.CustomerID)
		if idx < 0 {
			return Result{}, fmt.Errorf("%w: %s", ErrCustomerNotFound, order.CustomerID)
		}
		tx.CustomerID = order.CustomerID

		if order.PaymentMethod == domain.PaymentCredit {
			tx.PaymentStatus = domain.PaymentStatusPending
			customer := doc.Customers[idx]
			// re-checked against the snapshot being written
			if err := ledger.Authorize(customer, tx.Total); err != nil {
				return Result{}, err
			}
			updated, err := ledger.ExtendCredit(customer, tx.Total, now, s.opts.CreditTermDays)
			if err != nil {
				return Result{}, err
			}
			doc.Customers[idx] = updated
			receivable := ledger.NewReceivable(xid.New("exp"), tx, updated)
			result.Customer = &updated
			result.Receivable = &receivable
		}
	}

	merged, err := inventory.Merge(doc.Inventory, tc.BranchID, decremented)
	if err != nil {
		return Result{}, err
	}
	doc.Inventory = merged
	doc.Transactions = append(doc.Transactions, tx)

	if s.opts.DetectLostUpdates {
		result.LostUpdates = s.detectLostUpdates(ctx, tc, read.Inventory)
	}

	revision, err := s.tenants.SaveTenant(ctx, *doc)
	if err != nil {
		return Result{}, &PersistenceError{Op: "save tenant", Err: err}
	}
	result.Transaction = tx
	result.Revision = revision

	if result.Receivable != nil {
		if err := s.appendReceivable(ctx, tc, *result.Receivable); err != nil {
			s.logger.Warn().Err(err).
				Str("transaction_id", tx.ID).
				Str("operator_id", tc.ActorID).
				Msg("receivable not recorded")
			result.Warnings = append(result.Warnings, "receivable not recorded: "+err.Error())
		}
	}

	s.opts.Receipts.Schedule(tx)
	s.logger.Info().
		Str("transaction_id", tx.ID).
		Str("branch_id", tx.BranchID).
		Str("method", tx.PaymentMethod).
		Str("total", tx.Total.StringFixed(2)).
		Int64("revision", revision).
		Msg("checkout completed")
	return result, nil
}

// detectLostUpdates re-reads the tenant right before the write and reports
// same-branch items another writer changed since our read. The write still
// goes ahead.
func (s *Service) detectLostUpdates(ctx context.Context, tc domain.TenantContext, read []domain.InventoryItem) []string {
	current, err := s.tenants.LoadTenant(ctx, tc.TenantID)
	if err != nil {
		s.logger.Debug().Err(err).Msg("lost update check skipped")
		return nil
	}
	conflicts := inventory.DetectLostUpdates(read, current.Inventory, tc.BranchID)
	if len(conflicts) > 0 {
		metrics.LostUpdatesTotal.Add(float64(len(conflicts)))
		s.logger.Warn().
			Str("tenant_id", tc.TenantID).
			Str("branch_id", tc.BranchID).
			Strs("items", conflicts).
			Msg("overwriting concurrent same-branch inventory changes")
	}
	return conflicts
}

func (s *Service) appendReceivable(ctx context.Context, tc domain.TenantContext, receivable domain.Expense) error {
	doc, err := s.operators.LoadOperator(ctx, tc.TenantID, tc.ActorID)
	if err != nil {
		return err
	}
	doc.Expenses = append(doc.Expenses, receivable)
	return s.operators.SaveOperator(ctx, *doc)
}

func buildLines(cart []domain.CartLine, vat []pricing.LineVAT, branchItems []domain.InventoryItem) []domain.TransactionLine {
	byID := make(map[string]domain.InventoryItem, len(branchItems))
	for _, item := range branchItems {
		byID[item.ID] = item
	}
	lines := make([]domain.TransactionLine, 0, len(cart))
	for i, line := range cart {
		item := byID[line.ProductID]
		name := line.Name
		if name == "" {
			name = item.Name
		}
		lines = append(lines, domain.TransactionLine{
			ProductID:      line.ProductID,
			SKU:            item.SKU,
			Name:           name,
			Quantity:       line.Quantity,
			UnitPrice:      line.UnitPrice,
			LineTotal:      vat[i].LineTotal,
			PriceBeforeVAT: vat[i].PriceBeforeVAT,
			VATAmount:      vat[i].VATAmount,
		})
	}
	return lines
}

func (s *Service) countOutcome(method string, outcome string) {
	if !domain.IsSupportedPaymentMethod(method) {
		method = "other"
	}
	metrics.CheckoutsTotal.WithLabelValues(method, outcome).Inc()
}
