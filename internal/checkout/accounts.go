package checkout

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"dukapos/backend/internal/domain"
	"dukapos/backend/internal/inventory"
	"dukapos/backend/internal/ledger"
	"dukapos/backend/internal/store"
)

type ReceiptResult struct {
	Items    []domain.InventoryItem `json:"items"`
	Revision int64                  `json:"revision"`
}

// ReceiveGoods adds delivered stock to the caller's branch. Other branches
// are carried through unchanged.
func (s *Service) ReceiveGoods(ctx context.Context, tc domain.TenantContext, adjustments []inventory.Adjustment) (ReceiptResult, error) {
	if tc.BranchID == "" {
		return ReceiptResult{}, ErrMissingBranchAssignment
	}
	doc, err := s.tenants.LoadTenant(ctx, tc.TenantID)
	if err != nil {
		return ReceiptResult{}, &PersistenceError{Op: "load tenant", Err: err}
	}
	incremented, err := inventory.IncrementBranch(doc.Inventory, tc.BranchID, adjustments)
	if err != nil {
		return ReceiptResult{}, err
	}
	merged, err := inventory.Merge(doc.Inventory, tc.BranchID, incremented)
	if err != nil {
		return ReceiptResult{}, err
	}
	doc.Inventory = merged

	revision, err := s.tenants.SaveTenant(ctx, *doc)
	if err != nil {
		return ReceiptResult{}, &PersistenceError{Op: "save tenant", Err: err}
	}
	s.logger.Info().
		Str("tenant_id", tc.TenantID).
		Str("branch_id", tc.BranchID).
		Int("lines", len(adjustments)).
		Int64("revision", revision).
		Msg("goods received")
	return ReceiptResult{Items: inventory.BranchView(merged, tc.BranchID), Revision: revision}, nil
}

type PaymentResult struct {
	Customer           domain.Customer `json:"customer"`
	SettledSales       int             `json:"settled_sales"`
	SettledReceivables int             `json:"settled_receivables"`
	Revision           int64           `json:"revision"`
	Warnings           []string        `json:"warnings,omitempty"`
}

// RecordPayment applies a customer repayment. Once the balance reaches zero
// the customer's pending credit sales are completed and the matching
// receivables are settled in every operator store that can be listed.
func (s *Service) RecordPayment(ctx context.Context, tc domain.TenantContext, customerID string, amount decimal.Decimal) (PaymentResult, error) {
	doc, err := s.tenants.LoadTenant(ctx, tc.TenantID)
	if err != nil {
		return PaymentResult{}, &PersistenceError{Op: "load tenant", Err: err}
	}
	idx := doc.FindCustomer(customerID)
	if idx < 0 {
		return PaymentResult{}, fmt.Errorf("%w: %s", ErrCustomerNotFound, customerID)
	}
	updated, err := ledger.RecordPayment(doc.Customers[idx], amount)
	if err != nil {
		return PaymentResult{}, err
	}
	doc.Customers[idx] = updated
	settled := ledger.SettlePending(doc.Transactions, updated, s.opts.Now())

	revision, err := s.tenants.SaveTenant(ctx, *doc)
	if err != nil {
		return PaymentResult{}, &PersistenceError{Op: "save tenant", Err: err}
	}
	result := PaymentResult{Customer: updated, SettledSales: settled, Revision: revision}

	if updated.Balance.IsZero() {
		n, err := s.settleReceivables(ctx, tc, customerID)
		result.SettledReceivables = n
		if err != nil {
			s.logger.Warn().Err(err).Str("customer_id", customerID).Msg("receivables not settled")
			result.Warnings = append(result.Warnings, "receivables not settled: "+err.Error())
		}
	}
	s.logger.Info().
		Str("tenant_id", tc.TenantID).
		Str("customer_id", customerID).
		Str("amount", amount.StringFixed(2)).
		Str("balance", updated.Balance.StringFixed(2)).
		Int("settled_sales", settled).
		Msg("customer payment recorded")
	return result, nil
}

func (s *Service) settleReceivables(ctx context.Context, tc domain.TenantContext, customerID string) (int, error) {
	var docs []domain.OperatorDocument
	if lister, ok := s.operators.(store.OperatorLister); ok {
		listed, err := lister.ListOperators(ctx, tc.TenantID)
		if err != nil {
			return 0, err
		}
		docs = listed
	} else {
		doc, err := s.operators.LoadOperator(ctx, tc.TenantID, tc.ActorID)
		if err != nil {
			return 0, err
		}
		docs = []domain.OperatorDocument{*doc}
	}

	total := 0
	for _, doc := range docs {
		n := ledger.SettleReceivables(doc.Expenses, customerID)
		if n == 0 {
			continue
		}
		if err := s.operators.SaveOperator(ctx, doc); err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// LowStock lists the caller's branch items at or below their reorder level.
func (s *Service) LowStock(ctx context.Context, tc domain.TenantContext) ([]domain.InventoryItem, error) {
	if tc.BranchID == "" {
		return nil, ErrMissingBranchAssignment
	}
	doc, err := s.tenants.LoadTenant(ctx, tc.TenantID)
	if err != nil {
		return nil, &PersistenceError{Op: "load tenant", Err: err}
	}
	return inventory.LowStock(doc.Inventory, tc.BranchID), nil
}
