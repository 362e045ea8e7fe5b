package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var ErrInvalidRecord = errors.New("invalid record")

var hundred = decimal.NewFromInt(100)

func IsSupportedPaymentMethod(method string) bool {
	switch method {
	case PaymentCash, PaymentMpesa, PaymentCredit:
		return true
	}
	return false
}

// ValidateTenantDocument checks the shape of a document read from storage.
// A missing branch id is allowed here; the migration guard deals with it.
func ValidateTenantDocument(doc TenantDocument) error {
	if doc.TenantID == "" {
		return fmt.Errorf("%w: tenant id missing", ErrInvalidRecord)
	}
	for _, item := range doc.Inventory {
		if item.ID == "" {
			return fmt.Errorf("%w: inventory item without id", ErrInvalidRecord)
		}
		if item.Quantity < 0 {
			return fmt.Errorf("%w: inventory item %s has negative quantity %d", ErrInvalidRecord, item.ID, item.Quantity)
		}
		if item.SellingPrice.IsNegative() || item.CostPrice.IsNegative() {
			return fmt.Errorf("%w: inventory item %s has negative price", ErrInvalidRecord, item.ID)
		}
	}
	for _, tx := range doc.Transactions {
		if err := validateTransaction(tx); err != nil {
			return err
		}
	}
	for _, c := range doc.Customers {
		if c.ID == "" {
			return fmt.Errorf("%w: customer without id", ErrInvalidRecord)
		}
		if c.Balance.IsNegative() || c.CreditLimit.IsNegative() {
			return fmt.Errorf("%w: customer %s has negative balance or limit", ErrInvalidRecord, c.ID)
		}
	}
	return nil
}

func validateTransaction(tx Transaction) error {
	if tx.ID == "" {
		return fmt.Errorf("%w: transaction without id", ErrInvalidRecord)
	}
	if !IsSupportedPaymentMethod(tx.PaymentMethod) {
		return fmt.Errorf("%w: transaction %s has payment method %q", ErrInvalidRecord, tx.ID, tx.PaymentMethod)
	}
	if tx.PaymentStatus != PaymentStatusCompleted && tx.PaymentStatus != PaymentStatusPending {
		return fmt.Errorf("%w: transaction %s has payment status %q", ErrInvalidRecord, tx.ID, tx.PaymentStatus)
	}
	if tx.DiscountPct.IsNegative() || tx.DiscountPct.GreaterThan(hundred) {
		return fmt.Errorf("%w: transaction %s has discount %s", ErrInvalidRecord, tx.ID, tx.DiscountPct)
	}
	return nil
}

func ValidateOperatorDocument(doc OperatorDocument) error {
	if doc.TenantID == "" || doc.OperatorID == "" {
		return fmt.Errorf("%w: operator document key missing", ErrInvalidRecord)
	}
	for _, exp := range doc.Expenses {
		if exp.ID == "" {
			return fmt.Errorf("%w: expense without id", ErrInvalidRecord)
		}
	}
	return nil
}
