// Package pricing computes cart totals for VAT-inclusive prices. Everything in
// here is pure: no clock, no storage, no package state that changes.
package pricing

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"dukapos/backend/internal/domain"
)

var (
	ErrDiscountOutOfRange = errors.New("discount percentage must be between 0 and 100")
	ErrInvalidVATRate     = errors.New("vat rate must not be negative")
	ErrInvalidQuantity    = errors.New("quantity must be at least 1")
	ErrInvalidPrice       = errors.New("unit price must not be negative")
)

// currencyPlaces is the rounding precision for every amount the engine returns.
const currencyPlaces = 2

var (
	hundred = decimal.NewFromInt(100)
	one     = decimal.NewFromInt(1)
)

type CartTotals struct {
	Subtotal       decimal.Decimal `json:"subtotal"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	Total          decimal.Decimal `json:"total"`
	PriceBeforeVAT decimal.Decimal `json:"price_before_vat"`
	TotalVAT       decimal.Decimal `json:"total_vat"`
}

type LineVAT struct {
	ProductID      string          `json:"product_id"`
	Quantity       int             `json:"quantity"`
	UnitPrice      decimal.Decimal `json:"unit_price"`
	LineTotal      decimal.Decimal `json:"line_total"`
	PriceBeforeVAT decimal.Decimal `json:"price_before_vat"`
	VATAmount      decimal.Decimal `json:"vat_amount"`
}

func ValidateDiscount(pct decimal.Decimal) error {
	if pct.IsNegative() || pct.GreaterThan(hundred) {
		return fmt.Errorf("%w: got %s", ErrDiscountOutOfRange, pct)
	}
	return nil
}

// ClampDiscount forces pct into [0,100] for callers that prefer clamping to
// rejection.
func ClampDiscount(pct decimal.Decimal) decimal.Decimal {
	if pct.IsNegative() {
		return decimal.Zero
	}
	if pct.GreaterThan(hundred) {
		return hundred
	}
	return pct
}

func ComputeCartTotals(cart []domain.CartLine, discountPct decimal.Decimal, vatRate decimal.Decimal) (CartTotals, error) {
	if err := ValidateDiscount(discountPct); err != nil {
		return CartTotals{}, err
	}
	if vatRate.IsNegative() {
		return CartTotals{}, ErrInvalidVATRate
	}

	subtotal := decimal.Zero
	for _, line := range cart {
		lineTotal, err := lineAmount(line)
		if err != nil {
			return CartTotals{}, err
		}
		subtotal = subtotal.Add(lineTotal)
	}
	subtotal = subtotal.Round(currencyPlaces)

	discountAmount := subtotal.Mul(discountPct).Div(hundred).Round(currencyPlaces)
	total := subtotal.Sub(discountAmount)
	beforeVAT, vat := SplitInclusive(total, vatRate)

	return CartTotals{
		Subtotal:       subtotal,
		DiscountAmount: discountAmount,
		Total:          total,
		PriceBeforeVAT: beforeVAT,
		TotalVAT:       vat,
	}, nil
}

// ComputeItemVAT decomposes each line on its own. Cart-level discounts are
// not spread over lines.
func ComputeItemVAT(cart []domain.CartLine, vatRate decimal.Decimal) ([]LineVAT, error) {
	if vatRate.IsNegative() {
		return nil, ErrInvalidVATRate
	}
	out := make([]LineVAT, 0, len(cart))
	for _, line := range cart {
		lineTotal, err := lineAmount(line)
		if err != nil {
			return nil, err
		}
		lineTotal = lineTotal.Round(currencyPlaces)
		beforeVAT, vat := SplitInclusive(lineTotal, vatRate)
		out = append(out, LineVAT{
			ProductID:      line.ProductID,
			Quantity:       line.Quantity,
			UnitPrice:      line.UnitPrice,
			LineTotal:      lineTotal,
			PriceBeforeVAT: beforeVAT,
			VATAmount:      vat,
		})
	}
	return out, nil
}

// SplitInclusive splits a VAT-inclusive amount. The VAT part is the residual,
// so the two parts always add back to amount exactly.
func SplitInclusive(amount decimal.Decimal, vatRate decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	beforeVAT := amount.DivRound(one.Add(vatRate), currencyPlaces)
	return beforeVAT, amount.Sub(beforeVAT)
}

func lineAmount(line domain.CartLine) (decimal.Decimal, error) {
	if line.Quantity < 1 {
		return decimal.Zero, fmt.Errorf("%w: product %s", ErrInvalidQuantity, line.ProductID)
	}
	if line.UnitPrice.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: product %s", ErrInvalidPrice, line.ProductID)
	}
	return line.UnitPrice.Mul(decimal.NewFromInt(int64(line.Quantity))), nil
}
