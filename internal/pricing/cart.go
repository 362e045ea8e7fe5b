package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"

	"dukapos/backend/internal/domain"
)

// ResolveUnitPrice applies a special-pricing customer's discount rate to a
// base price. Customers without special pricing pay the base price.
func ResolveUnitPrice(base decimal.Decimal, customer *domain.Customer) decimal.Decimal {
	if customer == nil || !customer.SpecialPricing {
		return base
	}
	rate := ClampDiscount(customer.DiscountRate)
	return base.Mul(one.Sub(rate.Div(hundred))).Round(currencyPlaces)
}

// AddToCart resolves the unit price once, at insertion. Adding a product that
// is already in the cart raises its quantity and keeps the price captured the
// first time, whatever customer is selected now.
func AddToCart(cart []domain.CartLine, item domain.InventoryItem, qty int, customer *domain.Customer) ([]domain.CartLine, error) {
	if qty < 1 {
		return cart, fmt.Errorf("%w: product %s", ErrInvalidQuantity, item.ID)
	}
	out := append([]domain.CartLine(nil), cart...)
	for i := range out {
		if out[i].ProductID == item.ID {
			out[i].Quantity += qty
			return out, nil
		}
	}
	return append(out, domain.CartLine{
		ProductID: item.ID,
		Name:      item.Name,
		Quantity:  qty,
		UnitPrice: ResolveUnitPrice(item.SellingPrice, customer),
	}), nil
}

// CartQuantities sums quantities per product.
func CartQuantities(cart []domain.CartLine) map[string]int {
	out := make(map[string]int, len(cart))
	for _, line := range cart {
		out[line.ProductID] += line.Quantity
	}
	return out
}
