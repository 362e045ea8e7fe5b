// Package ledger keeps customer credit bookkeeping for deferred-payment sales.
//
// Functions take a customer by value and return the updated copy; persisting
// it is the caller's job.
package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"dukapos/backend/internal/domain"
)

const DefaultTermDays = 30

var (
	ErrCreditLimitExceeded = errors.New("credit limit exceeded")
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrOverpayment         = errors.New("payment exceeds outstanding balance")
)

// AvailableCredit is creditLimit - balance, floored at zero.
func AvailableCredit(c domain.Customer) decimal.Decimal {
	available := c.CreditLimit.Sub(c.Balance)
	if available.IsNegative() {
		return decimal.Zero
	}
	return available
}

// Authorize checks balance + amount <= creditLimit. It is a point-in-time
// check; two sales for the same customer racing each other can both pass.
func Authorize(c domain.Customer, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	if c.Balance.Add(amount).GreaterThan(c.CreditLimit) {
		return fmt.Errorf("%w: customer %s has %s available, sale needs %s",
			ErrCreditLimitExceeded, c.ID, AvailableCredit(c).StringFixed(2), amount.StringFixed(2))
	}
	return nil
}

// ExtendCredit books amount against the customer. Loan dates are only set
// when the customer has no open loan; termDays <= 0 means DefaultTermDays.
func ExtendCredit(c domain.Customer, amount decimal.Decimal, now time.Time, termDays int) (domain.Customer, error) {
	if !amount.IsPositive() {
		return c, ErrInvalidAmount
	}
	if termDays <= 0 {
		termDays = DefaultTermDays
	}
	c.Balance = c.Balance.Add(amount)
	c.LoanAmount = c.LoanAmount.Add(amount)
	if c.LoanDate == nil {
		loanDate := now.UTC()
		c.LoanDate = &loanDate
	}
	if c.LoanDueDate == nil {
		due := c.LoanDate.AddDate(0, 0, termDays)
		c.LoanDueDate = &due
	}
	return c, nil
}

// RecordPayment reduces the outstanding balance. Balance never goes below
// zero; a full repayment closes the loan.
func RecordPayment(c domain.Customer, amount decimal.Decimal) (domain.Customer, error) {
	if !amount.IsPositive() {
		return c, ErrInvalidAmount
	}
	if amount.GreaterThan(c.Balance) {
		return c, fmt.Errorf("%w: balance %s, payment %s", ErrOverpayment, c.Balance.StringFixed(2), amount.StringFixed(2))
	}
	c.Balance = c.Balance.Sub(amount)
	c.LoanAmount = c.LoanAmount.Sub(amount)
	if c.LoanAmount.IsNegative() {
		c.LoanAmount = decimal.Zero
	}
	if c.Balance.IsZero() {
		c.LoanAmount = decimal.Zero
		c.LoanDate = nil
		c.LoanDueDate = nil
	}
	return c, nil
}

// Overdue reports whether an open loan is past its due date.
func Overdue(c domain.Customer, now time.Time) bool {
	return c.Balance.IsPositive() && c.LoanDueDate != nil && now.After(*c.LoanDueDate)
}

// NewReceivable mirrors a credit sale as an outstanding receivable.
func NewReceivable(id string, tx domain.Transaction, c domain.Customer) domain.Expense {
	return domain.Expense{
		ID:            id,
		Category:      domain.ExpenseCategoryReceivable,
		Description:   fmt.Sprintf("Credit sale %s to %s", tx.ID, customerLabel(c)),
		Amount:        tx.Total,
		Date:          tx.Timestamp,
		BranchID:      tx.BranchID,
		CustomerID:    c.ID,
		TransactionID: tx.ID,
		Status:        domain.ExpenseStatusOutstanding,
	}
}

// SettlePending marks the customer's pending credit transactions completed.
// It only does so once the balance is fully repaid and returns how many
// transactions changed.
func SettlePending(transactions []domain.Transaction, c domain.Customer, now time.Time) int {
	if !c.Balance.IsZero() {
		return 0
	}
	settled := 0
	for i := range transactions {
		tx := &transactions[i]
		if tx.CustomerID != c.ID || tx.PaymentMethod != domain.PaymentCredit || tx.PaymentStatus != domain.PaymentStatusPending {
			continue
		}
		at := now.UTC()
		tx.PaymentStatus = domain.PaymentStatusCompleted
		tx.SettledAt = &at
		settled++
	}
	return settled
}

// SettleReceivables marks outstanding receivables of a customer settled.
func SettleReceivables(expenses []domain.Expense, customerID string) int {
	settled := 0
	for i := range expenses {
		if expenses[i].CustomerID == customerID && expenses[i].Category == domain.ExpenseCategoryReceivable && expenses[i].Status == domain.ExpenseStatusOutstanding {
			expenses[i].Status = domain.ExpenseStatusSettled
			settled++
		}
	}
	return settled
}

func customerLabel(c domain.Customer) string {
	if c.Name != "" {
		return c.Name
	}
	return c.ID
}
