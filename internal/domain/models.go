package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	RoleAdmin   = "admin"
	RoleManager = "manager"
	RoleCashier = "cashier"
)

const (
	PaymentCash   = "cash"
	PaymentMpesa  = "mpesa"
	PaymentCredit = "credit"
)

const (
	PaymentStatusCompleted = "completed"
	PaymentStatusPending   = "pending"
)

const (
	CollectionInventory    = "inventory"
	CollectionTransactions = "transactions"
	CollectionCustomers    = "customers"
	CollectionExpenses     = "expenses"
)

const (
	ExpenseCategoryReceivable = "credit_sale_receivable"
	ExpenseStatusOutstanding  = "outstanding"
	ExpenseStatusSettled      = "settled"
)

// DefaultVATRate is the Kenyan standard rate applied to VAT-inclusive prices.
var DefaultVATRate = decimal.RequireFromString("0.16")

// TenantContext identifies who is acting and on whose data. Every core
// operation receives it explicitly.
type TenantContext struct {
	TenantID string
	ActorID  string
	Role     string
	BranchID string
}

func (tc TenantContext) IsAdmin() bool {
	return tc.Role == RoleAdmin
}

type Branch struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

type InventoryItem struct {
	ID           string          `json:"id"`
	SKU          string          `json:"sku"`
	Barcode      string          `json:"barcode,omitempty"`
	Name         string          `json:"name"`
	Quantity     int             `json:"quantity"`
	ReorderLevel int             `json:"reorder_level"`
	CostPrice    decimal.Decimal `json:"cost_price"`
	SellingPrice decimal.Decimal `json:"selling_price"`
	BranchID     string          `json:"branch_id"`
	ExpiryDate   *time.Time      `json:"expiry_date,omitempty"`
	DeletedAt    *time.Time      `json:"deleted_at,omitempty"`
	Version      int64           `json:"version"`
}

func (i InventoryItem) Deleted() bool {
	return i.DeletedAt != nil
}

// CartLine carries the unit price captured when the line was added. It is
// never re-resolved afterwards.
type CartLine struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name,omitempty"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type TransactionLine struct {
	ProductID      string          `json:"product_id"`
	SKU            string          `json:"sku,omitempty"`
	Name           string          `json:"name"`
	Quantity       int             `json:"quantity"`
	UnitPrice      decimal.Decimal `json:"unit_price"`
	LineTotal      decimal.Decimal `json:"line_total"`
	PriceBeforeVAT decimal.Decimal `json:"price_before_vat"`
	VATAmount      decimal.Decimal `json:"vat_amount"`
}

type Transaction struct {
	ID             string            `json:"id"`
	Timestamp      time.Time         `json:"timestamp"`
	BranchID       string            `json:"branch_id"`
	CashierID      string            `json:"cashier_id"`
	CustomerID     string            `json:"customer_id,omitempty"`
	IdempotencyKey string            `json:"idempotency_key,omitempty"`
	Items          []TransactionLine `json:"items"`
	Subtotal       decimal.Decimal   `json:"subtotal"`
	DiscountPct    decimal.Decimal   `json:"discount_pct"`
	DiscountAmount decimal.Decimal   `json:"discount_amount"`
	PriceBeforeVAT decimal.Decimal   `json:"price_before_vat"`
	VATAmount      decimal.Decimal   `json:"vat_amount"`
	VATRate        decimal.Decimal   `json:"vat_rate"`
	Total          decimal.Decimal   `json:"total"`
	PaymentMethod  string            `json:"payment_method"`
	PaymentStatus  string            `json:"payment_status"`
	SettledAt      *time.Time        `json:"settled_at,omitempty"`
}

type Customer struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Phone          string          `json:"phone,omitempty"`
	Balance        decimal.Decimal `json:"balance"`
	CreditLimit    decimal.Decimal `json:"credit_limit"`
	LoanAmount     decimal.Decimal `json:"loan_amount"`
	LoanDate       *time.Time      `json:"loan_date,omitempty"`
	LoanDueDate    *time.Time      `json:"loan_due_date,omitempty"`
	SpecialPricing bool            `json:"special_pricing"`
	DiscountRate   decimal.Decimal `json:"discount_rate"`
}

// Expense is a receivable record mirroring a credit sale. It lives in the
// operator-scoped store.
type Expense struct {
	ID            string          `json:"id"`
	Category      string          `json:"category"`
	Description   string          `json:"description"`
	Amount        decimal.Decimal `json:"amount"`
	Date          time.Time       `json:"date"`
	BranchID      string          `json:"branch_id,omitempty"`
	CustomerID    string          `json:"customer_id,omitempty"`
	TransactionID string          `json:"transaction_id,omitempty"`
	Status        string          `json:"status"`
}

type Supplier struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Phone    string `json:"phone,omitempty"`
	BranchID string `json:"branch_id,omitempty"`
}

// User is a persisted account. PasswordHash is a bcrypt hash.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"password_hash"`
	Role         string    `json:"role"`
	BranchID     string    `json:"branch_id,omitempty"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
}

type Settings struct {
	BusinessName   string          `json:"business_name"`
	VATRate        decimal.Decimal `json:"vat_rate"`
	CreditTermDays int             `json:"credit_term_days"`
}

// TenantDocument is the whole-document read/write unit of a tenant.
type TenantDocument struct {
	TenantID     string          `json:"tenant_id"`
	Branches     []Branch        `json:"branches"`
	Inventory    []InventoryItem `json:"inventory"`
	Transactions []Transaction   `json:"transactions"`
	Customers    []Customer      `json:"customers"`
	Suppliers    []Supplier      `json:"suppliers"`
	Expenses     []Expense       `json:"expenses"`
	Users        []User          `json:"users"`
	Settings     Settings        `json:"settings"`
	Revision     int64           `json:"revision"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// OperatorDocument is the per-cashier store, readable by admins only.
type OperatorDocument struct {
	TenantID   string    `json:"tenant_id"`
	OperatorID string    `json:"operator_id"`
	Expenses   []Expense `json:"expenses"`
	Revision   int64     `json:"revision"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (d *TenantDocument) FindCustomer(id string) int {
	for i := range d.Customers {
		if d.Customers[i].ID == id {
			return i
		}
	}
	return -1
}

func (d *TenantDocument) FindTransactionByIdempotency(key string) *Transaction {
	if key == "" {
		return nil
	}
	for i := range d.Transactions {
		if d.Transactions[i].IdempotencyKey == key {
			tx := d.Transactions[i]
			return &tx
		}
	}
	return nil
}

func (d *TenantDocument) HasBranch(id string) bool {
	for _, b := range d.Branches {
		if b.ID == id {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so callers can mutate freely without touching
// a stored document.
func (d TenantDocument) Clone() TenantDocument {
	out := d
	out.Branches = append([]Branch(nil), d.Branches...)
	out.Inventory = make([]InventoryItem, len(d.Inventory))
	for i, item := range d.Inventory {
		item.ExpiryDate = cloneTime(item.ExpiryDate)
		item.DeletedAt = cloneTime(item.DeletedAt)
		out.Inventory[i] = item
	}
	out.Transactions = make([]Transaction, len(d.Transactions))
	for i, tx := range d.Transactions {
		tx.Items = append([]TransactionLine(nil), tx.Items...)
		tx.SettledAt = cloneTime(tx.SettledAt)
		out.Transactions[i] = tx
	}
	out.Customers = make([]Customer, len(d.Customers))
	for i, c := range d.Customers {
		c.LoanDate = cloneTime(c.LoanDate)
		c.LoanDueDate = cloneTime(c.LoanDueDate)
		out.Customers[i] = c
	}
	out.Suppliers = append([]Supplier(nil), d.Suppliers...)
	out.Expenses = append([]Expense(nil), d.Expenses...)
	out.Users = append([]User(nil), d.Users...)
	return out
}

func (d OperatorDocument) Clone() OperatorDocument {
	out := d
	out.Expenses = append([]Expense(nil), d.Expenses...)
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
