package memory

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"dukapos/backend/internal/domain"
	"dukapos/backend/internal/logging"
	"dukapos/backend/internal/store"
)

// Store keeps tenant and operator documents in process. Every read returns a
// deep copy; every save publishes on the attached notifier.
type Store struct {
	mu        sync.RWMutex
	tenants   map[string]domain.TenantDocument
	operators map[string]domain.OperatorDocument
	notifier  *Notifier
	closed    bool
}

func New() *Store {
	return &Store{
		tenants:   make(map[string]domain.TenantDocument),
		operators: make(map[string]domain.OperatorDocument),
		notifier:  NewNotifier(),
	}
}

// seedUsers builds the dev/demo accounts. Passwords come from
// SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD; the hardcoded defaults are
// only meant for local runs without DATABASE_URL.
func seedUsers(now time.Time) []domain.User {
	logger := logging.For("memory-store")
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		logger.Warn().Msg("using default dev credentials, set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override")
	}

	users := make([]domain.User, 0, 3)
	for _, u := range []struct {
		id       string
		username string
		password string
		role     string
		branchID string
	}{
		{"usr-admin", "admin", adminPwd, domain.RoleAdmin, ""},
		{"usr-cashier-uon", "cashier", cashierPwd, domain.RoleCashier, "uon"},
		{"usr-cashier-westlands", "cashier-westlands", cashierPwd, domain.RoleCashier, "westlands"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			logger.Fatal().Err(err).Str("username", u.username).Msg("failed to hash seed password")
		}
		users = append(users, domain.User{
			ID:           u.id,
			Username:     u.username,
			PasswordHash: string(hash),
			Role:         u.role,
			BranchID:     u.branchID,
			Active:       true,
			CreatedAt:    now,
		})
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// NewSeeded returns a store holding one demo tenant with two branches.
func NewSeeded(tenantID string) *Store {
	s := New()
	now := time.Now().UTC()
	doc := SeedDocument(tenantID)
	doc.Users = seedUsers(now)
	doc.Revision = 1
	doc.UpdatedAt = now
	s.tenants[tenantID] = doc
	return s
}

// SeedDocument is the demo catalogue without users, shared with tests.
func SeedDocument(tenantID string) domain.TenantDocument {
	price := decimal.RequireFromString
	catalogue := []struct {
		sku   string
		name  string
		cost  string
		price string
	}{
		{"SKU-UNGA-2KG", "Unga Pembe 2kg", "165", "199"},
		{"SKU-SUGAR-1KG", "Mumias Sugar 1kg", "150", "180"},
		{"SKU-MILK-500", "Brookside Milk 500ml", "52", "65"},
		{"SKU-BREAD-400", "Supaloaf 400g", "55", "70"},
		{"SKU-OIL-1L", "Fresh Fri 1L", "290", "345"},
		{"SKU-TEA-100", "Ketepa Tea 100g", "85", "110"},
	}

	inventory := make([]domain.InventoryItem, 0, len(catalogue)*2)
	for _, branch := range []struct {
		id  string
		qty int
	}{{"uon", 40}, {"westlands", 25}} {
		for _, c := range catalogue {
			inventory = append(inventory, domain.InventoryItem{
				ID:           branch.id + "-" + c.sku,
				SKU:          c.sku,
				Name:         c.name,
				Quantity:     branch.qty,
				ReorderLevel: 5,
				CostPrice:    price(c.cost),
				SellingPrice: price(c.price),
				BranchID:     branch.id,
			})
		}
	}

	return domain.TenantDocument{
		TenantID: tenantID,
		Branches: []domain.Branch{
			{ID: "uon", Name: "UoN Main Campus", Active: true},
			{ID: "westlands", Name: "Westlands", Active: true},
		},
		Inventory:    inventory,
		Transactions: make([]domain.Transaction, 0),
		Customers: []domain.Customer{
			{ID: "cust-wanjiku", Name: "Wanjiku Kamau", Phone: "+254700000001", CreditLimit: price("5000")},
			{ID: "cust-otieno", Name: "Otieno Hardware", Phone: "+254700000002", CreditLimit: price("20000"), SpecialPricing: true, DiscountRate: price("5")},
		},
		Suppliers: []domain.Supplier{{ID: "sup-bidco", Name: "Bidco Distributors"}},
		Expenses:  make([]domain.Expense, 0),
		Settings: domain.Settings{
			BusinessName:   "DukaPOS Demo",
			VATRate:        domain.DefaultVATRate,
			CreditTermDays: 30,
		},
	}
}

func (s *Store) Notifier() *Notifier {
	return s.notifier
}

func (s *Store) LoadTenant(ctx context.Context, tenantID string) (*domain.TenantDocument, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, store.ErrClosed
	}
	doc, ok := s.tenants[tenantID]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := doc.Clone()
	return &out, nil
}

func (s *Store) SaveTenant(ctx context.Context, doc domain.TenantDocument) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := domain.ValidateTenantDocument(doc); err != nil {
		return 0, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, store.ErrClosed
	}
	stored := doc.Clone()
	stored.Revision = s.tenants[doc.TenantID].Revision + 1
	stored.UpdatedAt = time.Now().UTC()
	s.tenants[doc.TenantID] = stored
	s.mu.Unlock()

	_ = s.notifier.Publish(ctx, store.Change{
		TenantID:    doc.TenantID,
		Collections: store.AllCollections(),
		Revision:    stored.Revision,
		At:          stored.UpdatedAt,
	})
	return stored.Revision, nil
}

func (s *Store) LoadOperator(ctx context.Context, tenantID string, operatorID string) (*domain.OperatorDocument, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, store.ErrClosed
	}
	doc, ok := s.operators[operatorKey(tenantID, operatorID)]
	if !ok {
		return store.EmptyOperator(tenantID, operatorID), nil
	}
	out := doc.Clone()
	return &out, nil
}

func (s *Store) SaveOperator(ctx context.Context, doc domain.OperatorDocument) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := domain.ValidateOperatorDocument(doc); err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return store.ErrClosed
	}
	key := operatorKey(doc.TenantID, doc.OperatorID)
	stored := doc.Clone()
	stored.Revision = s.operators[key].Revision + 1
	stored.UpdatedAt = time.Now().UTC()
	s.operators[key] = stored
	s.mu.Unlock()

	_ = s.notifier.Publish(ctx, store.Change{
		TenantID:    doc.TenantID,
		Collections: []string{domain.CollectionExpenses},
		Revision:    stored.Revision,
		At:          stored.UpdatedAt,
	})
	return nil
}

// ListOperators returns every operator document of a tenant, for admin
// expense views.
func (s *Store) ListOperators(ctx context.Context, tenantID string) ([]domain.OperatorDocument, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.OperatorDocument, 0)
	for _, doc := range s.operators {
		if doc.TenantID == tenantID {
			out = append(out, doc.Clone())
		}
	}
	return out, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.notifier.Close()
	return nil
}

func operatorKey(tenantID string, operatorID string) string {
	return tenantID + "/" + operatorID
}
