package main

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"dukapos/backend/internal/cache"
	"dukapos/backend/internal/checkout"
	"dukapos/backend/internal/config"
	"dukapos/backend/internal/domain"
	"dukapos/backend/internal/store/memory"
	"dukapos/backend/internal/syncer"
)

// sharedCache stands in for the Redis document cache.
type sharedCache struct {
	mu   sync.Mutex
	docs map[string]domain.TenantDocument
}

func (c *sharedCache) Get(_ context.Context, key string) (*domain.TenantDocument, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	doc, ok := c.docs[key]
	if !ok {
		return nil, false, nil
	}
	out := doc.Clone()
	return &out, true, nil
}

func (c *sharedCache) Set(_ context.Context, key string, value *domain.TenantDocument, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.docs[key] = value.Clone()
	return nil
}

func (c *sharedCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.docs, key)
	return nil
}

func TestValidateSecurityConfigRejectsWeakValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{AuthSecret: "short", TenantID: "demo-duka"})
	if err == nil {
		t.Fatalf("expected weak security config to be rejected")
	}
}

func TestValidateSecurityConfigAcceptsStrongValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{AuthSecret: "0123456789abcdef0123456789abcdef", TenantID: "demo-duka"})
	if err != nil {
		t.Fatalf("expected strong config to pass, got %v", err)
	}
}

func TestValidateSecurityConfigRejectsWildcardOriginWithDatabase(t *testing.T) {
	err := validateSecurityConfig(config.Config{
		AuthSecret:    "0123456789abcdef0123456789abcdef",
		TenantID:      "demo-duka",
		AllowedOrigin: "*",
		SQLitePath:    "/tmp/duka.db",
	})
	if err == nil {
		t.Fatalf("expected wildcard origin with a database to be rejected")
	}
}

func TestBootstrapTenantSeedsOnlyOnce(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	defer repo.Close()

	if err := bootstrapTenant(ctx, repo, "fresh-duka"); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	doc, err := repo.LoadTenant(ctx, "fresh-duka")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(doc.Users) == 0 || len(doc.Branches) != 2 {
		t.Fatalf("expected seeded users and branches, got %d users %d branches", len(doc.Users), len(doc.Branches))
	}

	doc.Settings.BusinessName = "Mama Mboga"
	revision, err := repo.SaveTenant(ctx, *doc)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := bootstrapTenant(ctx, repo, "fresh-duka"); err != nil {
		t.Fatalf("second bootstrap: %v", err)
	}
	again, err := repo.LoadTenant(ctx, "fresh-duka")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if again.Revision != revision || businessName(ctx, repo, "fresh-duka") != "Mama Mboga" {
		t.Fatalf("existing tenant was overwritten")
	}
}

func TestOpenBackendDefaultsToMemory(t *testing.T) {
	b, err := openBackend(context.Background(), config.Config{TenantID: "demo-duka"})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer b.close()
	if _, ok := b.docs.(*memory.Store); !ok {
		t.Fatalf("expected memory store, got %T", b.docs)
	}
	if b.notifier == nil {
		t.Fatalf("memory store should provide a change notifier")
	}
	if businessName(context.Background(), b.docs, "demo-duka") != "DukaPOS Demo" {
		t.Fatalf("expected seeded business name")
	}
}

func TestCheckoutReachesLiveSubscribersBehindSharedCache(t *testing.T) {
	ctx := context.Background()
	docs := memory.New()
	defer docs.Close()
	if _, err := docs.SaveTenant(ctx, memory.SeedDocument("demo")); err != nil {
		t.Fatalf("seed: %v", err)
	}
	// external feed: the store does not publish to it on its own
	feed := memory.NewNotifier()
	defer feed.Close()
	shared := &sharedCache{docs: map[string]domain.TenantDocument{}}

	tenants, operators := wireWrites(docs, shared, feed, false)
	reads := cache.Documents{Tenants: cache.NewTenants(docs, shared, time.Minute), OperatorStore: operators}

	snaps := make(chan syncer.Snapshot, 8)
	unsubscribe, err := syncer.NewLiveSource(reads, feed).Subscribe(ctx,
		syncer.Query{TenantID: "demo", Collection: domain.CollectionInventory, BranchID: "uon"},
		func(snap syncer.Snapshot) { snaps <- snap },
		func(err error) { t.Errorf("unexpected error: %v", err) })
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer unsubscribe()

	select {
	case first := <-snaps:
		if first.Revision != 1 {
			t.Fatalf("expected first revision 1, got %d", first.Revision)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no initial snapshot")
	}

	svc := checkout.NewService(tenants, operators, checkout.Options{})
	o := svc.NewOrchestrator(domain.TenantContext{TenantID: "demo", ActorID: "usr-1", Role: domain.RoleCashier, BranchID: "uon"})
	line := domain.CartLine{ProductID: "uon-SKU-SUGAR-1KG", Name: "Mumias Sugar 1kg", Quantity: 2, UnitPrice: decimal.RequireFromString("180")}
	if err := o.SetCart([]domain.CartLine{line}); err != nil {
		t.Fatalf("set cart: %v", err)
	}
	if err := o.Begin(ctx, domain.PaymentCash, ""); err != nil {
		t.Fatalf("begin: %v", err)
	}
	result, err := o.Confirm(ctx)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case snap := <-snaps:
			if snap.Revision != result.Revision {
				continue
			}
			for _, item := range snap.Inventory {
				if item.ID == line.ProductID && item.Quantity != 38 {
					t.Fatalf("expected sugar at 38 after sale, got %d", item.Quantity)
				}
			}
			return
		case <-deadline:
			t.Fatalf("live subscriber never saw revision %d", result.Revision)
		}
	}
}

func TestOperatorSavesAreAnnouncedWhenStoreIsSilent(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	docs := memory.New()
	defer docs.Close()
	feed := memory.NewNotifier()
	defer feed.Close()

	_, operators := wireWrites(docs, nil, feed, false)
	changes, stop, err := feed.Watch(ctx, "demo")
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	defer stop()

	if err := operators.SaveOperator(ctx, domain.OperatorDocument{TenantID: "demo", OperatorID: "usr-1"}); err != nil {
		t.Fatalf("save operator: %v", err)
	}
	select {
	case change := <-changes:
		if !change.Touches(domain.CollectionExpenses) || change.Touches(domain.CollectionInventory) {
			t.Fatalf("expected an expenses-only change, got %+v", change)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("operator save was not announced")
	}
}

func TestSelfAnnouncingStoreIsNotAnnouncedTwice(t *testing.T) {
	docs := memory.New()
	defer docs.Close()
	tenants, operators := wireWrites(docs, nil, docs.Notifier(), true)
	if _, ok := tenants.(*cache.Evicting); !ok {
		t.Fatalf("expected evicting tenant writes, got %T", tenants)
	}
	if _, ok := operators.(*memory.Store); !ok {
		t.Fatalf("expected bare operator store, got %T", operators)
	}
}
