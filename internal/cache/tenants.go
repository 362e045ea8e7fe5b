package cache

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"dukapos/backend/internal/domain"
	"dukapos/backend/internal/logging"
	"dukapos/backend/internal/store"
)

const DefaultTTL = 3 * time.Second

// Tenants is a read-through cache in front of a TenantStore for dashboard
// and polling reads. Saves pass through and evict. Writers that need the
// freshest snapshot, like checkout, should go through Evicting.
type Tenants struct {
	store.TenantStore
	cache  DocumentCache
	ttl    time.Duration
	logger zerolog.Logger
}

func NewTenants(next store.TenantStore, cache DocumentCache, ttl time.Duration) *Tenants {
	if cache == nil {
		cache = NoopDocumentCache{}
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Tenants{TenantStore: next, cache: cache, ttl: ttl, logger: logging.For("cache")}
}

func tenantKey(tenantID string) string {
	return "dukapos:tenant:" + tenantID
}

func (t *Tenants) LoadTenant(ctx context.Context, tenantID string) (*domain.TenantDocument, error) {
	key := tenantKey(tenantID)
	if doc, ok, err := t.cache.Get(ctx, key); err != nil {
		t.logger.Warn().Err(err).Str("tenant_id", tenantID).Msg("cache read failed")
	} else if ok {
		return doc, nil
	}

	doc, err := t.TenantStore.LoadTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if err := t.cache.Set(ctx, key, doc, t.ttl); err != nil {
		t.logger.Warn().Err(err).Str("tenant_id", tenantID).Msg("cache write failed")
	}
	return doc, nil
}

func (t *Tenants) SaveTenant(ctx context.Context, doc domain.TenantDocument) (int64, error) {
	return saveAndEvict(ctx, t.TenantStore, t.cache, t.logger, doc)
}

// Evicting reads straight from the store and drops the cached copy after
// every successful save, before the save returns. Writers that announce
// their changes go through it so a listener never reloads a stale revision.
type Evicting struct {
	store.TenantStore
	cache  DocumentCache
	logger zerolog.Logger
}

func NewEvicting(next store.TenantStore, cache DocumentCache) *Evicting {
	if cache == nil {
		cache = NoopDocumentCache{}
	}
	return &Evicting{TenantStore: next, cache: cache, logger: logging.For("cache")}
}

func (e *Evicting) SaveTenant(ctx context.Context, doc domain.TenantDocument) (int64, error) {
	return saveAndEvict(ctx, e.TenantStore, e.cache, e.logger, doc)
}

func saveAndEvict(ctx context.Context, next store.TenantStore, cache DocumentCache, logger zerolog.Logger, doc domain.TenantDocument) (int64, error) {
	revision, err := next.SaveTenant(ctx, doc)
	if err != nil {
		return 0, err
	}
	if err := cache.Delete(ctx, tenantKey(doc.TenantID)); err != nil {
		logger.Warn().Err(err).Str("tenant_id", doc.TenantID).Msg("cache evict failed")
	}
	return revision, nil
}

// Documents pairs cached tenant reads with uncached operator reads, which is
// the read side the sync layer needs.
type Documents struct {
	*Tenants
	store.OperatorStore
}
