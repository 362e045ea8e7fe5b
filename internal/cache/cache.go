package cache

import (
	"context"
	"time"

	"dukapos/backend/internal/domain"
)

type DocumentCache interface {
	Get(ctx context.Context, key string) (*domain.TenantDocument, bool, error)
	Set(ctx context.Context, key string, value *domain.TenantDocument, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

type NoopDocumentCache struct{}

func (NoopDocumentCache) Get(_ context.Context, _ string) (*domain.TenantDocument, bool, error) {
	return nil, false, nil
}

func (NoopDocumentCache) Set(_ context.Context, _ string, _ *domain.TenantDocument, _ time.Duration) error {
	return nil
}

func (NoopDocumentCache) Delete(_ context.Context, _ string) error {
	return nil
}
