package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"dukapos/backend/internal/cache"
	"dukapos/backend/internal/checkout"
	"dukapos/backend/internal/config"
	"dukapos/backend/internal/domain"
	"dukapos/backend/internal/httpapi"
	"dukapos/backend/internal/logging"
	"dukapos/backend/internal/migration"
	"dukapos/backend/internal/store"
	"dukapos/backend/internal/store/memory"
	pgstore "dukapos/backend/internal/store/postgres"
	"dukapos/backend/internal/store/redisnotify"
	sqlitestore "dukapos/backend/internal/store/sqlite"
	"dukapos/backend/internal/syncer"
)

// documentStore is what every backend offers: tenant and operator documents
// plus the operator listing used to settle receivables.
type documentStore interface {
	store.TenantStore
	store.OperatorStore
	store.OperatorLister
}

type backend struct {
	docs      documentStore
	tenants   store.TenantStore
	operators store.OperatorStore
	notifier  store.Notifier
	// announced is set when the store publishes its own writes to notifier
	announced bool
	cache     cache.DocumentCache
	closers   []func() error
}

func (b *backend) close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			log.Warn().Err(err).Msg("close error")
		}
	}
}

func main() {
	cfg := config.Load()
	logging.Init(cfg.LogLevel, cfg.LogFormat)
	if err := validateSecurityConfig(cfg); err != nil {
		log.Fatal().Err(err).Msg("invalid security configuration")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	b, err := openBackend(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("storage unavailable")
	}
	if err := bootstrapTenant(ctx, b.docs, cfg.TenantID); err != nil {
		b.close()
		log.Fatal().Err(err).Str("tenant_id", cfg.TenantID).Msg("tenant bootstrap failed")
	}
	warnIfMigrationNeeded(ctx, b.docs, cfg)

	reads := cache.Documents{
		Tenants:       cache.NewTenants(b.docs, b.cache, cfg.CacheTTL()),
		OperatorStore: b.operators,
	}
	session := syncer.Select(ctx, reads, b.notifier, cfg.SyncPollInterval())

	receipts := checkout.NewReceiptQueue(businessName(ctx, b.docs, cfg.TenantID), 128, nil)
	svc := checkout.NewService(b.tenants, b.operators, checkout.Options{
		VATRate:           cfg.VATRate,
		CreditTermDays:    cfg.CreditTermDays,
		WriteTimeout:      cfg.CheckoutWriteTimeout,
		DetectLostUpdates: true,
		Receipts:          receipts,
	})
	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, b.docs, cfg.TenantID)
	api := httpapi.New(httpapi.Services{
		Checkout:  svc,
		Migration: migration.NewGuard(b.tenants),
		Reader:    reads,
		Sync:      session,
	}, auth, cfg.AllowedOrigin)

	// no WriteTimeout: sync streams stay open
	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.Address()).Str("sync_mode", string(session.Mode())).Msg("DukaPOS backend listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("shutdown error")
	}
	if err := receipts.Close(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("receipt queue not drained")
	}
	b.close()

	log.Info().Msg("server stopped")
}

// openBackend picks Postgres, then SQLite, then the seeded in-memory store.
// A configured database that cannot be reached is fatal; there is no silent
// fallback to memory once DATABASE_URL or SQLITE_PATH is set.
func openBackend(ctx context.Context, cfg config.Config) (*backend, error) {
	b := &backend{cache: cache.NoopDocumentCache{}}

	var localHub *memory.Notifier
	switch {
	case cfg.DatabaseURL != "":
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		b.docs = pg
		b.closers = append(b.closers, pg.Close)
		log.Info().Msg("repository: postgres")

		if cfg.RedisAddr == "" {
			listener, err := pgstore.NewListener(ctx, cfg.DatabaseURL, pg)
			if err != nil {
				log.Warn().Err(err).Msg("postgres LISTEN unavailable")
			} else {
				b.notifier = listener
				b.announced = true
				b.closers = append(b.closers, listener.Close)
			}
		}
	case cfg.SQLitePath != "":
		lite, err := sqlitestore.New(ctx, cfg.SQLitePath)
		if err != nil {
			b.close()
			return nil, fmt.Errorf("sqlite: %w", err)
		}
		b.docs = lite
		b.closers = append(b.closers, lite.Close)
		localHub = memory.NewNotifier()
		log.Info().Str("path", cfg.SQLitePath).Msg("repository: sqlite")
	default:
		mem := memory.NewSeeded(cfg.TenantID)
		b.docs = mem
		b.notifier = mem.Notifier()
		b.announced = true
		b.closers = append(b.closers, mem.Close)
		log.Info().Msg("repository: in-memory")
	}

	if cfg.RedisAddr != "" {
		rn := redisnotify.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := rn.Ping(ctx); err != nil {
			log.Warn().Err(err).Msg("redis unavailable, no shared cache or change feed")
			_ = rn.Close()
		} else {
			b.notifier = rn
			b.announced = false
			b.cache = cache.NewRedisDocumentCache(rn.Client())
			b.closers = append(b.closers, rn.Close)
			log.Info().Msg("cache and change feed: redis")
		}
	}

	if b.notifier == nil && localHub != nil {
		b.notifier = localHub
		b.closers = append(b.closers, func() error {
			localHub.Close()
			return nil
		})
	}

	b.tenants, b.operators = wireWrites(b.docs, b.cache, b.notifier, b.announced)
	return b, nil
}

// wireWrites routes tenant saves through cache eviction and, when the store
// does not publish its own writes, announces every save on notifier.
// Eviction runs before the announcement so subscribers reload fresh data.
func wireWrites(docs documentStore, c cache.DocumentCache, notifier store.Notifier, announced bool) (store.TenantStore, store.OperatorStore) {
	var tenants store.TenantStore = cache.NewEvicting(docs, c)
	var operators store.OperatorStore = docs
	if notifier != nil && !announced {
		tenants = store.Announcing{TenantStore: tenants, Notifier: notifier}
		operators = store.AnnouncingOperators{OperatorStore: docs, Notifier: notifier}
	}
	return tenants, operators
}

// bootstrapTenant writes the demo document for a tenant the store has never
// seen, so a fresh database can be logged into.
func bootstrapTenant(ctx context.Context, tenants store.TenantStore, tenantID string) error {
	_, err := tenants.LoadTenant(ctx, tenantID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return err
	}

	seed, err := memory.NewSeeded(tenantID).LoadTenant(ctx, tenantID)
	if err != nil {
		return err
	}
	revision, err := tenants.SaveTenant(ctx, *seed)
	if err != nil {
		return err
	}
	log.Info().Str("tenant_id", tenantID).Int64("revision", revision).Msg("seeded demo tenant")
	return nil
}

func warnIfMigrationNeeded(ctx context.Context, tenants store.TenantStore, cfg config.Config) {
	guard := migration.NewGuard(tenants)
	needed, report, err := guard.CheckIfMigrationNeeded(ctx, domain.TenantContext{TenantID: cfg.TenantID, Role: domain.RoleAdmin})
	if err != nil || !needed {
		return
	}
	log.Warn().
		Str("tenant_id", cfg.TenantID).
		Int("inventory", report.Inventory).
		Int("transactions", report.Transactions).
		Int("users", report.Users).
		Str("suggested_branch", cfg.DefaultBranchID).
		Msg("records without a branch; run the branch migration")
}

func businessName(ctx context.Context, tenants store.TenantStore, tenantID string) string {
	doc, err := tenants.LoadTenant(ctx, tenantID)
	if err != nil || doc.Settings.BusinessName == "" {
		return "DukaPOS"
	}
	return doc.Settings.BusinessName
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if cfg.TenantID == "" {
		return fmt.Errorf("DEFAULT_TENANT_ID must not be empty")
	}
	if cfg.AllowedOrigin == "*" && (cfg.DatabaseURL != "" || cfg.SQLitePath != "") {
		return fmt.Errorf("ALLOWED_ORIGIN=* is only allowed with the in-memory store")
	}
	return nil
}
