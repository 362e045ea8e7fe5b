// Package migration backfills the branch id on records written before
// branches existed. Every branch-scoped read and the inventory merge assume
// it has run.
package migration

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"dukapos/backend/internal/domain"
	"dukapos/backend/internal/logging"
	"dukapos/backend/internal/metrics"
	"dukapos/backend/internal/store"
)

var (
	ErrForbidden     = errors.New("only admins can run the branch migration")
	ErrUnknownBranch = errors.New("unknown default branch")
)

type Report struct {
	Inventory    int `json:"inventory"`
	Transactions int `json:"transactions"`
	Users        int `json:"users"`
}

func (r Report) Total() int {
	return r.Inventory + r.Transactions + r.Users
}

// Needed counts the records Backfill would change, without changing them.
func Needed(doc *domain.TenantDocument) Report {
	var r Report
	for _, item := range doc.Inventory {
		if item.BranchID == "" {
			r.Inventory++
		}
	}
	for _, tx := range doc.Transactions {
		if tx.BranchID == "" {
			r.Transactions++
		}
	}
	for _, u := range doc.Users {
		if u.Role != domain.RoleAdmin && u.BranchID == "" {
			r.Users++
		}
	}
	return r
}

// Backfill assigns branchID to every record missing one and reports what it
// changed. Admin users stay branchless.
func Backfill(doc *domain.TenantDocument, branchID string) Report {
	var r Report
	for i := range doc.Inventory {
		if doc.Inventory[i].BranchID == "" {
			doc.Inventory[i].BranchID = branchID
			r.Inventory++
		}
	}
	for i := range doc.Transactions {
		if doc.Transactions[i].BranchID == "" {
			doc.Transactions[i].BranchID = branchID
			r.Transactions++
		}
	}
	for i := range doc.Users {
		if doc.Users[i].Role != domain.RoleAdmin && doc.Users[i].BranchID == "" {
			doc.Users[i].BranchID = branchID
			r.Users++
		}
	}
	return r
}

type Guard struct {
	tenants store.TenantStore
	logger  zerolog.Logger
}

func NewGuard(tenants store.TenantStore) *Guard {
	return &Guard{tenants: tenants, logger: logging.For("migration")}
}

func (g *Guard) CheckIfMigrationNeeded(ctx context.Context, tc domain.TenantContext) (bool, Report, error) {
	doc, err := g.tenants.LoadTenant(ctx, tc.TenantID)
	if err != nil {
		return false, Report{}, err
	}
	r := Needed(doc)
	return r.Total() > 0, r, nil
}

// Migrate backfills defaultBranchID in one pass and one write. Running it
// again on a migrated tenant reports zero and writes nothing.
func (g *Guard) Migrate(ctx context.Context, tc domain.TenantContext, defaultBranchID string) (Report, error) {
	if !tc.IsAdmin() {
		return Report{}, ErrForbidden
	}
	if defaultBranchID == "" {
		return Report{}, fmt.Errorf("%w: empty branch id", ErrUnknownBranch)
	}

	doc, err := g.tenants.LoadTenant(ctx, tc.TenantID)
	if err != nil {
		return Report{}, err
	}
	if len(doc.Branches) > 0 && !doc.HasBranch(defaultBranchID) {
		return Report{}, fmt.Errorf("%w: %s", ErrUnknownBranch, defaultBranchID)
	}

	report := Backfill(doc, defaultBranchID)
	if report.Total() == 0 {
		return report, nil
	}
	revision, err := g.tenants.SaveTenant(ctx, *doc)
	if err != nil {
		return Report{}, fmt.Errorf("save migrated tenant: %w", err)
	}

	metrics.MigratedRecordsTotal.WithLabelValues(domain.CollectionInventory).Add(float64(report.Inventory))
	metrics.MigratedRecordsTotal.WithLabelValues(domain.CollectionTransactions).Add(float64(report.Transactions))
	metrics.MigratedRecordsTotal.WithLabelValues("users").Add(float64(report.Users))
	g.logger.Info().
		Str("tenant_id", tc.TenantID).
		Str("branch_id", defaultBranchID).
		Int("inventory", report.Inventory).
		Int("transactions", report.Transactions).
		Int("users", report.Users).
		Int64("revision", revision).
		Msg("branch migration applied")
	return report, nil
}
