// Package sqlite stores tenant and operator documents in a local SQLite file
// for offline terminals. It has no change notification; consumers poll.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"dukapos/backend/internal/domain"
	"dukapos/backend/internal/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// single writer avoids SQLITE_BUSY between our own connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	fsys, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, db, fsys)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("goose provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) LoadTenant(ctx context.Context, tenantID string) (*domain.TenantDocument, error) {
	var (
		body      string
		revision  int64
		updatedAt string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT body, revision, updated_at
		FROM tenant_documents
		WHERE tenant_id = ?
	`, tenantID).Scan(&body, &revision, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	doc, err := store.DecodeTenant([]byte(body))
	if err != nil {
		return nil, err
	}
	doc.Revision = revision
	doc.UpdatedAt = parseTime(updatedAt)
	return doc, nil
}

func (s *Store) SaveTenant(ctx context.Context, doc domain.TenantDocument) (int64, error) {
	body, err := store.EncodeTenant(doc)
	if err != nil {
		return 0, err
	}
	var revision int64
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO tenant_documents (tenant_id, body, revision, updated_at)
		VALUES (?, ?, 1, ?)
		ON CONFLICT (tenant_id)
		DO UPDATE SET body = excluded.body, revision = tenant_documents.revision + 1, updated_at = excluded.updated_at
		RETURNING revision
	`, doc.TenantID, string(body), formatTime(time.Now())).Scan(&revision)
	if err != nil {
		return 0, err
	}
	return revision, nil
}

func (s *Store) LoadOperator(ctx context.Context, tenantID string, operatorID string) (*domain.OperatorDocument, error) {
	var (
		body      string
		revision  int64
		updatedAt string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT body, revision, updated_at
		FROM operator_documents
		WHERE tenant_id = ? AND operator_id = ?
	`, tenantID, operatorID).Scan(&body, &revision, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.EmptyOperator(tenantID, operatorID), nil
		}
		return nil, err
	}

	doc, err := store.DecodeOperator([]byte(body))
	if err != nil {
		return nil, err
	}
	doc.Revision = revision
	doc.UpdatedAt = parseTime(updatedAt)
	return doc, nil
}

func (s *Store) SaveOperator(ctx context.Context, doc domain.OperatorDocument) error {
	body, err := store.EncodeOperator(doc)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO operator_documents (tenant_id, operator_id, body, revision, updated_at)
		VALUES (?, ?, ?, 1, ?)
		ON CONFLICT (tenant_id, operator_id)
		DO UPDATE SET body = excluded.body, revision = operator_documents.revision + 1, updated_at = excluded.updated_at
	`, doc.TenantID, doc.OperatorID, string(body), formatTime(time.Now()))
	return err
}

func (s *Store) ListOperators(ctx context.Context, tenantID string) ([]domain.OperatorDocument, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT body, revision, updated_at
		FROM operator_documents
		WHERE tenant_id = ?
		ORDER BY operator_id
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.OperatorDocument, 0)
	for rows.Next() {
		var (
			body      string
			revision  int64
			updatedAt string
		)
		if err := rows.Scan(&body, &revision, &updatedAt); err != nil {
			return nil, err
		}
		doc, err := store.DecodeOperator([]byte(body))
		if err != nil {
			return nil, err
		}
		doc.Revision = revision
		doc.UpdatedAt = parseTime(updatedAt)
		out = append(out, *doc)
	}
	return out, rows.Err()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(raw string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}
