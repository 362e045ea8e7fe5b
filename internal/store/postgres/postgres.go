package postgres

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"dukapos/backend/internal/domain"
	"dukapos/backend/internal/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ChangeChannel is the LISTEN/NOTIFY channel tenant writes are announced on.
const ChangeChannel = "dukapos_changes"

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}

	s := &Store{db: db}
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Migrate applies the embedded goose migrations.
func (s *Store) Migrate(ctx context.Context) error {
	fsys, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return err
	}
	provider, err := goose.NewProvider(goose.DialectPostgres, s.db, fsys)
	if err != nil {
		return fmt.Errorf("goose provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) LoadTenant(ctx context.Context, tenantID string) (*domain.TenantDocument, error) {
	var (
		body      []byte
		revision  int64
		updatedAt time.Time
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT body, revision, updated_at
		FROM tenant_documents
		WHERE tenant_id = $1
	`, tenantID).Scan(&body, &revision, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	doc, err := store.DecodeTenant(body)
	if err != nil {
		return nil, err
	}
	doc.Revision = revision
	doc.UpdatedAt = updatedAt.UTC()
	return doc, nil
}

// SaveTenant upserts the document and announces the write on ChangeChannel
// in the same transaction, so listeners never hear about a rolled back save.
func (s *Store) SaveTenant(ctx context.Context, doc domain.TenantDocument) (int64, error) {
	body, err := store.EncodeTenant(doc)
	if err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now().UTC()
	var revision int64
	if err := tx.QueryRowContext(ctx, `
		INSERT INTO tenant_documents (tenant_id, body, revision, updated_at)
		VALUES ($1, $2, 1, $3)
		ON CONFLICT (tenant_id)
		DO UPDATE SET body = EXCLUDED.body, revision = tenant_documents.revision + 1, updated_at = EXCLUDED.updated_at
		RETURNING revision
	`, doc.TenantID, body, now).Scan(&revision); err != nil {
		return 0, err
	}

	payload, err := json.Marshal(store.Change{
		TenantID:    doc.TenantID,
		Collections: store.AllCollections(),
		Revision:    revision,
		At:          now,
	})
	if err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx, `SELECT pg_notify($1, $2)`, ChangeChannel, string(payload)); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return revision, nil
}

func (s *Store) LoadOperator(ctx context.Context, tenantID string, operatorID string) (*domain.OperatorDocument, error) {
	var (
		body      []byte
		revision  int64
		updatedAt time.Time
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT body, revision, updated_at
		FROM operator_documents
		WHERE tenant_id = $1 AND operator_id = $2
	`, tenantID, operatorID).Scan(&body, &revision, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.EmptyOperator(tenantID, operatorID), nil
		}
		return nil, err
	}

	doc, err := store.DecodeOperator(body)
	if err != nil {
		return nil, err
	}
	doc.Revision = revision
	doc.UpdatedAt = updatedAt.UTC()
	return doc, nil
}

// SaveOperator upserts the operator document and announces an expenses
// change in the same transaction.
func (s *Store) SaveOperator(ctx context.Context, doc domain.OperatorDocument) error {
	body, err := store.EncodeOperator(doc)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now().UTC()
	var revision int64
	if err := tx.QueryRowContext(ctx, `
		INSERT INTO operator_documents (tenant_id, operator_id, body, revision, updated_at)
		VALUES ($1, $2, $3, 1, $4)
		ON CONFLICT (tenant_id, operator_id)
		DO UPDATE SET body = EXCLUDED.body, revision = operator_documents.revision + 1, updated_at = EXCLUDED.updated_at
		RETURNING revision
	`, doc.TenantID, doc.OperatorID, body, now).Scan(&revision); err != nil {
		return err
	}

	payload, err := json.Marshal(store.Change{
		TenantID:    doc.TenantID,
		Collections: []string{domain.CollectionExpenses},
		Revision:    revision,
		At:          now,
	})
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `SELECT pg_notify($1, $2)`, ChangeChannel, string(payload)); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) ListOperators(ctx context.Context, tenantID string) ([]domain.OperatorDocument, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT body, revision, updated_at
		FROM operator_documents
		WHERE tenant_id = $1
		ORDER BY operator_id
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.OperatorDocument, 0)
	for rows.Next() {
		var (
			body      []byte
			revision  int64
			updatedAt time.Time
		)
		if err := rows.Scan(&body, &revision, &updatedAt); err != nil {
			return nil, err
		}
		doc, err := store.DecodeOperator(body)
		if err != nil {
			return nil, err
		}
		doc.Revision = revision
		doc.UpdatedAt = updatedAt.UTC()
		out = append(out, *doc)
	}
	return out, rows.Err()
}

// Publish sends a change through the database, for writers that did not go
// through SaveTenant.
func (s *Store) Publish(ctx context.Context, change store.Change) error {
	payload, err := json.Marshal(change)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `SELECT pg_notify($1, $2)`, ChangeChannel, string(payload))
	return err
}
