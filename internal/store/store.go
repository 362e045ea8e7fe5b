package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"dukapos/backend/internal/domain"
	"dukapos/backend/internal/logging"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrCorruptDocument = errors.New("corrupt document")
	ErrClosed          = errors.New("store closed")
	ErrUnavailable     = errors.New("store unavailable")
)

// TenantStore reads and writes the whole tenant document. A save replaces
// the stored document, the last writer wins, and the new revision is
// returned.
type TenantStore interface {
	LoadTenant(ctx context.Context, tenantID string) (*domain.TenantDocument, error)
	SaveTenant(ctx context.Context, doc domain.TenantDocument) (int64, error)
}

// OperatorStore holds per-cashier documents. Loading an operator that never
// wrote anything returns an empty document, not ErrNotFound.
type OperatorStore interface {
	LoadOperator(ctx context.Context, tenantID string, operatorID string) (*domain.OperatorDocument, error)
	SaveOperator(ctx context.Context, doc domain.OperatorDocument) error
}

// OperatorLister is implemented by operator stores that can enumerate a
// tenant's operators. Admin views and receivable settlement use it.
type OperatorLister interface {
	ListOperators(ctx context.Context, tenantID string) ([]domain.OperatorDocument, error)
}

// Change announces that a tenant document was written.
type Change struct {
	TenantID    string    `json:"tenant_id"`
	Collections []string  `json:"collections,omitempty"`
	Revision    int64     `json:"revision"`
	At          time.Time `json:"at"`
}

// Touches reports whether the change concerns collection. A change without
// collections touches everything.
func (c Change) Touches(collection string) bool {
	if len(c.Collections) == 0 {
		return true
	}
	for _, name := range c.Collections {
		if name == collection {
			return true
		}
	}
	return false
}

// Notifier delivers change events. The returned channel is closed when the
// transport goes away; stop releases the watch and may be called twice.
type Notifier interface {
	Watch(ctx context.Context, tenantID string) (<-chan Change, func(), error)
	Publish(ctx context.Context, change Change) error
}

// Announcing publishes a Change after every successful tenant save. A
// failed publish is logged; the write itself already happened.
type Announcing struct {
	TenantStore
	Notifier Notifier
}

func (a Announcing) SaveTenant(ctx context.Context, doc domain.TenantDocument) (int64, error) {
	revision, err := a.TenantStore.SaveTenant(ctx, doc)
	if err != nil {
		return 0, err
	}
	announce(ctx, a.Notifier, Change{TenantID: doc.TenantID, Collections: AllCollections(), Revision: revision, At: time.Now().UTC()})
	return revision, nil
}

// AnnouncingOperators publishes an expenses Change after every successful
// operator save.
type AnnouncingOperators struct {
	OperatorStore
	Notifier Notifier
}

func (a AnnouncingOperators) SaveOperator(ctx context.Context, doc domain.OperatorDocument) error {
	if err := a.OperatorStore.SaveOperator(ctx, doc); err != nil {
		return err
	}
	announce(ctx, a.Notifier, Change{TenantID: doc.TenantID, Collections: []string{domain.CollectionExpenses}, At: time.Now().UTC()})
	return nil
}

func (a AnnouncingOperators) ListOperators(ctx context.Context, tenantID string) ([]domain.OperatorDocument, error) {
	lister, ok := a.OperatorStore.(OperatorLister)
	if !ok {
		return nil, fmt.Errorf("%w: operator listing not supported", ErrUnavailable)
	}
	return lister.ListOperators(ctx, tenantID)
}

func announce(ctx context.Context, notifier Notifier, change Change) {
	if err := notifier.Publish(ctx, change); err != nil {
		logger := logging.For("store")
		logger.Warn().Err(err).Str("tenant_id", change.TenantID).Int64("revision", change.Revision).Msg("change publish failed")
	}
}

// AllCollections lists what a full tenant write touches.
func AllCollections() []string {
	return []string{
		domain.CollectionInventory,
		domain.CollectionTransactions,
		domain.CollectionCustomers,
		domain.CollectionExpenses,
	}
}

func EncodeTenant(doc domain.TenantDocument) ([]byte, error) {
	if err := domain.ValidateTenantDocument(doc); err != nil {
		return nil, err
	}
	return json.Marshal(doc)
}

// DecodeTenant parses and validates a stored tenant document. Anything that
// does not validate is reported as ErrCorruptDocument.
func DecodeTenant(raw []byte) (*domain.TenantDocument, error) {
	var doc domain.TenantDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptDocument, err)
	}
	if err := domain.ValidateTenantDocument(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptDocument, err)
	}
	return &doc, nil
}

func EncodeOperator(doc domain.OperatorDocument) ([]byte, error) {
	if err := domain.ValidateOperatorDocument(doc); err != nil {
		return nil, err
	}
	return json.Marshal(doc)
}

func DecodeOperator(raw []byte) (*domain.OperatorDocument, error) {
	var doc domain.OperatorDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptDocument, err)
	}
	if err := domain.ValidateOperatorDocument(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptDocument, err)
	}
	return &doc, nil
}

// EmptyOperator is what LoadOperator returns for an operator with no writes.
func EmptyOperator(tenantID string, operatorID string) *domain.OperatorDocument {
	return &domain.OperatorDocument{
		TenantID:   tenantID,
		OperatorID: operatorID,
		Expenses:   make([]domain.Expense, 0),
	}
}
