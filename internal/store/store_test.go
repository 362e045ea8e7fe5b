package store

import (
	"context"
	"errors"
	"sync"
	"testing"

	"dukapos/backend/internal/domain"
)

func TestDecodeTenantRejectsCorruptRecords(t *testing.T) {
	raw := []byte(`{"tenant_id":"t1","inventory":[{"id":"i1","quantity":-4,"branch_id":"uon"}]}`)
	if _, err := DecodeTenant(raw); !errors.Is(err, ErrCorruptDocument) {
		t.Fatalf("expected corrupt document for negative quantity, got %v", err)
	}

	raw = []byte(`{"tenant_id":"t1","transactions":[{"id":"tx1","payment_method":"cheque","payment_status":"completed"}]}`)
	if _, err := DecodeTenant(raw); !errors.Is(err, ErrCorruptDocument) {
		t.Fatalf("expected corrupt document for unknown payment method, got %v", err)
	}

	if _, err := DecodeTenant([]byte(`{not json`)); !errors.Is(err, ErrCorruptDocument) {
		t.Fatalf("expected corrupt document for bad json, got %v", err)
	}
}

func TestEncodeDecodeTenant(t *testing.T) {
	doc := domain.TenantDocument{
		TenantID:  "t1",
		Inventory: []domain.InventoryItem{{ID: "i1", Name: "Sugar", Quantity: 3, BranchID: "uon"}},
	}
	raw, err := EncodeTenant(doc)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodeTenant(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Inventory[0].BranchID != "uon" || decoded.Inventory[0].Quantity != 3 {
		t.Fatalf("unexpected decoded inventory: %+v", decoded.Inventory)
	}
}

func TestChangeTouches(t *testing.T) {
	all := Change{TenantID: "t1"}
	if !all.Touches(domain.CollectionCustomers) {
		t.Fatalf("change without collections must touch everything")
	}
	inv := Change{TenantID: "t1", Collections: []string{domain.CollectionInventory}}
	if inv.Touches(domain.CollectionExpenses) {
		t.Fatalf("inventory change must not touch expenses")
	}
}

type recordingNotifier struct {
	mu      sync.Mutex
	changes []Change
}

func (n *recordingNotifier) Watch(context.Context, string) (<-chan Change, func(), error) {
	return nil, nil, ErrUnavailable
}

func (n *recordingNotifier) Publish(_ context.Context, change Change) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.changes = append(n.changes, change)
	return nil
}

func (n *recordingNotifier) published() []Change {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Change(nil), n.changes...)
}

type operatorMap struct {
	fail bool
	docs map[string]domain.OperatorDocument
}

func (m *operatorMap) LoadOperator(_ context.Context, tenantID string, operatorID string) (*domain.OperatorDocument, error) {
	doc, ok := m.docs[tenantID+"/"+operatorID]
	if !ok {
		return EmptyOperator(tenantID, operatorID), nil
	}
	return &doc, nil
}

func (m *operatorMap) SaveOperator(_ context.Context, doc domain.OperatorDocument) error {
	if m.fail {
		return ErrUnavailable
	}
	m.docs[doc.TenantID+"/"+doc.OperatorID] = doc
	return nil
}

type listingOperatorMap struct {
	*operatorMap
}

func (m listingOperatorMap) ListOperators(_ context.Context, tenantID string) ([]domain.OperatorDocument, error) {
	out := make([]domain.OperatorDocument, 0, len(m.docs))
	for _, doc := range m.docs {
		if doc.TenantID == tenantID {
			out = append(out, doc)
		}
	}
	return out, nil
}

func TestAnnouncingOperatorsPublishesExpensesChange(t *testing.T) {
	ctx := context.Background()
	notifier := &recordingNotifier{}
	inner := &operatorMap{docs: map[string]domain.OperatorDocument{}}
	ops := AnnouncingOperators{OperatorStore: listingOperatorMap{inner}, Notifier: notifier}

	if err := ops.SaveOperator(ctx, domain.OperatorDocument{TenantID: "t1", OperatorID: "usr-1"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	changes := notifier.published()
	if len(changes) != 1 {
		t.Fatalf("expected one change, got %d", len(changes))
	}
	if changes[0].TenantID != "t1" || !changes[0].Touches(domain.CollectionExpenses) || changes[0].Touches(domain.CollectionInventory) {
		t.Fatalf("unexpected change %+v", changes[0])
	}

	listed, err := ops.ListOperators(ctx, "t1")
	if err != nil || len(listed) != 1 {
		t.Fatalf("expected listing to reach the inner store, got %d docs err=%v", len(listed), err)
	}

	inner.fail = true
	if err := ops.SaveOperator(ctx, domain.OperatorDocument{TenantID: "t1", OperatorID: "usr-2"}); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected save error, got %v", err)
	}
	if n := len(notifier.published()); n != 1 {
		t.Fatalf("failed save must not be announced, got %d changes", n)
	}

	bare := AnnouncingOperators{OperatorStore: inner, Notifier: notifier}
	if _, err := bare.ListOperators(ctx, "t1"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected unavailable listing, got %v", err)
	}
}
