package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"dukapos/backend/internal/domain"
	"dukapos/backend/internal/store"
)

func TestSaveTenantBumpsRevisionAndIsolatesCopies(t *testing.T) {
	ctx := context.Background()
	s := New()

	rev, err := s.SaveTenant(ctx, SeedDocument("t1"))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if rev != 1 {
		t.Fatalf("expected revision 1, got %d", rev)
	}

	doc, err := s.LoadTenant(ctx, "t1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	doc.Inventory[0].Quantity = 0

	again, err := s.LoadTenant(ctx, "t1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if again.Inventory[0].Quantity == 0 {
		t.Fatalf("mutating a loaded document changed the store")
	}

	rev, err = s.SaveTenant(ctx, *doc)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if rev != 2 {
		t.Fatalf("expected revision 2, got %d", rev)
	}
}

func TestLoadTenantNotFound(t *testing.T) {
	if _, err := New().LoadTenant(context.Background(), "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestLoadOperatorWithoutWritesIsEmpty(t *testing.T) {
	doc, err := New().LoadOperator(context.Background(), "t1", "usr-1")
	if err != nil {
		t.Fatalf("load operator: %v", err)
	}
	if doc.OperatorID != "usr-1" || len(doc.Expenses) != 0 {
		t.Fatalf("unexpected empty operator doc: %+v", doc)
	}
}

func TestSaveTenantNotifiesWatchers(t *testing.T) {
	ctx := context.Background()
	s := New()

	changes, stop, err := s.Notifier().Watch(ctx, "t1")
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	defer stop()

	if _, err := s.SaveTenant(ctx, SeedDocument("t1")); err != nil {
		t.Fatalf("save: %v", err)
	}
	select {
	case change := <-changes:
		if change.TenantID != "t1" || change.Revision != 1 {
			t.Fatalf("unexpected change: %+v", change)
		}
	case <-time.After(time.Second):
		t.Fatalf("no change delivered")
	}
}

func TestNotifierStopIsIdempotentAndCloseEndsWatches(t *testing.T) {
	ctx := context.Background()
	n := NewNotifier()

	_, stop, err := n.Watch(ctx, "t1")
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	stop()
	stop()
	if n.Watchers("t1") != 0 {
		t.Fatalf("expected watcher removed")
	}

	changes, stop2, err := n.Watch(ctx, "t1")
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	n.Close()
	if _, ok := <-changes; ok {
		t.Fatalf("expected channel closed after notifier close")
	}
	stop2()

	if _, _, err := n.Watch(ctx, "t1"); !errors.Is(err, store.ErrClosed) {
		t.Fatalf("expected closed error, got %v", err)
	}
}

func TestNotifierCoalescesForSlowWatchers(t *testing.T) {
	ctx := context.Background()
	n := NewNotifier()
	changes, stop, err := n.Watch(ctx, "t1")
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	defer stop()

	for rev := int64(1); rev <= 5; rev++ {
		if err := n.Publish(ctx, store.Change{TenantID: "t1", Revision: rev}); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	change := <-changes
	if change.Revision != 5 {
		t.Fatalf("expected newest revision 5, got %d", change.Revision)
	}
}

func TestSaveTenantRejectsInvalidDocument(t *testing.T) {
	doc := SeedDocument("t1")
	doc.Inventory[0].Quantity = -1
	if _, err := New().SaveTenant(context.Background(), doc); !errors.Is(err, domain.ErrInvalidRecord) {
		t.Fatalf("expected invalid record, got %v", err)
	}
}
