// Package syncer feeds scoped collection snapshots to consumers, either live
// from a change notifier or by polling, with the same data shape for both.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dukapos/backend/internal/domain"
	"dukapos/backend/internal/inventory"
)

type Mode string

const (
	ModeLive    Mode = "live"
	ModePolling Mode = "polling"
	ModeOffline Mode = "offline"
)

var ErrUnknownCollection = errors.New("unknown collection")

// TransportError means the live channel failed. It only ever triggers a
// fallback to polling and is not passed on to subscribers.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("sync transport: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Query scopes a subscription. Without AllBranches an empty BranchID matches
// nothing for branch-partitioned collections.
type Query struct {
	TenantID    string `json:"tenant_id"`
	Collection  string `json:"collection"`
	BranchID    string `json:"branch_id,omitempty"`
	AllBranches bool   `json:"all_branches,omitempty"`
	OperatorID  string `json:"operator_id,omitempty"`
}

// QueryFor builds the query an actor is allowed to run. Only admins without
// a branch assignment get the cross-branch view.
func QueryFor(tc domain.TenantContext, collection string) Query {
	q := Query{
		TenantID:   tc.TenantID,
		Collection: collection,
		BranchID:   tc.BranchID,
		OperatorID: tc.ActorID,
	}
	if tc.IsAdmin() && tc.BranchID == "" {
		q.AllBranches = true
	}
	return q
}

func (q Query) Validate() error {
	switch q.Collection {
	case domain.CollectionInventory, domain.CollectionTransactions, domain.CollectionCustomers, domain.CollectionExpenses:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCollection, q.Collection)
	}
	if q.TenantID == "" {
		return errors.New("tenant id required")
	}
	return nil
}

// Snapshot is the full current scoped collection. Only the field matching
// the query's collection is set.
type Snapshot struct {
	Query        Query                  `json:"query"`
	Revision     int64                  `json:"revision"`
	Mode         Mode                   `json:"mode"`
	At           time.Time              `json:"at"`
	Inventory    []domain.InventoryItem `json:"inventory,omitempty"`
	Transactions []domain.Transaction   `json:"transactions,omitempty"`
	Customers    []domain.Customer      `json:"customers,omitempty"`
	Expenses     []domain.Expense       `json:"expenses,omitempty"`
}

func (s Snapshot) Len() int {
	return len(s.Inventory) + len(s.Transactions) + len(s.Customers) + len(s.Expenses)
}

// Reader is the read side of the tenant and operator stores.
type Reader interface {
	LoadTenant(ctx context.Context, tenantID string) (*domain.TenantDocument, error)
	LoadOperator(ctx context.Context, tenantID string, operatorID string) (*domain.OperatorDocument, error)
}

// Project scopes a tenant document to a query.
func Project(doc *domain.TenantDocument, q Query) Snapshot {
	snap := Snapshot{Query: q, Revision: doc.Revision, At: time.Now().UTC()}
	switch q.Collection {
	case domain.CollectionInventory:
		if q.AllBranches {
			snap.Inventory = make([]domain.InventoryItem, 0, len(doc.Inventory))
			for _, item := range doc.Inventory {
				if !item.Deleted() {
					snap.Inventory = append(snap.Inventory, item)
				}
			}
		} else {
			snap.Inventory = inventory.BranchView(doc.Inventory, q.BranchID)
		}
	case domain.CollectionTransactions:
		snap.Transactions = make([]domain.Transaction, 0)
		for _, tx := range doc.Transactions {
			if q.AllBranches || (q.BranchID != "" && tx.BranchID == q.BranchID) {
				snap.Transactions = append(snap.Transactions, tx)
			}
		}
	case domain.CollectionCustomers:
		snap.Customers = append(make([]domain.Customer, 0, len(doc.Customers)), doc.Customers...)
	}
	return snap
}

// Load reads one scoped snapshot. Expenses come from the operator's own
// document; everything else from the tenant document.
func Load(ctx context.Context, reader Reader, q Query) (Snapshot, error) {
	if err := q.Validate(); err != nil {
		return Snapshot{}, err
	}
	if q.Collection == domain.CollectionExpenses {
		snap := Snapshot{Query: q, At: time.Now().UTC(), Expenses: make([]domain.Expense, 0)}
		if q.OperatorID == "" {
			return snap, nil
		}
		doc, err := reader.LoadOperator(ctx, q.TenantID, q.OperatorID)
		if err != nil {
			return Snapshot{}, err
		}
		snap.Revision = doc.Revision
		snap.Expenses = append(snap.Expenses, doc.Expenses...)
		return snap, nil
	}

	doc, err := reader.LoadTenant(ctx, q.TenantID)
	if err != nil {
		return Snapshot{}, err
	}
	return Project(doc, q), nil
}

type Unsubscribe func()

// Source delivers snapshots for a query. onData and onError of one
// subscription are called from a single goroutine, in arrival order.
type Source interface {
	Mode() Mode
	Subscribe(ctx context.Context, q Query, onData func(Snapshot), onError func(error)) (Unsubscribe, error)
}
