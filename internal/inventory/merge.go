// Package inventory implements the branch-partitioned merge used to write a
// shared inventory collection back without touching other branches' items.
//
// A branch only ever rewrites the items whose BranchID equals its own id.
// Items without a BranchID belong to nobody: they are hidden from every
// branch view and carried through merges unchanged until the migration guard
// assigns them.
package inventory

import (
	"errors"
	"fmt"
	"sort"

	"dukapos/backend/internal/domain"
)

var (
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrUnknownProduct    = errors.New("product not stocked in branch")
	ErrNoBranch          = errors.New("branch id required")
	ErrInvalidQuantity   = errors.New("quantity must be at least 1")
)

type Adjustment struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// BranchView returns the live (not soft-deleted) items of one branch.
func BranchView(items []domain.InventoryItem, branchID string) []domain.InventoryItem {
	out := make([]domain.InventoryItem, 0)
	if branchID == "" {
		return out
	}
	for _, item := range items {
		if item.BranchID == branchID && !item.Deleted() {
			out = append(out, item)
		}
	}
	return out
}

// OtherBranches returns everything branchID does not own, branchless items
// included.
func OtherBranches(items []domain.InventoryItem, branchID string) []domain.InventoryItem {
	out := make([]domain.InventoryItem, 0, len(items))
	for _, item := range items {
		if item.BranchID != branchID || branchID == "" {
			out = append(out, item)
		}
	}
	return out
}

// ownedBy returns every item of the branch, soft-deleted ones too, so a merge
// does not drop them.
func ownedBy(items []domain.InventoryItem, branchID string) []domain.InventoryItem {
	out := make([]domain.InventoryItem, 0)
	for _, item := range items {
		if item.BranchID == branchID {
			out = append(out, item)
		}
	}
	return out
}

// DecrementBranch returns the branch's slice of items with the adjustments
// subtracted. Nothing is changed when any line is short.
func DecrementBranch(items []domain.InventoryItem, branchID string, adjustments []Adjustment) ([]domain.InventoryItem, error) {
	return applyBranch(items, branchID, adjustments, -1)
}

// IncrementBranch is the goods-receipt counterpart of DecrementBranch.
func IncrementBranch(items []domain.InventoryItem, branchID string, adjustments []Adjustment) ([]domain.InventoryItem, error) {
	return applyBranch(items, branchID, adjustments, 1)
}

func applyBranch(items []domain.InventoryItem, branchID string, adjustments []Adjustment, sign int) ([]domain.InventoryItem, error) {
	if branchID == "" {
		return nil, ErrNoBranch
	}
	wanted, err := sumAdjustments(adjustments)
	if err != nil {
		return nil, err
	}

	owned := ownedBy(items, branchID)
	index := make(map[string]int, len(owned))
	for i, item := range owned {
		if !item.Deleted() {
			index[item.ID] = i
		}
	}

	for _, productID := range sortedKeys(wanted) {
		i, ok := index[productID]
		if !ok {
			return nil, fmt.Errorf("%w: %s in branch %s", ErrUnknownProduct, productID, branchID)
		}
		next := owned[i].Quantity + sign*wanted[productID]
		if next < 0 {
			return nil, fmt.Errorf("%w: %s has %d, need %d", ErrInsufficientStock, owned[i].Name, owned[i].Quantity, wanted[productID])
		}
		owned[i].Quantity = next
		owned[i].Version++
	}
	return owned, nil
}

// Merge rebuilds the full collection from the snapshot's other branches and
// the given branch slice. Snapshot order is preserved; branch items missing
// from the snapshot are appended.
func Merge(snapshot []domain.InventoryItem, branchID string, branchItems []domain.InventoryItem) ([]domain.InventoryItem, error) {
	if branchID == "" {
		return nil, ErrNoBranch
	}
	replacement := make(map[string]domain.InventoryItem, len(branchItems))
	order := make([]string, 0, len(branchItems))
	for _, item := range branchItems {
		if item.BranchID != branchID {
			return nil, fmt.Errorf("merge for branch %s got item %s of branch %q", branchID, item.ID, item.BranchID)
		}
		if _, dup := replacement[item.ID]; !dup {
			order = append(order, item.ID)
		}
		replacement[item.ID] = item
	}

	merged := make([]domain.InventoryItem, 0, len(snapshot)+len(branchItems))
	used := make(map[string]bool, len(replacement))
	for _, item := range snapshot {
		if item.BranchID != branchID {
			merged = append(merged, item)
			continue
		}
		if next, ok := replacement[item.ID]; ok {
			merged = append(merged, next)
			used[item.ID] = true
		}
	}
	for _, id := range order {
		if !used[id] {
			merged = append(merged, replacement[id])
		}
	}
	return merged, nil
}

// NeedsMigration counts items without a branch.
func NeedsMigration(items []domain.InventoryItem) int {
	n := 0
	for _, item := range items {
		if item.BranchID == "" {
			n++
		}
	}
	return n
}

// DetectLostUpdates lists branch items whose version in current moved since
// read was taken, i.e. another writer of the same branch got there first.
func DetectLostUpdates(read []domain.InventoryItem, current []domain.InventoryItem, branchID string) []string {
	seen := make(map[string]int64, len(read))
	for _, item := range read {
		if item.BranchID == branchID {
			seen[item.ID] = item.Version
		}
	}
	conflicts := make([]string, 0)
	for _, item := range current {
		if item.BranchID != branchID {
			continue
		}
		if v, ok := seen[item.ID]; ok && v != item.Version {
			conflicts = append(conflicts, item.ID)
		}
	}
	return conflicts
}

// LowStock returns live branch items at or below their reorder level.
func LowStock(items []domain.InventoryItem, branchID string) []domain.InventoryItem {
	out := make([]domain.InventoryItem, 0)
	for _, item := range BranchView(items, branchID) {
		if item.Quantity <= item.ReorderLevel {
			out = append(out, item)
		}
	}
	return out
}

func sumAdjustments(adjustments []Adjustment) (map[string]int, error) {
	wanted := make(map[string]int, len(adjustments))
	for _, adj := range adjustments {
		if adj.Quantity < 1 {
			return nil, fmt.Errorf("%w: product %s", ErrInvalidQuantity, adj.ProductID)
		}
		wanted[adj.ProductID] += adj.Quantity
	}
	return wanted, nil
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
