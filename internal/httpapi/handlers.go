package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"dukapos/backend/internal/checkout"
	"dukapos/backend/internal/domain"
	"dukapos/backend/internal/inventory"
	"dukapos/backend/internal/syncer"
)

type quoteRequest struct {
	Items       []domain.CartLine `json:"items"`
	DiscountPct decimal.Decimal   `json:"discount_pct"`
}

type checkoutRequest struct {
	Items          []domain.CartLine `json:"items"`
	DiscountPct    decimal.Decimal   `json:"discount_pct"`
	PaymentMethod  string            `json:"payment_method"`
	CustomerID     string            `json:"customer_id,omitempty"`
	IdempotencyKey string            `json:"idempotency_key,omitempty"`
}

type paymentRequest struct {
	CustomerID string          `json:"customer_id"`
	Amount     decimal.Decimal `json:"amount"`
}

type goodsReceiptRequest struct {
	Lines []inventory.Adjustment `json:"lines"`
}

type migrationRequest struct {
	DefaultBranchID string `json:"default_branch_id"`
}

type receiptRequest struct {
	TransactionID string `json:"transaction_id"`
}

func (a *API) handleQuote(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	var req quoteRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	quote, err := a.checkout.Quote(req.Items, req.DiscountPct)
	if err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

// handleCheckout runs one sale through the checkout state machine. The
// idempotency key a till sends on retry makes resubmits safe.
func (a *API) handleCheckout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	var req checkoutRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	o := a.checkout.NewOrchestrator(scope(r))
	if err := o.SetCart(req.Items); err != nil {
		writeCoreError(w, err)
		return
	}
	if err := o.SetDiscount(req.DiscountPct); err != nil {
		writeCoreError(w, err)
		return
	}
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		o.SetIdempotencyKey(key)
	}
	if err := o.Begin(r.Context(), req.PaymentMethod, req.CustomerID); err != nil {
		writeCoreError(w, err)
		return
	}
	result, err := o.Confirm(r.Context())
	if err != nil {
		writeCoreError(w, err)
		return
	}

	status := http.StatusCreated
	if result.Duplicate {
		status = http.StatusOK
	}
	writeJSON(w, status, result)
}

func (a *API) handleCustomerPayment(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	var req paymentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(req.CustomerID) == "" {
		writeError(w, http.StatusBadRequest, errors.New("customer_id is required"))
		return
	}
	result, err := a.checkout.RecordPayment(r.Context(), scope(r), req.CustomerID, req.Amount)
	if err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleGoodsReceipt(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	var req goodsReceiptRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if len(req.Lines) == 0 {
		writeError(w, http.StatusBadRequest, errors.New("lines are required"))
		return
	}
	result, err := a.checkout.ReceiveGoods(r.Context(), scope(r), req.Lines)
	if err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleLowStock(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	items, err := a.checkout.LowStock(r.Context(), scope(r))
	if err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// queryFor builds the caller's sync query. Admins pick a branch with
// ?branch_id= and another operator's receivables with ?operator_id=.
func queryFor(r *http.Request, collection string) syncer.Query {
	tc := scope(r)
	q := syncer.QueryFor(tc, collection)
	if tc.IsAdmin() {
		if operatorID := strings.TrimSpace(r.URL.Query().Get("operator_id")); operatorID != "" {
			q.OperatorID = operatorID
		}
	}
	return q
}

var errExpensesAdminOnly = errors.New("expenses are visible to admins only")

// readable reports whether the caller may read collection at all. Expenses
// carry other operators' receivables, so only admins see them.
func readable(r *http.Request, collection string) error {
	if collection == domain.CollectionExpenses && !tenantFrom(r.Context()).IsAdmin() {
		return errExpensesAdminOnly
	}
	return nil
}

func (a *API) handleCollection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	collection := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/collections/"), "/")
	if err := readable(r, collection); err != nil {
		writeError(w, http.StatusForbidden, err)
		return
	}
	snap, err := syncer.Load(r.Context(), a.reader, queryFor(r, collection))
	if err != nil {
		writeCoreError(w, err)
		return
	}
	snap.Mode = syncer.ModePolling
	writeJSON(w, http.StatusOK, snap)
}

func (a *API) handleReceipt(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	var req receiptRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	tc := scope(r)
	doc, err := a.reader.LoadTenant(r.Context(), tc.TenantID)
	if err != nil {
		writeCoreError(w, err)
		return
	}
	for _, tx := range doc.Transactions {
		if tx.ID != req.TransactionID {
			continue
		}
		if !tc.IsAdmin() && tx.BranchID != tc.BranchID {
			break
		}
		writeJSON(w, http.StatusOK, checkout.RenderReceipt(doc.Settings.BusinessName, tx))
		return
	}
	writeError(w, http.StatusNotFound, errors.New("transaction not found"))
}

func (a *API) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	if a.sync == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("sync is not configured"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":   a.sync.Mode(),
		"status": a.sync.Status(),
	})
}

func (a *API) handleMigration(w http.ResponseWriter, r *http.Request) {
	tc := tenantFrom(r.Context())
	switch r.Method {
	case http.MethodGet:
		needed, report, err := a.migration.CheckIfMigrationNeeded(r.Context(), tc)
		if err != nil {
			writeCoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"needed": needed, "pending": report})
	case http.MethodPost:
		var req migrationRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		report, err := a.migration.Migrate(r.Context(), tc, strings.TrimSpace(req.DefaultBranchID))
		if err != nil {
			writeCoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"migrated": report, "total": report.Total()})
	default:
		writeMethodNotAllowed(w)
	}
}
