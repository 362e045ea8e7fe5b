package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"dukapos/backend/internal/checkout"
	"dukapos/backend/internal/domain"
	"dukapos/backend/internal/syncer"
)

func TestHandleHealth(t *testing.T) {
	api, _ := newTestAPI(t)
	res := getWithToken(t, api, "/healthz", "")
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}

	var body map[string]any
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
	if body["sync_mode"] != string(syncer.ModeLive) {
		t.Fatalf("expected live sync mode, got %v", body["sync_mode"])
	}
}

func TestLoginCarriesBranchAssignment(t *testing.T) {
	api, _ := newTestAPI(t)
	resp := login(t, api, "cashier", "cashier123")
	if resp.BranchID != "uon" || resp.Role != domain.RoleCashier || resp.TenantID != testTenant {
		t.Fatalf("unexpected login response %+v", resp)
	}

	tc, err := api.auth.ParseToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if tc.BranchID != "uon" || tc.TenantID != testTenant || tc.ActorID != "usr-cashier-uon" {
		t.Fatalf("unexpected tenant context %+v", tc)
	}
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	api, _ := newTestAPI(t)
	res := postJSON(t, api, "/api/v1/auth/login", "", "", LoginRequest{Username: "admin", Password: "wrongpassword"})
	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d (body: %s)", res.Code, res.Body.String())
	}
}

func TestQuoteReturnsVATBreakdown(t *testing.T) {
	api, _ := newTestAPI(t)
	token := loginAsCashier(t, api)
	csrf := fetchCSRFToken(t, api)

	res := postJSON(t, api, "/api/v1/cart/quote", token, csrf, map[string]any{
		"items":        []map[string]any{{"product_id": "p1", "quantity": 2, "unit_price": "1000"}},
		"discount_pct": "10",
	})
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	var quote checkout.Quote
	if err := json.NewDecoder(res.Body).Decode(&quote); err != nil {
		t.Fatalf("decode quote: %v", err)
	}
	if quote.Totals.Total.StringFixed(2) != "1800.00" || quote.Totals.PriceBeforeVAT.StringFixed(2) != "1551.72" || quote.Totals.TotalVAT.StringFixed(2) != "248.28" {
		t.Fatalf("unexpected totals %+v", quote.Totals)
	}
}

func TestCheckoutDecrementsCashierBranchOnly(t *testing.T) {
	api, repo := newTestAPI(t)
	token := loginAsCashier(t, api)
	csrf := fetchCSRFToken(t, api)

	res := postJSON(t, api, "/api/v1/checkout", token, csrf, map[string]any{
		"items":           []map[string]any{{"product_id": "uon-SKU-SUGAR-1KG", "quantity": 2, "unit_price": "180"}},
		"payment_method":  "mpesa",
		"idempotency_key": "till-1-0001",
	})
	if res.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", res.Code, res.Body.String())
	}

	doc, err := repo.LoadTenant(context.Background(), testTenant)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	for _, item := range doc.Inventory {
		switch item.ID {
		case "uon-SKU-SUGAR-1KG":
			if item.Quantity != 38 {
				t.Fatalf("uon sugar = %d, want 38", item.Quantity)
			}
		case "westlands-SKU-SUGAR-1KG":
			if item.Quantity != 25 {
				t.Fatalf("westlands sugar = %d, want 25", item.Quantity)
			}
		}
	}

	again := postJSON(t, api, "/api/v1/checkout", token, csrf, map[string]any{
		"items":           []map[string]any{{"product_id": "uon-SKU-SUGAR-1KG", "quantity": 2, "unit_price": "180"}},
		"payment_method":  "mpesa",
		"idempotency_key": "till-1-0001",
	})
	if again.Code != http.StatusOK {
		t.Fatalf("expected 200 for resubmit, got %d: %s", again.Code, again.Body.String())
	}
	var result checkout.Result
	if err := json.NewDecoder(again.Body).Decode(&result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !result.Duplicate {
		t.Fatalf("expected duplicate result")
	}
}

func TestCheckoutErrorsCarryKind(t *testing.T) {
	api, _ := newTestAPI(t)
	admin := loginAsAdmin(t, api)
	cashier := loginAsCashier(t, api)
	csrf := fetchCSRFToken(t, api)
	items := []map[string]any{{"product_id": "uon-SKU-OIL-1L", "quantity": 1, "unit_price": "345"}}

	// the admin account has no branch of its own
	res := postJSON(t, api, "/api/v1/checkout", admin, csrf, map[string]any{"items": items, "payment_method": "cash"})
	if res.Code != http.StatusForbidden || !strings.Contains(res.Body.String(), checkout.KindAuthorization) {
		t.Fatalf("expected 403 authorization, got %d: %s", res.Code, res.Body.String())
	}

	res = postJSON(t, api, "/api/v1/checkout", cashier, csrf, map[string]any{"items": items, "payment_method": "cheque"})
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unsupported payment, got %d", res.Code)
	}

	big := []map[string]any{{"product_id": "uon-SKU-OIL-1L", "quantity": 20, "unit_price": "345"}}
	res = postJSON(t, api, "/api/v1/checkout", cashier, csrf, map[string]any{"items": big, "payment_method": "credit", "customer_id": "cust-wanjiku"})
	if res.Code != http.StatusUnprocessableEntity || !strings.Contains(res.Body.String(), checkout.KindCreditLimit) {
		t.Fatalf("expected 422 credit limit, got %d: %s", res.Code, res.Body.String())
	}

	tooMany := []map[string]any{{"product_id": "uon-SKU-OIL-1L", "quantity": 41, "unit_price": "345"}}
	res = postJSON(t, api, "/api/v1/checkout", cashier, csrf, map[string]any{"items": tooMany, "payment_method": "cash"})
	if res.Code != http.StatusConflict {
		t.Fatalf("expected 409 insufficient stock, got %d: %s", res.Code, res.Body.String())
	}
}

func TestAdminCanCheckoutForChosenBranch(t *testing.T) {
	api, _ := newTestAPI(t)
	admin := loginAsAdmin(t, api)
	csrf := fetchCSRFToken(t, api)

	res := postJSON(t, api, "/api/v1/checkout?branch_id=westlands", admin, csrf, map[string]any{
		"items":          []map[string]any{{"product_id": "westlands-SKU-TEA-100", "quantity": 1, "unit_price": "110"}},
		"payment_method": "cash",
	})
	if res.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", res.Code, res.Body.String())
	}
}

func TestCashierCollectionIsBranchScoped(t *testing.T) {
	api, _ := newTestAPI(t)
	token := loginAsCashier(t, api)

	// a cashier cannot widen the scope with branch_id
	res := getWithToken(t, api, "/api/v1/collections/inventory?branch_id=westlands", token)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	var snap syncer.Snapshot
	if err := json.NewDecoder(res.Body).Decode(&snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(snap.Inventory) == 0 {
		t.Fatalf("expected uon inventory")
	}
	for _, item := range snap.Inventory {
		if item.BranchID != "uon" {
			t.Fatalf("cashier saw item %s of branch %s", item.ID, item.BranchID)
		}
	}

	if res := getWithToken(t, api, "/api/v1/collections/suppliers", token); res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown collection, got %d", res.Code)
	}
}

func TestExpensesAreAdminOnly(t *testing.T) {
	api, _ := newTestAPI(t)
	cashier := loginAsCashier(t, api)
	admin := loginAsAdmin(t, api)

	if res := getWithToken(t, api, "/api/v1/collections/expenses", cashier); res.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for cashier expenses, got %d: %s", res.Code, res.Body.String())
	}
	if res := getWithToken(t, api, "/api/v1/sync/stream?collection=expenses", cashier); res.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for cashier expenses stream, got %d: %s", res.Code, res.Body.String())
	}
	if res := getWithToken(t, api, "/api/v1/collections/inventory", cashier); res.Code != http.StatusOK {
		t.Fatalf("cashier inventory should stay readable, got %d", res.Code)
	}

	res := getWithToken(t, api, "/api/v1/collections/expenses", admin)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200 for admin expenses, got %d: %s", res.Code, res.Body.String())
	}
	var snap syncer.Snapshot
	if err := json.NewDecoder(res.Body).Decode(&snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.Query.Collection != "expenses" {
		t.Fatalf("unexpected collection %q", snap.Query.Collection)
	}
}

func TestCustomerPaymentAndGoodsReceipt(t *testing.T) {
	api, repo := newTestAPI(t)
	admin := loginAsAdmin(t, api)
	cashier := loginAsCashier(t, api)
	csrf := fetchCSRFToken(t, api)

	res := postJSON(t, api, "/api/v1/checkout", cashier, csrf, map[string]any{
		"items":          []map[string]any{{"product_id": "uon-SKU-MILK-500", "quantity": 2, "unit_price": "65"}},
		"payment_method": "credit",
		"customer_id":    "cust-wanjiku",
	})
	if res.Code != http.StatusCreated {
		t.Fatalf("credit checkout: %d %s", res.Code, res.Body.String())
	}

	res = postJSON(t, api, "/api/v1/customers/payments", cashier, csrf, map[string]any{"customer_id": "cust-wanjiku", "amount": "130"})
	if res.Code != http.StatusOK {
		t.Fatalf("payment: %d %s", res.Code, res.Body.String())
	}
	var paid checkout.PaymentResult
	if err := json.NewDecoder(res.Body).Decode(&paid); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !paid.Customer.Balance.IsZero() || paid.SettledSales != 1 {
		t.Fatalf("unexpected payment result %+v", paid)
	}

	if res := postJSON(t, api, "/api/v1/inventory/receipts", cashier, csrf, map[string]any{"lines": []map[string]any{{"product_id": "uon-SKU-MILK-500", "quantity": 5}}}); res.Code != http.StatusForbidden {
		t.Fatalf("cashier should not receive goods, got %d", res.Code)
	}
	res = postJSON(t, api, "/api/v1/inventory/receipts?branch_id=uon", admin, csrf, map[string]any{"lines": []map[string]any{{"product_id": "uon-SKU-MILK-500", "quantity": 5}}})
	if res.Code != http.StatusOK {
		t.Fatalf("goods receipt: %d %s", res.Code, res.Body.String())
	}
	doc, err := repo.LoadTenant(context.Background(), testTenant)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	for _, item := range doc.Inventory {
		if item.ID == "uon-SKU-MILK-500" && item.Quantity != 43 {
			t.Fatalf("milk = %d, want 43", item.Quantity)
		}
	}
}

func TestMigrationIsAdminOnly(t *testing.T) {
	api, _ := newTestAPI(t)
	cashier := loginAsCashier(t, api)
	admin := loginAsAdmin(t, api)
	csrf := fetchCSRFToken(t, api)

	if res := getWithToken(t, api, "/api/v1/migration", cashier); res.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for cashier, got %d", res.Code)
	}
	res := getWithToken(t, api, "/api/v1/migration", admin)
	if res.Code != http.StatusOK {
		t.Fatalf("check: %d %s", res.Code, res.Body.String())
	}
	var check map[string]any
	if err := json.NewDecoder(res.Body).Decode(&check); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if check["needed"] != false {
		t.Fatalf("seeded tenant should not need migration, got %v", check)
	}

	res = postJSON(t, api, "/api/v1/migration", admin, csrf, map[string]any{"default_branch_id": "nowhere"})
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown branch, got %d", res.Code)
	}
}

func TestReceiptRenderIsBranchScoped(t *testing.T) {
	api, _ := newTestAPI(t)
	cashier := loginAsCashier(t, api)
	admin := loginAsAdmin(t, api)
	csrf := fetchCSRFToken(t, api)

	res := postJSON(t, api, "/api/v1/checkout?branch_id=westlands", admin, csrf, map[string]any{
		"items":          []map[string]any{{"product_id": "westlands-SKU-BREAD-400", "quantity": 1, "unit_price": "70"}},
		"payment_method": "cash",
	})
	if res.Code != http.StatusCreated {
		t.Fatalf("checkout: %d %s", res.Code, res.Body.String())
	}
	var sale checkout.Result
	if err := json.NewDecoder(res.Body).Decode(&sale); err != nil {
		t.Fatalf("decode: %v", err)
	}

	res = postJSON(t, api, "/api/v1/receipts/render", admin, csrf, map[string]any{"transaction_id": sale.Transaction.ID})
	if res.Code != http.StatusOK || !strings.Contains(res.Body.String(), "DukaPOS Demo") {
		t.Fatalf("admin render: %d %s", res.Code, res.Body.String())
	}
	if res := postJSON(t, api, "/api/v1/receipts/render", cashier, csrf, map[string]any{"transaction_id": sale.Transaction.ID}); res.Code != http.StatusNotFound {
		t.Fatalf("uon cashier should not see a westlands receipt, got %d", res.Code)
	}
}

func TestStreamDeliversSnapshotsOverWebSocket(t *testing.T) {
	api, _ := newTestAPI(t)
	token := loginAsCashier(t, api)
	csrf := fetchCSRFToken(t, api)

	server := httptest.NewServer(api.Handler())
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/v1/sync/stream?collection=inventory&access_token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var first streamMessage
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read first: %v", err)
	}
	if first.Type != "snapshot" || first.Snapshot == nil || len(first.Snapshot.Inventory) == 0 {
		t.Fatalf("unexpected first message %+v", first)
	}

	res := postJSON(t, api, "/api/v1/checkout", token, csrf, map[string]any{
		"items":          []map[string]any{{"product_id": "uon-SKU-UNGA-2KG", "quantity": 3, "unit_price": "199"}},
		"payment_method": "cash",
	})
	if res.Code != http.StatusCreated {
		t.Fatalf("checkout: %d %s", res.Code, res.Body.String())
	}

	var next streamMessage
	if err := conn.ReadJSON(&next); err != nil {
		t.Fatalf("read update: %v", err)
	}
	if next.Snapshot == nil || next.Snapshot.Revision <= first.Snapshot.Revision {
		t.Fatalf("expected a newer revision, got %+v", next.Snapshot)
	}
	for _, item := range next.Snapshot.Inventory {
		if item.ID == "uon-SKU-UNGA-2KG" && item.Quantity != 37 {
			t.Fatalf("unga = %d, want 37", item.Quantity)
		}
	}
}
