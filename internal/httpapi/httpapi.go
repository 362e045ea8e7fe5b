package httpapi

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"dukapos/backend/internal/checkout"
	"dukapos/backend/internal/domain"
	"dukapos/backend/internal/inventory"
	"dukapos/backend/internal/logging"
	"dukapos/backend/internal/metrics"
	"dukapos/backend/internal/migration"
	"dukapos/backend/internal/store"
	"dukapos/backend/internal/syncer"
)

// Services are the core components the HTTP surface exposes.
type Services struct {
	Checkout  *checkout.Service
	Migration *migration.Guard
	// Reader serves snapshot reads; usually the cached tenant store.
	Reader syncer.Reader
	Sync   *syncer.Session
}

type API struct {
	checkout      *checkout.Service
	migration     *migration.Guard
	reader        syncer.Reader
	sync          *syncer.Session
	auth          *AuthManager
	allowedOrigin string
	loginLimiter  *attemptLimiter
	csrfSecret    []byte
	logger        zerolog.Logger
}

func New(services Services, auth *AuthManager, allowedOrigin string) *API {
	csrfSecret := make([]byte, 32)
	if _, err := rand.Read(csrfSecret); err != nil {
		csrfSecret = []byte("csrf-fallback-secret-change-me!!")
	}
	return &API{
		checkout:      services.Checkout,
		migration:     services.Migration,
		reader:        services.Reader,
		sync:          services.Sync,
		auth:          auth,
		allowedOrigin: allowedOrigin,
		loginLimiter:  newAttemptLimiter(5, time.Minute),
		csrfSecret:    csrfSecret,
		logger:        logging.For("httpapi"),
	}
}

// csrfTokenForHour computes an HMAC-SHA256 token for the given hour bucket
// (expressed as Unix time truncated to the hour). The token is hex-encoded.
func (a *API) csrfTokenForHour(hourBucket int64) string {
	h := hmac.New(sha256.New, a.csrfSecret)
	fmt.Fprintf(h, "%d", hourBucket)
	return hex.EncodeToString(h.Sum(nil))
}

func (a *API) generateCSRFToken() string {
	bucket := time.Now().UTC().Truncate(time.Hour).Unix()
	return a.csrfTokenForHour(bucket)
}

// validateCSRFToken accepts the current or previous hour bucket, giving a
// 2-hour validity window.
func (a *API) validateCSRFToken(token string) bool {
	if token == "" {
		return false
	}
	currentBucket := time.Now().UTC().Truncate(time.Hour).Unix()
	prevBucket := currentBucket - 3600

	return hmac.Equal([]byte(token), []byte(a.csrfTokenForHour(currentBucket))) ||
		hmac.Equal([]byte(token), []byte(a.csrfTokenForHour(prevBucket)))
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	kept = append(kept, now)
	l.entries[key] = kept
	return true
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()
	staff := []string{domain.RoleCashier, domain.RoleManager, domain.RoleAdmin}

	mux.HandleFunc("/healthz", a.handleHealth)
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/api/v1/auth/login", a.handleLogin)
	mux.HandleFunc("/api/v1/auth/csrf-token", a.handleCSRFToken)

	mux.HandleFunc("/api/v1/cart/quote", a.requireAuth(a.handleQuote, staff...))
	mux.HandleFunc("/api/v1/checkout", a.requireAuth(a.handleCheckout, staff...))
	mux.HandleFunc("/api/v1/customers/payments", a.requireAuth(a.handleCustomerPayment, staff...))
	mux.HandleFunc("/api/v1/inventory/receipts", a.requireAuth(a.handleGoodsReceipt, domain.RoleManager, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/inventory/low-stock", a.requireAuth(a.handleLowStock, staff...))
	mux.HandleFunc("/api/v1/collections/", a.requireAuth(a.handleCollection, staff...))
	mux.HandleFunc("/api/v1/receipts/render", a.requireAuth(a.handleReceipt, staff...))
	mux.HandleFunc("/api/v1/sync/status", a.requireAuth(a.handleSyncStatus, staff...))
	mux.HandleFunc("/api/v1/sync/stream", a.requireStreamAuth(a.handleStream, staff...))
	mux.HandleFunc("/api/v1/migration", a.requireAuth(a.handleMigration, domain.RoleAdmin))

	return logging.Middleware(a.withMiddleware(mux))
}

type tenantContextKey struct{}

func withTenant(ctx context.Context, tc domain.TenantContext) context.Context {
	return context.WithValue(ctx, tenantContextKey{}, tc)
}

func tenantFrom(ctx context.Context) domain.TenantContext {
	tc, _ := ctx.Value(tenantContextKey{}).(domain.TenantContext)
	return tc
}

func (a *API) requireAuth(next http.HandlerFunc, roles ...string) http.HandlerFunc {
	return a.authenticate(next, false, roles)
}

// requireStreamAuth also accepts ?access_token=, since browsers cannot set
// headers on a WebSocket handshake.
func (a *API) requireStreamAuth(next http.HandlerFunc, roles ...string) http.HandlerFunc {
	return a.authenticate(next, true, roles)
}

func (a *API) authenticate(next http.HandlerFunc, allowQueryToken bool, roles []string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := ""
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			token = strings.TrimSpace(authorization[len("Bearer "):])
		} else if allowQueryToken {
			token = strings.TrimSpace(r.URL.Query().Get("access_token"))
		}
		if token == "" {
			writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		tc, err := a.auth.ParseToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}
		if len(roles) > 0 && !isRoleAllowed(tc.Role, roles) {
			writeError(w, http.StatusForbidden, errors.New("forbidden role"))
			return
		}

		next(w, r.WithContext(withTenant(r.Context(), tc)))
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

// scope returns the caller's tenant context. Admins may act on a branch via
// ?branch_id=; everybody else is pinned to the branch in their token.
func scope(r *http.Request) domain.TenantContext {
	tc := tenantFrom(r.Context())
	if tc.IsAdmin() {
		if branchID := strings.TrimSpace(r.URL.Query().Get("branch_id")); branchID != "" {
			tc.BranchID = branchID
		}
	}
	return tc
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	body := map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	}
	if a.sync != nil {
		body["sync_mode"] = a.sync.Mode()
	}
	writeJSON(w, http.StatusOK, body)
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) || errors.Is(err, ErrInactiveAccount) {
			writeError(w, http.StatusUnauthorized, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleCSRFToken returns a stateless CSRF token valid for the current hour bucket.
// Clients must include this token in the X-CSRF-Token header for all mutating requests.
func (a *API) handleCSRFToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"csrf_token": a.generateCSRFToken(),
	})
}

// Login is called without a prior CSRF token fetch.
var csrfExemptPaths = []string{
	"/api/v1/auth/login",
}

func (a *API) checkCSRF(w http.ResponseWriter, r *http.Request) bool {
	method := r.Method
	if method != http.MethodPost && method != http.MethodPut && method != http.MethodPatch {
		return true
	}
	for _, exempt := range csrfExemptPaths {
		if r.URL.Path == exempt {
			return true
		}
	}
	token := strings.TrimSpace(r.Header.Get("X-CSRF-Token"))
	if !a.validateCSRFToken(token) {
		writeError(w, http.StatusForbidden, errors.New("missing or invalid CSRF token"))
		return false
	}
	return true
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-CSRF-Token")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if (r.Method == http.MethodPost || r.Method == http.MethodPatch || r.Method == http.MethodPut) && strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "application/json") {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		if !a.checkCSRF(w, r) {
			return
		}

		next.ServeHTTP(w, r)
	})
}

// statusFor maps core errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, migration.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, migration.ErrUnknownBranch), errors.Is(err, syncer.ErrUnknownCollection):
		return http.StatusBadRequest
	case errors.Is(err, inventory.ErrInsufficientStock):
		return http.StatusConflict
	}
	switch checkout.Kind(err) {
	case checkout.KindValidation:
		return http.StatusBadRequest
	case checkout.KindAuthorization:
		return http.StatusForbidden
	case checkout.KindCreditLimit:
		return http.StatusUnprocessableEntity
	case checkout.KindConflict:
		return http.StatusConflict
	case checkout.KindPersistence, checkout.KindSyncTransport:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// writeCoreError adds the error kind and whether the same request may be
// retried, which a till needs to decide between retry and give up.
func writeCoreError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status >= 500 {
		logger := logging.For("httpapi")
		logger.Error().Err(err).Int("status_code", status).Msg("request failed")
		msg = "service temporarily unavailable"
		if status == http.StatusInternalServerError {
			msg = "internal server error"
		}
	}
	writeJSON(w, status, map[string]any{
		"error":     msg,
		"kind":      checkout.Kind(err),
		"retryable": checkout.Retryable(err),
	})
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

func writeError(w http.ResponseWriter, status int, err error) {
	// 4xx messages are user-facing; 5xx details stay in the log.
	msg := err.Error()
	if status >= 500 {
		logger := logging.For("httpapi")
		logger.Error().Err(err).Int("status_code", status).Msg("internal error")
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
