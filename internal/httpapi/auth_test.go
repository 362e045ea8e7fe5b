package httpapi

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"dukapos/backend/internal/domain"
	"dukapos/backend/internal/store/memory"
)

func newAuthFixture(t *testing.T) (*AuthManager, *memory.Store) {
	t.Helper()
	repo := memory.NewSeeded(testTenant)
	t.Cleanup(func() { _ = repo.Close() })
	return NewAuthManager("unit-test-secret", time.Hour, repo, testTenant), repo
}

func TestLoginTokenRoundTrip(t *testing.T) {
	auth, _ := newAuthFixture(t)

	resp, err := auth.Login(context.Background(), LoginRequest{Username: "  Cashier-Westlands ", Password: "cashier123"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, err := time.Parse(time.RFC3339, resp.ExpiresAt); err != nil {
		t.Fatalf("expires_at not RFC3339: %q", resp.ExpiresAt)
	}

	tc, err := auth.ParseToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := domain.TenantContext{TenantID: testTenant, ActorID: "usr-cashier-westlands", Role: domain.RoleCashier, BranchID: "westlands"}
	if tc != want {
		t.Fatalf("got %+v, want %+v", tc, want)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	auth, _ := newAuthFixture(t)
	ctx := context.Background()

	if _, err := auth.Login(ctx, LoginRequest{Username: "admin", Password: "nope"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong password: got %v", err)
	}
	if _, err := auth.Login(ctx, LoginRequest{Username: "ghost", Password: "admin123"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("unknown user: got %v", err)
	}
	if _, err := auth.Login(ctx, LoginRequest{TenantID: "other-duka", Username: "admin", Password: "admin123"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("unknown tenant: got %v", err)
	}
}

func TestLoginRejectsInactiveUser(t *testing.T) {
	auth, repo := newAuthFixture(t)
	ctx := context.Background()

	doc, err := repo.LoadTenant(ctx, testTenant)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	for i := range doc.Users {
		if doc.Users[i].Username == "cashier" {
			doc.Users[i].Active = false
		}
	}
	if _, err := repo.SaveTenant(ctx, *doc); err != nil {
		t.Fatalf("save: %v", err)
	}

	if _, err := auth.Login(ctx, LoginRequest{Username: "cashier", Password: "cashier123"}); !errors.Is(err, ErrInactiveAccount) {
		t.Fatalf("expected inactive account, got %v", err)
	}
}

func TestParseTokenRejectsForeignOrTamperedTokens(t *testing.T) {
	auth, repo := newAuthFixture(t)
	resp, err := auth.Login(context.Background(), LoginRequest{Username: "admin", Password: "admin123"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	other := NewAuthManager("another-secret", time.Hour, repo, testTenant)
	if _, err := other.ParseToken(resp.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("foreign secret accepted: %v", err)
	}

	parts := strings.Split(resp.AccessToken, ".")
	if len(parts) != 3 {
		t.Fatalf("unexpected token shape")
	}
	tampered := parts[0] + "." + parts[1] + "x." + parts[2]
	if _, err := auth.ParseToken(tampered); err == nil {
		t.Fatalf("tampered token accepted")
	}

	expired, err := auth.sign(domain.TenantContext{TenantID: testTenant, ActorID: "usr-admin", Role: domain.RoleAdmin}, time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := auth.ParseToken(expired); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expired token accepted: %v", err)
	}
}

func TestHashPasswordVerifies(t *testing.T) {
	hash, err := hashPassword("s3cret-pass")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if !isPasswordHash(hash) {
		t.Fatalf("not a bcrypt hash: %q", hash)
	}
	if !verifyPassword(hash, "s3cret-pass") || verifyPassword(hash, "other") {
		t.Fatalf("verify mismatch")
	}
	if verifyPassword("plain-text", "plain-text") {
		t.Fatalf("plain text stored password must not verify")
	}
}
