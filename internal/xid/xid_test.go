package xid

import (
	"strings"
	"testing"
)

func TestNewHasPrefixAndIsUnique(t *testing.T) {
	seen := make(map[string]struct{}, 500)
	for i := 0; i < 500; i++ {
		id := New("tx")
		if !strings.HasPrefix(id, "tx-") {
			t.Fatalf("expected tx- prefix, got %s", id)
		}
		if parts := strings.Split(id, "-"); len(parts) != 3 {
			t.Fatalf("expected three id parts, got %q", id)
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate id generated: %s", id)
		}
		seen[id] = struct{}{}
	}
}
