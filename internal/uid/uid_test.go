package uid

import (
	"strings"
	"testing"
)

func TestNewIsUniqueHex(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := New()
		if len(id) != 32 {
			t.Fatalf("len(New()) = %d, want 32", len(id))
		}
		if strings.Trim(id, "0123456789abcdef") != "" {
			t.Fatalf("New() = %q is not lowercase hex", id)
		}
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}

func TestShort(t *testing.T) {
	if got := len(Short()); got != 16 {
		t.Errorf("len(Short()) = %d, want 16", got)
	}
}

func TestKey(t *testing.T) {
	k := Key("uploads", ".png")
	if !strings.HasPrefix(k, "uploads/") || !strings.HasSuffix(k, ".png") {
		t.Errorf("Key = %q", k)
	}
	if k := Key("", ""); len(k) != 32 {
		t.Errorf("Key without prefix = %q", k)
	}
}
