package docstore

import (
	"context"
	"os"
	"testing"

	"github.com/firebridge/firebridge/internal/config"
	"github.com/firebridge/firebridge/internal/uid"
)

// Runs only against the Firestore emulator.
func TestFirestoreStore(t *testing.T) {
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}

	runStoreTests(t, func(t *testing.T) Store {
		s, err := NewFirestoreStore(context.Background(), config.FirestoreConfig{
			ProjectID: "firebridge-test-" + uid.New()[:8],
		})
		if err != nil {
			t.Fatalf("NewFirestoreStore: %v", err)
		}
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestNewFirestoreStoreRequiresProject(t *testing.T) {
	if _, err := NewFirestoreStore(context.Background(), config.FirestoreConfig{}); err == nil {
		t.Error("expected error without project_id")
	}
}
