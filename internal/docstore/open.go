package docstore

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/firebridge/firebridge/internal/config"
)

// Open creates the Store selected by cfg.Backend.
func Open(ctx context.Context, cfg config.DocStoreConfig) (Store, error) {
	var (
		store Store
		err   error
	)
	switch cfg.Backend {
	case "", "memory":
		store = NewMemoryStore()
	case "sqlite":
		store, err = NewSQLiteStore(cfg.SQLite.Path)
	case "bolt":
		store, err = NewBoltStore(cfg.Bolt.Path)
	case "firestore":
		store, err = NewFirestoreStore(ctx, cfg.Firestore)
	case "dynamodb":
		store, err = NewDynamoDBStore(ctx, cfg.DynamoDB)
	case "cosmos":
		store, err = NewCosmosStore(ctx, cfg.Cosmos)
	default:
		return nil, fmt.Errorf("unknown docstore backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("opening %s docstore: %w", cfg.Backend, err)
	}

	slog.Info("Document store initialized", "backend", cfg.Backend)
	return store, nil
}
