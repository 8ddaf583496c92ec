package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/firebridge/firebridge/internal/config"
)

// Open creates the Backend selected by cfg.Backend.
func Open(ctx context.Context, cfg config.StorageConfig) (Backend, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryBackend(cfg.MemoryBaseURL), nil

	case "local":
		b, err := NewLocalBackend(cfg.Local.RootDir, cfg.Local.BaseURL)
		if err != nil {
			return nil, err
		}
		if err := b.CleanTempFiles(); err != nil {
			slog.Warn("Failed to clean temp files", "error", err)
		}
		slog.Info("Local storage backend initialized", "root_dir", b.RootDir)
		return b, nil

	case "sqlite":
		b, err := NewSQLiteBackend(cfg.SQLite.Path, cfg.SQLite.BaseURL)
		if err != nil {
			return nil, err
		}
		slog.Info("SQLite storage backend initialized", "path", cfg.SQLite.Path)
		return b, nil

	case "gcp":
		b, err := NewGCPBackend(ctx, cfg.GCPBucket, cfg.GCPPrefix, cfg.GCPCredentialsFile, cfg.Expiry())
		if err != nil {
			return nil, err
		}
		return b, nil

	case "aws":
		b, err := NewAWSBackend(ctx, AWSOptions{
			Bucket:          cfg.AWSBucket,
			Region:          cfg.AWSRegion,
			Prefix:          cfg.AWSPrefix,
			EndpointURL:     cfg.AWSEndpointURL,
			UsePathStyle:    cfg.AWSUsePathStyle,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
			Expiry:          cfg.Expiry(),
		})
		if err != nil {
			return nil, err
		}
		return b, nil

	case "azure":
		accountURL := cfg.AzureAccountURL
		if accountURL == "" && cfg.AzureAccount != "" {
			accountURL = fmt.Sprintf("https://%s.blob.core.windows.net", cfg.AzureAccount)
		}
		b, err := NewAzureBackend(ctx, AzureOptions{
			Container:          cfg.AzureContainer,
			AccountURL:         accountURL,
			Prefix:             cfg.AzurePrefix,
			ConnectionString:   cfg.AzureConnectionString,
			UseManagedIdentity: cfg.AzureUseManagedIdentity,
			Expiry:             cfg.Expiry(),
		})
		if err != nil {
			return nil, err
		}
		return b, nil

	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
