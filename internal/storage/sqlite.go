package storage

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver

	fberr "github.com/firebridge/firebridge/internal/errors"
)

// SQLiteBackend stores object bytes as BLOBs in a SQLite database, which
// suits small objects in single-node or embedded deployments.
type SQLiteBackend struct {
	// BaseURL prefixes keys in returned URLs. When empty, URL returns
	// sqlite:///key URLs.
	BaseURL string
	db      *sql.DB
}

// NewSQLiteBackend opens the database at dbPath and creates the schema.
func NewSQLiteBackend(dbPath, baseURL string) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening SQLite storage database: %w", err)
	}
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	b := &SQLiteBackend{BaseURL: baseURL, db: db}
	if err := b.initDB(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing SQLite storage database: %w", err)
	}
	return b, nil
}

func (b *SQLiteBackend) initDB() error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := b.db.Exec(p); err != nil {
			return fmt.Errorf("executing %q: %w", p, err)
		}
	}

	schema := `
		CREATE TABLE IF NOT EXISTS object_data (
			key      TEXT PRIMARY KEY,
			data     BLOB NOT NULL,
			metadata TEXT NOT NULL
		);
	`
	if _, err := b.db.Exec(schema); err != nil {
		return fmt.Errorf("creating storage schema: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (b *SQLiteBackend) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

// Put stores data and its metadata in one row, replacing any previous
// version.
func (b *SQLiteBackend) Put(ctx context.Context, key string, data []byte, meta *Metadata) (*Metadata, error) {
	out := describe(key, "", data, meta)
	encoded, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("encoding metadata: %w", err)
	}

	_, err = b.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO object_data (key, data, metadata) VALUES (?, ?, ?)`,
		key, data, string(encoded),
	)
	if err != nil {
		return nil, fmt.Errorf("storing object: %w", err)
	}
	return out, nil
}

func (b *SQLiteBackend) URL(ctx context.Context, key string) (*url.URL, error) {
	var exists int
	err := b.db.QueryRowContext(ctx, `SELECT 1 FROM object_data WHERE key = ?`, key).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fberr.ErrNotFound.WithMessage("object %q does not exist", key)
	}
	if err != nil {
		return nil, fmt.Errorf("checking object: %w", err)
	}
	if b.BaseURL == "" {
		return &url.URL{Scheme: "sqlite", Path: "/" + key}, nil
	}
	return joinURL(b.BaseURL, key)
}

func (b *SQLiteBackend) Open(ctx context.Context, key string) (io.ReadCloser, *Metadata, error) {
	var data []byte
	var encoded string
	err := b.db.QueryRowContext(ctx,
		`SELECT data, metadata FROM object_data WHERE key = ?`, key,
	).Scan(&data, &encoded)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, fberr.ErrNotFound.WithMessage("object %q does not exist", key)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("reading object: %w", err)
	}

	var meta Metadata
	if err := json.Unmarshal([]byte(encoded), &meta); err != nil {
		return nil, nil, fmt.Errorf("decoding metadata: %w", err)
	}
	return io.NopCloser(bytes.NewReader(data)), &meta, nil
}

func (b *SQLiteBackend) HealthCheck(ctx context.Context) error {
	return b.db.PingContext(ctx)
}
