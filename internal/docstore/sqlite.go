package docstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver
)

// SQLiteStore implements Store on a single SQLite database file. It suits
// single-node deployments and tests.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the database at dsn and creates the schema. The
// parent directory of a file path is created if needed.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	if dsn != ":memory:" {
		if dir := filepath.Dir(dsn); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("creating database directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening SQLite database: %w", err)
	}
	if dsn == ":memory:" {
		// Each connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	s := &SQLiteStore{db: db}
	if err := s.initDB(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing SQLite database: %w", err)
	}
	return s, nil
}

// initDB applies PRAGMAs and creates the documents table. Safe to call more
// than once.
func (s *SQLiteStore) initDB() error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("executing %q: %w", p, err)
		}
	}

	schema := `
		CREATE TABLE IF NOT EXISTS documents (
			collection  TEXT NOT NULL,
			id          TEXT NOT NULL,
			data        TEXT NOT NULL DEFAULT '{}',
			update_time TEXT NOT NULL,
			PRIMARY KEY (collection, id)
		);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetDocument(ctx context.Context, collection, id string) (*Snapshot, error) {
	var data, updated string
	err := s.db.QueryRowContext(ctx,
		`SELECT data, update_time FROM documents WHERE collection = ? AND id = ?`,
		collection, id,
	).Scan(&data, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return missing(collection, id), nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting document: %w", err)
	}

	fields, err := decodeData(data)
	if err != nil {
		return nil, err
	}
	return &Snapshot{
		Collection: collection,
		ID:         id,
		Exists:     true,
		Data:       fields,
		UpdateTime: parseTime(updated),
	}, nil
}

func (s *SQLiteStore) SetDocument(ctx context.Context, collection, id string, data map[string]any) (*Snapshot, error) {
	encoded, err := encodeData(data)
	if err != nil {
		return nil, err
	}
	updated := now()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO documents (collection, id, data, update_time)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (collection, id) DO UPDATE SET
			data = excluded.data,
			update_time = excluded.update_time`,
		collection, id, encoded, formatTime(updated),
	)
	if err != nil {
		return nil, fmt.Errorf("setting document: %w", err)
	}

	fields, err := decodeData(encoded)
	if err != nil {
		return nil, err
	}
	return &Snapshot{
		Collection: collection,
		ID:         id,
		Exists:     true,
		Data:       fields,
		UpdateTime: updated,
	}, nil
}

func (s *SQLiteStore) RunQuery(ctx context.Context, q QuerySpec) ([]Snapshot, error) {
	// LIMIT -1 is unbounded in SQLite.
	limit := -1
	if q.Limit > 0 {
		limit = q.Limit
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, data, update_time FROM documents WHERE collection = ? ORDER BY id LIMIT ?`,
		q.Collection, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying documents: %w", err)
	}
	defer rows.Close()

	out := []Snapshot{}
	for rows.Next() {
		var id, data, updated string
		if err := rows.Scan(&id, &data, &updated); err != nil {
			return nil, fmt.Errorf("scanning document: %w", err)
		}
		fields, err := decodeData(data)
		if err != nil {
			return nil, err
		}
		out = append(out, Snapshot{
			Collection: q.Collection,
			ID:         id,
			Exists:     true,
			Data:       fields,
			UpdateTime: parseTime(updated),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating documents: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
