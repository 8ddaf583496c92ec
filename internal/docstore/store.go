// Package docstore defines the document storage layer behind the bridge's
// fetch-one and fetch-many operations, and the callback-style references
// that expose it the way a mobile document SDK does.
package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	fberr "github.com/firebridge/firebridge/internal/errors"
)

const (
	// timeFormat is the ISO 8601 format used for stored timestamps.
	timeFormat = "2006-01-02T15:04:05.000Z"

	// maxIDLength is the longest collection or document ID accepted.
	maxIDLength = 1500
)

// Snapshot is the state of one document at read time. A document that does
// not exist is reported as a Snapshot with Exists false, not as an error.
type Snapshot struct {
	Collection string
	ID         string
	Exists     bool
	// Data holds the document fields. Values are JSON-compatible: strings,
	// float64, bool, nil, []any and map[string]any.
	Data       map[string]any
	UpdateTime time.Time
}

// QuerySpec describes a single-page collection read.
type QuerySpec struct {
	Collection string
	// Limit caps the number of results. Zero or negative means no cap.
	Limit int
}

// Store is the synchronous document backend. Implementations return
// RunQuery results ordered by document ID ascending.
type Store interface {
	// GetDocument returns the document, or a non-existent Snapshot when the
	// document is missing.
	GetDocument(ctx context.Context, collection, id string) (*Snapshot, error)

	// SetDocument creates or replaces the document and returns its new state.
	SetDocument(ctx context.Context, collection, id string, data map[string]any) (*Snapshot, error)

	// RunQuery returns the documents of a collection.
	RunQuery(ctx context.Context, q QuerySpec) ([]Snapshot, error)

	// Ping checks connectivity with the backend.
	Ping(ctx context.Context) error

	// Close releases any resources held by the store.
	Close() error
}

// ValidateCollection checks a collection name.
func ValidateCollection(name string) error {
	return validateID("collection", name)
}

// ValidateDocumentID checks a document ID.
func ValidateDocumentID(id string) error {
	return validateID("document ID", id)
}

func validateID(kind, s string) error {
	switch {
	case s == "":
		return fberr.ErrInvalidArgument.WithMessage("%s must not be empty", kind)
	case len(s) > maxIDLength:
		return fberr.ErrInvalidArgument.WithMessage("%s exceeds %d bytes", kind, maxIDLength)
	case s == "." || s == "..":
		return fberr.ErrInvalidArgument.WithMessage("%s %q is reserved", kind, s)
	case strings.Contains(s, "/"):
		return fberr.ErrInvalidArgument.WithMessage("%s %q must not contain '/'", kind, s)
	case strings.HasPrefix(s, "__") && strings.HasSuffix(s, "__"):
		return fberr.ErrInvalidArgument.WithMessage("%s %q is reserved", kind, s)
	}
	return nil
}

func encodeData(data map[string]any) (string, error) {
	if data == nil {
		data = map[string]any{}
	}
	b, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("encoding document data: %w", err)
	}
	return string(b), nil
}

func decodeData(s string) (map[string]any, error) {
	data := map[string]any{}
	if s == "" {
		return data, nil
	}
	if err := json.Unmarshal([]byte(s), &data); err != nil {
		return nil, fmt.Errorf("decoding document data: %w", err)
	}
	return data, nil
}

func now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeFormat, s)
	return t
}

func missing(collection, id string) *Snapshot {
	return &Snapshot{Collection: collection, ID: id}
}
