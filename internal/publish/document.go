// Package publish builds the bridge's three publishers on top of the
// callback-style document and object references: fetch-one, fetch-many and
// upload-one.
package publish

import (
	"context"

	"github.com/firebridge/firebridge/internal/bridge"
	"github.com/firebridge/firebridge/internal/docstore"
)

// Operation names used as metric and log labels.
const (
	OpDocument     = "document"
	OpQuery        = "query"
	OpQueryLenient = "query_lenient"
	OpUpload       = "upload"
)

// DocumentGetter is a single-document reference.
type DocumentGetter interface {
	bridge.Liveness
	GetDocument(ctx context.Context, completion func(*docstore.Snapshot, error))
}

// Document fetches the snapshot ref points at. A failed fetch emits the
// vendor error even if a snapshot came with it. A missing document is a
// snapshot whose Exists is false, not an error.
func Document(s *bridge.Scheduler, ref DocumentGetter) *bridge.Publisher[*docstore.Snapshot] {
	return bridge.New(s, OpDocument, ref, func(ctx context.Context, done func(*docstore.Snapshot, error)) {
		ref.GetDocument(ctx, done)
	})
}
