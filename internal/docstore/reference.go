package docstore

import (
	"context"

	"github.com/firebridge/firebridge/internal/bridge"
)

// Client hands out callback-style references over a Store.
type Client struct {
	store Store
}

// NewClient wraps store.
func NewClient(store Store) *Client {
	return &Client{store: store}
}

// Store returns the underlying Store.
func (c *Client) Store() Store {
	return c.store
}

// Doc returns a reference to one document. Each reference has its own Owner.
func (c *Client) Doc(collection, id string) (*DocumentRef, error) {
	if err := ValidateCollection(collection); err != nil {
		return nil, err
	}
	if err := ValidateDocumentID(id); err != nil {
		return nil, err
	}
	return &DocumentRef{
		Owner:      bridge.NewOwner(),
		store:      c.store,
		Collection: collection,
		ID:         id,
	}, nil
}

// Collection returns an unlimited query over a collection.
func (c *Client) Collection(name string) (*Query, error) {
	if err := ValidateCollection(name); err != nil {
		return nil, err
	}
	return &Query{
		Owner: bridge.NewOwner(),
		store: c.store,
		spec:  QuerySpec{Collection: name},
	}, nil
}

// DocumentRef addresses a single document.
type DocumentRef struct {
	*bridge.Owner
	store      Store
	Collection string
	ID         string
}

// GetDocument reads the document and reports the outcome to completion
// before returning. A missing document yields a non-existent snapshot and a
// nil error.
func (r *DocumentRef) GetDocument(ctx context.Context, completion func(*Snapshot, error)) {
	snap, err := r.store.GetDocument(ctx, r.Collection, r.ID)
	if err != nil {
		completion(nil, err)
		return
	}
	completion(snap, nil)
}

// Querier is a collection query that can be narrowed and executed.
type Querier interface {
	bridge.Liveness
	// Limit returns a query capped at n results. It does not modify the
	// receiver.
	Limit(n int) Querier
	// GetDocuments runs the query and reports the outcome to completion.
	GetDocuments(ctx context.Context, completion func([]Snapshot, error))
}

// Query is a collection read. Derived queries share the Owner of the query
// they were built from.
type Query struct {
	*bridge.Owner
	store Store
	spec  QuerySpec
}

// Limit returns a copy of q capped at n results. n <= 0 removes the cap.
func (q *Query) Limit(n int) Querier {
	spec := q.spec
	spec.Limit = n
	if n < 0 {
		spec.Limit = 0
	}
	return &Query{Owner: q.Owner, store: q.store, spec: spec}
}

// Spec returns the query description.
func (q *Query) Spec() QuerySpec {
	return q.spec
}

// GetDocuments runs the query and reports the outcome to completion before
// returning.
func (q *Query) GetDocuments(ctx context.Context, completion func([]Snapshot, error)) {
	docs, err := q.store.RunQuery(ctx, q.spec)
	if err != nil {
		completion(nil, err)
		return
	}
	if docs == nil {
		docs = []Snapshot{}
	}
	completion(docs, nil)
}
