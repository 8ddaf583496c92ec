package storage

import (
	"context"
	"net/url"

	"github.com/firebridge/firebridge/internal/bridge"
)

// Client hands out callback-style references over a Backend.
type Client struct {
	backend Backend
}

// NewClient wraps backend.
func NewClient(backend Backend) *Client {
	return &Client{backend: backend}
}

// Backend returns the underlying Backend.
func (c *Client) Backend() Backend {
	return c.backend
}

// Ref returns a reference to the object at key. Each reference has its own
// Owner.
func (c *Client) Ref(key string) (*Reference, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	return &Reference{
		Owner:   bridge.NewOwner(),
		backend: c.backend,
		Key:     key,
	}, nil
}

// Reference addresses one object.
type Reference struct {
	*bridge.Owner
	backend Backend
	Key     string
}

// PutData stores data and reports the resulting metadata to completion
// before returning. Both arguments may be nil when the backend has nothing
// to report.
func (r *Reference) PutData(ctx context.Context, data []byte, meta *Metadata, completion func(*Metadata, error)) {
	m, err := r.backend.Put(ctx, r.Key, data, meta)
	completion(m, err)
}

// DownloadURL reports a download URL for the object to completion before
// returning.
func (r *Reference) DownloadURL(ctx context.Context, completion func(*url.URL, error)) {
	u, err := r.backend.URL(ctx, r.Key)
	completion(u, err)
}
