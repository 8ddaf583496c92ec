package storage

import (
	"bytes"
	"context"
	"io"
	"net/url"
	"sync"

	fberr "github.com/firebridge/firebridge/internal/errors"
)

// MemoryBackend keeps objects in process memory. It is used by tests and by
// local runs that need no persistence.
type MemoryBackend struct {
	// BaseURL prefixes keys in returned URLs. When empty, URL returns
	// mem:///key URLs.
	BaseURL string

	mu      sync.RWMutex
	objects map[string]memObject
}

type memObject struct {
	data []byte
	meta Metadata
}

// NewMemoryBackend returns an empty MemoryBackend.
func NewMemoryBackend(baseURL string) *MemoryBackend {
	return &MemoryBackend{
		BaseURL: baseURL,
		objects: make(map[string]memObject),
	}
}

func (b *MemoryBackend) Put(ctx context.Context, key string, data []byte, meta *Metadata) (*Metadata, error) {
	out := describe(key, "", data, meta)
	stored := memObject{
		data: bytes.Clone(data),
		meta: *out,
	}

	b.mu.Lock()
	b.objects[key] = stored
	b.mu.Unlock()
	return out, nil
}

// URL returns a URL for an existing object.
func (b *MemoryBackend) URL(ctx context.Context, key string) (*url.URL, error) {
	b.mu.RLock()
	_, ok := b.objects[key]
	b.mu.RUnlock()
	if !ok {
		return nil, fberr.ErrNotFound.WithMessage("object %q does not exist", key)
	}
	if b.BaseURL == "" {
		return &url.URL{Scheme: "mem", Path: "/" + key}, nil
	}
	return joinURL(b.BaseURL, key)
}

func (b *MemoryBackend) Open(ctx context.Context, key string) (io.ReadCloser, *Metadata, error) {
	b.mu.RLock()
	obj, ok := b.objects[key]
	b.mu.RUnlock()
	if !ok {
		return nil, nil, fberr.ErrNotFound.WithMessage("object %q does not exist", key)
	}
	meta := obj.meta
	return io.NopCloser(bytes.NewReader(obj.data)), &meta, nil
}

// Len returns the number of stored objects.
func (b *MemoryBackend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.objects)
}

func (b *MemoryBackend) HealthCheck(ctx context.Context) error {
	return nil
}
