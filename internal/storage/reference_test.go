package storage

import (
	"context"
	"errors"
	"net/url"
	"testing"

	fberr "github.com/firebridge/firebridge/internal/errors"
)

// countingBackend wraps a Backend and counts calls.
type countingBackend struct {
	Backend
	putCalls int
	urlCalls int
}

func (c *countingBackend) Put(ctx context.Context, key string, data []byte, meta *Metadata) (*Metadata, error) {
	c.putCalls++
	return c.Backend.Put(ctx, key, data, meta)
}

func (c *countingBackend) URL(ctx context.Context, key string) (*url.URL, error) {
	c.urlCalls++
	return c.Backend.URL(ctx, key)
}

func TestRefRejectsInvalidKeys(t *testing.T) {
	c := NewClient(NewMemoryBackend(""))
	for _, key := range []string{"", "/abs", "a//b"} {
		if _, err := c.Ref(key); !errors.Is(err, fberr.ErrInvalidArgument) {
			t.Errorf("Ref(%q) = %v, want InvalidArgument", key, err)
		}
	}
}

func TestReferenceCallbacks(t *testing.T) {
	backend := &countingBackend{Backend: NewMemoryBackend("")}
	c := NewClient(backend)
	if c.Backend() != backend {
		t.Fatal("Backend() does not return the wrapped backend")
	}

	ref, err := c.Ref("photos/a.png")
	if err != nil {
		t.Fatalf("Ref: %v", err)
	}
	if !ref.Alive() {
		t.Fatal("new reference is not alive")
	}
	ctx := context.Background()

	var gotMeta *Metadata
	calls := 0
	ref.PutData(ctx, []byte("img"), nil, func(m *Metadata, err error) {
		calls++
		if err != nil {
			t.Errorf("PutData: %v", err)
		}
		gotMeta = m
	})
	if calls != 1 || gotMeta == nil || gotMeta.Name != "photos/a.png" {
		t.Fatalf("PutData completion calls=%d meta=%+v", calls, gotMeta)
	}

	var gotURL *url.URL
	ref.DownloadURL(ctx, func(u *url.URL, err error) {
		calls++
		if err != nil {
			t.Errorf("DownloadURL: %v", err)
		}
		gotURL = u
	})
	if calls != 2 || gotURL == nil || gotURL.String() != "mem:///photos/a.png" {
		t.Errorf("DownloadURL completion calls=%d url=%v", calls, gotURL)
	}
	if backend.putCalls != 1 || backend.urlCalls != 1 {
		t.Errorf("backend calls put=%d url=%d", backend.putCalls, backend.urlCalls)
	}
}

func TestReferenceDownloadURLMissing(t *testing.T) {
	c := NewClient(NewMemoryBackend(""))
	ref, _ := c.Ref("missing")
	var gotErr error
	ref.DownloadURL(context.Background(), func(u *url.URL, err error) {
		if u != nil {
			t.Errorf("url = %v, want nil", u)
		}
		gotErr = err
	})
	if !errors.Is(gotErr, fberr.ErrNotFound) {
		t.Errorf("err = %v, want NotFound", gotErr)
	}
}
