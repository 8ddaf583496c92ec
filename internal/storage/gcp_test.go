package storage

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	gcs "cloud.google.com/go/storage"

	fberr "github.com/firebridge/firebridge/internal/errors"
)

// mockGCSClient implements GCSAPI for unit testing.
type mockGCSClient struct {
	// objects stores all objects keyed by their GCS object name.
	objects map[string][]byte
	// metas stores the metadata passed to NewWriter.
	metas map[string]*Metadata
	// putCalls tracks the number of completed writes.
	putCalls int
	// signCalls tracks the number of SignedURL calls.
	signCalls int
	// lastExpiry is the expiry passed to the last SignedURL call.
	lastExpiry time.Duration
	// noAttrs makes writers report no attributes.
	noAttrs bool
	// listErr is returned by ListObjects.
	listErr error
}

func newMockGCSClient() *mockGCSClient {
	return &mockGCSClient{
		objects: make(map[string][]byte),
		metas:   make(map[string]*Metadata),
	}
}

// mockGCSWriter implements GCSWriter for testing.
type mockGCSWriter struct {
	buf    *bytes.Buffer
	client *mockGCSClient
	bucket string
	key    string
	meta   *Metadata
	closed bool
}

func (w *mockGCSWriter) Write(p []byte) (int, error) {
	return w.buf.Write(p)
}

func (w *mockGCSWriter) Close() error {
	w.client.objects[w.key] = w.buf.Bytes()
	w.client.metas[w.key] = w.meta
	w.client.putCalls++
	w.closed = true
	return nil
}

func (w *mockGCSWriter) Attrs() *GCSAttrs {
	if !w.closed || w.client.noAttrs {
		return nil
	}
	sum := md5.Sum(w.buf.Bytes())
	a := &GCSAttrs{
		Name:    w.key,
		Bucket:  w.bucket,
		Size:    int64(w.buf.Len()),
		MD5:     sum[:],
		ETag:    "CJ" + hex.EncodeToString(sum[:4]),
		Updated: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	if w.meta != nil {
		a.ContentType = w.meta.ContentType
		a.CacheControl = w.meta.CacheControl
		a.Metadata = w.meta.Custom
	}
	return a
}

func (m *mockGCSClient) NewWriter(ctx context.Context, bucket, object string, meta *Metadata) GCSWriter {
	return &mockGCSWriter{
		buf:    &bytes.Buffer{},
		client: m,
		bucket: bucket,
		key:    object,
		meta:   meta,
	}
}

func (m *mockGCSClient) SignedURL(bucket, object string, expires time.Duration) (string, error) {
	m.signCalls++
	m.lastExpiry = expires
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s?X-Goog-Signature=abc", bucket, object), nil
}

func (m *mockGCSClient) ListObjects(ctx context.Context, bucket, prefix string) ([]string, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	var names []string
	for name := range m.objects {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	return names, nil
}

func newTestGCPBackend() (*GCPBackend, *mockGCSClient) {
	mock := newMockGCSClient()
	return NewGCPBackendWithClient("test-bucket", "prefix/", time.Hour, mock), mock
}

func TestGCPPut(t *testing.T) {
	b, mock := newTestGCPBackend()
	data := []byte("hello, gcs")

	meta, err := b.Put(context.Background(), "photos/cat.png", data, &Metadata{
		ContentType: "image/png",
		Custom:      map[string]string{"owner": "ada"},
	})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, ok := mock.objects["prefix/photos/cat.png"]; !ok {
		t.Fatal("object not written under prefixed name")
	}
	if meta.Name != "photos/cat.png" {
		t.Errorf("Name = %q, want key without prefix", meta.Name)
	}
	if meta.Bucket != "test-bucket" {
		t.Errorf("Bucket = %q", meta.Bucket)
	}
	if meta.Size != int64(len(data)) {
		t.Errorf("Size = %d, want %d", meta.Size, len(data))
	}
	wantMD5 := fmt.Sprintf("%x", md5.Sum(data))
	if meta.MD5 != wantMD5 {
		t.Errorf("MD5 = %s, want %s", meta.MD5, wantMD5)
	}
	if meta.ContentType != "image/png" {
		t.Errorf("ContentType = %q", meta.ContentType)
	}
	if meta.Custom["owner"] != "ada" {
		t.Errorf("Custom = %v", meta.Custom)
	}
}

func TestGCPPutSniffsContentType(t *testing.T) {
	b, mock := newTestGCPBackend()
	if _, err := b.Put(context.Background(), "a.txt", []byte("plain text"), nil); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got := mock.metas["prefix/a.txt"]
	if got == nil || !strings.HasPrefix(got.ContentType, "text/plain") {
		t.Errorf("writer metadata = %+v, want sniffed text/plain", got)
	}
}

func TestGCPPutWithoutAttrs(t *testing.T) {
	b, mock := newTestGCPBackend()
	mock.noAttrs = true

	meta, err := b.Put(context.Background(), "k", []byte("x"), nil)
	if err != nil || meta != nil {
		t.Errorf("Put = (%v, %v), want (nil, nil)", meta, err)
	}
}

func TestGCPURL(t *testing.T) {
	b, mock := newTestGCPBackend()
	u, err := b.URL(context.Background(), "photos/cat.png")
	if err != nil {
		t.Fatalf("URL: %v", err)
	}
	if !strings.HasSuffix(u.Path, "/test-bucket/prefix/photos/cat.png") {
		t.Errorf("URL path = %q", u.Path)
	}
	if u.Query().Get("X-Goog-Signature") == "" {
		t.Error("URL is not signed")
	}
	if mock.signCalls != 1 || mock.lastExpiry != time.Hour {
		t.Errorf("SignedURL calls=%d expiry=%v", mock.signCalls, mock.lastExpiry)
	}
}

func TestGCPHealthCheck(t *testing.T) {
	b, mock := newTestGCPBackend()
	if err := b.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck: %v", err)
	}

	mock.listErr = gcs.ErrBucketNotExist
	err := b.HealthCheck(context.Background())
	if !errors.Is(err, fberr.ErrNotFound) {
		t.Errorf("HealthCheck on missing bucket = %v, want NotFound", err)
	}

	mock.listErr = errors.New("permission denied")
	if err := b.HealthCheck(context.Background()); err == nil || errors.Is(err, fberr.ErrNotFound) {
		t.Errorf("HealthCheck on denied bucket = %v", err)
	}
}
