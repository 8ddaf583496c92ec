package storage

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	fberr "github.com/firebridge/firebridge/internal/errors"
)

// GCSAPI is the subset of the GCS client the backend uses. It allows mocking
// in tests.
type GCSAPI interface {
	// NewWriter returns a writer for the given object with content headers
	// taken from meta, which may be nil.
	NewWriter(ctx context.Context, bucket, object string, meta *Metadata) GCSWriter
	// SignedURL returns a V4 signed GET URL valid for expires.
	SignedURL(bucket, object string, expires time.Duration) (string, error)
	// ListObjects lists object names with the given prefix.
	ListObjects(ctx context.Context, bucket, prefix string) ([]string, error)
}

// GCSWriter writes one GCS object. Attrs is available after a successful
// Close and may be nil.
type GCSWriter interface {
	io.WriteCloser
	Attrs() *GCSAttrs
}

// GCSAttrs holds object attributes returned by GCS.
type GCSAttrs struct {
	Name               string
	Bucket             string
	Size               int64
	MD5                []byte // raw MD5 hash bytes
	ETag               string
	ContentType        string
	CacheControl       string
	ContentDisposition string
	ContentEncoding    string
	Metadata           map[string]string
	Updated            time.Time
}

// realGCSClient wraps the official GCS client to satisfy GCSAPI.
type realGCSClient struct {
	client *gcs.Client
}

func (c *realGCSClient) NewWriter(ctx context.Context, bucket, object string, meta *Metadata) GCSWriter {
	w := c.client.Bucket(bucket).Object(object).NewWriter(ctx)
	if meta != nil {
		w.ContentType = meta.ContentType
		w.CacheControl = meta.CacheControl
		w.ContentDisposition = meta.ContentDisposition
		w.ContentEncoding = meta.ContentEncoding
		w.Metadata = meta.Custom
	}
	return &realGCSWriter{w: w}
}

func (c *realGCSClient) SignedURL(bucket, object string, expires time.Duration) (string, error) {
	return c.client.Bucket(bucket).SignedURL(object, &gcs.SignedURLOptions{
		Scheme:  gcs.SigningSchemeV4,
		Method:  "GET",
		Expires: time.Now().Add(expires),
	})
}

func (c *realGCSClient) ListObjects(ctx context.Context, bucket, prefix string) ([]string, error) {
	it := c.client.Bucket(bucket).Objects(ctx, &gcs.Query{Prefix: prefix})
	var names []string
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, err
		}
		names = append(names, attrs.Name)
	}
	return names, nil
}

type realGCSWriter struct {
	w *gcs.Writer
}

func (w *realGCSWriter) Write(p []byte) (int, error) {
	return w.w.Write(p)
}

func (w *realGCSWriter) Close() error {
	return w.w.Close()
}

func (w *realGCSWriter) Attrs() *GCSAttrs {
	a := w.w.Attrs()
	if a == nil {
		return nil
	}
	return &GCSAttrs{
		Name:               a.Name,
		Bucket:             a.Bucket,
		Size:               a.Size,
		MD5:                a.MD5,
		ETag:               a.Etag,
		ContentType:        a.ContentType,
		CacheControl:       a.CacheControl,
		ContentDisposition: a.ContentDisposition,
		ContentEncoding:    a.ContentEncoding,
		Metadata:           a.Metadata,
		Updated:            a.Updated,
	}
}

// GCPBackend stores objects in a Google Cloud Storage bucket and hands out
// V4 signed download URLs.
type GCPBackend struct {
	// Bucket is the GCS bucket name.
	Bucket string
	// Prefix is prepended to every object key.
	Prefix string
	// Expiry is the lifetime of signed URLs.
	Expiry time.Duration
	client GCSAPI
}

// NewGCPBackend creates a GCPBackend using Application Default Credentials
// unless credentialsFile is set, and verifies the bucket is reachable.
func NewGCPBackend(ctx context.Context, bucket, prefix, credentialsFile string, expiry time.Duration) (*GCPBackend, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating GCS client: %w", err)
	}

	b := NewGCPBackendWithClient(bucket, prefix, expiry, &realGCSClient{client: client})
	if err := b.HealthCheck(ctx); err != nil {
		return nil, err
	}

	slog.Info("GCP storage backend initialized", "bucket", bucket, "prefix", prefix)
	return b, nil
}

// NewGCPBackendWithClient creates a GCPBackend around an existing client.
func NewGCPBackendWithClient(bucket, prefix string, expiry time.Duration, client GCSAPI) *GCPBackend {
	return &GCPBackend{
		Bucket: bucket,
		Prefix: prefix,
		Expiry: expiry,
		client: client,
	}
}

func (b *GCPBackend) objectName(key string) string {
	return b.Prefix + key
}

// Put uploads data. When the writer reports no attributes, Put returns
// (nil, nil).
func (b *GCPBackend) Put(ctx context.Context, key string, data []byte, meta *Metadata) (*Metadata, error) {
	if meta == nil || meta.ContentType == "" {
		meta = withSniffedType(meta, data)
	}

	w := b.client.NewWriter(ctx, b.Bucket, b.objectName(key), meta)
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("uploading to GCS: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("finalizing GCS upload: %w", err)
	}

	attrs := w.Attrs()
	if attrs == nil {
		return nil, nil
	}
	return &Metadata{
		Name:               strings.TrimPrefix(attrs.Name, b.Prefix),
		Bucket:             attrs.Bucket,
		Size:               attrs.Size,
		MD5:                hex.EncodeToString(attrs.MD5),
		ETag:               attrs.ETag,
		ContentType:        attrs.ContentType,
		CacheControl:       attrs.CacheControl,
		ContentDisposition: attrs.ContentDisposition,
		ContentEncoding:    attrs.ContentEncoding,
		Custom:             attrs.Metadata,
		Updated:            attrs.Updated,
	}, nil
}

// URL returns a V4 signed GET URL. It does not check that the object exists.
func (b *GCPBackend) URL(ctx context.Context, key string) (*url.URL, error) {
	raw, err := b.client.SignedURL(b.Bucket, b.objectName(key), b.Expiry)
	if err != nil {
		return nil, fmt.Errorf("signing GCS URL: %w", err)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing signed URL: %w", err)
	}
	return u, nil
}

// HealthCheck lists a prefix that never matches to prove bucket access.
func (b *GCPBackend) HealthCheck(ctx context.Context) error {
	_, err := b.client.ListObjects(ctx, b.Bucket, "\x00nonexistent\x00")
	if err != nil {
		if errors.Is(err, gcs.ErrBucketNotExist) {
			return fberr.ErrNotFound.WithMessage("GCS bucket %q does not exist", b.Bucket).WithCause(err)
		}
		return fmt.Errorf("cannot access GCS bucket %q: %w", b.Bucket, err)
	}
	return nil
}

// withSniffedType returns a copy of meta whose content type is detected
// from data.
func withSniffedType(meta *Metadata, data []byte) *Metadata {
	var cp Metadata
	if meta != nil {
		cp = *meta
	}
	cp.ContentType = http.DetectContentType(data)
	return &cp
}
