// Package storage defines the object storage layer behind the bridge's
// upload operation, and the callback-style reference that exposes it the way
// a mobile storage SDK does.
package storage

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"maps"
	"net/http"
	"net/url"
	"strings"
	"time"

	fberr "github.com/firebridge/firebridge/internal/errors"
)

// maxKeyLength is the longest object key accepted.
const maxKeyLength = 1024

// Metadata describes a stored object. Callers pass it to Put to set content
// headers and custom metadata; backends return it describing the result.
type Metadata struct {
	Name               string            `json:"name"`
	Bucket             string            `json:"bucket,omitempty"`
	Size               int64             `json:"size"`
	MD5                string            `json:"md5,omitempty"` // hex digest
	ETag               string            `json:"etag,omitempty"`
	ContentType        string            `json:"content_type,omitempty"`
	CacheControl       string            `json:"cache_control,omitempty"`
	ContentDisposition string            `json:"content_disposition,omitempty"`
	ContentEncoding    string            `json:"content_encoding,omitempty"`
	Custom             map[string]string `json:"custom,omitempty"`
	Updated            time.Time         `json:"updated"`
}

// Backend stores object bytes and hands out download URLs. All methods must
// be safe for concurrent use.
type Backend interface {
	// Put writes data at key, replacing any existing object. meta may be nil.
	// A backend that cannot describe the stored object returns (nil, nil).
	Put(ctx context.Context, key string, data []byte, meta *Metadata) (*Metadata, error)

	// URL returns a URL from which the object can be downloaded.
	URL(ctx context.Context, key string) (*url.URL, error)

	// HealthCheck verifies that the backend is operational.
	HealthCheck(ctx context.Context) error
}

// Opener is implemented by backends whose objects the gateway serves itself.
type Opener interface {
	// Open returns the object's contents and metadata. The caller closes the
	// reader. Missing objects yield an error matching fberr.ErrNotFound.
	Open(ctx context.Context, key string) (io.ReadCloser, *Metadata, error)
}

// ValidateKey checks an object key.
func ValidateKey(key string) error {
	switch {
	case key == "":
		return fberr.ErrInvalidArgument.WithMessage("object key must not be empty")
	case len(key) > maxKeyLength:
		return fberr.ErrInvalidArgument.WithMessage("object key exceeds %d bytes", maxKeyLength)
	case strings.HasPrefix(key, "/"):
		return fberr.ErrInvalidArgument.WithMessage("object key %q must not start with '/'", key)
	case strings.ContainsRune(key, 0):
		return fberr.ErrInvalidArgument.WithMessage("object key must not contain NUL")
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return fberr.ErrInvalidArgument.WithMessage("object key %q has an invalid path segment", key)
		}
	}
	return nil
}

// describe builds the Metadata of data stored at name, taking content
// headers from in. The content type is sniffed when in does not set one.
func describe(name, bucket string, data []byte, in *Metadata) *Metadata {
	sum := md5.Sum(data)
	out := &Metadata{
		Name:    name,
		Bucket:  bucket,
		Size:    int64(len(data)),
		MD5:     hex.EncodeToString(sum[:]),
		ETag:    fmt.Sprintf(`"%x"`, sum),
		Updated: time.Now().UTC(),
	}
	if in != nil {
		out.ContentType = in.ContentType
		out.CacheControl = in.CacheControl
		out.ContentDisposition = in.ContentDisposition
		out.ContentEncoding = in.ContentEncoding
		out.Custom = maps.Clone(in.Custom)
	}
	if out.ContentType == "" {
		out.ContentType = http.DetectContentType(data)
	}
	return out
}

// joinURL appends key to base, escaping each path segment.
func joinURL(base, key string) (*url.URL, error) {
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parsing base URL %q: %w", base, err)
	}
	return u.JoinPath(strings.Split(key, "/")...), nil
}
