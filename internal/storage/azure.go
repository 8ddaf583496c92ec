package storage

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	fberr "github.com/firebridge/firebridge/internal/errors"
)

// AzureBlobAPI is the subset of the Azure Blob client the backend uses. It
// allows mocking in tests.
type AzureBlobAPI interface {
	// UploadBlob uploads data, overwriting any existing blob, and returns the
	// new ETag and last-modified time.
	UploadBlob(ctx context.Context, containerName, blobName string, data []byte, meta *Metadata) (etag string, lastModified time.Time, err error)
	// BlobURL returns a read SAS URL when the credential can sign one, and
	// the plain blob URL otherwise.
	BlobURL(containerName, blobName string, expiry time.Duration) (string, error)
	// ContainerExists reports whether the container exists.
	ContainerExists(ctx context.Context, containerName string) (bool, error)
}

// AzureBackend stores objects in an Azure Blob Storage container.
type AzureBackend struct {
	// Container is the Azure Blob container name.
	Container string
	// Prefix is prepended to every object key.
	Prefix string
	// Expiry is the lifetime of SAS URLs.
	Expiry time.Duration
	client AzureBlobAPI
}

// AzureOptions configures NewAzureBackend.
type AzureOptions struct {
	Container          string
	AccountURL         string
	Prefix             string
	ConnectionString   string
	UseManagedIdentity bool
	Expiry             time.Duration
}

// NewAzureBackend creates an AzureBackend and verifies the container exists.
func NewAzureBackend(ctx context.Context, opts AzureOptions) (*AzureBackend, error) {
	client, err := newRealAzureClient(opts.AccountURL, opts.ConnectionString, opts.UseManagedIdentity)
	if err != nil {
		return nil, fmt.Errorf("creating Azure client: %w", err)
	}

	b := NewAzureBackendWithClient(opts.Container, opts.Prefix, opts.Expiry, client)
	if err := b.HealthCheck(ctx); err != nil {
		return nil, err
	}

	slog.Info("Azure storage backend initialized", "container", opts.Container, "account", opts.AccountURL, "prefix", opts.Prefix)
	return b, nil
}

// NewAzureBackendWithClient creates an AzureBackend around an existing client.
func NewAzureBackendWithClient(container, prefix string, expiry time.Duration, client AzureBlobAPI) *AzureBackend {
	return &AzureBackend{
		Container: container,
		Prefix:    prefix,
		Expiry:    expiry,
		client:    client,
	}
}

func (b *AzureBackend) blobName(key string) string {
	return b.Prefix + key
}

// Put uploads data. Size and MD5 are computed locally; the ETag and
// modification time are Azure's.
func (b *AzureBackend) Put(ctx context.Context, key string, data []byte, meta *Metadata) (*Metadata, error) {
	out := describe(key, b.Container, data, meta)

	etag, modified, err := b.client.UploadBlob(ctx, b.Container, b.blobName(key), data, out)
	if err != nil {
		return nil, fmt.Errorf("uploading to Azure Blob: %w", err)
	}
	if etag != "" {
		out.ETag = etag
	}
	if !modified.IsZero() {
		out.Updated = modified
	}
	return out, nil
}

// URL returns a download URL. It does not check that the blob exists.
func (b *AzureBackend) URL(ctx context.Context, key string) (*url.URL, error) {
	raw, err := b.client.BlobURL(b.Container, b.blobName(key), b.Expiry)
	if err != nil {
		return nil, fmt.Errorf("building Azure blob URL: %w", err)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing blob URL: %w", err)
	}
	return u, nil
}

func (b *AzureBackend) HealthCheck(ctx context.Context) error {
	ok, err := b.client.ContainerExists(ctx, b.Container)
	if err != nil {
		return fmt.Errorf("cannot access Azure container %q: %w", b.Container, err)
	}
	if !ok {
		return fberr.ErrNotFound.WithMessage("Azure container %q does not exist", b.Container)
	}
	return nil
}
