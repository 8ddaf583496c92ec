package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/sas"
)

// realAzureClient wraps the official Azure SDK client to satisfy AzureBlobAPI.
type realAzureClient struct {
	client *azblob.Client
}

// newRealAzureClient creates a real Azure Blob client. If connectionString is
// non-empty, it uses connection string auth, which can also sign SAS URLs.
// If useManagedIdentity is true, it uses managed identity credentials.
// Otherwise it falls back to DefaultAzureCredential.
func newRealAzureClient(accountURL, connectionString string, useManagedIdentity bool) (*realAzureClient, error) {
	if connectionString != "" {
		client, err := azblob.NewClientFromConnectionString(connectionString, nil)
		if err != nil {
			return nil, fmt.Errorf("creating Azure Blob client from connection string: %w", err)
		}
		return &realAzureClient{client: client}, nil
	}

	var cred azcore.TokenCredential
	var err error
	if useManagedIdentity {
		cred, err = azidentity.NewManagedIdentityCredential(nil)
		if err != nil {
			return nil, fmt.Errorf("creating Azure managed identity credential: %w", err)
		}
	} else {
		cred, err = azidentity.NewDefaultAzureCredential(nil)
		if err != nil {
			return nil, fmt.Errorf("creating Azure credential: %w", err)
		}
	}

	client, err := azblob.NewClient(accountURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("creating Azure Blob client: %w", err)
	}
	return &realAzureClient{client: client}, nil
}

func (c *realAzureClient) UploadBlob(ctx context.Context, containerName, blobName string, data []byte, meta *Metadata) (string, time.Time, error) {
	opts := &azblob.UploadBufferOptions{
		HTTPHeaders: &blob.HTTPHeaders{
			BlobContentType:        optional(meta.ContentType),
			BlobCacheControl:       optional(meta.CacheControl),
			BlobContentDisposition: optional(meta.ContentDisposition),
			BlobContentEncoding:    optional(meta.ContentEncoding),
		},
	}
	if len(meta.Custom) > 0 {
		opts.Metadata = make(map[string]*string, len(meta.Custom))
		for k, v := range meta.Custom {
			opts.Metadata[k] = optional(v)
		}
	}

	resp, err := c.client.UploadBuffer(ctx, containerName, blobName, data, opts)
	if err != nil {
		return "", time.Time{}, err
	}
	var etag string
	if resp.ETag != nil {
		etag = string(*resp.ETag)
	}
	var modified time.Time
	if resp.LastModified != nil {
		modified = *resp.LastModified
	}
	return etag, modified, nil
}

func (c *realAzureClient) BlobURL(containerName, blobName string, expiry time.Duration) (string, error) {
	bc := c.client.ServiceClient().NewContainerClient(containerName).NewBlobClient(blobName)
	u, err := bc.GetSASURL(sas.BlobPermissions{Read: true}, time.Now().Add(expiry), nil)
	if err != nil {
		// Token credentials cannot sign; the plain URL works for public
		// containers and callers holding their own credentials.
		return bc.URL(), nil
	}
	return u, nil
}

func (c *realAzureClient) ContainerExists(ctx context.Context, containerName string) (bool, error) {
	_, err := c.client.ServiceClient().NewContainerClient(containerName).GetProperties(ctx, nil)
	if err != nil {
		if isAzureNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// isAzureNotFound checks if an Azure error is a not-found response.
func isAzureNotFound(err error) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
