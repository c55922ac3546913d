package storage

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/cloo-solutions/ragchat/internal/domain"
)

// BlobClientConfig selects an Azure storage account and container.
type BlobClientConfig struct {
	AccountURL       string
	ConnectionString string
	Container        string
	// Credential is used with AccountURL when no connection string is set.
	Credential azcore.TokenCredential
}

// BlobClient stores source documents in an Azure Blob container.
type BlobClient struct {
	client    *azblob.Client
	container string
}

// NewBlobClient creates a client from a connection string when one is
// configured, and from the account URL and a token credential otherwise.
func NewBlobClient(cfg BlobClientConfig) (*BlobClient, error) {
	var (
		client *azblob.Client
		err    error
	)
	switch {
	case cfg.ConnectionString != "":
		client, err = azblob.NewClientFromConnectionString(cfg.ConnectionString, nil)
	case cfg.AccountURL != "" && cfg.Credential != nil:
		client, err = azblob.NewClient(cfg.AccountURL, cfg.Credential, nil)
	default:
		return nil, fmt.Errorf("blob storage needs a connection string or an account url with a credential")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create blob client: %w", err)
	}
	return &BlobClient{client: client, container: cfg.Container}, nil
}

// Container returns the container name.
func (c *BlobClient) Container() string {
	return c.container
}

// EnsureContainer creates the container if it doesn't exist
func (c *BlobClient) EnsureContainer(ctx context.Context) error {
	_, err := c.client.CreateContainer(ctx, c.container, nil)
	if err != nil && !bloberror.HasCode(err, bloberror.ContainerAlreadyExists) {
		return domain.ErrStorageOperation.WithCause(fmt.Errorf("failed to create container %s: %w", c.container, err))
	}
	return nil
}

// Upload writes a block blob, overwriting any previous version.
func (c *BlobClient) Upload(ctx context.Context, key string, body io.Reader, contentType string) error {
	_, err := c.client.UploadStream(ctx, c.container, key, body, &azblob.UploadStreamOptions{
		HTTPHeaders: &blob.HTTPHeaders{BlobContentType: to.Ptr(contentType)},
	})
	if err != nil {
		return domain.ErrStorageOperation.WithCause(fmt.Errorf("failed to upload %s: %w", key, err))
	}
	return nil
}

// List returns all blobs under prefix.
func (c *BlobClient) List(ctx context.Context, prefix string) ([]domain.ObjectInfo, error) {
	opts := &azblob.ListBlobsFlatOptions{}
	if prefix != "" {
		opts.Prefix = to.Ptr(prefix)
	}

	var objects []domain.ObjectInfo
	pager := c.client.NewListBlobsFlatPager(c.container, opts)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, domain.ErrStorageOperation.WithCause(fmt.Errorf("failed to list blobs: %w", err))
		}
		for _, item := range page.Segment.BlobItems {
			if item.Name == nil {
				continue
			}
			info := domain.ObjectInfo{Key: *item.Name, ContentType: ContentTypeFor(*item.Name)}
			if p := item.Properties; p != nil {
				if p.ContentLength != nil {
					info.Size = *p.ContentLength
				}
				if p.ContentType != nil && *p.ContentType != "" {
					info.ContentType = *p.ContentType
				}
				if p.LastModified != nil {
					info.LastModified = *p.LastModified
				}
			}
			objects = append(objects, info)
		}
	}
	return objects, nil
}

// Open streams a blob's content. The caller closes the reader.
func (c *BlobClient) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	resp, err := c.client.DownloadStream(ctx, c.container, key, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return nil, domain.ErrObjectNotFound.WithCause(fmt.Errorf("blob %s", key))
		}
		return nil, domain.ErrStorageOperation.WithCause(fmt.Errorf("failed to download %s: %w", key, err))
	}
	return resp.Body, nil
}

// Delete removes a blob.
func (c *BlobClient) Delete(ctx context.Context, key string) error {
	_, err := c.client.DeleteBlob(ctx, c.container, key, nil)
	if err != nil && !bloberror.HasCode(err, bloberror.BlobNotFound) {
		return domain.ErrStorageOperation.WithCause(fmt.Errorf("failed to delete %s: %w", key, err))
	}
	return nil
}

// URL returns the blob address, used as the citation path.
func (c *BlobClient) URL(key string) string {
	return strings.TrimRight(c.client.URL(), "/") + "/" + c.container + "/" + key
}
