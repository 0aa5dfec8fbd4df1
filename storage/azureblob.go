package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
)

func init() {
	RegisterType(AzureBlobType, func(_ context.Context, cfg Config) (ObjectStore, error) {
		return NewAzureBlobStore(cfg)
	})
}

// AzureBlobStore keeps objects as block blobs in one container.
type AzureBlobStore struct {
	client    *azblob.Client
	container string
}

var _ ObjectStore = (*AzureBlobStore)(nil)

// NewAzureBlobStore connects with the connection string when one is set,
// otherwise with cfg.Credential against the account's blob endpoint.
func NewAzureBlobStore(cfg Config) (*AzureBlobStore, error) {
	if cfg.Container == "" {
		return nil, errors.New("azure blob storage requires a container")
	}

	var (
		client *azblob.Client
		err    error
	)
	switch {
	case cfg.ConnectionString != "":
		client, err = azblob.NewClientFromConnectionString(cfg.ConnectionString, nil)
	case cfg.Credential != nil:
		serviceURL := cfg.ServiceURL
		if serviceURL == "" {
			if cfg.AccountName == "" {
				return nil, errors.New("azure blob storage requires an account name or connection string")
			}
			serviceURL = fmt.Sprintf("https://%s.blob.core.windows.net/", cfg.AccountName)
		}
		client, err = azblob.NewClient(serviceURL, cfg.Credential, nil)
	default:
		return nil, errors.New("azure blob storage requires a credential or connection string")
	}
	if err != nil {
		return nil, err
	}
	return &AzureBlobStore{client: client, container: cfg.Container}, nil
}

func (a *AzureBlobStore) Exists(ctx context.Context, path string) (bool, error) {
	blob := a.client.ServiceClient().NewContainerClient(a.container).NewBlobClient(cleanPath(path))
	_, err := blob.GetProperties(ctx, nil)
	if err == nil {
		return true, nil
	}
	err = convertAzureBlobErr(err)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return false, err
}

func (a *AzureBlobStore) Read(ctx context.Context, path string) ([]byte, error) {
	resp, err := a.client.DownloadStream(ctx, a.container, cleanPath(path), nil)
	if err != nil {
		return nil, convertAzureBlobErr(err)
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

func (a *AzureBlobStore) Write(ctx context.Context, path string, data []byte) error {
	_, err := a.client.UploadBuffer(ctx, a.container, cleanPath(path), data, nil)
	return convertAzureBlobErr(err)
}

func (a *AzureBlobStore) Delete(ctx context.Context, path string) error {
	_, err := a.client.DeleteBlob(ctx, a.container, cleanPath(path), nil)
	err = convertAzureBlobErr(err)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

func (a *AzureBlobStore) List(ctx context.Context, prefix string) ([]string, error) {
	prefix = cleanPath(prefix)
	opts := &azblob.ListBlobsFlatOptions{}
	if prefix != "" {
		opts.Prefix = &prefix
	}
	var paths []string
	pager := a.client.NewListBlobsFlatPager(a.container, opts)
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, convertAzureBlobErr(err)
		}
		for _, item := range resp.Segment.BlobItems {
			if item.Name != nil {
				paths = append(paths, *item.Name)
			}
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// convertAzureBlobErr maps service responses onto ErrNotFound and
// ErrForbidden, keeping the original error in the chain.
func convertAzureBlobErr(err error) error {
	if err == nil {
		return nil
	}
	if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound, bloberror.ResourceNotFound) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	if bloberror.HasCode(err, bloberror.AuthorizationPermissionMismatch, bloberror.AuthorizationFailure, bloberror.InsufficientAccountPermissions) {
		return fmt.Errorf("%w: %w", ErrForbidden, err)
	}
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.StatusCode {
		case http.StatusNotFound:
			return fmt.Errorf("%w: %w", ErrNotFound, err)
		case http.StatusForbidden:
			return fmt.Errorf("%w: %w", ErrForbidden, err)
		}
	}
	return err
}
