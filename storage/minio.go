package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

func init() {
	RegisterType(MinioType, func(ctx context.Context, cfg Config) (ObjectStore, error) {
		return NewMinioStore(ctx, cfg)
	})
}

// MinioStore keeps objects in a MinIO bucket.
type MinioStore struct {
	client *minio.Client
	bucket string
}

var _ ObjectStore = (*MinioStore)(nil)

// NewMinioStore connects to cfg.Endpoint and creates the bucket if it does
// not exist yet.
func NewMinioStore(ctx context.Context, cfg Config) (*MinioStore, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, errors.New("minio storage requires an endpoint and a bucket")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, err
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, convertMinioErr(err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, convertMinioErr(err)
		}
	}
	return &MinioStore{client: client, bucket: cfg.Bucket}, nil
}

func (m *MinioStore) Exists(ctx context.Context, path string) (bool, error) {
	_, err := m.client.StatObject(ctx, m.bucket, cleanPath(path), minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	err = convertMinioErr(err)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return false, err
}

func (m *MinioStore) Read(ctx context.Context, path string) ([]byte, error) {
	obj, err := m.client.GetObject(ctx, m.bucket, cleanPath(path), minio.GetObjectOptions{})
	if err != nil {
		return nil, convertMinioErr(err)
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, convertMinioErr(err)
	}
	return data, nil
}

func (m *MinioStore) Write(ctx context.Context, path string, data []byte) error {
	_, err := m.client.PutObject(ctx, m.bucket, cleanPath(path), bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/octet-stream"})
	return convertMinioErr(err)
}

func (m *MinioStore) Delete(ctx context.Context, path string) error {
	err := convertMinioErr(m.client.RemoveObject(ctx, m.bucket, cleanPath(path), minio.RemoveObjectOptions{}))
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

func (m *MinioStore) List(ctx context.Context, prefix string) ([]string, error) {
	var paths []string
	for info := range m.client.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{
		Prefix:    cleanPath(prefix),
		Recursive: true,
	}) {
		if info.Err != nil {
			return nil, convertMinioErr(info.Err)
		}
		paths = append(paths, info.Key)
	}
	sort.Strings(paths)
	return paths, nil
}

func convertMinioErr(err error) error {
	if err == nil {
		return nil
	}
	resp := minio.ToErrorResponse(err)
	switch {
	case resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case resp.Code == "AccessDenied" || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %w", ErrForbidden, err)
	}
	return err
}
