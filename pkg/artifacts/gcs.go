//go:build gcp

package artifacts

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"

	"github.com/weftworks/weft/pkg/canonicalize"
)

// GCSStore is the Google Cloud Storage CAS, enabled with -tags gcp.
type GCSStore struct {
	client *storage.Client
	bucket string
	prefix string
}

// GCSStoreConfig holds GCS connection settings.
type GCSStoreConfig struct {
	Bucket string
	Prefix string
}

func NewGCSStore(ctx context.Context, cfg GCSStoreConfig) (*GCSStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("artifacts: gcs client: %w", err)
	}
	return &GCSStore{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (s *GCSStore) Store(ctx context.Context, tenantID string, data []byte) (string, string, error) {
	digest := canonicalize.Digest(data)
	path, err := blobPath(tenantID, digest)
	if err != nil {
		return "", "", err
	}
	obj := s.client.Bucket(s.bucket).Object(s.prefix + path)

	if _, err := obj.Attrs(ctx); err == nil {
		return digest, path, nil
	}

	w := obj.NewWriter(ctx)
	w.ContentType = "application/octet-stream"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", "", fmt.Errorf("artifacts: gcs write: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", "", fmt.Errorf("artifacts: gcs commit: %w", err)
	}
	return digest, path, nil
}

func (s *GCSStore) Get(ctx context.Context, tenantID, digest string) ([]byte, error) {
	path, err := blobPath(tenantID, digest)
	if err != nil {
		return nil, err
	}
	return s.GetPath(ctx, tenantID, path)
}

func (s *GCSStore) GetPath(ctx context.Context, tenantID, path string) ([]byte, error) {
	if err := checkPathTenant(tenantID, path); err != nil {
		return nil, err
	}

	r, err := s.client.Bucket(s.bucket).Object(s.prefix + path).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("artifacts: blob not found: %s", path)
		}
		return nil, fmt.Errorf("artifacts: gcs get %s: %w", path, err)
	}
	defer r.Close() //nolint:errcheck // best-effort close

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("artifacts: gcs read %s: %w", path, err)
	}
	return data, nil
}

func (s *GCSStore) Exists(ctx context.Context, tenantID, digest string) (bool, error) {
	path, err := blobPath(tenantID, digest)
	if err != nil {
		return false, err
	}
	_, err = s.client.Bucket(s.bucket).Object(s.prefix + path).Attrs(ctx)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("artifacts: gcs attrs: %w", err)
}

func (s *GCSStore) Delete(ctx context.Context, tenantID, digest string) error {
	path, err := blobPath(tenantID, digest)
	if err != nil {
		return err
	}
	err = s.client.Bucket(s.bucket).Object(s.prefix + path).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("artifacts: gcs delete: %w", err)
	}
	return nil
}
