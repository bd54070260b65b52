// Package artifacts is the Artifact Plane: content-addressed payload
// storage under a tenant prefix plus a registry of versioned,
// lineage-tracked, lifecycle-governed artifact records on the durable
// state tier.
package artifacts

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/weftworks/weft/pkg/canonicalize"
)

// Store is the content-addressed payload store. Paths have the shape
// `<tenant>/<hex>.blob`; digests use the `sha256:<hex>` scheme. Store is
// idempotent: re-storing identical bytes returns the same digest and path.
type Store interface {
	Store(ctx context.Context, tenantID string, data []byte) (digest, path string, err error)
	Get(ctx context.Context, tenantID, digest string) ([]byte, error)
	// GetPath fetches by a previously returned storage path. The tenant
	// prefix embedded in the path must match tenantID.
	GetPath(ctx context.Context, tenantID, path string) ([]byte, error)
	Exists(ctx context.Context, tenantID, digest string) (bool, error)
	Delete(ctx context.Context, tenantID, digest string) error
}

// blobPath maps (tenant, digest) onto the storage layout.
func blobPath(tenantID, digest string) (string, error) {
	raw, err := rawHex(digest)
	if err != nil {
		return "", err
	}
	return tenantID + "/" + raw + ".blob", nil
}

// rawHex validates a `sha256:<hex>` digest and returns the hex part.
func rawHex(digest string) (string, error) {
	if !strings.HasPrefix(digest, "sha256:") {
		return "", fmt.Errorf("artifacts: invalid digest format: %s", digest)
	}
	raw := strings.TrimPrefix(digest, "sha256:")
	if _, err := hex.DecodeString(raw); err != nil {
		return "", fmt.Errorf("artifacts: invalid digest hex: %w", err)
	}
	return raw, nil
}

// checkPathTenant rejects a path whose tenant prefix is not tenantID. This
// is the isolation check for path-addressed reads (visuals).
func checkPathTenant(tenantID, path string) error {
	if !strings.HasPrefix(path, tenantID+"/") {
		return fmt.Errorf("artifacts: path %q does not belong to tenant %q", path, tenantID)
	}
	if strings.Contains(path, "..") {
		return fmt.Errorf("artifacts: path %q is not a storage path", path)
	}
	return nil
}

// FileStore is the filesystem CAS. Writes are tmp+rename so a crash never
// leaves a partial blob at its content address.
type FileStore struct {
	baseDir string
	mu      sync.RWMutex
}

func NewFileStore(baseDir string) (*FileStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("artifacts: ensure dir: %w", err)
	}
	return &FileStore{baseDir: baseDir}, nil
}

func (s *FileStore) Store(_ context.Context, tenantID string, data []byte) (string, string, error) {
	digest := canonicalize.Digest(data)
	relPath, err := blobPath(tenantID, digest)
	if err != nil {
		return "", "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	full := filepath.Join(s.baseDir, filepath.FromSlash(relPath))
	if _, err := os.Stat(full); err == nil {
		return digest, relPath, nil
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", "", fmt.Errorf("artifacts: ensure tenant dir: %w", err)
	}

	tmp := full + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", "", fmt.Errorf("artifacts: write blob: %w", err)
	}
	if err := os.Rename(tmp, full); err != nil {
		return "", "", fmt.Errorf("artifacts: commit blob: %w", err)
	}
	return digest, relPath, nil
}

func (s *FileStore) Get(ctx context.Context, tenantID, digest string) ([]byte, error) {
	relPath, err := blobPath(tenantID, digest)
	if err != nil {
		return nil, err
	}
	return s.GetPath(ctx, tenantID, relPath)
}

func (s *FileStore) GetPath(_ context.Context, tenantID, path string) ([]byte, error) {
	if err := checkPathTenant(tenantID, path); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	f, err := os.Open(filepath.Join(s.baseDir, filepath.FromSlash(path)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("artifacts: blob not found: %s", path)
		}
		return nil, fmt.Errorf("artifacts: open blob: %w", err)
	}
	defer f.Close() //nolint:errcheck // best-effort close

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("artifacts: read blob: %w", err)
	}
	return data, nil
}

func (s *FileStore) Exists(_ context.Context, tenantID, digest string) (bool, error) {
	relPath, err := blobPath(tenantID, digest)
	if err != nil {
		return false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	_, err = os.Stat(filepath.Join(s.baseDir, filepath.FromSlash(relPath)))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("artifacts: stat blob: %w", err)
}

func (s *FileStore) Delete(_ context.Context, tenantID, digest string) error {
	relPath, err := blobPath(tenantID, digest)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err = os.Remove(filepath.Join(s.baseDir, filepath.FromSlash(relPath)))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("artifacts: delete blob: %w", err)
	}
	return nil
}
