package artifacts

import (
	"context"
	"fmt"
	"sync"

	"github.com/weftworks/weft/pkg/canonicalize"
)

// MemoryStore is the in-memory CAS for tests and use-memory mode.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte // storage path → bytes
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

func (s *MemoryStore) Store(_ context.Context, tenantID string, data []byte) (string, string, error) {
	digest := canonicalize.Digest(data)
	path, err := blobPath(tenantID, digest)
	if err != nil {
		return "", "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blobs[path]; !ok {
		copied := make([]byte, len(data))
		copy(copied, data)
		s.blobs[path] = copied
	}
	return digest, path, nil
}

func (s *MemoryStore) Get(ctx context.Context, tenantID, digest string) ([]byte, error) {
	path, err := blobPath(tenantID, digest)
	if err != nil {
		return nil, err
	}
	return s.GetPath(ctx, tenantID, path)
}

func (s *MemoryStore) GetPath(_ context.Context, tenantID, path string) ([]byte, error) {
	if err := checkPathTenant(tenantID, path); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.blobs[path]
	if !ok {
		return nil, fmt.Errorf("artifacts: blob not found: %s", path)
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (s *MemoryStore) Exists(_ context.Context, tenantID, digest string) (bool, error) {
	path, err := blobPath(tenantID, digest)
	if err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.blobs[path]
	return ok, nil
}

func (s *MemoryStore) Delete(_ context.Context, tenantID, digest string) error {
	path, err := blobPath(tenantID, digest)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blobs, path)
	return nil
}
