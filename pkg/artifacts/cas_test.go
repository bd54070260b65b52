package artifacts

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStoreRoundTrip(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()
	data := []byte(`{"kind":"roadmap"}`)

	digest, path, err := s.Store(ctx, "t1", data)
	require.NoError(t, err)
	assert.Contains(t, digest, "sha256:")
	assert.Contains(t, path, "t1/")

	got, err := s.Get(ctx, "t1", digest)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	byPath, err := s.GetPath(ctx, "t1", path)
	require.NoError(t, err)
	assert.Equal(t, data, byPath)
}

func TestFileStoreIdempotentStore(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	d1, p1, err := s.Store(ctx, "t1", []byte("same"))
	require.NoError(t, err)
	d2, p2, err := s.Store(ctx, "t1", []byte("same"))
	require.NoError(t, err)
	assert.Equal(t, d1, d2)
	assert.Equal(t, p1, p2)
}

func TestFileStoreTenantPathIsolation(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	digest, path, err := s.Store(ctx, "t1", []byte("secret"))
	require.NoError(t, err)

	// Another tenant's digest lookup resolves to its own prefix, where
	// nothing lives; the path read refuses the mismatched prefix.
	_, err = s.Get(ctx, "t2", digest)
	require.Error(t, err)
	_, err = s.GetPath(ctx, "t2", path)
	require.Error(t, err)
	_, err = s.GetPath(ctx, "t1", "t1/../t2/escape.blob")
	require.Error(t, err)
}

func TestFileStoreExistsAndDelete(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	digest, _, err := s.Store(ctx, "t1", []byte("x"))
	require.NoError(t, err)

	ok, err := s.Exists(ctx, "t1", digest)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, s.Delete(ctx, "t1", digest))
	ok, err = s.Exists(ctx, "t1", digest)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFileStoreRejectsMalformedDigest(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	_, err = s.Get(ctx, "t1", "md5:abc")
	require.Error(t, err)
	_, err = s.Get(ctx, "t1", "sha256:not-hex")
	require.Error(t, err)
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	data := []byte("payload")

	digest, path, err := s.Store(ctx, "t1", data)
	require.NoError(t, err)

	got, err := s.Get(ctx, "t1", digest)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	_, err = s.GetPath(ctx, "t2", path)
	require.Error(t, err)

	require.NoError(t, s.Delete(ctx, "t1", digest))
	_, err = s.Get(ctx, "t1", digest)
	require.Error(t, err)
}
