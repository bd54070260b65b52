package state

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftworks/weft/pkg/fault"
	"github.com/weftworks/weft/pkg/state/docstore"
	"github.com/weftworks/weft/pkg/state/hotkv"
)

func newTestSurface(t *testing.T) *Surface {
	t.Helper()
	s, err := New(nil, nil, Options{UseMemory: true})
	require.NoError(t, err)
	return s
}

func TestNewRequiresBackendsUnlessMemory(t *testing.T) {
	_, err := New(nil, nil, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), fault.ContractMarker)

	_, err = New(hotkv.NewMemoryStore(), nil, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), fault.ContractMarker)

	s, err := New(hotkv.NewMemoryStore(), docstore.NewMemoryStore(), Options{})
	require.NoError(t, err)
	assert.NotNil(t, s)
}

func TestExecutionStateRoundTrip(t *testing.T) {
	s := newTestSurface(t)
	ctx := context.Background()

	require.NoError(t, s.SetExecutionState(ctx, "t1", "e42", map[string]interface{}{
		"status":    "pending",
		"intent_id": "int-1",
	}, Meta{}))

	got, err := s.GetExecutionState(ctx, "t1", "e42")
	require.NoError(t, err)
	assert.Equal(t, "pending", got["status"])
	assert.Equal(t, "int-1", got["intent_id"])
}

func TestTenantIsolation(t *testing.T) {
	s := newTestSurface(t)
	ctx := context.Background()

	require.NoError(t, s.SetExecutionState(ctx, "t1", "e42", map[string]interface{}{"status": "running"}, Meta{}))
	require.NoError(t, s.SetSessionState(ctx, "t1", "s9", map[string]interface{}{"session_id": "s9"}, Meta{}))

	// Same resource ids under a different tenant resolve to nothing.
	_, err := s.GetExecutionState(ctx, "t2", "e42")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetSessionState(ctx, "t2", "s9")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetSessionState(ctx, "", "s9")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAnonymousSessionNamespace(t *testing.T) {
	s := newTestSurface(t)
	ctx := context.Background()

	require.NoError(t, s.SetSessionState(ctx, "", "s1", map[string]interface{}{"is_anonymous": true}, Meta{}))

	got, err := s.GetSessionState(ctx, "", "s1")
	require.NoError(t, err)
	assert.Equal(t, true, got["is_anonymous"])

	_, err = s.GetSessionState(ctx, "t1", "s1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDurableFallthroughWithoutRehydration(t *testing.T) {
	hot := hotkv.NewMemoryStore()
	durable := docstore.NewMemoryStore()
	s, err := New(hot, durable, Options{})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.SetExecutionState(ctx, "t1", "e1", map[string]interface{}{"status": "succeeded"}, Meta{Strategy: StrategyDurable}))

	// The hot tier never saw the write; the read falls through.
	_, err = hot.Get(ctx, ExecutionKey("t1", "e1"))
	assert.ErrorIs(t, err, hotkv.ErrNotFound)

	got, err := s.GetExecutionState(ctx, "t1", "e1")
	require.NoError(t, err)
	assert.Equal(t, "succeeded", got["status"])

	// Still not rehydrated after the durable hit.
	_, err = hot.Get(ctx, ExecutionKey("t1", "e1"))
	assert.ErrorIs(t, err, hotkv.ErrNotFound)
}

func TestFileRoundTrip(t *testing.T) {
	s := newTestSurface(t)
	ctx := context.Background()
	content := []byte("hello weft")

	require.NoError(t, s.StoreFile(ctx, content, FileMetadata{
		FileID:    "f17",
		TenantID:  "t1",
		SessionID: "s9",
		UIName:    "hello.txt",
		MimeType:  "text/plain",
		Size:      len(content),
	}, Meta{}))

	got, md, err := s.GetFile(ctx, "t1", "s9", "f17")
	require.NoError(t, err)
	assert.Equal(t, content, got)
	assert.Equal(t, "hello.txt", md.UIName)

	_, _, err = s.GetFile(ctx, "t2", "s9", "f17")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.DeleteFile(ctx, "t1", "s9", "f17"))
	_, _, err = s.GetFile(ctx, "t1", "s9", "f17")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListExecutions(t *testing.T) {
	s := newTestSurface(t)
	ctx := context.Background()

	for _, id := range []string{"e1", "e2", "e3"} {
		require.NoError(t, s.SetExecutionState(ctx, "t1", id, map[string]interface{}{"execution_id": id}, Meta{}))
	}
	require.NoError(t, s.SetExecutionState(ctx, "t2", "e9", map[string]interface{}{"execution_id": "e9"}, Meta{}))

	execs, err := s.ListExecutions(ctx, "t1")
	require.NoError(t, err)
	assert.Len(t, execs, 3)
}

func TestHotTTLExpiryLeavesDurableCopy(t *testing.T) {
	s := newTestSurface(t)
	ctx := context.Background()

	require.NoError(t, s.SetExecutionState(ctx, "t1", "e1", map[string]interface{}{"status": "pending"}, Meta{TTL: time.Hour}))

	got, err := s.GetExecutionState(ctx, "t1", "e1")
	require.NoError(t, err)
	assert.Equal(t, "pending", got["status"])
}

func TestTenantOf(t *testing.T) {
	assert.Equal(t, "t1", TenantOf("execution:t1:e42"))
	assert.Equal(t, "anon", TenantOf("session:anon:s1"))
	assert.Equal(t, "", TenantOf("garbage"))
}
