package outbox

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftworks/weft/pkg/fault"
)

func newTestOutbox(t *testing.T) *Outbox {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	o, err := New(client, Options{})
	require.NoError(t, err)
	return o
}

func TestNewRequiresBackendUnlessMemory(t *testing.T) {
	_, err := New(nil, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), fault.ContractMarker)

	o, err := New(nil, Options{UseMemory: true})
	require.NoError(t, err)
	assert.NotNil(t, o)
}

func TestPendingHidesPublished(t *testing.T) {
	o := newTestOutbox(t)
	ctx := context.Background()

	require.NoError(t, o.Append(ctx, "e1", "evt-1", "artifact.created", map[string]interface{}{"k": "v"}))
	require.NoError(t, o.Append(ctx, "e1", "evt-2", "step.done", nil))

	pending, err := o.GetPendingEvents(ctx, "e1")
	require.NoError(t, err)
	require.Len(t, pending, 2)

	require.NoError(t, o.MarkPublished(ctx, "e1", "evt-1"))

	pending, err = o.GetPendingEvents(ctx, "e1")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "evt-2", pending[0].EventID)
}

func TestPublishEventsDrainsAndMarks(t *testing.T) {
	o := newTestOutbox(t)
	ctx := context.Background()
	pub := NewCollectingPublisher()

	require.NoError(t, o.Append(ctx, "e1", "evt-1", "a", nil))
	require.NoError(t, o.Append(ctx, "e1", "evt-2", "b", nil))

	drained, err := o.PublishEvents(ctx, "e1", pub)
	require.NoError(t, err)
	assert.Equal(t, 2, drained)
	assert.Len(t, pub.Entries, 2)

	pending, err := o.GetPendingEvents(ctx, "e1")
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestRedrainIsIdempotent(t *testing.T) {
	o := newTestOutbox(t)
	ctx := context.Background()
	pub := NewCollectingPublisher()

	require.NoError(t, o.Append(ctx, "e1", "evt-1", "a", nil))

	_, err := o.PublishEvents(ctx, "e1", pub)
	require.NoError(t, err)
	drained, err := o.PublishEvents(ctx, "e1", pub)
	require.NoError(t, err)
	assert.Zero(t, drained)
	assert.Len(t, pub.Entries, 1)
}

func TestDrainFailureRetainsEntries(t *testing.T) {
	o := newTestOutbox(t)
	ctx := context.Background()
	pub := NewCollectingPublisher()
	pub.Fail = true

	require.NoError(t, o.Append(ctx, "e1", "evt-1", "a", nil))

	_, err := o.PublishEvents(ctx, "e1", pub)
	require.Error(t, err)

	pending, err := o.GetPendingEvents(ctx, "e1")
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	// The bus recovers; the retained entry drains on the next pass.
	pub.Fail = false
	drained, err := o.PublishEvents(ctx, "e1", pub)
	require.NoError(t, err)
	assert.Equal(t, 1, drained)
}

func TestExecutionsAreIsolated(t *testing.T) {
	o := newTestOutbox(t)
	ctx := context.Background()

	require.NoError(t, o.Append(ctx, "e1", "evt-1", "a", nil))
	require.NoError(t, o.Append(ctx, "e2", "evt-2", "b", nil))

	pending, err := o.GetPendingEvents(ctx, "e2")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "evt-2", pending[0].EventID)
}
