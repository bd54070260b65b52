package intent

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftworks/weft/pkg/clock"
	"github.com/weftworks/weft/pkg/fault"
)

func TestNewRejectsMissingBoundaryFields(t *testing.T) {
	cases := []struct {
		name                                       string
		intentType, tenantID, sessionID, solutionID string
	}{
		{"missing type", "", "t1", "s1", "sol"},
		{"missing tenant", "ingest-file", "", "s1", "sol"},
		{"missing session", "ingest-file", "t1", "", "sol"},
		{"missing solution", "ingest-file", "t1", "s1", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(tc.intentType, tc.tenantID, tc.sessionID, tc.solutionID, Spec{})
			require.Error(t, err)
			assert.True(t, fault.IsKind(err, fault.KindValidation))
		})
	}
}

func TestNewGeneratesIDAndPreservesIdempotencyKey(t *testing.T) {
	in, err := New("ingest-file", "t1", "s1", "sol", Spec{IdempotencyKey: "k1"})
	require.NoError(t, err)
	assert.NotEmpty(t, in.IntentID)
	assert.Equal(t, "k1", in.IdempotencyKey)
	assert.NotNil(t, in.Parameters)
	assert.NotNil(t, in.Metadata)

	explicit, err := New("ingest-file", "t1", "s1", "sol", Spec{IntentID: "int-custom"})
	require.NoError(t, err)
	assert.Equal(t, "int-custom", explicit.IntentID)
}

func TestNewStampsClock(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	in, err := New("ingest-file", "t1", "s1", "sol", Spec{Clock: clock.Fixed(at)})
	require.NoError(t, err)
	assert.True(t, in.CreatedAt.Equal(at))
}

func TestRegistryOrderAndFanOut(t *testing.T) {
	r := NewRegistry()
	noop := func(context.Context, *Intent, *ExecutionContext) (*Result, error) { return nil, nil }

	require.NoError(t, r.Register("parse-content", "parser", "handle-intent", noop))
	require.NoError(t, r.Register("parse-content", "profiler", "handle-intent", noop))

	bindings := r.Handlers("parse-content")
	require.Len(t, bindings, 2)
	assert.Equal(t, "parser", bindings[0].RealmName)
	assert.Equal(t, "profiler", bindings[1].RealmName)

	assert.Empty(t, r.Handlers("unknown"))
	assert.Equal(t, []string{"parse-content"}, r.Intents())
}

func TestRegistryUnregisterRemovesRealmBindings(t *testing.T) {
	r := NewRegistry()
	noop := func(context.Context, *Intent, *ExecutionContext) (*Result, error) { return nil, nil }

	require.NoError(t, r.Register("parse-content", "parser", "handle-intent", noop))
	require.NoError(t, r.Register("parse-content", "profiler", "handle-intent", noop))

	r.Unregister("parse-content", "parser")
	bindings := r.Handlers("parse-content")
	require.Len(t, bindings, 1)
	assert.Equal(t, "profiler", bindings[0].RealmName)

	r.Unregister("parse-content", "profiler")
	assert.Empty(t, r.Intents())
}

func TestResultNormalize(t *testing.T) {
	var r *Result
	n := r.Normalize()
	assert.NotNil(t, n.Artifacts)
	assert.NotNil(t, n.Events)

	partial := (&Result{Artifacts: map[string]interface{}{"a": 1}}).Normalize()
	assert.Len(t, partial.Artifacts, 1)
	assert.NotNil(t, partial.Events)
}

func TestSchemaSetValidation(t *testing.T) {
	s := NewSchemaSet()
	schema := []byte(`{
		"type": "object",
		"required": ["file_hex", "ui_name"],
		"properties": {
			"file_hex": {"type": "string"},
			"ui_name": {"type": "string"}
		}
	}`)
	require.NoError(t, s.Declare("ingest-file", schema))

	ok, err := New("ingest-file", "t1", "s1", "sol", Spec{Parameters: map[string]interface{}{
		"file_hex": "68656c6c6f",
		"ui_name":  "hello.txt",
	}})
	require.NoError(t, err)
	assert.NoError(t, s.Validate(ok))

	bad, err := New("ingest-file", "t1", "s1", "sol", Spec{Parameters: map[string]interface{}{
		"ui_name": "hello.txt",
	}})
	require.NoError(t, err)
	verr := s.Validate(bad)
	require.Error(t, verr)
	assert.True(t, fault.IsKind(verr, fault.KindValidation))

	// No schema declared: parameters are the realm's business.
	other, err := New("synthesize-roadmap", "t1", "s1", "sol", Spec{})
	require.NoError(t, err)
	assert.NoError(t, s.Validate(other))
}
