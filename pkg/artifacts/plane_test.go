package artifacts

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftworks/weft/pkg/fault"
)

func newTestPlane(t *testing.T) *Plane {
	t.Helper()
	p, err := NewPlane(nil, nil, Options{UseMemory: true})
	require.NoError(t, err)
	return p
}

var testCC = CreateContext{
	TenantID:    "t1",
	SessionID:   "s1",
	SolutionID:  "sol",
	Realm:       "synthesis",
	IntentType:  "synthesize-roadmap",
	IntentID:    "int-1",
	ExecutionID: "exec-1",
}

func TestNewPlaneRequiresBackends(t *testing.T) {
	_, err := NewPlane(nil, nil, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), fault.ContractMarker)

	_, err = NewPlane(NewMemoryStore(), nil, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), fault.ContractMarker)
}

func TestCreateAndGetPayloadRoundTrip(t *testing.T) {
	p := newTestPlane(t)
	ctx := context.Background()

	record, err := p.Create(ctx, testCC, CreateSpec{
		ArtifactType: TypeRoadmap,
		Payload:      map[string]interface{}{"phases": []string{"discover", "build"}},
	})
	require.NoError(t, err)
	assert.Equal(t, StateDraft, record.LifecycleState)
	assert.Equal(t, OwnerClient, record.Owner)
	assert.Equal(t, PurposeDelivery, record.Purpose)
	assert.Equal(t, 1, record.Version)
	assert.True(t, record.IsCurrentVersion)
	assert.Equal(t, record.ArtifactID, record.BaseID)
	assert.Equal(t, []string{"exec-1"}, record.Lineage)

	got, err := p.Get(ctx, record.ArtifactID, "t1", true, false)
	require.NoError(t, err)
	require.NotNil(t, got.Registry)
	assert.Equal(t, record.Digest, got.Registry.Digest)

	// Byte-for-byte: the stored payload is the canonical JSON.
	reStored, _, err := p.cas.Store(ctx, "t1", got.Payload)
	require.NoError(t, err)
	assert.Equal(t, record.Digest, reStored)
}

func TestGetCrossTenantReturnsNothing(t *testing.T) {
	p := newTestPlane(t)
	ctx := context.Background()

	record, err := p.Create(ctx, testCC, CreateSpec{ArtifactType: TypeBlueprint, Payload: "b"})
	require.NoError(t, err)

	_, err = p.Get(ctx, record.ArtifactID, "t2", false, false)
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.KindNotFound))
}

func TestGetFallsBackToDirectStorage(t *testing.T) {
	p := newTestPlane(t)
	ctx := context.Background()

	// Payload exists in the CAS with no registry entry.
	digest, _, err := p.cas.Store(ctx, "t1", []byte("orphan payload"))
	require.NoError(t, err)

	got, err := p.Get(ctx, digest, "t1", true, false)
	require.NoError(t, err)
	assert.Nil(t, got.Registry)
	assert.Equal(t, []byte("orphan payload"), got.Payload)
}

func TestVisualsStoredAtSiblingPaths(t *testing.T) {
	p := newTestPlane(t)
	ctx := context.Background()
	png := []byte{0x89, 0x50, 0x4e, 0x47}

	record, err := p.Create(ctx, testCC, CreateSpec{
		ArtifactType: TypeBlueprint,
		Payload:      map[string]interface{}{"diagram": "architecture"},
		Visuals:      map[string][]byte{"diagram.png": png},
	})
	require.NoError(t, err)
	require.Len(t, record.VisualPaths, 1)

	got, err := p.Get(ctx, record.ArtifactID, "t1", false, true)
	require.NoError(t, err)
	assert.Equal(t, png, got.Visuals["diagram.png"])

	raw, err := p.GetVisual(ctx, "t1", record.VisualPaths["diagram.png"])
	require.NoError(t, err)
	assert.Equal(t, png, raw)

	_, err = p.GetVisual(ctx, "t2", record.VisualPaths["diagram.png"])
	require.Error(t, err)
}

func TestLifecycleChain(t *testing.T) {
	p := newTestPlane(t)
	ctx := context.Background()

	record, err := p.Create(ctx, testCC, CreateSpec{ArtifactType: TypeSOP, Payload: "v1"})
	require.NoError(t, err)

	accepted, err := p.TransitionLifecycle(ctx, record.ArtifactID, "t1", StateAccepted, "reviewer", "looks right")
	require.NoError(t, err)
	assert.Equal(t, StateAccepted, accepted.LifecycleState)
	require.Len(t, accepted.Transitions, 1)
	assert.Equal(t, StateDraft, accepted.Transitions[0].From)

	// Backwards is rejected, no state change.
	_, err = p.TransitionLifecycle(ctx, record.ArtifactID, "t1", StateDraft, "reviewer", "")
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.KindLifecycleViolation))

	obsolete, err := p.TransitionLifecycle(ctx, record.ArtifactID, "t1", StateObsolete, "reviewer", "superseded")
	require.NoError(t, err)
	assert.Equal(t, StateObsolete, obsolete.LifecycleState)

	// Same-state is idempotent success with no extra transition record.
	again, err := p.TransitionLifecycle(ctx, record.ArtifactID, "t1", StateObsolete, "reviewer", "")
	require.NoError(t, err)
	assert.Len(t, again.Transitions, 2)

	// Obsolete is terminal.
	_, err = p.TransitionLifecycle(ctx, record.ArtifactID, "t1", StateAccepted, "reviewer", "")
	require.Error(t, err)
}

func TestVersioningSingleCurrentPerChain(t *testing.T) {
	p := newTestPlane(t)
	ctx := context.Background()

	v1, err := p.Create(ctx, testCC, CreateSpec{ArtifactType: TypeWorkflow, Payload: "v1"})
	require.NoError(t, err)

	v2, err := p.CreateVersion(ctx, v1.ArtifactID, testCC, CreateSpec{Payload: "v2"})
	require.NoError(t, err)
	assert.Equal(t, 2, v2.Version)
	assert.Equal(t, v1.BaseID, v2.BaseID)
	assert.Equal(t, v1.ArtifactID, v2.ParentArtifactID)
	assert.True(t, v2.IsCurrentVersion)

	chain, err := p.ListVersions(ctx, v1.BaseID, "t1")
	require.NoError(t, err)
	require.Len(t, chain, 2)
	assert.Equal(t, 1, chain[0].Version)
	assert.Equal(t, 2, chain[1].Version)

	current := 0
	for _, r := range chain {
		if r.IsCurrentVersion {
			current++
		}
	}
	assert.Equal(t, 1, current)

	// Versioning off a stale parent is a conflict.
	_, err = p.CreateVersion(ctx, v1.ArtifactID, testCC, CreateSpec{Payload: "v2b"})
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.KindLifecycleViolation))
}

func TestDependencies(t *testing.T) {
	p := newTestPlane(t)
	ctx := context.Background()

	upstream, err := p.Create(ctx, testCC, CreateSpec{ArtifactType: TypeParsedContent, Payload: "parsed"})
	require.NoError(t, err)

	downstream, err := p.Create(ctx, testCC, CreateSpec{
		ArtifactType: TypeRoadmap,
		Payload:      "derived",
		Sources:      []string{upstream.ArtifactID},
	})
	require.NoError(t, err)

	deps, err := p.Dependencies(ctx, downstream.ArtifactID, "t1")
	require.NoError(t, err)
	assert.Equal(t, []string{upstream.ArtifactID}, deps)

	missing, dependents, err := p.ValidateDependencies(ctx, downstream.ArtifactID, "t1", false)
	require.NoError(t, err)
	assert.Empty(t, missing)
	assert.Empty(t, dependents)

	_, dependents, err = p.ValidateDependencies(ctx, upstream.ArtifactID, "t1", true)
	require.NoError(t, err)
	assert.Equal(t, []string{downstream.ArtifactID}, dependents)

	// Unknown source rejected at creation.
	_, err = p.Create(ctx, testCC, CreateSpec{
		ArtifactType: TypeRoadmap,
		Payload:      "bad",
		Sources:      []string{"art-missing"},
	})
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.KindValidation))
}

func TestDeleteRefusesWithDependents(t *testing.T) {
	p := newTestPlane(t)
	ctx := context.Background()

	upstream, err := p.Create(ctx, testCC, CreateSpec{ArtifactType: TypeParsedContent, Payload: "u"})
	require.NoError(t, err)
	_, err = p.Create(ctx, testCC, CreateSpec{
		ArtifactType: TypeRoadmap,
		Payload:      "d",
		Sources:      []string{upstream.ArtifactID},
	})
	require.NoError(t, err)

	err = p.Delete(ctx, upstream.ArtifactID, "t1", false)
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.KindLifecycleViolation))

	require.NoError(t, p.Delete(ctx, upstream.ArtifactID, "t1", true))
	_, err = p.Dependencies(ctx, upstream.ArtifactID, "t1")
	require.Error(t, err)
}

func TestListFilters(t *testing.T) {
	p := newTestPlane(t)
	ctx := context.Background()

	_, err := p.Create(ctx, testCC, CreateSpec{ArtifactType: TypeRoadmap, Payload: "r"})
	require.NoError(t, err)
	_, err = p.Create(ctx, testCC, CreateSpec{ArtifactType: TypeBlueprint, Payload: "b", Owner: OwnerPlatform})
	require.NoError(t, err)

	roadmaps, err := p.List(ctx, "t1", Filter{ArtifactType: TypeRoadmap})
	require.NoError(t, err)
	require.Len(t, roadmaps, 1)
	assert.Equal(t, TypeRoadmap, roadmaps[0].ArtifactType)

	platform, err := p.List(ctx, "t1", Filter{Owner: OwnerPlatform})
	require.NoError(t, err)
	assert.Len(t, platform, 1)

	other, err := p.List(ctx, "t2", Filter{})
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestRegisterLineageIdempotent(t *testing.T) {
	p := newTestPlane(t)
	ctx := context.Background()

	record, err := p.Create(ctx, testCC, CreateSpec{ArtifactType: TypeSolution, Payload: "s"})
	require.NoError(t, err)

	require.NoError(t, p.RegisterLineage(ctx, record.ArtifactID, "t1", "exec-2"))
	require.NoError(t, p.RegisterLineage(ctx, record.ArtifactID, "t1", "exec-2"))

	got, err := p.Get(ctx, record.ArtifactID, "t1", false, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"exec-1", "exec-2"}, got.Registry.Lineage)
}
