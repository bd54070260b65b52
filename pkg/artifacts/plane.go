package artifacts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/weftworks/weft/pkg/canonicalize"
	"github.com/weftworks/weft/pkg/clock"
	"github.com/weftworks/weft/pkg/fault"
	"github.com/weftworks/weft/pkg/state"
	"github.com/weftworks/weft/pkg/state/docstore"
)

// Plane is the Artifact Plane: payloads in the CAS, records on the durable
// tier under `artifact:<tenant>:<id>` keys.
type Plane struct {
	cas      Store
	registry docstore.Store
	clock    clock.Clock
	logger   *slog.Logger
}

// Options tune a Plane at construction.
type Options struct {
	// UseMemory substitutes in-memory stores for absent backends. Tests
	// only.
	UseMemory bool
	Clock     clock.Clock
}

// NewPlane builds a Plane. Either store may be nil only with UseMemory.
func NewPlane(cas Store, registry docstore.Store, opts Options) (*Plane, error) {
	if cas == nil {
		if !opts.UseMemory {
			return nil, fault.NotWired("artifact plane", "content-addressed payload store")
		}
		cas = NewMemoryStore()
	}
	if registry == nil {
		if !opts.UseMemory {
			return nil, fault.NotWired("artifact plane", "durable registry backend")
		}
		registry = docstore.NewMemoryStore()
	}
	return &Plane{
		cas:      cas,
		registry: registry,
		clock:    opts.Clock,
		logger:   slog.Default().With("component", "artifact-plane"),
	}, nil
}

// CAS exposes the payload store for path-addressed reads (visuals).
func (p *Plane) CAS() Store { return p.cas }

// CreateContext carries the identities of the run creating an artifact.
type CreateContext struct {
	TenantID    string
	SessionID   string
	SolutionID  string
	Realm       string
	IntentType  string
	IntentID    string
	ExecutionID string
}

// CreateSpec describes the artifact to create. Zero-valued lifecycle,
// owner, and purpose default to draft/client/delivery.
type CreateSpec struct {
	ArtifactType   string
	ArtifactID     string
	Payload        interface{}
	Visuals        map[string][]byte
	Metadata       map[string]interface{}
	LifecycleState LifecycleState
	Owner          Owner
	Purpose        Purpose
	Sources        []string
	Regenerable    bool
	Retention      string
}

// Create persists the payload (and any visuals at sibling paths), writes
// the registry entry as version 1 of a new chain, and returns the record.
func (p *Plane) Create(ctx context.Context, cc CreateContext, spec CreateSpec) (*Record, error) {
	if cc.TenantID == "" {
		return nil, fault.Validation("artifact creation requires a tenant id")
	}
	if spec.ArtifactType == "" {
		return nil, fault.Validation("artifact type is required")
	}

	if err := p.validateSources(ctx, cc.TenantID, spec.Sources); err != nil {
		return nil, err
	}

	payload, err := canonicalize.Canonicalize(spec.Payload)
	if err != nil {
		return nil, fault.Validation("artifact payload: %v", err)
	}
	digest, path, err := p.cas.Store(ctx, cc.TenantID, payload.Bytes)
	if err != nil {
		return nil, fault.BackendUnavailable("artifact-plane", err)
	}

	var visualPaths map[string]string
	if len(spec.Visuals) > 0 {
		visualPaths = make(map[string]string, len(spec.Visuals))
		for name, data := range spec.Visuals {
			_, vpath, err := p.cas.Store(ctx, cc.TenantID, data)
			if err != nil {
				return nil, fault.BackendUnavailable("artifact-plane", err)
			}
			visualPaths[name] = vpath
		}
	}

	id := spec.ArtifactID
	if id == "" {
		id = clock.NewArtifactID()
	}
	now := p.clock.Now()
	record := &Record{
		ArtifactID:       id,
		ArtifactType:     spec.ArtifactType,
		BaseID:           id,
		TenantID:         cc.TenantID,
		SessionID:        cc.SessionID,
		SolutionID:       cc.SolutionID,
		Realm:            cc.Realm,
		IntentType:       cc.IntentType,
		IntentID:         cc.IntentID,
		ExecutionID:      cc.ExecutionID,
		StoragePath:      path,
		Digest:           digest,
		VisualPaths:      visualPaths,
		Regenerable:      spec.Regenerable,
		Retention:        spec.Retention,
		Metadata:         spec.Metadata,
		LifecycleState:   defaultState(spec.LifecycleState),
		Owner:            defaultOwner(spec.Owner),
		Purpose:          defaultPurpose(spec.Purpose),
		Version:          1,
		IsCurrentVersion: true,
		SourceArtifacts:  spec.Sources,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if cc.ExecutionID != "" {
		record.Lineage = []string{cc.ExecutionID}
	}

	if err := p.put(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

// Materialized is a registry record merged with payload bytes on request.
// Registry is nil on the direct-storage fallback path.
type Materialized struct {
	Registry *Record
	Payload  []byte
	Visuals  map[string][]byte
}

// Get returns the artifact. When the registry entry is gone but the id is
// a digest whose payload survives in the CAS, the payload comes back with
// Registry nil.
func (p *Plane) Get(ctx context.Context, artifactID, tenantID string, includePayload, includeVisuals bool) (*Materialized, error) {
	record, err := p.getRecord(ctx, tenantID, artifactID)
	if err != nil && !fault.IsKind(err, fault.KindNotFound) {
		return nil, err
	}
	if record == nil {
		data, casErr := p.cas.Get(ctx, tenantID, artifactID)
		if casErr != nil {
			return nil, fault.NotFound("artifact-plane", "artifact %s not found for tenant %s", artifactID, tenantID)
		}
		return &Materialized{Payload: data}, nil
	}

	out := &Materialized{Registry: record}
	if includePayload {
		data, err := p.cas.GetPath(ctx, tenantID, record.StoragePath)
		if err != nil {
			return nil, fault.BackendUnavailable("artifact-plane", err)
		}
		out.Payload = data
	}
	if includeVisuals && len(record.VisualPaths) > 0 {
		out.Visuals = make(map[string][]byte, len(record.VisualPaths))
		for name, vpath := range record.VisualPaths {
			data, err := p.cas.GetPath(ctx, tenantID, vpath)
			if err != nil {
				return nil, fault.BackendUnavailable("artifact-plane", err)
			}
			out.Visuals[name] = data
		}
	}
	return out, nil
}

// GetVisual fetches a visual blob by its storage path, enforcing the
// tenant prefix.
func (p *Plane) GetVisual(ctx context.Context, tenantID, path string) ([]byte, error) {
	data, err := p.cas.GetPath(ctx, tenantID, path)
	if err != nil {
		return nil, fault.NotFound("artifact-plane", "visual %s not found for tenant %s", path, tenantID)
	}
	return data, nil
}

// Filter narrows List. Zero values match everything; OnlyCurrent keeps
// only current versions.
type Filter struct {
	ArtifactType   string
	SessionID      string
	SolutionID     string
	LifecycleState LifecycleState
	Owner          Owner
	Purpose        Purpose
	OnlyCurrent    bool
	Limit          int
}

// List returns tenant artifacts matching f, newest first.
func (p *Plane) List(ctx context.Context, tenantID string, f Filter) ([]*Record, error) {
	if tenantID == "" {
		return nil, fault.Validation("artifact listing requires a tenant id")
	}
	docFilter := map[string]interface{}{}
	if f.ArtifactType != "" {
		docFilter["artifact_type"] = f.ArtifactType
	}
	if f.SessionID != "" {
		docFilter["session_id"] = f.SessionID
	}
	if f.SolutionID != "" {
		docFilter["solution_id"] = f.SolutionID
	}
	if f.LifecycleState != "" {
		docFilter["lifecycle_state"] = string(f.LifecycleState)
	}
	if f.Owner != "" {
		docFilter["owner"] = string(f.Owner)
	}
	if f.Purpose != "" {
		docFilter["purpose"] = string(f.Purpose)
	}
	if f.OnlyCurrent {
		docFilter["is_current_version"] = true
	}

	docs, err := p.registry.List(ctx, fmt.Sprintf("artifact:%s:", tenantID), docFilter, f.Limit)
	if err != nil {
		return nil, fault.BackendUnavailable("artifact-plane", err)
	}
	records := make([]*Record, 0, len(docs))
	for _, doc := range docs {
		r, err := recordFromDoc(doc.Value)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, nil
}

// TransitionLifecycle moves the artifact to state, appending a transition
// record. Same-state transitions succeed without change; anything outside
// draft → accepted → obsolete is a lifecycle violation.
func (p *Plane) TransitionLifecycle(ctx context.Context, artifactID, tenantID string, to LifecycleState, actor, reason string) (*Record, error) {
	record, err := p.getRecord(ctx, tenantID, artifactID)
	if err != nil {
		return nil, err
	}

	from := record.LifecycleState
	if from == to {
		return record, nil
	}
	if !transitionAllowed(from, to) {
		return nil, fault.LifecycleViolation("artifact %s: transition %s → %s is not allowed", artifactID, from, to)
	}

	record.LifecycleState = to
	record.Transitions = append(record.Transitions, Transition{
		From:   from,
		To:     to,
		At:     p.clock.Now(),
		Actor:  actor,
		Reason: reason,
	})
	record.UpdatedAt = p.clock.Now()
	if err := p.put(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

// CreateVersion creates the next version of parentID's chain: a new
// artifact record carrying the parent's base id, version+1 and the
// is-current flag, with the parent's flag flipped off. The parent must be
// the chain's current version.
func (p *Plane) CreateVersion(ctx context.Context, parentID string, cc CreateContext, spec CreateSpec) (*Record, error) {
	parent, err := p.getRecord(ctx, cc.TenantID, parentID)
	if err != nil {
		return nil, err
	}
	if !parent.IsCurrentVersion {
		return nil, fault.LifecycleViolation("artifact %s is not the current version of its chain", parentID)
	}
	if spec.ArtifactType == "" {
		spec.ArtifactType = parent.ArtifactType
	}

	record, err := p.Create(ctx, cc, spec)
	if err != nil {
		return nil, err
	}

	record.BaseID = parent.BaseID
	record.Version = parent.Version + 1
	record.ParentArtifactID = parent.ArtifactID
	if err := p.put(ctx, record); err != nil {
		return nil, err
	}

	parent.IsCurrentVersion = false
	parent.UpdatedAt = p.clock.Now()
	if err := p.put(ctx, parent); err != nil {
		return nil, err
	}
	return record, nil
}

// ListVersions returns the full version chain for baseID, ascending.
func (p *Plane) ListVersions(ctx context.Context, baseID, tenantID string) ([]*Record, error) {
	records, err := p.List(ctx, tenantID, Filter{})
	if err != nil {
		return nil, err
	}
	var chain []*Record
	for _, r := range records {
		if r.BaseID == baseID {
			chain = append(chain, r)
		}
	}
	sort.Slice(chain, func(i, j int) bool { return chain[i].Version < chain[j].Version })
	return chain, nil
}

// Dependencies returns the artifact's upstream source ids.
func (p *Plane) Dependencies(ctx context.Context, artifactID, tenantID string) ([]string, error) {
	record, err := p.getRecord(ctx, tenantID, artifactID)
	if err != nil {
		return nil, err
	}
	return record.SourceArtifacts, nil
}

// ValidateDependencies checks every upstream id exists and, when asked,
// collects reverse dependents.
func (p *Plane) ValidateDependencies(ctx context.Context, artifactID, tenantID string, includeReverse bool) (missing, dependents []string, err error) {
	record, err := p.getRecord(ctx, tenantID, artifactID)
	if err != nil {
		return nil, nil, err
	}

	for _, src := range record.SourceArtifacts {
		if _, err := p.getRecord(ctx, tenantID, src); err != nil {
			if fault.IsKind(err, fault.KindNotFound) {
				missing = append(missing, src)
				continue
			}
			return nil, nil, err
		}
	}

	if includeReverse {
		dependents, err = p.reverseDependents(ctx, tenantID, artifactID)
		if err != nil {
			return nil, nil, err
		}
	}
	return missing, dependents, nil
}

// Delete removes the registry entry and payload blob. Artifacts with
// reverse dependents refuse deletion unless forced.
func (p *Plane) Delete(ctx context.Context, artifactID, tenantID string, force bool) error {
	record, err := p.getRecord(ctx, tenantID, artifactID)
	if err != nil {
		return err
	}

	if !force {
		dependents, err := p.reverseDependents(ctx, tenantID, artifactID)
		if err != nil {
			return err
		}
		if len(dependents) > 0 {
			return fault.LifecycleViolation("artifact %s has dependents %v; delete requires force", artifactID, dependents)
		}
	}

	if err := p.registry.Delete(ctx, state.ArtifactKey(tenantID, artifactID)); err != nil {
		return fault.BackendUnavailable("artifact-plane", err)
	}
	if err := p.cas.Delete(ctx, tenantID, record.Digest); err != nil {
		p.logger.WarnContext(ctx, "registry entry removed but blob delete failed", "artifact_id", artifactID, "error", err)
	}
	return nil
}

// RegisterLineage appends executionID to the artifact's advisory lineage.
// The WAL and source artifact ids remain the authoritative record.
func (p *Plane) RegisterLineage(ctx context.Context, artifactID, tenantID, executionID string) error {
	record, err := p.getRecord(ctx, tenantID, artifactID)
	if err != nil {
		return err
	}
	for _, id := range record.Lineage {
		if id == executionID {
			return nil
		}
	}
	record.Lineage = append(record.Lineage, executionID)
	record.UpdatedAt = p.clock.Now()
	return p.put(ctx, record)
}

func (p *Plane) getRecord(ctx context.Context, tenantID, artifactID string) (*Record, error) {
	doc, err := p.registry.Get(ctx, state.ArtifactKey(tenantID, artifactID))
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, fault.NotFound("artifact-plane", "artifact %s not found for tenant %s", artifactID, tenantID)
	}
	if err != nil {
		return nil, fault.BackendUnavailable("artifact-plane", err)
	}
	return recordFromDoc(doc)
}

func (p *Plane) put(ctx context.Context, record *Record) error {
	doc, err := record.toDoc()
	if err != nil {
		return err
	}
	if err := p.registry.Put(ctx, state.ArtifactKey(record.TenantID, record.ArtifactID), doc); err != nil {
		return fault.BackendUnavailable("artifact-plane", err)
	}
	return nil
}

func (p *Plane) reverseDependents(ctx context.Context, tenantID, artifactID string) ([]string, error) {
	records, err := p.List(ctx, tenantID, Filter{})
	if err != nil {
		return nil, err
	}
	var dependents []string
	for _, r := range records {
		for _, src := range r.SourceArtifacts {
			if src == artifactID {
				dependents = append(dependents, r.ArtifactID)
				break
			}
		}
	}
	return dependents, nil
}

// validateSources checks every upstream id exists and that following the
// dependency edges never revisits a node. New artifacts cannot be their
// own ancestor, so a cycle here means the existing graph is corrupt —
// reject rather than extend it.
func (p *Plane) validateSources(ctx context.Context, tenantID string, sources []string) error {
	for _, src := range sources {
		if _, err := p.getRecord(ctx, tenantID, src); err != nil {
			if fault.IsKind(err, fault.KindNotFound) {
				return fault.Validation("source artifact %s does not exist", src)
			}
			return err
		}
	}

	visited := make(map[string]bool)
	var walk func(id string, path map[string]bool) error
	walk = func(id string, path map[string]bool) error {
		if path[id] {
			return fault.Validation("dependency cycle detected at artifact %s", id)
		}
		if visited[id] {
			return nil
		}
		visited[id] = true
		path[id] = true
		record, err := p.getRecord(ctx, tenantID, id)
		if err != nil {
			if fault.IsKind(err, fault.KindNotFound) {
				delete(path, id)
				return nil
			}
			return err
		}
		for _, src := range record.SourceArtifacts {
			if err := walk(src, path); err != nil {
				return err
			}
		}
		delete(path, id)
		return nil
	}
	for _, src := range sources {
		if err := walk(src, map[string]bool{}); err != nil {
			return err
		}
	}
	return nil
}

func defaultState(s LifecycleState) LifecycleState {
	if s == "" {
		return StateDraft
	}
	return s
}

func defaultOwner(o Owner) Owner {
	if o == "" {
		return OwnerClient
	}
	return o
}

func defaultPurpose(p Purpose) Purpose {
	if p == "" {
		return PurposeDelivery
	}
	return p
}
