package executor

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"

	"github.com/weftworks/weft/pkg/fault"
	"github.com/weftworks/weft/pkg/state"
)

// StatusView is the retrieval shape for one execution. Artifacts hold
// reference ids, or inlined materializations when requested.
type StatusView struct {
	ExecutionID string                 `json:"execution_id"`
	IntentID    string                 `json:"intent_id"`
	Status      string                 `json:"status"`
	Artifacts   map[string]interface{} `json:"artifacts,omitempty"`
	Events      []interface{}          `json:"events,omitempty"`
	Error       string                 `json:"error,omitempty"`
}

// Status reads an execution record and optionally resolves its artifact
// references. Visual bytes inline base64 only when includeVisuals is set;
// otherwise the view carries storage paths.
func (e *Executor) Status(ctx context.Context, tenantID, executionID string, includeArtifacts, includeVisuals bool) (*StatusView, error) {
	record, err := e.deps.Surface.GetExecutionState(ctx, tenantID, executionID)
	if errors.Is(err, state.ErrNotFound) {
		return nil, fault.NotFound("executor", "execution %q not found", executionID)
	}
	if err != nil {
		return nil, err
	}

	view := &StatusView{
		ExecutionID: executionID,
		IntentID:    str(record["intent_id"]),
		Status:      str(record["status"]),
		Error:       str(record["error"]),
	}
	if events, ok := record["events"].([]interface{}); ok {
		view.Events = events
	}

	refs, _ := record["artifacts"].(map[string]interface{})
	if len(refs) == 0 {
		return view, nil
	}
	if !includeArtifacts {
		view.Artifacts = refs
		return view, nil
	}

	view.Artifacts = make(map[string]interface{}, len(refs))
	for name, ref := range refs {
		id, ok := ref.(string)
		if !ok {
			view.Artifacts[name] = ref
			continue
		}
		resolved, err := e.resolveArtifact(ctx, tenantID, id, includeVisuals)
		if err != nil {
			return nil, err
		}
		view.Artifacts[name] = resolved
	}
	return view, nil
}

// List returns the tenant's recent execution records.
func (e *Executor) List(ctx context.Context, tenantID string) ([]map[string]interface{}, error) {
	if tenantID == "" {
		return nil, fault.Validation("tenant id is required")
	}
	return e.deps.Surface.ListExecutions(ctx, tenantID)
}

func (e *Executor) resolveArtifact(ctx context.Context, tenantID, artifactID string, includeVisuals bool) (map[string]interface{}, error) {
	got, err := e.deps.Plane.Get(ctx, artifactID, tenantID, true, includeVisuals)
	if err != nil {
		return nil, err
	}

	inline := map[string]interface{}{
		"artifact_id": artifactID,
		"payload":     decodePayload(got.Payload),
	}
	if got.Registry != nil {
		inline["artifact_type"] = got.Registry.ArtifactType
		inline["lifecycle_state"] = string(got.Registry.LifecycleState)
		inline["version"] = got.Registry.Version
		if len(got.Registry.VisualPaths) > 0 && !includeVisuals {
			inline["visual_paths"] = got.Registry.VisualPaths
		}
	}
	if includeVisuals && len(got.Visuals) > 0 {
		visuals := make(map[string]interface{}, len(got.Visuals))
		for name, data := range got.Visuals {
			visuals[name] = base64.StdEncoding.EncodeToString(data)
		}
		inline["visuals"] = visuals
	}
	return inline, nil
}

// decodePayload re-inflates canonical JSON payloads; anything else comes
// back base64 so the view stays JSON-safe.
func decodePayload(payload []byte) interface{} {
	if len(payload) == 0 {
		return nil
	}
	var v interface{}
	if err := json.Unmarshal(payload, &v); err == nil {
		return v
	}
	return base64.StdEncoding.EncodeToString(payload)
}

func str(v interface{}) string {
	s, _ := v.(string)
	return s
}
