package artifacts

import (
	"encoding/json"
	"time"

	"github.com/weftworks/weft/pkg/fault"
)

// Artifact types the platform's realms produce. The set is open; these are
// the well-known ones.
const (
	TypeRoadmap         = "roadmap"
	TypeBlueprint       = "blueprint"
	TypeSOP             = "sop"
	TypeWorkflow        = "workflow"
	TypeSolution        = "solution"
	TypePOC             = "poc"
	TypeSemanticProfile = "semantic-profile"
	TypeParsedContent   = "parsed-content"
	TypeFile            = "file"
)

// LifecycleState is an artifact's governance state.
type LifecycleState string

const (
	StateDraft    LifecycleState = "draft"
	StateAccepted LifecycleState = "accepted"
	StateObsolete LifecycleState = "obsolete"
)

// allowedTransitions is the lifecycle graph: draft → accepted → obsolete,
// obsolete terminal. Same-state transitions are handled as idempotent
// before this table is consulted.
var allowedTransitions = map[LifecycleState][]LifecycleState{
	StateDraft:    {StateAccepted, StateObsolete},
	StateAccepted: {StateObsolete},
	StateObsolete: {},
}

func transitionAllowed(from, to LifecycleState) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Owner says who the artifact belongs to.
type Owner string

const (
	OwnerClient   Owner = "client"
	OwnerPlatform Owner = "platform"
	OwnerShared   Owner = "shared"
)

// Purpose classifies why the artifact exists.
type Purpose string

const (
	PurposeDecisionSupport Purpose = "decision-support"
	PurposeDelivery        Purpose = "delivery"
	PurposeGovernance      Purpose = "governance"
	PurposeLearning        Purpose = "learning"
)

// Transition is one lifecycle state change.
type Transition struct {
	From   LifecycleState `json:"from"`
	To     LifecycleState `json:"to"`
	At     time.Time      `json:"at"`
	Actor  string         `json:"actor"`
	Reason string         `json:"reason,omitempty"`
}

// Record is the registry entry for one artifact version. The payload lives
// in the CAS at StoragePath; the record carries everything else.
type Record struct {
	ArtifactID   string `json:"artifact_id"`
	ArtifactType string `json:"artifact_type"`
	// BaseID names the version chain; v1 records are their own base.
	BaseID      string `json:"base_id"`
	TenantID    string `json:"tenant_id"`
	SessionID   string `json:"session_id,omitempty"`
	SolutionID  string `json:"solution_id,omitempty"`
	Realm       string `json:"realm,omitempty"`
	IntentType  string `json:"intent_type,omitempty"`
	IntentID    string `json:"intent_id,omitempty"`
	ExecutionID string `json:"execution_id,omitempty"`

	StoragePath string            `json:"storage_path"`
	Digest      string            `json:"digest"`
	VisualPaths map[string]string `json:"visual_paths,omitempty"`

	Regenerable bool                   `json:"regenerable"`
	Retention   string                 `json:"retention,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`

	LifecycleState LifecycleState `json:"lifecycle_state"`
	Owner          Owner          `json:"owner"`
	Purpose        Purpose        `json:"purpose"`
	Transitions    []Transition   `json:"transitions,omitempty"`

	Version          int      `json:"version"`
	ParentArtifactID string   `json:"parent_artifact_id,omitempty"`
	IsCurrentVersion bool     `json:"is_current_version"`
	SourceArtifacts  []string `json:"source_artifact_ids,omitempty"`
	// Lineage is the advisory list of execution ids that touched this
	// artifact; the WAL plus SourceArtifacts stay authoritative.
	Lineage []string `json:"lineage,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// toDoc converts a record to the durable tier's document shape.
func (r *Record) toDoc() (map[string]interface{}, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return nil, fault.Validation("artifact record not serializable: %v", err)
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fault.Validation("artifact record not serializable: %v", err)
	}
	return doc, nil
}

func recordFromDoc(doc map[string]interface{}) (*Record, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fault.BackendUnavailable("artifact-plane", err)
	}
	var r Record
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fault.BackendUnavailable("artifact-plane", err)
	}
	return &r, nil
}
