package intent

import (
	"context"
	"time"

	"github.com/weftworks/weft/pkg/clock"
	"github.com/weftworks/weft/pkg/state"
)

// Materialization says whether an execution's outputs persist.
type Materialization string

const (
	MaterializePersist   Materialization = "persist"
	MaterializeEphemeral Materialization = "ephemeral"
)

// BoundaryContract is the materialization and retention policy the Data
// Steward attaches to an execution at accept-time.
type BoundaryContract struct {
	IntentID        string          `json:"intent_id"`
	Materialization Materialization `json:"materialization"`
	Retention       time.Duration   `json:"retention,omitempty"`
	Visibility      string          `json:"visibility,omitempty"` // client | platform | shared
	AssignedAt      time.Time       `json:"assigned_at"`
}

// Persist reports whether outputs under this contract are durable. A nil
// contract means ephemeral.
func (c *BoundaryContract) Persist() bool {
	return c != nil && c.Materialization == MaterializePersist
}

// ExecutionContext is what a realm handler sees: the identities of the run,
// a state surface handle, a clock, and the boundary contract. Handlers
// describe changes through their Result; they never mutate the context or
// the intent.
type ExecutionContext struct {
	ExecutionID string
	TenantID    string
	SessionID   string
	SolutionID  string
	Intent      *Intent
	Contract    *BoundaryContract
	State       *state.Surface
	Clock       clock.Clock
}

// Event is one realm-emitted event, destined for the outbox.
type Event struct {
	EventID   string                 `json:"event_id"`
	EventType string                 `json:"event_type"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// Result is what a handler returns: artifacts keyed by name (inline
// structured values, persisted by the lifecycle manager) and events for the
// outbox. Nil maps and slices read as empty.
type Result struct {
	Artifacts map[string]interface{} `json:"artifacts"`
	Events    []Event                `json:"events"`
}

// Normalize fills missing fields with empty defaults, per the realm
// contract.
func (r *Result) Normalize() *Result {
	if r == nil {
		return &Result{Artifacts: map[string]interface{}{}, Events: []Event{}}
	}
	if r.Artifacts == nil {
		r.Artifacts = map[string]interface{}{}
	}
	if r.Events == nil {
		r.Events = []Event{}
	}
	return r
}

// HandlerFunc is an invocable intent handler.
type HandlerFunc func(ctx context.Context, in *Intent, ec *ExecutionContext) (*Result, error)
