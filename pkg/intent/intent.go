// Package intent holds the fabric's unit of dispatch: the Intent model and
// factory, the handler registry, and the execution context handlers run in.
package intent

import (
	"time"

	"github.com/weftworks/weft/pkg/clock"
	"github.com/weftworks/weft/pkg/fault"
)

// Intent is a typed request to perform a named operation against a session.
// Immutable once created; the factory is the only constructor.
type Intent struct {
	IntentID       string                 `json:"intent_id"`
	IntentType     string                 `json:"intent_type"`
	TenantID       string                 `json:"tenant_id"`
	SessionID      string                 `json:"session_id"`
	SolutionID     string                 `json:"solution_id"`
	Parameters     map[string]interface{} `json:"parameters,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	IdempotencyKey string                 `json:"idempotency_key,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
}

// Spec carries the optional fields of New.
type Spec struct {
	IntentID       string
	Parameters     map[string]interface{}
	Metadata       map[string]interface{}
	IdempotencyKey string
	Clock          clock.Clock
}

// New validates the boundary fields and builds an Intent. The intent id is
// generated when absent; the idempotency key passes through verbatim.
// Parameters are never inspected here — their schema belongs to the realm.
func New(intentType, tenantID, sessionID, solutionID string, spec Spec) (*Intent, error) {
	switch {
	case intentType == "":
		return nil, fault.Validation("intent type is required")
	case tenantID == "":
		return nil, fault.Validation("tenant id is required")
	case sessionID == "":
		return nil, fault.Validation("session id is required")
	case solutionID == "":
		return nil, fault.Validation("solution id is required")
	}

	id := spec.IntentID
	if id == "" {
		id = clock.NewIntentID()
	}
	params := spec.Parameters
	if params == nil {
		params = map[string]interface{}{}
	}
	metadata := spec.Metadata
	if metadata == nil {
		metadata = map[string]interface{}{}
	}

	return &Intent{
		IntentID:       id,
		IntentType:     intentType,
		TenantID:       tenantID,
		SessionID:      sessionID,
		SolutionID:     solutionID,
		Parameters:     params,
		Metadata:       metadata,
		IdempotencyKey: spec.IdempotencyKey,
		CreatedAt:      spec.Clock.Now(),
	}, nil
}
