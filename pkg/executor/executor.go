// Package executor is the Execution Lifecycle Manager: it takes an accepted
// Intent through contract assignment, WAL logging, handler dispatch,
// artifact persistence, outbox buffering, and commit, and returns the
// execution's result. Synchronous rejections (validation, wiring, contract)
// never create an execution record; everything after the pending record is
// written resolves to a terminal execution.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/weftworks/weft/pkg/artifacts"
	"github.com/weftworks/weft/pkg/clock"
	"github.com/weftworks/weft/pkg/fault"
	"github.com/weftworks/weft/pkg/intent"
	"github.com/weftworks/weft/pkg/outbox"
	"github.com/weftworks/weft/pkg/session"
	"github.com/weftworks/weft/pkg/state"
	"github.com/weftworks/weft/pkg/steward"
	"github.com/weftworks/weft/pkg/wal"
)

// Status is an execution's lifecycle state. Transitions are monotonic:
// pending → running → one terminal state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// ExecutionResult is what execute returns and what the idempotency store
// replays.
type ExecutionResult struct {
	ExecutionID string                 `json:"execution_id"`
	IntentID    string                 `json:"intent_id"`
	Status      Status                 `json:"status"`
	Success     bool                   `json:"success"`
	Artifacts   map[string]interface{} `json:"artifacts,omitempty"`
	Events      []intent.Event         `json:"events,omitempty"`
	Error       string                 `json:"error,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	Replayed    bool                   `json:"replayed,omitempty"`
}

// Deps are the executor's collaborators. Registry, Surface, WAL, Outbox, and
// Plane are required; the rest are optional and their absence surfaces only
// when an operation needs them.
type Deps struct {
	Registry    *intent.Registry
	Schemas     *intent.SchemaSet
	Steward     *steward.Steward
	Surface     *state.Surface
	WAL         *wal.Log
	Outbox      *outbox.Outbox
	Plane       *artifacts.Plane
	Sessions    *session.Manager
	Publisher   outbox.Publisher
	Idempotency *Idempotency
}

// Options tune an Executor at construction.
type Options struct {
	Clock clock.Clock
	// HandlerTimeout bounds each handler invocation; zero means 60s.
	HandlerTimeout time.Duration
}

// Executor is the lifecycle manager.
type Executor struct {
	deps   Deps
	opts   Options
	clock  clock.Clock
	logger *slog.Logger
}

func New(deps Deps, opts Options) (*Executor, error) {
	if deps.Registry == nil {
		return nil, fault.NotWired("execution lifecycle manager", "intent registry")
	}
	if deps.Surface == nil {
		return nil, fault.NotWired("execution lifecycle manager", "state surface")
	}
	if deps.WAL == nil {
		return nil, fault.NotWired("execution lifecycle manager", "write-ahead log")
	}
	if deps.Outbox == nil {
		return nil, fault.NotWired("execution lifecycle manager", "transactional outbox")
	}
	if deps.Plane == nil {
		return nil, fault.NotWired("execution lifecycle manager", "artifact plane")
	}
	if opts.HandlerTimeout == 0 {
		opts.HandlerTimeout = 60 * time.Second
	}
	return &Executor{
		deps:   deps,
		opts:   opts,
		clock:  opts.Clock,
		logger: slog.Default().With("component", "executor"),
	}, nil
}

// Execute runs in to completion. A non-nil error means the submission was
// rejected synchronously and no execution exists; handler failures come back
// as a result with Success=false.
func (e *Executor) Execute(ctx context.Context, in *intent.Intent) (*ExecutionResult, error) {
	// 1. Validate and replay.
	if in == nil {
		return nil, fault.Validation("intent is required")
	}
	if in.TenantID == "" {
		return nil, fault.Validation("tenant id is required")
	}
	if in.IntentType == "" || in.SessionID == "" || in.SolutionID == "" {
		return nil, fault.Validation("intent type, session id, and solution id are required")
	}
	if e.deps.Schemas != nil {
		if err := e.deps.Schemas.Validate(in); err != nil {
			return nil, err
		}
	}
	if in.IdempotencyKey != "" {
		if e.deps.Idempotency == nil {
			return nil, fault.NotWired("execution lifecycle manager", "idempotency store")
		}
		prior, err := e.deps.Idempotency.Lookup(ctx, in.TenantID, in.IntentType, in.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		if prior != nil {
			replay := *prior
			replay.Replayed = true
			return &replay, nil
		}
	}

	// 2. Boundary contract. Every intent runs under one; an absent steward
	// is a wiring failure, not a default-allow.
	if e.deps.Steward == nil {
		return nil, fault.NotWired("execution lifecycle manager", "data steward")
	}
	sessionDoc, err := e.deps.Surface.GetSessionState(ctx, in.TenantID, in.SessionID)
	if err != nil {
		sessionDoc = nil // absent session is the steward's call to make
	}
	contract, err := e.deps.Steward.Assign(ctx, in, sessionDoc)
	if err != nil {
		return nil, err
	}

	// 3. WAL intent-received.
	e.walAppend(ctx, wal.EventIntentReceived, in.TenantID, map[string]interface{}{
		"intent_id":   in.IntentID,
		"intent_type": in.IntentType,
		"session_id":  in.SessionID,
		"solution_id": in.SolutionID,
	})

	// 4. Pending execution record.
	executionID := clock.NewExecutionID()
	run := &run{
		executionID: executionID,
		in:          in,
		contract:    contract,
		startedAt:   e.clock.Now(),
	}
	if err := e.writeRecord(ctx, run, StatusPending, nil, nil, ""); err != nil {
		return nil, err
	}

	// 5. WAL execution-started.
	e.walAppend(ctx, wal.EventExecutionStarted, in.TenantID, map[string]interface{}{
		"execution_id": executionID,
		"intent_id":    in.IntentID,
	})

	// 6. Dispatch.
	bindings := e.deps.Registry.Handlers(in.IntentType)
	if len(bindings) == 0 {
		return e.finish(ctx, run, nil, nil,
			fault.Validation("no handler registered for intent type %q", in.IntentType)), nil
	}
	_ = e.writeRecord(ctx, run, StatusRunning, nil, nil, "")

	merged := map[string]interface{}{}
	producedBy := map[string]string{}
	var events []intent.Event
	var execErr error

	for _, binding := range bindings {
		if ctx.Err() != nil {
			return e.cancel(ctx, run, events), nil
		}
		result, err := e.invoke(ctx, binding, in, run)
		if err != nil {
			// 9. WAL step-failed.
			e.walAppend(ctx, wal.EventStepFailed, in.TenantID, map[string]interface{}{
				"execution_id": executionID,
				"handler":      binding.HandlerName,
				"realm":        binding.RealmName,
				"error":        err.Error(),
			})
			execErr = fault.HandlerFailed(binding.RealmName, err)
			break
		}
		e.walAppend(ctx, wal.EventStepCompleted, in.TenantID, map[string]interface{}{
			"execution_id": executionID,
			"handler":      binding.HandlerName,
			"realm":        binding.RealmName,
		})

		// 7. Merge.
		result = result.Normalize()
		for name, value := range result.Artifacts {
			if _, dup := merged[name]; dup {
				e.logger.WarnContext(ctx, "duplicate artifact key across handlers, last writer wins",
					"execution_id", executionID, "artifact", name, "realm", binding.RealmName)
			}
			merged[name] = value
			producedBy[name] = binding.RealmName
		}
		events = append(events, result.Events...)
	}

	if ctx.Err() != nil && execErr == nil {
		return e.cancel(ctx, run, events), nil
	}

	// 7b. Persist artifacts, replacing inline values with reference ids.
	var refs map[string]interface{}
	if execErr == nil {
		refs, err = e.persistArtifacts(ctx, run, merged, producedBy)
		if err != nil {
			execErr = err
		}
	}

	// 8. Outbox append per realm-emitted event. All-or-nothing with the
	// execution outcome: a failed execution persists no artifacts, so
	// events from its earlier handlers, which describe those artifacts,
	// must not reach the bus either.
	if execErr == nil {
		for i := range events {
			if events[i].EventID == "" {
				events[i].EventID = clock.NewEventID()
			}
			if err := e.deps.Outbox.Append(ctx, executionID, events[i].EventID, events[i].EventType, events[i].Data); err != nil {
				execErr = err
				break
			}
		}
	}

	return e.finish(ctx, run, refs, events, execErr), nil
}

// run carries one execution's identity through the steps.
type run struct {
	executionID string
	in          *intent.Intent
	contract    *intent.BoundaryContract
	startedAt   time.Time
}

// invoke runs one handler with a fresh context and a panic guard.
func (e *Executor) invoke(ctx context.Context, binding intent.Binding, in *intent.Intent, r *run) (result *intent.Result, err error) {
	hctx, cancel := context.WithTimeout(ctx, e.opts.HandlerTimeout)
	defer cancel()
	defer func() {
		if rec := recover(); rec != nil {
			result = nil
			err = fmt.Errorf("handler panicked: %v", rec)
		}
	}()
	ec := &intent.ExecutionContext{
		ExecutionID: r.executionID,
		TenantID:    in.TenantID,
		SessionID:   in.SessionID,
		SolutionID:  in.SolutionID,
		Intent:      in,
		Contract:    r.contract,
		State:       e.deps.Surface,
		Clock:       e.clock,
	}
	return binding.Handler(hctx, in, ec)
}

// persistArtifacts writes each returned artifact through the Artifact Plane
// and returns name → artifact id references. A value shaped like an
// artifact description (a map carrying artifact_type) keeps its declared
// type, id, payload, metadata, and sources; anything else persists whole
// under its result key as the type.
func (e *Executor) persistArtifacts(ctx context.Context, r *run, merged map[string]interface{}, producedBy map[string]string) (map[string]interface{}, error) {
	refs := make(map[string]interface{}, len(merged))
	for name, value := range merged {
		spec := artifacts.CreateSpec{ArtifactType: name, Payload: value}
		if m, ok := value.(map[string]interface{}); ok {
			if at, ok := m["artifact_type"].(string); ok && at != "" {
				spec.ArtifactType = at
				spec.ArtifactID, _ = m["artifact_id"].(string)
				if payload, ok := m["payload"]; ok {
					spec.Payload = payload
				}
				if md, ok := m["metadata"].(map[string]interface{}); ok {
					spec.Metadata = md
				}
				spec.Sources = toStringSlice(m["sources"])
			}
		}
		if r.contract.Retention > 0 {
			spec.Retention = r.contract.Retention.String()
		}

		record, err := e.deps.Plane.Create(ctx, artifacts.CreateContext{
			TenantID:    r.in.TenantID,
			SessionID:   r.in.SessionID,
			SolutionID:  r.in.SolutionID,
			Realm:       producedBy[name],
			IntentType:  r.in.IntentType,
			IntentID:    r.in.IntentID,
			ExecutionID: r.executionID,
		}, spec)
		if err != nil {
			return nil, err
		}
		refs[name] = record.ArtifactID
	}
	return refs, nil
}

// finish commits the terminal state, WALs it, drains the outbox, and builds
// the result. execErr nil means success.
func (e *Executor) finish(ctx context.Context, r *run, refs map[string]interface{}, events []intent.Event, execErr error) *ExecutionResult {
	status := StatusSucceeded
	errMsg := ""
	if execErr != nil {
		status = StatusFailed
		errMsg = execErr.Error()
	}

	// 10. Commit execution record, bump session activity.
	if err := e.writeRecord(ctx, r, status, refs, events, errMsg); err != nil {
		e.logger.ErrorContext(ctx, "execution commit failed",
			"execution_id", r.executionID, "error", err)
	}
	if e.deps.Sessions != nil {
		e.deps.Sessions.TouchActivity(ctx, r.in.TenantID, r.in.SessionID)
	}

	// 11. WAL terminal event.
	if execErr == nil {
		e.walAppend(ctx, wal.EventExecutionCompleted, r.in.TenantID, map[string]interface{}{
			"execution_id": r.executionID,
			"intent_id":    r.in.IntentID,
			"artifacts":    len(refs),
		})
	} else {
		e.walAppend(ctx, wal.EventExecutionFailed, r.in.TenantID, map[string]interface{}{
			"execution_id": r.executionID,
			"intent_id":    r.in.IntentID,
			"error_kind":   string(fault.KindOf(execErr)),
			"error":        errMsg,
		})
	}

	// 12. Drain. Never fails the execution.
	e.drain(ctx, r.executionID)

	result := &ExecutionResult{
		ExecutionID: r.executionID,
		IntentID:    r.in.IntentID,
		Status:      status,
		Success:     execErr == nil,
		Artifacts:   refs,
		Events:      events,
		Error:       errMsg,
		Metadata: map[string]interface{}{
			"intent_type": r.in.IntentType,
			"started_at":  r.startedAt.Format(time.RFC3339),
			"finished_at": e.clock.Now().Format(time.RFC3339),
		},
	}

	if r.in.IdempotencyKey != "" && execErr == nil && e.deps.Idempotency != nil {
		if err := e.deps.Idempotency.Record(ctx, r.in.TenantID, r.in.IntentType, r.in.IdempotencyKey, result); err != nil {
			e.logger.WarnContext(ctx, "idempotency record failed",
				"execution_id", r.executionID, "error", err)
		}
	}
	return result
}

// cancel resolves a context-cancelled execution: status cancelled, WAL
// execution-failed with a cancelled reason, outbox still drained.
func (e *Executor) cancel(ctx context.Context, r *run, events []intent.Event) *ExecutionResult {
	// The inbound context is done; commit on a detached one.
	commitCtx, cancelFn := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancelFn()

	errMsg := "cancelled: " + ctx.Err().Error()
	if err := e.writeRecord(commitCtx, r, StatusCancelled, nil, events, errMsg); err != nil {
		e.logger.ErrorContext(commitCtx, "cancelled execution commit failed",
			"execution_id", r.executionID, "error", err)
	}
	e.walAppend(commitCtx, wal.EventExecutionFailed, r.in.TenantID, map[string]interface{}{
		"execution_id": r.executionID,
		"intent_id":    r.in.IntentID,
		"reason":       "cancelled",
		"error":        errMsg,
	})
	e.drain(commitCtx, r.executionID)

	return &ExecutionResult{
		ExecutionID: r.executionID,
		IntentID:    r.in.IntentID,
		Status:      StatusCancelled,
		Error:       errMsg,
	}
}

func (e *Executor) drain(ctx context.Context, executionID string) {
	if e.deps.Publisher == nil {
		return
	}
	if _, err := e.deps.Outbox.PublishEvents(ctx, executionID, e.deps.Publisher); err != nil {
		e.logger.WarnContext(ctx, "outbox drain failed, entries retained",
			"execution_id", executionID, "error", err)
	}
}

// writeRecord persists the execution record. Hot-only while the contract is
// ephemeral; tiered when it persists.
func (e *Executor) writeRecord(ctx context.Context, r *run, status Status, refs map[string]interface{}, events []intent.Event, errMsg string) error {
	if refs == nil {
		refs = map[string]interface{}{}
	}
	eventDocs := make([]interface{}, 0, len(events))
	for _, ev := range events {
		eventDocs = append(eventDocs, map[string]interface{}{
			"event_id":   ev.EventID,
			"event_type": ev.EventType,
			"data":       ev.Data,
		})
	}
	record := map[string]interface{}{
		"execution_id": r.executionID,
		"intent_id":    r.in.IntentID,
		"intent_type":  r.in.IntentType,
		"tenant_id":    r.in.TenantID,
		"session_id":   r.in.SessionID,
		"solution_id":  r.in.SolutionID,
		"status":       string(status),
		"artifacts":    refs,
		"events":       eventDocs,
		"error":        errMsg,
		"created_at":   r.startedAt.Format(time.RFC3339),
		"updated_at":   e.clock.Now().Format(time.RFC3339),
	}
	strategy := state.StrategyHot
	if r.contract.Persist() {
		strategy = state.StrategyTiered
	}
	return e.deps.Surface.SetExecutionState(ctx, r.in.TenantID, r.executionID, record, state.Meta{Strategy: strategy})
}

func (e *Executor) walAppend(ctx context.Context, eventType wal.EventType, tenantID string, payload map[string]interface{}) {
	if _, err := e.deps.WAL.Append(ctx, eventType, tenantID, payload); err != nil {
		e.logger.WarnContext(ctx, "wal append failed",
			"event_type", eventType, "error", err)
	}
}

func toStringSlice(v interface{}) []string {
	raw, ok := v.([]interface{})
	if !ok {
		if typed, ok := v.([]string); ok {
			return typed
		}
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
