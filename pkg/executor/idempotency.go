package executor

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/weftworks/weft/pkg/fault"
	"github.com/weftworks/weft/pkg/state"
	"github.com/weftworks/weft/pkg/state/hotkv"
)

// Idempotency stores completed execution results keyed by
// `idem:<tenant>:<intent type>:<key>` so a repeated submission replays the
// original result without touching handlers.
type Idempotency struct {
	store hotkv.Store
	ttl   time.Duration
}

// IdempotencyOptions tune the store; zero TTL means 24h.
type IdempotencyOptions struct {
	UseMemory bool
	TTL       time.Duration
}

func NewIdempotency(store hotkv.Store, opts IdempotencyOptions) (*Idempotency, error) {
	if store == nil {
		if !opts.UseMemory {
			return nil, fault.NotWired("idempotency store", "hot key/value backend")
		}
		store = hotkv.NewMemoryStore()
	}
	if opts.TTL == 0 {
		opts.TTL = 24 * time.Hour
	}
	return &Idempotency{store: store, ttl: opts.TTL}, nil
}

// Lookup returns the stored result for (tenant, intentType, key), or nil
// when none exists.
func (i *Idempotency) Lookup(ctx context.Context, tenantID, intentType, key string) (*ExecutionResult, error) {
	raw, err := i.store.Get(ctx, state.IdempotencyKey(tenantID, intentType, key))
	if errors.Is(err, hotkv.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fault.BackendUnavailable("idempotency store", err)
	}
	var result ExecutionResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fault.BackendUnavailable("idempotency store", err)
	}
	return &result, nil
}

// Record stores result under (tenant, intentType, key).
func (i *Idempotency) Record(ctx context.Context, tenantID, intentType, key string, result *ExecutionResult) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return fault.Validation("execution result not serializable: %v", err)
	}
	if err := i.store.Set(ctx, state.IdempotencyKey(tenantID, intentType, key), raw, i.ttl); err != nil {
		return fault.BackendUnavailable("idempotency store", err)
	}
	return nil
}
