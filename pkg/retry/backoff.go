// Package retry holds the bounded backoff policy the state adapters use when
// a backend reports a transient failure. Jitter is deterministic so replayed
// executions observe the same retry schedule.
package retry

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"time"
)

// Params identify one retry decision; the same params always yield the same
// delay.
type Params struct {
	Component    string
	Operation    string
	Key          string
	AttemptIndex int
}

// Policy bounds the schedule. MaxAttempts counts the initial try.
type Policy struct {
	BaseMs      int64
	MaxMs       int64
	MaxJitterMs int64
	MaxAttempts int
}

// DefaultPolicy suits hot/durable backend calls: 3 tries inside ~1s.
func DefaultPolicy() Policy {
	return Policy{BaseMs: 50, MaxMs: 400, MaxJitterMs: 50, MaxAttempts: 3}
}

// Backoff returns the delay before attempt AttemptIndex (0-based; attempt 0
// has no delay) using exponential growth and deterministic jitter.
func Backoff(params Params, policy Policy) time.Duration {
	if params.AttemptIndex <= 0 {
		return 0
	}

	factor := int64(1)
	if params.AttemptIndex > 30 {
		factor = 1 << 30
	} else {
		factor = 1 << params.AttemptIndex
	}

	delay := policy.BaseMs * factor
	if delay > policy.MaxMs {
		delay = policy.MaxMs
	}

	return time.Duration(delay+jitter(params, policy)) * time.Millisecond
}

func jitter(params Params, policy Policy) int64 {
	if policy.MaxJitterMs == 0 {
		return 0
	}

	seed := fmt.Sprintf("%s:%s:%s:%d",
		params.Component,
		params.Operation,
		params.Key,
		params.AttemptIndex,
	)
	hash := sha256.Sum256([]byte(seed))
	basis := binary.BigEndian.Uint64(hash[:8])

	return int64(basis % uint64(policy.MaxJitterMs)) //nolint:gosec // MaxJitterMs is always positive
}

// Do runs fn up to policy.MaxAttempts times, sleeping the computed backoff
// between attempts and honoring ctx cancellation. The last error is returned
// when every attempt fails.
func Do(ctx context.Context, params Params, policy Policy, fn func() error) error {
	attempts := policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var last error
	for i := 0; i < attempts; i++ {
		params.AttemptIndex = i
		if delay := Backoff(params, policy); delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		if last = fn(); last == nil {
			return nil
		}
		if ctx.Err() != nil {
			return last
		}
	}
	return last
}
