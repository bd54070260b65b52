// Package steward is the Data Steward: it decides, at acceptance time,
// which boundary contract an execution runs under. Contract rules are CEL
// expressions evaluated against the intent and its session; a per-tenant
// rate limiter enforces the acceptance quota. Assignment is idempotent per
// intent id.
package steward

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"golang.org/x/time/rate"

	"github.com/weftworks/weft/pkg/clock"
	"github.com/weftworks/weft/pkg/fault"
	"github.com/weftworks/weft/pkg/intent"
	"github.com/weftworks/weft/pkg/state"
)

// Rule binds a CEL predicate to the contract its match assigns. Rules are
// evaluated in registration order; the first match wins.
type Rule struct {
	Name string
	// Expr is a CEL boolean over `intent` (dyn), `session` (dyn), and
	// `tenant` (string). Linted at registration: no float literals, no
	// now(), no map iteration.
	Expr            string
	Materialization intent.Materialization
	Retention       time.Duration
	Visibility      string
}

// Options tune a Steward at construction.
type Options struct {
	// QuotaPerSecond caps intent acceptance per tenant; zero means 50.
	QuotaPerSecond float64
	// QuotaBurst is the limiter burst; zero means twice the rate.
	QuotaBurst int
	Clock      clock.Clock
}

// Steward evaluates contract rules and acceptance quotas. Programs are
// compiled once per expression and cached; evaluation is cost-limited so a
// pathological rule cannot stall acceptance.
type Steward struct {
	env    *cel.Env
	opts   Options
	clock  clock.Clock
	logger *slog.Logger

	mu       sync.RWMutex
	rules    []Rule
	programs map[string]cel.Program
	assigned map[string]*intent.BoundaryContract
	limiters map[string]*rate.Limiter
}

// New builds a Steward with an empty rule set; the default contract is
// ephemeral materialization.
func New(opts Options) (*Steward, error) {
	env, err := cel.NewEnv(
		cel.Variable("intent", cel.DynType),
		cel.Variable("session", cel.DynType),
		cel.Variable("tenant", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("steward: cel environment: %w", err)
	}
	if opts.QuotaPerSecond == 0 {
		opts.QuotaPerSecond = 50
	}
	if opts.QuotaBurst == 0 {
		opts.QuotaBurst = int(opts.QuotaPerSecond * 2)
	}
	return &Steward{
		env:      env,
		opts:     opts,
		clock:    opts.Clock,
		logger:   slog.Default().With("component", "data-steward"),
		programs: make(map[string]cel.Program),
		assigned: make(map[string]*intent.BoundaryContract),
		limiters: make(map[string]*rate.Limiter),
	}, nil
}

// RegisterRule lints, compiles, and appends r. A rule that fails the
// determinism lint or does not compile is rejected whole; no partial
// registration.
func (s *Steward) RegisterRule(r Rule) error {
	if r.Name == "" {
		return fault.Validation("contract rule name is required")
	}
	if r.Expr == "" {
		return fault.Validation("contract rule %q has no expression", r.Name)
	}
	if issues := lint(s.env, r.Expr); len(issues) > 0 {
		return fault.Validation("contract rule %q rejected: %s", r.Name, issues[0])
	}
	prg, err := s.compile(r.Expr)
	if err != nil {
		return fault.Validation("contract rule %q does not compile: %v", r.Name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = append(s.rules, r)
	s.programs[r.Expr] = prg
	return nil
}

// Assign resolves the boundary contract for in. Repeat calls for the same
// intent id return the first assignment unchanged. A persistent contract
// needs a real tenant; matching one from the anonymous namespace is a
// contract failure, not a validation error.
func (s *Steward) Assign(ctx context.Context, in *intent.Intent, session map[string]interface{}) (*intent.BoundaryContract, error) {
	s.mu.RLock()
	if c, ok := s.assigned[in.IntentID]; ok {
		s.mu.RUnlock()
		return c, nil
	}
	s.mu.RUnlock()

	if !s.limiter(in.TenantID).Allow() {
		return nil, fault.Authorization("data-steward", "tenant %q acceptance quota exceeded", in.TenantID)
	}

	rule, matched, err := s.match(ctx, in, session)
	if err != nil {
		return nil, err
	}

	contract := &intent.BoundaryContract{
		IntentID:        in.IntentID,
		Materialization: intent.MaterializeEphemeral,
		AssignedAt:      s.clock.Now(),
	}
	if matched {
		contract.Materialization = rule.Materialization
		contract.Retention = rule.Retention
		contract.Visibility = rule.Visibility
		if contract.Materialization == "" {
			contract.Materialization = intent.MaterializeEphemeral
		}
		if contract.Materialization == intent.MaterializePersist && in.TenantID == state.AnonTenant {
			return nil, &fault.Error{
				Kind:      fault.KindContract,
				Component: "data-steward",
				Message:   fmt.Sprintf("%s: contract rule %q requires a tenant and the session is anonymous", fault.ContractMarker, rule.Name),
			}
		}
	}

	s.mu.Lock()
	if prior, ok := s.assigned[in.IntentID]; ok {
		s.mu.Unlock()
		return prior, nil
	}
	s.assigned[in.IntentID] = contract
	s.mu.Unlock()

	s.logger.DebugContext(ctx, "contract assigned",
		"intent_id", in.IntentID,
		"materialization", contract.Materialization,
		"matched", matched)
	return contract, nil
}

// Assigned returns the contract previously assigned to intentID, if any.
func (s *Steward) Assigned(intentID string) (*intent.BoundaryContract, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.assigned[intentID]
	return c, ok
}

// match evaluates rules in order and returns the first whose predicate
// holds.
func (s *Steward) match(ctx context.Context, in *intent.Intent, session map[string]interface{}) (Rule, bool, error) {
	s.mu.RLock()
	rules := make([]Rule, len(s.rules))
	copy(rules, s.rules)
	s.mu.RUnlock()

	if session == nil {
		session = map[string]interface{}{}
	}
	input := map[string]any{
		"tenant": in.TenantID,
		"intent": map[string]any{
			"intent_id":   in.IntentID,
			"intent_type": in.IntentType,
			"session_id":  in.SessionID,
			"solution_id": in.SolutionID,
			"parameters":  in.Parameters,
			"metadata":    in.Metadata,
		},
		"session": session,
	}

	for _, r := range rules {
		if err := ctx.Err(); err != nil {
			return Rule{}, false, err
		}
		s.mu.RLock()
		prg := s.programs[r.Expr]
		s.mu.RUnlock()
		out, _, err := prg.Eval(input)
		if err != nil {
			return Rule{}, false, fault.Validation("contract rule %q evaluation failed: %v", r.Name, err)
		}
		hold, ok := out.Value().(bool)
		if !ok {
			return Rule{}, false, fault.Validation("contract rule %q did not yield a boolean", r.Name)
		}
		if hold {
			return r, true, nil
		}
	}
	return Rule{}, false, nil
}

func (s *Steward) compile(expr string) (cel.Program, error) {
	ast, issues := s.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, issues.Err()
	}
	return s.env.Program(ast,
		cel.InterruptCheckFrequency(100),
		cel.CostLimit(10000),
	)
}

func (s *Steward) limiter(tenantID string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.limiters[tenantID]
	if !ok {
		l = rate.NewLimiter(rate.Limit(s.opts.QuotaPerSecond), s.opts.QuotaBurst)
		s.limiters[tenantID] = l
	}
	return l
}
