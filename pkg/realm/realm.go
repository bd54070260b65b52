// Package realm defines the domain-handler contract: a Realm declares the
// intents it handles and implements their behavior. The registry validates
// realms on registration and binds their declared intents into the intent
// registry; realms are the only producers of artifacts and events.
package realm

import (
	"context"
	"errors"

	"github.com/Masterminds/semver/v3"

	"github.com/weftworks/weft/pkg/fault"
	"github.com/weftworks/weft/pkg/intent"
)

// Realm is a domain handler. Implementations must not mutate the Intent or
// the context's state directly; they return descriptions of changes.
type Realm interface {
	Name() string
	DeclareIntents() []string
	HandleIntent(ctx context.Context, in *intent.Intent, ec *intent.ExecutionContext) (*intent.Result, error)
}

// Manifest is the optional self-description a realm exposes through the
// Described interface. Version must be semantic.
type Manifest struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	Description string `json:"description,omitempty"`
}

// Described is implemented by realms that carry a manifest; the registry
// validates it on registration.
type Described interface {
	Manifest() Manifest
}

// ErrNotImplemented is what Base.HandleIntent returns. A realm that embeds
// Base without overriding HandleIntent fails its first dispatch with this,
// surfaced as a handler failure.
var ErrNotImplemented = errors.New("realm: handle-intent not implemented")

// Base is an embeddable default for realms that only customize part of the
// contract.
type Base struct{}

func (Base) DeclareIntents() []string { return nil }

func (Base) HandleIntent(context.Context, *intent.Intent, *intent.ExecutionContext) (*intent.Result, error) {
	return nil, ErrNotImplemented
}

// Validate enforces the registration contract: a name, at least one
// declared intent, and a semantic version when a manifest is exposed.
func Validate(r Realm) error {
	if r == nil {
		return fault.Validation("realm is nil")
	}
	if r.Name() == "" {
		return fault.Validation("realm name is required")
	}
	declared := r.DeclareIntents()
	if len(declared) == 0 {
		return fault.Validation("realm %q declares no intents", r.Name())
	}
	for _, t := range declared {
		if t == "" {
			return fault.Validation("realm %q declares an empty intent type", r.Name())
		}
	}
	if d, ok := r.(Described); ok {
		m := d.Manifest()
		if m.Version != "" {
			if _, err := semver.NewVersion(m.Version); err != nil {
				return fault.Validation("realm %q manifest version %q is not semver: %v", r.Name(), m.Version, err)
			}
		}
	}
	return nil
}
