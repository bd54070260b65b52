package realm

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/weftworks/weft/pkg/fault"
	"github.com/weftworks/weft/pkg/intent"
)

// Registry tracks installed realms and keeps the intent registry and schema
// set in sync with their declarations. One realm per name; one realm may
// declare many intents and several realms may declare the same intent.
type Registry struct {
	mu      sync.RWMutex
	realms  map[string]Realm
	intents *intent.Registry
	schemas *intent.SchemaSet
	logger  *slog.Logger
}

func NewRegistry(intents *intent.Registry, schemas *intent.SchemaSet) *Registry {
	return &Registry{
		realms:  make(map[string]Realm),
		intents: intents,
		schemas: schemas,
		logger:  slog.Default().With("component", "realm-registry"),
	}
}

// SchemaDeclarer is implemented by realms that attach parameter schemas to
// their intents. Schemas are declared before the intent bindings land so a
// dispatch never races an unvalidated window.
type SchemaDeclarer interface {
	DeclareSchemas() map[string][]byte
}

// Register validates r and binds its declared intents. Re-registering an
// installed name is rejected; deregister first.
func (g *Registry) Register(r Realm) error {
	if err := Validate(r); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	name := r.Name()
	if _, exists := g.realms[name]; exists {
		return fault.Validation("realm %q is already registered", name)
	}

	if d, ok := r.(SchemaDeclarer); ok && g.schemas != nil {
		for intentType, raw := range d.DeclareSchemas() {
			if err := g.schemas.Declare(intentType, raw); err != nil {
				return err
			}
		}
	}

	for _, intentType := range r.DeclareIntents() {
		if err := g.intents.Register(intentType, name, name+"/handle-intent", r.HandleIntent); err != nil {
			for _, t := range r.DeclareIntents() {
				g.intents.Unregister(t, name)
			}
			return err
		}
	}

	g.realms[name] = r
	g.logger.Info("realm registered", "realm", name, "intents", r.DeclareIntents())
	return nil
}

// Deregister removes the named realm and unbinds every intent it declared.
func (g *Registry) Deregister(name string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, exists := g.realms[name]
	if !exists {
		return fault.NotFound("realm-registry", "realm %q is not registered", name)
	}
	for _, intentType := range r.DeclareIntents() {
		g.intents.Unregister(intentType, name)
	}
	delete(g.realms, name)
	g.logger.Info("realm deregistered", "realm", name)
	return nil
}

// Get returns the named realm.
func (g *Registry) Get(name string) (Realm, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	r, ok := g.realms[name]
	return r, ok
}

// Names returns installed realm names, sorted.
func (g *Registry) Names() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]string, 0, len(g.realms))
	for name := range g.realms {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
