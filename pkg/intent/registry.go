package intent

import (
	"sort"
	"sync"

	"github.com/weftworks/weft/pkg/fault"
)

// Binding ties an intent type to one invocable handler.
type Binding struct {
	IntentType  string
	RealmName   string
	HandlerName string
	Handler     HandlerFunc
}

// Registry maps intent type to an ordered handler list. Multiple handlers
// for one type fan out in registration order. Read-mostly after startup;
// registration also happens at hot-reload, so lookups take the read lock.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string][]Binding
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string][]Binding)}
}

// Register appends a binding for intentType. Order of registration is order
// of invocation.
func (r *Registry) Register(intentType, realmName, handlerName string, handler HandlerFunc) error {
	if intentType == "" {
		return fault.Validation("intent type is required")
	}
	if handler == nil {
		return fault.Validation("handler for %q is nil", intentType)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[intentType] = append(r.handlers[intentType], Binding{
		IntentType:  intentType,
		RealmName:   realmName,
		HandlerName: handlerName,
		Handler:     handler,
	})
	return nil
}

// Unregister removes every binding realmName declared for intentType.
func (r *Registry) Unregister(intentType, realmName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	bindings := r.handlers[intentType]
	kept := bindings[:0]
	for _, b := range bindings {
		if b.RealmName != realmName {
			kept = append(kept, b)
		}
	}
	if len(kept) == 0 {
		delete(r.handlers, intentType)
		return
	}
	r.handlers[intentType] = kept
}

// Handlers returns the bindings for intentType in registration order.
func (r *Registry) Handlers(intentType string) []Binding {
	r.mu.RLock()
	defer r.mu.RUnlock()
	bindings := r.handlers[intentType]
	out := make([]Binding, len(bindings))
	copy(out, bindings)
	return out
}

// Intents returns every registered intent type, sorted.
func (r *Registry) Intents() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
