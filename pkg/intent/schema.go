package intent

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/weftworks/weft/pkg/fault"
)

// SchemaSet holds the parameter schemas realms declare for their intents.
// Validation runs pre-dispatch; an intent type with no declared schema
// passes, because parameter shape is the realm's responsibility and a
// schema is how a realm chooses to exercise it.
type SchemaSet struct {
	mu      sync.RWMutex
	schemas map[string]*jsonschema.Schema
}

func NewSchemaSet() *SchemaSet {
	return &SchemaSet{schemas: make(map[string]*jsonschema.Schema)}
}

// Declare compiles rawSchema (JSON Schema document) for intentType.
func (s *SchemaSet) Declare(intentType string, rawSchema []byte) error {
	compiler := jsonschema.NewCompiler()
	url := "weft://intents/" + intentType + ".schema.json"
	if err := compiler.AddResource(url, strings.NewReader(string(rawSchema))); err != nil {
		return fault.Validation("schema for %q unreadable: %v", intentType, err)
	}
	schema, err := compiler.Compile(url)
	if err != nil {
		return fault.Validation("schema for %q does not compile: %v", intentType, err)
	}
	s.mu.Lock()
	s.schemas[intentType] = schema
	s.mu.Unlock()
	return nil
}

// Validate checks in.Parameters against the declared schema, if any.
func (s *SchemaSet) Validate(in *Intent) error {
	s.mu.RLock()
	schema := s.schemas[in.IntentType]
	s.mu.RUnlock()
	if schema == nil {
		return nil
	}

	// Round-trip through JSON so the instance matches what the schema
	// library expects (interface{} trees with float64 numbers).
	raw, err := json.Marshal(in.Parameters)
	if err != nil {
		return fault.Validation("parameters for %q not serializable: %v", in.IntentType, err)
	}
	var instance interface{}
	if err := json.Unmarshal(raw, &instance); err != nil {
		return fault.Validation("parameters for %q not serializable: %v", in.IntentType, err)
	}
	if err := schema.Validate(instance); err != nil {
		return fault.Validation("parameters for %q rejected: %v", in.IntentType, err)
	}
	return nil
}
