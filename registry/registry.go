// Package registry provides a global node-type registry for workgraph.
// It maps type names to metadata (category, config keys) used by graph
// validation and the CLI.
package registry

import "sync"

// NodeTypeDef describes a registered node type.
type NodeTypeDef struct {
	Type        string      `json:"type"`
	Category    string      `json:"category"` // "control", "process", "test"
	DisplayName string      `json:"display_name"`
	Description string      `json:"description"`
	Config      []ConfigKey `json:"config,omitempty"`
}

// ConfigKey describes one key of a node's config map.
type ConfigKey struct {
	Name        string `json:"name"`
	Type        string `json:"type"` // "string", "duration", "array", "object"
	Required    bool   `json:"required"`
	Description string `json:"description,omitempty"`
}

// MissingConfig returns the required config keys absent from config.
func (d NodeTypeDef) MissingConfig(config map[string]any) []string {
	var missing []string
	for _, k := range d.Config {
		if !k.Required {
			continue
		}
		if _, ok := config[k.Name]; !ok {
			missing = append(missing, k.Name)
		}
	}
	return missing
}

var (
	global     *Registry
	globalOnce sync.Once
)

// Global returns the singleton registry instance. On first call it
// initializes the registry and auto-registers all built-in node types.
func Global() *Registry {
	globalOnce.Do(func() {
		global = New()
		registerBuiltins(global)
	})
	return global
}

// Registry holds all known node types.
type Registry struct {
	mu    sync.RWMutex
	types map[string]NodeTypeDef
	order []string // preserves registration order
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		types: make(map[string]NodeTypeDef),
	}
}

// Register adds a node type definition. If a type with the same name
// already exists it is overwritten.
func (r *Registry) Register(def NodeTypeDef) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.types[def.Type]; !exists {
		r.order = append(r.order, def.Type)
	}
	r.types[def.Type] = def
}

// Get returns a node type definition by type name.
func (r *Registry) Get(typeName string) (NodeTypeDef, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.types[typeName]
	return def, ok
}

// Has returns true if the type name is registered.
func (r *Registry) Has(typeName string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.types[typeName]
	return ok
}

// All returns all registered node types in registration order.
func (r *Registry) All() []NodeTypeDef {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]NodeTypeDef, 0, len(r.order))
	for _, name := range r.order {
		result = append(result, r.types[name])
	}
	return result
}

// Len returns the number of registered node types.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.types)
}
