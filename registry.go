package quarry

import (
	"sync"
)

// ModelRegistry holds the descriptors of every record type the core can
// serve. Registration happens at startup; lookups are concurrent.
type ModelRegistry struct {
	mu     sync.RWMutex
	models map[string]*ModelDescriptor
}

// NewModelRegistry creates an empty registry.
func NewModelRegistry() *ModelRegistry {
	return &ModelRegistry{models: make(map[string]*ModelDescriptor)}
}

// Register adds or replaces a model descriptor.
func (r *ModelRegistry) Register(model *ModelDescriptor) error {
	if model == nil {
		return NewValidationError("model", "model descriptor cannot be nil")
	}
	if model.Name == "" {
		return NewValidationError("model.name", "model name cannot be empty")
	}
	if model.Table == "" {
		return NewValidationError("model.table", "model table cannot be empty")
	}
	if model.IDColumn == "" {
		return NewValidationError("model.id_column", "model id column cannot be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.models[model.Name] = model
	return nil
}

// Get resolves a model by name.
func (r *ModelRegistry) Get(name string) (*ModelDescriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	model, ok := r.models[name]
	if !ok {
		return nil, NewModelNotFoundError(name)
	}
	return model, nil
}

// Names returns the registered model names.
func (r *ModelRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.models))
	for name := range r.models {
		names = append(names, name)
	}
	return names
}
