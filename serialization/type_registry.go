package serialization

import (
	"fmt"
	"reflect"
	"sort"
	"sync"
)

// TypeRegistry maps type names to Go types so encoded values can be decoded
// back into their original type
type TypeRegistry interface {
	// Register registers a type under a name
	Register(typeName string, sample any) error

	// RegisterType registers a type under its derived name
	RegisterType(sample any) (string, error)

	// Get retrieves the type for a given type name
	Get(typeName string) (reflect.Type, error)

	// CreateInstance creates a pointer to a new zero value of the registered type
	CreateInstance(typeName string) (any, error)

	// GetTypeName gets the registered type name for a value
	GetTypeName(value any) (string, error)

	// IsRegistered checks if a type is registered
	IsRegistered(typeName string) bool

	// ListTypes returns all registered type names
	ListTypes() []string
}

// DefaultTypeRegistry is the default implementation of TypeRegistry
type DefaultTypeRegistry struct {
	types map[string]reflect.Type
	names map[reflect.Type]string
	mu    sync.RWMutex
}

// NewTypeRegistry creates a new type registry
func NewTypeRegistry() *DefaultTypeRegistry {
	return &DefaultTypeRegistry{
		types: make(map[string]reflect.Type),
		names: make(map[reflect.Type]string),
	}
}

// TypeNameOf derives the registry name of a type. Named types use their package
// path, unnamed types their literal form.
func TypeNameOf(t reflect.Type) string {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Name() != "" && t.PkgPath() != "" {
		return t.PkgPath() + "." + t.Name()
	}
	return t.String()
}

// Register registers a type under a name
func (r *DefaultTypeRegistry) Register(typeName string, sample any) error {
	if typeName == "" {
		return fmt.Errorf("type name cannot be empty")
	}

	if sample == nil {
		return fmt.Errorf("sample value cannot be nil")
	}

	t := reflect.TypeOf(sample)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	switch t.Kind() {
	case reflect.Func, reflect.Chan, reflect.UnsafePointer, reflect.Interface:
		return fmt.Errorf("type %v cannot be encoded", t)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, exists := r.types[typeName]; exists {
		if existing == t {
			return nil
		}
		return fmt.Errorf("type name %s already registered to %v", typeName, existing)
	}

	r.types[typeName] = t
	r.names[t] = typeName

	return nil
}

// RegisterType registers a type under its derived name
func (r *DefaultTypeRegistry) RegisterType(sample any) (string, error) {
	if sample == nil {
		return "", fmt.Errorf("sample value cannot be nil")
	}

	typeName := TypeNameOf(reflect.TypeOf(sample))
	if err := r.Register(typeName, sample); err != nil {
		return "", err
	}
	return typeName, nil
}

// Get retrieves the type for a given type name
func (r *DefaultTypeRegistry) Get(typeName string) (reflect.Type, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, exists := r.types[typeName]
	if !exists {
		return nil, fmt.Errorf("type %s not registered", typeName)
	}

	return t, nil
}

// CreateInstance creates a pointer to a new zero value of the registered type
func (r *DefaultTypeRegistry) CreateInstance(typeName string) (any, error) {
	t, err := r.Get(typeName)
	if err != nil {
		return nil, err
	}

	return reflect.New(t).Interface(), nil
}

// GetTypeName gets the registered type name for a value
func (r *DefaultTypeRegistry) GetTypeName(value any) (string, error) {
	if value == nil {
		return "", fmt.Errorf("value cannot be nil")
	}

	t := reflect.TypeOf(value)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	name, exists := r.names[t]
	if !exists {
		return "", fmt.Errorf("type %v not registered", t)
	}

	return name, nil
}

// IsRegistered checks if a type is registered
func (r *DefaultTypeRegistry) IsRegistered(typeName string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.types[typeName]
	return exists
}

// ListTypes returns all registered type names in sorted order
func (r *DefaultTypeRegistry) ListTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.types))
	for typeName := range r.types {
		types = append(types, typeName)
	}
	sort.Strings(types)

	return types
}
