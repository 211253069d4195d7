package datastore

import (
	"fmt"
	"sort"
	"sync"
)

type typeInfo struct {
	name       string
	newFn      func() Entity
	archivable bool
	softDelete SoftDelete
}

// Schema holds the registered entity types. Register every type once at
// startup; lookups are safe for concurrent use afterwards.
type Schema struct {
	mu    sync.RWMutex
	types map[string]*typeInfo
}

// NewSchema creates an empty Schema.
func NewSchema() *Schema {
	return &Schema{types: make(map[string]*typeInfo)}
}

// Type is a typed handle to a registered entity type.
type Type[E Entity] struct {
	schema *Schema
	info   *typeInfo
}

// Register adds an entity type. name must equal E's EntityType().
func Register[E Entity](s *Schema, name string, newFn func() E) Type[E] {
	info := &typeInfo{
		name:       name,
		newFn:      func() Entity { return newFn() },
		softDelete: DefaultSoftDelete(),
	}
	s.mu.Lock()
	s.types[name] = info
	s.mu.Unlock()
	return Type[E]{schema: s, info: info}
}

// Archivable enables the implicit "exclude archived" filter for the type.
// Without an accessor the SoftDeleter methods are used.
func (t Type[E]) Archivable(acc ...SoftDelete) Type[E] {
	t.schema.mu.Lock()
	defer t.schema.mu.Unlock()
	t.info.archivable = true
	if len(acc) > 0 {
		t.info.softDelete = acc[0]
	}
	return t
}

// Name returns the registered type name.
func (t Type[E]) Name() string { return t.info.name }

// New returns a fresh zero entity.
func (t Type[E]) New() E { return t.info.newFn().(E) }

// Schema returns the schema the type is registered on.
func (t Type[E]) Schema() *Schema { return t.schema }

func (s *Schema) lookup(name string) (*typeInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info, ok := s.types[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, name)
	}
	return info, nil
}

// New returns a fresh zero entity of the named type.
func (s *Schema) New(name string) (Entity, error) {
	info, err := s.lookup(name)
	if err != nil {
		return nil, err
	}
	return info.newFn(), nil
}

// Has reports whether the named type is registered.
func (s *Schema) Has(name string) bool {
	_, err := s.lookup(name)
	return err == nil
}

// Names returns the registered type names, sorted.
func (s *Schema) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.types))
	for n := range s.types {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// SoftDelete returns the archive accessor of an archivable type.
// ok is false for unknown or non-archivable types.
func (s *Schema) SoftDelete(name string) (SoftDelete, bool) {
	info, err := s.lookup(name)
	if err != nil || !info.archivable {
		return SoftDelete{}, false
	}
	return info.softDelete, true
}

// Archived returns the predicate stores use for the implicit archived
// filter, or nil when the type is not archivable.
func (s *Schema) Archived(name string) func(any) bool {
	sd, ok := s.SoftDelete(name)
	if !ok {
		return nil
	}
	return func(v any) bool {
		e, ok := v.(Entity)
		return ok && sd.Get(e) > 0
	}
}
