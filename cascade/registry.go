package cascade

import (
	"github.com/jacentio/arbor/datastore"
	"github.com/jacentio/arbor/predicate"
)

// Relationship defines a parent-child ownership used for cascade operations.
type Relationship struct {
	// ParentType is the parent entity type (e.g., "studio").
	ParentType string

	// ChildType is the child entity type (e.g., "title").
	ChildType string

	// Dependents returns the filter selecting the children of parent.
	Dependents func(parent datastore.Entity) predicate.Expr
}

// Owns declares that childType entities belong to the parentType entity
// whose id equals field.
func Owns[C any](parentType, childType string, field predicate.Field[C]) Relationship {
	return Relationship{
		ParentType: parentType,
		ChildType:  childType,
		Dependents: func(parent datastore.Entity) predicate.Expr {
			return field.Eq(parent.EntityID()).Expr()
		},
	}
}

// Registry holds all known entity relationships for cascade operations.
type Registry struct {
	relationships []Relationship
	byParent      map[string][]Relationship
}

// NewRegistry creates a new empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		relationships: []Relationship{},
		byParent:      make(map[string][]Relationship),
	}
}

// Register adds a relationship to the registry.
// Call it once per parent-child pair while describing the model.
func (r *Registry) Register(rels ...Relationship) *Registry {
	for _, rel := range rels {
		r.relationships = append(r.relationships, rel)
		r.byParent[rel.ParentType] = append(r.byParent[rel.ParentType], rel)
	}
	return r
}

// ChildrenOf returns all child relationships for a given parent type.
func (r *Registry) ChildrenOf(parentType string) []Relationship {
	if r == nil {
		return nil
	}
	return r.byParent[parentType]
}

// AllRelationships returns all registered relationships.
func (r *Registry) AllRelationships() []Relationship {
	if r == nil {
		return nil
	}
	return r.relationships
}

// HasChildren returns true if the parent type has any registered child relationships.
func (r *Registry) HasChildren(parentType string) bool {
	return len(r.ChildrenOf(parentType)) > 0
}
