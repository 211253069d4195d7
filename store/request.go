package store

import (
	"github.com/jacentio/arbor/predicate"
	"github.com/jacentio/arbor/query"
)

// Command is any write request.
type Command interface {
	Invariants() []Invariant
}

// Identified is a write request that identifies the entity it targets.
// The identification is excluded from uniqueness checks.
type Identified[E any] interface {
	Command
	Identification() predicate.Predicate[E]
}

// Reader is any read request.
type Reader[E any] interface {
	QuerySpec() query.Spec[E]
	Strict() bool
	Invariants() []Invariant
}

// Create requests the insertion of a new entity.
type Create[E any] struct {
	Rules []Invariant
}

func (r Create[E]) Invariants() []Invariant { return r.Rules }

// Update requests the modification of an existing entity.
type Update[E any] struct {
	Identify predicate.Predicate[E]
	Rules    []Invariant
}

func (r Update[E]) Invariants() []Invariant                { return r.Rules }
func (r Update[E]) Identification() predicate.Predicate[E] { return r.Identify }

// Archive requests a cascading soft delete.
type Archive[E any] struct {
	Rules []Invariant
}

func (r Archive[E]) Invariants() []Invariant { return r.Rules }

// Restore requests the reversal of one archive cascade.
type Restore[E any] struct {
	Identify predicate.Predicate[E]
	Rules    []Invariant
}

func (r Restore[E]) Invariants() []Invariant                { return r.Rules }
func (r Restore[E]) Identification() predicate.Predicate[E] { return r.Identify }

// Delete requests a guarded hard delete.
type Delete[E any] struct {
	Rules []Invariant
}

func (r Delete[E]) Invariants() []Invariant { return r.Rules }

// AnyQuery asks whether at least one entity matches.
type AnyQuery[E any] struct {
	query.Spec[E]
	Rules []Invariant
}

func (r AnyQuery[E]) QuerySpec() query.Spec[E] { return r.Spec }
func (r AnyQuery[E]) Strict() bool             { return false }
func (r AnyQuery[E]) Invariants() []Invariant  { return r.Rules }

// ItemQuery reads a single entity.
type ItemQuery[E any] struct {
	query.Spec[E]
	PreventIfNoEntityWasFound bool
	Rules                     []Invariant
}

func (r ItemQuery[E]) QuerySpec() query.Spec[E] { return r.Spec }
func (r ItemQuery[E]) Strict() bool             { return r.PreventIfNoEntityWasFound }
func (r ItemQuery[E]) Invariants() []Invariant  { return r.Rules }

// ListQuery reads a list or a page of entities.
type ListQuery[E any] struct {
	query.Spec[E]
	PreventIfNoEntityWasFound bool
	Rules                     []Invariant
}

func (r ListQuery[E]) QuerySpec() query.Spec[E] { return r.Spec }
func (r ListQuery[E]) Strict() bool             { return r.PreventIfNoEntityWasFound }
func (r ListQuery[E]) Invariants() []Invariant  { return r.Rules }
