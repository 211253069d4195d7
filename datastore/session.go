package datastore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jacentio/arbor/issue"
	"github.com/jacentio/arbor/query"
)

var (
	// ErrNoTransaction is returned by Commit and Rollback without a prior Begin.
	ErrNoTransaction = errors.New("arbor: no transaction in progress")

	// ErrTransactionActive is returned by Begin while a transaction is open.
	ErrTransactionActive = errors.New("arbor: transaction already in progress")
)

// Session is one unit of work against an entity store. Writes are staged
// with Add, Attach and Remove and become visible to queries only after
// SaveChanges. A Session is not safe for concurrent use.
type Session interface {
	// Schema returns the entity types the session knows.
	Schema() *Schema

	// Query returns the queryable source for an entity type. The implicit
	// archived filter is applied unless the steps bypass it.
	Query(entityType string) query.Executor

	// Add stages an insert.
	Add(ctx context.Context, e Entity) error

	// Attach stages an update of an existing entity.
	Attach(ctx context.Context, e Entity) error

	// Remove stages a physical delete.
	Remove(ctx context.Context, e Entity) error

	// SaveChanges flushes the staged changes and returns the number of
	// entities written. A version mismatch fails the whole flush with an
	// issue.ErrConcurrencyConflict error.
	SaveChanges(ctx context.Context) (int, error)

	Begin(ctx context.Context) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Backend opens sessions on a store.
type Backend interface {
	Schema() *Schema
	NewSession(ctx context.Context) (Session, error)

	// Recreate drops and recreates the store's schema. All data is lost.
	Recreate(ctx context.Context) error
}

// Conflict builds the ConcurrencyConflict issue for an entity.
func Conflict(e Entity, reason string) *issue.Issue {
	return issue.New(issue.ConcurrencyConflict, e.EntityType(), fmt.Sprintf("%s: %s", e.EntityID(), reason))
}

// Staging holds the staged changes and the tracked instances of a session.
// Store sessions embed it.
type Staging struct {
	schema   *Schema
	changes  Changes
	identity IdentityMap
}

// NewStaging creates an empty Staging for schema.
func NewStaging(schema *Schema) Staging {
	return Staging{schema: schema}
}

// Schema returns the schema entities are checked against.
func (s *Staging) Schema() *Schema { return s.schema }

func (s *Staging) stage(op Op, e Entity) error {
	if !s.schema.Has(e.EntityType()) {
		return fmt.Errorf("%w: %q", ErrUnknownType, e.EntityType())
	}
	if e.EntityID() == "" {
		return fmt.Errorf("arbor: %s entity has no id", e.EntityType())
	}
	s.changes.Stage(op, e)
	if op == OpDelete {
		s.identity.Forget(e)
	} else {
		s.identity.Track(e)
	}
	return nil
}

func (s *Staging) Add(_ context.Context, e Entity) error    { return s.stage(OpInsert, e) }
func (s *Staging) Attach(_ context.Context, e Entity) error { return s.stage(OpUpdate, e) }
func (s *Staging) Remove(_ context.Context, e Entity) error { return s.stage(OpDelete, e) }

// Pending returns the staged changes in staging order.
func (s *Staging) Pending() []Change { return s.changes.List() }

// ClearPending drops the staged changes.
func (s *Staging) ClearPending() { s.changes.Reset() }

// Reset drops the staged changes and forgets all tracked instances.
func (s *Staging) Reset() {
	s.changes.Reset()
	s.identity.Reset()
}

// Resolve swaps decoded items for the instances the session already tracks
// when the steps ask for tracking; untracked queries return items as is.
func (s *Staging) Resolve(steps []query.Step, items []any) []any {
	if !query.Tracked(steps) {
		return items
	}
	for i, it := range items {
		if e, ok := it.(Entity); ok {
			items[i] = s.identity.Track(e)
		}
	}
	return items
}

// Recreator is implemented by sessions that can drop and recreate the
// schema of their store.
type Recreator interface {
	Recreate(ctx context.Context) error
}
