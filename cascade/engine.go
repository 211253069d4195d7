// Package cascade implements soft delete with reference-counted archive depth.
//
// An entity's archive depth is the number of archive cascades currently
// covering it; 0 means active. Archiving an entity increments the depth of
// the entity and of every descendant reachable through the Registry, already
// archived ones included. Restoring decrements along the same paths, so a
// child archived on its own before its parent stays archived after the
// parent is restored.
//
// The Engine only stages Attach/Remove changes on a session; nothing is
// written until the caller saves.
package cascade

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/jacentio/arbor/datastore"
	"github.com/jacentio/arbor/issue"
	"github.com/jacentio/arbor/query"
)

// Engine applies archive, restore and delete cascades.
type Engine struct {
	cfg    Config
	logger *slog.Logger
}

// New creates an Engine.
func New(cfg Config) *Engine {
	cfg.validate()
	return &Engine{cfg: cfg, logger: cfg.Logger}
}

// Registry returns the relationships the engine cascades along.
func (e *Engine) Registry() *Registry { return e.cfg.Registry }

// Deferred reports whether descendants are updated asynchronously.
func (e *Engine) Deferred() bool { return e.cfg.Deferred }

// Status is the outcome of a delete guard check.
type Status struct {
	// Blocked is true when at least one active dependent exists.
	Blocked bool

	// Blockers counts the active direct dependents per child type.
	Blockers map[string]int
}

func (s Status) String() string {
	if !s.Blocked {
		return "no active dependents"
	}
	types := make([]string, 0, len(s.Blockers))
	for t := range s.Blockers {
		types = append(types, t)
	}
	sort.Strings(types)
	parts := make([]string, 0, len(types))
	for _, t := range types {
		parts = append(parts, fmt.Sprintf("%d active %s", s.Blockers[t], t))
	}
	return strings.Join(parts, ", ")
}

type accessor struct {
	get func(datastore.Entity) int
	set func(datastore.Entity, int)
}

func (e *Engine) accessor(s datastore.Session, entityType string) (accessor, bool) {
	if e.cfg.GetDepth != nil {
		return accessor{get: e.cfg.GetDepth, set: e.cfg.SetDepth}, true
	}
	sd, ok := s.Schema().SoftDelete(entityType)
	if !ok {
		return accessor{}, false
	}
	return accessor{get: sd.Get, set: sd.Set}, true
}

// Depth returns the archive depth of ent, 0 for non-archivable types.
func (e *Engine) Depth(s datastore.Session, ent datastore.Entity) int {
	acc, ok := e.accessor(s, ent.EntityType())
	if !ok {
		return 0
	}
	return acc.get(ent)
}

// dependents loads the direct children of parent for one relationship,
// archived children included.
func dependents(ctx context.Context, s datastore.Session, rel Relationship, parent datastore.Entity, includeArchived bool) ([]datastore.Entity, error) {
	if rel.Dependents == nil {
		return nil, nil
	}
	var steps []query.Step
	if includeArchived {
		steps = append(steps, query.Step{Kind: query.StepIncludeArchived})
	}
	steps = append(steps, query.Step{Kind: query.StepWhere, Filter: rel.Dependents(parent)})

	items, err := s.Query(rel.ChildType).List(ctx, steps)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s dependents of %s: %w", rel.ChildType, datastore.Ref(parent), err)
	}
	out := make([]datastore.Entity, 0, len(items))
	for _, it := range items {
		if ent, ok := it.(datastore.Entity); ok {
			out = append(out, ent)
		}
	}
	return out, nil
}

// Archive increments the archive depth of ent and of all its descendants.
func (e *Engine) Archive(ctx context.Context, s datastore.Session, ent datastore.Entity) error {
	n, err := e.archive(ctx, s, ent, make(map[string]bool), true)
	if err != nil {
		return err
	}
	e.logger.InfoContext(ctx, "archive cascade staged",
		"entity_type", ent.EntityType(),
		"id", ent.EntityID(),
		"depth", e.Depth(s, ent),
		"affected", n,
	)
	return nil
}

func (e *Engine) archive(ctx context.Context, s datastore.Session, ent datastore.Entity, visited map[string]bool, root bool) (int, error) {
	ref := datastore.Ref(ent)
	if visited[ref] {
		return 0, nil
	}
	visited[ref] = true

	acc, ok := e.accessor(s, ent.EntityType())
	if !ok {
		if root {
			return 0, fmt.Errorf("arbor: %s is not archivable", ent.EntityType())
		}
		return 0, nil
	}
	acc.set(ent, acc.get(ent)+1)
	if err := s.Attach(ctx, ent); err != nil {
		return 0, err
	}
	n := 1
	if e.cfg.Deferred {
		return n, nil
	}

	for _, rel := range e.cfg.Registry.ChildrenOf(ent.EntityType()) {
		children, err := dependents(ctx, s, rel, ent, true)
		if err != nil {
			return n, err
		}
		for _, child := range children {
			c, err := e.archive(ctx, s, child, visited, false)
			n += c
			if err != nil {
				return n, err
			}
		}
	}
	return n, nil
}

// Restore decrements the archive depth of ent and of its archived
// descendants. Restoring an active entity is a no-op.
func (e *Engine) Restore(ctx context.Context, s datastore.Session, ent datastore.Entity) error {
	acc, ok := e.accessor(s, ent.EntityType())
	if !ok {
		return fmt.Errorf("arbor: %s is not archivable", ent.EntityType())
	}
	if acc.get(ent) == 0 {
		return nil
	}
	n, err := e.restore(ctx, s, ent, make(map[string]bool))
	if err != nil {
		return err
	}
	e.logger.InfoContext(ctx, "restore cascade staged",
		"entity_type", ent.EntityType(),
		"id", ent.EntityID(),
		"depth", acc.get(ent),
		"affected", n,
	)
	return nil
}

func (e *Engine) restore(ctx context.Context, s datastore.Session, ent datastore.Entity, visited map[string]bool) (int, error) {
	ref := datastore.Ref(ent)
	if visited[ref] {
		return 0, nil
	}
	visited[ref] = true

	acc, ok := e.accessor(s, ent.EntityType())
	if !ok || acc.get(ent) == 0 {
		return 0, nil
	}
	acc.set(ent, acc.get(ent)-1)
	if err := s.Attach(ctx, ent); err != nil {
		return 0, err
	}
	n := 1
	if e.cfg.Deferred {
		return n, nil
	}

	for _, rel := range e.cfg.Registry.ChildrenOf(ent.EntityType()) {
		children, err := dependents(ctx, s, rel, ent, true)
		if err != nil {
			return n, err
		}
		for _, child := range children {
			c, err := e.restore(ctx, s, child, visited)
			n += c
			if err != nil {
				return n, err
			}
		}
	}
	return n, nil
}

// Check reports whether ent has active direct dependents.
func (e *Engine) Check(ctx context.Context, s datastore.Session, ent datastore.Entity) (Status, error) {
	st := Status{Blockers: make(map[string]int)}
	for _, rel := range e.cfg.Registry.ChildrenOf(ent.EntityType()) {
		children, err := dependents(ctx, s, rel, ent, false)
		if err != nil {
			return Status{}, err
		}
		if len(children) > 0 {
			st.Blocked = true
			st.Blockers[rel.ChildType] += len(children)
		}
	}
	return st, nil
}

// Delete stages the physical removal of ent and of every descendant. It
// fails with a CascadeDeleteBlocked issue, staging nothing, while ent has
// active direct dependents.
func (e *Engine) Delete(ctx context.Context, s datastore.Session, ent datastore.Entity) error {
	st, err := e.Check(ctx, s, ent)
	if err != nil {
		return err
	}
	if st.Blocked {
		e.logger.DebugContext(ctx, "delete blocked",
			"entity_type", ent.EntityType(),
			"id", ent.EntityID(),
			"blockers", st.String(),
		)
		return issue.New(issue.CascadeDeleteBlocked, ent.EntityType(), st.String())
	}

	var set []datastore.Entity
	if err := e.collect(ctx, s, ent, make(map[string]bool), &set); err != nil {
		return err
	}
	for _, d := range set {
		if err := s.Remove(ctx, d); err != nil {
			return err
		}
	}
	e.logger.InfoContext(ctx, "delete cascade staged",
		"entity_type", ent.EntityType(),
		"id", ent.EntityID(),
		"affected", len(set),
	)
	return nil
}

func (e *Engine) collect(ctx context.Context, s datastore.Session, ent datastore.Entity, visited map[string]bool, out *[]datastore.Entity) error {
	ref := datastore.Ref(ent)
	if visited[ref] {
		return nil
	}
	visited[ref] = true
	*out = append(*out, ent)

	for _, rel := range e.cfg.Registry.ChildrenOf(ent.EntityType()) {
		children, err := dependents(ctx, s, rel, ent, true)
		if err != nil {
			return err
		}
		for _, child := range children {
			if err := e.collect(ctx, s, child, visited, out); err != nil {
				return err
			}
		}
	}
	return nil
}

// Propagate applies delta to the archive depth of the direct dependents of
// parent and returns how many were staged. A negative delta never takes a
// depth below 0 and skips dependents that are already active.
func (e *Engine) Propagate(ctx context.Context, s datastore.Session, parent datastore.Entity, delta int) (int, error) {
	if delta == 0 {
		return 0, nil
	}
	n := 0
	for _, rel := range e.cfg.Registry.ChildrenOf(parent.EntityType()) {
		acc, ok := e.accessor(s, rel.ChildType)
		if !ok {
			continue
		}
		children, err := dependents(ctx, s, rel, parent, true)
		if err != nil {
			return n, err
		}
		for _, child := range children {
			depth := acc.get(child)
			if delta < 0 && depth == 0 {
				continue
			}
			acc.set(child, max(depth+delta, 0))
			if err := s.Attach(ctx, child); err != nil {
				return n, err
			}
			n++
		}
	}
	return n, nil
}
