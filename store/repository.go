package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jacentio/arbor/cascade"
	"github.com/jacentio/arbor/datastore"
	"github.com/jacentio/arbor/issue"
	"github.com/jacentio/arbor/predicate"
	"github.com/jacentio/arbor/preventer"
	"github.com/jacentio/arbor/query"
)

// Repository runs validated commands and queries for one entity type.
type Repository[E datastore.Entity] struct {
	session datastore.Session
	typ     datastore.Type[E]
	cascade *cascade.Engine
	logger  *slog.Logger
}

// NewRepository creates a Repository for typ on session.
func NewRepository[E datastore.Entity](session datastore.Session, typ datastore.Type[E], cfg Config) *Repository[E] {
	cfg.validate()
	return &Repository[E]{
		session: session,
		typ:     typ,
		cascade: cascade.New(cfg.Cascade),
		logger:  cfg.Logger,
	}
}

// Session returns the session the repository stages changes on.
func (r *Repository[E]) Session() datastore.Session { return r.session }

// Cascade returns the cascade engine.
func (r *Repository[E]) Cascade() *cascade.Engine { return r.cascade }

// Query returns an unfiltered query over the live entities of the type.
func (r *Repository[E]) Query() *query.Query[E] {
	return query.New[E](r.session.Query(r.typ.Name()))
}

func (r *Repository[E]) state(rules []Invariant) *preventer.State {
	st := preventer.New(preventer.WithLogger(r.logger))
	for _, rule := range rules {
		if rule != nil {
			st.Add(rule(r.session))
		}
	}
	return st
}

// uniqueness returns the uniqueness preventer for e, excluding the entities
// matched by self. It returns nil when there is nothing to check.
func (r *Repository[E]) uniqueness(e E, self predicate.Predicate[E]) preventer.Preventer {
	d := uniquenessOf(e)
	if d == nil {
		return nil
	}
	cond := predicate.NewBuilder[E]().AndNot(self).And(d.Condition).Predicate()
	if cond.IsZero() {
		return nil
	}
	q := r.Query().AsNoTracking().Where(cond)
	return preventer.Uniqueness(q, r.typ.Name(), d.Description)
}

// fail logs store failures; issues are returned as is.
func (r *Repository[E]) fail(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := issue.Of(err); !ok {
		r.logger.ErrorContext(ctx, "repository operation failed",
			"op", op,
			"entity_type", r.typ.Name(),
			"error", err,
		)
	}
	return err
}

// Create stages e for insertion after the request's invariants and the
// entity's uniqueness rule pass.
func (r *Repository[E]) Create(ctx context.Context, req Command, e E) error {
	st := r.state(req.Invariants()).Add(r.uniqueness(e, predicate.Predicate[E]{}))
	if err := st.Assess(ctx); err != nil {
		return r.fail(ctx, "create", err)
	}
	return r.fail(ctx, "create", r.session.Add(ctx, e))
}

// Update stages e for modification. The uniqueness check excludes the
// entities matched by the request's identification.
func (r *Repository[E]) Update(ctx context.Context, req Identified[E], e E) error {
	st := r.state(req.Invariants()).Add(r.uniqueness(e, req.Identification()))
	if err := st.Assess(ctx); err != nil {
		return r.fail(ctx, "update", err)
	}
	return r.fail(ctx, "update", r.session.Attach(ctx, e))
}

// Archive stages an archive cascade rooted at e.
func (r *Repository[E]) Archive(ctx context.Context, req Command, e E) error {
	if err := r.state(req.Invariants()).Assess(ctx); err != nil {
		return r.fail(ctx, "archive", err)
	}
	return r.fail(ctx, "archive", r.cascade.Archive(ctx, r.session, e))
}

// Restore stages a restore cascade rooted at e. Uniqueness is re-checked
// when the restore makes e visible again, that is at archive depth 1.
func (r *Repository[E]) Restore(ctx context.Context, req Identified[E], e E) error {
	st := r.state(req.Invariants())
	if r.cascade.Depth(r.session, e) == 1 {
		st.Add(r.uniqueness(e, req.Identification()))
	}
	if err := st.Assess(ctx); err != nil {
		return r.fail(ctx, "restore", err)
	}
	return r.fail(ctx, "restore", r.cascade.Restore(ctx, r.session, e))
}

// Delete stages the physical removal of e and its cascade set. It fails
// with a CascadeDeleteBlocked issue while e has active dependents.
func (r *Repository[E]) Delete(ctx context.Context, req Command, e E) error {
	if err := r.state(req.Invariants()).Assess(ctx); err != nil {
		return r.fail(ctx, "delete", err)
	}
	return r.fail(ctx, "delete", r.cascade.Delete(ctx, r.session, e))
}

// SaveOption configures Save.
type SaveOption func(*saveOptions)

type saveOptions struct {
	onConflict datastore.ConflictHandler
}

// OnConflict handles a concurrency conflict instead of returning it.
func OnConflict(fn datastore.ConflictHandler) SaveOption {
	return func(o *saveOptions) { o.onConflict = fn }
}

// Save flushes the staged changes of the session. It returns -1 when a
// conflict was passed to an OnConflict handler.
func (r *Repository[E]) Save(ctx context.Context, opts ...SaveOption) (int, error) {
	var o saveOptions
	for _, opt := range opts {
		opt(&o)
	}
	n, err := datastore.Save(ctx, r.session, o.onConflict)
	return n, r.fail(ctx, "save", err)
}

// Transaction runs fn in a session transaction, committing on success and
// rolling back on error or panic.
func (r *Repository[E]) Transaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return datastore.WithTx(ctx, r.session, fn)
}

// EnsureRecreated drops and recreates the store schema. The session must
// support it.
func (r *Repository[E]) EnsureRecreated(ctx context.Context) error {
	rc, ok := r.session.(datastore.Recreator)
	if !ok {
		return fmt.Errorf("arbor: %T cannot recreate its store", r.session)
	}
	return r.fail(ctx, "recreate", rc.Recreate(ctx))
}
