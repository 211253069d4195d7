package store

import (
	"context"

	"github.com/jacentio/arbor/datastore"
	"github.com/jacentio/arbor/issue"
	"github.com/jacentio/arbor/predicate"
	"github.com/jacentio/arbor/preventer"
	"github.com/jacentio/arbor/query"
)

// ReadOption adds a stage to a read pipeline before pagination.
type ReadOption[E any] func(q *query.Query[E]) *query.Query[E]

// WithFilter adds a filter stage before pagination.
func WithFilter[E any](p predicate.Predicate[E]) ReadOption[E] {
	return func(q *query.Query[E]) *query.Query[E] { return q.Where(p) }
}

// WithQuery applies an arbitrary transformation before pagination.
func WithQuery[E any](fn func(q *query.Query[E]) *query.Query[E]) ReadOption[E] {
	return fn
}

// compiled is a read pipeline before and after pagination.
type compiled[E any] struct {
	filtered *query.Query[E]
	paged    *query.Query[E]
	strict   bool
}

func (r *Repository[E]) compile(ctx context.Context, op string, req Reader[E], opts []ReadOption[E]) (compiled[E], error) {
	spec := req.QuerySpec()
	if err := query.ValidatePage(spec.PageNumber, spec.PageSize); err != nil {
		return compiled[E]{}, r.fail(ctx, op, err)
	}
	if err := r.state(req.Invariants()).Assess(ctx); err != nil {
		return compiled[E]{}, r.fail(ctx, op, err)
	}
	q, err := query.Compile(r.session.Query(r.typ.Name()), spec)
	if err != nil {
		return compiled[E]{}, r.fail(ctx, op, err)
	}
	for _, opt := range opts {
		if opt != nil {
			q = opt(q)
		}
	}
	return compiled[E]{
		filtered: q,
		paged:    query.Paginate(q, spec.PageNumber, spec.PageSize),
		strict:   req.Strict(),
	}, nil
}

// requireAny fails with NoEntityFound when the request is strict and q is empty.
func (r *Repository[E]) requireAny(ctx context.Context, c compiled[E], q preventer.Existence) error {
	if !c.strict {
		return nil
	}
	return preventer.New(preventer.WithLogger(r.logger)).
		Add(preventer.NoEntityFound(q, r.typ.Name(), "")).
		Assess(ctx)
}

// Any reports whether at least one entity matches the request, pagination
// included.
func (r *Repository[E]) Any(ctx context.Context, req Reader[E], opts ...ReadOption[E]) (bool, error) {
	c, err := r.compile(ctx, "any", req, opts)
	if err != nil {
		return false, err
	}
	found, err := c.paged.Any(ctx)
	return found, r.fail(ctx, "any", err)
}

func single[T any](entityType string, res query.SingleResult[T]) (T, error) {
	var zero T
	switch res.Status {
	case query.Found:
		return res.Value, nil
	case query.Ambiguous:
		return zero, issue.New(issue.AmbiguousResult, entityType, "more than one entity matched")
	default:
		return zero, nil
	}
}

// GetItem returns the single matching entity. Without strict mode an empty
// result returns the zero value and no error.
func (r *Repository[E]) GetItem(ctx context.Context, req Reader[E], opts ...ReadOption[E]) (E, error) {
	var zero E
	c, err := r.compile(ctx, "get_item", req, opts)
	if err != nil {
		return zero, err
	}
	if err := r.requireAny(ctx, c, c.paged); err != nil {
		return zero, r.fail(ctx, "get_item", err)
	}
	res, err := c.paged.Single(ctx)
	if err != nil {
		return zero, r.fail(ctx, "get_item", err)
	}
	return single(r.typ.Name(), res)
}

// GetItemAs returns the single matching entity projected by selector inside
// the query.
func GetItemAs[E datastore.Entity, R any](ctx context.Context, r *Repository[E], req Reader[E], selector func(E) R, opts ...ReadOption[E]) (R, error) {
	var zero R
	c, err := r.compile(ctx, "get_item", req, opts)
	if err != nil {
		return zero, err
	}
	if err := r.requireAny(ctx, c, c.paged); err != nil {
		return zero, r.fail(ctx, "get_item", err)
	}
	res, err := query.Select(c.paged, selector).Single(ctx)
	if err != nil {
		return zero, r.fail(ctx, "get_item", err)
	}
	return single(r.typ.Name(), res)
}

// GetItemConverted returns the single matching entity converted after it
// was materialized. convert is not called when nothing matched.
func GetItemConverted[E datastore.Entity, R any](ctx context.Context, r *Repository[E], req Reader[E], convert func(E) R, opts ...ReadOption[E]) (R, error) {
	var zero R
	c, err := r.compile(ctx, "get_item", req, opts)
	if err != nil {
		return zero, err
	}
	if err := r.requireAny(ctx, c, c.paged); err != nil {
		return zero, r.fail(ctx, "get_item", err)
	}
	res, err := c.paged.Single(ctx)
	if err != nil {
		return zero, r.fail(ctx, "get_item", err)
	}
	e, err := single(r.typ.Name(), res)
	if err != nil || res.Status != query.Found {
		return zero, err
	}
	return convert(e), nil
}

// GetList returns the matching entities of the requested page.
func (r *Repository[E]) GetList(ctx context.Context, req Reader[E], opts ...ReadOption[E]) ([]E, error) {
	c, err := r.compile(ctx, "get_list", req, opts)
	if err != nil {
		return nil, err
	}
	if err := r.requireAny(ctx, c, c.paged); err != nil {
		return nil, r.fail(ctx, "get_list", err)
	}
	items, err := c.paged.List(ctx)
	return items, r.fail(ctx, "get_list", err)
}

// GetListAs returns the matching entities projected by selector inside the
// query.
func GetListAs[E datastore.Entity, R any](ctx context.Context, r *Repository[E], req Reader[E], selector func(E) R, opts ...ReadOption[E]) ([]R, error) {
	c, err := r.compile(ctx, "get_list", req, opts)
	if err != nil {
		return nil, err
	}
	if err := r.requireAny(ctx, c, c.paged); err != nil {
		return nil, r.fail(ctx, "get_list", err)
	}
	items, err := query.Select(c.paged, selector).List(ctx)
	return items, r.fail(ctx, "get_list", err)
}

// GetListConverted returns the matching entities converted after they were
// materialized.
func GetListConverted[E datastore.Entity, R any](ctx context.Context, r *Repository[E], req Reader[E], convert func(E) R, opts ...ReadOption[E]) ([]R, error) {
	items, err := r.GetList(ctx, req, opts...)
	if err != nil {
		return nil, err
	}
	return convertAll(items, convert), nil
}

// GetPaginatedList returns the requested page and the number of entities
// matching before pagination.
func (r *Repository[E]) GetPaginatedList(ctx context.Context, req Reader[E], opts ...ReadOption[E]) (query.PaginatedResult[E], error) {
	return paginated(ctx, r, req, opts, func(q *query.Query[E]) ([]E, error) {
		return q.List(ctx)
	})
}

// GetPaginatedListAs is GetPaginatedList with a query-level selector.
func GetPaginatedListAs[E datastore.Entity, R any](ctx context.Context, r *Repository[E], req Reader[E], selector func(E) R, opts ...ReadOption[E]) (query.PaginatedResult[R], error) {
	return paginated(ctx, r, req, opts, func(q *query.Query[E]) ([]R, error) {
		return query.Select(q, selector).List(ctx)
	})
}

// GetPaginatedListConverted is GetPaginatedList with a post-materialization
// converter.
func GetPaginatedListConverted[E datastore.Entity, R any](ctx context.Context, r *Repository[E], req Reader[E], convert func(E) R, opts ...ReadOption[E]) (query.PaginatedResult[R], error) {
	return paginated(ctx, r, req, opts, func(q *query.Query[E]) ([]R, error) {
		items, err := q.List(ctx)
		if err != nil {
			return nil, err
		}
		return convertAll(items, convert), nil
	})
}

func paginated[E datastore.Entity, R any](ctx context.Context, r *Repository[E], req Reader[E], opts []ReadOption[E], list func(*query.Query[E]) ([]R, error)) (query.PaginatedResult[R], error) {
	c, err := r.compile(ctx, "get_paginated_list", req, opts)
	if err != nil {
		return query.PaginatedResult[R]{}, err
	}
	if err := r.requireAny(ctx, c, c.paged); err != nil {
		return query.PaginatedResult[R]{}, r.fail(ctx, "get_paginated_list", err)
	}
	total, err := c.filtered.Count(ctx)
	if err != nil {
		return query.PaginatedResult[R]{}, r.fail(ctx, "get_paginated_list", err)
	}
	items, err := list(c.paged)
	if err != nil {
		return query.PaginatedResult[R]{}, r.fail(ctx, "get_paginated_list", err)
	}
	spec := req.QuerySpec()
	return query.PaginatedResult[R]{
		Items:      items,
		TotalCount: total,
		PageNumber: spec.PageNumber,
		PageSize:   spec.PageSize,
	}, nil
}

func convertAll[E, R any](items []E, convert func(E) R) []R {
	out := make([]R, len(items))
	for i, it := range items {
		out[i] = convert(it)
	}
	return out
}
