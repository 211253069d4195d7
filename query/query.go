package query

import (
	"context"
	"fmt"

	"github.com/jacentio/arbor/predicate"
)

// StepKind identifies a pipeline step.
type StepKind int

const (
	StepNoTracking StepKind = iota + 1
	StepIncludeArchived
	StepWhere
	StepOrderBy
	StepOrderByDescending
	StepInclude
	StepSkip
	StepTake
)

func (k StepKind) String() string {
	switch k {
	case StepNoTracking:
		return "NoTracking"
	case StepIncludeArchived:
		return "IncludeArchived"
	case StepWhere:
		return "Where"
	case StepOrderBy:
		return "OrderBy"
	case StepOrderByDescending:
		return "OrderByDescending"
	case StepInclude:
		return "Include"
	case StepSkip:
		return "Skip"
	case StepTake:
		return "Take"
	default:
		return fmt.Sprintf("StepKind(%d)", int(k))
	}
}

// Key is an ordering key.
type Key struct {
	Field string
	Get   predicate.Accessor
}

// Loader is the untyped form of an Include.
type Loader struct {
	Path string
	Load func(ctx context.Context, v any) error
}

// Step is one untyped pipeline step. Only the fields relevant to Kind are set.
type Step struct {
	Kind   StepKind
	Filter predicate.Expr
	Key    Key
	Loader Loader
	N      int
}

// Executor runs a step list against a store.
type Executor interface {
	Any(ctx context.Context, steps []Step) (bool, error)
	Count(ctx context.Context, steps []Step) (int, error)
	List(ctx context.Context, steps []Step) ([]any, error)
}

// Status is the outcome of a single-item query.
type Status int

const (
	NotFound Status = iota
	Found
	Ambiguous
)

func (s Status) String() string {
	switch s {
	case Found:
		return "found"
	case Ambiguous:
		return "ambiguous"
	default:
		return "not-found"
	}
}

// SingleResult replaces "single or throw": Value is set only when Status is Found.
type SingleResult[T any] struct {
	Status Status
	Value  T
}

// Query is a lazily evaluated sequence of T. Builder methods return a new
// Query; the receiver is never modified.
type Query[T any] struct {
	exec  Executor
	steps []Step
}

// New creates an empty Query over exec.
func New[T any](exec Executor) *Query[T] {
	return &Query[T]{exec: exec}
}

func (q *Query[T]) with(s Step) *Query[T] {
	steps := make([]Step, len(q.steps), len(q.steps)+1)
	copy(steps, q.steps)
	return &Query[T]{exec: q.exec, steps: append(steps, s)}
}

// Steps returns a copy of the compiled steps.
func (q *Query[T]) Steps() []Step {
	out := make([]Step, len(q.steps))
	copy(out, q.steps)
	return out
}

// Clone returns an independent copy of q.
func (q *Query[T]) Clone() *Query[T] {
	return &Query[T]{exec: q.exec, steps: q.Steps()}
}

// Executor returns the executor the query runs on.
func (q *Query[T]) Executor() Executor { return q.exec }

func (q *Query[T]) AsNoTracking() *Query[T] {
	return q.with(Step{Kind: StepNoTracking})
}

func (q *Query[T]) IgnoreArchivedFilter() *Query[T] {
	return q.with(Step{Kind: StepIncludeArchived})
}

// Where adds a filter stage. A zero predicate adds nothing.
func (q *Query[T]) Where(p predicate.Predicate[T]) *Query[T] {
	if p.IsZero() {
		return q
	}
	return q.with(Step{Kind: StepWhere, Filter: p.Expr()})
}

func (q *Query[T]) OrderBy(f predicate.Field[T]) *Query[T] {
	return q.with(Step{Kind: StepOrderBy, Key: Key{Field: f.Name, Get: f.Accessor()}})
}

func (q *Query[T]) OrderByDescending(f predicate.Field[T]) *Query[T] {
	return q.with(Step{Kind: StepOrderByDescending, Key: Key{Field: f.Name, Get: f.Accessor()}})
}

func (q *Query[T]) Include(inc Include[T]) *Query[T] {
	load := inc.Load
	return q.with(Step{Kind: StepInclude, Loader: Loader{
		Path: inc.Path,
		Load: func(ctx context.Context, v any) error {
			t, ok := v.(T)
			if !ok || load == nil {
				return nil
			}
			return load(ctx, t)
		},
	}})
}

func (q *Query[T]) Skip(n int) *Query[T] {
	return q.with(Step{Kind: StepSkip, N: n})
}

func (q *Query[T]) Take(n int) *Query[T] {
	return q.with(Step{Kind: StepTake, N: n})
}

// Any reports whether the query matches at least one item.
func (q *Query[T]) Any(ctx context.Context) (bool, error) {
	return q.exec.Any(ctx, q.steps)
}

// Count returns the number of matching items.
func (q *Query[T]) Count(ctx context.Context) (int, error) {
	return q.exec.Count(ctx, q.steps)
}

// List materializes the query.
func (q *Query[T]) List(ctx context.Context) ([]T, error) {
	raw, err := q.exec.List(ctx, q.steps)
	if err != nil {
		return nil, err
	}
	return cast[T](raw)
}

// Single materializes at most two items and reports whether exactly one matched.
func (q *Query[T]) Single(ctx context.Context) (SingleResult[T], error) {
	items, err := q.Take(2).List(ctx)
	if err != nil {
		return SingleResult[T]{}, err
	}
	return single(items), nil
}

// Projection is a query whose items are mapped by a query-level selector.
type Projection[R any] struct {
	count  func(ctx context.Context) (int, error)
	exists func(ctx context.Context) (bool, error)
	list   func(ctx context.Context, extra ...Step) ([]R, error)
}

// Select maps the items of q through fn when the query is materialized.
func Select[T, R any](q *Query[T], fn func(T) R) *Projection[R] {
	return &Projection[R]{
		count:  q.Count,
		exists: q.Any,
		list: func(ctx context.Context, extra ...Step) ([]R, error) {
			src := q
			for _, s := range extra {
				src = src.with(s)
			}
			items, err := src.List(ctx)
			if err != nil {
				return nil, err
			}
			out := make([]R, len(items))
			for i, it := range items {
				out[i] = fn(it)
			}
			return out, nil
		},
	}
}

func (p *Projection[R]) Any(ctx context.Context) (bool, error)  { return p.exists(ctx) }
func (p *Projection[R]) Count(ctx context.Context) (int, error) { return p.count(ctx) }
func (p *Projection[R]) List(ctx context.Context) ([]R, error)  { return p.list(ctx) }

// Single materializes at most two projected items.
func (p *Projection[R]) Single(ctx context.Context) (SingleResult[R], error) {
	items, err := p.list(ctx, Step{Kind: StepTake, N: 2})
	if err != nil {
		return SingleResult[R]{}, err
	}
	return single(items), nil
}

func single[T any](items []T) SingleResult[T] {
	switch len(items) {
	case 0:
		return SingleResult[T]{Status: NotFound}
	case 1:
		return SingleResult[T]{Status: Found, Value: items[0]}
	default:
		return SingleResult[T]{Status: Ambiguous}
	}
}

func cast[T any](raw []any) ([]T, error) {
	out := make([]T, 0, len(raw))
	for _, v := range raw {
		t, ok := v.(T)
		if !ok {
			var zero T
			return nil, fmt.Errorf("query: unexpected item type %T, want %T", v, zero)
		}
		out = append(out, t)
	}
	return out, nil
}
