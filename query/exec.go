package query

import (
	"context"
	"fmt"
	"sort"

	"github.com/jacentio/arbor/predicate"
)

// Tracked reports whether the steps keep results attached to the session.
func Tracked(steps []Step) bool {
	for _, s := range steps {
		if s.Kind == StepNoTracking {
			return false
		}
	}
	return true
}

// IncludesArchived reports whether the implicit archived filter is bypassed.
func IncludesArchived(steps []Step) bool {
	for _, s := range steps {
		if s.Kind == StepIncludeArchived {
			return true
		}
	}
	return false
}

// Apply runs the steps over items in memory. archived reports whether an
// item is archived; nil means the entity type is not archivable. Include
// steps are not run here, see [Load].
func Apply(steps []Step, items []any, archived func(any) bool) []any {
	out := make([]any, 0, len(items))
	if archived != nil && !IncludesArchived(steps) {
		for _, it := range items {
			if !archived(it) {
				out = append(out, it)
			}
		}
	} else {
		out = append(out, items...)
	}

	for _, s := range steps {
		switch s.Kind {
		case StepWhere:
			out = filter(out, s.Filter)
		case StepOrderBy:
			sortBy(out, s.Key, false)
		case StepOrderByDescending:
			sortBy(out, s.Key, true)
		case StepSkip:
			if s.N >= len(out) {
				out = out[:0]
			} else if s.N > 0 {
				out = out[s.N:]
			}
		case StepTake:
			if s.N < len(out) {
				out = out[:max(s.N, 0)]
			}
		}
	}
	return out
}

// Load runs the Include steps on materialized items.
func Load(ctx context.Context, steps []Step, items []any) error {
	for _, s := range steps {
		if s.Kind != StepInclude || s.Loader.Load == nil {
			continue
		}
		for _, it := range items {
			if err := s.Loader.Load(ctx, it); err != nil {
				return fmt.Errorf("include %s: %w", s.Loader.Path, err)
			}
		}
	}
	return nil
}

func filter(items []any, e predicate.Expr) []any {
	if e == nil {
		return items
	}
	out := items[:0:0]
	for _, it := range items {
		if e.Eval(it) {
			out = append(out, it)
		}
	}
	return out
}

func sortBy(items []any, k Key, desc bool) {
	sort.SliceStable(items, func(i, j int) bool {
		a, _ := k.Get(items[i])
		b, _ := k.Get(items[j])
		c := predicate.Compare(a, b)
		if desc {
			return c > 0
		}
		return c < 0
	})
}

// SliceExecutor runs steps over a fixed set of items. Stores use it for
// data they have already loaded.
type SliceExecutor struct {
	Items    []any
	Archived func(any) bool
}

func (e SliceExecutor) Any(_ context.Context, steps []Step) (bool, error) {
	return len(Apply(steps, e.Items, e.Archived)) > 0, nil
}

func (e SliceExecutor) Count(_ context.Context, steps []Step) (int, error) {
	return len(Apply(steps, e.Items, e.Archived)), nil
}

func (e SliceExecutor) List(ctx context.Context, steps []Step) ([]any, error) {
	out := Apply(steps, e.Items, e.Archived)
	if err := Load(ctx, steps, out); err != nil {
		return nil, err
	}
	return out, nil
}
