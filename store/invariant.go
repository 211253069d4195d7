package store

import (
	"context"

	"github.com/jacentio/arbor/datastore"
	"github.com/jacentio/arbor/issue"
	"github.com/jacentio/arbor/predicate"
	"github.com/jacentio/arbor/preventer"
	"github.com/jacentio/arbor/query"
)

// Invariant is a caller-declared check attached to a request. It is bound
// to the repository's session when the request runs.
type Invariant func(s datastore.Session) preventer.Preventer

// Violation builds the issue raised by a failed invariant.
func Violation(entityType, description string) *issue.Issue {
	return issue.New(issue.CallerInvariantViolation, entityType, description)
}

// Rule blocks the request when fn returns true.
func Rule(name string, fn func(ctx context.Context) (bool, error), iss *issue.Issue) Invariant {
	return func(datastore.Session) preventer.Preventer {
		return preventer.Check(name, fn, iss)
	}
}

// Prevent wraps an existing preventer.
func Prevent(p preventer.Preventer) Invariant {
	return func(datastore.Session) preventer.Preventer { return p }
}

// PreventIfAny blocks the request when any live entity of typ matches p.
func PreventIfAny[T datastore.Entity](typ datastore.Type[T], name string, p predicate.Predicate[T], iss *issue.Issue) Invariant {
	return func(s datastore.Session) preventer.Preventer {
		q := query.New[T](s.Query(typ.Name())).AsNoTracking().Where(p)
		return preventer.Check(name, q.Any, iss)
	}
}

// PreventIfNone blocks the request when no live entity of typ matches p,
// e.g. a referenced parent that must exist.
func PreventIfNone[T datastore.Entity](typ datastore.Type[T], name string, p predicate.Predicate[T], iss *issue.Issue) Invariant {
	return func(s datastore.Session) preventer.Preventer {
		q := query.New[T](s.Query(typ.Name())).AsNoTracking().Where(p)
		return preventer.Check(name, func(ctx context.Context) (bool, error) {
			found, err := q.Any(ctx)
			return !found, err
		}, iss)
	}
}
