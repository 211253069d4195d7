// Package query compiles declarative query specifications into ordered
// read pipelines.
//
// A [Spec] names what a request wants to read: filter, ordering, an
// eager-load hint, tracking mode, archived-data inclusion and pagination.
// [Compile] turns it into a lazily evaluated [Query] whose steps are
// always appended in the same order, because every step changes the result
// set the next one sees:
//
//  1. tracking mode
//  2. archived-data inclusion
//  3. filter
//  4. ordering (ascending, then descending; the last one applied wins)
//  5. eager-load hint
//  6. pagination (skip, then take)
//
// Stores execute the steps through the [Executor] interface; [Apply] is the
// reference in-memory pipeline they fall back to.
package query

import (
	"context"
	"fmt"

	"github.com/jacentio/arbor/issue"
	"github.com/jacentio/arbor/predicate"
)

// Include is an eager-load hint: Load attaches related data to each
// materialized item.
type Include[T any] struct {
	Path string
	Load func(ctx context.Context, v T) error
}

// Spec is the query specification carried by a read request.
type Spec[T any] struct {
	// Filter selects entities. The zero predicate selects all.
	Filter predicate.Predicate[T]

	// OrderBy sorts ascending by a field.
	OrderBy *predicate.Field[T]

	// OrderByDescending sorts descending by a field. Applied after OrderBy,
	// so it wins when both are set.
	OrderByDescending *predicate.Field[T]

	// Include is an optional eager-load hint.
	Include *Include[T]

	// Tracking keeps materialized entities attached to the session.
	// When false results are read-only.
	Tracking bool

	// IncludeArchived bypasses the implicit "exclude archived" filter.
	IncludeArchived bool

	// PageNumber is 1-indexed. Nil disables pagination.
	PageNumber *int

	// PageSize is the number of items per page. Nil disables take.
	PageSize *int
}

// ValidatePage checks pagination bounds.
func ValidatePage(pageNumber, pageSize *int) error {
	if pageNumber != nil && *pageNumber < 1 {
		return issue.New(issue.InvalidPagination, "", fmt.Sprintf("the page number must be 1 or higher, got %d", *pageNumber))
	}
	if pageSize != nil && *pageSize < 1 {
		return issue.New(issue.InvalidPagination, "", fmt.Sprintf("the page size must be 1 or higher, got %d", *pageSize))
	}
	return nil
}

// Compile validates spec and appends the tracking, archive, filter, order
// and include steps in that order.
// Pagination is checked here, before any step exists, but applied by
// [Paginate] so callers can add filter stages in between.
func Compile[T any](exec Executor, spec Spec[T]) (*Query[T], error) {
	if err := ValidatePage(spec.PageNumber, spec.PageSize); err != nil {
		return nil, err
	}

	q := New[T](exec)
	if !spec.Tracking {
		q = q.AsNoTracking()
	}
	if spec.IncludeArchived {
		q = q.IgnoreArchivedFilter()
	}
	if !spec.Filter.IsZero() {
		q = q.Where(spec.Filter)
	}
	if spec.OrderBy != nil {
		q = q.OrderBy(*spec.OrderBy)
	}
	if spec.OrderByDescending != nil {
		q = q.OrderByDescending(*spec.OrderByDescending)
	}
	if spec.Include != nil {
		q = q.Include(*spec.Include)
	}
	return q, nil
}

// Paginate appends skip and take for a 1-indexed page.
// Without a page number nothing is appended; without a page size the
// stride is zero and no take is appended.
func Paginate[T any](q *Query[T], pageNumber, pageSize *int) *Query[T] {
	if pageNumber == nil {
		return q
	}
	size := 0
	if pageSize != nil {
		size = *pageSize
	}
	q = q.Skip((*pageNumber - 1) * size)
	if pageSize != nil {
		q = q.Take(*pageSize)
	}
	return q
}

// Build compiles the specification and applies its pagination.
func Build[T any](exec Executor, spec Spec[T]) (*Query[T], error) {
	q, err := Compile(exec, spec)
	if err != nil {
		return nil, err
	}
	return Paginate(q, spec.PageNumber, spec.PageSize), nil
}

// PaginatedResult is one page of items plus the total across all pages.
type PaginatedResult[T any] struct {
	Items      []T
	TotalCount int
	PageNumber *int
	PageSize   *int
}

// TotalPages returns the number of pages implied by TotalCount and PageSize.
func (r PaginatedResult[T]) TotalPages() int {
	if r.PageSize == nil || *r.PageSize < 1 {
		if r.TotalCount == 0 {
			return 0
		}
		return 1
	}
	return (r.TotalCount + *r.PageSize - 1) / *r.PageSize
}
