// Package issue describes why an operation was rejected.
//
// An [Issue] is a structured error: it carries a [Kind], the entity type
// the operation targeted, and a free-text description. Every Issue matches
// the sentinel error of its kind with errors.Is, so callers can branch on
// the kind without unwrapping:
//
//	if errors.Is(err, issue.ErrUniquenessViolation) { ... }
package issue

import (
	"errors"
	"fmt"
)

// Kind classifies an Issue.
type Kind int

const (
	InvalidPagination Kind = iota + 1
	UniquenessViolation
	NoEntityFound
	CascadeDeleteBlocked
	CallerInvariantViolation
	ConcurrencyConflict
	AmbiguousResult
)

var (
	// ErrInvalidPagination is returned when a page number or page size is below 1.
	ErrInvalidPagination = errors.New("arbor: invalid pagination")

	// ErrUniquenessViolation is returned when a colliding live entity already exists.
	ErrUniquenessViolation = errors.New("arbor: uniqueness violation")

	// ErrNoEntityFound is returned by strict queries that matched nothing.
	ErrNoEntityFound = errors.New("arbor: no entity found")

	// ErrCascadeDeleteBlocked is returned when a hard delete is refused by the cascade guard.
	ErrCascadeDeleteBlocked = errors.New("arbor: cascade delete blocked")

	// ErrInvariantViolation is returned when a caller-declared invariant fails.
	ErrInvariantViolation = errors.New("arbor: invariant violation")

	// ErrConcurrencyConflict is returned when an optimistic concurrency check fails on save.
	ErrConcurrencyConflict = errors.New("arbor: concurrency conflict")

	// ErrAmbiguousResult is returned when a single-item query matched more than one entity.
	ErrAmbiguousResult = errors.New("arbor: ambiguous result")
)

var sentinels = map[Kind]error{
	InvalidPagination:        ErrInvalidPagination,
	UniquenessViolation:      ErrUniquenessViolation,
	NoEntityFound:            ErrNoEntityFound,
	CascadeDeleteBlocked:     ErrCascadeDeleteBlocked,
	CallerInvariantViolation: ErrInvariantViolation,
	ConcurrencyConflict:      ErrConcurrencyConflict,
	AmbiguousResult:          ErrAmbiguousResult,
}

func (k Kind) String() string {
	switch k {
	case InvalidPagination:
		return "InvalidPagination"
	case UniquenessViolation:
		return "UniquenessViolation"
	case NoEntityFound:
		return "NoEntityFound"
	case CascadeDeleteBlocked:
		return "CascadeDeleteBlocked"
	case CallerInvariantViolation:
		return "CallerInvariantViolation"
	case ConcurrencyConflict:
		return "ConcurrencyConflict"
	case AmbiguousResult:
		return "AmbiguousResult"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Issue is a typed description of a rejected operation.
type Issue struct {
	Kind        Kind
	EntityType  string
	Description string
}

// New creates an Issue.
func New(kind Kind, entityType, description string) *Issue {
	return &Issue{Kind: kind, EntityType: entityType, Description: description}
}

func (i *Issue) Error() string {
	msg := sentinelText(i.Kind)
	if i.EntityType != "" {
		msg += " (" + i.EntityType + ")"
	}
	if i.Description != "" {
		msg += ": " + i.Description
	}
	return msg
}

// Is reports whether target is the sentinel error of the issue's kind,
// or another Issue of the same kind.
func (i *Issue) Is(target error) bool {
	if s, ok := sentinels[i.Kind]; ok && s == target {
		return true
	}
	var other *Issue
	if errors.As(target, &other) {
		return other.Kind == i.Kind
	}
	return false
}

// Unwrap returns the sentinel error for the issue's kind.
func (i *Issue) Unwrap() error {
	return sentinels[i.Kind]
}

// Of extracts the Issue from err, if any.
func Of(err error) (*Issue, bool) {
	var i *Issue
	if errors.As(err, &i) {
		return i, true
	}
	return nil, false
}

func sentinelText(k Kind) string {
	if s, ok := sentinels[k]; ok {
		return s.Error()
	}
	return "arbor: " + k.String()
}
