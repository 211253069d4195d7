package store

import (
	"github.com/jacentio/arbor/datastore"
	"github.com/jacentio/arbor/issue"
)

var (
	ErrInvalidPagination    = issue.ErrInvalidPagination
	ErrUniquenessViolation  = issue.ErrUniquenessViolation
	ErrNoEntityFound        = issue.ErrNoEntityFound
	ErrCascadeDeleteBlocked = issue.ErrCascadeDeleteBlocked
	ErrInvariantViolation   = issue.ErrInvariantViolation
	ErrConcurrencyConflict  = issue.ErrConcurrencyConflict
	ErrAmbiguousResult      = issue.ErrAmbiguousResult

	// ErrAlreadyExists is returned on save when an inserted entity's id is taken.
	ErrAlreadyExists = datastore.ErrAlreadyExists
)
