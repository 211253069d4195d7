package datastore

import (
	"context"
	"errors"

	"github.com/jacentio/arbor/issue"
)

// WithTx runs fn inside a session transaction. The transaction is committed
// when fn returns nil and rolled back when it returns an error or panics.
func WithTx(ctx context.Context, s Session, fn func(ctx context.Context) error) (err error) {
	if err := s.Begin(ctx); err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = s.Rollback(ctx)
			panic(p)
		}
		if err != nil {
			_ = s.Rollback(ctx)
			return
		}
		err = s.Commit(ctx)
	}()

	err = fn(ctx)
	return err
}

// ConflictHandler is called when a save hits a concurrency conflict.
type ConflictHandler func(ctx context.Context, err error) error

// Save flushes the session. Without a handler a concurrency conflict is
// returned as is; with one, the handler decides and Save reports -1 written
// entities.
func Save(ctx context.Context, s Session, onConflict ConflictHandler) (int, error) {
	n, err := s.SaveChanges(ctx)
	if err == nil {
		return n, nil
	}
	if onConflict == nil || !errors.Is(err, issue.ErrConcurrencyConflict) {
		return n, err
	}
	return -1, onConflict(ctx, err)
}
