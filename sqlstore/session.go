package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jacentio/arbor/datastore"
	"github.com/jacentio/arbor/query"
)

// Session is a unit of work on a Store. Queries run inside the open
// transaction, if any, and so see the session's saved writes.
type Session struct {
	datastore.Staging
	store *Store
	tx    *sql.Tx
}

func (s *Session) conn() dbtx {
	if s.tx != nil {
		return s.tx
	}
	return s.store.db
}

// Query returns the queryable source for an entity type.
func (s *Session) Query(entityType string) query.Executor {
	return executor{session: s, entityType: entityType}
}

// SaveChanges writes the staged changes atomically. Inside a transaction a
// failed save is rolled back to a savepoint and the transaction stays usable.
func (s *Session) SaveChanges(ctx context.Context) (int, error) {
	pending := s.Pending()
	if len(pending) == 0 {
		return 0, nil
	}

	expected, undo := datastore.Stamp(pending, s.store.now())
	var n int
	var err error
	if s.tx != nil {
		n, err = s.saveInTx(ctx, pending, expected)
	} else {
		err = withTx(ctx, s.store.db, func(ctx context.Context, tx dbtx) error {
			var werr error
			n, werr = s.store.write(ctx, tx, pending, expected)
			return werr
		})
	}
	if err != nil {
		undo()
		return 0, err
	}
	s.ClearPending()
	return n, nil
}

func (s *Session) saveInTx(ctx context.Context, pending []datastore.Change, expected []int64) (int, error) {
	if _, err := s.tx.ExecContext(ctx, "SAVEPOINT arbor_save"); err != nil {
		return 0, err
	}
	n, err := s.store.write(ctx, s.tx, pending, expected)
	if err != nil {
		if _, rerr := s.tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT arbor_save"); rerr != nil {
			return 0, fmt.Errorf("%w (savepoint rollback: %v)", err, rerr)
		}
		return 0, err
	}
	if _, err := s.tx.ExecContext(ctx, "RELEASE SAVEPOINT arbor_save"); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *Session) Begin(ctx context.Context) error {
	if s.tx != nil {
		return datastore.ErrTransactionActive
	}
	tx, err := s.store.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	s.tx = tx
	return nil
}

func (s *Session) Commit(_ context.Context) error {
	if s.tx == nil {
		return datastore.ErrNoTransaction
	}
	tx := s.tx
	s.tx = nil
	return tx.Commit()
}

// Rollback rolls the transaction back and drops everything staged or
// tracked by the session.
func (s *Session) Rollback(_ context.Context) error {
	if s.tx == nil {
		return datastore.ErrNoTransaction
	}
	tx := s.tx
	s.tx = nil
	s.Reset()
	return tx.Rollback()
}

// Recreate drops and recreates the schema and everything the session tracks.
func (s *Session) Recreate(ctx context.Context) error {
	if s.tx != nil {
		_ = s.tx.Rollback()
		s.tx = nil
	}
	s.Reset()
	return s.store.Recreate(ctx)
}

type executor struct {
	session    *Session
	entityType string
}

func (e executor) plan(steps []query.Step) (*plan, error) {
	schema := e.session.store.schema
	if !schema.Has(e.entityType) {
		return nil, fmt.Errorf("%w: %q", datastore.ErrUnknownType, e.entityType)
	}
	_, archivable := schema.SoftDelete(e.entityType)
	sample, err := schema.New(e.entityType)
	if err != nil {
		return nil, err
	}
	return newPlan(e.session.store.dialect, e.entityType, steps, archivable, sample), nil
}

// rows loads the entities selected by p, then runs steps in memory when
// the plan is not exact.
func (e executor) rows(ctx context.Context, p *plan, steps []query.Step) ([]any, error) {
	rs, err := e.session.conn().QueryContext(ctx, p.selectSQL("body"), p.args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", e.entityType, err)
	}
	defer rs.Close()

	var items []any
	for rs.Next() {
		var body []byte
		if err := rs.Scan(&body); err != nil {
			return nil, err
		}
		ent, err := e.session.store.decode(e.entityType, body)
		if err != nil {
			return nil, err
		}
		items = append(items, ent)
	}
	if err := rs.Err(); err != nil {
		return nil, err
	}

	if !p.exact {
		items = query.Apply(steps, items, e.session.store.schema.Archived(e.entityType))
	}
	return items, nil
}

func (e executor) Any(ctx context.Context, steps []query.Step) (bool, error) {
	p, err := e.plan(steps)
	if err != nil {
		return false, err
	}
	if !p.exact {
		items, err := e.rows(ctx, p, steps)
		return len(items) > 0, err
	}
	var found bool
	err = e.session.conn().QueryRowContext(ctx, "SELECT EXISTS ("+p.selectSQL("1")+")", p.args...).Scan(&found)
	if err != nil {
		return false, fmt.Errorf("query %s: %w", e.entityType, err)
	}
	return found, nil
}

func (e executor) Count(ctx context.Context, steps []query.Step) (int, error) {
	p, err := e.plan(steps)
	if err != nil {
		return 0, err
	}
	if !p.exact {
		items, err := e.rows(ctx, p, steps)
		return len(items), err
	}
	var n int
	err = e.session.conn().QueryRowContext(ctx, "SELECT COUNT(*) FROM ("+p.selectSQL("1 AS one")+") AS page", p.args...).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("query %s: %w", e.entityType, err)
	}
	return n, nil
}

func (e executor) List(ctx context.Context, steps []query.Step) ([]any, error) {
	p, err := e.plan(steps)
	if err != nil {
		return nil, err
	}
	items, err := e.rows(ctx, p, steps)
	if err != nil {
		return nil, err
	}
	items = e.session.Resolve(steps, items)
	if err := query.Load(ctx, steps, items); err != nil {
		return nil, err
	}
	return items, nil
}

var (
	_ datastore.Backend = (*Store)(nil)
	_ datastore.Session = (*Session)(nil)
)
