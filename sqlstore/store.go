// Package sqlstore is a relational entity store on database/sql.
//
// All entity types share one "entities" table: the entity is stored as a
// JSON body next to its type, id, archive depth and version columns. The
// schema is managed with embedded goose migrations. Step lists whose
// filters and orderings can be rendered as SQL run entirely in the
// database; anything else loads the type's rows and runs in memory.
//
// Predicate field names must be the entity's json attribute names.
package sqlstore

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"time"

	"github.com/pressly/goose/v3"

	"github.com/jacentio/arbor/datastore"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

//go:embed migrations
var migrations embed.FS

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is a database/sql Backend.
type Store struct {
	db      *sql.DB
	dialect Dialect
	schema  *datastore.Schema
	now     func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the time source used for audit timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates a Store on an open database.
func New(db *sql.DB, dialect Dialect, schema *datastore.Schema, opts ...Option) *Store {
	s := &Store{
		db:      db,
		dialect: dialect,
		schema:  schema,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open opens the database at dsn with the dialect's driver and checks the
// connection. SQLite databases are limited to one connection.
func Open(ctx context.Context, dialect Dialect, dsn string, schema *datastore.Schema, opts ...Option) (*Store, error) {
	db, err := sql.Open(dialect.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}
	if dialect.name == SQLite.name {
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping error: %w", err)
	}
	return New(db, dialect, schema, opts...), nil
}

func (s *Store) Schema() *datastore.Schema { return s.schema }

// DB returns the underlying database handle.
func (s *Store) DB() *sql.DB { return s.db }

// Dialect returns the store's dialect.
func (s *Store) Dialect() Dialect { return s.dialect }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) provider() (*goose.Provider, error) {
	fsys, err := fs.Sub(migrations, s.dialect.dir)
	if err != nil {
		return nil, err
	}
	return goose.NewProvider(s.dialect.goose, s.db, fsys)
}

// Migrate applies all pending migrations.
func (s *Store) Migrate(ctx context.Context) error {
	p, err := s.provider()
	if err != nil {
		return fmt.Errorf("migration setup error: %w", err)
	}
	if _, err := p.Up(ctx); err != nil {
		return fmt.Errorf("migration error: %w", err)
	}
	return nil
}

// Recreate rolls every migration back and applies them again. All data is
// lost.
func (s *Store) Recreate(ctx context.Context) error {
	p, err := s.provider()
	if err != nil {
		return fmt.Errorf("migration setup error: %w", err)
	}
	if _, err := p.DownTo(ctx, 0); err != nil {
		return fmt.Errorf("migration down error: %w", err)
	}
	if _, err := p.Up(ctx); err != nil {
		return fmt.Errorf("migration error: %w", err)
	}
	return nil
}

// NewSession opens a session on the store.
func (s *Store) NewSession(_ context.Context) (datastore.Session, error) {
	return &Session{Staging: datastore.NewStaging(s.schema), store: s}, nil
}

// withTx runs fn in a database transaction, committing on success and
// rolling back on error or panic. Panics are rethrown.
func withTx(ctx context.Context, db *sql.DB, fn func(ctx context.Context, tx dbtx) error) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()

	err = fn(ctx, tx)
	return err
}

// write applies stamped changes. expected[i] is the version the row of
// changes[i] must have for updates and deletes of Versioned entities.
func (s *Store) write(ctx context.Context, q dbtx, changes []datastore.Change, expected []int64) (int, error) {
	d := s.dialect
	for i, c := range changes {
		typ, id := c.Entity.EntityType(), c.Entity.EntityID()
		_, versioned := c.Entity.(datastore.Versioned)

		var (
			res sql.Result
			err error
		)
		switch c.Op {
		case datastore.OpInsert:
			body, merr := json.Marshal(c.Entity)
			if merr != nil {
				return 0, fmt.Errorf("failed to encode %s: %w", datastore.Ref(c.Entity), merr)
			}
			res, err = q.ExecContext(ctx, fmt.Sprintf(
				"INSERT INTO entities (entity_type, id, archive_depth, version, body) VALUES (%s, %s, %s, %s, %s) ON CONFLICT (entity_type, id) DO NOTHING",
				d.placeholder(1), d.placeholder(2), d.placeholder(3), d.placeholder(4), d.placeholder(5)),
				typ, id, s.depthOf(c.Entity), versionOf(c.Entity), string(body))
		case datastore.OpUpdate:
			body, merr := json.Marshal(c.Entity)
			if merr != nil {
				return 0, fmt.Errorf("failed to encode %s: %w", datastore.Ref(c.Entity), merr)
			}
			stmt := fmt.Sprintf(
				"UPDATE entities SET archive_depth = %s, version = %s, body = %s WHERE entity_type = %s AND id = %s",
				d.placeholder(1), d.placeholder(2), d.placeholder(3), d.placeholder(4), d.placeholder(5))
			args := []any{s.depthOf(c.Entity), versionOf(c.Entity), string(body), typ, id}
			if versioned {
				stmt += " AND version = " + d.placeholder(6)
				args = append(args, expected[i])
			}
			res, err = q.ExecContext(ctx, stmt, args...)
		case datastore.OpDelete:
			stmt := fmt.Sprintf("DELETE FROM entities WHERE entity_type = %s AND id = %s", d.placeholder(1), d.placeholder(2))
			args := []any{typ, id}
			if versioned {
				stmt += " AND version = " + d.placeholder(3)
				args = append(args, expected[i])
			}
			res, err = q.ExecContext(ctx, stmt, args...)
		}
		if err != nil {
			return 0, fmt.Errorf("failed to write %s: %w", datastore.Ref(c.Entity), err)
		}

		n, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		if n == 0 {
			if c.Op == datastore.OpInsert {
				return 0, fmt.Errorf("%w: %s", datastore.ErrAlreadyExists, datastore.Ref(c.Entity))
			}
			return 0, datastore.Conflict(c.Entity, "entity was changed or removed")
		}
	}
	return len(changes), nil
}

func (s *Store) depthOf(e datastore.Entity) int {
	if sd, ok := s.schema.SoftDelete(e.EntityType()); ok {
		return sd.Get(e)
	}
	return 0
}

func versionOf(e datastore.Entity) int64 {
	if v, ok := e.(datastore.Versioned); ok {
		return v.EntityVersion()
	}
	return 0
}

func (s *Store) decode(entityType string, body []byte) (datastore.Entity, error) {
	e, err := s.schema.New(entityType)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(body, e); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", entityType, err)
	}
	return e, nil
}
