// Package memstore is an in-memory entity store. Entities are kept as JSON
// snapshots so sessions never share mutable state with the store.
//
// Writes become visible to every session on SaveChanges; a transaction only
// adds the ability to roll them back.
package memstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jacentio/arbor/datastore"
	"github.com/jacentio/arbor/query"
)

type row struct {
	seq     int64
	version int64
	body    []byte
}

type table map[string]row

// Store is a goroutine-safe in-memory Backend.
type Store struct {
	schema *datastore.Schema
	now    func() time.Time

	mu     sync.RWMutex
	tables map[string]table
	seq    int64
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the time source used for audit timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates an empty Store for the entity types in schema.
func New(schema *datastore.Schema, opts ...Option) *Store {
	s := &Store{
		schema: schema,
		now:    time.Now,
		tables: make(map[string]table),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Schema() *datastore.Schema { return s.schema }

// NewSession opens a session on the store.
func (s *Store) NewSession(_ context.Context) (datastore.Session, error) {
	return &Session{Staging: datastore.NewStaging(s.schema), store: s}, nil
}

// Recreate drops every stored entity.
func (s *Store) Recreate(_ context.Context) error {
	s.mu.Lock()
	s.tables = make(map[string]table)
	s.mu.Unlock()
	return nil
}

// Len returns the number of stored entities of a type, archived included.
func (s *Store) Len(entityType string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tables[entityType])
}

func (s *Store) load(entityType string) ([]any, error) {
	s.mu.RLock()
	rows := make([]row, 0, len(s.tables[entityType]))
	for _, r := range s.tables[entityType] {
		rows = append(rows, r)
	}
	s.mu.RUnlock()

	sort.Slice(rows, func(i, j int) bool { return rows[i].seq < rows[j].seq })

	items := make([]any, 0, len(rows))
	for _, r := range rows {
		e, err := s.schema.New(entityType)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(r.body, e); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", entityType, err)
		}
		items = append(items, e)
	}
	return items, nil
}

func (s *Store) snapshot() map[string]table {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]table, len(s.tables))
	for name, t := range s.tables {
		cp := make(table, len(t))
		for id, r := range t {
			cp[id] = r
		}
		out[name] = cp
	}
	return out
}

func (s *Store) restore(tables map[string]table) {
	s.mu.Lock()
	s.tables = tables
	s.mu.Unlock()
}

func (s *Store) apply(changes []datastore.Change) (int, error) {
	expected, undo := datastore.Stamp(changes, s.now())

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(changes, expected); err != nil {
		undo()
		return 0, err
	}

	bodies := make([][]byte, len(changes))
	for i, c := range changes {
		if c.Op == datastore.OpDelete {
			continue
		}
		b, err := json.Marshal(c.Entity)
		if err != nil {
			undo()
			return 0, fmt.Errorf("failed to encode %s: %w", datastore.Ref(c.Entity), err)
		}
		bodies[i] = b
	}

	for i, c := range changes {
		typ, id := c.Entity.EntityType(), c.Entity.EntityID()
		t := s.tables[typ]
		if t == nil {
			t = make(table)
			s.tables[typ] = t
		}
		switch c.Op {
		case datastore.OpInsert:
			s.seq++
			t[id] = row{seq: s.seq, version: versionOf(c.Entity), body: bodies[i]}
		case datastore.OpUpdate:
			t[id] = row{seq: t[id].seq, version: versionOf(c.Entity), body: bodies[i]}
		case datastore.OpDelete:
			delete(t, id)
		}
	}
	return len(changes), nil
}

func (s *Store) check(changes []datastore.Change, expected []int64) error {
	for i, c := range changes {
		r, exists := s.tables[c.Entity.EntityType()][c.Entity.EntityID()]
		switch c.Op {
		case datastore.OpInsert:
			if exists {
				return fmt.Errorf("%w: %s", datastore.ErrAlreadyExists, datastore.Ref(c.Entity))
			}
		default:
			if !exists {
				return datastore.Conflict(c.Entity, "entity no longer exists")
			}
			if _, ok := c.Entity.(datastore.Versioned); ok && r.version != expected[i] {
				return datastore.Conflict(c.Entity, fmt.Sprintf("expected version %d, found %d", expected[i], r.version))
			}
		}
	}
	return nil
}

func versionOf(e datastore.Entity) int64 {
	if v, ok := e.(datastore.Versioned); ok {
		return v.EntityVersion()
	}
	return 0
}

var (
	_ datastore.Backend = (*Store)(nil)
	_ datastore.Session = (*Session)(nil)
)

// Session is a unit of work on a Store.
type Session struct {
	datastore.Staging
	store *Store
	saved map[string]table
}

// Query returns the queryable source for an entity type.
func (s *Session) Query(entityType string) query.Executor {
	return executor{session: s, entityType: entityType}
}

// SaveChanges writes the staged changes atomically.
func (s *Session) SaveChanges(_ context.Context) (int, error) {
	pending := s.Pending()
	if len(pending) == 0 {
		return 0, nil
	}
	n, err := s.store.apply(pending)
	if err != nil {
		return 0, err
	}
	s.ClearPending()
	return n, nil
}

func (s *Session) Begin(_ context.Context) error {
	if s.saved != nil {
		return datastore.ErrTransactionActive
	}
	s.saved = s.store.snapshot()
	return nil
}

func (s *Session) Commit(_ context.Context) error {
	if s.saved == nil {
		return datastore.ErrNoTransaction
	}
	s.saved = nil
	return nil
}

// Rollback restores the store to its state at Begin and drops everything
// staged or tracked by the session.
func (s *Session) Rollback(_ context.Context) error {
	if s.saved == nil {
		return datastore.ErrNoTransaction
	}
	s.store.restore(s.saved)
	s.saved = nil
	s.Reset()
	return nil
}

type executor struct {
	session    *Session
	entityType string
}

func (e executor) run(steps []query.Step) ([]any, error) {
	if !e.session.Schema().Has(e.entityType) {
		return nil, fmt.Errorf("%w: %q", datastore.ErrUnknownType, e.entityType)
	}
	items, err := e.session.store.load(e.entityType)
	if err != nil {
		return nil, err
	}
	return query.Apply(steps, items, e.session.Schema().Archived(e.entityType)), nil
}

func (e executor) Any(_ context.Context, steps []query.Step) (bool, error) {
	items, err := e.run(steps)
	return len(items) > 0, err
}

func (e executor) Count(_ context.Context, steps []query.Step) (int, error) {
	items, err := e.run(steps)
	return len(items), err
}

func (e executor) List(ctx context.Context, steps []query.Step) ([]any, error) {
	items, err := e.run(steps)
	if err != nil {
		return nil, err
	}
	items = e.session.Resolve(steps, items)
	if err := query.Load(ctx, steps, items); err != nil {
		return nil, err
	}
	return items, nil
}

// Recreate drops every stored entity and everything the session tracks.
func (s *Session) Recreate(ctx context.Context) error {
	s.saved = nil
	s.Reset()
	return s.store.Recreate(ctx)
}
