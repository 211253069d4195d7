package cascade_test

import (
	"context"
	"errors"
	"testing"

	"github.com/jacentio/arbor/cascade"
	"github.com/jacentio/arbor/datastore"
	"github.com/jacentio/arbor/issue"
	"github.com/jacentio/arbor/memstore"
	"github.com/jacentio/arbor/predicate"
	"github.com/jacentio/arbor/query"
)

type studio struct {
	datastore.Base
	Name string `json:"name"`
}

func (*studio) EntityType() string { return "studio" }

type title struct {
	datastore.Base
	StudioID string `json:"studio_id"`
	Name     string `json:"name"`
}

func (*title) EntityType() string { return "title" }

type environment struct {
	datastore.Base
	TitleID string `json:"title_id"`
}

func (*environment) EntityType() string { return "environment" }

var (
	titleStudio = predicate.NewField("studio_id", func(t *title) any { return t.StudioID })
	envTitle    = predicate.NewField("title_id", func(e *environment) any { return e.TitleID })
)

type fixture struct {
	store  *memstore.Store
	sess   datastore.Session
	engine *cascade.Engine
}

func newFixture(t *testing.T, deferred bool) *fixture {
	t.Helper()
	schema := datastore.NewSchema()
	datastore.Register(schema, "studio", func() *studio { return &studio{} }).Archivable()
	datastore.Register(schema, "title", func() *title { return &title{} }).Archivable()
	datastore.Register(schema, "environment", func() *environment { return &environment{} }).Archivable()

	reg := cascade.NewRegistry().Register(
		cascade.Owns("studio", "title", titleStudio),
		cascade.Owns("title", "environment", envTitle),
	)
	cfg := cascade.DefaultConfig()
	cfg.Registry = reg
	cfg.Deferred = deferred

	st := memstore.New(schema)
	sess, err := st.NewSession(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return &fixture{store: st, sess: sess, engine: cascade.New(cfg)}
}

func (f *fixture) add(t *testing.T, es ...datastore.Entity) {
	t.Helper()
	ctx := context.Background()
	for _, e := range es {
		if err := f.sess.Add(ctx, e); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	f.save(t)
}

func (f *fixture) save(t *testing.T) {
	t.Helper()
	if _, err := f.sess.SaveChanges(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// depth reads the stored depth, bypassing the session's tracked instances.
func (f *fixture) depth(t *testing.T, entityType, id string) int {
	t.Helper()
	items, err := f.sess.Query(entityType).List(context.Background(), []query.Step{
		{Kind: query.StepNoTracking},
		{Kind: query.StepIncludeArchived},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, it := range items {
		e := it.(datastore.Entity)
		if e.EntityID() == id {
			return e.(datastore.SoftDeleter).ArchiveDepth()
		}
	}
	t.Fatalf("%s %s not found", entityType, id)
	return -1
}

func tree() (*studio, *title, *title, *environment) {
	s := &studio{Base: datastore.Base{ID: "s1"}, Name: "North"}
	t1 := &title{Base: datastore.Base{ID: "t1"}, StudioID: "s1", Name: "Rift"}
	t2 := &title{Base: datastore.Base{ID: "t2"}, StudioID: "s1", Name: "Ember"}
	env := &environment{Base: datastore.Base{ID: "e1"}, TitleID: "t1"}
	return s, t1, t2, env
}

func TestArchive_Cascades(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	s, t1, t2, env := tree()
	f.add(t, s, t1, t2, env)

	if err := f.engine.Archive(ctx, f.sess, s); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f.save(t)

	for _, c := range []struct{ typ, id string }{{"studio", "s1"}, {"title", "t1"}, {"title", "t2"}, {"environment", "e1"}} {
		if d := f.depth(t, c.typ, c.id); d != 1 {
			t.Errorf("%s %s: expected depth 1, got %d", c.typ, c.id, d)
		}
	}
}

func TestArchiveRestore_ReferenceCounted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	s, t1, t2, env := tree()
	f.add(t, s, t1, t2, env)

	// t1 archived on its own first.
	if err := f.engine.Archive(ctx, f.sess, t1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f.save(t)
	if err := f.engine.Archive(ctx, f.sess, s); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f.save(t)

	if d := f.depth(t, "title", "t1"); d != 2 {
		t.Errorf("expected t1 depth 2, got %d", d)
	}
	if d := f.depth(t, "environment", "e1"); d != 2 {
		t.Errorf("expected e1 depth 2, got %d", d)
	}

	if err := f.engine.Restore(ctx, f.sess, s); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f.save(t)

	tests := []struct {
		typ, id string
		expect  int
	}{
		{"studio", "s1", 0},
		{"title", "t1", 1},
		{"title", "t2", 0},
		{"environment", "e1", 1},
	}
	for _, tt := range tests {
		if d := f.depth(t, tt.typ, tt.id); d != tt.expect {
			t.Errorf("%s %s: expected depth %d, got %d", tt.typ, tt.id, tt.expect, d)
		}
	}
}

func TestRestore_ActiveIsNoop(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	s, t1, _, _ := tree()
	f.add(t, s, t1)

	// t1 archived alone: restoring the active studio must not touch it.
	if err := f.engine.Archive(ctx, f.sess, t1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f.save(t)
	if err := f.engine.Restore(ctx, f.sess, s); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f.save(t)

	if d := f.depth(t, "title", "t1"); d != 1 {
		t.Errorf("expected t1 depth 1, got %d", d)
	}
}

func TestRestore_DoesNotDescendIntoActive(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	s, t1, _, env := tree()
	f.add(t, s, t1, env)

	if err := f.engine.Archive(ctx, f.sess, s); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f.save(t)

	// Restore t1 alone, then the studio: e1 is restored once only.
	if err := f.engine.Restore(ctx, f.sess, t1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f.save(t)
	if err := f.engine.Restore(ctx, f.sess, s); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f.save(t)

	if d := f.depth(t, "environment", "e1"); d != 0 {
		t.Errorf("expected e1 depth 0, got %d", d)
	}
	if d := f.depth(t, "studio", "s1"); d != 0 {
		t.Errorf("expected s1 depth 0, got %d", d)
	}
}

func TestDelete_BlockedByActiveDependents(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	s, t1, t2, _ := tree()
	f.add(t, s, t1, t2)

	st, err := f.engine.Check(ctx, f.sess, s)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !st.Blocked || st.Blockers["title"] != 2 {
		t.Errorf("expected 2 title blockers, got %+v", st)
	}

	err = f.engine.Delete(ctx, f.sess, s)
	if !errors.Is(err, issue.ErrCascadeDeleteBlocked) {
		t.Fatalf("expected ErrCascadeDeleteBlocked, got %v", err)
	}
	n, _ := f.sess.SaveChanges(ctx)
	if n != 0 {
		t.Errorf("expected nothing staged, got %d changes", n)
	}
}

func TestDelete_RemovesArchivedTree(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	s, t1, t2, env := tree()
	f.add(t, s, t1, t2, env)

	if err := f.engine.Archive(ctx, f.sess, t1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := f.engine.Archive(ctx, f.sess, t2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f.save(t)

	if err := f.engine.Delete(ctx, f.sess, s); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f.save(t)

	for _, typ := range []string{"studio", "title", "environment"} {
		if n := f.store.Len(typ); n != 0 {
			t.Errorf("expected no %s left, got %d", typ, n)
		}
	}
}

func TestDelete_Leaf(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	_, _, _, env := tree()
	f.add(t, env)

	if err := f.engine.Delete(ctx, f.sess, env); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f.save(t)
	if n := f.store.Len("environment"); n != 0 {
		t.Errorf("expected environment removed, got %d", n)
	}
}

func TestDeferred_OnlyRoot(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	s, t1, _, _ := tree()
	f.add(t, s, t1)

	if err := f.engine.Archive(ctx, f.sess, s); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f.save(t)

	if d := f.depth(t, "studio", "s1"); d != 1 {
		t.Errorf("expected s1 depth 1, got %d", d)
	}
	if d := f.depth(t, "title", "t1"); d != 0 {
		t.Errorf("expected t1 untouched, got %d", d)
	}

	n, err := f.engine.Propagate(ctx, f.sess, s, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f.save(t)
	if n != 1 {
		t.Errorf("expected 1 dependent staged, got %d", n)
	}
	if d := f.depth(t, "title", "t1"); d != 1 {
		t.Errorf("expected t1 depth 1, got %d", d)
	}
}

func TestPropagate_NegativeFloorsAtZero(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	s, t1, t2, _ := tree()
	t1.Deleted = 1
	f.add(t, s, t1, t2)

	n, err := f.engine.Propagate(ctx, f.sess, s, -1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f.save(t)
	if n != 1 {
		t.Errorf("expected only the archived title staged, got %d", n)
	}
	if d := f.depth(t, "title", "t1"); d != 0 {
		t.Errorf("expected t1 depth 0, got %d", d)
	}
	if d := f.depth(t, "title", "t2"); d != 0 {
		t.Errorf("expected t2 depth 0, got %d", d)
	}
}

func TestArchive_CycleTerminates(t *testing.T) {
	ctx := context.Background()
	schema := datastore.NewSchema()
	datastore.Register(schema, "title", func() *title { return &title{} }).Archivable()

	// A title owning titles whose studio_id points at it; t1 and t2 own each other.
	parent := predicate.NewField("studio_id", func(t *title) any { return t.StudioID })
	cfg := cascade.DefaultConfig()
	cfg.Registry.Register(cascade.Owns("title", "title", parent))
	engine := cascade.New(cfg)

	st := memstore.New(schema)
	sess, _ := st.NewSession(ctx)
	t1 := &title{Base: datastore.Base{ID: "t1"}, StudioID: "t2"}
	t2 := &title{Base: datastore.Base{ID: "t2"}, StudioID: "t1"}
	_ = sess.Add(ctx, t1)
	_ = sess.Add(ctx, t2)
	if _, err := sess.SaveChanges(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := engine.Archive(ctx, sess, t1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if t1.Deleted != 1 || t2.Deleted != 1 {
		t.Errorf("expected both depths 1, got %d and %d", t1.Deleted, t2.Deleted)
	}
}

func TestCustomAccessors(t *testing.T) {
	ctx := context.Background()
	schema := datastore.NewSchema()
	datastore.Register(schema, "studio", func() *studio { return &studio{} })

	depths := map[string]int{}
	cfg := cascade.DefaultConfig()
	cfg.GetDepth = func(e datastore.Entity) int { return depths[e.EntityID()] }
	cfg.SetDepth = func(e datastore.Entity, d int) { depths[e.EntityID()] = d }
	engine := cascade.New(cfg)

	sess, _ := memstore.New(schema).NewSession(ctx)
	s := &studio{Base: datastore.Base{ID: "s1"}}
	if err := engine.Archive(ctx, sess, s); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if depths["s1"] != 1 {
		t.Errorf("expected custom depth 1, got %d", depths["s1"])
	}
	if s.Deleted != 0 {
		t.Errorf("expected embedded field untouched, got %d", s.Deleted)
	}
}

func TestArchive_NotArchivable(t *testing.T) {
	ctx := context.Background()
	schema := datastore.NewSchema()
	datastore.Register(schema, "studio", func() *studio { return &studio{} })
	engine := cascade.New(cascade.DefaultConfig())
	sess, _ := memstore.New(schema).NewSession(ctx)

	if err := engine.Archive(ctx, sess, &studio{Base: datastore.Base{ID: "s1"}}); err == nil {
		t.Error("expected error for non-archivable type")
	}
}
