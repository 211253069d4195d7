package datastore

import (
	"sync"
	"time"
)

// Op is the kind of a staged change.
type Op int

const (
	OpInsert Op = iota + 1
	OpUpdate
	OpDelete
)

func (o Op) String() string {
	switch o {
	case OpInsert:
		return "insert"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Change is one staged write.
type Change struct {
	Op     Op
	Entity Entity
}

// Changes is an ordered change set keyed by entity reference. Staging the
// same entity twice merges into one change.
type Changes struct {
	list  []Change
	index map[string]int
}

// Stage records op for e:
//   - insert then delete cancels out
//   - insert then update stays an insert
//   - delete then insert or update becomes an update
func (c *Changes) Stage(op Op, e Entity) {
	if c.index == nil {
		c.index = make(map[string]int)
	}
	ref := Ref(e)
	i, ok := c.index[ref]
	if !ok {
		c.index[ref] = len(c.list)
		c.list = append(c.list, Change{Op: op, Entity: e})
		return
	}

	prev := c.list[i].Op
	switch {
	case prev == OpInsert && op == OpDelete:
		c.drop(i)
		return
	case prev == OpInsert:
		op = OpInsert
	case prev == OpDelete && op != OpDelete:
		op = OpUpdate
	}
	c.list[i] = Change{Op: op, Entity: e}
}

func (c *Changes) drop(i int) {
	c.list = append(c.list[:i], c.list[i+1:]...)
	c.index = make(map[string]int, len(c.list))
	for j, ch := range c.list {
		c.index[Ref(ch.Entity)] = j
	}
}

// List returns a copy of the changes in staging order.
func (c *Changes) List() []Change {
	out := make([]Change, len(c.list))
	copy(out, c.list)
	return out
}

// Len returns the number of staged changes.
func (c *Changes) Len() int { return len(c.list) }

// Reset drops all changes.
func (c *Changes) Reset() {
	c.list = nil
	c.index = nil
}

// Stamp prepares changes for a flush: versions are bumped and audit fields
// set. expected[i] is the version the stored copy of changes[i] must carry
// (0 for inserts). Call undo when the flush fails.
func Stamp(changes []Change, now time.Time) (expected []int64, undo func()) {
	expected = make([]int64, len(changes))
	var restore []func()
	for i, c := range changes {
		if v, ok := c.Entity.(Versioned); ok {
			prev := v.EntityVersion()
			expected[i] = prev
			switch c.Op {
			case OpInsert:
				expected[i] = 0
				v.SetEntityVersion(1)
			case OpUpdate:
				v.SetEntityVersion(prev + 1)
			}
			restore = append(restore, func() { v.SetEntityVersion(prev) })
		}
		if a, ok := c.Entity.(Audited); ok && c.Op != OpDelete {
			a.Touch(c.Op == OpInsert, now)
		}
	}
	return expected, func() {
		for _, fn := range restore {
			fn()
		}
	}
}

// IdentityMap keeps one instance per entity reference.
type IdentityMap struct {
	mu sync.Mutex
	m  map[string]Entity
}

// Track returns the tracked instance for e's reference, tracking e when
// none exists yet.
func (im *IdentityMap) Track(e Entity) Entity {
	im.mu.Lock()
	defer im.mu.Unlock()
	if im.m == nil {
		im.m = make(map[string]Entity)
	}
	ref := Ref(e)
	if cur, ok := im.m[ref]; ok {
		return cur
	}
	im.m[ref] = e
	return e
}

// Forget stops tracking e.
func (im *IdentityMap) Forget(e Entity) {
	im.mu.Lock()
	delete(im.m, Ref(e))
	im.mu.Unlock()
}

// Reset forgets every tracked instance.
func (im *IdentityMap) Reset() {
	im.mu.Lock()
	im.m = nil
	im.mu.Unlock()
}
