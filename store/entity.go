package store

import "github.com/jacentio/arbor/predicate"

// Uniqueness describes the condition no two live entities may satisfy at
// the same time.
type Uniqueness[E any] struct {
	Condition   predicate.Predicate[E]
	Description string
}

// Unique is implemented by entities with a uniqueness rule. Returning nil
// or a zero Condition disables the check.
type Unique[E any] interface {
	Uniqueness() *Uniqueness[E]
}

func uniquenessOf[E any](e E) *Uniqueness[E] {
	u, ok := any(e).(Unique[E])
	if !ok {
		return nil
	}
	d := u.Uniqueness()
	if d == nil || d.Condition.IsZero() {
		return nil
	}
	return d
}
