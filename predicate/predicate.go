package predicate

// Predicate is a boolean filter over values of type T.
// The zero value matches everything.
type Predicate[T any] struct {
	expr Expr
}

// Of re-types an expression as a predicate over T.
func Of[T any](e Expr) Predicate[T] {
	return Predicate[T]{expr: e}
}

// Func wraps a closure. Stores evaluate it in memory.
func Func[T any](name string, fn func(T) bool) Predicate[T] {
	return Predicate[T]{expr: Opaque{
		Name: name,
		fn: func(v any) bool {
			t, ok := v.(T)
			return ok && fn(t)
		},
	}}
}

// Expr returns the expression tree, or nil for the zero predicate.
func (p Predicate[T]) Expr() Expr { return p.expr }

// IsZero reports whether the predicate is absent.
func (p Predicate[T]) IsZero() bool { return p.expr == nil }

// Match reports whether v satisfies the predicate.
func (p Predicate[T]) Match(v T) bool {
	if p.expr == nil {
		return true
	}
	return p.expr.Eval(v)
}

func (p Predicate[T]) String() string {
	if p.expr == nil {
		return "TRUE"
	}
	return p.expr.String()
}

// And returns p AND q. A zero operand is the identity.
func (p Predicate[T]) And(q Predicate[T]) Predicate[T] {
	switch {
	case p.expr == nil:
		return q
	case q.expr == nil:
		return p
	}
	return Predicate[T]{expr: And{Left: p.expr, Right: q.expr}}
}

// Or returns p OR q. A zero operand already matches everything, so the
// result is zero too.
func (p Predicate[T]) Or(q Predicate[T]) Predicate[T] {
	if p.expr == nil || q.expr == nil {
		return Predicate[T]{}
	}
	return Predicate[T]{expr: Or{Left: p.expr, Right: q.expr}}
}

// Not returns the negation of p. Negating an absent predicate yields an
// absent predicate: there is nothing to exclude.
func Not[T any](p Predicate[T]) Predicate[T] {
	if p.expr == nil {
		return p
	}
	if n, ok := p.expr.(Negation); ok {
		return Predicate[T]{expr: n.X}
	}
	return Predicate[T]{expr: Negation{X: p.expr}}
}

// All conjoins predicates, skipping zero ones.
func All[T any](ps ...Predicate[T]) Predicate[T] {
	var out Predicate[T]
	for _, p := range ps {
		out = out.And(p)
	}
	return out
}

// Field names an entity attribute and knows how to read it.
// Name is the attribute name stores use when translating filters and orderings.
type Field[T any] struct {
	Name string
	get  func(T) any
}

// NewField creates a Field.
func NewField[T any](name string, get func(T) any) Field[T] {
	return Field[T]{Name: name, get: get}
}

// Get reads the field from v.
func (f Field[T]) Get(v T) any { return f.get(v) }

// Accessor returns an untyped accessor for the field.
func (f Field[T]) Accessor() Accessor {
	return func(v any) (any, bool) {
		t, ok := v.(T)
		if !ok {
			return nil, false
		}
		return f.get(t), true
	}
}

func (f Field[T]) cmp(op Op, value any) Predicate[T] {
	return Predicate[T]{expr: Comparison{Field: f.Name, Op: op, Value: value, get: f.Accessor()}}
}

func (f Field[T]) Eq(value any) Predicate[T] { return f.cmp(Eq, value) }
func (f Field[T]) Ne(value any) Predicate[T] { return f.cmp(Ne, value) }
func (f Field[T]) Lt(value any) Predicate[T] { return f.cmp(Lt, value) }
func (f Field[T]) Le(value any) Predicate[T] { return f.cmp(Le, value) }
func (f Field[T]) Gt(value any) Predicate[T] { return f.cmp(Gt, value) }
func (f Field[T]) Ge(value any) Predicate[T] { return f.cmp(Ge, value) }

// In matches when the field equals any of values.
func (f Field[T]) In(values ...any) Predicate[T] {
	return Predicate[T]{expr: Membership{Field: f.Name, Values: values, get: f.Accessor()}}
}

// Builder accumulates predicates with AND.
type Builder[T any] struct {
	acc Predicate[T]
}

// NewBuilder creates an empty Builder.
func NewBuilder[T any]() *Builder[T] {
	return &Builder[T]{}
}

// And conjoins p with the accumulated predicate.
func (b *Builder[T]) And(p Predicate[T]) *Builder[T] {
	b.acc = b.acc.And(p)
	return b
}

// AndNot conjoins the negation of p with the accumulated predicate.
func (b *Builder[T]) AndNot(p Predicate[T]) *Builder[T] {
	b.acc = b.acc.And(Not(p))
	return b
}

// Invert returns the negation of p without touching the accumulated state.
func (b *Builder[T]) Invert(p Predicate[T]) Predicate[T] {
	return Not(p)
}

// Predicate returns the accumulated predicate; zero when nothing was added.
func (b *Builder[T]) Predicate() Predicate[T] {
	return b.acc
}
