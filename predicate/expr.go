// Package predicate builds and combines boolean filters over entity types.
//
// A [Predicate] wraps an expression tree made of field comparisons,
// boolean connectives and opaque closures. The zero Predicate means
// "no filter": combining it with another predicate yields the other one,
// and applying it to a query leaves the query untouched.
//
// Stores translate the tree into their native filter form with a type
// switch over the exported node types. [Opaque] nodes cannot be translated
// and are evaluated in memory only.
package predicate

import (
	"fmt"
	"strings"
)

// Op is a comparison operator.
type Op int

const (
	Eq Op = iota + 1
	Ne
	Lt
	Le
	Gt
	Ge
)

func (o Op) String() string {
	switch o {
	case Eq:
		return "="
	case Ne:
		return "<>"
	case Lt:
		return "<"
	case Le:
		return "<="
	case Gt:
		return ">"
	case Ge:
		return ">="
	default:
		return fmt.Sprintf("Op(%d)", int(o))
	}
}

// Accessor reads a field from an entity. ok is false when v is not of the
// entity type the accessor was built for.
type Accessor func(v any) (value any, ok bool)

// Expr is a node of a predicate expression tree.
type Expr interface {
	// Eval reports whether v satisfies the expression.
	Eval(v any) bool
	String() string
	isExpr()
}

// Comparison compares a named field against a constant.
type Comparison struct {
	Field string
	Op    Op
	Value any
	get   Accessor
}

// Membership matches when a named field equals one of Values.
type Membership struct {
	Field  string
	Values []any
	get    Accessor
}

// And is the conjunction of two expressions.
type And struct {
	Left, Right Expr
}

// Or is the disjunction of two expressions.
type Or struct {
	Left, Right Expr
}

// Negation negates an expression.
type Negation struct {
	X Expr
}

// Opaque is a closure that stores cannot translate.
type Opaque struct {
	Name string
	fn   func(v any) bool
}

func (Comparison) isExpr() {}
func (Membership) isExpr() {}
func (And) isExpr()        {}
func (Or) isExpr()         {}
func (Negation) isExpr()   {}
func (Opaque) isExpr()     {}

func (c Comparison) Eval(v any) bool {
	got, ok := c.get(v)
	if !ok {
		return false
	}
	switch c.Op {
	case Eq:
		return Equal(got, c.Value)
	case Ne:
		return !Equal(got, c.Value)
	}
	cmp, ok := compare(got, c.Value)
	if !ok {
		return false
	}
	switch c.Op {
	case Lt:
		return cmp < 0
	case Le:
		return cmp <= 0
	case Gt:
		return cmp > 0
	case Ge:
		return cmp >= 0
	}
	return false
}

func (c Comparison) String() string {
	return fmt.Sprintf("%s %s %s", c.Field, c.Op, literal(c.Value))
}

func (m Membership) Eval(v any) bool {
	got, ok := m.get(v)
	if !ok {
		return false
	}
	for _, want := range m.Values {
		if Equal(got, want) {
			return true
		}
	}
	return false
}

func (m Membership) String() string {
	parts := make([]string, len(m.Values))
	for i, v := range m.Values {
		parts[i] = literal(v)
	}
	return fmt.Sprintf("%s IN (%s)", m.Field, strings.Join(parts, ", "))
}

func (a And) Eval(v any) bool      { return a.Left.Eval(v) && a.Right.Eval(v) }
func (a And) String() string       { return "(" + a.Left.String() + " AND " + a.Right.String() + ")" }
func (o Or) Eval(v any) bool       { return o.Left.Eval(v) || o.Right.Eval(v) }
func (o Or) String() string        { return "(" + o.Left.String() + " OR " + o.Right.String() + ")" }
func (n Negation) Eval(v any) bool { return !n.X.Eval(v) }
func (n Negation) String() string  { return "NOT " + n.X.String() }
func (o Opaque) Eval(v any) bool   { return o.fn(v) }
func (o Opaque) String() string    { return o.Name + "(?)" }

// Translatable reports whether e contains no Opaque nodes.
func Translatable(e Expr) bool {
	switch n := e.(type) {
	case nil:
		return true
	case And:
		return Translatable(n.Left) && Translatable(n.Right)
	case Or:
		return Translatable(n.Left) && Translatable(n.Right)
	case Negation:
		return Translatable(n.X)
	case Opaque:
		return false
	default:
		return true
	}
}

// Pushable returns the largest translatable expression implied by e, or nil.
// Untranslatable conjuncts are dropped, so the result matches a superset of
// what e matches; callers must still evaluate e on what the store returns.
func Pushable(e Expr) Expr {
	switch n := e.(type) {
	case nil:
		return nil
	case And:
		l, r := Pushable(n.Left), Pushable(n.Right)
		switch {
		case l == nil:
			return r
		case r == nil:
			return l
		}
		return And{Left: l, Right: r}
	default:
		if Translatable(e) {
			return e
		}
		return nil
	}
}

func literal(v any) string {
	if s, ok := v.(string); ok {
		return fmt.Sprintf("%q", s)
	}
	return fmt.Sprintf("%v", v)
}
