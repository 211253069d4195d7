package predicate_test

import (
	"testing"
	"time"

	"github.com/jacentio/arbor/predicate"
)

type studio struct {
	ID    string
	Name  string
	Seats int
	Open  bool
}

var (
	idField    = predicate.NewField("id", func(s *studio) any { return s.ID })
	nameField  = predicate.NewField("name", func(s *studio) any { return s.Name })
	seatsField = predicate.NewField("seats", func(s *studio) any { return s.Seats })
)

func TestZeroPredicateMatchesEverything(t *testing.T) {
	var p predicate.Predicate[*studio]
	if !p.IsZero() {
		t.Fatal("expected zero predicate")
	}
	if !p.Match(&studio{}) {
		t.Error("expected zero predicate to match")
	}
	if p.Expr() != nil {
		t.Error("expected nil expression for zero predicate")
	}
}

func TestBuilder_EmptyCompilesToNoFilter(t *testing.T) {
	b := predicate.NewBuilder[*studio]()
	if !b.Predicate().IsZero() {
		t.Errorf("expected no filter, got %s", b.Predicate())
	}
}

func TestBuilder_AndNot(t *testing.T) {
	b := predicate.NewBuilder[*studio]()
	b.AndNot(idField.Eq("s1")).And(nameField.Eq("north"))
	p := b.Predicate()

	tests := []struct {
		name     string
		entity   *studio
		expected bool
	}{
		{"self is excluded", &studio{ID: "s1", Name: "north"}, false},
		{"other with same name", &studio{ID: "s2", Name: "north"}, true},
		{"other with different name", &studio{ID: "s2", Name: "south"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.Match(tt.entity); got != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, got)
			}
		})
	}
}

func TestBuilder_AndNotZeroIsNoop(t *testing.T) {
	b := predicate.NewBuilder[*studio]()
	b.AndNot(predicate.Predicate[*studio]{})
	if !b.Predicate().IsZero() {
		t.Errorf("expected AndNot of an absent predicate to add nothing, got %s", b.Predicate())
	}
}

func TestBuilder_InvertDoesNotMutate(t *testing.T) {
	b := predicate.NewBuilder[*studio]()
	b.And(nameField.Eq("north"))
	inv := b.Invert(nameField.Eq("north"))

	if inv.Match(&studio{Name: "north"}) {
		t.Error("expected inverted predicate to reject 'north'")
	}
	if !b.Predicate().Match(&studio{Name: "north"}) {
		t.Error("expected accumulated predicate to be unchanged")
	}
}

func TestAnd_Associative(t *testing.T) {
	a, b, c := nameField.Eq("north"), seatsField.Gt(10), idField.Ne("x")
	left := a.And(b).And(c)
	right := a.And(b.And(c))

	entities := []*studio{
		{ID: "a", Name: "north", Seats: 20},
		{ID: "x", Name: "north", Seats: 20},
		{ID: "a", Name: "north", Seats: 5},
		{ID: "a", Name: "south", Seats: 20},
	}
	for _, e := range entities {
		if left.Match(e) != right.Match(e) {
			t.Errorf("expected associativity for %+v", e)
		}
	}
}

func TestNot_DoubleNegation(t *testing.T) {
	p := nameField.Eq("north")
	nn := predicate.Not(predicate.Not(p))
	if nn.String() != p.String() {
		t.Errorf("expected %s, got %s", p, nn)
	}
}

func TestOr_ZeroOperandMatchesEverything(t *testing.T) {
	p := nameField.Eq("north").Or(predicate.Predicate[*studio]{})
	if !p.IsZero() {
		t.Errorf("expected zero predicate, got %s", p)
	}
}

func TestComparisons(t *testing.T) {
	s := &studio{Seats: 10}
	tests := []struct {
		name     string
		p        predicate.Predicate[*studio]
		expected bool
	}{
		{"eq", seatsField.Eq(10), true},
		{"eq across int kinds", seatsField.Eq(int64(10)), true},
		{"eq float", seatsField.Eq(10.0), true},
		{"ne", seatsField.Ne(10), false},
		{"lt", seatsField.Lt(11), true},
		{"le", seatsField.Le(10), true},
		{"gt", seatsField.Gt(10), false},
		{"ge", seatsField.Ge(10), true},
		{"in", seatsField.In(1, 10, 100), true},
		{"not in", seatsField.In(1, 2), false},
		{"incomparable lt", seatsField.Lt("ten"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.p.Match(s); got != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, got)
			}
		})
	}
}

func TestFunc_IsOpaque(t *testing.T) {
	p := predicate.Func("open", func(s *studio) bool { return s.Open })
	if predicate.Translatable(p.Expr()) {
		t.Error("expected opaque predicate to be untranslatable")
	}
	if !p.Match(&studio{Open: true}) {
		t.Error("expected opaque predicate to evaluate")
	}
	if p.Expr().Eval("not a studio") {
		t.Error("expected opaque predicate to reject values of another type")
	}
}

func TestPushable(t *testing.T) {
	opaque := predicate.Func("open", func(s *studio) bool { return s.Open })

	tests := []struct {
		name     string
		p        predicate.Predicate[*studio]
		expected string
	}{
		{"plain", nameField.Eq("a"), `name = "a"`},
		{"drops opaque conjunct", nameField.Eq("a").And(opaque), `name = "a"`},
		{"opaque under or", nameField.Eq("a").Or(opaque), ""},
		{"opaque under not", predicate.Not(opaque), ""},
		{"nested and", opaque.And(nameField.Eq("a").And(seatsField.Gt(1))), `(name = "a" AND seats > 1)`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := predicate.Pushable(tt.p.Expr())
			if tt.expected == "" {
				if got != nil {
					t.Errorf("expected nil, got %s", got)
				}
				return
			}
			if got == nil || got.String() != tt.expected {
				t.Errorf("expected %s, got %v", tt.expected, got)
			}
		})
	}
}

func TestCompare(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name     string
		a, b     any
		expected int
	}{
		{"nil first", nil, 1, -1},
		{"ints", 1, 2, -1},
		{"int vs float", 2, 1.5, 1},
		{"strings", "b", "a", 1},
		{"bools", false, true, -1},
		{"times", now, now.Add(time.Second), -1},
		{"equal strings", "a", "a", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := predicate.Compare(tt.a, tt.b); got != tt.expected {
				t.Errorf("expected %d, got %d", tt.expected, got)
			}
		})
	}
}

func TestString(t *testing.T) {
	p := nameField.Eq("north").And(predicate.Not(idField.In("a", "b")))
	expected := `(name = "north" AND NOT id IN ("a", "b"))`
	if p.String() != expected {
		t.Errorf("expected %s, got %s", expected, p.String())
	}
}
