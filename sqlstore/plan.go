package sqlstore

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/jacentio/arbor/predicate"
	"github.com/jacentio/arbor/query"
)

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// plan is the SQL rendering of a step list. When exact is false only a
// superset filter was pushed down and the steps must run in memory on the
// rows returned.
type plan struct {
	d      Dialect
	args   []any
	where  []string
	order  []string
	offset int
	limit  int
	exact  bool
}

func (p *plan) arg(v any) string {
	p.args = append(p.args, v)
	return p.d.placeholder(len(p.args))
}

func (p *plan) field(name string) string {
	return p.d.extract(p.arg(p.d.path(name)))
}

// newPlan renders steps for entityType. Archived rows are excluded unless
// the type is not archivable or the steps include them. sample is a zero
// entity of the type, used to find which orderings SQL can reproduce.
func newPlan(d Dialect, entityType string, steps []query.Step, archivable bool, sample any) *plan {
	p := &plan{d: d, limit: -1, exact: true}
	p.where = append(p.where, "entity_type = "+p.arg(entityType))
	if archivable && !query.IncludesArchived(steps) {
		p.where = append(p.where, "archive_depth = 0")
	}

	paged := false
	var order []string
	for _, s := range steps {
		switch s.Kind {
		case query.StepWhere:
			if s.Filter == nil {
				continue
			}
			if paged {
				p.exact = false
				continue
			}
			if expressible(s.Filter) {
				p.where = append(p.where, p.expr(s.Filter))
				continue
			}
			p.exact = false
			if part := predicate.Pushable(s.Filter); part != nil && expressible(part) {
				p.where = append(p.where, p.expr(part))
			}
		case query.StepOrderBy, query.StepOrderByDescending:
			if paged || !orderable(s.Key, sample) {
				p.exact = false
				continue
			}
			dir := "ASC"
			if s.Kind == query.StepOrderByDescending {
				dir = "DESC"
			}
			// The last ordering is the primary key; earlier ones break ties.
			order = append([]string{s.Key.Field + " " + dir}, order...)
		case query.StepSkip:
			paged = true
			n := max(s.N, 0)
			if p.limit >= 0 {
				p.limit = max(p.limit-n, 0)
			}
			p.offset += n
		case query.StepTake:
			paged = true
			n := max(s.N, 0)
			if p.limit < 0 || n < p.limit {
				p.limit = n
			}
		}
	}

	if p.exact {
		for _, o := range order {
			name, dir, _ := strings.Cut(o, " ")
			p.order = append(p.order, p.d.sortable(p.arg(p.d.path(name)))+" "+dir)
		}
	} else {
		p.offset, p.limit = 0, -1
	}
	p.order = append(p.order, "seq ASC")
	return p
}

// orderable reports whether SQL sorts k like the in-memory pipeline does.
// Only string and number fields qualify: JSON text of other values, such as
// timestamps with trimmed fractions, does not sort in value order.
func orderable(k query.Key, sample any) (ok bool) {
	if !identifier.MatchString(k.Field) || k.Get == nil || sample == nil {
		return false
	}
	// Accessors may reach through pointers that are nil on a zero entity.
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	v, found := k.Get(sample)
	if !found {
		return false
	}
	switch class(v) {
	case classString, classNumber:
		return true
	}
	return false
}

// selectSQL renders the SELECT of cols for the plan.
func (p *plan) selectSQL(cols string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM entities WHERE %s", cols, strings.Join(p.where, " AND "))
	b.WriteString(" ORDER BY " + strings.Join(p.order, ", "))
	b.WriteString(p.d.page(p.offset, p.limit))
	return b.String()
}

// expr renders e. Callers check expressible first.
func (p *plan) expr(e predicate.Expr) string {
	switch x := e.(type) {
	case predicate.Comparison:
		return fmt.Sprintf("%s %s %s", p.d.cast(p.field(x.Field), x.Value), x.Op, p.arg(bindable(x.Value)))
	case predicate.Membership:
		f := p.d.cast(p.field(x.Field), x.Values[0])
		vals := make([]string, len(x.Values))
		for i, v := range x.Values {
			vals[i] = p.arg(bindable(v))
		}
		return fmt.Sprintf("%s IN (%s)", f, strings.Join(vals, ", "))
	case predicate.And:
		return "(" + p.expr(x.Left) + " AND " + p.expr(x.Right) + ")"
	case predicate.Or:
		return "(" + p.expr(x.Left) + " OR " + p.expr(x.Right) + ")"
	case predicate.Negation:
		return "NOT (" + p.expr(x.X) + ")"
	}
	panic(fmt.Sprintf("sqlstore: unexpected expression %T", e))
}

// expressible reports whether e can be rendered with the same meaning as
// its in-memory evaluation.
func expressible(e predicate.Expr) bool {
	switch x := e.(type) {
	case predicate.Comparison:
		if !identifier.MatchString(x.Field) {
			return false
		}
		switch class(x.Value) {
		case classString, classNumber:
			return true
		case classBool:
			return x.Op == predicate.Eq || x.Op == predicate.Ne
		}
		return false
	case predicate.Membership:
		if !identifier.MatchString(x.Field) || len(x.Values) == 0 {
			return false
		}
		first := class(x.Values[0])
		if first == classNone {
			return false
		}
		for _, v := range x.Values[1:] {
			if class(v) != first {
				return false
			}
		}
		return true
	case predicate.And:
		return expressible(x.Left) && expressible(x.Right)
	case predicate.Or:
		return expressible(x.Left) && expressible(x.Right)
	case predicate.Negation:
		return expressible(x.X)
	}
	return false
}
