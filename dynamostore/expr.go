package dynamostore

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/arbor/predicate"
	"github.com/jacentio/arbor/query"
)

// maxInValues is the DynamoDB limit on IN operands.
const maxInValues = 100

// filter accumulates a FilterExpression with #attrN / :valN placeholders.
type filter struct {
	clauses []string
	names   map[string]string
	values  map[string]types.AttributeValue
}

func newFilter() *filter {
	return &filter{
		names:  make(map[string]string),
		values: make(map[string]types.AttributeValue),
	}
}

func (f *filter) name(attr string) string {
	for k, v := range f.names {
		if v == attr {
			return k
		}
	}
	k := fmt.Sprintf("#attr%d", len(f.names))
	f.names[k] = attr
	return k
}

func (f *filter) value(v types.AttributeValue) string {
	k := fmt.Sprintf(":val%d", len(f.values))
	f.values[k] = v
	return k
}

func (f *filter) add(clause string) {
	if clause != "" {
		f.clauses = append(f.clauses, clause)
	}
}

// Expression returns the combined expression, or "" when empty.
func (f *filter) Expression() string {
	switch len(f.clauses) {
	case 0:
		return ""
	case 1:
		return f.clauses[0]
	default:
		return "(" + strings.Join(f.clauses, ") AND (") + ")"
	}
}

// archived adds the implicit "exclude archived" clause on attr.
func (f *filter) archived(attr string) {
	n := f.name(attr)
	zero := f.value(&types.AttributeValueMemberN{Value: "0"})
	f.add(fmt.Sprintf("attribute_not_exists(%s) OR %s = %s", n, n, zero))
}

// translate renders e, reporting false when some part of it cannot be
// expressed.
func (f *filter) translate(e predicate.Expr) (string, bool) {
	switch x := e.(type) {
	case predicate.Comparison:
		v, ok := scalar(x.Value)
		if !ok {
			return "", false
		}
		return fmt.Sprintf("%s %s %s", f.name(x.Field), x.Op, f.value(v)), true
	case predicate.Membership:
		if len(x.Values) == 0 || len(x.Values) > maxInValues {
			return "", false
		}
		vals := make([]string, 0, len(x.Values))
		for _, raw := range x.Values {
			v, ok := scalar(raw)
			if !ok {
				return "", false
			}
			vals = append(vals, f.value(v))
		}
		return fmt.Sprintf("%s IN (%s)", f.name(x.Field), strings.Join(vals, ", ")), true
	case predicate.And:
		l, ok := f.translate(x.Left)
		if !ok {
			return "", false
		}
		r, ok := f.translate(x.Right)
		if !ok {
			return "", false
		}
		return "(" + l + " AND " + r + ")", true
	case predicate.Or:
		l, ok := f.translate(x.Left)
		if !ok {
			return "", false
		}
		r, ok := f.translate(x.Right)
		if !ok {
			return "", false
		}
		return "(" + l + " OR " + r + ")", true
	case predicate.Negation:
		inner, ok := f.translate(x.X)
		if !ok {
			return "", false
		}
		return "NOT " + inner, true
	default:
		return "", false
	}
}

// expressible reports whether translate succeeds on e. It is checked first
// so a failed translation never leaves unused placeholders behind.
func expressible(e predicate.Expr) bool {
	switch x := e.(type) {
	case predicate.Comparison:
		if _, ok := scalar(x.Value); !ok {
			return false
		}
		isBool := reflect.TypeOf(x.Value).Kind() == reflect.Bool
		return !isBool || x.Op == predicate.Eq || x.Op == predicate.Ne
	case predicate.Membership:
		if len(x.Values) == 0 || len(x.Values) > maxInValues {
			return false
		}
		for _, v := range x.Values {
			if _, ok := scalar(v); !ok {
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
	default:
		return false
	}
}

// scalar marshals values DynamoDB compares the same way as the in-memory
// evaluator: strings, bools and numbers.
func scalar(v any) (types.AttributeValue, bool) {
	if v == nil {
		return nil, false
	}
	switch reflect.TypeOf(v).Kind() {
	case reflect.String, reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
	default:
		return nil, false
	}
	av, err := attributevalue.Marshal(v)
	if err != nil {
		return nil, false
	}
	return av, true
}

// pushdown builds the FilterExpression for steps. Only Where steps before
// the first Skip or Take are sent; untranslatable parts are dropped, which
// widens the result. archivedAttr is empty when the type is not archivable.
func pushdown(steps []query.Step, archivedAttr string) *filter {
	f := newFilter()
	if archivedAttr != "" && !query.IncludesArchived(steps) {
		f.archived(archivedAttr)
	}
	for _, s := range steps {
		if s.Kind == query.StepSkip || s.Kind == query.StepTake {
			break
		}
		if s.Kind != query.StepWhere || s.Filter == nil {
			continue
		}
		pushable := predicate.Pushable(s.Filter)
		if pushable == nil {
			continue
		}
		if !expressible(pushable) {
			continue
		}
		clause, _ := f.translate(pushable)
		f.add(clause)
	}
	return f
}

// mergeExprNames merges multiple expression attribute name maps.
func mergeExprNames(maps ...map[string]string) map[string]string {
	result := make(map[string]string)
	for _, m := range maps {
		for k, v := range m {
			result[k] = v
		}
	}
	return result
}

// mergeExprValues merges multiple expression attribute value maps.
func mergeExprValues(maps ...map[string]types.AttributeValue) map[string]types.AttributeValue {
	result := make(map[string]types.AttributeValue)
	for _, m := range maps {
		for k, v := range m {
			result[k] = v
		}
	}
	return result
}
