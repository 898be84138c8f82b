package remote

import (
	"fmt"
	"reflect"
	"regexp"
	"slices"
)

// Op is a comparison operator of a filter condition.
type Op string

const (
	OpEq  Op = "eq"
	OpNe  Op = "ne"
	OpGt  Op = "gt"
	OpGte Op = "gte"
	OpLt  Op = "lt"
	OpLte Op = "lte"
	OpIn  Op = "in"
	OpNin Op = "nin"
)

func (o Op) valid() bool {
	switch o {
	case OpEq, OpNe, OpGt, OpGte, OpLt, OpLte, OpIn, OpNin:
		return true
	}
	return false
}

// Condition compares one metadata field against a value. For OpIn and
// OpNin the value is a slice.
type Condition struct {
	Field string `json:"field" yaml:"field"`
	Op    Op     `json:"op" yaml:"op"`
	Value any    `json:"value" yaml:"value"`
}

// Filter is a conjunction of conditions. The empty filter matches everything.
type Filter []Condition

// Field names are rendered verbatim into provider query languages.
var fieldPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Validate checks field names, operators and value shapes.
func (f Filter) Validate() error {
	for _, c := range f {
		if c.Field == "" {
			return fmt.Errorf("remote: filter condition without field")
		}
		if !fieldPattern.MatchString(c.Field) {
			return fmt.Errorf("remote: invalid filter field %q", c.Field)
		}
		if !c.Op.valid() {
			return fmt.Errorf("remote: unknown filter operator %q", c.Op)
		}
		_, isList := asList(c.Value)
		wantList := c.Op == OpIn || c.Op == OpNin
		if wantList && !isList {
			return fmt.Errorf("remote: operator %s on field %q needs a list value", c.Op, c.Field)
		}
		if !wantList && isList {
			return fmt.Errorf("remote: operator %s on field %q does not take a list", c.Op, c.Field)
		}
		if (c.Op == OpGt || c.Op == OpGte || c.Op == OpLt || c.Op == OpLte) && !isNumber(c.Value) {
			return fmt.Errorf("remote: operator %s on field %q needs a number", c.Op, c.Field)
		}
	}
	return nil
}

// Match evaluates the filter against metadata.
func (f Filter) Match(meta map[string]any) bool {
	for _, c := range f {
		v, ok := meta[c.Field]
		if !c.match(v, ok) {
			return false
		}
	}
	return true
}

func (c Condition) match(v any, present bool) bool {
	switch c.Op {
	case OpEq:
		return present && equal(v, c.Value)
	case OpNe:
		return !present || !equal(v, c.Value)
	case OpIn:
		list, _ := asList(c.Value)
		return present && slices.ContainsFunc(list, func(x any) bool { return equal(v, x) })
	case OpNin:
		list, _ := asList(c.Value)
		return !present || !slices.ContainsFunc(list, func(x any) bool { return equal(v, x) })
	}

	a, aok := toFloat(v)
	b, bok := toFloat(c.Value)
	if !present || !aok || !bok {
		return false
	}
	switch c.Op {
	case OpGt:
		return a > b
	case OpGte:
		return a >= b
	case OpLt:
		return a < b
	case OpLte:
		return a <= b
	}
	return false
}

func equal(a, b any) bool {
	if x, ok := toFloat(a); ok {
		y, ok := toFloat(b)
		return ok && x == y
	}
	return reflect.DeepEqual(a, b)
}

func isNumber(v any) bool {
	_, ok := toFloat(v)
	return ok
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func asList(v any) ([]any, bool) {
	if v == nil {
		return nil, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

// List exposes a list-valued condition value as []any.
func List(v any) []any {
	out, _ := asList(v)
	return out
}
