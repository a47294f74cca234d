package store

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
)

type Op string

const (
	OpEqual        Op = "=="
	OpIn           Op = "in"
	OpLess         Op = "<"
	OpLessEqual    Op = "<="
	OpGreater      Op = ">"
	OpGreaterEqual Op = ">="
)

type Filter struct {
	Field string
	Op    Op
	Value any
}

type Query struct {
	Collection string
	Filters    []Filter
	OrderBy    string
	Descending bool
	Limit      int
}

func NewQuery(collection string) Query {
	return Query{Collection: collection}
}

func (q Query) Where(field string, op Op, value any) Query {
	filters := make([]Filter, len(q.Filters), len(q.Filters)+1)
	copy(filters, q.Filters)
	q.Filters = append(filters, Filter{Field: field, Op: op, Value: value})
	return q
}

func (q Query) Order(field string, descending bool) Query {
	q.OrderBy = field
	q.Descending = descending
	return q
}

func (q Query) Take(limit int) Query {
	q.Limit = limit
	return q
}

func (q Query) Validate() error {
	if q.Collection == "" {
		return fmt.Errorf("query: collection is required")
	}
	for _, f := range q.Filters {
		switch f.Op {
		case OpEqual, OpLess, OpLessEqual, OpGreater, OpGreaterEqual:
		case OpIn:
			if _, err := InValues(f.Value); err != nil {
				return err
			}
		default:
			return fmt.Errorf("query: unsupported operator %q", f.Op)
		}
	}
	return nil
}

// InValues flattens the value of an "in" filter.
func InValues(value any) ([]any, error) {
	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, fmt.Errorf("query: in filter needs a slice, got %T", value)
	}
	out := make([]any, 0, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		out = append(out, rv.Index(i).Interface())
	}
	return out, nil
}

// Matches evaluates every filter against the document fields.
func (q Query) Matches(fields Fields) bool {
	for _, f := range q.Filters {
		if !matchFilter(fields[f.Field], f) {
			return false
		}
	}
	return true
}

// Apply filters, orders and limits an unordered candidate set. Used by backends
// that cannot push the whole query down.
func (q Query) Apply(docs []Document) []Document {
	out := make([]Document, 0, len(docs))
	for _, doc := range docs {
		if q.Matches(doc.Fields) {
			out = append(out, doc)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if q.OrderBy == "" {
			return out[i].ID < out[j].ID
		}
		c := compare(out[i].Fields[q.OrderBy], out[j].Fields[q.OrderBy])
		if c == 0 {
			return out[i].ID < out[j].ID
		}
		if q.Descending {
			return c > 0
		}
		return c < 0
	})

	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

func matchFilter(actual any, f Filter) bool {
	switch f.Op {
	case OpEqual:
		return equal(actual, f.Value)
	case OpIn:
		values, err := InValues(f.Value)
		if err != nil {
			return false
		}
		for _, v := range values {
			if equal(actual, v) {
				return true
			}
		}
		return false
	}

	if actual == nil || f.Value == nil {
		return false
	}
	c := compare(actual, f.Value)
	switch f.Op {
	case OpLess:
		return c < 0
	case OpLessEqual:
		return c <= 0
	case OpGreater:
		return c > 0
	case OpGreaterEqual:
		return c >= 0
	}
	return false
}

func equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if an, ok := Number(a); ok {
		bn, ok := Number(b)
		return ok && an == bn
	}
	if as, ok := stringValue(a); ok {
		bs, ok := stringValue(b)
		return ok && as == bs
	}
	return reflect.DeepEqual(a, b)
}

// compare orders nulls first, then numbers (and timestamps), then strings.
func compare(a, b any) int {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0
		case a == nil:
			return -1
		default:
			return 1
		}
	}
	if at, ok := a.(interface{ UnixMilli() int64 }); ok {
		a = at.UnixMilli()
	}
	if bt, ok := b.(interface{ UnixMilli() int64 }); ok {
		b = bt.UnixMilli()
	}
	an, aok := Number(a)
	bn, bok := Number(b)
	if aok && bok {
		switch {
		case an < bn:
			return -1
		case an > bn:
			return 1
		}
		return 0
	}
	as, _ := stringValue(a)
	bs, _ := stringValue(b)
	return strings.Compare(as, bs)
}

func stringValue(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case fmt.Stringer:
		return s.String(), true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.String {
		return rv.String(), true
	}
	return "", false
}
