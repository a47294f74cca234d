package store

import (
	"encoding/json"
	"math"
	"time"
)

// Fields is the body of a document. Backends hand values back in different
// shapes (int64 vs float64, time.Time vs epoch millis, []any vs []string), so
// readers go through the typed accessors below.
type Fields map[string]any

func (f Fields) Clone() Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

func (f Fields) Has(key string) bool {
	_, ok := f[key]
	return ok
}

func (f Fields) IsNull(key string) bool {
	v, ok := f[key]
	return !ok || v == nil
}

func (f Fields) String(key string) string {
	s, _ := f[key].(string)
	return s
}

// OptionalString returns nil for missing, null and empty values.
func (f Fields) OptionalString(key string) *string {
	s, ok := f[key].(string)
	if !ok || s == "" {
		return nil
	}
	return &s
}

func (f Fields) Bool(key string) bool {
	b, _ := f[key].(bool)
	return b
}

func (f Fields) Float(key string) float64 {
	n, _ := Number(f[key])
	return n
}

func (f Fields) Int64(key string) int64 {
	n, ok := Number(f[key])
	if !ok {
		return 0
	}
	return int64(math.Round(n))
}

func (f Fields) Time(key string) time.Time {
	t, _ := Timestamp(f[key])
	return t
}

func (f Fields) OptionalTime(key string) *time.Time {
	t, ok := Timestamp(f[key])
	if !ok {
		return nil
	}
	return &t
}

func (f Fields) Strings(key string) []string {
	switch v := f[key].(type) {
	case []string:
		return append([]string(nil), v...)
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func (f Fields) Map(key string) Fields {
	switch v := f[key].(type) {
	case map[string]any:
		return Fields(v)
	case Fields:
		return v
	}
	return nil
}

func (f Fields) Maps(key string) []Fields {
	switch v := f[key].(type) {
	case []map[string]any:
		out := make([]Fields, 0, len(v))
		for _, item := range v {
			out = append(out, Fields(item))
		}
		return out
	case []Fields:
		return v
	case []any:
		out := make([]Fields, 0, len(v))
		for _, item := range v {
			switch m := item.(type) {
			case map[string]any:
				out = append(out, Fields(m))
			case Fields:
				out = append(out, m)
			}
		}
		return out
	}
	return nil
}

func Number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// Timestamp reads epoch millis or a native time value.
func Timestamp(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, !t.IsZero()
	case *time.Time:
		if t == nil {
			return time.Time{}, false
		}
		return *t, true
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		return parsed, err == nil
	}
	n, ok := Number(v)
	if !ok {
		return time.Time{}, false
	}
	return time.UnixMilli(int64(math.Round(n))), true
}

func Millis(t time.Time) int64 {
	return t.UnixMilli()
}

// OptionalMillis encodes nil as a stored null.
func OptionalMillis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

// Normalize round-trips fields through JSON so in-process storage holds the same
// value shapes a JSON document store returns.
func Normalize(f Fields) (Fields, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, err
	}
	out := Fields{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
