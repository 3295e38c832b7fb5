package deco

import "encoding/json"

// Options carries the per-field configuration of a type handler.
type Options map[string]any

// Clone returns a shallow copy of o.
func (o Options) Clone() Options {
	out := make(Options, len(o))
	for k, v := range o {
		out[k] = v
	}
	return out
}

// Merge returns a copy of o overlaid with every map in others, left to right.
func (o Options) Merge(others ...Options) Options {
	out := o.Clone()
	for _, other := range others {
		for k, v := range other {
			out[k] = v
		}
	}
	return out
}

func (o Options) String(key string) string {
	s, _ := o[key].(string)
	return s
}

func (o Options) Bool(key string) bool {
	b, _ := o[key].(bool)
	return b
}

// Int returns the value under key as an int. JSON numbers are accepted.
func (o Options) Int(key string) (int, bool) {
	f, ok := toFloat64(o[key])
	if !ok {
		return 0, false
	}
	return int(f), true
}

// Strings returns the value under key as a string slice, accepting []string and []any.
func (o Options) Strings(key string) []string {
	switch v := o[key].(type) {
	case []string:
		return v
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

// Values returns the value under key as a generic slice.
func (o Options) Values(key string) []any {
	switch v := o[key].(type) {
	case []any:
		return v
	case []string:
		out := make([]any, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out
	}
	return nil
}

// Map returns the nested options under key, or nil.
func (o Options) Map(key string) Options {
	switch v := o[key].(type) {
	case Options:
		return v
	case map[string]any:
		return Options(v)
	}
	return nil
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Options:
		return map[string]any(m), true
	}
	return nil, false
}

func asSlice(v any) ([]any, bool) {
	switch s := v.(type) {
	case []any:
		return s, true
	case []string:
		out := make([]any, len(s))
		for i, item := range s {
			out[i] = item
		}
		return out, true
	case []map[string]any:
		out := make([]any, len(s))
		for i, item := range s {
			out[i] = item
		}
		return out, true
	}
	return nil, false
}
