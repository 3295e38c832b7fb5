package deco

import (
	"context"
	"math"
	"time"
)

const DefaultDateFormat = "DD-MM-YYYY"

var (
	Any     TypeHandler = Handler{name: "any"}
	ID      TypeHandler = Handler{name: "id"}
	String  TypeHandler = stringHandler{Handler{name: "string", defaults: Options{"multilang": false, "locales": []string{}}}}
	Select  TypeHandler = selectHandler{Handler{name: "select", defaults: Options{"options": []any{}, "multiple": false, "allowAny": false}}}
	Integer TypeHandler = integerHandler{Handler{name: "integer"}}
	Float   TypeHandler = floatHandler{Handler{name: "float"}}
	Boolean TypeHandler = booleanHandler{Handler{name: "boolean"}}
	Date    TypeHandler = dateHandler{Handler{name: "date", defaults: Options{"dateFormat": DefaultDateFormat}}}
)

type stringHandler struct{ Handler }

func (stringHandler) Validate(_ context.Context, value any, _ *Instance, opts Options) (bool, error) {
	return validateString(value, opts), nil
}

// validateString accepts a plain string, or when multilang is set a map
// from locale to string restricted to the configured locales.
func validateString(value any, opts Options) bool {
	if value == nil {
		return true
	}
	if _, ok := value.(string); ok {
		return true
	}
	if !opts.Bool("multilang") {
		return false
	}
	m, ok := asMap(value)
	if !ok {
		return false
	}
	locales := opts.Strings("locales")
	for k := range m {
		if !containsString(locales, k) {
			return false
		}
	}
	return true
}

type selectHandler struct{ Handler }

func (selectHandler) Validate(_ context.Context, value any, _ *Instance, opts Options) (bool, error) {
	return validateSelect(value, opts), nil
}

func validateSelect(value any, opts Options) bool {
	if value == nil {
		return true
	}
	choices := opts.Values("options")
	allowAny := opts.Bool("allowAny")
	if opts.Bool("multiple") {
		items, ok := asSlice(value)
		if !ok {
			return false
		}
		for _, item := range items {
			if _, ok := item.(string); !ok {
				return false
			}
			if !allowAny && !containsValue(choices, item) {
				return false
			}
		}
		return true
	}
	if !isScalar(value) {
		return false
	}
	return allowAny || containsValue(choices, value)
}

type integerHandler struct{ Handler }

func (integerHandler) Validate(_ context.Context, value any, _ *Instance, _ Options) (bool, error) {
	if value == nil {
		return true, nil
	}
	f, ok := toFloat64(value)
	return ok && f == math.Trunc(f), nil
}

type floatHandler struct{ Handler }

func (floatHandler) Validate(_ context.Context, value any, _ *Instance, _ Options) (bool, error) {
	if value == nil {
		return true, nil
	}
	_, ok := toFloat64(value)
	return ok, nil
}

type booleanHandler struct{ Handler }

func (booleanHandler) Validate(_ context.Context, value any, _ *Instance, _ Options) (bool, error) {
	if value == nil {
		return true, nil
	}
	_, ok := value.(bool)
	return ok, nil
}

type dateHandler struct{ Handler }

func dateLayout(opts Options) string {
	format := opts.String("dateFormat")
	if format == "" {
		format = DefaultDateFormat
	}
	return GoLayout(format)
}

// FromAPI parses the wire string with the field date format, falling back
// to RFC 3339. Unparseable values are kept as received.
func (dateHandler) FromAPI(_ context.Context, _ string, value any, opts Options, _ map[string]any, _ *Descriptor) (any, error) {
	s, ok := value.(string)
	if !ok || s == "" {
		return value, nil
	}
	if t, err := time.Parse(dateLayout(opts), s); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	return value, nil
}

func (dateHandler) ToAPI(_ context.Context, _ string, value any, opts Options, _ map[string]any, _ *Descriptor) (any, error) {
	switch t := value.(type) {
	case time.Time:
		return t.Format(dateLayout(opts)), nil
	case *time.Time:
		if t == nil {
			return nil, nil
		}
		return t.Format(dateLayout(opts)), nil
	}
	return value, nil
}

func (dateHandler) Validate(_ context.Context, value any, _ *Instance, _ Options) (bool, error) {
	switch value.(type) {
	case nil, time.Time, *time.Time:
		return true, nil
	}
	return false, nil
}

func isScalar(v any) bool {
	switch v.(type) {
	case string, bool:
		return true
	}
	_, ok := toFloat64(v)
	return ok
}

func containsValue(list []any, v any) bool {
	vf, vNum := toFloat64(v)
	for _, item := range list {
		if vNum {
			if f, ok := toFloat64(item); ok && f == vf {
				return true
			}
			continue
		}
		if item == v {
			return true
		}
	}
	return false
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
