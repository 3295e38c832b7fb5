package deco

import (
	"context"
	"time"
)

var (
	Array    TypeHandler = arrayHandler{Handler{name: "array"}}
	Object   TypeHandler = objectHandler{Handler{name: "object"}}
	Metadata TypeHandler = metadataHandler{Handler{name: "metadata"}}
)

type arrayHandler struct{ Handler }

func (arrayHandler) Validate(_ context.Context, value any, _ *Instance, opts Options) (bool, error) {
	if value == nil {
		return true, nil
	}
	items, ok := asSlice(value)
	if !ok {
		return false, nil
	}
	itemType := opts.String("type")
	if itemType == "" {
		return true, nil
	}
	objectOpts := opts.Map("objectOptions")
	for _, item := range items {
		if itemType == "object" {
			if objectOpts != nil && !validateObject(item, objectOpts) {
				return false, nil
			}
			continue
		}
		if !validatePrimitive(itemType, item) {
			return false, nil
		}
	}
	return true, nil
}

// validatePrimitive checks v against one of the scalar type tags. Unknown
// tags accept anything.
func validatePrimitive(typ string, v any) bool {
	if v == nil {
		return true
	}
	switch typ {
	case "string":
		_, ok := v.(string)
		return ok
	case "integer":
		f, ok := toFloat64(v)
		return ok && f == float64(int64(f))
	case "float":
		_, ok := toFloat64(v)
		return ok
	case "boolean":
		_, ok := v.(bool)
		return ok
	case "date":
		_, ok := v.(time.Time)
		return ok
	}
	return true
}

type objectHandler struct{ Handler }

// ToAPI keeps only the declared keys unless allowOtherKeys is set.
func (objectHandler) ToAPI(_ context.Context, _ string, value any, opts Options, _ map[string]any, _ *Descriptor) (any, error) {
	m, ok := asMap(value)
	if !ok || opts.Bool("allowOtherKeys") {
		return value, nil
	}
	keys := opts.Map("keys")
	if keys == nil {
		return value, nil
	}
	out := make(map[string]any, len(keys))
	for k := range keys {
		if v, ok := m[k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

func (objectHandler) Validate(_ context.Context, value any, _ *Instance, opts Options) (bool, error) {
	return validateObject(value, opts), nil
}

func validateObject(value any, opts Options) bool {
	if value == nil {
		return true
	}
	m, ok := asMap(value)
	if !ok {
		return false
	}
	keys := opts.Map("keys")
	if keys == nil {
		return true
	}
	for k := range keys {
		settings := keys.Map(k)
		if settings.Bool("required") && isEmptyValue(m[k]) {
			return false
		}
	}
	allowOther := opts.Bool("allowOtherKeys")
	for k, v := range m {
		settings := keys.Map(k)
		if settings == nil {
			if _, declared := keys[k]; !declared && !allowOther {
				return false
			}
			continue
		}
		if !validatePrimitive(settings.String("type"), v) {
			return false
		}
	}
	return true
}

type metadataHandler struct{ Handler }

// ToAPI drops a nil metadata list from the request body.
func (metadataHandler) ToAPI(_ context.Context, _ string, value any, _ Options, _ map[string]any, _ *Descriptor) (any, error) {
	if value == nil {
		return Omit, nil
	}
	return value, nil
}

func (metadataHandler) Validate(_ context.Context, value any, _ *Instance, _ Options) (bool, error) {
	if value == nil {
		return true, nil
	}
	items, ok := asSlice(value)
	if !ok {
		return false, nil
	}
	for _, item := range items {
		entry, ok := asMap(item)
		if !ok {
			return false, nil
		}
		for k := range entry {
			if k != "key" && k != "value" && k != "type" {
				return false, nil
			}
		}
		if _, ok := entry["key"]; !ok {
			return false, nil
		}
		if _, ok := entry["value"]; !ok {
			return false, nil
		}
	}
	return true, nil
}

// isEmptyValue mirrors a falsy check on a decoded JSON value.
func isEmptyValue(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case bool:
		return !t
	}
	if f, ok := toFloat64(v); ok {
		return f == 0
	}
	return false
}
