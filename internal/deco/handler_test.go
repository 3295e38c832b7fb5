package deco

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func roundTrip(t *testing.T, h TypeHandler, opts Options, wire any) any {
	t.Helper()
	ctx := context.Background()
	opts = h.DefaultOptions().Merge(opts)
	v, err := h.FromAPI(ctx, "f", wire, opts, nil, nil)
	require.NoError(t, err)
	out, err := h.ToAPI(ctx, "f", v, opts, nil, nil)
	require.NoError(t, err)
	return out
}

func TestPrimitiveHandlers_RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		h    TypeHandler
		wire any
	}{
		{"string", String, "hello"},
		{"integer", Integer, float64(42)},
		{"float", Float, 3.14},
		{"boolean", Boolean, true},
		{"date", Date, "18-10-2026"},
		{"any", Any, map[string]any{"a": "b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wire, roundTrip(t, tt.h, nil, tt.wire))
		})
	}
}

func TestDateHandler_Parse(t *testing.T) {
	v, err := Date.FromAPI(context.Background(), "birth", "05-03-1990", Date.DefaultOptions(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, time.Date(1990, 3, 5, 0, 0, 0, 0, time.UTC), v)

	v, err = Date.FromAPI(context.Background(), "birth", "not a date", Date.DefaultOptions(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "not a date", v)

	out := roundTrip(t, Date, Options{"dateFormat": "YYYY-MM-DD"}, "2020-01-31")
	assert.Equal(t, "2020-01-31", out)
}

func TestGoLayout(t *testing.T) {
	assert.Equal(t, "02-01-2006", GoLayout("DD-MM-YYYY"))
	assert.Equal(t, "2006-01-02 15:04:05", GoLayout("YYYY-MM-DD HH:mm:ss"))
	assert.Equal(t, "02.01.06 at 15h", GoLayout("DD.MM.YY [at] HH[h]"))
}

func validate(t *testing.T, h TypeHandler, opts Options, value any) bool {
	t.Helper()
	ok, err := h.Validate(context.Background(), value, nil, h.DefaultOptions().Merge(opts))
	require.NoError(t, err)
	return ok
}

func TestStringHandler_Validate(t *testing.T) {
	assert.True(t, validate(t, String, nil, nil))
	assert.True(t, validate(t, String, nil, "x"))
	assert.False(t, validate(t, String, nil, float64(1)))
	assert.False(t, validate(t, String, nil, map[string]any{"fr": "x"}))

	multi := Options{"multilang": true, "locales": []string{"fr", "en"}}
	assert.True(t, validate(t, String, multi, map[string]any{"fr": "bonjour", "en": "hello"}))
	assert.False(t, validate(t, String, multi, map[string]any{"de": "hallo"}))
}

func TestSelectHandler_Validate(t *testing.T) {
	opts := Options{"options": []any{"a", "b"}}
	assert.True(t, validate(t, Select, opts, "a"))
	assert.False(t, validate(t, Select, opts, "c"))
	assert.True(t, validate(t, Select, Options{"options": []any{"a"}, "allowAny": true}, "c"))
	assert.False(t, validate(t, Select, opts, []any{"a"}))

	multiple := Options{"options": []any{"a", "b"}, "multiple": true}
	assert.True(t, validate(t, Select, multiple, []any{"a", "b"}))
	assert.False(t, validate(t, Select, multiple, []any{"a", "z"}))
	assert.False(t, validate(t, Select, multiple, "a"))
}

func TestNumberHandlers_Validate(t *testing.T) {
	assert.True(t, validate(t, Integer, nil, float64(3)))
	assert.False(t, validate(t, Integer, nil, 3.5))
	assert.False(t, validate(t, Integer, nil, "3"))
	assert.True(t, validate(t, Float, nil, 3.5))
	assert.False(t, validate(t, Boolean, nil, "true"))
}

func TestObjectHandler(t *testing.T) {
	opts := Options{"keys": map[string]any{
		"street": map[string]any{"type": "string", "required": true},
		"zip":    map[string]any{"type": "integer"},
	}}
	assert.True(t, validate(t, Object, opts, map[string]any{"street": "Main", "zip": float64(1000)}))
	assert.False(t, validate(t, Object, opts, map[string]any{"zip": float64(1000)}))
	assert.False(t, validate(t, Object, opts, map[string]any{"street": "Main", "extra": 1}))

	out, err := Object.ToAPI(context.Background(), "address", map[string]any{"street": "Main", "extra": 1}, opts, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"street": "Main"}, out)

	allow := opts.Merge(Options{"allowOtherKeys": true})
	assert.True(t, validate(t, Object, allow, map[string]any{"street": "Main", "extra": 1}))
}

func TestArrayHandler_Validate(t *testing.T) {
	assert.True(t, validate(t, Array, Options{"type": "string"}, []any{"a", "b"}))
	assert.False(t, validate(t, Array, Options{"type": "integer"}, []any{float64(1), "b"}))
	assert.False(t, validate(t, Array, nil, "a"))
	objects := Options{"type": "object", "objectOptions": map[string]any{"keys": map[string]any{"k": map[string]any{"required": true}}}}
	assert.False(t, validate(t, Array, objects, []any{map[string]any{}}))
}

func TestMetadataHandler(t *testing.T) {
	assert.True(t, validate(t, Metadata, nil, []any{map[string]any{"key": "k", "value": "v", "type": "string"}}))
	assert.False(t, validate(t, Metadata, nil, []any{map[string]any{"key": "k"}}))
	assert.False(t, validate(t, Metadata, nil, []any{map[string]any{"key": "k", "value": 1, "other": true}}))

	out, err := Metadata.ToAPI(context.Background(), "meta", nil, nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, Omit, out)
}

func TestFileHandlers(t *testing.T) {
	v, err := File.FromAPI(context.Background(), "logo", map[string]any{"name": "a.png", "type": "image/png", "size": float64(10), "filename": "f1"}, nil, nil, nil)
	require.NoError(t, err)
	f := v.(*FileItem)
	assert.Equal(t, "f1", f.Filename)
	assert.True(t, validate(t, File, nil, f))
	assert.False(t, validate(t, File, nil, &FileItem{Name: "a.png"}))

	list := []*FileItem{{Name: "a", Type: "t", Size: 1}, {Name: "b", Type: "t", Size: 2, ToUpload: true}}
	assert.True(t, validate(t, Files, nil, list))
	out, err := Files.ToAPI(context.Background(), "docs", list, nil, nil, nil)
	require.NoError(t, err)
	assert.Len(t, out, 1)
}

func TestModelHandlers(t *testing.T) {
	_, err := Model.Validate(context.Background(), "5f2a", nil, Model.DefaultOptions())
	assert.ErrorIs(t, err, ErrModelNotSet)

	_, err = Models.Validate(context.Background(), nil, nil, Options{"model": 12})
	assert.ErrorIs(t, err, ErrInvalidModelOption)

	d := Define("/things", Field("parent", Model).With(Options{"model": "self"}))
	parent, _ := d.Field("parent")
	assert.Same(t, d, parent.Options["model"])

	ok, err := Model.Validate(context.Background(), "5f2a0c1b9d3e4f5a6b7c8d9e", nil, parent.Options)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, _ = Model.Validate(context.Background(), "nope", nil, parent.Options)
	assert.False(t, ok)

	ok, _ = Models.Validate(context.Background(), []any{"5f2a0c1b9d3e4f5a6b7c8d9e", "bad"}, nil, parent.Options)
	assert.False(t, ok)
}

func TestHandlerRegistry_Resolve(t *testing.T) {
	r := DefaultHandlers()
	assert.Equal(t, "string", r.Resolve("string").Name())
	assert.Equal(t, "any", r.Resolve("hologram").Name())
	_, ok := r.Lookup("hologram")
	assert.False(t, ok)
}
