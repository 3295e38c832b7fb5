package deco

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefine_LaterDeclarationOverwrites(t *testing.T) {
	d := Define("/article",
		Field("title", String).Required(),
		Field("body", String),
		Field("title", String).With(Options{"multilang": true, "locales": []string{"fr"}}),
	)
	assert.Equal(t, []string{"title", "body"}, d.FieldNames())
	title, ok := d.Field("title")
	require.True(t, ok)
	assert.Empty(t, title.Validations)
	assert.True(t, d.IsMultilang())
}

func TestDefine_DefaultsMerged(t *testing.T) {
	d := Define("/event", Field("day", Date), Field("kind", Select).With(Options{"options": []any{"a"}}))
	day, _ := d.Field("day")
	assert.Equal(t, DefaultDateFormat, day.Options.String("dateFormat"))
	kind, _ := d.Field("kind")
	assert.Equal(t, []any{"a"}, kind.Options.Values("options"))
	assert.False(t, kind.Options.Bool("multiple"))
	assert.False(t, d.IsMultilang())
}

func TestDescriptor_Routes(t *testing.T) {
	d := Define("/dynamicdata/people")
	assert.Equal(t, "/dynamicdata/people", d.GetAllRoute())
	assert.Equal(t, "/dynamicdata/people", d.PostRoute())
	assert.Equal(t, "/dynamicdata/people/42", d.GetOneRoute("42"))
	assert.Equal(t, "/dynamicdata/people/42", d.PutRoute("42"))
	assert.Equal(t, "/dynamicdata/people/42", d.DeleteRoute("42"))
}

func TestDescriptor_Flags(t *testing.T) {
	d := Define("/p",
		Field("name", String).Searchable().Sortable().Label("Full name").Hint("As on the passport"),
		Field("city", String).Filterable(Options{"type": "text"}),
		Field("_createdAt", Date).FromAPIOnly(),
	)
	assert.Equal(t, []string{"name"}, d.Searchables())
	assert.Equal(t, []string{"name"}, d.Sortables())
	assert.Equal(t, []string{"city"}, d.Filterables())

	name, _ := d.Field("name")
	assert.Equal(t, "Full name", name.Label())
	assert.Equal(t, "As on the passport", name.Hint())
	city, _ := d.Field("city")
	assert.Equal(t, "city", city.Label())
	created, _ := d.Field("_createdAt")
	assert.True(t, created.FromAPIOnly)
}

func TestInstance_BookkeepingAndExtras(t *testing.T) {
	d := Define("/p", Field("id", ID), Field("name", String))
	inst := NewInstance(d)
	inst.Set("id", "abc")
	inst.Set("name", "Jo")
	inst.Set("legacy", 1)

	assert.Equal(t, "abc", inst.ID)
	assert.Equal(t, "abc", inst.Get("id"))
	assert.Equal(t, "abc", inst.Label())

	want := map[string]any{"id": "abc", "name": "Jo"}
	if diff := cmp.Diff(want, inst.Unclass()); diff != "" {
		t.Errorf("Unclass mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, map[string]any{"legacy": 1}, inst.Extras())
	v, ok := inst.Extra("legacy")
	assert.True(t, ok)
	assert.Equal(t, 1, v)
	_, ok = inst.Extra("name")
	assert.False(t, ok)
}

func TestInstance_NoSource(t *testing.T) {
	inst := NewInstance(nil)
	_, err := inst.Descriptor()
	assert.ErrorIs(t, err, ErrNoDescriptor)
	assert.Empty(t, inst.Unclass())
}

func TestDescriptor_NewAppliesDefaults(t *testing.T) {
	d := Define("/u",
		Field("roles", Array).With(Options{"type": "string"}).Default([]string{}),
		Field("hideOnboarding", Boolean).Default(false),
		Field("name", String),
	)
	a := d.New()
	b := d.New()

	assert.Equal(t, []string{}, a.Get("roles"))
	assert.Equal(t, false, a.Get("hideOnboarding"))
	assert.False(t, a.Has("name"))

	a.Set("roles", append(a.Get("roles").([]string), "admin"))
	assert.Equal(t, []string{}, b.Get("roles"))
}
