package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"swissdata/internal/config"
	"swissdata/internal/deco"
	"swissdata/internal/models"
)

func TestPreviewConfig(t *testing.T) {
	base := config.PreviewConfig{Formats: []string{"100"}, DefaultFormat: "100", Quality: 0.5}

	cfg := previewConfig(base, models.Profile, "picture")
	assert.Equal(t, []string{"160", "320", "320:320"}, cfg.Formats)
	assert.Equal(t, "320:320", cfg.DefaultFormat)
	assert.Equal(t, 0.5, cfg.Quality)

	assert.Equal(t, base, previewConfig(base, models.Profile, "city"))
	assert.Equal(t, base, previewConfig(base, models.Profile, "missing"))

	dyn := deco.Define("/photos", deco.Field("img", deco.File).With(deco.Options{"previewsFormats": []any{"64:64", 3}}))
	assert.Equal(t, []string{"64:64"}, previewConfig(base, dyn, "img").Formats)
}

func TestTestHeader(t *testing.T) {
	v, ok := testHeader("authorization", "Bearer abc")
	assert.True(t, ok)
	assert.Equal(t, "Bearer {{ token }}", v)

	_, ok = testHeader("sdiosid", "123")
	assert.False(t, ok)

	v, ok = testHeader("content-type", "application/json")
	assert.True(t, ok)
	assert.Equal(t, "application/json", v)
}

func TestView(t *testing.T) {
	inst := models.User.New()
	inst.ID = "u1"
	inst.Set("firstname", "Jo")
	inst.Set("lastname", "Doe")
	inst.Set("_custom", 3)

	out := view(inst)
	assert.Equal(t, "u1", out["id"])
	assert.Equal(t, "Jo Doe", out["_label"])
	assert.Equal(t, 3, out["_custom"])
	assert.Equal(t, "Jo", out["firstname"])
}
