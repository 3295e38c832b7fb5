package dynamic

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"swissdata/internal/api"
	"swissdata/internal/config"
	"swissdata/internal/deco"
	"swissdata/internal/model"
	"swissdata/internal/models"
	"swissdata/internal/storage"
	"swissdata/internal/store"
	"swissdata/internal/stub"
)

func newTestRegistry(t *testing.T) (*Registry, *api.Client, *stub.Server) {
	t.Helper()
	srv := stub.New(config.StubConfig{JWTSecret: "s", PublicKey: "pk"}, store.NewMemory(), storage.NewLocal(t.TempDir()))
	client := api.NewClient(config.APIConfig{Host: "http://stub", PublicKey: "pk"},
		api.WithHTTPClient(&http.Client{Transport: stub.Transport(srv.App())}))
	return NewRegistry(client, nil), client, srv
}

func seedPersonConfig(t *testing.T, srv *stub.Server) string {
	t.Helper()
	rec, err := srv.Seed(context.Background(), "dynamicconfig", store.Record{
		"name":  "Person",
		"slug":  "person",
		"label": "${firstname} ${lastname}",
		"fields": []any{
			map[string]any{"name": "firstname", "type": "string", "required": true},
			map[string]any{"name": "lastname", "type": "string", "filterable": "text"},
			map[string]any{"name": "email", "type": "string", "validation": []any{map[string]any{"type": "email"}}},
			map[string]any{"name": "shoeSize", "type": "shoe"},
		},
	})
	require.NoError(t, err)
	return rec.ID()
}

func TestRenderLabel(t *testing.T) {
	values := map[string]any{"firstname": "Jo", "lastname": "", "age": 0, "active": false}
	get := func(k string) any { return values[k] }

	assert.Equal(t, "Jo [---]", RenderLabel("${firstname} ${lastname}", get))
	assert.Equal(t, "[---]/[---]/[---]", RenderLabel("${age}/${active}/${missing}", get))
	assert.Equal(t, "Jo Jo", RenderLabel("${firstname} ${firstname}", get))
	assert.Equal(t, "plain", RenderLabel("plain", get))
}

func TestRegistry_Register(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	d := r.Register(Config{
		ID:   "cfg1",
		Slug: "person",
		Fields: []FieldConfig{
			{Name: "firstname", Type: "string", Required: true},
			{Name: "shoeSize", Type: "shoe"},
			{Name: "city", Type: "string", Filterable: "no", Sortable: true},
		},
	})

	assert.Equal(t, "/dynamicdata/person", d.BaseRoute())
	assert.Equal(t, []string{"id", "firstname", "shoeSize", "city"}, d.FieldNames())

	first, _ := d.Field("firstname")
	require.Len(t, first.Validations, 1)
	assert.Equal(t, deco.RuleRequired, first.Validations[0].Type)

	shoe, _ := d.Field("shoeSize")
	assert.Equal(t, "any", shoe.Handler.Name())
	assert.Empty(t, d.Filterables())
	assert.Equal(t, []string{"city"}, d.Sortables())

	byID, ok := r.ByID("cfg1")
	require.True(t, ok)
	assert.Same(t, d, byID)

	inst := deco.NewInstance(r)
	inst.ID = "x1"
	_, err := inst.Descriptor()
	assert.ErrorIs(t, err, deco.ErrNoDescriptor)
	inst.ModelID = "cfg1"
	assert.Equal(t, "x1", r.Label(inst))

	r.Clear()
	_, ok = r.ByID("person")
	assert.False(t, ok)
	_, err = r.Use("person")
	assert.ErrorIs(t, err, deco.ErrNoDescriptor)
}

func TestRegistry_LoadAndUse(t *testing.T) {
	r, client, srv := newTestRegistry(t)
	ctx := context.Background()
	cfgID := seedPersonConfig(t, srv)

	require.NoError(t, r.Load(ctx, model.New(client, models.DynamicConfig)))

	cfg, ok := r.Config("person")
	require.True(t, ok)
	assert.Equal(t, cfgID, cfg.ID)
	assert.Equal(t, "Person", cfg.Name)
	d, ok := r.ByID(cfgID)
	require.True(t, ok)
	assert.Equal(t, []string{"lastname"}, d.Filterables())

	inst, err := r.NewInstance("person")
	require.NoError(t, err)
	assert.Equal(t, cfgID, inst.ModelID)
	inst.Set("firstname", "Jo")
	assert.Equal(t, "Jo [---]", inst.Label())

	people, err := r.Use("person")
	require.NoError(t, err)

	inst.Set("email", "not-an-email")
	ok, res, err := people.Validate(ctx, inst)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Len(t, res.FieldErrors("email"), 1)

	inst.Set("email", "jo@example.ch")
	saved, err := people.Save(ctx, inst, "", model.SaveOptions{})
	require.NoError(t, err)

	calls := srv.Calls()
	last := calls[len(calls)-1]
	assert.Equal(t, "/dynamicdata/person", last.Path)
	var body map[string]any
	require.NoError(t, json.Unmarshal(last.Body, &body))
	assert.NotContains(t, body, "modelId")

	assert.Equal(t, cfgID, saved.ModelID)
	assert.Equal(t, "Jo [---]", saved.Label())

	fresh := people.New()
	fresh.Set("lastname", "Doe")
	assert.Equal(t, "[---] Doe", fresh.Label())

	list, err := people.GetAll(ctx, "", model.GetAllOptions{})
	require.NoError(t, err)
	require.Len(t, list.Items, 1)
	assert.Equal(t, "jo@example.ch", list.Items[0].Get("email"))
	assert.Equal(t, cfgID, list.Items[0].ModelID)
}
