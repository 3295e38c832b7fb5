package analytics

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"swissdata/internal/api"
	"swissdata/internal/config"
	"swissdata/internal/model"
	"swissdata/internal/models"
	"swissdata/internal/storage"
	"swissdata/internal/store"
	"swissdata/internal/stub"
)

func newTestBuffer(t *testing.T, cfg config.AnalyticsConfig) (*Buffer, *model.Model, *stub.Server) {
	t.Helper()
	srv := stub.New(config.StubConfig{JWTSecret: "s", PublicKey: "pk"}, store.NewMemory(), storage.NewLocal(t.TempDir()))
	client := api.NewClient(config.APIConfig{Host: "http://stub", PublicKey: "pk"},
		api.WithHTTPClient(&http.Client{Transport: stub.Transport(srv.App())}))
	m := model.New(client, models.Analytics)
	return NewBuffer(m, cfg), m, srv
}

func TestBuffer_Debounce(t *testing.T) {
	b, m, srv := newTestBuffer(t, config.AnalyticsConfig{DebounceMs: 30, BufferSize: 10})
	ctx := context.Background()
	b.SetIdentity("u1")

	b.Navigation("/home", "Home")
	b.Event("login", "create-account", "", map[string]any{"email": "ann@example.ch"})
	b.Click("menu", "open", "Menu", nil)
	assert.Equal(t, 3, b.Len())
	assert.Zero(t, srv.CallCount("POST", "/analytics"), "nothing saved before the quiet period")

	assert.Eventually(t, func() bool { return srv.CallCount("POST", "/analytics") == 3 }, time.Second, 5*time.Millisecond)
	assert.Zero(t, b.Len())

	list, err := m.GetAll(ctx, "", model.GetAllOptions{})
	require.NoError(t, err)
	require.Len(t, list.Items, 3)
	byType := map[string]map[string]any{}
	for _, inst := range list.Items {
		byType[inst.Get("type").(string)] = map[string]any{
			"path":     inst.Get("path"),
			"identity": inst.Get("identity"),
			"session":  inst.Get("sessionId"),
			"value":    inst.Get("value"),
			"title":    inst.Get("title"),
		}
	}
	assert.Equal(t, "/home", byType["navigation"]["path"])
	assert.Equal(t, "Home", byType["navigation"]["title"])
	assert.Equal(t, "/home", byType["event"]["path"], "events inherit the current path")
	assert.Equal(t, `{"email":"ann@example.ch"}`, byType["event"]["value"])
	assert.Equal(t, "u1", byType["click"]["identity"])
	assert.Equal(t, b.SessionID(), byType["click"]["session"])
	assert.Len(t, b.SessionID(), 32)
}

func TestBuffer_FullFlushesAndStop(t *testing.T) {
	b, _, srv := newTestBuffer(t, config.AnalyticsConfig{DebounceMs: 10000, BufferSize: 2})
	ctx := context.Background()

	b.Navigation("/a", "")
	b.Navigation("/b", "")
	assert.Eventually(t, func() bool { return srv.CallCount("POST", "/analytics") == 2 }, time.Second, 5*time.Millisecond)

	b.Navigation("/c", "")
	require.NoError(t, b.Stop(ctx))
	assert.Equal(t, 3, srv.CallCount("POST", "/analytics"))

	b.Navigation("/d", "")
	assert.Zero(t, b.Len(), "stopped buffers ignore entries")
}

func TestBuffer_FlushError(t *testing.T) {
	b, _, srv := newTestBuffer(t, config.AnalyticsConfig{DebounceMs: 10000})
	b.Enqueue(Entry{Type: TypeEvent, Path: "/x", Value: func() {}})
	err := b.Flush(context.Background())
	assert.ErrorContains(t, err, "encode analytics value")
	assert.Zero(t, srv.CallCount("POST", "/analytics"))
	assert.Zero(t, b.Len())
}
