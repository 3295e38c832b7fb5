package recorder

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"swissdata/internal/api"
	"swissdata/internal/config"
	"swissdata/internal/storage"
	"swissdata/internal/store"
	"swissdata/internal/stub"
)

func newRecordingClient(t *testing.T, opts ...Option) (*api.Client, *Recorder) {
	t.Helper()
	srv := stub.New(config.StubConfig{JWTSecret: "s", PublicKey: "pk"}, store.NewMemory(), storage.NewLocal(t.TempDir()))
	rec := New(append([]Option{WithHost("http://stub")}, opts...)...)
	client := api.NewClient(config.APIConfig{Host: "http://stub", PublicKey: "pk"},
		api.WithHTTPClient(&http.Client{Transport: stub.Transport(srv.App())}),
		api.WithMiddleware(rec.Middleware()))
	return client, rec
}

func TestRecorder_CapturesIDs(t *testing.T) {
	client, rec := newRecordingClient(t)
	ctx := context.Background()
	rec.Start()

	resp, err := client.Post(ctx, "/contact", map[string]any{"name": "Ann"}, api.RequestOptions{})
	require.NoError(t, err)
	created, err := api.DecodeObject(resp)
	require.NoError(t, err, "the response body must stay readable")
	id := created["id"].(string)

	resp, err = client.Get(ctx, "/contact/"+id, api.RequestOptions{})
	require.NoError(t, err)
	_, err = api.DecodeObject(resp)
	require.NoError(t, err)

	reqs := rec.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, -1, reqs[0].MaxCaptureIndex)
	assert.Equal(t, "/contact?apiKey=pk", reqs[0].TestURL)
	assert.Equal(t, map[string]any{"name": "Ann"}, reqs[0].TestBody)
	assert.Contains(t, reqs[0].Captures, Capture{Path: "$.id", Var: "capture_0"})
	assert.Equal(t, map[string]string{"capture_0": id}, rec.Vars())

	get := reqs[1]
	assert.Equal(t, "/contact/{{ capture_0 }}?apiKey=pk", get.TestURL)
	assert.Equal(t, 0, get.MaxCaptureIndex)
	assert.Equal(t, "object", get.Response.Type)
	var idExpect, nameExpect ExpectProperty
	for _, e := range get.ExpectProperties {
		switch e.Key {
		case "id":
			idExpect = e
		case "name":
			nameExpect = e
		}
	}
	assert.Equal(t, ExpectCaptured, idExpect.Type)
	assert.Equal(t, `"{{ capture_0 }}"`, idExpect.CapturedValue)
	assert.Equal(t, ExpectExact, nameExpect.Type)
	assert.Equal(t, `"Ann"`, nameExpect.ExpectedValue)
	assert.Equal(t, "{{ response.name }}", nameExpect.Prop)
}

func TestRecorder_ListAndStop(t *testing.T) {
	client, rec := newRecordingClient(t)
	ctx := context.Background()

	for _, name := range []string{"Ann", "Bob"} {
		resp, err := client.Post(ctx, "/contact", map[string]any{"name": name}, api.RequestOptions{})
		require.NoError(t, err)
		resp.Body.Close()
	}
	assert.Empty(t, rec.Requests(), "nothing is recorded before Start")

	rec.Toggle()
	resp, err := client.Get(ctx, "/contact", api.RequestOptions{})
	require.NoError(t, err)
	resp.Body.Close()
	rec.Stop()
	resp, err = client.Get(ctx, "/contact", api.RequestOptions{})
	require.NoError(t, err)
	resp.Body.Close()

	reqs := rec.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "array", reqs[0].Response.Type)
	assert.Len(t, rec.Vars(), 2)
	assert.Equal(t, []ExpectProperty{{
		Key: "length", Prop: "{{ response.length }}", OriginalValue: "2", ExpectedValue: "2", Type: ExpectExact,
	}}, reqs[0].ExpectProperties)
	assert.Equal(t, "$.1.id", reqs[0].Captures[2].Path)

	rec.Reset()
	assert.Empty(t, rec.Requests())
	assert.Empty(t, rec.Vars())
}

func TestRecorder_Callbacks(t *testing.T) {
	client, rec := newRecordingClient(t,
		WithHeader(func(name, value string) (string, bool) {
			if name == "sdiosid" {
				return "", false
			}
			return value, true
		}),
		WithExpectProperty(func(e *ExpectProperty) {
			if e.Key == "id" {
				e.Type = ExpectIgnore
			}
		}),
		WithKeepRequest(func(r *Request) bool { return r.Method != http.MethodGet }),
	)
	ctx := context.Background()
	rec.Start()

	resp, err := client.Post(ctx, "/contact", map[string]any{"name": "Ann"}, api.RequestOptions{})
	require.NoError(t, err)
	resp.Body.Close()
	resp, err = client.Get(ctx, "/contact", api.RequestOptions{})
	require.NoError(t, err)
	resp.Body.Close()

	reqs := rec.Requests()
	require.Len(t, reqs, 2)
	assert.NotContains(t, reqs[0].TestHeaders, "sdiosid")
	assert.Contains(t, reqs[0].RawHeaders, "sdiosid")
	assert.True(t, reqs[0].Keep)
	assert.False(t, reqs[1].Keep)

	var buf bytes.Buffer
	require.NoError(t, rec.ExportYAML(&buf, "contacts"))
	var sc Scenario
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &sc))
	assert.Equal(t, "contacts", sc.Name)
	require.Len(t, sc.Steps, 1)
	assert.Equal(t, http.MethodPost, sc.Steps[0].Method)
	assert.Equal(t, 200, sc.Steps[0].Status)
	for _, e := range sc.Steps[0].Expect {
		assert.NotEqual(t, "id", e.Key)
	}
	assert.True(t, strings.Contains(buf.String(), "capture_0"))
}

type failingBody struct {
	closed bool
}

func (b *failingBody) Read([]byte) (int, error) { return 0, errors.New("connection reset") }
func (b *failingBody) Close() error             { b.closed = true; return nil }

func TestRecorder_UnreadableResponse(t *testing.T) {
	rec := New(WithHost("http://stub"))
	rec.Start()
	body := &failingBody{}
	rt := rec.Middleware()(api.RoundTripperFunc(func(req *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: http.StatusOK,
			Header:     http.Header{"Content-Type": []string{"application/json"}},
			Body:       body,
			Request:    req,
		}, nil
	}))

	req, err := http.NewRequest(http.MethodGet, "http://stub/contact?apiKey=pk", nil)
	require.NoError(t, err)
	resp, err := rt.RoundTrip(req)
	assert.ErrorContains(t, err, "connection reset")
	assert.Nil(t, resp)
	assert.True(t, body.closed)
	assert.Empty(t, rec.Requests())
}
