package session

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"swissdata/internal/api"
	"swissdata/internal/config"
	"swissdata/internal/state"
	"swissdata/internal/storage"
	"swissdata/internal/store"
	"swissdata/internal/stub"
)

func newTestSession(t *testing.T, opts ...Option) (*Session, *stub.Server) {
	t.Helper()
	srv := stub.New(config.StubConfig{JWTSecret: "s", PublicKey: "pk"}, store.NewMemory(), storage.NewLocal(t.TempDir()))
	cfg := config.APIConfig{Host: "http://stub", PublicKey: "pk"}
	client := api.NewClient(cfg, api.WithHTTPClient(&http.Client{Transport: stub.Transport(srv.App())}))
	s := New(client, state.NewStore(nil), cfg, opts...)
	require.NoError(t, s.Init(context.Background()))
	return s, srv
}

func seedJo(t *testing.T, srv *stub.Server, extra store.Record) string {
	t.Helper()
	fields := store.Record{"firstname": "Jo", "lastname": "Doe", "email": "jo@example.ch", "roles": []any{"user"}}
	for k, v := range extra {
		fields[k] = v
	}
	rec, err := srv.SeedUser(context.Background(), fields, "Secret12!")
	require.NoError(t, err)
	return rec.ID()
}

func TestAuthenticate(t *testing.T) {
	s, srv := newTestSession(t)
	ctx := context.Background()
	id := seedJo(t, srv, nil)

	ok, err := s.Authenticate(ctx, "JO@example.ch", "Secret12!")
	require.NoError(t, err)
	assert.True(t, ok)

	calls := srv.Calls()
	var body map[string]any
	require.NoError(t, json.Unmarshal(calls[0].Body, &body))
	assert.Equal(t, "jo@example.ch", body["username"])

	st := s.Store().State().Swissdata
	assert.True(t, st.Authenticated)
	assert.NotEmpty(t, st.AccessToken)
	require.NotNil(t, st.User)
	assert.Equal(t, id, st.User.ID)
	assert.Equal(t, []string{"user"}, st.User.Roles)

	expiry, ok := s.TokenExpiry()
	require.True(t, ok)
	assert.True(t, expiry.After(time.Now()))

	ok, err = s.EnsureAuthentication(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAuthenticate_WrongPassword(t *testing.T) {
	s, srv := newTestSession(t)
	seedJo(t, srv, nil)

	ok, err := s.Authenticate(context.Background(), "jo@example.ch", "nope")
	assert.False(t, ok)
	var appErr *api.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "Invalid username or password", appErr.Message)
	assert.False(t, s.Store().State().Swissdata.Authenticated)
}

func TestDoubleAuth(t *testing.T) {
	s, srv := newTestSession(t)
	ctx := context.Background()
	seedJo(t, srv, store.Record{"requireDoubleAuth": true})

	ok, err := s.Authenticate(ctx, "jo@example.ch", "Secret12!")
	require.NoError(t, err)
	assert.False(t, ok)

	st := s.Store().State().Swissdata
	assert.Equal(t, state.StepDoubleAuth, st.LoginStep)
	assert.True(t, st.RequireDoubleAuthValidation)
	require.NotEmpty(t, st.DoubleAuthValidationToken)
	assert.Empty(t, st.AccessToken)

	ok, err = s.DoubleAuth(ctx, srv.DoubleAuthCode(st.DoubleAuthValidationToken))
	require.NoError(t, err)
	assert.True(t, ok)
	st = s.Store().State().Swissdata
	assert.True(t, st.Authenticated)
	assert.Equal(t, state.StepLogin, st.LoginStep)
	assert.Empty(t, st.DoubleAuthValidationToken)
}

func TestEnsureAuthentication_RevokedToken(t *testing.T) {
	var logouts atomic.Int32
	s, srv := newTestSession(t, WithLogoutHandler(func() { logouts.Add(1) }))
	ctx := context.Background()
	seedJo(t, srv, nil)

	ok, err := s.EnsureAuthentication(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, srv.Calls(), "signed out sessions do not ask the API")

	_, err = s.Authenticate(ctx, "jo@example.ch", "Secret12!")
	require.NoError(t, err)
	srv.Issuer().Revoke(s.Store().State().Swissdata.AccessToken)

	ok, err = s.EnsureAuthentication(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, s.Store().State().Swissdata.Authenticated)
	assert.Eventually(t, func() bool { return logouts.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestLogout(t *testing.T) {
	var logouts atomic.Int32
	s, srv := newTestSession(t, WithLogoutHandler(func() { logouts.Add(1) }))
	ctx := context.Background()
	seedJo(t, srv, nil)
	_, err := s.Authenticate(ctx, "jo@example.ch", "Secret12!")
	require.NoError(t, err)
	token := s.Store().State().Swissdata.AccessToken

	require.NoError(t, s.Logout(ctx))
	assert.Equal(t, 1, srv.CallCount("POST", "/auth/revoke-token"))
	assert.False(t, s.Store().State().Swissdata.Authenticated)
	assert.Empty(t, s.Store().State().Swissdata.AccessToken)
	assert.Equal(t, int32(1), logouts.Load())

	_, err = srv.Issuer().Parse(token)
	assert.Error(t, err)
}

func TestResetPassword(t *testing.T) {
	s, srv := newTestSession(t)
	ctx := context.Background()
	seedJo(t, srv, nil)

	res, err := s.RequestResetPassword(ctx, "JO@EXAMPLE.CH")
	require.NoError(t, err)
	token, _ := res["token"].(string)
	require.NotEmpty(t, token)

	_, err = s.ResetPassword(ctx, token, "bad", "N3wPass!!")
	assert.Error(t, err)

	res, err = s.ResetPassword(ctx, token, srv.ResetCode(token), "N3wPass!!")
	require.NoError(t, err)
	assert.Equal(t, true, res["success"])

	ok, err := s.Authenticate(ctx, "jo@example.ch", "N3wPass!!")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestHideOnboardingAndEnsureUsers(t *testing.T) {
	s, srv := newTestSession(t)
	ctx := context.Background()
	id := seedJo(t, srv, nil)
	_, err := s.Authenticate(ctx, "jo@example.ch", "Secret12!")
	require.NoError(t, err)

	user, err := s.HideOnboarding(ctx)
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.True(t, user.HideOnboarding)
	assert.True(t, s.Store().State().Swissdata.User.HideOnboarding)

	inst, found, err := s.EnsureUsers().Get(ctx, id)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "Jo Doe", inst.Label())
	assert.Contains(t, srv.Calls()[len(srv.Calls())-1].Query, "locale=fr")
}

func TestIsReady(t *testing.T) {
	srv := stub.New(config.StubConfig{PublicKey: "pk"}, store.NewMemory(), storage.NewLocal(t.TempDir()))
	cfg := config.APIConfig{Host: "http://stub", PublicKey: "pk"}
	client := api.NewClient(cfg, api.WithHTTPClient(&http.Client{Transport: stub.Transport(srv.App())}))
	s := New(client, state.NewStore(nil), cfg)

	_, err := s.Authenticate(context.Background(), "a", "b")
	assert.ErrorIs(t, err, ErrNotInitialized)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.IsReady(ctx), context.Canceled)

	go func() {
		time.Sleep(60 * time.Millisecond)
		_ = s.Init(context.Background())
	}()
	assert.NoError(t, s.IsReady(context.Background()))
	assert.Equal(t, "http://stub", s.Store().State().Swissdata.APIHost())
}

func TestCheckStatus(t *testing.T) {
	var mu sync.Mutex
	var changes []bool
	s, srv := newTestSession(t, WithStatusHandler(func(online bool) {
		mu.Lock()
		changes = append(changes, online)
		mu.Unlock()
	}))
	seen := func() []bool {
		mu.Lock()
		defer mu.Unlock()
		return append([]bool(nil), changes...)
	}

	s.StartCheckStatus(context.Background(), 10*time.Millisecond)
	defer s.StopCheckingStatus()
	assert.Eventually(t, func() bool { return len(seen()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, state.OnlineYes, s.Store().State().Swissdata.Online)

	srv.SetOffline(true)
	assert.Eventually(t, func() bool { return len(seen()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, state.OnlineNo, s.Store().State().Swissdata.Online)

	s.StopCheckingStatus()
	assert.Equal(t, []bool{true, false}, seen())
}

func TestImageSrc(t *testing.T) {
	s, _ := newTestSession(t)
	assert.Equal(t, "http://stub/profile/p1?apiKey=pk&download=picture", s.ImageSrc("/profile/p1", "picture", ""))
	assert.Equal(t, "http://stub/profile/p1?apiKey=pk&download=picture&preview=320:320", s.ImageSrc("profile/p1", "picture", "320:320"))
}

func TestAuthControl(t *testing.T) {
	var notified atomic.Int32
	ac := NewAuthControl(20*time.Millisecond, func() { notified.Add(1) })
	base := api.RoundTripperFunc(func(req *http.Request) (*http.Response, error) {
		status, body := http.StatusInternalServerError, `{"error":"Token has expired"}`
		if strings.Contains(req.URL.Path, "/boom") {
			body = `{"error":"boom"}`
		}
		if strings.Contains(req.URL.Path, "/fail") {
			return nil, errors.New("network down")
		}
		return &http.Response{StatusCode: status, Header: http.Header{}, Body: io.NopCloser(strings.NewReader(body)), Request: req}, nil
	})
	hc := &http.Client{Transport: ac.Middleware()(base)}
	get := func(path string) {
		resp, err := hc.Get("http://stub" + path)
		if err != nil {
			return
		}
		defer resp.Body.Close()
		raw, _ := io.ReadAll(resp.Body)
		assert.Contains(t, string(raw), "error", "body stays readable")
	}

	for range 5 {
		get("/user")
	}
	assert.Eventually(t, func() bool { return notified.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, int32(1), notified.Load(), "one notification per burst")

	get("/user/validate")
	get("/boom")
	get("/fail")
	ac.SetActive(false)
	get("/user")
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, int32(1), notified.Load())
}
