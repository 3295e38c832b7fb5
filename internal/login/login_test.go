package login

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"swissdata/internal/api"
	"swissdata/internal/config"
	"swissdata/internal/session"
	"swissdata/internal/state"
	"swissdata/internal/storage"
	"swissdata/internal/store"
	"swissdata/internal/stub"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) handle(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		out = append(out, e.Action)
	}
	return out
}

func newTestLogin(t *testing.T, opts ...Option) (*Login, *stub.Server, *recorder) {
	t.Helper()
	srv := stub.New(config.StubConfig{JWTSecret: "s", PublicKey: "pk"}, store.NewMemory(), storage.NewLocal(t.TempDir()))
	cfg := config.APIConfig{Host: "http://stub", PublicKey: "pk"}
	client := api.NewClient(cfg, api.WithHTTPClient(&http.Client{Transport: stub.Transport(srv.App())}))
	s := session.New(client, state.NewStore(nil), cfg)
	require.NoError(t, s.Init(context.Background()))
	rec := &recorder{}
	opts = append([]Option{WithEventHandler(rec.handle)}, opts...)
	return New(s, opts...), srv, rec
}

func seedJo(t *testing.T, srv *stub.Server, extra store.Record) string {
	t.Helper()
	fields := store.Record{"firstname": "Jo", "lastname": "Doe", "email": "jo@example.ch"}
	for k, v := range extra {
		fields[k] = v
	}
	rec, err := srv.SeedUser(context.Background(), fields, "Secret12")
	require.NoError(t, err)
	return rec.ID()
}

func TestPolicy(t *testing.T) {
	tests := []struct {
		password             string
		strong, medium, weak bool
	}{
		{"Secret1!", true, true, true},
		{"Secret12", false, true, true},
		{"secret12", false, true, true},
		{"Sec1!", false, false, true},
		{"secret", false, false, true},
		{"!!!!", false, false, false},
		{"!!!!!!!!", false, false, true},
		{"", false, false, false},
		{"äöüÄÖÜ12", false, false, true},
		{"Sec\nret1!", false, false, true},
		{"ÄBCDEFG1", false, true, true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.strong, PolicyStrong.Check(tt.password), "strong %q", tt.password)
		assert.Equal(t, tt.medium, PolicyMedium.Check(tt.password), "medium %q", tt.password)
		assert.Equal(t, tt.weak, PolicyWeak.Check(tt.password), "weak %q", tt.password)
	}

	p, err := ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicyMedium, p)
	p, err = ParsePolicy("Strong")
	require.NoError(t, err)
	assert.Equal(t, PolicyStrong, p)
	_, err = ParsePolicy("extreme")
	assert.Error(t, err)
}

func TestCheckIfUsernameExists(t *testing.T) {
	l, srv, _ := newTestLogin(t)
	ctx := context.Background()
	seedJo(t, srv, nil)

	typ, err := l.CheckIfUsernameExists(ctx, "+41791234567")
	require.NoError(t, err)
	assert.Empty(t, typ)
	assert.Equal(t, 1, srv.CallCount("GET", "/user/exists/mobile/+41791234567"))
	assert.Equal(t, StepUsername, l.Step())

	typ, err = l.CheckIfUsernameExists(ctx, "Jo@Example.ch")
	require.NoError(t, err)
	assert.Equal(t, UsernameEmail, typ)
	assert.Equal(t, StepPassword, l.Step())
	assert.Equal(t, "Jo@Example.ch", l.store.State().SdLogin.Username)

	typ, err = l.CheckIfUsernameExists(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, typ)
}

func TestLogin(t *testing.T) {
	l, srv, events := newTestLogin(t)
	ctx := context.Background()
	id := seedJo(t, srv, nil)
	profile, err := srv.Seed(ctx, "profile", store.Record{
		"userId":  id,
		"street":  "Rue du Lac 1",
		"picture": map[string]any{"name": "jo.png", "filename": "jo.png", "type": "image/png", "size": 3},
	})
	require.NoError(t, err)

	_, err = l.CheckIfUsernameExists(ctx, "jo@example.ch")
	require.NoError(t, err)
	require.NoError(t, l.Login(ctx, "jo@example.ch", "Secret12"))

	assert.False(t, l.Processing())
	assert.Equal(t, StepAuthenticated, l.Step())
	st := l.store.State()
	assert.Equal(t, "Jo", st.Swissdata.User.Firstname)
	require.NotNil(t, st.Swissdata.Profile)
	assert.Equal(t, profile.ID(), st.Swissdata.Profile.ID)
	assert.Empty(t, st.SdLogin.Username)
	assert.Equal(t, []state.Account{{
		Firstname:  "Jo",
		Lastname:   "Doe",
		Username:   "jo@example.ch",
		UserID:     id,
		ProfileURL: "/profile/" + profile.ID() + "?download=picture",
	}}, l.Accounts())
	assert.Equal(t, []string{"login"}, events.actions())

	require.NoError(t, l.Logout(ctx))
	assert.Equal(t, StepUsername, l.Step())
	assert.Len(t, l.Accounts(), 1)
	assert.Equal(t, []string{"login", "logout"}, events.actions())

	l.ForgetAccount("jo@example.ch")
	assert.Empty(t, l.Accounts())
}

func TestLogin_Failures(t *testing.T) {
	l, srv, _ := newTestLogin(t)
	ctx := context.Background()
	seedJo(t, srv, nil)
	seedJo(t, srv, store.Record{"email": "dbl@example.ch", "requireDoubleAuth": true})

	err := l.Login(ctx, "jo@example.ch", "wrong")
	var appErr *api.AppError
	require.ErrorAs(t, err, &appErr)
	assert.False(t, l.Processing())

	err = l.Login(ctx, "dbl@example.ch", "Secret12")
	assert.ErrorIs(t, err, ErrDoubleAuthNotImplemented)
	assert.Equal(t, StepDoubleAuth, l.Step())
	assert.ErrorIs(t, l.DoubleAuth(ctx, "123456"), ErrDoubleAuthNotImplemented)
}

func TestCreateAccountAndValidateCode(t *testing.T) {
	l, srv, events := newTestLogin(t, WithClientURL("https://app.example.ch"))
	ctx := context.Background()

	_, err := l.CreateAccount(ctx, AccountInput{Firstname: "Ann", Lastname: "Doe", Email: "ann@example.ch", Password: "abc"})
	assert.ErrorIs(t, err, ErrPasswordTooWeak)
	assert.Empty(t, srv.Calls())

	created, err := l.CreateAccount(ctx, AccountInput{
		Firstname:   "Ann",
		Lastname:    "Doe",
		Email:       "ann@example.ch",
		Password:    "Secret12",
		EnsureEmail: true,
		ExtraData:   map[string]any{"newsletter": true},
	})
	require.NoError(t, err)
	require.NotEmpty(t, created.Token)
	assert.Equal(t, StepValidateAccount, l.Step())

	var body map[string]any
	calls := srv.Calls()
	require.NoError(t, json.Unmarshal(calls[len(calls)-1].Body, &body))
	assert.Equal(t, "https://app.example.ch", body["clientUrl"])
	assert.Equal(t, map[string]any{"newsletter": true}, body["extraData"])
	assert.Equal(t, "ann@example.ch", body["email"])

	require.NoError(t, l.ResendCode(ctx, UsernameEmail))

	_, err = l.ValidateCode(ctx, "123", UsernameEmail)
	assert.ErrorIs(t, err, ErrCodeTooShort)

	user, err := l.ValidateCode(ctx, srv.AccountCode(created.Token), UsernameEmail)
	require.NoError(t, err)
	assert.Equal(t, "Ann Doe", user.Label())
	assert.Equal(t, StepUsername, l.Step())
	assert.Equal(t, []string{"create-account", "validated-account"}, events.actions())

	// the address is now taken
	_, err = l.CreateAccount(ctx, AccountInput{Firstname: "Ann", Lastname: "Other", Email: "ann@example.ch", Password: "Secret12", EnsureEmail: true})
	assert.ErrorIs(t, err, ErrValidationFailed)
	assert.ErrorContains(t, err, "This email already exists")
}

func TestCreateAccount_OptionalContact(t *testing.T) {
	l, _, _ := newTestLogin(t)
	ctx := context.Background()

	_, err := l.CreateAccount(ctx, AccountInput{Firstname: "Ann", Lastname: "Doe", Email: "ann@example.ch", Password: "Secret12"})
	require.NoError(t, err, "a missing mobile does not block when not ensured")

	_, err = l.CreateAccount(ctx, AccountInput{Firstname: "Bob", Lastname: "Doe", Email: "bob@example.ch", Password: "Secret12", EnsureMobile: true})
	assert.ErrorIs(t, err, ErrValidationFailed)

	_, err = l.CreateAccount(ctx, AccountInput{Lastname: "Doe", Email: "cid@example.ch", Password: "Secret12"})
	assert.ErrorIs(t, err, ErrValidationFailed)
}

func TestResetPassword(t *testing.T) {
	l, srv, _ := newTestLogin(t)
	ctx := context.Background()
	seedJo(t, srv, nil)

	err := l.RequestResetPassword(ctx, "nobody@example.ch")
	assert.Error(t, err)

	require.NoError(t, l.RequestResetPassword(ctx, "JO@example.ch"))
	assert.Equal(t, StepResetPassword, l.Step())
	token := l.store.State().SdLogin.ResetPasswordToken

	assert.ErrorIs(t, l.ResetPassword(ctx, srv.ResetCode(token), "short"), ErrPasswordTooWeak)
	require.NoError(t, l.ResetPassword(ctx, srv.ResetCode(token), "N3wSecret"))
	assert.Equal(t, StepUsername, l.Step())

	require.NoError(t, l.Login(ctx, "jo@example.ch", "N3wSecret"))
}
