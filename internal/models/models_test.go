package models

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"swissdata/internal/api"
	"swissdata/internal/config"
	"swissdata/internal/deco"
	"swissdata/internal/model"
	"swissdata/internal/storage"
	"swissdata/internal/store"
	"swissdata/internal/stub"
)

func newStub(t *testing.T) (*api.Client, *stub.Server) {
	t.Helper()
	srv := stub.New(config.StubConfig{JWTSecret: "s", PublicKey: "pk"}, store.NewMemory(), storage.NewLocal(t.TempDir()))
	c := api.NewClient(config.APIConfig{Host: "http://stub", PublicKey: "pk"},
		api.WithHTTPClient(&http.Client{Transport: stub.Transport(srv.App())}))
	return c, srv
}

func TestUser_DefaultsAndLabel(t *testing.T) {
	u := User.New()
	assert.Equal(t, false, u.Get("emailValidated"))
	assert.Equal(t, []string{}, u.Get("roles"))

	u.ID = "5f2a5f2a5f2a5f2a5f2a5f2a"
	assert.Equal(t, u.ID, u.Label())

	u.Set("firstname", "Jo")
	u.Set("lastname", "Doe")
	assert.Equal(t, "Jo Doe", u.Label())

	// defaults are not shared between instances
	u.Set("roles", append(u.Get("roles").([]string), "admin"))
	assert.Equal(t, []string{}, User.New().Get("roles"))
}

func TestApp_Label(t *testing.T) {
	a := App.New()
	assert.Equal(t, "My New App", a.Label())
	assert.Equal(t, 587, a.Get("smtpConfigPort"))
	assert.Equal(t, "emailOrMobile", a.Get("createAccountValidation"))
}

func TestDico_MultilangValue(t *testing.T) {
	v := deco.NewValidator()
	ctx := context.Background()

	d := Dico.New()
	d.Set("key", "hello")
	d.Set("value", map[string]any{"fr": "Bonjour", "en": "Hello"})
	res, err := v.Validate(ctx, d)
	require.NoError(t, err)
	assert.True(t, res.Valid, res.Failed())

	d.Set("value", map[string]any{"de": "Hallo"})
	res, err = v.Validate(ctx, d)
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Len(t, res.FieldErrors("value"), 1)
}

func TestUniqueByApp(t *testing.T) {
	client, srv := newStub(t)
	ctx := context.Background()
	existing, err := srv.SeedUser(ctx, store.Record{"firstname": "Ann", "email": "ann@example.ch"}, "Secret123")
	require.NoError(t, err)

	v := deco.NewValidator()
	RegisterUniqueByApp(v, client)

	u := User.New()
	u.Set("email", "ann@example.ch")
	res, err := v.Validate(ctx, u)
	require.NoError(t, err)
	assert.Contains(t, res.FieldErrors("email"), "This email already exists")

	u.ID = existing.ID()
	res, err = v.Validate(ctx, u)
	require.NoError(t, err)
	assert.Empty(t, res.FieldErrors("email"))

	u.Set("email", "other@example.ch")
	u.ID = ""
	res, err = v.Validate(ctx, u)
	require.NoError(t, err)
	assert.Empty(t, res.FieldErrors("email"))

	// empty values are left to the required rule
	u.Set("mobile", "")
	res, err = v.Validate(ctx, u)
	require.NoError(t, err)
	assert.Equal(t, []string{"mobile is required."}, res.FieldErrors("mobile"))
}

func TestCreateAccountAndValidate(t *testing.T) {
	client, srv := newStub(t)
	ctx := context.Background()
	users := model.New(client, User)

	u := users.New()
	u.Set("firstname", "Jo")
	u.Set("lastname", "Doe")
	u.Set("email", "jo@example.ch")

	created, err := CreateAccount(ctx, users, u, AccountRequest{Password: "Secret123"})
	require.NoError(t, err)
	require.NotEmpty(t, created.Token)
	assert.Nil(t, created.User)
	assert.Equal(t, "emailOrMobile", created.CreateAccountValidation)
	assert.False(t, created.EmailValidated)

	_, err = ValidateAccountCreationToken(ctx, users, created.Token, "email", "000000x")
	var appErr *api.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "Invalid code", appErr.Message)

	user, err := ValidateAccountCreationToken(ctx, users, created.Token, "email", srv.AccountCode(created.Token))
	require.NoError(t, err)
	assert.Equal(t, "Jo Doe", user.Label())
	assert.Equal(t, true, user.Get("emailValidated"))
	assert.NotEmpty(t, user.ID)

	_, err = ValidateAccountCreationToken(ctx, users, created.Token, "fax", "1")
	assert.Error(t, err)
}
