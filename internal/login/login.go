// Package login drives the sign-in, account creation and password reset
// flows on top of a session.
package login

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync/atomic"

	log "github.com/sirupsen/logrus"

	"swissdata/internal/api"
	"swissdata/internal/deco"
	"swissdata/internal/model"
	"swissdata/internal/models"
	"swissdata/internal/session"
	"swissdata/internal/state"
)

var (
	ErrPasswordTooWeak          = errors.New("password not strong enough")
	ErrDoubleAuthNotImplemented = errors.New("double auth not yet implemented")
	ErrCodeTooShort             = errors.New("the code must contain at least 6 digits")
	ErrValidationFailed         = errors.New("validation failed")
	ErrUserNotFound             = errors.New("user not found")
	ErrInvalidResponse          = session.ErrInvalidResponse
	ErrInvalidRequest           = errors.New("invalid request")
)

const minCodeLength = 6

// Step is the screen the login flow is on.
type Step string

const (
	StepUsername        Step = "login"
	StepPassword        Step = "password"
	StepValidateAccount Step = "validate-account"
	StepDoubleAuth      Step = "double-auth"
	StepResetPassword   Step = "reset-password"
	StepAuthenticated   Step = "authenticated"
)

// StepOf derives the current step from the state.
func StepOf(s state.AppState) Step {
	switch {
	case s.Swissdata.Authenticated:
		return StepAuthenticated
	case s.SdLogin.ResetPasswordToken != "":
		return StepResetPassword
	case s.SdLogin.RequireDoubleAuthValidation || s.Swissdata.RequireDoubleAuthValidation:
		return StepDoubleAuth
	case s.SdLogin.CreateAccountValidationToken != "":
		return StepValidateAccount
	case s.SdLogin.Username != "":
		return StepPassword
	}
	return StepUsername
}

// UsernameType tells how a username identifies its user.
type UsernameType string

const (
	UsernameEmail  UsernameType = "email"
	UsernameMobile UsernameType = "mobile"
)

// TypeOf returns mobile for usernames without an @, email otherwise.
func TypeOf(username string) UsernameType {
	if strings.Contains(username, "@") {
		return UsernameEmail
	}
	return UsernameMobile
}

// Event is published when the flow reaches a milestone.
type Event struct {
	Category string
	Action   string
	Value    map[string]any
}

type Option func(*Login)

func WithPolicy(p Policy) Option {
	return func(l *Login) { l.policy = p }
}

func WithClientURL(u string) Option {
	return func(l *Login) { l.clientURL = u }
}

func WithEventHandler(fn func(Event)) Option {
	return func(l *Login) { l.onEvent = append(l.onEvent, fn) }
}

type Login struct {
	session    *session.Session
	store      *state.Store
	users      *model.Model
	profiles   *model.Model
	policy     Policy
	clientURL  string
	onEvent    []func(Event)
	processing atomic.Bool
	log        *log.Entry
}

func New(s *session.Session, opts ...Option) *Login {
	l := &Login{
		session: s,
		store:   s.Store(),
		policy:  PolicyMedium,
		log:     log.WithField("component", "sd-login"),
	}
	for _, opt := range opts {
		opt(l)
	}
	v := deco.NewValidator()
	models.RegisterUniqueByApp(v, s.Client())
	l.users = model.New(s.Client(), models.User, model.WithLocale(l.store), model.WithValidator(v))
	l.profiles = model.New(s.Client(), models.Profile, model.WithLocale(l.store))
	return l
}

// Processing reports whether a request of the flow is in flight.
func (l *Login) Processing() bool { return l.processing.Load() }

func (l *Login) Step() Step { return StepOf(l.store.State()) }

func (l *Login) Policy() Policy { return l.policy }

// Accounts returns the accounts remembered on this device, most recent
// first.
func (l *Login) Accounts() []state.Account { return l.store.State().SdLogin.Accounts }

func (l *Login) ForgetAccount(username string) {
	l.store.Dispatch(state.RemoveRegisteredUserID(username))
}

func (l *Login) publish(e Event) {
	for _, fn := range l.onEvent {
		fn(e)
	}
}

func (l *Login) begin() func() {
	l.processing.Store(true)
	return func() { l.processing.Store(false) }
}

// CheckIfUsernameExists asks the API for username and moves to the
// password step when it is known. It returns "" for unknown usernames.
func (l *Login) CheckIfUsernameExists(ctx context.Context, username string) (UsernameType, error) {
	if username == "" {
		return "", nil
	}
	typ := TypeOf(username)
	resp, err := l.session.Client().Get(ctx, "/user/exists/"+string(typ)+"/"+url.PathEscape(strings.ToLower(username)), api.RequestOptions{})
	if err != nil {
		return "", err
	}
	var res struct {
		Exists bool `json:"exists"`
	}
	if err := api.DecodeInto(resp, &res); err != nil {
		return "", err
	}
	if !res.Exists {
		return "", nil
	}
	l.store.Dispatch(state.PasswordStep(username))
	return typ, nil
}

// Login signs username in, loads the current user and profile and
// remembers the account on this device.
func (l *Login) Login(ctx context.Context, username, password string) error {
	defer l.begin()()

	tok, err := l.session.RequestToken(ctx, map[string]any{
		"username": strings.ToLower(username),
		"password": password,
	})
	if err != nil {
		return err
	}
	switch {
	case tok == nil || tok.Token == "":
		return ErrInvalidResponse
	case tok.Type == "double-auth":
		l.store.Dispatch(state.DoubleAuthStep(tok.Token))
		return ErrDoubleAuthNotImplemented
	case tok.Type != "access":
		return ErrInvalidResponse
	}
	l.store.Dispatch(state.LoginSetAccessToken(tok.Token))

	user, err := l.session.FetchCurrentUser(ctx)
	if err != nil {
		return err
	}
	if user == nil {
		l.store.Dispatch(state.LoginLogout)
		return ErrUserNotFound
	}
	l.store.Dispatch(state.LoginAuthenticate(user, "", nil))

	profile, err := l.currentProfile(ctx)
	if err != nil {
		return err
	}
	if profile != nil {
		l.store.Dispatch(state.SetCurrentProfile(profile))
	}

	st := l.store.Dispatch(state.RegisterCurrentUserID(username), state.Reset)
	l.log.WithField("user", user.ID).Info("logged in")
	l.publish(Event{Category: "login", Action: "login", Value: map[string]any{
		"accessToken": st.Swissdata.AccessToken,
		"user":        st.Swissdata.User,
		"profile":     st.Swissdata.Profile,
	}})
	return nil
}

func (l *Login) currentProfile(ctx context.Context) (*deco.Instance, error) {
	resp, err := l.session.Client().Get(ctx, "/profile/current", api.RequestOptions{})
	if err != nil {
		return nil, err
	}
	element, err := api.DecodeObject(resp)
	if err != nil || element == nil {
		return nil, err
	}
	return l.profiles.InstanceFromAPI(ctx, element)
}

// DoubleAuth is not supported by the login flow; Session.DoubleAuth
// completes a double authentication.
func (l *Login) DoubleAuth(ctx context.Context, code string) error {
	return ErrDoubleAuthNotImplemented
}

// AccountInput holds what a new user types in. Email and mobile failures
// only block the creation when the matching Ensure flag is set.
type AccountInput struct {
	Firstname    string
	Lastname     string
	Email        string
	Mobile       string
	Password     string
	EnsureEmail  bool
	EnsureMobile bool
	ExtraData    map[string]any
}

// CreateAccount validates the input and requests the account. When the
// API answers a validation token the flow moves to the validate-account
// step.
func (l *Login) CreateAccount(ctx context.Context, in AccountInput) (*models.AccountCreation, error) {
	if !l.policy.Check(in.Password) {
		return nil, ErrPasswordTooWeak
	}
	user := l.users.New()
	user.Set("firstname", in.Firstname)
	user.Set("lastname", in.Lastname)
	user.Set("email", optional(in.Email))
	user.Set("mobile", optional(in.Mobile))

	_, res, err := l.users.Validate(ctx, user)
	if err != nil {
		return nil, err
	}
	for _, r := range res.Failed() {
		if (r.Field == "mobile" && !in.EnsureMobile) || (r.Field == "email" && !in.EnsureEmail) {
			continue
		}
		return nil, fmt.Errorf("%w: %s", ErrValidationFailed, r.Message)
	}

	defer l.begin()()
	l.publish(Event{Category: "login", Action: "create-account", Value: map[string]any{"email": in.Email, "mobile": in.Mobile}})

	created, err := models.CreateAccount(ctx, l.users, user, models.AccountRequest{
		Password:  in.Password,
		ExtraData: in.ExtraData,
		ClientURL: l.clientURL,
	})
	if err != nil {
		return nil, err
	}
	if created.Token != "" {
		l.store.Dispatch(state.ValidateAccountStep(created.Token, created.Expires))
	}
	return created, nil
}

func optional(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// ValidateCode confirms the pending account with the code received
// through method (email or mobile).
func (l *Login) ValidateCode(ctx context.Context, code string, method UsernameType) (*deco.Instance, error) {
	if len(code) < minCodeLength {
		return nil, ErrCodeTooShort
	}
	defer l.begin()()

	token := l.store.State().SdLogin.CreateAccountValidationToken
	user, err := models.ValidateAccountCreationToken(ctx, l.users, token, string(method), code)
	if err != nil {
		return nil, err
	}
	if err := l.checkValidatedUser(user); err != nil {
		return nil, err
	}
	l.store.Dispatch(state.Reset)
	return user, nil
}

func (l *Login) checkValidatedUser(user *deco.Instance) error {
	if v, _ := user.Extra("createAccountValidation"); v != nil {
		return fmt.Errorf("%w: accounts requiring both email and mobile validation are not supported", ErrValidationFailed)
	}
	if s, _ := user.Get("firstname").(string); s == "" {
		return fmt.Errorf("%w: no user in the answer", ErrValidationFailed)
	}
	l.publish(Event{Category: "login", Action: "validated-account", Value: map[string]any{"userId": user.ID}})
	return nil
}

// ResendCode asks the API to send the account validation code again.
func (l *Login) ResendCode(ctx context.Context, method UsernameType) error {
	resp, err := l.session.Client().Put(ctx, "/user/resend-code", map[string]any{
		"token":  l.store.State().SdLogin.CreateAccountValidationToken,
		"method": string(method),
	}, api.RequestOptions{})
	if err != nil {
		return err
	}
	_, err = api.Decode(resp)
	return err
}

// RequestResetPassword starts a password reset for an email or mobile.
func (l *Login) RequestResetPassword(ctx context.Context, input string) error {
	defer l.begin()()
	res, err := l.session.RequestResetPassword(ctx, input)
	if err != nil {
		return err
	}
	token, _ := res["token"].(string)
	if token == "" {
		return ErrInvalidRequest
	}
	l.store.Dispatch(state.ResetPasswordStep(token))
	return nil
}

// ResetPassword sets a new password with the code of the pending reset.
func (l *Login) ResetPassword(ctx context.Context, code, password string) error {
	if !l.policy.Check(password) {
		return ErrPasswordTooWeak
	}
	defer l.begin()()
	token := l.store.State().SdLogin.ResetPasswordToken
	if _, err := l.session.ResetPassword(ctx, token, code, password); err != nil {
		return err
	}
	l.store.Dispatch(state.ResetPasswordStep(""))
	return nil
}

// Logout revokes the access token and clears the signed in user. The
// state is cleared even when the revocation fails.
func (l *Login) Logout(ctx context.Context) error {
	err := l.session.Logout(ctx)
	l.store.Dispatch(state.LoginLogout)
	l.publish(Event{Category: "login", Action: "logout"})
	return err
}
