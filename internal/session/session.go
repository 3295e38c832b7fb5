// Package session keeps the authenticated Swissdata session: tokens, the
// current user, API reachability and readiness.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	log "github.com/sirupsen/logrus"

	"swissdata/internal/api"
	"swissdata/internal/config"
	"swissdata/internal/deco"
	"swissdata/internal/ensure"
	"swissdata/internal/model"
	"swissdata/internal/models"
	"swissdata/internal/state"
)

const (
	readyPollInterval = 50 * time.Millisecond
	readyTimeout      = 5 * time.Second
)

var (
	ErrNotInitialized  = errors.New("session must be initialized (Init) before you can use it")
	ErrNotReady        = errors.New("session not ready after 5 seconds [timeout]")
	ErrInvalidResponse = errors.New("invalid response")
)

// TokenResponse is the answer of /auth/token.
type TokenResponse struct {
	Type    string `json:"type"`
	Token   string `json:"token"`
	Expires string `json:"expires,omitempty"`
}

type Option func(*Session)

// WithStatusHandler is called whenever the API goes online or offline.
func WithStatusHandler(fn func(online bool)) Option {
	return func(s *Session) { s.onStatus = append(s.onStatus, fn) }
}

// WithLogoutHandler is called after every logout.
func WithLogoutHandler(fn func()) Option {
	return func(s *Session) { s.onLogout = append(s.onLogout, fn) }
}

func WithAuthControlDelay(d time.Duration) Option {
	return func(s *Session) { s.authDelay = d }
}

type Session struct {
	client    *api.Client
	store     *state.Store
	cfg       config.APIConfig
	log       *log.Entry
	authDelay time.Duration
	auth      *AuthControl
	users     *model.Model
	ensure    *ensure.Cache[*deco.Instance]
	onStatus  []func(bool)
	onLogout  []func()

	mu         sync.Mutex
	ready      bool
	stopStatus context.CancelFunc
	statusDone chan struct{}
}

func New(client *api.Client, store *state.Store, cfg config.APIConfig, opts ...Option) *Session {
	s := &Session{
		client: client,
		store:  store,
		cfg:    cfg,
		log:    log.WithField("component", "swissdata-api"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.auth = NewAuthControl(s.authDelay, s.Expire)
	s.users = model.New(client, models.User, model.WithLocale(store))
	s.ensure = ensure.ForModel(s.users, model.GetAllOptions{}, ensure.WithLanguage(store.Language))
	return s
}

// Init stores the public key and host, installs the credentials and the
// authentication control on the client and marks the session ready.
// Calling it again is a no-op.
func (s *Session) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready {
		return nil
	}
	if s.cfg.Host == "" && !s.client.Configured() {
		return fmt.Errorf("init session: %w", api.ErrNotConfigured)
	}
	host := s.cfg.Host
	if host == "" {
		host = s.client.Host()
	}

	s.store.Dispatch(state.InitSwissdataState, state.SetPublicKey(s.cfg.PublicKey), state.SetAPIHost(host))
	s.client.SetCredentials(s.store.Credentials)
	s.client.Use(s.auth.Middleware())
	if !s.client.Configured() {
		s.client.Configure(host)
	}
	s.ready = true
	s.log.WithField("host", host).Debug("session ready")
	return nil
}

func (s *Session) Client() *api.Client       { return s.client }
func (s *Session) Store() *state.Store       { return s.store }
func (s *Session) AuthControl() *AuthControl { return s.auth }
func (s *Session) Users() *model.Model       { return s.users }

// EnsureUsers resolves user ids in batches.
func (s *Session) EnsureUsers() *ensure.Cache[*deco.Instance] { return s.ensure }

func (s *Session) isReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

// IsReady waits for Init, polling every 50ms, and gives up after 5s.
func (s *Session) IsReady(ctx context.Context) error {
	if s.isReady() {
		return nil
	}
	ticker := time.NewTicker(readyPollInterval)
	defer ticker.Stop()
	timeout := time.NewTimer(readyTimeout)
	defer timeout.Stop()
	for {
		select {
		case <-ticker.C:
			if s.isReady() {
				return nil
			}
		case <-timeout.C:
			return ErrNotReady
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Authenticate exchanges credentials for a token. It reports true when
// the user is signed in, false when the answer holds no token or a double
// authentication code is expected. Any error signs the session out.
func (s *Session) Authenticate(ctx context.Context, username, password string) (bool, error) {
	if !s.isReady() {
		return false, ErrNotInitialized
	}
	ok, err := s.requestToken(ctx, map[string]any{
		"username": strings.ToLower(username),
		"password": password,
	}, true)
	if err != nil {
		s.store.Dispatch(state.Logout)
		return false, err
	}
	return ok, nil
}

// DoubleAuth completes a double authentication with the received code.
func (s *Session) DoubleAuth(ctx context.Context, code string) (bool, error) {
	if !s.isReady() {
		return false, ErrNotInitialized
	}
	ok, err := s.requestToken(ctx, map[string]any{
		"token": s.store.State().Swissdata.DoubleAuthValidationToken,
		"code":  code,
	}, false)
	if err != nil {
		s.store.Dispatch(state.Logout)
		return false, err
	}
	return ok, nil
}

func (s *Session) requestToken(ctx context.Context, body map[string]any, allowDoubleAuth bool) (bool, error) {
	tok, err := s.RequestToken(ctx, body)
	if err != nil || tok == nil || tok.Token == "" {
		return false, err
	}
	switch {
	case tok.Type == "access":
		s.store.Dispatch(state.SetAccessToken(tok.Token))
		return s.SetCurrentUser(ctx)
	case tok.Type == "double-auth" && allowDoubleAuth:
		s.store.Dispatch(state.SetDoubleAuthValidationToken(tok.Token), state.WaitForDoubleAuth(tok.Token))
		return false, nil
	}
	return false, ErrInvalidResponse
}

// RequestToken posts body to /auth/token and decodes the answer without
// touching the state.
func (s *Session) RequestToken(ctx context.Context, body map[string]any) (*TokenResponse, error) {
	resp, err := s.client.Post(ctx, "/auth/token", body, api.RequestOptions{})
	if err != nil {
		return nil, err
	}
	var tok *TokenResponse
	if err := api.DecodeInto(resp, &tok); err != nil {
		return nil, err
	}
	return tok, nil
}

// FetchCurrentUser returns the user owning the access token, nil when the
// API does not know it.
func (s *Session) FetchCurrentUser(ctx context.Context) (*state.User, error) {
	resp, err := s.client.Get(ctx, "/user/current", api.RequestOptions{})
	if err != nil {
		return nil, err
	}
	var user *state.User
	if err := api.DecodeInto(resp, &user); err != nil {
		return nil, err
	}
	return user, nil
}

// SetCurrentUser loads the current user and signs the session in, or out
// when the API answers no user.
func (s *Session) SetCurrentUser(ctx context.Context) (bool, error) {
	user, err := s.FetchCurrentUser(ctx)
	if err != nil {
		return false, err
	}
	if user == nil {
		s.store.Dispatch(state.Logout)
		return false, nil
	}
	s.store.Dispatch(state.Authenticate(user, "", nil))
	return true, nil
}

// EnsureAuthentication asks the API whether the access token is still
// valid and signs the session out when it is not.
func (s *Session) EnsureAuthentication(ctx context.Context) (bool, error) {
	if !s.isReady() {
		return false, ErrNotInitialized
	}
	if !s.store.State().Swissdata.Authenticated {
		return false, nil
	}
	resp, err := s.client.Post(ctx, "/auth/authenticated", nil, api.RequestOptions{})
	if err == nil {
		resp.Body.Close()
		if resp.StatusCode == http.StatusNoContent {
			return true, nil
		}
	}
	s.store.Dispatch(state.Logout)
	return false, nil
}

// Logout revokes the access token. The session is signed out even when
// the revocation fails.
func (s *Session) Logout(ctx context.Context) error {
	token := s.store.State().Swissdata.AccessToken
	resp, err := s.client.Post(ctx, "/auth/revoke-token", map[string]any{"token": token}, api.RequestOptions{})
	if err == nil {
		_, err = api.Decode(resp)
	}
	s.Expire()
	if err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

// Expire signs the session out locally.
func (s *Session) Expire() {
	s.store.Dispatch(state.Logout)
	for _, fn := range s.onLogout {
		fn()
	}
}

func (s *Session) RequestResetPassword(ctx context.Context, emailOrMobile string) (map[string]any, error) {
	resp, err := s.client.Post(ctx, "/auth/forgot-password", map[string]any{"q": strings.ToLower(emailOrMobile)}, api.RequestOptions{})
	if err != nil {
		return nil, err
	}
	return api.DecodeObject(resp)
}

func (s *Session) ResetPassword(ctx context.Context, token, code, newPassword string) (map[string]any, error) {
	resp, err := s.client.Put(ctx, "/auth/reset-password", map[string]any{
		"token":       token,
		"code":        code,
		"newPassword": newPassword,
	}, api.RequestOptions{})
	if err != nil {
		return nil, err
	}
	return api.DecodeObject(resp)
}

// HideOnboarding flags the current user and refreshes it in the state.
func (s *Session) HideOnboarding(ctx context.Context) (*state.User, error) {
	resp, err := s.client.Put(ctx, "/user/hide-onboarding", nil, api.RequestOptions{})
	if err != nil {
		return nil, err
	}
	var user *state.User
	if err := api.DecodeInto(resp, &user); err != nil {
		return nil, err
	}
	if user == nil {
		s.store.Dispatch(state.Logout)
		return nil, nil
	}
	s.store.Dispatch(state.Authenticate(user, "", nil))
	return user, nil
}

// TokenExpiry reads the expiry of the access token without verifying its
// signature.
func (s *Session) TokenExpiry() (time.Time, bool) {
	token := s.store.State().Swissdata.AccessToken
	if token == "" {
		return time.Time{}, false
	}
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		s.log.WithError(err).Debug("access token is not a JWT")
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

// ImageSrc returns the download URL of a file field. route is the
// instance route, e.g. "profile/<id>".
func (s *Session) ImageSrc(route, field, previewFormat string) string {
	st := s.store.State().Swissdata
	src := fmt.Sprintf("%s/%s?apiKey=%s&download=%s", st.APIHost(), strings.TrimPrefix(route, "/"), st.PublicKey, field)
	if previewFormat != "" {
		src += "&preview=" + previewFormat
	}
	return src
}
