package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"swissdata/internal/analytics"
	"swissdata/internal/api"
	"swissdata/internal/config"
	"swissdata/internal/deco"
	"swissdata/internal/dynamic"
	"swissdata/internal/login"
	"swissdata/internal/model"
	"swissdata/internal/models"
	"swissdata/internal/recorder"
	"swissdata/internal/session"
	"swissdata/internal/state"
)

// builtins are the routes served by a known descriptor.
var builtins = map[string]*deco.Descriptor{
	"user":          models.User,
	"profile":       models.Profile,
	"app":           models.App,
	"dynamicconfig": models.DynamicConfig,
	"analytics":     models.Analytics,
	"dico":          models.Dico,
}

type app struct {
	cfg       *config.Config
	store     *state.Store
	client    *api.Client
	session   *session.Session
	login     *login.Login
	registry  *dynamic.Registry
	recorder  *recorder.Recorder
	analytics *analytics.Buffer
	out       io.Writer
	format    string
	signedIn  bool
	log       *log.Entry
}

func newApp(ctx context.Context, cfg *config.Config, out io.Writer, format string) (*app, error) {
	a := &app{
		cfg:    cfg,
		out:    out,
		format: format,
		log:    log.WithField("component", "cli"),
	}

	initial := state.Initial()
	a.store = state.NewStore(&initial)
	actions := []state.Action{state.SetLanguage(cfg.Locale.Language), state.SetRefLanguage(cfg.Locale.RefLanguage)}
	if len(cfg.Locale.Languages) > 0 {
		actions = append(actions, state.SetLanguages(cfg.Locale.Languages))
	}
	if cfg.Locale.Country != "" {
		actions = append(actions, state.SetCountry(cfg.Locale.Country))
	}
	if len(cfg.Locale.Countries) > 0 {
		actions = append(actions, state.SetCountries(cfg.Locale.Countries))
	}
	a.store.Dispatch(actions...)

	var clientOpts []api.Option
	if cfg.Recorder.Enabled {
		a.recorder = recorder.New(
			recorder.WithHost(cfg.API.Host),
			recorder.WithHeader(testHeader),
		)
		a.recorder.Start()
		clientOpts = append(clientOpts, api.WithMiddleware(a.recorder.Middleware()))
	}
	a.client = api.NewClient(cfg.API, clientOpts...)

	a.session = session.New(a.client, a.store, cfg.API,
		session.WithStatusHandler(func(online bool) {
			a.log.WithField("online", online).Info("api status changed")
		}),
	)
	if err := a.session.Init(ctx); err != nil {
		return nil, err
	}

	policy, err := login.ParsePolicy(cfg.Login.PasswordStrength)
	if err != nil {
		return nil, err
	}
	loginOpts := []login.Option{login.WithPolicy(policy), login.WithClientURL(cfg.API.ClientURL)}
	if cfg.Analytics.Enabled {
		a.analytics = analytics.NewBuffer(model.New(a.client, models.Analytics, model.WithLocale(a.store)), cfg.Analytics)
		loginOpts = append(loginOpts, login.WithEventHandler(a.trackLoginEvent))
	}
	a.login = login.New(a.session, loginOpts...)
	a.registry = dynamic.NewRegistry(a.client, nil, model.WithLocale(a.store))
	return a, nil
}

// testHeader keeps the headers a replayed request needs.
func testHeader(name, value string) (string, bool) {
	switch name {
	case "sdiosid", "user-agent", "accept-encoding":
		return "", false
	case "authorization":
		return "Bearer {{ token }}", true
	}
	return value, true
}

// trackLoginEvent forwards the login milestones to analytics. The login
// event itself carries the access token and is not sent.
func (a *app) trackLoginEvent(e login.Event) {
	if e.Action == "login" {
		return
	}
	if e.Action == "validated-account" {
		if id, ok := e.Value["userId"].(string); ok {
			a.analytics.SetIdentity(id)
		}
	}
	a.analytics.Event(e.Category, e.Action, "", e.Value)
}

func (a *app) navigate(command string) {
	if a.analytics != nil {
		a.analytics.Navigation("/"+command, command)
	}
}

// signIn logs username in when credentials were given.
func (a *app) signIn(ctx context.Context, username, password string) error {
	if username == "" {
		return nil
	}
	if _, err := a.login.CheckIfUsernameExists(ctx, username); err != nil {
		return fmt.Errorf("check username: %w", err)
	}
	if a.login.Step() != login.StepPassword {
		return fmt.Errorf("unknown user %q", username)
	}
	if err := a.login.Login(ctx, username, password); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	a.signedIn = true
	if a.analytics != nil {
		a.analytics.SetIdentity(a.store.State().Swissdata.User.ID)
	}
	return nil
}

// modelFor resolves a name to a model: a builtin, a dynamic slug or else
// a bare route whose keys all end up as extras.
func (a *app) modelFor(ctx context.Context, name string) (*model.Model, error) {
	name = strings.Trim(name, "/")
	if d, ok := builtins[name]; ok {
		return model.New(a.client, d, model.WithLocale(a.store)), nil
	}
	slug, dynamicOnly := strings.CutPrefix(name, "dynamicdata/")
	if _, ok := a.registry.Config(slug); !ok {
		if err := a.loadModels(ctx); err != nil {
			if dynamicOnly {
				return nil, err
			}
			a.log.WithError(err).Debug("dynamic models unavailable")
		}
	}
	if _, ok := a.registry.Config(slug); ok {
		return a.registry.Use(slug)
	}
	if dynamicOnly {
		return nil, fmt.Errorf("unknown dynamic model %q", slug)
	}
	return model.New(a.client, deco.Define("/"+name), model.WithLocale(a.store)), nil
}

func (a *app) loadModels(ctx context.Context) error {
	a.registry.Clear()
	return a.registry.Load(ctx, model.New(a.client, models.DynamicConfig, model.WithLocale(a.store)))
}

func (a *app) print(v any) error {
	switch a.format {
	case "yaml":
		enc := yaml.NewEncoder(a.out)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		enc := json.NewEncoder(a.out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
}

// close signs out, flushes analytics and writes the recording.
func (a *app) close(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if a.signedIn {
		if err := a.login.Logout(ctx); err != nil {
			a.log.WithError(err).Warn("logout")
		}
	}
	if a.analytics != nil {
		if err := a.analytics.Stop(ctx); err != nil {
			a.log.WithError(err).Warn("flush analytics")
		}
	}
	if a.recorder != nil {
		a.recorder.Stop()
		if err := a.writeRecording(); err != nil {
			a.log.WithError(err).Error("write recording")
		}
	}
}

func (a *app) writeRecording() error {
	f, err := os.Create(a.cfg.Recorder.Output)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := a.recorder.ExportYAML(f, "swissdata"); err != nil {
		return err
	}
	a.log.WithFields(log.Fields{
		"file":     a.cfg.Recorder.Output,
		"requests": len(a.recorder.Requests()),
	}).Info("recording written")
	return nil
}
