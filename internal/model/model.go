// Package model implements the persistence protocol of deco descriptors
// against a Swissdata-compatible API.
package model

import (
	"context"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"swissdata/internal/api"
	"swissdata/internal/deco"
)

// LocaleProvider supplies the current and reference languages.
type LocaleProvider interface {
	Language() string
	RefLanguage() string
}

// StaticLocale is a fixed LocaleProvider.
type StaticLocale struct {
	Lang string
	Ref  string
}

func (l StaticLocale) Language() string    { return l.Lang }
func (l StaticLocale) RefLanguage() string { return l.Ref }

type GetAllOptions struct {
	Route        string
	GetRefLocale bool
	// SkipResponse leaves List.Response empty.
	SkipResponse bool
	Request      api.RequestOptions
}

type GetOneOptions struct {
	Route        string
	GetRefLocale bool
	SkipResponse bool
	Request      api.RequestOptions
}

type SaveOptions struct {
	Route        string
	GetRefLocale bool
	// Body seeds the request body; declared fields override its keys.
	Body         map[string]any
	SkipResponse bool
	Request      api.RequestOptions
}

type RemoveOptions struct {
	Route   string
	Request api.RequestOptions
}

type UpdatePropertiesOptions struct {
	Route string
	// SkipInstanceUpdate keeps the instance as it was before the call.
	SkipInstanceUpdate bool
	SkipResponse       bool
	Request            api.RequestOptions
}

type FilePreviewOptions struct {
	ETag   string
	FileID string
	Route  string
}

// List is the result of GetAll.
type List struct {
	Items    []*deco.Instance
	Response any
}

type Option func(*Model)

// WithSource makes instances resolve their descriptor through src.
func WithSource(src deco.Source) Option {
	return func(m *Model) { m.source = src }
}

func WithValidator(v *deco.Validator) Option {
	return func(m *Model) { m.validator = v }
}

func WithLocale(lp LocaleProvider) Option {
	return func(m *Model) { m.locale = lp }
}

// Model binds a descriptor to an API client.
type Model struct {
	api       *api.Client
	desc      *deco.Descriptor
	source    deco.Source
	validator *deco.Validator
	locale    LocaleProvider
	log       *log.Entry
}

func New(client *api.Client, desc *deco.Descriptor, opts ...Option) *Model {
	m := &Model{
		api:    client,
		desc:   desc,
		source: desc,
		locale: StaticLocale{Lang: "fr", Ref: "fr"},
		log:    log.WithField("component", "deco-model").WithField("route", desc.BaseRoute()),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.validator == nil {
		m.validator = deco.NewValidator()
	}
	return m
}

func (m *Model) Descriptor() *deco.Descriptor { return m.desc }
func (m *Model) Client() *api.Client          { return m.api }
func (m *Model) Source() deco.Source          { return m.source }
func (m *Model) Validator() *deco.Validator   { return m.validator }
func (m *Model) Locale() LocaleProvider       { return m.locale }

// New returns an empty instance with field defaults applied.
func (m *Model) New() *deco.Instance {
	return m.desc.NewFor(m.source)
}

// AddLocale appends locale=<language> (and reflocale=<ref language> when
// getRefLocale) to suffix for multilingual models. A suffix already holding
// a locale is returned unchanged.
func (m *Model) AddLocale(suffix string, getRefLocale bool) string {
	if !m.desc.IsMultilang() || strings.Contains(suffix, "locale=") {
		return suffix
	}
	if strings.Contains(suffix, "?") {
		suffix += "&locale="
	} else {
		suffix += "?locale="
	}
	suffix += m.locale.Language()
	if getRefLocale {
		suffix += "&reflocale=" + m.locale.RefLanguage()
	}
	return suffix
}

// GetAll fetches the collection and deserializes every element.
func (m *Model) GetAll(ctx context.Context, suffix string, opts GetAllOptions) (*List, error) {
	suffix = m.AddLocale(suffix, opts.GetRefLocale)
	route := opts.Route
	if route == "" {
		route = m.desc.GetAllRoute()
	}
	resp, err := m.api.Get(ctx, route+suffix, opts.Request)
	if err != nil {
		return nil, err
	}
	elements, err := api.DecodeList(resp)
	if err != nil {
		return nil, err
	}
	items, err := m.instancesFromAPI(ctx, elements)
	if err != nil {
		return nil, err
	}
	list := &List{Items: items}
	if !opts.SkipResponse {
		list.Response = elements
	}
	return list, nil
}

// GetOneWithID fetches one element. A null payload yields nil, nil and a
// missing element yields an error matching api.ErrNotFound.
func (m *Model) GetOneWithID(ctx context.Context, id, suffix string, opts GetOneOptions) (*deco.Instance, error) {
	suffix = m.AddLocale(suffix, opts.GetRefLocale)
	route := opts.Route
	if route == "" {
		route = m.desc.GetOneRoute(id)
	}
	resp, err := m.api.Get(ctx, route+suffix, opts.Request)
	if err != nil {
		return nil, err
	}
	element, err := api.DecodeObject(resp)
	if err != nil || element == nil {
		return nil, err
	}
	inst, err := m.InstanceFromAPI(ctx, element)
	if err != nil {
		return nil, err
	}
	if !opts.SkipResponse {
		inst.Response = element
	}
	return inst, nil
}

// Save posts the instance and returns a fresh instance built from the
// response.
func (m *Model) Save(ctx context.Context, inst *deco.Instance, suffix string, opts SaveOptions) (*deco.Instance, error) {
	suffix = m.AddLocale(suffix, opts.GetRefLocale)
	d, err := inst.Descriptor()
	if err != nil {
		return nil, err
	}

	body := make(map[string]any, len(opts.Body))
	for k, v := range opts.Body {
		body[k] = v
	}
	if err := toAPI(ctx, inst, d, d.FieldNames(), body); err != nil {
		return nil, err
	}
	payload, format, err := fixBody(inst, d, body)
	if err != nil {
		return nil, err
	}

	route := opts.Route
	if route == "" {
		route = d.PostRoute()
	}
	reqOpts := opts.Request
	reqOpts.BodyFormat = format
	resp, err := m.api.Post(ctx, route+suffix, payload, reqOpts)
	if err != nil {
		return nil, err
	}
	element, err := api.DecodeObject(resp)
	if err != nil {
		return nil, err
	}
	if element == nil {
		return nil, fmt.Errorf("%w: empty save response", api.ErrInvalidJSON)
	}

	saved, err := m.InstanceFromAPI(ctx, element)
	if err != nil {
		return nil, err
	}
	saved.SaveResponse = element
	if !opts.SkipResponse {
		saved.Response = element
	}
	return saved, nil
}

// UpdateProperties puts the listed properties and, unless asked otherwise,
// refreshes them on inst from the response.
func (m *Model) UpdateProperties(ctx context.Context, inst *deco.Instance, suffix string, properties []string, opts UpdatePropertiesOptions) (*deco.Instance, error) {
	suffix = m.AddLocale(suffix, false)
	d, err := inst.Descriptor()
	if err != nil {
		return nil, err
	}

	body := make(map[string]any, len(properties))
	if err := toAPI(ctx, inst, d, properties, body); err != nil {
		return nil, err
	}
	payload, format, err := fixBody(inst, d, body)
	if err != nil {
		return nil, err
	}

	route := opts.Route
	if route == "" {
		route = d.PutRoute(inst.ID)
	}
	reqOpts := opts.Request
	reqOpts.BodyFormat = format
	resp, err := m.api.Put(ctx, route+suffix, payload, reqOpts)
	if err != nil {
		return nil, err
	}
	element, err := api.DecodeObject(resp)
	if err != nil {
		return nil, err
	}

	if !opts.SkipResponse {
		inst.Response = element
	}
	if opts.SkipInstanceUpdate || element == nil {
		return inst, nil
	}
	if err := m.UpdateInstanceFromElement(ctx, inst, element, properties); err != nil {
		return nil, err
	}
	return inst, nil
}

// Remove deletes the instance.
func (m *Model) Remove(ctx context.Context, inst *deco.Instance, suffix string, opts RemoveOptions) (any, error) {
	route := opts.Route
	if route == "" {
		d, err := inst.Descriptor()
		if err != nil {
			return nil, err
		}
		route = d.DeleteRoute(inst.ID)
	}
	resp, err := m.api.Delete(ctx, route+suffix, nil, opts.Request)
	if err != nil {
		return nil, err
	}
	return api.Decode(resp)
}

// Validate runs the model validator on inst.
func (m *Model) Validate(ctx context.Context, inst *deco.Instance) (bool, *deco.ValidationResult, error) {
	result, err := m.validator.Validate(ctx, inst)
	if err != nil {
		return false, nil, err
	}
	return result.Valid, result, nil
}

// Request sends an arbitrary call and deserializes the returned list.
func (m *Model) Request(ctx context.Context, method, uri string, body any, opts api.RequestOptions) ([]*deco.Instance, error) {
	resp, err := m.api.Do(ctx, method, uri, body, opts)
	if err != nil {
		return nil, err
	}
	elements, err := api.DecodeList(resp)
	if err != nil {
		return nil, err
	}
	return m.instancesFromAPI(ctx, elements)
}
