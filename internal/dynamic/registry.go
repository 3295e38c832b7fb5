// Package dynamic builds descriptors at runtime from /dynamicconfig records
// and resolves dynamic instances back to them through their model id.
package dynamic

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"

	"swissdata/internal/api"
	"swissdata/internal/deco"
	"swissdata/internal/model"
)

const BaseRoute = "/dynamicdata"

// EmptyLabelValue replaces label placeholders whose field is empty.
const EmptyLabelValue = "[---]"

var labelPattern = regexp.MustCompile(`\$\{([^$]*)\}`)

type entry struct {
	config Config
	desc   *deco.Descriptor
}

// Registry maps dynamic model slugs and ids to descriptors.
type Registry struct {
	mu       sync.RWMutex
	models   map[string]*entry
	client   *api.Client
	handlers *deco.HandlerRegistry
	opts     []model.Option
	log      *log.Entry
}

// NewRegistry creates an empty registry. handlers may be nil for the
// default handler set; opts are applied to every model returned by Use.
func NewRegistry(client *api.Client, handlers *deco.HandlerRegistry, opts ...model.Option) *Registry {
	if handlers == nil {
		handlers = deco.DefaultHandlers()
	}
	return &Registry{
		models:   make(map[string]*entry),
		client:   client,
		handlers: handlers,
		opts:     opts,
		log:      log.WithField("component", "dynamic"),
	}
}

// Register builds the descriptor of cfg and indexes it by slug and id.
func (r *Registry) Register(cfg Config) *deco.Descriptor {
	specs := []*deco.FieldSpec{deco.Field("id", deco.Any)}
	for _, f := range cfg.Fields {
		specs = append(specs, f.spec(r.handlers))
	}
	e := &entry{config: cfg, desc: deco.Define(BaseRoute+"/"+cfg.Slug, specs...)}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.models[cfg.Slug] = e
	if cfg.ID != "" {
		r.models[cfg.ID] = e
	}
	return e.desc
}

// Clear forgets every registered model.
func (r *Registry) Clear() {
	r.mu.Lock()
	r.models = make(map[string]*entry)
	r.mu.Unlock()
}

func (r *Registry) lookup(slugOrID string) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.models[slugOrID]
	return e, ok
}

// Config returns the configuration registered under a slug or id.
func (r *Registry) Config(slugOrID string) (Config, bool) {
	e, ok := r.lookup(slugOrID)
	if !ok {
		return Config{}, false
	}
	return e.config, true
}

// ByID returns the descriptor registered under a slug or id.
func (r *Registry) ByID(slugOrID string) (*deco.Descriptor, bool) {
	e, ok := r.lookup(slugOrID)
	if !ok {
		return nil, false
	}
	return e.desc, true
}

// DescriptorFor resolves an instance through its model id.
func (r *Registry) DescriptorFor(inst *deco.Instance) (*deco.Descriptor, error) {
	e, ok := r.lookup(inst.ModelID)
	if !ok {
		return nil, fmt.Errorf("%w: unknown dynamic model %q", deco.ErrNoDescriptor, inst.ModelID)
	}
	return e.desc, nil
}

// Label renders the label template of the instance model. Placeholders
// whose value is empty become EmptyLabelValue; without a template the
// label is the id.
func (r *Registry) Label(inst *deco.Instance) string {
	e, _ := r.lookup(inst.ModelID)
	return e.label(inst)
}

func (e *entry) label(inst *deco.Instance) string {
	if e == nil || e.config.Label == "" {
		return inst.ID
	}
	return RenderLabel(e.config.Label, inst.Get)
}

// RenderLabel interpolates ${field} placeholders using get.
func RenderLabel(template string, get func(string) any) string {
	result := template
	for _, m := range labelPattern.FindAllStringSubmatch(template, -1) {
		value := EmptyLabelValue
		if v := get(m[1]); !falsy(v) {
			value = fmt.Sprint(v)
		}
		result = strings.Replace(result, m[0], value, 1)
	}
	return result
}

func falsy(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case bool:
		return !t
	case int:
		return t == 0
	case int64:
		return t == 0
	case float64:
		return t == 0
	}
	return false
}

// slugSource resolves instances by model id, or by the slug they were
// created for when the id is not known yet.
type slugSource struct {
	r    *Registry
	slug string
}

func (s slugSource) DescriptorFor(inst *deco.Instance) (*deco.Descriptor, error) {
	if inst.ModelID != "" {
		return s.r.DescriptorFor(inst)
	}
	e, ok := s.r.lookup(s.slug)
	if !ok {
		return nil, fmt.Errorf("%w: unknown dynamic model %q", deco.ErrNoDescriptor, s.slug)
	}
	return e.desc, nil
}

func (s slugSource) Label(inst *deco.Instance) string {
	if inst.ModelID != "" {
		return s.r.Label(inst)
	}
	e, _ := s.r.lookup(s.slug)
	return e.label(inst)
}

// Use returns the model bound to the dynamic model slug.
func (r *Registry) Use(slug string) (*model.Model, error) {
	e, ok := r.lookup(slug)
	if !ok {
		return nil, fmt.Errorf("%w: unknown dynamic model %q", deco.ErrNoDescriptor, slug)
	}
	opts := append([]model.Option{model.WithSource(slugSource{r: r, slug: slug})}, r.opts...)
	return model.New(r.client, e.desc, opts...), nil
}

// NewInstance returns an empty instance of the slug model.
func (r *Registry) NewInstance(slug string) (*deco.Instance, error) {
	e, ok := r.lookup(slug)
	if !ok {
		return nil, fmt.Errorf("%w: unknown dynamic model %q", deco.ErrNoDescriptor, slug)
	}
	inst := e.desc.NewFor(slugSource{r: r, slug: slug})
	inst.ModelID = e.config.ID
	return inst, nil
}

// Load fetches every dynamic config through configs and registers them.
func (r *Registry) Load(ctx context.Context, configs *model.Model) error {
	list, err := configs.GetAll(ctx, "", model.GetAllOptions{SkipResponse: true})
	if err != nil {
		return fmt.Errorf("load dynamic configs: %w", err)
	}
	for _, inst := range list.Items {
		cfg, err := ConfigFromInstance(inst)
		if err != nil {
			return err
		}
		r.Register(cfg)
		r.log.WithField("slug", cfg.Slug).Debug("dynamic model registered")
	}
	return nil
}
