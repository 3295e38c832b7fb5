package deco

import "strings"

// ModelOptions holds model-wide switches.
type ModelOptions struct {
	EnableStory bool
	// Label computes the display label of an instance when its source
	// does not implement Labeler.
	Label func(*Instance) string
}

// FormHint is a presentation hint attached to a field (label, hint).
type FormHint struct {
	Type    string
	Options Options
}

// FieldDef is a declared field of a descriptor.
type FieldDef struct {
	Name              string
	Handler           TypeHandler
	Options           Options
	Validations       []Validation
	Forms             []FormHint
	FromAPIOnly       bool
	Searchable        bool
	Sortable          bool
	Filterable        bool
	FilterableOptions Options
	// Default is copied into new instances when HasDefault is set.
	Default    any
	HasDefault bool
}

func (f *FieldDef) form(typ string) string {
	for _, h := range f.Forms {
		if h.Type == typ {
			return h.Options.String(typ)
		}
	}
	return ""
}

// Label returns the declared label, or the field name.
func (f *FieldDef) Label() string {
	if l := f.form("label"); l != "" {
		return l
	}
	return f.Name
}

func (f *FieldDef) Hint() string { return f.form("hint") }

// Descriptor is the per-entity-type metadata: base route and ordered fields.
// It must not be modified once Define returns.
type Descriptor struct {
	baseRoute string
	options   ModelOptions
	fields    []*FieldDef
	index     map[string]int
}

// Define builds a descriptor from field specs. A later spec with the same
// name replaces the earlier one in place.
func Define(baseRoute string, specs ...*FieldSpec) *Descriptor {
	return DefineWithOptions(baseRoute, ModelOptions{}, specs...)
}

func DefineWithOptions(baseRoute string, opts ModelOptions, specs ...*FieldSpec) *Descriptor {
	d := &Descriptor{
		baseRoute: baseRoute,
		options:   opts,
		index:     make(map[string]int, len(specs)),
	}
	for _, s := range specs {
		d.add(s)
	}
	return d
}

func (d *Descriptor) add(s *FieldSpec) {
	h := s.handler
	if h == nil {
		h = Any
	}
	opts := h.DefaultOptions().Merge(s.opts)
	opts = h.OptionsHook(opts, d, s.name)

	f := &FieldDef{
		Name:              s.name,
		Handler:           h,
		Options:           opts,
		Validations:       append([]Validation(nil), s.validations...),
		Forms:             append([]FormHint(nil), s.forms...),
		FromAPIOnly:       s.fromAPIOnly,
		Searchable:        s.searchable,
		Sortable:          s.sortable,
		Filterable:        s.filterable,
		FilterableOptions: s.filterableOpts,
		Default:           s.def,
		HasDefault:        s.hasDef,
	}
	if i, ok := d.index[s.name]; ok {
		d.fields[i] = f
		return
	}
	d.index[s.name] = len(d.fields)
	d.fields = append(d.fields, f)
}

// New returns an empty instance of d with field defaults applied.
func (d *Descriptor) New() *Instance {
	return d.NewFor(d)
}

// NewFor is New for instances resolving their descriptor through src.
func (d *Descriptor) NewFor(src Source) *Instance {
	inst := NewInstance(src)
	for _, f := range d.fields {
		if f.HasDefault {
			inst.Set(f.Name, cloneDefault(f.Default))
		}
	}
	return inst
}

func cloneDefault(v any) any {
	switch t := v.(type) {
	case []string:
		return append([]string{}, t...)
	case []any:
		return append([]any{}, t...)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, v := range t {
			out[k] = v
		}
		return out
	}
	return v
}

// DescriptorFor makes a descriptor its own Source.
func (d *Descriptor) DescriptorFor(*Instance) (*Descriptor, error) {
	return d, nil
}

func (d *Descriptor) BaseRoute() string     { return d.baseRoute }
func (d *Descriptor) Options() ModelOptions { return d.options }

// Fields returns the declared fields in declaration order.
func (d *Descriptor) Fields() []*FieldDef {
	return append([]*FieldDef(nil), d.fields...)
}

// Field returns the declared field called name.
func (d *Descriptor) Field(name string) (*FieldDef, bool) {
	i, ok := d.index[name]
	if !ok {
		return nil, false
	}
	return d.fields[i], true
}

func (d *Descriptor) Has(name string) bool {
	_, ok := d.index[name]
	return ok
}

func (d *Descriptor) FieldNames() []string {
	names := make([]string, len(d.fields))
	for i, f := range d.fields {
		names[i] = f.Name
	}
	return names
}

// IsMultilang reports whether any field is a multilingual string.
func (d *Descriptor) IsMultilang() bool {
	for _, f := range d.fields {
		if f.Handler.Name() == "string" && f.Options.Bool("multilang") {
			return true
		}
	}
	return false
}

func (d *Descriptor) Searchables() []string { return d.names(func(f *FieldDef) bool { return f.Searchable }) }
func (d *Descriptor) Sortables() []string   { return d.names(func(f *FieldDef) bool { return f.Sortable }) }
func (d *Descriptor) Filterables() []string { return d.names(func(f *FieldDef) bool { return f.Filterable }) }

func (d *Descriptor) names(keep func(*FieldDef) bool) []string {
	var out []string
	for _, f := range d.fields {
		if keep(f) {
			out = append(out, f.Name)
		}
	}
	return out
}

func (d *Descriptor) GetAllRoute() string { return d.baseRoute }
func (d *Descriptor) PostRoute() string   { return d.baseRoute }

func (d *Descriptor) GetOneRoute(id string) string { return d.itemRoute(id) }
func (d *Descriptor) PutRoute(id string) string    { return d.itemRoute(id) }
func (d *Descriptor) DeleteRoute(id string) string { return d.itemRoute(id) }

func (d *Descriptor) itemRoute(id string) string {
	return strings.TrimSuffix(d.baseRoute, "/") + "/" + id
}

// FieldSpec declares one field. Methods chain and are applied by Define.
type FieldSpec struct {
	name           string
	handler        TypeHandler
	opts           Options
	validations    []Validation
	forms          []FormHint
	fromAPIOnly    bool
	searchable     bool
	sortable       bool
	filterable     bool
	filterableOpts Options
	def            any
	hasDef         bool
}

func Field(name string, h TypeHandler) *FieldSpec {
	return &FieldSpec{name: name, handler: h}
}

// With merges opts into the handler's default options.
func (s *FieldSpec) With(opts Options) *FieldSpec {
	if s.opts == nil {
		s.opts = Options{}
	}
	for k, v := range opts {
		s.opts[k] = v
	}
	return s
}

func (s *FieldSpec) Rule(typ string, opts Options) *FieldSpec {
	if opts == nil {
		opts = Options{}
	}
	s.validations = append(s.validations, Validation{Type: typ, Options: opts})
	return s
}

func (s *FieldSpec) Required() *FieldSpec       { return s.Rule(RuleRequired, nil) }
func (s *FieldSpec) Email() *FieldSpec          { return s.Rule(RuleEmail, nil) }
func (s *FieldSpec) Slug() *FieldSpec           { return s.Rule(RuleSlug, nil) }
func (s *FieldSpec) MinLength(n int) *FieldSpec { return s.Rule(RuleMinLength, Options{"minLength": n}) }
func (s *FieldSpec) MaxLength(n int) *FieldSpec { return s.Rule(RuleMaxLength, Options{"maxLength": n}) }
func (s *FieldSpec) Expression(src string) *FieldSpec {
	return s.Rule(RuleExpression, Options{"expression": src})
}

// Phone adds the international phone number rule for the given countries.
func (s *FieldSpec) Phone(countries ...string) *FieldSpec {
	return s.Rule(RulePhone, Options{"countries": countries})
}

func (s *FieldSpec) Label(label string) *FieldSpec {
	s.forms = append(s.forms, FormHint{Type: "label", Options: Options{"label": label}})
	return s
}

func (s *FieldSpec) Hint(hint string) *FieldSpec {
	s.forms = append(s.forms, FormHint{Type: "hint", Options: Options{"hint": hint}})
	return s
}

// Default sets the value new instances start with.
func (s *FieldSpec) Default(v any) *FieldSpec {
	s.def = v
	s.hasDef = true
	return s
}

func (s *FieldSpec) FromAPIOnly() *FieldSpec { s.fromAPIOnly = true; return s }
func (s *FieldSpec) Searchable() *FieldSpec  { s.searchable = true; return s }
func (s *FieldSpec) Sortable() *FieldSpec    { s.sortable = true; return s }

func (s *FieldSpec) Filterable(opts Options) *FieldSpec {
	s.filterable = true
	s.filterableOpts = opts
	return s
}
