package deco

import (
	"fmt"
	"sort"
	"time"
)

// Source resolves the descriptor of an instance. Static models use their
// *Descriptor; dynamic models resolve through the instance's model id.
type Source interface {
	DescriptorFor(inst *Instance) (*Descriptor, error)
}

// Labeler is implemented by sources that compute display labels.
type Labeler interface {
	Label(inst *Instance) string
}

// Instance is one entity value. It is not safe for concurrent mutation.
type Instance struct {
	ID         string
	CreatedAt  time.Time
	CreatedBy  string
	UpdatedAt  time.Time
	UpdatedBy  string
	RefLocales map[string]map[string]any
	ModelID    string

	// Response holds the raw payload the instance was built from, when kept.
	Response any
	// SaveResponse holds the raw payload of the last save.
	SaveResponse any

	source Source
	values map[string]any
}

func NewInstance(src Source) *Instance {
	return &Instance{source: src, values: make(map[string]any)}
}

func (i *Instance) Source() Source { return i.source }

// Descriptor resolves the instance descriptor through its source.
func (i *Instance) Descriptor() (*Descriptor, error) {
	if i.source == nil {
		return nil, ErrNoDescriptor
	}
	d, err := i.source.DescriptorFor(i)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, fmt.Errorf("%w: model %q", ErrNoDescriptor, i.ModelID)
	}
	return d, nil
}

// Get returns the value stored under name. "id" and "modelId" map onto the
// bookkeeping fields.
func (i *Instance) Get(name string) any {
	switch name {
	case "id":
		if i.ID == "" {
			return nil
		}
		return i.ID
	case "modelId":
		if i.ModelID == "" {
			return nil
		}
		return i.ModelID
	}
	return i.values[name]
}

func (i *Instance) Set(name string, value any) {
	switch name {
	case "id":
		i.ID = stringValue(value)
		return
	case "modelId":
		i.ModelID = stringValue(value)
		return
	}
	i.values[name] = value
}

func (i *Instance) Has(name string) bool {
	switch name {
	case "id":
		return i.ID != ""
	case "modelId":
		return i.ModelID != ""
	}
	_, ok := i.values[name]
	return ok
}

func (i *Instance) Delete(name string) {
	delete(i.values, name)
}

// Keys returns the names of every stored value, sorted.
func (i *Instance) Keys() []string {
	keys := make([]string, 0, len(i.values))
	for k := range i.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Extras returns the values whose names the descriptor does not declare.
func (i *Instance) Extras() map[string]any {
	d, err := i.Descriptor()
	out := make(map[string]any)
	for k, v := range i.values {
		if err != nil || !d.Has(k) {
			out[k] = v
		}
	}
	return out
}

// Extra returns one undeclared value.
func (i *Instance) Extra(name string) (any, bool) {
	if d, err := i.Descriptor(); err == nil && d.Has(name) {
		return nil, false
	}
	v, ok := i.values[name]
	return v, ok
}

// Unclass returns the declared fields as a plain map.
func (i *Instance) Unclass() map[string]any {
	out := make(map[string]any)
	d, err := i.Descriptor()
	if err != nil {
		return out
	}
	for _, f := range d.fields {
		if i.Has(f.Name) {
			out[f.Name] = i.Get(f.Name)
		}
	}
	return out
}

// Label returns the display label, the id unless the source knows better.
func (i *Instance) Label() string {
	if l, ok := i.source.(Labeler); ok {
		return l.Label(i)
	}
	if d, err := i.Descriptor(); err == nil && d.options.Label != nil {
		return d.options.Label(i)
	}
	return i.ID
}

func stringValue(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	}
	return fmt.Sprint(v)
}
