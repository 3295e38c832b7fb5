package dynamic

import (
	"encoding/json"
	"fmt"

	"swissdata/internal/deco"
)

// ValidationConfig is one declarative rule of a dynamic field.
type ValidationConfig struct {
	Type    string         `json:"type"`
	Options map[string]any `json:"options,omitempty"`
}

// FieldConfig describes one field of a dynamic model.
type FieldConfig struct {
	Name       string             `json:"name"`
	Type       string             `json:"type"`
	Options    map[string]any     `json:"options,omitempty"`
	Validation []ValidationConfig `json:"validation,omitempty"`
	Required   bool               `json:"required,omitempty"`
	// Filterable is "no", "auto" or a filter kind such as "text" or "date".
	Filterable any  `json:"filterable,omitempty"`
	Searchable bool `json:"searchable,omitempty"`
	Sortable   bool `json:"sortable,omitempty"`
}

// Config is a dynamic model definition as served by /dynamicconfig.
type Config struct {
	ID             string        `json:"id"`
	RelatedToAppID string        `json:"relatedToAppId,omitempty"`
	Name           string        `json:"name"`
	Slug           string        `json:"slug"`
	Label          string        `json:"label,omitempty"`
	IsPublic       bool          `json:"isPublic,omitempty"`
	ReadingAccess  string        `json:"readingAccess,omitempty"`
	WritingAccess  string        `json:"writingAccess,omitempty"`
	Fields         []FieldConfig `json:"fields"`
}

// ConfigFromInstance reads a Config out of a dynamicconfig instance.
func ConfigFromInstance(inst *deco.Instance) (Config, error) {
	values := inst.Unclass()
	values["id"] = inst.ID
	raw, err := json.Marshal(values)
	if err != nil {
		return Config{}, fmt.Errorf("encode dynamic config: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode dynamic config %s: %w", inst.ID, err)
	}
	return cfg, nil
}

func (f FieldConfig) filterable() (bool, deco.Options) {
	switch v := f.Filterable.(type) {
	case bool:
		return v, nil
	case string:
		if v == "" || v == "no" {
			return false, nil
		}
		return true, deco.Options{"type": v}
	}
	return false, nil
}

// spec translates the field config into a descriptor field. Unknown type
// tags fall back to the any handler.
func (f FieldConfig) spec(handlers *deco.HandlerRegistry) *deco.FieldSpec {
	s := deco.Field(f.Name, handlers.Resolve(f.Type)).With(deco.Options(f.Options))
	for _, v := range f.Validation {
		s.Rule(v.Type, deco.Options(v.Options))
	}
	if f.Required {
		s.Required()
	}
	if ok, opts := f.filterable(); ok {
		s.Filterable(opts)
	}
	if f.Searchable {
		s.Searchable()
	}
	if f.Sortable {
		s.Sortable()
	}
	return s
}
