package model

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"swissdata/internal/api"
	"swissdata/internal/deco"
)

var bookkeepingKeys = map[string]bool{
	"id":          true,
	"modelId":     true,
	"_createdAt":  true,
	"_createdBy":  true,
	"_updatedAt":  true,
	"_updatedBy":  true,
	"_refLocales": true,
}

// toAPI serializes the named declared fields of inst into body, one
// goroutine per field. Unknown and FromAPIOnly names are skipped.
func toAPI(ctx context.Context, inst *deco.Instance, d *deco.Descriptor, names []string, body map[string]any) error {
	var fields []*deco.FieldDef
	for _, name := range names {
		f, ok := d.Field(name)
		if !ok || f.FromAPIOnly {
			continue
		}
		fields = append(fields, f)
	}

	element := inst.Unclass()
	slots := make([]any, len(fields))
	g, gctx := errgroup.WithContext(ctx)
	for i, f := range fields {
		g.Go(func() error {
			v, err := f.Handler.ToAPI(gctx, f.Name, inst.Get(f.Name), f.Options, element, d)
			if err != nil {
				return fmt.Errorf("serialize %s: %w", f.Name, err)
			}
			slots[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i, f := range fields {
		if slots[i] == deco.Omit {
			delete(body, f.Name)
			continue
		}
		body[f.Name] = slots[i]
	}
	return nil
}

// fixBody turns body into a multipart form when a file field holds a
// pending upload. Stored files are never sent back: the server keeps them.
func fixBody(inst *deco.Instance, d *deco.Descriptor, body map[string]any) (any, api.BodyFormat, error) {
	form := api.NewFormData()
	upload := false

	keys := make([]string, 0, len(body))
	for k := range body {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		value := body[key]
		typ := ""
		if f, ok := d.Field(key); ok {
			typ = f.Handler.Name()
		}

		switch typ {
		case "file":
			if value == nil {
				continue
			}
			file, ok := value.(*deco.FileItem)
			if !ok || file == nil || !file.ToUpload {
				delete(body, key)
				continue
			}
			upload = true
			appendUpload(form, key, file)
		case "files":
			if value != nil {
				raw, err := json.Marshal(value)
				if err != nil {
					return nil, "", fmt.Errorf("encode %s: %w", key, err)
				}
				form.Append(key, string(raw))
			}
			list, _ := inst.Get(key).([]*deco.FileItem)
			for _, file := range list {
				if file != nil && file.ToUpload {
					upload = true
					appendUpload(form, key, file)
				}
			}
		default:
			if value == nil && typ != "" {
				continue
			}
			raw, err := json.Marshal(value)
			if err != nil {
				return nil, "", fmt.Errorf("encode %s: %w", key, err)
			}
			form.Append(key, string(raw))
		}
	}

	if upload {
		return form, api.BodyFormData, nil
	}
	return body, api.BodyJSON, nil
}

func appendUpload(form *api.FormData, key string, file *deco.FileItem) {
	form.AppendFile(key, file.Name, file.Content())
	for _, format := range file.BlobFormats() {
		form.AppendFile(key+"_preview", file.Name, file.Blobs[format])
	}
}

// InstanceFromAPI builds an instance from a payload element. Declared keys
// go through their handler, undeclared keys are kept as extras.
func (m *Model) InstanceFromAPI(ctx context.Context, element map[string]any) (*deco.Instance, error) {
	inst := deco.NewInstance(m.source)
	applyBookkeeping(inst, element, true)
	d, err := inst.Descriptor()
	if err != nil {
		return nil, err
	}

	var keys []string
	for key, value := range element {
		if bookkeepingKeys[key] && !d.Has(key) {
			continue
		}
		if !d.Has(key) {
			inst.Set(key, value)
			continue
		}
		keys = append(keys, key)
	}
	if err := fromAPI(ctx, inst, d, element, keys); err != nil {
		return nil, err
	}
	return inst, nil
}

func (m *Model) instancesFromAPI(ctx context.Context, elements []map[string]any) ([]*deco.Instance, error) {
	out := make([]*deco.Instance, len(elements))
	g, gctx := errgroup.WithContext(ctx)
	for i, element := range elements {
		g.Go(func() error {
			inst, err := m.InstanceFromAPI(gctx, element)
			if err != nil {
				return err
			}
			out[i] = inst
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// InstanceFromUnclassed builds an instance from a plain map without
// running any handler.
func (m *Model) InstanceFromUnclassed(element map[string]any) *deco.Instance {
	inst := deco.NewInstance(m.source)
	applyBookkeeping(inst, element, true)
	for key, value := range element {
		if bookkeepingKeys[key] {
			continue
		}
		inst.Set(key, value)
	}
	return inst
}

// UpdateInstanceFromElement deserializes the declared keys of element into
// inst. When properties is not nil only those keys are considered.
func (m *Model) UpdateInstanceFromElement(ctx context.Context, inst *deco.Instance, element map[string]any, properties []string) error {
	d, err := inst.Descriptor()
	if err != nil {
		return err
	}
	var allowed map[string]bool
	if properties != nil {
		allowed = make(map[string]bool, len(properties))
		for _, p := range properties {
			allowed[p] = true
		}
	}
	var keys []string
	for key := range element {
		if !d.Has(key) || (allowed != nil && !allowed[key]) {
			continue
		}
		keys = append(keys, key)
	}
	if err := fromAPI(ctx, inst, d, element, keys); err != nil {
		return err
	}
	applyBookkeeping(inst, element, false)
	return nil
}

func fromAPI(ctx context.Context, inst *deco.Instance, d *deco.Descriptor, element map[string]any, keys []string) error {
	slots := make([]any, len(keys))
	g, gctx := errgroup.WithContext(ctx)
	for i, key := range keys {
		f, _ := d.Field(key)
		g.Go(func() error {
			v, err := f.Handler.FromAPI(gctx, key, element[key], f.Options, element, d)
			if err != nil {
				return fmt.Errorf("deserialize %s: %w", key, err)
			}
			slots[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	for i, key := range keys {
		inst.Set(key, slots[i])
	}
	return nil
}

// applyBookkeeping copies the id, audit fields and reference locales. The
// id and model id are only taken when withIdentity is set.
func applyBookkeeping(inst *deco.Instance, element map[string]any, withIdentity bool) {
	if withIdentity {
		if id, ok := element["id"].(string); ok && id != "" {
			inst.ID = id
		}
		if modelID, ok := element["modelId"].(string); ok && modelID != "" {
			inst.ModelID = modelID
		}
	}
	if t, ok := parseTime(element["_createdAt"]); ok {
		inst.CreatedAt = t
	}
	if s, ok := element["_createdBy"].(string); ok && s != "" {
		inst.CreatedBy = s
	}
	if t, ok := parseTime(element["_updatedAt"]); ok {
		inst.UpdatedAt = t
	}
	if s, ok := element["_updatedBy"].(string); ok && s != "" {
		inst.UpdatedBy = s
	}
	if refs, ok := element["_refLocales"].(map[string]any); ok {
		inst.RefLocales = make(map[string]map[string]any, len(refs))
		for k, v := range refs {
			if m, ok := v.(map[string]any); ok {
				inst.RefLocales[k] = m
			}
		}
	}
}

func parseTime(v any) (time.Time, bool) {
	s, ok := v.(string)
	if !ok || s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
