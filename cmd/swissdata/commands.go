package main

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"sort"

	"swissdata/internal/config"
	"swissdata/internal/deco"
	"swissdata/internal/dynamic"
	"swissdata/internal/ensure"
	"swissdata/internal/model"
	"swissdata/internal/models"
	"swissdata/internal/preview"
)

type command struct {
	usage   string
	minArgs int
	run     func(ctx context.Context, a *app, args []string) error
}

var commands = map[string]command{
	"status": {usage: "status", run: runStatus},
	"login":  {usage: "login (with --username and --password)", run: runLogin},
	"models": {usage: "models", run: runModels},
	"list":   {usage: "list <route|slug> [query]", minArgs: 1, run: runList},
	"get":    {usage: "get <route|slug> <id>", minArgs: 2, run: runGet},
	"ensure": {usage: "ensure <route|slug> <id>...", minArgs: 2, run: runEnsure},
	"upload": {usage: "upload <route|slug> <id> <field> <file>", minArgs: 4, run: runUpload},
}

func commandNames() []string {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func runStatus(ctx context.Context, a *app, _ []string) error {
	online := a.session.CheckStatus(ctx)
	return a.print(map[string]any{
		"host":   a.client.Host(),
		"online": online,
	})
}

func runLogin(_ context.Context, a *app, _ []string) error {
	if !a.signedIn {
		return errors.New("login needs --username and --password")
	}
	st := a.store.State()
	out := map[string]any{
		"user":     st.Swissdata.User,
		"accounts": st.SdLogin.Accounts,
	}
	if st.Swissdata.Profile != nil {
		out["profile"] = view(st.Swissdata.Profile)
	}
	if exp, ok := a.session.TokenExpiry(); ok {
		out["expires"] = exp
	}
	return a.print(out)
}

func runModels(ctx context.Context, a *app, _ []string) error {
	configs := model.New(a.client, models.DynamicConfig, model.WithLocale(a.store))
	list, err := configs.GetAll(ctx, "", model.GetAllOptions{SkipResponse: true})
	if err != nil {
		return err
	}
	out := make([]map[string]any, 0, len(list.Items))
	for _, inst := range list.Items {
		cfg, err := dynamic.ConfigFromInstance(inst)
		if err != nil {
			return err
		}
		a.registry.Register(cfg)
		fields := make([]string, 0, len(cfg.Fields))
		for _, f := range cfg.Fields {
			fields = append(fields, f.Name+":"+f.Type)
		}
		out = append(out, map[string]any{"id": cfg.ID, "slug": cfg.Slug, "name": cfg.Name, "fields": fields})
	}
	return a.print(out)
}

func runList(ctx context.Context, a *app, args []string) error {
	m, err := a.modelFor(ctx, args[0])
	if err != nil {
		return err
	}
	suffix := ""
	if len(args) > 1 {
		suffix = "?" + args[1]
	}
	list, err := m.GetAll(ctx, suffix, model.GetAllOptions{SkipResponse: true})
	if err != nil {
		return err
	}
	return a.print(views(list.Items))
}

func runGet(ctx context.Context, a *app, args []string) error {
	m, err := a.modelFor(ctx, args[0])
	if err != nil {
		return err
	}
	inst, err := m.GetOneWithID(ctx, args[1], "", model.GetOneOptions{SkipResponse: true})
	if err != nil {
		return err
	}
	return a.print(view(inst))
}

func runEnsure(ctx context.Context, a *app, args []string) error {
	var cache *ensure.Cache[*deco.Instance]
	if args[0] == "user" {
		cache = a.session.EnsureUsers()
	} else {
		m, err := a.modelFor(ctx, args[0])
		if err != nil {
			return err
		}
		cache = ensure.ForModel(m, model.GetAllOptions{}, ensure.WithLanguage(a.store.Language))
	}
	items, err := cache.EnsureIDs(ctx, args[1:], false)
	if err != nil {
		return err
	}
	out := make(map[string]any, len(items))
	for i, id := range args[1:] {
		if items[i] == nil {
			out[id] = nil
			continue
		}
		out[id] = view(items[i])
	}
	return a.print(out)
}

// runUpload stores a local file in a file field, with its previews.
func runUpload(ctx context.Context, a *app, args []string) error {
	m, err := a.modelFor(ctx, args[0])
	if err != nil {
		return err
	}
	inst, err := m.GetOneWithID(ctx, args[1], "", model.GetOneOptions{SkipResponse: true})
	if err != nil {
		return err
	}
	if inst == nil {
		return fmt.Errorf("%s %s not found", args[0], args[1])
	}
	field := args[2]

	data, err := os.ReadFile(args[3])
	if err != nil {
		return err
	}
	typ := mime.TypeByExtension(filepath.Ext(args[3]))
	if typ == "" {
		typ = http.DetectContentType(data)
	}
	file := &deco.FileItem{
		Name:     filepath.Base(args[3]),
		Type:     typ,
		Size:     int64(len(data)),
		Data:     data,
		ToUpload: true,
	}
	if err := preview.Generate(file, previewConfig(a.cfg.Previews, m.Descriptor(), field)); err != nil {
		return err
	}
	inst.Set(field, file)

	saved, err := m.UpdateProperties(ctx, inst, "", []string{field}, model.UpdatePropertiesOptions{SkipResponse: true})
	if err != nil {
		return err
	}
	return a.print(view(saved))
}

// previewConfig prefers the preview formats declared on the field.
func previewConfig(base config.PreviewConfig, d *deco.Descriptor, field string) config.PreviewConfig {
	f, ok := d.Field(field)
	if !ok {
		return base
	}
	switch formats := f.Options["previewsFormats"].(type) {
	case []string:
		base.Formats = formats
	case []any:
		base.Formats = base.Formats[:0:0]
		for _, v := range formats {
			if s, ok := v.(string); ok {
				base.Formats = append(base.Formats, s)
			}
		}
	}
	if def, ok := f.Options["defaultPreview"].(string); ok {
		base.DefaultFormat = def
	}
	return base
}

func view(inst *deco.Instance) map[string]any {
	out := maps.Clone(inst.Extras())
	maps.Copy(out, inst.Unclass())
	out["id"] = inst.ID
	out["_label"] = inst.Label()
	return out
}

func views(items []*deco.Instance) []map[string]any {
	out := make([]map[string]any, 0, len(items))
	for _, inst := range items {
		out = append(out, view(inst))
	}
	return out
}
