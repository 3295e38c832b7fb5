package ensure

import (
	"context"

	"swissdata/internal/deco"
	"swissdata/internal/model"
)

// ForModel returns a cache fetching the instances of m through GetAll.
func ForModel(m *model.Model, opts model.GetAllOptions, cacheOpts ...Option) *Cache[*deco.Instance] {
	opts.SkipResponse = true
	fetch := func(ctx context.Context, suffix string) ([]*deco.Instance, error) {
		list, err := m.GetAll(ctx, suffix, opts)
		if err != nil {
			return nil, err
		}
		return list.Items, nil
	}
	return New[*deco.Instance](fetch, func(inst *deco.Instance) string { return inst.ID }, cacheOpts...)
}
