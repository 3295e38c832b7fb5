package deco

import (
	"context"
	"fmt"
	"regexp"
)

const modelNotSet = "not-set"

var objectIDPattern = regexp.MustCompile(`^[a-fA-F0-9]{24}$`)

var (
	Model  TypeHandler = modelHandler{Handler{name: "model", defaults: Options{"model": modelNotSet}}}
	Models TypeHandler = modelsHandler{Handler{name: "models", defaults: Options{"model": modelNotSet}}}
)

// resolveSelf replaces the "self" model option with the owning descriptor.
func resolveSelf(opts Options, d *Descriptor) Options {
	if opts.String("model") == "self" && d != nil {
		opts = opts.Clone()
		opts["model"] = d
	}
	return opts
}

// checkModelOption accepts a descriptor, any Source, or the id or slug of
// a dynamic model.
func checkModelOption(opts Options) error {
	switch m := opts["model"].(type) {
	case nil:
		return ErrModelNotSet
	case string:
		if m == modelNotSet || m == "" {
			return ErrModelNotSet
		}
		return nil
	case Source:
		return nil
	default:
		return fmt.Errorf("%w: %T", ErrInvalidModelOption, m)
	}
}

type modelHandler struct{ Handler }

func (modelHandler) OptionsHook(opts Options, d *Descriptor, _ string) Options {
	return resolveSelf(opts, d)
}

func (modelHandler) Validate(_ context.Context, value any, _ *Instance, opts Options) (bool, error) {
	if err := checkModelOption(opts); err != nil {
		return false, err
	}
	if value == nil {
		return true, nil
	}
	s, ok := value.(string)
	return ok && objectIDPattern.MatchString(s), nil
}

type modelsHandler struct{ Handler }

func (modelsHandler) OptionsHook(opts Options, d *Descriptor, _ string) Options {
	return resolveSelf(opts, d)
}

func (modelsHandler) Validate(_ context.Context, value any, _ *Instance, opts Options) (bool, error) {
	if err := checkModelOption(opts); err != nil {
		return false, err
	}
	if value == nil {
		return true, nil
	}
	items, ok := asSlice(value)
	if !ok {
		return false, nil
	}
	for _, item := range items {
		s, ok := item.(string)
		if !ok || !objectIDPattern.MatchString(s) {
			return false, nil
		}
	}
	return true, nil
}
