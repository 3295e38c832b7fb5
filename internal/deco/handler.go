package deco

import (
	"context"
	"sync"
)

// TypeHandler converts one field between its wire and in-memory forms and
// validates its in-memory form.
type TypeHandler interface {
	Name() string
	DefaultOptions() Options
	// OptionsHook rewrites the merged options at declaration time.
	OptionsHook(opts Options, d *Descriptor, key string) Options
	FromAPI(ctx context.Context, key string, value any, opts Options, element map[string]any, d *Descriptor) (any, error)
	ToAPI(ctx context.Context, key string, value any, opts Options, element map[string]any, d *Descriptor) (any, error)
	Validate(ctx context.Context, value any, inst *Instance, opts Options) (bool, error)
}

// Handler is the identity handler. Concrete handlers embed it and override
// the methods they need.
type Handler struct {
	name     string
	defaults Options
}

func (h Handler) Name() string { return h.name }

func (h Handler) DefaultOptions() Options { return h.defaults.Clone() }

func (h Handler) OptionsHook(opts Options, _ *Descriptor, _ string) Options { return opts }

func (h Handler) FromAPI(_ context.Context, _ string, value any, _ Options, _ map[string]any, _ *Descriptor) (any, error) {
	return value, nil
}

func (h Handler) ToAPI(_ context.Context, _ string, value any, _ Options, _ map[string]any, _ *Descriptor) (any, error) {
	return value, nil
}

func (h Handler) Validate(_ context.Context, _ any, _ *Instance, _ Options) (bool, error) {
	return true, nil
}

// Omit is returned by ToAPI when the field must be left out of the request body.
var Omit = omitted{}

type omitted struct{}

// HandlerRegistry maps type tags to handlers.
type HandlerRegistry struct {
	mu       sync.RWMutex
	handlers map[string]TypeHandler
}

func NewHandlerRegistry(handlers ...TypeHandler) *HandlerRegistry {
	r := &HandlerRegistry{handlers: make(map[string]TypeHandler, len(handlers))}
	for _, h := range handlers {
		r.handlers[h.Name()] = h
	}
	return r
}

// DefaultHandlers returns a registry holding every built-in handler.
func DefaultHandlers() *HandlerRegistry {
	return NewHandlerRegistry(
		Any, ID, String, Select, Integer, Float, Boolean, Date,
		Array, Object, File, Files, Model, Models, Metadata,
	)
}

// Register adds or replaces a handler.
func (r *HandlerRegistry) Register(h TypeHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[h.Name()] = h
}

// Lookup returns the handler registered under name.
func (r *HandlerRegistry) Lookup(name string) (TypeHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

// Resolve returns the handler registered under name, falling back to Any.
func (r *HandlerRegistry) Resolve(name string) TypeHandler {
	if h, ok := r.Lookup(name); ok {
		return h
	}
	return Any
}
