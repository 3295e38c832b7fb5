// Package ensure batches fetches of entities by id and caches the results.
// Concurrent requests for the same id share one network round trip.
package ensure

import (
	"context"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const DefaultBatchSize = 50

// FetchFunc lists the entities matching suffix, which always starts with
// ?id=<comma separated ids>.
type FetchFunc[T any] func(ctx context.Context, suffix string) ([]T, error)

type settings struct {
	suffix    string
	language  func() string
	batchSize int
}

type Option func(*settings)

// WithSuffix appends suffix to every batch query after the id filter.
func WithSuffix(suffix string) Option {
	return func(s *settings) { s.suffix = suffix }
}

// WithLanguage adds &locale=<language> to batch queries lacking one.
// language is read at every batch; an empty result adds nothing.
func WithLanguage(language func() string) Option {
	return func(s *settings) { s.language = language }
}

func WithBatchSize(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

type entry[T any] struct {
	value T
	found bool
}

// future is resolved once: done is closed after entry or err is set.
type future[T any] struct {
	done chan struct{}
	entry[T]
	err error
}

func (f *future[T]) wait(ctx context.Context) (T, bool, error) {
	select {
	case <-f.done:
		return f.value, f.found, f.err
	case <-ctx.Done():
		var zero T
		return zero, false, ctx.Err()
	}
}

// Cache resolves ids to entities. Resolved ids, found or not, are served
// from memory until forced.
type Cache[T any] struct {
	fetch FetchFunc[T]
	idOf  func(T) string
	cfg   settings
	log   *log.Entry

	mu       sync.Mutex
	entries  map[string]entry[T]
	pending  map[string]*future[T]
	queue    []string
	fetching bool
}

func New[T any](fetch FetchFunc[T], idOf func(T) string, opts ...Option) *Cache[T] {
	cfg := settings{batchSize: DefaultBatchSize}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Cache[T]{
		fetch:   fetch,
		idOf:    idOf,
		cfg:     cfg,
		log:     log.WithField("component", "ensure-model"),
		entries: make(map[string]entry[T]),
		pending: make(map[string]*future[T]),
	}
}

// enqueue queues the ids that need fetching and returns the futures to
// wait on. Ids already queued or in flight share their existing future.
func (c *Cache[T]) enqueue(ids []string, force bool) map[string]*future[T] {
	c.mu.Lock()
	defer c.mu.Unlock()

	waits := make(map[string]*future[T])
	for _, id := range ids {
		if f, ok := c.pending[id]; ok {
			waits[id] = f
			continue
		}
		if _, known := c.entries[id]; known && !force {
			continue
		}
		f := &future[T]{done: make(chan struct{})}
		c.pending[id] = f
		c.queue = append(c.queue, id)
		waits[id] = f
	}
	return waits
}

// startDrain runs the drain loop unless one is already running. The flag
// is checked and set under the lock before any I/O.
func (c *Cache[T]) startDrain(ctx context.Context) {
	c.mu.Lock()
	if c.fetching || len(c.queue) == 0 {
		c.mu.Unlock()
		return
	}
	c.fetching = true
	c.mu.Unlock()

	go c.drain(context.WithoutCancel(ctx))
}

func (c *Cache[T]) drain(ctx context.Context) {
	for {
		c.mu.Lock()
		if len(c.queue) == 0 {
			c.fetching = false
			c.mu.Unlock()
			return
		}
		n := min(c.cfg.batchSize, len(c.queue))
		ids := append([]string(nil), c.queue[:n]...)
		c.queue = c.queue[n:]
		c.mu.Unlock()

		items, err := c.fetch(ctx, c.batchSuffix(ids))

		c.mu.Lock()
		if err != nil {
			for _, id := range ids {
				if f, ok := c.pending[id]; ok {
					f.err = err
					delete(c.pending, id)
					close(f.done)
				}
			}
			c.fetching = false
			c.mu.Unlock()
			c.log.WithError(err).WithField("ids", len(ids)).Error("batch fetch failed")
			return
		}

		got := make(map[string]bool, len(items))
		for _, item := range items {
			id := c.idOf(item)
			c.entries[id] = entry[T]{value: item, found: true}
			got[id] = true
		}
		for _, id := range ids {
			if !got[id] {
				c.entries[id] = entry[T]{}
			}
			e := c.entries[id]
			if f, ok := c.pending[id]; ok {
				f.entry = e
				delete(c.pending, id)
				close(f.done)
			}
		}
		c.mu.Unlock()
		c.log.WithField("ids", len(ids)).WithField("found", len(items)).Debug("batch fetched")
	}
}

func (c *Cache[T]) batchSuffix(ids []string) string {
	suffix := "?id=" + strings.Join(ids, ",") + c.cfg.suffix
	if c.cfg.language == nil {
		return suffix
	}
	if lang := c.cfg.language(); lang != "" && !strings.Contains(suffix, "&locale=") {
		suffix += "&locale=" + lang
	}
	return suffix
}

// Get returns the entity with id, fetching it when not resolved yet. found
// is false when the server does not know the id.
func (c *Cache[T]) Get(ctx context.Context, id string) (value T, found bool, err error) {
	waits := c.enqueue([]string{id}, false)
	f, ok := waits[id]
	if !ok {
		c.mu.Lock()
		e := c.entries[id]
		c.mu.Unlock()
		return e.value, e.found, nil
	}
	c.startDrain(ctx)
	return f.wait(ctx)
}

// Reload fetches id again even when resolved.
func (c *Cache[T]) Reload(ctx context.Context, id string) (T, bool, error) {
	f := c.enqueue([]string{id}, true)[id]
	c.startDrain(ctx)
	return f.wait(ctx)
}

// EnsureIDs resolves every id, fetching the unresolved ones (all of them
// when force is set) in batches. The result follows ids; absent entities
// are zero values.
func (c *Cache[T]) EnsureIDs(ctx context.Context, ids []string, force bool) ([]T, error) {
	waits := c.enqueue(ids, force)
	c.startDrain(ctx)

	// A failed batch stops the drain loop, so later futures may stay
	// pending: the first error cancels the remaining waits.
	g, gctx := errgroup.WithContext(ctx)
	for _, f := range waits {
		g.Go(func() error {
			_, _, err := f.wait(gctx)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]T, len(ids))
	for i, id := range ids {
		out[i] = c.entries[id].value
	}
	return out, nil
}

// ReloadAll queues every resolved id again without waiting.
func (c *Cache[T]) ReloadAll(ctx context.Context) {
	c.mu.Lock()
	ids := make([]string, 0, len(c.entries))
	for id := range c.entries {
		ids = append(ids, id)
	}
	c.mu.Unlock()

	c.enqueue(ids, true)
	c.startDrain(ctx)
}

func (c *Cache[T]) IsFetching() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fetching
}

// Instances returns the found entities by id.
func (c *Cache[T]) Instances() map[string]T {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]T, len(c.entries))
	for id, e := range c.entries {
		if e.found {
			out[id] = e.value
		}
	}
	return out
}
