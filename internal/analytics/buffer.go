// Package analytics collects navigation, click and event entries and saves
// them to the /analytics route in debounced batches.
package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"swissdata/internal/config"
	"swissdata/internal/model"
)

const (
	DefaultDebounce   = 200 * time.Millisecond
	DefaultBufferSize = 100
	saveConcurrency   = 4
)

type EntryType string

const (
	TypeNavigation EntryType = "navigation"
	TypeClick      EntryType = "click"
	TypeEvent      EntryType = "event"
)

// Entry is one tracked interaction.
type Entry struct {
	Type     EntryType
	Path     string
	Title    string
	Category string
	Action   string
	Value    any
}

// Buffer holds entries until a short quiet period passes or it is full,
// then saves them through the analytics model.
type Buffer struct {
	model     *model.Model
	sessionID string
	debounce  time.Duration
	maxSize   int
	log       *log.Entry

	mu          sync.Mutex
	identity    string
	currentPath string
	entries     []Entry
	timer       *time.Timer
	stopped     bool
	flushes     sync.WaitGroup
}

// NewBuffer saves entries through m, which must be bound to the
// analytics descriptor.
func NewBuffer(m *model.Model, cfg config.AnalyticsConfig) *Buffer {
	b := &Buffer{
		model:     m,
		sessionID: strings.ReplaceAll(uuid.NewString(), "-", ""),
		debounce:  time.Duration(cfg.DebounceMs) * time.Millisecond,
		maxSize:   cfg.BufferSize,
		log:       log.WithField("component", "analytics"),
	}
	if b.debounce <= 0 {
		b.debounce = DefaultDebounce
	}
	if b.maxSize <= 0 {
		b.maxSize = DefaultBufferSize
	}
	return b
}

func (b *Buffer) SessionID() string { return b.sessionID }

// SetIdentity tags the following entries with identity, usually the
// signed in user id.
func (b *Buffer) SetIdentity(identity string) {
	b.mu.Lock()
	b.identity = identity
	b.mu.Unlock()
}

// Navigation records a visit of path and makes it the path of later
// clicks and events.
func (b *Buffer) Navigation(path, title string) {
	b.mu.Lock()
	b.currentPath = path
	b.mu.Unlock()
	b.Enqueue(Entry{Type: TypeNavigation, Path: path, Title: title})
}

func (b *Buffer) Click(category, action, label string, value any) {
	b.Enqueue(Entry{Type: TypeClick, Path: b.path(), Category: category, Action: action, Title: label, Value: value})
}

func (b *Buffer) Event(category, action, label string, value any) {
	b.Enqueue(Entry{Type: TypeEvent, Path: b.path(), Category: category, Action: action, Title: label, Value: value})
}

func (b *Buffer) path() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentPath
}

// Enqueue adds an entry. A full buffer is flushed right away; otherwise
// the flush is pushed back by the debounce delay.
func (b *Buffer) Enqueue(e Entry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return
	}
	b.entries = append(b.entries, e)
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	if len(b.entries) >= b.maxSize {
		b.flushes.Add(1)
		go func() {
			defer b.flushes.Done()
			b.Flush(context.Background())
		}()
		return
	}
	b.timer = time.AfterFunc(b.debounce, func() { b.Flush(context.Background()) })
}

// Len returns the number of entries waiting for a flush.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// Flush saves every buffered entry. Entries failing to save are dropped
// and reported in the returned error.
func (b *Buffer) Flush(ctx context.Context) error {
	b.mu.Lock()
	if len(b.entries) == 0 {
		b.mu.Unlock()
		return nil
	}
	batch, identity := b.entries, b.identity
	b.entries = nil
	b.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(saveConcurrency)
	for _, e := range batch {
		g.Go(func() error { return b.save(ctx, e, identity) })
	}
	if err := g.Wait(); err != nil {
		b.log.WithError(err).WithField("entries", len(batch)).Error("analytics flush failed")
		return err
	}
	b.log.WithField("entries", len(batch)).Debug("analytics flushed")
	return nil
}

func (b *Buffer) save(ctx context.Context, e Entry, identity string) error {
	inst := b.model.New()
	inst.Set("sessionId", b.sessionID)
	if identity != "" {
		inst.Set("identity", identity)
	}
	inst.Set("type", string(e.Type))
	inst.Set("path", e.Path)
	setString(inst.Set, "title", e.Title)
	setString(inst.Set, "category", e.Category)
	setString(inst.Set, "action", e.Action)
	if e.Value != nil {
		v, err := stringify(e.Value)
		if err != nil {
			return err
		}
		inst.Set("value", v)
	}
	if _, err := b.model.Save(ctx, inst, "", model.SaveOptions{SkipResponse: true}); err != nil {
		return fmt.Errorf("save %s entry: %w", e.Type, err)
	}
	return nil
}

func setString(set func(string, any), key, value string) {
	if value != "" {
		set(key, value)
	}
}

func stringify(v any) (string, error) {
	if s, ok := v.(string); ok {
		return s, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode analytics value: %w", err)
	}
	return string(raw), nil
}

// Stop cancels the pending debounce, waits for running flushes and saves
// what is left. Entries enqueued afterwards are ignored.
func (b *Buffer) Stop(ctx context.Context) error {
	b.mu.Lock()
	b.stopped = true
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.mu.Unlock()
	b.flushes.Wait()
	return b.Flush(ctx)
}
