package store

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"swissdata/internal/config"
)

var ErrNotFound = errors.New("not found")

// Record is one stored document. Every record carries an "id" plus the
// _createdAt and _updatedAt bookkeeping fields.
type Record map[string]any

// Clone returns a shallow copy of r.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

func (r Record) ID() string {
	id, _ := r["id"].(string)
	return id
}

// RecordStore persists records grouped in collections, in insertion order.
type RecordStore interface {
	List(ctx context.Context, collection string) ([]Record, error)
	Get(ctx context.Context, collection, id string) (Record, error)
	Insert(ctx context.Context, collection string, rec Record) (Record, error)
	Update(ctx context.Context, collection, id string, patch Record) (Record, error)
	Delete(ctx context.Context, collection, id string) error
	Close()
}

// New opens the store selected by cfg.Driver.
func New(ctx context.Context, cfg config.DatabaseConfig) (RecordStore, error) {
	switch cfg.Driver {
	case "", "memory":
		return NewMemory(), nil
	case "postgres":
		pg, err := NewPostgres(ctx, cfg)
		if err != nil {
			return nil, err
		}
		if err := pg.Bootstrap(ctx); err != nil {
			pg.Close()
			return nil, err
		}
		return pg, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// NewID returns a 24 hex characters identifier.
func NewID() string {
	b := make([]byte, 12)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("read random bytes: %v", err))
	}
	return hex.EncodeToString(b)
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// prepareInsert copies rec, assigns an id if missing and stamps it.
func prepareInsert(rec Record) Record {
	out := rec.Clone()
	if out.ID() == "" {
		out["id"] = NewID()
	}
	now := timestamp()
	out["_createdAt"] = now
	out["_updatedAt"] = now
	return out
}

// applyPatch merges patch into a copy of rec. The id and _createdAt are kept.
func applyPatch(rec, patch Record) Record {
	out := rec.Clone()
	for k, v := range patch {
		if k == "id" || k == "_createdAt" {
			continue
		}
		out[k] = v
	}
	out["_updatedAt"] = timestamp()
	return out
}
