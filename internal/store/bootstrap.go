package store

import (
	"context"
	"fmt"
)

const recordsTableSQL = `
CREATE TABLE IF NOT EXISTS _records (
    seq         BIGSERIAL,
    collection  TEXT NOT NULL,
    id          TEXT NOT NULL,
    data        JSONB NOT NULL,
    created_at  TIMESTAMPTZ DEFAULT NOW(),
    updated_at  TIMESTAMPTZ DEFAULT NOW(),
    PRIMARY KEY (collection, id)
);
CREATE INDEX IF NOT EXISTS idx_records_collection_seq ON _records(collection, seq);
`

// Bootstrap creates the records table when missing.
func (p *Postgres) Bootstrap(ctx context.Context) error {
	if _, err := p.Pool.Exec(ctx, recordsTableSQL); err != nil {
		return fmt.Errorf("bootstrap records table: %w", err)
	}
	return nil
}
