package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"swissdata/internal/config"
)

// Postgres keeps records as JSONB documents in the _records table.
type Postgres struct {
	Pool *pgxpool.Pool
}

func NewPostgres(ctx context.Context, cfg config.DatabaseConfig) (*Postgres, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.ConnString())
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.PoolSize > 0 {
		poolCfg.MaxConns = int32(cfg.PoolSize)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return &Postgres{Pool: pool}, nil
}

func (p *Postgres) Close() {
	p.Pool.Close()
}

func (p *Postgres) List(ctx context.Context, collection string) ([]Record, error) {
	rows, err := p.Pool.Query(ctx,
		`SELECT data FROM _records WHERE collection = $1 ORDER BY seq`, collection)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	out := []Record{}
	for rows.Next() {
		var data map[string]any
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		out = append(out, Record(data))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return out, nil
}

func (p *Postgres) Get(ctx context.Context, collection, id string) (Record, error) {
	return getRecord(ctx, p.Pool, collection, id, "")
}

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func getRecord(ctx context.Context, q rowQuerier, collection, id, suffix string) (Record, error) {
	var data map[string]any
	err := q.QueryRow(ctx,
		`SELECT data FROM _records WHERE collection = $1 AND id = $2`+suffix, collection, id).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", collection, id, err)
	}
	return Record(data), nil
}

func (p *Postgres) Insert(ctx context.Context, collection string, rec Record) (Record, error) {
	out := prepareInsert(rec)
	_, err := p.Pool.Exec(ctx,
		`INSERT INTO _records (collection, id, data) VALUES ($1, $2, $3)
		 ON CONFLICT (collection, id) DO UPDATE SET data = EXCLUDED.data, updated_at = NOW()`,
		collection, out.ID(), map[string]any(out))
	if err != nil {
		return nil, fmt.Errorf("insert %s: %w", collection, err)
	}
	return out, nil
}

func (p *Postgres) Update(ctx context.Context, collection, id string, patch Record) (Record, error) {
	var out Record
	err := pgx.BeginFunc(ctx, p.Pool, func(tx pgx.Tx) error {
		rec, err := getRecord(ctx, tx, collection, id, " FOR UPDATE")
		if err != nil {
			return err
		}
		out = applyPatch(rec, patch)
		_, err = tx.Exec(ctx,
			`UPDATE _records SET data = $3, updated_at = NOW() WHERE collection = $1 AND id = $2`,
			collection, id, map[string]any(out))
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (p *Postgres) Delete(ctx context.Context, collection, id string) error {
	tag, err := p.Pool.Exec(ctx,
		`DELETE FROM _records WHERE collection = $1 AND id = $2`, collection, id)
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", collection, id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
