package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

const schema = `
CREATE TABLE IF NOT EXISTS table_state (
    table_id   TEXT PRIMARY KEY,
    data       JSONB NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS player_state (
    table_id   TEXT PRIMARY KEY,
    data       JSONB NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// Postgres stores table state in two JSONB tables, one row per table each,
// upserted wholesale on every save.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects a pgx pool and ensures the schema exists.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	log.Info().Msg("postgres store ready")
	return &Postgres{pool: pool}, nil
}

// Close releases the connection pool.
func (p *Postgres) Close() {
	p.pool.Close()
}

func (p *Postgres) SaveTable(ctx context.Context, tableID string, data []byte) error {
	return p.upsert(ctx, "table_state", tableID, data)
}

func (p *Postgres) SavePlayers(ctx context.Context, tableID string, data []byte) error {
	return p.upsert(ctx, "player_state", tableID, data)
}

func (p *Postgres) upsert(ctx context.Context, table, tableID string, data []byte) error {
	_, err := p.pool.Exec(ctx, fmt.Sprintf(`
        INSERT INTO %s (table_id, data, updated_at)
        VALUES ($1, $2, now())
        ON CONFLICT (table_id)
        DO UPDATE SET data = EXCLUDED.data, updated_at = now()`, table),
		tableID, data)
	if err != nil {
		return fmt.Errorf("upsert %s: %w", table, err)
	}
	return nil
}

func (p *Postgres) Load(ctx context.Context, tableID string) (Record, error) {
	rec := Record{TableID: tableID}
	err := p.pool.QueryRow(ctx,
		`SELECT data FROM table_state WHERE table_id = $1`, tableID).Scan(&rec.Table)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("load table state: %w", err)
	}
	err = p.pool.QueryRow(ctx,
		`SELECT data FROM player_state WHERE table_id = $1`, tableID).Scan(&rec.Players)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return Record{}, fmt.Errorf("load player state: %w", err)
	}
	return rec, nil
}

func (p *Postgres) List(ctx context.Context) ([]string, error) {
	rows, err := p.pool.Query(ctx, `SELECT table_id FROM table_state`)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan table id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (p *Postgres) Delete(ctx context.Context, tableID string) error {
	if _, err := p.pool.Exec(ctx, `DELETE FROM table_state WHERE table_id = $1`, tableID); err != nil {
		return fmt.Errorf("delete table state: %w", err)
	}
	if _, err := p.pool.Exec(ctx, `DELETE FROM player_state WHERE table_id = $1`, tableID); err != nil {
		return fmt.Errorf("delete player state: %w", err)
	}
	return nil
}
