package userconfig

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema_postgres.sql
var postgresSchema string

// Postgres stores user configuration in a Postgres table.
type Postgres struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects, verifies the connection and applies the schema.
func OpenPostgres(ctx context.Context, url string) (*Postgres, error) {
	poolConfig, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	poolConfig.MaxConns = 5
	poolConfig.MinConns = 1
	poolConfig.MaxConnLifetime = time.Minute * 30
	poolConfig.MaxConnIdleTime = time.Minute * 5
	poolConfig.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Load(ctx context.Context, userID int64) (UserConfig, error) {
	cfg := UserConfig{UserID: userID}
	err := p.pool.QueryRow(ctx,
		`SELECT spreadsheet_id, sheet_name, created_at, updated_at FROM users WHERE user_id = $1`,
		userID,
	).Scan(&cfg.SpreadsheetID, &cfg.SheetName, &cfg.CreatedAt, &cfg.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return UserConfig{}, ErrNotFound
		}
		return UserConfig{}, fmt.Errorf("failed to load user %d: %w", userID, err)
	}
	return cfg, nil
}

func (p *Postgres) Upsert(ctx context.Context, cfg UserConfig) (UserConfig, error) {
	err := p.pool.QueryRow(ctx, `
		INSERT INTO users (user_id, spreadsheet_id, sheet_name)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE
		SET spreadsheet_id = EXCLUDED.spreadsheet_id,
		    sheet_name = EXCLUDED.sheet_name,
		    updated_at = now()
		RETURNING created_at, updated_at`,
		cfg.UserID, cfg.SpreadsheetID, cfg.SheetName,
	).Scan(&cfg.CreatedAt, &cfg.UpdatedAt)
	if err != nil {
		return UserConfig{}, fmt.Errorf("failed to save user %d: %w", cfg.UserID, err)
	}
	return cfg, nil
}

func (p *Postgres) Close() error {
	if p.pool != nil {
		p.pool.Close()
	}
	return nil
}
