package userconfig

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema_sqlite.sql
var sqliteSchema string

// SQLite stores user configuration in a local database file.
type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite creates or opens the database at path and applies the schema.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite allows one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLite{db: db, now: time.Now}, nil
}

func (s *SQLite) Load(ctx context.Context, userID int64) (UserConfig, error) {
	cfg := UserConfig{UserID: userID}
	err := s.db.QueryRowContext(ctx,
		`SELECT spreadsheet_id, sheet_name, created_at, updated_at FROM users WHERE user_id = ?`,
		userID,
	).Scan(&cfg.SpreadsheetID, &cfg.SheetName, &cfg.CreatedAt, &cfg.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return UserConfig{}, ErrNotFound
		}
		return UserConfig{}, fmt.Errorf("failed to load user %d: %w", userID, err)
	}
	return cfg, nil
}

func (s *SQLite) Upsert(ctx context.Context, cfg UserConfig) (UserConfig, error) {
	now := s.now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (user_id, spreadsheet_id, sheet_name, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE
		SET spreadsheet_id = excluded.spreadsheet_id,
		    sheet_name = excluded.sheet_name,
		    updated_at = excluded.updated_at`,
		cfg.UserID, cfg.SpreadsheetID, cfg.SheetName, now, now,
	)
	if err != nil {
		return UserConfig{}, fmt.Errorf("failed to save user %d: %w", cfg.UserID, err)
	}
	// Read back through the declared TIMESTAMP columns so times are parsed.
	return s.Load(ctx, cfg.UserID)
}

func (s *SQLite) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
