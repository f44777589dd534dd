package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// migration is one ordered schema change. IDs are never reused.
type migration struct {
	ID   string
	SQLs []string
}

var migrations = []migration{
	{
		ID: "001_game_sessions",
		SQLs: []string{
			`CREATE TABLE IF NOT EXISTS game_sessions (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				session_id TEXT NOT NULL UNIQUE,
				user_id TEXT NOT NULL DEFAULT '',
				game_key TEXT NOT NULL,
				page_url TEXT NOT NULL DEFAULT '',
				score INTEGER NOT NULL,
				duration_seconds INTEGER NOT NULL DEFAULT 0,
				placeholder_count INTEGER NOT NULL DEFAULT 0,
				finalized_at TEXT NOT NULL,
				finalized_at_epoch INTEGER NOT NULL,
				delivery_status TEXT NOT NULL DEFAULT 'pending'
					CHECK (delivery_status IN ('pending', 'delivered', 'failed', 'dropped')),
				delivery_http_status INTEGER,
				delivery_error TEXT,
				delivered_at_epoch INTEGER
			)`,
			`CREATE INDEX IF NOT EXISTS idx_game_sessions_finalized ON game_sessions(finalized_at_epoch DESC)`,
			`CREATE INDEX IF NOT EXISTS idx_game_sessions_game_key ON game_sessions(game_key)`,
		},
	},
	{
		ID: "002_game_problems",
		SQLs: []string{
			`CREATE TABLE IF NOT EXISTS game_problems (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				session_id TEXT NOT NULL REFERENCES game_sessions(session_id) ON DELETE CASCADE,
				position INTEGER NOT NULL,
				question TEXT NOT NULL,
				answer TEXT NOT NULL,
				latency_ms INTEGER NOT NULL DEFAULT 0,
				operation_type TEXT NOT NULL,
				synthetic INTEGER NOT NULL DEFAULT 0,
				UNIQUE (session_id, position)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_game_problems_operation ON game_problems(operation_type)`,
		},
	},
}

// runMigrations applies every migration not yet recorded in
// schema_migrations, each in its own transaction.
func runMigrations(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		id TEXT PRIMARY KEY,
		applied_at TEXT NOT NULL
	)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	for _, m := range migrations {
		var exists int
		err := db.QueryRowContext(ctx, `SELECT 1 FROM schema_migrations WHERE id = ?`, m.ID).Scan(&exists)
		if err == nil {
			continue
		}
		if err != sql.ErrNoRows {
			return fmt.Errorf("check migration %s: %w", m.ID, err)
		}
		if err := applyMigration(ctx, db, m); err != nil {
			return fmt.Errorf("migration %s: %w", m.ID, err)
		}
	}
	return nil
}

func applyMigration(ctx context.Context, db *sql.DB, m migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, s := range m.SQLs {
		if _, err := tx.ExecContext(ctx, s); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_migrations (id, applied_at) VALUES (?, ?)`,
		m.ID, time.Now().UTC().Format(time.RFC3339),
	); err != nil {
		return err
	}
	return tx.Commit()
}
