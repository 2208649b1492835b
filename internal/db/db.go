package db

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"chat-engine/internal/logging"
)

// Connect opens the Postgres pool and applies migrations.
func Connect(ctx context.Context, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}

	if err := Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return db, nil
}

// The users table belongs to the account service; it is created here only so a fresh
// database can serve profile joins.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS users (
            id TEXT PRIMARY KEY,
            name TEXT NOT NULL DEFAULT '',
            profile_image_url TEXT NOT NULL DEFAULT ''
        );`,
	`CREATE TABLE IF NOT EXISTS chat_sessions (
            id TEXT PRIMARY KEY,
            participants TEXT[] NOT NULL CHECK (cardinality(participants) > 0),
            is_group BOOLEAN NOT NULL DEFAULT FALSE,
            group_name TEXT,
            group_admin TEXT,
            pair_key TEXT UNIQUE,
            version INT NOT NULL DEFAULT 1,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            deleted_at TIMESTAMPTZ,
            CHECK (NOT is_group OR (group_name IS NOT NULL AND group_admin IS NOT NULL))
        );`,
	`CREATE INDEX IF NOT EXISTS chat_sessions_participants_idx ON chat_sessions USING GIN (participants);`,
	`CREATE INDEX IF NOT EXISTS chat_sessions_deleted_idx ON chat_sessions (deleted_at) WHERE deleted_at IS NOT NULL;`,
	`CREATE TABLE IF NOT EXISTS chat_messages (
            id TEXT PRIMARY KEY,
            seq BIGSERIAL,
            session_id TEXT NOT NULL REFERENCES chat_sessions(id) ON DELETE CASCADE,
            sender_id TEXT NOT NULL,
            text TEXT NOT NULL CHECK (length(btrim(text)) > 0),
            created_at TIMESTAMPTZ NOT NULL DEFAULT clock_timestamp()
        );`,
	`CREATE INDEX IF NOT EXISTS chat_messages_session_idx ON chat_messages (session_id, created_at, seq);`,
}

// Migrate applies the idempotent schema statements in order.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	for _, m := range migrations {
		if _, err := db.ExecContext(ctx, m); err != nil {
			return err
		}
	}
	logging.Ctx(ctx).Info().Int("statements", len(migrations)).Msg("database migrations applied")
	return nil
}
