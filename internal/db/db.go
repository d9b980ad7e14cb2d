// Package db opens the stub backend's database. The schema is portable across
// sqlite (default, so the demo runs anywhere) and postgres.
package db

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Connect opens the database and applies migrations. driver is "sqlite3" or
// "postgres".
func Connect(driver, dsn string) (*sqlx.DB, error) {
	database, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}

	if err := runMigrations(database); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return database, nil
}

func runMigrations(database *sqlx.DB) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
            id TEXT PRIMARY KEY,
            coach_id TEXT NOT NULL,
            coach_name TEXT NOT NULL DEFAULT '',
            client_id TEXT NOT NULL,
            client_name TEXT NOT NULL DEFAULT '',
            last_message_at TIMESTAMP NOT NULL,
            UNIQUE(coach_id, client_id)
        );`,
		`CREATE TABLE IF NOT EXISTS messages (
            id TEXT PRIMARY KEY,
            conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
            sender_id TEXT NOT NULL,
            content TEXT NOT NULL,
            attachment_url TEXT NOT NULL DEFAULT '',
            attachment_mime TEXT NOT NULL DEFAULT '',
            attachment_name TEXT NOT NULL DEFAULT '',
            attachment_size BIGINT NOT NULL DEFAULT 0,
            correlation_id TEXT NOT NULL DEFAULT '',
            is_read BOOLEAN NOT NULL DEFAULT FALSE,
            created_at TIMESTAMP NOT NULL
        );`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, created_at);`,
	}

	for _, migration := range migrations {
		if _, err := database.Exec(migration); err != nil {
			return err
		}
	}
	return nil
}
