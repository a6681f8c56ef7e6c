package db

import (
	"fmt"
	"log"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Connect initializes the database connection and runs migrations.
func Connect(dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return db, nil
}

// users and deals belong to the marketplace CRUD; they are created here only so the
// foreign keys and cascades of the discussion tables resolve on a fresh database.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS users (
            id SERIAL PRIMARY KEY,
            username TEXT NOT NULL,
            chat_handle TEXT NOT NULL DEFAULT '',
            chat_password TEXT NOT NULL DEFAULT ''
        );`,
	`CREATE TABLE IF NOT EXISTS deals (
            id SERIAL PRIMARY KEY,
            title TEXT NOT NULL,
            price NUMERIC(12, 2) NOT NULL DEFAULT 0,
            seller_id INT NOT NULL REFERENCES users(id) ON DELETE CASCADE
        );`,
	`CREATE TABLE IF NOT EXISTS discussions (
            id SERIAL PRIMARY KEY,
            deal_id INT NOT NULL REFERENCES deals(id) ON DELETE CASCADE,
            buyer_id INT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
            seller_id INT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
            room_id TEXT NOT NULL CHECK (room_id <> ''),
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            UNIQUE(deal_id, buyer_id, seller_id)
        );`,
	`CREATE UNIQUE INDEX IF NOT EXISTS discussions_room_id_idx ON discussions(room_id);`,
	`CREATE TABLE IF NOT EXISTS discussion_statuses (
            id SERIAL PRIMARY KEY,
            discussion_id INT NOT NULL REFERENCES discussions(id) ON DELETE CASCADE,
            user_id INT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
            new_message BOOLEAN NOT NULL DEFAULT FALSE,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            UNIQUE(discussion_id, user_id)
        );`,
}

func runMigrations(db *sqlx.DB) error {
	for _, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return err
		}
	}
	log.Println("database migrations applied")
	return nil
}
