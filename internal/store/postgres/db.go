package postgres

import (
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/hanapbuhay/chat-service/internal/domain"
)

// Open opens a PostgreSQL database using the pgx stdlib driver.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// Migrate runs idempotent DDL migrations for the chat schema on PostgreSQL.
func Migrate(db *sql.DB) error {
	stmts := []string{
		// Users
		`CREATE TABLE IF NOT EXISTS users (
			id               BIGSERIAL PRIMARY KEY,
			username         VARCHAR(50)  UNIQUE NOT NULL,
			email            VARCHAR(100) UNIQUE,
			hashed_password  VARCHAR(255) NOT NULL,
			display_name     VARCHAR(100) NOT NULL DEFAULT '',
			profile_pic_url  TEXT,
			is_active        BOOLEAN      NOT NULL DEFAULT TRUE,
			is_online        BOOLEAN      NOT NULL DEFAULT FALSE,
			created_at       TIMESTAMPTZ  NOT NULL DEFAULT NOW(),
			last_seen        TIMESTAMPTZ  NOT NULL DEFAULT NOW()
		)`,

		// Rooms. pair_key is "min:max" of the two member ids for private
		// rooms; the partial unique index makes racing find-or-create calls
		// converge on a single row.
		`CREATE TABLE IF NOT EXISTS rooms (
			id         BIGSERIAL    PRIMARY KEY,
			type       VARCHAR(10)  NOT NULL,
			name       VARCHAR(100),
			pair_key   VARCHAR(50),
			created_at TIMESTAMPTZ  NOT NULL DEFAULT NOW()
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_rooms_pair_key
			ON rooms(pair_key) WHERE pair_key IS NOT NULL`,

		// Room participants
		`CREATE TABLE IF NOT EXISTS room_participants (
			user_id      BIGINT      NOT NULL REFERENCES users(id),
			room_id      BIGINT      NOT NULL REFERENCES rooms(id),
			last_read_at TIMESTAMPTZ,
			joined_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (user_id, room_id)
		)`,

		// Messages
		`CREATE TABLE IF NOT EXISTS messages (
			id           BIGSERIAL   PRIMARY KEY,
			room_id      BIGINT      NOT NULL REFERENCES rooms(id),
			sender_id    BIGINT      NOT NULL REFERENCES users(id),
			content      TEXT        NOT NULL,
			client_token VARCHAR(64) UNIQUE,
			created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		// Per-user read markers (the message's read set)
		`CREATE TABLE IF NOT EXISTS message_reads (
			message_id BIGINT      NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
			user_id    BIGINT      NOT NULL REFERENCES users(id),
			read_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (message_id, user_id)
		)`,

		// Indexes
		`CREATE INDEX IF NOT EXISTS idx_users_username ON users(username)`,
		`CREATE INDEX IF NOT EXISTS idx_rooms_type ON rooms(type)`,
		`CREATE INDEX IF NOT EXISTS idx_room_participants_user ON room_participants(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_room_participants_room ON room_participants(room_id)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_room_created ON messages(room_id, created_at, id)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_sender ON messages(sender_id)`,
		`CREATE INDEX IF NOT EXISTS idx_message_reads_user ON message_reads(user_id)`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w\nSQL: %s", err, stmt)
		}
	}
	return nil
}

// NewRepositories wires every PostgreSQL repository over the shared handle.
func NewRepositories(db *sql.DB) domain.Repositories {
	return domain.Repositories{
		Users:        NewUserRepo(db),
		Rooms:        NewRoomRepo(db),
		Participants: NewParticipantRepo(db),
		Messages:     NewMessageRepo(db),
		Contacts:     NewContactRepo(db),
	}
}
