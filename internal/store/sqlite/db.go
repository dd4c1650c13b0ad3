package sqlite

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/hanapbuhay/chat-service/internal/domain"
)

// Open opens a SQLite database with the given DSN.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys = ON;`); err != nil {
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	return db, nil
}

// Migrate runs idempotent DDL migrations for the chat schema on SQLite.
func Migrate(db *sql.DB) error {
	stmts := []string{
		// Users
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY,
			username VARCHAR(50) UNIQUE NOT NULL,
			email VARCHAR(100) UNIQUE,
			hashed_password VARCHAR(255) NOT NULL,
			display_name VARCHAR(100) NOT NULL DEFAULT '',
			profile_pic_url TEXT,
			is_active BOOLEAN DEFAULT TRUE,
			is_online BOOLEAN DEFAULT FALSE,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			last_seen DATETIME DEFAULT CURRENT_TIMESTAMP
		);`,

		// Rooms. pair_key is "min:max" of the two member ids for private
		// rooms; the partial unique index is what makes room creation safe
		// under racing find-or-create calls.
		`CREATE TABLE IF NOT EXISTS rooms (
			id INTEGER PRIMARY KEY,
			type VARCHAR(10) NOT NULL,
			name VARCHAR(100),
			pair_key VARCHAR(50),
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_rooms_pair_key
			ON rooms(pair_key) WHERE pair_key IS NOT NULL;`,

		// Room participants
		`CREATE TABLE IF NOT EXISTS room_participants (
			user_id INTEGER NOT NULL REFERENCES users(id),
			room_id INTEGER NOT NULL REFERENCES rooms(id),
			last_read_at DATETIME,
			joined_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (user_id, room_id)
		);`,

		// Messages
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY,
			room_id INTEGER NOT NULL REFERENCES rooms(id),
			sender_id INTEGER NOT NULL REFERENCES users(id),
			content TEXT NOT NULL,
			client_token VARCHAR(64) UNIQUE,
			created_at DATETIME NOT NULL
		);`,

		// Per-user read markers (the message's read set)
		`CREATE TABLE IF NOT EXISTS message_reads (
			message_id INTEGER NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
			user_id INTEGER NOT NULL REFERENCES users(id),
			read_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (message_id, user_id)
		);`,

		// Indexes
		`CREATE INDEX IF NOT EXISTS idx_users_username ON users(username);`,
		`CREATE INDEX IF NOT EXISTS idx_rooms_type ON rooms(type);`,
		`CREATE INDEX IF NOT EXISTS idx_room_participants_user ON room_participants(user_id);`,
		`CREATE INDEX IF NOT EXISTS idx_room_participants_room ON room_participants(room_id);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_room_created ON messages(room_id, created_at, id);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_sender ON messages(sender_id);`,
		`CREATE INDEX IF NOT EXISTS idx_message_reads_user ON message_reads(user_id);`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w\nSQL: %s", err, stmt)
		}
	}
	return nil
}

// NewRepositories wires every SQLite repository over the shared handle.
func NewRepositories(db *sql.DB) domain.Repositories {
	return domain.Repositories{
		Users:        NewUserRepo(db),
		Rooms:        NewRoomRepo(db),
		Participants: NewParticipantRepo(db),
		Messages:     NewMessageRepo(db),
		Contacts:     NewContactRepo(db),
	}
}
