package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/hanapbuhay/chat-service/internal/domain"
)

type RoomRepo struct {
	db *sql.DB
}

func NewRoomRepo(db *sql.DB) *RoomRepo {
	return &RoomRepo{db: db}
}

var _ domain.RoomRepository = (*RoomRepo)(nil)

// pairKey encodes an unordered user pair so the unique index on rooms.pair_key
// admits at most one private room per pair.
func pairKey(a, b int64) string {
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("%d:%d", a, b)
}

func (r *RoomRepo) CreatePrivate(ctx context.Context, userA, userB int64) (*domain.Room, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx, `
		INSERT INTO rooms (type, name, pair_key, created_at)
		VALUES (?, NULL, ?, ?)
	`, domain.RoomTypePrivate, pairKey(userA, userB), now)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return nil, domain.ErrConflict
		}
		return nil, fmt.Errorf("insert room: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}

	for _, uid := range []int64{userA, userB} {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO room_participants (user_id, room_id, joined_at)
			VALUES (?, ?, CURRENT_TIMESTAMP)
		`, uid, id); err != nil {
			return nil, fmt.Errorf("insert participant: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return &domain.Room{ID: id, Type: domain.RoomTypePrivate, CreatedAt: now}, nil
}

func (r *RoomRepo) FindPrivate(ctx context.Context, userA, userB int64) (*domain.Room, error) {
	return r.scanRoom(ctx, `
		SELECT id, type, name, created_at
		FROM rooms
		WHERE type = ? AND pair_key = ?
	`, domain.RoomTypePrivate, pairKey(userA, userB))
}

func (r *RoomRepo) EnsureGlobal(ctx context.Context, name string) (*domain.Room, error) {
	room, err := r.scanRoom(ctx, `
		SELECT id, type, name, created_at
		FROM rooms
		WHERE type = ?
		ORDER BY id ASC
		LIMIT 1
	`, domain.RoomTypeGlobal)
	if err != nil {
		return nil, err
	}
	if room != nil {
		return room, nil
	}

	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO rooms (type, name, pair_key, created_at)
		VALUES (?, ?, NULL, ?)
	`, domain.RoomTypeGlobal, name, now)
	if err != nil {
		return nil, fmt.Errorf("insert global room: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return &domain.Room{ID: id, Type: domain.RoomTypeGlobal, Name: &name, CreatedAt: now}, nil
}

func (r *RoomRepo) GetByID(ctx context.Context, id int64) (*domain.Room, error) {
	return r.scanRoom(ctx, `
		SELECT id, type, name, created_at
		FROM rooms
		WHERE id = ?
	`, id)
}

func (r *RoomRepo) ListForUser(ctx context.Context, userID int64) ([]*domain.Room, error) {
	query := `
		SELECT r.id, r.type, r.name, r.created_at
		FROM rooms r
		JOIN room_participants rp ON rp.room_id = r.id
		WHERE rp.user_id = ?
		UNION
		SELECT id, type, name, created_at
		FROM rooms
		WHERE type = ?
		ORDER BY created_at DESC
	`
	rows, err := r.db.QueryContext(ctx, query, userID, domain.RoomTypeGlobal)
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	defer rows.Close()

	var res []*domain.Room
	for rows.Next() {
		room := &domain.Room{}
		if err := rows.Scan(&room.ID, &room.Type, &room.Name, &room.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan room: %w", err)
		}
		res = append(res, room)
	}
	return res, rows.Err()
}

func (r *RoomRepo) scanRoom(ctx context.Context, query string, args ...any) (*domain.Room, error) {
	room := &domain.Room{}
	err := r.db.QueryRowContext(ctx, query, args...).Scan(
		&room.ID,
		&room.Type,
		&room.Name,
		&room.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan room: %w", err)
	}
	return room, nil
}
