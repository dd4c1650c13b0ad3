package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

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

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (r *RoomRepo) CreatePrivate(ctx context.Context, userA, userB int64) (*domain.Room, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	room := &domain.Room{Type: domain.RoomTypePrivate}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO rooms (type, name, pair_key, created_at)
		VALUES ($1, NULL, $2, NOW())
		RETURNING id, created_at
	`, domain.RoomTypePrivate, pairKey(userA, userB)).Scan(&room.ID, &room.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, domain.ErrConflict
		}
		return nil, fmt.Errorf("insert room: %w", err)
	}

	for _, uid := range []int64{userA, userB} {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO room_participants (user_id, room_id, joined_at)
			VALUES ($1, $2, NOW())
			ON CONFLICT DO NOTHING
		`, uid, room.ID); err != nil {
			return nil, fmt.Errorf("insert participant %d: %w", uid, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return room, nil
}

func (r *RoomRepo) FindPrivate(ctx context.Context, userA, userB int64) (*domain.Room, error) {
	return r.scanRoom(ctx, `
		SELECT id, type, name, created_at
		FROM rooms
		WHERE type = $1 AND pair_key = $2
	`, domain.RoomTypePrivate, pairKey(userA, userB))
}

func (r *RoomRepo) EnsureGlobal(ctx context.Context, name string) (*domain.Room, error) {
	room, err := r.scanRoom(ctx, `
		SELECT id, type, name, created_at
		FROM rooms
		WHERE type = $1
		ORDER BY id ASC
		LIMIT 1
	`, domain.RoomTypeGlobal)
	if err != nil {
		return nil, err
	}
	if room != nil {
		return room, nil
	}

	room = &domain.Room{Type: domain.RoomTypeGlobal, Name: &name}
	err = r.db.QueryRowContext(ctx, `
		INSERT INTO rooms (type, name, pair_key, created_at)
		VALUES ($1, $2, NULL, NOW())
		RETURNING id, created_at
	`, domain.RoomTypeGlobal, name).Scan(&room.ID, &room.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert global room: %w", err)
	}
	return room, nil
}

func (r *RoomRepo) GetByID(ctx context.Context, id int64) (*domain.Room, error) {
	return r.scanRoom(ctx, `
		SELECT id, type, name, created_at
		FROM rooms
		WHERE id = $1
	`, id)
}

func (r *RoomRepo) ListForUser(ctx context.Context, userID int64) ([]*domain.Room, error) {
	query := `
		SELECT r.id, r.type, r.name, r.created_at
		FROM rooms r
		JOIN room_participants rp ON rp.room_id = r.id
		WHERE rp.user_id = $1
		UNION
		SELECT id, type, name, created_at
		FROM rooms
		WHERE type = $2
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
