package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hanapbuhay/chat-service/internal/domain"
)

type MessageRepo struct {
	db *sql.DB
}

func NewMessageRepo(db *sql.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

var _ domain.MessageRepository = (*MessageRepo)(nil)

func (r *MessageRepo) Create(ctx context.Context, m *domain.Message) error {
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO messages (room_id, sender_id, content, client_token, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		RETURNING id, created_at
	`, m.RoomID, m.SenderID, m.Content, m.ClientToken).Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrConflict
		}
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (r *MessageRepo) GetByID(ctx context.Context, id int64) (*domain.Message, error) {
	m := &domain.Message{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, room_id, sender_id, content, client_token, created_at
		FROM messages WHERE id = $1
	`, id).Scan(&m.ID, &m.RoomID, &m.SenderID, &m.Content, &m.ClientToken, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	return m, nil
}

func (r *MessageRepo) GetByClientToken(ctx context.Context, token string) (*domain.Message, error) {
	m := &domain.Message{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, room_id, sender_id, content, client_token, created_at
		FROM messages WHERE client_token = $1
	`, token).Scan(&m.ID, &m.RoomID, &m.SenderID, &m.Content, &m.ClientToken, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get message by token: %w", err)
	}
	return m, nil
}

func (r *MessageRepo) ListBefore(ctx context.Context, roomID int64, limit int, before *domain.MessageCursor) ([]*domain.Message, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if before == nil {
		rows, err = r.db.QueryContext(ctx, `
			SELECT id, room_id, sender_id, content, client_token, created_at
			FROM messages
			WHERE room_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2
		`, roomID, limit)
	} else {
		rows, err = r.db.QueryContext(ctx, `
			SELECT id, room_id, sender_id, content, client_token, created_at
			FROM messages
			WHERE room_id = $1
			  AND (created_at, id) < ($2, $3)
			ORDER BY created_at DESC, id DESC
			LIMIT $4
		`, roomID, before.CreatedAt, before.ID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return scanMessages(rows)
}

func (r *MessageRepo) CountInRoom(ctx context.Context, roomID int64, messageIDs []int64) (int, error) {
	if len(messageIDs) == 0 {
		return 0, nil
	}
	var count int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM messages
		WHERE room_id = $1 AND id = ANY($2::bigint[])
	`, roomID, messageIDs).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count in room: %w", err)
	}
	return count, nil
}

func (r *MessageRepo) MarkRead(ctx context.Context, userID int64, messageIDs []int64) error {
	if len(messageIDs) == 0 {
		return nil
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO message_reads (message_id, user_id, read_at)
		SELECT unnest($1::bigint[]), $2, NOW()
		ON CONFLICT DO NOTHING
	`, messageIDs, userID)
	if err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	return nil
}

func (r *MessageRepo) ListReads(ctx context.Context, messageIDs []int64) (map[int64][]int64, error) {
	res := make(map[int64][]int64, len(messageIDs))
	if len(messageIDs) == 0 {
		return res, nil
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT message_id, user_id
		FROM message_reads
		WHERE message_id = ANY($1::bigint[])
		ORDER BY message_id, user_id
	`, messageIDs)
	if err != nil {
		return nil, fmt.Errorf("list reads: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var msgID, userID int64
		if err := rows.Scan(&msgID, &userID); err != nil {
			return nil, fmt.Errorf("scan read: %w", err)
		}
		res[msgID] = append(res[msgID], userID)
	}
	return res, rows.Err()
}

func (r *MessageRepo) UnreadCount(ctx context.Context, roomID, userID int64) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM messages m
		WHERE m.room_id = $1
		  AND m.sender_id != $2
		  AND NOT EXISTS (
			  SELECT 1 FROM message_reads mr
			  WHERE mr.message_id = m.id AND mr.user_id = $2
		  )
	`, roomID, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("unread count: %w", err)
	}
	return count, nil
}

func scanMessages(rows *sql.Rows) ([]*domain.Message, error) {
	defer rows.Close()
	var res []*domain.Message
	for rows.Next() {
		m := &domain.Message{}
		if err := rows.Scan(&m.ID, &m.RoomID, &m.SenderID, &m.Content, &m.ClientToken, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		res = append(res, m)
	}
	return res, rows.Err()
}
