package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

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
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO messages (room_id, sender_id, content, client_token, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, m.RoomID, m.SenderID, m.Content, m.ClientToken, now)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return domain.ErrConflict
		}
		return fmt.Errorf("insert message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	m.ID = id
	m.CreatedAt = now
	return nil
}

func (r *MessageRepo) GetByID(ctx context.Context, id int64) (*domain.Message, error) {
	m := &domain.Message{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, room_id, sender_id, content, client_token, created_at
		FROM messages WHERE id = ?
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
		FROM messages WHERE client_token = ?
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
			WHERE room_id = ?
			ORDER BY created_at DESC, id DESC
			LIMIT ?
		`, roomID, limit)
	} else {
		rows, err = r.db.QueryContext(ctx, `
			SELECT id, room_id, sender_id, content, client_token, created_at
			FROM messages
			WHERE room_id = ?
			  AND (created_at < ? OR (created_at = ? AND id < ?))
			ORDER BY created_at DESC, id DESC
			LIMIT ?
		`, roomID, before.CreatedAt, before.CreatedAt, before.ID, limit)
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
	query := `
		SELECT COUNT(*) FROM messages
		WHERE room_id = ? AND id IN (` + placeholders(len(messageIDs)) + `)`
	args := make([]any, 0, len(messageIDs)+1)
	args = append(args, roomID)
	for _, id := range messageIDs {
		args = append(args, id)
	}
	var count int
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count in room: %w", err)
	}
	return count, nil
}

func (r *MessageRepo) MarkRead(ctx context.Context, userID int64, messageIDs []int64) error {
	if len(messageIDs) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, id := range messageIDs {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO message_reads (message_id, user_id, read_at)
			VALUES (?, ?, CURRENT_TIMESTAMP)
		`, id, userID); err != nil {
			return fmt.Errorf("mark read %d: %w", id, err)
		}
	}
	return tx.Commit()
}

func (r *MessageRepo) ListReads(ctx context.Context, messageIDs []int64) (map[int64][]int64, error) {
	res := make(map[int64][]int64, len(messageIDs))
	if len(messageIDs) == 0 {
		return res, nil
	}
	query := `
		SELECT message_id, user_id
		FROM message_reads
		WHERE message_id IN (` + placeholders(len(messageIDs)) + `)
		ORDER BY message_id, user_id`
	args := make([]any, len(messageIDs))
	for i, id := range messageIDs {
		args[i] = id
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
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
		WHERE m.room_id = ?
		  AND m.sender_id != ?
		  AND NOT EXISTS (
			  SELECT 1 FROM message_reads mr
			  WHERE mr.message_id = m.id AND mr.user_id = ?
		  )
	`, roomID, userID, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("unread count: %w", err)
	}
	return count, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
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
