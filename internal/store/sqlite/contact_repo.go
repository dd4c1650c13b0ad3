package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/hanapbuhay/chat-service/internal/domain"
)

type ContactRepo struct {
	db       *sql.DB
	messages *MessageRepo
}

func NewContactRepo(db *sql.DB) *ContactRepo {
	return &ContactRepo{db: db, messages: NewMessageRepo(db)}
}

var _ domain.ContactRepository = (*ContactRepo)(nil)

// ListWithActivity returns one contact per counterpart the user shares a
// private room with, newest activity first. Contacts whose room has no
// messages yet sort last.
func (r *ContactRepo) ListWithActivity(ctx context.Context, userID int64) ([]*domain.Contact, error) {
	query := `
		SELECT r.id,
		       u.id, u.username, u.email, u.hashed_password, u.display_name, u.profile_pic_url,
		       u.is_active, u.is_online, u.created_at, u.last_seen
		FROM rooms r
		JOIN room_participants me ON me.room_id = r.id AND me.user_id = ?
		JOIN room_participants other ON other.room_id = r.id AND other.user_id != ?
		JOIN users u ON u.id = other.user_id
		WHERE r.type = ?
	`
	rows, err := r.db.QueryContext(ctx, query, userID, userID, domain.RoomTypePrivate)
	if err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}

	var contacts []*domain.Contact
	for rows.Next() {
		c := &domain.Contact{User: &domain.User{}}
		u := c.User
		if err := rows.Scan(
			&c.RoomID,
			&u.ID, &u.Username, &u.Email, &u.HashedPassword, &u.DisplayName, &u.ProfilePicURL,
			&u.IsActive, &u.IsOnline, &u.CreatedAt, &u.LastSeen,
		); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan contact: %w", err)
		}
		contacts = append(contacts, c)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for _, c := range contacts {
		last, err := r.messages.ListBefore(ctx, c.RoomID, 1, nil)
		if err != nil {
			return nil, err
		}
		if len(last) > 0 {
			c.LastMessage = last[0]
		}
		unread, err := r.messages.UnreadCount(ctx, c.RoomID, userID)
		if err != nil {
			return nil, err
		}
		c.UnreadCount = unread
	}

	sort.SliceStable(contacts, func(i, j int) bool {
		a, b := contacts[i].LastMessage, contacts[j].LastMessage
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		case a.CreatedAt.Equal(b.CreatedAt):
			return a.ID > b.ID
		default:
			return a.CreatedAt.After(b.CreatedAt)
		}
	})
	return contacts, nil
}
