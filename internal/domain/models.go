package domain

import "time"

// RoomType distinguishes one-to-one rooms from the shared global room.
type RoomType string

const (
	RoomTypePrivate RoomType = "private"
	RoomTypeGlobal  RoomType = "global"
)

// User represents an application user.
type User struct {
	ID             int64     `db:"id" json:"id"`
	Username       string    `db:"username" json:"username"`
	Email          *string   `db:"email" json:"email,omitempty"`
	HashedPassword string    `db:"hashed_password" json:"-"`
	DisplayName    string    `db:"display_name" json:"display_name"`
	ProfilePicURL  *string   `db:"profile_pic_url" json:"profile_pic_url,omitempty"`
	IsActive       bool      `db:"is_active" json:"is_active"`
	IsOnline       bool      `db:"is_online" json:"is_online"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	LastSeen       time.Time `db:"last_seen" json:"last_seen"`
}

// Room is a conversation container scoping messages to a set of participants.
// Private rooms have exactly two participants; the global room has none
// recorded and is open to every authenticated user.
type Room struct {
	ID        int64     `db:"id" json:"id"`
	Type      RoomType  `db:"type" json:"type"`
	Name      *string   `db:"name" json:"name,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// RoomParticipant records the membership of a user in a room.
type RoomParticipant struct {
	UserID     int64      `db:"user_id"`
	RoomID     int64      `db:"room_id"`
	LastReadAt *time.Time `db:"last_read_at"`
	JoinedAt   *time.Time `db:"joined_at"`
}

// Message is a single chat message. Immutable after insert except for the
// growth of its read set.
type Message struct {
	ID          int64     `db:"id" json:"id"`
	RoomID      int64     `db:"room_id" json:"room_id"`
	SenderID    int64     `db:"sender_id" json:"sender_id"`
	Content     string    `db:"content" json:"content"`
	ClientToken *string   `db:"client_token" json:"client_token,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// MessageCursor addresses a position in a room's message history.
// Ordering within a room is (created_at, id); the id breaks timestamp ties.
type MessageCursor struct {
	CreatedAt time.Time
	ID        int64
}

// Contact aggregates, per counterpart user, the shared private room, the most
// recent message and the caller's unread count. It is a read-time view and is
// never persisted.
type Contact struct {
	User        *User    `json:"user"`
	RoomID      int64    `json:"room_id"`
	LastMessage *Message `json:"last_message,omitempty"`
	UnreadCount int      `json:"unread_count"`
}
