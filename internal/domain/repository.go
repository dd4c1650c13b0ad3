package domain

import (
	"context"
)

// UserRepository defines persistence operations for users.
type UserRepository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id int64) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	ListActive(ctx context.Context, offset, limit int) ([]*User, error)
	UpdateProfile(ctx context.Context, id int64, displayName string, profilePicURL *string) error
	SetOnlineStatus(ctx context.Context, id int64, isOnline bool) error
}

// RoomRepository defines persistence operations for rooms.
//
// Private-room uniqueness is enforced by the store: at most one private room
// exists per unordered user pair. CreatePrivate returns ErrConflict when a
// concurrent call already created the pair's room; callers retry as a lookup.
type RoomRepository interface {
	CreatePrivate(ctx context.Context, userA, userB int64) (*Room, error)
	FindPrivate(ctx context.Context, userA, userB int64) (*Room, error)
	EnsureGlobal(ctx context.Context, name string) (*Room, error)
	GetByID(ctx context.Context, id int64) (*Room, error)
	ListForUser(ctx context.Context, userID int64) ([]*Room, error)
}

// ParticipantRepository defines operations around room participants.
type ParticipantRepository interface {
	ListParticipants(ctx context.Context, roomID int64) ([]*User, error)
	ParticipantIDs(ctx context.Context, roomID int64) ([]int64, error)
	IsParticipant(ctx context.Context, roomID, userID int64) (bool, error)
}

// MessageRepository defines persistence operations for messages and their
// per-user read sets.
type MessageRepository interface {
	// Create persists m, assigning ID and CreatedAt from the store.
	Create(ctx context.Context, m *Message) error
	GetByID(ctx context.Context, id int64) (*Message, error)
	// GetByClientToken finds the message a retried send already persisted.
	GetByClientToken(ctx context.Context, token string) (*Message, error)
	// ListBefore returns up to limit messages of the room strictly before the
	// cursor (or the newest page when the cursor is nil), newest first.
	ListBefore(ctx context.Context, roomID int64, limit int, before *MessageCursor) ([]*Message, error)
	// CountInRoom reports how many of the given message ids belong to roomID.
	CountInRoom(ctx context.Context, roomID int64, messageIDs []int64) (int, error)
	// MarkRead adds userID to the read set of each message. Rows that already
	// exist are left untouched, so the call is idempotent.
	MarkRead(ctx context.Context, userID int64, messageIDs []int64) error
	// ListReads returns the read set of each given message.
	ListReads(ctx context.Context, messageIDs []int64) (map[int64][]int64, error)
	// UnreadCount counts messages in the room sent by others that userID has
	// not marked read.
	UnreadCount(ctx context.Context, roomID, userID int64) (int, error)
}

// ContactRepository computes the per-counterpart activity view.
type ContactRepository interface {
	ListWithActivity(ctx context.Context, userID int64) ([]*Contact, error)
}

// Repositories bundles the store implementations handed to the services.
type Repositories struct {
	Users        UserRepository
	Rooms        RoomRepository
	Participants ParticipantRepository
	Messages     MessageRepository
	Contacts     ContactRepository
}
