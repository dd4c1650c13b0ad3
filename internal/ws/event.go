package ws

import "time"

// Event type discriminators on the wire, both directions.
const (
	EventMessage      = "message"
	EventMessagesRead = "messages_read"
	EventTyping       = "typing"
	EventUserOnline   = "user_online"
	EventUserOffline  = "user_offline"
	EventError        = "error"
)

// Event is a JSON frame on the live channel. Fields are populated per type;
// unused fields are omitted.
type Event struct {
	Type string `json:"type"`

	RoomID int64 `json:"room_id,omitempty"`

	// message
	MessageID           int64     `json:"message_id,omitempty"`
	SenderID            int64     `json:"sender_id,omitempty"`
	SenderName          string    `json:"sender_name,omitempty"`
	SenderProfilePicURL *string   `json:"sender_profile_pic_url,omitempty"`
	Content             string    `json:"content,omitempty"`
	ClientToken         string    `json:"client_token,omitempty"`
	CreatedAt           time.Time `json:"created_at,omitempty"`

	// messages_read, typing, user_online/user_offline
	UserID     int64   `json:"user_id,omitempty"`
	Username   string  `json:"username,omitempty"`
	MessageIDs []int64 `json:"message_ids,omitempty"`

	// error
	Message string `json:"message,omitempty"`
}
