package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hanapbuhay/chat-service/internal/domain"
)

const (
	// DefaultPageSize is the history page size when the caller asks for none.
	DefaultPageSize = 50
	// MaxPageSize caps a single history page.
	MaxPageSize = 200
	// MaxContentLength bounds a message body in runes.
	MaxContentLength = 5000
)

// MessageService persists and retrieves ordered messages and their read sets.
type MessageService struct {
	rooms        domain.RoomRepository
	participants domain.ParticipantRepository
	messages     domain.MessageRepository
	users        domain.UserRepository
}

func NewMessageService(
	rooms domain.RoomRepository,
	participants domain.ParticipantRepository,
	messages domain.MessageRepository,
	users domain.UserRepository,
) *MessageService {
	return &MessageService{
		rooms:        rooms,
		participants: participants,
		messages:     messages,
		users:        users,
	}
}

type SendInput struct {
	RoomID      int64
	Content     string
	ClientToken string
}

// Send validates and persists a message. The store assigns id and created_at.
// A retried send carrying an already-persisted client token returns the
// original record instead of inserting a duplicate.
func (s *MessageService) Send(ctx context.Context, in SendInput, senderID int64) (*domain.Message, error) {
	content := strings.TrimSpace(in.Content)
	if content == "" {
		return nil, fmt.Errorf("%w: message content cannot be empty", domain.ErrInvalidInput)
	}
	if len([]rune(content)) > MaxContentLength {
		return nil, fmt.Errorf("%w: message content exceeds %d characters", domain.ErrInvalidInput, MaxContentLength)
	}

	if err := s.requireAccess(ctx, in.RoomID, senderID); err != nil {
		return nil, err
	}

	m := &domain.Message{
		RoomID:   in.RoomID,
		SenderID: senderID,
		Content:  content,
	}
	if in.ClientToken != "" {
		token := in.ClientToken
		m.ClientToken = &token
	}

	err := s.messages.Create(ctx, m)
	if errors.Is(err, domain.ErrConflict) && in.ClientToken != "" {
		return s.messages.GetByClientToken(ctx, in.ClientToken)
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// History returns a page of the room's messages in ascending (created_at, id)
// order, strictly before the cursor when one is given. Each call is
// independent; the caller accumulates pages.
func (s *MessageService) History(ctx context.Context, roomID, userID int64, limit int, before *domain.MessageCursor) ([]*domain.Message, error) {
	if err := s.requireAccess(ctx, roomID, userID); err != nil {
		return nil, err
	}

	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}

	msgs, err := s.messages.ListBefore(ctx, roomID, limit, before)
	if err != nil {
		return nil, err
	}

	// Reverse to chronological order (store returns DESC)
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// MarkRead adds the caller to the read set of each message. Already-read
// messages are skipped, so the call is idempotent. A message id outside the
// room is ErrNotFound and nothing is written.
func (s *MessageService) MarkRead(ctx context.Context, roomID, userID int64, messageIDs []int64) error {
	if err := s.requireAccess(ctx, roomID, userID); err != nil {
		return err
	}

	ids := dedupeIDs(messageIDs)
	if len(ids) == 0 {
		return nil
	}

	count, err := s.messages.CountInRoom(ctx, roomID, ids)
	if err != nil {
		return err
	}
	if count != len(ids) {
		return fmt.Errorf("%w: message does not belong to room %d", domain.ErrNotFound, roomID)
	}

	return s.messages.MarkRead(ctx, userID, ids)
}

// UnreadCount counts messages in the room from other senders that the user
// has not acknowledged.
func (s *MessageService) UnreadCount(ctx context.Context, roomID, userID int64) (int, error) {
	if err := s.requireAccess(ctx, roomID, userID); err != nil {
		return 0, err
	}
	return s.messages.UnreadCount(ctx, roomID, userID)
}

// GetParticipantIDs returns user IDs of all room participants (for broadcasts).
func (s *MessageService) GetParticipantIDs(ctx context.Context, roomID int64) ([]int64, error) {
	return s.participants.ParticipantIDs(ctx, roomID)
}

// Audience resolves who should receive a room's live events: the participant
// ids for a private room, or everyone for the global room.
func (s *MessageService) Audience(ctx context.Context, roomID int64) (ids []int64, global bool, err error) {
	room, err := s.rooms.GetByID(ctx, roomID)
	if err != nil {
		return nil, false, fmt.Errorf("get room: %w", err)
	}
	if room == nil {
		return nil, false, domain.ErrNotFound
	}
	if room.Type == domain.RoomTypeGlobal {
		return nil, true, nil
	}
	ids, err = s.participants.ParticipantIDs(ctx, roomID)
	return ids, false, err
}

func (s *MessageService) requireAccess(ctx context.Context, roomID, userID int64) error {
	room, err := s.rooms.GetByID(ctx, roomID)
	if err != nil {
		return fmt.Errorf("get room: %w", err)
	}
	if room == nil {
		return domain.ErrNotFound
	}
	if room.Type == domain.RoomTypeGlobal {
		return nil
	}
	isParticipant, err := s.participants.IsParticipant(ctx, roomID, userID)
	if err != nil {
		return fmt.Errorf("check participant: %w", err)
	}
	if !isParticipant {
		return fmt.Errorf("%w: not a participant of room %d", domain.ErrForbidden, roomID)
	}
	return nil
}

func dedupeIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	res := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		res = append(res, id)
	}
	return res
}

// MessageResponse mirrors the API payload: the message plus sender display
// fields and its read set, both resolved at read time.
type MessageResponse struct {
	ID                  int64     `json:"id"`
	RoomID              int64     `json:"room_id"`
	SenderID            int64     `json:"sender_id"`
	SenderName          string    `json:"sender_name"`
	SenderProfilePicURL *string   `json:"sender_profile_pic_url,omitempty"`
	Content             string    `json:"content"`
	ClientToken         *string   `json:"client_token,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
	ReadBy              []int64   `json:"read_by"`
}

// ToResponse converts a domain message into a response DTO.
func (s *MessageService) ToResponse(ctx context.Context, m *domain.Message) (*MessageResponse, error) {
	resps, err := s.ToResponses(ctx, []*domain.Message{m})
	if err != nil {
		return nil, err
	}
	return resps[0], nil
}

// ToResponses converts a slice of domain messages into response DTOs,
// resolving sender display fields and read sets.
func (s *MessageService) ToResponses(ctx context.Context, msgs []*domain.Message) ([]*MessageResponse, error) {
	ids := make([]int64, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}
	reads, err := s.messages.ListReads(ctx, ids)
	if err != nil {
		return nil, err
	}

	senders := make(map[int64]*domain.User)
	res := make([]*MessageResponse, 0, len(msgs))
	for _, m := range msgs {
		sender, ok := senders[m.SenderID]
		if !ok {
			sender, err = s.users.GetByID(ctx, m.SenderID)
			if err != nil {
				return nil, fmt.Errorf("get sender: %w", err)
			}
			senders[m.SenderID] = sender
		}

		dto := &MessageResponse{
			ID:          m.ID,
			RoomID:      m.RoomID,
			SenderID:    m.SenderID,
			Content:     m.Content,
			ClientToken: m.ClientToken,
			CreatedAt:   m.CreatedAt,
			ReadBy:      reads[m.ID],
		}
		if dto.ReadBy == nil {
			dto.ReadBy = []int64{}
		}
		if sender != nil {
			dto.SenderName = sender.DisplayName
			if dto.SenderName == "" {
				dto.SenderName = sender.Username
			}
			dto.SenderProfilePicURL = sender.ProfilePicURL
		}
		res = append(res, dto)
	}
	return res, nil
}
