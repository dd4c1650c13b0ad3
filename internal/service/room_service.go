package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/hanapbuhay/chat-service/internal/domain"
)

// RoomService resolves and guards access to chat rooms.
type RoomService struct {
	rooms        domain.RoomRepository
	participants domain.ParticipantRepository
	users        domain.UserRepository
}

func NewRoomService(rooms domain.RoomRepository, participants domain.ParticipantRepository, users domain.UserRepository) *RoomService {
	return &RoomService{
		rooms:        rooms,
		participants: participants,
		users:        users,
	}
}

// OpenPrivateRoom finds or creates the single private room shared by the two
// users. Order of the arguments does not matter. Both users must exist and be
// active. The store's pair uniqueness turns a creation race into ErrConflict,
// which is resolved here by retrying as a lookup, so callers always converge
// on the same room.
func (s *RoomService) OpenPrivateRoom(ctx context.Context, userA, userB int64) (*domain.Room, error) {
	if userA == userB {
		return nil, fmt.Errorf("%w: cannot open a private room with yourself", domain.ErrInvalidInput)
	}

	for _, id := range []int64{userA, userB} {
		u, err := s.users.GetByID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("get user: %w", err)
		}
		if u == nil || !u.IsActive {
			return nil, fmt.Errorf("%w: user %d", domain.ErrNotFound, id)
		}
	}

	room, err := s.rooms.FindPrivate(ctx, userA, userB)
	if err != nil {
		return nil, fmt.Errorf("find private room: %w", err)
	}
	if room != nil {
		return room, nil
	}

	room, err = s.rooms.CreatePrivate(ctx, userA, userB)
	if errors.Is(err, domain.ErrConflict) {
		// A concurrent call won the insert; its room is ours too.
		room, err = s.rooms.FindPrivate(ctx, userA, userB)
		if err != nil {
			return nil, fmt.Errorf("find private room after conflict: %w", err)
		}
		if room == nil {
			return nil, domain.ErrNotFound
		}
		return room, nil
	}
	if err != nil {
		return nil, fmt.Errorf("create private room: %w", err)
	}
	return room, nil
}

// GetRoom returns the room if the caller may access it.
func (s *RoomService) GetRoom(ctx context.Context, roomID, userID int64) (*domain.Room, error) {
	room, err := s.rooms.GetByID(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("get room: %w", err)
	}
	if room == nil {
		return nil, domain.ErrNotFound
	}
	if room.Type == domain.RoomTypeGlobal {
		return room, nil
	}
	isParticipant, err := s.participants.IsParticipant(ctx, roomID, userID)
	if err != nil {
		return nil, fmt.Errorf("check participant: %w", err)
	}
	if !isParticipant {
		return nil, domain.ErrForbidden
	}
	return room, nil
}

// EnsureGlobal makes sure the shared global room exists and returns it.
func (s *RoomService) EnsureGlobal(ctx context.Context, name string) (*domain.Room, error) {
	return s.rooms.EnsureGlobal(ctx, name)
}

// ListForUser returns every room the user can see, the global room included.
func (s *RoomService) ListForUser(ctx context.Context, userID int64) ([]*domain.Room, error) {
	return s.rooms.ListForUser(ctx, userID)
}
