package service

import (
	"context"

	"github.com/hanapbuhay/chat-service/internal/domain"
)

// ContactService computes the per-counterpart activity list. Every call goes
// straight to the store so mark-read calls are reflected immediately; there is
// no cache to invalidate.
type ContactService struct {
	contacts domain.ContactRepository
}

func NewContactService(contacts domain.ContactRepository) *ContactService {
	return &ContactService{contacts: contacts}
}

// ListWithActivity returns the caller's contacts sorted by last message time,
// newest first. Contacts with an empty room sort last.
func (s *ContactService) ListWithActivity(ctx context.Context, userID int64) ([]*domain.Contact, error) {
	return s.contacts.ListWithActivity(ctx, userID)
}
