package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/Tyrowin/nexus-chat-server/internal/errs"
	"github.com/Tyrowin/nexus-chat-server/internal/model"
	"github.com/Tyrowin/nexus-chat-server/internal/repository"
)

// MessageService persists direct messages and serves the user directory
// and conversation history.
type MessageService struct {
	messages repository.MessageRepository
	users    repository.UserRepository
}

// NewMessageService constructs MessageService.
func NewMessageService(messages repository.MessageRepository, users repository.UserRepository) *MessageService {
	return &MessageService{messages: messages, users: users}
}

// ValidUserID reports whether id is a well-formed user reference.
func ValidUserID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// Create validates m, assigns an id and persists it exactly once.
// Store failures wrap errs.ErrStore.
func (s *MessageService) Create(ctx context.Context, m model.NewMessage) (*model.Message, error) {
	if m.Sender == "" {
		return nil, fmt.Errorf("missing sender: %w", errs.ErrValidation)
	}
	if !ValidUserID(m.Recipient) {
		return nil, fmt.Errorf("malformed recipient %q: %w", m.Recipient, errs.ErrValidation)
	}
	if m.Text == "" && m.File == "" {
		return nil, fmt.Errorf("no text or attachment: %w", errs.ErrValidation)
	}
	stored, err := s.messages.Create(ctx, uuid.NewString(), m)
	if err != nil {
		return nil, fmt.Errorf("create message: %w", wrapStore(err))
	}
	return stored, nil
}

// History returns the conversation between ours and theirs, oldest first.
func (s *MessageService) History(ctx context.Context, ours, theirs string) ([]model.Message, error) {
	if !ValidUserID(theirs) {
		return nil, fmt.Errorf("malformed user id %q: %w", theirs, errs.ErrValidation)
	}
	return s.messages.Between(ctx, ours, theirs)
}

// People lists every known identity.
func (s *MessageService) People(ctx context.Context) ([]model.Identity, error) {
	users, err := s.users.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]model.Identity, 0, len(users))
	for _, u := range users {
		out = append(out, u.Identity())
	}
	return out, nil
}

func wrapStore(err error) error {
	if errors.Is(err, errs.ErrStore) {
		return err
	}
	return fmt.Errorf("%v: %w", err, errs.ErrStore)
}
