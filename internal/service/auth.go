// Package service contains application services for accounts and messages.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/Tyrowin/nexus-chat-server/internal/auth"
	"github.com/Tyrowin/nexus-chat-server/internal/errs"
	"github.com/Tyrowin/nexus-chat-server/internal/model"
	"github.com/Tyrowin/nexus-chat-server/internal/repository"
)

const (
	minUsernameLen = 5
	minPasswordLen = 8
)

// TokenSigner issues identity tokens.
type TokenSigner interface {
	Sign(id model.Identity) (string, error)
}

// AuthService registers and authenticates accounts.
type AuthService struct {
	users  repository.UserRepository
	tokens TokenSigner
}

// NewAuthService constructs AuthService with required dependencies.
func NewAuthService(users repository.UserRepository, tokens TokenSigner) *AuthService {
	return &AuthService{users: users, tokens: tokens}
}

// Register creates a new account and returns its identity and a token.
func (s *AuthService) Register(ctx context.Context, username, password string) (model.Identity, string, error) {
	username = strings.ToLower(strings.TrimSpace(username))
	if len(username) < minUsernameLen {
		return model.Identity{}, "", fmt.Errorf("username shorter than %d: %w", minUsernameLen, errs.ErrValidation)
	}
	if len(password) < minPasswordLen {
		return model.Identity{}, "", fmt.Errorf("password shorter than %d: %w", minPasswordLen, errs.ErrValidation)
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return model.Identity{}, "", err
	}
	u := &model.User{
		ID:       uuid.NewString(),
		Username: username,
		PwdHash:  hash,
	}
	if err := s.users.Create(ctx, u); err != nil {
		return model.Identity{}, "", err
	}
	return s.issue(u.Identity())
}

// Login verifies credentials. Unknown users and wrong passwords are both
// reported as errs.ErrUnauthorized.
func (s *AuthService) Login(ctx context.Context, username, password string) (model.Identity, string, error) {
	username = strings.ToLower(strings.TrimSpace(username))
	u, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return model.Identity{}, "", errs.ErrUnauthorized
		}
		return model.Identity{}, "", err
	}
	if !auth.VerifyPassword(password, u.PwdHash) {
		return model.Identity{}, "", errs.ErrUnauthorized
	}
	return s.issue(u.Identity())
}

func (s *AuthService) issue(id model.Identity) (model.Identity, string, error) {
	tok, err := s.tokens.Sign(id)
	if err != nil {
		return model.Identity{}, "", err
	}
	return id, tok, nil
}
