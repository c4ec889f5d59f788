// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"

	"github.com/Tyrowin/nexus-chat-server/internal/model"
)

// UserRepository is the user directory.
type UserRepository interface {
	// Create inserts a new user; errs.ErrAlreadyExists when the username is taken.
	Create(ctx context.Context, u *model.User) error
	// GetByID loads a user by ID.
	GetByID(ctx context.Context, id string) (*model.User, error)
	// GetByUsername loads a user by username.
	GetByUsername(ctx context.Context, username string) (*model.User, error)
	// List returns every known user ordered by username.
	List(ctx context.Context) ([]model.User, error)
}

// MessageRepository persists direct messages.
type MessageRepository interface {
	// Create stores m under the given id and returns the stored record.
	Create(ctx context.Context, id string, m model.NewMessage) (*model.Message, error)
	// Between returns all messages exchanged between a and b, oldest first.
	Between(ctx context.Context, a, b string) ([]model.Message, error)
}
