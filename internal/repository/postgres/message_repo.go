package postgres

import (
	"context"
	"fmt"

	"github.com/Tyrowin/nexus-chat-server/internal/errs"
	"github.com/Tyrowin/nexus-chat-server/internal/model"
)

// MessageRepo implements repository.MessageRepository using PostgreSQL.
type MessageRepo struct{ db *DB }

// NewMessageRepo constructs a message repository.
func NewMessageRepo(db *DB) *MessageRepo { return &MessageRepo{db: db} }

// Create inserts a message; created_at is assigned by the database.
func (r *MessageRepo) Create(ctx context.Context, id string, m model.NewMessage) (*model.Message, error) {
	const q = `
INSERT INTO messages (id, sender, recipient, text, file)
VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''))
RETURNING created_at`
	out := model.Message{ID: id, Sender: m.Sender, Recipient: m.Recipient, Text: m.Text, File: m.File}
	if err := r.db.Pool.QueryRow(ctx, q, id, m.Sender, m.Recipient, m.Text, m.File).Scan(&out.CreatedAt); err != nil {
		return nil, fmt.Errorf("insert message: %v: %w", err, errs.ErrStore)
	}
	return &out, nil
}

// Between returns the conversation between a and b in both directions.
func (r *MessageRepo) Between(ctx context.Context, a, b string) ([]model.Message, error) {
	const q = `
SELECT id, sender, recipient, COALESCE(text, ''), COALESCE(file, ''), created_at
FROM messages
WHERE sender = ANY($1) AND recipient = ANY($1)
ORDER BY created_at, id`
	rows, err := r.db.Pool.Query(ctx, q, []string{a, b})
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.Message, 0)
	for rows.Next() {
		var m model.Message
		if err := rows.Scan(&m.ID, &m.Sender, &m.Recipient, &m.Text, &m.File, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
