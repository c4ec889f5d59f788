// Package sqlite contains embedded SQLite implementations of repository
// interfaces, used when no PostgreSQL DSN is configured.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/Tyrowin/nexus-chat-server/internal/errs"
	"github.com/Tyrowin/nexus-chat-server/internal/model"
)

// DB is an SQLite database holding users and messages.
type DB struct {
	conn *sql.DB
}

// New opens (and initializes) the database at path.
func New(path string) (*DB, error) {
	conn, err := sql.Open("sqlite3", path+"?_foreign_keys=1&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	db := &DB{conn: conn}
	if err := db.init(); err != nil {
		conn.Close()
		return nil, err
	}
	return db, nil
}

// Close closes the database.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) init() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			username TEXT UNIQUE NOT NULL,
			pwd_hash BLOB NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			sender TEXT NOT NULL REFERENCES users(id),
			recipient TEXT NOT NULL REFERENCES users(id),
			text TEXT,
			file TEXT,
			created_at TEXT NOT NULL,
			CHECK (text IS NOT NULL OR file IS NOT NULL)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_pair ON messages(sender, recipient, created_at)`,
	}

	for _, query := range queries {
		if _, err := db.conn.Exec(query); err != nil {
			return err
		}
	}
	return nil
}

func isUnique(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintUnique
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// timeLayout is fixed-width so that text order is time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

// UserRepo implements repository.UserRepository on SQLite.
type UserRepo struct{ db *DB }

// NewUserRepo constructs a user repository.
func NewUserRepo(db *DB) *UserRepo { return &UserRepo{db: db} }

// Create inserts a new user.
func (r *UserRepo) Create(ctx context.Context, u *model.User) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	_, err := r.db.conn.ExecContext(ctx,
		"INSERT INTO users (id, username, pwd_hash, created_at) VALUES (?, ?, ?, ?)",
		u.ID, u.Username, u.PwdHash, formatTime(u.CreatedAt))
	if isUnique(err) {
		return errs.ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("insert user: %v: %w", err, errs.ErrStore)
	}
	return nil
}

// GetByID loads a user by ID.
func (r *UserRepo) GetByID(ctx context.Context, id string) (*model.User, error) {
	return r.getOne(ctx, "SELECT id, username, pwd_hash, created_at FROM users WHERE id = ?", id)
}

// GetByUsername loads a user by username.
func (r *UserRepo) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	return r.getOne(ctx, "SELECT id, username, pwd_hash, created_at FROM users WHERE username = ?", username)
}

func (r *UserRepo) getOne(ctx context.Context, query string, arg string) (*model.User, error) {
	var u model.User
	var created string
	err := r.db.conn.QueryRowContext(ctx, query, arg).Scan(&u.ID, &u.Username, &u.PwdHash, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	u.CreatedAt = parseTime(created)
	return &u, nil
}

// List returns all users ordered by username.
func (r *UserRepo) List(ctx context.Context) ([]model.User, error) {
	rows, err := r.db.conn.QueryContext(ctx, "SELECT id, username FROM users ORDER BY username")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.User
	for rows.Next() {
		var u model.User
		if err := rows.Scan(&u.ID, &u.Username); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// MessageRepo implements repository.MessageRepository on SQLite.
type MessageRepo struct {
	db  *DB
	now func() time.Time
}

// NewMessageRepo constructs a message repository.
func NewMessageRepo(db *DB) *MessageRepo { return &MessageRepo{db: db, now: time.Now} }

// Create inserts a message stamped with the current time.
func (r *MessageRepo) Create(ctx context.Context, id string, m model.NewMessage) (*model.Message, error) {
	out := model.Message{
		ID:        id,
		Sender:    m.Sender,
		Recipient: m.Recipient,
		Text:      m.Text,
		File:      m.File,
		CreatedAt: r.now().UTC(),
	}
	_, err := r.db.conn.ExecContext(ctx,
		"INSERT INTO messages (id, sender, recipient, text, file, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		id, m.Sender, m.Recipient, nullable(m.Text), nullable(m.File), formatTime(out.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("insert message: %v: %w", err, errs.ErrStore)
	}
	return &out, nil
}

// Between returns the conversation between a and b, oldest first.
func (r *MessageRepo) Between(ctx context.Context, a, b string) ([]model.Message, error) {
	rows, err := r.db.conn.QueryContext(ctx, `
		SELECT id, sender, recipient, COALESCE(text, ''), COALESCE(file, ''), created_at
		FROM messages
		WHERE (sender = ? AND recipient = ?) OR (sender = ? AND recipient = ?)
		ORDER BY created_at, id`, a, b, b, a)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.Message, 0)
	for rows.Next() {
		var m model.Message
		var created string
		if err := rows.Scan(&m.ID, &m.Sender, &m.Recipient, &m.Text, &m.File, &created); err != nil {
			return nil, err
		}
		m.CreatedAt = parseTime(created)
		out = append(out, m)
	}
	return out, rows.Err()
}
