// Package model defines domain entities used by services, repositories and
// the connection hub.
package model

import "time"

// Identity is a verified (user id, username) pair attached to a connection.
type Identity struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// User is an account known to the user directory.
type User struct {
	ID        string
	Username  string // unique, lowercase
	PwdHash   []byte // bcrypt
	CreatedAt time.Time
}

// Identity returns the public identity of the user.
func (u User) Identity() Identity {
	return Identity{UserID: u.ID, Username: u.Username}
}

// Message is a persisted direct message. At least one of Text and File is set.
type Message struct {
	ID        string    `json:"id"`
	Sender    string    `json:"sender"`
	Recipient string    `json:"recipient"`
	Text      string    `json:"text,omitempty"`
	File      string    `json:"file,omitempty"` // stored attachment name
	CreatedAt time.Time `json:"createdAt"`
}

// NewMessage is a create intent for the message store.
type NewMessage struct {
	Sender    string
	Recipient string
	Text      string
	File      string
}

// Principal is the identity behind a connection: either an authenticated
// Identity or anonymous. The zero value is anonymous.
type Principal struct {
	id    Identity
	known bool
}

// Authenticated returns a principal carrying id.
func Authenticated(id Identity) Principal {
	return Principal{id: id, known: true}
}

// Anonymous returns a principal without identity.
func Anonymous() Principal { return Principal{} }

// Identity returns the identity and whether the principal is authenticated.
func (p Principal) Identity() (Identity, bool) {
	return p.id, p.known
}

// Is reports whether the principal is authenticated as userID.
// Anonymous principals never match.
func (p Principal) Is(userID string) bool {
	return p.known && userID != "" && p.id.UserID == userID
}
