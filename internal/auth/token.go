// Package auth issues and verifies identity tokens, extracts the identity
// of a websocket handshake and hashes account passwords.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Tyrowin/nexus-chat-server/internal/errs"
	"github.com/Tyrowin/nexus-chat-server/internal/model"
)

// claims is the token payload: the identity plus registered claims.
type claims struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// TokenCodec signs and verifies HS256 identity tokens.
type TokenCodec struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

// NewTokenCodec constructs a codec. A zero ttl issues tokens without expiry.
func NewTokenCodec(key []byte, ttl time.Duration) *TokenCodec {
	return &TokenCodec{key: key, ttl: ttl, now: time.Now}
}

// Sign issues a token for id.
func (c *TokenCodec) Sign(id model.Identity) (string, error) {
	now := c.now()
	rc := jwt.RegisteredClaims{
		Subject:  id.UserID,
		IssuedAt: jwt.NewNumericDate(now),
	}
	if c.ttl > 0 {
		rc.ExpiresAt = jwt.NewNumericDate(now.Add(c.ttl))
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		UserID:           id.UserID,
		Username:         id.Username,
		RegisteredClaims: rc,
	})
	return tok.SignedString(c.key)
}

// Verify parses credential and returns the identity it carries.
// Every failure is reported as errs.ErrInvalidToken.
func (c *TokenCodec) Verify(credential string) (model.Identity, error) {
	if credential == "" {
		return model.Identity{}, fmt.Errorf("empty credential: %w", errs.ErrInvalidToken)
	}
	var cl claims
	_, err := jwt.ParseWithClaims(credential, &cl, func(t *jwt.Token) (any, error) {
		return c.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return model.Identity{}, fmt.Errorf("token expired: %w", errs.ErrInvalidToken)
		}
		return model.Identity{}, fmt.Errorf("%v: %w", err, errs.ErrInvalidToken)
	}
	if cl.UserID == "" {
		return model.Identity{}, fmt.Errorf("token without user id: %w", errs.ErrInvalidToken)
	}
	return model.Identity{UserID: cl.UserID, Username: cl.Username}, nil
}
