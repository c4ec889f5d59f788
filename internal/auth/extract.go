package auth

import (
	"net/http"

	"github.com/Tyrowin/nexus-chat-server/internal/model"
)

// CookieName is the cookie carrying the identity token.
const CookieName = "token"

// Verifier verifies a credential and returns the identity it carries.
type Verifier interface {
	Verify(credential string) (model.Identity, error)
}

// Credential returns the raw token carried by the request cookie, or "".
func Credential(r *http.Request) string {
	c, err := r.Cookie(CookieName)
	if err != nil {
		return ""
	}
	return c.Value
}

// IdentityFromRequest derives the identity of a handshake. A missing or
// invalid credential yields ok == false rather than an error: the caller
// admits the connection anonymously.
func IdentityFromRequest(v Verifier, r *http.Request) (model.Identity, bool) {
	credential := Credential(r)
	if credential == "" {
		return model.Identity{}, false
	}
	id, err := v.Verify(credential)
	if err != nil {
		return model.Identity{}, false
	}
	return id, true
}
