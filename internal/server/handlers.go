// Package server exposes HTTP handlers, including the WebSocket upgrade,
// account endpoints, history and attachment serving.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/Tyrowin/nexus-chat-server/internal/auth"
	"github.com/Tyrowin/nexus-chat-server/internal/errs"
	"github.com/Tyrowin/nexus-chat-server/internal/model"
)

// WebSocketHandler upgrades the request, derives the connection identity
// from its token cookie and admits the connection. A missing or invalid
// token admits the connection anonymously.
func (s *Server) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	principal := model.Anonymous()
	if id, ok := auth.IdentityFromRequest(s.deps.Tokens, r); ok {
		principal = model.Authenticated(id)
	}

	client := NewClient(conn, s.hub, r.RemoteAddr, principal)
	if !s.hub.Admit(client) {
		_ = conn.Close()
	}
}

// HealthHandler reports that the server is running.
func (s *Server) HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "chat server is running")
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type identityResponse struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// RegisterHandler creates an account and signs the caller in.
func (s *Server) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	var in credentials
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	id, token, err := s.deps.Accounts.Register(r.Context(), in.Username, in.Password)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.setTokenCookie(w, token)
	writeJSON(w, http.StatusCreated, identityResponse{ID: id.UserID, Username: id.Username})
}

// LoginHandler verifies credentials and sets the token cookie.
func (s *Server) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var in credentials
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	id, token, err := s.deps.Accounts.Login(r.Context(), in.Username, in.Password)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.setTokenCookie(w, token)
	writeJSON(w, http.StatusOK, identityResponse{ID: id.UserID, Username: id.Username})
}

// LogoutHandler clears the token cookie.
func (s *Server) LogoutHandler(w http.ResponseWriter, _ *http.Request) {
	http.SetCookie(w, s.cookie("", -1))
	writeJSON(w, http.StatusOK, "logout successfully")
}

// ProfileHandler returns the identity of the caller.
func (s *Server) ProfileHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := s.requireIdentity(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, id)
}

// PeopleHandler lists every known user.
func (s *Server) PeopleHandler(w http.ResponseWriter, r *http.Request) {
	people, err := s.deps.Messages.People(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, people)
}

// MessagesHandler returns the conversation between the caller and {userID}.
func (s *Server) MessagesHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := s.requireIdentity(w, r)
	if !ok {
		return
	}
	history, err := s.deps.Messages.History(r.Context(), id.UserID, chi.URLParam(r, "userID"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

// UploadHandler serves a stored attachment by name.
func (s *Server) UploadHandler(w http.ResponseWriter, r *http.Request) {
	name, err := url.PathUnescape(chi.URLParam(r, "name"))
	if err != nil || name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		http.NotFound(w, r)
		return
	}
	http.ServeFile(w, r, filepath.Join(s.cfg.UploadDir, name))
}

func (s *Server) requireIdentity(w http.ResponseWriter, r *http.Request) (model.Identity, bool) {
	credential := auth.Credential(r)
	if credential == "" {
		writeError(w, http.StatusUnauthorized, "token is not present")
		return model.Identity{}, false
	}
	id, err := s.deps.Tokens.Verify(credential)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid token")
		return model.Identity{}, false
	}
	return id, true
}

func (s *Server) setTokenCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, s.cookie(token, int(s.cfg.TokenTTL/time.Second)))
}

func (s *Server) cookie(value string, maxAge int) *http.Cookie {
	c := &http.Cookie{
		Name:     auth.CookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   s.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	}
	if s.cfg.CookieSecure {
		c.SameSite = http.SameSiteNoneMode
	}
	return c
}

func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errs.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, errs.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "incorrect username or password")
	case errors.Is(err, errs.ErrAlreadyExists):
		writeError(w, http.StatusConflict, "user already exists")
	case errors.Is(err, errs.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	default:
		s.log.Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"message": msg})
}
