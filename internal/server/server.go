package server

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Tyrowin/nexus-chat-server/internal/model"
)

// Tokens signs and verifies identity tokens.
type Tokens interface {
	Sign(id model.Identity) (string, error)
	Verify(credential string) (model.Identity, error)
}

// Accounts registers and authenticates users.
type Accounts interface {
	Register(ctx context.Context, username, password string) (model.Identity, string, error)
	Login(ctx context.Context, username, password string) (model.Identity, string, error)
}

// Messages persists messages and serves the directory and history.
type Messages interface {
	MessageCreator
	History(ctx context.Context, ours, theirs string) ([]model.Message, error)
	People(ctx context.Context) ([]model.Identity, error)
}

// Deps are the collaborators of the chat server.
type Deps struct {
	Logger      *zap.Logger
	Tokens      Tokens
	Accounts    Accounts
	Messages    Messages
	Attachments AttachmentStore
}

// Server ties the hub, the message router and the HTTP surface together.
type Server struct {
	cfg      Config
	deps     Deps
	log      *zap.Logger
	hub      *Hub
	origins  *originPolicy
	upgrader websocket.Upgrader
}

// New builds a Server. cfg is sanitized; corrections are logged.
func New(cfg Config, deps Deps) *Server {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	cfg, notes := cfg.Sanitize()
	for _, note := range notes {
		log.Warn("configuration corrected", zap.String("note", note))
	}

	hub := NewHub(cfg, log.Named("hub"))
	router := NewRouter(hub, deps.Messages, deps.Attachments, log.Named("router"))
	hub.onFrame = router.Handle

	s := &Server{
		cfg:     cfg,
		deps:    deps,
		log:     log,
		hub:     hub,
		origins: newOriginPolicy(cfg.AllowedOrigins, log),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.origins.checkOrigin,
	}
	return s
}

// Hub returns the connection hub for startup and shutdown coordination.
func (s *Server) Hub() *Hub { return s.hub }

// Handler returns the HTTP handler serving every route.
func (s *Server) Handler() http.Handler { return s.routes() }
