package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Tyrowin/nexus-chat-server/internal/attachment"
	"github.com/Tyrowin/nexus-chat-server/internal/errs"
	"github.com/Tyrowin/nexus-chat-server/internal/model"
	"github.com/Tyrowin/nexus-chat-server/internal/service"
)

// MessageCreator persists a validated message and assigns its id.
type MessageCreator interface {
	Create(ctx context.Context, m model.NewMessage) (*model.Message, error)
}

// AttachmentStore writes an inline payload and returns its stored name.
type AttachmentStore interface {
	Store(p attachment.Payload) (string, error)
}

const storeTimeout = 10 * time.Second

// Router validates inbound frames, persists them and fans them out to the
// recipient's connections.
type Router struct {
	hub         *Hub
	messages    MessageCreator
	attachments AttachmentStore
	log         *zap.Logger
}

// NewRouter constructs a Router delivering through hub.
func NewRouter(hub *Hub, messages MessageCreator, attachments AttachmentStore, log *zap.Logger) *Router {
	return &Router{hub: hub, messages: messages, attachments: attachments, log: log}
}

// Handle is the hub's inbound frame callback.
func (r *Router) Handle(ctx context.Context, sender *Client, raw []byte) {
	if err := r.Route(ctx, sender, raw); err != nil {
		switch {
		case errors.Is(err, errs.ErrValidation), errors.Is(err, errs.ErrUnauthorized):
			sender.log.Debug("frame dropped", zap.Error(err))
		default:
			sender.log.Error("message not delivered", zap.Error(err))
		}
	}
}

// Route processes one inbound frame from sender. The message is persisted
// before it is delivered; delivery goes to every registered connection of
// the recipient except the sending connection itself.
func (r *Router) Route(ctx context.Context, sender *Client, raw []byte) error {
	var frame InboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return fmt.Errorf("decode frame: %v: %w", err, errs.ErrValidation)
	}
	in := frame.Message
	if in == nil || in.Recipient == "" || (in.Text == "" && in.File.Empty()) {
		return fmt.Errorf("frame without recipient or content: %w", errs.ErrValidation)
	}
	if !service.ValidUserID(in.Recipient) {
		return fmt.Errorf("malformed recipient %q: %w", in.Recipient, errs.ErrValidation)
	}
	from, ok := sender.principal.Identity()
	if !ok {
		return fmt.Errorf("anonymous sender: %w", errs.ErrUnauthorized)
	}

	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	msg := model.NewMessage{Sender: from.UserID, Recipient: in.Recipient, Text: in.Text}
	if !in.File.Empty() {
		name, err := r.attachments.Store(*in.File)
		if err != nil {
			r.nack(sender, nackAttachmentFailed, in.Recipient)
			return fmt.Errorf("store attachment %q: %w", in.File.Name, err)
		}
		msg.File = name
	}

	stored, err := r.messages.Create(ctx, msg)
	if errors.Is(err, errs.ErrValidation) {
		return err
	}
	if err != nil {
		if msg.File != "" {
			sender.log.Warn("attachment stored without message", zap.String("file", msg.File))
		}
		r.nack(sender, nackStoreFailed, in.Recipient)
		return err
	}

	payload, err := json.Marshal(newDeliveryFrame(stored))
	if err != nil {
		return err
	}
	targets := r.hub.Clients(func(c *Client) bool {
		return c != sender && c.principal.Is(stored.Recipient)
	})
	for _, target := range targets {
		if !r.hub.safeSend(target, payload) {
			target.log.Warn("delivery failed; evicting client", zap.String("message_id", stored.ID))
			r.hub.Evict(target)
		}
	}
	sender.log.Debug("message routed",
		zap.String("message_id", stored.ID),
		zap.String("recipient", stored.Recipient),
		zap.Int("connections", len(targets)),
	)
	return nil
}

func (r *Router) nack(sender *Client, code, recipient string) {
	payload, err := json.Marshal(ErrorFrame{Error: FrameError{Code: code, Recipient: recipient}})
	if err != nil {
		return
	}
	r.hub.safeSend(sender, payload)
}
