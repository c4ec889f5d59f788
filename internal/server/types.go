// Package server defines the JSON frames exchanged over the websocket and
// utility helpers reused across client, hub and router logic.
package server

import (
	"strings"

	"github.com/Tyrowin/nexus-chat-server/internal/attachment"
	"github.com/Tyrowin/nexus-chat-server/internal/model"
)

// InboundFrame is the only frame clients send.
type InboundFrame struct {
	Message *InboundMessage `json:"message"`
}

// InboundMessage is a direct message addressed to Recipient.
type InboundMessage struct {
	Recipient string              `json:"recipient"`
	Text      string              `json:"text,omitempty"`
	File      *attachment.Payload `json:"file,omitempty"`
}

// PresenceFrame lists the identities currently online.
type PresenceFrame struct {
	Online []model.Identity `json:"online"`
}

// DeliveryFrame is sent to every connection of the recipient.
type DeliveryFrame struct {
	Text      string  `json:"text,omitempty"`
	Recipient string  `json:"recipient"`
	File      *string `json:"file"`
	Sender    string  `json:"sender"`
	ID        string  `json:"id"`
}

// Negative acknowledgment codes sent back to the sending connection.
const (
	nackAttachmentFailed = "attachment_failed"
	nackStoreFailed      = "store_failed"
)

// ErrorFrame tells the sender that its message was not accepted.
type ErrorFrame struct {
	Error FrameError `json:"error"`
}

// FrameError describes a rejected message.
type FrameError struct {
	Code      string `json:"code"`
	Recipient string `json:"recipient,omitempty"`
}

func newDeliveryFrame(m *model.Message) DeliveryFrame {
	f := DeliveryFrame{
		Text:      m.Text,
		Recipient: m.Recipient,
		Sender:    m.Sender,
		ID:        m.ID,
	}
	if m.File != "" {
		name := m.File
		f.File = &name
	}
	return f
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
