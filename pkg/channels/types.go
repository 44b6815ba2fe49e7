package channels

import (
	"context"

	"github.com/ogulcanaydogan/heatwatch/pkg/model"
)

// Message is one outbound contact request.
type Message struct {
	Channel   model.Channel `json:"channel"`
	TenantID  string        `json:"tenant_id,omitempty"`
	AlertID   string        `json:"alert_id,omitempty"`
	Recipient string        `json:"recipient"`
	// Attempt is the voice call attempt number.
	Attempt int `json:"attempt,omitempty"`
	// Reason explains why an SMS is sent.
	Reason string `json:"reason,omitempty"`
	// Template names the chat push layout.
	Template string            `json:"template,omitempty"`
	Text     string            `json:"text,omitempty"`
	Params   map[string]string `json:"params,omitempty"`
	// IdempotencyKey is reused across retries of the same logical send.
	IdempotencyKey string `json:"-"`
}

// Receipt is the provider's acknowledgement of a send.
type Receipt struct {
	ProviderID string `json:"provider_id"`
	Status     string `json:"status,omitempty"`
}

// Sender delivers messages over one channel.
type Sender interface {
	// Name returns the sender identifier.
	Name() string

	// Send delivers a message. Implementations must be safe for concurrent use.
	Send(ctx context.Context, msg Message) (Receipt, error)
}

// Content flattens the message into the string map stored on a Notification.
func (m Message) Content() map[string]string {
	content := make(map[string]string, len(m.Params)+3)
	for k, v := range m.Params {
		content[k] = v
	}
	if m.Reason != "" {
		content["reason"] = m.Reason
	}
	if m.Template != "" {
		content["template"] = m.Template
	}
	if m.Text != "" {
		content["text"] = m.Text
	}
	return content
}
