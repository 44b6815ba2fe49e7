package ops

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/ogulcanaydogan/heatwatch/pkg/channels"
)

// WebhookNotifier sends staff events to a generic HTTP webhook.
type WebhookNotifier struct {
	url    string
	secret string
	client *resty.Client
}

// NewWebhookNotifier creates a generic webhook notifier.
// If secret is non-empty, requests are signed with HMAC-SHA256.
func NewWebhookNotifier(url, secret string) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		secret: secret,
		client: newClient(),
	}
}

func (w *WebhookNotifier) Name() string { return "webhook" }

func (w *WebhookNotifier) Notify(ctx context.Context, event Event) error {
	payload := webhookPayload{
		Event:     string(event.Type),
		Timestamp: occurred(event).UTC().Format(time.RFC3339),
		Data:      event,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	var headers map[string]string
	if w.secret != "" {
		headers = map[string]string{"X-Signature-256": "sha256=" + channels.ComputeHMAC(body, []byte(w.secret))}
	}
	return deliver(ctx, w.client, "webhook", w.url, body, headers)
}

type webhookPayload struct {
	Event     string `json:"event"`
	Timestamp string `json:"timestamp"`
	Data      Event  `json:"data"`
}
