package channels

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ogulcanaydogan/heatwatch/pkg/retry"
)

// PushClient delivers chat-app push messages to a signed HTTP endpoint.
type PushClient struct {
	url    string
	secret string
	client *http.Client
}

// NewPushClient creates a chat push client.
// If secret is non-empty, requests are signed with HMAC-SHA256.
func NewPushClient(url, secret string) *PushClient {
	return &PushClient{
		url:    url,
		secret: secret,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (p *PushClient) Name() string { return "push" }

type pushPayload struct {
	Event     string            `json:"event"`
	Timestamp string            `json:"timestamp"`
	To        string            `json:"to"`
	AlertID   string            `json:"alert_id,omitempty"`
	Template  string            `json:"template,omitempty"`
	Text      string            `json:"text,omitempty"`
	Params    map[string]string `json:"params,omitempty"`
}

type pushResponse struct {
	MessageID string `json:"message_id"`
	Code      string `json:"code,omitempty"`
	Message   string `json:"message,omitempty"`
}

func (p *PushClient) Send(ctx context.Context, msg Message) (Receipt, error) {
	payload := pushPayload{
		Event:     "push",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		To:        msg.Recipient,
		AlertID:   msg.AlertID,
		Template:  msg.Template,
		Text:      msg.Text,
		Params:    msg.Params,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return Receipt{}, fmt.Errorf("marshal push payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return Receipt{}, fmt.Errorf("create push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "HeatWatch/1.0")
	req.Header.Set("Idempotency-Key", idempotencyKey(msg, "push"))

	if p.secret != "" {
		req.Header.Set("X-Signature-256", "sha256="+ComputeHMAC(body, []byte(p.secret)))
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return Receipt{}, fmt.Errorf("send push: %w", err)
	}
	defer resp.Body.Close()

	var out pushResponse
	// Some gateways reply with an empty body.
	_ = json.NewDecoder(resp.Body).Decode(&out)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Receipt{}, &retry.StatusError{
			Provider:     "push",
			StatusCode:   resp.StatusCode,
			ProviderCode: out.Code,
			Message:      out.Message,
		}
	}
	return Receipt{ProviderID: out.MessageID, Status: "sent"}, nil
}

// ComputeHMAC returns the hex HMAC-SHA256 of message under key.
func ComputeHMAC(message, key []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write(message)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyHMAC reports whether header ("sha256=<hex>") matches the body signed with key.
func VerifyHMAC(body []byte, header string, key []byte) bool {
	const prefix = "sha256="
	if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
		return false
	}
	want, err := hex.DecodeString(header[len(prefix):])
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, key)
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), want)
}
