package channels

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/ogulcanaydogan/heatwatch/pkg/retry"
)

// ProviderConfig configures an HTTP telephony provider.
type ProviderConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	APIKey      string        `mapstructure:"api_key"`
	From        string        `mapstructure:"from"`
	CallbackURL string        `mapstructure:"callback_url"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type providerError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func newProviderClient(cfg ProviderConfig) *resty.Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	// Retries belong to the retry executor, never to the transport.
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(timeout).
		SetRetryCount(0).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "HeatWatch/1.0")
	if cfg.APIKey != "" {
		client.SetAuthToken(cfg.APIKey)
	}
	return client
}

// post sends body to path and decodes a successful reply into out. Non-2xx replies are
// returned as *retry.StatusError so the retry executor can classify them.
func post(ctx context.Context, client *resty.Client, provider, path, key string, body, out any) error {
	var apiErr providerError
	resp, err := client.R().
		SetContext(ctx).
		SetHeader("Idempotency-Key", key).
		SetBody(body).
		SetResult(out).
		SetError(&apiErr).
		Post(path)
	if err != nil {
		return fmt.Errorf("%s request: %w", provider, err)
	}
	if resp.IsError() {
		msg := apiErr.Message
		if msg == "" {
			msg = http.StatusText(resp.StatusCode())
		}
		return &retry.StatusError{
			Provider:     provider,
			StatusCode:   resp.StatusCode(),
			ProviderCode: apiErr.Code,
			Message:      msg,
		}
	}
	return nil
}

func idempotencyKey(msg Message, prefix string) string {
	if msg.IdempotencyKey != "" {
		return msg.IdempotencyKey
	}
	return retry.IdempotencyKey(prefix, time.Now())
}

// VoiceClient places outbound IVR calls.
type VoiceClient struct {
	client      *resty.Client
	from        string
	callbackURL string
}

// NewVoiceClient creates a voice provider client.
func NewVoiceClient(cfg ProviderConfig) *VoiceClient {
	return &VoiceClient{
		client:      newProviderClient(cfg),
		from:        cfg.From,
		callbackURL: cfg.CallbackURL,
	}
}

func (v *VoiceClient) Name() string { return "voice" }

type callRequest struct {
	To          string `json:"to"`
	From        string `json:"from,omitempty"`
	CallbackURL string `json:"callback_url,omitempty"`
	AlertID     string `json:"alert_id,omitempty"`
	Attempt     int    `json:"attempt"`
	Script      string `json:"script,omitempty"`
}

type callResponse struct {
	CallID string `json:"call_id"`
	Status string `json:"status"`
}

func (v *VoiceClient) Send(ctx context.Context, msg Message) (Receipt, error) {
	var out callResponse
	err := post(ctx, v.client, "voice", "/calls", idempotencyKey(msg, "call"), callRequest{
		To:          msg.Recipient,
		From:        v.from,
		CallbackURL: v.callbackURL,
		AlertID:     msg.AlertID,
		Attempt:     msg.Attempt,
		Script:      msg.Template,
	}, &out)
	if err != nil {
		return Receipt{}, err
	}
	return Receipt{ProviderID: out.CallID, Status: out.Status}, nil
}

// SMSClient sends text messages.
type SMSClient struct {
	client      *resty.Client
	from        string
	callbackURL string
}

// NewSMSClient creates an SMS provider client.
func NewSMSClient(cfg ProviderConfig) *SMSClient {
	return &SMSClient{
		client:      newProviderClient(cfg),
		from:        cfg.From,
		callbackURL: cfg.CallbackURL,
	}
}

func (s *SMSClient) Name() string { return "sms" }

type smsRequest struct {
	To             string `json:"to"`
	From           string `json:"from,omitempty"`
	Body           string `json:"body"`
	StatusCallback string `json:"status_callback,omitempty"`
}

type smsResponse struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
}

func (s *SMSClient) Send(ctx context.Context, msg Message) (Receipt, error) {
	body := msg.Text
	if body == "" {
		body = SMSText(msg.Reason)
	}

	var out smsResponse
	err := post(ctx, s.client, "sms", "/messages", idempotencyKey(msg, "sms"), smsRequest{
		To:             msg.Recipient,
		From:           s.from,
		Body:           body,
		StatusCallback: s.callbackURL,
	}, &out)
	if err != nil {
		return Receipt{}, err
	}
	return Receipt{ProviderID: out.MessageID, Status: out.Status}, nil
}

// SMSText returns the default body for an SMS reason.
func SMSText(reason string) string {
	switch reason {
	case "first_call_failed":
		return "Heat alert: we could not reach you by phone. Please drink water, stay cool and call back if you need help."
	case "second_call_reminder":
		return "Heat alert reminder: please answer our call or reply to let us know you are OK."
	case "family_notify":
		return "Heat alert: your family member has not answered our safety calls. Please check on them."
	case "neighbor_notify":
		return "Heat alert: a neighbour you agreed to look after has not answered our safety calls. Please check on them."
	case "ack_ok":
		return "Thank you for letting us know you are OK. Please keep cool and drink water."
	case "ack_tired":
		return "Thank you for answering. Please rest somewhere cool. We will check on you again."
	case "ack_help":
		return "We have received your request for help. Our staff will contact you shortly."
	default:
		return "Heat alert: please take care in today's heat."
	}
}
