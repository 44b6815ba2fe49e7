package ops

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-resty/resty/v2"
)

// SlackNotifier sends staff events to a Slack webhook.
type SlackNotifier struct {
	webhookURL string
	channel    string
	client     *resty.Client
}

// NewSlackNotifier creates a Slack webhook notifier.
func NewSlackNotifier(webhookURL, channel string) *SlackNotifier {
	return &SlackNotifier{
		webhookURL: webhookURL,
		channel:    channel,
		client:     newClient(),
	}
}

func (s *SlackNotifier) Name() string { return "slack" }

func (s *SlackNotifier) Notify(ctx context.Context, event Event) error {
	color := "#ff9900" // orange
	title := "HeatWatch: household escalated"
	if event.Type == EventHelpRequested {
		color = "#cc0000" // dark red
		title = "HeatWatch: resident requested help"
	}

	fields := []slackField{
		{Title: "Household", Value: orDash(event.Household), Short: true},
		{Title: "Phone", Value: orDash(event.Phone), Short: true},
		{Title: "Grid", Value: orDash(event.Grid), Short: true},
		{Title: "Heat Level", Value: orDash(event.HeatLevel), Short: true},
	}
	if event.Elapsed != "" {
		fields = append(fields, slackField{Title: "Since First Call", Value: event.Elapsed, Short: true})
	}
	fields = append(fields, slackField{Title: "Alert", Value: event.AlertID, Short: true})

	payload := slackPayload{
		Channel: s.channel,
		Attachments: []slackAttachment{
			{
				Color:  color,
				Title:  title,
				Text:   event.Message,
				Fields: fields,
				Footer: "HeatWatch",
				Ts:     occurred(event).Unix(),
			},
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal slack payload: %w", err)
	}
	return deliver(ctx, s.client, "slack", s.webhookURL, body, nil)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

type slackPayload struct {
	Channel     string            `json:"channel,omitempty"`
	Attachments []slackAttachment `json:"attachments"`
}

type slackAttachment struct {
	Color  string       `json:"color"`
	Title  string       `json:"title"`
	Text   string       `json:"text,omitempty"`
	Fields []slackField `json:"fields"`
	Footer string       `json:"footer"`
	Ts     int64        `json:"ts"`
}

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}
