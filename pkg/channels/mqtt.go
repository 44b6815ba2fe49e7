package channels

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

// MQTTConfig configures the MQTT broker used for in-app push.
type MQTTConfig struct {
	Broker   string        `mapstructure:"broker"`
	ClientID string        `mapstructure:"client_id"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	QoS      byte          `mapstructure:"qos"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// NewMQTTClient connects to the broker.
func NewMQTTClient(cfg MQTTConfig) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connect to MQTT broker: %w", token.Error())
	}
	return client, nil
}

// Publisher is the subset of mqtt.Client used for publishing.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTPush publishes chat push messages to per-recipient topics
// of the form heatwatch/<tenant>/<recipient>.
type MQTTPush struct {
	pub     Publisher
	qos     byte
	timeout time.Duration
}

// NewMQTTPush creates an MQTT push sender.
func NewMQTTPush(pub Publisher, qos byte, timeout time.Duration) *MQTTPush {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &MQTTPush{pub: pub, qos: qos, timeout: timeout}
}

func (m *MQTTPush) Name() string { return "mqtt" }

// Topic returns the topic a message for recipient is published to.
func Topic(tenantID, recipient string) string {
	if tenantID == "" {
		tenantID = "default"
	}
	return fmt.Sprintf("heatwatch/%s/%s", tenantID, recipient)
}

type mqttPayload struct {
	ID       string            `json:"id"`
	AlertID  string            `json:"alert_id,omitempty"`
	Template string            `json:"template,omitempty"`
	Text     string            `json:"text,omitempty"`
	Params   map[string]string `json:"params,omitempty"`
	SentAt   time.Time         `json:"sent_at"`
}

func (m *MQTTPush) Send(ctx context.Context, msg Message) (Receipt, error) {
	id := uuid.New().String()
	body, err := json.Marshal(mqttPayload{
		ID:       id,
		AlertID:  msg.AlertID,
		Template: msg.Template,
		Text:     msg.Text,
		Params:   msg.Params,
		SentAt:   time.Now().UTC(),
	})
	if err != nil {
		return Receipt{}, fmt.Errorf("marshal mqtt payload: %w", err)
	}

	topic := Topic(msg.TenantID, msg.Recipient)
	token := m.pub.Publish(topic, m.qos, false, body)

	wait := m.timeout
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < wait {
		wait = time.Until(deadline)
	}
	if !token.WaitTimeout(wait) {
		return Receipt{}, fmt.Errorf("publish to %s: %w", topic, context.DeadlineExceeded)
	}
	if err := token.Error(); err != nil {
		return Receipt{}, fmt.Errorf("publish to %s: %w", topic, err)
	}
	return Receipt{ProviderID: id, Status: "sent"}, nil
}
