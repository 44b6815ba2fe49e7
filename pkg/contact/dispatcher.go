package contact

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jonboulle/clockwork"
	"github.com/ogulcanaydogan/heatwatch/pkg/channels"
	"github.com/ogulcanaydogan/heatwatch/pkg/metrics"
	"github.com/ogulcanaydogan/heatwatch/pkg/model"
	"github.com/ogulcanaydogan/heatwatch/pkg/retry"
	"github.com/ogulcanaydogan/heatwatch/pkg/storage"
)

// Dispatcher sends outbound contacts under the channel's retry policy and
// records every attempt as a CallLog or Notification.
type Dispatcher struct {
	store    storage.Store
	sender   channels.Sender
	exec     *retry.Executor
	policies map[model.Channel]retry.Policy
	clock    clockwork.Clock
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewDispatcher creates a dispatcher. sender is usually a *channels.Router.
func NewDispatcher(store storage.Store, sender channels.Sender, exec *retry.Executor, clock clockwork.Clock, logger *slog.Logger, m *metrics.Metrics) *Dispatcher {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Dispatcher{
		store:  store,
		sender: sender,
		exec:   exec,
		policies: map[model.Channel]retry.Policy{
			model.ChannelPhone:    retry.VoicePolicy(),
			model.ChannelSMS:      retry.SMSPolicy(),
			model.ChannelChatPush: retry.PushPolicy(),
		},
		clock:   clock,
		logger:  logger,
		metrics: m,
	}
}

// SetPolicy overrides the retry policy for a channel.
func (d *Dispatcher) SetPolicy(ch model.Channel, p retry.Policy) {
	d.policies[ch] = p
}

func (d *Dispatcher) send(ctx context.Context, msg channels.Message, prefix string) (channels.Receipt, error) {
	if msg.IdempotencyKey == "" {
		msg.IdempotencyKey = retry.IdempotencyKey(prefix, d.clock.Now())
	}
	op := string(msg.Channel)
	return retry.Do(ctx, d.exec, d.policies[msg.Channel], op, func(ctx context.Context) (channels.Receipt, error) {
		return d.sender.Send(ctx, msg)
	})
}

// Call places a voice call to phone for the alert and records a CallLog: pending with the
// provider call id on submission, failed when every attempt failed.
func (d *Dispatcher) Call(ctx context.Context, alert *model.Alert, phone string, attempt int) (*model.CallLog, error) {
	msg := channels.Message{
		Channel:   model.ChannelPhone,
		TenantID:  alert.TenantID,
		AlertID:   alert.ID,
		Recipient: phone,
		Attempt:   attempt,
	}
	rcpt, sendErr := d.send(ctx, msg, "call")

	log := &model.CallLog{
		AlertID:        alert.ID,
		Attempt:        attempt,
		Result:         model.CallPending,
		ProviderCallID: rcpt.ProviderID,
		CreatedAt:      d.clock.Now(),
	}
	if sendErr != nil {
		log.Result = model.CallFailed
		d.metrics.Contact(string(model.ChannelPhone), "failed")
		d.logger.Error("voice call failed", "alert", alert.ID, "attempt", attempt, "error", sendErr)
	} else {
		d.metrics.Contact(string(model.ChannelPhone), "sent")
		d.logger.Info("voice call placed", "alert", alert.ID, "attempt", attempt, "call_id", rcpt.ProviderID)
	}

	if err := d.store.RecordCall(ctx, log); err != nil {
		return log, fmt.Errorf("record call log: %w", err)
	}
	if sendErr != nil {
		return log, fmt.Errorf("call attempt %d for alert %s: %w", attempt, alert.ID, sendErr)
	}
	return log, nil
}

// Notify sends a non-call message and records a Notification with status sent or failed.
func (d *Dispatcher) Notify(ctx context.Context, msg channels.Message) (*model.Notification, error) {
	rcpt, sendErr := d.send(ctx, msg, string(msg.Channel))

	n := &model.Notification{
		AlertID:           msg.AlertID,
		Channel:           msg.Channel,
		Recipient:         msg.Recipient,
		Status:            model.NotificationSent,
		ProviderMessageID: rcpt.ProviderID,
		Content:           msg.Content(),
		CreatedAt:         d.clock.Now(),
	}
	if sendErr != nil {
		n.Status = model.NotificationFailed
		d.metrics.Contact(string(msg.Channel), "failed")
		d.logger.Error("notification failed", "alert", msg.AlertID, "channel", msg.Channel, "recipient", msg.Recipient, "error", sendErr)
	} else {
		d.metrics.Contact(string(msg.Channel), "sent")
		d.logger.Info("notification sent", "alert", msg.AlertID, "channel", msg.Channel, "message_id", rcpt.ProviderID)
	}

	if msg.AlertID != "" {
		if err := d.store.RecordNotification(ctx, n); err != nil {
			return n, fmt.Errorf("record notification: %w", err)
		}
	}
	if sendErr != nil {
		return n, fmt.Errorf("%s to %s: %w", msg.Channel, msg.Recipient, sendErr)
	}
	return n, nil
}

// NotifyContacts sends the stage message to every reachable channel of each contact.
// Failures are logged and counted; the number of successful sends is returned.
func (d *Dispatcher) NotifyContacts(ctx context.Context, alert *model.Alert, contacts []model.Contact, template, reason string) int {
	base := channels.Message{TenantID: alert.TenantID, AlertID: alert.ID}
	sent := 0
	for _, c := range contacts {
		msgs := channels.ContactMessages(c, base, template, reason)
		if len(msgs) == 0 {
			d.logger.Warn("contact has no reachable channel", "alert", alert.ID, "contact", c.Name)
			continue
		}
		for _, msg := range msgs {
			if _, err := d.Notify(ctx, msg); err == nil {
				sent++
			}
		}
	}
	return sent
}
