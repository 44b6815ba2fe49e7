package contact_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/ogulcanaydogan/heatwatch/pkg/channels"
	"github.com/ogulcanaydogan/heatwatch/pkg/contact"
	"github.com/ogulcanaydogan/heatwatch/pkg/model"
	"github.com/ogulcanaydogan/heatwatch/pkg/retry"
	"github.com/ogulcanaydogan/heatwatch/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (*contact.Dispatcher, *channels.Recorder, storage.Store) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 7, 20, 9, 0, 0, 0, time.UTC))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := storage.NewMemory()
	rec := channels.NewRecorder()
	d := contact.NewDispatcher(store, rec, retry.NewExecutor(clock, logger, nil), clock, logger, nil)
	return d, rec, store
}

func TestDispatcher_CallRecordsPendingLog(t *testing.T) {
	d, rec, store := setup(t)
	ctx := context.Background()
	alert := &model.Alert{ID: "a1", TenantID: "t1"}

	log, err := d.Call(ctx, alert, "+81-90-0000-0001", 1)
	require.NoError(t, err)
	assert.Equal(t, model.CallPending, log.Result)
	assert.Equal(t, "phone-1", log.ProviderCallID)

	calls, err := store.ListCalls(ctx, "a1")
	require.NoError(t, err)
	require.Len(t, calls, 1)
	assert.Equal(t, 1, calls[0].Attempt)

	msgs := rec.On(model.ChannelPhone)
	require.Len(t, msgs, 1)
	assert.NotEmpty(t, msgs[0].IdempotencyKey)
	assert.Equal(t, "+81-90-0000-0001", msgs[0].Recipient)
}

func TestDispatcher_CallFailureRecordsFailedLog(t *testing.T) {
	d, rec, store := setup(t)
	ctx := context.Background()
	rec.FailChannel(model.ChannelPhone, retry.Terminal(errors.New("invalid number")))

	_, err := d.Call(ctx, &model.Alert{ID: "a1"}, "bad", 2)
	require.Error(t, err)
	assert.ErrorIs(t, err, retry.ErrTerminal)

	log, err := store.FindCall(ctx, "a1", 2)
	require.NoError(t, err)
	assert.Equal(t, model.CallFailed, log.Result)
}

func TestDispatcher_RetriesTransientFailure(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rec := channels.NewRecorder()
	d := contact.NewDispatcher(storage.NewMemory(), rec, retry.NewExecutor(nil, logger, nil), nil, logger, nil)
	d.SetPolicy(model.ChannelSMS, retry.Policy{MaxRetries: 2, InitialDelay: time.Millisecond})
	rec.FailChannel(model.ChannelSMS, &retry.StatusError{Provider: "sms", StatusCode: 503})

	_, err := d.Notify(context.Background(), channels.Message{Channel: model.ChannelSMS, Recipient: "+81"})
	var exhausted *retry.ExhaustedError
	require.ErrorAs(t, err, &exhausted)

	msgs := rec.On(model.ChannelSMS)
	require.Len(t, msgs, 3)
	assert.Equal(t, msgs[0].IdempotencyKey, msgs[2].IdempotencyKey)
}

func TestDispatcher_NotifyRecordsNotification(t *testing.T) {
	d, _, store := setup(t)
	ctx := context.Background()

	n, err := d.Notify(ctx, channels.Message{
		Channel:   model.ChannelSMS,
		AlertID:   "a1",
		Recipient: "+81-90-0000-0001",
		Reason:    "second_call_reminder",
	})
	require.NoError(t, err)
	assert.Equal(t, model.NotificationSent, n.Status)

	got, err := store.FindNotificationByProviderID(ctx, n.ProviderMessageID)
	require.NoError(t, err)
	assert.Equal(t, "second_call_reminder", got.Content["reason"])
}

func TestDispatcher_NotifyWithoutAlertIsNotStored(t *testing.T) {
	d, _, store := setup(t)
	ctx := context.Background()

	_, err := d.Notify(ctx, channels.Message{Channel: model.ChannelSMS, Recipient: "+81"})
	require.NoError(t, err)

	list, err := store.ListNotifications(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestDispatcher_NotifyContacts(t *testing.T) {
	d, rec, store := setup(t)
	ctx := context.Background()
	rec.FailChannel(model.ChannelChatPush, retry.Terminal(errors.New("blocked")))

	contacts := []model.Contact{
		{Type: model.ContactFamily, Name: "Ken", Priority: 1, Phone: "+81-80-1", ChatHandle: "U-ken"},
		{Type: model.ContactFamily, Name: "Yui", Priority: 2, Phone: "+81-80-2"},
		{Type: model.ContactFamily, Name: "Nobody", Priority: 3},
	}
	sent := d.NotifyContacts(ctx, &model.Alert{ID: "a1"}, contacts, "family_alert", "family_notify")
	assert.Equal(t, 2, sent)

	list, err := store.ListNotifications(ctx, "a1")
	require.NoError(t, err)
	require.Len(t, list, 3)

	statuses := map[model.NotificationStatus]int{}
	for _, n := range list {
		statuses[n.Status]++
	}
	assert.Equal(t, 2, statuses[model.NotificationSent])
	assert.Equal(t, 1, statuses[model.NotificationFailed])
}
