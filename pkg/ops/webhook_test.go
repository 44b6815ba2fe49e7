package ops_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ogulcanaydogan/heatwatch/pkg/channels"
	"github.com/ogulcanaydogan/heatwatch/pkg/ops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhookNotifier_Name(t *testing.T) {
	n := ops.NewWebhookNotifier("https://example.com/webhook", "")
	assert.Equal(t, "webhook", n.Name())
}

func TestWebhookNotifier_Notify(t *testing.T) {
	var received map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "HeatWatch/1.0", r.Header.Get("User-Agent"))
		assert.Equal(t, http.MethodPost, r.Method)

		err := json.NewDecoder(r.Body).Decode(&received)
		require.NoError(t, err)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n := ops.NewWebhookNotifier(server.URL, "")
	err := n.Notify(context.Background(), ops.Event{
		Type:        ops.EventHelpRequested,
		AlertID:     "a1",
		HouseholdID: "h1",
	})
	require.NoError(t, err)
	assert.Equal(t, "help_requested", received["event"])
	assert.NotEmpty(t, received["timestamp"])
	data := received["data"].(map[string]any)
	assert.Equal(t, "a1", data["alert_id"])
}

func TestWebhookNotifier_Notify_WithHMAC(t *testing.T) {
	var signature string
	var body []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		signature = r.Header.Get("X-Signature-256")
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n := ops.NewWebhookNotifier(server.URL, "test-secret")
	err := n.Notify(context.Background(), ops.Event{Type: ops.EventAlertEscalated})
	require.NoError(t, err)
	assert.Contains(t, signature, "sha256=")
	assert.True(t, channels.VerifyHMAC(body, signature, []byte("test-secret")))
}

func TestWebhookNotifier_Notify_NoHMAC(t *testing.T) {
	var hasSignature bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hasSignature = r.Header.Get("X-Signature-256") != ""
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n := ops.NewWebhookNotifier(server.URL, "")
	err := n.Notify(context.Background(), ops.Event{Type: ops.EventAlertEscalated})
	require.NoError(t, err)
	assert.False(t, hasSignature)
}

func TestWebhookNotifier_Notify_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	n := ops.NewWebhookNotifier(server.URL, "")
	err := n.Notify(context.Background(), ops.Event{Type: ops.EventAlertEscalated})
	assert.Error(t, err)
}

type failingNotifier struct{ err error }

func (f failingNotifier) Name() string                            { return "failing" }
func (f failingNotifier) Notify(context.Context, ops.Event) error { return f.err }

func TestMulti_JoinsErrors(t *testing.T) {
	boom := errors.New("boom")
	m := ops.Multi{ops.Nop{}, failingNotifier{err: boom}, ops.Nop{}}
	err := m.Notify(context.Background(), ops.Event{Type: ops.EventHelpRequested})
	assert.ErrorIs(t, err, boom)

	assert.NoError(t, ops.Multi{ops.Nop{}}.Notify(context.Background(), ops.Event{}))
}
