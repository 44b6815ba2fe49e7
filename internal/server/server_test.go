package server_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ogulcanaydogan/heatwatch/internal/server"
	"github.com/ogulcanaydogan/heatwatch/pkg/channels"
	"github.com/ogulcanaydogan/heatwatch/pkg/inbound"
	"github.com/ogulcanaydogan/heatwatch/pkg/metrics"
	"github.com/ogulcanaydogan/heatwatch/pkg/model"
	"github.com/ogulcanaydogan/heatwatch/pkg/sequence"
	"github.com/ogulcanaydogan/heatwatch/pkg/storage"
)

const secret = "test-secret"

type fixture struct {
	srv   *server.Server
	store storage.Store
	clock *clockwork.FakeClock
	alert *model.Alert
}

func setupServer(t *testing.T, strict bool) *fixture {
	t.Helper()
	ctx := context.Background()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	store, err := storage.NewSQLite(ctx, dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	clock := clockwork.NewFakeClockAt(time.Date(2026, 7, 20, 9, 3, 0, 0, time.UTC))
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	// Seed some data
	require.NoError(t, store.CreateHousehold(ctx, &model.Household{ID: "h1", Name: "Tanaka", Phone: "+81-90-0000-0001", Grid: "g1", AtRisk: true}))
	alert := &model.Alert{
		HouseholdID:      "h1",
		Date:             "2026-07-20",
		HeatLevel:        model.LevelWarning,
		Status:           model.StatusOpen,
		FirstTriggeredAt: time.Date(2026, 7, 20, 9, 0, 0, 0, time.UTC),
	}
	require.NoError(t, store.CreateAlert(ctx, alert))
	require.NoError(t, store.RecordCall(ctx, &model.CallLog{AlertID: alert.ID, Attempt: 1, Result: model.CallPending, ProviderCallID: "CA-1"}))

	handler := inbound.NewHandler(store, nil, nil, nil, clock, logger, m)
	t.Cleanup(handler.Wait)
	orch := sequence.NewOrchestrator(store, handler, clock, logger)

	srv := server.NewServer(store, handler, orch, server.Options{Secret: secret, Strict: strict, Gatherer: reg}, logger)
	return &fixture{srv: srv, store: store, clock: clock, alert: alert}
}

func (f *fixture) do(t *testing.T, method, path, body string, sign bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if sign {
		req.Header.Set(server.SignatureHeader, "sha256="+channels.ComputeHMAC([]byte(body), []byte(secret)))
	}
	w := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(w, req)
	return w
}

func TestServer_Health(t *testing.T) {
	f := setupServer(t, true)
	w := f.do(t, "GET", "/healthz", "", false)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp map[string]string
	err := json.NewDecoder(w.Body).Decode(&resp)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp["status"])
}

func TestServer_Keypress(t *testing.T) {
	f := setupServer(t, true)
	w := f.do(t, "POST", "/webhooks/voice/keypress", `{"call_id":"CA-1","digit":"1","duration_sec":20}`, true)
	require.Equal(t, http.StatusOK, w.Code)

	var res inbound.Result
	require.NoError(t, json.NewDecoder(w.Body).Decode(&res))
	assert.True(t, res.Applied)
	assert.Equal(t, "ok", res.Status)

	got, err := f.store.GetAlert(context.Background(), f.alert.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusOK, got.Status)

	// Redelivery after close is acknowledged without changes.
	w = f.do(t, "POST", "/webhooks/voice/keypress", `{"call_id":"CA-1","digit":"3"}`, true)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.NewDecoder(w.Body).Decode(&res))
	assert.Equal(t, inbound.ReasonTerminal, res.Reason)
}

func TestServer_SignatureModes(t *testing.T) {
	body := `{"call_id":"CA-1","digit":"2"}`

	strict := setupServer(t, true)
	w := strict.do(t, "POST", "/webhooks/voice/keypress", body, false)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	permissive := setupServer(t, false)
	w = permissive.do(t, "POST", "/webhooks/voice/keypress", body, false)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestServer_Postback(t *testing.T) {
	f := setupServer(t, true)
	body := `{"event_id":"e1","user_id":"U-ken","data":"action=take_care&alert_id=` + f.alert.ID + `"}`
	w := f.do(t, "POST", "/webhooks/chat/postback", body, true)
	require.Equal(t, http.StatusOK, w.Code)

	var res inbound.Result
	require.NoError(t, json.NewDecoder(w.Body).Decode(&res))
	assert.True(t, res.Applied)
	assert.NotEmpty(t, res.Reply)

	w = f.do(t, "POST", "/webhooks/chat/postback", `{"data":"action=dance&alert_id=x"}`, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, "POST", "/webhooks/chat/postback", `{"data":"action=done&alert_id=missing"}`, true)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServer_StatusCallback(t *testing.T) {
	f := setupServer(t, true)
	w := f.do(t, "POST", "/webhooks/status", `{"provider_id":"CA-1","status":"busy"}`, true)
	require.Equal(t, http.StatusOK, w.Code)

	got, err := f.store.GetAlert(context.Background(), f.alert.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusUnanswered, got.Status)

	w = f.do(t, "POST", "/webhooks/status", `not json`, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestServer_Sequence(t *testing.T) {
	f := setupServer(t, true)
	w := f.do(t, "POST", "/api/v1/sequences", `{"delay_ms":50,"final_dtmf":"1"}`, false)
	require.Equal(t, http.StatusCreated, w.Code)

	var created map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&created))
	id := created["sequence_id"]
	require.NotEmpty(t, id)

	require.NoError(t, f.clock.BlockUntilContext(context.Background(), 1))
	f.clock.Advance(50 * time.Millisecond)

	var view sequence.View
	require.Eventually(t, func() bool {
		w := f.do(t, "GET", "/api/v1/sequences/"+id, "", false)
		if w.Code != http.StatusOK {
			return false
		}
		return json.NewDecoder(w.Body).Decode(&view) == nil && view.Status == sequence.StatusDone
	}, time.Second, 5*time.Millisecond)
	require.Len(t, view.Steps, 3)
	assert.Equal(t, "noanswer", view.Steps[0].Result)
	assert.Equal(t, "sms", view.Steps[1].Type)
	assert.Equal(t, "1", view.Steps[2].Result)

	w = f.do(t, "GET", "/api/v1/sequences/missing", "", false)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, "DELETE", "/api/v1/sequences/"+id, "", false)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestServer_Alerts(t *testing.T) {
	f := setupServer(t, true)

	w := f.do(t, "GET", "/api/v1/alerts?date=2026-07-20&status=open", "", false)
	require.Equal(t, http.StatusOK, w.Code)
	var alerts []model.Alert
	require.NoError(t, json.NewDecoder(w.Body).Decode(&alerts))
	assert.Len(t, alerts, 1)

	w = f.do(t, "GET", "/api/v1/alerts?status=ok", "", false)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.NewDecoder(w.Body).Decode(&alerts))
	assert.Empty(t, alerts)

	w = f.do(t, "GET", "/api/v1/alerts/"+f.alert.ID, "", false)
	require.Equal(t, http.StatusOK, w.Code)
	var detail struct {
		Alert model.Alert     `json:"alert"`
		Calls []model.CallLog `json:"calls"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&detail))
	assert.Equal(t, f.alert.ID, detail.Alert.ID)
	assert.Len(t, detail.Calls, 1)

	w = f.do(t, "GET", "/api/v1/alerts/missing", "", false)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServer_Metrics(t *testing.T) {
	f := setupServer(t, true)
	f.do(t, "POST", "/webhooks/voice/keypress", `{"call_id":"CA-1","digit":"2"}`, true)

	w := f.do(t, "GET", "/metrics", "", false)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "heatwatch_inbound_events_total")
}
