package sequence_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/ogulcanaydogan/heatwatch/pkg/inbound"
	"github.com/ogulcanaydogan/heatwatch/pkg/model"
	"github.com/ogulcanaydogan/heatwatch/pkg/sequence"
	"github.com/ogulcanaydogan/heatwatch/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitStatus(t *testing.T, o *sequence.Orchestrator, id string, want sequence.Status) sequence.View {
	t.Helper()
	var v sequence.View
	require.Eventually(t, func() bool {
		var err error
		v, err = o.Get(id)
		return err == nil && v.Status == want
	}, time.Second, 5*time.Millisecond)
	return v
}

func TestOrchestrator_ScriptedSequence(t *testing.T) {
	clock := clockwork.NewFakeClock()
	o := sequence.NewOrchestrator(storage.NewMemory(), nil, clock, discard())
	ctx := context.Background()

	id, err := o.Start(ctx, sequence.Request{DelayMs: 50, FinalDTMF: "1"})
	require.NoError(t, err)

	v, err := o.Get(id)
	require.NoError(t, err)
	assert.Equal(t, sequence.StatusRunning, v.Status)
	assert.Len(t, v.Steps, 2)

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(50 * time.Millisecond)

	v = waitStatus(t, o, id, sequence.StatusDone)
	require.Len(t, v.Steps, 3)
	assert.Equal(t, sequence.Step{Type: "call", Attempt: 1, Result: "noanswer", TS: v.Steps[0].TS}, v.Steps[0])
	assert.Equal(t, "sms", v.Steps[1].Type)
	assert.Equal(t, "call", v.Steps[2].Type)
	assert.Equal(t, 2, v.Steps[2].Attempt)
	assert.Equal(t, "1", v.Steps[2].Result)
	assert.Equal(t, 50*time.Millisecond, v.Steps[2].TS.Sub(v.Steps[0].TS))
}

func TestOrchestrator_RecordsAgainstAlert(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := storage.NewMemory()
	ctx := context.Background()
	require.NoError(t, store.CreateHousehold(ctx, &model.Household{ID: "h1", Name: "Tanaka", Phone: "+81-90-0000-0001", Grid: "g1"}))
	alert := &model.Alert{HouseholdID: "h1", Status: model.StatusOpen, HeatLevel: model.LevelWarning, FirstTriggeredAt: clock.Now()}
	require.NoError(t, store.CreateAlert(ctx, alert))

	handler := inbound.NewHandler(store, nil, nil, nil, clock, discard(), nil)
	o := sequence.NewOrchestrator(store, handler, clock, discard())

	id, err := o.Start(ctx, sequence.Request{AlertID: alert.ID, Delay: time.Minute, FinalDTMF: "2"})
	require.NoError(t, err)

	got, err := store.GetAlert(ctx, alert.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusUnanswered, got.Status)

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(time.Minute)
	waitStatus(t, o, id, sequence.StatusDone)

	got, err = store.GetAlert(ctx, alert.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusTired, got.Status)

	calls, err := store.ListCalls(ctx, alert.ID)
	require.NoError(t, err)
	require.Len(t, calls, 2)
	assert.Equal(t, model.CallNoAnswer, calls[0].Result)
	assert.Equal(t, model.CallTired, calls[1].Result)
	assert.Equal(t, "2", calls[1].Digit)

	notes, err := store.ListNotifications(ctx, alert.ID)
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, "+81-90-0000-0001", notes[0].Recipient)
}

func TestOrchestrator_Cancel(t *testing.T) {
	clock := clockwork.NewFakeClock()
	o := sequence.NewOrchestrator(storage.NewMemory(), nil, clock, discard())
	ctx := context.Background()

	id, err := o.Start(ctx, sequence.Request{Delay: time.Minute})
	require.NoError(t, err)
	require.NoError(t, o.Cancel(id))

	clock.Advance(time.Hour)
	v, err := o.Get(id)
	require.NoError(t, err)
	assert.Equal(t, sequence.StatusCancelled, v.Status)
	assert.Len(t, v.Steps, 2)

	assert.ErrorIs(t, o.Cancel(id), sequence.ErrNotRunning)
	assert.ErrorIs(t, o.Cancel("missing"), sequence.ErrNotFound)
}

func TestOrchestrator_UnknownAlert(t *testing.T) {
	o := sequence.NewOrchestrator(storage.NewMemory(), nil, clockwork.NewFakeClock(), discard())
	_, err := o.Start(context.Background(), sequence.Request{AlertID: "missing"})
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = o.Get("missing")
	assert.ErrorIs(t, err, sequence.ErrNotFound)
}
