package cli

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ogulcanaydogan/heatwatch/pkg/inbound"
	"github.com/ogulcanaydogan/heatwatch/pkg/model"
	"github.com/ogulcanaydogan/heatwatch/pkg/storage"
)

const roster = `
households:
  - id: h1
    name: Tanaka
    phone: "+81-90-0000-0001"
    grid: "533945"
    at_risk: true
    contacts:
      - type: family
        name: Ken
        priority: 1
        phone: "+81-80-1111-0001"
        chat_handle: U-ken
      - type: neighbor
        name: Sato
        priority: 1
        phone: "+81-80-2222-0001"
`

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestSimulationStart(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)

	got, err := simulationStart("2026-07-20T13:00", loc)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 7, 20, 13, 0, 0, 0, loc), got)

	got, err = simulationStart("", loc)
	require.NoError(t, err)
	assert.Equal(t, 9, got.Hour())

	_, err = simulationStart("tomorrow", loc)
	assert.Error(t, err)
}

func TestStageSummary(t *testing.T) {
	assert.Equal(t, "-", stageSummary(model.Stages{}))

	var s model.Stages
	s.SecondCallMade.Mark(time.Now())
	s.NeighborNotified.Mark(time.Now())
	assert.Equal(t, "call2,neighbor", stageSummary(s))
}

func TestAnswerCalls(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 7, 20, 9, 0, 0, 0, time.UTC))
	store := storage.NewMemory()
	require.NoError(t, store.CreateHousehold(ctx, &model.Household{ID: "h1", Name: "Tanaka", Phone: "+81-90-0000-0001", Grid: "g1"}))

	alert := &model.Alert{HouseholdID: "h1", Date: "2026-07-20", Status: model.StatusUnanswered, HeatLevel: model.LevelWarning, FirstTriggeredAt: clock.Now()}
	require.NoError(t, store.CreateAlert(ctx, alert))
	require.NoError(t, store.RecordCall(ctx, &model.CallLog{AlertID: alert.ID, Attempt: 1, Result: model.CallNoAnswer, ProviderCallID: "CA-1"}))
	require.NoError(t, store.RecordCall(ctx, &model.CallLog{AlertID: alert.ID, Attempt: 2, Result: model.CallPending, ProviderCallID: "CA-2"}))

	h := inbound.NewHandler(store, nil, nil, nil, clock, slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
	require.NoError(t, answerCalls(ctx, store, h, "2026-07-20", "1"))
	h.Wait()

	got, err := store.GetAlert(ctx, alert.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusOK, got.Status)

	calls, err := store.ListCalls(ctx, alert.ID)
	require.NoError(t, err)
	require.Len(t, calls, 2)
	assert.Equal(t, model.CallNoAnswer, calls[0].Result)
	assert.Equal(t, model.CallOK, calls[1].Result)
}

func TestSimulateCommand(t *testing.T) {
	cfgPath := writeTemp(t, "config.yaml", "logging:\n  level: error\nalerting:\n  timezone: UTC\n")
	rosterPath := writeTemp(t, "households.yaml", roster)

	tests := map[string][]string{
		"never answers": nil,
		"answers later": {"--answer", "2", "--answer-after", "6m"},
	}
	for name, extra := range tests {
		t.Run(name, func(t *testing.T) {
			args := append([]string{"--config", cfgPath, "simulate", "-f", rosterPath, "--at", "2026-07-20T09:00"}, extra...)
			rootCmd.SetArgs(args)
			t.Cleanup(func() { rootCmd.SetArgs(nil) })
			require.NoError(t, rootCmd.ExecuteContext(context.Background()))
		})
	}
}
