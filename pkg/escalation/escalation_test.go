package escalation_test

import (
	"context"
	"testing"
	"time"

	"github.com/ogulcanaydogan/heatwatch/pkg/escalation"
	"github.com/ogulcanaydogan/heatwatch/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 7, 20, 14, 0, 0, 0, time.UTC)

func TestApply_Transitions(t *testing.T) {
	tests := []struct {
		from model.AlertStatus
		ev   escalation.Event
		want model.AlertStatus
	}{
		{model.StatusOpen, escalation.EventNoAnswer, model.StatusUnanswered},
		{model.StatusOpen, escalation.EventAnswerOK, model.StatusOK},
		{model.StatusUnanswered, escalation.EventAnswerTired, model.StatusTired},
		{model.StatusTired, escalation.EventAnswerHelp, model.StatusHelp},
		{model.StatusUnanswered, escalation.EventEscalate, model.StatusEscalated},
		{model.StatusEscalated, escalation.EventResolve, model.StatusOK},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"/"+string(tt.ev), func(t *testing.T) {
			a := &model.Alert{ID: "a1", Status: tt.from}
			changed, err := escalation.Apply(context.Background(), a, tt.ev, now)
			require.NoError(t, err)
			assert.True(t, changed)
			assert.Equal(t, tt.want, a.Status)
			assert.Equal(t, now, a.UpdatedAt)
		})
	}
}

func TestApply_TerminalStampsClosedAt(t *testing.T) {
	a := &model.Alert{ID: "a1", Status: model.StatusEscalated, InProgress: true}
	_, err := escalation.Apply(context.Background(), a, escalation.EventResolve, now)
	require.NoError(t, err)

	require.NotNil(t, a.ClosedAt)
	assert.Equal(t, now, *a.ClosedAt)
	assert.False(t, a.InProgress)

	a = &model.Alert{ID: "a2", Status: model.StatusOpen}
	_, err = escalation.Apply(context.Background(), a, escalation.EventNoAnswer, now)
	require.NoError(t, err)
	assert.Nil(t, a.ClosedAt)
}

func TestApply_SameStateIsNoop(t *testing.T) {
	a := &model.Alert{ID: "a1", Status: model.StatusUnanswered}
	changed, err := escalation.Apply(context.Background(), a, escalation.EventNoAnswer, now)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, model.StatusUnanswered, a.Status)
}

func TestApply_InvalidFromTerminal(t *testing.T) {
	for _, st := range []model.AlertStatus{model.StatusOK, model.StatusHelp} {
		for _, ev := range []escalation.Event{escalation.EventNoAnswer, escalation.EventEscalate, escalation.EventAnswerTired} {
			a := &model.Alert{ID: "a1", Status: st}
			_, err := escalation.Apply(context.Background(), a, ev, now)
			assert.ErrorIs(t, err, escalation.ErrInvalidTransition)
			assert.Equal(t, st, a.Status)
		}
	}
}

func TestIsTerminal(t *testing.T) {
	assert.True(t, escalation.IsTerminal(model.StatusOK))
	assert.True(t, escalation.IsTerminal(model.StatusHelp))
	assert.False(t, escalation.IsTerminal(model.StatusEscalated))
	assert.True(t, escalation.IsAutomationTerminal(model.StatusEscalated))
	assert.False(t, escalation.IsAutomationTerminal(model.StatusTired))
}

func TestKeypressOutcome(t *testing.T) {
	tests := map[string]struct {
		ev     escalation.Event
		result model.CallResult
	}{
		"1": {escalation.EventAnswerOK, model.CallOK},
		"2": {escalation.EventAnswerTired, model.CallTired},
		"3": {escalation.EventAnswerHelp, model.CallHelp},
		"":  {escalation.EventNoAnswer, model.CallNoAnswer},
		"9": {escalation.EventNoAnswer, model.CallNoAnswer},
	}
	for digit, want := range tests {
		ev, res := escalation.KeypressOutcome(digit)
		assert.Equal(t, want.ev, ev, "digit %q", digit)
		assert.Equal(t, want.result, res, "digit %q", digit)
	}
}

func TestPlanner_Next(t *testing.T) {
	p := escalation.NewPlanner(escalation.DefaultThresholds())
	done := model.StageFlag{Done: true}

	tests := []struct {
		name    string
		elapsed time.Duration
		stages  model.Stages
		want    escalation.Stage
	}{
		{"too early", 4 * time.Minute, model.Stages{}, escalation.StageNone},
		{"second call", 5 * time.Minute, model.Stages{}, escalation.StageSecondCall},
		{"family", 11 * time.Minute, model.Stages{SecondCallMade: done}, escalation.StageFamilyNotify},
		{"late jumps to family", 12 * time.Minute, model.Stages{}, escalation.StageFamilyNotify},
		{"neighbor first", 16 * time.Minute, model.Stages{}, escalation.StageNeighborNotify},
		{"all done", time.Hour, model.Stages{SecondCallMade: done, FamilyNotified: done, NeighborNotified: done}, escalation.StageNone},
		{"neighbor done, family pending", 20 * time.Minute, model.Stages{NeighborNotified: done}, escalation.StageNone},
		{"skipped second call never back-filled", 12 * time.Minute, model.Stages{FamilyNotified: done}, escalation.StageNone},
		{"neighbor after family", 16 * time.Minute, model.Stages{SecondCallMade: done, FamilyNotified: done}, escalation.StageNeighborNotify},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.Next(tt.elapsed, tt.stages))
		})
	}
}

func TestPlanner_Skipped(t *testing.T) {
	p := escalation.NewPlanner(escalation.DefaultThresholds())

	assert.Equal(t,
		[]escalation.Stage{escalation.StageFamilyNotify, escalation.StageSecondCall},
		p.Skipped(escalation.StageNeighborNotify, model.Stages{}))
	assert.Empty(t, p.Skipped(escalation.StageSecondCall, model.Stages{}))
	assert.Empty(t, p.Skipped(escalation.StageFamilyNotify, model.Stages{SecondCallMade: model.StageFlag{Done: true}}))
}

func TestPlanner_Projection(t *testing.T) {
	p := escalation.NewPlanner(escalation.DefaultThresholds())
	h := &model.Household{
		ID:    "h1",
		Phone: "+81-90-0000-0001",
		Contacts: []model.Contact{
			{Type: model.ContactNeighbor, Name: "Sato", Priority: 1, Phone: "+81-90-0000-0003"},
			{Type: model.ContactFamily, Name: "Ken", Priority: 1, Phone: "+81-90-0000-0002", ChatHandle: "U-ken"},
		},
	}

	steps := p.Projection(h)
	require.Len(t, steps, 6)

	assert.Equal(t, escalation.StepCall, steps[0].Type)
	assert.Equal(t, time.Duration(0), steps[0].After)
	assert.Equal(t, 2, steps[1].Attempt)
	assert.Equal(t, escalation.ReasonReminder, steps[2].Reason)

	assert.Equal(t, escalation.StepPush, steps[3].Type)
	assert.Equal(t, "U-ken", steps[3].Recipient)
	assert.Equal(t, 10*time.Minute, steps[3].After)

	assert.Equal(t, escalation.StageNeighborNotify, steps[5].Stage)
	assert.Equal(t, escalation.StepSMS, steps[5].Type)
	assert.Equal(t, 15*time.Minute, steps[5].After)
}
