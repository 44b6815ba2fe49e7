package rules_test

import (
	"testing"

	"github.com/ogulcanaydogan/heatwatch/pkg/model"
	"github.com/ogulcanaydogan/heatwatch/pkg/rules"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShouldIssue(t *testing.T) {
	e := rules.NewEngine(rules.DefaultQuietHours)

	tests := []struct {
		level  model.HeatLevel
		hour   int
		issue  bool
		reason string
	}{
		{model.LevelWarning, 9, true, rules.ReasonThresholdMet},
		{model.LevelCaution, 9, false, rules.ReasonBelowThreshold},
		{model.LevelDanger, 13, true, rules.ReasonThresholdMet},
		{model.LevelSevereWarning, 17, true, rules.ReasonThresholdMet},
		{model.LevelWarning, 23, false, rules.ReasonQuietHours},
		{"extreme", 12, false, rules.ReasonUnknownLevel},
	}

	for _, tt := range tests {
		t.Run(string(tt.level), func(t *testing.T) {
			d := e.ShouldIssue(tt.level, tt.hour)
			assert.Equal(t, tt.issue, d.Issue)
			assert.Equal(t, tt.reason, d.Reason)
		})
	}
}

func TestShouldIssue_QuietHoursAlwaysSuppress(t *testing.T) {
	e := rules.NewEngine(rules.DefaultQuietHours)
	levels := []model.HeatLevel{model.LevelCaution, model.LevelWarning, model.LevelSevereWarning, model.LevelDanger, "bogus"}

	for hour := 0; hour < 24; hour++ {
		if !rules.DefaultQuietHours.Contains(hour) {
			continue
		}
		for _, level := range levels {
			d := e.ShouldIssue(level, hour)
			assert.False(t, d.Issue, "hour %d level %s", hour, level)
			assert.Equal(t, rules.ReasonQuietHours, d.Reason)
		}
	}
}

func TestQuietHours_Contains(t *testing.T) {
	q := rules.QuietHours{Start: 22, End: 7}
	assert.True(t, q.Contains(22))
	assert.True(t, q.Contains(0))
	assert.True(t, q.Contains(6))
	assert.False(t, q.Contains(7))
	assert.False(t, q.Contains(21))

	day := rules.QuietHours{Start: 12, End: 14}
	assert.True(t, day.Contains(13))
	assert.False(t, day.Contains(14))

	assert.False(t, rules.QuietHours{Start: 5, End: 5}.Contains(5))
}

func TestParseQuietHours(t *testing.T) {
	q, err := rules.ParseQuietHours("22-7")
	require.NoError(t, err)
	assert.Equal(t, rules.DefaultQuietHours, q)
	assert.Equal(t, "22-7", q.String())

	_, err = rules.ParseQuietHours("22")
	assert.Error(t, err)
	_, err = rules.ParseQuietHours("22-25")
	assert.Error(t, err)
}

func TestParseHours(t *testing.T) {
	hours, err := rules.ParseHours("17, 9,13,9")
	require.NoError(t, err)
	assert.Equal(t, []int{9, 13, 17}, hours)

	_, err = rules.ParseHours("9,x")
	assert.Error(t, err)
}

func TestLevelFromWBGT(t *testing.T) {
	assert.Equal(t, model.LevelCaution, rules.LevelFromWBGT(22))
	assert.Equal(t, model.LevelWarning, rules.LevelFromWBGT(25))
	assert.Equal(t, model.LevelSevereWarning, rules.LevelFromWBGT(29.5))
	assert.Equal(t, model.LevelDanger, rules.LevelFromWBGT(31))
}
