package rules

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/ogulcanaydogan/heatwatch/pkg/model"
)

// Decision reasons.
const (
	ReasonQuietHours     = "quiet_hours"
	ReasonUnknownLevel   = "unknown_level"
	ReasonBelowThreshold = "below_threshold"
	ReasonThresholdMet   = "threshold_met"
)

// Decision is the result of an issuance check.
type Decision struct {
	Issue  bool   `json:"issue"`
	Reason string `json:"reason"`
}

// QuietHours is a nightly window [Start, End) in local hours. Start > End wraps midnight.
type QuietHours struct {
	Start int
	End   int
}

// DefaultQuietHours is 22:00-07:00.
var DefaultQuietHours = QuietHours{Start: 22, End: 7}

// Contains reports whether hour falls inside the window.
func (q QuietHours) Contains(hour int) bool {
	if q.Start == q.End {
		return false
	}
	if q.Start < q.End {
		return hour >= q.Start && hour < q.End
	}
	return hour >= q.Start || hour < q.End
}

func (q QuietHours) String() string {
	return fmt.Sprintf("%d-%d", q.Start, q.End)
}

// ParseQuietHours parses an "HH-HH" window such as "22-7".
func ParseQuietHours(s string) (QuietHours, error) {
	start, end, ok := strings.Cut(strings.TrimSpace(s), "-")
	if !ok {
		return QuietHours{}, fmt.Errorf("quiet hours %q: expected HH-HH", s)
	}
	h1, err := parseHour(start)
	if err != nil {
		return QuietHours{}, fmt.Errorf("quiet hours %q: %w", s, err)
	}
	h2, err := parseHour(end)
	if err != nil {
		return QuietHours{}, fmt.Errorf("quiet hours %q: %w", s, err)
	}
	return QuietHours{Start: h1, End: h2}, nil
}

// ParseHours parses a comma-separated hour list such as "9,13,17".
// The result is sorted and de-duplicated.
func ParseHours(s string) ([]int, error) {
	seen := make(map[int]bool)
	var hours []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		h, err := parseHour(part)
		if err != nil {
			return nil, fmt.Errorf("hours %q: %w", s, err)
		}
		if !seen[h] {
			seen[h] = true
			hours = append(hours, h)
		}
	}
	sort.Ints(hours)
	return hours, nil
}

func parseHour(s string) (int, error) {
	h, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid hour %q", s)
	}
	if h < 0 || h > 23 {
		return 0, fmt.Errorf("hour %d out of range 0-23", h)
	}
	return h, nil
}

// Engine decides whether a heat alert should be issued.
type Engine struct {
	quiet     QuietHours
	threshold model.HeatLevel
}

// NewEngine creates a rule engine with the given quiet hours.
// Alerts are issued at or above the warning tier.
func NewEngine(quiet QuietHours) *Engine {
	return &Engine{quiet: quiet, threshold: model.LevelWarning}
}

// QuietHours returns the configured quiet window.
func (e *Engine) QuietHours() QuietHours { return e.quiet }

// ShouldIssue evaluates a heat level at a local hour. Quiet hours always win.
func (e *Engine) ShouldIssue(level model.HeatLevel, hour int) Decision {
	if e.quiet.Contains(hour) {
		return Decision{Issue: false, Reason: ReasonQuietHours}
	}
	if !level.Valid() {
		return Decision{Issue: false, Reason: ReasonUnknownLevel}
	}
	if level.Rank() < e.threshold.Rank() {
		return Decision{Issue: false, Reason: ReasonBelowThreshold}
	}
	return Decision{Issue: true, Reason: ReasonThresholdMet}
}

// LevelFromWBGT maps a wet-bulb globe temperature reading (°C) to a severity tier.
func LevelFromWBGT(wbgt float64) model.HeatLevel {
	switch {
	case wbgt >= 31:
		return model.LevelDanger
	case wbgt >= 28:
		return model.LevelSevereWarning
	case wbgt >= 25:
		return model.LevelWarning
	default:
		return model.LevelCaution
	}
}
