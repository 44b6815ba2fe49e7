package escalation

import (
	"time"

	"github.com/ogulcanaydogan/heatwatch/pkg/model"
)

// Stage is an escalation step gated by elapsed time and a one-shot flag.
type Stage string

const (
	StageNone           Stage = ""
	StageSecondCall     Stage = "second_call"
	StageFamilyNotify   Stage = "family_notify"
	StageNeighborNotify Stage = "neighbor_notify"
)

// Thresholds are the elapsed times after first trigger at which each stage becomes due.
type Thresholds struct {
	SecondCall     time.Duration `mapstructure:"second_call"`
	FamilyNotify   time.Duration `mapstructure:"family_notify"`
	NeighborNotify time.Duration `mapstructure:"neighbor_notify"`
}

// DefaultThresholds returns 5, 10 and 15 minutes.
func DefaultThresholds() Thresholds {
	return Thresholds{
		SecondCall:     5 * time.Minute,
		FamilyNotify:   10 * time.Minute,
		NeighborNotify: 15 * time.Minute,
	}
}

// Planner decides which stage, if any, should fire next.
type Planner struct {
	th Thresholds
}

// NewPlanner creates a planner.
func NewPlanner(th Thresholds) *Planner {
	return &Planner{th: th}
}

// Thresholds returns the planner's configuration.
func (p *Planner) Thresholds() Thresholds { return p.th }

// Next returns the stage to execute now. The furthest-along due stage wins so a late
// evaluation jumps straight to it, and at most one stage is returned per call. Stages
// are monotonic: once a stage has fired, earlier stages that were skipped never fire.
func (p *Planner) Next(elapsed time.Duration, s model.Stages) Stage {
	switch {
	case s.NeighborNotified.Done:
		return StageNone
	case elapsed >= p.th.NeighborNotify:
		return StageNeighborNotify
	case s.FamilyNotified.Done:
		return StageNone
	case elapsed >= p.th.FamilyNotify:
		return StageFamilyNotify
	case s.SecondCallMade.Done:
		return StageNone
	case elapsed >= p.th.SecondCall:
		return StageSecondCall
	default:
		return StageNone
	}
}

// Skipped lists the earlier stages that have not fired when stage is executed.
func (p *Planner) Skipped(stage Stage, s model.Stages) []Stage {
	var skipped []Stage
	switch stage {
	case StageNeighborNotify:
		if !s.FamilyNotified.Done {
			skipped = append(skipped, StageFamilyNotify)
		}
		fallthrough
	case StageFamilyNotify:
		if !s.SecondCallMade.Done {
			skipped = append(skipped, StageSecondCall)
		}
	}
	return skipped
}

// StepType is the kind of projected contact action.
type StepType string

const (
	StepCall StepType = "call"
	StepSMS  StepType = "sms"
	StepPush StepType = "push"
)

// PlanStep is one projected contact action. Steps are a transient projection
// and never the source of truth.
type PlanStep struct {
	After     time.Duration `json:"after"`
	Stage     Stage         `json:"stage,omitempty"`
	Type      StepType      `json:"type"`
	Attempt   int           `json:"attempt,omitempty"`
	Reason    string        `json:"reason,omitempty"`
	Template  string        `json:"template,omitempty"`
	Recipient string        `json:"recipient"`
}

// Projection returns the full contact plan for a household if it never responds.
func (p *Planner) Projection(h *model.Household) []PlanStep {
	steps := []PlanStep{
		{After: 0, Type: StepCall, Attempt: 1, Recipient: h.Phone},
		{After: p.th.SecondCall, Stage: StageSecondCall, Type: StepCall, Attempt: 2, Recipient: h.Phone},
		{After: p.th.SecondCall, Stage: StageSecondCall, Type: StepSMS, Reason: ReasonReminder, Recipient: h.Phone},
	}
	steps = append(steps, contactSteps(p.th.FamilyNotify, StageFamilyNotify, h.ContactsOfType(model.ContactFamily))...)
	steps = append(steps, contactSteps(p.th.NeighborNotify, StageNeighborNotify, h.ContactsOfType(model.ContactNeighbor))...)
	return steps
}

// Message reasons and templates shared by the jobs and the projection.
const (
	ReasonFirstCallFailed = "first_call_failed"
	ReasonReminder        = "second_call_reminder"
	ReasonFamily          = "family_notify"
	ReasonNeighbor        = "neighbor_notify"
	TemplateFamily        = "family_alert"
	TemplateNeighbor      = "neighbor_alert"
)

func contactSteps(after time.Duration, stage Stage, contacts []model.Contact) []PlanStep {
	reason, template := ReasonFamily, TemplateFamily
	if stage == StageNeighborNotify {
		reason, template = ReasonNeighbor, TemplateNeighbor
	}

	var steps []PlanStep
	for _, c := range contacts {
		if c.ChatHandle != "" {
			steps = append(steps, PlanStep{After: after, Stage: stage, Type: StepPush, Template: template, Recipient: c.ChatHandle})
		}
		if c.Phone != "" {
			steps = append(steps, PlanStep{After: after, Stage: stage, Type: StepSMS, Reason: reason, Recipient: c.Phone})
		}
	}
	return steps
}
