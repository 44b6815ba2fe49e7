package escalation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/looplab/fsm"
	"github.com/ogulcanaydogan/heatwatch/pkg/model"
)

// ErrInvalidTransition is returned when an event is not allowed from the alert's status.
var ErrInvalidTransition = errors.New("invalid alert transition")

// Event drives an alert status transition.
type Event string

const (
	EventNoAnswer    Event = "no_answer"
	EventAnswerOK    Event = "answer_ok"
	EventAnswerTired Event = "answer_tired"
	EventAnswerHelp  Event = "answer_help"
	EventEscalate    Event = "escalate"
	EventResolve     Event = "resolve"
)

func states(s ...model.AlertStatus) []string {
	out := make([]string, len(s))
	for i, st := range s {
		out[i] = string(st)
	}
	return out
}

var alertEvents = fsm.Events{
	{Name: string(EventNoAnswer), Src: states(model.StatusOpen, model.StatusUnanswered), Dst: string(model.StatusUnanswered)},
	{Name: string(EventAnswerOK), Src: states(model.StatusOpen, model.StatusUnanswered, model.StatusTired), Dst: string(model.StatusOK)},
	{Name: string(EventAnswerTired), Src: states(model.StatusOpen, model.StatusUnanswered, model.StatusTired), Dst: string(model.StatusTired)},
	{Name: string(EventAnswerHelp), Src: states(model.StatusOpen, model.StatusUnanswered, model.StatusTired), Dst: string(model.StatusHelp)},
	{Name: string(EventEscalate), Src: states(model.StatusOpen, model.StatusUnanswered), Dst: string(model.StatusEscalated)},
	{Name: string(EventResolve), Src: states(model.StatusOpen, model.StatusUnanswered, model.StatusTired, model.StatusEscalated), Dst: string(model.StatusOK)},
}

// IsTerminal reports whether no further transition is possible.
func IsTerminal(s model.AlertStatus) bool {
	return s == model.StatusOK || s == model.StatusHelp
}

// IsAutomationTerminal reports whether the automated workflow is finished with the alert.
// Escalated alerts can still be resolved manually.
func IsAutomationTerminal(s model.AlertStatus) bool {
	return IsTerminal(s) || s == model.StatusEscalated
}

// Can reports whether ev is allowed from the alert's current status.
func Can(a *model.Alert, ev Event) bool {
	return fsm.NewFSM(string(a.Status), alertEvents, nil).Can(string(ev))
}

// Apply fires ev on the alert and mutates it in place.
// Entering ok or help stamps ClosedAt and clears InProgress.
// It returns false with a nil error when the alert is already in the target status.
func Apply(ctx context.Context, a *model.Alert, ev Event, now time.Time) (bool, error) {
	machine := fsm.NewFSM(string(a.Status), alertEvents, fsm.Callbacks{
		"enter_" + string(model.StatusOK):   func(_ context.Context, _ *fsm.Event) { closeAlert(a, now) },
		"enter_" + string(model.StatusHelp): func(_ context.Context, _ *fsm.Event) { closeAlert(a, now) },
	})

	err := machine.Event(ctx, string(ev))
	if err != nil {
		var noTransition fsm.NoTransitionError
		if errors.As(err, &noTransition) {
			return false, nil
		}
		var invalid fsm.InvalidEventError
		if errors.As(err, &invalid) {
			return false, fmt.Errorf("%w: %s from %s", ErrInvalidTransition, ev, a.Status)
		}
		return false, fmt.Errorf("alert %s: %w", a.ID, err)
	}

	a.Status = model.AlertStatus(machine.Current())
	a.UpdatedAt = now
	return true, nil
}

func closeAlert(a *model.Alert, now time.Time) {
	a.InProgress = false
	closed := now
	a.ClosedAt = &closed
}

// KeypressOutcome maps a DTMF digit to its transition and call result.
// Anything other than 1, 2 or 3 (including an empty timeout) is treated as no answer.
func KeypressOutcome(digit string) (Event, model.CallResult) {
	switch digit {
	case "1":
		return EventAnswerOK, model.CallOK
	case "2":
		return EventAnswerTired, model.CallTired
	case "3":
		return EventAnswerHelp, model.CallHelp
	default:
		return EventNoAnswer, model.CallNoAnswer
	}
}
