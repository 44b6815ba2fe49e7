package ops

import (
	"context"
	"errors"
	"time"
)

// EventType identifies why staff are being notified.
type EventType string

const (
	EventAlertEscalated EventType = "alert_escalated" // Neighbor stage reached without a response
	EventHelpRequested  EventType = "help_requested"  // Resident pressed 3 on the IVR
)

// Event is a staff-facing notification about a household.
type Event struct {
	Type        EventType `json:"type"`
	AlertID     string    `json:"alert_id"`
	HouseholdID string    `json:"household_id"`
	Household   string    `json:"household,omitempty"`
	Phone       string    `json:"phone,omitempty"`
	Grid        string    `json:"grid,omitempty"`
	HeatLevel   string    `json:"heat_level,omitempty"`
	Elapsed     string    `json:"elapsed,omitempty"`
	Message     string    `json:"message,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// Notifier sends staff events to external systems.
type Notifier interface {
	// Name returns the notifier identifier.
	Name() string

	// Notify delivers an event. Implementations must be safe for concurrent use.
	Notify(ctx context.Context, event Event) error
}

// Multi fans an event out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Name() string { return "multi" }

func (m Multi) Notify(ctx context.Context, event Event) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop discards events.
type Nop struct{}

func (Nop) Name() string                        { return "nop" }
func (Nop) Notify(context.Context, Event) error { return nil }
