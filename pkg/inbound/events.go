package inbound

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

var (
	// ErrInvalidEvent is returned for events missing the fields needed to route them.
	ErrInvalidEvent = errors.New("invalid inbound event")
	// ErrUnknownAction is returned for postbacks with an unrecognised action.
	ErrUnknownAction = errors.New("unknown postback action")
)

// Action is a chat postback action.
type Action string

const (
	ActionTakeCare     Action = "take_care"
	ActionDone         Action = "done"
	ActionMarkResolved Action = "mark_resolved"
	ActionViewDetail   Action = "view_detail"
	ActionCall         Action = "call"
)

// Result reasons.
const (
	ReasonApplied           = "applied"
	ReasonTerminal          = "terminal"
	ReasonDuplicate         = "duplicate"
	ReasonNoChange          = "no_change"
	ReasonInvalidTransition = "invalid_transition"
	ReasonReplyOnly         = "reply_only"
)

// KeypressEvent is the IVR result of a voice call.
type KeypressEvent struct {
	EventID string `json:"event_id,omitempty"`
	// CallID is the provider call id. When empty the call is located by AlertID and Attempt.
	CallID      string `json:"call_id,omitempty"`
	AlertID     string `json:"alert_id,omitempty"`
	Attempt     int    `json:"attempt,omitempty"`
	Digit       string `json:"digit"`
	DurationSec int    `json:"duration_sec,omitempty"`
}

func (e KeypressEvent) validate() error {
	if e.CallID == "" && e.AlertID == "" {
		return fmt.Errorf("%w: keypress needs call_id or alert_id", ErrInvalidEvent)
	}
	return nil
}

// Postback is a button action from a chat message.
type Postback struct {
	EventID string `json:"event_id,omitempty"`
	Action  Action `json:"action"`
	AlertID string `json:"alert_id"`
	// UserID is the chat handle of the person who pressed the button.
	UserID string `json:"user_id,omitempty"`
}

// ParsePostback decodes the URL-encoded postback data "action=..&alert_id=..".
func ParsePostback(data string) (Postback, error) {
	values, err := url.ParseQuery(strings.TrimSpace(data))
	if err != nil {
		return Postback{}, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	pb := Postback{
		Action:  Action(values.Get("action")),
		AlertID: values.Get("alert_id"),
	}
	if err := pb.validate(); err != nil {
		return Postback{}, err
	}
	return pb, nil
}

func (p Postback) validate() error {
	if p.AlertID == "" {
		return fmt.Errorf("%w: postback needs alert_id", ErrInvalidEvent)
	}
	switch p.Action {
	case ActionTakeCare, ActionDone, ActionMarkResolved, ActionViewDetail, ActionCall:
		return nil
	case "":
		return fmt.Errorf("%w: postback needs action", ErrInvalidEvent)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAction, p.Action)
	}
}

// StatusCallback is a provider delivery report for a message or a call.
type StatusCallback struct {
	EventID    string    `json:"event_id,omitempty"`
	ProviderID string    `json:"provider_id"`
	Status     string    `json:"status"`
	At         time.Time `json:"at,omitempty"`
}

func (s StatusCallback) validate() error {
	if s.ProviderID == "" || s.Status == "" {
		return fmt.Errorf("%w: status callback needs provider_id and status", ErrInvalidEvent)
	}
	return nil
}

// Result describes what an inbound event did.
type Result struct {
	Applied bool   `json:"applied"`
	AlertID string `json:"alert_id,omitempty"`
	Status  string `json:"status,omitempty"`
	Reason  string `json:"reason"`
	// Reply is text to return to the chat user, if any.
	Reply string `json:"reply,omitempty"`
}
