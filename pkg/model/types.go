package model

import (
	"fmt"
	"sort"
	"time"
)

// DateLayout is the calendar-date format used to bucket alerts per day.
const DateLayout = "2006-01-02"

// HeatLevel is a computed heat-stress severity tier.
type HeatLevel string

const (
	LevelCaution       HeatLevel = "caution"
	LevelWarning       HeatLevel = "warning"
	LevelSevereWarning HeatLevel = "severe-warning"
	LevelDanger        HeatLevel = "danger"
)

// levelRank orders the severity scale. Unknown levels have rank 0.
var levelRank = map[HeatLevel]int{
	LevelCaution:       1,
	LevelWarning:       2,
	LevelSevereWarning: 3,
	LevelDanger:        4,
}

// Rank returns the position of the level on the severity scale, or 0 if unknown.
func (l HeatLevel) Rank() int { return levelRank[l] }

// Valid reports whether the level is on the severity scale.
func (l HeatLevel) Valid() bool { return l.Rank() > 0 }

// ContactType classifies who a contact is to the household.
type ContactType string

const (
	ContactFamily   ContactType = "family"
	ContactNeighbor ContactType = "neighbor"
	ContactStaff    ContactType = "staff"
)

// Contact is a person to reach when the household does not respond.
type Contact struct {
	Type       ContactType `json:"type" yaml:"type"`
	Name       string      `json:"name,omitempty" yaml:"name,omitempty"`
	Priority   int         `json:"priority" yaml:"priority"`
	Phone      string      `json:"phone,omitempty" yaml:"phone,omitempty"`
	ChatHandle string      `json:"chat_handle,omitempty" yaml:"chat_handle,omitempty"`
}

// Household is a registered at-risk residence.
type Household struct {
	ID        string    `json:"id" db:"id" yaml:"id"`
	TenantID  string    `json:"tenant_id,omitempty" db:"tenant_id" yaml:"tenant_id,omitempty"`
	Name      string    `json:"name" db:"name" yaml:"name"`
	Phone     string    `json:"phone" db:"phone" yaml:"phone"`
	Grid      string    `json:"grid" db:"grid" yaml:"grid"`
	AtRisk    bool      `json:"at_risk" db:"at_risk" yaml:"at_risk"`
	Contacts  []Contact `json:"contacts,omitempty" db:"contacts" yaml:"contacts,omitempty"`
	CreatedAt time.Time `json:"created_at" db:"created_at" yaml:"-"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at" yaml:"-"`
}

// Validate checks the household's required fields and contact priorities.
func (h *Household) Validate() error {
	if h.Phone == "" {
		return fmt.Errorf("household %q: phone is required", h.ID)
	}
	if h.Grid == "" {
		return fmt.Errorf("household %q: grid is required", h.ID)
	}
	for i, c := range h.Contacts {
		switch c.Type {
		case ContactFamily, ContactNeighbor, ContactStaff:
		default:
			return fmt.Errorf("household %q: contact %d has unknown type %q", h.ID, i, c.Type)
		}
		if c.Priority < 1 {
			return fmt.Errorf("household %q: contact %d priority must be >= 1", h.ID, i)
		}
	}
	return nil
}

// ContactsOfType returns contacts of the given type ordered by priority.
func (h *Household) ContactsOfType(t ContactType) []Contact {
	var out []Contact
	for _, c := range h.Contacts {
		if c.Type == t {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out
}

// AlertStatus is the lifecycle state of an alert.
type AlertStatus string

const (
	StatusOpen       AlertStatus = "open"
	StatusUnanswered AlertStatus = "unanswered"
	StatusOK         AlertStatus = "ok"
	StatusTired      AlertStatus = "tired"
	StatusHelp       AlertStatus = "help"
	StatusEscalated  AlertStatus = "escalated"
)

// StageFlag records whether an escalation stage has fired.
type StageFlag struct {
	Done bool       `json:"done"`
	At   *time.Time `json:"at,omitempty"`
}

// Mark sets the flag. It is a no-op when the flag is already set.
func (f *StageFlag) Mark(at time.Time) {
	if f.Done {
		return
	}
	f.Done = true
	f.At = &at
}

// Stages holds the one-shot escalation flags for an alert.
type Stages struct {
	SecondCallMade   StageFlag `json:"second_call_made"`
	FamilyNotified   StageFlag `json:"family_notified"`
	NeighborNotified StageFlag `json:"neighbor_notified"`
}

// Alert is a single day's heat alert for a household.
type Alert struct {
	ID               string      `json:"id" db:"id"`
	TenantID         string      `json:"tenant_id,omitempty" db:"tenant_id"`
	HouseholdID      string      `json:"household_id" db:"household_id"`
	Date             string      `json:"date" db:"date"`
	HeatLevel        HeatLevel   `json:"heat_level" db:"heat_level"`
	WBGT             float64     `json:"wbgt,omitempty" db:"wbgt"`
	Status           AlertStatus `json:"status" db:"status"`
	FirstTriggeredAt time.Time   `json:"first_triggered_at" db:"first_triggered_at"`
	ClosedAt         *time.Time  `json:"closed_at,omitempty" db:"closed_at"`
	InProgress       bool        `json:"in_progress" db:"in_progress"`
	Stages           Stages      `json:"stages" db:"stages"`
	UpdatedAt        time.Time   `json:"updated_at" db:"updated_at"`
}

// CallResult is the outcome of a voice call attempt.
type CallResult string

const (
	CallPending  CallResult = "pending"
	CallOK       CallResult = "ok"
	CallNoAnswer CallResult = "noanswer"
	CallBusy     CallResult = "busy"
	CallFailed   CallResult = "failed"
	CallHelp     CallResult = "help"
	CallTired    CallResult = "tired"
)

// CallLog is an append-only record of one voice call attempt.
type CallLog struct {
	ID             string     `json:"id" db:"id"`
	AlertID        string     `json:"alert_id" db:"alert_id"`
	Attempt        int        `json:"attempt" db:"attempt"`
	Result         CallResult `json:"result" db:"result"`
	Digit          string     `json:"digit,omitempty" db:"digit"`
	DurationSec    int        `json:"duration_sec" db:"duration_sec"`
	ProviderCallID string     `json:"provider_call_id,omitempty" db:"provider_call_id"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
}

// Channel is an outbound contact medium.
type Channel string

const (
	ChannelPhone    Channel = "phone"
	ChannelSMS      Channel = "sms"
	ChannelChatPush Channel = "chat-push"
)

// NotificationStatus is the delivery state of a notification.
type NotificationStatus string

const (
	NotificationPending   NotificationStatus = "pending"
	NotificationSent      NotificationStatus = "sent"
	NotificationDelivered NotificationStatus = "delivered"
	NotificationFailed    NotificationStatus = "failed"
)

// Notification is an append-only record of a non-call contact attempt.
type Notification struct {
	ID                string             `json:"id" db:"id"`
	AlertID           string             `json:"alert_id" db:"alert_id"`
	Channel           Channel            `json:"channel" db:"channel"`
	Recipient         string             `json:"recipient" db:"recipient"`
	Status            NotificationStatus `json:"status" db:"status"`
	ProviderMessageID string             `json:"provider_message_id,omitempty" db:"provider_message_id"`
	DeliveredAt       *time.Time         `json:"delivered_at,omitempty" db:"delivered_at"`
	Content           map[string]string  `json:"content,omitempty" db:"content"`
	CreatedAt         time.Time          `json:"created_at" db:"created_at"`
}

// AlertFilter controls which alerts a query returns.
type AlertFilter struct {
	Date        string        `json:"date,omitempty"`
	HouseholdID string        `json:"household_id,omitempty"`
	Statuses    []AlertStatus `json:"statuses,omitempty"`
}

// Matches reports whether the alert satisfies the filter.
func (f AlertFilter) Matches(a *Alert) bool {
	if f.Date != "" && a.Date != f.Date {
		return false
	}
	if f.HouseholdID != "" && a.HouseholdID != f.HouseholdID {
		return false
	}
	if len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if a.Status == s {
			return true
		}
	}
	return false
}

// HouseholdFilter controls which households a query returns.
type HouseholdFilter struct {
	Grid       string `json:"grid,omitempty"`
	AtRiskOnly bool   `json:"at_risk_only,omitempty"`
}

// Matches reports whether the household satisfies the filter.
func (f HouseholdFilter) Matches(h *Household) bool {
	if f.Grid != "" && h.Grid != f.Grid {
		return false
	}
	if f.AtRiskOnly && !h.AtRisk {
		return false
	}
	return true
}

// DateOf returns the calendar date of t in its own location.
func DateOf(t time.Time) string {
	return t.Format(DateLayout)
}
