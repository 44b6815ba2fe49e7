// Package sequence runs a scripted contact sequence (first call unanswered, SMS,
// delayed second call with a chosen keypress) to exercise the alert workflow
// without live providers or real escalation delays.
package sequence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/ogulcanaydogan/heatwatch/pkg/escalation"
	"github.com/ogulcanaydogan/heatwatch/pkg/inbound"
	"github.com/ogulcanaydogan/heatwatch/pkg/model"
	"github.com/ogulcanaydogan/heatwatch/pkg/storage"
)

var (
	// ErrNotFound is returned for an unknown sequence id.
	ErrNotFound = errors.New("sequence not found")
	// ErrNotRunning is returned when cancelling a finished sequence.
	ErrNotRunning = errors.New("sequence not running")
)

// Status is the lifecycle state of a sequence.
type Status string

const (
	StatusRunning   Status = "running"
	StatusDone      Status = "done"
	StatusCancelled Status = "cancelled"
	StatusFailed    Status = "failed"
)

const (
	StepCall = "call"
	StepSMS  = "sms"
)

// Request describes one scripted sequence.
type Request struct {
	AlertID     string        `json:"alert_id,omitempty"`
	HouseholdID string        `json:"household_id,omitempty"`
	Delay       time.Duration `json:"-"`
	DelayMs     int64         `json:"delay_ms"`
	// FinalDTMF is the digit pressed on the second call. Empty means no answer.
	FinalDTMF string `json:"final_dtmf,omitempty"`
}

func (r Request) delay() time.Duration {
	if r.Delay > 0 {
		return r.Delay
	}
	return time.Duration(r.DelayMs) * time.Millisecond
}

// Step is one recorded contact.
type Step struct {
	Type    string    `json:"type"`
	Attempt int       `json:"attempt,omitempty"`
	Result  string    `json:"result,omitempty"`
	TS      time.Time `json:"ts"`
}

// View is a snapshot of a sequence.
type View struct {
	ID        string    `json:"sequence_id"`
	Status    Status    `json:"status"`
	Steps     []Step    `json:"steps"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Keypresser applies an IVR result. *inbound.Handler satisfies it.
type Keypresser interface {
	HandleKeypress(ctx context.Context, ev inbound.KeypressEvent) (inbound.Result, error)
}

type run struct {
	view  View
	req   Request
	alert *model.Alert
	phone string
	timer clockwork.Timer
}

// Orchestrator runs sequences. It is safe for concurrent use.
type Orchestrator struct {
	store    storage.Store
	keypress Keypresser
	clock    clockwork.Clock
	logger   *slog.Logger

	mu   sync.Mutex
	runs map[string]*run
}

// NewOrchestrator creates an orchestrator. When keypress is nil call outcomes are
// recorded on the call logs without touching alert status.
func NewOrchestrator(store storage.Store, keypress Keypresser, clock clockwork.Clock, logger *slog.Logger) *Orchestrator {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Orchestrator{
		store:    store,
		keypress: keypress,
		clock:    clock,
		logger:   logger,
		runs:     make(map[string]*run),
	}
}

// Start records the first call (no answer) and the SMS, schedules the second call
// after the request delay and returns the sequence id.
func (o *Orchestrator) Start(ctx context.Context, req Request) (string, error) {
	r := &run{req: req}
	if req.AlertID != "" {
		alert, err := o.store.GetAlert(ctx, req.AlertID)
		if err != nil {
			return "", fmt.Errorf("start sequence: %w", err)
		}
		r.alert = alert
		if req.HouseholdID == "" {
			req.HouseholdID = alert.HouseholdID
		}
	}
	if req.HouseholdID != "" {
		h, err := o.store.GetHousehold(ctx, req.HouseholdID)
		if err != nil {
			return "", fmt.Errorf("start sequence: %w", err)
		}
		r.phone = h.Phone
	}

	now := o.clock.Now()
	r.view = View{ID: uuid.New().String(), Status: StatusRunning, CreatedAt: now}

	if err := o.call(ctx, r, 1, ""); err != nil {
		return "", err
	}
	if err := o.sms(ctx, r); err != nil {
		return "", err
	}

	o.mu.Lock()
	o.runs[r.view.ID] = r
	r.timer = o.clock.AfterFunc(req.delay(), func() { o.finish(r.view.ID) })
	o.mu.Unlock()

	o.logger.Info("sequence started", "sequence", r.view.ID, "alert", req.AlertID, "delay", req.delay())
	return r.view.ID, nil
}

// Get returns a snapshot of the sequence.
func (o *Orchestrator) Get(id string) (View, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	r, ok := o.runs[id]
	if !ok {
		return View{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	v := r.view
	v.Steps = append([]Step(nil), r.view.Steps...)
	return v, nil
}

// Cancel stops a running sequence before its second call.
func (o *Orchestrator) Cancel(id string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	r, ok := o.runs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if r.view.Status != StatusRunning {
		return fmt.Errorf("%w: %s is %s", ErrNotRunning, id, r.view.Status)
	}
	r.timer.Stop()
	r.view.Status = StatusCancelled
	o.logger.Info("sequence cancelled", "sequence", id)
	return nil
}

func (o *Orchestrator) finish(id string) {
	o.mu.Lock()
	r, ok := o.runs[id]
	if !ok || r.view.Status != StatusRunning {
		o.mu.Unlock()
		return
	}
	o.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	err := o.call(ctx, r, 2, r.req.FinalDTMF)

	o.mu.Lock()
	defer o.mu.Unlock()
	if r.view.Status != StatusRunning {
		return
	}
	if err != nil {
		r.view.Status = StatusFailed
		r.view.Error = err.Error()
		o.logger.Error("sequence failed", "sequence", id, "error", err)
		return
	}
	r.view.Status = StatusDone
	o.logger.Info("sequence done", "sequence", id, "steps", len(r.view.Steps))
}

// call records a voice call attempt answered with digit. The first attempt always
// records "noanswer"; the second records the digit itself.
func (o *Orchestrator) call(ctx context.Context, r *run, attempt int, digit string) error {
	now := o.clock.Now()
	_, outcome := escalation.KeypressOutcome(digit)
	step := Step{Type: StepCall, Attempt: attempt, Result: string(outcome), TS: now}
	if attempt > 1 && digit != "" {
		step.Result = digit
	}

	if r.alert != nil {
		log := &model.CallLog{
			AlertID:        r.alert.ID,
			Attempt:        attempt,
			Result:         model.CallPending,
			ProviderCallID: fmt.Sprintf("seq-%s-%d", r.view.ID, attempt),
			CreatedAt:      now,
		}
		if o.keypress == nil {
			log.Result, log.Digit = outcome, digit
		}
		if err := o.store.RecordCall(ctx, log); err != nil {
			return fmt.Errorf("record call log: %w", err)
		}
		if o.keypress != nil {
			res, err := o.keypress.HandleKeypress(ctx, inbound.KeypressEvent{CallID: log.ProviderCallID, Digit: digit})
			if err != nil {
				return fmt.Errorf("apply keypress: %w", err)
			}
			o.logger.Debug("sequence keypress", "sequence", r.view.ID, "attempt", attempt, "status", res.Status, "reason", res.Reason)
		}
	}

	o.mu.Lock()
	r.view.Steps = append(r.view.Steps, step)
	o.mu.Unlock()
	return nil
}

func (o *Orchestrator) sms(ctx context.Context, r *run) error {
	now := o.clock.Now()
	if r.alert != nil {
		n := &model.Notification{
			AlertID:           r.alert.ID,
			Channel:           model.ChannelSMS,
			Recipient:         r.phone,
			Status:            model.NotificationSent,
			ProviderMessageID: fmt.Sprintf("seq-%s-sms", r.view.ID),
			Content:           map[string]string{"reason": escalation.ReasonFirstCallFailed},
			CreatedAt:         now,
		}
		if err := o.store.RecordNotification(ctx, n); err != nil {
			return fmt.Errorf("record notification: %w", err)
		}
	}

	o.mu.Lock()
	r.view.Steps = append(r.view.Steps, Step{Type: StepSMS, TS: now})
	o.mu.Unlock()
	return nil
}
