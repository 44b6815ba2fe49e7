// Package inbound applies provider callbacks (IVR keypresses, chat postbacks and
// delivery reports) to alerts. Each event is applied once: terminal alerts
// ignore further events and event ids can be deduplicated across deliveries.
package inbound

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/ogulcanaydogan/heatwatch/pkg/channels"
	"github.com/ogulcanaydogan/heatwatch/pkg/contact"
	"github.com/ogulcanaydogan/heatwatch/pkg/dedupe"
	"github.com/ogulcanaydogan/heatwatch/pkg/escalation"
	"github.com/ogulcanaydogan/heatwatch/pkg/metrics"
	"github.com/ogulcanaydogan/heatwatch/pkg/model"
	"github.com/ogulcanaydogan/heatwatch/pkg/ops"
	"github.com/ogulcanaydogan/heatwatch/pkg/storage"
)

const (
	// DefaultDedupeTTL is how long an event id is remembered.
	DefaultDedupeTTL  = 24 * time.Hour
	sideEffectTimeout = 30 * time.Second
)

const (
	kindKeypress = "keypress"
	kindPostback = "postback"
	kindStatus   = "status"
)

// Handler applies inbound events. Slow side effects run in the background after
// the Handle call returns; use Wait to drain them.
type Handler struct {
	store      storage.Store
	dispatcher *contact.Dispatcher
	ops        ops.Notifier
	dedupe     dedupe.Store
	dedupeTTL  time.Duration
	clock      clockwork.Clock
	logger     *slog.Logger
	metrics    *metrics.Metrics

	wg sync.WaitGroup
}

// NewHandler creates a handler. dd may be nil to disable event id deduplication,
// and a nil notifier discards staff events.
func NewHandler(store storage.Store, dispatcher *contact.Dispatcher, notifier ops.Notifier, dd dedupe.Store, clock clockwork.Clock, logger *slog.Logger, m *metrics.Metrics) *Handler {
	if notifier == nil {
		notifier = ops.Nop{}
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Handler{
		store:      store,
		dispatcher: dispatcher,
		ops:        notifier,
		dedupe:     dd,
		dedupeTTL:  DefaultDedupeTTL,
		clock:      clock,
		logger:     logger,
		metrics:    m,
	}
}

// Wait blocks until background side effects have finished.
func (h *Handler) Wait() {
	h.wg.Wait()
}

// SetDedupeTTL overrides how long event ids are remembered. Non-positive values are ignored.
func (h *Handler) SetDedupeTTL(ttl time.Duration) {
	if ttl > 0 {
		h.dedupeTTL = ttl
	}
}

// HandleKeypress moves the alert by the IVR digit (1 to ok, 2 to tired, 3 to help,
// anything else to unanswered) and records the digit on the call log. A digit the
// alert cannot accept leaves the call log untouched.
func (h *Handler) HandleKeypress(ctx context.Context, ev KeypressEvent) (Result, error) {
	if err := ev.validate(); err != nil {
		return Result{}, err
	}
	return h.once(ctx, kindKeypress, ev.EventID, ev.AlertID, func() (Result, error) {
		return h.keypress(ctx, ev)
	})
}

func (h *Handler) keypress(ctx context.Context, ev KeypressEvent) (Result, error) {
	call, err := h.findCall(ctx, ev)
	if err != nil {
		return Result{}, err
	}
	alertID := ev.AlertID
	if call != nil {
		alertID = call.AlertID
	}

	alert, err := h.store.GetAlert(ctx, alertID)
	if err != nil {
		return Result{}, fmt.Errorf("keypress: %w", err)
	}
	if escalation.IsTerminal(alert.Status) {
		return h.done(kindKeypress, terminal(alert)), nil
	}

	event, outcome := escalation.KeypressOutcome(ev.Digit)
	res, err := h.transition(ctx, alert, event)
	if err != nil {
		return Result{}, err
	}
	if call != nil && res.Reason != ReasonInvalidTransition {
		call.Digit = ev.Digit
		call.Result = outcome
		call.DurationSec = ev.DurationSec
		if err := h.store.UpdateCall(ctx, call); err != nil {
			h.logger.Error("update call log failed", "alert", alert.ID, "call", call.ID, "error", err)
		}
	}
	if !res.Applied {
		return h.done(kindKeypress, res), nil
	}
	h.logger.Info("keypress applied", "alert", alert.ID, "digit", ev.Digit, "status", alert.Status)

	switch alert.Status {
	case model.StatusOK:
		h.acknowledge(*alert, "ack_ok")
	case model.StatusTired:
		h.acknowledge(*alert, "ack_tired")
	case model.StatusHelp:
		h.acknowledge(*alert, "ack_help")
		h.requestHelp(*alert)
	}
	return h.done(kindKeypress, res), nil
}

// HandlePostback applies a chat button action from a family member or neighbor.
func (h *Handler) HandlePostback(ctx context.Context, pb Postback) (Result, error) {
	if err := pb.validate(); err != nil {
		return Result{}, err
	}
	return h.once(ctx, kindPostback, pb.EventID, pb.AlertID, func() (Result, error) {
		return h.postback(ctx, pb)
	})
}

func (h *Handler) postback(ctx context.Context, pb Postback) (Result, error) {
	alert, err := h.store.GetAlert(ctx, pb.AlertID)
	if err != nil {
		return Result{}, fmt.Errorf("postback: %w", err)
	}
	if escalation.IsTerminal(alert.Status) {
		res := terminal(alert)
		res.Reply = "This alert has already been closed. Thank you."
		return h.done(kindPostback, res), nil
	}

	var res Result
	switch pb.Action {
	case ActionTakeCare:
		res = Result{AlertID: alert.ID, Status: string(alert.Status), Reason: ReasonNoChange}
		if !alert.InProgress {
			alert.InProgress = true
			alert.UpdatedAt = h.clock.Now()
			if err := h.store.UpdateAlert(ctx, alert); err != nil {
				return Result{}, fmt.Errorf("update alert: %w", err)
			}
			res.Applied, res.Reason = true, ReasonApplied
		}
		res.Reply = "Thank you for checking on them. Please press done once you have confirmed they are safe."

	case ActionDone, ActionMarkResolved:
		res, err = h.transition(ctx, alert, escalation.EventResolve)
		if err != nil {
			return Result{}, err
		}
		res.Reply = "Marked as resolved. Thank you for your help."

	case ActionViewDetail, ActionCall:
		hh, err := h.store.GetHousehold(ctx, alert.HouseholdID)
		if err != nil {
			return Result{}, fmt.Errorf("postback: %w", err)
		}
		res = Result{AlertID: alert.ID, Status: string(alert.Status), Reason: ReasonReplyOnly}
		if pb.Action == ActionCall {
			res.Reply = fmt.Sprintf("Please call %s at %s.", hh.Name, hh.Phone)
		} else {
			res.Reply = fmt.Sprintf("%s: heat level %s, status %s since %s.",
				hh.Name, alert.HeatLevel, alert.Status, alert.FirstTriggeredAt.Format("15:04"))
		}
	}

	if res.Applied {
		h.logger.Info("postback applied", "alert", alert.ID, "action", pb.Action, "user", pb.UserID)
	}
	return h.done(kindPostback, res), nil
}

// HandleStatus applies a provider delivery report. Message reports advance the
// Notification; call reports set the call result and move an open alert to
// unanswered when the call was not picked up.
func (h *Handler) HandleStatus(ctx context.Context, cb StatusCallback) (Result, error) {
	if err := cb.validate(); err != nil {
		return Result{}, err
	}
	return h.once(ctx, kindStatus, cb.EventID, "", func() (Result, error) {
		return h.status(ctx, cb)
	})
}

func (h *Handler) status(ctx context.Context, cb StatusCallback) (Result, error) {
	at := cb.At
	if at.IsZero() {
		at = h.clock.Now()
	}

	n, err := h.store.FindNotificationByProviderID(ctx, cb.ProviderID)
	switch {
	case err == nil:
		res, err := h.updateNotification(ctx, n, cb.Status, at)
		if err != nil {
			return Result{}, err
		}
		return h.done(kindStatus, res), nil
	case !errors.Is(err, storage.ErrNotFound):
		return Result{}, fmt.Errorf("status callback: %w", err)
	}

	call, err := h.store.FindCallByProviderID(ctx, cb.ProviderID)
	if err != nil {
		return Result{}, fmt.Errorf("status callback: %w", err)
	}
	res, err := h.updateCall(ctx, call, cb.Status)
	if err != nil {
		return Result{}, err
	}
	return h.done(kindStatus, res), nil
}

func (h *Handler) updateNotification(ctx context.Context, n *model.Notification, status string, at time.Time) (Result, error) {
	res := Result{AlertID: n.AlertID, Status: string(n.Status), Reason: ReasonNoChange}
	next, ok := notificationStatus(status)
	if !ok || notificationRank(next) <= notificationRank(n.Status) {
		return res, nil
	}

	n.Status = next
	if next == model.NotificationDelivered {
		delivered := at
		n.DeliveredAt = &delivered
	}
	if err := h.store.UpdateNotification(ctx, n); err != nil {
		return Result{}, fmt.Errorf("update notification: %w", err)
	}
	res.Applied, res.Status, res.Reason = true, string(next), ReasonApplied
	return res, nil
}

func (h *Handler) updateCall(ctx context.Context, call *model.CallLog, status string) (Result, error) {
	alert, err := h.store.GetAlert(ctx, call.AlertID)
	if err != nil {
		return Result{}, fmt.Errorf("status callback: %w", err)
	}
	if escalation.IsTerminal(alert.Status) {
		return terminal(alert), nil
	}

	outcome, ok := callResult(status)
	if !ok || call.Result != model.CallPending {
		return Result{AlertID: alert.ID, Status: string(alert.Status), Reason: ReasonNoChange}, nil
	}
	call.Result = outcome
	if err := h.store.UpdateCall(ctx, call); err != nil {
		return Result{}, fmt.Errorf("update call log: %w", err)
	}

	if outcome == model.CallOK || alert.Status != model.StatusOpen {
		return Result{Applied: true, AlertID: alert.ID, Status: string(alert.Status), Reason: ReasonApplied}, nil
	}
	return h.transition(ctx, alert, escalation.EventNoAnswer)
}

// transition applies ev and persists the alert when it changed.
func (h *Handler) transition(ctx context.Context, alert *model.Alert, ev escalation.Event) (Result, error) {
	res := Result{AlertID: alert.ID, Status: string(alert.Status)}
	changed, err := escalation.Apply(ctx, alert, ev, h.clock.Now())
	switch {
	case errors.Is(err, escalation.ErrInvalidTransition):
		h.logger.Warn("inbound event ignored", "alert", alert.ID, "event", ev, "status", alert.Status)
		res.Reason = ReasonInvalidTransition
		return res, nil
	case err != nil:
		return Result{}, err
	case !changed:
		res.Reason = ReasonNoChange
		return res, nil
	}

	if err := h.store.UpdateAlert(ctx, alert); err != nil {
		return Result{}, fmt.Errorf("update alert: %w", err)
	}
	res.Applied, res.Status, res.Reason = true, string(alert.Status), ReasonApplied
	return res, nil
}

func (h *Handler) findCall(ctx context.Context, ev KeypressEvent) (*model.CallLog, error) {
	if ev.CallID != "" {
		call, err := h.store.FindCallByProviderID(ctx, ev.CallID)
		if err != nil {
			return nil, fmt.Errorf("keypress: %w", err)
		}
		return call, nil
	}

	attempt := ev.Attempt
	if attempt == 0 {
		attempt = 1
	}
	call, err := h.store.FindCall(ctx, ev.AlertID, attempt)
	if errors.Is(err, storage.ErrNotFound) {
		h.logger.Warn("keypress without call log", "alert", ev.AlertID, "attempt", attempt)
		return nil, nil
	}
	return call, err
}

// once runs fn unless the event id was already handled. The id is claimed before fn
// runs and released when fn fails, so a redelivery after an error is applied.
// Dedupe failures are logged and the event is processed.
func (h *Handler) once(ctx context.Context, kind, eventID, alertID string, fn func() (Result, error)) (Result, error) {
	if h.dedupe == nil || eventID == "" {
		return fn()
	}
	key := kind + ":" + eventID
	seen, err := h.dedupe.Seen(ctx, key, h.dedupeTTL)
	if err != nil {
		h.logger.Warn("dedupe unavailable", "kind", kind, "event_id", eventID, "error", err)
		return fn()
	}
	if seen {
		return h.done(kind, Result{AlertID: alertID, Reason: ReasonDuplicate}), nil
	}

	res, err := fn()
	if err != nil {
		if ferr := h.dedupe.Forget(context.WithoutCancel(ctx), key); ferr != nil {
			h.logger.Error("release event id failed", "kind", kind, "event_id", eventID, "error", ferr)
		}
		return Result{}, err
	}
	return res, nil
}

func (h *Handler) done(kind string, res Result) Result {
	h.metrics.InboundEvent(kind, res.Reason)
	return res
}

func terminal(a *model.Alert) Result {
	return Result{AlertID: a.ID, Status: string(a.Status), Reason: ReasonTerminal}
}

// background runs fn after the caller has been answered.
func (h *Handler) background(name string, fn func(ctx context.Context) error) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), sideEffectTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			h.logger.Error("inbound side effect failed", "effect", name, "error", err)
		}
	}()
}

func (h *Handler) acknowledge(alert model.Alert, reason string) {
	if h.dispatcher == nil {
		return
	}
	h.background("acknowledge", func(ctx context.Context) error {
		hh, err := h.store.GetHousehold(ctx, alert.HouseholdID)
		if err != nil {
			return err
		}
		_, err = h.dispatcher.Notify(ctx, channels.Message{
			Channel:   model.ChannelSMS,
			TenantID:  alert.TenantID,
			AlertID:   alert.ID,
			Recipient: hh.Phone,
			Reason:    reason,
		})
		return err
	})
}

func (h *Handler) requestHelp(alert model.Alert) {
	h.background("help_requested", func(ctx context.Context) error {
		ev := ops.Event{
			Type:        ops.EventHelpRequested,
			AlertID:     alert.ID,
			HouseholdID: alert.HouseholdID,
			HeatLevel:   string(alert.HeatLevel),
			Elapsed:     h.clock.Since(alert.FirstTriggeredAt).Round(time.Minute).String(),
			Message:     "resident asked for help on the safety call",
			OccurredAt:  h.clock.Now(),
		}
		if hh, err := h.store.GetHousehold(ctx, alert.HouseholdID); err == nil {
			ev.Household, ev.Phone, ev.Grid = hh.Name, hh.Phone, hh.Grid
		}
		return h.ops.Notify(ctx, ev)
	})
}

func notificationStatus(s string) (model.NotificationStatus, bool) {
	switch s {
	case "queued", "accepted", "sent":
		return model.NotificationSent, true
	case "delivered", "read":
		return model.NotificationDelivered, true
	case "failed", "undelivered", "rejected":
		return model.NotificationFailed, true
	default:
		return "", false
	}
}

// notificationRank orders statuses so late reports never move a notification backwards.
func notificationRank(s model.NotificationStatus) int {
	switch s {
	case model.NotificationSent:
		return 1
	case model.NotificationDelivered, model.NotificationFailed:
		return 2
	default:
		return 0
	}
}

func callResult(s string) (model.CallResult, bool) {
	switch s {
	case "completed", "answered":
		return model.CallOK, true
	case "no-answer", "no_answer", "noanswer":
		return model.CallNoAnswer, true
	case "busy":
		return model.CallBusy, true
	case "failed", "canceled", "cancelled":
		return model.CallFailed, true
	default:
		return "", false
	}
}
