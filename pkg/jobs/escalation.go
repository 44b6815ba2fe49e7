package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ogulcanaydogan/heatwatch/pkg/channels"
	"github.com/ogulcanaydogan/heatwatch/pkg/escalation"
	"github.com/ogulcanaydogan/heatwatch/pkg/model"
	"github.com/ogulcanaydogan/heatwatch/pkg/ops"
)

// EscalationName is the scheduler name of the escalation job.
const EscalationName = "escalation"

// DefaultParallelism bounds how many alerts one escalation pass processes at once.
const DefaultParallelism = 8

// EscalationJob moves unanswered alerts through the escalation stages.
type EscalationJob struct {
	deps        Deps
	planner     *escalation.Planner
	ops         ops.Notifier
	parallelism int
	running     atomic.Bool
}

// NewEscalationJob creates the job. A nil notifier discards staff events.
func NewEscalationJob(deps Deps, planner *escalation.Planner, notifier ops.Notifier, parallelism int) *EscalationJob {
	if notifier == nil {
		notifier = ops.Nop{}
	}
	if parallelism <= 0 {
		parallelism = DefaultParallelism
	}
	return &EscalationJob{deps: deps, planner: planner, ops: notifier, parallelism: parallelism}
}

// Run processes today's open and unanswered alerts. A run that overlaps a previous
// one returns immediately.
func (j *EscalationJob) Run(ctx context.Context) error {
	if !j.running.CompareAndSwap(false, true) {
		j.deps.Metrics.JobSkipped(EscalationName)
		j.deps.Logger.Warn("escalation pass already running, skipped")
		return nil
	}
	defer j.running.Store(false)

	now := j.deps.now()
	alerts, err := j.deps.Store.ListAlerts(ctx, model.AlertFilter{
		Date:     model.DateOf(now),
		Statuses: []model.AlertStatus{model.StatusOpen, model.StatusUnanswered},
	})
	if err != nil {
		return fmt.Errorf("list alerts: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(j.parallelism)
	for i := range alerts {
		a := alerts[i]
		g.Go(func() error {
			if err := j.Process(gctx, &a, now); err != nil {
				j.deps.Logger.Error("escalation failed", "alert", a.ID, "error", err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Process executes at most one due stage for the alert.
func (j *EscalationJob) Process(ctx context.Context, a *model.Alert, now time.Time) error {
	elapsed := now.Sub(a.FirstTriggeredAt)
	stage := j.planner.Next(elapsed, a.Stages)
	if stage == escalation.StageNone {
		return nil
	}
	logger := j.deps.Logger.With("alert", a.ID, "stage", stage, "elapsed", elapsed.Round(time.Second))
	if skipped := j.planner.Skipped(stage, a.Stages); len(skipped) > 0 {
		logger.Warn("escalation stages skipped", "skipped", skipped)
	}

	h, err := j.deps.Store.GetHousehold(ctx, a.HouseholdID)
	if err != nil {
		return fmt.Errorf("get household: %w", err)
	}

	if !j.perform(ctx, logger, a, h, stage) {
		logger.Warn("escalation stage not delivered, retrying next pass")
		return nil
	}

	escalated, err := j.commit(ctx, a.ID, stage, now)
	if err != nil {
		return err
	}
	j.deps.Metrics.StageFired(string(stage))

	if escalated {
		err := j.ops.Notify(ctx, ops.Event{
			Type:        ops.EventAlertEscalated,
			AlertID:     a.ID,
			HouseholdID: h.ID,
			Household:   h.Name,
			Phone:       h.Phone,
			Grid:        h.Grid,
			HeatLevel:   string(a.HeatLevel),
			Elapsed:     elapsed.Round(time.Minute).String(),
			Message:     "no response from household after neighbor notification",
			OccurredAt:  now,
		})
		if err != nil {
			logger.Error("ops notification failed", "notifier", j.ops.Name(), "error", err)
		}
	}
	return nil
}

// perform runs the stage action and reports whether anything reached a recipient. A
// stage whose contacts have no reachable channel counts as delivered.
func (j *EscalationJob) perform(ctx context.Context, logger *slog.Logger, a *model.Alert, h *model.Household, stage escalation.Stage) bool {
	switch stage {
	case escalation.StageNeighborNotify:
		return j.notifyContacts(ctx, logger, a, h.ContactsOfType(model.ContactNeighbor), escalation.TemplateNeighbor, escalation.ReasonNeighbor)
	case escalation.StageFamilyNotify:
		return j.notifyContacts(ctx, logger, a, h.ContactsOfType(model.ContactFamily), escalation.TemplateFamily, escalation.ReasonFamily)
	case escalation.StageSecondCall:
		delivered := true
		if _, err := j.deps.Dispatcher.Call(ctx, a, h.Phone, 2); err != nil {
			logger.Warn("second call failed", "error", err)
			delivered = false
		}
		_, err := j.deps.Dispatcher.Notify(ctx, channels.Message{
			Channel:   model.ChannelSMS,
			TenantID:  a.TenantID,
			AlertID:   a.ID,
			Recipient: h.Phone,
			Reason:    escalation.ReasonReminder,
		})
		if err != nil {
			logger.Warn("reminder sms failed", "error", err)
			return delivered
		}
		return true
	}
	return true
}

func (j *EscalationJob) notifyContacts(ctx context.Context, logger *slog.Logger, a *model.Alert, contacts []model.Contact, template, reason string) bool {
	reachable := 0
	for _, c := range contacts {
		reachable += len(channels.ContactMessages(c, channels.Message{}, template, reason))
	}
	sent := j.deps.Dispatcher.NotifyContacts(ctx, a, contacts, template, reason)
	logger.Info("contacts notified", "template", template, "sent", sent, "reachable", reachable)
	return reachable == 0 || sent > 0
}

// commit re-reads the alert, marks the stage flag and, for the neighbor stage, moves the
// alert to escalated. An alert closed by an inbound event in the meantime keeps its status.
func (j *EscalationJob) commit(ctx context.Context, id string, stage escalation.Stage, now time.Time) (bool, error) {
	fresh, err := j.deps.Store.GetAlert(ctx, id)
	if err != nil {
		return false, fmt.Errorf("reload alert: %w", err)
	}

	switch stage {
	case escalation.StageNeighborNotify:
		fresh.Stages.NeighborNotified.Mark(now)
	case escalation.StageFamilyNotify:
		fresh.Stages.FamilyNotified.Mark(now)
	case escalation.StageSecondCall:
		fresh.Stages.SecondCallMade.Mark(now)
	}
	fresh.UpdatedAt = now

	escalated := false
	if stage == escalation.StageNeighborNotify && escalation.Can(fresh, escalation.EventEscalate) {
		changed, err := escalation.Apply(ctx, fresh, escalation.EventEscalate, now)
		if err != nil {
			return false, err
		}
		escalated = changed
	} else if escalation.IsTerminal(fresh.Status) {
		j.deps.Logger.Info("alert closed during escalation, status kept", "alert", id, "status", fresh.Status)
	}

	if err := j.deps.Store.UpdateAlert(ctx, fresh); err != nil {
		return false, fmt.Errorf("update alert: %w", err)
	}
	return escalated, nil
}
