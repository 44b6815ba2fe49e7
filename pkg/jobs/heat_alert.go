package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/ogulcanaydogan/heatwatch/pkg/channels"
	"github.com/ogulcanaydogan/heatwatch/pkg/contact"
	"github.com/ogulcanaydogan/heatwatch/pkg/escalation"
	"github.com/ogulcanaydogan/heatwatch/pkg/heat"
	"github.com/ogulcanaydogan/heatwatch/pkg/metrics"
	"github.com/ogulcanaydogan/heatwatch/pkg/model"
	"github.com/ogulcanaydogan/heatwatch/pkg/retry"
	"github.com/ogulcanaydogan/heatwatch/pkg/rules"
	"github.com/ogulcanaydogan/heatwatch/pkg/storage"
)

// HeatAlertName is the scheduler name of the heat alert job.
const HeatAlertName = "heat_alert"

// DefaultWindows are the local hours at which heat alerts are issued.
var DefaultWindows = []int{9, 13, 17}

// Deps are the collaborators shared by the jobs.
type Deps struct {
	Store      storage.Store
	Dispatcher *contact.Dispatcher
	Executor   *retry.Executor
	Clock      clockwork.Clock
	Logger     *slog.Logger
	Metrics    *metrics.Metrics
	// Location is the local time zone for windows and dates. Nil means time.Local.
	Location *time.Location
}

func (d Deps) now() time.Time {
	loc := d.Location
	if loc == nil {
		loc = time.Local
	}
	return d.Clock.Now().In(loc)
}

// ScanResult summarises one heat alert scan.
type ScanResult struct {
	Grids          int `json:"grids"`
	GridsIssued    int `json:"grids_issued"`
	AlertsCreated  int `json:"alerts_created"`
	CallsPlaced    int `json:"calls_placed"`
	SMSFallbacks   int `json:"sms_fallbacks"`
	HouseholdsSkip int `json:"households_skipped"`
	Failures       int `json:"failures"`
}

// HeatAlertJob opens alerts for at-risk households when the heat level warrants it
// and places the first call.
type HeatAlertJob struct {
	deps    Deps
	source  heat.Source
	engine  *rules.Engine
	windows []int

	mu  sync.Mutex
	ran map[string]bool
}

// NewHeatAlertJob creates the job. Nil or empty windows use DefaultWindows.
func NewHeatAlertJob(deps Deps, source heat.Source, engine *rules.Engine, windows []int) *HeatAlertJob {
	if len(windows) == 0 {
		windows = DefaultWindows
	}
	return &HeatAlertJob{
		deps:    deps,
		source:  source,
		engine:  engine,
		windows: windows,
		ran:     make(map[string]bool),
	}
}

// Run scans once per notification window. Outside a window, in quiet hours, or when
// the current window already ran in this process, it does nothing. A scan that
// fails leaves the window open for the next tick.
func (j *HeatAlertJob) Run(ctx context.Context) error {
	now := j.deps.now()
	hour := now.Hour()
	if !slices.Contains(j.windows, hour) {
		j.deps.Logger.Debug("outside notification window", "hour", hour)
		return nil
	}
	if j.engine.QuietHours().Contains(hour) {
		j.deps.Logger.Info("notification window falls in quiet hours", "hour", hour, "quiet", j.engine.QuietHours().String())
		return nil
	}

	key := fmt.Sprintf("%s:%02d", model.DateOf(now), hour)
	j.mu.Lock()
	if j.ran[key] {
		j.mu.Unlock()
		return nil
	}
	j.ran[key] = true
	j.mu.Unlock()

	res, err := j.Scan(ctx, now)
	if err != nil {
		j.mu.Lock()
		delete(j.ran, key)
		j.mu.Unlock()
		return err
	}
	j.deps.Logger.Info("heat alert scan finished", "window", key,
		"grids", res.Grids, "issued", res.GridsIssued, "alerts", res.AlertsCreated,
		"calls", res.CallsPlaced, "sms_fallbacks", res.SMSFallbacks, "failures", res.Failures)
	return nil
}

// Scan evaluates every grid at now regardless of windows. Per-grid and per-household
// failures are logged and counted; only failing to list grids aborts the scan.
func (j *HeatAlertJob) Scan(ctx context.Context, now time.Time) (ScanResult, error) {
	var res ScanResult
	grids, err := j.deps.Store.ListGrids(ctx)
	if err != nil {
		return res, fmt.Errorf("list grids: %w", err)
	}
	res.Grids = len(grids)

	for _, grid := range grids {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}

		reading, err := retry.Do(ctx, j.deps.Executor, retry.HeatPolicy(), "heat", func(ctx context.Context) (heat.Reading, error) {
			return j.source.Reading(ctx, grid)
		})
		if err != nil {
			res.Failures++
			j.deps.Logger.Error("heat reading failed", "grid", grid, "error", err)
			continue
		}

		decision := j.engine.ShouldIssue(reading.Level, now.Hour())
		if !decision.Issue {
			j.deps.Logger.Info("no alert for grid", "grid", grid, "level", reading.Level, "reason", decision.Reason)
			continue
		}
		res.GridsIssued++

		households, err := j.deps.Store.ListHouseholds(ctx, model.HouseholdFilter{Grid: grid, AtRiskOnly: true})
		if err != nil {
			res.Failures++
			j.deps.Logger.Error("list households failed", "grid", grid, "error", err)
			continue
		}
		for i := range households {
			j.alertHousehold(ctx, &households[i], reading, now, &res)
		}
	}
	return res, nil
}

func (j *HeatAlertJob) alertHousehold(ctx context.Context, h *model.Household, reading heat.Reading, now time.Time, res *ScanResult) {
	logger := j.deps.Logger.With("household", h.ID, "grid", h.Grid)

	today, err := j.deps.Store.ListAlerts(ctx, model.AlertFilter{Date: model.DateOf(now), HouseholdID: h.ID})
	if err != nil {
		res.Failures++
		logger.Error("list alerts failed", "error", err)
		return
	}
	for _, a := range today {
		if a.Status == model.StatusOK || !escalation.IsTerminal(a.Status) {
			res.HouseholdsSkip++
			logger.Debug("household already handled today", "alert", a.ID, "status", a.Status)
			return
		}
	}

	alert := &model.Alert{
		TenantID:         h.TenantID,
		HouseholdID:      h.ID,
		Date:             model.DateOf(now),
		HeatLevel:        reading.Level,
		WBGT:             reading.WBGT,
		Status:           model.StatusOpen,
		FirstTriggeredAt: now,
		UpdatedAt:        now,
	}
	if err := j.deps.Store.CreateAlert(ctx, alert); err != nil {
		res.Failures++
		logger.Error("create alert failed", "error", err)
		return
	}
	res.AlertsCreated++
	j.deps.Metrics.AlertOpened()
	logger.Info("alert opened", "alert", alert.ID, "level", alert.HeatLevel)

	if _, err := j.deps.Dispatcher.Call(ctx, alert, h.Phone, 1); err == nil {
		res.CallsPlaced++
		return
	}

	// The household must receive at least one contact attempt per issued alert.
	res.SMSFallbacks++
	_, err = j.deps.Dispatcher.Notify(ctx, channels.Message{
		Channel:   model.ChannelSMS,
		TenantID:  h.TenantID,
		AlertID:   alert.ID,
		Recipient: h.Phone,
		Reason:    escalation.ReasonFirstCallFailed,
		Params:    map[string]string{"heat_level": string(alert.HeatLevel)},
	})
	if err != nil {
		res.Failures++
		logger.Error("sms fallback failed", "alert", alert.ID, "error", err)
	}
}
