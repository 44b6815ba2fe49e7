package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"

	"github.com/ogulcanaydogan/heatwatch/pkg/channels"
	"github.com/ogulcanaydogan/heatwatch/pkg/heat"
	"github.com/ogulcanaydogan/heatwatch/pkg/inbound"
	"github.com/ogulcanaydogan/heatwatch/pkg/model"
	"github.com/ogulcanaydogan/heatwatch/pkg/ops"
	"github.com/ogulcanaydogan/heatwatch/pkg/storage"
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Dry-run a heat alert and its escalation against an in-memory roster",
	Long: `Simulate loads a household roster into memory, scans heat levels at a chosen
time and steps a fake clock through the escalation stages. Nothing is sent: every
call, SMS and push is printed instead.`,
	RunE: runSimulate,
}

func init() {
	rootCmd.AddCommand(simulateCmd)

	simulateCmd.Flags().StringP("households", "f", "", "YAML household roster")
	simulateCmd.Flags().StringP("readings", "r", "", "YAML heat readings (default: --wbgt for every grid)")
	simulateCmd.Flags().Float64("wbgt", 31, "WBGT applied to every grid when no readings file is given")
	simulateCmd.Flags().String("at", "", "Scan time, YYYY-MM-DDTHH:MM in the configured time zone (default today 09:00)")
	simulateCmd.Flags().String("answer", "", "Digit the households press (empty: never answer)")
	simulateCmd.Flags().Duration("answer-after", 0, "When the households answer, relative to the scan")
	simulateCmd.Flags().Duration("step", time.Minute, "Escalation pass interval")
	simulateCmd.Flags().Duration("duration", 0, "How long to simulate (default: neighbor delay plus one step)")
	_ = simulateCmd.MarkFlagRequired("households")
}

// consoleNotifier prints staff events instead of posting them.
type consoleNotifier struct {
	mu    sync.Mutex
	w     io.Writer
	start time.Time
	clock clockwork.Clock
}

func (c *consoleNotifier) Name() string { return "console" }

func (c *consoleNotifier) Notify(_ context.Context, event ops.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.w, "+%s\tops\t%s\t%s\t%s\n", c.clock.Since(c.start), event.Type, event.Household, event.Message)
	return nil
}

func runSimulate(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	rosterPath, _ := cmd.Flags().GetString("households")
	readingsPath, _ := cmd.Flags().GetString("readings")
	wbgt, _ := cmd.Flags().GetFloat64("wbgt")
	at, _ := cmd.Flags().GetString("at")
	answer, _ := cmd.Flags().GetString("answer")
	answerAfter, _ := cmd.Flags().GetDuration("answer-after")
	step, _ := cmd.Flags().GetDuration("step")
	duration, _ := cmd.Flags().GetDuration("duration")
	if step <= 0 {
		return fmt.Errorf("--step must be positive")
	}
	if duration <= 0 {
		duration = cfg.Escalation.NeighborNotify + step
	}

	households, err := storage.LoadHouseholds(rosterPath)
	if err != nil {
		return err
	}

	loc, err := cfg.Alerting.Location()
	if err != nil {
		return err
	}
	start, err := simulationStart(at, loc)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	clock := clockwork.NewFakeClockAt(start)
	cfg.Storage = storage.Config{Driver: "memory"}
	a, err := initApp(ctx, cfg, clock)
	if err != nil {
		return err
	}
	defer a.close()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()
	a.notifier = &consoleNotifier{w: w, start: start, clock: clock}

	rec := channels.NewRecorder()
	a.useSender(rec)

	var static []heat.Reading
	for i := range households {
		h := &households[i]
		if err := a.store.CreateHousehold(ctx, h); err != nil {
			return err
		}
		static = append(static, heat.Reading{Grid: h.Grid, WBGT: wbgt, ObservedAt: start})
	}

	var source heat.Source = heat.NewStatic(static...)
	if readingsPath != "" {
		if source, err = heat.NewFileSource(readingsPath); err != nil {
			return err
		}
	}

	heatJob, err := a.heatAlertJob(source)
	if err != nil {
		return err
	}
	escalationJob := a.escalationJob()
	handler := inbound.NewHandler(a.store, a.dispatcher, a.notifier, nil, clock, a.logger, a.metrics)

	res, err := heatJob.Scan(ctx, clock.Now().In(loc))
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "scan at %s\t%d grids\t%d issued\t%d alerts\t%d calls\n",
		start.Format("2006-01-02 15:04 MST"), res.Grids, res.GridsIssued, res.AlertsCreated, res.CallsPlaced)
	printMessages(w, rec, 0)

	answered := answer == ""
	for elapsed := step; elapsed <= duration; elapsed += step {
		clock.Advance(step)

		if !answered && elapsed >= answerAfter {
			answered = true
			if err := answerCalls(ctx, a.store, handler, model.DateOf(clock.Now().In(loc)), answer); err != nil {
				return err
			}
			handler.Wait()
			printMessages(w, rec, elapsed)
		}

		if err := escalationJob.Run(ctx); err != nil {
			return err
		}
		printMessages(w, rec, elapsed)
	}

	alerts, err := a.store.ListAlerts(ctx, model.AlertFilter{Date: model.DateOf(start)})
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "\nHOUSEHOLD\tSTATUS\tSTAGES\t\t\n")
	for _, al := range alerts {
		fmt.Fprintf(w, "%s\t%s\t%s\t\t\n", al.HouseholdID, al.Status, stageSummary(al.Stages))
	}
	return nil
}

func simulationStart(at string, loc *time.Location) (time.Time, error) {
	if at == "" {
		now := time.Now().In(loc)
		return time.Date(now.Year(), now.Month(), now.Day(), 9, 0, 0, 0, loc), nil
	}
	t, err := time.ParseInLocation("2006-01-02T15:04", at, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse --at: %w", err)
	}
	return t, nil
}

// answerCalls presses digit on the latest call of every alert still waiting for an answer.
func answerCalls(ctx context.Context, store storage.Store, h *inbound.Handler, date, digit string) error {
	alerts, err := store.ListAlerts(ctx, model.AlertFilter{
		Date:     date,
		Statuses: []model.AlertStatus{model.StatusOpen, model.StatusUnanswered},
	})
	if err != nil {
		return err
	}
	for _, al := range alerts {
		calls, err := store.ListCalls(ctx, al.ID)
		if err != nil {
			return err
		}
		if len(calls) == 0 {
			continue
		}
		last := calls[len(calls)-1]
		if _, err := h.HandleKeypress(ctx, inbound.KeypressEvent{CallID: last.ProviderCallID, AlertID: al.ID, Attempt: last.Attempt, Digit: digit}); err != nil {
			return fmt.Errorf("answer %s: %w", al.ID, err)
		}
	}
	return nil
}

func printMessages(w io.Writer, rec *channels.Recorder, elapsed time.Duration) {
	for _, m := range rec.Messages() {
		detail := m.Reason
		switch m.Channel {
		case model.ChannelPhone:
			detail = fmt.Sprintf("call attempt %d", m.Attempt)
		case model.ChannelChatPush:
			detail = m.Template
		}
		fmt.Fprintf(w, "+%s\t%s\t%s\t%s\t\n", elapsed, m.Channel, m.Recipient, detail)
	}
	rec.Reset()
}
