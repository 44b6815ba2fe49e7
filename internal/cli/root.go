package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/ogulcanaydogan/heatwatch/internal/config"
	"github.com/ogulcanaydogan/heatwatch/pkg/channels"
	"github.com/ogulcanaydogan/heatwatch/pkg/contact"
	"github.com/ogulcanaydogan/heatwatch/pkg/dedupe"
	"github.com/ogulcanaydogan/heatwatch/pkg/escalation"
	"github.com/ogulcanaydogan/heatwatch/pkg/heat"
	"github.com/ogulcanaydogan/heatwatch/pkg/jobs"
	"github.com/ogulcanaydogan/heatwatch/pkg/metrics"
	"github.com/ogulcanaydogan/heatwatch/pkg/model"
	"github.com/ogulcanaydogan/heatwatch/pkg/ops"
	"github.com/ogulcanaydogan/heatwatch/pkg/retry"
	"github.com/ogulcanaydogan/heatwatch/pkg/rules"
	"github.com/ogulcanaydogan/heatwatch/pkg/storage"
)

// Version is set at build time via ldflags.
var Version = "dev"

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "heatwatch",
	Short: "HeatWatch - heat alert calls and escalation for at-risk households",
	Long: `HeatWatch checks heat-stress levels per grid cell, calls at-risk households in
the configured notification windows and escalates to family and neighbors when
nobody answers. It serves the provider webhooks that close the loop.`,
	SilenceUsage: true,
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.heatwatch/config.yaml)")
}

// loadConfig loads the configuration.
func loadConfig() (*config.Config, error) {
	return config.Load(cfgFile)
}

// newLogger creates a structured logger from config.
func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Logging.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	var handler slog.Handler
	if cfg.Logging.Format == "text" {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}

	return slog.New(handler)
}

// app holds the collaborators shared by the commands.
type app struct {
	cfg        *config.Config
	logger     *slog.Logger
	clock      clockwork.Clock
	location   *time.Location
	registry   *prometheus.Registry
	metrics    *metrics.Metrics
	store      storage.Store
	executor   *retry.Executor
	dispatcher *contact.Dispatcher
	notifier   ops.Notifier
	planner    *escalation.Planner

	closers []func()
}

// initApp wires storage, metrics, the retry executor and ops notifiers. Outbound
// channels are left to the caller so dry runs can swap in a recorder.
func initApp(ctx context.Context, cfg *config.Config, clock clockwork.Clock) (*app, error) {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	loc, err := cfg.Alerting.Location()
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:      cfg,
		logger:   newLogger(cfg),
		clock:    clock,
		location: loc,
		registry: prometheus.NewRegistry(),
		notifier: initNotifiers(cfg),
		planner:  escalation.NewPlanner(cfg.Escalation),
	}
	a.metrics = metrics.New(a.registry)
	a.executor = retry.NewExecutor(clock, a.logger, a.metrics)

	a.store, err = storage.Open(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}
	a.closers = append(a.closers, func() { a.store.Close() })
	return a, nil
}

// useSender builds the dispatcher on top of sender.
func (a *app) useSender(sender channels.Sender) {
	a.dispatcher = contact.NewDispatcher(a.store, sender, a.executor, a.clock, a.logger, a.metrics)
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func (a *app) deps() jobs.Deps {
	return jobs.Deps{
		Store:      a.store,
		Dispatcher: a.dispatcher,
		Executor:   a.executor,
		Clock:      a.clock,
		Logger:     a.logger,
		Metrics:    a.metrics,
		Location:   a.location,
	}
}

func (a *app) heatAlertJob(source heat.Source) (*jobs.HeatAlertJob, error) {
	windows, err := a.cfg.Alerting.Windows()
	if err != nil {
		return nil, err
	}
	quiet, err := a.cfg.Alerting.Quiet()
	if err != nil {
		return nil, err
	}
	return jobs.NewHeatAlertJob(a.deps(), source, rules.NewEngine(quiet), windows), nil
}

func (a *app) escalationJob() *jobs.EscalationJob {
	return jobs.NewEscalationJob(a.deps(), a.planner, a.notifier, a.cfg.Jobs.Parallelism)
}

// initNotifiers creates staff notifiers from config.
func initNotifiers(cfg *config.Config) ops.Notifier {
	var notifiers ops.Multi

	if cfg.Ops.Slack.Enabled && cfg.Ops.Slack.WebhookURL != "" {
		notifiers = append(notifiers, ops.NewSlackNotifier(
			cfg.Ops.Slack.WebhookURL,
			cfg.Ops.Slack.Channel,
		))
	}

	if cfg.Ops.Webhook.Enabled && cfg.Ops.Webhook.URL != "" {
		notifiers = append(notifiers, ops.NewWebhookNotifier(
			cfg.Ops.Webhook.URL,
			cfg.Ops.Webhook.Secret,
		))
	}

	if len(notifiers) == 0 {
		return ops.Nop{}
	}
	return notifiers
}

// initSenders builds the provider router. Every channel is throttled when a rate
// limit is configured.
func (a *app) initSenders() (*channels.Router, error) {
	p := a.cfg.Providers
	throttle := func(s channels.Sender) channels.Sender {
		if p.RateLimit <= 0 {
			return s
		}
		return channels.NewThrottled(s, p.RateLimit, p.RateBurst)
	}

	router := channels.NewRouter().
		Register(model.ChannelPhone, throttle(channels.NewVoiceClient(p.Voice))).
		Register(model.ChannelSMS, throttle(channels.NewSMSClient(p.SMS)))

	switch p.Push.Transport {
	case "mqtt":
		client, err := channels.NewMQTTClient(p.MQTT)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { client.Disconnect(250) })
		router.Register(model.ChannelChatPush, throttle(channels.NewMQTTPush(client, p.MQTT.QoS, p.MQTT.Timeout)))
	case "webhook", "":
		if p.Push.URL != "" {
			router.Register(model.ChannelChatPush, throttle(channels.NewPushClient(p.Push.URL, p.Push.Secret)))
		}
	default:
		return nil, fmt.Errorf("unknown push transport %q", p.Push.Transport)
	}
	return router, nil
}

// initHeatSource prefers a readings file over the HTTP API.
func initHeatSource(cfg *config.Config) (heat.Source, error) {
	if cfg.Providers.Heat.File != "" {
		return heat.NewFileSource(cfg.Providers.Heat.File)
	}
	if cfg.Providers.Heat.BaseURL == "" {
		return nil, fmt.Errorf("no heat source configured: set providers.heat.file or providers.heat.base_url")
	}
	return heat.NewHTTPSource(cfg.Providers.Heat.HTTPConfig), nil
}

// initDedupe uses Redis when enabled so several replicas share event ids.
func (a *app) initDedupe(ctx context.Context) (dedupe.Store, error) {
	if !a.cfg.Redis.Enabled {
		return dedupe.NewMemory(a.clock), nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     a.cfg.Redis.Addr,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	a.closers = append(a.closers, func() { client.Close() })
	return dedupe.NewRedis(client, a.cfg.Redis.Prefix), nil
}
