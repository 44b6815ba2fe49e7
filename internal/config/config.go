package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ogulcanaydogan/heatwatch/pkg/channels"
	"github.com/ogulcanaydogan/heatwatch/pkg/escalation"
	"github.com/ogulcanaydogan/heatwatch/pkg/heat"
	"github.com/ogulcanaydogan/heatwatch/pkg/rules"
	"github.com/ogulcanaydogan/heatwatch/pkg/storage"
)

// Signature verification modes for inbound webhooks.
const (
	SignatureStrict     = "strict"
	SignaturePermissive = "permissive"
)

// Config holds all HeatWatch configuration.
type Config struct {
	Storage    storage.Config        `mapstructure:"storage"`
	Server     ServerConfig          `mapstructure:"server"`
	Alerting   AlertingConfig        `mapstructure:"alerting"`
	Escalation escalation.Thresholds `mapstructure:"escalation"`
	Providers  ProvidersConfig       `mapstructure:"providers"`
	Redis      RedisConfig           `mapstructure:"redis"`
	Ops        OpsConfig             `mapstructure:"ops"`
	Jobs       JobsConfig            `mapstructure:"jobs"`
	Logging    LoggingConfig         `mapstructure:"logging"`
}

// ServerConfig defines the HTTP listener and webhook verification.
type ServerConfig struct {
	Listen       string `mapstructure:"listen"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
	MaxBodySize  int64  `mapstructure:"max_body_size"`
	// SignatureMode is "strict" (reject bad signatures) or "permissive" (log and accept).
	SignatureMode   string `mapstructure:"signature_mode"`
	SignatureSecret string `mapstructure:"signature_secret"`
}

// AlertingConfig defines when heat alerts may be issued.
type AlertingConfig struct {
	// NotificationWindows is a comma-separated list of local hours, e.g. "9,13,17".
	NotificationWindows string `mapstructure:"notification_windows"`
	// QuietHours is an "HH-HH" window, e.g. "22-7".
	QuietHours string `mapstructure:"quiet_hours"`
	Timezone   string `mapstructure:"timezone"`
}

// ProvidersConfig defines the outbound collaborators.
type ProvidersConfig struct {
	Voice channels.ProviderConfig `mapstructure:"voice"`
	SMS   channels.ProviderConfig `mapstructure:"sms"`
	Push  PushConfig              `mapstructure:"push"`
	MQTT  channels.MQTTConfig     `mapstructure:"mqtt"`
	Heat  HeatConfig              `mapstructure:"heat"`
	// RateLimit is the per-channel send rate in messages per second. Zero disables throttling.
	RateLimit float64 `mapstructure:"rate_limit"`
	RateBurst int     `mapstructure:"rate_burst"`
}

// PushConfig defines the chat push transport: "webhook" or "mqtt".
type PushConfig struct {
	Transport string `mapstructure:"transport"`
	URL       string `mapstructure:"url"`
	Secret    string `mapstructure:"secret"`
}

// HeatConfig selects the heat source: an HTTP API or a local readings file.
type HeatConfig struct {
	heat.HTTPConfig `mapstructure:",squash"`
	File            string `mapstructure:"file"`
}

// RedisConfig defines the optional Redis used for inbound event dedupe.
type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Prefix   string        `mapstructure:"prefix"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// OpsConfig defines staff notification integrations.
type OpsConfig struct {
	Slack   SlackConfig   `mapstructure:"slack"`
	Webhook WebhookConfig `mapstructure:"webhook"`
}

// SlackConfig defines Slack webhook settings.
type SlackConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	WebhookURL string `mapstructure:"webhook_url"`
	Channel    string `mapstructure:"channel"`
}

// WebhookConfig defines generic webhook settings.
type WebhookConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
	Secret  string `mapstructure:"secret"`
}

// JobsConfig defines scheduler intervals.
type JobsConfig struct {
	HeatAlertInterval  time.Duration `mapstructure:"heat_alert_interval"`
	EscalationInterval time.Duration `mapstructure:"escalation_interval"`
	Parallelism        int           `mapstructure:"parallelism"`
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Windows parses the notification windows.
func (a AlertingConfig) Windows() ([]int, error) {
	return rules.ParseHours(a.NotificationWindows)
}

// Quiet parses the quiet hours window.
func (a AlertingConfig) Quiet() (rules.QuietHours, error) {
	return rules.ParseQuietHours(a.QuietHours)
}

// Location loads the configured time zone. Empty means the process local zone.
func (a AlertingConfig) Location() (*time.Location, error) {
	if a.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(a.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone: %w", err)
	}
	return loc, nil
}

// Validate checks values that cannot be caught by decoding.
func (c *Config) Validate() error {
	if _, err := c.Alerting.Windows(); err != nil {
		return fmt.Errorf("alerting.notification_windows: %w", err)
	}
	if _, err := c.Alerting.Quiet(); err != nil {
		return fmt.Errorf("alerting.quiet_hours: %w", err)
	}
	if _, err := c.Alerting.Location(); err != nil {
		return fmt.Errorf("alerting.timezone: %w", err)
	}
	th := c.Escalation
	if th.SecondCall <= 0 || th.SecondCall >= th.FamilyNotify || th.FamilyNotify >= th.NeighborNotify {
		return fmt.Errorf("escalation: delays must be positive and increasing, got %s/%s/%s",
			th.SecondCall, th.FamilyNotify, th.NeighborNotify)
	}
	switch c.Server.SignatureMode {
	case SignatureStrict, SignaturePermissive:
	default:
		return fmt.Errorf("server.signature_mode: %q is not strict or permissive", c.Server.SignatureMode)
	}
	return nil
}

// envOnlyKeys have no default but must still be settable from the environment.
var envOnlyKeys = []string{
	"storage.dsn",
	"server.signature_secret",
	"providers.voice.base_url", "providers.voice.api_key", "providers.voice.from", "providers.voice.callback_url",
	"providers.sms.base_url", "providers.sms.api_key", "providers.sms.from", "providers.sms.callback_url",
	"providers.push.url", "providers.push.secret",
	"providers.mqtt.broker", "providers.mqtt.username", "providers.mqtt.password",
	"providers.heat.base_url", "providers.heat.api_key", "providers.heat.file",
	"redis.enabled", "redis.password",
	"ops.slack.enabled", "ops.slack.webhook_url",
	"ops.webhook.enabled", "ops.webhook.url", "ops.webhook.secret",
}

// Load reads configuration from file and environment variables.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("find home directory: %w", err)
		}

		v.AddConfigPath(filepath.Join(home, ".heatwatch"))
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	// Defaults
	home, _ := os.UserHomeDir()
	th := escalation.DefaultThresholds()
	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.path", filepath.Join(home, ".heatwatch", "heatwatch.db"))
	v.SetDefault("server.listen", ":8080")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.max_body_size", 1024*1024) // 1 MB
	v.SetDefault("server.signature_mode", SignatureStrict)
	v.SetDefault("alerting.notification_windows", "9,13,17")
	v.SetDefault("alerting.quiet_hours", "22-7")
	v.SetDefault("alerting.timezone", "")
	v.SetDefault("escalation.second_call", th.SecondCall)
	v.SetDefault("escalation.family_notify", th.FamilyNotify)
	v.SetDefault("escalation.neighbor_notify", th.NeighborNotify)
	v.SetDefault("providers.push.transport", "webhook")
	v.SetDefault("providers.mqtt.client_id", "heatwatch")
	v.SetDefault("providers.mqtt.qos", 1)
	v.SetDefault("providers.mqtt.timeout", 10*time.Second)
	v.SetDefault("providers.rate_limit", 10)
	v.SetDefault("providers.rate_burst", 5)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.prefix", "heatwatch:event:")
	v.SetDefault("redis.ttl", 24*time.Hour)
	v.SetDefault("ops.slack.channel", "#heatwatch-ops")
	v.SetDefault("jobs.heat_alert_interval", time.Minute)
	v.SetDefault("jobs.escalation_interval", time.Minute)
	v.SetDefault("jobs.parallelism", 8)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Environment variables
	v.SetEnvPrefix("HW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range envOnlyKeys {
		_ = v.BindEnv(key)
	}

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}
