package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ogulcanaydogan/heatwatch/internal/config"
	"github.com/ogulcanaydogan/heatwatch/pkg/rules"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, ":8080", cfg.Server.Listen)
	assert.Equal(t, "30s", cfg.Server.ReadTimeout)
	assert.Equal(t, config.SignatureStrict, cfg.Server.SignatureMode)
	assert.Equal(t, 5*time.Minute, cfg.Escalation.SecondCall)
	assert.Equal(t, 10*time.Minute, cfg.Escalation.FamilyNotify)
	assert.Equal(t, 15*time.Minute, cfg.Escalation.NeighborNotify)
	assert.Equal(t, time.Minute, cfg.Jobs.EscalationInterval)
	assert.Equal(t, "webhook", cfg.Providers.Push.Transport)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)

	windows, err := cfg.Alerting.Windows()
	require.NoError(t, err)
	assert.Equal(t, []int{9, 13, 17}, windows)

	quiet, err := cfg.Alerting.Quiet()
	require.NoError(t, err)
	assert.Equal(t, rules.DefaultQuietHours, quiet)
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	data := []byte(`
storage:
  driver: postgres
  dsn: postgres://hw@localhost/heatwatch
server:
  listen: ":9090"
  signature_mode: permissive
alerting:
  notification_windows: "8,12"
  quiet_hours: "21-6"
  timezone: Asia/Tokyo
escalation:
  second_call: 2m
  family_notify: 4m
  neighbor_notify: 6m
providers:
  heat:
    base_url: https://heat.example.com
    file: /etc/heatwatch/readings.yaml
logging:
  level: debug
`)
	err := os.WriteFile(cfgPath, data, 0o644)
	require.NoError(t, err)

	cfg, err := config.Load(cfgPath)
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Storage.Driver)
	assert.Equal(t, "postgres://hw@localhost/heatwatch", cfg.Storage.DSN)
	assert.Equal(t, ":9090", cfg.Server.Listen)
	assert.Equal(t, config.SignaturePermissive, cfg.Server.SignatureMode)
	assert.Equal(t, 2*time.Minute, cfg.Escalation.SecondCall)
	assert.Equal(t, 6*time.Minute, cfg.Escalation.NeighborNotify)
	assert.Equal(t, "https://heat.example.com", cfg.Providers.Heat.BaseURL)
	assert.Equal(t, "/etc/heatwatch/readings.yaml", cfg.Providers.Heat.File)
	assert.Equal(t, "debug", cfg.Logging.Level)

	windows, err := cfg.Alerting.Windows()
	require.NoError(t, err)
	assert.Equal(t, []int{8, 12}, windows)

	loc, err := cfg.Alerting.Location()
	require.NoError(t, err)
	assert.Equal(t, "Asia/Tokyo", loc.String())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("HW_LOGGING_LEVEL", "error")
	t.Setenv("HW_SERVER_LISTEN", ":7070")
	t.Setenv("HW_ALERTING_QUIET_HOURS", "23-5")
	t.Setenv("HW_ESCALATION_SECOND_CALL", "1m")
	t.Setenv("HW_PROVIDERS_VOICE_BASE_URL", "https://voice.example.com")

	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, "error", cfg.Logging.Level)
	assert.Equal(t, ":7070", cfg.Server.Listen)
	assert.Equal(t, time.Minute, cfg.Escalation.SecondCall)
	assert.Equal(t, "https://voice.example.com", cfg.Providers.Voice.BaseURL)

	quiet, err := cfg.Alerting.Quiet()
	require.NoError(t, err)
	assert.Equal(t, rules.QuietHours{Start: 23, End: 5}, quiet)
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := map[string]string{
		"windows":   "HW_ALERTING_NOTIFICATION_WINDOWS",
		"quiet":     "HW_ALERTING_QUIET_HOURS",
		"signature": "HW_SERVER_SIGNATURE_MODE",
	}
	for name, env := range tests {
		t.Run(name, func(t *testing.T) {
			t.Setenv(env, "nonsense")
			_, err := config.Load("")
			assert.Error(t, err)
		})
	}

	t.Run("delays out of order", func(t *testing.T) {
		t.Setenv("HW_ESCALATION_FAMILY_NOTIFY", "30m")
		_, err := config.Load("")
		assert.Error(t, err)
	})
}

func TestLoad_InvalidFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "bad.yaml")
	err := os.WriteFile(cfgPath, []byte("invalid: [yaml"), 0o644)
	require.NoError(t, err)

	_, err = config.Load(cfgPath)
	assert.Error(t, err)
}
