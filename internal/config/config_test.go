package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	v := viper.New()
	require.NoError(t, Configure(v, ""))

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.True(t, cfg.Enabled)
	assert.Equal(t, "/clawtrace", cfg.Server.PathPrefix)
	assert.Equal(t, 15*time.Second, cfg.Server.HeartbeatInterval)
	assert.Equal(t, 2000, cfg.Redact.MaxStringLength)
	assert.Equal(t, 40, cfg.Correlator.Capacity)
	assert.Equal(t, 30*time.Second, cfg.Correlator.Window)
	assert.Equal(t, 15*time.Second, cfg.Identity.RefreshInterval)
	assert.Equal(t, "main", cfg.Agent.ID)
	assert.True(t, cfg.Notes.Enabled)
}

func TestFileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "clawtrace.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
server:
  port: 9100
  path_prefix: /trace
ledger:
  path: `+filepath.Join(dir, "l.jsonl")+`
notes:
  enabled: false
correlator:
  window: 5s
`), 0o600))
	t.Setenv("CLAWTRACE_SERVER_PORT", "9200")
	t.Setenv("CLAWTRACE_IDENTITY_DISPLAY_NAME", "Clawd")

	v := viper.New()
	require.NoError(t, Configure(v, file))
	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, 9200, cfg.Server.Port)
	assert.Equal(t, "/trace", cfg.Server.PathPrefix)
	assert.Equal(t, filepath.Join(dir, "l.jsonl"), cfg.Ledger.Path)
	assert.False(t, cfg.Notes.Enabled)
	assert.Equal(t, 5*time.Second, cfg.Correlator.Window)
	assert.Equal(t, "Clawd", cfg.Identity.DisplayName)
}

func TestMissingExplicitFileFails(t *testing.T) {
	v := viper.New()
	assert.Error(t, Configure(v, filepath.Join(t.TempDir(), "absent.yaml")))
}

func TestHomeIsExpanded(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	v := viper.New()
	require.NoError(t, Configure(v, ""))
	v.Set("ledger.path", "~/logs/ledger.jsonl")

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "logs", "ledger.jsonl"), cfg.Ledger.Path)
}

func TestConfig_Validate(t *testing.T) {
	valid := func() Config {
		return Config{
			Server:     ServerConfig{Port: 18790, HeartbeatInterval: time.Second},
			Ledger:     LedgerConfig{Path: "/tmp/l.jsonl"},
			Redact:     RedactConfig{MaxStringLength: 10},
			Correlator: CorrelatorConfig{Window: time.Second, Capacity: 1, MaxKeys: 1},
			Log:        LogConfig{Level: "info", Format: "text"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"port", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"heartbeat", func(c *Config) { c.Server.HeartbeatInterval = 0 }, "heartbeat_interval"},
		{"ledger", func(c *Config) { c.Ledger.Path = "" }, "ledger.path"},
		{"max length", func(c *Config) { c.Redact.MaxStringLength = 0 }, "max_string_length"},
		{"key pattern", func(c *Config) { c.Redact.SensitiveKeyPattern = "(" }, "sensitive_key_pattern"},
		{"capacity", func(c *Config) { c.Correlator.Capacity = 0 }, "capacity"},
		{"window", func(c *Config) { c.Correlator.Window = 0 }, "correlator.window"},
		{"level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
