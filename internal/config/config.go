// Package config loads clawtrace settings from defaults, an optional yaml
// file, CLAWTRACE_* environment variables and command-line flags.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/bardusco/clawtrace/internal/redact"
)

// EnvPrefix is the environment variable prefix; "server.port" is read from
// CLAWTRACE_SERVER_PORT.
const EnvPrefix = "CLAWTRACE"

// Config represents the full clawtrace configuration.
type Config struct {
	Enabled    bool             `mapstructure:"enabled"`
	Server     ServerConfig     `mapstructure:"server"`
	Ledger     LedgerConfig     `mapstructure:"ledger"`
	Redact     RedactConfig     `mapstructure:"redact"`
	Notes      NotesConfig      `mapstructure:"notes"`
	Identity   IdentityConfig   `mapstructure:"identity"`
	Correlator CorrelatorConfig `mapstructure:"correlator"`
	Log        LogConfig        `mapstructure:"log"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Agent      AgentConfig      `mapstructure:"agent"`
}

// ServerConfig contains HTTP listener settings.
type ServerConfig struct {
	Bind              string        `mapstructure:"bind"`
	Port              int           `mapstructure:"port"`
	PathPrefix        string        `mapstructure:"path_prefix"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
}

// LedgerConfig locates the append-only log.
type LedgerConfig struct {
	Path string `mapstructure:"path"`
}

// RedactConfig contains sanitizer settings.
type RedactConfig struct {
	MaxStringLength     int    `mapstructure:"max_string_length"`
	SensitiveKeyPattern string `mapstructure:"sensitive_key_pattern"`
	ExtraConfig         string `mapstructure:"extra_config"` // yaml with extra keys and patterns
}

// NotesConfig toggles the note endpoint.
type NotesConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// IdentityConfig locates the read-only identity inputs.
type IdentityConfig struct {
	DisplayName          string        `mapstructure:"display_name"`
	IdentityFile         string        `mapstructure:"identity_file"`
	SessionsFile         string        `mapstructure:"sessions_file"`
	SessionMetaFile      string        `mapstructure:"session_meta_file"`
	CronJobsFile         string        `mapstructure:"cron_jobs_file"`
	RefreshInterval      time.Duration `mapstructure:"refresh_interval"`
	StartupRetryInterval time.Duration `mapstructure:"startup_retry_interval"`
	StartupRetryWindow   time.Duration `mapstructure:"startup_retry_window"`
	Watch                bool          `mapstructure:"watch"`
}

// CorrelatorConfig tunes start/done matching.
type CorrelatorConfig struct {
	Window      time.Duration `mapstructure:"window"`
	Capacity    int           `mapstructure:"capacity"`
	MaxKeys     int           `mapstructure:"max_keys"`
	DedupWindow time.Duration `mapstructure:"dedup_window"`
}

// LogConfig selects level and format.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MetricsConfig toggles the /metrics endpoint.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// AgentConfig names the acting agent when events omit it.
type AgentConfig struct {
	ID string `mapstructure:"id"`
}

// Home returns the host runtime state directory, ~/.openclaw.
func Home() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".openclaw"
	}
	return filepath.Join(home, ".openclaw")
}

// DefaultConfigFile is used when --config is not given.
func DefaultConfigFile() string {
	return filepath.Join(Home(), "clawtrace.yaml")
}

// SetDefaults registers every key with its default on v.
func SetDefaults(v *viper.Viper) {
	home := Home()

	v.SetDefault("enabled", true)
	v.SetDefault("server.bind", "127.0.0.1")
	v.SetDefault("server.port", 18790)
	v.SetDefault("server.path_prefix", "/clawtrace")
	v.SetDefault("server.heartbeat_interval", 15*time.Second)
	v.SetDefault("ledger.path", filepath.Join(home, "clawtrace", "ledger.jsonl"))
	v.SetDefault("redact.max_string_length", redact.DefaultMaxStringLength)
	v.SetDefault("redact.sensitive_key_pattern", "")
	v.SetDefault("redact.extra_config", "")
	v.SetDefault("notes.enabled", true)
	v.SetDefault("identity.display_name", "")
	v.SetDefault("identity.identity_file", filepath.Join(home, "workspace", "IDENTITY.md"))
	v.SetDefault("identity.sessions_file", filepath.Join(home, "agents", "main", "sessions", "sessions.json"))
	v.SetDefault("identity.session_meta_file", filepath.Join(home, "clawtrace", "session-meta.json"))
	v.SetDefault("identity.cron_jobs_file", filepath.Join(home, "cron", "jobs.json"))
	v.SetDefault("identity.refresh_interval", 15*time.Second)
	v.SetDefault("identity.startup_retry_interval", time.Second)
	v.SetDefault("identity.startup_retry_window", 15*time.Second)
	v.SetDefault("identity.watch", true)
	v.SetDefault("correlator.window", 30*time.Second)
	v.SetDefault("correlator.capacity", 40)
	v.SetDefault("correlator.max_keys", 4096)
	v.SetDefault("correlator.dedup_window", 10*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("agent.id", "main")
}

// Configure wires defaults, the env prefix and an optional config file into
// v. A missing default file is not an error; a missing explicit file is.
func Configure(v *viper.Viper, file string) error {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	explicit := file != ""
	if !explicit {
		file = DefaultConfigFile()
	}
	v.SetConfigFile(file)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !explicit && (errors.Is(err, fs.ErrNotExist) || errors.As(err, &notFound)) {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", file, err)
	}
	return nil
}

// Load unmarshals v into a Config and validates it.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	cfg.Ledger.Path = expandHome(cfg.Ledger.Path)
	cfg.Redact.ExtraConfig = expandHome(cfg.Redact.ExtraConfig)
	cfg.Identity.IdentityFile = expandHome(cfg.Identity.IdentityFile)
	cfg.Identity.SessionsFile = expandHome(cfg.Identity.SessionsFile)
	cfg.Identity.SessionMetaFile = expandHome(cfg.Identity.SessionMetaFile)
	cfg.Identity.CronJobsFile = expandHome(cfg.Identity.CronJobsFile)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server.port out of range: %d", c.Server.Port)
	}
	if c.Server.HeartbeatInterval <= 0 {
		return fmt.Errorf("config: server.heartbeat_interval must be positive")
	}
	if c.Ledger.Path == "" {
		return fmt.Errorf("config: ledger.path is required")
	}
	if c.Redact.MaxStringLength <= 0 {
		return fmt.Errorf("config: redact.max_string_length must be positive")
	}
	if c.Redact.SensitiveKeyPattern != "" {
		if _, err := regexp.Compile(c.Redact.SensitiveKeyPattern); err != nil {
			return fmt.Errorf("config: redact.sensitive_key_pattern: %w", err)
		}
	}
	if c.Correlator.Capacity <= 0 || c.Correlator.MaxKeys <= 0 {
		return fmt.Errorf("config: correlator capacity and max_keys must be positive")
	}
	if c.Correlator.Window <= 0 {
		return fmt.Errorf("config: correlator.window must be positive")
	}
	if c.Correlator.DedupWindow < 0 {
		return fmt.Errorf("config: correlator.dedup_window must not be negative")
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("config: log.level: %w", err)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("config: invalid log.format: %s (must be text or json)", c.Log.Format)
	}
	return nil
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}
