// internal/config/config.go
//
// This package handles configuration and the .fieldops directory structure.
// The client creates a .fieldops/ folder in the directory it is run from.

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/kingrea/fieldops/internal/history"
	"github.com/kingrea/fieldops/internal/upsert"
)

const (
	// FieldopsDir is the name of the directory created in the working directory.
	FieldopsDir = ".fieldops"

	// EnvPrefix prefixes every environment override, e.g. FIELDOPS_BASE_URL.
	EnvPrefix = "FIELDOPS_"

	defaultBaseURL       = "http://103.118.158.127/api"
	defaultTimeout       = 15 * time.Second
	defaultRetryAttempts = 3
	defaultRetryDelay    = time.Second
	defaultLogLevel      = "info"
)

const defaultSettingsYAML = `# fieldops client configuration
version: 1

# Backend root. Every request path is appended to this URL.
base_url: http://103.118.158.127/api

# Per-request timeout and retry policy for transport failures.
timeout: 15s
retry_attempts: 3
retry_delay: 1s

# exact-date shows only the entries booked on the selected date;
# cumulative shows everything up to and including it.
history_mode: exact-date

# Reject inputs that exceed the remaining purchase-order quantity.
enforce_po_cap: false

# Diagnostic log level: debug, info, warn or error.
log_level: info

# Domain opened by default: work, material, labour or expense.
# default_domain: work
`

// Settings models .fieldops/config.yaml. Every field can be overridden by a
// FIELDOPS_* environment variable.
type Settings struct {
	Version       int           `yaml:"version"`
	BaseURL       string        `yaml:"base_url" env:"BASE_URL"`
	Timeout       time.Duration `yaml:"timeout" env:"TIMEOUT"`
	RetryAttempts int           `yaml:"retry_attempts" env:"RETRY_ATTEMPTS"`
	RetryDelay    time.Duration `yaml:"retry_delay" env:"RETRY_DELAY"`
	HistoryMode   string        `yaml:"history_mode" env:"HISTORY_MODE"`
	EnforcePOCap  bool          `yaml:"enforce_po_cap" env:"ENFORCE_PO_CAP"`
	LogLevel      string        `yaml:"log_level" env:"LOG_LEVEL"`
	DefaultDomain string        `yaml:"default_domain,omitempty" env:"DOMAIN"`
}

// Config holds the runtime configuration of the client.
type Config struct {
	// ProjectDir is the directory the client was started from.
	ProjectDir string

	// Dir is ProjectDir/.fieldops
	Dir string

	Settings Settings
}

// InitDir creates the .fieldops directory structure in projectDir and writes
// the commented default config on first run.
//
// Structure created:
// .fieldops/
// ├── config.yaml
// └── logs/         <- diagnostic log and toast journal
func InitDir(projectDir string) error {
	dir := filepath.Join(projectDir, FieldopsDir)
	if err := os.MkdirAll(filepath.Join(dir, "logs"), 0o755); err != nil {
		return err
	}
	return ensureSettings(filepath.Join(dir, "config.yaml"))
}

// New loads the configuration for projectDir: defaults, then
// .fieldops/config.yaml, then .env, then FIELDOPS_* variables.
func New(projectDir string) (*Config, error) {
	cfg := &Config{
		ProjectDir: projectDir,
		Dir:        filepath.Join(projectDir, FieldopsDir),
		Settings:   defaultSettings(),
	}
	if err := cfg.loadSettings(); err != nil {
		return nil, err
	}
	if err := loadDotEnv(filepath.Join(projectDir, ".env")); err != nil {
		return nil, err
	}
	if err := env.ParseWithOptions(&cfg.Settings, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("config: environment: %w", err)
	}
	cfg.Settings.normalize()
	if err := cfg.Settings.validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// LogsDir returns the path to the logs directory
func (c *Config) LogsDir() string {
	return filepath.Join(c.Dir, "logs")
}

// LogPath is the diagnostic log file.
func (c *Config) LogPath() string {
	return filepath.Join(c.LogsDir(), "fieldops.log")
}

// JournalPath is the toast journal file.
func (c *Config) JournalPath() string {
	return filepath.Join(c.LogsDir(), "journal.log")
}

// SettingsPath returns the on-disk location for the config file.
func (c *Config) SettingsPath() string {
	return filepath.Join(c.Dir, "config.yaml")
}

// HistoryMode returns the configured history mode.
func (c *Config) HistoryMode() history.Mode {
	mode, err := history.ParseMode(c.Settings.HistoryMode)
	if err != nil {
		return history.ModeExactDate
	}
	return mode
}

// Rules returns the submission rules.
func (c *Config) Rules() upsert.Rules {
	return upsert.Rules{CapToPO: c.Settings.EnforcePOCap}
}

// LogLevel returns the parsed log level.
func (c *Config) LogLevel() logrus.Level {
	level, err := logrus.ParseLevel(c.Settings.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

// DefaultDomain returns the domain to open when none is requested.
func (c *Config) DefaultDomain() string {
	return c.Settings.DefaultDomain
}

// SetDefaultDomain records id as the default domain and persists it back
// to .fieldops/config.yaml.
func (c *Config) SetDefaultDomain(id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("config: domain id is required")
	}
	c.Settings.DefaultDomain = id
	return c.saveSettings()
}

func (c *Config) loadSettings() error {
	path := c.SettingsPath()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}

	parsed := defaultSettings()
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	c.Settings = parsed
	return nil
}

func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: stat %s: %w", path, err)
	}
	// Variables already set in the process environment win over .env.
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("config: load %s: %w", path, err)
	}
	return nil
}

func defaultSettings() Settings {
	return Settings{
		Version:       1,
		BaseURL:       defaultBaseURL,
		Timeout:       defaultTimeout,
		RetryAttempts: defaultRetryAttempts,
		RetryDelay:    defaultRetryDelay,
		HistoryMode:   string(history.ModeExactDate),
		LogLevel:      defaultLogLevel,
	}
}

// MarshalYAML writes durations in their string form so the file stays
// readable by yaml.Unmarshal, which rejects integer durations.
func (s Settings) MarshalYAML() (interface{}, error) {
	return struct {
		Version       int    `yaml:"version"`
		BaseURL       string `yaml:"base_url"`
		Timeout       string `yaml:"timeout"`
		RetryAttempts int    `yaml:"retry_attempts"`
		RetryDelay    string `yaml:"retry_delay"`
		HistoryMode   string `yaml:"history_mode"`
		EnforcePOCap  bool   `yaml:"enforce_po_cap"`
		LogLevel      string `yaml:"log_level"`
		DefaultDomain string `yaml:"default_domain,omitempty"`
	}{
		Version:       s.Version,
		BaseURL:       s.BaseURL,
		Timeout:       s.Timeout.String(),
		RetryAttempts: s.RetryAttempts,
		RetryDelay:    s.RetryDelay.String(),
		HistoryMode:   s.HistoryMode,
		EnforcePOCap:  s.EnforcePOCap,
		LogLevel:      s.LogLevel,
		DefaultDomain: s.DefaultDomain,
	}, nil
}

func (s *Settings) normalize() {
	if s.Version == 0 {
		s.Version = 1
	}
	s.BaseURL = strings.TrimRight(strings.TrimSpace(s.BaseURL), "/")
	if s.BaseURL == "" {
		s.BaseURL = defaultBaseURL
	}
	if s.Timeout <= 0 {
		s.Timeout = defaultTimeout
	}
	if s.RetryDelay <= 0 {
		s.RetryDelay = defaultRetryDelay
	}
	s.HistoryMode = strings.ToLower(strings.TrimSpace(s.HistoryMode))
	if s.HistoryMode == "" {
		s.HistoryMode = string(history.ModeExactDate)
	}
	s.LogLevel = strings.ToLower(strings.TrimSpace(s.LogLevel))
	if s.LogLevel == "" {
		s.LogLevel = defaultLogLevel
	}
	s.DefaultDomain = strings.ToLower(strings.TrimSpace(s.DefaultDomain))
}

func (s Settings) validate() error {
	if s.Version < 1 {
		return fmt.Errorf("config version must be >= 1")
	}
	u, err := url.Parse(s.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("base_url %q is not an absolute URL", s.BaseURL)
	}
	if s.RetryAttempts < 0 {
		return fmt.Errorf("retry_attempts must be >= 0")
	}
	if _, err := history.ParseMode(s.HistoryMode); err != nil {
		return err
	}
	if _, err := logrus.ParseLevel(s.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	return nil
}

func ensureSettings(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return os.WriteFile(path, []byte(defaultSettingsYAML), 0o644)
}

func (c *Config) saveSettings() error {
	if c == nil {
		return fmt.Errorf("config: nil receiver")
	}
	c.Settings.normalize()
	if err := c.Settings.validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := os.MkdirAll(c.Dir, 0o755); err != nil {
		return fmt.Errorf("config: ensure fieldops dir: %w", err)
	}
	data, err := yaml.Marshal(c.Settings)
	if err != nil {
		return fmt.Errorf("config: encode config: %w", err)
	}
	if err := os.WriteFile(c.SettingsPath(), data, 0o644); err != nil {
		return fmt.Errorf("config: write config: %w", err)
	}
	return nil
}
