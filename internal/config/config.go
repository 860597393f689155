package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment overrides for values that should not live in the YAML file.
const (
	EnvStorageDSN = "SMARTCAL_STORAGE_DSN"
	EnvAIBaseURL  = "SMARTCAL_AI_BASE_URL"
	EnvAIModel    = "SMARTCAL_AI_MODEL"
)

// AIConfig configures the optional chat-completion collaborator used for
// AI-based extraction.
type AIConfig struct {
	Enabled        bool   `yaml:"enabled" json:"enabled"`
	BaseURL        string `yaml:"base_url" json:"base_url"`
	Model          string `yaml:"model" json:"model"`
	TimeoutSeconds int    `yaml:"timeout_seconds" json:"timeout_seconds"`
}

// ExtractionConfig controls the text-to-event extractor.
type ExtractionConfig struct {
	// DefaultDurationMinutes is added to a start time when no end is given.
	DefaultDurationMinutes int `yaml:"default_duration_minutes" json:"default_duration_minutes"`
	// DefaultReminderMinutes is attached to extracted events.
	DefaultReminderMinutes int      `yaml:"default_reminder_minutes" json:"default_reminder_minutes"`
	AI                     AIConfig `yaml:"ai" json:"ai"`
}

// RemindersConfig controls the reminder scheduler.
type RemindersConfig struct {
	CheckIntervalSeconds int `yaml:"check_interval_seconds" json:"check_interval_seconds"`
	// CleanupCron is a 5-field cron expression for expired-reminder cleanup.
	CleanupCron          string `yaml:"cleanup_cron" json:"cleanup_cron"`
	HistoryLimit         int    `yaml:"history_limit" json:"history_limit"`
	HistoryRetentionDays int    `yaml:"history_retention_days" json:"history_retention_days"`
	ExpireAfterMinutes   int    `yaml:"expire_after_minutes" json:"expire_after_minutes"`
	SoonWindowMinutes    int    `yaml:"soon_window_minutes" json:"soon_window_minutes"`
}

// StorageConfig selects the key-value persistence backend.
//
//   - "file" (default): one file per key under Dir
//   - "memory": process lifetime only
//   - "postgres": kv_store table reached through DSN
type StorageConfig struct {
	Driver string `yaml:"driver" json:"driver"`
	Dir    string `yaml:"dir" json:"dir"`
	DSN    string `yaml:"dsn,omitempty" json:"-"`
}

// SourceConfig describes a single ICS subscription.
type SourceConfig struct {
	// URL is the ICS subscription endpoint.
	URL string `yaml:"url" json:"url"`
	// ID is an internal identifier used for de-dup and logging.
	ID string `yaml:"id" json:"id"`
	// Name is a human-friendly label.
	Name string `yaml:"name" json:"name"`
}

// SyncConfig controls periodic calendar subscription sync.
type SyncConfig struct {
	// Refresh is a cron-style schedule string (e.g. "*/15 * * * *").
	Refresh     string         `yaml:"refresh" json:"refresh"`
	HorizonDays int            `yaml:"horizon_days" json:"horizon_days"`
	Sources     []SourceConfig `yaml:"sources" json:"sources"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone in which wall-clock event times are
	// interpreted when scheduling reminders (e.g. "Asia/Shanghai").
	Timezone string `yaml:"timezone" json:"timezone"`

	LogLevel string `yaml:"log_level" json:"log_level"`

	Extraction ExtractionConfig `yaml:"extraction" json:"extraction"`
	Reminders  RemindersConfig  `yaml:"reminders" json:"reminders"`
	Storage    StorageConfig    `yaml:"storage" json:"storage"`
	Sync       SyncConfig       `yaml:"sync" json:"sync"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all
	// endpoints except /health and /metrics.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:   "127.0.0.1:8080",
		Timezone: "Asia/Shanghai",
		LogLevel: "info",
		Extraction: ExtractionConfig{
			DefaultDurationMinutes: 60,
			DefaultReminderMinutes: 15,
			AI: AIConfig{
				Enabled:        false,
				BaseURL:        "http://localhost:11434/api",
				Model:          "qwen2.5:7b",
				TimeoutSeconds: 60,
			},
		},
		Reminders: RemindersConfig{
			CheckIntervalSeconds: 60,
			CleanupCron:          "0 * * * *",
			HistoryLimit:         200,
			HistoryRetentionDays: 7,
			ExpireAfterMinutes:   60,
			SoonWindowMinutes:    30,
		},
		Storage: StorageConfig{
			Driver: "file",
			Dir:    "/var/lib/smartcal",
		},
		Sync: SyncConfig{
			Refresh:     "*/15 * * * *",
			HorizonDays: 7,
			Sources:     []SourceConfig{},
		},
		BasicAuth: nil,
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs (e.g., older versions) still behave correctly.
func (c *Config) Normalize() {
	def := DefaultConfig()

	if c.Listen == "" {
		c.Listen = def.Listen
	}
	if c.Timezone == "" {
		c.Timezone = def.Timezone
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}

	ex := &c.Extraction
	if ex.DefaultDurationMinutes <= 0 {
		ex.DefaultDurationMinutes = def.Extraction.DefaultDurationMinutes
	}
	// Zero is meaningful ("at start time"); only negatives are reset.
	if ex.DefaultReminderMinutes < 0 {
		ex.DefaultReminderMinutes = def.Extraction.DefaultReminderMinutes
	}
	if ex.AI.BaseURL == "" {
		ex.AI.BaseURL = def.Extraction.AI.BaseURL
	}
	if ex.AI.Model == "" {
		ex.AI.Model = def.Extraction.AI.Model
	}
	if ex.AI.TimeoutSeconds <= 0 {
		ex.AI.TimeoutSeconds = def.Extraction.AI.TimeoutSeconds
	}

	rm := &c.Reminders
	if rm.CheckIntervalSeconds <= 0 {
		rm.CheckIntervalSeconds = def.Reminders.CheckIntervalSeconds
	}
	if rm.CleanupCron == "" {
		rm.CleanupCron = def.Reminders.CleanupCron
	}
	if rm.HistoryLimit <= 0 {
		rm.HistoryLimit = def.Reminders.HistoryLimit
	}
	if rm.HistoryRetentionDays <= 0 {
		rm.HistoryRetentionDays = def.Reminders.HistoryRetentionDays
	}
	if rm.ExpireAfterMinutes <= 0 {
		rm.ExpireAfterMinutes = def.Reminders.ExpireAfterMinutes
	}
	if rm.SoonWindowMinutes <= 0 {
		rm.SoonWindowMinutes = def.Reminders.SoonWindowMinutes
	}

	st := &c.Storage
	switch strings.ToLower(strings.TrimSpace(st.Driver)) {
	case "memory", "postgres", "file":
		st.Driver = strings.ToLower(strings.TrimSpace(st.Driver))
	default:
		// Unknown value; fall back to file to keep reminders durable.
		st.Driver = def.Storage.Driver
	}
	if st.Dir == "" {
		st.Dir = def.Storage.Dir
	}

	if c.Sync.Refresh == "" {
		c.Sync.Refresh = def.Sync.Refresh
	}
	if c.Sync.HorizonDays <= 0 {
		c.Sync.HorizonDays = def.Sync.HorizonDays
	}
	if c.Sync.Sources == nil {
		c.Sync.Sources = []SourceConfig{}
	}
}

// ApplyEnv overrides secrets and endpoints from the environment.
func (c *Config) ApplyEnv() {
	if v := strings.TrimSpace(os.Getenv(EnvStorageDSN)); v != "" {
		c.Storage.DSN = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvAIBaseURL)); v != "" {
		c.Extraction.AI.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvAIModel)); v != "" {
		c.Extraction.AI.Model = v
	}
}

// Location resolves Timezone, falling back to time.Local.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local, err
	}
	return loc, nil
}

// CheckInterval is the reminder polling period.
func (r RemindersConfig) CheckInterval() time.Duration {
	return time.Duration(r.CheckIntervalSeconds) * time.Second
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
//
// Environment overrides are applied in both cases.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			saveErr := Save(path, cfg)
			cfg.ApplyEnv()
			return cfg, saveErr
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()
	cfg.ApplyEnv()

	return &cfg, nil
}

// Save writes the given configuration to the specified path atomically
// (temp file in the same directory + rename) with 0600 permissions.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".smartcal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
