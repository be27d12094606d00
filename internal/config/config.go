package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
// It is read-only after Load() returns and thread-safe for concurrent reads.
type Config struct {
	Remote   RemoteConfig   `yaml:"remote"`
	Database DatabaseConfig `yaml:"database"`
	Sync     SyncConfig     `yaml:"sync"`
	Server   ServerConfig   `yaml:"server"`
	Auth     AuthConfig     `yaml:"auth"`
	Snapshot SnapshotConfig `yaml:"snapshot"`
	Log      LogConfig      `yaml:"log"`
}

// RemoteConfig contains the server connection settings.
type RemoteConfig struct {
	BaseURL  string   `yaml:"base_url"`
	Username string   `yaml:"username"`
	Password string   `yaml:"-"` // env-only, never in YAML
	Timeout  Duration `yaml:"timeout"`
	// ServerTimezone is the IANA zone the server stamps lastUpdated in.
	ServerTimezone string `yaml:"server_timezone"`
}

// Location resolves ServerTimezone. Empty means UTC.
func (r RemoteConfig) Location() (*time.Location, error) {
	if r.ServerTimezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(r.ServerTimezone)
}

// DatabaseConfig contains database settings.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// SyncConfig contains sync cycle settings.
type SyncConfig struct {
	// Schedule is a cron expression or descriptor such as "@every 15m".
	Schedule       string `yaml:"schedule"`
	ProtectPending bool   `yaml:"protect_pending"`
	RunOnStart     bool   `yaml:"run_on_start"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port            int      `yaml:"port"`
	ReadTimeout     Duration `yaml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// AuthConfig contains authentication settings.
type AuthConfig struct {
	APIKey string `yaml:"-"` // env-only, never in YAML
}

// SnapshotConfig contains post-sync snapshot settings. Snapshots are written
// to Dir when it is set and uploaded when Bucket is set.
type SnapshotConfig struct {
	Dir       string   `yaml:"dir"`
	Bucket    string   `yaml:"bucket"`
	Endpoint  string   `yaml:"endpoint"`
	Region    string   `yaml:"region"`
	AccessKey string   `yaml:"-"` // env-only, never in YAML
	SecretKey string   `yaml:"-"` // env-only, never in YAML
	UseSSL    *bool    `yaml:"use_ssl"`
	URLExpiry Duration `yaml:"url_expiry"`
	// Instance names this replica in object keys.
	Instance string `yaml:"instance"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Duration is a wrapper around time.Duration that supports YAML string parsing.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Load loads configuration with precedence: defaults → YAML file → env vars.
// Returns an immutable Config suitable for concurrent read access.
func Load() (*Config, error) {
	return LoadWithPath(getEnv("DASHSYNC_CONFIG_PATH", "config/dashsync.yaml"))
}

// LoadWithPath is Load with an explicit config path. A missing file is not
// an error; defaults and env vars still apply.
func LoadWithPath(configPath string) (*Config, error) {
	cfg := newDefaults()

	if err := loadYAMLFile(cfg, configPath); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromFile loads configuration from a specific path.
// Used for testing and explicit path specification.
func LoadFromFile(path string) (*Config, error) {
	cfg := newDefaults()

	// Load YAML file (file must exist for this function)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// newDefaults returns a Config with all default values.
func newDefaults() *Config {
	useSSL := true
	return &Config{
		Remote: RemoteConfig{
			Timeout: Duration(30 * time.Second),
		},
		Database: DatabaseConfig{
			Path: "data/dashsync.db",
		},
		Sync: SyncConfig{
			Schedule:       "@every 15m",
			ProtectPending: true,
			RunOnStart:     true,
		},
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     Duration(30 * time.Second),
			WriteTimeout:    Duration(5 * time.Minute),
			ShutdownTimeout: Duration(15 * time.Second),
		},
		Snapshot: SnapshotConfig{
			Region:    "us-east-1",
			UseSSL:    &useSSL,
			URLExpiry: Duration(15 * time.Minute),
			Instance:  "default",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// loadYAMLFile loads configuration from a YAML file if it exists.
// Missing file is not an error; we just use defaults.
func loadYAMLFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides to the config.
// Only non-empty env vars override config values.
func applyEnvOverrides(cfg *Config) {
	// Remote
	if v := os.Getenv("DASHSYNC_REMOTE_URL"); v != "" {
		cfg.Remote.BaseURL = v
	}
	if v := os.Getenv("DASHSYNC_REMOTE_USERNAME"); v != "" {
		cfg.Remote.Username = v
	}
	if v := os.Getenv("DASHSYNC_REMOTE_PASSWORD"); v != "" {
		cfg.Remote.Password = v
	}
	if v := os.Getenv("DASHSYNC_REMOTE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Remote.Timeout = Duration(d)
		}
	}
	if v := os.Getenv("DASHSYNC_SERVER_TIMEZONE"); v != "" {
		cfg.Remote.ServerTimezone = v
	}

	// Database
	if v := os.Getenv("DASHSYNC_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// Sync
	if v := os.Getenv("DASHSYNC_SCHEDULE"); v != "" {
		cfg.Sync.Schedule = v
	}
	if v := os.Getenv("DASHSYNC_PROTECT_PENDING"); v != "" {
		cfg.Sync.ProtectPending = v == "true" || v == "1"
	}
	if v := os.Getenv("DASHSYNC_RUN_ON_START"); v != "" {
		cfg.Sync.RunOnStart = v == "true" || v == "1"
	}

	// Server
	if v := os.Getenv("DASHSYNC_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("DASHSYNC_READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.ReadTimeout = Duration(d)
		}
	}
	if v := os.Getenv("DASHSYNC_WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.WriteTimeout = Duration(d)
		}
	}
	if v := os.Getenv("DASHSYNC_SHUTDOWN_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.ShutdownTimeout = Duration(d)
		}
	}

	// Auth
	if v := os.Getenv("DASHSYNC_API_KEY"); v != "" {
		cfg.Auth.APIKey = v
	}

	// Snapshot
	if v := os.Getenv("DASHSYNC_SNAPSHOT_DIR"); v != "" {
		cfg.Snapshot.Dir = v
	}
	if v := os.Getenv("DASHSYNC_SNAPSHOT_BUCKET"); v != "" {
		cfg.Snapshot.Bucket = v
	}
	if v := os.Getenv("DASHSYNC_S3_ENDPOINT"); v != "" {
		cfg.Snapshot.Endpoint = v
	}
	if v := os.Getenv("DASHSYNC_S3_REGION"); v != "" {
		cfg.Snapshot.Region = v
	}
	if v := os.Getenv("DASHSYNC_S3_ACCESS_KEY"); v != "" {
		cfg.Snapshot.AccessKey = v
	}
	if v := os.Getenv("DASHSYNC_S3_SECRET_KEY"); v != "" {
		cfg.Snapshot.SecretKey = v
	}
	if v := os.Getenv("DASHSYNC_S3_USE_SSL"); v != "" {
		useSSL := v == "true" || v == "1"
		cfg.Snapshot.UseSSL = &useSSL
	}
	if v := os.Getenv("DASHSYNC_S3_URL_EXPIRY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Snapshot.URLExpiry = Duration(d)
		}
	}
	if v := os.Getenv("DASHSYNC_INSTANCE"); v != "" {
		cfg.Snapshot.Instance = v
	}

	// Log
	if v := os.Getenv("DASHSYNC_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("DASHSYNC_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}

// validate checks that required configuration values are set and parse.
func (c *Config) validate() error {
	if c.Remote.BaseURL == "" {
		return errors.New("remote.base_url (DASHSYNC_REMOTE_URL) is required")
	}
	if _, err := c.Remote.Location(); err != nil {
		return fmt.Errorf("remote.server_timezone: %w", err)
	}
	if _, err := cron.ParseStandard(c.Sync.Schedule); err != nil {
		return fmt.Errorf("sync.schedule %q: %w", c.Sync.Schedule, err)
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q: must be debug, info, warn or error", c.Log.Level)
	}
	if c.Snapshot.Bucket != "" && c.Snapshot.Dir == "" {
		return errors.New("snapshot.dir is required when snapshot.bucket is set")
	}
	return nil
}

// ValidateServer checks the settings only the HTTP server needs.
// In dev mode (DASHSYNC_DEV_MODE=true), API key validation is skipped.
func (c *Config) ValidateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d: out of range", c.Server.Port)
	}
	// Dev mode bypasses API key validation
	if os.Getenv("DASHSYNC_DEV_MODE") == "true" {
		return nil
	}
	if c.Auth.APIKey == "" {
		return errors.New("DASHSYNC_API_KEY is required")
	}
	return nil
}

// getEnv returns the value of an environment variable or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
