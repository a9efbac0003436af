// Package config provides YAML-based configuration loading for Manus.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the top-level Manus configuration, loaded from manus.yaml.
type Config struct {
	APIBase string       `yaml:"api_base"`
	Poll    PollConfig   `yaml:"poll"`
	Client  ClientConfig `yaml:"client"`
	Log     LogConfig    `yaml:"log"`
	Server  ServerConfig `yaml:"server"`
	Alerts  AlertsConfig `yaml:"alerts"`
}

// PollConfig controls the turn reconciliation loop and background refresh.
type PollConfig struct {
	Interval           time.Duration `yaml:"interval"`
	BackgroundSchedule string        `yaml:"background_schedule"`
	MaxFetchFailures   int           `yaml:"max_fetch_failures"`
	BackoffBase        time.Duration `yaml:"backoff_base"`
	BackoffMax         time.Duration `yaml:"backoff_max"`
	StallTimeout       time.Duration `yaml:"stall_timeout"`
}

// ClientConfig controls the HTTP client used against the message API.
type ClientConfig struct {
	Timeout   time.Duration `yaml:"timeout"`
	RateLimit float64       `yaml:"rate_limit"`
	Burst     int           `yaml:"burst"`
}

// LogConfig selects the log level and output format.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ServerConfig holds settings for the development message store.
type ServerConfig struct {
	Port        int           `yaml:"port"`
	Driver      string        `yaml:"driver"`
	SQLitePath  string        `yaml:"sqlite_path"`
	MySQL       MySQLConfig   `yaml:"mysql"`
	DataRoom    string        `yaml:"data_room"`
	AgentDelay  time.Duration `yaml:"agent_delay"`
	CORSOrigins []string      `yaml:"cors_origins"`
}

// MySQLConfig holds connection settings for a MySQL-backed store.
type MySQLConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// AlertsConfig configures where stalled or failed turns are reported.
type AlertsConfig struct {
	Slack   ChannelConfig `yaml:"slack"`
	Discord ChannelConfig `yaml:"discord"`
}

// ChannelConfig is a bot token plus the channel to post to.
type ChannelConfig struct {
	BotToken  string `yaml:"bot_token"`
	ChannelID string `yaml:"channel_id"`
}

// Enabled reports whether both the token and channel are set.
func (c ChannelConfig) Enabled() bool {
	return c.BotToken != "" && c.ChannelID != ""
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// LoadOrDefault behaves like Load but returns Default() when path does not
// exist. Environment overrides are applied in both cases.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		cfg = Default()
	} else if err != nil {
		return nil, err
	}
	if err := LoadEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a Config with every default applied.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

// LoadEnv reads .env (if present) and applies environment overrides.
func LoadEnv(cfg *Config) error {
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("config: load .env: %w", err)
	}
	cfg.applyEnv(os.Getenv)
	return cfg.validate()
}

// applyEnv overrides fields from environment variables. MANUS_API_BASE_URL
// wins over the frontend's NEXT_PUBLIC_API_BASE_URL.
func (c *Config) applyEnv(getenv func(string) string) {
	if v := getenv("NEXT_PUBLIC_API_BASE_URL"); v != "" {
		c.APIBase = v
	}
	if v := getenv("MANUS_API_BASE_URL"); v != "" {
		c.APIBase = v
	}
	if v := getenv("MANUS_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := getenv("MANUS_SLACK_BOT_TOKEN"); v != "" {
		c.Alerts.Slack.BotToken = v
	}
	if v := getenv("MANUS_DISCORD_BOT_TOKEN"); v != "" {
		c.Alerts.Discord.BotToken = v
	}
	c.APIBase = strings.TrimRight(c.APIBase, "/")
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.APIBase == "" {
		c.APIBase = "http://localhost:8000"
	}
	c.APIBase = strings.TrimRight(c.APIBase, "/")

	if c.Poll.Interval == 0 {
		c.Poll.Interval = 500 * time.Millisecond
	}
	if c.Poll.BackgroundSchedule == "" {
		c.Poll.BackgroundSchedule = "@every 3s"
	}
	if c.Poll.MaxFetchFailures == 0 {
		c.Poll.MaxFetchFailures = 5
	}
	if c.Poll.BackoffBase == 0 {
		c.Poll.BackoffBase = 500 * time.Millisecond
	}
	if c.Poll.BackoffMax == 0 {
		c.Poll.BackoffMax = 8 * time.Second
	}
	if c.Poll.StallTimeout == 0 {
		c.Poll.StallTimeout = 2 * time.Minute
	}

	if c.Client.Timeout == 0 {
		c.Client.Timeout = 15 * time.Second
	}
	if c.Client.RateLimit == 0 {
		c.Client.RateLimit = 20
	}
	if c.Client.Burst == 0 {
		c.Client.Burst = 5
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}

	if c.Server.Port == 0 {
		c.Server.Port = 8000
	}
	if c.Server.Driver == "" {
		c.Server.Driver = "sqlite"
	}
	if c.Server.SQLitePath == "" {
		c.Server.SQLitePath = "manus.db"
	}
	if c.Server.MySQL.Host == "" {
		c.Server.MySQL.Host = "127.0.0.1"
	}
	if c.Server.MySQL.Port == 0 {
		c.Server.MySQL.Port = 3306
	}
	if c.Server.MySQL.User == "" {
		c.Server.MySQL.User = "root"
	}
	if c.Server.MySQL.Database == "" {
		c.Server.MySQL.Database = "manus"
	}
	if c.Server.DataRoom == "" {
		c.Server.DataRoom = "data-room"
	}
	if c.Server.AgentDelay == 0 {
		c.Server.AgentDelay = 300 * time.Millisecond
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if !strings.HasPrefix(c.APIBase, "http://") && !strings.HasPrefix(c.APIBase, "https://") {
		errs = append(errs, fmt.Sprintf("api_base must be an http(s) URL, got %q", c.APIBase))
	}
	if c.Poll.Interval < 0 {
		errs = append(errs, "poll.interval must be positive")
	}
	if c.Poll.MaxFetchFailures < 0 {
		errs = append(errs, "poll.max_fetch_failures must not be negative")
	}
	if c.Poll.BackoffMax < c.Poll.BackoffBase {
		errs = append(errs, "poll.backoff_max must be >= poll.backoff_base")
	}
	if c.Poll.StallTimeout > 0 && c.Poll.StallTimeout < c.Poll.Interval {
		errs = append(errs, "poll.stall_timeout must be >= poll.interval")
	}
	if c.Client.RateLimit < 0 {
		errs = append(errs, "client.rate_limit must not be negative")
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Sprintf("log.format must be text or json, got %q", c.Log.Format))
	}
	switch c.Server.Driver {
	case "sqlite", "mysql":
	default:
		errs = append(errs, fmt.Sprintf("server.driver must be sqlite or mysql, got %q", c.Server.Driver))
	}
	if c.Alerts.Slack.BotToken != "" && c.Alerts.Slack.ChannelID == "" {
		errs = append(errs, "alerts.slack.channel_id is required when a bot token is set")
	}
	if c.Alerts.Discord.BotToken != "" && c.Alerts.Discord.ChannelID == "" {
		errs = append(errs, "alerts.discord.channel_id is required when a bot token is set")
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
