// Package config provides YAML-based configuration loading for the pst client.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables that override values from the config file.
const (
	EnvAPIURL    = "PST_API_URL"
	EnvWSURL     = "PST_WS_URL"
	EnvStatePath = "PST_STATE_PATH"
	EnvLogLevel  = "PST_LOG_LEVEL"
)

// Config is the top-level client configuration, loaded from pst.yaml.
type Config struct {
	API       APIConfig       `yaml:"api"`
	Chat      ChatConfig      `yaml:"chat"`
	State     StateConfig     `yaml:"state"`
	Dashboard DashboardConfig `yaml:"dashboard"`
	Watch     WatchConfig     `yaml:"watch"`
	Log       LogConfig       `yaml:"log"`
}

// APIConfig points at the marketplace REST API.
type APIConfig struct {
	BaseURL    string `yaml:"base_url"`
	TimeoutSec int    `yaml:"timeout_sec"`
}

// ChatConfig holds settings for the order chat channel.
type ChatConfig struct {
	WSURL         string `yaml:"ws_url"`
	Path          string `yaml:"path"` // must contain one %d for the order id
	PingPeriodSec int    `yaml:"ping_period_sec"`
	SendQueue     int    `yaml:"send_queue"`
}

// StateConfig locates the local sqlite database holding the credential.
type StateConfig struct {
	Path string `yaml:"path"`
}

// DashboardConfig configures the local web front end.
type DashboardConfig struct {
	Port int `yaml:"port"`
}

// WatchConfig configures the verification watcher.
type WatchConfig struct {
	Schedule string `yaml:"schedule"` // 5-field cron expression
}

// LogConfig sets the log level (debug, info, warn, error).
type LogConfig struct {
	Level string `yaml:"level"`
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// LoadOrDefault behaves like Load but falls back to defaults when the file
// does not exist. Any .env file in the working directory is read first so
// its values are visible to the environment overrides.
func LoadOrDefault(path string) (*Config, error) {
	_ = godotenv.Load(".env")

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		data = nil
	} else if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv copies non-empty environment overrides onto the config.
func (c *Config) applyEnv() {
	if v := os.Getenv(EnvAPIURL); v != "" {
		c.API.BaseURL = v
	}
	if v := os.Getenv(EnvWSURL); v != "" {
		c.Chat.WSURL = v
	}
	if v := os.Getenv(EnvStatePath); v != "" {
		c.State.Path = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Log.Level = v
	}
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.API.BaseURL == "" {
		c.API.BaseURL = "http://127.0.0.1:8000/api/v1"
	}
	c.API.BaseURL = strings.TrimRight(c.API.BaseURL, "/")
	if c.API.TimeoutSec == 0 {
		c.API.TimeoutSec = 15
	}
	if c.Chat.WSURL == "" {
		c.Chat.WSURL = deriveWSURL(c.API.BaseURL)
	}
	c.Chat.WSURL = strings.TrimRight(c.Chat.WSURL, "/")
	if c.Chat.Path == "" {
		c.Chat.Path = "/ws/chat/%d/"
	}
	if c.Chat.PingPeriodSec == 0 {
		c.Chat.PingPeriodSec = 54
	}
	if c.Chat.SendQueue == 0 {
		c.Chat.SendQueue = 16
	}
	if c.State.Path == "" {
		c.State.Path = defaultStatePath()
	}
	if c.Dashboard.Port == 0 {
		c.Dashboard.Port = 8090
	}
	if c.Watch.Schedule == "" {
		c.Watch.Schedule = "*/5 * * * *"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if u, err := url.Parse(c.API.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		errs = append(errs, fmt.Sprintf("api.base_url %q must be an http(s) URL", c.API.BaseURL))
	}
	if c.API.TimeoutSec < 0 {
		errs = append(errs, "api.timeout_sec must not be negative")
	}
	if u, err := url.Parse(c.Chat.WSURL); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		errs = append(errs, fmt.Sprintf("chat.ws_url %q must be a ws(s) URL", c.Chat.WSURL))
	}
	if strings.Count(c.Chat.Path, "%d") != 1 || strings.Count(c.Chat.Path, "%") != 1 {
		errs = append(errs, "chat.path must contain exactly one %d placeholder and no other % verbs")
	}
	if c.Chat.PingPeriodSec < 0 {
		errs = append(errs, "chat.ping_period_sec must not be negative")
	}
	if c.Chat.SendQueue < 0 {
		errs = append(errs, "chat.send_queue must not be negative")
	}
	if c.Dashboard.Port < 0 || c.Dashboard.Port > 65535 {
		errs = append(errs, fmt.Sprintf("dashboard.port %d out of range", c.Dashboard.Port))
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("log.level %q must be one of debug, info, warn, error", c.Log.Level))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// ChatURL returns the channel endpoint for an order, without credentials.
func (c *Config) ChatURL(orderID int) string {
	return c.Chat.WSURL + strings.Replace(c.Chat.Path, "%d", strconv.Itoa(orderID), 1)
}

// deriveWSURL maps the REST base URL onto the WebSocket origin serving the
// chat channel: http://host:8000/api/v1 becomes ws://host:8000.
func deriveWSURL(base string) string {
	u, err := url.Parse(base)
	if err != nil || u.Host == "" {
		return "ws://127.0.0.1:8000"
	}
	scheme := "ws"
	if u.Scheme == "https" {
		scheme = "wss"
	}
	return scheme + "://" + u.Host
}

func defaultStatePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".postavshik", "state.db")
	}
	return filepath.Join(home, ".postavshik", "state.db")
}
