// Package config loads pagebot configuration from defaults, an optional TOML
// file, a .env file and the process environment (in that order, later wins).
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"dario.cat/mergo"
	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	. "github.com/roelfdiedericks/pagebot/internal/logging"
)

const (
	DefaultConfigPath        = "pagebot.toml"
	DefaultEnvFile           = ".env"
	DefaultPort              = 3000
	DefaultGraphBaseURL      = "https://graph.facebook.com"
	DefaultGraphAPIVersion   = "v17.0"
	DefaultOwnerName         = "Owner"
	DefaultBotName           = "PageBot"
	DefaultAIModel           = "gpt-4o-mini"
	DefaultAIMaxTokens       = 400
	DefaultStorePath         = "bot_db.json"
	DefaultStoreDriver       = "json"
	DefaultBroadcastInterval = "1h"
)

// ErrMissingAccessToken is the only fatal configuration error.
var ErrMissingAccessToken = errors.New("PAGE_ACCESS_TOKEN missing")

// Config is the merged pagebot configuration
type Config struct {
	Server    ServerConfig    `toml:"server" yaml:"server"`
	Messenger MessengerConfig `toml:"messenger" yaml:"messenger"`
	Bot       BotConfig       `toml:"bot" yaml:"bot"`
	AI        AIConfig        `toml:"ai" yaml:"ai"`
	Store     StoreConfig     `toml:"store" yaml:"store"`
	Broadcast BroadcastConfig `toml:"broadcast" yaml:"broadcast"`
	Logging   LoggingConfig   `toml:"log" yaml:"log"`
}

type ServerConfig struct {
	Port   int    `toml:"port" yaml:"port"`
	Listen string `toml:"listen" yaml:"listen"` // overrides Port when set, e.g. "127.0.0.1:3000"
}

type MessengerConfig struct {
	AccessToken string `toml:"access_token" yaml:"access_token"`
	VerifyToken string `toml:"verify_token" yaml:"verify_token"`
	AppSecret   string `toml:"app_secret" yaml:"app_secret"` // enables X-Hub-Signature-256 checks
	BaseURL     string `toml:"base_url" yaml:"base_url"`
	APIVersion  string `toml:"api_version" yaml:"api_version"`
}

type BotConfig struct {
	Name           string `toml:"name" yaml:"name"`
	OwnerName      string `toml:"owner_name" yaml:"owner_name"`
	AdminID        string `toml:"admin_id" yaml:"admin_id"`
	ErrorReportURL string `toml:"error_report_url" yaml:"error_report_url"`
	Timezone       string `toml:"timezone" yaml:"timezone"`
}

type AIConfig struct {
	APIKey    string `toml:"api_key" yaml:"api_key"`
	Model     string `toml:"model" yaml:"model"`
	BaseURL   string `toml:"base_url" yaml:"base_url"`
	MaxTokens int    `toml:"max_tokens" yaml:"max_tokens"`
}

type StoreConfig struct {
	Driver string `toml:"driver" yaml:"driver"` // "json" or "sqlite"
	Path   string `toml:"path" yaml:"path"`
	Watch  bool   `toml:"watch" yaml:"watch"` // json only: reload when the file is edited externally
}

type BroadcastConfig struct {
	Disabled bool   `toml:"disabled" yaml:"disabled"`
	Interval string `toml:"interval" yaml:"interval"`
}

type LoggingConfig struct {
	Level string `toml:"level" yaml:"level"`
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{Port: DefaultPort},
		Messenger: MessengerConfig{
			BaseURL:    DefaultGraphBaseURL,
			APIVersion: DefaultGraphAPIVersion,
		},
		Bot: BotConfig{
			Name:      DefaultBotName,
			OwnerName: DefaultOwnerName,
		},
		AI: AIConfig{
			Model:     DefaultAIModel,
			MaxTokens: DefaultAIMaxTokens,
		},
		Store:     StoreConfig{Driver: DefaultStoreDriver, Path: DefaultStorePath},
		Broadcast: BroadcastConfig{Interval: DefaultBroadcastInterval},
		Logging:   LoggingConfig{Level: "info"},
	}
}

// Load builds the effective configuration and validates it.
// An empty path means DefaultConfigPath, which may be absent; an explicit path must exist.
func Load(path string) (*Config, error) {
	cfg, err := LoadUnchecked(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadUnchecked is Load without validation, for read-only tooling.
func LoadUnchecked(path string) (*Config, error) {
	cfg := Defaults()

	explicit := path != ""
	if !explicit {
		path = DefaultConfigPath
	}
	if err := mergeFile(cfg, path, explicit); err != nil {
		return nil, err
	}

	// .env never overrides variables already present in the environment
	if err := godotenv.Load(DefaultEnvFile); err != nil && !os.IsNotExist(err) {
		L_warn("config: failed to read .env", "error", err)
	}

	applyEnv(cfg)
	return cfg, nil
}

func mergeFile(cfg *Config, path string, required bool) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) && !required {
			L_debug("config: no config file, using defaults", "path", path)
			return nil
		}
		return fmt.Errorf("config file %s: %w", path, err)
	}

	var fileCfg Config
	if _, err := toml.DecodeFile(path, &fileCfg); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if err := mergo.Merge(cfg, fileCfg, mergo.WithOverride); err != nil {
		return fmt.Errorf("failed to merge %s: %w", path, err)
	}
	L_debug("config: loaded file", "path", path)
	return nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.Messenger.AccessToken, "PAGE_ACCESS_TOKEN")
	setString(&cfg.Messenger.VerifyToken, "VERIFY_TOKEN")
	setString(&cfg.Messenger.AppSecret, "APP_SECRET")
	setString(&cfg.Messenger.BaseURL, "GRAPH_API_URL")
	setString(&cfg.Messenger.APIVersion, "GRAPH_API_VERSION")

	setString(&cfg.Bot.Name, "BOT_NAME")
	setString(&cfg.Bot.OwnerName, "OWNER_NAME")
	setString(&cfg.Bot.AdminID, "ADMIN_UID")
	setString(&cfg.Bot.ErrorReportURL, "ERROR_REPORT_URL")
	setString(&cfg.Bot.Timezone, "TIMEZONE")

	setString(&cfg.AI.APIKey, "OPENAI_KEY")
	setString(&cfg.AI.Model, "OPENAI_MODEL")
	setString(&cfg.AI.BaseURL, "OPENAI_BASE_URL")
	setInt(&cfg.AI.MaxTokens, "AI_MAX_TOKENS")

	setString(&cfg.Store.Driver, "DB_DRIVER")
	setString(&cfg.Store.Path, "DB_FILE")
	setBool(&cfg.Store.Watch, "DB_WATCH")

	setString(&cfg.Broadcast.Interval, "BROADCAST_INTERVAL")
	if v, ok := lookup("BROADCAST_ENABLED"); ok {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			L_warn("config: ignoring invalid BROADCAST_ENABLED", "value", v)
		} else {
			cfg.Broadcast.Disabled = !enabled
		}
	}

	setInt(&cfg.Server.Port, "PORT")
	setString(&cfg.Server.Listen, "LISTEN")
	setString(&cfg.Logging.Level, "LOG_LEVEL")
}

func lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func setString(dst *string, key string) {
	if v, ok := lookup(key); ok {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	v, ok := lookup(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		L_warn("config: ignoring invalid integer", "key", key, "value", v)
		return
	}
	*dst = n
}

func setBool(dst *bool, key string) {
	v, ok := lookup(key)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		L_warn("config: ignoring invalid boolean", "key", key, "value", v)
		return
	}
	*dst = b
}

// Validate reports fatal configuration problems.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Messenger.AccessToken) == "" {
		return ErrMissingAccessToken
	}
	return nil
}

// ListenAddr returns the HTTP listen address.
func (c *Config) ListenAddr() string {
	if c.Server.Listen != "" {
		return c.Server.Listen
	}
	port := c.Server.Port
	if port <= 0 {
		port = DefaultPort
	}
	return fmt.Sprintf(":%d", port)
}

// AIEnabled reports whether the /ai command has a completion backend.
func (c *Config) AIEnabled() bool {
	return strings.TrimSpace(c.AI.APIKey) != ""
}

// BroadcastInterval parses the broadcast interval, falling back to one hour.
func (c *Config) BroadcastInterval() time.Duration {
	d, err := time.ParseDuration(c.Broadcast.Interval)
	if err != nil || d <= 0 {
		if c.Broadcast.Interval != "" && c.Broadcast.Interval != DefaultBroadcastInterval {
			L_warn("config: invalid broadcast interval, using default", "value", c.Broadcast.Interval)
		}
		return time.Hour
	}
	return d
}

// Location returns the zone used for /time, /date and broadcasts.
func (c *Config) Location() *time.Location {
	if c.Bot.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Bot.Timezone)
	if err != nil {
		L_warn("config: invalid timezone, using local", "timezone", c.Bot.Timezone, "error", err)
		return time.Local
	}
	return loc
}

// Redacted returns a copy safe for printing.
func (c *Config) Redacted() Config {
	out := *c
	out.Messenger.AccessToken = mask(out.Messenger.AccessToken)
	out.Messenger.VerifyToken = mask(out.Messenger.VerifyToken)
	out.Messenger.AppSecret = mask(out.Messenger.AppSecret)
	out.AI.APIKey = mask(out.AI.APIKey)
	return out
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 4 {
		return "****"
	}
	return s[:2] + strings.Repeat("*", len(s)-4) + s[len(s)-2:]
}
