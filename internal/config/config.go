// ABOUTME: Configuration loading and parsing for rollcall-gateway
// ABOUTME: Supports YAML files with environment variable expansion, duration parsing and defaults

package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Reply modes for the Twilio webhook.
const (
	ReplyModeTwiML = "twiml"
	ReplyModeREST  = "rest"
)

// minJWTSecretLength matches auth.MinSecretLength. Duplicated so config
// does not import auth.
const minJWTSecretLength = 32

// Config represents the complete rollcall-gateway configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Backend   BackendConfig   `yaml:"backend"`
	Sessions  SessionsConfig  `yaml:"sessions"`
	Bot       BotConfig       `yaml:"bot"`
	Login     LoginConfig     `yaml:"login"`
	Dedupe    DedupeConfig    `yaml:"dedupe"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Twilio    TwilioConfig    `yaml:"twilio"`
	Tailscale TailscaleConfig `yaml:"tailscale"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// BackendConfig points at the attendance service.
type BackendConfig struct {
	URL         string        `yaml:"url"`
	MaxAttempts int           `yaml:"max_attempts"`
	Timeout     time.Duration `yaml:"-"`
	RetryDelay  time.Duration `yaml:"-"`

	TimeoutRaw    string `yaml:"timeout"`
	RetryDelayRaw string `yaml:"retry_delay"`
}

// SessionsConfig holds session store timing
type SessionsConfig struct {
	TTL           time.Duration `yaml:"-"`
	SweepInterval time.Duration `yaml:"-"`
	LockWait      time.Duration `yaml:"-"`

	TTLRaw           string `yaml:"ttl"`
	SweepIntervalRaw string `yaml:"sweep_interval"`
	LockWaitRaw      string `yaml:"lock_wait"`
}

// BotConfig bounds each handled message.
type BotConfig struct {
	MessageDeadline time.Duration `yaml:"-"`
	MaxReplyLength  int           `yaml:"max_reply_length"`

	MessageDeadlineRaw string `yaml:"message_deadline"`
}

// LoginConfig holds the login throttling rules
type LoginConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	MinInterval time.Duration `yaml:"-"`
	Lockout     time.Duration `yaml:"-"`

	MinIntervalRaw string `yaml:"min_interval"`
	LockoutRaw     string `yaml:"lockout"`
}

// DedupeConfig sizes the redelivery reply cache
type DedupeConfig struct {
	TTL     time.Duration `yaml:"-"`
	MaxSize int           `yaml:"max_size"`

	TTLRaw string `yaml:"ttl"`
}

// DatabaseConfig holds database configuration. An empty path disables the ledger.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds authentication configuration. An empty secret leaves the
// JSON API and debug endpoints open.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// TwilioConfig holds Twilio messaging configuration
type TwilioConfig struct {
	AccountSID        string `yaml:"account_sid"`
	AuthToken         string `yaml:"auth_token"`
	FromNumber        string `yaml:"from_number"`
	PublicURL         string `yaml:"public_url"` // webhook URL as Twilio calls it, used for signatures
	ValidateSignature bool   `yaml:"validate_signature"`
	ReplyMode         string `yaml:"reply_mode"`
}

// CanSend reports whether REST API credentials are present.
func (t TwilioConfig) CanSend() bool {
	return t.AccountSID != "" && t.AuthToken != "" && t.FromNumber != ""
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Hostname  string `yaml:"hostname"`
	AuthKey   string `yaml:"auth_key"`
	StateDir  string `yaml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral"`
	Funnel    bool   `yaml:"funnel"` // public HTTPS so Twilio can reach the webhook
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// DefaultPath returns the config file location: ROLLCALL_CONFIG, then
// $XDG_CONFIG_HOME/rollcall/gateway.yaml, then ~/.config/rollcall/gateway.yaml.
func DefaultPath() string {
	if p := os.Getenv("ROLLCALL_CONFIG"); p != "" {
		return p
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "rollcall", "gateway.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".config", "rollcall", "gateway.yaml")
	}
	return filepath.Join(home, ".config", "rollcall", "gateway.yaml")
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse is Load without the file.
func Parse(data []byte) (*Config, error) {
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Backend.URL == "" {
		return fmt.Errorf("backend.url is required")
	}
	u, err := url.Parse(c.Backend.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("backend.url must be an http(s) URL, got %q", c.Backend.URL)
	}
	if c.Backend.MaxAttempts < 1 {
		return fmt.Errorf("backend.max_attempts must be at least 1")
	}

	if c.Bot.MessageDeadline >= 15*time.Second {
		return fmt.Errorf("bot.message_deadline must be shorter than the 15s webhook timeout, got %s", c.Bot.MessageDeadline)
	}
	if c.Bot.MaxReplyLength < 4 {
		return fmt.Errorf("bot.max_reply_length must be at least 4")
	}

	if c.Login.MaxAttempts < 1 {
		return fmt.Errorf("login.max_attempts must be at least 1")
	}

	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < minJWTSecretLength {
		return fmt.Errorf("auth.jwt_secret must be at least %d bytes", minJWTSecretLength)
	}

	switch c.Twilio.ReplyMode {
	case ReplyModeTwiML:
	case ReplyModeREST:
		if !c.Twilio.CanSend() {
			return fmt.Errorf("twilio.reply_mode rest requires account_sid, auth_token and from_number")
		}
	default:
		return fmt.Errorf("twilio.reply_mode must be %q or %q, got %q", ReplyModeTwiML, ReplyModeREST, c.Twilio.ReplyMode)
	}
	if c.Twilio.ValidateSignature && (c.Twilio.AuthToken == "" || c.Twilio.PublicURL == "") {
		return fmt.Errorf("twilio.validate_signature requires auth_token and public_url")
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}

// applyDefaults fills every unset field.
func applyDefaults(cfg *Config) {
	setDuration(&cfg.Backend.Timeout, 30*time.Second)
	setDuration(&cfg.Backend.RetryDelay, time.Second)
	setInt(&cfg.Backend.MaxAttempts, 3)

	setDuration(&cfg.Sessions.TTL, 30*time.Minute)
	setDuration(&cfg.Sessions.SweepInterval, time.Minute)
	setDuration(&cfg.Sessions.LockWait, 5*time.Second)

	setDuration(&cfg.Bot.MessageDeadline, 12*time.Second)
	setInt(&cfg.Bot.MaxReplyLength, 1600)

	setDuration(&cfg.Login.MinInterval, 5*time.Second)
	setDuration(&cfg.Login.Lockout, 15*time.Minute)
	setInt(&cfg.Login.MaxAttempts, 5)

	setDuration(&cfg.Dedupe.TTL, 10*time.Minute)
	setInt(&cfg.Dedupe.MaxSize, 10000)

	if cfg.Twilio.ReplyMode == "" {
		cfg.Twilio.ReplyMode = ReplyModeTwiML
	}
	cfg.Twilio.ReplyMode = strings.ToLower(cfg.Twilio.ReplyMode)

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
}

func setDuration(d *time.Duration, def time.Duration) {
	if *d == 0 {
		*d = def
	}
}

func setInt(n *int, def int) {
	if *n == 0 {
		*n = def
	}
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"backend.timeout", cfg.Backend.TimeoutRaw, &cfg.Backend.Timeout},
		{"backend.retry_delay", cfg.Backend.RetryDelayRaw, &cfg.Backend.RetryDelay},
		{"sessions.ttl", cfg.Sessions.TTLRaw, &cfg.Sessions.TTL},
		{"sessions.sweep_interval", cfg.Sessions.SweepIntervalRaw, &cfg.Sessions.SweepInterval},
		{"sessions.lock_wait", cfg.Sessions.LockWaitRaw, &cfg.Sessions.LockWait},
		{"bot.message_deadline", cfg.Bot.MessageDeadlineRaw, &cfg.Bot.MessageDeadline},
		{"login.min_interval", cfg.Login.MinIntervalRaw, &cfg.Login.MinInterval},
		{"login.lockout", cfg.Login.LockoutRaw, &cfg.Login.Lockout},
		{"dedupe.ttl", cfg.Dedupe.TTLRaw, &cfg.Dedupe.TTL},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %q", f.name, f.raw)
		}
		*f.dst = d
	}

	return nil
}

// Marshal renders the config as YAML, with durations in their string form.
func (c *Config) Marshal() ([]byte, error) {
	out := *c
	out.Backend.TimeoutRaw = c.Backend.Timeout.String()
	out.Backend.RetryDelayRaw = c.Backend.RetryDelay.String()
	out.Sessions.TTLRaw = c.Sessions.TTL.String()
	out.Sessions.SweepIntervalRaw = c.Sessions.SweepInterval.String()
	out.Sessions.LockWaitRaw = c.Sessions.LockWait.String()
	out.Bot.MessageDeadlineRaw = c.Bot.MessageDeadline.String()
	out.Login.MinIntervalRaw = c.Login.MinInterval.String()
	out.Login.LockoutRaw = c.Login.Lockout.String()
	out.Dedupe.TTLRaw = c.Dedupe.TTL.String()
	return yaml.Marshal(&out)
}
