// ABOUTME: Configuration loading and parsing for coven-responder
// ABOUTME: Reads YAML or TOML by extension with .env support, env var expansion and durations

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Defaults applied to unset fields.
const (
	DefaultConversationTimeout  = 120 * time.Second
	DefaultFollowupWindow       = 60 * time.Second
	DefaultSweepInterval        = time.Minute
	DefaultRecentContextWindow  = 5 * time.Minute
	DefaultRecentContextLimit   = 10
	DefaultJudgeTimeout         = 10 * time.Second
	DefaultJudgeContextMessages = 10
	DefaultMaxMessageLength     = 4000
	DefaultRetention            = 30 * 24 * time.Hour
	DefaultDatabasePath         = "coven-responder.db"
)

// Config represents the complete coven-responder configuration
type Config struct {
	Matrix       MatrixConfig       `yaml:"matrix" toml:"matrix"`
	Gateway      GatewayConfig      `yaml:"gateway" toml:"gateway"`
	Conversation ConversationConfig `yaml:"conversation" toml:"conversation"`
	Judge        JudgeConfig        `yaml:"judge" toml:"judge"`
	Responder    ResponderConfig    `yaml:"responder" toml:"responder"`
	Database     DatabaseConfig     `yaml:"database" toml:"database"`
	Logging      LoggingConfig      `yaml:"logging" toml:"logging"`
}

// MatrixConfig holds the Matrix account and room filter
type MatrixConfig struct {
	Homeserver   string   `yaml:"homeserver" toml:"homeserver"`
	Username     string   `yaml:"username" toml:"username"`
	Password     string   `yaml:"password" toml:"password"`
	RecoveryKey  string   `yaml:"recovery_key,omitempty" toml:"recovery_key,omitempty"`
	AllowedRooms []string `yaml:"allowed_rooms,omitempty" toml:"allowed_rooms,omitempty"`
	DebugRoom    string   `yaml:"debug_room,omitempty" toml:"debug_room,omitempty"` // failure reports go here
}

// GatewayConfig points at the coven gateway that hosts the agents
type GatewayConfig struct {
	URL          string `yaml:"url" toml:"url"`
	Token        string `yaml:"token,omitempty" toml:"token,omitempty"`
	AgentID      string `yaml:"agent_id,omitempty" toml:"agent_id,omitempty"`
	JudgeAgentID string `yaml:"judge_agent_id,omitempty" toml:"judge_agent_id,omitempty"` // defaults to agent_id
}

// ConversationConfig holds conversation tracking timings
type ConversationConfig struct {
	Timeout             time.Duration `yaml:"-" toml:"-"`
	FollowupWindow      time.Duration `yaml:"-" toml:"-"`
	SweepInterval       time.Duration `yaml:"-" toml:"-"`
	RecentContextWindow time.Duration `yaml:"-" toml:"-"`
	RecentContextLimit  int           `yaml:"recent_context_limit" toml:"recent_context_limit"`

	// Raw string values for unmarshaling
	TimeoutRaw             string `yaml:"timeout" toml:"timeout"`
	FollowupWindowRaw      string `yaml:"followup_window" toml:"followup_window"`
	SweepIntervalRaw       string `yaml:"sweep_interval" toml:"sweep_interval"`
	RecentContextWindowRaw string `yaml:"recent_context_window" toml:"recent_context_window"`
}

// JudgeConfig controls the optional judge tier
type JudgeConfig struct {
	Enabled         bool          `yaml:"enabled" toml:"enabled"`
	Timeout         time.Duration `yaml:"-" toml:"-"`
	ContextMessages int           `yaml:"context_messages" toml:"context_messages"`

	TimeoutRaw string `yaml:"timeout" toml:"timeout"`
}

// ResponderConfig holds output settings
type ResponderConfig struct {
	MaxMessageLength int  `yaml:"max_message_length" toml:"max_message_length"`
	TypingIndicator  bool `yaml:"typing_indicator" toml:"typing_indicator"`
}

// DatabaseConfig holds the decision audit database settings
type DatabaseConfig struct {
	Path      string        `yaml:"path" toml:"path"`
	Retention time.Duration `yaml:"-" toml:"-"`

	RetentionRaw string `yaml:"retention" toml:"retention"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Default returns a configuration with every optional field set.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.Responder.TypingIndicator = true
	return cfg
}

// Load reads a configuration file from the given path and returns a parsed Config.
// A .env file next to the config (or in the working directory) is loaded first;
// variables already set in the environment win. ${VAR_NAME} references are
// expanded, duration strings parsed and defaults applied before validation.
func Load(path string) (*Config, error) {
	if err := loadDotEnv(path); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var cfg Config
	if isTOML(path) {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Write encodes the config to path in the format implied by its extension.
func (c *Config) Write(path string) error {
	c.syncRaw()

	var buf bytes.Buffer
	if isTOML(path) {
		if err := toml.NewEncoder(&buf).Encode(c); err != nil {
			return fmt.Errorf("encoding config: %w", err)
		}
	} else {
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(c); err != nil {
			return fmt.Errorf("encoding config: %w", err)
		}
		if err := enc.Close(); err != nil {
			return fmt.Errorf("encoding config: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

// loadDotEnv loads .env from the config's directory and the working
// directory. Missing files are fine.
func loadDotEnv(configPath string) error {
	candidates := []string{filepath.Join(filepath.Dir(configPath), ".env"), ".env"}
	seen := make(map[string]bool)
	for _, p := range candidates {
		abs, err := filepath.Abs(p)
		if err == nil {
			p = abs
		}
		if seen[p] {
			continue
		}
		seen[p] = true

		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("loading %s: %w", p, err)
		}
	}
	return nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func (c *Config) applyDefaults() {
	if c.Conversation.Timeout == 0 {
		c.Conversation.Timeout = DefaultConversationTimeout
	}
	if c.Conversation.FollowupWindow == 0 {
		c.Conversation.FollowupWindow = DefaultFollowupWindow
	}
	if c.Conversation.SweepInterval == 0 {
		c.Conversation.SweepInterval = DefaultSweepInterval
	}
	if c.Conversation.RecentContextWindow == 0 {
		c.Conversation.RecentContextWindow = DefaultRecentContextWindow
	}
	if c.Conversation.RecentContextLimit == 0 {
		c.Conversation.RecentContextLimit = DefaultRecentContextLimit
	}
	if c.Judge.Timeout == 0 {
		c.Judge.Timeout = DefaultJudgeTimeout
	}
	if c.Judge.ContextMessages == 0 {
		c.Judge.ContextMessages = DefaultJudgeContextMessages
	}
	if c.Responder.MaxMessageLength == 0 {
		c.Responder.MaxMessageLength = DefaultMaxMessageLength
	}
	if c.Database.Path == "" {
		c.Database.Path = DefaultDatabasePath
	}
	if c.Database.Retention == 0 {
		c.Database.Retention = DefaultRetention
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Gateway.JudgeAgentID == "" {
		c.Gateway.JudgeAgentID = c.Gateway.AgentID
	}
}

// syncRaw copies parsed durations back into their raw fields for Write.
func (c *Config) syncRaw() {
	c.Conversation.TimeoutRaw = c.Conversation.Timeout.String()
	c.Conversation.FollowupWindowRaw = c.Conversation.FollowupWindow.String()
	c.Conversation.SweepIntervalRaw = c.Conversation.SweepInterval.String()
	c.Conversation.RecentContextWindowRaw = c.Conversation.RecentContextWindow.String()
	c.Judge.TimeoutRaw = c.Judge.Timeout.String()
	c.Database.RetentionRaw = c.Database.Retention.String()
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Matrix.Homeserver == "" {
		return fmt.Errorf("matrix.homeserver is required")
	}
	if err := httpURL("matrix.homeserver", c.Matrix.Homeserver); err != nil {
		return err
	}
	if c.Matrix.Username == "" {
		return fmt.Errorf("matrix.username is required")
	}
	if c.Matrix.Password == "" {
		return fmt.Errorf("matrix.password is required")
	}

	if c.Gateway.URL == "" {
		return fmt.Errorf("gateway.url is required")
	}
	if err := httpURL("gateway.url", c.Gateway.URL); err != nil {
		return err
	}

	durations := []struct {
		name string
		d    time.Duration
	}{
		{"conversation.timeout", c.Conversation.Timeout},
		{"conversation.followup_window", c.Conversation.FollowupWindow},
		{"conversation.sweep_interval", c.Conversation.SweepInterval},
		{"conversation.recent_context_window", c.Conversation.RecentContextWindow},
		{"judge.timeout", c.Judge.Timeout},
		{"database.retention", c.Database.Retention},
	}
	for _, d := range durations {
		if d.d < 0 {
			return fmt.Errorf("%s must not be negative", d.name)
		}
	}
	if c.Conversation.RecentContextLimit < 0 {
		return fmt.Errorf("conversation.recent_context_limit must not be negative")
	}
	if c.Judge.ContextMessages < 0 {
		return fmt.Errorf("judge.context_messages must not be negative")
	}
	if c.Responder.MaxMessageLength < 0 {
		return fmt.Errorf("responder.max_message_length must not be negative")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format %q must be text or json", c.Logging.Format)
	}

	return nil
}

func httpURL(field, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s is not a valid URL: %w", field, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s must use http or https scheme", field)
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"conversation.timeout", cfg.Conversation.TimeoutRaw, &cfg.Conversation.Timeout},
		{"conversation.followup_window", cfg.Conversation.FollowupWindowRaw, &cfg.Conversation.FollowupWindow},
		{"conversation.sweep_interval", cfg.Conversation.SweepIntervalRaw, &cfg.Conversation.SweepInterval},
		{"conversation.recent_context_window", cfg.Conversation.RecentContextWindowRaw, &cfg.Conversation.RecentContextWindow},
		{"judge.timeout", cfg.Judge.TimeoutRaw, &cfg.Judge.Timeout},
		{"database.retention", cfg.Database.RetentionRaw, &cfg.Database.Retention},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}
