// Package config loads opsbridge configuration from a TOML file with
// environment-variable overrides for secrets.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// DefaultDirName is the dot-directory under the user's home.
const DefaultDirName = ".opsbridge"

// Config is the full runtime configuration.
type Config struct {
	Chat    ChatConfig    `toml:"chat"`
	Claude  ClaudeConfig  `toml:"claude"`
	Session SessionConfig `toml:"session"`
	Web     WebConfig     `toml:"web"`
	Pager   PagerConfig   `toml:"pager"`
	Log     LogConfig     `toml:"log"`
}

// ChatConfig configures the chat-platform transport.
type ChatConfig struct {
	// WebsocketURL is the event-stream endpoint.
	WebsocketURL string `toml:"websocket_url"`
	// APIURL is the REST base for posting and fetching messages.
	APIURL string `toml:"api_url"`
	// BotToken authenticates both transports.
	BotToken string `toml:"bot_token"`
	// BotUserID filters out our own messages on inbound events.
	BotUserID string `toml:"bot_user_id"`
	// PostRate is the outbound message budget in messages per second.
	PostRate float64 `toml:"post_rate"`
}

// ClaudeConfig configures the CLI subprocess.
type ClaudeConfig struct {
	Binary  string `toml:"binary"`
	Model   string `toml:"model"`
	WorkDir string `toml:"work_dir"`
}

// SessionConfig holds lifecycle timing policy.
type SessionConfig struct {
	TurnTimeoutSecs     int `toml:"turn_timeout_secs"`
	HeartbeatSecs       int `toml:"heartbeat_secs"`
	CompactTimeoutSecs  int `toml:"compact_timeout_secs"`
	FeedbackWindowSecs  int `toml:"feedback_window_secs"`
	ResponseSplitLength int `toml:"response_split_length"`
}

// TurnTimeout returns the configured turn ceiling as a duration.
func (s SessionConfig) TurnTimeout() time.Duration {
	return time.Duration(s.TurnTimeoutSecs) * time.Second
}

// Heartbeat returns the placeholder update interval.
func (s SessionConfig) Heartbeat() time.Duration {
	return time.Duration(s.HeartbeatSecs) * time.Second
}

// CompactTimeout returns the safety ceiling for compact runs.
func (s SessionConfig) CompactTimeout() time.Duration {
	return time.Duration(s.CompactTimeoutSecs) * time.Second
}

// FeedbackWindow returns the post-workflow reply window.
func (s SessionConfig) FeedbackWindow() time.Duration {
	return time.Duration(s.FeedbackWindowSecs) * time.Second
}

// WebConfig configures the operational HTTP surface.
type WebConfig struct {
	ListenAddr string `toml:"listen_addr"`
	Token      string `toml:"token"`
}

// PagerConfig configures the paging-service acknowledgement call.
type PagerConfig struct {
	AckURL string `toml:"ack_url"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level string `toml:"level"`
	Dir   string `toml:"dir"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Chat: ChatConfig{
			PostRate: 1.0,
		},
		Claude: ClaudeConfig{
			Model: "sonnet",
		},
		Session: SessionConfig{
			TurnTimeoutSecs:     600,
			HeartbeatSecs:       30,
			CompactTimeoutSecs:  120,
			FeedbackWindowSecs:  300,
			ResponseSplitLength: 3800,
		},
		Web: WebConfig{
			ListenAddr: "127.0.0.1:8620",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// DefaultPath returns ~/.opsbridge/config.toml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, DefaultDirName, "config.toml"), nil
}

// Load reads the config file at path, applying defaults for anything the
// file omits and env overrides on top. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("config: decode %s: %w", path, err)
			}
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides lets secrets live in the environment instead of the file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("OPSBRIDGE_BOT_TOKEN"); v != "" {
		cfg.Chat.BotToken = v
	}
	if v := os.Getenv("OPSBRIDGE_WEB_TOKEN"); v != "" {
		cfg.Web.Token = v
	}
	if v := os.Getenv("OPSBRIDGE_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("OPSBRIDGE_CLAUDE_BINARY"); v != "" {
		cfg.Claude.Binary = v
	}
}

func (c *Config) validate() error {
	if c.Session.TurnTimeoutSecs <= 0 {
		return fmt.Errorf("config: turn_timeout_secs must be positive")
	}
	if c.Session.HeartbeatSecs <= 0 {
		return fmt.Errorf("config: heartbeat_secs must be positive")
	}
	if c.Chat.PostRate <= 0 {
		return fmt.Errorf("config: post_rate must be positive")
	}
	return nil
}
