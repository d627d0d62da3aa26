// Package config loads the global ~/.casesync/config.toml.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.casesync/config.toml.
type Config struct {
	DefaultSession string             `toml:"default_session"`
	Server         ServerConfig       `toml:"server"`
	User           UserConfig         `toml:"user"`
	Conversation   ConversationConfig `toml:"conversation"`
	Channel        ChannelConfig      `toml:"channel"`
	Reconnect      ReconnectConfig    `toml:"reconnect"`
	Mirror         MirrorConfig       `toml:"mirror"`
	Log            LogConfig          `toml:"log"`
}

type ServerConfig struct {
	APIURL         string   `toml:"api_url"`
	WSURL          string   `toml:"ws_url"`
	Token          string   `toml:"token"`
	RequestTimeout Duration `toml:"request_timeout"`
}

type UserConfig struct {
	ID string `toml:"id"`
}

// ConversationConfig binds the daemon to one case.
type ConversationConfig struct {
	CaseID             string   `toml:"case_id"`
	OtherUserID        string   `toml:"other_user_id"`
	PageSize           int      `toml:"page_size"`
	TypingTimeout      Duration `toml:"typing_timeout"`
	TypingSendInterval Duration `toml:"typing_send_interval"`
}

type ChannelConfig struct {
	Enabled           bool     `toml:"enabled"`
	HeartbeatInterval Duration `toml:"heartbeat_interval"`
}

type ReconnectConfig struct {
	Enabled     bool     `toml:"enabled"`
	BaseDelay   Duration `toml:"base_delay"`
	MaxDelay    Duration `toml:"max_delay"`
	MaxAttempts int      `toml:"max_attempts"`
}

type MirrorConfig struct {
	Enabled bool `toml:"enabled"`
}

type LogConfig struct {
	Level string `toml:"level"`
}

// Duration is a time.Duration written as a string ("3s") in TOML.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		DefaultSession: "main",
		Server: ServerConfig{
			APIURL:         "http://localhost:8000",
			RequestTimeout: Duration{10 * time.Second},
		},
		Conversation: ConversationConfig{
			PageSize:           50,
			TypingTimeout:      Duration{3 * time.Second},
			TypingSendInterval: Duration{2 * time.Second},
		},
		Channel: ChannelConfig{
			Enabled:           true,
			HeartbeatInterval: Duration{25 * time.Second},
		},
		Reconnect: ReconnectConfig{
			BaseDelay:   Duration{time.Second},
			MaxDelay:    Duration{30 * time.Second},
			MaxAttempts: 10,
		},
		Mirror: MirrorConfig{Enabled: true},
		Log:    LogConfig{Level: "info"},
	}
}

// Load reads config from the given path on top of Default. Returns nil and
// an error if the file is missing or malformed.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// Validate checks that the daemon can bind a conversation with cfg.
func (c *Config) Validate() error {
	var errs []error
	if _, err := url.ParseRequestURI(c.Server.APIURL); err != nil || c.Server.APIURL == "" {
		errs = append(errs, fmt.Errorf("server.api_url: invalid url %q", c.Server.APIURL))
	}
	if c.Channel.Enabled && c.Server.WSURL != "" {
		if _, err := url.ParseRequestURI(c.Server.WSURL); err != nil {
			errs = append(errs, fmt.Errorf("server.ws_url: invalid url %q", c.Server.WSURL))
		}
	}
	if c.User.ID == "" {
		errs = append(errs, errors.New("user.id: required"))
	}
	if c.Conversation.CaseID == "" {
		errs = append(errs, errors.New("conversation.case_id: required"))
	}
	if c.Conversation.PageSize <= 0 {
		errs = append(errs, fmt.Errorf("conversation.page_size: must be positive, got %d", c.Conversation.PageSize))
	}
	if c.Conversation.TypingTimeout.Duration <= 0 {
		errs = append(errs, errors.New("conversation.typing_timeout: must be positive"))
	}
	if c.Reconnect.Enabled && c.Reconnect.BaseDelay.Duration <= 0 {
		errs = append(errs, errors.New("reconnect.base_delay: must be positive"))
	}
	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level: unknown level %q", c.Log.Level))
	}
	return errors.Join(errs...)
}
