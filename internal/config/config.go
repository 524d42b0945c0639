// Package config loads and saves the TOML settings file for
// cmd/richpresence-demo. The library root package never imports this
// package; it exists solely so the demo daemon has persisted defaults
// instead of requiring every flag on every invocation.
package config

import (
	"bytes"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"richpresence/internal/atomicfile"
)

// Config is the on-disk shape of config.toml in the demo's data
// directory.
type Config struct {
	Discord DiscordConfig `toml:"discord"`
	Display DisplayConfig `toml:"display"`
	Log     LogConfig     `toml:"log"`
	Avatar  AvatarConfig  `toml:"avatar"`
}

// DiscordConfig holds connection settings.
type DiscordConfig struct {
	// AppID is the Discord application ID used for Rich Presence.
	AppID string `toml:"app_id"`
	// PipeIndex pins the client to one IPC pipe slot, or -1 to scan 0-9.
	PipeIndex int `toml:"pipe_index"`
	// SubscribeJoin enables ACTIVITY_JOIN_REQUEST subscription at startup.
	SubscribeJoin bool `toml:"subscribe_join"`
	// AutoEvents dispatches events on the engine goroutine instead of Invoke().
	AutoEvents bool `toml:"auto_events"`
}

// DisplayConfig holds the presence text shown to other users.
type DisplayConfig struct {
	Details string `toml:"details"`
	State   string `toml:"state"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	// Level is the minimum log level (trace, debug, info, warn, error, fail).
	Level string `toml:"level"`
	// MaxSizeMB is the rotation threshold for the log file.
	MaxSizeMB int `toml:"max_size_mb"`
}

// AvatarConfig controls the optional CDN reachability check performed
// at startup once a Ready event reports the user's avatar hash.
type AvatarConfig struct {
	// CheckReachable enables an avatar CDN HEAD probe on Ready.
	CheckReachable bool `toml:"check_reachable"`
	// TimeoutSeconds bounds the probe, including retries.
	TimeoutSeconds int `toml:"timeout_seconds"`
}

// Default returns the built-in configuration used when no config.toml
// exists yet, or as the base merged with a partially-written file.
func Default() *Config {
	return &Config{
		Discord: DiscordConfig{
			PipeIndex:  -1,
			AutoEvents: true,
		},
		Display: DisplayConfig{
			Details: "Building something",
		},
		Log: LogConfig{
			Level:     "info",
			MaxSizeMB: 10,
		},
		Avatar: AvatarConfig{
			CheckReachable: false,
			TimeoutSeconds: 5,
		},
	}
}

// Load reads path and parses it as TOML over top of [Default]. A
// missing file is not an error; it yields the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config file: %w", err)
	}
	return cfg, nil
}

// Save writes c to path as TOML using an atomic temp-file-and-rename.
func (c *Config) Save(path string) error {
	var buf bytes.Buffer
	enc := toml.NewEncoder(&buf)
	if err := enc.Encode(c); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return atomicfile.Write(path, buf.Bytes(), 0o644)
}

var validLogLevels = map[string]bool{
	"trace": true, "debug": true, "info": true, "warn": true, "error": true, "fail": true,
}

// Validate checks field ranges that TOML decoding itself does not
// enforce.
func (c *Config) Validate() error {
	if c.Discord.PipeIndex < -1 || c.Discord.PipeIndex > 9 {
		return fmt.Errorf("discord.pipe_index %d out of range [-1,9]", c.Discord.PipeIndex)
	}
	if c.Log.Level != "" && !validLogLevels[c.Log.Level] {
		return fmt.Errorf("log.level %q is not one of trace/debug/info/warn/error/fail", c.Log.Level)
	}
	if c.Log.MaxSizeMB < 0 {
		return fmt.Errorf("log.max_size_mb must be non-negative")
	}
	if c.Avatar.TimeoutSeconds < 0 {
		return fmt.Errorf("avatar.timeout_seconds must be non-negative")
	}
	return nil
}
