// Copyright 2017 someonegg. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package config provides YAML-based configuration loading for msgchat.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/someonegg/msgchat"
)

// Config is the root application configuration.
type Config struct {
	Listen   ListenConfig   `mapstructure:"listen"`
	Protocol ProtocolConfig `mapstructure:"protocol"`
	Log      LogConfig      `mapstructure:"log"`
	Debug    DebugConfig    `mapstructure:"debug"`
}

// ListenConfig describes the listening endpoint.
type ListenConfig struct {
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
	Backlog int    `mapstructure:"backlog"`
	// Transport: tcp or websocket
	Transport string `mapstructure:"transport"`
	// Path is the websocket endpoint
	Path string `mapstructure:"path"`
	// ResolveHosts looks up the peer's host name on connect
	ResolveHosts bool `mapstructure:"resolve_hosts"`
}

// ProtocolConfig describes the message exchange.
type ProtocolConfig struct {
	// Framing: length or line, ignored by the websocket transport
	Framing          string `mapstructure:"framing"`
	MaxMessageLength int    `mapstructure:"max_message_length"`
	Prefix           string `mapstructure:"prefix"`
	Sentinel         string `mapstructure:"sentinel"`
	InputQueue       int    `mapstructure:"input_queue"`
	// WriteTimeout bounds every send, zero means no bound
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// LogConfig defines logger settings.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level"`
	// Format: console or json
	Format string `mapstructure:"format"`
	// Outputs: list of outputs: stdout, stderr, or file paths
	Outputs []string `mapstructure:"outputs"`

	Rotation    RotationConfig `mapstructure:"rotation"`
	Development bool           `mapstructure:"development"`
}

// RotationConfig controls log file rotation for file outputs.
type RotationConfig struct {
	Enable     bool `mapstructure:"enable"`
	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxBackups int  `mapstructure:"max_backups"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	Compress   bool `mapstructure:"compress"`
}

type DebugConfig struct {
	// Dump is a file that receives every message of every session
	Dump string `mapstructure:"dump"`
}

// Default returns a Config populated with the defaults.
func Default() *Config {
	return &Config{
		Listen: ListenConfig{
			Host:         "",
			Port:         msgchat.DefaultPort,
			Backlog:      msgchat.DefaultBacklog,
			Transport:    string(msgchat.TransportTCP),
			Path:         "/",
			ResolveHosts: true,
		},
		Protocol: ProtocolConfig{
			Framing:          string(msgchat.FramingLength),
			MaxMessageLength: 64 * 1024,
			Prefix:           msgchat.DefaultPrefix,
			Sentinel:         msgchat.DefaultSentinel,
			InputQueue:       msgchat.DefaultInputQueueSize,
			WriteTimeout:     msgchat.DefaultWriteTimeout,
		},
		Log: LogConfig{
			Level:   "info",
			Format:  "console",
			Outputs: []string{"stderr"},
			Rotation: RotationConfig{
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
				Compress:   true,
			},
		},
	}
}

// Load reads configuration from the provided path (if non-empty),
// otherwise it searches common locations, and applies environment
// overrides. Environment variables use the prefix MSGCHAT and `.` is
// replaced with `_`, e.g. MSGCHAT_LISTEN_PORT=7000.
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("MSGCHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// seed defaults so env-only configs work
	v.SetDefault("listen.host", cfg.Listen.Host)
	v.SetDefault("listen.port", cfg.Listen.Port)
	v.SetDefault("listen.backlog", cfg.Listen.Backlog)
	v.SetDefault("listen.transport", cfg.Listen.Transport)
	v.SetDefault("listen.path", cfg.Listen.Path)
	v.SetDefault("listen.resolve_hosts", cfg.Listen.ResolveHosts)
	v.SetDefault("protocol.framing", cfg.Protocol.Framing)
	v.SetDefault("protocol.max_message_length", cfg.Protocol.MaxMessageLength)
	v.SetDefault("protocol.prefix", cfg.Protocol.Prefix)
	v.SetDefault("protocol.sentinel", cfg.Protocol.Sentinel)
	v.SetDefault("protocol.input_queue", cfg.Protocol.InputQueue)
	v.SetDefault("protocol.write_timeout", cfg.Protocol.WriteTimeout)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.outputs", cfg.Log.Outputs)
	v.SetDefault("log.development", cfg.Log.Development)
	v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
	v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)
	v.SetDefault("debug.dump", cfg.Debug.Dump)

	if path == "" {
		path = os.Getenv("MSGCHAT_CONFIG")
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("msgchat")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".msgchat"))
		}
	}

	// a missing config file is fine, defaults and env apply
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate normalizes c and reports the first invalid setting.
func (c *Config) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Log.Level)) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log.level: %q", c.Log.Level)
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if len(c.Log.Outputs) == 0 {
		c.Log.Outputs = []string{"stderr"}
	}

	if c.Listen.Port < 0 || c.Listen.Port > 65535 {
		return fmt.Errorf("invalid listen.port: %d", c.Listen.Port)
	}
	if c.Listen.Backlog <= 0 {
		return fmt.Errorf("invalid listen.backlog: %d", c.Listen.Backlog)
	}

	c.Listen.Transport = strings.ToLower(strings.TrimSpace(c.Listen.Transport))
	switch msgchat.Transport(c.Listen.Transport) {
	case msgchat.TransportTCP, msgchat.TransportWebsocket:
	default:
		return fmt.Errorf("invalid listen.transport: %q", c.Listen.Transport)
	}
	if c.Listen.Path == "" {
		c.Listen.Path = "/"
	}

	c.Protocol.Framing = strings.ToLower(strings.TrimSpace(c.Protocol.Framing))
	switch msgchat.Framing(c.Protocol.Framing) {
	case msgchat.FramingLength, msgchat.FramingLine:
	default:
		return fmt.Errorf("invalid protocol.framing: %q", c.Protocol.Framing)
	}
	if c.Protocol.MaxMessageLength <= 0 {
		return fmt.Errorf("invalid protocol.max_message_length: %d", c.Protocol.MaxMessageLength)
	}
	if c.Protocol.Sentinel == "" {
		return errors.New("invalid protocol.sentinel: empty")
	}
	if c.Protocol.WriteTimeout < 0 {
		return fmt.Errorf("invalid protocol.write_timeout: %v", c.Protocol.WriteTimeout)
	}
	if c.Protocol.InputQueue <= 0 {
		c.Protocol.InputQueue = msgchat.DefaultInputQueueSize
	}
	return nil
}

// ListenConfig converts the listen and protocol settings.
func (c *Config) ListenConfig() msgchat.ListenConfig {
	return msgchat.ListenConfig{
		Host:             c.Listen.Host,
		Port:             c.Listen.Port,
		Backlog:          c.Listen.Backlog,
		Transport:        msgchat.Transport(c.Listen.Transport),
		Path:             c.Listen.Path,
		Framing:          msgchat.Framing(c.Protocol.Framing),
		MaxMessageLength: c.Protocol.MaxMessageLength,
	}
}
