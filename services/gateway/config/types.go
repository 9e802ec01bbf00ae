// Copyright (C) 2026 OpenCrust Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config defines and loads the gateway's YAML configuration,
// kept at ~/.opencrust/opencrust.yaml by default.
package config

import (
	"os"
	"path/filepath"
)

// GatewayConfig is the root configuration document.
type GatewayConfig struct {
	// Server: listen address and websocket behavior
	Server ServerConfig `yaml:"server"`

	// Logging: level and destinations
	Logging LoggingConfig `yaml:"logging"`

	// Storage: where the vault and allowlist live on disk
	Storage StorageConfig `yaml:"storage"`

	// Limits: rate limiting and message size caps
	Limits LimitsConfig `yaml:"limits"`

	// Secrets: plaintext fallback values for the resolve chain. Prefer
	// the vault; this section exists for setups that accept plaintext.
	Secrets map[string]string `yaml:"secrets,omitempty"`
}

type ServerConfig struct {
	Host string `yaml:"host" validate:"required"`
	Port int    `yaml:"port" validate:"required,gt=0,lte=65535"`

	// HeartbeatSeconds is the websocket liveness window. Pings go out
	// at a third of this interval; a connection silent for the full
	// window is closed.
	HeartbeatSeconds int `yaml:"heartbeat_seconds" validate:"gt=0"`
}

type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level" validate:"oneof=debug info warn warning error"`

	// Dir enables file logging when set. Supports ~ expansion.
	Dir string `yaml:"dir,omitempty"`

	// JSON switches stderr output to JSON.
	JSON bool `yaml:"json"`
}

type StorageConfig struct {
	// VaultPath is the encrypted credential vault file.
	VaultPath string `yaml:"vault_path" validate:"required"`

	// AllowlistDir is the allowlist database directory.
	AllowlistDir string `yaml:"allowlist_dir" validate:"required"`
}

type LimitsConfig struct {
	// OriginPerMinute caps connection attempts per remote address.
	OriginPerMinute int `yaml:"origin_per_minute" validate:"gt=0"`

	// OriginBurst is the per-address token bucket depth.
	OriginBurst int `yaml:"origin_burst" validate:"gt=0"`

	// MessagesPerWindow caps messages per connection per window.
	MessagesPerWindow int `yaml:"messages_per_window" validate:"gt=0"`

	// WindowSeconds is the sliding window span.
	WindowSeconds int `yaml:"window_seconds" validate:"gt=0"`

	// MaxMessageBytes caps message text size after sanitization.
	MaxMessageBytes int `yaml:"max_message_bytes" validate:"gt=0"`

	// MaxViolations disconnects a session after this many rate limit
	// rejections.
	MaxViolations int `yaml:"max_violations" validate:"gt=0"`
}

// DefaultConfig returns the configuration written on first run.
func DefaultConfig() GatewayConfig {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	base := filepath.Join(home, ".opencrust")

	return GatewayConfig{
		Server: ServerConfig{
			Host:             "127.0.0.1",
			Port:             8090,
			HeartbeatSeconds: 90,
		},
		Logging: LoggingConfig{
			Level: "info",
			Dir:   filepath.Join(base, "logs"),
		},
		Storage: StorageConfig{
			VaultPath:    filepath.Join(base, "credentials", "vault.json"),
			AllowlistDir: filepath.Join(base, "allowlist"),
		},
		Limits: LimitsConfig{
			OriginPerMinute:   5,
			OriginBurst:       5,
			MessagesPerWindow: 30,
			WindowSeconds:     60,
			MaxMessageBytes:   32 * 1024,
			MaxViolations:     10,
		},
	}
}
