// Copyright (C) 2026 OpenCrust Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_FirstRunCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "opencrust.yaml")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.FileExists(t, path)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 8090, cfg.Server.Port)
	assert.Equal(t, 90, cfg.Server.HeartbeatSeconds)
	assert.Equal(t, 30, cfg.Limits.MessagesPerWindow)
	assert.Equal(t, 60, cfg.Limits.WindowSeconds)

	if runtime.GOOS != "windows" {
		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
	}
}

func TestLoad_ExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "opencrust.yaml")
	content := `
server:
  host: 0.0.0.0
  port: 9000
  heartbeat_seconds: 45
logging:
  level: debug
storage:
  vault_path: /tmp/vault.json
  allowlist_dir: /tmp/allowlist
limits:
  origin_per_minute: 10
  origin_burst: 3
  messages_per_window: 20
  window_seconds: 30
  max_message_bytes: 1024
  max_violations: 5
secrets:
  SOME_KEY: some-value
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 20, cfg.Limits.MessagesPerWindow)
	assert.Equal(t, "some-value", cfg.Secrets["SOME_KEY"])
}

func TestLoad_UnknownKeyRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "opencrust.yaml")
	content := `
server:
  host: 127.0.0.1
  port: 8090
  heartbeat_seconds: 90
  not_a_real_key: true
logging:
  level: info
storage:
  vault_path: /tmp/vault.json
  allowlist_dir: /tmp/allowlist
limits:
  origin_per_minute: 5
  origin_burst: 5
  messages_per_window: 30
  window_seconds: 60
  max_message_bytes: 32768
  max_violations: 10
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	_, err := Load(path)
	assert.Error(t, err, "unknown keys must fail loudly")
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*GatewayConfig)
	}{
		{"zero port", func(c *GatewayConfig) { c.Server.Port = 0 }},
		{"port too high", func(c *GatewayConfig) { c.Server.Port = 70000 }},
		{"bad log level", func(c *GatewayConfig) { c.Logging.Level = "loud" }},
		{"zero window", func(c *GatewayConfig) { c.Limits.WindowSeconds = 0 }},
		{"empty vault path", func(c *GatewayConfig) { c.Storage.VaultPath = "" }},
		{"zero heartbeat", func(c *GatewayConfig) { c.Server.HeartbeatSeconds = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.Error(t, Validate(cfg))
		})
	}
}

func TestValidate_DefaultIsValid(t *testing.T) {
	assert.NoError(t, Validate(DefaultConfig()))
}

func TestLoad_MalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "opencrust.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [not: a: map"), 0600))

	_, err := Load(path)
	assert.Error(t, err)
}
