// Copyright (C) 2026 OpenCrust Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"testing"
)

// ============================================================================
// Command Structure Tests
// ============================================================================

func TestRootCommand_SubcommandsRegistered(t *testing.T) {
	expected := []string{"vault", "allowlist", "pair"}

	for _, name := range expected {
		found := false
		for _, sub := range rootCmd.Commands() {
			if sub.Name() == name {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("Expected subcommand %q not registered", name)
		}
	}
}

func TestVaultCommand_SubcommandsRegistered(t *testing.T) {
	expected := []string{"init", "set", "get", "remove", "list"}

	for _, name := range expected {
		found := false
		for _, sub := range vaultCmd.Commands() {
			if sub.Name() == name {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("Expected vault subcommand %q not registered", name)
		}
	}
}

func TestPairCommand_SubcommandsRegistered(t *testing.T) {
	expected := []string{"new", "claim"}

	for _, name := range expected {
		found := false
		for _, sub := range pairCmd.Commands() {
			if sub.Name() == name {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("Expected pair subcommand %q not registered", name)
		}
	}
}

// ============================================================================
// Masking Tests
// ============================================================================

func TestMaskValue(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  string
	}{
		{"empty", "", "********"},
		{"short", "abc", "********"},
		{"boundary", "12345678", "********"},
		{"long", "sk-test-1234567890abcdef", "sk-t********cdef"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := maskValue(tc.value)
			if got != tc.want {
				t.Errorf("maskValue(%q) = %q, want %q", tc.value, got, tc.want)
			}
		})
	}
}

func TestEffectiveVaultPath_UsesFlag(t *testing.T) {
	original := vaultPath
	defer func() { vaultPath = original }()

	vaultPath = "/tmp/custom-vault.json"
	if got := effectiveVaultPath(); got != "/tmp/custom-vault.json" {
		t.Errorf("effectiveVaultPath() = %q, want the flag value", got)
	}
}
