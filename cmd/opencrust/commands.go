// Copyright (C) 2026 OpenCrust Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"log"

	"github.com/spf13/cobra"

	"github.com/opencrust-org/opencrust/services/gateway/config"
	"github.com/opencrust-org/opencrust/services/gateway/vault"
)

// --- Global Command Variables ---
var (
	vaultPath    string
	allowlistDir string
	revealValue  bool

	rootCmd = &cobra.Command{
		Use:   "opencrust",
		Short: "A cli to manage the OpenCrust gateway's secrets and allowlist",
		Long: `OpenCrust is an always-on conversational agent gateway. This tool
manages its encrypted credential vault, channel allowlists, and
pairing codes from the command line.`,
	}

	// --- Vault ---
	vaultCmd = &cobra.Command{
		Use:   "vault",
		Short: "Manage the encrypted credential vault",
	}
	vaultInitCmd = &cobra.Command{
		Use:   "init",
		Short: "Create a new empty vault protected by a passphrase",
		Run:   runVaultInit, // Defined in cmd_vault.go
	}
	vaultSetCmd = &cobra.Command{
		Use:   "set [name] [value]",
		Short: "Store a secret in the vault (prompts for the value if omitted)",
		Args:  cobra.RangeArgs(1, 2),
		Run:   runVaultSet, // Defined in cmd_vault.go
	}
	vaultGetCmd = &cobra.Command{
		Use:   "get [name]",
		Short: "Show a secret (masked unless --reveal)",
		Args:  cobra.ExactArgs(1),
		Run:   runVaultGet, // Defined in cmd_vault.go
	}
	vaultRemoveCmd = &cobra.Command{
		Use:     "remove [name]",
		Short:   "Delete a secret from the vault",
		Aliases: []string{"rm"},
		Args:    cobra.ExactArgs(1),
		Run:     runVaultRemove, // Defined in cmd_vault.go
	}
	vaultListCmd = &cobra.Command{
		Use:     "list",
		Short:   "List secret names (never values)",
		Aliases: []string{"ls"},
		Run:     runVaultList, // Defined in cmd_vault.go
	}

	// --- Allowlist ---
	allowlistCmd = &cobra.Command{
		Use:   "allowlist",
		Short: "Manage which senders each channel accepts",
	}
	allowlistShowCmd = &cobra.Command{
		Use:   "show [channel]",
		Short: "Show allowlist entries, optionally for one channel",
		Args:  cobra.MaximumNArgs(1),
		Run:   runAllowlistShow, // Defined in cmd_allowlist.go
	}
	allowlistAddCmd = &cobra.Command{
		Use:   "add [channel] [user_id]",
		Short: "Authorize a sender on a channel",
		Args:  cobra.ExactArgs(2),
		Run:   runAllowlistAdd, // Defined in cmd_allowlist.go
	}
	allowlistRemoveCmd = &cobra.Command{
		Use:     "remove [channel] [user_id]",
		Short:   "Revoke a sender's authorization",
		Aliases: []string{"rm"},
		Args:    cobra.ExactArgs(2),
		Run:     runAllowlistRemove, // Defined in cmd_allowlist.go
	}
	allowlistModeCmd = &cobra.Command{
		Use:   "mode [channel] [open|closed]",
		Short: "Show or change a channel's access mode",
		Args:  cobra.RangeArgs(1, 2),
		Run:   runAllowlistMode, // Defined in cmd_allowlist.go
	}

	// --- Pairing ---
	pairCmd = &cobra.Command{
		Use:   "pair",
		Short: "Manage pairing codes on the running gateway",
	}
	pairNewCmd = &cobra.Command{
		Use:   "new [channel]",
		Short: "Mint a short-lived pairing code for a channel",
		Args:  cobra.ExactArgs(1),
		Run:   runPairNew, // Defined in cmd_pair.go
	}
	pairClaimCmd = &cobra.Command{
		Use:   "claim [channel] [user_id] [code]",
		Short: "Redeem a pairing code on a sender's behalf",
		Args:  cobra.ExactArgs(3),
		Run:   runPairClaim, // Defined in cmd_pair.go
	}
)

func init() {
	defaults := config.DefaultConfig()

	rootCmd.PersistentFlags().StringVar(&vaultPath, "vault",
		defaults.Storage.VaultPath, "path to the vault file")
	rootCmd.PersistentFlags().StringVar(&allowlistDir, "allowlist",
		defaults.Storage.AllowlistDir, "path to the allowlist database directory")

	vaultGetCmd.Flags().BoolVar(&revealValue, "reveal", false,
		"print the full secret value instead of a masked preview")

	vaultCmd.AddCommand(vaultInitCmd, vaultSetCmd, vaultGetCmd, vaultRemoveCmd, vaultListCmd)
	allowlistCmd.AddCommand(allowlistShowCmd, allowlistAddCmd, allowlistRemoveCmd, allowlistModeCmd)
	pairCmd.AddCommand(pairNewCmd, pairClaimCmd)
	rootCmd.AddCommand(vaultCmd, allowlistCmd, pairCmd)
}

// effectiveVaultPath resolves the --vault flag, falling back to the
// default location.
func effectiveVaultPath() string {
	if vaultPath != "" {
		return vaultPath
	}
	path, err := vault.DefaultPath()
	if err != nil {
		log.Fatalf("Error resolving vault path: %v", err)
	}
	return path
}
