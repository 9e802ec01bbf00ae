// Copyright (C) 2026 OpenCrust Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"log"
	"strings"

	"github.com/spf13/cobra"

	"github.com/opencrust-org/opencrust/pkg/logging"
	"github.com/opencrust-org/opencrust/services/gateway/pairing"
)

// openRegistry opens the allowlist database. The gateway must not be
// running against the same directory; badger holds an exclusive lock.
func openRegistry() (*pairing.Registry, func()) {
	logger, err := logging.New(logging.Config{Quiet: true, Service: "cli"})
	if err != nil {
		log.Fatalf("Error initializing logging: %v", err)
	}

	store, err := pairing.OpenStore(pairing.DefaultStoreConfig(allowlistDir))
	if err != nil {
		logger.Close()
		log.Fatalf("Error opening allowlist database (is the gateway running?): %v", err)
	}

	registry, err := pairing.NewRegistry(store, logger, pairing.SystemClock())
	if err != nil {
		store.Close()
		logger.Close()
		log.Fatalf("Error loading allowlist: %v", err)
	}

	return registry, func() {
		store.Close()
		logger.Close()
	}
}

func runAllowlistShow(cmd *cobra.Command, args []string) {
	registry, cleanup := openRegistry()
	defer cleanup()

	channel := ""
	if len(args) == 1 {
		channel = args[0]
	}

	entries := registry.Entries(channel)
	if len(entries) == 0 {
		fmt.Println("No allowlist entries")
		return
	}
	for _, entry := range entries {
		fmt.Printf("%s\t%s\t(added %s via %s)\n",
			entry.Channel, entry.UserID,
			entry.AddedAt.Format("2006-01-02"), entry.Via)
	}
}

func runAllowlistAdd(cmd *cobra.Command, args []string) {
	registry, cleanup := openRegistry()
	defer cleanup()

	channel, userID := args[0], args[1]
	if err := registry.AddEntry(channel, userID, "cli"); err != nil {
		log.Fatalf("Error adding entry: %v", err)
	}
	fmt.Printf("Authorized %s on %s\n", userID, channel)
}

func runAllowlistRemove(cmd *cobra.Command, args []string) {
	registry, cleanup := openRegistry()
	defer cleanup()

	channel, userID := args[0], args[1]
	if err := registry.RemoveEntry(channel, userID); err != nil {
		log.Fatalf("Error removing entry: %v", err)
	}
	fmt.Printf("Revoked %s on %s\n", userID, channel)
}

func runAllowlistMode(cmd *cobra.Command, args []string) {
	registry, cleanup := openRegistry()
	defer cleanup()

	channel := args[0]
	if len(args) == 1 {
		fmt.Printf("%s: %s\n", channel, registry.Mode(channel))
		return
	}

	normalized := strings.ToLower(args[1])
	if normalized != string(pairing.ModeOpen) && normalized != string(pairing.ModeClosed) {
		log.Fatalf("Error: mode must be 'open' or 'closed'")
	}
	mode := pairing.ParseMode(normalized)
	if err := registry.SetMode(channel, mode); err != nil {
		log.Fatalf("Error setting mode: %v", err)
	}
	fmt.Printf("%s: %s\n", channel, mode)
}
