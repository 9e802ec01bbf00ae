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
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/opencrust-org/opencrust/services/gateway/vault"
)

// readPassphrase obtains the vault passphrase, preferring the
// environment so scripts work, then prompting on a terminal with echo
// off. confirm asks for the passphrase twice, for vault creation.
func readPassphrase(confirm bool) (string, error) {
	if value := os.Getenv(vault.PassphraseEnv); value != "" {
		return value, nil
	}

	fd := os.Stdin.Fd()
	if !isatty.IsTerminal(fd) && !isatty.IsCygwinTerminal(fd) {
		return "", fmt.Errorf("no terminal available: set %s", vault.PassphraseEnv)
	}

	fmt.Fprint(os.Stderr, "Vault passphrase: ")
	first, err := term.ReadPassword(int(fd))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	if len(first) == 0 {
		return "", fmt.Errorf("passphrase must not be empty")
	}

	if confirm {
		fmt.Fprint(os.Stderr, "Confirm passphrase: ")
		second, err := term.ReadPassword(int(fd))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("reading confirmation: %w", err)
		}
		if string(first) != string(second) {
			return "", fmt.Errorf("passphrases do not match")
		}
	}
	return string(first), nil
}

// openVault opens an existing vault with the operator's passphrase.
func openVault() *vault.Vault {
	path := effectiveVaultPath()
	if !vault.Exists(path) {
		log.Fatalf("No vault at %s. Run 'opencrust vault init' first.", path)
	}
	passphrase, err := readPassphrase(false)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
	v, err := vault.Open(path, passphrase)
	if err != nil {
		log.Fatalf("Error opening vault: %v", err)
	}
	return v
}

func runVaultInit(cmd *cobra.Command, args []string) {
	path := effectiveVaultPath()
	if vault.Exists(path) {
		log.Fatalf("A vault already exists at %s", path)
	}

	passphrase, err := readPassphrase(true)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
	v, err := vault.Create(path, passphrase)
	if err != nil {
		log.Fatalf("Error creating vault: %v", err)
	}
	defer v.Destroy()

	fmt.Printf("Created vault at %s\n", path)
}

func runVaultSet(cmd *cobra.Command, args []string) {
	name := args[0]

	var value string
	if len(args) == 2 {
		value = args[1]
	} else {
		fd := os.Stdin.Fd()
		if !isatty.IsTerminal(fd) && !isatty.IsCygwinTerminal(fd) {
			log.Fatalf("No value given and no terminal to prompt on")
		}
		fmt.Fprintf(os.Stderr, "Value for %s: ", name)
		raw, err := term.ReadPassword(int(fd))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			log.Fatalf("Error reading value: %v", err)
		}
		value = string(raw)
	}
	if value == "" {
		log.Fatalf("Value must not be empty")
	}

	v := openVault()
	defer v.Destroy()

	if err := v.Set(name, value); err != nil {
		log.Fatalf("Error storing secret: %v", err)
	}
	fmt.Printf("Stored %s\n", name)
}

func runVaultGet(cmd *cobra.Command, args []string) {
	name := args[0]

	v := openVault()
	defer v.Destroy()

	value, err := v.Get(name)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
	if revealValue {
		fmt.Println(value)
		return
	}
	fmt.Println(maskValue(value))
}

func runVaultRemove(cmd *cobra.Command, args []string) {
	name := args[0]

	v := openVault()
	defer v.Destroy()

	if err := v.Remove(name); err != nil {
		log.Fatalf("Error: %v", err)
	}
	fmt.Printf("Removed %s\n", name)
}

func runVaultList(cmd *cobra.Command, args []string) {
	v := openVault()
	defer v.Destroy()

	keys := v.Keys()
	if len(keys) == 0 {
		fmt.Println("Vault is empty")
		return
	}
	for _, key := range keys {
		fmt.Println(key)
	}
}

// maskValue shows just enough of a secret to identify it.
func maskValue(value string) string {
	const visible = 4
	if len(value) <= visible*2 {
		return strings.Repeat("*", 8)
	}
	return value[:visible] + strings.Repeat("*", 8) + value[len(value)-visible:]
}
