// Copyright (C) 2026 OpenCrust Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package vault

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/opencrust-org/opencrust/pkg/logging"
)

// PassphraseEnv is the environment variable the gateway reads the vault
// passphrase from when no interactive terminal is available.
const PassphraseEnv = "OPENCRUST_VAULT_PASSPHRASE"

// Source identifies which layer of the resolve chain produced a value.
type Source string

const (
	// SourceVault means the value came from the encrypted vault file.
	SourceVault Source = "vault"

	// SourceConfig means the value came from the plaintext config file.
	SourceConfig Source = "config"

	// SourceEnv means the value came from an environment variable.
	SourceEnv Source = "env"
)

// ErrNoPassphrase is returned when the vault exists but no passphrase is
// available to open it.
var ErrNoPassphrase = errors.New("vault passphrase not available")

// Resolver resolves secret names through a fixed chain: vault first, then
// config-file values, then environment variables. The first layer with a
// non-empty value wins.
//
// The vault layer is lazy: the file is opened on first use and the handle
// cached. A filesystem watch on the vault file invalidates the cache when
// the file is rewritten externally, such as by the CLI while the gateway
// is running, so the next resolve picks up the new contents.
//
// Resolver is safe for concurrent use.
type Resolver struct {
	path         string
	configValues map[string]string
	log          *logging.Logger

	mu      sync.Mutex
	vault   *Vault
	stale   bool
	watcher *fsnotify.Watcher
}

// NewResolver builds a Resolver for the vault at path. configValues holds
// the secrets section of the plaintext config file and may be nil. The
// passphrase is read from PassphraseEnv on demand; it is never cached.
func NewResolver(path string, configValues map[string]string, log *logging.Logger) *Resolver {
	if log == nil {
		log = logging.Default()
	}
	r := &Resolver{
		path:         path,
		configValues: configValues,
		log:          log,
	}
	r.startWatch()
	return r
}

// startWatch begins watching the vault's parent directory. Watching the
// directory rather than the file survives the write-then-rename the vault
// uses for atomic updates. Watch failure is non-fatal: resolution still
// works, it just will not notice external rewrites.
func (r *Resolver) startWatch() {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		r.log.Warn("vault watch unavailable", "error", err)
		return
	}
	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		watcher.Close()
		r.log.Warn("vault watch unavailable", "error", err)
		return
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		r.log.Warn("vault watch unavailable", "error", err)
		return
	}
	r.watcher = watcher

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Name == r.path {
					r.invalidate()
				}
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()
}

// invalidate marks the cached vault handle stale. The handle is destroyed
// on the next resolve rather than here, so the watch goroutine never holds
// the lock across a decrypt.
func (r *Resolver) invalidate() {
	r.mu.Lock()
	r.stale = true
	r.mu.Unlock()
	r.log.Debug("vault file changed on disk, cache invalidated")
}

// Resolve returns the value for name and the layer that supplied it.
//
// Chain order is vault, config, env; the first non-empty value wins. A
// vault that exists but cannot be opened (no passphrase in the
// environment) is skipped with a warning, so a misconfigured vault
// degrades to config/env rather than taking resolution down.
func (r *Resolver) Resolve(name string) (string, Source, error) {
	if err := validateName(name); err != nil {
		return "", "", err
	}

	if value, ok := r.fromVault(name); ok {
		return value, SourceVault, nil
	}
	if value, ok := r.configValues[name]; ok && value != "" {
		return value, SourceConfig, nil
	}
	if value := os.Getenv(name); value != "" {
		return value, SourceEnv, nil
	}
	return "", "", fmt.Errorf("%w: %s", ErrSecretNotFound, name)
}

// fromVault reads name from the cached vault, opening it first if needed.
func (r *Resolver) fromVault(name string) (string, bool) {
	v, err := r.ensureOpen()
	if err != nil {
		return "", false
	}
	value, err := v.Get(name)
	if err != nil {
		return "", false
	}
	return value, value != ""
}

// TrySet stores name in the vault if one can be opened, for callers that
// want writes to land encrypted when possible but must not fail when the
// vault is unavailable. The bool reports whether the write happened.
func (r *Resolver) TrySet(name, value string) (bool, error) {
	if err := validateName(name); err != nil {
		return false, err
	}
	v, err := r.ensureOpen()
	if err != nil {
		return false, err
	}
	if err := v.Set(name, value); err != nil {
		return false, err
	}
	return true, nil
}

// TryRemove deletes name from the vault if one can be opened. The bool
// reports whether the delete happened.
func (r *Resolver) TryRemove(name string) (bool, error) {
	if err := validateName(name); err != nil {
		return false, err
	}
	v, err := r.ensureOpen()
	if err != nil {
		return false, err
	}
	if err := v.Remove(name); err != nil {
		return false, err
	}
	return true, nil
}

// TryKeys lists the vault's secret names if one can be opened.
func (r *Resolver) TryKeys() ([]string, error) {
	v, err := r.ensureOpen()
	if err != nil {
		return nil, err
	}
	return v.Keys(), nil
}

// ensureOpen returns an open vault handle, opening the file first if
// needed. The open itself, with its file read and 600k-iteration key
// derivation, runs outside r.mu so concurrent resolves are never
// stalled behind it; the lock only guards the handle swap. When two
// goroutines race to open, the loser's handle is destroyed. Vault
// handles carry their own mutex, so callers may use the returned
// handle without holding r.mu.
func (r *Resolver) ensureOpen() (*Vault, error) {
	r.mu.Lock()
	if r.stale && r.vault != nil {
		r.vault.Destroy()
		r.vault = nil
	}
	r.stale = false
	if r.vault != nil {
		v := r.vault
		r.mu.Unlock()
		return v, nil
	}
	r.mu.Unlock()

	if !Exists(r.path) {
		return nil, ErrVaultNotFound
	}

	passphrase := os.Getenv(PassphraseEnv)
	if passphrase == "" {
		r.log.Warn("vault present but no passphrase in environment, falling back to config/env",
			"env_var", PassphraseEnv)
		return nil, ErrNoPassphrase
	}

	opened, err := Open(r.path, passphrase)
	if err != nil {
		r.log.Warn("vault open failed, falling back to config/env", "error", err)
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.vault != nil {
		// Another goroutine opened while we were deriving the key.
		opened.Destroy()
		return r.vault, nil
	}
	// A rewrite observed during our open leaves stale set; the next
	// resolve reopens and picks it up.
	r.vault = opened
	return opened, nil
}

// Close stops the filesystem watch and wipes the cached vault key.
func (r *Resolver) Close() {
	r.mu.Lock()
	if r.vault != nil {
		r.vault.Destroy()
		r.vault = nil
	}
	watcher := r.watcher
	r.watcher = nil
	r.mu.Unlock()

	if watcher != nil {
		watcher.Close()
	}
}
