// Copyright (C) 2026 OpenCrust Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package pairing implements the per-channel allowlist and the short-code
// pairing flow that adds users to it.
//
// Authorization state lives in two places: an authoritative in-memory cache
// inside Registry, and a BadgerDB store that persists it across restarts.
// The store is deliberately separate from the credential vault: allowlist
// entries are not secrets, and the gateway must keep enforcing them even
// when the vault cannot be opened.
package pairing

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// -----------------------------------------------------------------------------
// Types
// -----------------------------------------------------------------------------

// Mode controls how a channel admits users.
type Mode string

const (
	// ModeClosed admits only allowlisted users. This is the default for
	// every channel that has never been configured.
	ModeClosed Mode = "closed"

	// ModeOpen admits any user. Intended for trusted single-user setups.
	ModeOpen Mode = "open"
)

// ParseMode maps a config string to a Mode. Anything unrecognized is
// treated as closed.
func ParseMode(s string) Mode {
	if Mode(strings.ToLower(s)) == ModeOpen {
		return ModeOpen
	}
	return ModeClosed
}

// Entry is one allowlist record: a user authorized on a channel.
type Entry struct {
	// Channel is the channel identifier, e.g. "telegram" or "discord".
	Channel string `json:"channel"`

	// UserID is the channel-scoped user identifier.
	UserID string `json:"user_id"`

	// AddedAt records when authorization was granted.
	AddedAt time.Time `json:"added_at"`

	// Via records how authorization was granted: "pairing" or "admin".
	Via string `json:"via"`
}

// -----------------------------------------------------------------------------
// Store Interface
// -----------------------------------------------------------------------------

// Store persists allowlist entries and channel modes.
//
// Implementations must be safe for concurrent use. Registry is the only
// intended caller; it treats the store as write-through persistence behind
// its in-memory cache and never reads from it on the hot path.
type Store interface {
	// PutEntry persists an allowlist entry, overwriting any existing
	// record for the same (channel, user) pair.
	PutEntry(entry Entry) error

	// DeleteEntry removes the record for (channel, userID). Deleting an
	// absent record is not an error.
	DeleteEntry(channel, userID string) error

	// Entries returns every persisted allowlist entry.
	Entries() ([]Entry, error)

	// PutMode persists the admission mode for a channel.
	PutMode(channel string, mode Mode) error

	// Modes returns the persisted mode for every configured channel.
	Modes() (map[string]Mode, error)

	// Close releases the underlying database.
	Close() error
}

// -----------------------------------------------------------------------------
// BadgerDB Store
// -----------------------------------------------------------------------------

// Key layout:
//
//	allow/<channel>/<user> -> Entry JSON
//	mode/<channel>         -> mode string
const (
	allowPrefix = "allow/"
	modePrefix  = "mode/"
)

// StoreConfig configures the BadgerDB-backed store.
type StoreConfig struct {
	// Path is the directory for database files. Required unless InMemory.
	Path string

	// InMemory enables in-memory mode (no disk persistence). For tests.
	InMemory bool

	// SyncWrites enables synchronous writes. Authorization grants are
	// rare and security-relevant, so production keeps this on.
	SyncWrites bool

	// Logger receives BadgerDB's internal log output. If nil, BadgerDB
	// logging is disabled.
	Logger *slog.Logger
}

// DefaultStoreConfig returns production defaults for the given directory.
func DefaultStoreConfig(path string) StoreConfig {
	return StoreConfig{Path: path, SyncWrites: true}
}

// InMemoryStoreConfig returns a configuration for tests: in-memory, no
// sync, no BadgerDB logging.
func InMemoryStoreConfig() StoreConfig {
	return StoreConfig{InMemory: true}
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// badgerStore is the BadgerDB-backed Store implementation.
type badgerStore struct {
	db *badger.DB
}

// OpenStore opens (creating if necessary) the allowlist database.
func OpenStore(cfg StoreConfig) (Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent store")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0700); err != nil {
			return nil, fmt.Errorf("create store directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)
	opts = opts.WithNumVersionsToKeep(1)

	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open allowlist store: %w", err)
	}
	return &badgerStore{db: db}, nil
}

func entryKey(channel, userID string) []byte {
	return []byte(allowPrefix + channel + "/" + userID)
}

func modeKey(channel string) []byte {
	return []byte(modePrefix + channel)
}

func (s *badgerStore) PutEntry(entry Entry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode entry: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(entryKey(entry.Channel, entry.UserID), raw)
	})
	if err != nil {
		return fmt.Errorf("persist entry: %w", err)
	}
	return nil
}

func (s *badgerStore) DeleteEntry(channel, userID string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(entryKey(channel, userID))
	})
	if err != nil {
		return fmt.Errorf("delete entry: %w", err)
	}
	return nil
}

func (s *badgerStore) Entries() ([]Entry, error) {
	var entries []Entry
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(allowPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var entry Entry
				if err := json.Unmarshal(val, &entry); err != nil {
					// A corrupt record is dropped, not fatal: losing
					// one grant is better than refusing to start.
					return nil
				}
				entries = append(entries, entry)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan entries: %w", err)
	}
	return entries, nil
}

func (s *badgerStore) PutMode(channel string, mode Mode) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(modeKey(channel), []byte(mode))
	})
	if err != nil {
		return fmt.Errorf("persist mode: %w", err)
	}
	return nil
}

func (s *badgerStore) Modes() (map[string]Mode, error) {
	modes := make(map[string]Mode)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(modePrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			channel := strings.TrimPrefix(string(item.Key()), modePrefix)
			err := item.Value(func(val []byte) error {
				modes[channel] = ParseMode(string(val))
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan modes: %w", err)
	}
	return modes, nil
}

func (s *badgerStore) Close() error {
	return s.db.Close()
}
