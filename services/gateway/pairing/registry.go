// Copyright (C) 2026 OpenCrust Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pairing

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/opencrust-org/opencrust/pkg/logging"
)

// -----------------------------------------------------------------------------
// Constants
// -----------------------------------------------------------------------------

const (
	// CodeTTL is how long a pairing code stays claimable.
	CodeTTL = 5 * time.Minute

	// codeDigits is the pairing code length. Six digits at one claim
	// attempt per message, behind the rate limiter, is enough entropy
	// for a five-minute window.
	codeDigits = 6
)

// -----------------------------------------------------------------------------
// Clock
// -----------------------------------------------------------------------------

// Clock supplies the current time. Tests substitute a fixed clock to
// exercise code expiry deterministically.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns the wall clock.
func SystemClock() Clock { return systemClock{} }

// -----------------------------------------------------------------------------
// Claim Results
// -----------------------------------------------------------------------------

// ClaimResult is the outcome of a pairing code claim attempt.
type ClaimResult string

const (
	// ClaimAuthorized means the code was valid and the user is now on
	// the channel's allowlist.
	ClaimAuthorized ClaimResult = "authorized"

	// ClaimInvalid means no matching code exists for the channel.
	ClaimInvalid ClaimResult = "invalid"

	// ClaimExpired means the code existed but its window has passed.
	ClaimExpired ClaimResult = "expired"

	// ClaimAlreadyUsed means another user claimed the code first.
	ClaimAlreadyUsed ClaimResult = "already_used"
)

// pendingCode is an unconsumed pairing code for a channel.
type pendingCode struct {
	code      string
	expiresAt time.Time
	consumed  bool
	claimedBy string
}

// -----------------------------------------------------------------------------
// Registry
// -----------------------------------------------------------------------------

// Registry is the authoritative in-memory view of allowlist state, backed
// by a Store for persistence across restarts.
//
// All reads on the message hot path (IsAuthorized, Mode) hit only the
// cache. Mutations update the cache under the mutex and persist to the
// store after the lock is released, so the database never sits inside a
// critical section.
//
// Registry is safe for concurrent use.
type Registry struct {
	store Store
	log   *logging.Logger
	clock Clock

	mu      sync.Mutex
	entries map[string]map[string]Entry // channel -> user -> entry
	modes   map[string]Mode
	codes   map[string]*pendingCode // channel -> pending code
}

// NewRegistry builds a Registry over store, loading persisted entries and
// modes into the cache. A nil clock selects the wall clock.
func NewRegistry(store Store, log *logging.Logger, clock Clock) (*Registry, error) {
	if log == nil {
		log = logging.Default()
	}
	if clock == nil {
		clock = SystemClock()
	}

	entries, err := store.Entries()
	if err != nil {
		return nil, fmt.Errorf("load allowlist: %w", err)
	}
	modes, err := store.Modes()
	if err != nil {
		return nil, fmt.Errorf("load channel modes: %w", err)
	}

	r := &Registry{
		store:   store,
		log:     log,
		clock:   clock,
		entries: make(map[string]map[string]Entry),
		modes:   modes,
		codes:   make(map[string]*pendingCode),
	}
	for _, entry := range entries {
		r.cacheEntryLocked(entry)
	}

	log.Info("allowlist loaded", "entries", len(entries), "channels_with_mode", len(modes))
	return r, nil
}

// cacheEntryLocked inserts an entry into the cache. Callers during
// construction run single-threaded; everyone else holds r.mu.
func (r *Registry) cacheEntryLocked(entry Entry) {
	users, ok := r.entries[entry.Channel]
	if !ok {
		users = make(map[string]Entry)
		r.entries[entry.Channel] = users
	}
	users[entry.UserID] = entry
}

// IsAuthorized reports whether userID may talk on channel. Open channels
// admit everyone; closed channels admit only allowlisted users. Channels
// with no configured mode are closed.
func (r *Registry) IsAuthorized(channel, userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.modes[channel] == ModeOpen {
		return true
	}
	_, ok := r.entries[channel][userID]
	return ok
}

// Mode returns the admission mode for channel, ModeClosed if unset.
func (r *Registry) Mode(channel string) Mode {
	r.mu.Lock()
	defer r.mu.Unlock()

	if mode, ok := r.modes[channel]; ok {
		return mode
	}
	return ModeClosed
}

// SetMode changes the admission mode for channel and persists it.
func (r *Registry) SetMode(channel string, mode Mode) error {
	r.mu.Lock()
	previous, hadPrevious := r.modes[channel]
	r.modes[channel] = mode
	r.mu.Unlock()

	if err := r.store.PutMode(channel, mode); err != nil {
		r.mu.Lock()
		if hadPrevious {
			r.modes[channel] = previous
		} else {
			delete(r.modes, channel)
		}
		r.mu.Unlock()
		return err
	}
	r.log.Info("channel mode changed", "channel", channel, "mode", string(mode))
	return nil
}

// AddEntry authorizes userID on channel directly, bypassing pairing. Used
// by the admin API and CLI.
func (r *Registry) AddEntry(channel, userID, via string) error {
	entry := Entry{
		Channel: channel,
		UserID:  userID,
		AddedAt: r.clock.Now().UTC(),
		Via:     via,
	}

	r.mu.Lock()
	_, existed := r.entries[channel][userID]
	r.cacheEntryLocked(entry)
	r.mu.Unlock()

	if err := r.store.PutEntry(entry); err != nil {
		if !existed {
			r.mu.Lock()
			delete(r.entries[channel], userID)
			r.mu.Unlock()
		}
		return err
	}
	r.log.Info("allowlist entry added", "channel", channel, "user_id", userID, "via", via)
	return nil
}

// RemoveEntry revokes userID's authorization on channel.
func (r *Registry) RemoveEntry(channel, userID string) error {
	r.mu.Lock()
	previous, existed := r.entries[channel][userID]
	delete(r.entries[channel], userID)
	r.mu.Unlock()

	if err := r.store.DeleteEntry(channel, userID); err != nil {
		if existed {
			r.mu.Lock()
			r.cacheEntryLocked(previous)
			r.mu.Unlock()
		}
		return err
	}
	r.log.Info("allowlist entry removed", "channel", channel, "user_id", userID)
	return nil
}

// Entries returns the allowlist for channel. An empty channel returns all
// entries across channels.
func (r *Registry) Entries(channel string) []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Entry
	for ch, users := range r.entries {
		if channel != "" && ch != channel {
			continue
		}
		for _, entry := range users {
			out = append(out, entry)
		}
	}
	return out
}

// InitiatePairing generates a fresh pairing code for channel, replacing
// any outstanding code. Returns the code and its expiry time. The code is
// shown to the operator out-of-band; it is never logged here.
func (r *Registry) InitiatePairing(channel string) (string, time.Time, error) {
	code, err := generateCode()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("generate pairing code: %w", err)
	}
	expiresAt := r.clock.Now().Add(CodeTTL)

	r.mu.Lock()
	r.codes[channel] = &pendingCode{code: code, expiresAt: expiresAt}
	r.pruneExpiredLocked()
	r.mu.Unlock()

	r.log.Info("pairing initiated", "channel", channel, "expires_at", expiresAt.UTC())
	return code, expiresAt, nil
}

// ClaimPairing attempts to claim channel's outstanding code for userID.
//
// The first user presenting the correct code within its window wins; the
// claim is decided entirely under the mutex, so concurrent claimants
// cannot both succeed. On success the user is added to the allowlist and
// the grant is persisted after the lock is released. A persistence
// failure leaves the in-memory grant in place for this process lifetime
// and is returned so the caller can log it.
func (r *Registry) ClaimPairing(channel, userID, code string) (ClaimResult, error) {
	now := r.clock.Now()

	r.mu.Lock()
	pending, ok := r.codes[channel]
	if !ok {
		r.mu.Unlock()
		return ClaimInvalid, nil
	}
	if now.After(pending.expiresAt) {
		delete(r.codes, channel)
		r.mu.Unlock()
		return ClaimExpired, nil
	}
	if subtle.ConstantTimeCompare([]byte(pending.code), []byte(code)) != 1 {
		r.mu.Unlock()
		return ClaimInvalid, nil
	}
	if pending.consumed {
		r.mu.Unlock()
		return ClaimAlreadyUsed, nil
	}
	pending.consumed = true
	pending.claimedBy = userID

	entry := Entry{
		Channel: channel,
		UserID:  userID,
		AddedAt: now.UTC(),
		Via:     "pairing",
	}
	r.cacheEntryLocked(entry)
	r.mu.Unlock()

	r.log.Info("pairing claimed", "channel", channel, "user_id", userID)

	if err := r.store.PutEntry(entry); err != nil {
		r.log.Error("pairing grant not persisted, authorization is in-memory only",
			"channel", channel, "user_id", userID, "error", err)
		return ClaimAuthorized, err
	}
	return ClaimAuthorized, nil
}

// pruneExpiredLocked drops expired, unconsumed codes. Caller holds r.mu.
func (r *Registry) pruneExpiredLocked() {
	now := r.clock.Now()
	for channel, pending := range r.codes {
		if now.After(pending.expiresAt) {
			delete(r.codes, channel)
		}
	}
}

// generateCode draws a uniform six-digit code from crypto/rand.
func generateCode() (string, error) {
	max := big.NewInt(1)
	for i := 0; i < codeDigits; i++ {
		max.Mul(max, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", codeDigits, n), nil
}
