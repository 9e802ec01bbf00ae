// Copyright (C) 2026 OpenCrust Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pairing

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencrust-org/opencrust/pkg/logging"
)

// fakeClock is a manually advanced Clock for expiry tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func quietLogger(t *testing.T) *logging.Logger {
	t.Helper()
	log, err := logging.New(logging.Config{Quiet: true})
	require.NoError(t, err)
	t.Cleanup(func() { log.Close() })
	return log
}

func newTestRegistry(t *testing.T, clock Clock) (*Registry, Store) {
	t.Helper()
	store, err := OpenStore(InMemoryStoreConfig())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	registry, err := NewRegistry(store, quietLogger(t), clock)
	require.NoError(t, err)
	return registry, store
}

// =============================================================================
// Mode Tests
// =============================================================================

func TestParseMode(t *testing.T) {
	tests := []struct {
		input string
		want  Mode
	}{
		{"open", ModeOpen},
		{"OPEN", ModeOpen},
		{"closed", ModeClosed},
		{"", ModeClosed},
		{"anything-else", ModeClosed},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseMode(tt.input))
		})
	}
}

func TestRegistry_DefaultModeClosed(t *testing.T) {
	registry, _ := newTestRegistry(t, nil)

	assert.Equal(t, ModeClosed, registry.Mode("telegram"))
	assert.False(t, registry.IsAuthorized("telegram", "user-1"),
		"unconfigured channels must not admit anyone")
}

func TestRegistry_OpenModeAdmitsEveryone(t *testing.T) {
	registry, _ := newTestRegistry(t, nil)

	require.NoError(t, registry.SetMode("telegram", ModeOpen))
	assert.True(t, registry.IsAuthorized("telegram", "anyone"))

	// Other channels stay closed.
	assert.False(t, registry.IsAuthorized("discord", "anyone"))
}

func TestRegistry_SetMode_Persists(t *testing.T) {
	registry, store := newTestRegistry(t, nil)
	require.NoError(t, registry.SetMode("telegram", ModeOpen))

	// A fresh registry over the same store sees the mode.
	reloaded, err := NewRegistry(store, quietLogger(t), nil)
	require.NoError(t, err)
	assert.Equal(t, ModeOpen, reloaded.Mode("telegram"))
}

// =============================================================================
// Allowlist Tests
// =============================================================================

func TestRegistry_AddRemoveEntry(t *testing.T) {
	registry, _ := newTestRegistry(t, nil)

	require.NoError(t, registry.AddEntry("telegram", "user-1", "admin"))
	assert.True(t, registry.IsAuthorized("telegram", "user-1"))

	// Authorization is channel-scoped.
	assert.False(t, registry.IsAuthorized("discord", "user-1"))

	require.NoError(t, registry.RemoveEntry("telegram", "user-1"))
	assert.False(t, registry.IsAuthorized("telegram", "user-1"))
}

func TestRegistry_Entries(t *testing.T) {
	registry, _ := newTestRegistry(t, nil)

	require.NoError(t, registry.AddEntry("telegram", "user-1", "admin"))
	require.NoError(t, registry.AddEntry("telegram", "user-2", "pairing"))
	require.NoError(t, registry.AddEntry("discord", "user-3", "admin"))

	assert.Len(t, registry.Entries("telegram"), 2)
	assert.Len(t, registry.Entries("discord"), 1)
	assert.Len(t, registry.Entries(""), 3)
	assert.Empty(t, registry.Entries("slack"))
}

func TestRegistry_EntriesPersistAcrossReload(t *testing.T) {
	registry, store := newTestRegistry(t, nil)
	require.NoError(t, registry.AddEntry("telegram", "user-1", "admin"))

	reloaded, err := NewRegistry(store, quietLogger(t), nil)
	require.NoError(t, err)
	assert.True(t, reloaded.IsAuthorized("telegram", "user-1"))
}

// =============================================================================
// Pairing Flow Tests
// =============================================================================

func TestPairing_ClaimAuthorizes(t *testing.T) {
	registry, _ := newTestRegistry(t, nil)

	code, expiresAt, err := registry.InitiatePairing("telegram")
	require.NoError(t, err)
	assert.Len(t, code, 6)
	assert.True(t, expiresAt.After(time.Now()))

	result, err := registry.ClaimPairing("telegram", "user-1", code)
	require.NoError(t, err)
	assert.Equal(t, ClaimAuthorized, result)
	assert.True(t, registry.IsAuthorized("telegram", "user-1"))
}

func TestPairing_WrongCode(t *testing.T) {
	registry, _ := newTestRegistry(t, nil)

	code, _, err := registry.InitiatePairing("telegram")
	require.NoError(t, err)

	wrong := "000000"
	if wrong == code {
		wrong = "000001"
	}
	result, err := registry.ClaimPairing("telegram", "user-1", wrong)
	require.NoError(t, err)
	assert.Equal(t, ClaimInvalid, result)
	assert.False(t, registry.IsAuthorized("telegram", "user-1"))
}

func TestPairing_NoOutstandingCode(t *testing.T) {
	registry, _ := newTestRegistry(t, nil)

	result, err := registry.ClaimPairing("telegram", "user-1", "123456")
	require.NoError(t, err)
	assert.Equal(t, ClaimInvalid, result)
}

func TestPairing_WrongChannel(t *testing.T) {
	registry, _ := newTestRegistry(t, nil)

	code, _, err := registry.InitiatePairing("telegram")
	require.NoError(t, err)

	result, err := registry.ClaimPairing("discord", "user-1", code)
	require.NoError(t, err)
	assert.Equal(t, ClaimInvalid, result)
}

func TestPairing_Expiry(t *testing.T) {
	clock := newFakeClock()
	registry, _ := newTestRegistry(t, clock)

	code, _, err := registry.InitiatePairing("telegram")
	require.NoError(t, err)

	clock.Advance(CodeTTL + time.Second)

	result, err := registry.ClaimPairing("telegram", "user-1", code)
	require.NoError(t, err)
	assert.Equal(t, ClaimExpired, result)
	assert.False(t, registry.IsAuthorized("telegram", "user-1"))
}

func TestPairing_ClaimInsideWindow(t *testing.T) {
	clock := newFakeClock()
	registry, _ := newTestRegistry(t, clock)

	code, _, err := registry.InitiatePairing("telegram")
	require.NoError(t, err)

	clock.Advance(CodeTTL - time.Second)

	result, err := registry.ClaimPairing("telegram", "user-1", code)
	require.NoError(t, err)
	assert.Equal(t, ClaimAuthorized, result)
}

func TestPairing_SecondClaimAlreadyUsed(t *testing.T) {
	registry, _ := newTestRegistry(t, nil)

	code, _, err := registry.InitiatePairing("telegram")
	require.NoError(t, err)

	result, err := registry.ClaimPairing("telegram", "user-1", code)
	require.NoError(t, err)
	require.Equal(t, ClaimAuthorized, result)

	result, err = registry.ClaimPairing("telegram", "user-2", code)
	require.NoError(t, err)
	assert.Equal(t, ClaimAlreadyUsed, result)
	assert.False(t, registry.IsAuthorized("telegram", "user-2"))
}

func TestPairing_NewCodeReplacesOld(t *testing.T) {
	registry, _ := newTestRegistry(t, nil)

	oldCode, _, err := registry.InitiatePairing("telegram")
	require.NoError(t, err)
	newCode, _, err := registry.InitiatePairing("telegram")
	require.NoError(t, err)

	if oldCode != newCode {
		result, err := registry.ClaimPairing("telegram", "user-1", oldCode)
		require.NoError(t, err)
		assert.Equal(t, ClaimInvalid, result, "a replaced code must stop working")
	}

	result, err := registry.ClaimPairing("telegram", "user-1", newCode)
	require.NoError(t, err)
	assert.Equal(t, ClaimAuthorized, result)
}

func TestPairing_ConcurrentClaims_OneWinner(t *testing.T) {
	registry, _ := newTestRegistry(t, nil)

	code, _, err := registry.InitiatePairing("telegram")
	require.NoError(t, err)

	const claimants = 20
	results := make(chan ClaimResult, claimants)
	var wg sync.WaitGroup
	for i := 0; i < claimants; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			result, _ := registry.ClaimPairing("telegram", string(rune('a'+n)), code)
			results <- result
		}(i)
	}
	wg.Wait()
	close(results)

	authorized := 0
	for result := range results {
		if result == ClaimAuthorized {
			authorized++
		}
	}
	assert.Equal(t, 1, authorized, "exactly one claimant may win a code")
}

func TestPairing_GrantPersistsAcrossReload(t *testing.T) {
	registry, store := newTestRegistry(t, nil)

	code, _, err := registry.InitiatePairing("telegram")
	require.NoError(t, err)
	result, err := registry.ClaimPairing("telegram", "user-1", code)
	require.NoError(t, err)
	require.Equal(t, ClaimAuthorized, result)

	reloaded, err := NewRegistry(store, quietLogger(t), nil)
	require.NoError(t, err)
	assert.True(t, reloaded.IsAuthorized("telegram", "user-1"))
}

// =============================================================================
// Code Generation Tests
// =============================================================================

func TestGenerateCode_Format(t *testing.T) {
	for i := 0; i < 50; i++ {
		code, err := generateCode()
		require.NoError(t, err)
		require.Len(t, code, 6)
		for _, r := range code {
			require.True(t, r >= '0' && r <= '9', "code must be digits only: %q", code)
		}
	}
}
