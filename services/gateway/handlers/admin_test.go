// Copyright (C) 2026 OpenCrust Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencrust-org/opencrust/services/gateway/observability"
	"github.com/opencrust-org/opencrust/services/gateway/pairing"
	"github.com/opencrust-org/opencrust/services/gateway/vault"
)

// ============================================================================
// Test Harness
// ============================================================================

const testPassphrase = "admin-test-passphrase"

// newAdminDeps builds deps backed by a real vault on disk and an
// in-memory allowlist store.
func newAdminDeps(t *testing.T) AdminDeps {
	t.Helper()

	vaultPath := filepath.Join(t.TempDir(), "vault.json")
	v, err := vault.Create(vaultPath, testPassphrase)
	require.NoError(t, err)
	v.Destroy()
	t.Setenv(vault.PassphraseEnv, testPassphrase)

	logger := quietLogger(t)
	resolver := vault.NewResolver(vaultPath, nil, logger)
	t.Cleanup(resolver.Close)

	return AdminDeps{
		Log:      logger,
		Metrics:  observability.NewMetrics(prometheus.NewRegistry()),
		Registry: newTestRegistry(t),
		Resolver: resolver,
	}
}

func newAdminRouter(deps AdminDeps) *gin.Engine {
	router := gin.New()
	router.GET("/health", HandleHealth())
	router.GET("/api/status", HandleStatus(deps, time.Now()))
	router.GET("/api/vault/secrets", HandleVaultList(deps))
	router.POST("/api/vault/secrets", HandleVaultSet(deps))
	router.GET("/api/vault/secrets/:name", HandleVaultGet(deps))
	router.DELETE("/api/vault/secrets/:name", HandleVaultRemove(deps))
	router.GET("/api/allowlist", HandleAllowlistList(deps))
	router.POST("/api/allowlist", HandleAllowlistAdd(deps))
	router.DELETE("/api/allowlist/:channel/:user", HandleAllowlistRemove(deps))
	router.GET("/api/channels/:channel/mode", HandleModeGet(deps))
	router.PUT("/api/channels/:channel/mode", HandleModeSet(deps))
	router.POST("/api/pairing", HandlePairingInitiate(deps))
	router.POST("/api/pairing/claim", HandlePairingClaim(deps))
	return router
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

// ============================================================================
// Health and status
// ============================================================================

func TestHandleHealth(t *testing.T) {
	router := newAdminRouter(newAdminDeps(t))

	w := doJSON(t, router, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestHandleStatus(t *testing.T) {
	router := newAdminRouter(newAdminDeps(t))

	w := doJSON(t, router, http.MethodGet, "/api/status", nil)
	require.Equal(t, http.StatusOK, w.Code)

	body := decodeBody(t, w)
	assert.Equal(t, "ok", body["status"])
	assert.Contains(t, body, "uptime_seconds")
	assert.Equal(t, float64(0), body["active_sessions"])
}

// ============================================================================
// Vault
// ============================================================================

func TestVaultSetAndGetMasked(t *testing.T) {
	router := newAdminRouter(newAdminDeps(t))

	w := doJSON(t, router, http.MethodPost, "/api/vault/secrets", map[string]string{
		"name": "API_KEY", "value": "sk-test-1234567890abcdef",
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodGet, "/api/vault/secrets/API_KEY", nil)
	require.Equal(t, http.StatusOK, w.Code)

	body := decodeBody(t, w)
	assert.Equal(t, "API_KEY", body["name"])
	assert.Equal(t, "vault", body["source"])
	assert.Equal(t, "sk-t********cdef", body["value"])
}

func TestVaultGet_ShortValueFullyMasked(t *testing.T) {
	router := newAdminRouter(newAdminDeps(t))

	w := doJSON(t, router, http.MethodPost, "/api/vault/secrets", map[string]string{
		"name": "PIN", "value": "12345",
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodGet, "/api/vault/secrets/PIN", nil)
	body := decodeBody(t, w)
	assert.Equal(t, "********", body["value"])
}

func TestVaultGet_NotFound(t *testing.T) {
	router := newAdminRouter(newAdminDeps(t))

	w := doJSON(t, router, http.MethodGet, "/api/vault/secrets/MISSING", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestVaultSet_MissingFields(t *testing.T) {
	router := newAdminRouter(newAdminDeps(t))

	w := doJSON(t, router, http.MethodPost, "/api/vault/secrets", map[string]string{
		"name": "API_KEY",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestVaultSet_InvalidName(t *testing.T) {
	router := newAdminRouter(newAdminDeps(t))

	w := doJSON(t, router, http.MethodPost, "/api/vault/secrets", map[string]string{
		"name": "bad/name", "value": "x",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestVaultList(t *testing.T) {
	router := newAdminRouter(newAdminDeps(t))

	for _, name := range []string{"B_KEY", "A_KEY"} {
		w := doJSON(t, router, http.MethodPost, "/api/vault/secrets", map[string]string{
			"name": name, "value": "secret",
		})
		require.Equal(t, http.StatusOK, w.Code)
	}

	w := doJSON(t, router, http.MethodGet, "/api/vault/secrets", nil)
	require.Equal(t, http.StatusOK, w.Code)

	body := decodeBody(t, w)
	assert.Equal(t, []any{"A_KEY", "B_KEY"}, body["names"])
}

func TestVaultRemove(t *testing.T) {
	router := newAdminRouter(newAdminDeps(t))

	w := doJSON(t, router, http.MethodPost, "/api/vault/secrets", map[string]string{
		"name": "API_KEY", "value": "secret",
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodDelete, "/api/vault/secrets/API_KEY", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodGet, "/api/vault/secrets/API_KEY", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestVaultRemove_NotFound(t *testing.T) {
	router := newAdminRouter(newAdminDeps(t))

	w := doJSON(t, router, http.MethodDelete, "/api/vault/secrets/MISSING", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestVaultSet_NoVaultInitialized(t *testing.T) {
	deps := newAdminDeps(t)
	deps.Resolver.Close()
	deps.Resolver = vault.NewResolver(
		filepath.Join(t.TempDir(), "absent.json"), nil, quietLogger(t))
	t.Cleanup(deps.Resolver.Close)
	router := newAdminRouter(deps)

	w := doJSON(t, router, http.MethodPost, "/api/vault/secrets", map[string]string{
		"name": "API_KEY", "value": "secret",
	})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestMaskSecret(t *testing.T) {
	tests := []struct {
		value string
		want  string
	}{
		{"", "********"},
		{"short", "********"},
		{"12345678", "********"},
		{"123456789", "1234********6789"},
		{"sk-test-1234567890abcdef", "sk-t********cdef"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, maskSecret(tc.value))
	}
}

// ============================================================================
// Allowlist
// ============================================================================

func TestAllowlistAddListRemove(t *testing.T) {
	deps := newAdminDeps(t)
	router := newAdminRouter(deps)

	w := doJSON(t, router, http.MethodPost, "/api/allowlist", map[string]string{
		"channel": "cli", "user_id": "alice",
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, deps.Registry.IsAuthorized("cli", "alice"))

	w = doJSON(t, router, http.MethodGet, "/api/allowlist?channel=cli", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	entries, ok := body["entries"].([]any)
	require.True(t, ok)
	require.Len(t, entries, 1)

	w = doJSON(t, router, http.MethodDelete, "/api/allowlist/cli/alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, deps.Registry.IsAuthorized("cli", "alice"))
}

func TestAllowlistAdd_MissingFields(t *testing.T) {
	router := newAdminRouter(newAdminDeps(t))

	w := doJSON(t, router, http.MethodPost, "/api/allowlist", map[string]string{
		"channel": "cli",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// ============================================================================
// Channel mode
// ============================================================================

func TestChannelModeGetAndSet(t *testing.T) {
	deps := newAdminDeps(t)
	router := newAdminRouter(deps)

	w := doJSON(t, router, http.MethodGet, "/api/channels/cli/mode", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "closed", decodeBody(t, w)["mode"])

	w = doJSON(t, router, http.MethodPut, "/api/channels/cli/mode", map[string]string{
		"mode": "open",
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, pairing.ModeOpen, deps.Registry.Mode("cli"))
}

func TestChannelModeSet_Invalid(t *testing.T) {
	router := newAdminRouter(newAdminDeps(t))

	w := doJSON(t, router, http.MethodPut, "/api/channels/cli/mode", map[string]string{
		"mode": "ajar",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// ============================================================================
// Pairing
// ============================================================================

func TestPairingInitiate(t *testing.T) {
	deps := newAdminDeps(t)
	router := newAdminRouter(deps)

	w := doJSON(t, router, http.MethodPost, "/api/pairing", map[string]string{
		"channel": "cli",
	})
	require.Equal(t, http.StatusOK, w.Code)

	body := decodeBody(t, w)
	code, _ := body["code"].(string)
	assert.Regexp(t, regexp.MustCompile(`^\d{6}$`), code)

	expiresAt, err := time.Parse(time.RFC3339, body["expires_at"].(string))
	require.NoError(t, err)
	assert.True(t, expiresAt.After(time.Now()))

	// The minted code is actually claimable.
	result, err := deps.Registry.ClaimPairing("cli", "bob", code)
	require.NoError(t, err)
	assert.Equal(t, pairing.ClaimAuthorized, result)
}

func TestPairingInitiate_MissingChannel(t *testing.T) {
	router := newAdminRouter(newAdminDeps(t))

	w := doJSON(t, router, http.MethodPost, "/api/pairing", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPairingClaim_OverAdminAPI(t *testing.T) {
	deps := newAdminDeps(t)
	router := newAdminRouter(deps)

	w := doJSON(t, router, http.MethodPost, "/api/pairing", map[string]string{
		"channel": "cli",
	})
	require.Equal(t, http.StatusOK, w.Code)
	code := decodeBody(t, w)["code"].(string)

	w = doJSON(t, router, http.MethodPost, "/api/pairing/claim", map[string]string{
		"channel": "cli", "user_id": "bob", "code": code,
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "authorized", decodeBody(t, w)["result"])
	assert.True(t, deps.Registry.IsAuthorized("cli", "bob"))

	// Second claim of the same code reports the distinct outcome.
	w = doJSON(t, router, http.MethodPost, "/api/pairing/claim", map[string]string{
		"channel": "cli", "user_id": "carol", "code": code,
	})
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "already_used", decodeBody(t, w)["result"])
}

func TestPairingClaim_NoOutstandingCode(t *testing.T) {
	router := newAdminRouter(newAdminDeps(t))

	w := doJSON(t, router, http.MethodPost, "/api/pairing/claim", map[string]string{
		"channel": "cli", "user_id": "bob", "code": "123456",
	})
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "invalid", decodeBody(t, w)["result"])
}
