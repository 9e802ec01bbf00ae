// Copyright (C) 2026 OpenCrust Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"errors"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/opencrust-org/opencrust/pkg/logging"
	"github.com/opencrust-org/opencrust/services/gateway/observability"
	"github.com/opencrust-org/opencrust/services/gateway/pairing"
	"github.com/opencrust-org/opencrust/services/gateway/vault"
)

// AdminDeps collects what the admin API handlers need.
type AdminDeps struct {
	Log      *logging.Logger
	Metrics  *observability.Metrics
	Registry *pairing.Registry
	Resolver *vault.Resolver

	// Sessions mirrors the websocket handler's live session counter.
	Sessions *atomic.Int64
}

// ============================================================================
// Health and status
// ============================================================================

// HandleHealth reports liveness. Unauthenticated by design: it reveals
// nothing beyond the fact that the process is up.
func HandleHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

// HandleStatus reports gateway state for operators. Sits behind token
// auth like the rest of the admin API.
func HandleStatus(deps AdminDeps, startedAt time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		var sessions int64
		if deps.Sessions != nil {
			sessions = deps.Sessions.Load()
		}
		c.JSON(http.StatusOK, gin.H{
			"status":          "ok",
			"uptime_seconds":  int(time.Since(startedAt).Seconds()),
			"active_sessions": sessions,
		})
	}
}

// ============================================================================
// Vault
// ============================================================================

type vaultSetRequest struct {
	Name  string `json:"name" binding:"required"`
	Value string `json:"value" binding:"required"`
}

// HandleVaultSet stores or overwrites one secret.
func HandleVaultSet(deps AdminDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req vaultSetRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "name and value are required"})
			return
		}

		ok, err := deps.Resolver.TrySet(req.Name, req.Value)
		if !ok {
			deps.Metrics.VaultOperations.WithLabelValues("set", "error").Inc()
			c.JSON(vaultErrorStatus(err), gin.H{"error": vaultErrorMessage(err)})
			return
		}

		deps.Metrics.VaultOperations.WithLabelValues("set", "ok").Inc()
		deps.Log.Info("secret stored", "name", req.Name)
		c.JSON(http.StatusOK, gin.H{"stored": req.Name})
	}
}

// HandleVaultGet reports whether a secret exists and a masked preview.
// The full value never leaves the gateway over the admin API.
func HandleVaultGet(deps AdminDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		name := c.Param("name")

		value, source, err := deps.Resolver.Resolve(name)
		if err != nil {
			deps.Metrics.VaultOperations.WithLabelValues("get", "error").Inc()
			if errors.Is(err, vault.ErrSecretNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "secret not found"})
				return
			}
			c.JSON(vaultErrorStatus(err), gin.H{"error": vaultErrorMessage(err)})
			return
		}

		deps.Metrics.VaultOperations.WithLabelValues("get", "ok").Inc()
		c.JSON(http.StatusOK, gin.H{
			"name":   name,
			"source": string(source),
			"value":  maskSecret(value),
		})
	}
}

// HandleVaultRemove deletes one secret.
func HandleVaultRemove(deps AdminDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		name := c.Param("name")

		ok, err := deps.Resolver.TryRemove(name)
		if !ok {
			deps.Metrics.VaultOperations.WithLabelValues("remove", "error").Inc()
			if errors.Is(err, vault.ErrSecretNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "secret not found"})
				return
			}
			c.JSON(vaultErrorStatus(err), gin.H{"error": vaultErrorMessage(err)})
			return
		}

		deps.Metrics.VaultOperations.WithLabelValues("remove", "ok").Inc()
		deps.Log.Info("secret removed", "name", name)
		c.JSON(http.StatusOK, gin.H{"removed": name})
	}
}

// HandleVaultList lists secret names, never values.
func HandleVaultList(deps AdminDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		keys, err := deps.Resolver.TryKeys()
		if err != nil {
			deps.Metrics.VaultOperations.WithLabelValues("list", "error").Inc()
			c.JSON(vaultErrorStatus(err), gin.H{"error": vaultErrorMessage(err)})
			return
		}

		deps.Metrics.VaultOperations.WithLabelValues("list", "ok").Inc()
		c.JSON(http.StatusOK, gin.H{"names": keys})
	}
}

// vaultErrorStatus maps vault failures onto HTTP codes without leaking
// which specific failure occurred to anything but the status class.
func vaultErrorStatus(err error) int {
	switch {
	case errors.Is(err, vault.ErrInvalidName):
		return http.StatusBadRequest
	case errors.Is(err, vault.ErrVaultNotFound):
		return http.StatusConflict
	default:
		return http.StatusServiceUnavailable
	}
}

func vaultErrorMessage(err error) string {
	switch {
	case errors.Is(err, vault.ErrInvalidName):
		return "invalid secret name"
	case errors.Is(err, vault.ErrVaultNotFound):
		return "vault not initialized"
	default:
		return "vault unavailable"
	}
}

// maskSecret shows just enough of a value to confirm which credential
// it is. Short values are fully masked.
func maskSecret(value string) string {
	const visible = 4
	if len(value) <= visible*2 {
		return strings.Repeat("*", 8)
	}
	return value[:visible] + strings.Repeat("*", 8) + value[len(value)-visible:]
}

// ============================================================================
// Allowlist
// ============================================================================

type allowlistAddRequest struct {
	Channel string `json:"channel" binding:"required"`
	UserID  string `json:"user_id" binding:"required"`
}

// HandleAllowlistList returns entries, optionally scoped to ?channel=.
func HandleAllowlistList(deps AdminDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		entries := deps.Registry.Entries(c.Query("channel"))
		c.JSON(http.StatusOK, gin.H{"entries": entries})
	}
}

// HandleAllowlistAdd authorizes a sender directly, without pairing.
func HandleAllowlistAdd(deps AdminDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req allowlistAddRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "channel and user_id are required"})
			return
		}

		if err := deps.Registry.AddEntry(req.Channel, req.UserID, "admin"); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to persist entry"})
			return
		}
		deps.Log.Info("allowlist entry added",
			"channel", req.Channel,
			"user_id", req.UserID)
		c.JSON(http.StatusOK, gin.H{"added": true})
	}
}

// HandleAllowlistRemove revokes a sender's authorization.
func HandleAllowlistRemove(deps AdminDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		channel := c.Param("channel")
		userID := c.Param("user")

		if err := deps.Registry.RemoveEntry(channel, userID); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to persist removal"})
			return
		}
		deps.Log.Info("allowlist entry removed",
			"channel", channel,
			"user_id", userID)
		c.JSON(http.StatusOK, gin.H{"removed": true})
	}
}

// ============================================================================
// Channel mode
// ============================================================================

type modeSetRequest struct {
	Mode string `json:"mode" binding:"required"`
}

// HandleModeGet reports a channel's access mode.
func HandleModeGet(deps AdminDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		channel := c.Param("channel")
		c.JSON(http.StatusOK, gin.H{
			"channel": channel,
			"mode":    string(deps.Registry.Mode(channel)),
		})
	}
}

// HandleModeSet switches a channel between open and closed.
func HandleModeSet(deps AdminDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		channel := c.Param("channel")

		var req modeSetRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "mode is required"})
			return
		}
		// ParseMode is lenient; the API is not.
		normalized := strings.ToLower(req.Mode)
		if normalized != string(pairing.ModeOpen) && normalized != string(pairing.ModeClosed) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "mode must be open or closed"})
			return
		}
		mode := pairing.ParseMode(normalized)

		if err := deps.Registry.SetMode(channel, mode); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to persist mode"})
			return
		}
		deps.Log.Info("channel mode changed",
			"channel", channel,
			"mode", string(mode))
		c.JSON(http.StatusOK, gin.H{"channel": channel, "mode": string(mode)})
	}
}

// ============================================================================
// Pairing
// ============================================================================

type pairingInitiateRequest struct {
	Channel string `json:"channel" binding:"required"`
}

// HandlePairingInitiate mints a pairing code for a channel. The code is
// returned to the operator here and nowhere else; it never appears in
// logs.
func HandlePairingInitiate(deps AdminDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req pairingInitiateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "channel is required"})
			return
		}

		code, expiresAt, err := deps.Registry.InitiatePairing(req.Channel)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate code"})
			return
		}
		deps.Log.Info("pairing initiated", "channel", req.Channel)
		c.JSON(http.StatusOK, gin.H{
			"channel":    req.Channel,
			"code":       code,
			"expires_at": expiresAt.UTC().Format(time.RFC3339),
		})
	}
}

type pairingClaimRequest struct {
	Channel string `json:"channel" binding:"required"`
	UserID  string `json:"user_id" binding:"required"`
	Code    string `json:"code" binding:"required"`
}

// HandlePairingClaim redeems a code on a sender's behalf. Operators use
// this to pair senders on channels that cannot carry a claim themselves.
// Unlike the websocket path, the operator sees the distinct outcome.
func HandlePairingClaim(deps AdminDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req pairingClaimRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "channel, user_id and code are required"})
			return
		}

		result, err := deps.Registry.ClaimPairing(req.Channel, req.UserID, req.Code)
		if err != nil {
			deps.Log.Error("pairing claim failed to persist",
				"channel", req.Channel,
				"error", err)
		}
		deps.Metrics.PairingClaims.WithLabelValues(string(result)).Inc()

		status := http.StatusOK
		if result != pairing.ClaimAuthorized {
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{
			"channel": req.Channel,
			"user_id": req.UserID,
			"result":  string(result),
		})
	}
}
