// Copyright (C) 2026 OpenCrust Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package middleware provides HTTP middleware for the gateway service.
//
// # Authentication Flow
//
// RequireToken guards the websocket upgrade and the admin API with a
// single shared token. The token arrives either as a "token" query
// parameter (for websocket clients that cannot set headers) or as
// "Authorization: Bearer <token>". Comparison is constant-time over
// SHA-256 digests, so neither token length nor content leaks through
// timing.
//
// Failed attempts log the remote address and are counted; the presented
// credential is never logged.
package middleware

import (
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/opencrust-org/opencrust/pkg/logging"
	"github.com/opencrust-org/opencrust/services/gateway/observability"
	"github.com/opencrust-org/opencrust/services/gateway/ratelimit"
)

// RequireToken returns middleware rejecting requests that do not present
// the expected gateway token. surface labels the auth failure metric
// ("websocket" or "admin_api").
//
// An empty expected token rejects everything: a gateway that failed to
// resolve its token must not run open.
func RequireToken(expected string, surface string, metrics *observability.Metrics, log *logging.Logger) gin.HandlerFunc {
	expectedDigest := sha256.Sum256([]byte(expected))

	return func(c *gin.Context) {
		presented := extractToken(c)

		presentedDigest := sha256.Sum256([]byte(presented))
		ok := expected != "" &&
			subtle.ConstantTimeCompare(expectedDigest[:], presentedDigest[:]) == 1

		if !ok {
			log.Warn("authentication failed",
				"surface", surface,
				"remote_addr", c.ClientIP(),
				"path", c.Request.URL.Path)
			if metrics != nil {
				metrics.AuthFailures.WithLabelValues(surface).Inc()
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "unauthorized",
			})
			return
		}
		c.Next()
	}
}

// OriginRateLimit returns middleware applying the per-address token
// bucket before any other work happens on the request.
func OriginRateLimit(limiter *ratelimit.OriginLimiter, metrics *observability.Metrics, log *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		addr := c.ClientIP()
		if !limiter.Allow(addr) {
			log.Warn("origin rate limited", "remote_addr", addr)
			if metrics != nil {
				metrics.RateLimited.WithLabelValues("origin").Inc()
			}
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate_limited",
			})
			return
		}
		c.Next()
	}
}

// extractToken pulls the gateway token from the "token" query parameter
// or, failing that, the Authorization header. Returns "" when absent.
func extractToken(c *gin.Context) string {
	if token := c.Query("token"); token != "" {
		return token
	}

	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return ""
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
