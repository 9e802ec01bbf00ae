// Copyright (C) 2026 OpenCrust Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opencrust-org/opencrust/pkg/logging"
	"github.com/opencrust-org/opencrust/services/gateway/handlers"
	"github.com/opencrust-org/opencrust/services/gateway/middleware"
	"github.com/opencrust-org/opencrust/services/gateway/ratelimit"
)

// Deps carries everything route setup needs.
type Deps struct {
	Log           *logging.Logger
	Gatherer      prometheus.Gatherer
	OriginLimiter *ratelimit.OriginLimiter

	// GatewayToken authenticates websocket clients; AdminToken
	// authenticates the admin API. Empty tokens reject everything.
	GatewayToken string
	AdminToken   string

	WS    handlers.WSDeps
	Admin handlers.AdminDeps
}

// SetupRoutes wires the gateway's endpoints onto the router.
//
// Everything except /health sits behind token auth; /ws additionally
// sits behind the per-origin rate limit so an unauthenticated flood is
// throttled before it reaches the token check.
func SetupRoutes(router *gin.Engine, deps Deps) {
	startedAt := time.Now()

	router.GET("/health", handlers.HandleHealth())

	router.GET("/ws",
		middleware.OriginRateLimit(deps.OriginLimiter, deps.WS.Metrics, deps.Log),
		middleware.RequireToken(deps.GatewayToken, "websocket", deps.WS.Metrics, deps.Log),
		handlers.HandleWebSocket(deps.WS))

	router.GET("/metrics",
		middleware.RequireToken(deps.AdminToken, "metrics", deps.WS.Metrics, deps.Log),
		gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))

	api := router.Group("/api")
	api.Use(middleware.RequireToken(deps.AdminToken, "admin_api", deps.WS.Metrics, deps.Log))
	{
		api.GET("/status", handlers.HandleStatus(deps.Admin, startedAt))

		vaultAdmin := api.Group("/vault")
		{
			vaultAdmin.GET("/secrets", handlers.HandleVaultList(deps.Admin))
			vaultAdmin.POST("/secrets", handlers.HandleVaultSet(deps.Admin))
			vaultAdmin.GET("/secrets/:name", handlers.HandleVaultGet(deps.Admin))
			vaultAdmin.DELETE("/secrets/:name", handlers.HandleVaultRemove(deps.Admin))
		}

		allowlist := api.Group("/allowlist")
		{
			allowlist.GET("", handlers.HandleAllowlistList(deps.Admin))
			allowlist.POST("", handlers.HandleAllowlistAdd(deps.Admin))
			allowlist.DELETE("/:channel/:user", handlers.HandleAllowlistRemove(deps.Admin))
		}

		channels := api.Group("/channels")
		{
			channels.GET("/:channel/mode", handlers.HandleModeGet(deps.Admin))
			channels.PUT("/:channel/mode", handlers.HandleModeSet(deps.Admin))
		}

		api.POST("/pairing", handlers.HandlePairingInitiate(deps.Admin))
		api.POST("/pairing/claim", handlers.HandlePairingClaim(deps.Admin))
	}
}
