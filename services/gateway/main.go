// Copyright (C) 2026 OpenCrust Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/opencrust-org/opencrust/pkg/logging"
	"github.com/opencrust-org/opencrust/pkg/redact"
	"github.com/opencrust-org/opencrust/services/gateway/config"
	"github.com/opencrust-org/opencrust/services/gateway/handlers"
	"github.com/opencrust-org/opencrust/services/gateway/observability"
	"github.com/opencrust-org/opencrust/services/gateway/pairing"
	"github.com/opencrust-org/opencrust/services/gateway/ratelimit"
	"github.com/opencrust-org/opencrust/services/gateway/routes"
	"github.com/opencrust-org/opencrust/services/gateway/validate"
	"github.com/opencrust-org/opencrust/services/gateway/vault"
)

// Secret names the gateway resolves at startup. Either may live in the
// vault, the config secrets block, or the environment.
const (
	gatewayTokenName = "OPENCRUST_GATEWAY_TOKEN"
	adminTokenName   = "OPENCRUST_ADMIN_TOKEN"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		log.Fatalf("gateway failed: %v", err)
	}
}

func run() error {
	configPath := os.Getenv("OPENCRUST_CONFIG")
	if configPath == "" {
		var err error
		configPath, err = config.DefaultPath()
		if err != nil {
			return fmt.Errorf("resolving config path: %w", err)
		}
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	redactor, err := redact.New()
	if err != nil {
		return fmt.Errorf("building redaction table: %w", err)
	}

	logger, err := logging.New(logging.Config{
		Level:    logging.ParseLevel(cfg.Logging.Level),
		LogDir:   cfg.Logging.Dir,
		Service:  "gateway",
		JSON:     cfg.Logging.JSON,
		Redactor: redactor,
	})
	if err != nil {
		return fmt.Errorf("initializing logging: %w", err)
	}
	defer logger.Close()

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)
	registry.MustRegister(observability.NewRedactionCollector(redactor.GetStats))

	store, err := pairing.OpenStore(pairing.StoreConfig{
		Path:       cfg.Storage.AllowlistDir,
		SyncWrites: true,
		Logger:     logger.Slog(),
	})
	if err != nil {
		return fmt.Errorf("opening allowlist store: %w", err)
	}
	defer store.Close()

	allowlist, err := pairing.NewRegistry(store, logger, pairing.SystemClock())
	if err != nil {
		return fmt.Errorf("loading allowlist: %w", err)
	}

	resolver := vault.NewResolver(cfg.Storage.VaultPath, cfg.Secrets, logger)
	defer resolver.Close()

	gatewayToken := resolveToken(resolver, logger, gatewayTokenName)
	adminToken := resolveToken(resolver, logger, adminTokenName)

	validator, err := validate.New(
		validate.WithMaxMessageBytes(cfg.Limits.MaxMessageBytes))
	if err != nil {
		return fmt.Errorf("loading injection patterns: %w", err)
	}
	logger.Info("injection screen loaded", "patterns", validator.PatternCount())

	originLimiter := ratelimit.NewOriginLimiter(
		rate.Limit(float64(cfg.Limits.OriginPerMinute)/60.0),
		cfg.Limits.OriginBurst,
		ratelimit.SystemClock())

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	var sessions atomic.Int64

	routes.SetupRoutes(router, routes.Deps{
		Log:           logger,
		Gatherer:      registry,
		OriginLimiter: originLimiter,
		GatewayToken:  gatewayToken,
		AdminToken:    adminToken,
		WS: handlers.WSDeps{
			Log:           logger,
			Metrics:       metrics,
			Registry:      allowlist,
			Validator:     validator,
			Responder:     handlers.EchoResponder{},
			Heartbeat:     time.Duration(cfg.Server.HeartbeatSeconds) * time.Second,
			WindowLimit:   cfg.Limits.MessagesPerWindow,
			WindowSpan:    time.Duration(cfg.Limits.WindowSeconds) * time.Second,
			MaxViolations: cfg.Limits.MaxViolations,
			Sessions:      &sessions,
		},
		Admin: handlers.AdminDeps{
			Log:      logger,
			Metrics:  metrics,
			Registry: allowlist,
			Resolver: resolver,
			Sessions: &sessions,
		},
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: router,
	}

	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("gateway listening",
			"addr", srv.Addr,
			"vault_path", cfg.Storage.VaultPath)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("gateway stopped")
	return nil
}

// resolveToken fetches a token through the vault/config/env chain. A
// gateway without a token still starts, but the middleware rejects
// every request until one is configured.
func resolveToken(resolver *vault.Resolver, logger *logging.Logger, name string) string {
	value, source, err := resolver.Resolve(name)
	if err != nil {
		logger.Warn("token not configured, all requests on its surface will be rejected",
			"name", name)
		return ""
	}
	logger.Info("token resolved", "name", name, "source", string(source))
	return value
}
