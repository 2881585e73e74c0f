// Package main is the entrypoint for the SnowGate API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nexbridge/snowgate/internal/api"
	"github.com/nexbridge/snowgate/internal/api/handler"
	mw "github.com/nexbridge/snowgate/internal/api/middleware"
	"github.com/nexbridge/snowgate/internal/api/response"
	"github.com/nexbridge/snowgate/internal/cache"
	"github.com/nexbridge/snowgate/internal/config"
	"github.com/nexbridge/snowgate/internal/gateway"
	"github.com/nexbridge/snowgate/internal/license"
	"github.com/nexbridge/snowgate/internal/metering"
	"github.com/nexbridge/snowgate/internal/store"
	"github.com/nexbridge/snowgate/internal/tools"
	"github.com/nexbridge/snowgate/internal/vault"
)

const (
	shutdownTimeout   = 30 * time.Second
	meterBufferSize   = 1024
	providerTimeout   = 30 * time.Second
	toolClientTimeout = 60 * time.Second
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config — fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "env", cfg.Server.Env,
		"execution_timeout", cfg.Gateway.ExecutionTimeout.String())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to database
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	// 3. Run migrations
	if err := store.RunMigrations(cfg.Database.URL, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	// 4. Create Redis cache
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	// 5. Create store and domain services
	pgStore := store.NewPostgresStore(pool)

	enc, err := vault.NewEncryptor(cfg.Vault.MasterPassphrase, cfg.Vault.MasterSalt)
	if err != nil {
		return fmt.Errorf("create encryptor: %w", err)
	}

	provider := vault.NewHTTPProvider(providerTimeout)
	credVault := vault.New(pgStore, provider, enc, cfg.Vault, cfg.OAuthApps)

	registry, err := tools.New(tools.Builtin(&http.Client{Timeout: toolClientTimeout})...)
	if err != nil {
		return fmt.Errorf("build tool registry: %w", err)
	}
	slog.Info("tool registry built", "tools", registry.Len())

	tenants := license.NewRegistry(pgStore, redisCache, cfg.Auth.TenantCacheTTL)

	meter := metering.NewRecorder(pgStore, meterBufferSize)
	defer meter.Close()

	gw := gateway.New(registry, credVault, pgStore, meter, cfg.Gateway.ExecutionTimeout)

	// 6. Build router with dependencies
	auth := mw.NewAuth(tenants)
	rateLimit := mw.NewRateLimit(redisCache, meter, cfg.RateLimit.Window, cfg.RateLimit.PlanLimits)

	deps := api.Dependencies{
		Auth:      auth,
		RateLimit: rateLimit,

		HealthHandler: healthHandler(pgStore, redisCache),

		ListToolsHandler: handler.NewListToolsHandler(gw),
		CallToolHandler:  handler.NewCallToolHandler(gw),

		OAuthInitHandler:         handler.NewOAuthInitHandler(credVault),
		OAuthCallbackHandler:     handler.NewOAuthCallbackHandler(credVault),
		StoreCredentialHandler:   handler.NewStoreStaticCredentialHandler(credVault),
		RefreshCredentialHandler: handler.NewRefreshCredentialHandler(credVault),
		TestCredentialHandler:    handler.NewTestCredentialHandler(credVault),
		ToggleCredentialHandler:  handler.NewToggleCredentialHandler(credVault),
		RevokeCredentialHandler:  handler.NewRevokeCredentialHandler(credVault),
		ListCredentialsHandler:   handler.NewListCredentialsHandler(credVault),

		UsageHandler: handler.NewUsageHandler(meter),

		AdminCustomersHandler: handler.NewAdminCustomersHandler(pgStore),
		AdminUsageHandler:     handler.NewAdminUsageHandler(pgStore, meter),
	}

	router := api.NewRouter(deps)

	// 7. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.Gateway.ExecutionTimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// healthHandler checks database and cache connectivity.
func healthHandler(s store.Store, c cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database": "ok",
			"cache":    "ok",
		}

		if err := s.Ping(r.Context()); err != nil {
			checks["database"] = "degraded"
		}
		if err := c.Ping(r.Context()); err != nil {
			checks["cache"] = "degraded"
		}

		degraded := checks["database"] != "ok" || checks["cache"] != "ok"
		if degraded {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", checks)
			return
		}

		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": checks,
		})
	}
}
