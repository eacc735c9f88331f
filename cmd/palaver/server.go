// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/palaver/internal/auth"
	"github.com/holomush/palaver/internal/catalog"
	"github.com/holomush/palaver/internal/config"
	"github.com/holomush/palaver/internal/observability"
	"github.com/holomush/palaver/internal/plugin"
	"github.com/holomush/palaver/internal/poll"
	pollpg "github.com/holomush/palaver/internal/poll/postgres"
	"github.com/holomush/palaver/internal/realtime"
	"github.com/holomush/palaver/internal/store"
)

const shutdownTimeout = 5 * time.Second

// NewServerCmd creates the server subcommand.
func NewServerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Run the plugin catalog and the real-time poll service",
		Long: `Serve plugin bundles from a directory on GET /plugins/{name} and the
poll coordinator on the /ws/polls websocket.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runServerWithDeps(cmd.Context(), cfg, nil)
		},
	}

	cmd.Flags().String("addr", config.DefaultAddr, "API listen address")
	cmd.Flags().String("metrics-addr", config.DefaultMetricsAddr, "metrics/health HTTP address (empty = disabled)")
	cmd.Flags().String("bundle-dir", "", "directory of <name>.bundle files to serve (empty = catalog disabled)")
	cmd.Flags().String("database-url", "", "PostgreSQL URL (empty = in-memory polls)")
	cmd.Flags().Bool("auto-migrate", true, "apply pending migrations at startup")
	cmd.Flags().String("token-secret", "", "shared secret for bearer token verification")

	return cmd
}

// api is the HTTP surface of the server.
type api struct {
	engine   *gin.Engine
	hub      *realtime.Hub
	realtime *realtime.Server
	coord    *poll.Coordinator
}

// newAPI wires the catalog and the poll channel onto one gin engine.
func newAPI(cfg *config.Config, repo poll.Repository, verifier realtime.TokenVerifier, logger *slog.Logger) *api {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	hub := realtime.NewHub(logger)
	coord := poll.NewCoordinator(poll.CoordinatorConfig{
		Repository: repo,
		Publisher:  realtime.PollPublisher(hub),
		Logger:     logger,
	})
	rt := realtime.NewServer(realtime.Config{}, hub, coord, verifier, logger)
	rt.Register(engine)

	if cfg.BundleDir != "" {
		catalog.New(cfg.BundleDir, catalog.WithLogger(logger)).Register(engine)
	}

	return &api{engine: engine, hub: hub, realtime: rt, coord: coord}
}

// runServerWithDeps starts the server with injectable dependencies.
// If deps is nil, default implementations are used.
func runServerWithDeps(ctx context.Context, cfg *config.Config, deps *ServerDeps) error {
	if deps == nil {
		deps = &ServerDeps{}
	}
	if deps.RepositoryFactory == nil {
		deps.RepositoryFactory = openRepository
	}
	if deps.MigratorFactory == nil {
		deps.MigratorFactory = func(url string) (AutoMigrator, error) {
			return store.NewMigrator(url)
		}
	}
	if deps.ObservabilityServerFactory == nil {
		deps.ObservabilityServerFactory = func(addr string, ready observability.ReadinessChecker, regs ...observability.Registrar) ObservabilityServer {
			return observability.NewServer(addr, ready, regs...)
		}
	}

	if err := cfg.ValidateServer(); err != nil {
		return err
	}
	logger, err := setupLogging(cfg, "server")
	if err != nil {
		return err
	}

	tokens, err := auth.NewTokens(cfg.TokenSecret)
	if err != nil {
		return err
	}

	if cfg.DatabaseURL != "" && cfg.AutoMigrate {
		if err := autoMigrate(cfg.DatabaseURL, deps.MigratorFactory); err != nil {
			return err
		}
	}

	repo, release, err := deps.RepositoryFactory(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer release()

	srv := newAPI(cfg, repo, tokens, logger)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var ready atomic.Bool
	var obsServer ObservabilityServer
	if cfg.MetricsAddr != "" {
		obsServer = deps.ObservabilityServerFactory(cfg.MetricsAddr, ready.Load,
			plugin.RegisterMetrics, poll.RegisterMetrics, realtime.RegisterMetrics, catalog.RegisterMetrics)
		obsErrChan, err := obsServer.Start()
		if err != nil {
			return oops.Code("OBSERVABILITY_START_FAILED").Wrap(err)
		}
		go monitorServerErrors(ctx, cancel, obsErrChan, "observability")
	}

	listener, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return oops.Code("LISTEN_FAILED").With("addr", cfg.Addr).Wrap(err)
	}
	httpSrv := &http.Server{
		Handler:           srv.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if serveErr := httpSrv.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			errCh <- serveErr
		}
	}()
	go monitorServerErrors(ctx, cancel, errCh, "api")

	ready.Store(true)
	logger.Info("server ready",
		"addr", listener.Addr().String(),
		"bundle_dir", cfg.BundleDir,
		"storage", storageKind(cfg.DatabaseURL))
	if deps.Ready != nil {
		deps.Ready(listener.Addr().String())
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig)
	case <-ctx.Done():
		logger.Info("context cancelled, shutting down")
	}

	ready.Store(false)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	srv.realtime.Shutdown()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("error stopping api server", "error", err)
	}
	if obsServer != nil {
		if err := obsServer.Stop(shutdownCtx); err != nil {
			logger.Warn("error stopping observability server", "error", err)
		}
	}

	logger.Info("shutdown complete")
	return nil
}

// autoMigrate applies pending migrations before serving.
func autoMigrate(databaseURL string, factory func(string) (AutoMigrator, error)) error {
	m, err := factory(databaseURL)
	if err != nil {
		return oops.Code("MIGRATION_INIT_FAILED").Wrap(err)
	}
	defer func() {
		if closeErr := m.Close(); closeErr != nil {
			slog.Warn("failed to close migrator", "error", closeErr)
		}
	}()
	if err := m.Up(); err != nil {
		return oops.Code("AUTO_MIGRATION_FAILED").Wrap(err)
	}
	slog.Info("database migrations applied")
	return nil
}

// openRepository selects poll storage.
func openRepository(ctx context.Context, databaseURL string) (poll.Repository, func(), error) {
	if databaseURL == "" {
		return poll.NewMemoryRepository(), func() {}, nil
	}
	pool, err := store.OpenPool(ctx, databaseURL, store.PoolOptions{})
	if err != nil {
		return nil, nil, err
	}
	return pollpg.NewRepository(pool), pool.Close, nil
}

func storageKind(databaseURL string) string {
	if databaseURL == "" {
		return "memory"
	}
	return "postgres"
}
