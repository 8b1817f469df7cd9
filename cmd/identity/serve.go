package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/99minutos/identity-system/internal/api"
	"github.com/99minutos/identity-system/internal/core/service"
	"github.com/99minutos/identity-system/internal/infrastructure/telemetry"
	"github.com/99minutos/identity-system/pkg/logger"
)

const (
	shutdownTimeout = 10 * time.Second
	serviceVersion  = "1.0.0"
)

var migrateOnStart bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		log := logger.Get()

		tcfg := telemetry.Config{
			ServiceName: serviceName,
			Version:     serviceVersion,
			Endpoint:    cfg.Tracing.Endpoint,
		}
		if cfg.Tracing.Stdout {
			tcfg.Writer = os.Stdout
		}
		shutdownTracing, err := telemetry.NewProvider(ctx, tcfg)
		if err != nil {
			return err
		}
		defer func() {
			if err := shutdownTracing(context.Background()); err != nil {
				log.Warn().Err(err).Msg("trace provider shutdown")
			}
		}()

		be, err := openStore(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer be.close(context.Background())

		if migrateOnStart {
			if err := be.migrate(ctx); err != nil {
				return err
			}
		}
		if err := service.SeedRoleCatalog(ctx, be.store, logger.With("role_catalog")); err != nil {
			return err
		}

		cache, rdb, err := openAuthorityCache(ctx, cfg, log)
		if err != nil {
			return err
		}
		if rdb != nil {
			defer rdb.Close()
		}

		e := api.NewRouter(api.Dependencies{
			Users:           service.NewReconciliationService(be.store, logger.With("reconciliation")),
			Membership:      service.NewMembershipService(be.store, cache, logger.With("membership")),
			Authorities:     service.NewAuthorityService(be.store, cache, logger.With("authority")),
			Readiness:       readinessChecks(be.store, rdb),
			JWTSecret:       cfg.JWTSecret,
			ConflictRetries: cfg.ConflictRetries,
			Logger:          logger.With("http"),
		})

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			log.Info().Str("port", cfg.Port).Str("driver", cfg.StoreDriver).Msg("identity api listening")
			if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			log.Info().Msg("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return e.Shutdown(shutdownCtx)
		})
		return g.Wait()
	},
}

func init() {
	serveCmd.Flags().BoolVar(&migrateOnStart, "migrate", true, "apply the store schema or indexes before serving")
	rootCmd.AddCommand(serveCmd)
}
