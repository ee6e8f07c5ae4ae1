package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	httpapi "storefront/internal/http"
	"storefront/internal/metrics"
)

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), *configPath)
		},
	}
}

func runServe(parent context.Context, configPath string) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := loadApp(configPath)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := a.close(shutdownCtx); err != nil {
			a.log.Error().Err(err).Msg("close dependencies")
		}
	}()
	if err := a.openStorage(ctx); err != nil {
		return err
	}
	if err := a.openServices(ctx); err != nil {
		return err
	}
	a.buildCatalog()
	if !a.cfg.WebhookSigningRequired() {
		a.log.Warn().Msg("payment notifications are accepted without a signature")
	}

	reg := metrics.NewRegistry()
	srv, err := httpapi.NewServer(httpapi.Deps{
		Resources:             a.catalog.Resources(),
		Orders:                a.catalog.Orders(),
		Checkout:              a.checkout(),
		Idempotency:           a.idem,
		Metrics:               metrics.NewServerMetrics(reg),
		Gatherer:              reg,
		Logger:                a.log,
		WebhookSecret:         a.cfg.Payment.HMACSecret,
		AllowUnsignedWebhooks: a.cfg.Payment.AllowUnsignedWebhooks,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    a.cfg.Server.Addr,
		Handler: srv.Engine(),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.log.Info().Str("addr", httpServer.Addr).Msg("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		a.log.Info().Msg("shutting down")
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
