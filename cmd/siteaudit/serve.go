package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/PentesterFlow/SiteAudit/internal/metrics"
	"github.com/PentesterFlow/SiteAudit/internal/ratelimit"
	"github.com/PentesterFlow/SiteAudit/internal/server"
	"github.com/PentesterFlow/SiteAudit/internal/shutdown"
	"github.com/PentesterFlow/SiteAudit/internal/state"
	"github.com/PentesterFlow/SiteAudit/pkg/crawler"
)

func runServe(cmd *cobra.Command, args []string) error {
	config, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log, err := setupLogger(config)
	if err != nil {
		return err
	}

	store, err := state.OpenStore(config.Server.StorePath)
	if err != nil {
		return fmt.Errorf("failed to open report store: %w", err)
	}

	opts := []crawler.Option{
		crawler.WithConfig(config),
		crawler.WithLogger(log),
		crawler.WithMetrics(metrics.New()),
	}
	// Concurrent scans of the same origin share one navigation budget.
	if config.Discovery.RequestsPerSecond > 0 {
		opts = append(opts, crawler.WithLimiter(
			ratelimit.NewLimiter(config.Discovery.RequestsPerSecond, config.Discovery.Burst)))
	}
	scanner, err := crawler.New(opts...)
	if err != nil {
		store.Close()
		return fmt.Errorf("failed to create scanner: %w", err)
	}

	srv := server.New(server.Config{
		HTTP:    config.Server,
		Scanner: scanner,
		Store:   store,
		Logger:  log,
	})
	httpServer := srv.HTTPServer()

	sd := shutdown.New(cmd.Context(), shutdown.Config{
		Timeout: config.Server.ShutdownTimeout,
		Signals: shutdown.DefaultConfig().Signals,
		Logger:  log,
	})
	// Steps run in reverse: stop accepting requests, then close the store.
	sd.Register("report store", func(ctx context.Context) error { return srv.Close() })
	sd.RegisterServer("http server", httpServer)

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", httpServer.Addr).
			WithField("store", storeName(config.Server.StorePath)).
			Info("Server listening")
		if err := httpServer.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			errCh <- err
			sd.Trigger()
		}
	}()

	shutdownErr := sd.Wait()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	default:
	}
	if shutdownErr != nil {
		return fmt.Errorf("shutdown: %w", shutdownErr)
	}
	log.Info("Server stopped")
	return nil
}

func storeName(path string) string {
	if path == "" {
		return "memory"
	}
	return path
}
