package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/gavel/internal/api"
	"github.com/MikeSquared-Agency/gavel/internal/config"
)

func serveCMD(cfg *config.Config) *cobra.Command {
	var serve = &cobra.Command{
		Use:   "serve",
		Short: "Run the local bridge API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), *cfg)
		},
	}
	serve.Flags().IntVar(&cfg.Port, "port", cfg.Port, "listen port")
	serve.Flags().StringVar(&cfg.CaseID, "case", cfg.CaseID, "existing case id (created when empty)")
	serve.Flags().StringVar(&cfg.ArchetypeID, "archetype", cfg.ArchetypeID, "judge archetype")
	return serve
}

func runServe(parent context.Context, cfg config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	slog.Info("gavel starting", "port", cfg.Port, "api_url", cfg.APIURL)

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	srv := api.NewServer(cfg.Port, cfg.APIToken, a.controller, a.metrics.Handler())
	if a.hermes != nil {
		srv.SetBrokerHealth(a.hermes.Connected)
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	if a.hermes != nil {
		if err := a.hermes.Publish("gavel.agent.registered", map[string]any{
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"port":      cfg.Port,
			"api_url":   cfg.APIURL,
		}); err != nil {
			slog.Warn("failed to publish registration", "error", err)
		}
	}

	slog.Info("gavel ready", "port", cfg.Port)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	slog.Info("shutting down")
	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP shutdown failed", "error", err)
	}
	slog.Info("gavel stopped")
	return nil
}
