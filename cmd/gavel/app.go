package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/MikeSquared-Agency/gavel/internal/backend"
	"github.com/MikeSquared-Agency/gavel/internal/config"
	"github.com/MikeSquared-Agency/gavel/internal/hearing"
	"github.com/MikeSquared-Agency/gavel/internal/hermes"
	"github.com/MikeSquared-Agency/gavel/internal/metrics"
	"github.com/MikeSquared-Agency/gavel/internal/session"
	"github.com/MikeSquared-Agency/gavel/internal/transport"
)

// app is the wired object graph shared by every subcommand.
type app struct {
	cfg        config.Config
	logger     *slog.Logger
	metrics    *metrics.Metrics
	sessions   *session.Cache
	backend    *backend.Client
	cases      *backend.CaseEnsurer
	hermes     *hermes.Client
	controller *hearing.Controller
}

func newApp(ctx context.Context, cfg config.Config, observers ...hearing.Observer) (*app, error) {
	logger := slog.Default()
	m := metrics.New()

	httpClient := transport.New(transport.Config{
		BaseURL:        cfg.APIURL,
		Timeout:        cfg.RequestTimeout,
		MaxRetries:     cfg.MaxRetries,
		RetryBaseDelay: cfg.RetryBaseDelay,
	}, transport.WithRecorder(m), transport.WithLogger(logger))

	sessions := session.NewCache(httpClient, cfg.AdminKey, logger)
	httpClient.SetCredentials(sessions)

	be := backend.New(httpClient)
	cases := backend.NewCaseEnsurer(be, sessions, cfg.CaseID, backend.CaseCreate{}, logger)

	a := &app{
		cfg:      cfg,
		logger:   logger,
		metrics:  m,
		sessions: sessions,
		backend:  be,
		cases:    cases,
	}

	opts := []hearing.Option{
		hearing.WithLogger(logger),
		hearing.WithObserver(m),
		hearing.WithOnError(func(msg string) {
			logger.Warn("hearing reported an error", "message", msg)
		}),
	}
	for _, o := range observers {
		opts = append(opts, hearing.WithObserver(o))
	}

	if cfg.NatsURL != "" {
		hc, err := hermes.NewClient(ctx, hermes.Options{URL: cfg.NatsURL, Token: cfg.NatsToken}, logger)
		if err != nil {
			return nil, fmt.Errorf("connect to NATS: %w", err)
		}
		a.hermes = hc
		opts = append(opts, hearing.WithObserver(hermes.NewPublisher(hc, logger)))
		logger.Info("NATS connected", "url", cfg.NatsURL)
	} else {
		logger.Warn("NATS_URL not set, hearing events will not be published")
	}

	a.controller = hearing.New(hearing.Config{
		BaseURL:     cfg.APIURL,
		ArchetypeID: cfg.ArchetypeID,
		Backoff: hearing.Backoff{
			BaseDelay:   cfg.ReconnectBaseDelay,
			MaxDelay:    cfg.ReconnectMaxDelay,
			MaxAttempts: cfg.ReconnectMaxAttempts,
		},
	}, be, sessions, cases.EnsureCase, opts...)

	return a, nil
}

func (a *app) Close() {
	a.controller.Close()
	if a.hermes != nil {
		if err := a.hermes.Drain(); err != nil {
			a.logger.Warn("nats drain failed", "error", err)
		}
	}
}
