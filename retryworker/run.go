// Package retryworker wires and runs the background retry worker.
package retryworker

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"

	"github.com/flowhook/reactor/internal/config"
	"github.com/flowhook/reactor/internal/factory"
	"github.com/flowhook/reactor/internal/logger"
	"github.com/flowhook/reactor/internal/retry"
	"github.com/flowhook/reactor/internal/sink"
)

// Run starts the retry worker loop and blocks until shutdown.
func Run() error {
	log := logger.New("retry-worker")

	cfg, err := config.New()
	if err != nil {
		log.Error().Err(err).Msg("failed to load configuration")
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := factory.NewStore(ctx, cfg, log)
	if err != nil {
		log.Error().Stack().Err(err).Msg("ledger store unavailable")
		return err
	}
	defer func() { _ = store.Close() }()

	snk := sink.NewClient(cfg.SinkBaseURL, cfg.SinkRPS, cfg.SinkTimeout, log)

	worker := retry.NewWorker(store, snk, store, retry.Config{
		BatchSize:   cfg.RetryBatchSize,
		Interval:    cfg.RetryInterval,
		MaxAttempts: cfg.RetryMaxAttempts,
	}, log)

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
