// Package reactorservice wires and runs the webhook-facing HTTP service.
package reactorservice

import (
	"context"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/flowhook/reactor/internal/api"
	"github.com/flowhook/reactor/internal/config"
	"github.com/flowhook/reactor/internal/engine"
	"github.com/flowhook/reactor/internal/factory"
	"github.com/flowhook/reactor/internal/health"
	"github.com/flowhook/reactor/internal/identity"
	"github.com/flowhook/reactor/internal/logger"
	"github.com/flowhook/reactor/internal/rules"
	"github.com/flowhook/reactor/internal/sink"
	"github.com/flowhook/reactor/internal/temporal"
)

// Run starts the reactor HTTP service and blocks until shutdown or error.
func Run() error {
	log := logger.New("reactor-service")

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

	ruleStore, err := rules.NewStore(cfg.RulesPath)
	if err != nil {
		log.Error().Stack().Err(err).Msg("rule file unusable")
		return err
	}
	fileCfg, err := rules.LoadFileConfig(cfg.RulesPath)
	if err != nil {
		log.Error().Stack().Err(err).Msg("rule file unusable")
		return err
	}
	log.Info().Int("rules", ruleStore.Len()).Str("path", cfg.RulesPath).Msg("rules loaded")

	snk := sink.NewClient(cfg.SinkBaseURL, cfg.SinkRPS, cfg.SinkTimeout, log)

	eng, err := engine.New(ctx, engine.Options{
		Normalizer:  identity.New(fileCfg.Identity),
		Rules:       ruleStore,
		Extractor:   temporal.NewExtractor(temporal.NewSpanishRecognizer(), fileCfg.Temporal.EveningKeywords),
		Ledger:      store,
		Audit:       store,
		Sink:        snk,
		MaxAttempts: cfg.RetryMaxAttempts,
		Logger:      log,
	})
	if err != nil {
		log.Error().Stack().Err(err).Msg("engine init failed")
		return err
	}

	svcHealth := startHealthCheckers(ctx, cfg, log, store)

	router := api.NewRouter(api.Deps{
		Engine: eng,
		Rules:  ruleStore,
		Ledger: store,
		Audit:  store,
		Health: svcHealth,
		Webhook: api.WebhookConfig{
			Secret:       cfg.WebhookSecret,
			RequireSig:   cfg.WebhookRequireSig,
			UseTimestamp: cfg.WebhookUseTimestamp,
			TSSkew:       cfg.WebhookTSSkew,
			BodyLimit:    cfg.WebhookBodyLimit,
		},
		Logger: log,
	})

	server := &http.Server{
		Addr:              cfg.GetHTTPAddr(),
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.HTTPPort).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Stack().Err(err).Msg("server forced to shutdown")
			return err
		}
		log.Info().Msg("server exited")
		return nil
	case err := <-errCh:
		log.Error().Stack().Err(err).Msg("HTTP server failed")
		return err
	}
}

// startHealthCheckers starts the ledger checker and the service aggregator.
func startHealthCheckers(ctx context.Context, cfg *config.Config, log zerolog.Logger, store factory.Store) *health.ServiceChecker {
	probeTimeout := time.Duration(cfg.HealthProbeTimeoutSeconds) * time.Second
	interval := time.Duration(cfg.HealthIntervalSeconds) * time.Second

	ledgerChecker := health.NewPingChecker("ledger", store, probeTimeout, log)
	go ledgerChecker.Start(ctx, interval)

	svc := health.NewServiceChecker(log, ledgerChecker)
	go svc.Start(ctx, interval)
	return svc
}
