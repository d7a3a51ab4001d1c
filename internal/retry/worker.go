// Package retry re-executes failed action records in the background. It
// complements redelivery-triggered retries: when the transport never
// redelivers, the worker picks failed records up after a backoff and replays
// them from their stored parameters.
package retry

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/flowhook/reactor/internal/audit"
	"github.com/flowhook/reactor/internal/ledger"
	"github.com/flowhook/reactor/internal/model"
	"github.com/flowhook/reactor/internal/sink"
)

// Config controls batch size and polling cadence.
type Config struct {
	BatchSize   int           // records leased per cycle
	Interval    time.Duration // poll interval
	MaxAttempts int           // total attempt cap per record
	MinAge      time.Duration // backoff before a failed record is retried
}

// Worker polls the ledger for retryable records and replays them.
type Worker struct {
	ledger ledger.Ledger
	sink   sink.Sink
	audit  audit.Log
	cfg    Config
	log    zerolog.Logger
}

// NewWorker constructs a Worker from dependencies.
func NewWorker(led ledger.Ledger, snk sink.Sink, aud audit.Log, cfg Config, log zerolog.Logger) *Worker {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 2
	}
	// Zero means default; negative disables the backoff (tests).
	if cfg.MinAge == 0 {
		cfg.MinAge = 30 * time.Second
	}
	return &Worker{ledger: led, sink: snk, audit: aud, cfg: cfg, log: log}
}

// Run starts the polling loop until ctx is canceled.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info().Int("batch", w.cfg.BatchSize).Dur("interval", w.cfg.Interval).Msg("retry worker starting")
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("retry worker stopping")
			return ctx.Err()
		case <-ticker.C:
			if _, err := w.ProcessOnce(ctx); err != nil {
				// Log and continue; the lease cutoff prevents hot-looping.
				w.log.Error().Err(err).Msg("retry cycle failed")
			}
		}
	}
}

// ProcessOnce leases one batch and replays it. It returns the number of
// records that executed successfully.
func (w *Worker) ProcessOnce(ctx context.Context) (int, error) {
	leased, err := w.ledger.LeaseRetryable(ctx, w.cfg.BatchSize, w.cfg.MaxAttempts, w.cfg.MinAge)
	if err != nil {
		return 0, err
	}

	executed := 0
	for _, rec := range leased {
		ref, execErr := w.sink.Execute(ctx, rec.Kind, rec.RenderedParams)
		entry := &model.AuditEntry{DeliveryID: rec.DeliveryID, RuleID: rec.RuleID}
		if execErr != nil {
			if err := w.ledger.MarkFailed(ctx, rec.DeliveryID, execErr.Error()); err != nil {
				w.log.Error().Err(err).Str("delivery_id", rec.DeliveryID).Msg("mark failed did not persist")
			}
			entry.Outcome = model.OutcomeFailed
			entry.Detail = execErr.Error()
			w.appendAudit(ctx, entry)
			w.log.Warn().Err(execErr).Str("delivery_id", rec.DeliveryID).Int("attempts", rec.Attempts+1).Msg("retry attempt failed")
			continue
		}
		if err := w.ledger.MarkExecuted(ctx, rec.DeliveryID, ref); err != nil {
			w.log.Error().Err(err).Str("delivery_id", rec.DeliveryID).Msg("mark executed did not persist")
		}
		entry.Outcome = model.OutcomeExecuted
		w.appendAudit(ctx, entry)
		w.log.Info().Str("delivery_id", rec.DeliveryID).Str("sink_ref", ref).Msg("retry succeeded")
		executed++
	}
	return executed, nil
}

func (w *Worker) appendAudit(ctx context.Context, entry *model.AuditEntry) {
	if err := w.audit.Append(ctx, entry); err != nil {
		w.log.Error().Err(err).Str("delivery_id", entry.DeliveryID).Msg("audit append failed")
	}
}
