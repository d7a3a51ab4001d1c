// Package engine wires the processing pipeline: normalize identities, match
// a rule, extract a temporal expression when the rule needs one, render the
// template, reserve the delivery in the ledger, call the sink, and record
// the outcome in the audit log.
package engine

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/flowhook/reactor/internal/audit"
	"github.com/flowhook/reactor/internal/identity"
	"github.com/flowhook/reactor/internal/ledger"
	"github.com/flowhook/reactor/internal/model"
	"github.com/flowhook/reactor/internal/rules"
	"github.com/flowhook/reactor/internal/sink"
	"github.com/flowhook/reactor/internal/template"
	"github.com/flowhook/reactor/internal/temporal"
)

// Result summarizes one processing attempt for the transport layer.
type Result struct {
	Outcome    model.Outcome
	DeliveryID string
	RuleID     string
	SinkRef    string
	Detail     string
}

// Engine processes reaction events. Safe for concurrent use: per-event steps
// are stateless, the ledger arbitrates ownership of each delivery, and the
// task counter is atomic.
type Engine struct {
	normalizer  *identity.Normalizer
	rules       *rules.Store
	extractor   *temporal.Extractor
	ledger      ledger.Ledger
	audit       audit.Log
	sink        sink.Sink
	maxAttempts int
	taskCounter atomic.Int64
	log         zerolog.Logger
}

// Options carries the engine's collaborators.
type Options struct {
	Normalizer  *identity.Normalizer
	Rules       *rules.Store
	Extractor   *temporal.Extractor
	Ledger      ledger.Ledger
	Audit       audit.Log
	Sink        sink.Sink
	MaxAttempts int
	Logger      zerolog.Logger
}

// New builds an Engine and seeds the task counter from the ledger so task
// numbers keep climbing across restarts.
func New(ctx context.Context, opts Options) (*Engine, error) {
	if opts.Ledger == nil || opts.Audit == nil || opts.Sink == nil || opts.Rules == nil {
		return nil, errors.New("engine: ledger, audit, sink and rules are required")
	}
	if opts.Normalizer == nil {
		opts.Normalizer = identity.New(identity.DefaultTables())
	}
	if opts.Extractor == nil {
		opts.Extractor = temporal.NewExtractor(temporal.NewSpanishRecognizer(), nil)
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 2
	}
	e := &Engine{
		normalizer:  opts.Normalizer,
		rules:       opts.Rules,
		extractor:   opts.Extractor,
		ledger:      opts.Ledger,
		audit:       opts.Audit,
		sink:        opts.Sink,
		maxAttempts: opts.MaxAttempts,
		log:         opts.Logger,
	}
	n, err := opts.Ledger.Count(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "engine: seed task counter")
	}
	e.taskCounter.Store(n)
	return e, nil
}

// Process runs one event through the pipeline. The error return is non-nil
// only for sink failures, so the webhook layer can request redelivery;
// every other outcome is reported in the Result alone.
func (e *Engine) Process(ctx context.Context, ev model.ReactionEvent) (Result, error) {
	ev.ChatJID = e.normalizer.Normalize(ev.ChatJID.String())
	ev.ReactorJID = e.normalizer.Normalize(ev.ReactorJID.String())
	if ev.DeliveryID == "" {
		ev.DeliveryID = fallbackDeliveryID(ev)
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	if detail, ok := validate(ev); !ok {
		e.appendAudit(ctx, &model.AuditEntry{
			DeliveryID: ev.DeliveryID,
			Outcome:    model.OutcomeMalformed,
			Detail:     detail,
		})
		e.log.Warn().Str("delivery_id", ev.DeliveryID).Str("reason", detail).Msg("dropping malformed event")
		return Result{Outcome: model.OutcomeMalformed, DeliveryID: ev.DeliveryID, Detail: detail}, nil
	}

	rule, matched := rules.Match(e.rules.Snapshot(), ev)
	if !matched {
		e.appendAudit(ctx, &model.AuditEntry{
			DeliveryID: ev.DeliveryID,
			Outcome:    model.OutcomeNoRule,
		})
		return Result{Outcome: model.OutcomeNoRule, DeliveryID: ev.DeliveryID}, nil
	}

	var expr *model.TemporalExpression
	if rule.Kind.NeedsTemporal() {
		if got, ok := e.extractor.Extract(ev.Content, ev.Timestamp); ok {
			expr = &got
		}
	}

	taskNo := e.taskCounter.Add(1)
	params := e.buildParams(ev, rule, expr, taskNo)

	rec := &model.ActionRecord{
		DeliveryID:     ev.DeliveryID,
		RuleID:         rule.ID,
		Kind:           rule.Kind,
		RenderedParams: params,
	}
	res, err := e.ledger.Reserve(ctx, rec, e.maxAttempts)
	if err != nil {
		return Result{Outcome: model.OutcomeFailed, DeliveryID: ev.DeliveryID, RuleID: rule.ID},
			errors.Wrap(err, "engine: reserve")
	}
	if res == ledger.ReserveDuplicate {
		e.appendAudit(ctx, &model.AuditEntry{
			DeliveryID: ev.DeliveryID,
			RuleID:     rule.ID,
			Outcome:    model.OutcomeDuplicate,
		})
		return Result{Outcome: model.OutcomeDuplicate, DeliveryID: ev.DeliveryID, RuleID: rule.ID}, nil
	}

	ref, execErr := e.sink.Execute(ctx, rule.Kind, params)
	entry := &model.AuditEntry{DeliveryID: ev.DeliveryID, RuleID: rule.ID}
	if expr != nil {
		start := expr.ResolvedStart
		entry.ResolvedStart = &start
		entry.ResolvedEnd = expr.ResolvedEnd
		conf := expr.Confidence
		entry.Confidence = &conf
	}

	if execErr != nil {
		cause := execErr.Error()
		if err := e.ledger.MarkFailed(ctx, ev.DeliveryID, cause); err != nil {
			e.log.Error().Err(err).Str("delivery_id", ev.DeliveryID).Msg("mark failed did not persist")
		}
		entry.Outcome = model.OutcomeFailed
		entry.Detail = cause
		e.appendAudit(ctx, entry)
		e.log.Warn().Err(execErr).Str("delivery_id", ev.DeliveryID).Str("rule_id", rule.ID).Msg("sink execution failed")
		return Result{Outcome: model.OutcomeFailed, DeliveryID: ev.DeliveryID, RuleID: rule.ID, Detail: cause}, execErr
	}

	if err := e.ledger.MarkExecuted(ctx, ev.DeliveryID, ref); err != nil {
		e.log.Error().Err(err).Str("delivery_id", ev.DeliveryID).Msg("mark executed did not persist")
	}
	entry.Outcome = model.OutcomeExecuted
	e.appendAudit(ctx, entry)
	e.log.Info().
		Str("delivery_id", ev.DeliveryID).
		Str("rule_id", rule.ID).
		Str("kind", string(rule.Kind)).
		Str("sink_ref", ref).
		Msg("action executed")
	return Result{Outcome: model.OutcomeExecuted, DeliveryID: ev.DeliveryID, RuleID: rule.ID, SinkRef: ref}, nil
}

func (e *Engine) buildParams(ev model.ReactionEvent, rule model.Rule, expr *model.TemporalExpression, taskNo int64) map[string]string {
	rendered := template.Render(rule.Template, template.Vars{Event: ev, TaskNumber: taskNo})
	params := map[string]string{
		sink.ParamTitle:     rendered,
		sink.ParamContent:   ev.Content,
		sink.ParamChatJID:   ev.ChatJID.String(),
		sink.ParamSenderJID: ev.ReactorJID.String(),
		sink.ParamEmoji:     ev.Emoji,
		sink.ParamMessageID: ev.MessageID,
	}
	if expr != nil {
		params[sink.ParamStartAt] = expr.ResolvedStart.Format(time.RFC3339)
		if expr.ResolvedEnd != nil {
			params[sink.ParamEndAt] = expr.ResolvedEnd.Format(time.RFC3339)
		}
		params[sink.ParamConfidence] = strconv.FormatFloat(expr.Confidence, 'f', 2, 64)
	}
	return params
}

func (e *Engine) appendAudit(ctx context.Context, entry *model.AuditEntry) {
	// Audit writes never veto processing; a lost entry is logged instead.
	if err := e.audit.Append(ctx, entry); err != nil {
		e.log.Error().Err(err).Str("delivery_id", entry.DeliveryID).Msg("audit append failed")
	}
}

func validate(ev model.ReactionEvent) (string, bool) {
	switch {
	case ev.MessageID == "":
		return "missing message id", false
	case ev.Emoji == "":
		return "missing emoji", false
	case ev.ChatJID.Empty():
		return "unnormalizable chat identity", false
	case ev.ReactorJID.Empty():
		return "unnormalizable reactor identity", false
	}
	return "", true
}

func fallbackDeliveryID(ev model.ReactionEvent) string {
	return fmt.Sprintf("reaction|%s|%s|%s", ev.MessageID, ev.Emoji, ev.ReactorJID)
}
