// Package postgres implements the action ledger and audit log on PostgreSQL
// via the pgx stdlib driver, for deployments that share a database across
// replicas.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pkg/errors"

	"github.com/flowhook/reactor/internal/ledger"
	"github.com/flowhook/reactor/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS action_ledger (
    id            TEXT PRIMARY KEY,
    delivery_id   TEXT NOT NULL UNIQUE,
    rule_id       TEXT NOT NULL,
    kind          TEXT NOT NULL,
    params        JSONB NOT NULL,
    status        TEXT NOT NULL DEFAULT 'pending',
    attempts      INTEGER NOT NULL DEFAULT 0,
    sink_ref      TEXT NOT NULL DEFAULT '',
    failure_cause TEXT NOT NULL DEFAULT '',
    created_at    TIMESTAMPTZ NOT NULL,
    updated_at    TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_ledger_status ON action_ledger(status, updated_at);

CREATE TABLE IF NOT EXISTS audit_log (
    id             TEXT PRIMARY KEY,
    delivery_id    TEXT NOT NULL,
    rule_id        TEXT NOT NULL DEFAULT '',
    outcome        TEXT NOT NULL,
    resolved_start TIMESTAMPTZ,
    resolved_end   TIMESTAMPTZ,
    confidence     DOUBLE PRECISION,
    detail         TEXT NOT NULL DEFAULT '',
    created_at     TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_created ON audit_log(created_at);
`

// Open connects with the given DSN and applies the schema.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "postgres: open")
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "postgres: ping")
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "postgres: apply schema")
	}
	return &Store{db: db}, nil
}

// Store implements ledger.Ledger and audit.Log on one database handle.
type Store struct {
	db *sql.DB
}

var _ ledger.Ledger = (*Store)(nil)

func (s *Store) Reserve(ctx context.Context, rec *model.ActionRecord, maxAttempts int) (ledger.ReserveResult, error) {
	now := time.Now().UTC()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec.Status = model.ActionPending
	rec.CreatedAt = now
	rec.UpdatedAt = now

	params, err := json.Marshal(rec.RenderedParams)
	if err != nil {
		return ledger.ReserveDuplicate, errors.Wrap(err, "postgres: marshal params")
	}

	res, err := s.db.ExecContext(ctx, `
        INSERT INTO action_ledger (id, delivery_id, rule_id, kind, params, status, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, 'pending', $6, $7)
        ON CONFLICT (delivery_id) DO NOTHING`,
		rec.ID, rec.DeliveryID, rec.RuleID, string(rec.Kind), params, now, now)
	if err != nil {
		return ledger.ReserveDuplicate, errors.Wrap(err, "postgres: reserve insert")
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return ledger.ReserveNew, nil
	}

	// Refresh the payload on the flip so a later worker replay executes
	// exactly what this attempt executed.
	res, err = s.db.ExecContext(ctx, `
        UPDATE action_ledger
        SET status = 'pending', rule_id = $1, kind = $2, params = $3, updated_at = $4
        WHERE delivery_id = $5 AND status = 'failed' AND attempts < $6`,
		rec.RuleID, string(rec.Kind), params, now, rec.DeliveryID, maxAttempts)
	if err != nil {
		return ledger.ReserveDuplicate, errors.Wrap(err, "postgres: reserve retry flip")
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return ledger.ReserveRetry, nil
	}
	return ledger.ReserveDuplicate, nil
}

func (s *Store) MarkExecuted(ctx context.Context, deliveryID, sinkRef string) error {
	res, err := s.db.ExecContext(ctx, `
        UPDATE action_ledger
        SET status = 'executed', sink_ref = $1, failure_cause = '', attempts = attempts + 1, updated_at = $2
        WHERE delivery_id = $3`,
		sinkRef, time.Now().UTC(), deliveryID)
	if err != nil {
		return errors.Wrap(err, "postgres: mark executed")
	}
	return affectedOrNotFound(res)
}

func (s *Store) MarkFailed(ctx context.Context, deliveryID, cause string) error {
	res, err := s.db.ExecContext(ctx, `
        UPDATE action_ledger
        SET status = 'failed', failure_cause = $1, attempts = attempts + 1, updated_at = $2
        WHERE delivery_id = $3`,
		cause, time.Now().UTC(), deliveryID)
	if err != nil {
		return errors.Wrap(err, "postgres: mark failed")
	}
	return affectedOrNotFound(res)
}

func (s *Store) Get(ctx context.Context, deliveryID string) (*model.ActionRecord, error) {
	row := s.db.QueryRowContext(ctx, `
        SELECT id, delivery_id, rule_id, kind, params, status, attempts, sink_ref, failure_cause, created_at, updated_at
        FROM action_ledger WHERE delivery_id = $1`, deliveryID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	return rec, err
}

// LeaseRetryable flips candidates in one statement; FOR UPDATE SKIP LOCKED
// keeps concurrent workers from leasing the same rows.
func (s *Store) LeaseRetryable(ctx context.Context, limit, maxAttempts int, minAge time.Duration) ([]model.ActionRecord, error) {
	cutoff := time.Now().UTC().Add(-minAge)
	rows, err := s.db.QueryContext(ctx, `
        UPDATE action_ledger SET status = 'pending', updated_at = now()
        WHERE id IN (
            SELECT id FROM action_ledger
            WHERE status = 'failed' AND attempts < $1 AND updated_at <= $2
            ORDER BY updated_at ASC LIMIT $3
            FOR UPDATE SKIP LOCKED
        )
        RETURNING id, delivery_id, rule_id, kind, params, status, attempts, sink_ref, failure_cause, created_at, updated_at`,
		maxAttempts, cutoff, limit)
	if err != nil {
		return nil, errors.Wrap(err, "postgres: lease")
	}
	defer rows.Close()

	var out []model.ActionRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, errors.Wrap(err, "postgres: lease scan")
		}
		out = append(out, *rec)
	}
	return out, errors.Wrap(rows.Err(), "postgres: lease rows")
}

func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM action_ledger`).Scan(&n)
	return n, errors.Wrap(err, "postgres: count")
}

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) Close() error { return s.db.Close() }

// Append implements audit.Log.
func (s *Store) Append(ctx context.Context, entry *model.AuditEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO audit_log (id, delivery_id, rule_id, outcome, resolved_start, resolved_end, confidence, detail, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		entry.ID, entry.DeliveryID, entry.RuleID, string(entry.Outcome),
		entry.ResolvedStart, entry.ResolvedEnd, entry.Confidence, entry.Detail, entry.CreatedAt)
	return errors.Wrap(err, "postgres: audit append")
}

// Recent implements audit.Log.
func (s *Store) Recent(ctx context.Context, limit int) ([]model.AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, delivery_id, rule_id, outcome, resolved_start, resolved_end, confidence, detail, created_at
        FROM audit_log ORDER BY created_at DESC, id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "postgres: audit query")
	}
	defer rows.Close()

	var out []model.AuditEntry
	for rows.Next() {
		var e model.AuditEntry
		var outcome string
		if err := rows.Scan(&e.ID, &e.DeliveryID, &e.RuleID, &outcome,
			&e.ResolvedStart, &e.ResolvedEnd, &e.Confidence, &e.Detail, &e.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "postgres: audit scan")
		}
		e.Outcome = model.Outcome(outcome)
		out = append(out, e)
	}
	return out, errors.Wrap(rows.Err(), "postgres: audit rows")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*model.ActionRecord, error) {
	var rec model.ActionRecord
	var kind, status string
	var params []byte
	if err := row.Scan(&rec.ID, &rec.DeliveryID, &rec.RuleID, &kind, &params,
		&status, &rec.Attempts, &rec.SinkRef, &rec.FailureCause, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	rec.Kind = model.ActionKind(kind)
	rec.Status = model.ActionStatus(status)
	if err := json.Unmarshal(params, &rec.RenderedParams); err != nil {
		return nil, errors.Wrap(err, "postgres: decode params")
	}
	return &rec, nil
}

func affectedOrNotFound(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return model.ErrNotFound
	}
	return nil
}
