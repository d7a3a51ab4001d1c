// Package sqlite implements the action ledger and audit log on an embedded
// SQLite database. It is the default backend for single-node deployments.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"github.com/flowhook/reactor/internal/ledger"
	"github.com/flowhook/reactor/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS action_ledger (
    id            TEXT PRIMARY KEY,
    delivery_id   TEXT NOT NULL UNIQUE,
    rule_id       TEXT NOT NULL,
    kind          TEXT NOT NULL,
    params        TEXT NOT NULL,
    status        TEXT NOT NULL DEFAULT 'pending',
    attempts      INTEGER NOT NULL DEFAULT 0,
    sink_ref      TEXT NOT NULL DEFAULT '',
    failure_cause TEXT NOT NULL DEFAULT '',
    created_at    TIMESTAMP NOT NULL,
    updated_at    TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_ledger_status ON action_ledger(status, updated_at);

CREATE TABLE IF NOT EXISTS audit_log (
    id             TEXT PRIMARY KEY,
    delivery_id    TEXT NOT NULL,
    rule_id        TEXT NOT NULL DEFAULT '',
    outcome        TEXT NOT NULL,
    resolved_start TIMESTAMP,
    resolved_end   TIMESTAMP,
    confidence     REAL,
    detail         TEXT NOT NULL DEFAULT '',
    created_at     TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_created ON audit_log(created_at);
`

// Open opens (or creates) the database at path with WAL enabled and the
// schema applied.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", path)
	return open(dsn)
}

// OpenMemory opens a private in-process database, used by tests. Each call
// gets its own database.
func OpenMemory() (*Store, error) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_pragma=foreign_keys(ON)", uuid.NewString())
	return open(dsn)
}

func open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite: open")
	}
	// modernc.org/sqlite serializes writes itself; a single connection
	// avoids SQLITE_BUSY under concurrent writers.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "sqlite: ping")
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "sqlite: apply schema")
	}
	return &Store{db: db}, nil
}

// Store implements ledger.Ledger and audit.Log on one database handle.
type Store struct {
	db *sql.DB
}

var _ ledger.Ledger = (*Store)(nil)

// Reserve claims the delivery with a conflict-free insert; on conflict it
// tries the failed->pending flip before declaring a duplicate.
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
		return ledger.ReserveDuplicate, errors.Wrap(err, "sqlite: marshal params")
	}

	res, err := s.db.ExecContext(ctx, `
        INSERT INTO action_ledger (id, delivery_id, rule_id, kind, params, status, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, 'pending', ?, ?)
        ON CONFLICT(delivery_id) DO NOTHING`,
		rec.ID, rec.DeliveryID, rec.RuleID, string(rec.Kind), string(params), now, now)
	if err != nil {
		return ledger.ReserveDuplicate, errors.Wrap(err, "sqlite: reserve insert")
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return ledger.ReserveNew, nil
	}

	// Refresh the payload on the flip so a later worker replay executes
	// exactly what this attempt executed.
	res, err = s.db.ExecContext(ctx, `
        UPDATE action_ledger
        SET status = 'pending', rule_id = ?, kind = ?, params = ?, updated_at = ?
        WHERE delivery_id = ? AND status = 'failed' AND attempts < ?`,
		rec.RuleID, string(rec.Kind), string(params), now, rec.DeliveryID, maxAttempts)
	if err != nil {
		return ledger.ReserveDuplicate, errors.Wrap(err, "sqlite: reserve retry flip")
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return ledger.ReserveRetry, nil
	}
	return ledger.ReserveDuplicate, nil
}

func (s *Store) MarkExecuted(ctx context.Context, deliveryID, sinkRef string) error {
	res, err := s.db.ExecContext(ctx, `
        UPDATE action_ledger
        SET status = 'executed', sink_ref = ?, failure_cause = '', attempts = attempts + 1, updated_at = ?
        WHERE delivery_id = ?`,
		sinkRef, time.Now().UTC(), deliveryID)
	if err != nil {
		return errors.Wrap(err, "sqlite: mark executed")
	}
	return affectedOrNotFound(res)
}

func (s *Store) MarkFailed(ctx context.Context, deliveryID, cause string) error {
	res, err := s.db.ExecContext(ctx, `
        UPDATE action_ledger
        SET status = 'failed', failure_cause = ?, attempts = attempts + 1, updated_at = ?
        WHERE delivery_id = ?`,
		cause, time.Now().UTC(), deliveryID)
	if err != nil {
		return errors.Wrap(err, "sqlite: mark failed")
	}
	return affectedOrNotFound(res)
}

func (s *Store) Get(ctx context.Context, deliveryID string) (*model.ActionRecord, error) {
	row := s.db.QueryRowContext(ctx, `
        SELECT id, delivery_id, rule_id, kind, params, status, attempts, sink_ref, failure_cause, created_at, updated_at
        FROM action_ledger WHERE delivery_id = ?`, deliveryID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	return rec, err
}

// LeaseRetryable flips each candidate back to pending one row at a time so a
// concurrent Reserve on the same delivery cannot double-lease it.
func (s *Store) LeaseRetryable(ctx context.Context, limit, maxAttempts int, minAge time.Duration) ([]model.ActionRecord, error) {
	cutoff := time.Now().UTC().Add(-minAge)
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, delivery_id, rule_id, kind, params, status, attempts, sink_ref, failure_cause, created_at, updated_at
        FROM action_ledger
        WHERE status = 'failed' AND attempts < ? AND updated_at <= ?
        ORDER BY updated_at ASC LIMIT ?`,
		maxAttempts, cutoff, limit)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite: lease query")
	}
	candidates, err := collectRecords(rows)
	if err != nil {
		return nil, err
	}

	leased := make([]model.ActionRecord, 0, len(candidates))
	now := time.Now().UTC()
	for _, rec := range candidates {
		res, err := s.db.ExecContext(ctx,
			`UPDATE action_ledger SET status = 'pending', updated_at = ? WHERE id = ? AND status = 'failed'`,
			now, rec.ID)
		if err != nil {
			return leased, errors.Wrap(err, "sqlite: lease flip")
		}
		if n, _ := res.RowsAffected(); n == 1 {
			rec.Status = model.ActionPending
			rec.UpdatedAt = now
			leased = append(leased, rec)
		}
	}
	return leased, nil
}

func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM action_ledger`).Scan(&n)
	return n, errors.Wrap(err, "sqlite: count")
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
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.DeliveryID, entry.RuleID, string(entry.Outcome),
		entry.ResolvedStart, entry.ResolvedEnd, entry.Confidence, entry.Detail, entry.CreatedAt)
	return errors.Wrap(err, "sqlite: audit append")
}

// Recent implements audit.Log.
func (s *Store) Recent(ctx context.Context, limit int) ([]model.AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, delivery_id, rule_id, outcome, resolved_start, resolved_end, confidence, detail, created_at
        FROM audit_log ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite: audit query")
	}
	defer rows.Close()

	var out []model.AuditEntry
	for rows.Next() {
		var e model.AuditEntry
		var outcome string
		if err := rows.Scan(&e.ID, &e.DeliveryID, &e.RuleID, &outcome,
			&e.ResolvedStart, &e.ResolvedEnd, &e.Confidence, &e.Detail, &e.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "sqlite: audit scan")
		}
		e.Outcome = model.Outcome(outcome)
		out = append(out, e)
	}
	return out, errors.Wrap(rows.Err(), "sqlite: audit rows")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*model.ActionRecord, error) {
	var rec model.ActionRecord
	var kind, status, params string
	if err := row.Scan(&rec.ID, &rec.DeliveryID, &rec.RuleID, &kind, &params,
		&status, &rec.Attempts, &rec.SinkRef, &rec.FailureCause, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	rec.Kind = model.ActionKind(kind)
	rec.Status = model.ActionStatus(status)
	if err := json.Unmarshal([]byte(params), &rec.RenderedParams); err != nil {
		return nil, errors.Wrap(err, "sqlite: decode params")
	}
	return &rec, nil
}

func collectRecords(rows *sql.Rows) ([]model.ActionRecord, error) {
	defer rows.Close()
	var out []model.ActionRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, errors.Wrap(err, "sqlite: scan record")
		}
		out = append(out, *rec)
	}
	return out, errors.Wrap(rows.Err(), "sqlite: rows")
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
