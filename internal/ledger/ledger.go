// Package ledger defines the exactly-once action ledger. A delivery is
// reserved with a single conditional insert keyed on its delivery id before
// any external side effect runs; the reservation outcome tells the engine
// whether it owns the delivery, is retrying a failed one, or must drop a
// duplicate.
package ledger

import (
	"context"
	"time"

	"github.com/flowhook/reactor/internal/model"
)

// ReserveResult classifies what a Reserve call did.
type ReserveResult int

const (
	// ReserveNew means the delivery was unseen and a pending record was
	// created; the caller owns execution.
	ReserveNew ReserveResult = iota
	// ReserveRetry means a failed record under the attempt cap was flipped
	// back to pending; the caller owns exactly this one re-execution.
	ReserveRetry
	// ReserveDuplicate means the delivery is already reserved (pending,
	// executed, or failed past the cap); the caller must not execute.
	ReserveDuplicate
)

func (r ReserveResult) String() string {
	switch r {
	case ReserveNew:
		return "new"
	case ReserveRetry:
		return "retry"
	case ReserveDuplicate:
		return "duplicate"
	}
	return "unknown"
}

// Ledger is the persistence contract for action records. Implementations
// must make Reserve atomic: concurrent calls for the same delivery id see
// exactly one ReserveNew (or ReserveRetry).
type Ledger interface {
	// Reserve claims the delivery. maxAttempts caps the failed->pending
	// flip: a record that already burned that many attempts stays failed
	// and reports ReserveDuplicate.
	Reserve(ctx context.Context, rec *model.ActionRecord, maxAttempts int) (ReserveResult, error)

	// MarkExecuted finalizes a reserved record with the sink reference.
	MarkExecuted(ctx context.Context, deliveryID, sinkRef string) error

	// MarkFailed records a failed attempt and its cause.
	MarkFailed(ctx context.Context, deliveryID, cause string) error

	// Get returns the record for a delivery id, or model.ErrNotFound.
	Get(ctx context.Context, deliveryID string) (*model.ActionRecord, error)

	// LeaseRetryable atomically flips up to limit failed records (under the
	// attempt cap, untouched for at least minAge) back to pending and
	// returns them. A leased record belongs to the caller until it marks
	// the record executed or failed again.
	LeaseRetryable(ctx context.Context, limit, maxAttempts int, minAge time.Duration) ([]model.ActionRecord, error)

	// Count reports the total number of reservations ever made. The engine
	// seeds its task counter from it.
	Count(ctx context.Context) (int64, error)

	// Ping verifies the backing store is reachable.
	Ping(ctx context.Context) error

	Close() error
}
