package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowhook/reactor/internal/ledger"
	"github.com/flowhook/reactor/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleRecord(deliveryID string) *model.ActionRecord {
	return &model.ActionRecord{
		DeliveryID:     deliveryID,
		RuleID:         "task-check",
		Kind:           model.ActionCreateTask,
		RenderedParams: map[string]string{"title": "comprar el material"},
	}
}

func TestReserve_NewThenDuplicate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	res, err := s.Reserve(ctx, sampleRecord("d-1"), 2)
	require.NoError(t, err)
	assert.Equal(t, ledger.ReserveNew, res)

	res, err = s.Reserve(ctx, sampleRecord("d-1"), 2)
	require.NoError(t, err)
	assert.Equal(t, ledger.ReserveDuplicate, res, "pending record must not be re-reserved")
}

func TestReserve_FailedFlipsToRetryOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Reserve(ctx, sampleRecord("d-2"), 2)
	require.NoError(t, err)
	require.NoError(t, s.MarkFailed(ctx, "d-2", "sink timeout"))

	res, err := s.Reserve(ctx, sampleRecord("d-2"), 2)
	require.NoError(t, err)
	assert.Equal(t, ledger.ReserveRetry, res)

	require.NoError(t, s.MarkFailed(ctx, "d-2", "sink timeout again"))

	// Two attempts burned; the cap of 2 blocks further retries.
	res, err = s.Reserve(ctx, sampleRecord("d-2"), 2)
	require.NoError(t, err)
	assert.Equal(t, ledger.ReserveDuplicate, res)
}

func TestReserve_RetryFlipRefreshesPayload(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Reserve(ctx, sampleRecord("d-r"), 2)
	require.NoError(t, err)
	require.NoError(t, s.MarkFailed(ctx, "d-r", "sink timeout"))

	// The redelivery renders fresh params (new task number); the stored row
	// must match what this attempt will execute.
	fresh := &model.ActionRecord{
		DeliveryID:     "d-r",
		RuleID:         "task-check",
		Kind:           model.ActionCreateTask,
		RenderedParams: map[string]string{"title": "#2: comprar el material"},
	}
	res, err := s.Reserve(ctx, fresh, 2)
	require.NoError(t, err)
	require.Equal(t, ledger.ReserveRetry, res)

	rec, err := s.Get(ctx, "d-r")
	require.NoError(t, err)
	assert.Equal(t, "#2: comprar el material", rec.RenderedParams["title"])
	assert.Equal(t, model.ActionPending, rec.Status)
}

func TestMarkExecuted_FinalizesRecord(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Reserve(ctx, sampleRecord("d-3"), 2)
	require.NoError(t, err)
	require.NoError(t, s.MarkExecuted(ctx, "d-3", "task-9001"))

	rec, err := s.Get(ctx, "d-3")
	require.NoError(t, err)
	assert.Equal(t, model.ActionExecuted, rec.Status)
	assert.Equal(t, "task-9001", rec.SinkRef)
	assert.Equal(t, 1, rec.Attempts)
	assert.Equal(t, "comprar el material", rec.RenderedParams["title"])

	// Executed records are terminal.
	res, err := s.Reserve(ctx, sampleRecord("d-3"), 2)
	require.NoError(t, err)
	assert.Equal(t, ledger.ReserveDuplicate, res)
}

func TestMark_UnknownDelivery(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	assert.ErrorIs(t, s.MarkExecuted(ctx, "ghost", "x"), model.ErrNotFound)
	assert.ErrorIs(t, s.MarkFailed(ctx, "ghost", "x"), model.ErrNotFound)
	_, err := s.Get(ctx, "ghost")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestLeaseRetryable(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"l-1", "l-2", "l-3"} {
		_, err := s.Reserve(ctx, sampleRecord(id), 3)
		require.NoError(t, err)
	}
	require.NoError(t, s.MarkFailed(ctx, "l-1", "timeout"))
	require.NoError(t, s.MarkFailed(ctx, "l-2", "timeout"))
	require.NoError(t, s.MarkExecuted(ctx, "l-3", "ok"))

	leased, err := s.LeaseRetryable(ctx, 10, 3, 0)
	require.NoError(t, err)
	require.Len(t, leased, 2, "only failed records lease")
	for _, rec := range leased {
		assert.Equal(t, model.ActionPending, rec.Status)
	}

	// A lease is exclusive: the rows are pending now, nothing left.
	leased, err = s.LeaseRetryable(ctx, 10, 3, 0)
	require.NoError(t, err)
	assert.Empty(t, leased)
}

func TestLeaseRetryable_RespectsMinAge(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Reserve(ctx, sampleRecord("l-4"), 3)
	require.NoError(t, err)
	require.NoError(t, s.MarkFailed(ctx, "l-4", "timeout"))

	leased, err := s.LeaseRetryable(ctx, 10, 3, time.Hour)
	require.NoError(t, err)
	assert.Empty(t, leased, "freshly failed record must wait out the backoff")
}

func TestCount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = s.Reserve(ctx, sampleRecord("c-1"), 2)
	require.NoError(t, err)
	_, err = s.Reserve(ctx, sampleRecord("c-2"), 2)
	require.NoError(t, err)

	n, err = s.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}

func TestAudit_AppendAndRecent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conf := 0.72
	start := time.Date(2026, 3, 10, 18, 30, 0, 0, time.UTC)
	base := time.Now().UTC()
	entries := []*model.AuditEntry{
		{DeliveryID: "a-1", RuleID: "task-check", Outcome: model.OutcomeExecuted, CreatedAt: base},
		{DeliveryID: "a-2", Outcome: model.OutcomeNoRule, CreatedAt: base.Add(time.Millisecond)},
		{DeliveryID: "a-3", RuleID: "calendar-clock", Outcome: model.OutcomeExecuted, ResolvedStart: &start, Confidence: &conf, CreatedAt: base.Add(2 * time.Millisecond)},
	}
	for _, e := range entries {
		require.NoError(t, s.Append(ctx, e))
	}

	got, err := s.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a-3", got[0].DeliveryID, "newest first")
	require.NotNil(t, got[0].Confidence)
	assert.InDelta(t, 0.72, *got[0].Confidence, 1e-9)
	require.NotNil(t, got[0].ResolvedStart)
	assert.True(t, got[0].ResolvedStart.Equal(start))
}
