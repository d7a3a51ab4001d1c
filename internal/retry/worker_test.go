package retry

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowhook/reactor/internal/ledger/sqlite"
	"github.com/flowhook/reactor/internal/model"
)

type scriptedSink struct {
	calls atomic.Int32
	fail  atomic.Bool
}

func (s *scriptedSink) Execute(_ context.Context, _ model.ActionKind, _ map[string]string) (string, error) {
	s.calls.Add(1)
	if s.fail.Load() {
		return "", model.ErrSinkUnavailable
	}
	return "replayed-1", nil
}

func seedFailed(t *testing.T, store *sqlite.Store, deliveryID string) {
	t.Helper()
	ctx := context.Background()
	_, err := store.Reserve(ctx, &model.ActionRecord{
		DeliveryID:     deliveryID,
		RuleID:         "task-check",
		Kind:           model.ActionCreateTask,
		RenderedParams: map[string]string{"title": "replay me"},
	}, 3)
	require.NoError(t, err)
	require.NoError(t, store.MarkFailed(ctx, deliveryID, "sink timeout"))
}

func TestProcessOnce_ReplaysFailedRecord(t *testing.T) {
	store, err := sqlite.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	seedFailed(t, store, "r-1")

	snk := &scriptedSink{}
	w := NewWorker(store, snk, store, Config{MaxAttempts: 3, MinAge: -1}, zerolog.Nop())

	n, err := w.ProcessOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.EqualValues(t, 1, snk.calls.Load())

	rec, err := store.Get(context.Background(), "r-1")
	require.NoError(t, err)
	assert.Equal(t, model.ActionExecuted, rec.Status)
	assert.Equal(t, "replayed-1", rec.SinkRef)
}

func TestProcessOnce_FailureBurnsAttempt(t *testing.T) {
	store, err := sqlite.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	seedFailed(t, store, "r-2")

	snk := &scriptedSink{}
	snk.fail.Store(true)
	w := NewWorker(store, snk, store, Config{MaxAttempts: 2, MinAge: -1}, zerolog.Nop())

	ctx := context.Background()
	n, err := w.ProcessOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	rec, err := store.Get(ctx, "r-2")
	require.NoError(t, err)
	assert.Equal(t, model.ActionFailed, rec.Status)
	assert.Equal(t, 2, rec.Attempts)

	// Attempt cap reached: the next cycle leases nothing.
	n, err = w.ProcessOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.EqualValues(t, 1, snk.calls.Load())
}

func TestProcessOnce_NothingToDo(t *testing.T) {
	store, err := sqlite.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	snk := &scriptedSink{}
	w := NewWorker(store, snk, store, Config{MinAge: -1}, zerolog.Nop())
	n, err := w.ProcessOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, snk.calls.Load())
}
