package sink

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowhook/reactor/internal/model"
)

func testClient(url string) *Client {
	return NewClient(url, 100, 2*time.Second, zerolog.Nop())
}

func TestExecute_Success(t *testing.T) {
	var gotPath string
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "task-42"})
	}))
	defer srv.Close()

	ref, err := testClient(srv.URL).Execute(context.Background(), model.ActionCreateTask,
		map[string]string{ParamTitle: "comprar el material"})
	require.NoError(t, err)
	assert.Equal(t, "task-42", ref)
	assert.Equal(t, "/tasks", gotPath)
	assert.Equal(t, "comprar el material", gotBody[ParamTitle])
}

func TestExecute_KindRouting(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "x"})
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	for _, kind := range []model.ActionKind{model.ActionCreateCalendarEvent, model.ActionCreateNote} {
		_, err := c.Execute(context.Background(), kind, nil)
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"/events", "/notes"}, paths)
}

func TestExecute_RetriesOnceOnServerError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "task-7"})
	}))
	defer srv.Close()

	ref, err := testClient(srv.URL).Execute(context.Background(), model.ActionCreateTask, nil)
	require.NoError(t, err)
	assert.Equal(t, "task-7", ref)
	assert.EqualValues(t, 2, calls.Load())
}

func TestExecute_ExhaustedRetryIsTransient(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Execute(context.Background(), model.ActionCreateTask, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrSinkUnavailable))
	assert.EqualValues(t, 2, calls.Load(), "exactly one in-band retry")
}

func TestExecute_ClientErrorIsPermanent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Execute(context.Background(), model.ActionCreateTask, nil)
	require.Error(t, err)
	assert.False(t, errors.Is(err, model.ErrSinkUnavailable), "4xx must not look retryable")
	assert.EqualValues(t, 1, calls.Load(), "no retry on permanent failure")
}

func TestExecute_UnknownKind(t *testing.T) {
	_, err := testClient("http://127.0.0.1:0").Execute(context.Background(), model.ActionKind("explode"), nil)
	assert.Error(t, err)
}
