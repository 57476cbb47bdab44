package offline

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-pos/internal/events"
	"github.com/odyssey-erp/odyssey-pos/internal/shared"
)

type fakeSignal struct {
	online    bool
	failures  int
	successes int
}

func (f *fakeSignal) Online() bool   { return f.online }
func (f *fakeSignal) ReportFailure() { f.failures++; f.online = false }
func (f *fakeSignal) ReportSuccess() { f.successes++; f.online = true }

func TestInterceptorReturnsServerResponsesUnmodified(t *testing.T) {
	var gotKey, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get(HeaderIdempotencyKey)
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.Header().Set("Content-Type", "application/problem+json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"title":"Validation Failed"}`)
	}))
	defer srv.Close()
	store, _ := openTestStore(t)
	signal := &fakeSignal{online: true}

	i := NewInterceptor(NewSender(srv.URL, time.Second, nil), store, signal, nil, nil, nil)
	res, err := i.Do(context.Background(), Mutation{Method: "post", Target: "/api/inventory/sales", Body: []byte(`{"qty":2}`)})
	require.NoError(t, err)
	require.False(t, res.Queued)
	require.Equal(t, http.StatusBadRequest, res.StatusCode)
	require.Equal(t, "application/problem+json", res.Header.Get("Content-Type"))
	require.JSONEq(t, `{"title":"Validation Failed"}`, string(res.Body))
	require.NotEmpty(t, gotKey)
	require.JSONEq(t, `{"qty":2}`, gotBody)
	require.Equal(t, 1, signal.successes)

	n, err := store.Count(context.Background())
	require.NoError(t, err)
	require.Zero(t, n, "server responses are never queued")
}

func TestInterceptorQueuesOnTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	store, _ := openTestStore(t)
	signal := &fakeSignal{online: true}
	sink := &recordingSink{}

	i := NewInterceptor(NewSender(url, time.Second, nil), store, signal, nil, sink, nil)
	res, err := i.Do(context.Background(), Mutation{Method: http.MethodPost, Target: "/api/inventory/adjustments", IdempotencyKey: "key-1", Description: "Adjust stock"})
	require.NoError(t, err)
	require.True(t, res.Queued)
	require.NotEmpty(t, res.EntryID)
	require.Equal(t, 1, signal.failures)

	entry, err := store.Get(context.Background(), res.EntryID)
	require.NoError(t, err)
	require.Equal(t, "key-1", entry.IdempotencyKey)
	require.Equal(t, "key-1", entry.Headers[HeaderIdempotencyKey])
	require.Equal(t, "Adjust stock", entry.Description)
	require.Equal(t, []events.Kind{events.KindMutationQueued}, sink.kinds())
}

func TestInterceptorQueuesWithoutAttemptWhenOffline(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	store, _ := openTestStore(t)
	status := NewStatus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go status.Run(ctx, Snapshot{})

	i := NewInterceptor(NewSender(srv.URL, time.Second, nil), store, &fakeSignal{online: false}, status, nil, nil)
	res, err := i.Do(context.Background(), Mutation{Method: http.MethodDelete, Target: "/api/x"})
	require.NoError(t, err)
	require.True(t, res.Queued)
	require.Zero(t, calls.Load())
	require.Eventually(t, func() bool { return status.PendingCount() == 1 }, time.Second, 10*time.Millisecond)
}

func TestInterceptorRejectsInvalidMutations(t *testing.T) {
	store, _ := openTestStore(t)
	i := NewInterceptor(NewSender("http://127.0.0.1:1", time.Second, nil), store, nil, nil, nil, nil)

	_, err := i.Do(context.Background(), Mutation{Method: http.MethodGet, Target: "/x"})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = i.Do(context.Background(), Mutation{Method: http.MethodPost, Target: "http://evil"})
	require.ErrorIs(t, err, ErrInvalidMutation)
}
