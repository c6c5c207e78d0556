package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ETAnderson/productimporter/internal/domain"
	"github.com/ETAnderson/productimporter/internal/events"
	"github.com/ETAnderson/productimporter/internal/state"
)

func newDispatcher(store state.SubscriptionStore, cfg Config) *Dispatcher {
	if cfg.Backoff == 0 {
		cfg.Backoff = time.Millisecond
	}
	return NewDispatcher(store, nil, cfg, nil, nil)
}

func subscribe(t *testing.T, store state.SubscriptionStore, url string, active bool, secret string) domain.Subscription {
	t.Helper()
	sub, err := store.CreateSubscription(context.Background(), domain.Subscription{
		Name:      "hook",
		URL:       url,
		EventType: domain.EventBulkImportCompleted,
		Active:    active,
		Secret:    secret,
	})
	require.NoError(t, err)
	return sub
}

func closedURL() string {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	return url
}

func TestDispatch_SignsEnvelope(t *testing.T) {
	type received struct {
		header http.Header
		body   []byte
	}
	got := make(chan received, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		got <- received{header: r.Header.Clone(), body: b}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	store := state.NewMemoryStore()
	subscribe(t, store, srv.URL, true, "s3cret")

	ev := events.New(domain.EventBulkImportCompleted, map[string]any{"session_id": "abc"})
	outs := newDispatcher(store, Config{}).Dispatch(context.Background(), ev)

	require.Len(t, outs, 1)
	assert.True(t, outs[0].Success)
	assert.Equal(t, http.StatusNoContent, outs[0].StatusCode)
	assert.Equal(t, 1, outs[0].Attempts)

	r := <-got
	assert.Equal(t, "application/json", r.header.Get("Content-Type"))
	assert.Equal(t, string(domain.EventBulkImportCompleted), r.header.Get(EventHeader))
	assert.Equal(t, ev.ID, r.header.Get(DeliveryHeader))
	assert.True(t, Verify("s3cret", r.body, r.header.Get(SignatureHeader)))

	var env map[string]any
	require.NoError(t, json.Unmarshal(r.body, &env))
	assert.Equal(t, "bulk_import_completed", env["event_type"])
	assert.NotEmpty(t, env["timestamp"])
	assert.Equal(t, map[string]any{"session_id": "abc"}, env["data"])
}

func TestDispatch_UnsignedWithoutSecret(t *testing.T) {
	var sig atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sig.Store(r.Header.Get(SignatureHeader))
	}))
	defer srv.Close()

	store := state.NewMemoryStore()
	subscribe(t, store, srv.URL, true, "")

	outs := newDispatcher(store, Config{}).Dispatch(context.Background(), events.New(domain.EventBulkImportCompleted, nil))
	require.Len(t, outs, 1)
	assert.True(t, outs[0].Success)
	assert.Equal(t, "", sig.Load())
}

func TestDispatch_FailingSubscriberDoesNotBlockOthers(t *testing.T) {
	var okHits atomic.Int32
	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		okHits.Add(1)
	}))
	defer ok.Close()

	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer broken.Close()

	store := state.NewMemoryStore()
	good := subscribe(t, store, ok.URL, true, "")
	bad := subscribe(t, store, broken.URL, true, "")
	gone := subscribe(t, store, closedURL(), true, "")

	outs := newDispatcher(store, Config{MaxRetries: 1}).Dispatch(context.Background(), events.New(domain.EventBulkImportCompleted, nil))
	require.Len(t, outs, 3)

	byID := map[string]Outcome{}
	for _, o := range outs {
		byID[o.SubscriptionID] = o
	}

	assert.True(t, byID[good.ID].Success)
	assert.Equal(t, int32(1), okHits.Load())

	assert.False(t, byID[bad.ID].Success)
	assert.Equal(t, http.StatusInternalServerError, byID[bad.ID].StatusCode)
	assert.Contains(t, byID[bad.ID].Error, "unexpected status 500")

	assert.False(t, byID[gone.ID].Success)
	assert.Equal(t, 0, byID[gone.ID].StatusCode)
	assert.NotEmpty(t, byID[gone.ID].Error)
}

func TestDispatch_NonSuccessStatusIsNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	store := state.NewMemoryStore()
	subscribe(t, store, srv.URL, true, "")

	outs := newDispatcher(store, Config{MaxRetries: 3}).Dispatch(context.Background(), events.New(domain.EventBulkImportCompleted, nil))
	require.Len(t, outs, 1)
	assert.Equal(t, 1, outs[0].Attempts)
	assert.Equal(t, int32(1), hits.Load())
}

func TestDispatch_RetriesTransportErrors(t *testing.T) {
	store := state.NewMemoryStore()
	subscribe(t, store, closedURL(), true, "")

	outs := newDispatcher(store, Config{MaxRetries: 2}).Dispatch(context.Background(), events.New(domain.EventBulkImportCompleted, nil))
	require.Len(t, outs, 1)
	assert.False(t, outs[0].Success)
	assert.Equal(t, 3, outs[0].Attempts)
}

func TestDispatch_SlowSubscriberTimesOut(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer srv.Close()

	store := state.NewMemoryStore()
	subscribe(t, store, srv.URL, true, "")

	d := newDispatcher(store, Config{Timeout: 50 * time.Millisecond})

	start := time.Now()
	outs := d.Dispatch(context.Background(), events.New(domain.EventBulkImportCompleted, nil))
	require.Len(t, outs, 1)
	assert.False(t, outs[0].Success)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestDispatch_SkipsInactiveAndOtherEvents(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	store := state.NewMemoryStore()
	subscribe(t, store, srv.URL, false, "")
	_, err := store.CreateSubscription(context.Background(), domain.Subscription{
		Name: "other", URL: srv.URL, EventType: domain.EventRecordDeleted, Active: true,
	})
	require.NoError(t, err)

	outs := newDispatcher(store, Config{}).Dispatch(context.Background(), events.New(domain.EventBulkImportCompleted, nil))
	assert.Empty(t, outs)
	assert.Equal(t, int32(0), hits.Load())
}

func TestDispatcher_TestRecordsOutcome(t *testing.T) {
	var body atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		body.Store(b)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	store := state.NewMemoryStore()
	sub := subscribe(t, store, srv.URL, false, "")

	out, err := newDispatcher(store, Config{}).Test(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Equal(t, http.StatusAccepted, out.StatusCode)

	var env map[string]any
	require.NoError(t, json.Unmarshal(body.Load().([]byte), &env))
	data := env["data"].(map[string]any)
	assert.Equal(t, true, data["test"])

	stored, err := store.GetSubscription(context.Background(), sub.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.LastStatusCode)
	assert.Equal(t, http.StatusAccepted, *stored.LastStatusCode)
	require.NotNil(t, stored.LastSuccess)
	assert.True(t, *stored.LastSuccess)
	assert.NotNil(t, stored.LastTestedAt)
}

func TestDispatcher_TestMakesSingleAttempt(t *testing.T) {
	store := state.NewMemoryStore()
	sub := subscribe(t, store, closedURL(), true, "")

	out, err := newDispatcher(store, Config{MaxRetries: 3}).Test(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.False(t, out.Success)
	assert.Equal(t, 1, out.Attempts)

	stored, err := store.GetSubscription(context.Background(), sub.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.LastSuccess)
	assert.False(t, *stored.LastSuccess)
	require.NotNil(t, stored.LastError)
	assert.NotEmpty(t, *stored.LastError)
}

func TestDispatcher_TestUnknownSubscription(t *testing.T) {
	store := state.NewMemoryStore()
	_, err := newDispatcher(store, Config{}).Test(context.Background(), "missing")
	assert.ErrorIs(t, err, state.ErrNotFound)
}
