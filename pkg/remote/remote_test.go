package remote

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terminal-bench/eventhub/pkg/apperr"
	"github.com/terminal-bench/eventhub/pkg/discovery"
	"github.com/terminal-bench/eventhub/shared/dto"
)

func eventsClientFor(url string) *EventsClient {
	return NewEventsClient(discovery.NewResolver(nil, "event-service", url), time.Second)
}

func requestsClientFor(url string) *RequestsClient {
	return NewRequestsClient(discovery.NewResolver(nil, "request-service", url), time.Second)
}

func TestEventsClientSnapshot(t *testing.T) {
	t.Run("decodes a capacity snapshot", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/events/internal/42", r.URL.Path)
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"id":42,"initiatorId":7,"participantLimit":10,"confirmedRequests":3,"requestModeration":true,"state":"PUBLISHED"}`))
		}))
		defer srv.Close()

		snap, err := eventsClientFor(srv.URL).Snapshot(context.Background(), 42)

		require.NoError(t, err)
		assert.Equal(t, int64(42), snap.ID)
		assert.Equal(t, int64(10), snap.ParticipantLimit)
		assert.Equal(t, int64(3), snap.ConfirmedRequests)
		assert.Equal(t, dto.StatePublished, snap.State)
	})

	t.Run("404 is a definite not-found", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error":"event 42 not found"}`))
		}))
		defer srv.Close()

		_, err := eventsClientFor(srv.URL).Snapshot(context.Background(), 42)

		assert.ErrorIs(t, err, apperr.ErrNotFound)
		assert.NotErrorIs(t, err, apperr.ErrUnavailable)
	})

	t.Run("5xx is unavailability, not absence", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()

		_, err := eventsClientFor(srv.URL).Snapshot(context.Background(), 42)

		assert.ErrorIs(t, err, apperr.ErrUnavailable)
	})

	t.Run("connection refused is unavailability", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		srv.Close()

		_, err := eventsClientFor(srv.URL).Snapshot(context.Background(), 42)

		assert.ErrorIs(t, err, apperr.ErrUnavailable)
	})
}

func TestEventsClientIncrement(t *testing.T) {
	t.Run("conflict when capacity exhausted", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPut, r.Method)
			w.WriteHeader(http.StatusConflict)
			w.Write([]byte(`{"error":"participant limit reached"}`))
		}))
		defer srv.Close()

		_, err := eventsClientFor(srv.URL).IncrementConfirmed(context.Background(), 42)

		assert.ErrorIs(t, err, apperr.ErrConflict)
	})

	t.Run("propagates the correlation id", func(t *testing.T) {
		var got string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got = r.Header.Get("X-Correlation-ID")
			w.Write([]byte(`{"id":1}`))
		}))
		defer srv.Close()

		ctx := WithCorrelationID(context.Background(), "abc-123")
		_, err := eventsClientFor(srv.URL).IncrementConfirmed(ctx, 1)

		require.NoError(t, err)
		assert.Equal(t, "abc-123", got)
	})
}

func TestRequestsClientFallback(t *testing.T) {
	t.Run("listing degrades to empty on unavailability", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		srv.Close()

		reqs, err := requestsClientFor(srv.URL).ByIDs(context.Background(), []int64{1, 2, 3})

		require.NoError(t, err)
		assert.Empty(t, reqs)
	})

	t.Run("status update fails closed on unavailability", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		srv.Close()

		_, err := requestsClientFor(srv.URL).UpdateStatuses(context.Background(), dto.StatusUpdate{
			RequestIDs: []int64{1},
			Status:     dto.StatusRejected,
		})

		assert.ErrorIs(t, err, apperr.ErrUnavailable)
	})

	t.Run("by-ids builds the id list query", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/internal/requests/by-ids", r.URL.Path)
			assert.Equal(t, "5,3,9", r.URL.Query().Get("requestIds"))
			w.Write([]byte(`[{"id":5},{"id":3}]`))
		}))
		defer srv.Close()

		reqs, err := requestsClientFor(srv.URL).ByIDs(context.Background(), []int64{5, 3, 9})

		require.NoError(t, err)
		assert.Len(t, reqs, 2)
	})
}

func TestBreakerOpensAfterRepeatedFailures(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := eventsClientFor(srv.URL)
	for i := 0; i < defaultMaxFailures; i++ {
		_, err := client.Snapshot(context.Background(), 1)
		assert.ErrorIs(t, err, apperr.ErrUnavailable)
	}

	// The breaker is open now; calls fail fast without reaching the peer.
	before := hits
	_, err := client.Snapshot(context.Background(), 1)
	assert.ErrorIs(t, err, apperr.ErrUnavailable)
	assert.Equal(t, before, hits)
}
