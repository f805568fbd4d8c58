package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPosterRetriesTemporaryFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "slow down", http.StatusTooManyRequests)
			return
		}
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "email", body["queue"])
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	p := NewPoster("test", nil, time.Second, 2)
	require.NoError(t, p.PostJSON(context.Background(), srv.URL, map[string]string{"queue": "email"}))
	assert.Equal(t, int32(2), calls.Load())
}

func TestPosterDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "invalid_payload", http.StatusBadRequest)
	}))
	defer srv.Close()

	err := NewPoster("slack", nil, 0, 3).PostJSON(context.Background(), srv.URL, struct{}{})
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusBadRequest, statusErr.StatusCode)
	assert.Equal(t, "invalid_payload", statusErr.Body)
	assert.False(t, statusErr.Temporary())
	assert.Contains(t, err.Error(), "slack 400 Bad Request")
	assert.Equal(t, int32(1), calls.Load())
}

func TestPosterGivesUpAfterRetryLimit(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewPoster("pagerduty", nil, 0, 1).PostJSON(context.Background(), srv.URL, struct{}{})
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.True(t, statusErr.Temporary())
	assert.Equal(t, int32(2), calls.Load())
}

func TestPosterStopsOnContextCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	p := NewPoster("test", nil, 0, 5)
	p.Client.Transport = roundTripFunc(func(r *http.Request) (*http.Response, error) {
		cancel()
		return http.DefaultTransport.RoundTrip(r)
	})

	err := p.PostJSON(ctx, srv.URL, struct{}{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestPayloadDefaults(t *testing.T) {
	p := JobFailurePayload{}
	assert.Equal(t, "Job unknown (unknown) failed", p.Summary())
	assert.Equal(t, SeverityCritical, p.SeverityOrDefault())
	assert.WithinDuration(t, time.Now(), p.Timestamp(), time.Minute)

	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.FixedZone("x", 3600))
	p = JobFailurePayload{JobID: "j-1", QueueName: "email", Severity: SeverityWarning, OccurredAt: at}
	assert.Equal(t, "Job j-1 (email) failed", p.Summary())
	assert.Equal(t, SeverityWarning, p.SeverityOrDefault())
	assert.Equal(t, time.UTC, p.Timestamp().Location())
}
