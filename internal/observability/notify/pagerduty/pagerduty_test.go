package pagerduty

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/target/mmk-jobqueue/internal/observability/notify"
)

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient(Config{})
	require.Error(t, err)
}

func TestBuildEventDefaults(t *testing.T) {
	client, err := NewClient(Config{RoutingKey: "key", Timeout: time.Second})
	require.NoError(t, err)

	ev := client.buildEvent(notify.JobFailurePayload{
		JobID:      "123",
		QueueName:  "email",
		Attempts:   3,
		Retries:    2,
		Error:      "boom",
		ErrorClass: "errors_errorstring",
		OccurredAt: time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC),
		Metadata:   map[string]string{"host": "worker-1", "queue": "ignored"},
	})

	assert.Equal(t, "key", ev.RoutingKey)
	assert.Equal(t, "trigger", ev.EventAction)
	assert.Equal(t, "email:123", ev.DedupKey)
	assert.Equal(t, "Job 123 (email) failed", ev.Payload.Summary)
	assert.Equal(t, notify.SeverityCritical, ev.Payload.Severity)
	assert.Equal(t, "jobqueue", ev.Payload.Source)
	assert.Equal(t, "jobqueue", ev.Payload.Component)
	assert.Equal(t, "2026-03-04T05:06:07Z", ev.Payload.Timestamp)
	assert.Equal(t, map[string]any{
		"job_id":      "123",
		"queue":       "email",
		"attempts":    3,
		"retries":     2,
		"error":       "boom",
		"error_class": "errors_errorstring",
		"host":        "worker-1",
	}, ev.Payload.CustomDetails)
}

func TestBuildEventDedupKeyWithoutQueue(t *testing.T) {
	client, err := NewClient(Config{RoutingKey: "key", Source: "worker-7"})
	require.NoError(t, err)

	ev := client.buildEvent(notify.JobFailurePayload{JobID: "123", Severity: "WARNING"})
	assert.Equal(t, "123", ev.DedupKey)
	assert.Equal(t, "warning", ev.Payload.Severity)
	assert.Equal(t, "worker-7", ev.Payload.Source)
}

func TestSendJobFailureRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "try later", http.StatusServiceUnavailable)
			return
		}
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "key", body["routing_key"])
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	client, err := NewClient(Config{RoutingKey: "key", RetryLimit: 1, Endpoint: srv.URL})
	require.NoError(t, err)
	require.NoError(t, client.SendJobFailure(context.Background(), notify.JobFailurePayload{JobID: "1"}))
	assert.Equal(t, int32(2), calls.Load())
}
