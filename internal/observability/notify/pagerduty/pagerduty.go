// Package pagerduty raises PagerDuty incidents for failed jobs through the Events API v2.
package pagerduty

import (
	"context"
	"errors"
	"maps"
	"net/http"
	"strings"
	"time"

	"github.com/target/mmk-jobqueue/internal/observability/notify"
)

// APIEndpoint is the PagerDuty Events API v2 ingest URL.
const APIEndpoint = "https://events.pagerduty.com/v2/enqueue"

// Config captures runtime configuration for the PagerDuty sink.
type Config struct {
	RoutingKey string
	Source     string
	Component  string
	Timeout    time.Duration
	RetryLimit int
	Client     *http.Client
	Endpoint   string // Optional; defaults to APIEndpoint
}

type event struct {
	RoutingKey  string       `json:"routing_key"`
	EventAction string       `json:"event_action"`
	DedupKey    string       `json:"dedup_key,omitempty"`
	Payload     eventPayload `json:"payload"`
}

type eventPayload struct {
	Summary       string         `json:"summary"`
	Severity      string         `json:"severity"`
	Source        string         `json:"source"`
	Component     string         `json:"component,omitempty"`
	Timestamp     string         `json:"timestamp"`
	CustomDetails map[string]any `json:"custom_details,omitempty"`
}

// Client triggers one incident per failed job, deduplicated on queue and job ID.
type Client struct {
	routingKey string
	source     string
	component  string
	endpoint   string
	poster     *notify.Poster
}

var _ notify.Sink = (*Client)(nil)

// NewClient constructs an events client. A routing key is required.
func NewClient(cfg Config) (*Client, error) {
	key := strings.TrimSpace(cfg.RoutingKey)
	if key == "" {
		return nil, errors.New("pagerduty routing key is required")
	}

	return &Client{
		routingKey: key,
		source:     withDefault(cfg.Source, "jobqueue"),
		component:  withDefault(cfg.Component, "jobqueue"),
		endpoint:   withDefault(cfg.Endpoint, APIEndpoint),
		poster:     notify.NewPoster("pagerduty api", cfg.Client, cfg.Timeout, cfg.RetryLimit),
	}, nil
}

// SendJobFailure submits a trigger event.
func (c *Client) SendJobFailure(ctx context.Context, payload notify.JobFailurePayload) error {
	return c.poster.PostJSON(ctx, c.endpoint, c.buildEvent(payload))
}

func (c *Client) buildEvent(p notify.JobFailurePayload) event {
	details := make(map[string]any, len(p.Metadata)+6)
	for k, v := range p.Metadata {
		details[k] = v
	}
	// Job fields win over metadata with the same key.
	maps.Copy(details, map[string]any{
		"job_id":      p.JobID,
		"queue":       p.QueueName,
		"attempts":    p.Attempts,
		"retries":     p.Retries,
		"error":       p.Error,
		"error_class": p.ErrorClass,
	})

	return event{
		RoutingKey:  c.routingKey,
		EventAction: "trigger",
		DedupKey:    strings.Trim(p.QueueName+":"+p.JobID, ":"),
		Payload: eventPayload{
			Summary:       p.Summary(),
			Severity:      strings.ToLower(p.SeverityOrDefault()),
			Source:        c.source,
			Component:     c.component,
			Timestamp:     p.Timestamp().Format(time.RFC3339),
			CustomDetails: details,
		},
	}
}

func withDefault(v, fallback string) string {
	if v = strings.TrimSpace(v); v == "" {
		return fallback
	}
	return v
}
