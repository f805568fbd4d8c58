// Package notify defines the failed-job payload and the HTTP delivery shared by the Slack and
// PagerDuty sinks.
package notify

import (
	"context"
	"fmt"
	"time"
)

// Severity constants recognised by downstream sinks.
const (
	SeverityCritical = "critical"
	SeverityWarning  = "warning"
)

// JobFailurePayload describes a job that settled as failed after its last attempt.
type JobFailurePayload struct {
	JobID      string
	QueueName  string
	Attempts   int
	Retries    int
	Error      string
	ErrorClass string
	Severity   string
	OccurredAt time.Time
	Metadata   map[string]string
}

// Summary is the one-line headline used by every sink.
func (p JobFailurePayload) Summary() string {
	return fmt.Sprintf("Job %s (%s) failed", orUnknown(p.JobID), orUnknown(p.QueueName))
}

// SeverityOrDefault returns Severity, or SeverityCritical when unset.
func (p JobFailurePayload) SeverityOrDefault() string {
	if p.Severity == "" {
		return SeverityCritical
	}
	return p.Severity
}

// Timestamp returns OccurredAt in UTC, or now when unset.
func (p JobFailurePayload) Timestamp() time.Time {
	if p.OccurredAt.IsZero() {
		return time.Now().UTC()
	}
	return p.OccurredAt.UTC()
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

// Sink receives failed-job notifications.
type Sink interface {
	SendJobFailure(ctx context.Context, payload JobFailurePayload) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, payload JobFailurePayload) error

// SendJobFailure implements Sink. A nil func drops the payload.
func (f SinkFunc) SendJobFailure(ctx context.Context, payload JobFailurePayload) error {
	if f == nil {
		return nil
	}
	return f(ctx, payload)
}
