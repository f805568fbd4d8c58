// Package failurenotifier fans terminal job failures out to notification sinks.
package failurenotifier

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/target/mmk-jobqueue/internal/domain/model"
	obserrors "github.com/target/mmk-jobqueue/internal/observability/errors"
	"github.com/target/mmk-jobqueue/internal/observability/notify"
)

// SinkRegistration pairs a sink implementation with a human-readable name for logging.
type SinkRegistration struct {
	Name string
	Sink notify.Sink
}

// Options configures the failure notifier service.
type Options struct {
	Logger *slog.Logger
	Sinks  []SinkRegistration
	// MutedQueues lists queues whose failures are never reported.
	MutedQueues []string
}

// Service dispatches failure events to all registered sinks.
type Service struct {
	logger *slog.Logger
	sinks  []SinkRegistration
	muted  []string
}

// NewService constructs a failure notifier.
func NewService(opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var sinks []SinkRegistration
	for _, entry := range opts.Sinks {
		if entry.Sink == nil {
			continue
		}
		name := entry.Name
		if name == "" {
			name = "sink"
		}
		sinks = append(sinks, SinkRegistration{
			Name: name,
			Sink: entry.Sink,
		})
	}

	return &Service{
		logger: logger.With("component", "failure_notifier"),
		sinks:  sinks,
		muted:  slices.Clone(opts.MutedQueues),
	}
}

// PayloadFromJob builds the notification payload for a failed job.
func PayloadFromJob(job *model.Job, cause error, at time.Time) notify.JobFailurePayload {
	msg := job.ErrorMessage()
	if msg == "" && cause != nil {
		msg = cause.Error()
	}
	return notify.JobFailurePayload{
		JobID:      job.ID,
		QueueName:  job.QueueName,
		Attempts:   job.Attempts,
		Retries:    job.Retries,
		Error:      msg,
		ErrorClass: obserrors.Classify(cause),
		OccurredAt: at,
	}
}

// NotifyJobFailure fan-outs the job failure payload to all sinks.
func (s *Service) NotifyJobFailure(ctx context.Context, payload notify.JobFailurePayload) {
	if len(s.sinks) == 0 {
		return
	}

	if slices.Contains(s.muted, payload.QueueName) {
		s.logger.DebugContext(ctx, "skipping notification for muted queue",
			"job_id", payload.JobID,
			"queue", payload.QueueName,
		)
		return
	}

	if payload.Severity == "" {
		payload.Severity = notify.SeverityCritical
	}

	var wg sync.WaitGroup
	for _, entry := range s.sinks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := entry.Sink.SendJobFailure(ctx, payload); err != nil {
				s.logger.ErrorContext(ctx, "failure notifier delivery error",
					"sink", entry.Name,
					"job_id", payload.JobID,
					"queue", payload.QueueName,
					"error", err,
				)
			}
		}()
	}
	wg.Wait()
}

// Enabled reports whether the notifier has any active sinks.
func (s *Service) Enabled() bool {
	return s != nil && len(s.sinks) > 0
}
