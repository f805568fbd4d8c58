// Package metrics names and tags the job queue's StatsD metrics.
package metrics

import (
	"maps"
	"time"

	"github.com/target/mmk-jobqueue/internal/domain/model"
	obserrors "github.com/target/mmk-jobqueue/internal/observability/errors"
	"github.com/target/mmk-jobqueue/internal/observability/statsd"
)

// Values of the "result" tag.
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultNoop    = "noop"
)

// Values of the "transition" tag on job.transition.
const (
	TransitionClaimed   = "claimed"
	TransitionCompleted = "completed"
	TransitionRetrying  = "retrying"
	TransitionFailed    = "failed"
	TransitionCancelled = "cancelled"
)

// JobMetric is one state change made by a queue consumer.
type JobMetric struct {
	Queue      string
	Transition string
	Result     string
	Duration   time.Duration
	Err        error
}

// EmitJobLifecycle counts job.transition and, when a duration is known, times job.duration
// with the same tags. A nil sink is a no-op.
func EmitJobLifecycle(sink statsd.Sink, in JobMetric) {
	if sink == nil {
		return
	}

	tags := map[string]string{
		"queue":      in.Queue,
		"transition": in.Transition,
		"result":     in.Result,
	}
	if in.Result == ResultError {
		WithErrorClass(tags, in.Err)
	}

	sink.Count("job.transition", 1, tags)
	if in.Duration > 0 {
		sink.Timing("job.duration", in.Duration, CloneTags(tags))
	}
}

// ResultOf picks the result tag for a batch operation that touched n items.
func ResultOf(err error, n int64) string {
	switch {
	case err != nil:
		return ResultError
	case n == 0:
		return ResultNoop
	default:
		return ResultSuccess
	}
}

// TransitionFor maps the state a run left a job in to its transition tag.
func TransitionFor(state model.JobState) string {
	switch state {
	case model.JobStateCompleted:
		return TransitionCompleted
	case model.JobStateRetrying:
		return TransitionRetrying
	case model.JobStateCancelled:
		return TransitionCancelled
	default:
		return TransitionFailed
	}
}

// WithErrorClass sets tags["error_class"] from err and returns tags. Nil errors leave tags alone.
func WithErrorClass(tags map[string]string, err error) map[string]string {
	if class := obserrors.Classify(err); class != "" {
		tags["error_class"] = class
	}
	return tags
}

// CloneTags copies tags so a second emission cannot observe later edits. Empty input gives nil.
func CloneTags(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	return maps.Clone(src)
}
