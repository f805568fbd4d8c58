// Package job holds queue-independent scheduling policy for jobs.
package job

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/target/mmk-jobqueue/internal/domain/model"
)

// DefaultBackoffDelay is used when no backoff strategy is configured.
const DefaultBackoffDelay = time.Second

// ErrInvalidBackoffDelay indicates a non-positive base delay.
var ErrInvalidBackoffDelay = errors.New("backoff delay must be positive")

// BackoffFunc returns how long a retrying job must wait after its last update before it can be claimed again.
type BackoffFunc func(queueName string, attempt int, job *model.Job) time.Duration

// BackoffKind names a built-in backoff strategy.
type BackoffKind string

const (
	// BackoffConstant waits the same delay before every retry.
	BackoffConstant BackoffKind = "constant"
	// BackoffLinear grows the delay by the base delay per attempt.
	BackoffLinear BackoffKind = "linear"
	// BackoffExponential doubles the delay per attempt.
	BackoffExponential BackoffKind = "exponential"
)

// UnmarshalText implements encoding.TextUnmarshaler for env parsing.
func (k *BackoffKind) UnmarshalText(text []byte) error {
	v := BackoffKind(strings.ToLower(strings.TrimSpace(string(text))))
	switch v {
	case BackoffConstant, BackoffLinear, BackoffExponential:
		*k = v
		return nil
	case "":
		*k = BackoffConstant
		return nil
	default:
		return fmt.Errorf("invalid BackoffKind: %q", v)
	}
}

// Constant returns a BackoffFunc that always waits delay.
func Constant(delay time.Duration) BackoffFunc {
	return func(string, int, *model.Job) time.Duration {
		return delay
	}
}

// Linear returns a BackoffFunc that waits base*attempt, capped at limit when limit > 0.
func Linear(base, limit time.Duration) BackoffFunc {
	return func(_ string, attempt int, _ *model.Job) time.Duration {
		return capDelay(base*time.Duration(max(attempt, 1)), limit)
	}
}

// Exponential returns a BackoffFunc that waits base*2^(attempt-1), capped at limit when limit > 0.
func Exponential(base, limit time.Duration) BackoffFunc {
	return func(_ string, attempt int, _ *model.Job) time.Duration {
		exp := max(attempt-1, 0)
		if exp >= 62 {
			return capDelay(time.Duration(math.MaxInt64), limit)
		}
		factor := int64(1) << exp
		if base > 0 && factor > int64(math.MaxInt64)/int64(base) {
			return capDelay(time.Duration(math.MaxInt64), limit)
		}
		return capDelay(base*time.Duration(factor), limit)
	}
}

// NewBackoffFunc builds one of the built-in strategies.
func NewBackoffFunc(kind BackoffKind, base, limit time.Duration) (BackoffFunc, error) {
	if base <= 0 {
		return nil, ErrInvalidBackoffDelay
	}
	switch kind {
	case BackoffConstant, "":
		return Constant(base), nil
	case BackoffLinear:
		return Linear(base, limit), nil
	case BackoffExponential:
		return Exponential(base, limit), nil
	default:
		return nil, fmt.Errorf("unknown backoff strategy %q", kind)
	}
}

func capDelay(d, limit time.Duration) time.Duration {
	if limit > 0 && d > limit {
		return limit
	}
	return d
}

// BackoffPolicy decides whether a retrying job is eligible to be claimed.
type BackoffPolicy struct {
	fn BackoffFunc
}

// NewBackoffPolicy wraps fn; a nil fn falls back to a constant DefaultBackoffDelay.
func NewBackoffPolicy(fn BackoffFunc) *BackoffPolicy {
	if fn == nil {
		fn = Constant(DefaultBackoffDelay)
	}
	return &BackoffPolicy{fn: fn}
}

// Delay returns the configured wait for the job's current attempt count.
func (p *BackoffPolicy) Delay(job *model.Job) time.Duration {
	if p == nil || job == nil {
		return 0
	}
	return max(p.fn(job.QueueName, job.Attempts, job), 0)
}

// Eligible reports whether job may be claimed at now. Only retrying jobs are ever held back,
// measured from the job's last update.
func (p *BackoffPolicy) Eligible(job *model.Job, now time.Time) bool {
	if job == nil || job.State != model.JobStateRetrying {
		return true
	}
	return now.Sub(job.UpdatedAt) >= p.Delay(job)
}
