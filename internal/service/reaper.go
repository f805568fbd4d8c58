package service

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/target/mmk-jobqueue/config"
	"github.com/target/mmk-jobqueue/internal/core"
	"github.com/target/mmk-jobqueue/internal/observability/metrics"
	"github.com/target/mmk-jobqueue/internal/observability/statsd"
	"golang.org/x/sync/errgroup"
)

// reaperParallelism bounds how many cleanup steps hit the store at once.
const reaperParallelism = 4

// ReaperServiceOptions groups dependencies for ReaperService.
type ReaperServiceOptions struct {
	Strategy core.InspectableJobQueueStrategy // Required: store to sweep
	Config   config.ReaperConfig              // Required: reaper configuration
	Logger   *slog.Logger                     // Optional: structured logger
	Metrics  statsd.Sink                      // Optional: metrics sink (StatsD-compatible)
	Clock    func() time.Time                 // Optional: defaults to time.Now
}

// ReaperService deletes settled jobs once they are older than the configured retention.
//
// Each sweep runs one step for the configured queues (all queues when none are listed)
// plus one step per queue with a shorter retention override.
type ReaperService struct {
	strategy core.InspectableJobQueueStrategy
	config   config.ReaperConfig
	logger   *slog.Logger
	metrics  statsd.Sink
	clock    func() time.Time
}

// NewReaperService constructs a new ReaperService.
func NewReaperService(opts ReaperServiceOptions) (*ReaperService, error) {
	if opts.Strategy == nil {
		return nil, errors.New("inspectable job queue strategy is required")
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "reaper_service")
		logger.Debug("ReaperService initialized",
			"interval", opts.Config.Interval,
			"max_age", opts.Config.MaxAge,
			"queues", opts.Config.Queues,
			"queue_overrides", len(opts.Config.QueueMaxAge),
		)
	}

	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}

	return &ReaperService{
		strategy: opts.Strategy,
		config:   opts.Config,
		logger:   logger,
		metrics:  opts.Metrics,
		clock:    clock,
	}, nil
}

// Run starts the reaper loop and runs until the context is cancelled.
// It performs cleanup operations at the configured interval.
// Returns nil on graceful shutdown (context.Canceled), error otherwise.
func (s *ReaperService) Run(ctx context.Context) error {
	if s.logger != nil {
		s.logger.InfoContext(ctx, "starting reaper service", "interval", s.config.Interval)
	}

	// Add jitter to prevent thundering herd if multiple instances start together
	s.waitWithJitter(ctx)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	// Run cleanup immediately after jitter
	if err := s.RunOnce(ctx); err != nil {
		s.logCleanupError(err, "initial cleanup")
	}

	return s.runLoop(ctx, ticker)
}

// waitWithJitter adds a random delay up to 10% of the interval to prevent thundering herd.
func (s *ReaperService) waitWithJitter(ctx context.Context) {
	maxJitter := int64(s.config.Interval / 10)
	if maxJitter <= 0 {
		return
	}

	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// If crypto/rand fails, skip jitter rather than failing startup
		if s.logger != nil {
			s.logger.WarnContext(ctx, "failed to generate jitter, skipping", "error", err)
		}
		return
	}

	// Use modulo on uint64 before converting to avoid overflow
	jitterNanos := binary.BigEndian.Uint64(buf[:]) % uint64(maxJitter)
	jitter := time.Duration(int64(jitterNanos)) // #nosec G115 - bounded by maxJitter which is int64

	select {
	case <-time.After(jitter):
	case <-ctx.Done():
		// Graceful shutdown during jitter
	}
}

// runLoop runs the cleanup loop until context is cancelled.
func (s *ReaperService) runLoop(ctx context.Context, ticker *time.Ticker) error {
	for {
		select {
		case <-ctx.Done():
			if s.logger != nil {
				s.logger.InfoContext(ctx, "reaper service stopping", "reason", ctx.Err())
			}
			// Return nil on graceful shutdown to avoid treating it as a failure
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()

		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil {
				s.logCleanupError(err, "cleanup")
				// Continue running despite errors
			}
		}
	}
}

// RunOnce performs a single sweep.
func (s *ReaperService) RunOnce(ctx context.Context) error {
	start := time.Now()
	steps := s.cleanupSteps(s.clock())
	outcomes := make([]cleanupStepOutcome, len(steps))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(reaperParallelism)
	for i, step := range steps {
		g.Go(func() error {
			outcomes[i] = s.executeCleanupStep(gctx, step)
			return nil
		})
	}
	_ = g.Wait()

	var (
		errs               []error
		allContextCanceled = true
	)
	for _, outcome := range outcomes {
		if outcome.aggregateErr != nil {
			errs = append(errs, outcome.aggregateErr)
			allContextCanceled = allContextCanceled && outcome.canceled
		}
	}

	s.emitCleanupMetrics(steps, outcomes, time.Since(start))

	if len(errs) > 0 {
		joined := errors.Join(errs...)
		if allContextCanceled && isContextCancellation(joined) {
			return context.Canceled
		}
		return fmt.Errorf("cleanup failed: %w", joined)
	}

	return nil
}

type cleanupFunc func(context.Context) (int64, error)

type cleanupStep struct {
	fn        cleanupFunc
	label     string
	operation string
	queue     string
}

type cleanupStepOutcome struct {
	count        int64
	metricErr    error
	aggregateErr error
	canceled     bool
}

// cleanupSteps builds the sweep for the instant now: the main retention first, then per-queue overrides
// in name order so logs and metrics are stable.
func (s *ReaperService) cleanupSteps(now time.Time) []cleanupStep {
	steps := []cleanupStep{{
		fn:        s.removeSettled(s.config.Queues, now.Add(-s.config.MaxAge), s.config.MaxAge),
		label:     "remove settled jobs",
		operation: "remove_settled",
	}}

	queues := make([]string, 0, len(s.config.QueueMaxAge))
	for queue := range s.config.QueueMaxAge {
		queues = append(queues, queue)
	}
	sort.Strings(queues)

	for _, queue := range queues {
		maxAge := s.config.QueueMaxAge[queue]
		steps = append(steps, cleanupStep{
			fn:        s.removeSettled([]string{queue}, now.Add(-maxAge), maxAge),
			label:     "remove settled jobs for queue " + queue,
			operation: "remove_settled_queue",
			queue:     queue,
		})
	}
	return steps
}

func (s *ReaperService) removeSettled(queues []string, cutoff time.Time, maxAge time.Duration) cleanupFunc {
	return func(ctx context.Context) (int64, error) {
		count, err := s.strategy.RemoveSettledJobs(ctx, queues, cutoff)
		if err != nil {
			return count, err
		}
		if count > 0 && s.logger != nil {
			s.logger.InfoContext(ctx, "removed settled jobs",
				"count", count,
				"queues", queues,
				"max_age", maxAge,
			)
		}
		return count, nil
	}
}

func (s *ReaperService) executeCleanupStep(ctx context.Context, step cleanupStep) cleanupStepOutcome {
	count, err := step.fn(ctx)
	outcome := cleanupStepOutcome{
		count:     count,
		metricErr: suppressContextCancellation(err),
		canceled:  isContextCancellation(err),
	}
	if err != nil {
		outcome.aggregateErr = fmt.Errorf("%s: %w", step.label, err)
	}
	return outcome
}

func (s *ReaperService) emitCleanupMetrics(steps []cleanupStep, outcomes []cleanupStepOutcome, elapsed time.Duration) {
	if s.metrics == nil {
		return
	}

	var (
		totalCount int64
		errs       = make([]error, 0, len(outcomes))
	)
	for _, o := range outcomes {
		totalCount += o.count
		errs = append(errs, o.metricErr)
	}
	firstErr := firstError(errs...)

	tags := metrics.WithErrorClass(map[string]string{
		"result": metrics.ResultOf(firstErr, totalCount),
	}, firstErr)

	s.metrics.Count("reaper.cleanup", 1, tags)

	if elapsed > 0 {
		s.metrics.Timing("reaper.cleanup_duration", elapsed, metrics.CloneTags(tags))
	}

	for i, step := range steps {
		s.emitCleanupOperationMetric(step, outcomes[i].count, outcomes[i].metricErr)
	}

	if firstErr == nil {
		s.metrics.Gauge("reaper.last_success_epoch", float64(s.clock().Unix()), nil)
	}
}

func (s *ReaperService) emitCleanupOperationMetric(step cleanupStep, count int64, err error) {
	if s.metrics == nil {
		return
	}

	tags := metrics.WithErrorClass(map[string]string{
		"operation": step.operation,
		"result":    metrics.ResultOf(err, count),
	}, err)
	if step.queue != "" {
		tags["queue"] = step.queue
	}

	s.metrics.Count("reaper.cleanup_operation", 1, tags)

	if err == nil && count > 0 {
		s.metrics.Count("reaper.jobs_processed", count, metrics.CloneTags(tags))
	}
}

func (s *ReaperService) logCleanupError(err error, label string) {
	if err == nil || s.logger == nil {
		return
	}

	if isContextCancellation(err) {
		s.logger.Debug(label+" cancelled by context", "error", err)
		return
	}

	s.logger.Error(label+" failed", "error", err)
}

func firstError(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func isContextCancellation(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func suppressContextCancellation(err error) error {
	if isContextCancellation(err) {
		return nil
	}
	return err
}
