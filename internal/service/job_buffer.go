package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/target/mmk-jobqueue/internal/core"
	"github.com/target/mmk-jobqueue/internal/domain/model"
	"github.com/target/mmk-jobqueue/internal/observability/metrics"
	"github.com/target/mmk-jobqueue/internal/observability/statsd"
)

// ErrDuplicateBuffer is returned when a buffer with the same ID is already registered.
var ErrDuplicateBuffer = errors.New("job buffer already registered")

// JobBufferServiceOptions groups dependencies for JobBufferService.
type JobBufferServiceOptions struct {
	Storage  core.JobBufferStorageStrategy // Required: where buffered jobs wait for a flush
	Strategy core.JobQueueStrategy         // Required: receives flushed jobs
	Logger   *slog.Logger                  // Optional
	Metrics  statsd.Sink                   // Optional
}

// JobBufferService holds back jobs that a registered buffer collects and submits them, reduced,
// when the buffer is flushed.
type JobBufferService struct {
	storage  core.JobBufferStorageStrategy
	strategy core.JobQueueStrategy
	logger   *slog.Logger
	metrics  statsd.Sink

	mu      sync.RWMutex
	buffers []core.JobBuffer
}

// NewJobBufferService constructs a JobBufferService with no buffers registered.
func NewJobBufferService(opts JobBufferServiceOptions) (*JobBufferService, error) {
	if opts.Storage == nil {
		return nil, errors.New("job buffer storage is required")
	}
	if opts.Strategy == nil {
		return nil, errors.New("job queue strategy is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &JobBufferService{
		storage:  opts.Storage,
		strategy: opts.Strategy,
		logger:   logger.With("component", "job_buffer"),
		metrics:  opts.Metrics,
	}, nil
}

// AddBuffer registers buf. Buffers are offered jobs in registration order.
func (s *JobBufferService) AddBuffer(buf core.JobBuffer) error {
	if buf == nil {
		return errors.New("job buffer is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id := buf.ID()
	if s.indexOf(id) >= 0 {
		return fmt.Errorf("%w: %s", ErrDuplicateBuffer, id)
	}
	s.buffers = append(s.buffers, buf)
	return nil
}

// RemoveBuffer unregisters the buffer with the given ID and reports whether it existed.
// Jobs it already holds stay in storage and are submitted unreduced on the next flush.
func (s *JobBufferService) RemoveBuffer(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(id)
	if i < 0 {
		return false
	}
	s.buffers = slices.Delete(s.buffers, i, i+1)
	return true
}

// BufferIDs returns the registered buffer IDs in registration order.
func (s *JobBufferService) BufferIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.buffers))
	for _, b := range s.buffers {
		ids = append(ids, b.ID())
	}
	return ids
}

func (s *JobBufferService) indexOf(id string) int {
	return slices.IndexFunc(s.buffers, func(b core.JobBuffer) bool { return b.ID() == id })
}

func (s *JobBufferService) lookup(id string) core.JobBuffer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.indexOf(id); i >= 0 {
		return s.buffers[i]
	}
	return nil
}

// Add offers job to every registered buffer and stores it in each one that collects it.
// It reports whether any buffer took the job; a buffered job must not be enqueued directly.
func (s *JobBufferService) Add(ctx context.Context, job *model.Job) (bool, error) {
	s.mu.RLock()
	buffers := slices.Clone(s.buffers)
	s.mu.RUnlock()

	var ids []string
	for _, b := range buffers {
		if s.collects(ctx, b, job) {
			ids = append(ids, b.ID())
		}
	}
	if len(ids) == 0 {
		return false, nil
	}
	if err := s.storage.Add(ctx, ids, job); err != nil {
		return false, fmt.Errorf("buffer job for %v: %w", ids, err)
	}
	s.logger.DebugContext(ctx, "job buffered", "queue", job.QueueName, "buffers", ids)
	return true, nil
}

func (s *JobBufferService) collects(ctx context.Context, b core.JobBuffer, job *model.Job) (ok bool) {
	defer func() {
		if p := recover(); p != nil {
			s.logger.WarnContext(ctx, "job buffer collect panicked", "buffer", b.ID(), "panic", p)
			ok = false
		}
	}()
	return b.Collect(job)
}

// BufferSize returns how many jobs each buffer holds. With no IDs every buffer in storage is reported.
func (s *JobBufferService) BufferSize(ctx context.Context, ids ...string) (map[string]int, error) {
	sizes, err := s.storage.BufferSize(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("buffer size: %w", err)
	}
	return sizes, nil
}

// Flush empties the given buffers (all of them when no IDs are given), reduces their jobs and
// enqueues the result. A reduce error or panic falls back to the jobs as they were buffered.
// Submission errors are joined; the jobs that were enqueued are returned either way.
func (s *JobBufferService) Flush(ctx context.Context, ids ...string) ([]*model.Job, error) {
	start := time.Now()
	held, err := s.storage.Flush(ctx, ids)
	if err != nil {
		s.emitFlush("", metrics.ResultError, 0, err)
		return nil, fmt.Errorf("flush buffer storage: %w", err)
	}

	var (
		submitted []*model.Job
		errs      []error
	)
	for _, id := range slices.Sorted(maps.Keys(held)) {
		jobs := held[id]
		if len(jobs) == 0 {
			continue
		}
		reduced := s.reduce(ctx, id, jobs)
		var added int
		for _, job := range reduced {
			stored, err := s.strategy.Add(ctx, job, core.AddOptions{})
			if err != nil {
				errs = append(errs, fmt.Errorf("enqueue job from buffer %s: %w", id, err))
				continue
			}
			submitted = append(submitted, stored)
			added++
		}
		s.logger.InfoContext(ctx, "flushed job buffer",
			"buffer", id,
			"buffered", len(jobs),
			"enqueued", added,
			"duration", time.Since(start),
		)
	}

	flushErr := errors.Join(errs...)
	s.emitFlush("", metrics.ResultOf(flushErr, int64(len(submitted))), len(submitted), flushErr)
	return submitted, flushErr
}

func (s *JobBufferService) reduce(ctx context.Context, id string, jobs []*model.Job) (out []*model.Job) {
	buf := s.lookup(id)
	if buf == nil {
		s.logger.WarnContext(ctx, "flushing jobs of an unregistered buffer without reducing", "buffer", id, "jobs", len(jobs))
		return jobs
	}

	defer func() {
		if p := recover(); p != nil {
			s.logger.WarnContext(ctx, "job buffer reduce panicked; enqueuing buffered jobs", "buffer", id, "panic", p)
			s.emitFlush(id, metrics.ResultError, 0, fmt.Errorf("reduce panic: %v", p))
			out = jobs
		}
	}()

	reduced, err := buf.Reduce(slices.Clone(jobs))
	if err != nil {
		s.logger.WarnContext(ctx, "job buffer reduce failed; enqueuing buffered jobs", "buffer", id, "error", err)
		s.emitFlush(id, metrics.ResultError, 0, err)
		return jobs
	}
	return reduced
}

func (s *JobBufferService) emitFlush(buffer, result string, jobs int, err error) {
	if s.metrics == nil {
		return
	}
	tags := metrics.WithErrorClass(map[string]string{"result": result}, err)
	if buffer != "" {
		tags["buffer"] = buffer
		tags["stage"] = "reduce"
	}
	s.metrics.Count("buffer.flush", 1, tags)
	if jobs > 0 {
		s.metrics.Count("buffer.enqueued_jobs", int64(jobs), nil)
	}
}

// RunFlushLoop flushes every buffer each interval until ctx is cancelled.
func (s *JobBufferService) RunFlushLoop(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return errors.New("flush interval must be positive")
	}
	s.logger.InfoContext(ctx, "starting buffer flush loop", "interval", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "buffer flush loop stopped")
			return nil
		case <-ticker.C:
			if _, err := s.Flush(ctx); err != nil && !isContextCancellation(err) {
				s.logger.ErrorContext(ctx, "flush buffers", "error", err)
			}
		}
	}
}
